package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitDefaultsToInfoLevelOnBadInput(t *testing.T) {
	defer func() { Logger = zerolog.New(os.Stderr).Level(zerolog.FatalLevel) }()

	if err := Init(Config{Level: "not-a-level"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if Logger.GetLevel() != zerolog.InfoLevel {
		t.Errorf("level = %v, want info for an unparseable level", Logger.GetLevel())
	}
}

func TestInitParsesExplicitLevel(t *testing.T) {
	defer func() { Logger = zerolog.New(os.Stderr).Level(zerolog.FatalLevel) }()

	if err := Init(Config{Level: "debug"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if Logger.GetLevel() != zerolog.DebugLevel {
		t.Errorf("level = %v, want debug", Logger.GetLevel())
	}
}

func TestInitCreatesLogFileDirectory(t *testing.T) {
	defer func() { Logger = zerolog.New(os.Stderr).Level(zerolog.FatalLevel) }()

	dir := t.TempDir()
	logPath := filepath.Join(dir, "nested", "mailsync.log")

	if err := Init(Config{Level: "info", File: logPath}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	Logger.Info().Msg("hello")

	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("log file not created: %v", err)
	}
}

func TestWithComponentAndWithAccountIDAttachFields(t *testing.T) {
	// Smoke test: these must not panic and must return a usable logger.
	l := WithComponent("imap")
	l.Info().Msg("component logger works")

	l2 := WithAccountID("work")
	l2.Info().Msg("account logger works")
}
