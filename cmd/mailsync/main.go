// Command mailsync synchronizes IMAP mailboxes with local Maildir trees
// bidirectionally, the way offlineimap does. See internal/controller for
// the one-shot/periodic run loop and internal/reconcile for the per-folder
// algorithm (spec.md §4).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/hkdb/mailsync/internal/config"
	"github.com/hkdb/mailsync/internal/controller"
	"github.com/hkdb/mailsync/internal/credentials"
	"github.com/hkdb/mailsync/internal/database"
	"github.com/hkdb/mailsync/internal/logging"
	"github.com/hkdb/mailsync/internal/ui"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("mailsync", flag.ContinueOnError)
	fs.Usage = func() { printUsage(fs) }

	var (
		configPath   = fs.String("c", defaultConfigPath(), "configuration file path")
		accountsFlag = fs.String("a", "", "comma-separated account list, overriding the config file")
		debugTags    = fs.String("d", "", "comma-separated debug tags (special: imap)")
		oneShot      = fs.Bool("o", false, "one-shot mode: sync once and exit, ignoring autorefresh")
		singleWorker = fs.Bool("1", false, "force every worker pool to size 1")
		profileDir   = fs.String("P", "", "profile output directory (requires -1)")
		uiName       = fs.String("u", "console", "UI sink to use")
	)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 100
	}

	level, wireLogging := parseDebugTags(*debugTags)
	if err := logging.Init(logging.Config{Level: level, Console: true}); err != nil {
		fmt.Fprintf(os.Stderr, "mailsync: init logging: %v\n", err)
		return 100
	}

	if *profileDir != "" && !*singleWorker {
		fmt.Fprintln(os.Stderr, "mailsync: -P requires -1")
		return 100
	}

	sink, err := selectSink(*uiName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mailsync:", err)
		return 100
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "mailsync: config file not found: %s\n", *configPath)
			return 1
		}
		fmt.Fprintf(os.Stderr, "mailsync: %v\n", err)
		return 1
	}

	// -a overrides the configured account list entirely, and -o drops
	// autorefresh from the effective config rather than merely skipping
	// the periodic loop once (§13 item 5) — handled here by simply never
	// reading AutoRefresh() again once OneShot is set in Options.
	accountNames := cfg.AccountNames()
	if *accountsFlag != "" {
		accountNames = splitCSV(*accountsFlag)
	}
	if len(accountNames) == 0 {
		fmt.Fprintln(os.Stderr, "mailsync: no accounts configured")
		return 100
	}

	metadataRoot := cfg.Metadata()
	if metadataRoot == "" {
		fmt.Fprintln(os.Stderr, "mailsync: [general] metadata is required")
		return 100
	}
	if err := os.MkdirAll(metadataRoot, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "mailsync: create metadata directory: %v\n", err)
		return 100
	}

	store, err := openCredentialStore(metadataRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mailsync: credential store: %v\n", err)
		return 100
	}

	ctrl, err := controller.New(controller.Options{
		Config:          cfg,
		Accounts:        accountNames,
		OneShot:         *oneShot,
		ForceOneSlot:    *singleWorker,
		ProfileDir:      *profileDir,
		MetadataRoot:    metadataRoot,
		Sink:            sink,
		CredentialStore: store,
		WireLogging:     wireLogging,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "mailsync: %v\n", err)
		return 100
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := ctrl.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "mailsync: %v\n", err)
		return 100
	}
	return 0
}

// parseDebugTags maps -d's comma-separated tags to a zerolog level and
// whether the "imap" tag was present, which additionally lowers the IMAP
// client's own log threshold (§13 item 1).
func parseDebugTags(raw string) (level string, wireLogging bool) {
	level = "info"
	for _, tag := range splitCSV(raw) {
		switch tag {
		case "imap":
			wireLogging = true
			level = "debug"
		default:
			level = "debug"
		}
	}
	return level, wireLogging
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailsyncrc"
	}
	return filepath.Join(home, ".mailsyncrc")
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func selectSink(name string) (ui.Sink, error) {
	switch strings.ToLower(name) {
	case "", "console":
		return ui.NewConsole(), nil
	default:
		return nil, fmt.Errorf("unknown UI sink %q", name)
	}
}

// openCredentialStore opens the SQLite-backed password cache alongside the
// status repositories, under the same metadata root (§6, §9).
func openCredentialStore(metadataRoot string) (*credentials.Store, error) {
	db, err := database.Open(filepath.Join(metadataRoot, "credentials.db"))
	if err != nil {
		return nil, fmt.Errorf("open credential database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate credential database: %w", err)
	}
	return credentials.NewStore(db.DB), nil
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `mailsync: bidirectional IMAP <-> Maildir synchronization

Usage: mailsync [options]

`)
	fs.PrintDefaults()
}
