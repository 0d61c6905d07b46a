package controller

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hkdb/mailsync/internal/config"
	"github.com/hkdb/mailsync/internal/imap"
)

func writeTestConfig(t *testing.T, contents string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mailsyncrc")
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

// nullSink implements ui.Sink with no-ops except GetPass, which returns a
// fixed password.
type nullSink struct{ pass string }

func (nullSink) Account(name string)                                      {}
func (nullSink) SyncingFolders(account string)                            {}
func (nullSink) SyncingFolder(account, folder string)                     {}
func (nullSink) LoadMessageList(account, repoKind, folder string)         {}
func (nullSink) MessageListLoaded(account, repoKind, folder string, n int) {}
func (nullSink) SyncingMessages(account, srcKind, dstKind, folder string) {}
func (nullSink) ValidityProblem(account, folder string)                  {}
func (nullSink) Exception(account, folder string, err error)             {}
func (nullSink) Terminate(reason string)                                  {}
func (s nullSink) GetPass(ctx context.Context, account string) (string, error) {
	return s.pass, nil
}
func (nullSink) Sleep(ctx context.Context, seconds int) int { return 0 }

func TestNewRejectsProfileDirWithoutSingleWorker(t *testing.T) {
	cfg := writeTestConfig(t, `
[general]
accounts = work

[work]
localfolders = /tmp/nonexistent
`)
	_, err := New(Options{
		Config:       cfg,
		Accounts:     []string{"work"},
		ProfileDir:   filepath.Join(t.TempDir(), "prof"),
		ForceOneSlot: false,
		Sink:         nullSink{},
	})
	if !errors.Is(err, ErrProfileRequiresSingleWorker) {
		t.Errorf("New() err = %v, want ErrProfileRequiresSingleWorker", err)
	}
}

func TestNewAcceptsProfileDirWithSingleWorker(t *testing.T) {
	cfg := writeTestConfig(t, `
[general]
accounts = work

[work]
localfolders = /tmp/nonexistent
`)
	_, err := New(Options{
		Config:       cfg,
		Accounts:     []string{"work"},
		ProfileDir:   filepath.Join(t.TempDir(), "prof"),
		ForceOneSlot: true,
		Sink:         nullSink{},
	})
	if err != nil {
		t.Fatalf("New(): %v", err)
	}
}

func TestClientConfigForBuildsTunnelConfig(t *testing.T) {
	cfg := writeTestConfig(t, `
[general]
accounts = work

[work]
localfolders = /tmp/nonexistent
preauthtunnel = ssh mail.example.com /usr/sbin/imapd
`)
	c, err := New(Options{Config: cfg, Accounts: []string{"work"}, Sink: nullSink{}})
	if err != nil {
		t.Fatalf("New(): %v", err)
	}
	if err := c.gatherCredentials(context.Background()); err != nil {
		t.Fatalf("gatherCredentials: %v", err)
	}

	clientCfg, err := c.clientConfigFor("work")
	if err != nil {
		t.Fatalf("clientConfigFor: %v", err)
	}
	if clientCfg.TunnelCmd != "ssh mail.example.com /usr/sbin/imapd" {
		t.Errorf("TunnelCmd = %q", clientCfg.TunnelCmd)
	}
}

func TestClientConfigForBuildsPasswordConfig(t *testing.T) {
	cfg := writeTestConfig(t, `
[general]
accounts = work

[work]
localfolders = /tmp/nonexistent
remotepass = hunter2
remotehost = imap.example.com
remoteport = 143
remotesecurity = starttls
remoteuser = someone@example.com
`)
	c, err := New(Options{Config: cfg, Accounts: []string{"work"}, Sink: nullSink{}})
	if err != nil {
		t.Fatalf("New(): %v", err)
	}
	if err := c.gatherCredentials(context.Background()); err != nil {
		t.Fatalf("gatherCredentials: %v", err)
	}

	clientCfg, err := c.clientConfigFor("work")
	if err != nil {
		t.Fatalf("clientConfigFor: %v", err)
	}
	if clientCfg.Host != "imap.example.com" {
		t.Errorf("Host = %q", clientCfg.Host)
	}
	if clientCfg.Port != 143 {
		t.Errorf("Port = %d, want 143", clientCfg.Port)
	}
	if clientCfg.Security != imap.SecurityStartTLS {
		t.Errorf("Security = %v, want starttls", clientCfg.Security)
	}
	if clientCfg.Username != "someone@example.com" {
		t.Errorf("Username = %q", clientCfg.Username)
	}
	if clientCfg.Password != "hunter2" {
		t.Errorf("Password = %q", clientCfg.Password)
	}
}

func TestClientConfigForErrorsWithoutResolvedCredentials(t *testing.T) {
	cfg := writeTestConfig(t, `
[general]
accounts = work

[work]
localfolders = /tmp/nonexistent
`)
	c, err := New(Options{Config: cfg, Accounts: []string{"work"}, Sink: nullSink{}})
	if err != nil {
		t.Fatalf("New(): %v", err)
	}
	if _, err := c.clientConfigFor("work"); err == nil {
		t.Error("clientConfigFor: want an error before gatherCredentials ran")
	}
}

func TestGatherCredentialsResolvesEveryAccount(t *testing.T) {
	cfg := writeTestConfig(t, `
[general]
accounts = work, personal

[work]
localfolders = /tmp/nonexistent
remotepass = workpass

[personal]
localfolders = /tmp/nonexistent
remotepass = personalpass
`)
	c, err := New(Options{Config: cfg, Accounts: []string{"work", "personal"}, Sink: nullSink{}})
	if err != nil {
		t.Fatalf("New(): %v", err)
	}
	if err := c.gatherCredentials(context.Background()); err != nil {
		t.Fatalf("gatherCredentials: %v", err)
	}
	if c.creds["work"].Password != "workpass" {
		t.Errorf("work password = %q", c.creds["work"].Password)
	}
	if c.creds["personal"].Password != "personalpass" {
		t.Errorf("personal password = %q", c.creds["personal"].Password)
	}
}
