package config

import (
	"path/filepath"
	"testing"
	"time"

	"os"
)

func writeConfig(t *testing.T, contents string) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mailsyncrc")
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestAccountNamesTrimsWhitespace(t *testing.T) {
	cfg := writeConfig(t, `
[general]
accounts = work, personal ,  archive
`)
	got := cfg.AccountNames()
	want := []string{"work", "personal", "archive"}
	if len(got) != len(want) {
		t.Fatalf("AccountNames() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("AccountNames()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAutoRefreshAbsentMeansOneShot(t *testing.T) {
	cfg := writeConfig(t, `
[general]
accounts = work
`)
	if _, ok := cfg.AutoRefresh(); ok {
		t.Error("AutoRefresh() ok = true, want false when unset")
	}
}

func TestAutoRefreshConvertsMinutes(t *testing.T) {
	cfg := writeConfig(t, `
[general]
accounts = work
autorefresh = 10
`)
	got, ok := cfg.AutoRefresh()
	if !ok {
		t.Fatal("AutoRefresh() ok = false, want true")
	}
	if got != 10*time.Minute {
		t.Errorf("AutoRefresh() = %v, want 10m", got)
	}
}

func TestAccountConfigPasswordSourcingOptions(t *testing.T) {
	cfg := writeConfig(t, `
[general]
accounts = work

[work]
localfolders = /home/user/Mail/work
maxconnections = 3
holdconnectionopen = true
keepalive = 60
remotepass = hunter2
`)
	acct := cfg.AccountConfig("work")

	if got := acct.LocalFolders(); got != "/home/user/Mail/work" {
		t.Errorf("LocalFolders() = %q", got)
	}
	if got := acct.MaxConnections(); got != 3 {
		t.Errorf("MaxConnections() = %d, want 3", got)
	}
	if !acct.HoldConnectionOpen() {
		t.Error("HoldConnectionOpen() = false, want true")
	}
	if ka, ok := acct.KeepAlive(); !ok || ka != 60*time.Second {
		t.Errorf("KeepAlive() = %v, %v; want 60s, true", ka, ok)
	}
	if pass, ok := acct.RemotePass(); !ok || pass != "hunter2" {
		t.Errorf("RemotePass() = %q, %v; want hunter2, true", pass, ok)
	}
	if _, ok := acct.PreauthTunnel(); ok {
		t.Error("PreauthTunnel() ok = true, want false")
	}
}

func TestRemoteConnectionAccessorsDefaultSensibly(t *testing.T) {
	cfg := writeConfig(t, `
[general]
accounts = work

[work]
localfolders = /home/user/Mail/work
`)
	acct := cfg.AccountConfig("work")
	if got := acct.RemoteUser(); got != "work" {
		t.Errorf("RemoteUser() default = %q, want account name", got)
	}
	if got := acct.RemotePort(); got != 993 {
		t.Errorf("RemotePort() default = %d, want 993", got)
	}
	if got := acct.RemoteSecurity(); got != "tls" {
		t.Errorf("RemoteSecurity() default = %q, want tls", got)
	}
	if got := acct.RemoteHost(); got != "" {
		t.Errorf("RemoteHost() default = %q, want empty", got)
	}
}

func TestRemoteConnectionAccessorsReadExplicitValues(t *testing.T) {
	cfg := writeConfig(t, `
[general]
accounts = work

[work]
localfolders = /home/user/Mail/work
remotehost = imap.example.com
remoteport = 143
remoteuser = someone@example.com
remotesecurity = STARTTLS
`)
	acct := cfg.AccountConfig("work")
	if got := acct.RemoteHost(); got != "imap.example.com" {
		t.Errorf("RemoteHost() = %q", got)
	}
	if got := acct.RemotePort(); got != 143 {
		t.Errorf("RemotePort() = %d, want 143", got)
	}
	if got := acct.RemoteUser(); got != "someone@example.com" {
		t.Errorf("RemoteUser() = %q", got)
	}
	if got := acct.RemoteSecurity(); got != "starttls" {
		t.Errorf("RemoteSecurity() = %q, want lowercased starttls", got)
	}
}

func TestMaxConnectionsDefaultsToOne(t *testing.T) {
	cfg := writeConfig(t, `
[general]
accounts = work

[work]
localfolders = /home/user/Mail/work
`)
	if got := cfg.AccountConfig("work").MaxConnections(); got != 1 {
		t.Errorf("MaxConnections() default = %d, want 1", got)
	}
}
