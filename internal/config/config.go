// Package config reads .mailsyncrc, the ini-style configuration file of
// §6: a [general] section plus one section per account. It wraps
// gopkg.in/ini.v1 with typed accessors over the generic key/value store
// for every option §6 needs.
package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// Config is a read-only view over a parsed .mailsyncrc file.
type Config struct {
	file *ini.File
}

// Load reads and parses the ini file at path.
func Load(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return &Config{file: file}, nil
}

// Section is a typed view over one ini section (general, or one account).
type Section struct {
	sec *ini.Section
}

func newSection(sec *ini.Section) Section { return Section{sec: sec} }

// Has reports whether key is present in this section.
func (s Section) Has(key string) bool {
	return s.sec != nil && s.sec.HasKey(key)
}

// GetString returns key's value, or def if absent.
func (s Section) GetString(key, def string) string {
	if !s.Has(key) {
		return def
	}
	return s.sec.Key(key).String()
}

// GetInt returns key's value parsed as an int, or def if absent or
// unparsable.
func (s Section) GetInt(key string, def int) int {
	if !s.Has(key) {
		return def
	}
	v, err := s.sec.Key(key).Int()
	if err != nil {
		return def
	}
	return v
}

// GetBool returns key's value parsed as a bool, or def if absent or
// unparsable.
func (s Section) GetBool(key string, def bool) bool {
	if !s.Has(key) {
		return def
	}
	v, err := s.sec.Key(key).Bool()
	if err != nil {
		return def
	}
	return v
}

// GetDuration reads key as a count of unit (e.g. time.Minute for
// autorefresh, time.Second for keepalive) and reports whether it was
// present at all — callers use the ok return to distinguish "absent" from
// "explicitly zero".
func (s Section) GetDuration(key string, unit time.Duration) (time.Duration, bool) {
	if !s.Has(key) {
		return 0, false
	}
	v, err := s.sec.Key(key).Int()
	if err != nil {
		return 0, false
	}
	return time.Duration(v) * unit, true
}

// General returns the [general] section.
func (c *Config) General() Section {
	return newSection(c.file.Section("general"))
}

// Account returns the named account's section.
func (c *Config) Account(name string) Section {
	return newSection(c.file.Section(name))
}

// AccountNames returns the accounts listed in [general]'s accounts key,
// comma-separated with surrounding whitespace ignored.
func (c *Config) AccountNames() []string {
	raw := c.General().GetString("accounts", "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return names
}

// MaxSyncAccounts returns [general] maxsyncaccounts, defaulting to 1.
func (c *Config) MaxSyncAccounts() int {
	return c.General().GetInt("maxsyncaccounts", 1)
}

// Metadata returns [general] metadata, the base directory for status
// repositories.
func (c *Config) Metadata() string {
	return c.General().GetString("metadata", "")
}

// AutoRefresh returns [general] autorefresh in minutes and whether it was
// configured at all; its absence means one-shot mode.
func (c *Config) AutoRefresh() (time.Duration, bool) {
	return c.General().GetDuration("autorefresh", time.Minute)
}

// PythonFile returns [general] pythonfile, an opaque path passed through
// to the expression-evaluator collaborator untouched.
func (c *Config) PythonFile() string {
	return c.General().GetString("pythonfile", "")
}

// AccountConfig is a typed view over one [<account>] section.
type AccountConfig struct {
	Section
	Name string
}

// AccountConfig returns a typed view for name.
func (c *Config) AccountConfig(name string) AccountConfig {
	return AccountConfig{Section: c.Account(name), Name: name}
}

// LocalFolders returns the account's localfolders path.
func (a AccountConfig) LocalFolders() string {
	return a.GetString("localfolders", "")
}

// MaxConnections returns the account's maxconnections, defaulting to 1.
func (a AccountConfig) MaxConnections() int {
	return a.GetInt("maxconnections", 1)
}

// HoldConnectionOpen returns the account's holdconnectionopen.
func (a AccountConfig) HoldConnectionOpen() bool {
	return a.GetBool("holdconnectionopen", false)
}

// KeepAlive returns the account's keepalive interval in seconds, and
// whether it was configured.
func (a AccountConfig) KeepAlive() (time.Duration, bool) {
	return a.GetDuration("keepalive", time.Second)
}

// PreauthTunnel returns the account's preauthtunnel command, and whether
// it is set. It is mutually exclusive with every password-sourcing option.
func (a AccountConfig) PreauthTunnel() (string, bool) {
	if !a.Has("preauthtunnel") {
		return "", false
	}
	return a.GetString("preauthtunnel", ""), true
}

// RemotePass returns the account's literal remotepass, and whether it is
// set.
func (a AccountConfig) RemotePass() (string, bool) {
	if !a.Has("remotepass") {
		return "", false
	}
	return a.GetString("remotepass", ""), true
}

// RemotePassFile returns the path to the account's remotepassfile, and
// whether it is set.
func (a AccountConfig) RemotePassFile() (string, bool) {
	if !a.Has("remotepassfile") {
		return "", false
	}
	return a.GetString("remotepassfile", ""), true
}

// RemoteHost returns the account's remotehost, the IMAP server to dial.
// Unused (and left empty) for a preauthtunnel account.
func (a AccountConfig) RemoteHost() string {
	return a.GetString("remotehost", "")
}

// RemotePort returns the account's remoteport, defaulting to 993 (implicit
// TLS).
func (a AccountConfig) RemotePort() int {
	return a.GetInt("remoteport", 993)
}

// RemoteUser returns the account's remoteuser, defaulting to the account
// name itself when unset.
func (a AccountConfig) RemoteUser() string {
	return a.GetString("remoteuser", a.Name)
}

// RemoteSecurity returns the account's remotesecurity (tls, starttls, or
// none), defaulting to tls.
func (a AccountConfig) RemoteSecurity() string {
	return strings.ToLower(a.GetString("remotesecurity", "tls"))
}
