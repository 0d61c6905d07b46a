// Package mbnames implements the run's mailbox-list hook: an append-only
// record, made afresh for each syncitall pass, of which (account, folder)
// pairs were reconciled during that pass, mirroring offlineimap's module-level
// `mailboxes` list and genmbnames() call (init.py).
package mbnames

import (
	"sync"

	"github.com/rs/zerolog"
)

// Entry names one reconciled folder.
type Entry struct {
	Account string
	Folder  string
}

// Collector accumulates entries during one run. Folder workers call Add
// concurrently; the emitter reads Entries only after the governor's join
// loop confirms every folder worker of the run has finished (§5).
type Collector struct {
	mu      sync.Mutex
	entries []Entry
}

// NewCollector returns an empty Collector, used once per syncitall pass.
func NewCollector() *Collector {
	return &Collector{}
}

// Add records one reconciled folder. Safe for concurrent callers.
func (c *Collector) Add(account, folder string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, Entry{Account: account, Folder: folder})
}

// Entries returns a snapshot of everything recorded so far.
func (c *Collector) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Emit reports every entry collected so far through log, one line per
// (account, folder) pair, the way offlineimap's genmbnames() hook walks
// the module-level mailboxes list once a run finishes. Called by the
// controller only after the governor's join loop confirms every folder
// worker of the run has finished (§5).
func (c *Collector) Emit(log zerolog.Logger) {
	for _, e := range c.Entries() {
		log.Info().Str("account", e.Account).Str("folder", e.Folder).Msg("mailbox synced")
	}
}
