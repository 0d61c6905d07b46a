// Package status implements the durable status repository: one JSON file
// per folder recording UID, flag set, and UID validity, the reconciler's
// record of what it last saw applied on both sides. Writes are crash-safe
// at record granularity: temp file, fsync, atomic rename — the same
// discipline internal/repository/local uses for its own UID map.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/hkdb/mailsync/internal/folder"
	"github.com/hkdb/mailsync/internal/logging"
	"github.com/hkdb/mailsync/internal/uidset"
)

// Repository roots the per-account status directory.
type Repository struct {
	accountDir string
	separator  byte
	log        zerolog.Logger
}

// NewRepository roots a status repository at accountDir (created with
// mode 0700 by the caller — see internal/account), using sep to make
// folder visible names filesystem-safe.
func NewRepository(accountDir string, sep byte) *Repository {
	return &Repository{
		accountDir: accountDir,
		separator:  sep,
		log:        logging.WithComponent("repository-status"),
	}
}

func (r *Repository) Separator() byte { return r.separator }

// Folder opens the status record for name (already separator-mapped by
// the reconciler). The record is not read from disk until
// CacheMessageList is called.
func (r *Repository) Folder(name string) *Folder {
	return &Folder{
		name:      name,
		separator: r.separator,
		path:      filepath.Join(r.accountDir, name+".json"),
		log:       r.log.With().Str("folder", name).Logger(),
	}
}

// record is the on-disk shape of one folder's status file.
type record struct {
	UIDValidity uint64                    `json:"uid_validity"`
	HasValidity bool                      `json:"has_validity"`
	Messages    map[string]map[string]int `json:"messages"` // uid(string) -> flag -> 1
}

// Folder is the JSON-file-backed implementation of folder.Capability.
type Folder struct {
	name      string
	separator byte
	path      string

	loaded      bool
	existed     bool
	validity    uint64
	hasValidity bool
	messages    uidset.MessageList

	log zerolog.Logger
}

var _ folder.Capability = (*Folder)(nil)

func (f *Folder) VisibleName() string { return f.name }
func (f *Folder) Separator() byte     { return f.separator }

// CacheMessageList reads the status file into memory, if it exists.
func (f *Folder) CacheMessageList(ctx context.Context) error {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		f.existed = false
		f.messages = uidset.MessageList{}
		f.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("status folder %s: read: %w", f.name, err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("status folder %s: parse: %w", f.name, err)
	}

	f.existed = true
	f.validity = rec.UIDValidity
	f.hasValidity = rec.HasValidity
	f.messages = make(uidset.MessageList, len(rec.Messages))
	for uidStr, flagMap := range rec.Messages {
		var uid uint64
		if _, err := fmt.Sscanf(uidStr, "%d", &uid); err != nil {
			continue
		}
		fs := make(uidset.FlagSet, len(flagMap))
		for flagName := range flagMap {
			fs[uidset.Flag(flagName)] = struct{}{}
		}
		f.messages[uidset.UID(uid)] = fs
	}
	f.loaded = true
	return nil
}

func (f *Folder) MessageList() uidset.MessageList { return f.messages }

func (f *Folder) UIDValidity() (uint64, bool) { return f.validity, f.hasValidity }

func (f *Folder) SaveUIDValidity(ctx context.Context, v uint64) error {
	f.validity = v
	f.hasValidity = true
	return nil
}

func (f *Folder) IsUIDValidityOK(other folder.Capability) bool {
	if !f.hasValidity {
		return true
	}
	v, ok := other.UIDValidity()
	return ok && v == f.validity
}

// IsNewFolder reports true iff the status file did not exist when
// CacheMessageList last ran.
func (f *Folder) IsNewFolder() bool { return f.loaded && !f.existed }

// DeleteMessageList drops the in-memory record (and the on-disk file, if
// any) so a UID-validity reset does not inherit stale state.
func (f *Folder) DeleteMessageList(ctx context.Context) error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("status folder %s: remove: %w", f.name, err)
	}
	f.messages = uidset.MessageList{}
	f.existed = false
	f.hasValidity = false
	return nil
}

// Fetch is unsupported: the status folder never originates message
// bytes, only UID/flag metadata. No reconciliation step ever calls Fetch
// with the status folder as self.
func (f *Folder) Fetch(ctx context.Context, uid uidset.UID) ([]byte, uidset.FlagSet, error) {
	return nil, nil, fmt.Errorf("status folder %s: fetch is not supported", f.name)
}

// Append records a UID and its flags without storing any message bytes.
func (f *Folder) Append(ctx context.Context, uid uidset.UID, flags uidset.FlagSet, body []byte) (uidset.UID, error) {
	if f.messages == nil {
		f.messages = uidset.MessageList{}
	}
	f.messages[uid] = flags.Clone()
	return uid, nil
}

func (f *Folder) Delete(ctx context.Context, uids []uidset.UID) error {
	for _, uid := range uids {
		delete(f.messages, uid)
	}
	return nil
}

func (f *Folder) SetFlags(ctx context.Context, uid uidset.UID, added, removed uidset.FlagSet) error {
	cur, ok := f.messages[uid]
	if !ok {
		cur = uidset.FlagSet{}
	}
	cur = cur.Clone()
	for fl := range added {
		cur.Add(fl)
	}
	for fl := range removed {
		cur.Remove(fl)
	}
	f.messages[uid] = cur
	return nil
}

// Rekey renames a UID in the in-memory record; the authoritative UID
// always originates from the remote server, so status simply follows.
func (f *Folder) Rekey(ctx context.Context, oldUID, newUID uidset.UID) error {
	if oldUID == newUID {
		return nil
	}
	if flags, ok := f.messages[oldUID]; ok {
		f.messages[newUID] = flags
		delete(f.messages, oldUID)
	}
	return nil
}

// Save writes the record to disk via temp-file + fsync + atomic rename,
// so a crash mid-write never leaves a half-written status file that
// disagrees with what was actually applied to local and remote.
func (f *Folder) Save(ctx context.Context) error {
	rec := record{
		UIDValidity: f.validity,
		HasValidity: f.hasValidity,
		Messages:    make(map[string]map[string]int, len(f.messages)),
	}
	for uid, flags := range f.messages {
		flagMap := make(map[string]int, len(flags))
		for fl := range flags {
			flagMap[string(fl)] = 1
		}
		rec.Messages[fmt.Sprintf("%d", uint64(uid))] = flagMap
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("status folder %s: marshal: %w", f.name, err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("status folder %s: create dir: %w", f.name, err)
	}

	tmp, err := os.CreateTemp(dir, ".mailsync-status-*.tmp")
	if err != nil {
		return fmt.Errorf("status folder %s: create temp file: %w", f.name, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("status folder %s: write temp file: %w", f.name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("status folder %s: sync temp file: %w", f.name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("status folder %s: close temp file: %w", f.name, err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("status folder %s: rename: %w", f.name, err)
	}

	f.existed = true
	return nil
}
