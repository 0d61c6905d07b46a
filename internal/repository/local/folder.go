// Package local implements the Maildir-backed folder capability, the
// on-disk mirror every remote message is synchronized down to, built on
// github.com/emersion/go-maildir.
//
// Maildir message filenames carry no IMAP UID, so this package persists a
// small per-folder key<->UID map (.mailsync-uidmap.json) alongside the maildir
// itself — the same durability discipline the status repository uses for
// its own records, applied here because the maildir format has nowhere
// else to keep that identity.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/emersion/go-maildir"
	"github.com/rs/zerolog"

	"github.com/hkdb/mailsync/internal/folder"
	"github.com/hkdb/mailsync/internal/logging"
	"github.com/hkdb/mailsync/internal/uidset"
)

// maildirNewKeys returns the set of filenames currently in a new/
// directory, used to identify a just-delivered message by snapshotting
// before and after the delivery.
func maildirNewKeys(newDir string) (map[string]bool, error) {
	entries, err := os.ReadDir(newDir)
	if os.IsNotExist(err) {
		return make(map[string]bool), nil
	}
	if err != nil {
		return nil, err
	}
	keys := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			keys[e.Name()] = true
		}
	}
	return keys, nil
}

// maildirNewKey finds the single new entry in new/ not present in
// beforeKeys.
func maildirNewKey(newDir string, beforeKeys map[string]bool) (string, error) {
	entries, err := os.ReadDir(newDir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if !e.IsDir() && !beforeKeys[e.Name()] {
			return e.Name(), nil
		}
	}
	return "", fmt.Errorf("delivered message not found in %s", newDir)
}

// infoFromFlags formats the maildir info field from a list of flags:
// "2,FLAGCHARS" where FLAGCHARS are sorted per the maildir spec.
func infoFromFlags(flags []maildir.Flag) string {
	chars := make([]byte, 0, len(flags))
	for _, f := range flags {
		chars = append(chars, byte(f))
	}
	sort.Slice(chars, func(i, j int) bool { return chars[i] < chars[j] })
	return "2," + string(chars)
}

// moveNewToCurWithFlags moves a message from new/ to cur/ with the given
// flags, making an appended or flag-modified message visible immediately
// instead of waiting for the next Unseen() scan.
func moveNewToCurWithFlags(dirPath string, key string, flags []maildir.Flag) error {
	srcPath := filepath.Join(dirPath, "new", key)
	dstBasename := key + ":" + infoFromFlags(flags)
	dstPath := filepath.Join(dirPath, "cur", dstBasename)
	return os.Rename(srcPath, dstPath)
}

// Repository roots every folder of one account's local maildir mirror.
type Repository struct {
	baseDir   string
	separator byte
	log       zerolog.Logger
}

// NewRepository roots a local mirror at baseDir, using sep (conventionally
// '.' for Maildir++ style subfolders) as the path separator between
// hierarchy components in a folder's directory name.
func NewRepository(baseDir string, sep byte) *Repository {
	return &Repository{
		baseDir:   baseDir,
		separator: sep,
		log:       logging.WithComponent("repository-local"),
	}
}

func (r *Repository) Separator() byte { return r.separator }

// ListFolders returns the visible name of every Maildir++-style subfolder
// under baseDir (directories beginning with the separator and containing
// cur/new/tmp), plus "INBOX" for the root itself if it has been
// initialized.
func (r *Repository) ListFolders() ([]string, error) {
	var names []string

	if isMaildir(r.baseDir) {
		names = append(names, "INBOX")
	}

	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return names, nil
		}
		return nil, fmt.Errorf("local: read %s: %w", r.baseDir, err)
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name()[0] != r.separator {
			continue
		}
		full := filepath.Join(r.baseDir, e.Name())
		if isMaildir(full) {
			names = append(names, folder.MapSeparator(e.Name()[1:], r.separator, r.separator))
		}
	}
	return names, nil
}

func isMaildir(path string) bool {
	for _, sub := range []string{"cur", "new", "tmp"} {
		if info, err := os.Stat(filepath.Join(path, sub)); err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}

// Folder opens (creating if necessary) the maildir for name, a visible
// name whose remote separator has already been mapped to this
// repository's separator by the reconciler (step 1 of the reconciliation).
func (r *Repository) Folder(name string) (*Folder, error) {
	path := r.pathFor(name)
	dir := maildir.Dir(path)
	if !isMaildir(path) {
		if err := os.MkdirAll(path, 0700); err != nil {
			return nil, fmt.Errorf("local folder %s: create: %w", name, err)
		}
		if err := dir.Init(); err != nil {
			return nil, fmt.Errorf("local folder %s: init: %w", name, err)
		}
	}
	return &Folder{
		name:      name,
		separator: r.separator,
		dir:       dir,
		path:      path,
		log:       r.log.With().Str("folder", name).Logger(),
	}, nil
}

func (r *Repository) pathFor(name string) string {
	if name == "INBOX" {
		return r.baseDir
	}
	return filepath.Join(r.baseDir, string(r.separator)+name)
}

// Folder is the Maildir-backed implementation of folder.Capability.
type Folder struct {
	name      string
	separator byte
	dir       maildir.Dir
	path      string

	messages uidset.MessageList
	uidToKey map[uidset.UID]string
	keyToUID map[string]uidset.UID

	log zerolog.Logger
}

var _ folder.Capability = (*Folder)(nil)

func (f *Folder) VisibleName() string { return f.name }
func (f *Folder) Separator() byte     { return f.separator }

type uidMapFile struct {
	// Entries maps a maildir message key to the UID last recorded for it
	// (either a provisional local UID or a server-assigned one, once
	// Rekey has run).
	Entries map[string]uidset.UID `json:"entries"`
}

func (f *Folder) uidMapPath() string { return filepath.Join(f.path, ".mailsync-uidmap.json") }

func (f *Folder) loadUIDMap() error {
	f.uidToKey = map[uidset.UID]string{}
	f.keyToUID = map[string]uidset.UID{}

	data, err := os.ReadFile(f.uidMapPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("local folder %s: read uid map: %w", f.name, err)
	}
	var saved uidMapFile
	if err := json.Unmarshal(data, &saved); err != nil {
		return fmt.Errorf("local folder %s: parse uid map: %w", f.name, err)
	}
	for key, uid := range saved.Entries {
		f.keyToUID[key] = uid
		f.uidToKey[uid] = key
	}
	return nil
}

// saveUIDMap writes the key<->UID map with the crash-safe temp-file,
// fsync, atomic-rename discipline spec.md requires of the status store —
// applied here too since this file is the only record of local UID
// identity.
func (f *Folder) saveUIDMap() error {
	saved := uidMapFile{Entries: make(map[string]uidset.UID, len(f.keyToUID))}
	for key, uid := range f.keyToUID {
		saved.Entries[key] = uid
	}
	data, err := json.Marshal(saved)
	if err != nil {
		return fmt.Errorf("local folder %s: marshal uid map: %w", f.name, err)
	}

	tmp, err := os.CreateTemp(f.path, ".mailsync-uidmap-*.tmp")
	if err != nil {
		return fmt.Errorf("local folder %s: create temp uid map: %w", f.name, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("local folder %s: write temp uid map: %w", f.name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("local folder %s: sync temp uid map: %w", f.name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("local folder %s: close temp uid map: %w", f.name, err)
	}
	if err := os.Rename(tmpPath, f.uidMapPath()); err != nil {
		return fmt.Errorf("local folder %s: rename uid map: %w", f.name, err)
	}
	return nil
}

// CacheMessageList loads the key<->UID map, then walks new/ (moving any
// unseen messages into cur/, which go-maildir's Unseen does for us) and
// cur/ to assign every message its UID: the persisted one if known, or a
// fresh provisional UID derived from its maildir key otherwise.
func (f *Folder) CacheMessageList(ctx context.Context) error {
	if err := f.loadUIDMap(); err != nil {
		return err
	}

	if _, err := f.dir.Unseen(); err != nil {
		return fmt.Errorf("local folder %s: scan new: %w", f.name, err)
	}

	msgs, err := f.dir.Messages()
	if err != nil {
		return fmt.Errorf("local folder %s: list messages: %w", f.name, err)
	}

	list := make(uidset.MessageList, len(msgs))
	for _, msg := range msgs {
		key := msg.Key()
		uid, ok := f.keyToUID[key]
		if !ok {
			uid = uidset.ProvisionalUID(key)
			f.keyToUID[key] = uid
			f.uidToKey[uid] = key
		}
		list[uid] = toFlagSet(msg.Flags())
	}
	f.messages = list
	return nil
}

func (f *Folder) MessageList() uidset.MessageList { return f.messages }

// UIDValidity and SaveUIDValidity delegate to a sidecar file the same way
// the uid map does, since maildir has no native concept of UID validity
// either.
func (f *Folder) UIDValidity() (uint64, bool) {
	data, err := os.ReadFile(f.validityPath())
	if err != nil {
		return 0, false
	}
	var v uint64
	if _, err := fmt.Sscanf(string(data), "%d", &v); err != nil {
		return 0, false
	}
	return v, true
}

func (f *Folder) validityPath() string { return filepath.Join(f.path, ".mailsync-uidvalidity") }

func (f *Folder) SaveUIDValidity(ctx context.Context, v uint64) error {
	if err := os.WriteFile(f.validityPath(), []byte(fmt.Sprintf("%d", v)), 0600); err != nil {
		return fmt.Errorf("local folder %s: save uid validity: %w", f.name, err)
	}
	return nil
}

func (f *Folder) IsUIDValidityOK(other folder.Capability) bool {
	v, ok := f.UIDValidity()
	if !ok {
		return true
	}
	otherV, otherOK := other.UIDValidity()
	return otherOK && otherV == v
}

// IsNewFolder is always false; only the status folder tracks newness.
func (f *Folder) IsNewFolder() bool { return false }

// DeleteMessageList removes the persisted UID map and validity marker, used
// when a UID-validity reset forces both local and status to be rebuilt
// from scratch.
func (f *Folder) DeleteMessageList(ctx context.Context) error {
	os.Remove(f.uidMapPath())
	os.Remove(f.validityPath())
	f.messages = nil
	f.uidToKey = map[uidset.UID]string{}
	f.keyToUID = map[string]uidset.UID{}
	return nil
}

func (f *Folder) Fetch(ctx context.Context, uid uidset.UID) ([]byte, uidset.FlagSet, error) {
	key, ok := f.uidToKey[uid]
	if !ok {
		return nil, nil, fmt.Errorf("local folder %s: unknown uid %d", f.name, uid)
	}
	msg, err := f.dir.MessageByKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("local folder %s: lookup %s: %w", f.name, key, err)
	}
	r, err := msg.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("local folder %s: open %s: %w", f.name, key, err)
	}
	defer r.Close()
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("local folder %s: read %s: %w", f.name, key, err)
	}
	return body, toFlagSet(msg.Flags()), nil
}

// Append delivers a new message into the maildir and records its UID in
// the key map. The UID passed in is used as-is (local never reassigns);
// callers uploading a local-only message to the remote server instead
// supply the server-confirmed UID through Rekey once it is known.
func (f *Folder) Append(ctx context.Context, uid uidset.UID, flags uidset.FlagSet, body []byte) (uidset.UID, error) {
	newDir := filepath.Join(f.path, "new")
	beforeKeys, err := maildirNewKeys(newDir)
	if err != nil {
		return 0, fmt.Errorf("local folder %s: snapshot new: %w", f.name, err)
	}

	delivery, err := maildir.NewDelivery(f.path)
	if err != nil {
		return 0, fmt.Errorf("local folder %s: open delivery: %w", f.name, err)
	}
	if _, err := delivery.Write(body); err != nil {
		delivery.Abort()
		return 0, fmt.Errorf("local folder %s: write message: %w", f.name, err)
	}
	if err := delivery.Close(); err != nil {
		return 0, fmt.Errorf("local folder %s: close delivery: %w", f.name, err)
	}

	key, err := maildirNewKey(newDir, beforeKeys)
	if err != nil {
		return 0, fmt.Errorf("local folder %s: locate delivered message: %w", f.name, err)
	}

	// A freshly delivered message sits in new/ until the next Unseen()
	// scan; move it into cur/ with its flags immediately so it is visible
	// to the rest of this reconciliation pass.
	if err := moveNewToCurWithFlags(f.path, key, toMaildirFlags(flags)); err != nil {
		return 0, fmt.Errorf("local folder %s: move delivered message to cur: %w", f.name, err)
	}

	f.keyToUID[key] = uid
	f.uidToKey[uid] = key
	if f.messages == nil {
		f.messages = uidset.MessageList{}
	}
	f.messages[uid] = flags.Clone()
	return uid, nil
}

func (f *Folder) Delete(ctx context.Context, uids []uidset.UID) error {
	for _, uid := range uids {
		key, ok := f.uidToKey[uid]
		if !ok {
			continue
		}
		msg, err := f.dir.MessageByKey(key)
		if err != nil {
			continue
		}
		if err := msg.Remove(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("local folder %s: remove %s: %w", f.name, key, err)
		}
		delete(f.uidToKey, uid)
		delete(f.keyToUID, key)
		delete(f.messages, uid)
	}
	return nil
}

func (f *Folder) SetFlags(ctx context.Context, uid uidset.UID, added, removed uidset.FlagSet) error {
	key, ok := f.uidToKey[uid]
	if !ok {
		return fmt.Errorf("local folder %s: unknown uid %d", f.name, uid)
	}
	msg, err := f.dir.MessageByKey(key)
	if err != nil {
		return fmt.Errorf("local folder %s: lookup %s: %w", f.name, key, err)
	}

	cur := f.messages[uid].Clone()
	for fl := range added {
		cur.Add(fl)
	}
	for fl := range removed {
		cur.Remove(fl)
	}
	if err := msg.SetFlags(toMaildirFlags(cur)); err != nil {
		return fmt.Errorf("local folder %s: set flags on %s: %w", f.name, key, err)
	}
	f.messages[uid] = cur
	return nil
}

// Rekey renames a provisional local UID to the server-assigned UID
// handed back after upload, updating the key map in place.
func (f *Folder) Rekey(ctx context.Context, oldUID, newUID uidset.UID) error {
	if oldUID == newUID {
		return nil
	}
	key, ok := f.uidToKey[oldUID]
	if !ok {
		return nil
	}
	delete(f.uidToKey, oldUID)
	f.uidToKey[newUID] = key
	f.keyToUID[key] = newUID
	if flags, ok := f.messages[oldUID]; ok {
		f.messages[newUID] = flags
		delete(f.messages, oldUID)
	}
	return nil
}

// Save persists the key<->UID map.
func (f *Folder) Save(ctx context.Context) error {
	return f.saveUIDMap()
}

func toFlagSet(flags []maildir.Flag) uidset.FlagSet {
	out := make(uidset.FlagSet, len(flags))
	for _, f := range flags {
		switch f {
		case maildir.FlagSeen:
			out[uidset.FlagSeen] = struct{}{}
		case maildir.FlagReplied:
			out[uidset.FlagAnswered] = struct{}{}
		case maildir.FlagFlagged:
			out[uidset.FlagFlagged] = struct{}{}
		case maildir.FlagDraft:
			out[uidset.FlagDraft] = struct{}{}
		case maildir.FlagTrashed:
			out[uidset.FlagDeleted] = struct{}{}
		}
	}
	return out
}

func toMaildirFlags(flags uidset.FlagSet) []maildir.Flag {
	out := make([]maildir.Flag, 0, len(flags))
	for f := range flags {
		switch f {
		case uidset.FlagSeen:
			out = append(out, maildir.FlagSeen)
		case uidset.FlagAnswered:
			out = append(out, maildir.FlagReplied)
		case uidset.FlagFlagged:
			out = append(out, maildir.FlagFlagged)
		case uidset.FlagDraft:
			out = append(out, maildir.FlagDraft)
		case uidset.FlagDeleted:
			out = append(out, maildir.FlagTrashed)
		}
	}
	return out
}
