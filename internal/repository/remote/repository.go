// Package remote implements the IMAP-backed folder capability: the
// "remote" side of every reconciliation, built on internal/imap's pooled
// Client.
package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	imapPkg "github.com/emersion/go-imap/v2"
	"github.com/hkdb/mailsync/internal/folder"
	"github.com/hkdb/mailsync/internal/imap"
	"github.com/hkdb/mailsync/internal/logging"
	"github.com/hkdb/mailsync/internal/uidset"
)

// Repository enumerates and selects an account's remote mailboxes through
// one pooled IMAP connection.
type Repository struct {
	accountID string
	conn      *imap.PooledConnection
	log       zerolog.Logger
}

// NewRepository wraps an already-acquired pooled connection for accountID.
// The caller owns releasing conn back to the pool once done with every
// Folder obtained from this Repository.
func NewRepository(accountID string, conn *imap.PooledConnection) *Repository {
	return &Repository{
		accountID: accountID,
		conn:      conn,
		log:       logging.WithComponent("repository-remote"),
	}
}

// Separator returns the remote hierarchy delimiter, discovered from the
// first mailbox LIST response (IMAP servers use one delimiter account-wide
// in virtually every deployment seen in the wild).
func (r *Repository) Separator() (byte, error) {
	mailboxes, err := r.conn.Client().ListMailboxes()
	if err != nil {
		return 0, fmt.Errorf("remote: list mailboxes: %w", err)
	}
	for _, mb := range mailboxes {
		if mb.Delimiter != "" {
			return mb.Delimiter[0], nil
		}
	}
	return '/', nil
}

// ListFolders returns the visible name of every remote mailbox.
func (r *Repository) ListFolders() ([]string, error) {
	mailboxes, err := r.conn.Client().ListMailboxes()
	if err != nil {
		return nil, fmt.Errorf("remote: list mailboxes: %w", err)
	}
	names := make([]string, 0, len(mailboxes))
	for _, mb := range mailboxes {
		names = append(names, mb.Name)
	}
	return names, nil
}

// Folder opens the named mailbox, returning its Capability.
func (r *Repository) Folder(name string, separator byte) *Folder {
	return &Folder{
		name:      name,
		separator: separator,
		client:    r.conn.Client(),
		log:       r.log.With().Str("folder", name).Logger(),
	}
}

// Folder is the IMAP-backed implementation of folder.Capability.
type Folder struct {
	name      string
	separator byte
	client    *imap.Client

	validity    uint64
	hasValidity bool
	messages    uidset.MessageList

	log zerolog.Logger
}

var _ folder.Capability = (*Folder)(nil)

func (f *Folder) VisibleName() string { return f.name }
func (f *Folder) Separator() byte     { return f.separator }

// CacheMessageList selects the mailbox, then fetches every message's UID
// and flags to build the in-memory message list the reconciler compares
// against the local and status folders.
func (f *Folder) CacheMessageList(ctx context.Context) error {
	mb, err := f.client.SelectMailbox(ctx, f.name)
	if err != nil {
		return fmt.Errorf("remote folder %s: select: %w", f.name, err)
	}
	f.validity = uint64(mb.UIDValidity)
	f.hasValidity = true

	flagged, err := f.client.FetchFlags(ctx)
	if err != nil {
		return fmt.Errorf("remote folder %s: fetch flags: %w", f.name, err)
	}

	list := make(uidset.MessageList, len(flagged))
	for _, mf := range flagged {
		list[uidset.UID(mf.UID)] = toFlagSet(mf.Flags)
	}
	f.messages = list
	return nil
}

func (f *Folder) MessageList() uidset.MessageList { return f.messages }

func (f *Folder) UIDValidity() (uint64, bool) { return f.validity, f.hasValidity }

// SaveUIDValidity is a no-op for the remote folder: UID validity is a
// property the server reports, not one this side writes back.
func (f *Folder) SaveUIDValidity(ctx context.Context, v uint64) error { return nil }

func (f *Folder) IsUIDValidityOK(other folder.Capability) bool {
	if !f.hasValidity {
		return true
	}
	v, ok := other.UIDValidity()
	return ok && v == f.validity
}

// IsNewFolder is always false for the remote folder; only the status
// folder tracks newness.
func (f *Folder) IsNewFolder() bool { return false }

// DeleteMessageList is a no-op: the remote folder has no local cache to
// drop beyond the in-memory message list CacheMessageList already owns.
func (f *Folder) DeleteMessageList(ctx context.Context) error {
	f.messages = nil
	return nil
}

func (f *Folder) Fetch(ctx context.Context, uid uidset.UID) ([]byte, uidset.FlagSet, error) {
	body, flags, err := f.client.FetchBody(ctx, imapPkg.UID(uid))
	if err != nil {
		return nil, nil, fmt.Errorf("remote folder %s: fetch %d: %w", f.name, uid, err)
	}
	return body, toFlagSet(flags), nil
}

// Append uploads a message to this mailbox, returning the UID the server
// assigns it — which supersedes any provisional UID the caller passed in.
func (f *Folder) Append(ctx context.Context, uid uidset.UID, flags uidset.FlagSet, body []byte) (uidset.UID, error) {
	assigned, err := f.client.AppendMessage(f.name, toIMAPFlags(flags), time.Time{}, body)
	if err != nil {
		return 0, fmt.Errorf("remote folder %s: append: %w", f.name, err)
	}
	newUID := uidset.UID(assigned)
	if f.messages == nil {
		f.messages = uidset.MessageList{}
	}
	f.messages[newUID] = flags.Clone()
	return newUID, nil
}

func (f *Folder) Delete(ctx context.Context, uids []uidset.UID) error {
	if len(uids) == 0 {
		return nil
	}
	imapUIDs := make([]imapPkg.UID, len(uids))
	for i, u := range uids {
		imapUIDs[i] = imapPkg.UID(u)
	}
	if err := f.client.DeleteMessagesByUID(imapUIDs); err != nil {
		return fmt.Errorf("remote folder %s: delete: %w", f.name, err)
	}
	for _, u := range uids {
		delete(f.messages, u)
	}
	return nil
}

func (f *Folder) SetFlags(ctx context.Context, uid uidset.UID, added, removed uidset.FlagSet) error {
	if len(added) > 0 {
		if err := f.client.AddMessageFlags([]imapPkg.UID{imapPkg.UID(uid)}, toIMAPFlags(added)); err != nil {
			return fmt.Errorf("remote folder %s: add flags %d: %w", f.name, uid, err)
		}
	}
	if len(removed) > 0 {
		if err := f.client.RemoveMessageFlags([]imapPkg.UID{imapPkg.UID(uid)}, toIMAPFlags(removed)); err != nil {
			return fmt.Errorf("remote folder %s: remove flags %d: %w", f.name, uid, err)
		}
	}
	if cur, ok := f.messages[uid]; ok {
		for fl := range added {
			cur.Add(fl)
		}
		for fl := range removed {
			cur.Remove(fl)
		}
		f.messages[uid] = cur
	}
	return nil
}

// Rekey is a no-op: the remote folder is the authority that originates
// reassigned UIDs, never a follower of one.
func (f *Folder) Rekey(ctx context.Context, oldUID, newUID uidset.UID) error { return nil }

// Save is a no-op: every remote write (Append, Delete, SetFlags) already
// took effect on the server immediately.
func (f *Folder) Save(ctx context.Context) error { return nil }

func toFlagSet(flags []imapPkg.Flag) uidset.FlagSet {
	out := make(uidset.FlagSet, len(flags))
	for _, fl := range flags {
		if mapped, ok := fromIMAPFlag(fl); ok {
			out[mapped] = struct{}{}
		}
	}
	return out
}

func toIMAPFlags(flags uidset.FlagSet) []imapPkg.Flag {
	out := make([]imapPkg.Flag, 0, len(flags))
	for fl := range flags {
		out = append(out, imapPkg.Flag(fl))
	}
	return out
}

func fromIMAPFlag(fl imapPkg.Flag) (uidset.Flag, bool) {
	switch strings.ToLower(string(fl)) {
	case strings.ToLower(string(imapPkg.FlagSeen)):
		return uidset.FlagSeen, true
	case strings.ToLower(string(imapPkg.FlagAnswered)):
		return uidset.FlagAnswered, true
	case strings.ToLower(string(imapPkg.FlagFlagged)):
		return uidset.FlagFlagged, true
	case strings.ToLower(string(imapPkg.FlagDeleted)):
		return uidset.FlagDeleted, true
	case strings.ToLower(string(imapPkg.FlagDraft)):
		return uidset.FlagDraft, true
	default:
		return "", false
	}
}
