// Package folder defines the backend-agnostic Folder capability that the
// remote (IMAP), local (Maildir), and status repositories each implement,
// and the shared reconciliation primitives (sync_messages_to /
// sync_messages_to_delete) that operate purely in terms of that interface.
// Writing the algorithm once here, instead of once per backend, is what lets
// the reconciler in internal/reconcile stay backend-agnostic.
package folder

import (
	"context"
	"fmt"

	"github.com/hkdb/mailsync/internal/uidset"
)

// Capability is the uniform surface every folder backend exposes, per the
// abstract folder capability: remote (IMAP), local (Maildir), and status
// (durable JSON) all satisfy it.
type Capability interface {
	// VisibleName is the folder's name as the backend knows it.
	VisibleName() string
	// Separator is the path-component separator this backend's names use.
	Separator() byte

	// CacheMessageList materializes the UID -> flag-set map from the
	// backing store into memory.
	CacheMessageList(ctx context.Context) error
	// MessageList returns the most recently cached message list.
	MessageList() uidset.MessageList

	// UIDValidity returns the stored UID validity, if any.
	UIDValidity() (value uint64, ok bool)
	// SaveUIDValidity persists v as this folder's UID validity.
	SaveUIDValidity(ctx context.Context, v uint64) error
	// IsUIDValidityOK reports whether this folder's stored validity is
	// absent, or equal to other's.
	IsUIDValidityOK(other Capability) bool

	// IsNewFolder reports whether this folder has no persisted record yet.
	// Always false for remote and local; meaningful only for status.
	IsNewFolder() bool
	// DeleteMessageList drops all persisted records for this folder, used
	// when a UID-validity reset requires discarding stale status state.
	DeleteMessageList(ctx context.Context) error

	// Fetch retrieves the bytes and flags of one message by UID.
	Fetch(ctx context.Context, uid uidset.UID) ([]byte, uidset.FlagSet, error)
	// Append stores a new message, returning the UID it was assigned by
	// this backend (which may differ from the UID the caller passed in,
	// e.g. when appending to the remote server).
	Append(ctx context.Context, uid uidset.UID, flags uidset.FlagSet, body []byte) (uidset.UID, error)
	// Delete removes the given UIDs from this backend.
	Delete(ctx context.Context, uids []uidset.UID) error
	// SetFlags applies a flag delta (added, removed) to one UID.
	SetFlags(ctx context.Context, uid uidset.UID, added, removed uidset.FlagSet) error
	// Rekey renames a message's UID in this backend's own records, used
	// when a provisional (locally-assigned) UID is superseded by the
	// server-assigned UID returned from an Append to the remote folder.
	// Backends that never originate provisional UIDs (remote, status) may
	// implement this as a no-op.
	Rekey(ctx context.Context, oldUID, newUID uidset.UID) error
	// Save persists any buffered state. A no-op for remote, which writes
	// through to the server; local writes its key<->UID map, and the
	// status backend uses this for its crash-safe rewrite.
	Save(ctx context.Context) error
}

// MapSeparator replaces every occurrence of from in name with to. It
// implements step 1 of the reconciler: deriving a local or status folder
// name from a remote visible name by substituting path separators.
func MapSeparator(name string, from, to byte) string {
	if from == to {
		return name
	}
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == from {
			out[i] = to
		} else {
			out[i] = name[i]
		}
	}
	return string(out)
}

// SyncMessagesTo implements the sync_messages_to(dest, also_update) contract
// shared by every backend pair in the reconciler (local->status,
// remote->local, local->status again for the rebuild):
//
//   - For each UID in self\dest: fetch bytes+flags from self, append to
//     dest, and record the result in every also_update folder. If dest is
//     the remote server and the UID was only known locally, the
//     server-assigned UID returned by dest.Append replaces it everywhere.
//   - For each UID in self∩dest: if flag sets differ, the added/removed
//     sets are computed and applied to dest and every also_update folder —
//     a union/difference, never a whole-flagset overwrite.
//   - For each UID in dest\self: left untouched; deletions are the job of
//     SyncMessagesToDelete only.
func SyncMessagesTo(ctx context.Context, self, dest Capability, alsoUpdate ...Capability) error {
	selfList := self.MessageList()
	destList := dest.MessageList()

	for uid, selfFlags := range selfList {
		destFlags, inDest := destList[uid]

		if !inDest {
			body, flags, err := self.Fetch(ctx, uid)
			if err != nil {
				return fmt.Errorf("sync_messages_to: fetch %d from %s: %w", uid, self.VisibleName(), err)
			}

			// Thread the UID sequentially through dest and each also_update
			// folder: every Append receives the most current UID, and if a
			// folder (typically the remote server, assigning a provisional
			// local-only UID its own real UID) returns something different,
			// every later Append in this chain uses the new value. Folders
			// that already ran with the stale value are recorded so they
			// can be rekeyed once the final UID is known.
			type appended struct {
				folder Capability
				oldUID uidset.UID
			}
			current := uid
			// Every folder Append'd in this chain is recorded here,
			// regardless of whether that particular call echoed the UID
			// it was given: a folder earlier in the chain (e.g. status,
			// which always echoes) still needs rekeying if a folder
			// later in the chain (e.g. remote) reassigns the UID.
			var history []appended

			newUID, err := dest.Append(ctx, current, flags, body)
			if err != nil {
				return fmt.Errorf("sync_messages_to: append %d to %s: %w", current, dest.VisibleName(), err)
			}
			history = append(history, appended{dest, current})
			current = newUID

			for _, also := range alsoUpdate {
				used := current
				assigned, err := also.Append(ctx, used, flags, body)
				if err != nil {
					return fmt.Errorf("sync_messages_to: record %d in %s: %w", used, also.VisibleName(), err)
				}
				history = append(history, appended{also, used})
				current = assigned
			}

			if current != uid {
				if err := self.Rekey(ctx, uid, current); err != nil {
					return fmt.Errorf("sync_messages_to: rekey %d->%d in %s: %w", uid, current, self.VisibleName(), err)
				}
			}
			for _, h := range history {
				if h.oldUID == current {
					continue
				}
				if err := h.folder.Rekey(ctx, h.oldUID, current); err != nil {
					return fmt.Errorf("sync_messages_to: rekey %d->%d in %s: %w", h.oldUID, current, h.folder.VisibleName(), err)
				}
			}
			continue
		}

		added, removed := selfFlags.Diff(destFlags)
		if len(added) == 0 && len(removed) == 0 {
			continue
		}
		if err := dest.SetFlags(ctx, uid, added, removed); err != nil {
			return fmt.Errorf("sync_messages_to: set flags %d on %s: %w", uid, dest.VisibleName(), err)
		}
		for _, also := range alsoUpdate {
			if err := also.SetFlags(ctx, uid, added, removed); err != nil {
				return fmt.Errorf("sync_messages_to: set flags %d on %s: %w", uid, also.VisibleName(), err)
			}
		}
	}

	return nil
}

// SyncMessagesToDelete implements sync_messages_to_delete(dest,
// also_update): for every UID present in dest but absent from self, delete
// it from dest and from every also_update folder. It never creates or
// updates anything; that is SyncMessagesTo's job.
//
// A provisional UID in dest is never a deletion candidate: it identifies
// mail delivered locally that has not yet been assigned a real UID by
// self, so its absence from self means "not uploaded yet", not "deleted
// on the server". This is what keeps the reverse deletion pass (step 7 of
// the folder reconciler) from destroying brand-new local mail before the
// upload pass that follows it ever runs.
func SyncMessagesToDelete(ctx context.Context, self, dest Capability, alsoUpdate ...Capability) error {
	selfList := self.MessageList()
	destList := dest.MessageList()

	var toDelete []uidset.UID
	for uid := range destList {
		if uid.IsProvisional() {
			continue
		}
		if _, inSelf := selfList[uid]; !inSelf {
			toDelete = append(toDelete, uid)
		}
	}
	if len(toDelete) == 0 {
		return nil
	}

	if err := dest.Delete(ctx, toDelete); err != nil {
		return fmt.Errorf("sync_messages_to_delete: delete from %s: %w", dest.VisibleName(), err)
	}
	for _, also := range alsoUpdate {
		if err := also.Delete(ctx, toDelete); err != nil {
			return fmt.Errorf("sync_messages_to_delete: delete from %s: %w", also.VisibleName(), err)
		}
	}
	return nil
}
