// Package reconcile implements the folder reconciler: the nine-step
// algorithm of spec.md §4.3 that brings one remote folder, its local
// Maildir mirror, and its status record into agreement. It is written
// once against internal/folder.Capability, so it never depends on which
// concrete backend (remote, local, status) fills each role.
package reconcile

import (
	"context"
	"fmt"

	"github.com/hkdb/mailsync/internal/folder"
	"github.com/hkdb/mailsync/internal/logging"
	"github.com/hkdb/mailsync/internal/mbnames"
	"github.com/hkdb/mailsync/internal/ui"
)

// ValidityProblem is returned by Folder when step 5's UID-validity check
// fails. It is not a process-terminating error: Folder has already
// reported it through the UI sink before returning it, and the caller (the
// account synchronizer's FOLDER_<account> pool) moves on to the next
// folder, per the "aborts the folder, not the account" failure semantics.
type ValidityProblem struct {
	Account string
	Folder  string
}

func (e *ValidityProblem) Error() string {
	return fmt.Sprintf("account %s: folder %s: UID validity mismatch", e.Account, e.Folder)
}

// Params bundles everything one folder reconciliation needs.
type Params struct {
	Account string

	// Remote is the remote folder for this pass; its mailbox is selected
	// when its message list is cached.
	Remote folder.Capability
	// LocalRepo opens local folders by name (path-mapped from Remote's
	// visible name in step 1).
	LocalRepo interface {
		Folder(name string) (folder.Capability, error)
	}
	// StatusRepo opens status folders by name (path-mapped similarly).
	StatusRepo interface {
		Folder(name string) folder.Capability
	}

	Sink      ui.Sink
	Mailboxes *mbnames.Collector
	LocalSep  byte
	StatusSep byte
}

// Folder runs steps 1-9 of §4.3 for one remote folder. A *ValidityProblem
// return means only this folder was skipped; any other error is a worker
// exception per the failure semantics and should propagate to process
// termination (see internal/account, internal/concurrency).
func Folder(ctx context.Context, p Params) error {
	log := logging.WithComponent("reconcile").With().
		Str("account", p.Account).
		Str("folder", p.Remote.VisibleName()).
		Logger()

	// Step 1 — path mapping.
	remoteSep := p.Remote.Separator()
	localName := folder.MapSeparator(p.Remote.VisibleName(), remoteSep, p.LocalSep)
	statusName := folder.MapSeparator(p.Remote.VisibleName(), remoteSep, p.StatusSep)

	localFolder, err := p.LocalRepo.Folder(localName)
	if err != nil {
		return fmt.Errorf("reconcile %s: open local folder %s: %w", p.Remote.VisibleName(), localName, err)
	}
	statusFolder := p.StatusRepo.Folder(statusName)

	// Step 2 — publish mailbox entry.
	if p.Mailboxes != nil {
		p.Mailboxes.Add(p.Account, localFolder.VisibleName())
	}

	// Step 3 — load local.
	p.Sink.LoadMessageList(p.Account, "local", localName)
	if err := localFolder.CacheMessageList(ctx); err != nil {
		return fmt.Errorf("reconcile %s: cache local message list: %w", p.Remote.VisibleName(), err)
	}
	p.Sink.MessageListLoaded(p.Account, "local", localName, len(localFolder.MessageList()))

	// Step 4 — load status.
	if _, ok := localFolder.UIDValidity(); !ok {
		if err := statusFolder.DeleteMessageList(ctx); err != nil {
			return fmt.Errorf("reconcile %s: delete stale status: %w", p.Remote.VisibleName(), err)
		}
	}
	if err := statusFolder.CacheMessageList(ctx); err != nil {
		return fmt.Errorf("reconcile %s: cache status message list: %w", p.Remote.VisibleName(), err)
	}

	// Step 5 — validity check.
	hasState := len(localFolder.MessageList()) > 0 || len(statusFolder.MessageList()) > 0
	if hasState && !localFolder.IsUIDValidityOK(p.Remote) {
		p.Sink.ValidityProblem(p.Account, p.Remote.VisibleName())
		log.Warn().Msg("UID validity mismatch, skipping folder")
		return &ValidityProblem{Account: p.Account, Folder: p.Remote.VisibleName()}
	}
	if v, ok := p.Remote.UIDValidity(); ok {
		if err := localFolder.SaveUIDValidity(ctx, v); err != nil {
			return fmt.Errorf("reconcile %s: save uidvalidity: %w", p.Remote.VisibleName(), err)
		}
	}

	// Step 6 — load remote.
	p.Sink.LoadMessageList(p.Account, "remote", p.Remote.VisibleName())
	if err := p.Remote.CacheMessageList(ctx); err != nil {
		return fmt.Errorf("reconcile %s: cache remote message list: %w", p.Remote.VisibleName(), err)
	}
	p.Sink.MessageListLoaded(p.Account, "remote", p.Remote.VisibleName(), len(p.Remote.MessageList()))

	// Step 7 — reverse deletion pass, only when the status folder already
	// existed: a brand-new status folder has nothing to compare deletions
	// against, and skipping it here matches offlineimap's isnewfolder()
	// guard around syncmessagesto_delete/syncmessagesto. Deletes UIDs
	// present locally but absent remotely from both local and status,
	// before any local flag edit can re-upload a remotely deleted message.
	if !statusFolder.IsNewFolder() {
		if err := folder.SyncMessagesToDelete(ctx, p.Remote, localFolder, localFolder, statusFolder); err != nil {
			return fmt.Errorf("reconcile %s: reverse deletion pass: %w", p.Remote.VisibleName(), err)
		}
		p.Sink.SyncingMessages(p.Account, "local", "status", localName)
		if err := folder.SyncMessagesTo(ctx, localFolder, statusFolder, p.Remote, statusFolder); err != nil {
			return fmt.Errorf("reconcile %s: local->status/remote pass: %w", p.Remote.VisibleName(), err)
		}
	}

	// Step 8 — forward pass.
	p.Sink.SyncingMessages(p.Account, "remote", "local", localName)
	if err := folder.SyncMessagesTo(ctx, p.Remote, localFolder); err != nil {
		return fmt.Errorf("reconcile %s: forward pass: %w", p.Remote.VisibleName(), err)
	}

	// Step 9 — status rebuild.
	p.Sink.SyncingMessages(p.Account, "local", "status", localName)
	if err := folder.SyncMessagesTo(ctx, localFolder, statusFolder); err != nil {
		return fmt.Errorf("reconcile %s: status rebuild pass: %w", p.Remote.VisibleName(), err)
	}
	if err := statusFolder.Save(ctx); err != nil {
		return fmt.Errorf("reconcile %s: save status: %w", p.Remote.VisibleName(), err)
	}
	// Local's .mailsync-uidmap.json sidecar only persists a Rekey (provisional ->
	// server-assigned UID) if Save is actually called: without this, the
	// next pass reopens the folder, reloads the sidecar, recomputes the
	// same ProvisionalUID for the same message, and re-uploads it.
	if err := localFolder.Save(ctx); err != nil {
		return fmt.Errorf("reconcile %s: save local uid map: %w", p.Remote.VisibleName(), err)
	}

	return nil
}
