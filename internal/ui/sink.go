// Package ui defines the UI sink interface through which every worker
// reports progress, prompts for credentials, and surfaces exceptions, and
// a console implementation of it. Workers never write to stdout directly;
// they always go through a Sink, mirroring offlineimap's UIBase.getglobalui()
// pattern (init.py) — one global sink, swappable per -u.
package ui

import "context"

// Sink is the reporting and interaction surface every worker uses. All
// methods must be safe for concurrent use: folder workers across several
// accounts call into the same Sink.
type Sink interface {
	// Account reports that account sync has started or ended a phase.
	Account(name string)
	// SyncingFolders reports the start of remote->local folder discovery
	// for an account.
	SyncingFolders(account string)
	// SyncingFolder reports that one folder's reconciliation has begun.
	SyncingFolder(account, folder string)
	// LoadMessageList reports that a repository is about to cache its
	// message list for a folder.
	LoadMessageList(account, repoKind, folder string)
	// MessageListLoaded reports how many messages a cached list holds.
	MessageListLoaded(account, repoKind, folder string, count int)
	// SyncingMessages reports that one sync_messages_to leg is starting.
	SyncingMessages(account, srcKind, dstKind, folder string)

	// ValidityProblem reports a UID-validity mismatch that aborted one
	// folder (§4.3 step 5). The account continues.
	ValidityProblem(account, folder string)
	// Exception reports a worker exception's account/folder context and
	// the error itself, prior to process termination.
	Exception(account, folder string, err error)
	// Terminate reports that the controller is shutting down because of
	// a termination sentinel (§4.6).
	Terminate(reason string)

	// GetPass interactively prompts for a password when none of the
	// config-supplied sources apply (§6 remotepass/remotepassfile/
	// preauthtunnel).
	GetPass(ctx context.Context, account string) (string, error)

	// Sleep blocks for seconds, or until a user request arrives, and
	// returns 0 for a normal wake or 2 for an immediate-termination
	// request (§4.6).
	Sleep(ctx context.Context, seconds int) int
}
