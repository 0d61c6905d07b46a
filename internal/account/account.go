// Package account implements the account synchronizer of §4.4: one pass
// over one account's remote/local/status repositories, fanning folder
// reconciliation out under that account's own FOLDER_<account> pool.
package account

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hkdb/mailsync/internal/concurrency"
	"github.com/hkdb/mailsync/internal/config"
	"github.com/hkdb/mailsync/internal/imap"
	"github.com/hkdb/mailsync/internal/logging"
	"github.com/hkdb/mailsync/internal/mbnames"
	"github.com/hkdb/mailsync/internal/reconcile"
	"github.com/hkdb/mailsync/internal/repository/local"
	"github.com/hkdb/mailsync/internal/repository/remote"
	"github.com/hkdb/mailsync/internal/repository/status"
	"github.com/hkdb/mailsync/internal/ui"
)

// localSeparator is the on-disk hierarchy separator mailsync uses for
// Maildir++-style subfolders, and statusSeparator the one used for status
// filenames — both fixed rather than configurable, one filesystem-safe
// convention instead of a config knob.
const (
	localSeparator  = '.'
	statusSeparator = '.'
)

// Params bundles everything one account's sync pass needs.
type Params struct {
	ID            string
	Config        config.AccountConfig
	Credentials   Credentials
	MetadataRoot  string
	Pool          *imap.Pool
	Sink          ui.Sink
	Mailboxes     *mbnames.Collector
	ForceOneSlot  bool // -1: force FOLDER_<account> to size 1
}

// Sync runs one pass of §4.4 for one account: ensure its metadata
// directory, obtain the shared connection, construct the three
// repositories, fan folder reconciliation out under FOLDER_<account>, join,
// and close or keep the connection per holdconnectionopen. It returns the
// pooled connection so the caller can start (or skip) a keep-alive worker
// before the next pass, per §4.6.
func Sync(ctx context.Context, p Params) (*imap.PooledConnection, error) {
	log := logging.WithComponent("account").With().Str("account", p.ID).Logger()

	metaDir := filepath.Join(p.MetadataRoot, p.ID)
	if err := os.MkdirAll(metaDir, 0700); err != nil {
		return nil, fmt.Errorf("account %s: create metadata dir: %w", p.ID, err)
	}

	conn, err := p.Pool.GetConnection(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("account %s: get connection: %w", p.ID, err)
	}

	remoteRepo := remote.NewRepository(p.ID, conn)
	remoteSep, err := remoteRepo.Separator()
	if err != nil {
		p.Pool.Discard(conn)
		return nil, fmt.Errorf("account %s: discover separator: %w", p.ID, err)
	}

	localRoot := p.Config.LocalFolders()
	localRepository := local.NewRepository(localRoot, localSeparator)
	statusRepository := status.NewRepository(metaDir, statusSeparator)

	p.Sink.SyncingFolders(p.ID)
	names, err := remoteRepo.ListFolders()
	if err != nil {
		p.Pool.Discard(conn)
		return nil, fmt.Errorf("account %s: list remote folders: %w", p.ID, err)
	}

	folderLimitSize := p.Config.MaxConnections()
	if p.ForceOneSlot {
		folderLimitSize = 1
	}
	folderLimit := concurrency.NewInstanceLimit("FOLDER_"+p.ID, folderLimitSize)
	governor := concurrency.NewGovernor()

	for _, name := range names {
		name := name
		if err := governor.Submit(ctx, folderLimit, p.ID, func(ctx context.Context) error {
			p.Sink.SyncingFolder(p.ID, name)
			rf := remoteRepo.Folder(name, remoteSep)
			err := reconcile.Folder(ctx, reconcile.Params{
				Account:   p.ID,
				Remote:    rf,
				LocalRepo: localRepo{localRepository},
				StatusRepo: statusRepo{statusRepository},
				Sink:      p.Sink,
				Mailboxes: p.Mailboxes,
				LocalSep:  localSeparator,
				StatusSep: statusSeparator,
			})
			if _, isValidity := err.(*reconcile.ValidityProblem); isValidity {
				// Folder-scoped: already reported via the sink, the account
				// continues. Swallow it here so the governor's exit notice
				// doesn't read as a worker exception.
				return nil
			}
			return err
		}); err != nil {
			p.Pool.Discard(conn)
			return nil, fmt.Errorf("account %s: submit folder %s: %w", p.ID, name, err)
		}
	}

	var workerErr error
	governor.Join(func(n concurrency.ExitNotice) {
		if n.Err != nil {
			log.Error().Err(n.Err).Str("folder", n.Name).Msg("folder reconciler exited with error")
			if workerErr == nil {
				workerErr = n.Err
			}
		}
	})
	if workerErr != nil {
		p.Pool.Discard(conn)
		return nil, fmt.Errorf("account %s: %w", p.ID, workerErr)
	}

	if !p.Config.HoldConnectionOpen() {
		p.Pool.Discard(conn)
		return nil, nil
	}
	// Release it back to the pool (rather than leaving it marked in-use) so
	// the next pass's GetConnection reuses this same handle instead of
	// dialing a fresh one; the caller may also hand it straight to a
	// keep-alive worker in the meantime.
	p.Pool.Release(conn)
	return conn, nil
}
