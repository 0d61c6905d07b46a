package ui

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/hkdb/mailsync/internal/logging"
)

// Console is the default Sink: structured progress via zerolog, password
// prompts on stdin, and a cancellable sleep for the periodic driver.
type Console struct {
	log    zerolog.Logger
	termCh chan struct{}
}

var _ Sink = (*Console)(nil)

// NewConsole builds a Console sink.
func NewConsole() *Console {
	return &Console{
		log:    logging.WithComponent("ui"),
		termCh: make(chan struct{}, 1),
	}
}

func (c *Console) Account(name string) {
	c.log.Info().Str("account", name).Msg("account sync")
}

func (c *Console) SyncingFolders(account string) {
	c.log.Info().Str("account", account).Msg("syncing folders")
}

func (c *Console) SyncingFolder(account, folder string) {
	c.log.Info().Str("account", account).Str("folder", folder).Msg("syncing folder")
}

func (c *Console) LoadMessageList(account, repoKind, folder string) {
	c.log.Debug().Str("account", account).Str("repo", repoKind).Str("folder", folder).Msg("loading message list")
}

func (c *Console) MessageListLoaded(account, repoKind, folder string, count int) {
	c.log.Debug().Str("account", account).Str("repo", repoKind).Str("folder", folder).Int("count", count).Msg("message list loaded")
}

func (c *Console) SyncingMessages(account, srcKind, dstKind, folder string) {
	c.log.Debug().Str("account", account).Str("folder", folder).Str("from", srcKind).Str("to", dstKind).Msg("syncing messages")
}

func (c *Console) ValidityProblem(account, folder string) {
	c.log.Warn().Str("account", account).Str("folder", folder).
		Msg("UID validity mismatch, skipping folder")
}

func (c *Console) Exception(account, folder string, err error) {
	c.log.Error().Str("account", account).Str("folder", folder).Err(err).Msg("worker exception")
}

func (c *Console) Terminate(reason string) {
	c.log.Warn().Str("reason", reason).Msg("terminating")
}

// GetPass prompts on stdin. Reading is not concurrent with any other
// GetPass call because the run controller gathers all passwords
// before any sync worker starts (§5 "Password/tunnel acquisition").
func (c *Console) GetPass(ctx context.Context, account string) (string, error) {
	fmt.Fprintf(os.Stderr, "Password for account %s: ", account)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("read password for %s: %w", account, err)
		}
		return "", fmt.Errorf("read password for %s: no input", account)
	}
	return scanner.Text(), nil
}

// Sleep waits seconds, returning 0 on a normal timeout or 2 if
// RequestTermination was called in the meantime.
func (c *Console) Sleep(ctx context.Context, seconds int) int {
	timer := time.NewTimer(time.Duration(seconds) * time.Second)
	defer timer.Stop()
	select {
	case <-timer.C:
		return 0
	case <-c.termCh:
		return 2
	case <-ctx.Done():
		return 2
	}
}

// RequestTermination makes the next (or currently blocked) Sleep call
// return 2, the user-cancel path of §4.6.
func (c *Console) RequestTermination() {
	select {
	case c.termCh <- struct{}{}:
	default:
	}
}
