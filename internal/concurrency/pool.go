// Package concurrency implements the named instance-limit pools of §4.5: a
// small set of bounded worker groups (ACCOUNTLIMIT, FOLDER_<account>,
// MSGCOPY_<account>) that submitting code blocks against, plus the
// governor's exit-notification join loop. It mirrors offlineimap's
// threadutil module (InstanceLimitedThread / initInstanceLimit /
// exitnotifymonitorloop in init.py), wrapping goroutines with named run
// identifiers (google/uuid) the same way.
package concurrency

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hkdb/mailsync/internal/logging"
)

// InstanceLimit is a named, bounded worker group: submitting a job blocks
// while the group is at capacity, exactly like offlineimap's named
// "instance limits" (ACCOUNTLIMIT, FOLDER_<account>, MSGCOPY_<account>).
type InstanceLimit struct {
	name string
	sem  chan struct{}
}

// NewInstanceLimit creates a named limit admitting at most size concurrent
// jobs. size < 1 is treated as 1 (the `-1` single-worker CLI flag forces
// every limit to size 1).
func NewInstanceLimit(name string, size int) *InstanceLimit {
	if size < 1 {
		size = 1
	}
	return &InstanceLimit{name: name, sem: make(chan struct{}, size)}
}

// Name returns the limit's identifier (e.g. "FOLDER_work").
func (l *InstanceLimit) Name() string { return l.name }

// Acquire blocks until a slot is free or ctx is done.
func (l *InstanceLimit) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot.
func (l *InstanceLimit) Release() { <-l.sem }

// ExitNotice is what a finished job posts to the governor's join loop,
// mirroring the "exit notification" a thread sends back to
// exitnotifymonitorloop in the source.
type ExitNotice struct {
	JobID   string
	Name    string
	Account string
	Err     error
	// Sentinel marks a notice as the controller's own termination signal
	// (the "exit message is the controller's own sentinel" case of the
	// termination handler, §4.6).
	Sentinel bool
}

// TerminationHandler is invoked once per exited worker by the governor's
// join loop, implementing the three-way dispatch of §4.6's termination
// handler. It must not block for long: the join loop will not consume the
// next notice until it returns.
type TerminationHandler func(notice ExitNotice)

// Governor runs a named pool of jobs and a join loop that drains their
// exit notifications, calling a TerminationHandler for each one. The
// caller's own goroutine blocks in Join until every submitted job has been
// accounted for — "the main thread blocks in this loop until all workers
// are gone."
type Governor struct {
	log zerolog.Logger

	mu      sync.Mutex
	wg      sync.WaitGroup
	notices chan ExitNotice
}

// NewGovernor creates a Governor with room for queued exit notices ahead
// of the join loop draining them.
func NewGovernor() *Governor {
	return &Governor{
		log:     logging.WithComponent("concurrency"),
		notices: make(chan ExitNotice, 64),
	}
}

// Submit runs fn as a job under limit, tagged with account for the exit
// notice it posts when fn returns. Submit blocks until limit admits the
// job (or ctx is cancelled) but does not wait for fn to finish — call Join
// to drain exit notices.
func (g *Governor) Submit(ctx context.Context, limit *InstanceLimit, account string, fn func(ctx context.Context) error) error {
	if err := limit.Acquire(ctx); err != nil {
		return fmt.Errorf("concurrency: acquire %s: %w", limit.Name(), err)
	}

	jobID := uuid.New().String()
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer limit.Release()

		err := fn(ctx)
		g.notices <- ExitNotice{JobID: jobID, Name: limit.Name(), Account: account, Err: err}
	}()
	return nil
}

// PostSentinel injects a controller termination sentinel directly into the
// join loop, for the "controller's own sentinel" termination-handler case
// (§4.6) — used when the controller itself must interrupt a run rather
// than waiting for a worker to fail.
func (g *Governor) PostSentinel(reason string) {
	g.notices <- ExitNotice{Sentinel: true, Err: fmt.Errorf("%s", reason)}
}

// Join runs the governor's join loop: it waits for every Submit'd job to
// post its exit notice, invoking handle for each, then returns once all
// jobs have finished and been drained. Call this after submitting the
// known set of jobs for one pass (e.g. all folder reconcilers of one
// account, or all accounts of one syncitall).
func (g *Governor) Join(handle TerminationHandler) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	for {
		select {
		case notice := <-g.notices:
			handle(notice)
		case <-done:
			// Drain any notices posted between the last receive and wg.Wait
			// returning.
			for {
				select {
				case notice := <-g.notices:
					handle(notice)
				default:
					return
				}
			}
		}
	}
}
