package imap

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hkdb/mailsync/internal/logging"
)

// KeepAliveConfig configures a per-account keep-alive worker. Unlike a full
// IMAP IDLE push loop, this worker exists only to hold one connection open
// between passes so the next pass does not pay reconnection cost — it is
// started after a pass completes and stopped before the next one begins.
type KeepAliveConfig struct {
	// Interval between NOOP (or IDLE cycle) health pings.
	Interval time.Duration
	// IdleTimeout bounds a single IMAP IDLE command when the server
	// supports it (RFC 2177 recommends restarting before 29 minutes).
	IdleTimeout time.Duration
}

// DefaultKeepAliveConfig returns sensible defaults.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		Interval:    5 * time.Minute,
		IdleTimeout: 10 * time.Minute,
	}
}

// KeepAlive holds a pooled connection open for one account between sync
// passes, issuing periodic NOOPs (or a real IDLE when the server
// advertises it) so the connection survives server- or NAT-side idle
// timeouts. It does not push new-mail notifications anywhere; the next
// pass discovers new mail the ordinary way, by fetching.
type KeepAlive struct {
	accountID string
	conn      *PooledConnection
	pool      *Pool
	config    KeepAliveConfig
	log       zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewKeepAlive builds a keep-alive worker around an already-acquired pooled
// connection. The caller retains ownership of releasing conn back to pool
// once Stop returns.
func NewKeepAlive(accountID string, conn *PooledConnection, pool *Pool, config KeepAliveConfig) *KeepAlive {
	return &KeepAlive{
		accountID: accountID,
		conn:      conn,
		pool:      pool,
		config:    config,
		log:       logging.WithComponent("imap-keepalive"),
	}
}

// Start begins the keep-alive loop in the background.
func (k *KeepAlive) Start(ctx context.Context) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	k.cancel = cancel
	k.done = make(chan struct{})
	go k.run(runCtx)
}

// Stop signals the loop to exit and waits for it, per §9's documented
// decision to join keep-alive workers before the next pass starts (the
// alternative — fire-and-forget only on user cancel — is handled by the
// controller, which does not call Stop in that path; see
// internal/controller).
func (k *KeepAlive) Stop() {
	k.mu.Lock()
	cancel := k.cancel
	done := k.done
	k.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// Cancel signals the loop to exit without waiting for it, the user-cancel
// path of §13 item 6: keep-alive workers are daemon-like on an immediate
// termination request, signalled but not joined.
func (k *KeepAlive) Cancel() {
	k.mu.Lock()
	cancel := k.cancel
	k.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (k *KeepAlive) run(ctx context.Context) {
	defer close(k.done)

	ticker := time.NewTicker(k.config.Interval)
	defer ticker.Stop()

	client := k.conn.Client()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if client.SupportsIdle() {
				if err := k.idleOnce(ctx, client); err != nil {
					k.log.Debug().Err(err).Str("account", k.accountID).Msg("keep-alive IDLE cycle failed")
				}
				continue
			}
			if err := client.RawClient().Noop().Wait(); err != nil {
				k.log.Debug().Err(err).Str("account", k.accountID).Msg("keep-alive NOOP failed")
			}
		}
	}
}

func (k *KeepAlive) idleOnce(ctx context.Context, client *Client) error {
	idleCmd, err := client.RawClient().Idle()
	if err != nil {
		return err
	}
	timer := time.NewTimer(k.config.IdleTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return idleCmd.Close()
	case <-timer.C:
		return idleCmd.Close()
	}
}
