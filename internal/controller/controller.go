// Package controller implements the run controller of §4.6: one-shot or
// periodic dispatch of syncitall passes, keep-alive scheduling between
// passes, and the termination handler that turns a worker's exit notice
// into a debug log line for a normal finish, or a sink report and a fatal
// exit for a termination sentinel or an error. Per-folder validity skips
// are handled inside internal/account and never reach this handler.
package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hkdb/mailsync/internal/account"
	"github.com/hkdb/mailsync/internal/concurrency"
	"github.com/hkdb/mailsync/internal/config"
	"github.com/hkdb/mailsync/internal/credentials"
	"github.com/hkdb/mailsync/internal/imap"
	"github.com/hkdb/mailsync/internal/logging"
	"github.com/hkdb/mailsync/internal/mbnames"
	"github.com/hkdb/mailsync/internal/ui"
)

// Options bundles everything one controller run needs. Accounts is the
// already-resolved account list (after a -a override), in the order
// credentials are gathered and synced.
type Options struct {
	Config          *config.Config
	Accounts        []string
	OneShot         bool
	ForceOneSlot    bool // -1: force ACCOUNTLIMIT (and every pool beneath it) to size 1
	ProfileDir      string
	MetadataRoot    string
	Sink            ui.Sink
	CredentialStore *credentials.Store // nil disables the cache fallback entirely
	WireLogging     bool                // -d imap: lower the IMAP client's log threshold to trace
}

// Controller owns the connection pool and the per-account credentials
// resolved once at startup.
type Controller struct {
	opts Options
	pool *imap.Pool
	log  zerolog.Logger

	creds map[string]account.Credentials
}

// New validates opts and builds a Controller. Profile mode requires
// single-worker mode (ForceOneSlot); anything else is a configuration
// error the caller should exit 100 on, before any worker starts.
func New(opts Options) (*Controller, error) {
	if opts.ProfileDir != "" && !opts.ForceOneSlot {
		return nil, ErrProfileRequiresSingleWorker
	}
	if opts.MetadataRoot == "" {
		opts.MetadataRoot = opts.Config.Metadata()
	}

	c := &Controller{
		opts:  opts,
		log:   logging.WithComponent("controller"),
		creds: make(map[string]account.Credentials),
	}
	c.pool = imap.NewPool(imap.DefaultPoolConfig(), c.clientConfigFor)
	return c, nil
}

// clientConfigFor is the pool's credential callback: it turns a resolved
// account.Credentials plus the account's connection settings into a
// ClientConfig, dialing fresh or tunneling as ResolveCredentials decided.
func (c *Controller) clientConfigFor(accountID string) (*imap.ClientConfig, error) {
	creds, ok := c.creds[accountID]
	if !ok {
		return nil, fmt.Errorf("controller: no credentials resolved for account %s", accountID)
	}

	acctCfg := c.opts.Config.AccountConfig(accountID)
	cfg := imap.DefaultConfig()
	cfg.Username = acctCfg.RemoteUser()
	cfg.WireLogging = c.opts.WireLogging

	if creds.UseTunnel {
		cfg.TunnelCmd = creds.TunnelCmd
		return &cfg, nil
	}

	cfg.Host = acctCfg.RemoteHost()
	cfg.Port = acctCfg.RemotePort()
	cfg.AuthType = imap.AuthTypePassword
	cfg.Password = creds.Password

	switch acctCfg.RemoteSecurity() {
	case "none":
		cfg.Security = imap.SecurityNone
	case "starttls":
		cfg.Security = imap.SecurityStartTLS
	default:
		cfg.Security = imap.SecurityTLS
	}
	return &cfg, nil
}

// gatherCredentials resolves every account's password or tunnel command
// sequentially, in configured account order, before any sync worker
// starts — §5's "password/tunnel acquisition happens in the main worker
// before any sync thread starts" and §13 item 4.
func (c *Controller) gatherCredentials(ctx context.Context) error {
	for _, name := range c.opts.Accounts {
		acctCfg := c.opts.Config.AccountConfig(name)
		creds, err := account.ResolveCredentials(ctx, name, acctCfg, c.opts.CredentialStore, c.opts.Sink)
		if err != nil {
			return fmt.Errorf("controller: resolve credentials for %s: %w", name, err)
		}
		c.creds[name] = creds
	}
	return nil
}

// Run executes the controller's one-shot or periodic loop (§4.6). It
// returns nil on a normal or user-requested exit, and a non-nil error for
// anything the caller should treat as fatal (exit 100).
func (c *Controller) Run(ctx context.Context) error {
	if c.opts.ProfileDir != "" {
		stop, err := startProfile(c.opts.ProfileDir)
		if err != nil {
			return err
		}
		defer stop()
	}

	if err := c.gatherCredentials(ctx); err != nil {
		return err
	}

	for {
		held, err := c.syncItAll(ctx)
		if err != nil {
			return err
		}

		if c.opts.OneShot {
			return nil
		}

		interval, ok := c.opts.Config.AutoRefresh()
		if !ok {
			// No autorefresh configured: behave as one-shot even though -o
			// was not given.
			return nil
		}

		keepAlives := c.startKeepAlives(ctx, held)

		switch c.opts.Sink.Sleep(ctx, int(interval.Seconds())) {
		case 2:
			for _, ka := range keepAlives {
				ka.Cancel()
			}
			c.opts.Sink.Terminate("user requested termination")
			return nil
		default:
			for _, ka := range keepAlives {
				ka.Stop()
			}
		}
	}
}

// syncItAll runs one pass: one account.Sync job per configured account
// under the ACCOUNTLIMIT pool, joins them, and dispatches the termination
// handler of §4.6 for each exit notice. It returns the connections held
// open for accounts configured to keep them (for keep-alive scheduling
// between passes).
func (c *Controller) syncItAll(ctx context.Context) (map[string]*imap.PooledConnection, error) {
	mailboxes := mbnames.NewCollector()
	governor := concurrency.NewGovernor()

	limitSize := c.opts.Config.MaxSyncAccounts()
	if c.opts.ForceOneSlot {
		limitSize = 1
	}
	limit := concurrency.NewInstanceLimit("ACCOUNTLIMIT", limitSize)

	var heldMu sync.Mutex
	held := make(map[string]*imap.PooledConnection)

	for _, name := range c.opts.Accounts {
		name := name
		acctCfg := c.opts.Config.AccountConfig(name)
		creds := c.creds[name]

		err := governor.Submit(ctx, limit, name, func(ctx context.Context) error {
			c.opts.Sink.Account(name)
			conn, err := account.Sync(ctx, account.Params{
				ID:           name,
				Config:       acctCfg,
				Credentials:  creds,
				MetadataRoot: c.opts.MetadataRoot,
				Pool:         c.pool,
				Sink:         c.opts.Sink,
				Mailboxes:    mailboxes,
				ForceOneSlot: c.opts.ForceOneSlot,
			})
			if err != nil {
				return err
			}
			if conn != nil {
				heldMu.Lock()
				held[name] = conn
				heldMu.Unlock()
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("controller: submit account %s: %w", name, err)
		}
	}

	var fatal error
	governor.Join(func(n concurrency.ExitNotice) {
		switch {
		case n.Sentinel:
			c.opts.Sink.Terminate(n.Err.Error())
			if fatal == nil {
				fatal = n.Err
			}
		case n.Err != nil:
			if !errors.Is(n.Err, ErrProcessExit) {
				c.opts.Sink.Exception(n.Account, "", n.Err)
			}
			if fatal == nil {
				fatal = n.Err
			}
		default:
			c.log.Debug().Str("account", n.Account).Msg("account sync finished")
		}
	})
	if fatal != nil {
		return nil, fatal
	}

	mailboxes.Emit(c.log)
	return held, nil
}

// startKeepAlives starts one keep-alive worker per account that is both
// holding its connection open and configured with a keepalive interval
// (§4.6's periodic-mode bullet).
func (c *Controller) startKeepAlives(ctx context.Context, held map[string]*imap.PooledConnection) []*imap.KeepAlive {
	var workers []*imap.KeepAlive
	for name, conn := range held {
		acctCfg := c.opts.Config.AccountConfig(name)
		if !acctCfg.HoldConnectionOpen() {
			continue
		}
		interval, ok := acctCfg.KeepAlive()
		if !ok {
			continue
		}
		kaCfg := imap.DefaultKeepAliveConfig()
		kaCfg.Interval = interval

		ka := imap.NewKeepAlive(name, conn, c.pool, kaCfg)
		ka.Start(ctx)
		workers = append(workers, ka)
	}
	return workers
}

// startProfile creates dir (bare os.Mkdir, failing if it already exists —
// §13 item 2 preserves the source's exist-check-free os.mkdir) and starts
// a CPU profile inside it, returning a function that stops the profile and
// closes the file.
func startProfile(dir string) (func(), error) {
	if err := os.Mkdir(dir, 0700); err != nil {
		return nil, fmt.Errorf("controller: create profile directory: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, "cpu.pprof"))
	if err != nil {
		return nil, fmt.Errorf("controller: create cpu profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("controller: start cpu profile: %w", err)
	}
	return func() {
		pprof.StopCPUProfile()
		f.Close()
	}, nil
}
