package account

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/hkdb/mailsync/internal/config"
	"github.com/hkdb/mailsync/internal/credentials"
	"github.com/hkdb/mailsync/internal/ui"
)

// Credentials is what one account needs to open its remote connection:
// either a preauthtunnel command (no password solicited at all) or a
// plain password.
type Credentials struct {
	UseTunnel bool
	TunnelCmd string
	Password  string
}

// ResolveCredentials implements §6's password sourcing precedence:
// preauthtunnel (mutually exclusive with every password source) takes
// priority; otherwise remotepass, then remotepassfile, then the cached
// credential store, and finally an interactive prompt through sink —
// whose result is cached back into store for next run. Called once per
// account, before any sync worker starts, so two accounts never prompt
// concurrently (§5).
func ResolveCredentials(ctx context.Context, accountID string, cfg config.AccountConfig, store *credentials.Store, sink ui.Sink) (Credentials, error) {
	if tunnel, ok := cfg.PreauthTunnel(); ok {
		return Credentials{UseTunnel: true, TunnelCmd: tunnel}, nil
	}

	if pass, ok := cfg.RemotePass(); ok {
		return Credentials{Password: pass}, nil
	}

	if path, ok := cfg.RemotePassFile(); ok {
		pass, err := readFirstLine(path)
		if err != nil {
			return Credentials{}, fmt.Errorf("account %s: remotepassfile: %w", accountID, err)
		}
		return Credentials{Password: pass}, nil
	}

	if store != nil {
		if pass, err := store.GetPassword(accountID); err == nil {
			return Credentials{Password: pass}, nil
		} else if err != credentials.ErrCredentialNotFound {
			return Credentials{}, fmt.Errorf("account %s: credential cache: %w", accountID, err)
		}
	}

	pass, err := sink.GetPass(ctx, accountID)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrAccountPasswordUnavailable, err)
	}
	if store != nil {
		if err := store.SetPassword(accountID, pass); err != nil {
			return Credentials{}, fmt.Errorf("account %s: cache password: %w", accountID, err)
		}
	}
	return Credentials{Password: pass}, nil
}

func readFirstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		return "", fmt.Errorf("%s is empty", path)
	}
	return scanner.Text(), nil
}
