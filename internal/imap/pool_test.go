package imap

import (
	"errors"
	"testing"
)

func TestIsConnectionError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("use of closed network connection"), true},
		{errors.New("read tcp 10.0.0.1:993: i/o timeout"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("tagged BAD response: invalid command"), false},
	}
	for _, c := range cases {
		if got := IsConnectionError(c.err); got != c.want {
			t.Errorf("IsConnectionError(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestDefaultPoolConfig(t *testing.T) {
	cfg := DefaultPoolConfig()
	if cfg.MaxConnections <= 0 {
		t.Error("default MaxConnections must be positive")
	}
	if cfg.WaiterTimeout <= 0 {
		t.Error("default WaiterTimeout must be positive")
	}
}

func TestPoolStatsEmpty(t *testing.T) {
	p := NewPool(DefaultPoolConfig(), func(accountID string) (*ClientConfig, error) {
		return nil, errors.New("no credentials in this test")
	})
	stats := p.GetStats()
	if stats.TotalConnections != 0 || stats.AccountCount != 0 {
		t.Errorf("expected empty stats for a fresh pool, got %+v", stats)
	}
}
