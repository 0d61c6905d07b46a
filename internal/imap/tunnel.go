package imap

import (
	"fmt"
	"io"
	"net"
	"os/exec"
	"time"

	"github.com/emersion/go-imap/v2/imapclient"
)

// tunnelAddr satisfies net.Addr for a subprocess pipe, which has no real
// network address.
type tunnelAddr struct{}

func (tunnelAddr) Network() string { return "pipe" }
func (tunnelAddr) String() string  { return "preauthtunnel" }

// tunnelConn adapts a running command's stdin/stdout pipes to a full
// net.Conn, the shape imapclient.New wants for a transport it did not dial
// itself. Deadlines are accepted but not enforced: a subprocess pipe has no
// socket to apply them to.
type tunnelConn struct {
	stdout io.ReadCloser
	stdin  io.WriteCloser
	cmd    *exec.Cmd
}

func (t *tunnelConn) Read(p []byte) (int, error)  { return t.stdout.Read(p) }
func (t *tunnelConn) Write(p []byte) (int, error) { return t.stdin.Write(p) }
func (t *tunnelConn) Close() error {
	t.stdin.Close()
	t.stdout.Close()
	return t.cmd.Process.Kill()
}
func (t *tunnelConn) LocalAddr() net.Addr                 { return tunnelAddr{} }
func (t *tunnelConn) RemoteAddr() net.Addr                { return tunnelAddr{} }
func (t *tunnelConn) SetDeadline(dl time.Time) error      { return nil }
func (t *tunnelConn) SetReadDeadline(dl time.Time) error  { return nil }
func (t *tunnelConn) SetWriteDeadline(dl time.Time) error { return nil }

var _ net.Conn = (*tunnelConn)(nil)

// ConnectTunnel replaces the usual dial+TLS+LOGIN sequence with a
// preauthtunnel: cmd is run as a shell command, and its stdin/stdout
// become the IMAP transport directly. The remote end is expected to speak
// IMAP and greet with PREAUTH, exactly as offlineimap's preauthtunnel
// backend assumes — no password is ever solicited for a tunneled account.
func (c *Client) ConnectTunnel(cmd string) error {
	c.log.Debug().Str("cmd", cmd).Msg("opening preauthtunnel")

	command := exec.Command("/bin/sh", "-c", cmd)
	stdin, err := command.StdinPipe()
	if err != nil {
		return fmt.Errorf("preauthtunnel: stdin pipe: %w", err)
	}
	stdout, err := command.StdoutPipe()
	if err != nil {
		return fmt.Errorf("preauthtunnel: stdout pipe: %w", err)
	}
	if err := command.Start(); err != nil {
		return fmt.Errorf("preauthtunnel: start %q: %w", cmd, err)
	}

	conn := &tunnelConn{stdout: stdout, stdin: stdin, cmd: command}
	c.client = imapclient.New(conn, &imapclient.Options{})

	if err := c.client.WaitGreeting(); err != nil {
		conn.Close()
		return fmt.Errorf("preauthtunnel: greeting: %w", err)
	}
	c.caps = c.client.Caps()
	c.log.Info().Msg("preauthtunnel connected (PREAUTH)")
	return nil
}
