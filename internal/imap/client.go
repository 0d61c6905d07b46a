// Package imap provides the IMAP client and connection pool underlying the
// remote folder capability: connect/login, mailbox listing and status,
// message fetch/append/flag/delete, all against github.com/emersion/go-imap/v2.
package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"github.com/hkdb/mailsync/internal/logging"
	"github.com/rs/zerolog"
)

// maxMessageSize bounds a single fetched body to guard against a server
// reporting a bogus literal length.
const maxMessageSize = 64 << 20

// deadlineConn wraps a net.Conn to set read/write deadlines before each
// operation, since go-imap v2 does not enforce its own I/O timeouts.
type deadlineConn struct {
	net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.writeTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

// SecurityType is the connection security method.
type SecurityType string

const (
	SecurityNone     SecurityType = "none"
	SecurityTLS      SecurityType = "tls"
	SecurityStartTLS SecurityType = "starttls"
)

// ClientConfig holds the configuration for connecting to an IMAP server.
type ClientConfig struct {
	Host     string
	Port     int
	Security SecurityType
	Username string
	Password string

	AuthType    AuthType
	AccessToken string

	// TunnelCmd, when set, replaces Connect+Login entirely: it is run as a
	// shell command via Client.ConnectTunnel, and its stdio becomes the IMAP
	// transport. No password is used for a tunneled account.
	TunnelCmd string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	TLSConfig *tls.Config

	// WireLogging lowers this client's own log threshold to trace, the
	// `-d imap` debug tag's effect (§13 item 1). Raw IMAP protocol
	// traffic is not logged.
	WireLogging bool
}

// DefaultConfig returns a ClientConfig with sensible defaults.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		Port:           993,
		Security:       SecurityTLS,
		ConnectTimeout: 30 * time.Second,
		ReadTimeout:    3 * time.Minute,
		WriteTimeout:   30 * time.Second,
	}
}

// Client wraps the go-imap client with timeouts, capability tracking, and
// the operations the reconciler needs from a remote folder.
type Client struct {
	config      ClientConfig
	client      *imapclient.Client
	caps        imap.CapSet
	log         zerolog.Logger
	wireLogging bool
}

// NewClient creates a new IMAP client but does not connect.
func NewClient(config ClientConfig) *Client {
	c := &Client{
		config: config,
		log:    logging.WithComponent("imap"),
	}
	if config.WireLogging {
		c.SetWireLogging(true)
	}
	return c
}

// SetWireLogging records the flag and, when on, lowers this client's log
// threshold to trace, independently of the rest of the engine's log level
// (the -d imap debug tag). Turning it off leaves the level unchanged, and
// raw protocol traffic is not logged either way.
func (c *Client) SetWireLogging(on bool) {
	c.wireLogging = on
	if on {
		c.log = c.log.Level(zerolog.TraceLevel)
	}
}

// Connect establishes a connection to the IMAP server and logs in.
func (c *Client) Connect() error {
	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)

	c.log.Debug().
		Str("host", c.config.Host).
		Int("port", c.config.Port).
		Str("security", string(c.config.Security)).
		Dur("readTimeout", c.config.ReadTimeout).
		Dur("writeTimeout", c.config.WriteTimeout).
		Msg("connecting to IMAP server")

	var err error
	options := &imapclient.Options{}

	dialer := &net.Dialer{Timeout: c.config.ConnectTimeout}

	switch c.config.Security {
	case SecurityTLS:
		tlsConfig := c.config.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{ServerName: c.config.Host}
		}
		rawConn, dialErr := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
		if dialErr != nil {
			return fmt.Errorf("connect with TLS: %w", dialErr)
		}
		wrapped := &deadlineConn{Conn: rawConn, readTimeout: c.config.ReadTimeout, writeTimeout: c.config.WriteTimeout}
		c.client = imapclient.New(wrapped, options)

	case SecurityStartTLS:
		if c.config.TLSConfig != nil {
			options.TLSConfig = c.config.TLSConfig
		}
		c.client, err = imapclient.DialStartTLS(addr, options)
		if err != nil {
			return fmt.Errorf("connect with STARTTLS: %w", err)
		}

	case SecurityNone:
		rawConn, dialErr := dialer.Dial("tcp", addr)
		if dialErr != nil {
			return fmt.Errorf("connect: %w", dialErr)
		}
		wrapped := &deadlineConn{Conn: rawConn, readTimeout: c.config.ReadTimeout, writeTimeout: c.config.WriteTimeout}
		c.client = imapclient.New(wrapped, options)
	}

	if err := c.client.WaitGreeting(); err != nil {
		c.client.Close()
		return fmt.Errorf("receive greeting: %w", err)
	}

	c.caps = c.client.Caps()

	c.log.Debug().Strs("caps", capsToStrings(c.caps)).Msg("server capabilities")
	c.log.Info().Str("host", c.config.Host).Msg("connected to IMAP server")

	return nil
}

func capsToStrings(caps imap.CapSet) []string {
	var result []string
	for cap := range caps {
		result = append(result, string(cap))
	}
	return result
}

// Login authenticates with the IMAP server (password LOGIN/PLAIN, or
// XOAUTH2 when configured).
func (c *Client) Login() error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}

	authType := c.config.AuthType
	if authType == "" {
		authType = AuthTypePassword
	}

	c.log.Debug().Str("username", c.config.Username).Str("authType", string(authType)).Msg("logging in")

	var err error
	switch authType {
	case AuthTypeOAuth2:
		err = c.loginOAuth2()
	default:
		err = c.loginPassword()
	}
	if err != nil {
		return err
	}

	c.caps = c.client.Caps()
	c.log.Info().Str("username", c.config.Username).Msg("logged in")
	return nil
}

// loginPassword uses LOGIN by default; only falls back to AUTHENTICATE
// PLAIN when the server advertises LOGINDISABLED, since a failed
// AUTHENTICATE can corrupt the wire state and break a LOGIN fallback.
func (c *Client) loginPassword() error {
	if c.caps.Has(imap.CapLoginDisabled) {
		c.log.Debug().Msg("LOGIN disabled, using AUTHENTICATE PLAIN")
		saslClient := sasl.NewPlainClient("", c.config.Username, c.config.Password)
		if err := c.client.Authenticate(saslClient); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
		return nil
	}

	if err := c.client.Login(c.config.Username, c.config.Password).Wait(); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	return nil
}

func (c *Client) loginOAuth2() error {
	if c.config.AccessToken == "" {
		return fmt.Errorf("OAuth2 authentication requires an access token")
	}
	saslClient := NewXOAuth2Client(c.config.Username, c.config.AccessToken)
	if err := c.client.Authenticate(saslClient); err != nil {
		return fmt.Errorf("XOAUTH2 authentication failed: %w", err)
	}
	return nil
}

// Close closes the connection to the IMAP server.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Logout().Wait(); err != nil {
		c.log.Warn().Err(err).Msg("logout failed, closing anyway")
	}
	return c.client.Close()
}

// ForceClose closes the underlying connection without attempting a
// graceful LOGOUT, used by the pool when a connection is known dead (e.g.
// after a network change) and waiting on Logout would only stall.
func (c *Client) ForceClose() {
	if c.client == nil {
		return
	}
	c.client.Close()
	c.client = nil
}

func (c *Client) Caps() imap.CapSet             { return c.caps }
func (c *Client) HasCap(cap imap.Cap) bool       { return c.caps.Has(cap) }
func (c *Client) SupportsQResync() bool          { return c.caps.Has(imap.CapQResync) }
func (c *Client) SupportsCondStore() bool        { return c.caps.Has(imap.CapCondStore) }
func (c *Client) SupportsIdle() bool             { return c.caps.Has(imap.CapIdle) }

// Mailbox represents an IMAP mailbox (folder).
type Mailbox struct {
	Name       string
	Delimiter  string
	Attributes []string

	UIDValidity   uint32
	UIDNext       uint32
	Messages      uint32
	Unseen        uint32
	HighestModSeq uint64
}

// ListMailboxes returns every mailbox the account exposes.
func (c *Client) ListMailboxes() ([]*Mailbox, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	listCmd := c.client.List("", "*", nil)

	var mailboxes []*Mailbox
	for {
		mbox := listCmd.Next()
		if mbox == nil {
			break
		}
		mb := &Mailbox{
			Name:       mbox.Mailbox,
			Delimiter:  string(mbox.Delim),
			Attributes: make([]string, len(mbox.Attrs)),
		}
		for i, attr := range mbox.Attrs {
			mb.Attributes[i] = string(attr)
		}
		mailboxes = append(mailboxes, mb)
	}

	if err := listCmd.Close(); err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}

	c.log.Debug().Int("count", len(mailboxes)).Msg("listed mailboxes")
	return mailboxes, nil
}

// SelectMailbox selects a mailbox and returns its status. Wait() is run in
// a goroutine so the call can be cancelled by ctx instead of blocking
// indefinitely on a stalled connection.
func (c *Client) SelectMailbox(ctx context.Context, name string) (*Mailbox, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	type selectResult struct {
		data *imap.SelectData
		err  error
	}
	resultCh := make(chan selectResult, 1)
	go func() {
		data, err := c.client.Select(name, nil).Wait()
		resultCh <- selectResult{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultCh:
		if result.err != nil {
			return nil, fmt.Errorf("select mailbox: %w", result.err)
		}
		mb := &Mailbox{
			Name:        name,
			UIDValidity: result.data.UIDValidity,
			UIDNext:     uint32(result.data.UIDNext),
			Messages:    result.data.NumMessages,
		}
		if result.data.HighestModSeq != 0 {
			mb.HighestModSeq = result.data.HighestModSeq
		}
		return mb, nil
	}
}

// GetMailboxStatus returns a mailbox's status without selecting it.
func (c *Client) GetMailboxStatus(ctx context.Context, name string) (*Mailbox, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	options := &imap.StatusOptions{
		NumMessages: true,
		UIDNext:     true,
		UIDValidity: true,
		NumUnseen:   true,
	}
	if c.SupportsCondStore() {
		options.HighestModSeq = true
	}

	type statusResult struct {
		data *imap.StatusData
		err  error
	}
	resultCh := make(chan statusResult, 1)
	go func() {
		data, err := c.client.Status(name, options).Wait()
		resultCh <- statusResult{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultCh:
		if result.err != nil {
			return nil, fmt.Errorf("get mailbox status: %w", result.err)
		}
		mb := &Mailbox{Name: name}
		if result.data.UIDValidity != 0 {
			mb.UIDValidity = result.data.UIDValidity
		}
		if result.data.UIDNext != 0 {
			mb.UIDNext = uint32(result.data.UIDNext)
		}
		if result.data.NumMessages != nil {
			mb.Messages = *result.data.NumMessages
		}
		if result.data.NumUnseen != nil {
			mb.Unseen = *result.data.NumUnseen
		}
		if result.data.HighestModSeq != 0 {
			mb.HighestModSeq = result.data.HighestModSeq
		}
		return mb, nil
	}
}

// RawClient returns the underlying imapclient.Client for operations not
// otherwise wrapped here.
func (c *Client) RawClient() *imapclient.Client { return c.client }

// SearchAllUIDs returns every UID currently in the selected mailbox,
// cheaper than fetching flags when only identity is needed.
func (c *Client) SearchAllUIDs(ctx context.Context) ([]imap.UID, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}
	data, err := c.client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search all uids: %w", err)
	}
	return data.AllUIDs(), nil
}

// MessageFlags pairs a UID with its current flag set, used to populate a
// folder's message list without fetching bodies.
type MessageFlags struct {
	UID   imap.UID
	Flags []imap.Flag
}

// FetchFlags fetches the flags of every message in the selected mailbox.
func (c *Client) FetchFlags(ctx context.Context) ([]MessageFlags, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	uidSet := imap.UIDSet{}
	uidSet.AddNum(1)
	seqSet := &imap.SearchCriteria{}
	uids, err := c.client.UIDSearch(seqSet, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("fetch flags: search: %w", err)
	}
	all := uids.AllUIDs()
	if len(all) == 0 {
		return nil, nil
	}

	set := imap.UIDSet{}
	for _, u := range all {
		set.AddNum(u)
	}

	fetchCmd := c.client.Fetch(set, &imap.FetchOptions{Flags: true, UID: true})
	var out []MessageFlags
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		var mf MessageFlags
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			switch data := item.(type) {
			case imapclient.FetchItemDataUID:
				mf.UID = data.UID
			case imapclient.FetchItemDataFlags:
				mf.Flags = data.Flags
			}
		}
		out = append(out, mf)
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch flags: %w", err)
	}
	return out, nil
}

// FetchBody retrieves the full RFC 822 bytes and current flags of one
// message by UID, streamed instead of buffered via Collect so a slow or
// oversized message cannot stall the whole reconciliation pass.
func (c *Client) FetchBody(ctx context.Context, uid imap.UID) ([]byte, []imap.Flag, error) {
	if c.client == nil {
		return nil, nil, fmt.Errorf("not connected")
	}

	uidSet := imap.UIDSet{}
	uidSet.AddNum(uid)

	fetchOptions := &imap.FetchOptions{
		Flags: true,
		BodySection: []*imap.FetchItemBodySection{
			{Specifier: imap.PartSpecifierNone, Peek: true},
		},
	}

	fetchCmd := c.client.Fetch(uidSet, fetchOptions)
	msg := fetchCmd.Next()
	if msg == nil {
		fetchCmd.Close()
		return nil, nil, fmt.Errorf("message not found: UID %d", uid)
	}

	var body []byte
	var flags []imap.Flag
	var readErr error
	for {
		item := msg.Next()
		if item == nil {
			break
		}
		switch data := item.(type) {
		case imapclient.FetchItemDataBodySection:
			if data.Literal != nil {
				lr := io.LimitReader(data.Literal, maxMessageSize)
				body, readErr = io.ReadAll(lr)
			}
		case imapclient.FetchItemDataFlags:
			flags = data.Flags
		}
	}
	fetchCmd.Close()
	if readErr != nil {
		return nil, nil, fmt.Errorf("read message body: %w", readErr)
	}
	if len(body) == 0 {
		return nil, nil, fmt.Errorf("message body not found: UID %d", uid)
	}
	return body, flags, nil
}

// AppendMessage appends a message to a mailbox and returns the UID the
// server assigned it.
func (c *Client) AppendMessage(mailbox string, flags []imap.Flag, date time.Time, msg []byte) (imap.UID, error) {
	if c.client == nil {
		return 0, fmt.Errorf("not connected")
	}

	options := &imap.AppendOptions{Flags: flags}
	if !date.IsZero() {
		options.Time = date
	}

	appendCmd := c.client.Append(mailbox, int64(len(msg)), options)
	if _, err := appendCmd.Write(msg); err != nil {
		return 0, fmt.Errorf("write message data: %w", err)
	}
	if err := appendCmd.Close(); err != nil {
		return 0, fmt.Errorf("close append command: %w", err)
	}
	data, err := appendCmd.Wait()
	if err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}
	return data.UID, nil
}

// DeleteMessagesByUID marks the given UIDs \Deleted and expunges them. The
// mailbox must already be selected.
func (c *Client) DeleteMessagesByUID(uids []imap.UID) error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}
	if len(uids) == 0 {
		return nil
	}

	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}

	storeFlags := imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: []imap.Flag{imap.FlagDeleted}, Silent: true}
	storeCmd := c.client.Store(uidSet, &storeFlags, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("mark messages deleted: %w", err)
	}

	// UID EXPUNGE (RFC 4315) only removes the UIDs named, unlike plain
	// EXPUNGE which removes every \Deleted message in the mailbox.
	if c.caps.Has(imap.CapUIDPlus) {
		expungeCmd := c.client.UIDExpunge(uidSet)
		if err := expungeCmd.Close(); err != nil {
			return fmt.Errorf("expunge messages: %w", err)
		}
	} else {
		expungeCmd := c.client.Expunge()
		if err := expungeCmd.Close(); err != nil {
			return fmt.Errorf("expunge messages: %w", err)
		}
	}
	return nil
}

// AddMessageFlags adds flags to messages by UID. The mailbox must already
// be selected.
func (c *Client) AddMessageFlags(uids []imap.UID, flags []imap.Flag) error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}
	if len(uids) == 0 || len(flags) == 0 {
		return nil
	}
	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}
	storeFlags := imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: flags, Silent: true}
	storeCmd := c.client.Store(uidSet, &storeFlags, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("add flags: %w", err)
	}
	return nil
}

// RemoveMessageFlags removes flags from messages by UID. The mailbox must
// already be selected.
func (c *Client) RemoveMessageFlags(uids []imap.UID, flags []imap.Flag) error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}
	if len(uids) == 0 || len(flags) == 0 {
		return nil
	}
	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}
	storeFlags := imap.StoreFlags{Op: imap.StoreFlagsDel, Flags: flags, Silent: true}
	storeCmd := c.client.Store(uidSet, &storeFlags, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("remove flags: %w", err)
	}
	return nil
}
