package irccd

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map"
	"golang.org/x/sync/errgroup"
)

// Default tunables (spec §4.1), named after the original implementation's
// IRC_SERVER_DEFAULT_* constants.
const (
	DefaultPort        = 6667
	DefaultPrefix      = "!"
	DefaultCTCPVersion = "irccd"
	DefaultCTCPSource  = "https://github.com/markand-go/irccd"

	reconnectDelay  = 30 * time.Second
	connectTimeout  = 5 * time.Second
	pingTimeout     = 300 * time.Second
	watchdogPeriod  = 60 * time.Second
	inputBufferSize = 8 * 1024
	outputBufferCap = 64 * 1024
)

// SessionFlags mirror irc_server_flags: boolean toggles that only make
// sense to change before the session first connects.
type SessionFlags uint8

const (
	FlagTLS SessionFlags = 1 << iota
	FlagAutoRejoin
	FlagJoinInvite
	FlagNoIPv4
	FlagNoIPv6
)

// SessionState is the session's position in the Resolve -> Connect -> Ident
// -> Ready state machine (spec §4.1). A failure at any point, or a dropped
// connection once Ready, returns the session to Resolve after reconnectDelay.
type SessionState int32

const (
	StateResolve SessionState = iota
	StateConnect
	StateIdent
	StateReady
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateResolve:
		return "resolve"
	case StateConnect:
		return "connect"
	case StateIdent:
		return "ident"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// ServerConfig is the configuration a ServerSession is built from. The
// session keeps its own copy; it has no setters for changing it after
// construction.
type ServerConfig struct {
	Name     string
	Hostname string
	Port     int
	Flags    SessionFlags

	Nickname string
	Username string
	Realname string
	Password string

	Prefix      string
	CTCPVersion string
	CTCPSource  string

	TLSConfig *tls.Config
	Debug     io.Writer
}

// ServerSession is a single configured IRC server connection: its connection
// state machine, ISUPPORT-derived metadata, channel list, and the send
// helpers plugins and hooks use to talk back to the network. Adapted from
// girc's Client/ircConn split (client.go, conn.go), generalized to the
// Resolve/Connect/Ident/Ready lifecycle and refcount contract of
// irc_server (server.h).
type ServerSession struct {
	Name string

	mu     sync.RWMutex
	cfg    ServerConfig
	state  int32 // atomic SessionState
	refc   int32 // atomic reference count, server_incref/decref
	prefix prefixTable

	chantypes   string
	casemapping string
	channelMax  uint
	nicknameMax uint
	topicMax    uint
	awayMax     uint
	kickMax     uint

	channels cmap.ConcurrentMap // name -> *Channel

	conn   *sessionConn
	cancel context.CancelFunc
	debug  *log.Logger

	events chan *Event

	whois whoisBuilder
}

// NewServerSession builds a session in state Resolve. It does not connect;
// call Connect to start the connection loop.
func NewServerSession(cfg ServerConfig) *ServerSession {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.CTCPVersion == "" {
		cfg.CTCPVersion = DefaultCTCPVersion
	}
	if cfg.CTCPSource == "" {
		cfg.CTCPSource = DefaultCTCPSource
	}

	var debug *log.Logger
	if cfg.Debug != nil {
		debug = log.New(cfg.Debug, "irccd: "+cfg.Name+": ", log.Ltime|log.Lshortfile)
	} else {
		debug = log.New(ioutil.Discard, "", 0)
	}

	return &ServerSession{
		Name:     cfg.Name,
		cfg:      cfg,
		state:    int32(StateResolve),
		refc:     1,
		prefix:   defaultPrefixTable(),
		channels: cmap.New(),
		debug:    debug,
		events:   make(chan *Event, 64),
	}
}

// Incref mirrors irc_server_incref: plugins that want to keep using a
// session after it's been removed from the bot call this to extend its
// life past the bot's own reference.
func (s *ServerSession) Incref() { atomic.AddInt32(&s.refc, 1) }

// Decref mirrors irc_server_decref. Once the count reaches zero the session
// is torn down (its connection closed, if still open) and further Send
// calls return ErrNotConnected permanently.
func (s *ServerSession) Decref() {
	if atomic.AddInt32(&s.refc, -1) <= 0 {
		s.teardown()
	}
}

func (s *ServerSession) teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	atomic.StoreInt32(&s.state, int32(StateDisconnected))
}

// State returns the session's current lifecycle state.
func (s *ServerSession) State() SessionState {
	return SessionState(atomic.LoadInt32(&s.state))
}

func (s *ServerSession) setState(st SessionState) {
	atomic.StoreInt32(&s.state, int32(st))
}

// Events exposes the stream of semantic events this session produces.
// The bot's dispatch loop ranges over this channel; it is closed once the
// session's connection loop exits for good (refcount reached zero).
func (s *ServerSession) Events() <-chan *Event { return s.events }

// Channel looks up a configured or joined channel by name.
func (s *ServerSession) Channel(name string) (*Channel, bool) {
	v, ok := s.channels.Get(strings.ToLower(name))
	if !ok {
		return nil, false
	}
	return v.(*Channel), true
}

func (s *ServerSession) channelOrCreate(name, password string) *Channel {
	key := strings.ToLower(name)
	if v, ok := s.channels.Get(key); ok {
		return v.(*Channel)
	}
	ch := NewChannel(name, password, ChannelFlagsNone)
	s.channels.Set(key, ch)
	return ch
}

// sessionConn is the live socket plus its buffered output queue, guarded
// separately from ServerSession.mu so reads/writes don't contend with
// config lookups. Modeled on girc's ircConn.
type sessionConn struct {
	mu      sync.Mutex
	sock    net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	outLen  int
	lastRX  time.Time
	pingSeq int64
	pinged  bool
}

// Connect starts (or restarts) the session's connection loop in the
// background, returning immediately. The loop reconnects on its own after
// reconnectDelay until ctx is canceled.
func (s *ServerSession) Connect(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.runLoop(ctx)
}

// Disconnect forcibly tears down the current connection, if any. The
// reconnect loop will bring the session back to Resolve afterward unless
// ctx passed to Connect has been canceled.
func (s *ServerSession) Disconnect() {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn != nil {
		conn.mu.Lock()
		_ = conn.sock.Close()
		conn.mu.Unlock()
	}
}

func (s *ServerSession) runLoop(ctx context.Context) {
	defer close(s.events)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.setState(StateResolve)
		if err := s.connectOnce(ctx); err != nil {
			s.debug.Printf("connection attempt failed: %v", err)
		}

		if atomic.LoadInt32(&s.refc) <= 0 {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *ServerSession) connectOnce(ctx context.Context) error {
	s.setState(StateConnect)

	addr := net.JoinHostPort(s.cfg.Hostname, strconv.Itoa(s.cfg.Port))

	dialer := &net.Dialer{Timeout: connectTimeout}
	network := "tcp"
	switch {
	case s.cfg.Flags&FlagNoIPv4 != 0:
		network = "tcp6"
	case s.cfg.Flags&FlagNoIPv6 != 0:
		network = "tcp4"
	}

	sock, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return err
	}
	if s.cfg.Flags&FlagTLS != 0 {
		sock = tls.Client(sock, s.cfg.TLSConfig)
	}

	conn := &sessionConn{
		sock:   sock,
		r:      bufio.NewReaderSize(sock, inputBufferSize),
		w:      bufio.NewWriter(sock),
		lastRX: time.Now(),
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	defer func() {
		sock.Close()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	s.setState(StateIdent)

	// Ident sequence (spec §4.1): CAP negotiation, optional PASS, NICK,
	// USER, then CAP END to release the registration.
	s.rawSend(conn, "CAP REQ :multi-prefix")
	if s.cfg.Password != "" {
		s.rawSend(conn, fmt.Sprintf("PASS %s", s.cfg.Password))
	}
	s.rawSend(conn, fmt.Sprintf("NICK %s", s.cfg.Nickname))
	s.rawSend(conn, fmt.Sprintf("USER %s 0 * :%s", s.cfg.Username, s.cfg.Realname))
	s.rawSend(conn, "CAP END")

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return s.readLoop(gctx, conn) })
	group.Go(func() error { return s.watchdogLoop(gctx, conn) })

	err = group.Wait()
	s.emitEvent(&Event{Kind: EventDisconnect, Server: s})
	return err
}

func (s *ServerSession) readLoop(ctx context.Context, conn *sessionConn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		conn.sock.SetReadDeadline(time.Now().Add(pingTimeout))
		line, err := conn.r.ReadString('\n')
		if err != nil {
			if len(line) == 0 {
				return err
			}
		}

		conn.mu.Lock()
		conn.lastRX = time.Now()
		conn.mu.Unlock()

		msg, perr := parseMessage(line)
		if perr != nil {
			s.debug.Printf("dropping malformed line %q: %v", line, perr)
			continue
		}

		s.handleMessage(conn, msg)

		if err != nil {
			return err
		}
	}
}

func (s *ServerSession) watchdogLoop(ctx context.Context, conn *sessionConn) error {
	tick := time.NewTicker(watchdogPeriod)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			conn.mu.Lock()
			idle := time.Since(conn.lastRX)
			conn.mu.Unlock()

			if idle < watchdogPeriod {
				continue
			}

			conn.mu.Lock()
			alreadyPinged := conn.pinged
			conn.pingSeq++
			seq := conn.pingSeq
			conn.pinged = true
			conn.mu.Unlock()

			if alreadyPinged {
				return errors.New("irccd: ping timeout, peer unresponsive")
			}

			s.rawSend(conn, fmt.Sprintf("PING :%d", seq))
		}
	}
}

func (s *ServerSession) rawSend(conn *sessionConn, line string) error {
	if len(line) > maxTextLen {
		line = line[:maxTextLen]
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	if conn.outLen+len(line)+2 > outputBufferCap {
		return ErrNoSpace
	}

	if _, err := conn.w.WriteString(line); err != nil {
		return err
	}
	if _, err := conn.w.Write(endline); err != nil {
		return err
	}
	if err := conn.w.Flush(); err != nil {
		return err
	}

	conn.outLen = conn.w.Buffered()
	conn.lastRX = time.Now()
	return nil
}

var endline = []byte("\r\n")

// Send writes a formatted raw IRC line to the session's connection. Returns
// ErrNotConnected if the session isn't in state Ident or Ready, or
// ErrNoSpace if the line would overflow the output buffer (spec §4.1,
// mirroring irc_server_send's -ENOTCONN/-ENOBUFS contract).
func (s *ServerSession) Send(format string, args ...interface{}) error {
	st := s.State()
	if st != StateIdent && st != StateReady {
		return ErrNotConnected
	}

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	return s.rawSend(conn, fmt.Sprintf(format, args...))
}

func (s *ServerSession) emitEvent(ev *Event) {
	select {
	case s.events <- ev:
	default:
		s.debug.Printf("event channel full, dropping %v", ev.Kind)
	}
}

// Invite sends an INVITE for target into channel.
func (s *ServerSession) Invite(channel, target string) error {
	return s.Send("INVITE %s %s", target, channel)
}

// Join joins a channel, registering it (if new) in the session's channel
// list first so it survives reconnects even if the JOIN itself fails.
func (s *ServerSession) Join(name, password string) error {
	s.channelOrCreate(name, password)

	if password != "" {
		return s.Send("JOIN %s %s", name, password)
	}
	return s.Send("JOIN %s", name)
}

// Kick removes target from channel with an optional reason.
func (s *ServerSession) Kick(channel, target, reason string) error {
	if reason != "" {
		return s.Send("KICK %s %s :%s", channel, target, reason)
	}
	return s.Send("KICK %s %s", channel, target)
}

// Part leaves a channel with an optional reason.
func (s *ServerSession) Part(channel, reason string) error {
	if reason != "" {
		return s.Send("PART %s :%s", channel, reason)
	}
	return s.Send("PART %s", channel)
}

// Topic sets a channel's topic.
func (s *ServerSession) Topic(channel, topic string) error {
	return s.Send("TOPIC %s :%s", channel, topic)
}

// Message sends a PRIVMSG to a channel or nickname.
func (s *ServerSession) Message(target, text string) error {
	return s.Send("PRIVMSG %s :%s", target, text)
}

// Me sends a CTCP ACTION (the "/me" emote) to a channel or nickname.
func (s *ServerSession) Me(target, text string) error {
	return s.Send("PRIVMSG %s :\x01ACTION %s\x01", target, text)
}

// Mode sets or queries channel/user modes.
func (s *ServerSession) Mode(target, modes, args string) error {
	if args != "" {
		return s.Send("MODE %s %s %s", target, modes, args)
	}
	return s.Send("MODE %s %s", target, modes)
}

// Names requests a NAMES listing for channel; the result arrives
// asynchronously as an EventNames.
func (s *ServerSession) Names(channel string) error {
	return s.Send("NAMES %s", channel)
}

// Notice sends a NOTICE to a channel or nickname.
func (s *ServerSession) Notice(target, text string) error {
	return s.Send("NOTICE %s :%s", target, text)
}

// Whois requests WHOIS information for target; the result arrives
// asynchronously as an EventWhois once RPL_ENDOFWHOIS is seen.
func (s *ServerSession) Whois(target string) error {
	return s.Send("WHOIS %s", target)
}

// StripPrefix advances past any leading PREFIX symbols in nickname (e.g.
// "@markand" -> "markand"), returning the bare nickname and the modes that
// were stripped. Exported so plugins that receive raw nicknames (e.g. from a
// NAMES listing) don't have to reimplement prefix parsing themselves, since
// which characters count as prefixes is server-defined (spec §9, mirroring
// irc_server_strip).
func (s *ServerSession) StripPrefix(nickname string) (string, modeBits) {
	return s.prefix.stripPrefixes(nickname)
}
