package irccd

import (
	"strconv"
	"strings"

	"github.com/araddon/dateparse"
)

// whoisBuilder accumulates a WHOIS reply sequence (311/319/317/318) until
// RPL_ENDOFWHOIS closes it into a single EventWhois, mirroring the original
// implementation's irc_server.bufwhois staging field.
type whoisBuilder struct {
	active bool
	info   WhoisInfo
}

// handleMessage is the session's fixed command/numeric dispatch table (spec
// §4.2), replacing girc's dynamic Caller/Handlers registry (handler.go,
// builtin.go) with a static switch: irccd never lets user code register
// additional raw-line handlers, only semantic Events reach plugins.
func (s *ServerSession) handleMessage(conn *sessionConn, msg *message) {
	switch msg.Command {
	case RPL_WELCOME:
		s.setState(StateReady)
		s.emitEvent(&Event{Kind: EventConnect, Server: s})
		s.rejoinConfigured()
	case RPL_ISUPPORT:
		s.applyISupport(msg.Params)
	case PING:
		s.rawSend(conn, "PONG :"+msg.Last())
	case PONG:
		conn.mu.Lock()
		conn.pinged = false
		conn.mu.Unlock()
	case ERR_NICKNAMEINUSE:
		s.debug.Printf("nickname %q already in use", s.cfg.Nickname)
	case JOIN:
		s.handleJoin(msg)
	case PART:
		s.handlePart(msg)
	case KICK:
		s.handleKick(msg)
	case NICK:
		s.handleNick(msg)
	case MODE:
		s.handleMode(msg)
	case TOPIC:
		s.handleTopic(msg)
	case INVITE:
		s.handleInvite(msg)
	case NOTICE:
		s.handleNotice(msg)
	case PRIVMSG:
		s.handlePrivmsg(msg)
	case RPL_NAMREPLY:
		s.handleNames(msg)
	case RPL_ENDOFNAMES:
		s.handleEndOfNames(msg)
	case RPL_WHOISUSER:
		s.handleWhoisUser(msg)
	case RPL_WHOISCHANNELS:
		s.handleWhoisChannels(msg)
	case RPL_WHOISIDLE:
		s.handleWhoisIdle(msg)
	case RPL_ENDOFWHOIS:
		s.handleEndOfWhois(msg)
	case ERROR:
		s.debug.Printf("server error: %s", msg.Last())
	}
}

func (s *ServerSession) rejoinConfigured() {
	for _, v := range s.channels.Items() {
		ch := v.(*Channel)
		if ch.Flags&ChannelFlagsJoined != 0 {
			continue
		}
		if ch.Password != "" {
			s.Send("JOIN %s %s", ch.Name, ch.Password)
		} else {
			s.Send("JOIN %s", ch.Name)
		}
	}
}

// applyISupport parses a 005 RPL_ISUPPORT token list, tolerating unknown or
// malformed tokens (spec §9): a PREFIX value that fails to parse leaves the
// session's existing prefixTable untouched rather than panicking.
func (s *ServerSession) applyISupport(params []string) {
	for _, tok := range params {
		key, value, has := strings.Cut(tok, "=")
		if !has {
			continue
		}

		switch key {
		case "PREFIX":
			if table, ok := parsePrefixToken(value); ok {
				s.prefix = table
			} else {
				s.debug.Printf("ignoring malformed PREFIX token %q, keeping previous table", value)
			}
		case "CHANTYPES":
			s.chantypes = value
		case "CASEMAPPING":
			s.casemapping = value
		case "CHANNELLEN":
			s.channelMax = atoiOrZero(value)
		case "NICKLEN":
			s.nicknameMax = atoiOrZero(value)
		case "TOPICLEN":
			s.topicMax = atoiOrZero(value)
		case "AWAYLEN":
			s.awayMax = atoiOrZero(value)
		case "KICKLEN":
			s.kickMax = atoiOrZero(value)
		}
	}
}

func atoiOrZero(s string) uint {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return uint(n)
}

func (s *ServerSession) handleJoin(msg *message) {
	if len(msg.Params) < 1 || msg.Origin == nil {
		return
	}
	channel := msg.Params[0]

	if msg.Origin.isSelf(s.cfg.Nickname) {
		ch := s.channelOrCreate(channel, "")
		ch.Flags |= ChannelFlagsJoined
		ch.Clear()
	} else if ch, ok := s.Channel(channel); ok {
		ch.Add(msg.Origin.Name, 0)
	}

	s.emitEvent(&Event{Kind: EventJoin, Server: s, Origin: msg.Origin.Name, Channel: channel})
}

func (s *ServerSession) handlePart(msg *message) {
	if len(msg.Params) < 1 || msg.Origin == nil {
		return
	}
	channel := msg.Params[0]
	reason := msg.Last()
	if len(msg.Params) < 2 {
		reason = ""
	}

	if ch, ok := s.Channel(channel); ok {
		if msg.Origin.isSelf(s.cfg.Nickname) {
			ch.Flags &^= ChannelFlagsJoined
			ch.Clear()
		} else {
			ch.Remove(msg.Origin.Name)
		}
	}

	s.emitEvent(&Event{Kind: EventPart, Server: s, Origin: msg.Origin.Name, Channel: channel, Reason: reason})
}

func (s *ServerSession) handleKick(msg *message) {
	if len(msg.Params) < 2 || msg.Origin == nil {
		return
	}
	channel, target := msg.Params[0], msg.Params[1]
	reason := msg.Last()
	if len(msg.Params) < 3 {
		reason = ""
	}

	if ch, ok := s.Channel(channel); ok {
		if strings.EqualFold(target, s.cfg.Nickname) {
			if s.cfg.Flags&FlagAutoRejoin != 0 {
				ch.Flags &^= ChannelFlagsJoined
				s.Send("JOIN %s", channel)
			} else {
				ch.Flags &^= ChannelFlagsJoined
			}
			ch.Clear()
		} else {
			ch.Remove(target)
		}
	}

	s.emitEvent(&Event{Kind: EventKick, Server: s, Origin: msg.Origin.Name, Channel: channel, Target: target, Reason: reason})
}

func (s *ServerSession) handleNick(msg *message) {
	if len(msg.Params) < 1 || msg.Origin == nil {
		return
	}
	newNick := msg.Params[0]

	if msg.Origin.isSelf(s.cfg.Nickname) {
		s.cfg.Nickname = newNick
	}
	for _, v := range s.channels.Items() {
		v.(*Channel).Rename(msg.Origin.Name, newNick)
	}

	s.emitEvent(&Event{Kind: EventNick, Server: s, Origin: msg.Origin.Name, NewNick: newNick})
}

func (s *ServerSession) handleMode(msg *message) {
	if len(msg.Params) < 2 || msg.Origin == nil {
		return
	}
	target := msg.Params[0]
	modeStr := msg.Params[1]
	args := msg.Params[2:]

	if ch, ok := s.Channel(target); ok {
		walkModeString(modeStr, args, func(add bool, mode byte, arg string) {
			bit, known := s.prefix.bitFor(mode)
			if !known || arg == "" {
				return
			}
			u, ok := ch.Get(arg)
			if !ok {
				return
			}
			if add {
				ch.Set(arg, u.Modes|bit)
			} else {
				ch.Set(arg, u.Modes&^bit)
			}
		})
	}

	s.emitEvent(&Event{Kind: EventMode, Server: s, Origin: msg.Origin.Name, Channel: target, Mode: modeStr, ModeArgs: args})
}

func (s *ServerSession) handleTopic(msg *message) {
	if len(msg.Params) < 1 || msg.Origin == nil {
		return
	}
	s.emitEvent(&Event{Kind: EventTopic, Server: s, Origin: msg.Origin.Name, Channel: msg.Params[0], Text: msg.Last()})
}

func (s *ServerSession) handleInvite(msg *message) {
	if len(msg.Params) < 2 || msg.Origin == nil {
		return
	}
	channel := msg.Params[1]

	if s.cfg.Flags&FlagJoinInvite != 0 {
		s.Send("JOIN %s", channel)
	}

	s.emitEvent(&Event{Kind: EventInvite, Server: s, Origin: msg.Origin.Name, Channel: channel, Target: msg.Params[0]})
}

func (s *ServerSession) handleNotice(msg *message) {
	if len(msg.Params) < 1 || msg.Origin == nil {
		return
	}
	target := msg.Params[0]
	s.emitEvent(&Event{Kind: EventNotice, Server: s, Origin: msg.Origin.Name, Channel: target, Target: target, Text: msg.Last()})
}

func (s *ServerSession) handlePrivmsg(msg *message) {
	if len(msg.Params) < 1 || msg.Origin == nil {
		return
	}
	target := msg.Params[0]
	text := msg.Last()

	if action, ok := decodeCTCPAction(text); ok {
		s.emitEvent(&Event{Kind: EventMe, Server: s, Origin: msg.Origin.Name, Channel: target, Target: target, Text: action})
		return
	}

	if ctcp, ok := decodeCTCP(text); ok {
		s.replyCTCP(msg.Origin.Name, ctcp)
		return
	}

	s.emitEvent(&Event{Kind: EventMessage, Server: s, Origin: msg.Origin.Name, Channel: target, Target: target, Text: text})
}

// handleNames accumulates one RPL_NAMREPLY (353) line into the channel's
// user list. A NAMES reply is routinely split across several 353 lines, so
// this only stages the members; the consolidated EventNames is emitted once
// RPL_ENDOFNAMES closes the listing (spec §4.2, §8 "Names roll-up").
func (s *ServerSession) handleNames(msg *message) {
	if len(msg.Params) < 4 {
		return
	}
	channel := msg.Params[2]
	ch := s.channelOrCreate(channel, "")

	for _, raw := range strings.Fields(msg.Last()) {
		nick, bits := s.prefix.stripPrefixes(raw)
		ch.Add(nick, bits)
	}
}

func (s *ServerSession) handleEndOfNames(msg *message) {
	if len(msg.Params) < 2 {
		return
	}
	channel := msg.Params[1]
	ch, ok := s.Channel(channel)
	if !ok {
		return
	}

	users := ch.Users()
	entries := make([]NameEntry, len(users))
	for i, u := range users {
		entries[i] = NameEntry{Nickname: u.Nickname, Modes: u.Modes}
	}

	s.emitEvent(&Event{Kind: EventNames, Server: s, Channel: channel, Names: entries})
}

func (s *ServerSession) handleWhoisUser(msg *message) {
	if len(msg.Params) < 5 {
		return
	}
	s.whois = whoisBuilder{active: true, info: WhoisInfo{
		Nickname: msg.Params[1],
		Username: msg.Params[2],
		Hostname: msg.Params[3],
		Realname: msg.Last(),
	}}
}

func (s *ServerSession) handleWhoisChannels(msg *message) {
	if !s.whois.active || len(msg.Params) < 2 {
		return
	}
	for _, raw := range strings.Fields(msg.Last()) {
		name, bits := s.prefix.stripPrefixes(raw)
		s.whois.info.Channels = append(s.whois.info.Channels, WhoisChannel{Name: name, Modes: bits})
	}
}

// handleWhoisIdle parses RPL_WHOISIDLE's idle-seconds and signon-time
// fields. Signon time is usually a unix timestamp, but some daemons report
// it as a free-form date string, so a failed integer parse falls back to
// dateparse.ParseAny the same way the teacher's CREATED handler tolerates
// varying ircd date formats.
func (s *ServerSession) handleWhoisIdle(msg *message) {
	if !s.whois.active || len(msg.Params) < 3 {
		return
	}

	if idle, err := strconv.ParseInt(msg.Params[2], 10, 64); err == nil {
		s.whois.info.IdleSecs = idle
	}

	if len(msg.Params) >= 4 {
		if signon, err := strconv.ParseInt(msg.Params[3], 10, 64); err == nil {
			s.whois.info.SignonAt = signon
		} else if t, err := dateparse.ParseAny(msg.Params[3]); err == nil {
			s.whois.info.SignonAt = t.Unix()
		}
	}
}

func (s *ServerSession) handleEndOfWhois(msg *message) {
	if !s.whois.active {
		return
	}
	info := s.whois.info
	s.whois = whoisBuilder{}

	s.emitEvent(&Event{Kind: EventWhois, Server: s, Origin: info.Nickname, Whois: &info})
}
