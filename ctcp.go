package irccd

import (
	"strings"
	"time"
)

// ctcpDelim wraps CTCP-encoded text within a PRIVMSG/NOTICE, spec §4.2's
// "CTCP framing", ported from girc's ctcpDelim.
const ctcpDelim byte = 0x01

type ctcpMessage struct {
	Command string
	Text    string
}

// decodeCTCPAction recognizes a CTCP ACTION (the "/me" emote) and returns
// its text, stripped of CTCP framing.
func decodeCTCPAction(text string) (string, bool) {
	ctcp, ok := decodeCTCP(text)
	if !ok || ctcp.Command != "ACTION" {
		return "", false
	}
	return ctcp.Text, true
}

// decodeCTCP parses a delimiter-wrapped CTCP command out of PRIVMSG/NOTICE
// text, adapted from girc's decodeCTCP but operating on the already-parsed
// trailing text rather than a full Event.
func decodeCTCP(text string) (ctcpMessage, bool) {
	if len(text) < 3 || text[0] != ctcpDelim || text[len(text)-1] != ctcpDelim {
		return ctcpMessage{}, false
	}

	body := text[1 : len(text)-1]
	if sp := strings.IndexByte(body, msgSpace); sp >= 0 {
		return ctcpMessage{Command: strings.ToUpper(body[:sp]), Text: body[sp+1:]}, true
	}
	return ctcpMessage{Command: strings.ToUpper(body)}, true
}

func encodeCTCP(cmd, text string) string {
	out := string(ctcpDelim) + cmd
	if text != "" {
		out += string(msgSpace) + text
	}
	return out + string(ctcpDelim)
}

// replyCTCP answers CLIENTINFO/SOURCE/TIME/VERSION/PING queries using the
// session's configured CTCP responses (spec §4.1's ctcp_version/ctcp_source
// fields). Unknown CTCP commands are silently ignored rather than erroring,
// since a query with no configured reply simply gets none.
func (s *ServerSession) replyCTCP(target string, ctcp ctcpMessage) {
	switch ctcp.Command {
	case "PING":
		s.Notice(target, encodeCTCP("PING", ctcp.Text))
	case "VERSION":
		s.Notice(target, encodeCTCP("VERSION", s.cfg.CTCPVersion))
	case "SOURCE":
		s.Notice(target, encodeCTCP("SOURCE", s.cfg.CTCPSource))
	case "TIME":
		s.Notice(target, encodeCTCP("TIME", time.Now().Format(time.RFC1123Z)))
	case "CLIENTINFO":
		s.Notice(target, encodeCTCP("CLIENTINFO", "CLIENTINFO PING SOURCE TIME VERSION"))
	}
}
