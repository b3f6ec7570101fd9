package irccd

import "testing"

func drainEvent(t *testing.T, s *ServerSession) *Event {
	t.Helper()
	select {
	case ev := <-s.events:
		return ev
	default:
		t.Fatal("expected an event, got none")
		return nil
	}
}

func assertNoEvent(t *testing.T, s *ServerSession) {
	t.Helper()
	select {
	case ev := <-s.events:
		t.Fatalf("expected no event, got %v", ev.Kind)
	default:
	}
}

func TestWelcomeEmitsConnectAfterRegistration(t *testing.T) {
	s := NewServerSession(ServerConfig{Name: "freenode", Hostname: "irc.example.invalid", Nickname: "markand"})

	welcome, err := parseMessage(":srv 001 markand :Welcome")
	if err != nil {
		t.Fatal(err)
	}
	s.handleMessage(nil, welcome)

	ev := drainEvent(t, s)
	if ev.Kind != EventConnect {
		t.Fatalf("kind = %v, want EventConnect", ev.Kind)
	}
	if s.State() != StateReady {
		t.Errorf("State() = %v, want ready", s.State())
	}
}

func TestNicknameInUseLogsWithoutRenick(t *testing.T) {
	s := NewServerSession(ServerConfig{Name: "freenode", Hostname: "irc.example.invalid", Nickname: "markand"})

	msg, err := parseMessage(":srv 433 * markand :Nickname is already in use")
	if err != nil {
		t.Fatal(err)
	}
	s.handleMessage(nil, msg)

	if s.cfg.Nickname != "markand" {
		t.Errorf("Nickname = %q, want unchanged (no auto-renick)", s.cfg.Nickname)
	}
	assertNoEvent(t, s)
}

func TestPrivmsgSetsChannelToTarget(t *testing.T) {
	s := NewServerSession(ServerConfig{Name: "freenode", Hostname: "irc.example.invalid", Nickname: "markand"})

	msg, err := parseMessage(":alice!u@h PRIVMSG #dev :hello there")
	if err != nil {
		t.Fatal(err)
	}
	s.handleMessage(nil, msg)

	ev := drainEvent(t, s)
	if ev.Kind != EventMessage {
		t.Fatalf("kind = %v, want EventMessage", ev.Kind)
	}
	if ev.Channel != "#dev" {
		t.Errorf("Channel = %q, want #dev", ev.Channel)
	}
	if ev.Target != "#dev" {
		t.Errorf("Target = %q, want #dev", ev.Target)
	}
}

func TestMeActionSetsChannelToTarget(t *testing.T) {
	s := NewServerSession(ServerConfig{Name: "freenode", Hostname: "irc.example.invalid", Nickname: "markand"})

	msg, err := parseMessage(":alice!u@h PRIVMSG #dev :\x01ACTION waves\x01")
	if err != nil {
		t.Fatal(err)
	}
	s.handleMessage(nil, msg)

	ev := drainEvent(t, s)
	if ev.Kind != EventMe {
		t.Fatalf("kind = %v, want EventMe", ev.Kind)
	}
	if ev.Channel != "#dev" {
		t.Errorf("Channel = %q, want #dev", ev.Channel)
	}
}

func TestNoticeSetsChannelToTarget(t *testing.T) {
	s := NewServerSession(ServerConfig{Name: "freenode", Hostname: "irc.example.invalid", Nickname: "markand"})

	msg, err := parseMessage(":alice!u@h NOTICE markand :just you")
	if err != nil {
		t.Fatal(err)
	}
	s.handleMessage(nil, msg)

	ev := drainEvent(t, s)
	if ev.Kind != EventNotice {
		t.Fatalf("kind = %v, want EventNotice", ev.Kind)
	}
	if ev.Channel != "markand" || ev.Target != "markand" {
		t.Errorf("Channel/Target = %q/%q, want markand/markand", ev.Channel, ev.Target)
	}
}

func TestNamesRollUp(t *testing.T) {
	s := NewServerSession(ServerConfig{Name: "freenode", Hostname: "irc.example.invalid", Nickname: "bot"})

	if table, ok := parsePrefixToken("(ov)@+"); ok {
		s.prefix = table
	}

	first, err := parseMessage(":srv 353 bot = #dev :@alice +bob")
	if err != nil {
		t.Fatal(err)
	}
	s.handleMessage(nil, first)
	assertNoEvent(t, s) // no event until 366, even though entries exist

	second, err := parseMessage(":srv 353 bot = #dev :carol")
	if err != nil {
		t.Fatal(err)
	}
	s.handleMessage(nil, second)
	assertNoEvent(t, s)

	end, err := parseMessage(":srv 366 bot #dev :End of /NAMES list")
	if err != nil {
		t.Fatal(err)
	}
	s.handleMessage(nil, end)

	ev := drainEvent(t, s)
	if ev.Kind != EventNames {
		t.Fatalf("kind = %v, want EventNames", ev.Kind)
	}
	if ev.Channel != "#dev" {
		t.Errorf("Channel = %q, want #dev", ev.Channel)
	}
	if len(ev.Names) != 3 {
		t.Fatalf("got %d names, want 3 (consolidated across both 353 lines): %+v", len(ev.Names), ev.Names)
	}

	byNick := make(map[string]modeBits, len(ev.Names))
	for _, n := range ev.Names {
		byNick[n.Nickname] = n.Modes
	}

	opBit, _ := s.prefix.bitFor('o')
	voiceBit, _ := s.prefix.bitFor('v')

	if byNick["alice"] != opBit {
		t.Errorf("alice modes = %v, want op bit %v", byNick["alice"], opBit)
	}
	if byNick["bob"] != voiceBit {
		t.Errorf("bob modes = %v, want voice bit %v", byNick["bob"], voiceBit)
	}
	if byNick["carol"] != 0 {
		t.Errorf("carol modes = %v, want 0", byNick["carol"])
	}
}
