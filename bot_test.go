package irccd

import (
	"context"
	"errors"
	"testing"
)

type recordingPlugin struct {
	name     string
	handled  []*Event
	loadErr  error
	unloaded bool
}

func (p *recordingPlugin) Metadata() PluginMetadata { return PluginMetadata{Name: p.name} }
func (p *recordingPlugin) Handle(ev *Event)         { p.handled = append(p.handled, ev) }
func (p *recordingPlugin) Load() error              { return p.loadErr }
func (p *recordingPlugin) Unload()                  { p.unloaded = true }

func TestMatchCommandStripsPrefixAndName(t *testing.T) {
	srv := &ServerSession{cfg: ServerConfig{Prefix: "!"}}
	plugins := []Plugin{&recordingPlugin{name: "logger"}, &recordingPlugin{name: "help"}}

	ev := &Event{Kind: EventMessage, Server: srv, Text: "!help me please"}
	p, text, ok := matchCommand(ev, plugins)
	if !ok {
		t.Fatal("expected command match")
	}
	if p.Metadata().Name != "help" {
		t.Errorf("matched plugin = %q", p.Metadata().Name)
	}
	if text != "me please" {
		t.Errorf("remaining text = %q", text)
	}
}

func TestMatchCommandNoMatch(t *testing.T) {
	srv := &ServerSession{cfg: ServerConfig{Prefix: "!"}}
	plugins := []Plugin{&recordingPlugin{name: "logger"}}

	ev := &Event{Kind: EventMessage, Server: srv, Text: "hello there"}
	if _, _, ok := matchCommand(ev, plugins); ok {
		t.Error("expected no match without prefix")
	}

	ev2 := &Event{Kind: EventMessage, Server: srv, Text: "!loggerplus hi"}
	if _, _, ok := matchCommand(ev2, plugins); ok {
		t.Error("expected no match when name is only a prefix of a longer token")
	}
}

func TestBotPluginAddRejectsFailedLoad(t *testing.T) {
	b := NewBot(nil)
	p := &recordingPlugin{name: "broken", loadErr: errors.New("nope")}

	err := b.PluginAdd(p)
	if !errors.Is(err, ErrPluginRejected) {
		t.Fatalf("err = %v, want ErrPluginRejected", err)
	}
	if _, ok := b.PluginGet("broken"); ok {
		t.Error("rejected plugin should not be registered")
	}
}

func TestBotPluginRemoveCallsUnload(t *testing.T) {
	b := NewBot(nil)
	p := &recordingPlugin{name: "logger"}
	if err := b.PluginAdd(p); err != nil {
		t.Fatal(err)
	}

	b.PluginRemove("logger")
	if !p.unloaded {
		t.Error("expected Unload to be called")
	}
	if _, ok := b.PluginGet("logger"); ok {
		t.Error("expected plugin to be removed")
	}
}

func TestBotDispatchPassiveListener(t *testing.T) {
	b := NewBot(nil)
	p := &recordingPlugin{name: "logger"}
	if err := b.PluginAdd(p); err != nil {
		t.Fatal(err)
	}

	srv := &ServerSession{Name: "freenode", cfg: ServerConfig{Prefix: "!"}}
	ev := &Event{Kind: EventMessage, Server: srv, Channel: "#dev", Origin: "alice", Text: "hello"}
	b.dispatch(ev)

	if len(p.handled) != 1 {
		t.Fatalf("handled %d events, want 1", len(p.handled))
	}
	if p.handled[0].Kind != EventMessage {
		t.Errorf("got kind %v", p.handled[0].Kind)
	}
}

func TestBotDispatchCommandTargetExcludedFromPassive(t *testing.T) {
	b := NewBot(nil)
	help := &recordingPlugin{name: "help"}
	logger := &recordingPlugin{name: "logger"}
	if err := b.PluginAdd(help); err != nil {
		t.Fatal(err)
	}
	if err := b.PluginAdd(logger); err != nil {
		t.Fatal(err)
	}

	srv := &ServerSession{Name: "freenode", cfg: ServerConfig{Prefix: "!"}}
	ev := &Event{Kind: EventMessage, Server: srv, Channel: "#dev", Origin: "alice", Text: "!help topic"}
	b.dispatch(ev)

	if len(logger.handled) != 1 {
		t.Errorf("logger handled %d events, want 1 (passive listener)", len(logger.handled))
	}
	if len(help.handled) != 1 {
		t.Fatalf("help handled %d events, want 1 (command target only)", len(help.handled))
	}
	if help.handled[0].Kind != EventCommand {
		t.Errorf("help's event kind = %v, want EventCommand", help.handled[0].Kind)
	}
	if help.handled[0].CommandText != "topic" {
		t.Errorf("CommandText = %q", help.handled[0].CommandText)
	}
}

func TestBotDispatchRuleDrop(t *testing.T) {
	b := NewBot(nil)
	p := &recordingPlugin{name: "logger"}
	if err := b.PluginAdd(p); err != nil {
		t.Fatal(err)
	}

	rule, err := NewRule(nil, nil, nil, []string{"logger"}, []string{"onMessage"}, RuleDrop)
	if err != nil {
		t.Fatal(err)
	}
	b.RuleInsert(rule, -1)

	srv := &ServerSession{Name: "freenode", cfg: ServerConfig{Prefix: "!"}}
	ev := &Event{Kind: EventMessage, Server: srv, Channel: "#dev", Origin: "alice", Text: "hello"}
	b.dispatch(ev)

	if len(p.handled) != 0 {
		t.Errorf("handled %d events, want 0 (dropped by rule)", len(p.handled))
	}
}

func TestBotServerAddAndRemove(t *testing.T) {
	b := NewBot(nil)
	s := NewServerSession(ServerConfig{Name: "freenode", Hostname: "irc.example.invalid"})

	b.ServerAdd(context.Background(), s)
	if got, ok := b.ServerGet("freenode"); !ok || got != s {
		t.Fatal("expected server to be registered")
	}

	b.ServerRemove("freenode")
	if _, ok := b.ServerGet("freenode"); ok {
		t.Error("expected server to be removed")
	}
}
