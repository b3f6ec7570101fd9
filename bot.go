package irccd

import (
	"context"
	"io"
	"io/ioutil"
	"log"
	"path/filepath"
	"strings"
	"sync"
)

// BotVersion is used as a plugin's default version string when its loader
// doesn't supply one (spec §4.5).
const BotVersion = "0.1.0"

// Default roots a resolved plugin's reserved cache/data/config paths are
// nested under (spec §6), named after the original implementation's
// IRCCD_CACHEDIR/IRCCD_DATADIR/IRCCD_SYSCONFDIR build-time constants
// (original_source/lib/irccd/irccd.c).
const (
	DefaultCacheDir  = "/var/cache/irccd"
	DefaultDataDir   = "/var/lib/irccd"
	DefaultConfigDir = "/etc/irccd"
)

// Bot is the root aggregate: an ordered list of servers, an ordered list of
// plugins, an ordered list of plugin loaders, a rule chain, and a set of
// hooks keyed by name. Grounded on irccd.h's struct irccd and irc_bot_*
// functions; dispatch implements spec §4.3.
type Bot struct {
	mu sync.Mutex

	servers       []*ServerSession
	plugins       []Plugin
	pluginLoaders []*PluginLoader
	rules         *RuleChain
	hooks         map[string]*Hook

	// CacheDir, DataDir, and ConfigDir are the roots a resolved plugin's
	// reserved "cache", "data", and "config" paths (spec §6) are nested
	// under, one subdirectory per plugin name. Defaulted by NewBot;
	// overwrite before the first PluginSearch call to change them.
	CacheDir  string
	DataDir   string
	ConfigDir string

	debug *log.Logger
}

// NewBot returns an empty Bot ready for servers, plugins, and rules to be
// registered.
func NewBot(debugOut io.Writer) *Bot {
	var logger *log.Logger
	if debugOut != nil {
		logger = log.New(debugOut, "irccd: bot: ", log.Ltime|log.Lshortfile)
	} else {
		logger = log.New(ioutil.Discard, "", 0)
	}

	return &Bot{
		rules:     NewRuleChain(),
		hooks:     make(map[string]*Hook),
		CacheDir:  DefaultCacheDir,
		DataDir:   DefaultDataDir,
		ConfigDir: DefaultConfigDir,
		debug:     logger,
	}
}

// ServerAdd registers a server and starts its connection loop.
func (b *Bot) ServerAdd(ctx context.Context, s *ServerSession) {
	b.mu.Lock()
	b.servers = append(b.servers, s)
	b.mu.Unlock()

	s.Connect(ctx)
	go b.consume(s)
}

// ServerGet finds a registered server by name.
func (b *Bot) ServerGet(name string) (*ServerSession, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.servers {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// ServerRemove disconnects and drops a server by name. If nothing else
// holds a reference (via Incref), the session is torn down immediately;
// otherwise it lingers in a detached state until the last Decref.
func (b *Bot) ServerRemove(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.servers {
		if s.Name == name {
			s.Decref()
			b.servers = append(b.servers[:i], b.servers[i+1:]...)
			return
		}
	}
}

// ServerClear disconnects and drops every registered server.
func (b *Bot) ServerClear() {
	b.mu.Lock()
	servers := b.servers
	b.servers = nil
	b.mu.Unlock()

	for _, s := range servers {
		s.Decref()
	}
}

// consume ranges over a session's event stream and dispatches each event,
// the "consumer task" of spec §5.
func (b *Bot) consume(s *ServerSession) {
	for ev := range s.Events() {
		b.dispatch(ev)
	}
}

// PluginAdd registers plugin, calling its Load callback first. If Load
// returns an error the plugin is discarded and ErrPluginRejected is
// returned (spec §4.5).
func (b *Bot) PluginAdd(p Plugin) error {
	if loadable, ok := p.(pluginLoadable); ok {
		if err := loadable.Load(); err != nil {
			return ErrPluginRejected
		}
	}

	b.mu.Lock()
	b.plugins = append(b.plugins, p)
	b.mu.Unlock()
	return nil
}

// PluginSearch tries each registered loader in order until one resolves and
// opens name, returning the plugin without registering it into the bot
// (spec §4.5: customization happens before PluginAdd). Before returning, the
// reserved "cache", "data", and "config" path keys are set to their
// per-plugin default subdirectories (spec §6), so a plugin's Load callback
// can rely on them being populated.
func (b *Bot) PluginSearch(name, path string) (Plugin, error) {
	b.mu.Lock()
	loaders := append([]*PluginLoader(nil), b.pluginLoaders...)
	cacheDir, dataDir, configDir := b.CacheDir, b.DataDir, b.ConfigDir
	b.mu.Unlock()

	for _, l := range loaders {
		p, found, err := l.LoadPlugin(name, path)
		if err != nil {
			return nil, err
		}
		if found {
			if paths, ok := p.(pluginPaths); ok {
				paths.SetPath("cache", filepath.Join(cacheDir, "plugin", name))
				paths.SetPath("data", filepath.Join(dataDir, "plugin", name))
				paths.SetPath("config", filepath.Join(configDir, "plugin", name))
			}
			return p, nil
		}
	}
	return nil, nil
}

// PluginGet finds a registered plugin by name.
func (b *Bot) PluginGet(name string) (Plugin, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.plugins {
		if p.Metadata().Name == name {
			return p, true
		}
	}
	return nil, false
}

// PluginRemove unloads and drops a plugin by name, invoking Unload then
// Finish in that order (spec §4.5).
func (b *Bot) PluginRemove(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, p := range b.plugins {
		if p.Metadata().Name != name {
			continue
		}
		if unloadable, ok := p.(pluginUnloadable); ok {
			unloadable.Unload()
		}
		if finishable, ok := p.(pluginFinishable); ok {
			finishable.Finish()
		}
		b.plugins = append(b.plugins[:i], b.plugins[i+1:]...)
		return
	}
}

// PluginClear unloads and drops every registered plugin.
func (b *Bot) PluginClear() {
	b.mu.Lock()
	plugins := b.plugins
	b.plugins = nil
	b.mu.Unlock()

	for _, p := range plugins {
		if unloadable, ok := p.(pluginUnloadable); ok {
			unloadable.Unload()
		}
		if finishable, ok := p.(pluginFinishable); ok {
			finishable.Finish()
		}
	}
}

// PluginLoaderAdd registers a loader used by PluginSearch.
func (b *Bot) PluginLoaderAdd(l *PluginLoader) {
	b.mu.Lock()
	b.pluginLoaders = append(b.pluginLoaders, l)
	b.mu.Unlock()
}

// RuleInsert adds rule at pos in the bot's rule chain.
func (b *Bot) RuleInsert(rule *Rule, pos int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rules.Insert(rule, pos)
}

// RuleGet returns the rule at pos.
func (b *Bot) RuleGet(pos int) (*Rule, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rules.Get(pos)
}

// RuleMove relocates a rule within the chain.
func (b *Bot) RuleMove(from, to int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rules.Move(from, to)
}

// RuleRemove deletes the rule at pos.
func (b *Bot) RuleRemove(pos int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rules.Remove(pos)
}

// RuleClear empties the rule chain.
func (b *Bot) RuleClear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rules.Clear()
}

// HookAdd registers a hook by name.
func (b *Bot) HookAdd(h *Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks[h.Name] = h
}

// HookGet finds a registered hook by name.
func (b *Bot) HookGet(name string) (*Hook, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.hooks[name]
	return h, ok
}

// HookRemove drops a hook by name, shutting down any of its active
// children.
func (b *Bot) HookRemove(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.hooks[name]; ok {
		h.Shutdown()
		delete(b.hooks, name)
	}
}

// HookClear drops and shuts down every registered hook.
func (b *Bot) HookClear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, h := range b.hooks {
		h.Shutdown()
		delete(b.hooks, name)
	}
}

// dispatch is the central routing function (spec §4.3): hooks fire first,
// then passive listeners, then (if the message identified one) the command
// target.
func (b *Bot) dispatch(ev *Event) {
	b.mu.Lock()
	hooks := make([]*Hook, 0, len(b.hooks))
	for _, h := range b.hooks {
		hooks = append(hooks, h)
	}
	plugins := append([]Plugin(nil), b.plugins...)
	rules := b.rules
	b.mu.Unlock()

	for _, h := range hooks {
		h.Invoke(ev, b.debug.Printf)
	}

	tag := filterTag(ev.Kind)

	var commandPlugin Plugin
	var commandEvent *Event

	if ev.Kind == EventMessage {
		if p, text, ok := matchCommand(ev, plugins); ok {
			commandPlugin = p
			commandEvent = &Event{}
			*commandEvent = *ev
			commandEvent.Kind = EventCommand
			commandEvent.CommandPlugin = p.Metadata().Name
			commandEvent.CommandText = text
		}
	}

	for _, p := range plugins {
		if commandPlugin != nil && p.Metadata().Name == commandPlugin.Metadata().Name {
			continue
		}
		if rules.Match(ev.Server.Name, ev.Channel, ev.Origin, p.Metadata().Name, tag) == RuleAccept {
			p.Handle(ev)
		}
	}

	if commandPlugin != nil {
		if rules.Match(ev.Server.Name, ev.Channel, ev.Origin, commandPlugin.Metadata().Name, "onCommand") == RuleAccept {
			commandPlugin.Handle(commandEvent)
		}
	}
}

// matchCommand identifies the command target for a Message event: the
// first plugin (in registration order) whose name follows the session's
// command prefix at the start of the message text, and returns the
// remaining text with "<prefix><name>" and one run of separating
// whitespace stripped (spec §4.3 step 2/4).
func matchCommand(ev *Event, plugins []Plugin) (Plugin, string, bool) {
	prefix := ev.Server.cfg.Prefix
	if prefix == "" || !strings.HasPrefix(ev.Text, prefix) {
		return nil, "", false
	}
	rest := ev.Text[len(prefix):]

	for _, p := range plugins {
		name := p.Metadata().Name
		if !strings.HasPrefix(rest, name) {
			continue
		}
		after := rest[len(name):]
		if after != "" && !isSpace(after[0]) {
			continue
		}
		return p, strings.TrimLeft(after, " \t"), true
	}
	return nil, "", false
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' }
