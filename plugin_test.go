package irccd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNewPluginMetadataDefaults(t *testing.T) {
	m := NewPluginMetadata("logger", "1.0")
	if m.Name != "logger" || m.Version != "1.0" {
		t.Fatalf("got %+v", m)
	}
	if m.License != DefaultPluginLicense || m.Author != DefaultPluginAuthor || m.Description != DefaultPluginDescription {
		t.Errorf("defaults not applied: %+v", m)
	}
}

func TestPluginLoaderResolveExplicitPath(t *testing.T) {
	l := &PluginLoader{Extensions: "lua:py"}

	if _, ok := l.resolve("", "/opt/plugins/logger.lua"); !ok {
		t.Error("expected matching extension to be accepted")
	}
	if _, ok := l.resolve("", "/opt/plugins/logger.rb"); ok {
		t.Error("expected non-matching extension to be rejected")
	}
	if _, ok := l.resolve("", "/opt/plugins/logger"); !ok {
		t.Error("expected extensionless path to be accepted outright")
	}
}

func TestPluginLoaderResolveSearchPath(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "logger.lua"), []byte("-- empty"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := &PluginLoader{Paths: dir, Extensions: "lua"}

	path, ok := l.resolve("logger", "")
	if !ok {
		t.Fatal("expected logger.lua to be found")
	}
	if path != filepath.Join(dir, "logger.lua") {
		t.Errorf("path = %q", path)
	}

	if _, ok := l.resolve("missing", ""); ok {
		t.Error("expected missing plugin to not resolve")
	}
}

func TestPluginLoaderLoadPlugin(t *testing.T) {
	boom := errors.New("boom")

	l := &PluginLoader{Extensions: ""}
	l.Open = func(name, path string) (Plugin, error) {
		if name == "bad" {
			return nil, boom
		}
		return fakePlugin{name: name}, nil
	}

	p, found, err := l.LoadPlugin("good", "/tmp/good")
	if err != nil || !found || p == nil {
		t.Fatalf("p=%v found=%v err=%v", p, found, err)
	}

	_, found, err = l.LoadPlugin("bad", "/tmp/bad")
	if !found || !errors.Is(err, boom) {
		t.Fatalf("expected found=true err=boom, got found=%v err=%v", found, err)
	}
}

type fakePlugin struct {
	name string
}

func (f fakePlugin) Metadata() PluginMetadata { return PluginMetadata{Name: f.name} }
func (f fakePlugin) Handle(ev *Event)         {}
