package irccd

import (
	"os"
	"path/filepath"
	"strings"
)

// Default plugin metadata, used when a loader doesn't set its own (spec
// §4.5), named after plugin.h's IRC_PLUGIN_DEFAULT_* constants.
const (
	DefaultPluginLicense     = "ISC"
	DefaultPluginAuthor      = "nobody"
	DefaultPluginDescription = "no description"
)

// PluginMetadata is a plugin's always-set descriptive fields.
type PluginMetadata struct {
	Name        string
	License     string
	Version     string
	Author      string
	Description string
}

// NewPluginMetadata fills in spec-mandated defaults for any zero field.
func NewPluginMetadata(name, version string) PluginMetadata {
	if version == "" {
		version = BotVersion
	}
	return PluginMetadata{
		Name:        name,
		License:     DefaultPluginLicense,
		Version:     version,
		Author:      DefaultPluginAuthor,
		Description: DefaultPluginDescription,
	}
}

// Plugin is the contract every loaded extension satisfies (spec §4.5). Every
// method is optional in the original vtable sense; Go expresses that with
// small single-method interfaces a concrete plugin may additionally
// implement, checked with a type assertion at each call site (see
// pluginTemplates, pluginPaths, pluginOptions, pluginLoadable, ...).
type Plugin interface {
	Metadata() PluginMetadata
	Handle(event *Event)
}

// The following optional-capability interfaces mirror plugin.h's
// set_template/get_template/set_path/get_path/set_option/get_option/load/
// reload/unload/finish callbacks. A concrete Plugin implements only the
// ones it needs; the bot probes for them with a type assertion rather than
// requiring empty stub methods on every plugin.
type (
	pluginTemplates interface {
		SetTemplate(key, value string)
		Template(key string) (string, bool)
		Templates() []string
	}
	pluginPaths interface {
		SetPath(key, value string)
		Path(key string) (string, bool)
		Paths() []string
	}
	pluginOptions interface {
		SetOption(key, value string)
		Option(key string) (string, bool)
		Options() []string
	}
	pluginLoadable interface {
		Load() error
	}
	pluginReloadable interface {
		Reload()
	}
	pluginUnloadable interface {
		Unload()
	}
	pluginFinishable interface {
		Finish()
	}
)

// PluginLoader finds and instantiates plugins from the filesystem (spec
// §4.5), grounded on plugin.h's irc_plugin_loader.
type PluginLoader struct {
	// Paths is a colon-separated list of directories searched when
	// LoadPlugin is called with no explicit path.
	Paths string
	// Extensions is a colon-separated list of file-extension suffixes (no
	// leading dot) this loader accepts.
	Extensions string

	// Open instantiates the plugin named name at the resolved path.
	Open func(name, path string) (Plugin, error)
}

func splitColonList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ":")
}

// resolve finds the plugin's path per spec §4.5: if path is non-empty, it's
// checked against Extensions (accepted outright if it has no extension at
// all); otherwise every combination of a search directory and an extension
// is tried until one exists on disk.
func (l *PluginLoader) resolve(name, path string) (string, bool) {
	exts := splitColonList(l.Extensions)

	if path != "" {
		ext := strings.TrimPrefix(filepath.Ext(path), ".")
		if ext == "" {
			return path, true
		}
		for _, e := range exts {
			if e == ext {
				return path, true
			}
		}
		return "", false
	}

	for _, dir := range splitColonList(l.Paths) {
		for _, ext := range exts {
			candidate := filepath.Join(dir, name+"."+ext)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, true
			}
		}
	}
	return "", false
}

// LoadPlugin resolves and opens name via this loader, returning (nil, false)
// if no match was found; the returned error (if any) is the loader's Open
// failure for a match that was found but failed to instantiate.
func (l *PluginLoader) LoadPlugin(name, path string) (Plugin, bool, error) {
	resolved, ok := l.resolve(name, path)
	if !ok {
		return nil, false, nil
	}
	p, err := l.Open(name, resolved)
	if err != nil {
		return nil, true, err
	}
	return p, true, nil
}
