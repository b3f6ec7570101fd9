// Package irccd implements the core of an IRC bot daemon: one connection
// state machine per configured server, an IRC protocol layer that turns raw
// lines into normalized events, an ordered rule chain that filters those
// events before they reach plugins, a plugin lifecycle/loader abstraction,
// and a hook dispatcher that spawns short-lived child processes.
//
// The admin control protocol, configuration loading, CLI parsing, logging
// sinks, and any concrete plugin scripting engine are outside this package;
// Plugin and PluginLoader describe only the contract those collaborators
// must satisfy.
package irccd
