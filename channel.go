package irccd

import (
	"strings"

	cmap "github.com/orcaman/concurrent-map"
)

// ChannelFlags describe the join state of a configured Channel.
type ChannelFlags uint8

const (
	// ChannelFlagsNone marks a configured channel the session hasn't
	// (re)joined yet.
	ChannelFlagsNone ChannelFlags = 0
	// ChannelFlagsJoined marks a channel the session currently has joined.
	ChannelFlagsJoined ChannelFlags = 1 << 0
)

// ChannelUser is a single nickname tracked in a Channel's user list, along
// with its mode bitset resolved against the session's prefixTable.
type ChannelUser struct {
	Nickname string
	Modes    modeBits
}

// Channel mirrors an IRC channel the session is configured to join, or has
// joined. It is present in a ServerSession's channel list even before the
// session connects, with Flags tracking whether a JOIN has completed, so
// that configured channels survive reconnects (spec §4.1 "auto-join").
//
// Channel names are stored and looked up case-insensitively, since the IRC
// protocol permits mixed-case channel names that still refer to the same
// channel.
type Channel struct {
	Name     string
	Password string
	Flags    ChannelFlags

	users cmap.ConcurrentMap
}

// NewChannel creates a Channel in its unjoined state.
func NewChannel(name, password string, flags ChannelFlags) *Channel {
	return &Channel{
		Name:     strings.ToLower(name),
		Password: password,
		Flags:    flags,
		users:    cmap.New(),
	}
}

// Add registers (or overwrites) a nickname in the channel's user list.
func (c *Channel) Add(nickname string, modes modeBits) {
	c.users.Set(strings.ToLower(nickname), &ChannelUser{Nickname: nickname, Modes: modes})
}

// Get looks up a tracked user by nickname, case-insensitively.
func (c *Channel) Get(nickname string) (*ChannelUser, bool) {
	v, ok := c.users.Get(strings.ToLower(nickname))
	if !ok {
		return nil, false
	}
	return v.(*ChannelUser), true
}

// Set replaces the mode bitset of an already-tracked user. A no-op if the
// nickname isn't present.
func (c *Channel) Set(nickname string, modes modeBits) {
	key := strings.ToLower(nickname)
	if v, ok := c.users.Get(key); ok {
		v.(*ChannelUser).Modes = modes
	}
}

// Rename moves a tracked user to a new nickname, preserving its modes, used
// on NICK events for users present in the channel.
func (c *Channel) Rename(oldNick, newNick string) {
	old := strings.ToLower(oldNick)
	v, ok := c.users.Get(old)
	if !ok {
		return
	}
	u := v.(*ChannelUser)
	u.Nickname = newNick
	c.users.Remove(old)
	c.users.Set(strings.ToLower(newNick), u)
}

// Remove drops a user from the channel's user list, if present.
func (c *Channel) Remove(nickname string) {
	c.users.Remove(strings.ToLower(nickname))
}

// Clear empties the channel's user list, keeping its configuration.
func (c *Channel) Clear() {
	c.users = cmap.New()
}

// Count returns the number of users currently tracked in the channel.
func (c *Channel) Count() int {
	return c.users.Count()
}

// Users returns a snapshot slice of the channel's tracked users.
func (c *Channel) Users() []*ChannelUser {
	items := c.users.Items()
	out := make([]*ChannelUser, 0, len(items))
	for _, v := range items {
		out = append(out, v.(*ChannelUser))
	}
	return out
}
