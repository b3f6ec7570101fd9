package irccd

import "errors"

// ErrNotConnected is returned by ServerSession.Send and its helpers when the
// session is not in the Ident or Ready state (or has been detached from the
// bot and its underlying connection torn down).
var ErrNotConnected = errors.New("irccd: not connected")

// ErrNoSpace is returned by ServerSession.Send when appending the formatted
// line would overflow the session's output buffer. The buffer is left
// untouched.
var ErrNoSpace = errors.New("irccd: no space left in output buffer")

// ErrInvalidMessage is returned by parseMessage when a line has no command.
var ErrInvalidMessage = errors.New("irccd: malformed message")

// ErrPluginRejected is returned by the bot when a plugin's Load callback
// returns a non-nil error; the plugin is discarded and not registered.
var ErrPluginRejected = errors.New("irccd: plugin rejected during load")
