package irccd

import (
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// hookKillGrace is how long a hook child is given to exit after SIGTERM
// before the escalation to SIGKILL, mirroring hook.h's ev_timer escalation.
const hookKillGrace = 5 * time.Second

// Hook is a lightweight alternative to a plugin: a filesystem path executed
// as a child process for every dispatched event, grounded on hook.h.
type Hook struct {
	Name string
	Path string

	mu       sync.Mutex
	children map[int]*hookChild
}

type hookChild struct {
	cmd   *exec.Cmd
	timer *time.Timer
}

// NewHook builds a Hook with no active children.
func NewHook(name, path string) *Hook {
	return &Hook{Name: name, Path: path, children: make(map[int]*hookChild)}
}

// hookArgs builds a hook's argument vector for an event (spec §4.6's table),
// returning ok=false for events the hook dispatcher doesn't support.
func hookArgs(ev *Event) ([]string, bool) {
	tag := filterTag(ev.Kind)
	if tag == "" {
		return nil, false
	}

	args := []string{tag, ev.Server.Name}

	switch ev.Kind {
	case EventConnect, EventDisconnect:
	case EventInvite, EventJoin:
		args = append(args, ev.Origin, ev.Channel)
	case EventKick:
		args = append(args, ev.Origin, ev.Channel, ev.Target, ev.Reason)
	case EventMe, EventMessage, EventNotice:
		args = append(args, ev.Origin, ev.Channel, ev.Text)
	case EventMode:
		args = append(args, ev.Origin, ev.Channel, ev.Mode)
		args = append(args, ev.ModeArgs...)
	case EventNick:
		args = append(args, ev.Origin, ev.NewNick)
	case EventPart:
		args = append(args, ev.Origin, ev.Channel, ev.Reason)
	case EventTopic:
		args = append(args, ev.Origin, ev.Channel, ev.Text)
	default:
		return nil, false
	}

	return args, true
}

// Invoke spawns a child process running the hook's executable with the
// event's argument vector, and reaps it asynchronously. Spawn failures are
// reported through logf rather than returned, since dispatch (spec §4.3
// step 1) does not stop for a single hook's failure.
func (h *Hook) Invoke(ev *Event, logf func(format string, args ...interface{})) {
	args, ok := hookArgs(ev)
	if !ok {
		return
	}

	cmd := exec.Command(h.Path, args...)
	if err := cmd.Start(); err != nil {
		logf("hook %s: spawn failed: %v", h.Name, err)
		return
	}

	pid := cmd.Process.Pid
	child := &hookChild{cmd: cmd}

	h.mu.Lock()
	h.children[pid] = child
	h.mu.Unlock()

	go func() {
		err := cmd.Wait()

		h.mu.Lock()
		if child.timer != nil {
			child.timer.Stop()
		}
		delete(h.children, pid)
		h.mu.Unlock()

		if err != nil {
			logf("hook %s: child %d exited: %v", h.Name, pid, err)
		} else {
			logf("hook %s: child %d exited cleanly", h.Name, pid)
		}
	}()
}

// Shutdown signals every active child to terminate, escalating to SIGKILL
// after hookKillGrace if a child hasn't exited (spec §4.6 teardown).
func (h *Hook) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for pid, child := range h.children {
		pid, proc := pid, child.cmd.Process
		proc.Signal(syscall.SIGTERM)

		child.timer = time.AfterFunc(hookKillGrace, func() {
			h.mu.Lock()
			_, stillRunning := h.children[pid]
			h.mu.Unlock()
			if stillRunning {
				proc.Signal(syscall.SIGKILL)
			}
		})
	}
}

// activeChildren returns the number of in-flight children.
func (h *Hook) activeChildren() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.children)
}
