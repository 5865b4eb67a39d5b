// Package watch keeps a live subscription on a sync root and every
// directory above it, forwards file changes under the root, and rebuilds
// everything from scratch whenever the root or an ancestor moves.
//
// The control flow is an explicit state machine. Next is a pure function so
// every transition can be tested without a filesystem.
package watch

import "fmt"

// State is the watcher's lifecycle state.
type State int

// Watcher states. Stopped is terminal.
const (
	Starting State = iota
	Watching
	Restarting
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Watching:
		return "watching"
	case Restarting:
		return "restarting"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Input is something that happened to the watcher.
type Input int

// Inputs fed to Next.
const (
	// InputStartOK: root canonicalized, subscriptions open, handler began.
	InputStartOK Input = iota
	// InputStartFailed: a recoverable start failure, such as an unmounted volume.
	InputStartFailed
	// InputConfigInvalid: the root can never work (not a directory, empty).
	InputConfigInvalid
	// InputFileModified: one or more files under the root changed.
	InputFileModified
	// InputPathMoved: the root or one of its ancestors was renamed or removed.
	InputPathMoved
	// InputIgnored: an event unrelated to the root.
	InputIgnored
	// InputPassFailed: the handler aborted a pass.
	InputPassFailed
	// InputTornDown: subscriptions closed and queued events dropped.
	InputTornDown
)

func (i Input) String() string {
	switch i {
	case InputStartOK:
		return "start ok"
	case InputStartFailed:
		return "start failed"
	case InputConfigInvalid:
		return "config invalid"
	case InputFileModified:
		return "file modified"
	case InputPathMoved:
		return "path moved"
	case InputIgnored:
		return "ignored"
	case InputPassFailed:
		return "pass failed"
	case InputTornDown:
		return "torn down"
	default:
		return fmt.Sprintf("input(%d)", int(i))
	}
}

// Action is what the loop must do alongside a transition.
type Action int

// Actions returned by Next.
const (
	ActionNone Action = iota
	// ActionForward hands the changed paths to the handler.
	ActionForward
	// ActionBackoff delays the next start attempt by the restart backoff.
	ActionBackoff
	// ActionStop ends Run with an error.
	ActionStop
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionForward:
		return "forward"
	case ActionBackoff:
		return "backoff"
	case ActionStop:
		return "stop"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Next returns the state following s on input in. Inputs that mean nothing
// in the current state leave it unchanged with ActionNone.
func Next(s State, in Input) (State, Action) {
	switch s {
	case Starting:
		switch in {
		case InputStartOK:
			return Watching, ActionNone
		case InputStartFailed, InputPassFailed:
			return Starting, ActionBackoff
		case InputConfigInvalid:
			return Stopped, ActionStop
		}

	case Watching:
		switch in {
		case InputFileModified:
			return Watching, ActionForward
		case InputPathMoved:
			return Restarting, ActionNone
		case InputPassFailed:
			return Restarting, ActionBackoff
		}

	case Restarting:
		if in == InputTornDown {
			return Starting, ActionNone
		}

	case Stopped:
		return Stopped, ActionNone
	}

	return s, ActionNone
}
