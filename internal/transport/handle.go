// Package transport defines the seam between the sync engine and the
// protocol adapters that talk to physical players. The engine only ever
// sees the Handle interface and the event stream from the Hub; the wire
// protocol behind a handle is an adapter concern.
package transport

import "context"

type State int

const (
	StateStopped State = iota
	StatePlaying
	StatePaused
	StateBuffering
	StateBufferReady
)

// Handle is one connected audio device.
//
// ElapsedMilliseconds is the device's own playback position estimate.
// Jiffies is the device's local clock reference in milliseconds; it is
// only meaningful relative to other readings from the same device and is
// used to express "start at" points in the device's clock domain.
type Handle interface {
	ID() string
	Name() string
	State() State
	ElapsedMilliseconds() int64
	Jiffies() int64
	Powered() bool
	VolumeLevel() int
	Muted() bool
	// SupportedCodecs lists codec names the device accepts, e.g. "flac".
	SupportedCodecs() []string

	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	// Unpause resumes a buffered/paused device at the given point on its
	// local clock, so several devices can be told to begin together.
	Unpause(ctx context.Context, atJiffies int64) error
	// SkipAhead jumps the playback position forward by the given amount.
	SkipAhead(ctx context.Context, ms int64) error
	// PauseFor halts output for the given amount and resumes by itself.
	PauseFor(ctx context.Context, ms int64) error
	VolumeSet(ctx context.Context, level int) error
	Mute(ctx context.Context, muted bool) error
	Power(ctx context.Context, on bool) error
	// PlayURL starts streaming the given url. With autostart false the
	// device buffers and reports BufferReady instead of starting.
	PlayURL(ctx context.Context, url string, autostart bool) error
}
