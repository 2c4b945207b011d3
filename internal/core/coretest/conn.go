// Package coretest provides in-memory SignalConnection doubles for tests.
package coretest

import (
	"sync"

	"github.com/dkeye/Huddle/internal/core"
)

// RecordingConn stores every frame it accepts.
type RecordingConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed int
}

func (c *RecordingConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed > 0 {
		return core.ErrConnClosed
	}
	c.frames = append(c.frames, append(core.Frame(nil), f...))
	return nil
}

func (c *RecordingConn) Close() {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
}

func (c *RecordingConn) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *RecordingConn) Frames() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Frame(nil), c.frames...)
}

// Events decodes every recorded frame, skipping undecodable ones.
func (c *RecordingConn) Events() []core.Envelope {
	var out []core.Envelope
	for _, f := range c.Frames() {
		env, err := core.Decode(f)
		if err != nil {
			continue
		}
		out = append(out, env)
	}
	return out
}

// Of returns the recorded envelopes with the given event name.
func (c *RecordingConn) Of(name core.EventName) []core.Envelope {
	var out []core.Envelope
	for _, env := range c.Events() {
		if env.Event == name {
			out = append(out, env)
		}
	}
	return out
}

func (c *RecordingConn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}
