package pipeline

import (
	"context"
	"sync"

	"github.com/vintagevision/vintagevision/internal/model"
)

// EventSink receives progress events from a run. Emit is called from the
// goroutine running the orchestrator, once per stage boundary and once at
// the end.
type EventSink interface {
	Emit(ev model.ProgressEvent)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ev model.ProgressEvent)

func (f SinkFunc) Emit(ev model.ProgressEvent) { f(ev) }

// ChannelSink forwards events to a channel. Sends give up once ctx is done
// so a departed consumer never blocks the run.
type ChannelSink struct {
	ctx context.Context
	ch  chan<- model.ProgressEvent
}

// NewChannelSink returns a ChannelSink writing to ch.
func NewChannelSink(ctx context.Context, ch chan<- model.ProgressEvent) *ChannelSink {
	return &ChannelSink{ctx: ctx, ch: ch}
}

func (c *ChannelSink) Emit(ev model.ProgressEvent) {
	select {
	case c.ch <- ev:
	case <-c.ctx.Done():
	}
}

// progressGuard enforces the stream contract: progress stays within
// [0,100] and never decreases, and nothing follows the terminal event.
type progressGuard struct {
	mu       sync.Mutex
	sink     EventSink
	last     int
	terminal bool
}

func newProgressGuard(sink EventSink) *progressGuard {
	return &progressGuard{sink: sink}
}

func (g *progressGuard) Emit(ev model.ProgressEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.terminal {
		return
	}
	ev.Progress = min(max(ev.Progress, g.last, 0), 100)
	g.last = ev.Progress
	g.terminal = ev.Terminal()
	if g.sink != nil {
		g.sink.Emit(ev)
	}
}
