package elements

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/mediagraph/media"
)

// SinkStats is a point-in-time view of what a sink consumed.
type SinkStats struct {
	Element     string  `json:"element"`
	Buffers     int64   `json:"buffers"`
	Bytes       int64   `json:"bytes"`
	KeyFrames   int64   `json:"keyFrames"`
	Dropped     int64   `json:"dropped"`
	Late        int64   `json:"late"`
	Flushes     int64   `json:"flushes"`
	LastPTSMs   int64   `json:"lastPtsMs,omitempty"`
	BitrateKbps float64 `json:"bitrateKbps"`
	EOS         bool    `json:"eos"`
	Caps        string  `json:"caps,omitempty"`
}

// QueueStats is a point-in-time view of a queue.
type QueueStats struct {
	Element   string `json:"element"`
	Buffers   int    `json:"buffers"`
	Bytes     int    `json:"bytes"`
	TimeMs    int64  `json:"timeMs"`
	Pushed    int64  `json:"pushed"`
	Popped    int64  `json:"popped"`
	Dropped   int64  `json:"dropped"`
	Overruns  int64  `json:"overruns"`
	Underruns int64  `json:"underruns"`
}

// BranchStats describes one tee output.
type BranchStats struct {
	Pad     string `json:"pad"`
	Sent    int64  `json:"sent"`
	Errors  int64  `json:"errors"`
	LastErr string `json:"lastError,omitempty"`
}

// TeeStats is a point-in-time view of a tee.
type TeeStats struct {
	Element  string        `json:"element"`
	Received int64         `json:"received"`
	Branches []BranchStats `json:"branches"`
}

// sinkCounters accumulates SinkStats with atomic counters; the bitrate
// window and caps string are guarded by mu.
type sinkCounters struct {
	buffers   atomic.Int64
	bytes     atomic.Int64
	keyFrames atomic.Int64
	dropped   atomic.Int64
	late      atomic.Int64
	flushes   atomic.Int64
	lastPTS   atomic.Int64
	eos       atomic.Bool

	mu          sync.Mutex
	caps        string
	windowStart time.Time
	windowBytes int64
	bitrateKbps float64
}

func (c *sinkCounters) record(buf *media.Buffer) {
	c.buffers.Add(1)
	c.bytes.Add(int64(buf.Size()))
	if buf.IsKeyframe() {
		c.keyFrames.Add(1)
	}
	if buf.PTS.IsValid() {
		c.lastPTS.Store(int64(buf.PTS / media.Millisecond))
	}

	c.mu.Lock()
	now := time.Now()
	if c.windowStart.IsZero() {
		c.windowStart = now
	}
	c.windowBytes += int64(buf.Size())
	if elapsed := now.Sub(c.windowStart); elapsed >= time.Second {
		c.bitrateKbps = float64(c.windowBytes*8) / elapsed.Seconds() / 1000
		c.windowStart = now
		c.windowBytes = 0
	}
	c.mu.Unlock()
}

func (c *sinkCounters) setCaps(s string) {
	c.mu.Lock()
	c.caps = s
	c.mu.Unlock()
}

func (c *sinkCounters) reset() {
	c.buffers.Store(0)
	c.bytes.Store(0)
	c.keyFrames.Store(0)
	c.dropped.Store(0)
	c.late.Store(0)
	c.flushes.Store(0)
	c.lastPTS.Store(0)
	c.eos.Store(false)
	c.mu.Lock()
	c.windowStart = time.Time{}
	c.windowBytes = 0
	c.bitrateKbps = 0
	c.mu.Unlock()
}

func (c *sinkCounters) snapshot(name string) SinkStats {
	c.mu.Lock()
	capsStr, kbps := c.caps, c.bitrateKbps
	c.mu.Unlock()
	return SinkStats{
		Element:     name,
		Buffers:     c.buffers.Load(),
		Bytes:       c.bytes.Load(),
		KeyFrames:   c.keyFrames.Load(),
		Dropped:     c.dropped.Load(),
		Late:        c.late.Load(),
		Flushes:     c.flushes.Load(),
		LastPTSMs:   c.lastPTS.Load(),
		BitrateKbps: kbps,
		EOS:         c.eos.Load(),
		Caps:        capsStr,
	}
}
