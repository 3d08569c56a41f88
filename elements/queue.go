package elements

import (
	"log/slog"
	"sync"

	"github.com/zsiec/mediagraph/media"
	"github.com/zsiec/mediagraph/pipeline"
)

// Leaky modes of a queue.
const (
	LeakyNo = iota
	LeakyUpstream
	LeakyDownstream
)

var leakyNicks = []pipeline.EnumValue{
	{Value: LeakyNo, Nick: "no"},
	{Value: LeakyUpstream, Nick: "upstream"},
	{Value: LeakyDownstream, Nick: "downstream"},
}

// queueItem is a buffer or a serialized event waiting in the queue.
type queueItem struct {
	buf *media.Buffer
	ev  *media.Event
}

// queue decouples its upstream and downstream threads. The chain function
// appends to a bounded FIFO, blocking while it is full unless the queue
// leaks; a task pops the FIFO and pushes downstream. The task is paused
// and the FIFO emptied on PAUSED to READY; the goroutine exits on READY to
// NULL.
type queue struct {
	e    *pipeline.Element
	log  *slog.Logger
	sink *pipeline.Pad
	src  *pipeline.Pad
	task *pipeline.Task

	streamLock sync.Mutex

	mu        sync.Mutex
	cond      *sync.Cond
	items     []queueItem
	buffers   int
	bytes     int
	inTime    media.ClockTime // running time of the newest buffer in
	outTime   media.ClockTime // running time where the oldest queued data starts
	inSeg     media.Segment
	outSeg    media.Segment
	flushing  bool
	srcResult pipeline.FlowReturn
	eos       bool
	underrun  bool

	pushed    int64
	popped    int64
	dropped   int64
	overruns  int64
	underruns int64
}

func newQueue() pipeline.Impl { return &queue{} }

func (q *queue) Init(e *pipeline.Element) error {
	q.e = e
	q.log = e.Log()
	q.cond = sync.NewCond(&q.mu)
	q.flushing = true
	q.srcResult = pipeline.FlowFlushing
	q.resetLevelsLocked()

	q.sink = pipeline.NewPadFromTemplate(e.PadTemplate("sink"), "sink")
	q.sink.SetChainFunc(q.chain)
	q.sink.SetEventFunc(q.sinkEvent)
	q.sink.SetQueryFunc(proxyQuery)
	q.src = pipeline.NewPadFromTemplate(e.PadTemplate("src"), "src")
	q.src.SetQueryFunc(proxyQuery)
	q.task = pipeline.NewTask(e.Name(), &q.streamLock, q.loop, func(st pipeline.StreamStatus) {
		e.PostMessage(pipeline.NewStreamStatusMessage(e, st))
	})
	if err := e.AddPad(q.sink); err != nil {
		return err
	}
	return e.AddPad(q.src)
}

// proxyQuery answers caps queries with what the other side accepts and
// otherwise behaves like the default handler.
func proxyQuery(pad *pipeline.Pad, q *pipeline.Query) bool {
	if q.Type == pipeline.QueryCaps {
		return pipeline.ProxyQueryCaps(pad, q)
	}
	return pipeline.QueryDefault(pad, q)
}

// QueueStatsOf returns the statistics of a queue element.
func QueueStatsOf(e *pipeline.Element) (QueueStats, bool) {
	q, ok := e.Impl().(*queue)
	if !ok {
		return QueueStats{}, false
	}
	return q.Stats(), true
}

// Stats returns a snapshot of the queue's level and counters.
func (q *queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Element:   q.e.Name(),
		Buffers:   q.buffers,
		Bytes:     q.bytes,
		TimeMs:    int64(q.timeLevelLocked() / media.Millisecond),
		Pushed:    q.pushed,
		Popped:    q.popped,
		Dropped:   q.dropped,
		Overruns:  q.overruns,
		Underruns: q.underruns,
	}
}

func (q *queue) ChangeState(tr pipeline.StateChange) pipeline.StateChangeReturn {
	switch tr {
	case pipeline.ReadyToPaused:
		q.mu.Lock()
		q.flushing = false
		q.srcResult = pipeline.FlowOK
		q.eos = false
		q.clearLocked()
		q.mu.Unlock()
		q.task.Start()
	case pipeline.PausedToReady:
		q.mu.Lock()
		q.flushing = true
		q.srcResult = pipeline.FlowFlushing
		q.cond.Broadcast()
		q.mu.Unlock()
		q.task.Pause()
		// Wait out the iteration in progress before dropping the FIFO.
		q.streamLock.Lock()
		q.mu.Lock()
		q.clearLocked()
		q.mu.Unlock()
		q.streamLock.Unlock()
	case pipeline.ReadyToNull:
		q.task.Stop()
		q.task.Join()
	}
	return pipeline.StateChangeSuccess
}

// PropertyChanged wakes a blocked producer when the limits change.
func (q *queue) PropertyChanged(name string, _ any) {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *queue) resetLevelsLocked() {
	q.buffers, q.bytes = 0, 0
	q.inTime, q.outTime = media.ClockTimeNone, media.ClockTimeNone
	q.inSeg, q.outSeg = media.NewSegment(), media.NewSegment()
}

// clearLocked drops everything queued.
func (q *queue) clearLocked() {
	for _, it := range q.items {
		if it.buf != nil {
			it.buf.Unref()
		}
	}
	q.items = nil
	q.resetLevelsLocked()
	q.underrun = false
	q.updateLevelLocked()
	q.cond.Broadcast()
}

// timeLevelLocked is the running time spanned by the queued buffers.
func (q *queue) timeLevelLocked() media.ClockTime {
	if !q.inTime.IsValid() || !q.outTime.IsValid() || q.inTime < q.outTime {
		return 0
	}
	return q.inTime - q.outTime
}

// fullAt reports whether any limit is reached at pct percent of its value.
func (q *queue) fullAt(pct uint64) bool {
	if maxBuf := q.e.PropUint64("max-size-buffers"); maxBuf > 0 && uint64(q.buffers)*100 >= maxBuf*pct {
		return true
	}
	if maxBytes := q.e.PropUint64("max-size-bytes"); maxBytes > 0 && uint64(q.bytes)*100 >= maxBytes*pct {
		return true
	}
	if maxTime := q.e.PropUint64("max-size-time"); maxTime > 0 && uint64(q.timeLevelLocked())*100 >= maxTime*pct {
		return true
	}
	return false
}

func (q *queue) isFullLocked() bool { return q.fullAt(100) }

func (q *queue) updateLevelLocked() {
	t := q.timeLevelLocked()
	q.e.Metrics().QueueLevel(q.e.Name(), q.buffers, q.bytes, uint64(t))
	q.e.SetReadOnlyProperty("current-level-buffers", uint64(q.buffers))
	q.e.SetReadOnlyProperty("current-level-bytes", uint64(q.bytes))
	q.e.SetReadOnlyProperty("current-level-time", uint64(t))
}

func (q *queue) chain(pad *pipeline.Pad, buf *media.Buffer) pipeline.FlowReturn {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ret := q.blockedResultLocked(); ret != pipeline.FlowOK {
		return ret
	}

	if q.isFullLocked() {
		switch q.e.PropEnum("leaky") {
		case LeakyUpstream:
			q.dropped++
			q.e.Metrics().QueueDropped(q.e.Name(), 1)
			q.log.Debug("queue full, dropping new buffer", "pts", buf.PTS)
			buf.Unref()
			return pipeline.FlowOK
		case LeakyDownstream:
			for q.isFullLocked() && q.dropOldestLocked() {
			}
		default:
			q.overruns++
			q.e.Metrics().QueueOverrun(q.e.Name())
			q.log.Debug("queue full, blocking", "buffers", q.buffers, "bytes", q.bytes)
			low := uint64(q.e.PropInt("low-percent"))
			for q.fullAt(min(low, 100)) && q.blockedResultLocked() == pipeline.FlowOK {
				q.cond.Wait()
			}
			if ret := q.blockedResultLocked(); ret != pipeline.FlowOK {
				return ret
			}
		}
	}

	q.items = append(q.items, queueItem{buf: buf})
	q.buffers++
	q.bytes += buf.Size()
	q.pushed++
	if !q.outTime.IsValid() {
		q.outTime = q.inSeg.ToRunningTime(buf.PTS)
	}
	if rt := q.inSeg.ToRunningTime(bufEndOrPTS(buf)); rt.IsValid() {
		q.inTime = rt
	}
	q.updateLevelLocked()
	q.cond.Broadcast()
	return pipeline.FlowOK
}

// blockedResultLocked is what a producer gets instead of queueing: the
// flushing state, EOS, or the last error from downstream.
func (q *queue) blockedResultLocked() pipeline.FlowReturn {
	switch {
	case q.flushing:
		return pipeline.FlowFlushing
	case q.eos:
		return pipeline.FlowEOS
	}
	return q.srcResult
}

func bufEndOrPTS(buf *media.Buffer) media.ClockTime {
	if end := buf.End(); end.IsValid() {
		return end
	}
	return buf.PTS
}

// dropOldestLocked removes the oldest buffer, keeping events. It reports
// false when no buffer is queued.
func (q *queue) dropOldestLocked() bool {
	for i, it := range q.items {
		if it.buf == nil {
			continue
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		q.buffers--
		q.bytes -= it.buf.Size()
		q.dropped++
		q.e.Metrics().QueueDropped(q.e.Name(), 1)
		if rt := q.outSeg.ToRunningTime(bufEndOrPTS(it.buf)); rt.IsValid() {
			q.outTime = rt
		}
		it.buf.Unref()
		q.updateLevelLocked()
		return true
	}
	return false
}

func (q *queue) sinkEvent(pad *pipeline.Pad, ev *media.Event) bool {
	switch ev.Type {
	case media.EventFlushStart:
		q.mu.Lock()
		q.flushing = true
		q.srcResult = pipeline.FlowFlushing
		q.cond.Broadcast()
		q.mu.Unlock()
		ok := q.src.PushEvent(ev)
		q.task.Pause()
		return ok
	case media.EventFlushStop:
		q.mu.Lock()
		q.flushing = true
		q.cond.Broadcast()
		q.mu.Unlock()
		// Wait out the iteration that may still be pushing a stale buffer.
		q.streamLock.Lock()
		q.mu.Lock()
		q.clearLocked()
		q.flushing = false
		q.srcResult = pipeline.FlowOK
		q.eos = false
		q.mu.Unlock()
		q.streamLock.Unlock()
		ok := q.src.PushEvent(ev)
		if q.src.IsActive() {
			q.task.Start()
		}
		return ok
	}
	if !ev.Type.IsSerialized() {
		return q.src.PushEvent(ev)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.flushing {
		return false
	}
	switch ev.Type {
	case media.EventSegment:
		q.inSeg = *ev.Segment
	case media.EventEOS:
		q.eos = true
	case media.EventStreamStart:
		q.eos = false
	}
	q.items = append(q.items, queueItem{ev: ev})
	q.cond.Broadcast()
	return true
}

// loop pops one item and pushes it downstream.
func (q *queue) loop() {
	q.mu.Lock()
	for len(q.items) == 0 && !q.flushing {
		if !q.underrun {
			q.underrun = true
			q.underruns++
			q.e.Metrics().QueueUnderrun(q.e.Name())
		}
		q.cond.Wait()
	}
	if q.flushing {
		q.mu.Unlock()
		q.task.Pause()
		return
	}
	q.underrun = false
	it := q.items[0]
	q.items[0] = queueItem{}
	q.items = q.items[1:]
	if it.buf != nil {
		q.buffers--
		q.bytes -= it.buf.Size()
		q.popped++
		if rt := q.outSeg.ToRunningTime(bufEndOrPTS(it.buf)); rt.IsValid() {
			q.outTime = rt
		}
		q.updateLevelLocked()
	} else if it.ev.Type == media.EventSegment {
		q.outSeg = *it.ev.Segment
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	if it.ev != nil {
		if !q.src.PushEvent(it.ev) {
			q.log.Debug("downstream refused event", "event", it.ev.Type)
		}
		return
	}

	if ret := q.src.Push(it.buf); ret != pipeline.FlowOK {
		q.log.Debug("pausing", "reason", ret)
		q.mu.Lock()
		if !q.flushing {
			q.srcResult = ret
		}
		q.cond.Broadcast()
		q.mu.Unlock()
		q.task.Pause()
	}
}
