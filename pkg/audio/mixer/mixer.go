package mixer

import (
	"container/heap"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/adagate/pkg/audio"
)

var _ audio.Mixer = (*PriorityMixer)(nil)

// DefaultGap is the base silence inserted between consecutive segments when
// [WithGap] is not used.
const DefaultGap = 300 * time.Millisecond

const defaultQueueCap = 16

// Option configures a [PriorityMixer] during construction.
type Option func(*PriorityMixer)

// WithGap sets the base inter-segment silence. Jitter of ±1/6 of the gap is
// applied per transition; zero disables the gap entirely.
func WithGap(d time.Duration) Option {
	return func(m *PriorityMixer) {
		m.gap = d
	}
}

// WithQueueCapacity sets the initial capacity hint for the play queue. The
// queue still grows without bound.
func WithQueueCapacity(n int) Option {
	return func(m *PriorityMixer) {
		if n > 0 {
			m.queue = make(playQueue, 0, n)
		}
	}
}

// PriorityMixer is an [audio.Mixer] backed by [container/heap].
//
// One segment plays at a time. A newly enqueued segment with higher priority
// than the playing one preempts it immediately; equal priorities play in
// arrival order. Barge-in cuts the current segment and flushes everything
// queued behind it.
//
// All exported methods are safe for concurrent use.
type PriorityMixer struct {
	output func([]byte) // receives playback chunks, called from the run goroutine

	mu         sync.Mutex
	queue      playQueue
	seq        uint64
	gap        time.Duration
	current    *audio.AudioSegment // segment being played, nil when idle
	currentPri int
	stopCur    chan struct{} // closed to cut the current segment short
	onBargeIn  func(string)

	wake   chan struct{} // pokes the run goroutine after Enqueue/Interrupt
	done   chan struct{}
	closed bool
}

// New creates a mixer delivering chunks to output and starts its playback
// goroutine. output must not be nil and should return promptly; it runs on
// the playback goroutine. Call [PriorityMixer.Close] when finished.
func New(output func([]byte), opts ...Option) *PriorityMixer {
	m := &PriorityMixer{
		output: output,
		queue:  make(playQueue, 0, defaultQueueCap),
		gap:    DefaultGap,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	heap.Init(&m.queue)
	go m.run()
	return m
}

// Enqueue schedules segment at the given priority, which overrides
// segment.Priority. A segment outranking the one currently playing preempts
// it with [audio.SystemOverride] semantics.
func (m *PriorityMixer) Enqueue(segment *audio.AudioSegment, priority int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.seq++
	heap.Push(&m.queue, queued{segment: segment, priority: priority, seq: m.seq})

	if m.current != nil && priority > m.currentPri {
		m.cutLocked(audio.SystemOverride, false)
	}

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Interrupt stops the playing segment for the given reason. Nothing playing
// means nothing happens. [audio.UserBargeIn] also flushes the queue since the
// user has taken the floor; [audio.SystemOverride] keeps queued segments.
func (m *PriorityMixer) Interrupt(reason audio.InterruptReason) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cutLocked(reason, reason == audio.UserBargeIn)
}

// OnBargeIn registers the callback invoked by [PriorityMixer.BargeIn].
// A later registration replaces the earlier one. The callback runs on its
// own goroutine.
func (m *PriorityMixer) OnBargeIn(handler func(speakerID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onBargeIn = handler
}

// BargeIn reports that the user started speaking during playback. The current
// segment is cut with [audio.UserBargeIn] semantics, the queue is flushed,
// and the registered handler (if any) is invoked with speakerID.
func (m *PriorityMixer) BargeIn(speakerID string) {
	m.mu.Lock()
	handler := m.onBargeIn
	m.cutLocked(audio.UserBargeIn, true)
	m.mu.Unlock()

	if handler != nil {
		go handler(speakerID)
	}
}

// SetGap changes the base inter-segment silence. Takes effect at the next
// segment transition.
func (m *PriorityMixer) SetGap(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gap = d
}

// Close stops the playback goroutine and drains all queued segments so their
// producers do not block. Idempotent.
func (m *PriorityMixer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true

	if m.current != nil {
		m.cutLocked(audio.SystemOverride, false)
	}
	m.flushLocked()
	m.mu.Unlock()

	close(m.done)
	return nil
}

// cutLocked stops the playing segment and optionally flushes the queue.
// Caller holds m.mu.
func (m *PriorityMixer) cutLocked(reason audio.InterruptReason, flush bool) {
	_ = reason // reserved for reason-specific handling such as fade-out

	if m.stopCur != nil {
		close(m.stopCur)
		m.stopCur = nil
	}
	m.current = nil

	if flush {
		m.flushLocked()
	}
}

// flushLocked drains every queued segment on background goroutines so their
// producers can finish. Caller holds m.mu.
func (m *PriorityMixer) flushLocked() {
	for m.queue.Len() > 0 {
		e := heap.Pop(&m.queue).(queued)
		go audio.Drain(e.segment.Audio)
	}
}

// run pulls segments off the queue and streams them to the output callback
// until Close fires.
func (m *PriorityMixer) run() {
	var playedOne bool

	gapTimer := time.NewTimer(0)
	if !gapTimer.Stop() {
		<-gapTimer.C
	}
	defer gapTimer.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
		}

		for {
			seg, stop, ok := m.next()
			if !ok {
				break
			}

			if playedOne && !m.waitGap(gapTimer, seg, stop) {
				// Shutdown or preemption during the gap.
				select {
				case <-m.done:
					return
				default:
					continue
				}
			}

			m.stream(seg, stop)
			playedOne = true

			m.mu.Lock()
			if m.current == seg {
				m.current = nil
				m.stopCur = nil
			}
			m.mu.Unlock()
		}
	}
}

// next pops the highest-priority segment and marks it current.
func (m *PriorityMixer) next() (seg *audio.AudioSegment, stop chan struct{}, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queue.Len() == 0 {
		return nil, nil, false
	}

	e := heap.Pop(&m.queue).(queued)
	stop = make(chan struct{})
	m.current = e.segment
	m.currentPri = e.priority
	m.stopCur = stop
	return e.segment, stop, true
}

// waitGap sleeps the jittered inter-segment gap. It returns false when the
// wait was cut short by shutdown or by the segment being preempted, in which
// case seg's audio is drained.
func (m *PriorityMixer) waitGap(gapTimer *time.Timer, seg *audio.AudioSegment, stop chan struct{}) bool {
	d := m.gapWithJitter()
	if d <= 0 {
		return true
	}

	gapTimer.Reset(d)
	select {
	case <-m.done:
	case <-stop:
	case <-gapTimer.C:
		return true
	}
	if !gapTimer.Stop() {
		<-gapTimer.C
	}
	go audio.Drain(seg.Audio)
	return false
}

// stream plays seg chunk by chunk until it ends, is cut, or the mixer closes.
func (m *PriorityMixer) stream(seg *audio.AudioSegment, stop chan struct{}) {
	for {
		select {
		case <-m.done:
			go audio.Drain(seg.Audio)
			return
		case <-stop:
			go audio.Drain(seg.Audio)
			return
		case chunk, ok := <-seg.Audio:
			if !ok {
				return
			}
			m.output(chunk)
		}
	}
}

// gapWithJitter returns the configured gap ±1/6 jitter, or zero when gaps are
// disabled.
func (m *PriorityMixer) gapWithJitter() time.Duration {
	m.mu.Lock()
	base := m.gap
	m.mu.Unlock()

	if base <= 0 {
		return 0
	}

	spread := base / 6
	if spread <= 0 {
		return base
	}
	return base + time.Duration(rand.Int64N(int64(2*spread+1))) - spread
}
