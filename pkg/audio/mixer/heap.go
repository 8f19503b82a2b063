// Package mixer schedules synthesized speech segments for playback through a
// single output. Segments carry priorities so control-channel voice-overs can
// preempt an assistant turn mid-sentence, and user barge-in clears the floor
// entirely. A short jittered silence gap between segments keeps back-to-back
// speech from sounding robotic.
package mixer

import "github.com/MrWong99/adagate/pkg/audio"

// queued pairs an [audio.AudioSegment] with its scheduling metadata. seq is a
// monotonic insertion counter used to keep equal-priority segments in FIFO
// order.
type queued struct {
	segment  *audio.AudioSegment
	priority int
	seq      uint64
}

// playQueue is a max-heap over priority with seq as the tie-breaker. It
// implements [container/heap.Interface]; use the heap package functions, not
// Push/Pop directly.
type playQueue []queued

func (q playQueue) Len() int { return len(q) }

func (q playQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q playQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *playQueue) Push(x any) { *q = append(*q, x.(queued)) }

func (q *playQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}
