// Package util
//
// This file provides a priority queue of expiration deadlines.
//
// The queue combines a binary heap with a hash map. The heap orders keys by their
// deadline so the earliest deadline is always at the root, and the map allows a key
// to be rescheduled or removed when its record is updated or deleted.
//
// Time Complexity:
//   - O(log n) for Schedule, Remove and PopDue (per popped key)
//   - O(1) for Peek and Deadline
//
// Concurrency Considerations:
//   - This implementation is not thread-safe
//   - The engine only touches it while holding its exclusive lock
//
// Example usage:
//
//	q := NewExpiryQueue()
//	q.Schedule("session:1", time.Now().Add(time.Minute))
//	q.Schedule("session:2", time.Now().Add(time.Second))
//
//	// key was deleted
//	q.Remove("session:1")
//
//	// collect all keys whose deadline has passed
//	for key := range q.PopDue(time.Now()) {
//	    ...
//	}
package util

import (
	"container/heap"
	"iter"
	"time"
)

// deadline is one scheduled key
type deadline struct {
	key   string
	at    time.Time
	index int // Index in the heap, maintained by the heap package
}

// deadlineHeap implements heap.Interface (min-heap by deadline)
type deadlineHeap struct {
	items  []*deadline
	byKeys map[string]*deadline
}

func (h *deadlineHeap) Len() int { return len(h.items) }

func (h *deadlineHeap) Less(i, j int) bool {
	return h.items[i].at.Before(h.items[j].at)
}

func (h *deadlineHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *deadlineHeap) Push(x any) {
	d := x.(*deadline)
	d.index = len(h.items)
	h.items = append(h.items, d)
	h.byKeys[d.key] = d
}

func (h *deadlineHeap) Pop() any {
	old := h.items
	n := len(old)
	d := old[n-1]
	old[n-1] = nil // Avoid memory leak
	d.index = -1
	h.items = old[:n-1]
	delete(h.byKeys, d.key)
	return d
}

// ExpiryQueue schedules keys by their expiration time
type ExpiryQueue struct {
	h *deadlineHeap
}

// NewExpiryQueue creates an empty expiry queue
func NewExpiryQueue() *ExpiryQueue {
	return &ExpiryQueue{
		h: &deadlineHeap{
			items:  make([]*deadline, 0),
			byKeys: make(map[string]*deadline),
		},
	}
}

// Len returns the number of scheduled keys
func (q *ExpiryQueue) Len() int { return q.h.Len() }

// Schedule adds a key with the given deadline or moves an already scheduled key
func (q *ExpiryQueue) Schedule(key string, at time.Time) {
	if d, ok := q.h.byKeys[key]; ok {
		d.at = at
		heap.Fix(q.h, d.index)
		return
	}
	heap.Push(q.h, &deadline{key: key, at: at})
}

// Remove unschedules a key. It returns false if the key was not scheduled.
func (q *ExpiryQueue) Remove(key string) bool {
	d, ok := q.h.byKeys[key]
	if !ok {
		return false
	}
	heap.Remove(q.h, d.index)
	return true
}

// Deadline returns the deadline of a scheduled key
func (q *ExpiryQueue) Deadline(key string) (time.Time, bool) {
	d, ok := q.h.byKeys[key]
	if !ok {
		return time.Time{}, false
	}
	return d.at, true
}

// Peek returns the key with the earliest deadline without removing it
func (q *ExpiryQueue) Peek() (key string, at time.Time, ok bool) {
	if q.h.Len() == 0 {
		return "", time.Time{}, false
	}
	d := q.h.items[0]
	return d.key, d.at, true
}

// PopDue removes and yields every key whose deadline lies strictly before now,
// earliest first. Stopping the iteration early leaves the remaining keys scheduled.
func (q *ExpiryQueue) PopDue(now time.Time) iter.Seq2[string, time.Time] {
	return func(yield func(string, time.Time) bool) {
		for q.h.Len() > 0 {
			d := q.h.items[0]
			if !now.After(d.at) {
				return
			}
			heap.Pop(q.h)
			if !yield(d.key, d.at) {
				return
			}
		}
	}
}
