// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package topicstats tracks per-topic byte and message counters, bounded
// to maxEntries by evicting the least-recently-touched topic.
package topicstats

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// Stats is a single topic's running counters. Fields are updated with
// atomics so readers (e.g. a Prometheus collector) never block a writer.
type Stats struct {
	Topic      string
	BytesIn    atomic.Int64
	BytesOut   atomic.Int64
	MessagesIn atomic.Int64
}

// Registry is a bounded, LRU-evicting map of topic name to Stats.
type Registry struct {
	mu       sync.Mutex
	maxEntries int
	entries  map[string]*list.Element // topic -> element holding *Stats
	order    *list.List               // front = most recently touched
}

// New creates a Registry holding at most maxEntries topics.
func New(maxEntries int) *Registry {
	if maxEntries <= 0 {
		maxEntries = 100000
	}
	return &Registry{
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

// Get returns (creating if necessary) the Stats for topic, and marks it as
// the most recently touched entry.
func (r *Registry) Get(topic string) *Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	if elem, ok := r.entries[topic]; ok {
		r.order.MoveToFront(elem)
		return elem.Value.(*Stats)
	}

	s := &Stats{Topic: topic}
	elem := r.order.PushFront(s)
	r.entries[topic] = elem

	if r.order.Len() > r.maxEntries {
		r.evictOldest()
	}

	return s
}

func (r *Registry) evictOldest() {
	oldest := r.order.Back()
	if oldest == nil {
		return
	}
	r.order.Remove(oldest)
	delete(r.entries, oldest.Value.(*Stats).Topic)
}

// Len returns the number of topics currently tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}

// Snapshot returns a copy of every tracked topic's counters, for metrics
// export or admin introspection.
func (r *Registry) Snapshot() []Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Stats, 0, r.order.Len())
	for elem := r.order.Front(); elem != nil; elem = elem.Next() {
		s := elem.Value.(*Stats)
		var copyS Stats
		copyS.Topic = s.Topic
		copyS.BytesIn.Store(s.BytesIn.Load())
		copyS.BytesOut.Store(s.BytesOut.Load())
		copyS.MessagesIn.Store(s.MessagesIn.Load())
		out = append(out, copyS)
	}
	return out
}
