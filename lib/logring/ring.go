// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logring

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of entries the agent keeps.
const DefaultCapacity = 100

// Entry is one recorded log line.
type Entry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// Ring is a fixed-capacity log, newest first. Adding past capacity
// silently drops the oldest entry. Safe for concurrent use.
type Ring struct {
	mutex    sync.Mutex
	entries  []Entry
	next     int
	count    int
	capacity int
}

// New returns a Ring holding at most capacity entries. A capacity
// below one falls back to DefaultCapacity.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Ring{entries: make([]Entry, capacity), capacity: capacity}
}

// Add records an entry.
func (ring *Ring) Add(entry Entry) {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()

	ring.entries[ring.next] = entry
	ring.next = (ring.next + 1) % ring.capacity
	if ring.count < ring.capacity {
		ring.count++
	}
}

// Entries returns a copy of the ring, newest first.
func (ring *Ring) Entries() []Entry {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()

	result := make([]Entry, 0, ring.count)
	for offset := 1; offset <= ring.count; offset++ {
		index := (ring.next - offset + ring.capacity) % ring.capacity
		result = append(result, ring.entries[index])
	}
	return result
}

// Len returns the number of stored entries.
func (ring *Ring) Len() int {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()
	return ring.count
}
