// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package store holds the in-memory acquisition time series. Appends
// arrive from the polling goroutine while the session switches policy
// and clears at recording boundaries, so every operation locks.
package store

import (
	"sync"
	"time"
)

// Capacity is the retained point ceiling for both policies.
const Capacity = 512

// Policy selects how the store sheds points beyond Capacity.
type Policy int

const (
	// PolicyLatest drops the oldest points outright, keeping the most
	// recent Capacity. Used while not recording: the view optimizes
	// for "show the latest".
	PolicyLatest Policy = iota

	// PolicyDecimate thins the series by an integer stride, keeping
	// first-to-last chronological coverage. Used while recording: the
	// view optimizes for even coverage of the whole session.
	PolicyDecimate
)

// DataPoint is one poll result. Immutable once appended.
type DataPoint struct {
	Timestamp time.Time
	Raw       []int16
	Physical  []float64
}

// Store is an append-only, capacity-bounded time series. Insertion
// order is time order; pruning never reorders.
type Store struct {
	mu     sync.Mutex
	policy Policy
	points []DataPoint
}

// New allocates an empty store with the given retention policy.
func New(policy Policy) *Store {
	return &Store{policy: policy}
}

// SetPolicy switches the retention policy. Takes effect from the next
// append; the session clears the store at recording boundaries anyway.
func (s *Store) SetPolicy(policy Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = policy
}

// Append adds a point at the tail and prunes if the cap is exceeded.
func (s *Store) Append(p DataPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.points = append(s.points, p)
	if len(s.points) <= Capacity {
		return
	}

	switch s.policy {
	case PolicyDecimate:
		s.decimate()
	default:
		s.points = s.points[len(s.points)-Capacity:]
	}
}

// decimate retains every stride-th point, stride = ceil(len/Capacity),
// always keeping the last point so the series still spans the whole
// session. Caller must hold the mutex.
func (s *Store) decimate() {
	length := len(s.points)
	stride := (length + Capacity - 1) / Capacity

	kept := s.points[:0]
	for i, p := range s.points {
		if i%stride == 0 || i == length-1 {
			kept = append(kept, p)
		}
	}
	s.points = kept
}

// Len returns the number of retained points.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points)
}

// Points returns a copy of the retained series in timestamp order.
func (s *Store) Points() []DataPoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]DataPoint, len(s.points))
	copy(out, s.points)
	return out
}

// Clear empties the store. Called on connect, disconnect and at
// recording-session boundaries.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = s.points[:0]
}
