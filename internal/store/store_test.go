// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"testing"
	"time"
)

func fill(s *Store, n int) []DataPoint {
	base := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	points := make([]DataPoint, n)
	for i := 0; i < n; i++ {
		points[i] = DataPoint{
			Timestamp: base.Add(time.Duration(i) * 200 * time.Millisecond),
			Raw:       []int16{int16(i)},
			Physical:  []float64{float64(i)},
		}
		s.Append(points[i])
	}
	return points
}

func assertOrdered(t *testing.T, points []DataPoint) {
	t.Helper()
	for i := 1; i < len(points); i++ {
		if points[i].Timestamp.Before(points[i-1].Timestamp) {
			t.Fatalf("timestamps out of order at %d: %v before %v", i, points[i].Timestamp, points[i-1].Timestamp)
		}
	}
}

func TestStore_LatestPolicyKeepsMostRecent(t *testing.T) {
	s := New(PolicyLatest)
	original := fill(s, 600)

	points := s.Points()
	if len(points) != Capacity {
		t.Fatalf("expected %d points, got %d", Capacity, len(points))
	}
	// The most recent 512 in original order.
	for i, p := range points {
		want := original[600-Capacity+i]
		if p.Raw[0] != want.Raw[0] {
			t.Fatalf("point %d: expected raw %d, got %d", i, want.Raw[0], p.Raw[0])
		}
	}
	assertOrdered(t, points)
}

func TestStore_DecimatePolicyBoundsAndCoverage(t *testing.T) {
	for _, total := range []int{513, 600, 1024, 5000} {
		s := New(PolicyDecimate)
		original := fill(s, total)

		points := s.Points()
		if len(points) > Capacity {
			t.Fatalf("total %d: %d retained points exceed cap %d", total, len(points), Capacity)
		}
		if points[0].Timestamp != original[0].Timestamp {
			t.Errorf("total %d: first point lost", total)
		}
		if points[len(points)-1].Timestamp != original[total-1].Timestamp {
			t.Errorf("total %d: last point lost", total)
		}
		assertOrdered(t, points)
	}
}

func TestStore_UnderCapacityUntouched(t *testing.T) {
	for _, policy := range []Policy{PolicyLatest, PolicyDecimate} {
		s := New(policy)
		fill(s, Capacity)

		if s.Len() != Capacity {
			t.Errorf("policy %v: expected %d points, got %d", policy, Capacity, s.Len())
		}
		if s.Points()[0].Raw[0] != 0 {
			t.Errorf("policy %v: first point must survive at exactly the cap", policy)
		}
	}
}

func TestStore_AppendDuringBoundarySwitch(t *testing.T) {
	// Appends arrive from the polling goroutine while recording
	// boundaries clear the store and flip the policy from another.
	// Run with -race.
	s := New(PolicyLatest)

	done := make(chan struct{})
	go func() {
		defer close(done)
		base := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
		for i := 0; i < 2000; i++ {
			s.Append(DataPoint{
				Timestamp: base.Add(time.Duration(i) * time.Millisecond),
				Raw:       []int16{int16(i)},
				Physical:  []float64{float64(i)},
			})
		}
	}()

	for i := 0; i < 50; i++ {
		s.Clear()
		s.SetPolicy(PolicyDecimate)
		s.Points()
		s.SetPolicy(PolicyLatest)
	}
	<-done

	if s.Len() > Capacity {
		t.Fatalf("%d retained points exceed cap %d", s.Len(), Capacity)
	}
	assertOrdered(t, s.Points())
}

func TestStore_Clear(t *testing.T) {
	s := New(PolicyLatest)
	fill(s, 10)

	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("expected empty store, got %d points", s.Len())
	}

	fill(s, 3)
	if s.Len() != 3 {
		t.Fatalf("store unusable after clear: %d points", s.Len())
	}
}
