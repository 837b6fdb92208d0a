// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package acquire drives periodic register polling and owns the
// acquisition session state.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/modbus-datalogger/internal/calibration"
	"github.com/ffutop/modbus-datalogger/internal/store"
)

// State is the scheduler lifecycle state.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateStopping
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateStopping:
		return "stopping"
	default:
		return "idle"
	}
}

var ErrNotIdle = errors.New("acquire: scheduler is not idle")

// RegisterReader is the single operation the scheduler drives. The
// Modbus client satisfies it.
type RegisterReader interface {
	ReadInputRegisters(ctx context.Context, startAddress uint16, count int) ([]int16, error)
}

// Scheduler polls one reader at a fixed period.
//
// Exchanges are strictly serialized: a tick that fires while the
// previous exchange is still outstanding is dropped, not queued, so
// the schedule never builds a backlog. Transport and protocol errors
// are surfaced as status and polling continues on the next tick.
type Scheduler struct {
	reader       RegisterReader
	startAddress uint16
	channels     int
	store        *store.Store

	// onSample receives each successful point after it is appended to
	// the store. Fixed at construction; may be nil.
	onSample func(store.DataPoint)

	mu       sync.Mutex
	state    State
	cals     []calibration.AiCalibration
	status   string
	onStatus func(string)

	cancel   context.CancelFunc
	done     chan struct{}
	reconfig chan time.Duration
}

// NewScheduler allocates an idle scheduler. cals must cover channels
// entries; missing entries behave as identity.
func NewScheduler(reader RegisterReader, startAddress uint16, channels int, cals []calibration.AiCalibration, st *store.Store, onSample func(store.DataPoint)) *Scheduler {
	return &Scheduler{
		reader:       reader,
		startAddress: startAddress,
		channels:     channels,
		store:        st,
		onSample:     onSample,
		cals:         cals,
		state:        StateIdle,
	}
}

// Start transitions Idle -> Polling and begins ticking at period.
func (s *Scheduler) Start(period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("acquire: invalid poll period %v", period)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return ErrNotIdle
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.reconfig = make(chan time.Duration, 1)
	s.state = StatePolling

	go s.run(ctx, period)
	return nil
}

// Stop transitions Polling -> Stopping, cancels the timer and any
// outstanding exchange wait, and returns once the loop has drained.
// A concurrent Stop that finds the scheduler already Stopping waits
// for the same drain, so every caller returns with no exchange in
// flight. The scheduler is Idle afterwards and can be started again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == StateStopping {
		done := s.done
		s.mu.Unlock()
		<-done
		return
	}
	if s.state != StatePolling {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
}

// SetPeriod replaces the tick period. While polling the timer is
// swapped atomically without dropping or duplicating ticks.
func (s *Scheduler) SetPeriod(period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("acquire: invalid poll period %v", period)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePolling {
		return nil
	}
	// Replace a pending reconfigure rather than queueing behind it.
	select {
	case <-s.reconfig:
	default:
	}
	s.reconfig <- period
	return nil
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the outcome of the most recent tick: empty after a
// success, the error text after a failure.
func (s *Scheduler) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// OnStatus installs a status listener, invoked on every change.
func (s *Scheduler) OnStatus(fn func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStatus = fn
}

// SetCalibration replaces the coefficients of one channel. Channels
// are independently mutable while polling runs.
func (s *Scheduler) SetCalibration(channel int, cal calibration.AiCalibration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if channel < 0 || channel >= len(s.cals) {
		return fmt.Errorf("acquire: channel %d out of range", channel)
	}
	s.cals[channel] = cal
	return nil
}

// Calibrations returns a copy of the per-channel coefficient sets.
func (s *Scheduler) Calibrations() []calibration.AiCalibration {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]calibration.AiCalibration, len(s.cals))
	copy(out, s.cals)
	return out
}

// run is the single polling goroutine. Exchanges happen inline, so
// tick n+1 cannot start before tick n's exchange has resolved.
func (s *Scheduler) run(ctx context.Context, period time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.reconfig:
			ticker.Reset(d)
		case <-ticker.C:
			s.poll(ctx)
			// Drop the tick that may have fired while the exchange
			// was outstanding.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

// poll performs one exchange and feeds the pipeline. Failures only
// touch the status; the store and the schedule stay intact.
func (s *Scheduler) poll(ctx context.Context) {
	raws, err := s.reader.ReadInputRegisters(ctx, s.startAddress, s.channels)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("poll failed", "err", err)
		s.setStatus(err.Error())
		return
	}

	s.mu.Lock()
	cals := make([]calibration.AiCalibration, len(s.cals))
	copy(cals, s.cals)
	s.mu.Unlock()

	physical := make([]float64, len(raws))
	for i, raw := range raws {
		cal := calibration.Identity()
		if i < len(cals) {
			cal = cals[i]
		}
		physical[i] = cal.Apply(float64(raw))
	}

	point := store.DataPoint{
		Timestamp: time.Now(),
		Raw:       raws,
		Physical:  physical,
	}
	s.store.Append(point)
	if s.onSample != nil {
		s.onSample(point)
	}
	s.setStatus("")
}

func (s *Scheduler) setStatus(status string) {
	s.mu.Lock()
	changed := s.status != status
	s.status = status
	onStatus := s.onStatus
	s.mu.Unlock()

	if changed && onStatus != nil {
		onStatus(status)
	}
}
