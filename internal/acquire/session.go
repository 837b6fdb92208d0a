// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ffutop/modbus-datalogger/internal/calibration"
	"github.com/ffutop/modbus-datalogger/internal/config"
	"github.com/ffutop/modbus-datalogger/internal/export"
	"github.com/ffutop/modbus-datalogger/internal/store"
	"github.com/ffutop/modbus-datalogger/modbus"
	"github.com/ffutop/modbus-datalogger/transport"
	"github.com/ffutop/modbus-datalogger/transport/serial"
	"github.com/ffutop/modbus-datalogger/transport/usb"
)

var (
	ErrConnected    = errors.New("acquire: session already connected")
	ErrNotConnected = errors.New("acquire: session not connected")
)

// Session owns everything with a connect/disconnect lifetime: the
// channel, the Modbus client, the calibration set, the data store and
// the export sinks. There is no global state; a session is built at
// connect time and discarded at disconnect.
type Session struct {
	cfg *config.Config

	// preset, when non-nil, is used instead of building a channel
	// from the transport configuration.
	preset transport.Channel

	mu      sync.Mutex
	channel transport.Channel
	client  *modbus.Client
	sched   *Scheduler
	store   *store.Store
	live    *export.LiveFile
	rec     *export.Writer
}

// NewSession allocates a disconnected session for the given
// configuration.
func NewSession(cfg *config.Config) *Session {
	return &Session{
		cfg:   cfg,
		store: store.New(store.PolicyLatest),
	}
}

// NewSessionWithChannel allocates a session bound to a pre-built
// channel, bypassing transport selection. For embedders and tests
// that manage the channel themselves.
func NewSessionWithChannel(cfg *config.Config, ch transport.Channel) *Session {
	s := NewSession(cfg)
	s.preset = ch
	return s
}

// Connect opens the configured channel, loads the calibration set and
// starts polling. A failed connect leaves the session fully
// disconnected; no partial channel stays open.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel != nil {
		return ErrConnected
	}

	channel, err := s.buildChannel()
	if err != nil {
		return err
	}
	if err := channel.Open(ctx); err != nil {
		return err
	}

	client := modbus.NewClient(channel, byte(s.cfg.Poll.SlaveID))
	client.Timeout = s.cfg.Poll.Timeout

	cals := s.loadCalibrations()

	s.store.SetPolicy(store.PolicyLatest)
	s.store.Clear()

	if s.cfg.Export.Live != "" {
		live, err := export.OpenLive(s.cfg.Export.Live, s.cfg.Poll.Channels)
		if err != nil {
			slog.Warn("live export disabled", "err", err)
		} else {
			s.live = live
		}
	}

	sched := NewScheduler(client, uint16(s.cfg.Poll.StartAddress), s.cfg.Poll.Channels, cals, s.store, s.handleSample)
	if err := sched.Start(s.cfg.Poll.Period); err != nil {
		if s.live != nil {
			s.live.Close()
			s.live = nil
		}
		channel.Close()
		return err
	}

	s.channel = channel
	s.client = client
	s.sched = sched
	slog.Info("session connected", "transport", s.cfg.Transport.Type, "period", s.cfg.Poll.Period, "channels", s.cfg.Poll.Channels)
	return nil
}

func (s *Session) buildChannel() (transport.Channel, error) {
	if s.preset != nil {
		return s.preset, nil
	}
	switch s.cfg.Transport.Type {
	case "serial":
		return serial.New(s.cfg.Transport.Serial), nil
	case "usb":
		return usb.New(s.cfg.Transport.USB), nil
	default:
		return nil, fmt.Errorf("acquire: unknown transport type '%s'", s.cfg.Transport.Type)
	}
}

// loadCalibrations reads the persisted set if configured. Any failure
// degrades to identity defaults; acquisition still runs.
func (s *Session) loadCalibrations() []calibration.AiCalibration {
	channels := s.cfg.Poll.Channels
	if s.cfg.Calibration.File == "" {
		return calibration.LoadOrDefault(channels, nil)
	}

	cals, err := calibration.LoadFile(s.cfg.Calibration.File, channels)
	if err != nil {
		slog.Warn("calibration file rejected, using identity defaults", "file", s.cfg.Calibration.File, "err", err)
		return calibration.LoadOrDefault(channels, nil)
	}
	return cals
}

// handleSample fans each calibrated point out to the export sinks.
// The lock is held across the writes: StopRecording and Disconnect
// close the sinks under the same lock, so a row is never torn by a
// concurrent Close. Sink failures are logged and never disturb the
// schedule.
func (s *Session) handleSample(p store.DataPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live != nil {
		if err := s.live.Append(p); err != nil {
			slog.Error("live export append failed", "err", err)
		}
	}
	if s.rec != nil {
		if err := s.rec.Append(p); err != nil {
			slog.Error("log append failed", "err", err)
		}
	}
}

// StartRecording opens the durable log and switches the store to
// decimating retention. The store restarts empty: the recording
// session owns the whole series from here on.
func (s *Session) StartRecording(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel == nil {
		return ErrNotConnected
	}
	if s.rec != nil {
		return fmt.Errorf("acquire: already recording")
	}

	rec, err := export.NewWriter(path, s.cfg.Poll.Channels)
	if err != nil {
		return err
	}

	s.store.Clear()
	s.store.SetPolicy(store.PolicyDecimate)
	s.rec = rec
	slog.Info("recording started", "file", path)
	return nil
}

// StopRecording closes the durable log and returns the store to
// drop-oldest retention.
func (s *Session) StopRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec == nil {
		return nil
	}
	err := s.rec.Close()
	s.rec = nil
	s.store.SetPolicy(store.PolicyLatest)
	slog.Info("recording stopped")
	return err
}

// Disconnect stops polling, closes the export sinks and releases the
// channel. The store is emptied; the session can connect again.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	sched, channel := s.sched, s.channel
	s.mu.Unlock()

	if channel == nil {
		return nil
	}

	// Stop outside the lock: the poll goroutine takes the session
	// lock in handleSample.
	sched.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.rec != nil {
		if e := s.rec.Close(); e != nil {
			err = e
		}
		s.rec = nil
	}
	if s.live != nil {
		if e := s.live.Close(); e != nil {
			err = e
		}
		s.live = nil
	}
	if e := channel.Close(); e != nil {
		err = e
	}

	s.store.Clear()
	s.store.SetPolicy(store.PolicyLatest)
	s.channel = nil
	s.client = nil
	s.sched = nil
	slog.Info("session disconnected")
	return err
}

// Client exposes the Modbus client for configuration writes (function
// codes 0x06/0x10) while polling is paused.
func (s *Session) Client() *modbus.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Scheduler exposes the polling scheduler, nil while disconnected.
func (s *Session) Scheduler() *Scheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sched
}

// Store exposes the session time series.
func (s *Session) Store() *store.Store {
	return s.store
}
