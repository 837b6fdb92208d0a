// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package serial implements transport.Channel on a native serial
// port.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	gridserial "github.com/grid-x/serial"

	"github.com/ffutop/modbus-datalogger/internal/config"
	"github.com/ffutop/modbus-datalogger/transport"
)

// sliceTimeout bounds a single port read so the assembly loop can
// check its deadline between slices.
const sliceTimeout = 50 * time.Millisecond

// Channel drives one serial port.
type Channel struct {
	// Serial port configuration.
	gridserial.Config

	mu sync.Mutex
	// port is platform-dependent data structure for serial port.
	port io.ReadWriteCloser
}

// New allocates a serial channel from the given settings. The port is
// not touched until Open.
func New(cfg config.SerialConfig) *Channel {
	ch := &Channel{}
	ch.Config.Address = cfg.Device
	ch.Config.BaudRate = cfg.BaudRate
	ch.Config.DataBits = cfg.DataBits
	ch.Config.StopBits = cfg.StopBits
	ch.Config.Parity = cfg.Parity
	ch.Config.Timeout = sliceTimeout
	return ch
}

// Open opens the serial port with the configured line parameters.
func (ch *Channel) Open(ctx context.Context) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if ch.port != nil {
		return nil
	}
	port, err := gridserial.Open(&ch.Config)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", ch.Config.Address, err)
	}
	ch.port = port
	return nil
}

// Close closes the serial port. An outstanding read unblocks with an
// error.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.port == nil {
		return nil
	}
	err := ch.port.Close()
	ch.port = nil
	return err
}

// WriteBytes transmits p in full.
func (ch *Channel) WriteBytes(ctx context.Context, p []byte) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if ch.port == nil {
		return transport.ErrNotOpen
	}
	n, err := ch.port.Write(p)
	if err != nil {
		return err
	}
	if n < len(p) {
		return io.ErrShortWrite
	}
	return nil
}

// ReadBytes assembles n bytes within timeout. The port read timeout
// slices the wait so the deadline and the context are honored even
// while the line stays silent.
func (ch *Channel) ReadBytes(ctx context.Context, n int, timeout time.Duration) ([]byte, error) {
	ch.mu.Lock()
	port := ch.port
	ch.mu.Unlock()

	if port == nil {
		return nil, transport.ErrNotOpen
	}

	deadline := time.Now().Add(timeout)
	data := make([]byte, 0, n)
	buf := make([]byte, n)

	for len(data) < n {
		select {
		case <-ctx.Done():
			return data, ctx.Err()
		default:
		}

		m, err := port.Read(buf[:n-len(data)])
		data = append(data, buf[:m]...)
		if err != nil && !errors.Is(err, gridserial.ErrTimeout) {
			return data, fmt.Errorf("serial read failed: %w", err)
		}
		if len(data) < n && time.Now().After(deadline) {
			return data, transport.ErrReadTimeout
		}
	}
	return data, nil
}
