// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package transport defines the byte-stream capability the Modbus
// master drives. Two implementations exist: a native serial port
// (transport/serial) and a USB bulk-endpoint device (transport/usb).
// The layers above never branch on the channel kind.
package transport

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotOpen is returned for I/O on a channel that is not open.
	ErrNotOpen = errors.New("transport: channel not open")

	// ErrReadTimeout is returned by ReadBytes when the requested
	// length was not assembled within the timeout window. The partial
	// bytes read so far are returned alongside it.
	ErrReadTimeout = errors.New("transport: read timed out")
)

// Channel is a duplex byte-stream connection to one device.
//
// A Channel is exclusively owned by one Modbus client for its
// connected lifetime; callers serialize exchanges, the channel does
// not queue them.
type Channel interface {
	// Open establishes the connection. On failure no resources are
	// left behind and the channel stays fully closed.
	Open(ctx context.Context) error

	// WriteBytes transmits p in full.
	WriteBytes(ctx context.Context, p []byte) error

	// ReadBytes assembles exactly n bytes from the device. If the
	// timeout elapses first it returns whatever arrived together
	// with ErrReadTimeout, even if that is nothing at all.
	ReadBytes(ctx context.Context, n int, timeout time.Duration) ([]byte, error)

	// Close releases the connection. Closing unblocks an outstanding
	// read wait.
	Close() error
}
