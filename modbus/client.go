// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ffutop/modbus-datalogger/transport"
)

// DefaultExchangeTimeout bounds one write-then-read round trip.
const DefaultExchangeTimeout = 1000 * time.Millisecond

// Client is a Modbus RTU master bound to one slave on one channel.
//
// Exactly one exchange may be in flight per Client. The polling
// scheduler is the sole caller during acquisition and serializes
// operations by construction, so the client holds no lock of its own.
type Client struct {
	SlaveID byte

	// Timeout is the per-exchange response timeout. Zero means
	// DefaultExchangeTimeout.
	Timeout time.Duration

	channel transport.Channel
}

// NewClient allocates a Client owning the given channel.
func NewClient(channel transport.Channel, slaveID byte) *Client {
	return &Client{
		SlaveID: slaveID,
		Timeout: DefaultExchangeTimeout,
		channel: channel,
	}
}

// ReadInputRegisters reads count input registers starting at
// startAddress (function 0x04) and decodes them as signed 16-bit
// values.
func (c *Client) ReadInputRegisters(ctx context.Context, startAddress uint16, count int) ([]int16, error) {
	if count < 1 || count > MaxReadCount {
		return nil, fmt.Errorf("%w: register count '%v' must be within [1, %v]", ErrPrecondition, count, MaxReadCount)
	}

	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:], startAddress)
	binary.BigEndian.PutUint16(payload[2:], uint16(count))

	resp, err := c.exchange(ctx, FuncCodeReadInputRegisters, payload, 5+count*2)
	if err != nil {
		return nil, err
	}
	return DecodeInt16Sequence(resp)
}

// ReadInputRegistersFloat32 reads count float values, each assembled
// from two consecutive input registers in ABCD byte order. On the
// wire this is a 0x04 request for count*2 registers.
func (c *Client) ReadInputRegistersFloat32(ctx context.Context, startAddress uint16, count int) ([]float32, error) {
	if count < 1 || count*2 > MaxReadCount {
		return nil, fmt.Errorf("%w: float count '%v' must be within [1, %v]", ErrPrecondition, count, MaxReadCount/2)
	}

	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:], startAddress)
	binary.BigEndian.PutUint16(payload[2:], uint16(count*2))

	resp, err := c.exchange(ctx, FuncCodeReadInputRegisters, payload, 5+count*4)
	if err != nil {
		return nil, err
	}
	return DecodeFloat32Abcd(resp)
}

// WriteSingleRegister writes one holding register (function 0x06).
// The slave echoes the request; the echo is validated like any other
// response.
func (c *Client) WriteSingleRegister(ctx context.Context, address, value uint16) error {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:], address)
	binary.BigEndian.PutUint16(payload[2:], value)

	_, err := c.exchange(ctx, FuncCodeWriteSingleRegister, payload, 8)
	return err
}

// WriteMultipleRegisters writes values to consecutive holding
// registers starting at startAddress (function 0x10). Empty or
// oversized value sets are rejected before any I/O.
func (c *Client) WriteMultipleRegisters(ctx context.Context, startAddress uint16, values []uint16) error {
	if len(values) == 0 || len(values) > MaxWriteCount {
		return fmt.Errorf("%w: register count '%v' must be within [1, %v]", ErrPrecondition, len(values), MaxWriteCount)
	}

	payload := make([]byte, 5+len(values)*2)
	binary.BigEndian.PutUint16(payload[0:], startAddress)
	binary.BigEndian.PutUint16(payload[2:], uint16(len(values)))
	payload[4] = byte(len(values) * 2)
	for i, v := range values {
		binary.BigEndian.PutUint16(payload[5+2*i:], v)
	}

	_, err := c.exchange(ctx, FuncCodeWriteMultipleRegisters, payload, 8)
	return err
}

// exchange performs one write-then-read round trip and returns the
// validated payload region of the response. Every exchange hits the
// wire; there is no buffering or pipelining across calls.
func (c *Client) exchange(ctx context.Context, functionCode byte, payload []byte, bytesToRead int) ([]byte, error) {
	if c.channel == nil {
		return nil, ErrNotConnected
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultExchangeTimeout
	}

	frame := BuildFrame(c.SlaveID, functionCode, payload)
	if err := c.channel.WriteBytes(ctx, frame); err != nil {
		if errors.Is(err, transport.ErrNotOpen) {
			return nil, ErrNotConnected
		}
		return nil, fmt.Errorf("modbus: write failed: %w", err)
	}

	raw, err := c.channel.ReadBytes(ctx, bytesToRead, timeout)
	if err != nil {
		if !errors.Is(err, transport.ErrReadTimeout) {
			if errors.Is(err, transport.ErrNotOpen) {
				return nil, ErrNotConnected
			}
			return nil, fmt.Errorf("modbus: read failed: %w", err)
		}
		// The window elapsed. Nothing at all is a timeout; a partial
		// answer may still be a complete exception frame, anything
		// else is a short response.
		switch {
		case len(raw) == 0:
			return nil, ErrTimeout
		case len(raw) == ExceptionSize && raw[1] == functionCode|0x80:
			return nil, c.decodeException(raw)
		default:
			return nil, fmt.Errorf("%w: got '%v' of '%v' bytes", ErrShortResponse, len(raw), bytesToRead)
		}
	}

	if raw[0] != c.SlaveID {
		return nil, fmt.Errorf("%w: response slave id '%v' does not match request '%v'", ErrShortResponse, raw[0], c.SlaveID)
	}
	if raw[1] != functionCode {
		return nil, fmt.Errorf("modbus: response function '%v' does not match request '%v'", raw[1], functionCode)
	}
	return ValidateAndStrip(raw)
}

// decodeException validates a 5-byte exception frame. A corrupted one
// degrades to its CRC error.
func (c *Client) decodeException(raw []byte) error {
	if _, err := ValidateAndStrip(raw); err != nil {
		return err
	}
	return &ExceptionError{FunctionCode: raw[1] &^ 0x80, ExceptionCode: raw[2]}
}
