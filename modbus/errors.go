// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an operation is attempted
	// without an open channel. Recoverable by reconnecting.
	ErrNotConnected = errors.New("modbus: not connected")

	// ErrTimeout is returned when no response bytes arrive within the
	// exchange timeout.
	ErrTimeout = errors.New("modbus: request timed out")

	// ErrCRC is returned when the response checksum does not match.
	ErrCRC = errors.New("modbus: response crc mismatch")

	// ErrShortResponse is returned when the response carries fewer
	// bytes than needed to validate it.
	ErrShortResponse = errors.New("modbus: short response")

	// ErrPrecondition is returned when a request is rejected before
	// any I/O takes place. This is a caller bug, not a device fault.
	ErrPrecondition = errors.New("modbus: precondition violated")
)

// ExceptionError is a well-formed slave reply with the exception bit
// set on the function code.
type ExceptionError struct {
	FunctionCode  byte
	ExceptionCode byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus: exception '%d' on function '%d'", e.ExceptionCode, e.FunctionCode)
}
