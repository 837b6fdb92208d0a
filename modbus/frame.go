// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus implements the Modbus RTU framing and the master
// operations this datalogger uses: read input registers (0x04, plain
// and as float32 pairs), write single register (0x06) and write
// multiple holding registers (0x10).
package modbus

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ffutop/modbus-datalogger/modbus/crc"
)

const (
	MinSize = 4
	MaxSize = 256

	ExceptionSize = 5
)

// Function codes supported by this master.
const (
	FuncCodeReadInputRegisters     = 0x04
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleRegisters = 0x10
)

const (
	// MaxReadCount is the register count limit for one 0x04 request.
	MaxReadCount = 125
	// MaxWriteCount is the register count limit for one 0x10 request.
	MaxWriteCount = 123
)

// BuildFrame encodes an RTU frame:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Payload         : 0 up to 252 bytes
//	CRC             : 2 bytes, low byte first
//
// Inputs are caller-validated; the payload must fit in MaxSize.
func BuildFrame(slaveID, functionCode byte, payload []byte) []byte {
	length := len(payload) + 4
	raw := make([]byte, length)

	raw[0] = slaveID
	raw[1] = functionCode
	copy(raw[2:], payload)

	var c crc.CRC
	c.Reset().PushBytes(raw[0 : length-2])
	checksum := c.Value()

	raw[length-2] = byte(checksum)
	raw[length-1] = byte(checksum >> 8)
	return raw
}

// ValidateAndStrip verifies the trailing checksum of a received frame
// and returns the bytes between the function code and the CRC. A
// frame failing the check is rejected whole, never partially
// interpreted. Address and function-code echo checking is left to the
// caller, which knows what it sent.
func ValidateAndStrip(raw []byte) ([]byte, error) {
	length := len(raw)
	if length < MinSize {
		return nil, fmt.Errorf("%w: length '%v' does not meet minimum '%v'", ErrShortResponse, length, MinSize)
	}

	var c crc.CRC
	c.Reset().PushBytes(raw[0 : length-2])
	checksum := uint16(raw[length-1])<<8 | uint16(raw[length-2])
	if checksum != c.Value() {
		return nil, fmt.Errorf("%w: received '%04X', expected '%04X'", ErrCRC, checksum, c.Value())
	}
	return raw[2 : length-2], nil
}

// DecodeInt16Sequence decodes a length-prefixed register payload into
// signed 16-bit values. Byte 0 is the byte count announced by the
// slave; each following big-endian pair is one register.
func DecodeInt16Sequence(payload []byte) ([]int16, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("%w: missing byte count", ErrShortResponse)
	}
	byteCount := int(payload[0])
	if byteCount%2 != 0 || len(payload)-1 != byteCount {
		return nil, fmt.Errorf("%w: byte count '%v' does not match payload '%v'", ErrShortResponse, byteCount, len(payload)-1)
	}

	values := make([]int16, byteCount/2)
	for i := range values {
		values[i] = int16(binary.BigEndian.Uint16(payload[1+2*i:]))
	}
	return values, nil
}

// DecodeFloat32Abcd decodes a length-prefixed register payload as
// big-endian IEEE-754 floats, four bytes per value. Register N holds
// the high word, register N+1 the low word ("ABCD" order).
func DecodeFloat32Abcd(payload []byte) ([]float32, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("%w: missing byte count", ErrShortResponse)
	}
	byteCount := int(payload[0])
	if byteCount%4 != 0 || len(payload)-1 != byteCount {
		return nil, fmt.Errorf("%w: byte count '%v' is not a whole number of floats", ErrShortResponse, byteCount)
	}

	values := make([]float32, byteCount/4)
	for i := range values {
		bits := binary.BigEndian.Uint32(payload[1+4*i:])
		values[i] = math.Float32frombits(bits)
	}
	return values, nil
}
