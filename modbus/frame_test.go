// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"bytes"
	"errors"
	"testing"
)

func TestBuildFrame_ValidateRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		{0x00},
		{0x00, 0x00, 0x00, 0x10},
		{0x04, 0x12, 0x34, 0xFF, 0xFF},
	}

	for _, payload := range payloads {
		frame := BuildFrame(0x01, FuncCodeReadInputRegisters, payload)

		got, err := ValidateAndStrip(frame)
		if err != nil {
			t.Fatalf("ValidateAndStrip(%X) failed: %v", frame, err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("payload mismatch.\nWant: %X\nGot:  %X", payload, got)
		}
	}
}

func TestValidateAndStrip_BitFlip(t *testing.T) {
	frame := BuildFrame(0x01, FuncCodeReadInputRegisters, []byte{0x00, 0x00, 0x00, 0x02})

	for i := range frame {
		for bit := 0; bit < 8; bit++ {
			corrupted := make([]byte, len(frame))
			copy(corrupted, frame)
			corrupted[i] ^= 1 << bit

			if _, err := ValidateAndStrip(corrupted); !errors.Is(err, ErrCRC) {
				t.Errorf("flip byte %d bit %d: expected ErrCRC, got %v", i, bit, err)
			}
		}
	}
}

func TestValidateAndStrip_TooShort(t *testing.T) {
	for _, raw := range [][]byte{nil, {0x01}, {0x01, 0x04}, {0x01, 0x04, 0x00}} {
		if _, err := ValidateAndStrip(raw); !errors.Is(err, ErrShortResponse) {
			t.Errorf("ValidateAndStrip(%X): expected ErrShortResponse, got %v", raw, err)
		}
	}
}

func TestDecodeInt16Sequence(t *testing.T) {
	payload := []byte{0x06, 0x12, 0x34, 0xFF, 0xFF, 0x80, 0x00}

	values, err := DecodeInt16Sequence(payload)
	if err != nil {
		t.Fatalf("DecodeInt16Sequence failed: %v", err)
	}
	want := []int16{0x1234, -1, -32768}
	if len(values) != len(want) {
		t.Fatalf("expected %d values, got %d", len(want), len(values))
	}
	for i := range want {
		if values[i] != want[i] {
			t.Errorf("value %d: expected %d, got %d", i, want[i], values[i])
		}
	}
}

func TestDecodeInt16Sequence_CountMismatch(t *testing.T) {
	// Byte count announces 4 bytes, only 2 follow.
	payload := []byte{0x04, 0x12, 0x34}

	if _, err := DecodeInt16Sequence(payload); !errors.Is(err, ErrShortResponse) {
		t.Errorf("expected ErrShortResponse, got %v", err)
	}
}

func TestDecodeFloat32Abcd(t *testing.T) {
	// 1.0f is 0x3F800000, split big-endian across two registers.
	payload := []byte{0x08, 0x3F, 0x80, 0x00, 0x00, 0xC0, 0x00, 0x00, 0x00}

	values, err := DecodeFloat32Abcd(payload)
	if err != nil {
		t.Fatalf("DecodeFloat32Abcd failed: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("expected 2 values, got %d", len(values))
	}
	if values[0] != 1.0 {
		t.Errorf("expected 1.0, got %v", values[0])
	}
	if values[1] != -2.0 {
		t.Errorf("expected -2.0, got %v", values[1])
	}
}

func TestDecodeFloat32Abcd_RaggedPayload(t *testing.T) {
	payload := []byte{0x06, 0x3F, 0x80, 0x00, 0x00, 0x00, 0x00}

	if _, err := DecodeFloat32Abcd(payload); !errors.Is(err, ErrShortResponse) {
		t.Errorf("expected ErrShortResponse, got %v", err)
	}
}

func TestBuildFrame_CRCByteOrder(t *testing.T) {
	// CRC of {0x02, 0x07} is 0x1241, transmitted low byte first.
	frame := BuildFrame(0x02, 0x07, nil)

	if frame[2] != 0x41 || frame[3] != 0x12 {
		t.Errorf("expected crc bytes 41 12, got %02X %02X", frame[2], frame[3])
	}
}
