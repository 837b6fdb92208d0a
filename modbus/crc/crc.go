// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package crc

// CRC accumulates the Modbus RTU checksum (polynomial 0xA001,
// initial value 0xFFFF). The value is transmitted low byte first.
type CRC struct {
	value uint16
}

// Reset initializes the accumulator. It must be called before the
// first PushBytes.
func (c *CRC) Reset() *CRC {
	c.value = 0xFFFF
	return c
}

// PushBytes folds bs into the running checksum.
func (c *CRC) PushBytes(bs []byte) *CRC {
	for _, b := range bs {
		c.value ^= uint16(b)
		for i := 0; i < 8; i++ {
			if c.value&1 != 0 {
				c.value = (c.value >> 1) ^ 0xA001
			} else {
				c.value >>= 1
			}
		}
	}
	return c
}

// Value returns the current checksum.
func (c *CRC) Value() uint16 {
	return c.value
}
