// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package export

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/ffutop/modbus-datalogger/internal/store"
)

// LiveFile is a memory-mapped ring of the most recent samples.
// External tooling can follow an acquisition run by mapping the same
// file read-only, without touching this process.
//
// Layout:
// - Header: magic(4), version(2), channels(2), capacity(4), next(4),
//   count(4), reserved(4) = 24 bytes
// - Slots: capacity entries of [unixMilli(8), raw(2*channels),
//   physical(8*channels)]
// All fields little-endian.
type LiveFile struct {
	path     string
	file     *os.File
	data     mmap.MMap
	channels int
	capacity int
}

const (
	liveMagic   = 0x41494C56 // "AILV"
	liveVersion = 1

	liveHeaderSize = 24

	// LiveCapacity matches the in-memory store ceiling.
	LiveCapacity = store.Capacity
)

// OpenLive creates (or re-initializes) the live file for the given
// channel count and maps it.
func OpenLive(path string, channels int) (*LiveFile, error) {
	lf := &LiveFile{
		path:     path,
		channels: channels,
		capacity: LiveCapacity,
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open live file: %w", err)
	}
	lf.file = f

	size := int64(liveHeaderSize + lf.capacity*lf.slotSize())
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to resize live file: %w", err)
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	lf.data = data

	lf.writeHeader()
	return lf, lf.data.Flush()
}

func (lf *LiveFile) slotSize() int {
	return 8 + 2*lf.channels + 8*lf.channels
}

func (lf *LiveFile) writeHeader() {
	h := lf.data[:liveHeaderSize]
	binary.LittleEndian.PutUint32(h[0:], liveMagic)
	binary.LittleEndian.PutUint16(h[4:], liveVersion)
	binary.LittleEndian.PutUint16(h[6:], uint16(lf.channels))
	binary.LittleEndian.PutUint32(h[8:], uint32(lf.capacity))
	binary.LittleEndian.PutUint32(h[12:], 0) // next
	binary.LittleEndian.PutUint32(h[16:], 0) // count
}

// Append writes one sample into the ring and flushes, so the on-disk
// view stays current even if the process dies mid-run.
func (lf *LiveFile) Append(p store.DataPoint) error {
	if lf.data == nil {
		return fmt.Errorf("live file is not mapped")
	}

	h := lf.data[:liveHeaderSize]
	next := binary.LittleEndian.Uint32(h[12:])
	count := binary.LittleEndian.Uint32(h[16:])

	slot := lf.data[liveHeaderSize+int(next)*lf.slotSize():]
	binary.LittleEndian.PutUint64(slot[0:], uint64(p.Timestamp.UnixMilli()))
	off := 8
	for i := 0; i < lf.channels; i++ {
		var raw int16
		if i < len(p.Raw) {
			raw = p.Raw[i]
		}
		binary.LittleEndian.PutUint16(slot[off:], uint16(raw))
		off += 2
	}
	for i := 0; i < lf.channels; i++ {
		var phy float64
		if i < len(p.Physical) {
			phy = p.Physical[i]
		}
		binary.LittleEndian.PutUint64(slot[off:], math.Float64bits(phy))
		off += 8
	}

	next = (next + 1) % uint32(lf.capacity)
	if count < uint32(lf.capacity) {
		count++
	}
	binary.LittleEndian.PutUint32(h[12:], next)
	binary.LittleEndian.PutUint32(h[16:], count)

	return lf.data.Flush()
}

// Close unmaps and closes the file.
func (lf *LiveFile) Close() error {
	var err error
	if lf.data != nil {
		if e := lf.data.Unmap(); e != nil {
			err = e
		}
		lf.data = nil
	}
	if lf.file != nil {
		if e := lf.file.Close(); e != nil {
			err = e
		}
		lf.file = nil
	}
	return err
}
