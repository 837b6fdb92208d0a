// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package export

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ffutop/modbus-datalogger/internal/store"
)

func TestLiveFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.bin")

	lf, err := OpenLive(path, 2)
	if err != nil {
		t.Fatalf("OpenLive failed: %v", err)
	}

	ts := time.Date(2026, 3, 4, 5, 6, 7, 800_000_000, time.UTC)
	err = lf.Append(store.DataPoint{
		Timestamp: ts,
		Raw:       []int16{42, -7},
		Physical:  []float64{4.2, -0.7},
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := lf.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}

	if got := binary.LittleEndian.Uint32(raw[0:]); got != liveMagic {
		t.Fatalf("bad magic %08X", got)
	}
	if got := binary.LittleEndian.Uint16(raw[6:]); got != 2 {
		t.Errorf("channels = %d, expected 2", got)
	}
	if got := binary.LittleEndian.Uint32(raw[12:]); got != 1 {
		t.Errorf("next = %d, expected 1", got)
	}
	if got := binary.LittleEndian.Uint32(raw[16:]); got != 1 {
		t.Errorf("count = %d, expected 1", got)
	}

	slot := raw[liveHeaderSize:]
	if got := int64(binary.LittleEndian.Uint64(slot[0:])); got != ts.UnixMilli() {
		t.Errorf("timestamp = %d, expected %d", got, ts.UnixMilli())
	}
	if got := int16(binary.LittleEndian.Uint16(slot[8:])); got != 42 {
		t.Errorf("raw[0] = %d, expected 42", got)
	}
	if got := int16(binary.LittleEndian.Uint16(slot[10:])); got != -7 {
		t.Errorf("raw[1] = %d, expected -7", got)
	}
	if got := math.Float64frombits(binary.LittleEndian.Uint64(slot[12:])); got != 4.2 {
		t.Errorf("physical[0] = %v, expected 4.2", got)
	}
}

func TestLiveFile_RingWraps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.bin")

	lf, err := OpenLive(path, 1)
	if err != nil {
		t.Fatalf("OpenLive failed: %v", err)
	}
	defer lf.Close()

	base := time.Now()
	for i := 0; i < LiveCapacity+3; i++ {
		p := store.DataPoint{
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
			Raw:       []int16{int16(i % 1000)},
			Physical:  []float64{float64(i)},
		}
		if err := lf.Append(p); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	h := lf.data[:liveHeaderSize]
	if got := binary.LittleEndian.Uint32(h[12:]); got != 3 {
		t.Errorf("next = %d, expected wrap to 3", got)
	}
	if got := binary.LittleEndian.Uint32(h[16:]); got != LiveCapacity {
		t.Errorf("count = %d, expected saturation at %d", got, LiveCapacity)
	}
}
