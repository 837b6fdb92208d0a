// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ffutop/modbus-datalogger/internal/store"
)

func TestWriter_Format(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.tsv")

	w, err := NewWriter(path, 2)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	ts := time.Date(2026, 1, 2, 3, 4, 5, 678_000_000, time.UTC)
	err = w.Append(store.DataPoint{
		Timestamp: ts,
		Raw:       []int16{100, -200},
		Physical:  []float64{1, -0.5},
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %d lines", len(lines))
	}

	wantHeader := "timestamp\tai_raw_00\tai_raw_01\tai_phy_00\tai_phy_01"
	if lines[0] != wantHeader {
		t.Errorf("header mismatch.\nWant: %q\nGot:  %q", wantHeader, lines[0])
	}
	wantRow := "2026/01/02 03:04:05.678\t100\t-200\t1.000\t-0.500"
	if lines[1] != wantRow {
		t.Errorf("row mismatch.\nWant: %q\nGot:  %q", wantRow, lines[1])
	}
}

func TestWriter_RowPerPoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.tsv")

	w, err := NewWriter(path, 1)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	base := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		p := store.DataPoint{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Raw:       []int16{int16(i)},
			Physical:  []float64{float64(i)},
		}
		if err := w.Append(p); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	raw, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if len(lines) != 6 {
		t.Fatalf("expected 6 lines, got %d", len(lines))
	}
}
