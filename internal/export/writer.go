// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package export persists calibrated samples: a tab-separated log
// file for durable recording and a memory-mapped live file external
// viewers can follow.
package export

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/ffutop/modbus-datalogger/internal/store"
)

// timestampLayout is the row time format, millisecond resolution.
const timestampLayout = "2006/01/02 15:04:05.000"

// Writer appends samples to a tab-separated log file. Rows carry the
// timestamp, the raw register values verbatim and the physical values
// fixed to three decimals.
type Writer struct {
	file     *os.File
	w        *bufio.Writer
	channels int
}

// NewWriter creates (or truncates) the log file and writes the header
// row: timestamp, ai_raw_00..NN, ai_phy_00..NN.
func NewWriter(path string, channels int) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	w := &Writer{
		file:     f,
		w:        bufio.NewWriter(f),
		channels: channels,
	}
	if err := w.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) writeHeader() error {
	cols := make([]string, 0, 1+2*w.channels)
	cols = append(cols, "timestamp")
	for i := 0; i < w.channels; i++ {
		cols = append(cols, fmt.Sprintf("ai_raw_%02d", i))
	}
	for i := 0; i < w.channels; i++ {
		cols = append(cols, fmt.Sprintf("ai_phy_%02d", i))
	}
	_, err := w.w.WriteString(strings.Join(cols, "\t") + "\n")
	return err
}

// Append writes one sample row.
func (w *Writer) Append(p store.DataPoint) error {
	var b strings.Builder
	b.WriteString(p.Timestamp.Format(timestampLayout))
	for _, r := range p.Raw {
		fmt.Fprintf(&b, "\t%d", r)
	}
	for _, v := range p.Physical {
		fmt.Fprintf(&b, "\t%.3f", v)
	}
	b.WriteByte('\n')

	if _, err := w.w.WriteString(b.String()); err != nil {
		return fmt.Errorf("failed to append log row: %w", err)
	}
	return nil
}

// Close flushes and closes the log file.
func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
