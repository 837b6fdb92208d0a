// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package calibration converts raw analog-input register values into
// physical units through per-channel quadratic coefficient sets.
package calibration

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// fileType is the discriminator a calibration file must carry.
const fileType = "Calibration"

// AiCalibration holds the coefficients for one analog-input channel:
//
//	physical = A*raw^2 + B*raw + C
type AiCalibration struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
	C float64 `json:"c"`
}

// Identity maps raw values to themselves (A=0, B=1, C=0).
func Identity() AiCalibration {
	return AiCalibration{A: 0, B: 1, C: 0}
}

// Apply evaluates the polynomial. Total over the full float range; no
// input is rejected.
func (c AiCalibration) Apply(raw float64) float64 {
	return c.A*raw*raw + c.B*raw + c.C
}

// LoadOrDefault builds the per-channel calibration slice. Channels
// present in persisted are taken from there, the rest fall back to
// identity. Never fails; degradation is per channel, not wholesale.
func LoadOrDefault(channelCount int, persisted map[int]AiCalibration) []AiCalibration {
	cals := make([]AiCalibration, channelCount)
	for i := range cals {
		if c, ok := persisted[i]; ok {
			cals[i] = c
		} else {
			cals[i] = Identity()
		}
	}
	return cals
}

// LoadFile reads a calibration interchange file:
//
//	{"type": "Calibration", "00": {"a":0,"b":1,"c":0}, "01": {...}}
//
// A file without the discriminator is rejected. Missing or malformed
// channel entries degrade to identity individually.
func LoadFile(path string, channelCount int) ([]AiCalibration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}
	return Parse(raw, channelCount)
}

// Parse decodes the interchange format from raw JSON bytes.
func Parse(raw []byte, channelCount int) ([]AiCalibration, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to parse calibration file: %w", err)
	}

	var typ string
	if err := json.Unmarshal(fields["type"], &typ); err != nil || typ != fileType {
		return nil, fmt.Errorf("calibration file type is not '%s'", fileType)
	}

	persisted := make(map[int]AiCalibration)
	for i := 0; i < channelCount; i++ {
		entry, ok := fields[channelKey(i)]
		if !ok {
			continue
		}
		var c AiCalibration
		if err := json.Unmarshal(entry, &c); err != nil {
			continue
		}
		persisted[i] = c
	}
	return LoadOrDefault(channelCount, persisted), nil
}

// SaveFile writes the interchange format with zero-padded two-digit
// channel keys.
func SaveFile(path string, cals []AiCalibration) error {
	fields := make(map[string]interface{}, len(cals)+1)
	fields["type"] = fileType
	for i, c := range cals {
		fields[channelKey(i)] = c
	}

	raw, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("failed to write calibration file: %w", err)
	}
	return nil
}

func channelKey(i int) string {
	return fmt.Sprintf("%02d", i)
}

// Health classifies how close a raw reading sits to the signed-16-bit
// saturation boundary. Independent of calibration.
type Health int

const (
	HealthNormal Health = iota
	HealthWarning
	HealthDanger
)

func (h Health) String() string {
	switch h {
	case HealthWarning:
		return "warning"
	case HealthDanger:
		return "danger"
	default:
		return "normal"
	}
}

// Classify returns the saturation health of one raw reading:
// danger at |raw|/32767 >= 0.9, warning at >= 0.8.
func Classify(raw int16) Health {
	ratio := math.Abs(float64(raw)) / 32767
	switch {
	case ratio >= 0.9:
		return HealthDanger
	case ratio >= 0.8:
		return HealthWarning
	default:
		return HealthNormal
	}
}
