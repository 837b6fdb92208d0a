// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package usb implements transport.Channel on a pair of USB bulk
// endpoints. For CDC-ACM style converters the line parameters are
// pushed to the control interface on open (SET_LINE_CODING).
package usb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/ffutop/modbus-datalogger/internal/config"
	"github.com/ffutop/modbus-datalogger/transport"
)

// CDC class requests on the communications interface.
const (
	reqSetLineCoding       = 0x20
	reqSetControlLineState = 0x22

	controlLineDTR = 0x01
	controlLineRTS = 0x02
)

var ErrDeviceNotFound = errors.New("usb: device not found")

// Channel drives one USB device through bulk IN/OUT endpoints.
type Channel struct {
	cfg config.USBConfig

	mu     sync.Mutex
	usbCtx *gousb.Context
	dev    *gousb.Device
	devCfg *gousb.Config
	intf   *gousb.Interface
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
}

// New allocates a USB channel from the given settings. The bus is not
// touched until Open.
func New(cfg config.USBConfig) *Channel {
	return &Channel{cfg: cfg}
}

// Open locates the device by VID/PID, claims the bulk interface and,
// if configured, negotiates the serial line parameters. On any
// failure everything claimed so far is released again.
func (ch *Channel) Open(ctx context.Context) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if ch.in != nil {
		return nil
	}

	usbCtx := gousb.NewContext()
	dev, err := usbCtx.OpenDeviceWithVIDPID(gousb.ID(ch.cfg.VendorID), gousb.ID(ch.cfg.ProductID))
	if err != nil {
		usbCtx.Close()
		return fmt.Errorf("could not open usb device %04x:%04x: %w", ch.cfg.VendorID, ch.cfg.ProductID, err)
	}
	if dev == nil {
		usbCtx.Close()
		return fmt.Errorf("%w: %04x:%04x", ErrDeviceNotFound, ch.cfg.VendorID, ch.cfg.ProductID)
	}

	if err := ch.claim(usbCtx, dev); err != nil {
		dev.Close()
		usbCtx.Close()
		return err
	}

	if ch.cfg.NegotiateLine {
		if err := ch.setLineCoding(dev); err != nil {
			ch.release()
			return err
		}
	}
	return nil
}

// claim walks configuration -> interface -> endpoints. Caller cleans
// up dev and usbCtx on error.
func (ch *Channel) claim(usbCtx *gousb.Context, dev *gousb.Device) error {
	// Kernel serial drivers tend to hold CDC interfaces.
	if err := dev.SetAutoDetach(true); err != nil {
		return fmt.Errorf("usb: auto detach failed: %w", err)
	}

	cfgNum := ch.cfg.Configuration
	if cfgNum == 0 {
		cfgNum = 1
	}
	devCfg, err := dev.Config(cfgNum)
	if err != nil {
		return fmt.Errorf("usb: configuration %d unavailable: %w", cfgNum, err)
	}

	intf, err := devCfg.Interface(ch.cfg.Interface, ch.cfg.AltSetting)
	if err != nil {
		devCfg.Close()
		return fmt.Errorf("usb: could not claim interface %d: %w", ch.cfg.Interface, err)
	}

	in, err := intf.InEndpoint(ch.cfg.EndpointIn)
	if err != nil {
		intf.Close()
		devCfg.Close()
		return fmt.Errorf("usb: bulk-in endpoint %d: %w", ch.cfg.EndpointIn, err)
	}
	out, err := intf.OutEndpoint(ch.cfg.EndpointOut)
	if err != nil {
		intf.Close()
		devCfg.Close()
		return fmt.Errorf("usb: bulk-out endpoint %d: %w", ch.cfg.EndpointOut, err)
	}

	ch.usbCtx = usbCtx
	ch.dev = dev
	ch.devCfg = devCfg
	ch.intf = intf
	ch.in = in
	ch.out = out
	return nil
}

// setLineCoding sends the 7-byte CDC line coding block followed by
// DTR/RTS assertion:
//
//	dwDTERate   : 4 bytes, little endian
//	bCharFormat : 1 byte (0 = 1 stop bit, 2 = 2 stop bits)
//	bParityType : 1 byte (0 = none, 1 = odd, 2 = even)
//	bDataBits   : 1 byte (7 or 8)
func (ch *Channel) setLineCoding(dev *gousb.Device) error {
	line := ch.cfg.Line

	coding := make([]byte, 7)
	binary.LittleEndian.PutUint32(coding[0:], uint32(line.BaudRate))
	if line.StopBits == 2 {
		coding[4] = 2
	}
	switch line.Parity {
	case "O":
		coding[5] = 1
	case "E":
		coding[5] = 2
	}
	coding[6] = byte(line.DataBits)

	rType := uint8(gousb.ControlOut | gousb.ControlClass | gousb.ControlInterface)
	idx := uint16(ch.cfg.ControlInterface)

	if _, err := dev.Control(rType, reqSetLineCoding, 0, idx, coding); err != nil {
		return fmt.Errorf("usb: set line coding failed: %w", err)
	}
	if _, err := dev.Control(rType, reqSetControlLineState, controlLineDTR|controlLineRTS, idx, nil); err != nil {
		return fmt.Errorf("usb: set control line state failed: %w", err)
	}
	return nil
}

// Close releases the interface and the device. An outstanding read
// unblocks with an error.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.release()
	return nil
}

// release tears down in claim order. Caller must hold the mutex.
func (ch *Channel) release() {
	if ch.intf != nil {
		ch.intf.Close()
		ch.intf = nil
	}
	if ch.devCfg != nil {
		ch.devCfg.Close()
		ch.devCfg = nil
	}
	if ch.dev != nil {
		ch.dev.Close()
		ch.dev = nil
	}
	if ch.usbCtx != nil {
		ch.usbCtx.Close()
		ch.usbCtx = nil
	}
	ch.in = nil
	ch.out = nil
}

// WriteBytes transmits p in full over the bulk-out endpoint.
func (ch *Channel) WriteBytes(ctx context.Context, p []byte) error {
	ch.mu.Lock()
	out := ch.out
	ch.mu.Unlock()

	if out == nil {
		return transport.ErrNotOpen
	}
	n, err := out.WriteContext(ctx, p)
	if err != nil {
		return fmt.Errorf("usb write failed: %w", err)
	}
	if n < len(p) {
		return fmt.Errorf("usb write truncated: %d of %d bytes", n, len(p))
	}
	return nil
}

// ReadBytes assembles n bytes from the bulk-in endpoint within
// timeout. Bulk transfers complete in endpoint-sized chunks, so reads
// loop until the frame is whole or the window elapses.
func (ch *Channel) ReadBytes(ctx context.Context, n int, timeout time.Duration) ([]byte, error) {
	ch.mu.Lock()
	in := ch.in
	ch.mu.Unlock()

	if in == nil {
		return nil, transport.ErrNotOpen
	}

	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data := make([]byte, 0, n)
	buf := make([]byte, n)

	for len(data) < n {
		m, err := in.ReadContext(readCtx, buf[:n-len(data)])
		data = append(data, buf[:m]...)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return data, ctxErr
			}
			if errors.Is(err, context.DeadlineExceeded) || readCtx.Err() != nil {
				return data, transport.ErrReadTimeout
			}
			return data, fmt.Errorf("usb read failed: %w", err)
		}
	}
	return data, nil
}
