// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package ingest

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"time"

	"go.bug.st/serial"

	"github.com/tomtom215/cansentry/internal/logging"
	"github.com/tomtom215/cansentry/internal/metrics"
	"github.com/tomtom215/cansentry/internal/models"
)

// SerialConfig describes an SLCAN adapter.
type SerialConfig struct {
	BaudRate int `koanf:"baud_rate" json:"baud_rate" validate:"gte=0"`
	// Bitrate is the CAN bus bitrate in bit/s.
	Bitrate int `koanf:"bitrate" json:"bitrate" validate:"omitempty,oneof=10000 20000 50000 100000 125000 250000 500000 800000 1000000"`
	// ReadTimeout bounds each port read so Next can observe cancellation.
	ReadTimeout time.Duration `koanf:"read_timeout" json:"read_timeout"`
}

var slcanBitrates = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// Normalize applies defaults and validates the configuration.
func (c SerialConfig) Normalize() (SerialConfig, error) {
	if c.BaudRate <= 0 {
		c.BaudRate = 115200
	}
	if c.Bitrate == 0 {
		c.Bitrate = 500000
	}
	if _, ok := slcanBitrates[c.Bitrate]; !ok {
		return c, fmt.Errorf("unsupported CAN bitrate %d", c.Bitrate)
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 100 * time.Millisecond
	}
	return c, nil
}

// Port is the part of a serial port the SLCAN source needs.
type Port interface {
	io.ReadWriteCloser
}

type readTimeouter interface {
	SetReadTimeout(time.Duration) error
}

// SLCANSource reads frames from a Lawicel SLCAN adapter. Frames carry the
// host receive time, relative to the moment the channel was opened.
type SLCANSource struct {
	name    string
	port    Port
	opened  time.Time
	now     func() time.Time
	buf     []byte
	chunk   []byte
	skipped int
}

// OpenSLCAN opens the serial device at path and starts the CAN channel.
func OpenSLCAN(path string, cfg SerialConfig) (*SLCANSource, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	src, err := NewSLCANSource(port, path, cfg)
	if err != nil {
		port.Close()
		return nil, err
	}
	return src, nil
}

// NewSLCANSource sets the bitrate and opens the channel on port.
func NewSLCANSource(port Port, name string, cfg SerialConfig) (*SLCANSource, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	if t, ok := port.(readTimeouter); ok {
		if err := t.SetReadTimeout(cfg.ReadTimeout); err != nil {
			return nil, fmt.Errorf("set read timeout: %w", err)
		}
	}

	// Close first in case the adapter was left open.
	cmd := []byte{'C', '\r', 'S', slcanBitrates[cfg.Bitrate], '\r', 'O', '\r'}
	if _, err := port.Write(cmd); err != nil {
		return nil, fmt.Errorf("initialise slcan channel: %w", err)
	}

	s := &SLCANSource{
		name:  name,
		port:  port,
		now:   time.Now,
		chunk: make([]byte, 256),
	}
	s.opened = s.now()
	logging.Info().Str("port", name).Int("bitrate", cfg.Bitrate).Msg("SLCAN channel open")
	return s, nil
}

// Name returns the port name.
func (s *SLCANSource) Name() string { return s.name }

// Skipped returns the number of unparseable messages.
func (s *SLCANSource) Skipped() int { return s.skipped }

// Next blocks until a data frame arrives, ctx is done or the port fails.
func (s *SLCANSource) Next(ctx context.Context) (*Record, error) {
	for {
		for {
			i := bytes.IndexAny(s.buf, "\r\a")
			if i < 0 {
				break
			}
			msg := s.buf[:i]
			s.buf = s.buf[i+1:]
			if len(msg) == 0 {
				continue
			}
			rec := &Record{}
			ok, err := parseSLCAN(msg, &rec.Frame)
			if err != nil {
				s.skipped++
				metrics.RecordIngestError(KindSLCAN, "malformed_line")
				logging.Debug().Err(err).Str("source", s.name).Msg("Skipping SLCAN message")
				continue
			}
			if !ok {
				continue
			}
			rec.Frame.Timestamp = s.now().Sub(s.opened).Seconds()
			return rec, nil
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := s.port.Read(s.chunk)
		if n > 0 {
			s.buf = append(s.buf, s.chunk[:n]...)
		}
		if err != nil {
			return nil, err
		}
	}
}

// Close closes the channel and the port.
func (s *SLCANSource) Close() error {
	_, _ = s.port.Write([]byte{'C', '\r'})
	return s.port.Close()
}

// parseSLCAN decodes one message without its terminator. It returns false
// for messages that are not data frames (acknowledgements, remote frames,
// status replies).
func parseSLCAN(msg []byte, f *models.LiveFrame) (bool, error) {
	var idLen int
	switch msg[0] {
	case 't':
		idLen = 3
	case 'T':
		idLen = 8
	case 'r', 'R', 'z', 'Z', 'F', 'V', 'v', 'N':
		return false, nil
	default:
		return false, fmt.Errorf("%w: unknown SLCAN command %q", ErrMalformedLine, msg[0])
	}

	if len(msg) < 1+idLen+1 {
		return false, fmt.Errorf("%w: short SLCAN frame %q", ErrMalformedLine, msg)
	}
	id, err := strconv.ParseUint(string(msg[1:1+idLen]), 16, 32)
	if err != nil || id > canEFFMask {
		return false, fmt.Errorf("%w: bad SLCAN identifier %q", ErrMalformedLine, msg[1:1+idLen])
	}
	dlc := int(msg[1+idLen] - '0')
	if dlc < 0 || dlc > models.MaxPayload {
		return false, fmt.Errorf("%w: bad SLCAN length %q", ErrMalformedLine, msg[1+idLen])
	}
	data := msg[2+idLen:]
	// Adapters with timestamps enabled append four hex digits.
	if len(data) != dlc*2 && len(data) != dlc*2+4 {
		return false, fmt.Errorf("%w: SLCAN payload does not match length %d", ErrMalformedLine, dlc)
	}
	if _, err := hex.Decode(f.Data[:dlc], data[:dlc*2]); err != nil {
		return false, fmt.Errorf("%w: bad SLCAN payload", ErrMalformedLine)
	}
	f.ID = uint32(id)
	f.DLC = dlc
	return true, nil
}
