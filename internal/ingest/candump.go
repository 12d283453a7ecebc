// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package ingest

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tomtom215/cansentry/internal/logging"
	"github.com/tomtom215/cansentry/internal/metrics"
	"github.com/tomtom215/cansentry/internal/models"
)

// CandumpSource reads `candump -l` style logs:
//
//	(1000000000.000002) can0 522#DF7FD0007F08001C 0
//
// The optional trailing column is a ground-truth label.
type CandumpSource struct {
	name    string
	r       io.Reader
	scanner *bufio.Scanner
	line    int
	skipped int
}

// NewCandumpSource reads frames from r. If r is an io.Closer it is closed by
// Close.
func NewCandumpSource(r io.Reader, name string) *CandumpSource {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 256), 64*1024)
	return &CandumpSource{name: name, r: r, scanner: s}
}

// Name returns the source name.
func (c *CandumpSource) Name() string { return c.name }

// Skipped returns the number of malformed lines skipped so far.
func (c *CandumpSource) Skipped() int { return c.skipped }

// Next returns the next well-formed frame.
func (c *CandumpSource) Next(ctx context.Context) (*Record, error) {
	for c.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.line++
		text := strings.TrimSpace(c.scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		rec, err := ParseCandumpLine(text)
		if err != nil {
			c.skipped++
			metrics.RecordIngestError(KindCandump, "malformed_line")
			logging.Debug().Err(err).Str("source", c.name).Int("line", c.line).Msg("Skipping frame line")
			continue
		}
		return rec, nil
	}
	if err := c.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", c.name, err)
	}
	return nil, io.EOF
}

// Close closes the underlying reader when it supports it.
func (c *CandumpSource) Close() error {
	if closer, ok := c.r.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// ParseCandumpLine parses one log line.
func ParseCandumpLine(line string) (*Record, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return nil, fmt.Errorf("%w: expected timestamp, interface and frame", ErrMalformedLine)
	}

	tsField := fields[0]
	if len(tsField) < 3 || tsField[0] != '(' || tsField[len(tsField)-1] != ')' {
		return nil, fmt.Errorf("%w: bad timestamp %q", ErrMalformedLine, tsField)
	}
	ts, err := strconv.ParseFloat(tsField[1:len(tsField)-1], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp %q", ErrMalformedLine, tsField)
	}

	rec := &Record{}
	if err := parseFrame(fields[2], &rec.Frame); err != nil {
		return nil, err
	}
	rec.Frame.Timestamp = ts
	if len(fields) > 3 {
		rec.Label = ParseLabel(fields[3])
	}
	return rec, nil
}

// parseFrame parses `ID#HEX`. Remote frames (`ID#R`) carry no payload.
func parseFrame(s string, f *models.LiveFrame) error {
	idPart, dataPart, ok := strings.Cut(s, "#")
	if !ok || idPart == "" {
		return fmt.Errorf("%w: missing '#' in %q", ErrMalformedLine, s)
	}
	if strings.HasPrefix(dataPart, "#") {
		return fmt.Errorf("%w: CAN FD frame %q", ErrMalformedLine, s)
	}

	id, err := strconv.ParseUint(idPart, 16, 32)
	if err != nil || id > 0x1FFFFFFF {
		return fmt.Errorf("%w: bad identifier %q", ErrMalformedLine, idPart)
	}
	f.ID = uint32(id)

	if strings.HasPrefix(strings.ToUpper(dataPart), "R") {
		f.DLC = 0
		return nil
	}
	data := strings.ReplaceAll(dataPart, ".", "")
	if len(data)%2 != 0 {
		return fmt.Errorf("%w: odd payload length in %q", ErrMalformedLine, s)
	}
	if len(data)/2 > models.MaxPayload {
		return fmt.Errorf("%w: payload longer than %d bytes", ErrMalformedLine, models.MaxPayload)
	}
	n, err := hex.Decode(f.Data[:], []byte(data))
	if err != nil {
		return fmt.Errorf("%w: bad payload %q", ErrMalformedLine, dataPart)
	}
	f.DLC = n
	return nil
}
