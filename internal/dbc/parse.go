// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package dbc

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/tomtom215/cansentry/internal/logging"
	"github.com/tomtom215/cansentry/internal/models"
)

const (
	// extendedIDMask strips the extended-frame flag from DBC message IDs.
	extendedIDMask = 0x1FFFFFFF
	// pseudoMessageFlag marks Vector's VECTOR__INDEPENDENT_SIG_MSG
	// container, which is not a real frame.
	pseudoMessageFlag = 0x40000000

	maxLineSize = 1 << 20
)

// LoadFile parses the message-definition file at path.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("open message definitions: %w", err)
	}
	defer f.Close()

	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	logging.Info().
		Str("path", path).
		Int("messages", t.Len()).
		Int("warnings", len(t.warnings)).
		Msg("Message definitions loaded")
	return t, nil
}

// Parse reads message definitions. Only BO_ and SG_ lines are interpreted;
// everything else is ignored. Malformed BO_/SG_ lines are skipped and
// recorded in Warnings. Only read errors are returned.
func Parse(r io.Reader) (*Table, error) {
	p := parser{table: newTable()}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		p.line++
		p.handle(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read line %d: %w", p.line+1, err)
	}
	return p.table, nil
}

type parser struct {
	table   *Table
	line    int
	current *MessageDef
	// skipping is set while the signals of a rejected message are read.
	skipping bool
}

func (p *parser) warn(format string, args ...interface{}) {
	w := Warning{Line: p.line, Reason: fmt.Sprintf(format, args...)}
	p.table.warnings = append(p.table.warnings, w)
	logging.Debug().Int("line", w.Line).Str("reason", w.Reason).Msg("Skipping message definition line")
}

func (p *parser) handle(raw string) {
	line := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(line, "BO_ "):
		p.message(line)
	case strings.HasPrefix(line, "SG_ "):
		p.signal(line)
	case line == "":
		// A blank line ends the current message block.
		p.current = nil
		p.skipping = false
	}
}

// message handles: BO_ <id> <name>: <dlc> <sender>
func (p *parser) message(line string) {
	p.current = nil
	p.skipping = true

	fields := strings.Fields(line)
	if len(fields) < 4 {
		p.warn("message: expected 'BO_ <id> <name>: <dlc> <sender>'")
		return
	}

	rawID, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		p.warn("message: invalid id %q", fields[1])
		return
	}
	if rawID&pseudoMessageFlag != 0 {
		return
	}
	id := uint32(rawID) & extendedIDMask

	name := strings.TrimSuffix(fields[2], ":")
	rest := fields[3:]
	if name == fields[2] {
		// "<name> : <dlc>" spelling
		if rest[0] != ":" || len(rest) < 2 {
			p.warn("message %d: missing ':' after name", id)
			return
		}
		rest = rest[1:]
	}

	dlc, err := strconv.Atoi(rest[0])
	if err != nil || dlc < 0 || dlc > models.MaxPayload {
		p.warn("message %d: invalid dlc %q", id, rest[0])
		return
	}
	if id > models.MaxSignalFrameID {
		p.warn("message %d: id outside the signal id domain", id)
		return
	}
	if _, dup := p.table.messages.Lookup(id); dup {
		p.warn("message %d: duplicate definition ignored", id)
		return
	}

	msg := &MessageDef{FrameID: id, Name: name, DLC: dlc}
	if len(rest) > 1 {
		msg.Sender = rest[1]
	}
	p.table.messages.Insert(id, msg)
	p.table.order = append(p.table.order, id)
	p.current = msg
	p.skipping = false
}

// signal handles: SG_ <name> [mux] : <start>|<length>@<order><sign> (f,o) [min|max] "unit" rx
func (p *parser) signal(line string) {
	if p.current == nil {
		if !p.skipping {
			p.warn("signal outside a message block")
		}
		return
	}

	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		p.warn("signal: missing ':'")
		return
	}
	head := strings.Fields(line[:colon])
	if len(head) < 2 {
		p.warn("signal: missing name")
		return
	}
	name := head[1]

	tail := strings.Fields(line[colon+1:])
	if len(tail) == 0 {
		p.warn("signal %s: missing bit layout", name)
		return
	}
	start, length, order, ok := parseLayout(tail[0])
	if !ok {
		p.warn("signal %s: invalid bit layout %q", name, tail[0])
		return
	}
	shift, ok := geometry(start, length, order)
	if !ok {
		p.warn("signal %s: layout %d|%d does not fit a 64-bit payload", name, start, length)
		return
	}

	p.current.Signals = append(p.current.Signals, SignalDef{
		ID:        models.EncodeSignalID(p.current.FrameID, uint8(start), uint8(length)),
		Name:      name,
		StartBit:  uint8(start),
		Length:    uint8(length),
		ByteOrder: order,
		Shift:     shift,
		Mask:      mask(uint8(length)),
	})
}

// parseLayout parses "<start>|<length>@<order><sign>".
func parseLayout(s string) (start, length int, order ByteOrder, ok bool) {
	pipe := strings.IndexByte(s, '|')
	at := strings.IndexByte(s, '@')
	if pipe < 0 || at < pipe || at+1 >= len(s) {
		return 0, 0, 0, false
	}

	start, err := strconv.Atoi(s[:pipe])
	if err != nil {
		return 0, 0, 0, false
	}
	length, err = strconv.Atoi(s[pipe+1 : at])
	if err != nil {
		return 0, 0, 0, false
	}

	switch s[at+1] {
	case '0':
		order = BigEndian
	case '1':
		order = LittleEndian
	default:
		return 0, 0, 0, false
	}
	return start, length, order, true
}
