// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package dbc

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/tomtom215/cansentry/internal/models"
)

const sampleDBC = `VERSION ""

BU_: ECU1 ECU2

BO_ 526 ENGINE_DATA: 8 ECU1
 SG_ EngineSpeed : 13|12@0+ (1,0) [0|4095] "rpm" ECU2
 SG_ CoolantTemp : 28|14@0+ (1,0) [0|16383] "" ECU2
 SG_ Throttle : 46|10@0+ (1,0) [0|1023] "" ECU2
 SG_ Brake : 52|10@0+ (1,0) [0|1023] "" ECU2

BO_ 2147484672 EXT_MSG: 4 ECU2
 SG_ Counter m0 : 0|8@1+ (1,0) [0|255] "" ECU1
 SG_ Level : 8|16@1+ (1,0) [0|65535] "" ECU1

BO_TX_BU_ 526 : ECU1,ECU2;
CM_ SG_ 526 EngineSpeed "engine speed";
`

func parseString(t *testing.T, s string) *Table {
	t.Helper()
	table, err := Parse(strings.NewReader(s))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return table
}

// decodeFound decodes f and fails the test unless a definition matched and
// want signals came back.
func decodeFound(t *testing.T, table *Table, f *models.LiveFrame, want int) []models.DecodedSignal {
	t.Helper()
	signals, found := table.Decode(f, nil)
	if !found {
		t.Fatalf("Decode(%#x) used the fallback path", f.ID)
	}
	if len(signals) != want {
		t.Fatalf("Decode(%#x) returned %d signals, want %d", f.ID, len(signals), want)
	}
	return signals
}

func TestParse_Messages(t *testing.T) {
	table := parseString(t, sampleDBC)

	if table.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", table.Len())
	}
	if w := table.Warnings(); len(w) != 0 {
		t.Errorf("unexpected warnings: %v", w)
	}

	msg, ok := table.Lookup(0x20e)
	if !ok {
		t.Fatal("Lookup(0x20e) missed")
	}
	if msg.Name != "ENGINE_DATA" || msg.DLC != 8 || msg.Sender != "ECU1" {
		t.Errorf("message header = %q dlc=%d sender=%q", msg.Name, msg.DLC, msg.Sender)
	}
	if len(msg.Signals) != 4 {
		t.Fatalf("got %d signals, want 4", len(msg.Signals))
	}
	first := msg.Signals[0]
	if first.Name != "EngineSpeed" {
		t.Errorf("Signals[0].Name = %q, want EngineSpeed", first.Name)
	}
	if first.ID != models.SignalID(34475276) {
		t.Errorf("Signals[0].ID = %d, want 34475276", first.ID)
	}
	if first.Mask != 0xFFF {
		t.Errorf("Signals[0].Mask = %#x, want 0xfff", first.Mask)
	}

	// Extended-frame flag is masked off.
	ext, ok := table.Lookup(0x400)
	if !ok {
		t.Fatal("Lookup(0x400) missed")
	}
	if len(ext.Signals) != 2 {
		t.Fatalf("got %d extended signals, want 2", len(ext.Signals))
	}
	if ext.Signals[0].ByteOrder != LittleEndian {
		t.Errorf("ByteOrder = %v, want little endian", ext.Signals[0].ByteOrder)
	}

	names := []string{}
	for _, m := range table.Messages() {
		names = append(names, m.Name)
	}
	if want := []string{"ENGINE_DATA", "EXT_MSG"}; !slices.Equal(names, want) {
		t.Errorf("Messages() = %v, want %v", names, want)
	}
}

func TestDecode_LiteralVector(t *testing.T) {
	table := parseString(t, sampleDBC)

	frame := models.LiveFrame{
		ID:   0x20e,
		DLC:  8,
		Data: [8]byte{0x4E, 0x20, 0x03, 0xA0, 0xC6, 0x3F, 0x8F, 0xFF},
	}
	want := map[models.SignalID]float64{
		models.EncodeSignalID(0x20e, 13, 12): 2048,
		models.EncodeSignalID(0x20e, 28, 14): 396,
		models.EncodeSignalID(0x20e, 46, 10): 508,
		models.EncodeSignalID(0x20e, 52, 10): 511,
	}
	for _, s := range decodeFound(t, table, &frame, len(want)) {
		if s.Value != want[s.ID] {
			t.Errorf("signal %s = %v, want %v", s.ID, s.Value, want[s.ID])
		}
	}
}

func TestDecode_LittleEndian(t *testing.T) {
	table := parseString(t, sampleDBC)

	frame := models.LiveFrame{ID: 0x400, DLC: 4, Data: [8]byte{0x07, 0x34, 0x12, 0xAA}}
	signals := decodeFound(t, table, &frame, 2)
	if signals[0].Value != 7 {
		t.Errorf("Counter = %v, want 7", signals[0].Value)
	}
	if signals[1].Value != 0x1234 {
		t.Errorf("Level = %v, want %v", signals[1].Value, 0x1234)
	}
}

func TestDecode_ShortPayloadLeftAligned(t *testing.T) {
	table := parseString(t, "BO_ 256 SHORT: 2 ECU\n SG_ Hi : 7|8@0+ (1,0) [0|0] \"\" X\n SG_ Lo : 15|8@0+ (1,0) [0|0] \"\" X\n")

	// Garbage past the DLC must not leak into the decoded values.
	frame := models.LiveFrame{ID: 0x100, DLC: 2, Data: [8]byte{0xAB, 0xCD, 0xFF, 0xFF}}
	signals := decodeFound(t, table, &frame, 2)
	if signals[0].Value != 0xAB || signals[1].Value != 0xCD {
		t.Errorf("values = %v, %v; want 0xab, 0xcd", signals[0].Value, signals[1].Value)
	}
}

func TestDecode_Fallback(t *testing.T) {
	table := parseString(t, sampleDBC)

	frame := models.LiveFrame{ID: 0x123, DLC: 3, Data: [8]byte{1, 2, 3}}
	buf := make([]models.DecodedSignal, 0, 8)
	signals, found := table.Decode(&frame, buf)
	if found {
		t.Error("unknown ID should use the fallback path")
	}
	if len(signals) != 3 {
		t.Fatalf("got %d fallback signals, want 3", len(signals))
	}
	for i, s := range signals {
		if want := models.FallbackSignalID(0x123, i); s.ID != want {
			t.Errorf("byte %d: ID = %s, want %s", i, s.ID, want)
		}
		if s.Value != float64(i+1) {
			t.Errorf("byte %d: Value = %v, want %d", i, s.Value, i+1)
		}
	}
}

func TestParse_Warnings(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		messages int
		reason   string
	}{
		{"bad id", "BO_ abc M: 8 E\n", 0, "invalid id"},
		{"bad dlc", "BO_ 1 M: x E\n", 0, "invalid dlc"},
		{"dlc too large", "BO_ 1 M: 64 E\n", 0, "invalid dlc"},
		{"id outside domain", "BO_ 131072 M: 8 E\n", 0, "signal id domain"},
		{"duplicate", "BO_ 1 A: 8 E\nBO_ 1 B: 8 E\n", 1, "duplicate"},
		{"orphan signal", " SG_ S : 0|8@1+ (1,0) [0|0] \"\" E\n", 0, "outside a message"},
		{"bad layout", "BO_ 1 M: 8 E\n SG_ S : 0-8@1+\n", 1, "invalid bit layout"},
		{"oversized signal", "BO_ 1 M: 8 E\n SG_ S : 60|8@1+\n", 1, "does not fit"},
		{"too long", "BO_ 1 M: 8 E\n SG_ S : 0|40@1+\n", 1, "does not fit"},
		{"short message", "BO_ 1 M:\n", 0, "expected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := parseString(t, tt.input)
			if table.Len() != tt.messages {
				t.Errorf("Len() = %d, want %d", table.Len(), tt.messages)
			}
			warnings := table.Warnings()
			if len(warnings) == 0 {
				t.Fatal("expected a warning")
			}
			if !strings.Contains(warnings[0].Reason, tt.reason) {
				t.Errorf("warning %q does not mention %q", warnings[0].Reason, tt.reason)
			}
		})
	}
}

func TestParse_DuplicateKeepsFirst(t *testing.T) {
	table := parseString(t, "BO_ 1 FIRST: 8 E\n SG_ A : 7|8@0+\n\nBO_ 1 SECOND: 4 E\n SG_ B : 7|8@0+\n")

	msg, ok := table.Lookup(1)
	if !ok {
		t.Fatal("Lookup(1) missed")
	}
	if msg.Name != "FIRST" {
		t.Errorf("Name = %q, want FIRST", msg.Name)
	}
	if len(msg.Signals) != 1 || msg.Signals[0].Name != "A" {
		t.Errorf("signals = %+v, want only A", msg.Signals)
	}
}

func TestParse_PseudoMessageIgnored(t *testing.T) {
	table := parseString(t, "BO_ 3221225472 VECTOR__INDEPENDENT_SIG_MSG: 0 Vector__XXX\n SG_ Orphan : 0|8@1+\n")
	if table.Len() != 0 {
		t.Errorf("Len() = %d, want 0", table.Len())
	}
	if w := table.Warnings(); len(w) != 0 {
		t.Errorf("unexpected warnings: %v", w)
	}
}

func TestGeometry_MatchesReferenceWhenNibbleAligned(t *testing.T) {
	// For start%8 == 4 the sawtooth conversion reduces to 64-start-len+1.
	for _, start := range []int{4, 12, 20, 28, 36, 44, 52} {
		for _, length := range []int{1, 4, 8, 12} {
			shift, ok := geometry(start, length, BigEndian)
			if 64-start-length+1 < 0 {
				continue
			}
			if !ok {
				t.Fatalf("geometry(%d, %d) rejected a fitting signal", start, length)
			}
			if want := uint8(64 - start - length + 1); shift != want {
				t.Errorf("geometry(start=%d, len=%d) = %d, want %d", start, length, shift, want)
			}
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vehicle.dbc")
	if err := os.WriteFile(path, []byte(sampleDBC), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	table, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if table.Len() != 2 {
		t.Errorf("Len() = %d, want 2", table.Len())
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.dbc")); err == nil {
		t.Error("LoadFile() on a missing file should fail")
	}
}
