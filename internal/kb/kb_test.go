// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package kb

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/tomtom215/cansentry/internal/models"
	"github.com/tomtom215/cansentry/internal/validation"
)

const sampleYAML = `
frames:
  - id: 0x20e
    dlc: 8
    periodic: true
    interval: {min: 0.009, max: 0.011}
    bit_patterns:
      - {byte: 0, mask: 0xF0, value: 0x40}
    signals:
      - name: Sig_0x20e_13_12
        range: {min: 0, max: 4095}
        rate: 200
        relations:
          - {frame: 0x2c4, signal: Sig_0x2c4_7_16, type: positive}
      - name: Sig_0x20e_28|14
        range: {min: 0, max: 16383}
        rate: 16383
  - id: "0x2c4"
    dlc: 8
    signals:
      - name: Sig_0x2c4_7_16
        range: {min: 0, max: 65535}
        rate: 1000
`

const sampleJSON = `{
  "frames": [
    {"id": "0x130", "dlc": 4, "signals": [
      {"name": "Sig_0x130_7_8", "range": {"min": 0, "max": 255}, "rate": 10,
       "relations": [{"signal": "Sig_0x140_7_8", "type": "negative"}]}
    ]},
    {"id": 320, "dlc": 2}
  ]
}`

func decodeString(t *testing.T, input string, format Format) *KnowledgeBase {
	t.Helper()
	k, err := Decode(strings.NewReader(input), format)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if k.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", k.Len())
	}
	return k
}

func TestDecode_YAML(t *testing.T) {
	k := decodeString(t, sampleYAML, FormatYAML)

	f, ok := k.Lookup(0x20e)
	if !ok {
		t.Fatal("Lookup(0x20e) missed")
	}
	if f.DLC != 8 || !f.Periodic {
		t.Errorf("DLC=%d Periodic=%v, want 8 and true", f.DLC, f.Periodic)
	}
	if want := (Interval{Min: 0.009, Max: 0.011}); f.Interval != want {
		t.Errorf("Interval = %+v, want %+v", f.Interval, want)
	}
	if want := (BitPattern{Mask: 0xF0, Expected: 0x40}); f.BitPatterns[0] != want {
		t.Errorf("BitPatterns[0] = %+v, want %+v", f.BitPatterns[0], want)
	}
	if f.BitPatterns[1] != (BitPattern{}) {
		t.Errorf("BitPatterns[1] = %+v, want zero", f.BitPatterns[1])
	}

	if len(f.Signals) != 2 {
		t.Fatalf("got %d signals, want 2", len(f.Signals))
	}
	sig := f.Signals[0]
	if sig.ID != models.SignalID(34475276) {
		t.Errorf("ID = %d, want 34475276", sig.ID)
	}
	if want := (Range{Min: 0, Max: 4095}); sig.Range != want || sig.Rate != 200 {
		t.Errorf("Range=%+v Rate=%v, want %+v and 200", sig.Range, sig.Rate, want)
	}
	if len(sig.Relations) != 1 {
		t.Fatalf("got %d relations, want 1", len(sig.Relations))
	}
	wantRel := Relation{
		TargetFrame:  0x2c4,
		TargetSignal: models.EncodeSignalID(0x2c4, 7, 16),
		Correlation:  Positive,
	}
	if sig.Relations[0] != wantRel {
		t.Errorf("Relations[0] = %+v, want %+v", sig.Relations[0], wantRel)
	}

	if want := models.EncodeSignalID(0x20e, 28, 14); f.Signals[1].ID != want {
		t.Errorf("pipe-spelled signal ID = %s, want %s", f.Signals[1].ID, want)
	}

	ids := []uint32{}
	for _, fr := range k.Frames() {
		ids = append(ids, fr.ID)
	}
	if want := []uint32{0x20e, 0x2c4}; !slices.Equal(ids, want) {
		t.Errorf("Frames() ids = %#x, want %#x", ids, want)
	}
}

func TestDecode_JSON(t *testing.T) {
	k := decodeString(t, sampleJSON, FormatJSON)

	f, ok := k.Lookup(0x130)
	if !ok {
		t.Fatal("Lookup(0x130) missed")
	}
	if len(f.Signals) != 1 {
		t.Fatalf("got %d signals, want 1", len(f.Signals))
	}
	rel := f.Signals[0].Relations[0]
	// Target frame defaults to the frame embedded in the signal name.
	if rel.TargetFrame != 0x140 {
		t.Errorf("TargetFrame = %#x, want 0x140", rel.TargetFrame)
	}
	if rel.Correlation != Negative {
		t.Errorf("Correlation = %v, want negative", rel.Correlation)
	}

	if _, ok := k.Lookup(320); !ok {
		t.Error("decimal frame id 320 should be registered")
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		input  string
		errIs  error
		substr string
	}{
		{
			name:   "duplicate frame",
			format: FormatYAML,
			input:  "frames:\n  - {id: 1, dlc: 8}\n  - {id: 1, dlc: 4}\n",
			errIs:  ErrDuplicateFrame,
		},
		{
			name:   "signal from another frame",
			format: FormatYAML,
			input:  "frames:\n  - id: 0x10\n    dlc: 8\n    signals:\n      - {name: Sig_0x11_0_8, range: {min: 0, max: 1}}\n",
			substr: "belongs to frame 0x11",
		},
		{
			name:   "signal geometry outside domain",
			format: FormatYAML,
			input:  "frames:\n  - id: 0x10\n    dlc: 8\n    signals:\n      - {name: Sig_0x10_70_8, range: {min: 0, max: 1}}\n",
			errIs:  ErrInvalidSignalName,
		},
		{
			name:   "value outside mask",
			format: FormatYAML,
			input:  "frames:\n  - id: 0x10\n    dlc: 8\n    bit_patterns: [{byte: 2, mask: 0x0F, value: 0x10}]\n",
			substr: "bits outside mask",
		},
		{
			name:   "pattern declared twice",
			format: FormatYAML,
			input:  "frames:\n  - id: 0x10\n    dlc: 8\n    bit_patterns: [{byte: 2, mask: 1, value: 1}, {byte: 2, mask: 2, value: 0}]\n",
			substr: "declared twice",
		},
		{
			name:   "periodic without interval",
			format: FormatYAML,
			input:  "frames:\n  - {id: 0x10, dlc: 8, periodic: true}\n",
			substr: "interval is required",
		},
		{
			name:   "inverted range",
			format: FormatJSON,
			input:  `{"frames":[{"id":16,"dlc":8,"signals":[{"name":"Sig_0x10_7_8","range":{"min":5,"max":1}}]}]}`,
			substr: "frames[0].signals[0].range.max",
		},
		{
			name:   "unknown relation type",
			format: FormatJSON,
			input:  `{"frames":[{"id":16,"dlc":8,"signals":[{"name":"Sig_0x10_7_8","range":{"min":0,"max":1},"relations":[{"signal":"Sig_0x11_7_8","type":"inverse"}]}]}]}`,
			substr: "one of: positive negative",
		},
		{
			name:   "unknown field",
			format: FormatJSON,
			input:  `{"frames":[{"id":16,"dlc":8,"cycle":true}]}`,
			substr: "decode json",
		},
		{
			name:   "empty document",
			format: FormatYAML,
			input:  "",
			substr: "frames is required",
		},
		{
			name:   "bad hex id",
			format: FormatJSON,
			input:  `{"frames":[{"id":"0xZZ","dlc":8}]}`,
			substr: "invalid frame id",
		},
		{
			name:   "unknown format",
			format: Format("ttl"),
			input:  "",
			errIs:  ErrUnknownFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input), tt.format)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.errIs != nil && !errors.Is(err, tt.errIs) {
				t.Errorf("error = %v, want %v", err, tt.errIs)
			}
			if tt.substr != "" && !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("error %q does not contain %q", err, tt.substr)
			}
		})
	}
}

func TestBuild_ValidationErrorType(t *testing.T) {
	_, err := Build(&Document{})
	var verr *validation.Error
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *validation.Error", err)
	}
	if path := verr.Fields[0].Path; path != "frames" {
		t.Errorf("Fields[0].Path = %q, want frames", path)
	}
}

func TestParseSignalName(t *testing.T) {
	for _, name := range []string{"Sig_0x20e_13_12", "Sig_0x20E_13|12"} {
		id, err := ParseSignalName(name)
		if err != nil {
			t.Fatalf("ParseSignalName(%q) error = %v", name, err)
		}
		if id != models.SignalID(34475276) {
			t.Errorf("ParseSignalName(%q) = %d, want 34475276", name, id)
		}
	}

	for _, bad := range []string{"", "Sig_20e_13_12", "Sig_0x20e_13", "Sig_0x10000_0_8", "Sig_0x1_0_33"} {
		if _, err := ParseSignalName(bad); !errors.Is(err, ErrInvalidSignalName) {
			t.Errorf("ParseSignalName(%q) error = %v, want ErrInvalidSignalName", bad, err)
		}
	}
}

func TestKnowledgeBase_Register(t *testing.T) {
	k := New()
	if err := k.Register(&Frame{ID: 7}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := k.Register(&Frame{ID: 7, DLC: 2}); !errors.Is(err, ErrDuplicateFrame) {
		t.Fatalf("duplicate Register() error = %v, want ErrDuplicateFrame", err)
	}

	// First registration wins.
	if f, _ := k.Lookup(7); f.DLC != 0 {
		t.Errorf("DLC = %d, want 0 from the first registration", f.DLC)
	}
}

func TestRangeAndPattern(t *testing.T) {
	r := Range{Min: 10, Max: 20}
	for _, tt := range []struct {
		v    float64
		want bool
	}{{10, true}, {20, true}, {9.999, false}, {20.001, false}} {
		if got := r.Contains(tt.v); got != tt.want {
			t.Errorf("Contains(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}

	p := BitPattern{Mask: 0xF0, Expected: 0x40}
	if !p.Matches(0x4F) {
		t.Error("0x4f should match high nibble 0x4")
	}
	if p.Matches(0x5F) {
		t.Error("0x5f should not match high nibble 0x4")
	}
	if !(BitPattern{}).Matches(0xFF) {
		t.Error("empty mask should match any byte")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kb.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	k, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if k.Len() != 2 {
		t.Errorf("Len() = %d, want 2", k.Len())
	}

	if _, err := LoadFile(filepath.Join(dir, "kb.ttl")); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("LoadFile(.ttl) error = %v, want ErrUnknownFormat", err)
	}
	if _, err := LoadFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("LoadFile() on a missing file should fail")
	}
}
