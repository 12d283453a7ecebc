// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package kb

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/tomtom215/cansentry/internal/logging"
	"github.com/tomtom215/cansentry/internal/models"
	"github.com/tomtom215/cansentry/internal/validation"
)

// Format is the encoding of a knowledge-base feed.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%s: %w", path, ErrUnknownFormat)
}

// HexID is a frame identifier that may be written as a number or as a
// "0x"-prefixed string.
type HexID uint32

func parseHexID(s string) (HexID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid frame id %q", s)
	}
	return HexID(v), nil
}

// UnmarshalJSON accepts 526 and "0x20e".
func (h *HexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := parseHexID(s)
		if err != nil {
			return err
		}
		*h = v
		return nil
	}
	v, err := parseHexID(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// UnmarshalYAML accepts 526, 0x20e and "0x20e".
func (h *HexID) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseHexID(node.Value)
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// Document is the on-disk knowledge-base feed.
type Document struct {
	Frames []FrameDoc `json:"frames" yaml:"frames" validate:"required,dive"`
}

// FrameDoc is one frame entry of a Document.
type FrameDoc struct {
	ID          HexID           `json:"id" yaml:"id" validate:"canid"`
	DLC         int             `json:"dlc" yaml:"dlc" validate:"gte=0,lte=8"`
	BitPatterns []BitPatternDoc `json:"bit_patterns,omitempty" yaml:"bit_patterns,omitempty" validate:"dive"`
	Signals     []SignalDoc     `json:"signals,omitempty" yaml:"signals,omitempty" validate:"dive"`
	Periodic    bool            `json:"periodic,omitempty" yaml:"periodic,omitempty"`
	Interval    *IntervalDoc    `json:"interval,omitempty" yaml:"interval,omitempty" validate:"required_if=Periodic true"`
}

// BitPatternDoc constrains one payload byte.
type BitPatternDoc struct {
	Byte  int   `json:"byte" yaml:"byte" validate:"gte=0,lte=7"`
	Mask  uint8 `json:"mask" yaml:"mask"`
	Value uint8 `json:"value" yaml:"value"`
}

// IntervalDoc bounds the inter-arrival time of a periodic frame.
type IntervalDoc struct {
	Min float64 `json:"min" yaml:"min" validate:"gte=0"`
	Max float64 `json:"max" yaml:"max" validate:"gtefield=Min"`
}

// RangeDoc is an inclusive value range.
type RangeDoc struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max" validate:"gtefield=Min"`
}

// SignalDoc is the rule for one signal.
type SignalDoc struct {
	Name      string        `json:"name" yaml:"name" validate:"required,signalname"`
	Range     RangeDoc      `json:"range" yaml:"range"`
	Rate      float64       `json:"rate" yaml:"rate" validate:"gte=0"`
	Relations []RelationDoc `json:"relations,omitempty" yaml:"relations,omitempty" validate:"dive"`
}

// RelationDoc points at a correlated signal.
type RelationDoc struct {
	Frame  HexID  `json:"frame,omitempty" yaml:"frame,omitempty" validate:"canid"`
	Signal string `json:"signal" yaml:"signal" validate:"required,signalname"`
	Type   string `json:"type" yaml:"type" validate:"required,oneof=positive negative"`
}

var signalNameParts = regexp.MustCompile(`^Sig_0[xX]([0-9a-fA-F]+)_([0-9]+)[_|]([0-9]+)$`)

// ParseSignalName converts a Sig_0x<frame>_<start>_<length> token to its
// SignalID.
func ParseSignalName(name string) (models.SignalID, error) {
	m := signalNameParts.FindStringSubmatch(name)
	if m == nil {
		return 0, fmt.Errorf("%q: %w", name, ErrInvalidSignalName)
	}
	frame, err1 := strconv.ParseUint(m[1], 16, 32)
	start, err2 := strconv.Atoi(m[2])
	length, err3 := strconv.Atoi(m[3])
	if err1 != nil || err2 != nil || err3 != nil || !models.ValidSignalGeometry(uint32(frame), start, length) {
		return 0, fmt.Errorf("%q: %w", name, ErrInvalidSignalName)
	}
	return models.EncodeSignalID(uint32(frame), uint8(start), uint8(length)), nil
}

// LoadFile reads a knowledge base from a JSON or YAML feed.
func LoadFile(path string) (*KnowledgeBase, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("open knowledge base: %w", err)
	}
	defer f.Close()

	k, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	logging.Info().Str("path", path).Int("frames", k.Len()).Msg("Knowledge base loaded")
	return k, nil
}

// Decode reads, validates and builds a knowledge base. Unknown fields are
// rejected so typos in a feed are not silently ignored.
func Decode(r io.Reader, format Format) (*KnowledgeBase, error) {
	var doc Document
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("%q: %w", format, ErrUnknownFormat)
	}
	return Build(&doc)
}

// Build validates doc and converts it into a KnowledgeBase.
func Build(doc *Document) (*KnowledgeBase, error) {
	if err := validation.Struct(doc); err != nil {
		return nil, err
	}

	k := New()
	for i := range doc.Frames {
		f, err := buildFrame(&doc.Frames[i])
		if err != nil {
			return nil, fmt.Errorf("frames[%d]: %w", i, err)
		}
		if err := k.Register(f); err != nil {
			return nil, fmt.Errorf("frames[%d]: %w", i, err)
		}
	}
	return k, nil
}

func buildFrame(d *FrameDoc) (*Frame, error) {
	f := &Frame{
		ID:       uint32(d.ID),
		DLC:      d.DLC,
		Periodic: d.Periodic,
	}
	if d.Interval != nil {
		f.Interval = Interval{Min: d.Interval.Min, Max: d.Interval.Max}
	}

	var seen [models.MaxPayload]bool
	for _, bp := range d.BitPatterns {
		if seen[bp.Byte] {
			return nil, fmt.Errorf("bit pattern for byte %d declared twice", bp.Byte)
		}
		seen[bp.Byte] = true
		if bp.Value&^bp.Mask != 0 {
			return nil, fmt.Errorf("bit pattern for byte %d: value 0x%02x has bits outside mask 0x%02x", bp.Byte, bp.Value, bp.Mask)
		}
		f.BitPatterns[bp.Byte] = BitPattern{Mask: bp.Mask, Expected: bp.Value}
	}

	seenSignals := make(map[models.SignalID]bool, len(d.Signals))
	for _, sd := range d.Signals {
		id, err := ParseSignalName(sd.Name)
		if err != nil {
			return nil, err
		}
		if id.FrameID() != f.ID {
			return nil, fmt.Errorf("signal %s belongs to frame 0x%x, not 0x%x", sd.Name, id.FrameID(), f.ID)
		}
		if seenSignals[id] {
			return nil, fmt.Errorf("signal %s declared twice", sd.Name)
		}
		seenSignals[id] = true

		rule := SignalRule{
			ID:    id,
			Range: Range{Min: sd.Range.Min, Max: sd.Range.Max},
			Rate:  sd.Rate,
		}
		for _, rd := range sd.Relations {
			target, err := ParseSignalName(rd.Signal)
			if err != nil {
				return nil, err
			}
			corr, _ := ParseCorrelation(rd.Type)
			frame := uint32(rd.Frame)
			if frame == 0 {
				frame = target.FrameID()
			}
			rule.Relations = append(rule.Relations, Relation{
				TargetFrame:  frame,
				TargetSignal: target,
				Correlation:  corr,
			})
		}
		f.Signals = append(f.Signals, rule)
	}
	return f, nil
}
