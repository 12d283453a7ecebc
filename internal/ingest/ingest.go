// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tomtom215/cansentry/internal/models"
)

var (
	// ErrMalformedLine marks a feed line that is not a CAN frame.
	ErrMalformedLine = errors.New("malformed frame line")
	// ErrUnsupportedLinkType is returned for captures that are not SocketCAN.
	ErrUnsupportedLinkType = errors.New("unsupported pcap link type")
	// ErrUnknownKind is returned by Open for an unknown source kind.
	ErrUnknownKind = errors.New("unknown source kind")
)

// Label is the ground-truth annotation carried by some replay logs.
type Label int8

const (
	LabelUnknown Label = iota
	LabelBenign
	LabelAttack
)

// String returns the label name.
func (l Label) String() string {
	switch l {
	case LabelBenign:
		return "benign"
	case LabelAttack:
		return "attack"
	default:
		return "unknown"
	}
}

// ParseLabel maps a trailing log column to a label. Datasets use 0/1 or R/T.
func ParseLabel(s string) Label {
	switch strings.ToLower(s) {
	case "0", "r", "benign", "normal":
		return LabelBenign
	case "1", "t", "attack", "injected":
		return LabelAttack
	default:
		return LabelUnknown
	}
}

// Record is one frame read from a feed.
type Record struct {
	Frame models.LiveFrame
	Label Label
}

// Source yields frames in arrival order. Next returns io.EOF when a finite
// source is exhausted.
type Source interface {
	Next(ctx context.Context) (*Record, error)
	Name() string
	Close() error
}

// Source kinds.
const (
	KindCandump = "candump"
	KindPcap    = "pcap"
	KindSLCAN   = "slcan"
)

// Config selects and configures a frame source.
type Config struct {
	Kind string `koanf:"kind" json:"kind" validate:"required,oneof=candump pcap slcan"`
	Path string `koanf:"path" json:"path" validate:"required"`
	// ExitOnEOF stops serve mode once a finite replay is exhausted.
	ExitOnEOF bool         `koanf:"exit_on_eof" json:"exit_on_eof"`
	Serial    SerialConfig `koanf:"serial" json:"serial"`
}

// KindFromPath guesses the source kind from a file name.
func KindFromPath(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".pcap"), strings.HasSuffix(lower, ".pcapng"):
		return KindPcap
	case strings.HasPrefix(lower, "/dev/"), strings.HasPrefix(lower, "com"):
		return KindSLCAN
	default:
		return KindCandump
	}
}

// Open creates the source described by cfg.
func Open(cfg Config) (Source, error) {
	switch cfg.Kind {
	case KindCandump:
		f, err := os.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open candump log: %w", err)
		}
		return NewCandumpSource(f, cfg.Path), nil
	case KindPcap:
		f, err := os.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open capture: %w", err)
		}
		src, err := NewPcapSource(f, cfg.Path)
		if err != nil {
			f.Close()
			return nil, err
		}
		return src, nil
	case KindSLCAN:
		return OpenSLCAN(cfg.Path, cfg.Serial)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}
