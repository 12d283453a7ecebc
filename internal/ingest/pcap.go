// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package ingest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/tomtom215/cansentry/internal/logging"
	"github.com/tomtom215/cansentry/internal/metrics"
	"github.com/tomtom215/cansentry/internal/models"
)

// LinkTypeCANSocketCAN is LINKTYPE_CAN_SOCKETCAN.
const LinkTypeCANSocketCAN layers.LinkType = 227

// SocketCAN can_id flags.
const (
	canEFFFlag = 0x80000000
	canRTRFlag = 0x40000000
	canERRFlag = 0x20000000
	canEFFMask = 0x1FFFFFFF
	canSFFMask = 0x000007FF

	// can_id (4) + len (1) + padding/reserved (3) + data (8)
	socketCANFrameLen = 16
	socketCANHeader   = 8
)

// PcapSource replays a SocketCAN capture written by tcpdump or Wireshark.
type PcapSource struct {
	name    string
	r       io.Reader
	reader  *pcapgo.Reader
	skipped int
}

// NewPcapSource reads the capture header from r. Captures with another link
// type are rejected with ErrUnsupportedLinkType.
func NewPcapSource(r io.Reader, name string) (*PcapSource, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("read pcap header: %w", err)
	}
	if lt := reader.LinkType(); lt != LinkTypeCANSocketCAN {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedLinkType, lt)
	}
	return &PcapSource{name: name, r: r, reader: reader}, nil
}

// Name returns the source name.
func (p *PcapSource) Name() string { return p.name }

// Skipped returns the number of packets that were not data frames.
func (p *PcapSource) Skipped() int { return p.skipped }

// Next returns the next data frame. Error and remote frames are skipped.
func (p *PcapSource) Next(ctx context.Context) (*Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, ci, err := p.reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p.name, err)
		}

		rec, ok := decodeSocketCAN(data, ci)
		if !ok {
			p.skipped++
			metrics.RecordIngestError(KindPcap, "skipped_packet")
			logging.Trace().Str("source", p.name).Int("len", len(data)).Msg("Skipping non-data packet")
			continue
		}
		return rec, nil
	}
}

// Close closes the underlying reader when it supports it.
func (p *PcapSource) Close() error {
	if closer, ok := p.r.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func decodeSocketCAN(data []byte, ci gopacket.CaptureInfo) (*Record, bool) {
	if len(data) < socketCANHeader {
		return nil, false
	}
	canID := binary.BigEndian.Uint32(data[0:4])
	if canID&(canERRFlag|canRTRFlag) != 0 {
		return nil, false
	}
	dlc := int(data[4])
	if dlc > models.MaxPayload || len(data) < socketCANHeader+dlc {
		return nil, false
	}

	rec := &Record{}
	if canID&canEFFFlag != 0 {
		rec.Frame.ID = canID & canEFFMask
	} else {
		rec.Frame.ID = canID & canSFFMask
	}
	rec.Frame.DLC = dlc
	copy(rec.Frame.Data[:], data[socketCANHeader:socketCANHeader+dlc])
	rec.Frame.Timestamp = float64(ci.Timestamp.UnixNano()) / 1e9
	return rec, true
}

// EncodeSocketCAN renders f as a LINKTYPE_CAN_SOCKETCAN packet.
func EncodeSocketCAN(f *models.LiveFrame) []byte {
	buf := make([]byte, socketCANFrameLen)
	id := f.ID
	if id > canSFFMask {
		id |= canEFFFlag
	}
	binary.BigEndian.PutUint32(buf[0:4], id)
	buf[4] = byte(f.DLC)
	copy(buf[socketCANHeader:], f.Payload())
	return buf
}

// PcapWriter records frames as a SocketCAN capture.
type PcapWriter struct {
	w *pcapgo.Writer
}

// NewPcapWriter writes the capture header to w.
func NewPcapWriter(w io.Writer) (*PcapWriter, error) {
	pw := pcapgo.NewWriterNanos(w)
	if err := pw.WriteFileHeader(socketCANFrameLen, LinkTypeCANSocketCAN); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &PcapWriter{w: pw}, nil
}

// WriteFrame appends one frame, using its bus timestamp as capture time.
func (p *PcapWriter) WriteFrame(f *models.LiveFrame) error {
	data := EncodeSocketCAN(f)
	sec := int64(f.Timestamp)
	nsec := int64((f.Timestamp - float64(sec)) * 1e9)
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Unix(sec, nsec),
		CaptureLength: len(data),
		Length:        len(data),
	}
	return p.w.WritePacket(ci, data)
}
