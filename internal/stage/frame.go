package stage

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/errors"
)

// Frame layout: a fixed header, the payload, and a footer repeating the
// checksum so truncated writes are detected.
const (
	MagicBytes    uint32 = 0x44454153
	FormatVersion uint32 = 1
	HeaderSize    int    = 32
	FooterSize    int    = 8
)

// FrameHeader is the decoded fixed header of a frame.
type FrameHeader struct {
	Magic       uint32
	Version     uint32
	CreatedAt   int64
	PayloadSize uint64
	Checksum    uint32
}

// EncodeFrame wraps payload in a checksummed frame.
func EncodeFrame(payload []byte, createdAt time.Time) []byte {
	frame := make([]byte, HeaderSize+len(payload)+FooterSize)
	checksum := crc32.ChecksumIEEE(payload)
	binary.LittleEndian.PutUint32(frame[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(frame[4:8], FormatVersion)
	binary.LittleEndian.PutUint64(frame[8:16], uint64(createdAt.Unix()))
	binary.LittleEndian.PutUint64(frame[16:24], uint64(len(payload)))
	binary.LittleEndian.PutUint32(frame[24:28], checksum)
	copy(frame[HeaderSize:], payload)
	footer := frame[HeaderSize+len(payload):]
	binary.LittleEndian.PutUint32(footer[0:4], checksum)
	binary.LittleEndian.PutUint32(footer[4:8], MagicBytes)
	return frame
}

// DecodeFrame validates a frame and returns its header and payload. Every
// validation failure wraps ErrCorruptEntry.
func DecodeFrame(frame []byte) (FrameHeader, []byte, error) {
	if len(frame) < HeaderSize+FooterSize {
		return FrameHeader{}, nil, fmt.Errorf("%w: frame of %d bytes is too short", apperrors.ErrCorruptEntry, len(frame))
	}
	h := FrameHeader{
		Magic:       binary.LittleEndian.Uint32(frame[0:4]),
		Version:     binary.LittleEndian.Uint32(frame[4:8]),
		CreatedAt:   int64(binary.LittleEndian.Uint64(frame[8:16])),
		PayloadSize: binary.LittleEndian.Uint64(frame[16:24]),
		Checksum:    binary.LittleEndian.Uint32(frame[24:28]),
	}
	if h.Magic != MagicBytes {
		return h, nil, fmt.Errorf("%w: bad magic bytes %x", apperrors.ErrCorruptEntry, h.Magic)
	}
	if h.Version != FormatVersion {
		return h, nil, fmt.Errorf("%w: unsupported format version %d", apperrors.ErrCorruptEntry, h.Version)
	}
	if h.PayloadSize != uint64(len(frame)-HeaderSize-FooterSize) {
		return h, nil, fmt.Errorf("%w: payload size %d does not match frame of %d bytes", apperrors.ErrCorruptEntry, h.PayloadSize, len(frame))
	}
	payload := frame[HeaderSize : HeaderSize+int(h.PayloadSize)]
	footer := frame[HeaderSize+int(h.PayloadSize):]
	if binary.LittleEndian.Uint32(footer[4:8]) != MagicBytes || binary.LittleEndian.Uint32(footer[0:4]) != h.Checksum {
		return h, nil, fmt.Errorf("%w: footer mismatch", apperrors.ErrCorruptEntry)
	}
	if crc32.ChecksumIEEE(payload) != h.Checksum {
		return h, nil, fmt.Errorf("%w: checksum mismatch", apperrors.ErrCorruptEntry)
	}
	return h, payload, nil
}
