package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	HeaderLen uint32 = 20
	Version   uint8  = 1

	FlagRequest       uint8 = 0x80
	FlagProxiable     uint8 = 0x40
	FlagError         uint8 = 0x20
	FlagRetransmitted uint8 = 0x10
)

var (
	ErrShortHeader        = errors.New("frame: short fixed header")
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
	ErrLengthTooSmall     = errors.New("frame: message length smaller than header")
	ErrMessageTooLarge    = errors.New("frame: message too large")
	ErrTruncated          = errors.New("frame: truncated payload")
)

// Header is the fixed 20-byte message header.
type Header struct {
	Version       uint8
	Length        uint32
	Flags         uint8
	CommandCode   uint32
	ApplicationID uint32
	HopByHopID    uint32
	EndToEndID    uint32
}

func (h Header) IsRequest() bool { return h.Flags&FlagRequest != 0 }
func (h Header) IsError() bool   { return h.Flags&FlagError != 0 }

// Frame is one complete wire message: header plus raw AVP payload.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxMessageBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxMessageBytes: 64 * 1024}
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.Version != Version {
		return Frame{}, ErrUnsupportedVersion
	}
	if h.Length < HeaderLen {
		return Frame{}, ErrLengthTooSmall
	}
	if limits.MaxMessageBytes > 0 && h.Length > limits.MaxMessageBytes {
		return Frame{}, ErrMessageTooLarge
	}

	payload := make([]byte, h.Length-HeaderLen)
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, ErrTruncated
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	total := uint64(HeaderLen) + uint64(len(f.Payload))
	if total > 1<<24-1 {
		return ErrMessageTooLarge
	}
	if limits.MaxMessageBytes > 0 && total > uint64(limits.MaxMessageBytes) {
		return ErrMessageTooLarge
	}

	h := f.Header
	h.Version = Version
	h.Length = uint32(total)

	buf := make([]byte, 0, total)
	buf = append(buf, EncodeHeader(h)...)
	buf = append(buf, f.Payload...)
	_, err := w.Write(buf)
	return err
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	buf[0] = h.Version
	putU24(buf[1:4], h.Length)
	buf[4] = h.Flags
	putU24(buf[5:8], h.CommandCode)
	binary.BigEndian.PutUint32(buf[8:12], h.ApplicationID)
	binary.BigEndian.PutUint32(buf[12:16], h.HopByHopID)
	binary.BigEndian.PutUint32(buf[16:20], h.EndToEndID)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(HeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Version:       b[0],
		Length:        u24(b[1:4]),
		Flags:         b[4],
		CommandCode:   u24(b[5:8]),
		ApplicationID: binary.BigEndian.Uint32(b[8:12]),
		HopByHopID:    binary.BigEndian.Uint32(b[12:16]),
		EndToEndID:    binary.BigEndian.Uint32(b[16:20]),
	}, nil
}

func putU24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func u24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}
