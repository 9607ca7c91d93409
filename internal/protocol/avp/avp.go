package avp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	HeaderLen       = 8
	VendorHeaderLen = 12
	maxLength       = 1<<24 - 1
)

// Flag bits from the AVP header.
const (
	FlagVendor    uint8 = 0x80
	FlagMandatory uint8 = 0x40
	FlagProtected uint8 = 0x20
)

var (
	ErrShortHeader   = errors.New("avp: short header")
	ErrShortValue    = errors.New("avp: short value")
	ErrInvalidLength = errors.New("avp: invalid length")
	ErrTypeMismatch  = errors.New("avp: type mismatch")
)

// AVP is one decoded attribute-value pair.
type AVP struct {
	Code     uint32
	Flags    uint8
	VendorID uint32
	Data     []byte
}

func (a AVP) headerLen() int {
	if a.Flags&FlagVendor != 0 {
		return VendorHeaderLen
	}
	return HeaderLen
}

// Len is the on-wire length without padding.
func (a AVP) Len() int {
	return a.headerLen() + len(a.Data)
}

// PaddedLen is the on-wire length including trailing padding to 4 bytes.
func (a AVP) PaddedLen() int {
	return pad4(a.Len())
}

func Encode(a AVP) ([]byte, error) {
	if a.Len() > maxLength {
		return nil, ErrInvalidLength
	}
	buf := make([]byte, a.PaddedLen())
	binary.BigEndian.PutUint32(buf[0:4], a.Code)
	putU24(buf[5:8], uint32(a.Len()))
	buf[4] = a.Flags
	off := HeaderLen
	if a.Flags&FlagVendor != 0 {
		binary.BigEndian.PutUint32(buf[8:12], a.VendorID)
		off = VendorHeaderLen
	}
	copy(buf[off:], a.Data)
	return buf, nil
}

func EncodeAll(avps []AVP) ([]byte, error) {
	total := 0
	for _, a := range avps {
		total += a.PaddedLen()
	}
	out := make([]byte, 0, total)
	for _, a := range avps {
		b, err := Encode(a)
		if err != nil {
			return nil, fmt.Errorf("avp code=%d: %w", a.Code, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

func DecodeAll(payload []byte) ([]AVP, error) {
	avps := make([]AVP, 0, 8)
	i := 0
	for i < len(payload) {
		if len(payload)-i < HeaderLen {
			return nil, ErrShortHeader
		}
		code := binary.BigEndian.Uint32(payload[i : i+4])
		flags := payload[i+4]
		length := int(u24(payload[i+5 : i+8]))
		hdr := HeaderLen
		var vendor uint32
		if flags&FlagVendor != 0 {
			if len(payload)-i < VendorHeaderLen {
				return nil, ErrShortHeader
			}
			vendor = binary.BigEndian.Uint32(payload[i+8 : i+12])
			hdr = VendorHeaderLen
		}
		if length < hdr {
			return nil, ErrInvalidLength
		}
		if len(payload)-i < length {
			return nil, ErrShortValue
		}
		data := make([]byte, length-hdr)
		copy(data, payload[i+hdr:i+length])
		avps = append(avps, AVP{Code: code, Flags: flags, VendorID: vendor, Data: data})

		next := i + pad4(length)
		if next > len(payload) {
			// last AVP may arrive without its padding
			next = len(payload)
		}
		i = next
	}
	return avps, nil
}

// Find returns the first AVP matching code and vendor.
func Find(avps []AVP, code uint32, vendor uint32) (AVP, bool) {
	for _, a := range avps {
		if a.Code == code && a.VendorID == vendor {
			return a, true
		}
	}
	return AVP{}, false
}

func pad4(n int) int {
	return (n + 3) &^ 3
}

func putU24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func u24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}
