package avp

import "encoding/binary"

// Base returns a mandatory base-protocol AVP.
func Base(code uint32, data []byte) AVP {
	return AVP{Code: code, Flags: FlagMandatory, Data: data}
}

// Vendor returns a mandatory vendor-specific AVP.
func Vendor(code, vendor uint32, data []byte) AVP {
	return AVP{Code: code, Flags: FlagVendor | FlagMandatory, VendorID: vendor, Data: data}
}

// OctetString copies v into a fresh data slice.
func OctetString(v []byte) []byte {
	buf := make([]byte, len(v))
	copy(buf, v)
	return buf
}

func UTF8String(v string) []byte {
	return []byte(v)
}

func Unsigned32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}

// Uint32 returns the AVP data as Unsigned32.
func (a AVP) Uint32() (uint32, error) {
	if len(a.Data) != 4 {
		return 0, ErrTypeMismatch
	}
	return binary.BigEndian.Uint32(a.Data), nil
}

// Text returns the AVP data as UTF8String.
func (a AVP) Text() string {
	return string(a.Data)
}

// Bytes returns a copy of the AVP data.
func (a AVP) Bytes() []byte {
	return OctetString(a.Data)
}
