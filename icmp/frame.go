package icmp

import (
	"encoding/binary"

	"github.com/packetgrid/ipcore"
)

// NewFrame returns a Frame with data set to buf. An error is returned if buf
// is too short to hold the fixed 8-byte ICMP header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < 8 {
		return Frame{}, errShortFrame
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an ICMP message. See [RFC792].
//
// [RFC792]: https://tools.ietf.org/html/rfc792
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (frm Frame) RawData() []byte { return frm.buf }

func (frm Frame) Type() Type { return Type(frm.buf[0]) }

func (frm Frame) SetType(t Type) { frm.buf[0] = uint8(t) }

func (frm Frame) Code() uint8 { return frm.buf[1] }

func (frm Frame) SetCode(code uint8) { frm.buf[1] = code }

// CRC returns the checksum field of the frame.
func (frm Frame) CRC() uint16 { return binary.BigEndian.Uint16(frm.buf[2:4]) }

// SetCRC sets the checksum field of the frame.
func (frm Frame) SetCRC(crc uint16) { binary.BigEndian.PutUint16(frm.buf[2:4], crc) }

// CalculateCRC computes the ICMP checksum over type/code/rest-of-header and
// payload, treating the checksum field itself as zero per RFC 792.
func (frm Frame) CalculateCRC() uint16 {
	var crc ipcore.CRC791
	crc.AddUint16(binary.BigEndian.Uint16(frm.buf[0:2]))
	return crc.PayloadSum16(frm.buf[4:])
}

// Payload returns everything past the fixed 8-byte ICMP header: for echo
// messages this is the echoed data; for error messages it is the offending
// IP header plus leading octets of its payload.
func (frm Frame) Payload() []byte { return frm.buf[8:] }

// Identifier returns the echo/echo-reply identifier field (bytes 4-5).
func (frm Frame) Identifier() uint16 { return binary.BigEndian.Uint16(frm.buf[4:6]) }

// SetIdentifier sets the echo/echo-reply identifier field.
func (frm Frame) SetIdentifier(id uint16) { binary.BigEndian.PutUint16(frm.buf[4:6], id) }

// SequenceNumber returns the echo/echo-reply sequence number field (bytes 6-7).
func (frm Frame) SequenceNumber() uint16 { return binary.BigEndian.Uint16(frm.buf[6:8]) }

// SetSequenceNumber sets the echo/echo-reply sequence number field.
func (frm Frame) SetSequenceNumber(seq uint16) { binary.BigEndian.PutUint16(frm.buf[6:8], seq) }

// ClearHeader zeros out the fixed 8-byte ICMP header.
func (frm Frame) ClearHeader() {
	for i := range frm.buf[:8] {
		frm.buf[i] = 0
	}
}

// ValidateSize checks buf is at least the fixed header size.
func (frm Frame) ValidateSize(v *ipcore.Validator) {
	if len(frm.buf) < 8 {
		v.AddError(errShortFrame)
	}
}
