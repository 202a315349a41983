package rip

import (
	"encoding/binary"

	"github.com/packetgrid/ipcore"
)

// NewMessage returns a Message with data set to buf. An error is returned if
// buf is shorter than the fixed 4-byte header.
func NewMessage(buf []byte) (Message, error) {
	if len(buf) < sizeHeader {
		return Message{}, errShort
	}
	return Message{buf: buf}, nil
}

// Message encapsulates the raw data of a RIPv2 message: a 4-byte header
// followed by up to 25 fixed 20-byte route entries. See [RFC2453].
//
// [RFC2453]: https://tools.ietf.org/html/rfc2453
type Message struct {
	buf []byte
}

// RawData returns the underlying slice with which the message was created.
func (m Message) RawData() []byte { return m.buf }

func (m Message) Command() Command { return Command(m.buf[0]) }

func (m Message) SetCommand(c Command) { m.buf[0] = uint8(c) }

func (m Message) Version() uint8 { return m.buf[1] }

func (m Message) SetVersion(v uint8) { m.buf[1] = v }

// NumEntries returns how many complete 20-byte entries follow the header in
// the current buffer length.
func (m Message) NumEntries() int {
	return (len(m.buf) - sizeHeader) / sizeEntry
}

// EntryAt returns the i'th route entry. Panics if i is out of range; callers
// should range [0, NumEntries).
func (m Message) EntryAt(i int) Entry {
	off := sizeHeader + i*sizeEntry
	return Entry{buf: m.buf[off : off+sizeEntry]}
}

// AppendEntry grows dst by one entry slot and returns a Message view over the
// grown buffer plus the newly appended Entry, enforcing the 25-entry cap.
// dst is grown with append as needed; an error is returned only when dst
// already holds MaxEntriesPerMessage entries.
func AppendEntry(dst []byte) ([]byte, Entry, error) {
	n := (len(dst) - sizeHeader) / sizeEntry
	if n >= MaxEntriesPerMessage {
		return dst, Entry{}, errBadEntryCount
	}
	dst = append(dst, make([]byte, sizeEntry)...)
	e := Entry{buf: dst[len(dst)-sizeEntry:]}
	return dst, e, nil
}

// ValidateSize checks that buf holds a 4-byte header plus a whole number of
// 20-byte entries, each message capped at MaxEntriesPerMessage.
func (m Message) ValidateSize(v *ipcore.Validator) {
	if len(m.buf) < sizeHeader {
		v.AddError(errShort)
		return
	}
	rem := len(m.buf) - sizeHeader
	if rem%sizeEntry != 0 || rem/sizeEntry > MaxEntriesPerMessage {
		v.AddError(errBadEntryCount)
	}
}

// Entry is one 20-byte RIPv2 route table entry.
type Entry struct {
	buf []byte
}

func (e Entry) AFI() AFI { return AFI(binary.BigEndian.Uint16(e.buf[0:2])) }

func (e Entry) SetAFI(afi AFI) { binary.BigEndian.PutUint16(e.buf[0:2], uint16(afi)) }

func (e Entry) RouteTag() uint16 { return binary.BigEndian.Uint16(e.buf[2:4]) }

func (e Entry) SetRouteTag(tag uint16) { binary.BigEndian.PutUint16(e.buf[2:4], tag) }

func (e Entry) IPAddr() *[4]byte { return (*[4]byte)(e.buf[4:8]) }

func (e Entry) Mask() *[4]byte { return (*[4]byte)(e.buf[8:12]) }

func (e Entry) NextHop() *[4]byte { return (*[4]byte)(e.buf[12:16]) }

func (e Entry) Metric() uint32 { return binary.BigEndian.Uint32(e.buf[16:20]) }

func (e Entry) SetMetric(metric uint32) { binary.BigEndian.PutUint32(e.buf[16:20], metric) }
