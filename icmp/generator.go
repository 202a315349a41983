package icmp

import (
	"errors"

	"github.com/packetgrid/ipcore"
)

// ErrSuppressed is returned when a caller asks to generate an ICMP error in
// response to a datagram that is itself an ICMP error, which RFC 1812
// forbids to prevent error storms.
var ErrSuppressed = errors.New("icmp: refusing to generate error in response to ICMP error")

// echoHeaderLen is the fixed ICMP header size (type, code, checksum, id, seq).
const echoHeaderLen = 8

// Generator builds outgoing ICMP messages, applying RFC 1812's rule that an
// ICMP error must never be generated in response to a datagram that is
// itself an ICMP error message.
type Generator struct{}

// NewEchoReply builds an echo-reply in dst from the echo-request's
// identifier, sequence number, and data, mirroring the request payload
// verbatim as RFC 792 requires. dst must be at least 8+len(data) bytes.
func (Generator) NewEchoReply(dst []byte, id, seq uint16, data []byte) (Frame, error) {
	if len(dst) < echoHeaderLen+len(data) {
		return Frame{}, errShortFrame
	}
	frm, err := NewFrame(dst[:echoHeaderLen+len(data)])
	if err != nil {
		return Frame{}, err
	}
	frm.ClearHeader()
	frm.SetType(TypeEchoReply)
	frm.SetCode(0)
	frm.SetIdentifier(id)
	frm.SetSequenceNumber(seq)
	copy(frm.Payload(), data)
	frm.SetCRC(frm.CalculateCRC())
	return frm, nil
}

// offendingProtocolIsICMPError reports whether protocol and the first bytes
// of the offending datagram's payload identify it as an ICMP error message,
// per RFC 1812's error-on-error suppression rule.
func offendingProtocolIsICMPError(proto ipcore.IPProto, offendingPayload []byte) bool {
	if proto != ipcore.IPProtoICMP || len(offendingPayload) < 1 {
		return false
	}
	return Type(offendingPayload[0]).IsError()
}

// buildError is the shared construction path for time-exceeded and
// dest-unreachable: the ICMP payload is the offending IPv4 header plus up to
// the first 8 bytes of its payload (classic RFC 792 convention).
func buildError(dst []byte, t Type, code uint8, offendingIPHeader []byte, proto ipcore.IPProto, offendingPayload []byte) (Frame, error) {
	if offendingProtocolIsICMPError(proto, offendingPayload) {
		return Frame{}, ErrSuppressed
	}
	echoed := offendingPayload
	if len(echoed) > 8 {
		echoed = echoed[:8]
	}
	n := echoHeaderLen + len(offendingIPHeader) + len(echoed)
	if len(dst) < n {
		return Frame{}, errShortFrame
	}
	frm, err := NewFrame(dst[:n])
	if err != nil {
		return Frame{}, err
	}
	frm.ClearHeader()
	frm.SetType(t)
	frm.SetCode(code)
	payload := frm.Payload()
	copy(payload, offendingIPHeader)
	copy(payload[len(offendingIPHeader):], echoed)
	frm.SetCRC(frm.CalculateCRC())
	return frm, nil
}

// NewTimeExceeded builds a time-exceeded (code 0) message for a forwarded
// datagram whose TTL reached zero. proto and offendingPayload are the
// offending datagram's protocol and payload, used only to apply the
// error-on-error suppression rule; ErrSuppressed is returned if the
// offending datagram was itself an ICMP error.
func (Generator) NewTimeExceeded(dst []byte, offendingIPHeader []byte, proto ipcore.IPProto, offendingPayload []byte) (Frame, error) {
	return buildError(dst, TypeTimeExceeded, uint8(CodeExceededInTransit), offendingIPHeader, proto, offendingPayload)
}

// NewDestUnreachable builds a destination-unreachable message with the given
// code (0 = no route, 4 = fragmentation needed and DF set).
func (Generator) NewDestUnreachable(dst []byte, code CodeDestinationUnreachable, offendingIPHeader []byte, proto ipcore.IPProto, offendingPayload []byte) (Frame, error) {
	return buildError(dst, TypeDestinationUnreachable, uint8(code), offendingIPHeader, proto, offendingPayload)
}
