package packets

import (
	"bytes"
)

const (
	// maxRemainingLength is the largest value the 4-byte variable length
	// encoding can carry.
	maxRemainingLength = 268435455
)

// FixedHeader contains the values of the fixed header portion of the MQTT packet.
type FixedHeader struct {
	Remaining int  // the number of remaining bytes in the payload.
	Type      byte // the type of the packet (PUBLISH, SUBSCRIBE, etc) from bits 7 - 4 (byte 1).
	Qos       byte // indicates the quality of service expected.
	Dup       bool // indicates if the packet was already sent at an earlier time.
	Retain    bool // whether the message should be retained.
}

// Encode writes the header byte and the remaining length to buf.
func (fh *FixedHeader) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(fh.Type<<4 | encodeBool(fh.Dup)<<3 | fh.Qos<<1 | encodeBool(fh.Retain))
	return encodeLength(buf, fh.Remaining)
}

// Decode extracts the type and flag bits from the header byte, rejecting
// flag values the packet type does not permit.
func (fh *FixedHeader) Decode(headerByte byte) error {
	fh.Type = headerByte >> 4
	flags := headerByte & 0x0f

	switch fh.Type {
	case Publish:
		fh.Dup = (flags>>3)&0x01 > 0
		fh.Qos = (flags >> 1) & 0x03
		fh.Retain = flags&0x01 > 0
		if fh.Qos == 3 {
			return ErrInvalidFlags
		}
	case Pubrel, Subscribe, Unsubscribe:
		// [MQTT-2.2.2-1] bits 3,2,1,0 are reserved and must be 0,0,1,0.
		if flags != 0x02 {
			return ErrInvalidFlags
		}
		fh.Qos = 1
	case Connect, Connack, Puback, Pubrec, Pubcomp, Suback, Unsuback, Pingreq, Pingresp, Disconnect:
		if flags != 0 {
			return ErrInvalidFlags
		}
	default:
		return ErrUnknownPacketType
	}

	return nil
}

// encodeLength writes the remaining length as a 1-4 byte variable length
// integer. Values beyond the 4-byte maximum are rejected.
func encodeLength(buf *bytes.Buffer, length int) error {
	if length < 0 || length > maxRemainingLength {
		return ErrMalformedRemainingLength
	}

	for {
		digit := byte(length % 128)
		length /= 128
		if length > 0 {
			digit |= 0x80
		}
		buf.WriteByte(digit)
		if length == 0 {
			return nil
		}
	}
}

// decodeLength reads a variable length integer from the head of buf,
// returning the value and the number of bytes consumed. errLengthIncomplete
// indicates buf ended before a terminating byte was seen; a sequence whose
// fourth byte still carries the continuation bit is malformed.
func decodeLength(buf []byte) (length, n int, err error) {
	var shift uint
	for n < len(buf) {
		digit := buf[n]
		length |= int(digit&0x7f) << shift
		n++
		if digit&0x80 == 0 {
			return length, n, nil
		}
		if n == 4 {
			return 0, n, ErrMalformedRemainingLength
		}
		shift += 7
	}

	return 0, n, errLengthIncomplete
}
