package packets

import (
	"bytes"
	"fmt"
)

// Encode serializes a packet to its full wire representation, fixed header
// included.
func Encode(pk *Packet) ([]byte, error) {
	buf := new(bytes.Buffer)

	var err error
	switch pk.FixedHeader.Type {
	case Connect:
		err = pk.ConnectEncode(buf)
	case Connack:
		err = pk.ConnackEncode(buf)
	case Publish:
		err = pk.PublishEncode(buf)
	case Puback:
		err = pk.PubackEncode(buf)
	case Pubrec:
		err = pk.PubrecEncode(buf)
	case Pubrel:
		err = pk.PubrelEncode(buf)
	case Pubcomp:
		err = pk.PubcompEncode(buf)
	case Subscribe:
		err = pk.SubscribeEncode(buf)
	case Suback:
		err = pk.SubackEncode(buf)
	case Unsubscribe:
		err = pk.UnsubscribeEncode(buf)
	case Unsuback:
		err = pk.UnsubackEncode(buf)
	case Pingreq:
		err = pk.PingreqEncode(buf)
	case Pingresp:
		err = pk.PingrespEncode(buf)
	case Disconnect:
		err = pk.DisconnectEncode(buf)
	default:
		err = fmt.Errorf("%w: %d", ErrUnknownPacketType, pk.FixedHeader.Type)
	}
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses one complete raw frame into a packet. The frame must carry
// exactly one packet; a declared remaining length which disagrees with the
// frame size is rejected.
func Decode(raw []byte) (pk Packet, err error) {
	if len(raw) < 2 {
		return pk, ErrShortRead
	}

	err = pk.FixedHeader.Decode(raw[0])
	if err != nil {
		return pk, err
	}

	remaining, n, err := decodeLength(raw[1:])
	if err != nil {
		if err == errLengthIncomplete {
			return pk, ErrMalformedRemainingLength
		}
		return pk, err
	}
	pk.FixedHeader.Remaining = remaining

	body := raw[1+n:]
	if len(body) != remaining {
		return pk, ErrLengthMismatch
	}

	// Decode the body using a fresh copy of the bytes, so the packet does
	// not alias the framer's buffer.
	px := append([]byte{}, body...)

	switch pk.FixedHeader.Type {
	case Connect:
		err = pk.ConnectDecode(px)
	case Connack:
		err = pk.ConnackDecode(px)
	case Publish:
		err = pk.PublishDecode(px)
	case Puback:
		err = pk.PubackDecode(px)
	case Pubrec:
		err = pk.PubrecDecode(px)
	case Pubrel:
		err = pk.PubrelDecode(px)
	case Pubcomp:
		err = pk.PubcompDecode(px)
	case Subscribe:
		err = pk.SubscribeDecode(px)
	case Suback:
		err = pk.SubackDecode(px)
	case Unsubscribe:
		err = pk.UnsubscribeDecode(px)
	case Unsuback:
		err = pk.UnsubackDecode(px)
	case Pingreq, Pingresp, Disconnect:
		if remaining != 0 {
			err = ErrLengthMismatch
		}
	}

	return pk, err
}
