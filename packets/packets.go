package packets

import (
	"bytes"
	"fmt"
	"strconv"
)

// All of the valid packet types and their wire values.
const (
	Reserved    byte = iota
	Connect          // 1
	Connack          // 2
	Publish          // 3
	Puback           // 4
	Pubrec           // 5
	Pubrel           // 6
	Pubcomp          // 7
	Subscribe        // 8
	Suback           // 9
	Unsubscribe      // 10
	Unsuback         // 11
	Pingreq          // 12
	Pingresp         // 13
	Disconnect       // 14
)

// Connack return codes.
const (
	Accepted                     byte = 0x00
	CodeBadProtocolVersion       byte = 0x01
	CodeIdentifierRejected       byte = 0x02
	CodeServerUnavailable        byte = 0x03
	CodeBadUsernameOrPassword    byte = 0x04
	CodeNotAuthorized            byte = 0x05
	CodeConnectProtocolViolation byte = 0xFF // internal; never sent on the wire.
)

// Suback return codes.
const (
	SubOKQos0 byte = 0x00
	SubOKQos1 byte = 0x01
	SubOKQos2 byte = 0x02
	SubFail   byte = 0x80
)

// QoS levels.
const (
	QosAtMostOnce  byte = 0
	QosAtLeastOnce byte = 1
	QosExactlyOnce byte = 2
)

// Packet is an MQTT packet. Instead of providing a packet interface and
// variant packet structs, this is a single concrete packet type covering all
// packet types, which allows us to take advantage of various compiler
// optimizations.
type Packet struct {
	FixedHeader      FixedHeader
	Topics           []string
	ReturnCodes      []byte
	ProtocolName     []byte
	Qoss             []byte
	Payload          []byte
	Username         []byte
	Password         []byte
	WillMessage      []byte
	ClientIdentifier string
	TopicName        string
	WillTopic        string
	PacketID         uint16
	Keepalive        uint16
	ReturnCode       byte
	ProtocolVersion  byte
	WillQos          byte
	ReservedBit      byte
	CleanSession     bool
	WillFlag         bool
	WillRetain       bool
	UsernameFlag     bool
	PasswordFlag     bool
	SessionPresent   bool
}

// ConnectEncode encodes a Connect packet.
func (pk *Packet) ConnectEncode(buf *bytes.Buffer) error {
	protoName := encodeBytes(pk.ProtocolName)
	protoVersion := pk.ProtocolVersion
	flag := encodeBool(pk.CleanSession)<<1 | encodeBool(pk.WillFlag)<<2 | pk.WillQos<<3 | encodeBool(pk.WillRetain)<<5 | encodeBool(pk.PasswordFlag)<<6 | encodeBool(pk.UsernameFlag)<<7
	keepalive := encodeUint16(pk.Keepalive)
	clientID := encodeString(pk.ClientIdentifier)

	var willTopic, willMessage, username, password []byte

	if pk.WillFlag {
		willTopic = encodeString(pk.WillTopic)
		willMessage = encodeBytes(pk.WillMessage)
	}

	if pk.UsernameFlag {
		username = encodeBytes(pk.Username)
	}

	if pk.PasswordFlag {
		password = encodeBytes(pk.Password)
	}

	pk.FixedHeader.Remaining =
		len(protoName) + 1 + 1 + len(keepalive) + len(clientID) +
			len(willTopic) + len(willMessage) +
			len(username) + len(password)

	err := pk.FixedHeader.Encode(buf)
	if err != nil {
		return err
	}

	buf.Write(protoName)
	buf.WriteByte(protoVersion)
	buf.WriteByte(flag)
	buf.Write(keepalive)
	buf.Write(clientID)
	buf.Write(willTopic)
	buf.Write(willMessage)
	buf.Write(username)
	buf.Write(password)

	return nil
}

// ConnectDecode decodes a Connect packet.
func (pk *Packet) ConnectDecode(buf []byte) error {
	var offset int
	var err error

	pk.ProtocolName, offset, err = decodeBytes(buf, 0)
	if err != nil {
		return fmt.Errorf("%s: %w", err, ErrMalformedProtocolName)
	}

	pk.ProtocolVersion, offset, err = decodeByte(buf, offset)
	if err != nil {
		return fmt.Errorf("%s: %w", err, ErrMalformedProtocolVersion)
	}

	flags, offset, err := decodeByte(buf, offset)
	if err != nil {
		return fmt.Errorf("%s: %w", err, ErrMalformedFlags)
	}
	pk.ReservedBit = 1 & flags
	pk.CleanSession = 1&(flags>>1) > 0
	pk.WillFlag = 1&(flags>>2) > 0
	pk.WillQos = 3 & (flags >> 3)
	pk.WillRetain = 1&(flags>>5) > 0
	pk.PasswordFlag = 1&(flags>>6) > 0
	pk.UsernameFlag = 1&(flags>>7) > 0

	pk.Keepalive, offset, err = decodeUint16(buf, offset)
	if err != nil {
		return fmt.Errorf("%s: %w", err, ErrMalformedKeepalive)
	}

	pk.ClientIdentifier, offset, err = decodeString(buf, offset)
	if err != nil {
		return fmt.Errorf("%s: %w", err, ErrMalformedClientID)
	}

	if pk.WillFlag {
		pk.WillTopic, offset, err = decodeString(buf, offset)
		if err != nil {
			return fmt.Errorf("%s: %w", err, ErrMalformedWillTopic)
		}

		pk.WillMessage, offset, err = decodeBytes(buf, offset)
		if err != nil {
			return fmt.Errorf("%s: %w", err, ErrMalformedWillMessage)
		}
	}

	if pk.UsernameFlag {
		pk.Username, offset, err = decodeBytes(buf, offset)
		if err != nil {
			return fmt.Errorf("%s: %w", err, ErrMalformedUsername)
		}
	}

	if pk.PasswordFlag {
		pk.Password, _, err = decodeBytes(buf, offset)
		if err != nil {
			return fmt.Errorf("%s: %w", err, ErrMalformedPassword)
		}
	}

	return nil
}

// ConnectValidate ensures the connect packet is compliant, returning the
// Connack return code describing any refusal.
func (pk *Packet) ConnectValidate() (b byte, err error) {
	if !bytes.Equal(pk.ProtocolName, []byte("MQIsdp")) && !bytes.Equal(pk.ProtocolName, []byte("MQTT")) {
		return CodeConnectProtocolViolation, ErrProtocolViolation
	}

	// Both 3.1 and 3.1.1 level bytes are accepted with either protocol
	// name; real-world clients mix them freely.
	if pk.ProtocolVersion != 3 && pk.ProtocolVersion != 4 {
		return CodeBadProtocolVersion, ErrProtocolViolation
	}

	if pk.ReservedBit != 0 {
		return CodeConnectProtocolViolation, ErrProtocolViolation
	}

	if len(pk.ClientIdentifier) > 65535 {
		return CodeIdentifierRejected, ErrProtocolViolation
	}

	if pk.PasswordFlag && !pk.UsernameFlag {
		return CodeConnectProtocolViolation, ErrProtocolViolation
	}

	if len(pk.Username) > 65535 || len(pk.Password) > 65535 {
		return CodeConnectProtocolViolation, ErrProtocolViolation
	}

	// [MQTT-3.1.3-8] A zero-length client id with a persistent session
	// request must be rejected with IdentifierRejected.
	if !pk.CleanSession && len(pk.ClientIdentifier) == 0 {
		return CodeIdentifierRejected, ErrProtocolViolation
	}

	return Accepted, nil
}

// ConnackEncode encodes a Connack packet.
func (pk *Packet) ConnackEncode(buf *bytes.Buffer) error {
	pk.FixedHeader.Remaining = 2
	err := pk.FixedHeader.Encode(buf)
	if err != nil {
		return err
	}
	buf.WriteByte(encodeBool(pk.SessionPresent))
	buf.WriteByte(pk.ReturnCode)
	return nil
}

// ConnackDecode decodes a Connack packet.
func (pk *Packet) ConnackDecode(buf []byte) error {
	var offset int
	var err error

	pk.SessionPresent, offset, err = decodeByteBool(buf, 0)
	if err != nil {
		return fmt.Errorf("%s: %w", err, ErrMalformedSessionPresent)
	}

	pk.ReturnCode, _, err = decodeByte(buf, offset)
	if err != nil {
		return fmt.Errorf("%s: %w", err, ErrMalformedReturnCode)
	}

	return nil
}

// DisconnectEncode encodes a Disconnect packet.
func (pk *Packet) DisconnectEncode(buf *bytes.Buffer) error {
	pk.FixedHeader.Remaining = 0
	return pk.FixedHeader.Encode(buf)
}

// PingreqEncode encodes a Pingreq packet.
func (pk *Packet) PingreqEncode(buf *bytes.Buffer) error {
	pk.FixedHeader.Remaining = 0
	return pk.FixedHeader.Encode(buf)
}

// PingrespEncode encodes a Pingresp packet.
func (pk *Packet) PingrespEncode(buf *bytes.Buffer) error {
	pk.FixedHeader.Remaining = 0
	return pk.FixedHeader.Encode(buf)
}

// PubackEncode encodes a Puback packet.
func (pk *Packet) PubackEncode(buf *bytes.Buffer) error {
	pk.FixedHeader.Remaining = 2
	err := pk.FixedHeader.Encode(buf)
	if err != nil {
		return err
	}
	buf.Write(encodeUint16(pk.PacketID))
	return nil
}

// PubackDecode decodes a Puback packet.
func (pk *Packet) PubackDecode(buf []byte) error {
	var err error
	pk.PacketID, _, err = decodeUint16(buf, 0)
	if err != nil {
		return fmt.Errorf("%s: %w", err, ErrMalformedPacketID)
	}
	return nil
}

// PubcompEncode encodes a Pubcomp packet.
func (pk *Packet) PubcompEncode(buf *bytes.Buffer) error {
	pk.FixedHeader.Remaining = 2
	err := pk.FixedHeader.Encode(buf)
	if err != nil {
		return err
	}
	buf.Write(encodeUint16(pk.PacketID))
	return nil
}

// PubcompDecode decodes a Pubcomp packet.
func (pk *Packet) PubcompDecode(buf []byte) error {
	var err error
	pk.PacketID, _, err = decodeUint16(buf, 0)
	if err != nil {
		return fmt.Errorf("%s: %w", err, ErrMalformedPacketID)
	}
	return nil
}

// PublishEncode encodes a Publish packet.
func (pk *Packet) PublishEncode(buf *bytes.Buffer) error {
	topicName := encodeString(pk.TopicName)
	var packetID []byte

	// [MQTT-2.3.1-5] A PUBLISH Packet MUST NOT contain a Packet Identifier
	// if its QoS value is set to 0.
	if pk.FixedHeader.Qos > 0 {
		// [MQTT-2.3.1-1] QoS > 0 publishes must carry a non-zero packet id.
		if pk.PacketID == 0 {
			return ErrMissingPacketID
		}

		packetID = encodeUint16(pk.PacketID)
	}

	pk.FixedHeader.Remaining = len(topicName) + len(packetID) + len(pk.Payload)
	err := pk.FixedHeader.Encode(buf)
	if err != nil {
		return err
	}
	buf.Write(topicName)
	buf.Write(packetID)
	buf.Write(pk.Payload)

	return nil
}

// PublishDecode extracts the data values from a Publish packet.
func (pk *Packet) PublishDecode(buf []byte) error {
	var offset int
	var err error

	pk.TopicName, offset, err = decodeString(buf, 0)
	if err != nil {
		return fmt.Errorf("%s: %w", err, ErrMalformedTopic)
	}

	if !validUTF8([]byte(pk.TopicName)) {
		return ErrMalformedTopic
	}

	if pk.FixedHeader.Qos > 0 {
		pk.PacketID, offset, err = decodeUint16(buf, offset)
		if err != nil {
			return fmt.Errorf("%s: %w", err, ErrMalformedPacketID)
		}
	}

	pk.Payload = buf[offset:]

	return nil
}

// PublishCopy creates a new instance of a Publish packet bearing the same
// payload and destination topic, but with an empty header for inheriting new
// QoS flags and a fresh packet id.
func (pk *Packet) PublishCopy() Packet {
	return Packet{
		FixedHeader: FixedHeader{
			Type: Publish,
		},
		TopicName: pk.TopicName,
		Payload:   pk.Payload,
	}
}

// PublishValidate validates a Publish packet.
func (pk *Packet) PublishValidate() (byte, error) {
	// @SPEC [MQTT-2.3.1-1]
	if pk.FixedHeader.Qos > 0 && pk.PacketID == 0 {
		return CodeConnectProtocolViolation, ErrMissingPacketID
	}

	// @SPEC [MQTT-2.3.1-5]
	if pk.FixedHeader.Qos == 0 && pk.PacketID > 0 {
		return CodeConnectProtocolViolation, ErrSurplusPacketID
	}

	return Accepted, nil
}

// PubrecEncode encodes a Pubrec packet.
func (pk *Packet) PubrecEncode(buf *bytes.Buffer) error {
	pk.FixedHeader.Remaining = 2
	err := pk.FixedHeader.Encode(buf)
	if err != nil {
		return err
	}
	buf.Write(encodeUint16(pk.PacketID))
	return nil
}

// PubrecDecode decodes a Pubrec packet.
func (pk *Packet) PubrecDecode(buf []byte) error {
	var err error
	pk.PacketID, _, err = decodeUint16(buf, 0)
	if err != nil {
		return fmt.Errorf("%s: %w", err, ErrMalformedPacketID)
	}
	return nil
}

// PubrelEncode encodes a Pubrel packet. The fixed flag nibble is mandated
// to 0x02 by [MQTT-3.6.1-1].
func (pk *Packet) PubrelEncode(buf *bytes.Buffer) error {
	pk.FixedHeader.Qos = 1
	pk.FixedHeader.Remaining = 2
	err := pk.FixedHeader.Encode(buf)
	if err != nil {
		return err
	}
	buf.Write(encodeUint16(pk.PacketID))
	return nil
}

// PubrelDecode decodes a Pubrel packet.
func (pk *Packet) PubrelDecode(buf []byte) error {
	var err error
	pk.PacketID, _, err = decodeUint16(buf, 0)
	if err != nil {
		return fmt.Errorf("%s: %w", err, ErrMalformedPacketID)
	}
	return nil
}

// SubackEncode encodes a Suback packet.
func (pk *Packet) SubackEncode(buf *bytes.Buffer) error {
	packetID := encodeUint16(pk.PacketID)
	pk.FixedHeader.Remaining = len(packetID) + len(pk.ReturnCodes)
	err := pk.FixedHeader.Encode(buf)
	if err != nil {
		return err
	}

	buf.Write(packetID)
	buf.Write(pk.ReturnCodes)

	return nil
}

// SubackDecode decodes a Suback packet.
func (pk *Packet) SubackDecode(buf []byte) error {
	var offset int
	var err error

	pk.PacketID, offset, err = decodeUint16(buf, offset)
	if err != nil {
		return fmt.Errorf("%s: %w", err, ErrMalformedPacketID)
	}

	pk.ReturnCodes = buf[offset:]

	return nil
}

// SubscribeEncode encodes a Subscribe packet. The fixed flag nibble is
// mandated to 0x02 by [MQTT-3.8.1-1].
func (pk *Packet) SubscribeEncode(buf *bytes.Buffer) error {
	if pk.PacketID == 0 {
		return ErrMissingPacketID
	}

	packetID := encodeUint16(pk.PacketID)

	var topicsLen int
	for _, topic := range pk.Topics {
		topicsLen += len(encodeString(topic)) + 1
	}

	pk.FixedHeader.Qos = 1
	pk.FixedHeader.Remaining = len(packetID) + topicsLen
	err := pk.FixedHeader.Encode(buf)
	if err != nil {
		return err
	}
	buf.Write(packetID)

	for i, topic := range pk.Topics {
		buf.Write(encodeString(topic))
		buf.WriteByte(pk.Qoss[i])
	}

	return nil
}

// SubscribeDecode decodes a Subscribe packet.
func (pk *Packet) SubscribeDecode(buf []byte) error {
	var offset int
	var err error

	pk.PacketID, offset, err = decodeUint16(buf, 0)
	if err != nil {
		return fmt.Errorf("%s: %w", err, ErrMalformedPacketID)
	}

	// Keep decoding until there's no space left.
	for offset < len(buf) {
		var topic string
		topic, offset, err = decodeString(buf, offset)
		if err != nil {
			return fmt.Errorf("%s: %w", err, ErrMalformedTopic)
		}
		pk.Topics = append(pk.Topics, topic)

		var qos byte
		qos, offset, err = decodeByte(buf, offset)
		if err != nil {
			return fmt.Errorf("%s: %w", err, ErrMalformedQoS)
		}

		if qos > QosExactlyOnce {
			return ErrMalformedQoS
		}

		pk.Qoss = append(pk.Qoss, qos)
	}

	return nil
}

// SubscribeValidate ensures the packet is compliant.
func (pk *Packet) SubscribeValidate() (byte, error) {
	// @SPEC [MQTT-2.3.1-1]
	if pk.PacketID == 0 {
		return CodeConnectProtocolViolation, ErrMissingPacketID
	}

	return Accepted, nil
}

// UnsubackEncode encodes an Unsuback packet.
func (pk *Packet) UnsubackEncode(buf *bytes.Buffer) error {
	pk.FixedHeader.Remaining = 2
	err := pk.FixedHeader.Encode(buf)
	if err != nil {
		return err
	}
	buf.Write(encodeUint16(pk.PacketID))
	return nil
}

// UnsubackDecode decodes an Unsuback packet.
func (pk *Packet) UnsubackDecode(buf []byte) error {
	var err error
	pk.PacketID, _, err = decodeUint16(buf, 0)
	if err != nil {
		return fmt.Errorf("%s: %w", err, ErrMalformedPacketID)
	}
	return nil
}

// UnsubscribeEncode encodes an Unsubscribe packet. The fixed flag nibble is
// mandated to 0x02 by [MQTT-3.10.1-1].
func (pk *Packet) UnsubscribeEncode(buf *bytes.Buffer) error {
	if pk.PacketID == 0 {
		return ErrMissingPacketID
	}

	packetID := encodeUint16(pk.PacketID)

	var topicsLen int
	for _, topic := range pk.Topics {
		topicsLen += len(encodeString(topic))
	}

	pk.FixedHeader.Qos = 1
	pk.FixedHeader.Remaining = len(packetID) + topicsLen
	err := pk.FixedHeader.Encode(buf)
	if err != nil {
		return err
	}
	buf.Write(packetID)

	for _, topic := range pk.Topics {
		buf.Write(encodeString(topic))
	}

	return nil
}

// UnsubscribeDecode decodes an Unsubscribe packet.
func (pk *Packet) UnsubscribeDecode(buf []byte) error {
	var offset int
	var err error

	pk.PacketID, offset, err = decodeUint16(buf, 0)
	if err != nil {
		return fmt.Errorf("%s: %w", err, ErrMalformedPacketID)
	}

	for offset < len(buf) {
		var t string
		t, offset, err = decodeString(buf, offset)
		if err != nil {
			return fmt.Errorf("%s: %w", err, ErrMalformedTopic)
		}

		if len(t) > 0 {
			pk.Topics = append(pk.Topics, t)
		}
	}

	return nil
}

// UnsubscribeValidate validates an Unsubscribe packet.
func (pk *Packet) UnsubscribeValidate() (byte, error) {
	// @SPEC [MQTT-2.3.1-1]
	if pk.PacketID == 0 {
		return CodeConnectProtocolViolation, ErrMissingPacketID
	}

	return Accepted, nil
}

// FormatID returns the PacketID field as a decimal integer string.
func (pk *Packet) FormatID() string {
	return strconv.FormatUint(uint64(pk.PacketID), 10)
}
