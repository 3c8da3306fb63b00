package client

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/inyotech/mqtt-broker/packets"
)

// Publish sends one application message and runs the acknowledgement flow
// the QoS level calls for: nothing at QoS 0, Puback at QoS 1, the
// Pubrec/Pubrel/Pubcomp exchange at QoS 2. Responses carrying an unexpected
// packet id are reported and skipped rather than treated as fatal.
func (c *Session) Publish(topic string, payload []byte, qos byte) error {
	if qos > packets.QosExactlyOnce {
		return fmt.Errorf("invalid qos %d", qos)
	}

	pk := packets.Packet{
		FixedHeader: packets.FixedHeader{
			Type: packets.Publish,
			Qos:  qos,
		},
		TopicName: topic,
		Payload:   payload,
	}

	if qos > packets.QosAtMostOnce {
		pk.PacketID = c.nextPacketID()
	}

	if err := c.send(pk); err != nil {
		return err
	}

	switch qos {
	case packets.QosAtMostOnce:
		return nil
	case packets.QosAtLeastOnce:
		return c.awaitAck(packets.Puback, pk.PacketID)
	default: // QosExactlyOnce
		if err := c.awaitAck(packets.Pubrec, pk.PacketID); err != nil {
			return err
		}
		err := c.send(packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Pubrel},
			PacketID:    pk.PacketID,
		})
		if err != nil {
			return err
		}
		return c.awaitAck(packets.Pubcomp, pk.PacketID)
	}
}

// awaitAck reads packets until one of the wanted type arrives with the
// wanted packet id.
func (c *Session) awaitAck(wantType byte, wantID uint16) error {
	for {
		pk, err := c.readPacket()
		if err != nil {
			return err
		}

		if pk.FixedHeader.Type != wantType {
			c.log.WithField("packet_type", pk.FixedHeader.Type).Warn("ignoring unexpected packet")
			continue
		}

		if pk.PacketID != wantID {
			c.log.WithFields(log.Fields{
				"want": wantID,
				"got":  pk.PacketID,
			}).Warn("acknowledgement for unexpected packet id")
			continue
		}

		return nil
	}
}
