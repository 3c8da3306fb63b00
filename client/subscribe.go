package client

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/inyotech/mqtt-broker/packets"
)

// Subscription is a topic filter and the QoS requested for it.
type Subscription struct {
	Filter string
	Qos    byte
}

// MessageHandler receives application messages delivered to a subscriber.
type MessageHandler func(topic string, payload []byte, qos byte)

// Subscribe registers the given filters with the broker and returns the
// granted return codes, positionally aligned with the request. Failed
// filters (0x80) and QoS downgrades are reported through the session log;
// the subscription stays up either way.
func (c *Session) Subscribe(subs []Subscription) ([]byte, error) {
	pk := packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Subscribe},
		PacketID:    c.nextPacketID(),
	}
	for _, sub := range subs {
		pk.Topics = append(pk.Topics, sub.Filter)
		pk.Qoss = append(pk.Qoss, sub.Qos)
	}

	if err := c.send(pk); err != nil {
		return nil, err
	}

	ack, err := c.readPacket()
	if err != nil {
		return nil, err
	}
	if ack.FixedHeader.Type != packets.Suback {
		return nil, fmt.Errorf("%w: expected suback, got type %d", ErrIllegalResponse, ack.FixedHeader.Type)
	}
	if ack.PacketID != pk.PacketID {
		c.log.WithFields(log.Fields{
			"want": pk.PacketID,
			"got":  ack.PacketID,
		}).Warn("suback for unexpected packet id")
	}
	if len(ack.ReturnCodes) != len(subs) {
		return ack.ReturnCodes, fmt.Errorf("%w: suback carries %d return codes for %d filters",
			ErrIllegalResponse, len(ack.ReturnCodes), len(subs))
	}

	for i, code := range ack.ReturnCodes {
		entry := c.log.WithField("filter", subs[i].Filter)
		switch {
		case code == packets.SubFail:
			entry.Warn("subscription rejected")
		case code < subs[i].Qos:
			entry.WithFields(log.Fields{
				"requested": subs[i].Qos,
				"granted":   code,
			}).Warn("subscription qos downgraded")
		}
	}

	return ack.ReturnCodes, nil
}

// Unsubscribe removes the given filters and waits for the Unsuback.
func (c *Session) Unsubscribe(filters []string) error {
	pk := packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Unsubscribe},
		PacketID:    c.nextPacketID(),
		Topics:      filters,
	}

	if err := c.send(pk); err != nil {
		return err
	}

	ack, err := c.readPacket()
	if err != nil {
		return err
	}
	if ack.FixedHeader.Type != packets.Unsuback {
		return fmt.Errorf("%w: expected unsuback, got type %d", ErrIllegalResponse, ack.FixedHeader.Type)
	}

	return nil
}

// Listen delivers incoming publishes to the handler until the connection
// ends, acknowledging each according to its QoS: Puback for QoS 1, Pubrec
// followed by the Pubrel/Pubcomp completion for QoS 2.
func (c *Session) Listen(handler MessageHandler) error {
	for {
		pk, err := c.readPacket()
		if err != nil {
			return err
		}

		switch pk.FixedHeader.Type {
		case packets.Publish:
			handler(pk.TopicName, pk.Payload, pk.FixedHeader.Qos)

			switch pk.FixedHeader.Qos {
			case packets.QosAtLeastOnce:
				err = c.send(packets.Packet{
					FixedHeader: packets.FixedHeader{Type: packets.Puback},
					PacketID:    pk.PacketID,
				})
			case packets.QosExactlyOnce:
				err = c.send(packets.Packet{
					FixedHeader: packets.FixedHeader{Type: packets.Pubrec},
					PacketID:    pk.PacketID,
				})
			}
			if err != nil {
				return err
			}

		case packets.Pubrel:
			err = c.send(packets.Packet{
				FixedHeader: packets.FixedHeader{Type: packets.Pubcomp},
				PacketID:    pk.PacketID,
			})
			if err != nil {
				return err
			}

		case packets.Pingresp:
			// Keep-alive response; nothing to do.

		default:
			c.log.WithField("packet_type", pk.FixedHeader.Type).Warn("ignoring unexpected packet")
		}
	}
}
