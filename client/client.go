// Package client implements the client half of the MQTT 3.1.1 session
// protocol: the connect handshake plus the publisher and subscriber flows
// used by the bundled CLIs.
package client

import (
	"errors"
	"fmt"
	"net"

	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"

	"github.com/inyotech/mqtt-broker/packets"
)

var (
	ErrConnectionRefused = errors.New("connection refused by broker")
	ErrIllegalResponse   = errors.New("illegal response received from broker")
)

// Options configures a client session.
type Options struct {
	// ClientID is the identity presented to the broker. Left empty, a
	// generated id is used.
	ClientID string

	// CleanSession requests that the broker discard any persisted session
	// state for this client id.
	CleanSession bool

	// KeepAlive is the advertised keep-alive interval in seconds. Zero
	// disables keep-alive.
	KeepAlive uint16

	Username []byte
	Password []byte

	// Log receives client protocol events. Defaults to the standard logger.
	Log *log.Logger
}

// Session is a client-side MQTT session bound to an established connection.
// The session takes complete ownership of the connection; it is not safe
// for concurrent use.
type Session struct {
	conn     net.Conn
	framer   *packets.Framer
	buf      []byte
	opts     Options
	packetID uint16
	log      *log.Entry
}

// New initializes a client session over an established connection. The
// caller must invoke Connect before any other operation.
func New(conn net.Conn, opts Options) *Session {
	if opts.ClientID == "" {
		opts.ClientID = xid.New().String()
	}
	if opts.Log == nil {
		opts.Log = log.StandardLogger()
	}

	return &Session{
		conn:   conn,
		framer: packets.NewFramer(),
		buf:    make([]byte, 4096),
		opts:   opts,
		log:    opts.Log.WithField("client_id", opts.ClientID),
	}
}

// ClientID returns the identity the session presents to the broker.
func (c *Session) ClientID() string {
	return c.opts.ClientID
}

// Connect performs the Connect/Connack handshake. It reports whether the
// broker resumed a persisted session, and fails on any non-accepted return
// code, after which the connection is unusable [MQTT-3.2.2-5].
func (c *Session) Connect() (sessionPresent bool, err error) {
	pk := packets.Packet{
		FixedHeader:      packets.FixedHeader{Type: packets.Connect},
		ProtocolName:     []byte("MQIsdp"),
		ProtocolVersion:  4,
		ClientIdentifier: c.opts.ClientID,
		CleanSession:     c.opts.CleanSession,
		Keepalive:        c.opts.KeepAlive,
	}

	if len(c.opts.Username) > 0 {
		pk.UsernameFlag = true
		pk.Username = c.opts.Username
	}
	if len(c.opts.Password) > 0 {
		pk.PasswordFlag = true
		pk.Password = c.opts.Password
	}

	if err = c.send(pk); err != nil {
		return false, err
	}

	ack, err := c.readPacket()
	if err != nil {
		return false, err
	}

	if ack.FixedHeader.Type != packets.Connack {
		return false, fmt.Errorf("%w: expected connack, got type %d", ErrIllegalResponse, ack.FixedHeader.Type)
	}

	if ack.ReturnCode != packets.Accepted {
		c.conn.Close()
		return false, fmt.Errorf("%w: return code %d", ErrConnectionRefused, ack.ReturnCode)
	}

	c.log.WithField("session_present", ack.SessionPresent).Debug("connected")

	return ack.SessionPresent, nil
}

// Disconnect sends a clean Disconnect and closes the connection.
func (c *Session) Disconnect() error {
	err := c.send(packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Disconnect},
	})
	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// Ping sends a Pingreq and waits for the Pingresp.
func (c *Session) Ping() error {
	err := c.send(packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Pingreq},
	})
	if err != nil {
		return err
	}

	pk, err := c.readPacket()
	if err != nil {
		return err
	}
	if pk.FixedHeader.Type != packets.Pingresp {
		return fmt.Errorf("%w: expected pingresp, got type %d", ErrIllegalResponse, pk.FixedHeader.Type)
	}
	return nil
}

// nextPacketID returns the next packet id, wrapping within 1..65535.
func (c *Session) nextPacketID() uint16 {
	if c.packetID == 65535 {
		c.packetID = 1
	} else {
		c.packetID++
	}
	return c.packetID
}

// send encodes and writes one packet.
func (c *Session) send(pk packets.Packet) error {
	buf, err := packets.Encode(&pk)
	if err != nil {
		return err
	}

	_, err = c.conn.Write(buf)
	return err
}

// readPacket blocks until one complete packet arrives.
func (c *Session) readPacket() (packets.Packet, error) {
	for {
		frame, err := c.framer.Next()
		if err != nil {
			return packets.Packet{}, err
		}
		if frame != nil {
			return packets.Decode(frame)
		}

		n, rerr := c.conn.Read(c.buf)
		if n > 0 {
			c.framer.Feed(c.buf[:n])
		}
		if rerr != nil {
			// The failed read may still have completed a buffered frame.
			if frame, err := c.framer.Next(); err == nil && frame != nil {
				return packets.Decode(frame)
			}
			return packets.Packet{}, rerr
		}
	}
}
