// Package broker implements the MQTT 3.1.1 session layer: per-client
// session state machines, the session registry with takeover on reconnect,
// and publish fan-out across subscriptions.
//
// Pending-queue memory is bounded only by the rate of inbound publishes;
// there is no admission control. Queues drain when the owning client
// reconnects, one exchange per inbound packet.
package broker

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inyotech/mqtt-broker/listeners"
	"github.com/inyotech/mqtt-broker/listeners/auth"
	"github.com/inyotech/mqtt-broker/packets"
	"github.com/inyotech/mqtt-broker/system"
	"github.com/inyotech/mqtt-broker/topics"
)

const (
	Version = "1.0.0" // the broker version.

	// readBufferSize is the per-connection read chunk handed to the framer.
	readBufferSize = 4096
)

var (
	ErrListenerIDExists     = errors.New("listener id already exists")
	ErrReadConnectInvalid   = errors.New("first packet was not a valid connect")
	ErrConnectNotAuthorized = errors.New("connect packet was not authorized")
	ErrConnectRefused       = errors.New("connect refused")

	// errClientDisconnected ends a read loop after a clean Disconnect.
	errClientDisconnected = errors.New("client initiated disconnect")
)

// Server is an MQTT 3.1.1 broker.
type Server struct {
	Listeners *listeners.Listeners // listeners listen for new connections.
	Sessions  *Sessions            // all live and dormant sessions.
	System    *system.Info         // runtime counters.
	Log       *logrus.Logger
}

// New returns a new instance of an MQTT broker.
func New() *Server {
	logger := logrus.New()

	s := &Server{
		Sessions: NewSessions(),
		System: &system.Info{
			Version: Version,
			Started: time.Now().Unix(),
		},
		Log: logger,
	}

	s.Listeners = listeners.New(s.System)

	return s
}

// AddListener adds a new network listener to the server.
func (s *Server) AddListener(listener listeners.Listener, config *listeners.Config) error {
	if _, ok := s.Listeners.Get(listener.ID()); ok {
		return ErrListenerIDExists
	}

	if config != nil {
		listener.SetConfig(config)
	}

	s.Listeners.Add(listener)

	return listener.Listen(s.System)
}

// Serve starts all attached listeners accepting connections.
func (s *Server) Serve() {
	s.Listeners.ServeAll(s.EstablishConnection)
}

// EstablishConnection runs the full lifetime of one client connection: it
// creates an awaiting-connect session, frames and dispatches every packet
// the transport delivers, and on exit applies the session's clean/persist
// policy. Listeners call it once per accepted connection.
func (s *Server) EstablishConnection(lid string, c net.Conn, ac auth.Controller) error {
	sess := newSession(lid, c, ac, s.System, s.Log.WithField("listener", lid))
	s.Sessions.Add(sess)

	atomic.AddInt64(&s.System.ConnectionsTotal, 1)
	atomic.AddInt64(&s.System.ClientsConnected, 1)
	if live := atomic.LoadInt64(&s.System.ClientsConnected); live > atomic.LoadInt64(&s.System.ClientsMax) {
		atomic.StoreInt64(&s.System.ClientsMax, live)
	}

	err := s.readLoop(lid, c, ac, sess)

	atomic.AddInt64(&s.System.ClientsConnected, -1)

	if err != nil && err != errClientDisconnected {
		return err
	}
	return nil
}

// readLoop feeds the framer from the transport and dispatches each decoded
// packet. cur tracks which session owns the transport; a takeover swaps it
// mid-loop.
func (s *Server) readLoop(lid string, c net.Conn, ac auth.Controller, skeleton *Session) error {
	framer := packets.NewFramer()
	buf := make([]byte, readBufferSize)
	cur := skeleton
	connected := false

	defer c.Close()

	for {
		frame, err := framer.Next()
		if err != nil {
			s.closeOnError(cur, c, connected)
			return err
		}

		if frame == nil {
			n, rerr := c.Read(buf)
			if n > 0 {
				atomic.AddInt64(&s.System.BytesRecv, int64(n))
				framer.Feed(buf[:n])
			}
			if rerr != nil {
				s.endTransport(cur, c, connected)
				return nil
			}
			continue
		}

		pk, derr := packets.Decode(frame)
		if derr != nil {
			cur.log.WithError(derr).Warn("protocol error, closing connection")
			s.closeOnError(cur, c, connected)
			return derr
		}

		atomic.AddInt64(&s.System.MessagesRecv, 1)

		// Every inbound packet counts as activity for the keep-alive deadline.
		cur.mu.Lock()
		cur.refreshDeadline()
		cur.mu.Unlock()

		if !connected {
			if pk.FixedHeader.Type != packets.Connect {
				s.closeOnError(cur, c, connected)
				return ErrReadConnectInvalid
			}

			next, cerr := s.processConnect(skeleton, lid, c, ac, pk)
			if cerr != nil {
				return cerr
			}
			cur = next
			connected = true
		} else {
			perr := s.processPacket(cur, pk)
			if perr == errClientDisconnected {
				s.endSession(cur, c)
				return perr
			}
			if perr != nil {
				cur.log.WithError(perr).Warn("closing connection")
				s.closeOnError(cur, c, connected)
				return perr
			}
		}

		cur.SendPending()
	}
}

// closeOnError tears the connection down after a protocol or write error. A
// session which never completed its Connect, or asked for a clean session,
// is erased; otherwise it persists without a transport.
func (s *Server) closeOnError(sess *Session, c net.Conn, connected bool) {
	if !connected || sess.CleanSession {
		s.Sessions.Erase(sess)
	} else {
		sess.detachTransportIf(c)
		atomic.AddInt64(&s.System.ClientsDisconnected, 1)
	}
	c.Close()
}

// endTransport handles transport EOF or failure: clean sessions are erased,
// persistent sessions stay registered without a transport.
func (s *Server) endTransport(sess *Session, c net.Conn, connected bool) {
	if !connected || sess.CleanSession {
		s.Sessions.Erase(sess)
		if connected {
			sess.log.Info("connection closed, session erased")
		}
	} else {
		sess.detachTransportIf(c)
		atomic.AddInt64(&s.System.ClientsDisconnected, 1)
		sess.log.Info("connection closed, session persisted")
	}
}

// endSession handles a clean Disconnect from the client.
func (s *Server) endSession(sess *Session, c net.Conn) {
	if sess.CleanSession {
		s.Sessions.Erase(sess)
		sess.log.Info("client disconnected, session erased")
	} else {
		sess.detachTransportIf(c)
		atomic.AddInt64(&s.System.ClientsDisconnected, 1)
		sess.log.Info("client disconnected, session persisted")
	}
}

// processConnect validates and authorizes a Connect, then either adopts the
// identity on the accepting session, or performs a takeover onto an
// existing persisted session. Returns the session which owns the transport
// from here on.
func (s *Server) processConnect(skeleton *Session, lid string, c net.Conn, ac auth.Controller, pk packets.Packet) (*Session, error) {
	retcode, _ := pk.ConnectValidate()

	if retcode == packets.Accepted && !ac.Authenticate(pk.Username, pk.Password) {
		retcode = packets.CodeNotAuthorized
	}

	if retcode != packets.Accepted {
		// Violations with no expressible return code are closed without a
		// Connack [MQTT-3.1.4-1].
		if retcode != packets.CodeConnectProtocolViolation {
			skeleton.WritePacket(packets.Packet{
				FixedHeader: packets.FixedHeader{Type: packets.Connack},
				ReturnCode:  retcode,
			})
		}
		s.Sessions.Erase(skeleton)
		c.Close()
		skeleton.log.WithField("return_code", retcode).Info("connect refused")
		if retcode == packets.CodeNotAuthorized {
			return nil, ErrConnectNotAuthorized
		}
		return nil, ErrConnectRefused
	}

	if pk.CleanSession {
		// A clean-session connect discards any previous state held for the
		// client id.
		s.Sessions.EraseID(pk.ClientIdentifier)
		skeleton.identify(pk)
		skeleton.log.Info("client connected")

		return skeleton, skeleton.WritePacket(packets.Packet{
			FixedHeader:    packets.FixedHeader{Type: packets.Connack},
			SessionPresent: false,
			ReturnCode:     packets.Accepted,
		})
	}

	if existing := s.Sessions.Find(pk.ClientIdentifier); existing != nil && existing != skeleton {
		// Takeover: the persisted session inherits this transport and the
		// accepting skeleton is discarded. Its backlog begins draining with
		// the SendPending call that follows every inbound packet.
		wasLive := existing.Connected()
		existing.attachTransport(lid, c, ac, pk)
		s.Sessions.Erase(skeleton)
		if !wasLive {
			atomic.AddInt64(&s.System.ClientsDisconnected, -1)
		}
		existing.log.Info("session resumed")

		return existing, existing.WritePacket(packets.Packet{
			FixedHeader:    packets.FixedHeader{Type: packets.Connack},
			SessionPresent: true,
			ReturnCode:     packets.Accepted,
		})
	}

	skeleton.identify(pk)
	atomic.AddInt64(&s.System.ClientsTotal, 1)
	skeleton.log.Info("client connected")

	return skeleton, skeleton.WritePacket(packets.Packet{
		FixedHeader:    packets.FixedHeader{Type: packets.Connack},
		SessionPresent: false,
		ReturnCode:     packets.Accepted,
	})
}

// processPacket dispatches one inbound packet for a connected session.
func (s *Server) processPacket(sess *Session, pk packets.Packet) error {
	switch pk.FixedHeader.Type {
	case packets.Connect:
		// [MQTT-3.1.0-2] a second Connect is a protocol violation.
		return packets.ErrProtocolViolation
	case packets.Disconnect:
		return errClientDisconnected
	case packets.Pingreq:
		return sess.WritePacket(packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Pingresp},
		})
	case packets.Publish:
		if _, err := pk.PublishValidate(); err != nil {
			return err
		}
		return s.processPublish(sess, pk)
	case packets.Puback:
		sess.ackQos1(pk.PacketID)
		return nil
	case packets.Pubrec:
		sess.onPubrec(pk.PacketID)
		return sess.WritePacket(packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Pubrel},
			PacketID:    pk.PacketID,
		})
	case packets.Pubrel:
		sess.onPubrel(pk.PacketID)
		return sess.WritePacket(packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Pubcomp},
			PacketID:    pk.PacketID,
		})
	case packets.Pubcomp:
		sess.onPubcomp(pk.PacketID)
		return nil
	case packets.Subscribe:
		if _, err := pk.SubscribeValidate(); err != nil {
			return err
		}
		return s.processSubscribe(sess, pk)
	case packets.Unsubscribe:
		if _, err := pk.UnsubscribeValidate(); err != nil {
			return err
		}
		return s.processUnsubscribe(sess, pk)
	default:
		// Connack, Suback, Unsuback and Pingresp are server-to-client only.
		return fmt.Errorf("%w: unexpected packet type %d", packets.ErrProtocolViolation, pk.FixedHeader.Type)
	}
}

// processPublish runs the inbound side of the publish flows. QoS 2 ids
// already awaiting their Pubrel fan out only once, but are Pubrec'd every
// time, which yields exactly-once delivery under retransmission.
func (s *Server) processPublish(sess *Session, pk packets.Packet) error {
	if err := topics.ValidateName(pk.TopicName); err != nil {
		return fmt.Errorf("%w: %s", packets.ErrProtocolViolation, err)
	}

	atomic.AddInt64(&s.System.PublishRecv, 1)

	if !sess.acl(pk.TopicName, true) {
		return nil
	}

	switch pk.FixedHeader.Qos {
	case packets.QosAtMostOnce:
		s.publishToSubscribers(pk)
		return nil

	case packets.QosAtLeastOnce:
		s.publishToSubscribers(pk)
		return sess.WritePacket(packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Puback},
			PacketID:    pk.PacketID,
		})

	default: // QosExactlyOnce
		if sess.markInboundQos2(pk.PacketID) {
			s.publishToSubscribers(pk)
		}
		return sess.WritePacket(packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Pubrec},
			PacketID:    pk.PacketID,
		})
	}
}

// publishToSubscribers fans a publish out to every matching subscription of
// every session, in registry insertion order. A session holding several
// matching filters receives one copy per filter [MQTT-3.3.5].
func (s *Server) publishToSubscribers(pk packets.Packet) {
	for _, target := range s.Sessions.All() {
		for _, sub := range target.Subscriptions() {
			if topics.Match(sub.Filter, pk.TopicName) {
				target.ForwardPacket(pk)
			}
		}
	}
}

// processSubscribe registers each requested filter, replacing any prior
// subscription with a byte-equal filter, and grants the requested QoS.
// Invalid or disallowed filters are reported per-topic in the Suback.
func (s *Server) processSubscribe(sess *Session, pk packets.Packet) error {
	retCodes := make([]byte, len(pk.Topics))
	for i := range pk.Topics {
		if topics.ValidateFilter(pk.Topics[i]) != nil || !sess.acl(pk.Topics[i], false) {
			retCodes[i] = packets.SubFail
			continue
		}

		if sess.addSubscription(pk.Topics[i], pk.Qoss[i]) {
			atomic.AddInt64(&s.System.Subscriptions, 1)
		}
		retCodes[i] = pk.Qoss[i]
	}

	return sess.WritePacket(packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Suback},
		PacketID:    pk.PacketID,
		ReturnCodes: retCodes,
	})
}

// processUnsubscribe removes each named filter and acknowledges with an
// Unsuback [MQTT-3.10.4-1].
func (s *Server) processUnsubscribe(sess *Session, pk packets.Packet) error {
	for _, filter := range pk.Topics {
		if sess.removeSubscription(filter) {
			atomic.AddInt64(&s.System.Subscriptions, -1)
		}
	}

	return sess.WritePacket(packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Unsuback},
		PacketID:    pk.PacketID,
	})
}

// Close gracefully shuts down the server, all listeners and all transports.
func (s *Server) Close() error {
	s.Listeners.CloseAll(s.closeListenerClients)
	return nil
}

// closeListenerClients closes the transports of all sessions attached to a
// listener.
func (s *Server) closeListenerClients(listener string) {
	for _, sess := range s.Sessions.All() {
		if sess.listener == listener {
			sess.closeTransport()
		}
	}
}
