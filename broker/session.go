package broker

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/inyotech/mqtt-broker/listeners/auth"
	"github.com/inyotech/mqtt-broker/packets"
	"github.com/inyotech/mqtt-broker/system"
)

var (
	// defaultKeepalive applies between accepting a connection and the
	// Connect packet advertising the real value, in seconds.
	defaultKeepalive uint16 = 10

	ErrTransportClosed = errors.New("transport not open")
)

// Subscription is a topic filter and the QoS granted for it. A session's
// subscriptions are held in arrival order and filters are unique within a
// session.
type Subscription struct {
	Filter string
	Qos    byte
}

// pendingPublish is an outbound QoS 2 publish clone awaiting Pubrec,
// remembering the publisher-side packet id for duplicate suppression.
type pendingPublish struct {
	pk       packets.Packet
	originID uint16
}

// Session holds the broker-side state for one client: identity, ordered
// subscriptions, the four QoS pending queues and the current transport. A
// session outlives its transport when the client requested a persistent
// session; the registry keeps it dormant until the client returns.
type Session struct {
	mu            sync.Mutex
	conn          net.Conn       // the current transport; nil while dormant.
	ac            auth.Controller // the auth policy inherited from the listener.
	log           *logrus.Entry
	system        *system.Info
	ID            string
	username      []byte // the username the client authenticated with.
	listener      string // the id of the listener the session arrived on.
	keepalive     uint16
	packetID      uint16
	CleanSession  bool
	subscriptions []Subscription

	qos1Unacked         []packets.Packet // outbound QoS 1 publishes awaiting Puback.
	qos2AwaitingPubrec  []pendingPublish // outbound QoS 2 publishes awaiting Pubrec.
	qos2AwaitingPubcomp []uint16         // Pubrel'd packet ids awaiting Pubcomp.
	qos2InboundPubrel   []uint16         // inbound packet ids Pubrec'd, awaiting Pubrel.
}

// newSession returns a session in the awaiting-connect state, bound to conn.
func newSession(lid string, c net.Conn, ac auth.Controller, s *system.Info, log *logrus.Entry) *Session {
	sess := &Session{
		conn:      c,
		ac:        ac,
		log:       log,
		system:    s,
		listener:  lid,
		keepalive: defaultKeepalive,
	}

	sess.refreshDeadline()

	return sess
}

// identify adopts the identity carried by a Connect packet. An empty client
// id (legal only with clean-session) is replaced with a generated one.
func (s *Session) identify(pk packets.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ID = pk.ClientIdentifier
	if s.ID == "" {
		s.ID = xid.New().String()
	}

	s.CleanSession = pk.CleanSession
	s.keepalive = pk.Keepalive
	s.username = pk.Username
	s.log = s.log.WithField("client_id", s.ID)

	s.refreshDeadline()
}

// ClientID returns the session's client id, empty until a Connect is adopted.
func (s *Session) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ID
}

// Connected reports whether the session currently owns a live transport.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// refreshDeadline pushes out the transport read/write deadline to 1.5x the
// advertised keep-alive [MQTT-3.1.2-24]. A keep-alive of zero disables the
// deadline. Callers hold s.mu.
func (s *Session) refreshDeadline() {
	if s.conn == nil {
		return
	}

	var expiry time.Time
	if s.keepalive > 0 {
		expiry = time.Now().Add(time.Duration(s.keepalive) * 1500 * time.Millisecond)
	}
	s.conn.SetDeadline(expiry)
}

// nextPacketID returns the next outbound packet id, wrapping within
// 1..65535. Zero is reserved [MQTT-2.3.1-1]. Callers hold s.mu.
func (s *Session) nextPacketID() uint16 {
	if s.packetID == 65535 {
		s.packetID = 1
	} else {
		s.packetID++
	}
	return s.packetID
}

// NextPacketID returns the next outbound packet id.
func (s *Session) NextPacketID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextPacketID()
}

// WritePacket encodes and writes a packet to the session's transport.
func (s *Session) WritePacket(pk packets.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writePacket(pk)
}

// writePacket encodes and writes with s.mu held. Write failures surface on
// the reader goroutine as well, so they are returned rather than acted on.
func (s *Session) writePacket(pk packets.Packet) error {
	if s.conn == nil {
		return ErrTransportClosed
	}

	buf, err := packets.Encode(&pk)
	if err != nil {
		return err
	}

	n, err := s.conn.Write(buf)
	if err != nil {
		return err
	}

	atomic.AddInt64(&s.system.BytesSent, int64(n))
	atomic.AddInt64(&s.system.MessagesSent, 1)
	if pk.FixedHeader.Type == packets.Publish {
		atomic.AddInt64(&s.system.PublishSent, 1)
	}

	s.refreshDeadline()

	return nil
}

// attachTransport hands the session a replacement transport, closing any
// transport it still holds. Used during session takeover.
func (s *Session) attachTransport(lid string, c net.Conn, ac auth.Controller, pk packets.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
	}

	s.conn = c
	s.ac = ac
	s.listener = lid
	s.keepalive = pk.Keepalive
	s.username = pk.Username
	s.refreshDeadline()
}

// acl consults the session's auth controller for topic access.
func (s *Session) acl(topic string, write bool) bool {
	s.mu.Lock()
	ac := s.ac
	user := s.username
	s.mu.Unlock()

	if ac == nil {
		return false
	}
	return ac.ACL(user, topic, write)
}

// detachTransportIf drops the session's transport reference, but only if it
// still refers to c. A session taken over by a newer connection keeps the
// replacement transport when the old reader goroutine winds down.
func (s *Session) detachTransportIf(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == c {
		s.conn = nil
	}
}

// closeTransport closes the session's transport if one is attached.
func (s *Session) closeTransport() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// addSubscription appends a subscription, replacing any existing entry with
// a byte-equal filter. Returns true if the filter was new to the session.
func (s *Session) addSubscription(filter string, qos byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.subscriptions {
		if s.subscriptions[i].Filter == filter {
			s.subscriptions = append(s.subscriptions[:i], s.subscriptions[i+1:]...)
			s.subscriptions = append(s.subscriptions, Subscription{Filter: filter, Qos: qos})
			return false
		}
	}

	s.subscriptions = append(s.subscriptions, Subscription{Filter: filter, Qos: qos})
	return true
}

// removeSubscription removes the subscription with a byte-equal filter.
// Returns true if one existed.
func (s *Session) removeSubscription(filter string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.subscriptions {
		if s.subscriptions[i].Filter == filter {
			s.subscriptions = append(s.subscriptions[:i], s.subscriptions[i+1:]...)
			return true
		}
	}

	return false
}

// Subscriptions returns a copy of the session's subscriptions in arrival order.
func (s *Session) Subscriptions() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := make([]Subscription, len(s.subscriptions))
	copy(subs, s.subscriptions)
	return subs
}

// markInboundQos2 records an inbound QoS 2 packet id awaiting Pubrel.
// Returns true if the id was not already pending, i.e. this is the first
// delivery and the message should be fanned out.
func (s *Session) markInboundQos2(id uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pending := range s.qos2InboundPubrel {
		if pending == id {
			return false
		}
	}

	s.qos2InboundPubrel = append(s.qos2InboundPubrel, id)
	atomic.AddInt64(&s.system.Inflight, 1)
	return true
}

// ackQos1 removes the outbound QoS 1 publish matching a received Puback.
func (s *Session) ackQos1(id uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.qos1Unacked {
		if s.qos1Unacked[i].PacketID == id {
			s.qos1Unacked = append(s.qos1Unacked[:i], s.qos1Unacked[i+1:]...)
			atomic.AddInt64(&s.system.Inflight, -1)
			return true
		}
	}

	return false
}

// onPubrec advances an outbound QoS 2 exchange: the publish leaves the
// awaiting-Pubrec queue and its id joins the awaiting-Pubcomp queue.
func (s *Session) onPubrec(id uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < len(s.qos2AwaitingPubrec); {
		if s.qos2AwaitingPubrec[i].pk.PacketID == id {
			s.qos2AwaitingPubrec = append(s.qos2AwaitingPubrec[:i], s.qos2AwaitingPubrec[i+1:]...)
			atomic.AddInt64(&s.system.Inflight, -1)
		} else {
			i++
		}
	}

	for _, pending := range s.qos2AwaitingPubcomp {
		if pending == id {
			return
		}
	}
	s.qos2AwaitingPubcomp = append(s.qos2AwaitingPubcomp, id)
	atomic.AddInt64(&s.system.Inflight, 1)
}

// onPubrel clears an inbound QoS 2 packet id for which a Pubrel arrived.
func (s *Session) onPubrel(id uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < len(s.qos2InboundPubrel); {
		if s.qos2InboundPubrel[i] == id {
			s.qos2InboundPubrel = append(s.qos2InboundPubrel[:i], s.qos2InboundPubrel[i+1:]...)
			atomic.AddInt64(&s.system.Inflight, -1)
		} else {
			i++
		}
	}
}

// onPubcomp completes an outbound QoS 2 exchange.
func (s *Session) onPubcomp(id uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < len(s.qos2AwaitingPubcomp); {
		if s.qos2AwaitingPubcomp[i] == id {
			s.qos2AwaitingPubcomp = append(s.qos2AwaitingPubcomp[:i], s.qos2AwaitingPubcomp[i+1:]...)
			atomic.AddInt64(&s.system.Inflight, -1)
		} else {
			i++
		}
	}
}

// ForwardPacket delivers a publish originating from another session to this
// one, per the QoS of the publish. QoS 0 is fire-and-forget; QoS 1 and 2
// clones are enqueued with dup and retain cleared and a packet id from this
// session's own counter, so the exchange can resume over a later transport.
func (s *Session) ForwardPacket(pk packets.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch pk.FixedHeader.Qos {
	case packets.QosAtMostOnce:
		out := pk.PublishCopy()
		s.writePacket(out) // best effort; a dormant session simply misses it.

	case packets.QosAtLeastOnce:
		out := pk.PublishCopy()
		out.FixedHeader.Qos = packets.QosAtLeastOnce
		out.PacketID = s.nextPacketID()
		s.qos1Unacked = append(s.qos1Unacked, out)
		atomic.AddInt64(&s.system.Inflight, 1)
		s.writePacket(out)

	case packets.QosExactlyOnce:
		out := pk.PublishCopy()
		out.FixedHeader.Qos = packets.QosExactlyOnce
		out.PacketID = s.nextPacketID()

		seen := false
		for _, pending := range s.qos2AwaitingPubrec {
			if pending.originID == pk.PacketID {
				seen = true
				break
			}
		}
		if !seen {
			s.qos2AwaitingPubrec = append(s.qos2AwaitingPubrec, pendingPublish{pk: out, originID: pk.PacketID})
			atomic.AddInt64(&s.system.Inflight, 1)
		}

		s.writePacket(out)
	}
}

// SendPending transmits one head element from the first non-empty pending
// queue, in priority order: QoS 1 unacked publishes, QoS 2 publishes
// awaiting Pubrec, inbound ids awaiting Pubrel (as Pubrec), Pubrel'd ids
// awaiting Pubcomp (as Pubrel). Called after every inbound packet, this is
// how a resumed session drains its backlog one exchange per turn.
func (s *Session) SendPending() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return
	}

	switch {
	case len(s.qos1Unacked) > 0:
		s.writePacket(s.qos1Unacked[0])
	case len(s.qos2AwaitingPubrec) > 0:
		s.writePacket(s.qos2AwaitingPubrec[0].pk)
	case len(s.qos2InboundPubrel) > 0:
		s.writePacket(packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Pubrec},
			PacketID:    s.qos2InboundPubrel[0],
		})
	case len(s.qos2AwaitingPubcomp) > 0:
		s.writePacket(packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Pubrel},
			PacketID:    s.qos2AwaitingPubcomp[0],
		})
	}
}

// PendingCounts reports the sizes of the four pending queues, in SendPending
// priority order.
func (s *Session) PendingCounts() (qos1, awaitingPubrec, inboundPubrel, awaitingPubcomp int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.qos1Unacked), len(s.qos2AwaitingPubrec), len(s.qos2InboundPubrel), len(s.qos2AwaitingPubcomp)
}
