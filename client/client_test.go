package client

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/inyotech/mqtt-broker/packets"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// script is the broker end of a pipe, reading and writing raw packets.
type script struct {
	t      *testing.T
	conn   net.Conn
	framer *packets.Framer
	buf    []byte
}

func newScript(t *testing.T, conn net.Conn) *script {
	return &script{
		t:      t,
		conn:   conn,
		framer: packets.NewFramer(),
		buf:    make([]byte, 1024),
	}
}

func (sc *script) read() packets.Packet {
	sc.conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		frame, err := sc.framer.Next()
		require.NoError(sc.t, err)
		if frame != nil {
			pk, err := packets.Decode(frame)
			require.NoError(sc.t, err)
			return pk
		}

		n, err := sc.conn.Read(sc.buf)
		require.NoError(sc.t, err)
		sc.framer.Feed(sc.buf[:n])
	}
}

func (sc *script) write(pk packets.Packet) {
	buf, err := packets.Encode(&pk)
	require.NoError(sc.t, err)
	sc.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, err = sc.conn.Write(buf)
	require.NoError(sc.t, err)
}

// handshake consumes the Connect and answers with a Connack.
func (sc *script) handshake(returnCode byte, sessionPresent bool) packets.Packet {
	pk := sc.read()
	require.Equal(sc.t, packets.Connect, pk.FixedHeader.Type)
	sc.write(packets.Packet{
		FixedHeader:    packets.FixedHeader{Type: packets.Connack},
		SessionPresent: sessionPresent,
		ReturnCode:     returnCode,
	})
	return pk
}

func TestConnectHandshake(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()

	sess := New(cli, Options{
		ClientID:     "client1",
		CleanSession: true,
		KeepAlive:    30,
		Log:          quietLogger(),
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		sc := newScript(t, srv)
		pk := sc.handshake(packets.Accepted, false)
		require.Equal(t, []byte("MQIsdp"), pk.ProtocolName)
		require.Equal(t, byte(4), pk.ProtocolVersion)
		require.Equal(t, "client1", pk.ClientIdentifier)
		require.True(t, pk.CleanSession)
		require.Equal(t, uint16(30), pk.Keepalive)
	}()

	present, err := sess.Connect()
	require.NoError(t, err)
	require.False(t, present)
	<-done
}

func TestNewGeneratesClientID(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()

	sess := New(cli, Options{CleanSession: true, Log: quietLogger()})
	require.NotEmpty(t, sess.ClientID())
}

func TestConnectRefused(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()

	sess := New(cli, Options{ClientID: "client1", Log: quietLogger()})

	go func() {
		sc := newScript(t, srv)
		sc.handshake(packets.CodeBadUsernameOrPassword, false)
	}()

	_, err := sess.Connect()
	require.ErrorIs(t, err, ErrConnectionRefused)
}

func TestConnectCarriesCredentials(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()

	sess := New(cli, Options{
		ClientID: "client1",
		Username: []byte("user"),
		Password: []byte("pass"),
		Log:      quietLogger(),
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		sc := newScript(t, srv)
		pk := sc.handshake(packets.Accepted, false)
		require.True(t, pk.UsernameFlag)
		require.True(t, pk.PasswordFlag)
		require.Equal(t, []byte("user"), pk.Username)
		require.Equal(t, []byte("pass"), pk.Password)
	}()

	_, err := sess.Connect()
	require.NoError(t, err)
	<-done
}

func TestPublishQos0(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()

	sess := New(cli, Options{ClientID: "client1", Log: quietLogger()})

	done := make(chan struct{})
	go func() {
		defer close(done)
		sc := newScript(t, srv)
		sc.handshake(packets.Accepted, false)

		pk := sc.read()
		require.Equal(t, packets.Publish, pk.FixedHeader.Type)
		require.Equal(t, byte(0), pk.FixedHeader.Qos)
		require.Equal(t, "a/b", pk.TopicName)
		require.Equal(t, []byte("hi"), pk.Payload)
		require.Equal(t, uint16(0), pk.PacketID)

		pk = sc.read()
		require.Equal(t, packets.Disconnect, pk.FixedHeader.Type)
	}()

	_, err := sess.Connect()
	require.NoError(t, err)
	require.NoError(t, sess.Publish("a/b", []byte("hi"), 0))
	require.NoError(t, sess.Disconnect())
	<-done
}

func TestPublishQos1(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()

	sess := New(cli, Options{ClientID: "client1", Log: quietLogger()})

	go func() {
		sc := newScript(t, srv)
		sc.handshake(packets.Accepted, false)

		pk := sc.read()
		require.Equal(t, packets.Publish, pk.FixedHeader.Type)
		require.Equal(t, byte(1), pk.FixedHeader.Qos)
		require.NotZero(t, pk.PacketID)

		// An unrelated ack first; the client must keep waiting.
		sc.write(packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Puback},
			PacketID:    pk.PacketID + 1,
		})
		sc.write(packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Puback},
			PacketID:    pk.PacketID,
		})
	}()

	_, err := sess.Connect()
	require.NoError(t, err)
	require.NoError(t, sess.Publish("a/b", []byte("hi"), 1))
}

func TestPublishQos2(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()

	sess := New(cli, Options{ClientID: "client1", Log: quietLogger()})

	go func() {
		sc := newScript(t, srv)
		sc.handshake(packets.Accepted, false)

		pub := sc.read()
		require.Equal(t, packets.Publish, pub.FixedHeader.Type)
		require.Equal(t, byte(2), pub.FixedHeader.Qos)

		sc.write(packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Pubrec},
			PacketID:    pub.PacketID,
		})

		rel := sc.read()
		require.Equal(t, packets.Pubrel, rel.FixedHeader.Type)
		require.Equal(t, pub.PacketID, rel.PacketID)

		sc.write(packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Pubcomp},
			PacketID:    pub.PacketID,
		})
	}()

	_, err := sess.Connect()
	require.NoError(t, err)
	require.NoError(t, sess.Publish("a/b", []byte("hi"), 2))
}

func TestPublishInvalidQos(t *testing.T) {
	_, cli := net.Pipe()
	sess := New(cli, Options{ClientID: "client1", Log: quietLogger()})
	require.Error(t, sess.Publish("a/b", nil, 3))
}

func TestSubscribeGrantsAndDowngrades(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()

	sess := New(cli, Options{ClientID: "client1", Log: quietLogger()})

	go func() {
		sc := newScript(t, srv)
		sc.handshake(packets.Accepted, false)

		pk := sc.read()
		require.Equal(t, packets.Subscribe, pk.FixedHeader.Type)
		require.Equal(t, []string{"a/b", "c/#", "nope"}, pk.Topics)
		require.Equal(t, []byte{2, 1, 0}, pk.Qoss)

		sc.write(packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Suback},
			PacketID:    pk.PacketID,
			ReturnCodes: []byte{packets.SubOKQos1, packets.SubOKQos1, packets.SubFail},
		})
	}()

	_, err := sess.Connect()
	require.NoError(t, err)

	codes, err := sess.Subscribe([]Subscription{
		{Filter: "a/b", Qos: 2},
		{Filter: "c/#", Qos: 1},
		{Filter: "nope", Qos: 0},
	})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 1, packets.SubFail}, codes)
}

func TestUnsubscribe(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()

	sess := New(cli, Options{ClientID: "client1", Log: quietLogger()})

	go func() {
		sc := newScript(t, srv)
		sc.handshake(packets.Accepted, false)

		pk := sc.read()
		require.Equal(t, packets.Unsubscribe, pk.FixedHeader.Type)
		require.Equal(t, []string{"a/b"}, pk.Topics)

		sc.write(packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Unsuback},
			PacketID:    pk.PacketID,
		})
	}()

	_, err := sess.Connect()
	require.NoError(t, err)
	require.NoError(t, sess.Unsubscribe([]string{"a/b"}))
}

// TestListenAcknowledgesByQos drives the subscriber flow for all three QoS
// levels and checks the acknowledgements the client emits.
func TestListenAcknowledgesByQos(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()

	sess := New(cli, Options{ClientID: "client1", Log: quietLogger()})

	received := make(chan []byte, 8)

	go func() {
		sc := newScript(t, srv)
		sc.handshake(packets.Accepted, false)

		// QoS 0: no acknowledgement expected.
		sc.write(packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Publish},
			TopicName:   "t",
			Payload:     []byte("zero"),
		})

		// QoS 1: expect a Puback.
		sc.write(packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Publish, Qos: 1},
			TopicName:   "t",
			PacketID:    10,
			Payload:     []byte("one"),
		})
		ack := sc.read()
		require.Equal(t, packets.Puback, ack.FixedHeader.Type)
		require.Equal(t, uint16(10), ack.PacketID)

		// QoS 2: expect Pubrec, then complete with Pubrel/Pubcomp.
		sc.write(packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Publish, Qos: 2},
			TopicName:   "t",
			PacketID:    11,
			Payload:     []byte("two"),
		})
		rec := sc.read()
		require.Equal(t, packets.Pubrec, rec.FixedHeader.Type)
		require.Equal(t, uint16(11), rec.PacketID)

		sc.write(packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Pubrel, Qos: 1},
			PacketID:    11,
		})
		comp := sc.read()
		require.Equal(t, packets.Pubcomp, comp.FixedHeader.Type)
		require.Equal(t, uint16(11), comp.PacketID)

		srv.Close()
	}()

	_, err := sess.Connect()
	require.NoError(t, err)

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- sess.Listen(func(topic string, payload []byte, qos byte) {
			received <- payload
		})
	}()

	for _, want := range [][]byte{[]byte("zero"), []byte("one"), []byte("two")} {
		select {
		case got := <-received:
			require.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("did not receive %q", want)
		}
	}

	select {
	case err := <-listenErr:
		require.Error(t, err, "listen ends when the connection closes")
	case <-time.After(time.Second):
		t.Fatal("listen did not end")
	}
}

func TestPing(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()

	sess := New(cli, Options{ClientID: "client1", Log: quietLogger()})

	go func() {
		sc := newScript(t, srv)
		sc.handshake(packets.Accepted, false)

		pk := sc.read()
		require.Equal(t, packets.Pingreq, pk.FixedHeader.Type)
		sc.write(packets.Packet{FixedHeader: packets.FixedHeader{Type: packets.Pingresp}})
	}()

	_, err := sess.Connect()
	require.NoError(t, err)
	require.NoError(t, sess.Ping())
}
