package packets

// packetFixture pairs a fully populated packet with its exact wire bytes.
// The FixedHeader in each fixture carries the Remaining value the encoder
// is expected to produce, so decoded packets compare equal to the fixture.
type packetFixture struct {
	desc     string
	rawBytes []byte
	packet   *Packet
}

var packetFixtures = map[byte][]packetFixture{
	Connect: {
		{
			desc: "mqtt 3.1.1 clean session",
			rawBytes: []byte{
				Connect << 4, 19, // fixed header
				0, 4, 'M', 'Q', 'T', 'T', // protocol name
				4,     // protocol version
				2,     // flags: clean session
				0, 60, // keepalive
				0, 7, 'c', 'l', 'i', 'e', 'n', 't', '1', // client id
			},
			packet: &Packet{
				FixedHeader: FixedHeader{
					Type:      Connect,
					Remaining: 19,
				},
				ProtocolName:     []byte("MQTT"),
				ProtocolVersion:  4,
				CleanSession:     true,
				Keepalive:        60,
				ClientIdentifier: "client1",
			},
		},
		{
			desc: "mqtt 3.1 all fields",
			rawBytes: []byte{
				Connect << 4, 54, // fixed header
				0, 6, 'M', 'Q', 'I', 's', 'd', 'p', // protocol name
				4,   // protocol version
				246, // flags: username, password, will retain, will qos 2, will, clean
				0, 60, // keepalive
				0, 7, 'c', 'l', 'i', 'e', 'n', 't', '1', // client id
				0, 4, 'w', 'i', 'l', 'l', // will topic
				0, 10, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, // will message
				0, 1, 'u', // username
				0, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1, 0, // password
			},
			packet: &Packet{
				FixedHeader: FixedHeader{
					Type:      Connect,
					Remaining: 54,
				},
				ProtocolName:     []byte("MQIsdp"),
				ProtocolVersion:  4,
				CleanSession:     true,
				WillFlag:         true,
				WillQos:          2,
				WillRetain:       true,
				UsernameFlag:     true,
				PasswordFlag:     true,
				Keepalive:        60,
				ClientIdentifier: "client1",
				WillTopic:        "will",
				WillMessage:      []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
				Username:         []byte("u"),
				Password:         []byte{9, 8, 7, 6, 5, 4, 3, 2, 1, 0},
			},
		},
	},
	Connack: {
		{
			desc:     "session present, accepted",
			rawBytes: []byte{Connack << 4, 2, 1, Accepted},
			packet: &Packet{
				FixedHeader: FixedHeader{
					Type:      Connack,
					Remaining: 2,
				},
				SessionPresent: true,
				ReturnCode:     Accepted,
			},
		},
		{
			desc:     "not authorized",
			rawBytes: []byte{Connack << 4, 2, 0, CodeNotAuthorized},
			packet: &Packet{
				FixedHeader: FixedHeader{
					Type:      Connack,
					Remaining: 2,
				},
				ReturnCode: CodeNotAuthorized,
			},
		},
	},
	Publish: {
		{
			desc: "qos 0",
			rawBytes: []byte{
				Publish << 4, 12,
				0, 5, 'a', '/', 'b', '/', 'c',
				'h', 'e', 'l', 'l', 'o',
			},
			packet: &Packet{
				FixedHeader: FixedHeader{
					Type:      Publish,
					Remaining: 12,
				},
				TopicName: "a/b/c",
				Payload:   []byte("hello"),
			},
		},
		{
			desc: "qos 1 retained",
			rawBytes: []byte{
				Publish<<4 | 1<<1 | 1, 14,
				0, 5, 'a', '/', 'b', '/', 'c',
				0, 7,
				'h', 'e', 'l', 'l', 'o',
			},
			packet: &Packet{
				FixedHeader: FixedHeader{
					Type:      Publish,
					Qos:       1,
					Retain:    true,
					Remaining: 14,
				},
				TopicName: "a/b/c",
				PacketID:  7,
				Payload:   []byte("hello"),
			},
		},
		{
			desc: "qos 2 dup",
			rawBytes: []byte{
				Publish<<4 | 1<<3 | 2<<1, 14,
				0, 5, 'a', '/', 'b', '/', 'c',
				0, 7,
				'h', 'e', 'l', 'l', 'o',
			},
			packet: &Packet{
				FixedHeader: FixedHeader{
					Type:      Publish,
					Dup:       true,
					Qos:       2,
					Remaining: 14,
				},
				TopicName: "a/b/c",
				PacketID:  7,
				Payload:   []byte("hello"),
			},
		},
	},
	Puback: {
		{
			desc:     "puback",
			rawBytes: []byte{Puback << 4, 2, 0, 11},
			packet: &Packet{
				FixedHeader: FixedHeader{
					Type:      Puback,
					Remaining: 2,
				},
				PacketID: 11,
			},
		},
	},
	Pubrec: {
		{
			desc:     "pubrec",
			rawBytes: []byte{Pubrec << 4, 2, 0, 12},
			packet: &Packet{
				FixedHeader: FixedHeader{
					Type:      Pubrec,
					Remaining: 2,
				},
				PacketID: 12,
			},
		},
	},
	Pubrel: {
		{
			desc:     "pubrel",
			rawBytes: []byte{Pubrel<<4 | 2, 2, 0, 12},
			packet: &Packet{
				FixedHeader: FixedHeader{
					Type:      Pubrel,
					Qos:       1,
					Remaining: 2,
				},
				PacketID: 12,
			},
		},
	},
	Pubcomp: {
		{
			desc:     "pubcomp",
			rawBytes: []byte{Pubcomp << 4, 2, 0, 12},
			packet: &Packet{
				FixedHeader: FixedHeader{
					Type:      Pubcomp,
					Remaining: 2,
				},
				PacketID: 12,
			},
		},
	},
	Subscribe: {
		{
			desc: "two filters",
			rawBytes: []byte{
				Subscribe<<4 | 2, 14,
				0, 5,
				0, 3, 'a', '/', 'b',
				0,
				0, 3, 'd', '/', 'e',
				1,
			},
			packet: &Packet{
				FixedHeader: FixedHeader{
					Type:      Subscribe,
					Qos:       1,
					Remaining: 14,
				},
				PacketID: 5,
				Topics:   []string{"a/b", "d/e"},
				Qoss:     []byte{0, 1},
			},
		},
	},
	Suback: {
		{
			desc:     "mixed grants",
			rawBytes: []byte{Suback << 4, 4, 0, 5, 0, 1},
			packet: &Packet{
				FixedHeader: FixedHeader{
					Type:      Suback,
					Remaining: 4,
				},
				PacketID:    5,
				ReturnCodes: []byte{SubOKQos0, SubOKQos1},
			},
		},
	},
	Unsubscribe: {
		{
			desc: "one filter",
			rawBytes: []byte{
				Unsubscribe<<4 | 2, 7,
				0, 9,
				0, 3, 'a', '/', 'b',
			},
			packet: &Packet{
				FixedHeader: FixedHeader{
					Type:      Unsubscribe,
					Qos:       1,
					Remaining: 7,
				},
				PacketID: 9,
				Topics:   []string{"a/b"},
			},
		},
	},
	Unsuback: {
		{
			desc:     "unsuback",
			rawBytes: []byte{Unsuback << 4, 2, 0, 9},
			packet: &Packet{
				FixedHeader: FixedHeader{
					Type:      Unsuback,
					Remaining: 2,
				},
				PacketID: 9,
			},
		},
	},
	Pingreq: {
		{
			desc:     "pingreq",
			rawBytes: []byte{Pingreq << 4, 0},
			packet: &Packet{
				FixedHeader: FixedHeader{Type: Pingreq},
			},
		},
	},
	Pingresp: {
		{
			desc:     "pingresp",
			rawBytes: []byte{Pingresp << 4, 0},
			packet: &Packet{
				FixedHeader: FixedHeader{Type: Pingresp},
			},
		},
	},
	Disconnect: {
		{
			desc:     "disconnect",
			rawBytes: []byte{Disconnect << 4, 0},
			packet: &Packet{
				FixedHeader: FixedHeader{Type: Disconnect},
			},
		},
	},
}
