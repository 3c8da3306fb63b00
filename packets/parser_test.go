package packets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeShortFrame(t *testing.T) {
	_, err := Decode([]byte{Pingreq << 4})
	require.ErrorIs(t, err, ErrShortRead)
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte{0xF0, 0})
	require.ErrorIs(t, err, ErrUnknownPacketType)
}

func TestDecodeInvalidFlags(t *testing.T) {
	_, err := Decode([]byte{Pubrel << 4, 2, 0, 1})
	require.ErrorIs(t, err, ErrInvalidFlags)
}

func TestDecodeLengthMismatch(t *testing.T) {
	// Declares 3 remaining bytes but carries 2.
	_, err := Decode([]byte{Puback << 4, 3, 0, 1})
	require.ErrorIs(t, err, ErrLengthMismatch)

	// Declares 2 remaining bytes but carries 3.
	_, err = Decode([]byte{Puback << 4, 2, 0, 1, 9})
	require.ErrorIs(t, err, ErrLengthMismatch)

	// Empty-body packets carrying a surplus body.
	_, err = Decode([]byte{Pingreq << 4, 1, 0})
	require.ErrorIs(t, err, ErrLengthMismatch)
}

func TestDecodeMalformedLength(t *testing.T) {
	_, err := Decode([]byte{Puback << 4, 0x80, 0x80, 0x80, 0x80, 0x80})
	require.ErrorIs(t, err, ErrMalformedRemainingLength)

	// Length field truncated mid-sequence.
	_, err = Decode([]byte{Puback << 4, 0x80})
	require.ErrorIs(t, err, ErrMalformedRemainingLength)
}

func TestDecodeAliasesNothing(t *testing.T) {
	raw := append([]byte{}, packetFixtures[Publish][0].rawBytes...)
	pk, err := Decode(raw)
	require.NoError(t, err)

	// Scribbling over the source frame must not reach into the packet.
	for i := range raw {
		raw[i] = 0xAA
	}
	require.Equal(t, "a/b/c", pk.TopicName)
	require.Equal(t, []byte("hello"), pk.Payload)
}

func TestEncodeUnknownType(t *testing.T) {
	pk := &Packet{FixedHeader: FixedHeader{Type: 15}}
	_, err := Encode(pk)
	require.ErrorIs(t, err, ErrUnknownPacketType)
}
