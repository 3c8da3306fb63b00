package packets

import (
	"bytes"
)

// Framer detects complete packet frames in a continuously arriving byte
// stream. Bytes are appended with Feed; Next yields one complete raw frame
// at a time, leaving partial frames buffered until the rest arrives. A
// Framer is not safe for concurrent use; each transport owns exactly one.
type Framer struct {
	buf       bytes.Buffer
	headerLen int // 1 + length-field bytes for the cached frame, 0 when none cached.
	remaining int
}

// NewFramer returns an empty framer.
func NewFramer() *Framer {
	return new(Framer)
}

// Feed appends freshly received bytes to the frame buffer.
func (f *Framer) Feed(p []byte) {
	f.buf.Write(p)
}

// Buffered returns the number of bytes waiting in the frame buffer.
func (f *Framer) Buffered() int {
	return f.buf.Len()
}

// Next returns the next complete raw frame, or nil when the buffered bytes
// do not yet form one. An ErrMalformedRemainingLength return indicates an
// oversized length indicator; the offending header bytes have been drained
// so the caller may treat the error as fatal or attempt to resume.
func (f *Framer) Next() ([]byte, error) {
	// A frame needs at least the header byte and one length byte.
	if f.buf.Len() < 2 {
		return nil, nil
	}

	if f.headerLen == 0 {
		// Peek up to five bytes without consuming: header byte plus the
		// longest legal length encoding.
		peek := f.buf.Bytes()
		if len(peek) > 5 {
			peek = peek[:5]
		}

		remaining, n, err := decodeLength(peek[1:])
		if err == errLengthIncomplete {
			if len(peek) < 5 {
				return nil, nil // wait for more bytes.
			}
			// Five bytes peeked and the length still hasn't terminated.
			f.buf.Next(5)
			return nil, ErrMalformedRemainingLength
		}
		if err != nil {
			f.buf.Next(1 + n)
			return nil, err
		}

		f.headerLen = 1 + n
		f.remaining = remaining
	}

	if f.buf.Len() < f.headerLen+f.remaining {
		return nil, nil
	}

	frame := make([]byte, f.headerLen+f.remaining)
	f.buf.Read(frame)
	f.headerLen = 0
	f.remaining = 0

	return frame, nil
}
