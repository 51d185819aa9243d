package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundtrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	in := &Frame{
		To:      "master",
		From:    "10.0.0.1:5051/slave",
		Tag:     "REGISTER_SLAVE",
		Payload: []byte(`{"info":{}}`),
	}
	require.NoError(t, WriteFrame(&buf, in))

	// The length prefix keeps the first byte zero, which is what lets the
	// endpoint tell frames from HTTP.
	require.Equal(t, byte(0), buf.Bytes()[0])

	out, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestFrameStream(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	for i := 0; i < 3; i++ {
		require.NoError(t, WriteFrame(&buf, &Frame{
			To:   "a",
			From: "h:1/b",
			Tag:  "T",
		}))
	}
	for i := 0; i < 3; i++ {
		_, err := ReadFrame(&buf)
		require.NoError(t, err)
	}
	_, err := ReadFrame(&buf)
	require.Error(t, err) // EOF
}

func TestFrameTooLarge(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	big := make([]byte, maxFrameSize+1)
	err := WriteFrame(&buf, &Frame{To: "a", From: "h:1/b", Tag: "T", Payload: big})
	require.Error(t, err)

	// A corrupt length prefix is rejected before allocation.
	buf.Reset()
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	_, err = ReadFrame(&buf)
	require.Error(t, err)
}
