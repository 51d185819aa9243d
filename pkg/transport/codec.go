package transport

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/pingcap/errors"

	derror "github.com/AHINK/mesos/pkg/errors"
)

// maxFrameSize bounds a single message on the wire. Frames carry control
// traffic and small opaque payloads, never bulk data.
const maxFrameSize = 16<<20 - 1

// Frame is the wire representation of one actor message: the target actor
// name on the receiving endpoint, the full sender address, a tag and an
// opaque payload. Frames are length-prefixed with a 4-byte big-endian
// size; since the size is bounded, the first byte of any frame is zero,
// which is how HTTP requests on the same port are told apart.
type Frame struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Tag     string `json:"tag"`
	Payload []byte `json:"payload,omitempty"`
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, f *Frame) error {
	body, err := json.Marshal(f)
	if err != nil {
		return errors.Trace(err)
	}
	if len(body) > maxFrameSize {
		return derror.ErrFrameTooLarge.GenWithStackByArgs(len(body), maxFrameSize)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return errors.Trace(err)
	}
	if _, err := w.Write(body); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) (*Frame, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, errors.Trace(err)
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return nil, derror.ErrFrameTooLarge.GenWithStackByArgs(size, maxFrameSize)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, errors.Trace(err)
	}
	f := new(Frame)
	if err := json.Unmarshal(body, f); err != nil {
		return nil, errors.Trace(err)
	}
	return f, nil
}
