package sqfh

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// ErrNoHeader is returned by Read before the first Next call has consumed
// the leading header of the stream.
var ErrNoHeader = errors.New("stream position is before the first format header")

// Reader splits a wavepipe byte stream back into format headers and audio
// payload. It follows the archive/tar reading pattern: Next advances to the
// following header, Read returns payload and reports io.EOF when the next
// header begins.
//
// Headers are only written on frame boundaries, so the scanner checks for
// the magic at frame-aligned offsets only. The sample packing is fixed for
// the lifetime of a stream and is not carried in the header, which is why
// the caller supplies the frame size.
type Reader struct {
	br            *bufio.Reader
	bytesPerFrame int
	started       bool
	frameOff      int   // bytes already consumed of the frame at the cursor
	err           error // sticky
}

// NewReader returns a Reader demultiplexing r. bytesPerFrame is the wire
// size of one stereo frame, i.e. the sample packing width times two.
func NewReader(r io.Reader, bytesPerFrame int) *Reader {
	return &Reader{
		br:            bufio.NewReaderSize(r, 32*1024),
		bytesPerFrame: bytesPerFrame,
	}
}

// Next consumes payload up to the next format header, then consumes and
// returns the header itself. The first bytes of a stream must be a header;
// anything else fails with ErrBadMagic. Next returns io.EOF when the
// stream is exhausted.
func (r *Reader) Next() (Header, error) {
	if r.err != nil {
		return Header{}, r.err
	}
	for {
		// realign after a partial frame read
		if r.frameOff != 0 {
			skip := r.bytesPerFrame - r.frameOff
			r.frameOff = 0
			if err := r.discard(skip); err != nil {
				return Header{}, err
			}
		}

		window, perr := r.br.Peek(HeaderSize)
		if IsHeader(window) {
			hdr, err := Parse(window)
			if err != nil {
				r.err = err
				return Header{}, err
			}
			r.br.Discard(HeaderSize)
			r.started = true
			return hdr, nil
		}
		if len(window) == 0 {
			if perr == nil {
				perr = io.EOF
			}
			r.err = perr
			return Header{}, r.err
		}
		if !r.started {
			r.err = fmt.Errorf("stream does not begin with a format header: %w", ErrBadMagic)
			return Header{}, r.err
		}
		if perr != nil && len(window) < r.bytesPerFrame {
			// torn frame at the end of the stream
			r.err = io.EOF
			return Header{}, r.err
		}
		if err := r.discard(r.bytesPerFrame); err != nil {
			return Header{}, err
		}
	}
}

// Read returns payload bytes for the current section. It reports io.EOF
// when the next format header begins; call Next to consume the header and
// continue. Calling Read before the first Next fails with ErrNoHeader.
func (r *Reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if !r.started {
		return 0, ErrNoHeader
	}
	if len(p) == 0 {
		return 0, nil
	}

	window, perr := r.br.Peek(r.br.Size())
	if len(window) == 0 {
		if perr == nil {
			perr = io.EOF
		}
		r.err = perr
		return 0, perr
	}

	// perr set means no bytes follow the window, so short candidates at
	// the window edge cannot be headers.
	run := r.payloadRun(window, perr != nil)
	if run == 0 {
		return 0, io.EOF // section ends at the next header
	}
	n := copy(p, window[:run])
	r.br.Discard(n)
	r.frameOff = (r.frameOff + n) % r.bytesPerFrame
	return n, nil
}

// payloadRun reports how many leading bytes of window are payload, stopping
// before the first frame-aligned header. Unless final is set, positions too
// close to the window edge to vet are excluded so a header split across
// buffer fills is never served as payload.
func (r *Reader) payloadRun(window []byte, final bool) int {
	n := 0
	off := r.frameOff
	for n < len(window) {
		if off == 0 {
			rest := window[n:]
			if IsHeader(rest) {
				return n
			}
			if !final && len(rest) < HeaderSize {
				return n
			}
		}
		step := r.bytesPerFrame - off
		off = 0
		if step > len(window)-n {
			if final {
				return len(window) // torn tail at stream end
			}
			return n
		}
		n += step
	}
	return n
}

func (r *Reader) discard(n int) error {
	if _, err := r.br.Discard(n); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.EOF
		}
		r.err = err
		return err
	}
	return nil
}
