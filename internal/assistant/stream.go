package assistant

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"

	// maxLineBytes bounds a single unterminated line held between chunks
	maxLineBytes = 1 << 20
)

// ErrLineTooLong is returned when a line exceeds maxLineBytes without a newline
var ErrLineTooLong = errors.New("event stream line too long")

type fragmentPayload struct {
	Content string `json:"content"`
}

// Decoder turns a chunked event body into content fragments. Chunks may split
// a line anywhere; the trailing partial line is carried into the next Feed.
type Decoder struct {
	carry []byte
	done  bool
	err   error
}

// Feed consumes one chunk and emits the fragment of every complete line in
// order. It reports whether the terminator has been seen; input after the
// terminator is ignored. Once a line outgrows maxLineBytes every call
// returns ErrLineTooLong.
func (d *Decoder) Feed(chunk []byte, emit func(string)) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	if d.done {
		return true, nil
	}
	d.carry = append(d.carry, chunk...)
	for {
		i := bytes.IndexByte(d.carry, '\n')
		if i < 0 {
			break
		}
		line := d.carry[:i]
		d.carry = d.carry[i+1:]
		if d.line(line, emit) {
			d.done = true
			d.carry = nil
			return true, nil
		}
	}
	if len(d.carry) > maxLineBytes {
		d.carry = nil
		d.err = ErrLineTooLong
		return false, d.err
	}
	// Compact so a long stream does not pin the first chunk's backing array.
	d.carry = append([]byte(nil), d.carry...)
	return false, nil
}

// Flush processes a final unterminated line at end of input.
func (d *Decoder) Flush(emit func(string)) bool {
	if d.done || d.err != nil {
		return true
	}
	if len(d.carry) > 0 {
		d.done = d.line(d.carry, emit)
		d.carry = nil
	}
	return d.done
}

// Done reports whether the terminator has been seen
func (d *Decoder) Done() bool {
	return d.done
}

func (d *Decoder) line(line []byte, emit func(string)) bool {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return false
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if string(payload) == doneSentinel {
		return true
	}

	var frag fragmentPayload
	if err := json.Unmarshal(payload, &frag); err != nil {
		return false // skip malformed fragment
	}
	if frag.Content != "" {
		emit(frag.Content)
	}
	return false
}

// ReadStream decodes r until the terminator or end of input. A body that ends
// without the terminator is treated as a normal end.
func ReadStream(r io.Reader, emit func(string)) error {
	var d Decoder
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			done, ferr := d.Feed(buf[:n], emit)
			if ferr != nil {
				return ferr
			}
			if done {
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			d.Flush(emit)
			return nil
		}
		if err != nil {
			return err
		}
	}
}
