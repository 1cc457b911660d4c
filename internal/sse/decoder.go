package sse

import (
	"bytes"
	"encoding/json"
	"errors"
)

// MaxLineSize bounds the bytes a Decoder holds while waiting for a newline.
const MaxLineSize = 1 << 20

var ErrLineTooLong = errors.New("sse: line exceeds maximum size")

// Feed appends chunk to the carried-over prior bytes, decodes every complete
// line and returns the resulting events with the unterminated remainder.
// A complete data line whose payload is not valid JSON is skipped; a partial
// line is always carried over. Feed does not modify prior or chunk.
func Feed(prior, chunk []byte) (events []Event, rest []byte) {
	events, rest, _ = feed(prior, chunk)
	return events, rest
}

func feed(prior, chunk []byte) ([]Event, []byte, int) {
	buf := make([]byte, 0, len(prior)+len(chunk))
	buf = append(buf, prior...)
	buf = append(buf, chunk...)

	var (
		events  []Event
		skipped int
	)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := buf[:i]
		buf = buf[i+1:]

		ev, ok, bad := parseLine(line)
		if bad {
			skipped++
		}
		if ok {
			events = append(events, ev)
		}
	}
	return events, buf, skipped
}

// parseLine returns ok for a decoded event and bad for a data line whose
// payload could not be decoded.
func parseLine(line []byte) (ev Event, ok bool, bad bool) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if !bytes.HasPrefix(line, []byte(DataPrefix)) {
		return Event{}, false, false
	}
	var f Frame
	if err := json.Unmarshal(line[len(DataPrefix):], &f); err != nil {
		return Event{}, false, true
	}
	ev, ok = f.event()
	return ev, ok, false
}

// Decoder keeps the carry-over buffer between reads of a response body. The
// zero value is ready to use and caps a pending line at MaxLineSize.
type Decoder struct {
	// MaxLine overrides MaxLineSize when positive.
	MaxLine int

	buf     []byte
	skipped int
}

// Write decodes the events completed by p. Once the unterminated remainder
// grows past the line limit it returns the events decoded so far together
// with ErrLineTooLong; the stream cannot be resumed after that.
func (d *Decoder) Write(p []byte) ([]Event, error) {
	events, rest, skipped := feed(d.buf, p)
	d.buf = rest
	d.skipped += skipped

	limit := MaxLineSize
	if d.MaxLine > 0 {
		limit = d.MaxLine
	}
	if len(d.buf) > limit {
		d.buf = nil
		return events, ErrLineTooLong
	}
	return events, nil
}

// Flush decodes a final line left without a trailing newline when the stream
// ended, and resets the buffer.
func (d *Decoder) Flush() []Event {
	if len(d.buf) == 0 {
		return nil
	}
	line := d.buf
	d.buf = nil
	ev, ok, bad := parseLine(line)
	if bad {
		d.skipped++
	}
	if !ok {
		return nil
	}
	return []Event{ev}
}

// Buffered returns the number of bytes waiting for a newline.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Skipped counts complete data lines that failed to decode.
func (d *Decoder) Skipped() int { return d.skipped }
