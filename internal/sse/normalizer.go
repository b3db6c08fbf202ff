package sse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"flowgate/internal/metrics"
	"flowgate/internal/shared"
)

// Normalizer is the stateful half of the transducer. It is not safe for
// concurrent use; each upstream stream gets its own Normalizer.
type Normalizer struct {
	pending      []byte
	event        string
	maxLineBytes int
}

func NewNormalizer(maxLineBytes int) *Normalizer {
	if maxLineBytes <= 0 {
		maxLineBytes = shared.DefaultMaxLineBytes
	}
	return &Normalizer{maxLineBytes: maxLineBytes}
}

// Feed consumes one upstream chunk and calls emit for every frame completed
// by it, in arrival order. The trailing partial line is kept for the next
// call. An emit error stops processing and is returned as is.
func (n *Normalizer) Feed(chunk []byte, emit func(Frame) error) error {
	n.pending = append(n.pending, chunk...)

	start := 0
	for {
		idx := bytes.IndexByte(n.pending[start:], '\n')
		if idx < 0 {
			break
		}
		line := n.pending[start : start+idx]
		start += idx + 1
		if err := n.line(line, emit); err != nil {
			n.compact(start)
			return err
		}
	}
	n.compact(start)

	if len(n.pending) > n.maxLineBytes {
		return fmt.Errorf("%w: pending line of %d bytes exceeds %d", shared.ErrLineTooLong, len(n.pending), n.maxLineBytes)
	}
	return nil
}

func (n *Normalizer) compact(consumed int) {
	rest := copy(n.pending, n.pending[consumed:])
	n.pending = n.pending[:rest]
}

func (n *Normalizer) line(raw []byte, emit func(Frame) error) error {
	line := strings.TrimRight(string(raw), "\r")
	if strings.TrimSpace(line) == "" {
		return nil
	}

	if rest, ok := strings.CutPrefix(line, "event:"); ok {
		n.event = strings.TrimSpace(rest)
		return nil
	}

	rest, ok := strings.CutPrefix(line, "data:")
	if !ok {
		// comments, id: and retry: carry nothing we forward
		return nil
	}

	fallback := n.event
	if fallback == "" {
		fallback = shared.TokenEvent
	}
	n.event = ""

	for _, frame := range ParseDataLine(strings.TrimSpace(rest), fallback) {
		if err := emit(frame); err != nil {
			return err
		}
	}
	return nil
}

// Pipe reads upstream until EOF, writing each normalized frame to w as soon
// as it is complete. A dangling unterminated line at EOF is dropped. Read
// errors, write errors and context cancellation are returned so the caller
// can end the output stream as failed rather than complete.
func Pipe(ctx context.Context, upstream io.Reader, w io.Writer, maxLineBytes int) error {
	normalizer := NewNormalizer(maxLineBytes)
	emit := func(f Frame) error {
		encoded, err := f.Encode()
		if err != nil {
			return fmt.Errorf("failed encoding frame: %w", err)
		}
		if _, err := w.Write(encoded); err != nil {
			return err
		}
		metrics.FramesEmitted.WithLabelValues(metricEvent(f.Event)).Inc()
		return nil
	}

	buf := make([]byte, shared.StreamReadSize)
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(shared.ErrBackendContext, err)
		}
		read, err := upstream.Read(buf)
		if read > 0 {
			if ferr := normalizer.Feed(buf[:read], emit); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Join(shared.ErrFailedReadingResponse, err)
		}
	}
}

// metricEvent bounds the label set; event names come from the backend
func metricEvent(event string) string {
	switch event {
	case shared.TokenEvent, shared.EndEvent, shared.ErrorEvent, shared.MetadataEvent:
		return event
	default:
		return shared.OtherEvent
	}
}

type normalizedStream struct {
	*io.PipeReader
	upstream io.Closer
}

// Close stops the pump and releases the upstream body
func (s *normalizedStream) Close() error {
	_ = s.PipeReader.Close()
	return s.upstream.Close()
}

// NewReader returns the normalized stream of upstream. Frames are produced
// only as fast as the reader consumes them. Closing the reader closes
// upstream; an upstream failure surfaces as the reader's error.
func NewReader(ctx context.Context, upstream io.ReadCloser, maxLineBytes int) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		err := Pipe(ctx, upstream, pw, maxLineBytes)
		_ = upstream.Close()
		_ = pw.CloseWithError(err)
	}()
	return &normalizedStream{PipeReader: pr, upstream: upstream}
}
