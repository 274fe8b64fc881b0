package llm

import (
	"io"
	"strings"
)

// StopSequenceFilter truncates streamed text at the first stop sequence.
// Text that could be the start of a stop sequence is held back until the
// next chunk resolves it.
type StopSequenceFilter struct {
	seqs    []string
	held    string
	stopped bool
}

func NewStopSequenceFilter(seqs []string) *StopSequenceFilter {
	var nonEmpty []string
	for _, s := range seqs {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	return &StopSequenceFilter{seqs: nonEmpty}
}

// Stopped reports whether a stop sequence has been seen.
func (f *StopSequenceFilter) Stopped() bool { return f.stopped }

// Process returns the part of text that is safe to emit.
func (f *StopSequenceFilter) Process(text string) string {
	if f.stopped {
		return ""
	}
	if len(f.seqs) == 0 {
		return text
	}
	buf := f.held + text
	f.held = ""

	cut := -1
	for _, seq := range f.seqs {
		if i := strings.Index(buf, seq); i >= 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut >= 0 {
		f.stopped = true
		return buf[:cut]
	}

	hold := 0
	for _, seq := range f.seqs {
		if n := partialSuffix(buf, seq); n > hold {
			hold = n
		}
	}
	f.held = buf[len(buf)-hold:]
	return buf[:len(buf)-hold]
}

// Flush releases any held text.
func (f *StopSequenceFilter) Flush() string {
	out := f.held
	f.held = ""
	return out
}

// partialSuffix returns the length of the longest proper prefix of seq that
// s ends with.
func partialSuffix(s, seq string) int {
	max := len(seq) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, seq[:n]) {
			return n
		}
	}
	return 0
}

type stopStream struct {
	inner   Stream
	filter  *StopSequenceFilter
	pending []Event
}

// WithStopSequences applies a StopSequenceFilter to the text deltas of
// stream. Held text is flushed before any non-text event.
func WithStopSequences(stream Stream, seqs []string) Stream {
	if len(seqs) == 0 {
		return stream
	}
	return &stopStream{inner: stream, filter: NewStopSequenceFilter(seqs)}
}

func (s *stopStream) Recv() (Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		ev, err := s.inner.Recv()
		if err == io.EOF {
			if rest := s.filter.Flush(); rest != "" {
				return Event{Type: EventTextDelta, Text: rest}, nil
			}
			return Event{}, io.EOF
		}
		if err != nil {
			return Event{}, err
		}
		if ev.Type == EventTextDelta {
			if text := s.filter.Process(ev.Text); text != "" {
				ev.Text = text
				return ev, nil
			}
			continue
		}
		if rest := s.filter.Flush(); rest != "" {
			s.pending = append(s.pending, ev)
			return Event{Type: EventTextDelta, Text: rest}, nil
		}
		return ev, nil
	}
}

func (s *stopStream) Close() error { return s.inner.Close() }
