// Package scanner defines the tag-reader event surface. The hardware is a
// black box emitting one (tagId, payload) event per physical tap; this
// package only carries those events into the session core.
package scanner

import (
	"bufio"
	"io"
	"strings"
	"time"
)

// Event is one physical tag tap.
type Event struct {
	TagID   string
	Payload string
	At      time.Time
}

// Source delivers scan events until closed.
type Source interface {
	Events() <-chan Event
	Close() error
}

// ChanSource is a Source fed by the caller; tests and simulators push
// events through Emit.
type ChanSource struct {
	ch chan Event
}

func NewChanSource(buffer int) *ChanSource {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChanSource{ch: make(chan Event, buffer)}
}

func (s *ChanSource) Emit(ev Event) {
	s.ch <- ev
}

func (s *ChanSource) Events() <-chan Event {
	return s.ch
}

func (s *ChanSource) Close() error {
	close(s.ch)
	return nil
}

// ReaderSource parses newline-delimited "tagID payload..." lines from a
// reader daemon pipe. Blank lines and lines with an empty tag id are
// dropped before they reach the session.
type ReaderSource struct {
	ch   chan Event
	done chan struct{}
}

func NewReaderSource(r io.Reader) *ReaderSource {
	s := &ReaderSource{
		ch:   make(chan Event, 16),
		done: make(chan struct{}),
	}
	go s.read(r)
	return s
}

func (s *ReaderSource) read(r io.Reader) {
	defer close(s.ch)
	lines := bufio.NewScanner(r)
	for lines.Scan() {
		tagID, payload := splitLine(lines.Text())
		if tagID == "" {
			continue
		}
		ev := Event{TagID: tagID, Payload: payload, At: time.Now()}
		select {
		case s.ch <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *ReaderSource) Events() <-chan Event {
	return s.ch
}

func (s *ReaderSource) Close() error {
	close(s.done)
	return nil
}

func splitLine(line string) (tagID, payload string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ""
	}
	parts := strings.SplitN(line, " ", 2)
	tagID = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		payload = strings.TrimSpace(parts[1])
	}
	return tagID, payload
}
