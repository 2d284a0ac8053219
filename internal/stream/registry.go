package stream

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	DefaultRetention  = 5 * time.Minute
	DefaultMaxStreams = 1024
)

// Registry tracks in-flight and recently completed generation streams by
// stream id so that a reconnecting client can re-attach and replay frames it
// missed. Completed streams are retained for a grace period, then evicted;
// when the registry is full the oldest completed stream is dropped first.
type Registry struct {
	mu         sync.Mutex
	streams    map[string]*Stream
	retention  time.Duration
	maxStreams int
	now        func() time.Time
}

func NewRegistry(retention time.Duration, maxStreams int) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if maxStreams <= 0 {
		maxStreams = DefaultMaxStreams
	}
	return &Registry{
		streams:    make(map[string]*Stream),
		retention:  retention,
		maxStreams: maxStreams,
		now:        time.Now,
	}
}

// Create registers a new live stream under id. The stream must be closed by
// the producer once generation concludes.
func (r *Registry) Create(id string) (*Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.streams[id]; exists {
		return nil, fmt.Errorf("stream %q already registered", id)
	}

	r.evictLocked()

	s := &Stream{now: r.now}
	r.streams[id] = s
	return s, nil
}

// Lookup returns the stream registered under id, live or retained.
func (r *Registry) Lookup(id string) (*Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictLocked()

	s, ok := r.streams[id]
	return s, ok
}

// evictLocked drops completed streams past the retention window, and if the
// registry is still at capacity, the longest-completed stream.
func (r *Registry) evictLocked() {
	cutoff := r.now().Add(-r.retention)
	for id, s := range r.streams {
		if done, at := s.closedAt(); done && at.Before(cutoff) {
			delete(r.streams, id)
		}
	}

	for len(r.streams) >= r.maxStreams {
		oldestID := ""
		var oldestAt time.Time
		for id, s := range r.streams {
			done, at := s.closedAt()
			if !done {
				continue
			}
			if oldestID == "" || at.Before(oldestAt) {
				oldestID = id
				oldestAt = at
			}
		}
		if oldestID == "" {
			return
		}
		delete(r.streams, oldestID)
	}
}

// Stream is an append-only frame buffer with any number of followers. Frames
// published before a follower attaches are replayed to it in order, so every
// follower observes the identical frame sequence.
type Stream struct {
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	doneAt  time.Time
	waiters []chan struct{}
	now     func() time.Time
}

// Publish appends one frame and wakes all followers.
func (s *Stream) Publish(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frames = append(s.frames, frame)
	s.broadcastLocked()
}

// Close marks the stream complete. Followers drain buffered frames and then
// return. Close is idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.now != nil {
		s.doneAt = s.now()
	} else {
		s.doneAt = time.Now()
	}
	s.broadcastLocked()
}

// Closed reports whether generation has concluded.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) closedAt() (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.doneAt
}

func (s *Stream) broadcastLocked() {
	for _, ch := range s.waiters {
		close(ch)
	}
	s.waiters = nil
}

// next returns frames from index from onward, or a wait channel that is
// closed when new frames arrive or the stream closes.
func (s *Stream) next(from int) (frames [][]byte, done bool, wait <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if from < len(s.frames) {
		return s.frames[from:], false, nil
	}
	if s.closed {
		return nil, true, nil
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	return nil, false, ch
}

// WriteTo replays all frames published so far and then follows the stream,
// writing frames to w as they arrive until the stream closes or ctx is
// cancelled. flush, if non-nil, is invoked after every write so partial
// output reaches the peer promptly.
func (s *Stream) WriteTo(ctx context.Context, w io.Writer, flush func()) error {
	written := 0
	for {
		frames, done, wait := s.next(written)
		if done {
			return nil
		}
		if frames == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-wait:
				continue
			}
		}
		for _, frame := range frames {
			if _, err := w.Write(frame); err != nil {
				return err
			}
			written++
		}
		if flush != nil {
			flush()
		}
	}
}
