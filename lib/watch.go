package lib

import (
	"context"
	"fmt"
	"sync"
)

// ReceivedSegment is an accepted inbound segment. Payload is nil when the
// segment carries no data.
type ReceivedSegment struct {
	IP      *IPHeader
	TCP     *TCPHeader
	Size    int // bytes received for the datagram
	Payload []byte
}

func (s *ReceivedSegment) String() string {
	return fmt.Sprintf("%s %s size=%d payload=%q", s.IP, s.TCP, s.Size, s.Payload)
}

// SegmentWatch is a single-slot broadcast: it holds only the latest segment,
// and every receiver is woken when it changes. Receivers that fall behind see
// the newest value and skip the ones in between.
type SegmentWatch struct {
	mu        sync.Mutex
	latest    *ReceivedSegment
	version   uint64
	notify    chan struct{} // closed and replaced on every publish
	receivers int
	closed    bool
}

func NewSegmentWatch() *SegmentWatch {
	return &SegmentWatch{notify: make(chan struct{})}
}

// Publish replaces the held segment. It never blocks; ErrNoSubscribers only
// reports that nobody was listening.
func (w *SegmentWatch) Publish(seg *ReceivedSegment) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWatchClosed
	}
	w.latest = seg
	w.version++
	close(w.notify)
	w.notify = make(chan struct{})
	receivers := w.receivers
	w.mu.Unlock()

	if receivers == 0 {
		return ErrNoSubscribers
	}
	return nil
}

// Latest returns the held segment, nil before the first publish.
func (w *SegmentWatch) Latest() *ReceivedSegment {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latest
}

// Subscribe returns a receiver that has already seen the current value.
func (w *SegmentWatch) Subscribe() *WatchReceiver {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.receivers++
	return &WatchReceiver{watch: w, seen: w.version}
}

// Close wakes every receiver with ErrWatchClosed.
func (w *SegmentWatch) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.notify)
}

type WatchReceiver struct {
	watch     *SegmentWatch
	seen      uint64
	closeOnce sync.Once
}

// Changed blocks until a segment newer than the last one returned is published.
func (r *WatchReceiver) Changed(ctx context.Context) (*ReceivedSegment, error) {
	w := r.watch
	for {
		w.mu.Lock()
		if r.seen != w.version {
			r.seen = w.version
			seg := w.latest
			w.mu.Unlock()
			return seg, nil
		}
		if w.closed {
			w.mu.Unlock()
			return nil, ErrWatchClosed
		}
		notify := w.notify
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-notify:
		}
	}
}

func (r *WatchReceiver) Close() {
	r.closeOnce.Do(func() {
		r.watch.mu.Lock()
		r.watch.receivers--
		r.watch.mu.Unlock()
	})
}
