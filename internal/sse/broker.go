// Package sse streams library changes to browsers as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/starford/apkgview/internal/viewer"
)

// LibraryUpdated follows bursts of changes. It is sent on the first change
// and then at most once per throttle interval, with a trailing event for
// changes that arrived inside the interval.
const LibraryUpdated = "library.updated"

const (
	// DefaultBacklog is how many recent events a reconnecting client can
	// replay through Last-Event-ID.
	DefaultBacklog = 128

	keepAlive = 30 * time.Second
)

// frame is one encoded event. An empty file reaches every subscriber.
type frame struct {
	id   uint64
	file string
	raw  []byte
}

type subscriber struct {
	file  string
	after uint64
	ch    chan []byte
}

func (s *subscriber) wants(f frame) bool {
	return f.file == "" || s.file == "" || s.file == f.file
}

// Broker fans viewer changes out to SSE subscribers.
//
// One goroutine owns the subscribers, the replay backlog and the throttle
// state. Public methods talk to it through channels.
type Broker struct {
	throttle time.Duration
	backlog  int

	subscribeCh   chan *subscriber
	unsubscribeCh chan chan []byte
	changeCh      chan viewer.Change
	countCh       chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker that throttles library.updated to one per
// interval and keeps backlog events for replay.
func NewBroker(throttle time.Duration, backlog int) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}

	b := &Broker{
		throttle:      throttle,
		backlog:       backlog,
		subscribeCh:   make(chan *subscriber),
		unsubscribeCh: make(chan chan []byte),
		changeCh:      make(chan viewer.Change, 256),
		countCh:       make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	subs := make(map[chan []byte]*subscriber)
	history := make([]frame, 0, b.backlog)
	var nextID uint64

	var (
		lastLibrary time.Time
		trailing    <-chan time.Time
	)

	emit := func(file, kind string, data any) {
		payload, err := json.Marshal(data)
		if err != nil {
			return
		}
		nextID++
		f := frame{
			id:   nextID,
			file: file,
			raw:  []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", nextID, kind, payload)),
		}
		if len(history) == b.backlog {
			history = append(history[:0], history[1:]...)
		}
		history = append(history, f)

		for ch, s := range subs {
			if !s.wants(f) {
				continue
			}
			select {
			case ch <- f.raw:
			default:
				// Slow subscriber; it can catch up through Last-Event-ID.
			}
		}
	}

	library := func(now time.Time) {
		lastLibrary = now
		emit("", LibraryUpdated, struct{}{})
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range subs {
				close(ch)
			}
			return

		case s := <-b.subscribeCh:
			subs[s.ch] = s
			if s.after == 0 {
				continue
			}
			for _, f := range history {
				if f.id > s.after && s.wants(f) {
					select {
					case s.ch <- f.raw:
					default:
					}
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}

		case c := <-b.changeCh:
			emit(c.File, string(c.Kind), c)
			if trailing != nil {
				continue
			}
			now := time.Now()
			if wait := b.throttle - now.Sub(lastLibrary); wait > 0 {
				trailing = time.After(wait)
			} else {
				library(now)
			}

		case now := <-trailing:
			trailing = nil
			library(now)

		case resp := <-b.countCh:
			resp <- len(subs)
		}
	}
}

// Close stops the broker loop and closes all subscriber channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a subscriber for file, or for every file when file is
// empty. When after is non-zero, buffered events with a larger id are
// replayed first.
func (b *Broker) Subscribe(file string, after uint64) chan []byte {
	s := &subscriber{file: file, after: after, ch: make(chan []byte, b.backlog+64)}
	if b.closed.Load() {
		close(s.ch)
		return s.ch
	}

	select {
	case b.subscribeCh <- s:
	case <-b.stopped:
		close(s.ch)
	}
	return s.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected subscribers.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Notify queues a viewer change. It has the viewer.Observer signature.
func (b *Broker) Notify(c viewer.Change) {
	if b.closed.Load() {
		return
	}
	select {
	case b.changeCh <- c:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). The optional file
// query parameter limits file events to one archive; library.updated always
// goes out. A Last-Event-ID header replays what the client missed.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var after uint64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid Last-Event-ID", http.StatusBadRequest)
			return
		}
		after = id
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "retry: %d\n\n", (3 * time.Second).Milliseconds())
	flusher.Flush()

	ch := b.Subscribe(r.URL.Query().Get("file"), after)
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(keepAlive)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
