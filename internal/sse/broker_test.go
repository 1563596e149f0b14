package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/apkgview/internal/viewer"
)

// next waits for one message on ch.
func next(t *testing.T, ch <-chan []byte) string {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return string(msg)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return ""
	}
}

// quiet asserts nothing arrives on ch for d.
func quiet(t *testing.T, ch <-chan []byte, d time.Duration) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message %q", msg)
	case <-time.After(d):
	}
}

func loaded(file string) viewer.Change {
	return viewer.Change{Kind: viewer.ChangeFileLoaded, File: file}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100*time.Millisecond, 8)
	defer b.Close()
	assert.Equal(t, 0, b.ClientCount())
	ch := b.Subscribe("", 0)
	assert.Equal(t, 1, b.ClientCount())
	b.Unsubscribe(ch)
	assert.Equal(t, 0, b.ClientCount())
}

func TestNotify_FrameThenLibraryUpdated(t *testing.T) {
	b := NewBroker(time.Hour, 8)
	defer b.Close()
	ch := b.Subscribe("", 0)

	b.Notify(viewer.Change{Kind: viewer.ChangeDeckCollapsed, File: "a.apkg", DeckID: 10})

	msg := next(t, ch)
	assert.True(t, strings.HasPrefix(msg, "id: 1\nevent: deck.collapsed\n"), msg)
	assert.Contains(t, msg, `"file":"a.apkg"`)
	assert.Contains(t, msg, `"deck_id":10`)
	assert.Equal(t, "id: 2\nevent: library.updated\ndata: {}\n\n", next(t, ch))
}

func TestNotify_TrailingLibraryUpdated(t *testing.T) {
	b := NewBroker(150*time.Millisecond, 8)
	defer b.Close()
	ch := b.Subscribe("", 0)

	b.Notify(loaded("a.apkg"))
	assert.Contains(t, next(t, ch), "event: file.loaded")
	assert.Contains(t, next(t, ch), "event: "+LibraryUpdated)

	// Both land inside the window and share one trailing library.updated.
	b.Notify(loaded("b.apkg"))
	b.Notify(viewer.Change{Kind: viewer.ChangeFileRemoved, File: "a.apkg"})
	assert.Contains(t, next(t, ch), `"file":"b.apkg"`)
	assert.Contains(t, next(t, ch), "event: file.removed")

	start := time.Now()
	assert.Contains(t, next(t, ch), "event: "+LibraryUpdated)
	assert.Greater(t, time.Since(start), 50*time.Millisecond)
	quiet(t, ch, 250*time.Millisecond)
}

func TestSubscribe_FileFilter(t *testing.T) {
	b := NewBroker(time.Hour, 8)
	defer b.Close()
	only := b.Subscribe("b.apkg", 0)
	all := b.Subscribe("", 0)

	b.Notify(loaded("a.apkg"))
	b.Notify(loaded("b.apkg"))

	// library.updated reaches filtered subscribers too.
	assert.Contains(t, next(t, only), "event: "+LibraryUpdated)
	assert.Contains(t, next(t, only), `"file":"b.apkg"`)
	quiet(t, only, 50*time.Millisecond)

	assert.Contains(t, next(t, all), `"file":"a.apkg"`)
	assert.Contains(t, next(t, all), "event: "+LibraryUpdated)
	assert.Contains(t, next(t, all), `"file":"b.apkg"`)
}

func TestSubscribe_ReplaysAfterID(t *testing.T) {
	b := NewBroker(time.Hour, 3)
	defer b.Close()

	// Ids: 1 a, 2 library.updated, 3 b, 4 c, 5 d. The backlog keeps 3..5.
	live := b.Subscribe("", 0)
	for _, f := range []string{"a.apkg", "b.apkg", "c.apkg", "d.apkg"} {
		b.Notify(loaded(f))
	}
	for i := 0; i < 5; i++ {
		next(t, live)
	}

	ch := b.Subscribe("", 3)
	assert.True(t, strings.HasPrefix(next(t, ch), "id: 4\n"))
	assert.True(t, strings.HasPrefix(next(t, ch), "id: 5\n"))
	quiet(t, ch, 50*time.Millisecond)

	filtered := b.Subscribe("d.apkg", 1)
	msg := next(t, filtered)
	assert.True(t, strings.HasPrefix(msg, "id: 5\n"), msg)
	quiet(t, filtered, 50*time.Millisecond)

	fresh := b.Subscribe("", 0)
	quiet(t, fresh, 50*time.Millisecond)
}

func TestNotify_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker(time.Hour, 4)
	defer b.Close()
	ch := b.Subscribe("", 0)
	defer b.Unsubscribe(ch)

	for i := 0; i < 200; i++ {
		b.Notify(loaded("a.apkg"))
	}
	// The loop still answers once the buffer is full.
	assert.Equal(t, 1, b.ClientCount())
}

func TestServeHTTP(t *testing.T) {
	b := NewBroker(time.Hour, 8)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events?file=x.apkg", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	b.Notify(viewer.Change{Kind: viewer.ChangeDeckCollapsed, File: "x.apkg"})
	b.Notify(viewer.Change{Kind: viewer.ChangeDeckCollapsed, File: "y.apkg"})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "retry: 3000\n\n"), body)
	assert.Contains(t, body, `"file":"x.apkg"`)
	assert.NotContains(t, body, `"file":"y.apkg"`)

	require.Eventually(t, func() bool { return b.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServeHTTP_LastEventID(t *testing.T) {
	b := NewBroker(time.Hour, 8)
	defer b.Close()

	live := b.Subscribe("", 0)
	b.Notify(loaded("a.apkg"))
	b.Notify(loaded("b.apkg"))
	for i := 0; i < 3; i++ {
		next(t, live)
	}

	bad := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	bad.Header.Set("Last-Event-ID", "abc")
	w := httptest.NewRecorder()
	b.ServeHTTP(w, bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "2")
	w = httptest.NewRecorder()
	b.ServeHTTP(w, req)

	body := w.Body.String()
	assert.NotContains(t, body, `"file":"a.apkg"`)
	assert.Contains(t, body, "id: 3\nevent: file.loaded\n")
	assert.Contains(t, body, `"file":"b.apkg"`)
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100*time.Millisecond, 8)
	ch := b.Subscribe("", 0)
	require.Equal(t, 1, b.ClientCount())

	b.Close()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "expected subscriber channel to be closed")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
	assert.Equal(t, 0, b.ClientCount())

	// Safe no-ops after close.
	b.Notify(loaded("x.apkg"))
	_, ok := <-b.Subscribe("", 0)
	assert.False(t, ok)
}
