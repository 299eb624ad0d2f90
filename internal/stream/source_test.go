package stream

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// streamServer writes payload, flushes, then holds the connection open
// until the client goes away.
func streamServer(t *testing.T, payload []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Icy-MetaData") != "0" {
			t.Errorf("Expected Icy-MetaData: 0 header")
		}
		w.Header().Set("Content-Type", "audio/aac")
		w.Write(payload)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartSource_BuffersAfterPreroll(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 100)
	srv := streamServer(t, payload)

	s, err := StartSource(context.Background(), SourceConfig{
		Resolver: StaticResolver{URL: srv.URL},
		Capacity: 4096,
		Preroll:  250,
		ReadSize: 64,
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("StartSource failed: %v", err)
	}
	defer s.Stop()

	waitFor(t, "payload", func() bool { return s.Buffer().Len() == len(payload)-250 })

	if got := s.Buffer().ReadAll(false); !bytes.Equal(got, payload[250:]) {
		t.Errorf("Buffered bytes differ from payload after preroll")
	}
	stats := s.Stats()
	if stats.BytesReceived != int64(len(payload)) || stats.PrerollDropped != 250 {
		t.Errorf("Unexpected counters %+v", stats)
	}
	if s.ID() == "" || s.URL() != srv.URL || !s.Alive() {
		t.Errorf("Unexpected identity: id=%q url=%q alive=%v", s.ID(), s.URL(), s.Alive())
	}
}

func TestLiveSource_StopEndsFetchLoop(t *testing.T) {
	srv := streamServer(t, []byte("hello"))
	s, err := StartSource(context.Background(), SourceConfig{
		Resolver: StaticResolver{URL: srv.URL},
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("StartSource failed: %v", err)
	}

	s.Stop()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("Fetch loop did not exit after Stop")
	}
	if s.Alive() {
		t.Errorf("Source still alive after its loop exited")
	}
	s.Stop()
}

func TestLiveSource_ServerCloseKillsSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("short stream"))
	}))
	defer srv.Close()

	s, err := StartSource(context.Background(), SourceConfig{
		Resolver: StaticResolver{URL: srv.URL},
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("StartSource failed: %v", err)
	}
	defer s.Stop()

	waitFor(t, "source death", func() bool { return !s.Alive() })
	if string(s.Buffer().ReadAll(false)) != "short stream" {
		t.Errorf("Unexpected buffer %q", s.Buffer().ReadAll(false))
	}
}

func TestStartSource_AcquisitionFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "gone", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := StartSource(context.Background(), SourceConfig{
		Resolver:      StaticResolver{URL: srv.URL},
		StartAttempts: 3,
		RetryDelay:    time.Millisecond,
		Logger:        quietLogger(),
	})
	if !errors.Is(err, ErrSourceAcquisition) {
		t.Fatalf("Expected ErrSourceAcquisition, got %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", hits.Load())
	}
}

func TestStartSource_InvalidConfig(t *testing.T) {
	_, err := StartSource(context.Background(), SourceConfig{Capacity: -1, Logger: quietLogger()})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := backoff(tt.attempt, time.Second, 30*time.Second); got != tt.want {
			t.Errorf("backoff(%d): expected %s, got %s", tt.attempt, tt.want, got)
		}
	}
}

func TestLiveSourcesRealignedAfterStartupDelay(t *testing.T) {
	origin := make([]byte, 20000)
	rand.New(rand.NewSource(11)).Read(origin)

	// Both connections see the same broadcast; the late one joins 6000 bytes in.
	early := streamServer(t, origin[:15000])
	late := streamServer(t, origin[6000:])

	a, err := StartSource(context.Background(), SourceConfig{Resolver: StaticResolver{URL: early.URL}, Capacity: 20000, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Stop()
	b, err := StartSource(context.Background(), SourceConfig{Resolver: StaticResolver{URL: late.URL}, Capacity: 20000, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	waitFor(t, "both streams", func() bool {
		return a.Buffer().Len() == 15000 && b.Buffer().Len() == 14000
	})

	recorded := a.Buffer().ReadAll(true)
	if err := b.Buffer().SeekPastSequence(recorded[len(recorded)-1000:]); err != nil {
		t.Fatalf("SeekPastSequence failed: %v", err)
	}
	joined := append(recorded, b.Buffer().ReadAll(true)...)
	if !bytes.Equal(joined, origin) {
		t.Errorf("Realigned recording differs from origin: %d bytes vs %d", len(joined), len(origin))
	}
}
