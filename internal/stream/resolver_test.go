package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const streamPattern = `https?://\d+\.live\.streamtheworld\.com/[^/"']*\.aac`

func TestStaticResolver(t *testing.T) {
	got, err := StaticResolver{URL: "http://a/b.aac"}.Resolve(context.Background(), "ignored")
	if err != nil || got != "http://a/b.aac" {
		t.Errorf("Expected fixed URL, got %q, %v", got, err)
	}

	got, err = StaticResolver{}.Resolve(context.Background(), "http://page/stream.aac")
	if err != nil || got != "http://page/stream.aac" {
		t.Errorf("Expected page passthrough, got %q, %v", got, err)
	}

	if _, err := (StaticResolver{}).Resolve(context.Background(), ""); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestPageResolver_Resolve(t *testing.T) {
	tests := []struct {
		name    string
		page    string
		want    string
		wantErr bool
	}{
		{
			name: "plain link",
			page: `<html><audio src="https://18063.live.streamtheworld.com/KXYZFMAAC.aac"></audio></html>`,
			want: "https://18063.live.streamtheworld.com/KXYZFMAAC.aac",
		},
		{
			name: "json escaped",
			page: `<script>var cfg = {"url":"https:\/\/242.live.streamtheworld.com\/KXYZ_SC.aac"};</script>`,
			want: "https://242.live.streamtheworld.com/KXYZ_SC.aac",
		},
		{
			name:    "no match",
			page:    `<html>offline</html>`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.page))
			}))
			defer srv.Close()

			r, err := NewPageResolver(PageResolverConfig{Pattern: streamPattern, RequestsPerSecond: 100, Logger: quietLogger()})
			if err != nil {
				t.Fatalf("NewPageResolver failed: %v", err)
			}

			got, err := r.Resolve(context.Background(), srv.URL)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected an error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestPageResolver_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	r, err := NewPageResolver(PageResolverConfig{
		Pattern: streamPattern,
		Timeout: 20 * time.Millisecond,
		Logger:  quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := r.Resolve(context.Background(), srv.URL); !errors.Is(err, ErrResolveTimeout) {
		t.Errorf("Expected ErrResolveTimeout, got %v", err)
	}
}

func TestPageResolver_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	r, _ := NewPageResolver(PageResolverConfig{Pattern: streamPattern, Logger: quietLogger()})
	_, err := r.Resolve(context.Background(), srv.URL)
	if err == nil || errors.Is(err, ErrResolveTimeout) {
		t.Errorf("Expected a plain fetch error, got %v", err)
	}
}

func TestNewPageResolver_InvalidPattern(t *testing.T) {
	for _, pattern := range []string{"", "(unclosed"} {
		if _, err := NewPageResolver(PageResolverConfig{Pattern: pattern}); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Pattern %q: expected ErrInvalidConfig, got %v", pattern, err)
		}
	}
}

func TestPageResolver_RateLimitHonorsContext(t *testing.T) {
	r, _ := NewPageResolver(PageResolverConfig{Pattern: streamPattern, RequestsPerSecond: 0.001, Burst: 1, Logger: quietLogger()})
	r.limiter.Allow() // spend the only token

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := r.Resolve(ctx, "http://127.0.0.1:1/"); err == nil {
		t.Errorf("Expected the limiter to give up with the context")
	}
}
