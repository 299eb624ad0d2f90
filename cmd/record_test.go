package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/radiorec/internal/config"
	"github.com/audiolibrelab/radiorec/internal/stream"
)

func resetRecordFlags() {
	recordURL, recordPattern, recordOutput = "", "", ""
	recordRedundancy, recordRefreshSecs, recordOverwrite = 0, 0, false
}

func newFlagCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "record"}
	c.Flags().StringVar(&recordURL, "url", "", "")
	c.Flags().StringVar(&recordPattern, "pattern", "", "")
	c.Flags().StringVarP(&recordOutput, "output", "o", "", "")
	c.Flags().IntVar(&recordRedundancy, "redundancy", 0, "")
	c.Flags().IntVar(&recordRefreshSecs, "refresh-streams-after", 0, "")
	c.Flags().BoolVar(&recordOverwrite, "overwrite", false, "")
	if err := c.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}
	return c
}

func TestApplyRecordFlags(t *testing.T) {
	defer resetRecordFlags()

	c := config.Default()
	c.Output.Overwrite = true
	cmd := newFlagCommand(t,
		"--url", "https://radio.example/kxyz.aac",
		"-o", "/tmp/radio",
		"--redundancy", "4",
		"--refresh-streams-after", "600",
		"--overwrite=false",
	)

	if err := applyRecordFlags(cmd, c); err != nil {
		t.Fatalf("applyRecordFlags failed: %v", err)
	}
	if c.Station.StreamURL != "https://radio.example/kxyz.aac" || c.Station.ID != "url" {
		t.Errorf("Unexpected station %+v", c.Station)
	}
	if c.Output.Directory != "/tmp/radio" {
		t.Errorf("Expected output /tmp/radio, got %s", c.Output.Directory)
	}
	if c.Pool.Redundancy != 4 || c.Pool.RefreshAfter != 10*time.Minute {
		t.Errorf("Unexpected pool %+v", c.Pool)
	}
	if c.Output.Overwrite {
		t.Errorf("Expected --overwrite=false to win over the config")
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestApplyRecordFlags_KeepsConfigWhenUnset(t *testing.T) {
	defer resetRecordFlags()

	c := config.Default()
	c.Station = config.Station{ID: "kxyz", StreamURL: "https://radio.example/kxyz.aac"}
	c.Pool.Redundancy = 3
	c.Output.Overwrite = true

	if err := applyRecordFlags(newFlagCommand(t), c); err != nil {
		t.Fatal(err)
	}
	if c.Station.ID != "kxyz" || c.Pool.Redundancy != 3 || !c.Output.Overwrite {
		t.Errorf("Flags that were not given changed the config: %+v", c)
	}
}

func TestApplyRecordFlags_NoStation(t *testing.T) {
	defer resetRecordFlags()
	if err := applyRecordFlags(newFlagCommand(t), config.Default()); err != errNoStation {
		t.Errorf("Expected errNoStation, got %v", err)
	}
}

func TestParseSessionDates(t *testing.T) {
	future := time.Now().Add(48 * time.Hour).Format("2006-01-02 15:04:05")

	tests := []struct {
		name        string
		start, end  string
		expectedErr string
	}{
		{"none", "", "", ""},
		{"start only", "2026-03-01 10:00:00", "", ""},
		{"future end", "", future, ""},
		{"bad start", "tomorrow", "", "failed to parse start date"},
		{"bad end", "", "2026-03-01T10:00:00", "failed to parse end date"},
		{"past end", "", "2001-01-01 00:00:00", "has already passed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parseSessionDates(tt.start, tt.end)
			if tt.expectedErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.expectedErr) {
				t.Errorf("Expected error containing %q, got %v", tt.expectedErr, err)
			}
		})
	}
}

func TestStationResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<audio src="https://7.live.streamtheworld.com/KXYZ.aac">`))
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		station  config.Station
		expected string
		wantErr  bool
	}{
		{"stream url", stationFromURL("https://radio.example/a.aac", ""), "https://radio.example/a.aac", false},
		{"page", stationFromURL(srv.URL, `https://\d+\.live\.streamtheworld\.com/\w+\.aac`), "https://7.live.streamtheworld.com/KXYZ.aac", false},
		{"no station", config.Station{}, "", true},
		{"bad pattern", config.Station{PageURL: srv.URL, URLPattern: "("}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver, page, err := stationResolver(tt.station, nil)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("stationResolver failed: %v", err)
			}
			got, err := resolver.Resolve(context.Background(), page)
			if err != nil || got != tt.expected {
				t.Errorf("Expected %s, got %s (%v)", tt.expected, got, err)
			}
		})
	}

	if _, ok := mustResolver(t, stationFromURL("https://radio.example/a.aac", "")).(stream.StaticResolver); !ok {
		t.Errorf("Expected a static resolver for a stream URL")
	}
}

func mustResolver(t *testing.T, station config.Station) stream.Resolver {
	t.Helper()
	r, _, err := stationResolver(station, nil)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestDisplayConfig(t *testing.T) {
	shown := displayConfig(config.Default())
	if shown.Pool.RefreshAfter != "2h0m0s" || shown.Pool.PollInterval != "250ms" {
		t.Errorf("Expected readable durations, got %+v", shown.Pool)
	}
}
