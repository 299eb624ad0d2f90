package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/radiorec/internal/config"
	"github.com/audiolibrelab/radiorec/internal/recorder"
	"github.com/audiolibrelab/radiorec/internal/ringbuf"
	"github.com/audiolibrelab/radiorec/internal/server"
	"github.com/audiolibrelab/radiorec/internal/service"
	"github.com/audiolibrelab/radiorec/internal/stream"
)

var (
	recordURL         string
	recordPattern     string
	recordOutput      string
	recordStart       string
	recordEnd         string
	recordRedundancy  int
	recordRefreshSecs int
	recordOverwrite   bool
	recordListen      string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a station into hourly files",
	Long: `Record the configured station, or the stream given with --url, into hourly
files named YYYY-MM-DD_HHMM.<ext>. Recording runs until the end date or until
Ctrl+C; the file being written is flushed and sealed in manifest.yaml.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyRecordFlags(cmd, cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		start, end, err := parseSessionDates(recordStart, recordEnd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return record(ctx, cfg, start, end, recordListen)
	},
}

func init() {
	recordCmd.Flags().StringVar(&recordURL, "url", "", "stream URL to record (bypasses the config file)")
	recordCmd.Flags().StringVar(&recordPattern, "pattern", "", "treat --url as a player page and search it with this regular expression")
	recordCmd.Flags().StringVarP(&recordOutput, "output", "o", "", "output directory (overrides config)")
	recordCmd.Flags().StringVarP(&recordStart, "start-date", "s", "", "date on which to start recording, YYYY-MM-DD HH:MM:SS")
	recordCmd.Flags().StringVarP(&recordEnd, "end-date", "e", "", "date on which to end recording, YYYY-MM-DD HH:MM:SS")
	recordCmd.Flags().IntVar(&recordRedundancy, "redundancy", 0, "number of standby streams (overrides config)")
	recordCmd.Flags().IntVar(&recordRefreshSecs, "refresh-streams-after", 0, "retire standby streams after this many seconds (overrides config)")
	recordCmd.Flags().BoolVar(&recordOverwrite, "overwrite", false, "overwrite existing files instead of adding a numeric suffix")
	recordCmd.Flags().StringVar(&recordListen, "listen", "", "serve session status on this address, e.g. :8080")
}

// applyRecordFlags lets command line flags override the loaded configuration.
func applyRecordFlags(cmd *cobra.Command, c *config.Config) error {
	if recordURL != "" {
		c.Station = stationFromURL(recordURL, recordPattern)
	}
	if c.Station.StreamURL == "" && c.Station.PageURL == "" {
		return errNoStation
	}
	if recordOutput != "" {
		c.Output.Directory = recordOutput
	}
	if cmd.Flags().Changed("redundancy") {
		c.Pool.Redundancy = recordRedundancy
	}
	if cmd.Flags().Changed("refresh-streams-after") {
		c.Pool.RefreshAfter = time.Duration(recordRefreshSecs) * time.Second
	}
	if cmd.Flags().Changed("overwrite") {
		c.Output.Overwrite = recordOverwrite
	}
	return nil
}

func parseSessionDates(startValue, endValue string) (start, end time.Time, err error) {
	if startValue != "" {
		if start, err = service.ParseDate(startValue); err != nil {
			return start, end, fmt.Errorf("failed to parse start date: %w", err)
		}
	}
	if endValue != "" {
		if end, err = service.ParseDate(endValue); err != nil {
			return start, end, fmt.Errorf("failed to parse end date: %w", err)
		}
		if end.Before(time.Now()) {
			return start, end, fmt.Errorf("end date %s has already passed", endValue)
		}
	}
	return start, end, nil
}

// record wires the pool, aggregator and session service together and runs
// the session until it ends or ctx is cancelled.
func record(ctx context.Context, c *config.Config, start, end time.Time, listen string) error {
	logger := slog.Default().With("station", c.Station.ID)

	resolver, page, err := stationResolver(c.Station, logger)
	if err != nil {
		return err
	}

	pool, err := stream.NewPool(stream.PoolConfig{
		Redundancy:      c.Pool.Redundancy,
		MaxRedundantAge: c.Pool.RefreshAfter,
		PollInterval:    c.Pool.PollInterval,
		Logger:          logger,
		Factory: func(ctx context.Context) (stream.Source, error) {
			src, err := stream.StartSource(ctx, stream.SourceConfig{
				Page:          page,
				Resolver:      resolver,
				Capacity:      c.Buffer.SourceCapacity,
				Preroll:       c.Buffer.Preroll,
				StartAttempts: c.Pool.StartAttempts,
				Logger:        logger,
			})
			if err != nil {
				return nil, err
			}
			return src, nil
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create stream pool: %w", err)
	}

	fs := afero.NewOsFs()
	sink := ringbuf.NewFileSink(fs, "", logger)
	agg, err := recorder.New(pool, recorder.Config{
		Capacity:           c.Buffer.RecordingCapacity,
		SyncWindow:         c.Buffer.SyncWindow,
		FailoverDrainRatio: c.Buffer.FailoverDrainRatio,
		PollInterval:       c.Pool.PollInterval,
		Sink:               sink,
		Logger:             logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create aggregator: %w", err)
	}

	svc, err := service.New(agg, pool, service.Config{
		Station:   c.Station.ID,
		Directory: c.Output.Directory,
		Extension: c.Output.Extension,
		Overwrite: c.Output.Overwrite,
		Start:     start,
		End:       end,
		FS:        fs,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	slog.Info("Connecting to station", "station", c.Station.Name, "redundancy", c.Pool.Redundancy)
	pool.Start(ctx)
	defer pool.Stop()
	agg.Start(ctx)
	defer agg.Stop()

	if listen != "" {
		srv := server.New(svc, listen, logger)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("Status server failed", "error", err)
			}
		}()
	}

	slog.Info("Recording - Press Ctrl+C to stop", "directory", c.Output.Directory)
	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("recording failed: %w", err)
	}

	stats := agg.Stats()
	slog.Info("Recording session ended",
		"bytes_written", stats.BytesWritten,
		"failovers", stats.Failovers,
		"resync_misses", stats.ResyncMisses,
	)
	return nil
}
