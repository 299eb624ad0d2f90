package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

var resolvePattern string

var resolveCmd = &cobra.Command{
	Use:   "resolve [page-url]",
	Short: "Print the stream URL of a station",
	Long: `Resolve the configured station, or the given player page, to the URL of
its audio stream. A page is searched with --pattern or the station's
url_pattern.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		station := cfg.Station
		if len(args) == 1 {
			pattern := resolvePattern
			if pattern == "" {
				pattern = station.URLPattern
			}
			station = stationFromURL(args[0], pattern)
		} else if resolvePattern != "" {
			station.URLPattern = resolvePattern
		}

		resolver, page, err := stationResolver(station, slog.Default())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		url, err := resolver.Resolve(ctx, page)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", page, err)
		}

		fmt.Println(url)
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolvePattern, "pattern", "", "regular expression matching the stream URL in the page")
}
