package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/radiorec/internal/service"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration and the next recording path",
	Long:  `Display the resolved configuration with inheritance indicators and the file the next recording would start. Shows which values are inherited from default vs profile-specific.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		inh := cfg.Inheritance

		// Display file paths
		fmt.Printf("=== FILE PATHS ===\n")
		fmt.Printf("next_recording: %s\n", filepath.Join(cfg.Output.Directory, service.FileName(time.Now(), cfg.Output.Extension)))
		fmt.Printf("manifest: %s\n", filepath.Join(cfg.Output.Directory, service.ManifestName))

		// Display resolved configuration with inheritance indicators
		fmt.Printf("\n=== RESOLVED CONFIGURATION ===\n")

		fmt.Printf("\n[Station] %s\n", getInheritanceIndicator(inh.Station))
		fmt.Printf("id: %s\n", cfg.Station.ID)
		fmt.Printf("name: %s\n", cfg.Station.Name)
		if cfg.Station.StreamURL != "" {
			fmt.Printf("stream_url: %s\n", cfg.Station.StreamURL)
		} else {
			fmt.Printf("page_url: %s\n", cfg.Station.PageURL)
			fmt.Printf("url_pattern: %s\n", cfg.Station.URLPattern)
		}

		fmt.Printf("\n[Pool]\n")
		fmt.Printf("redundancy: %d %s\n", cfg.Pool.Redundancy, getInheritanceIndicator(inh.Pool.Redundancy))
		fmt.Printf("refresh_after: %s %s\n", cfg.Pool.RefreshAfter, getInheritanceIndicator(inh.Pool.RefreshAfter))
		fmt.Printf("start_attempts: %d %s\n", cfg.Pool.StartAttempts, getInheritanceIndicator(inh.Pool.StartAttempts))
		fmt.Printf("poll_interval: %s %s\n", cfg.Pool.PollInterval, getInheritanceIndicator(inh.Pool.PollInterval))

		fmt.Printf("\n[Buffer]\n")
		fmt.Printf("source_capacity: %d %s\n", cfg.Buffer.SourceCapacity, getInheritanceIndicator(inh.Buffer.SourceCapacity))
		fmt.Printf("recording_capacity: %d %s\n", cfg.Buffer.RecordingCapacity, getInheritanceIndicator(inh.Buffer.RecordingCapacity))
		fmt.Printf("sync_window: %d %s\n", cfg.Buffer.SyncWindow, getInheritanceIndicator(inh.Buffer.SyncWindow))
		fmt.Printf("failover_drain_ratio: %g %s\n", cfg.Buffer.FailoverDrainRatio, getInheritanceIndicator(inh.Buffer.FailoverDrainRatio))
		fmt.Printf("preroll: %d %s\n", cfg.Buffer.Preroll, getInheritanceIndicator(inh.Buffer.Preroll))

		fmt.Printf("\n[Output]\n")
		fmt.Printf("directory: %s %s\n", cfg.Output.Directory, getInheritanceIndicator(inh.Output.Directory))
		fmt.Printf("extension: %s %s\n", cfg.Output.Extension, getInheritanceIndicator(inh.Output.Extension))
		fmt.Printf("overwrite: %t %s\n", cfg.Output.Overwrite, getInheritanceIndicator(inh.Output.Overwrite))

		return nil
	},
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[unknown]"
	}
}
