package cmd

import (
	"fmt"

	"github.com/audiolibrelab/radiorec/internal/play"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [recording]",
	Short: "Play a recording",
	Long: `Play a recording with the first available player (vlc, mpv, ffplay).
The recording is a path or a file name in the output directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		player := play.New(cfg.Output.Directory, cfg.Output.Extension)
		if err := player.Play(args[0]); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}
