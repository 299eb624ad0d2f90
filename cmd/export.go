package cmd

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/radiorec/internal/export"
	"github.com/audiolibrelab/radiorec/internal/play"

	"github.com/spf13/cobra"
)

var (
	exportOutput    string
	exportOverwrite bool
)

var exportCmd = &cobra.Command{
	Use:   "export [recording]",
	Short: "Remux a recording into an .m4a file",
	Long: `Copy the AAC audio of a recording into an MP4 container with ffmpeg,
without re-encoding. The .m4a file is written next to the recording unless
--output is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := play.New(cfg.Output.Directory, cfg.Output.Extension).Resolve(args[0])
		if err != nil {
			return err
		}

		output, err := export.New(exportOverwrite, slog.Default()).Export(cmd.Context(), input, exportOutput)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}

		fmt.Printf("Exported %s\n", output)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default: the recording with an .m4a extension)")
	exportCmd.Flags().BoolVar(&exportOverwrite, "overwrite", false, "replace an existing output file")
}
