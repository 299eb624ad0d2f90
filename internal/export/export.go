// Package export remuxes raw ADTS recordings into an MP4 container.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

type Exporter struct {
	overwrite bool
	logger    *slog.Logger

	run func(cmd *exec.Cmd) ([]byte, error)
}

func New(overwrite bool, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		overwrite: overwrite,
		logger:    logger.With("component", "export"),
		run:       (*exec.Cmd).CombinedOutput,
	}
}

// OutputPath returns the .m4a file an input is exported to.
func OutputPath(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + ".m4a"
}

// Export copies the audio of input into output without re-encoding. An
// empty output exports next to the input.
func (e *Exporter) Export(ctx context.Context, input, output string) (string, error) {
	if _, err := os.Stat(input); err != nil {
		return "", fmt.Errorf("input file not found: %s", input)
	}
	if output == "" {
		output = OutputPath(input)
	}
	if output == input {
		return "", fmt.Errorf("output %s would replace the input", output)
	}
	if _, err := os.Stat(output); err == nil && !e.overwrite {
		return "", fmt.Errorf("output file %s already exists, use --overwrite to replace it", output)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", Args(input, output)...)
	e.logger.Debug("Running FFmpeg for export", "command", strings.Join(cmd.Args, " "))

	out, err := e.run(cmd)
	if err != nil {
		return "", fmt.Errorf("FFmpeg export failed: %w\nOutput: %s", err, string(out))
	}

	// Verify output file was created
	if _, err := os.Stat(output); err != nil {
		return "", fmt.Errorf("output file not created: %s", output)
	}

	e.logger.Info("Exported recording", "input", input, "output", output)
	return output, nil
}

// Args builds the ffmpeg arguments for a stream copy into MP4.
func Args(input, output string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", input,
		"-c:a", "copy",
		"-bsf:a", "aac_adtstoasc",
		"-movflags", "+faststart",
		"-y", // overwrite checked above
		output,
	}
}
