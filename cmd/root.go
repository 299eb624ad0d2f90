package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/audiolibrelab/radiorec/internal/config"
	"github.com/audiolibrelab/radiorec/internal/logging"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
	logFile      string
	logCloser    io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "radiorec",
	Short: "Gapless recorder for internet radio streams",
	Long: `radiorec records an internet radio station into hourly files.

It keeps several connections to the station open at once. When the stream
being recorded drops, it switches to a standby connection and realigns it on
the audio already recorded, so the files have no gaps and no repeats.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		closer, err := logging.Setup(os.Stderr, verboseLevel, logFile)
		if err != nil {
			return err
		}
		logCloser = closer

		// record --url needs no config file
		if cmd.Name() == "record" && recordURL != "" && cfgFile == "" {
			cfg = config.Default()
			return nil
		}

		// These commands only use the config when there is one
		optional := cmd.Name() == "play" || cmd.Name() == "export" || cmd.Name() == "resolve"

		path := cfgFile
		if path == "" {
			path = defaultConfigPath()
		}

		cfg, err = config.LoadWithProfile(path, profile)
		if err != nil {
			if optional && cfgFile == "" {
				cfg = config.Default()
				return nil
			}
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfgFile = path
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/radiorec.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().CountVarP(&verboseLevel, "verbose", "v", "verbose output, repeat for more (-v enables debug logging)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also append every log record, at debug level, to this file")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(exportCmd)
}

func defaultConfigPath() string {
	return os.ExpandEnv("$HOME/.config/radiorec.yaml")
}

// errNoStation is returned when neither the config nor the flags name a station.
var errNoStation = errors.New("no station to record: pass --url or select a station in the config profile")
