package cmd

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/radiorec/internal/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and manage radiorec configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(displayConfig(cfg))
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

var configUseCmd = &cobra.Command{
	Use:   "use [profile]",
	Short: "Make a profile the active configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UpdateActiveConfig(cfgFile, args[0]); err != nil {
			return err
		}
		fmt.Printf("Active configuration set to '%s' in %s\n", args[0], cfgFile)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configUseCmd)
}

// shownConfig mirrors config.Config with durations spelled out for humans.
type shownConfig struct {
	Station config.Station `yaml:"station"`
	Pool    struct {
		Redundancy    int    `yaml:"redundancy"`
		RefreshAfter  string `yaml:"refresh_after"`
		StartAttempts int    `yaml:"start_attempts"`
		PollInterval  string `yaml:"poll_interval"`
	} `yaml:"pool"`
	Buffer config.BufferConfig `yaml:"buffer"`
	Output config.OutputConfig `yaml:"output"`
}

func displayConfig(c *config.Config) shownConfig {
	var shown shownConfig
	shown.Station = c.Station
	shown.Pool.Redundancy = c.Pool.Redundancy
	shown.Pool.RefreshAfter = c.Pool.RefreshAfter.String()
	shown.Pool.StartAttempts = c.Pool.StartAttempts
	shown.Pool.PollInterval = c.Pool.PollInterval.String()
	shown.Buffer = c.Buffer
	shown.Output = c.Output
	return shown
}
