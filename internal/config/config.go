package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type DefinitionsConfig struct {
	Stations []StationDefinition `mapstructure:"stations" yaml:"stations"`
}

// StationDefinition describes where a station's stream comes from. A station
// either names its stream URL directly or names a player page together with
// a pattern that finds the stream URL inside it.
type StationDefinition struct {
	ID         string `mapstructure:"id" yaml:"id"`
	Name       string `mapstructure:"name" yaml:"name"`
	PageURL    string `mapstructure:"page_url" yaml:"page_url,omitempty"`
	StreamURL  string `mapstructure:"stream_url" yaml:"stream_url,omitempty"`
	URLPattern string `mapstructure:"url_pattern" yaml:"url_pattern,omitempty"`
}

type GlobalsConfig struct {
	Output GlobalOutputConfig `mapstructure:"output" yaml:"output"`
}

type GlobalOutputConfig struct {
	RecordingsDirectory string `mapstructure:"recordings_directory" yaml:"recordings_directory"`
}

type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig            `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Definitions  *DefinitionsConfig        `mapstructure:"definitions,omitempty" yaml:"definitions,omitempty"`
	Configs      map[string]*ConfigProfile `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Station Station      `mapstructure:"station" yaml:"station"`
	Pool    PoolConfig   `mapstructure:"pool" yaml:"pool"`
	Buffer  BufferConfig `mapstructure:"buffer" yaml:"buffer"`
	Output  OutputConfig `mapstructure:"output" yaml:"output"`

	// Internal field to track inheritance information for info command
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type ConfigProfile struct {
	Station string       `mapstructure:"station" yaml:"station"`
	Pool    PoolConfig   `mapstructure:"pool" yaml:"pool"`
	Buffer  BufferConfig `mapstructure:"buffer" yaml:"buffer"`
	Output  OutputConfig `mapstructure:"output" yaml:"output"`
}

type InheritanceInfo struct {
	Station string // "inherited" or "profile-specific"
	Pool    struct {
		Redundancy    string
		RefreshAfter  string
		StartAttempts string
		PollInterval  string
	}
	Buffer struct {
		SourceCapacity     string
		RecordingCapacity  string
		SyncWindow         string
		FailoverDrainRatio string
		Preroll            string
	}
	Output struct {
		Directory string
		Extension string
		Overwrite string
	}
}

// Station is a resolved station definition.
type Station struct {
	ID         string `mapstructure:"id" yaml:"id"`
	Name       string `mapstructure:"name" yaml:"name"`
	PageURL    string `mapstructure:"page_url" yaml:"page_url,omitempty"`
	StreamURL  string `mapstructure:"stream_url" yaml:"stream_url,omitempty"`
	URLPattern string `mapstructure:"url_pattern" yaml:"url_pattern,omitempty"`
}

type PoolConfig struct {
	Redundancy    int           `mapstructure:"redundancy" yaml:"redundancy"`
	RefreshAfter  time.Duration `mapstructure:"refresh_after" yaml:"refresh_after"` // 0 keeps redundant streams forever
	StartAttempts int           `mapstructure:"start_attempts" yaml:"start_attempts"`
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// BufferConfig sizes are in bytes.
type BufferConfig struct {
	SourceCapacity     int     `mapstructure:"source_capacity" yaml:"source_capacity"`
	RecordingCapacity  int     `mapstructure:"recording_capacity" yaml:"recording_capacity"`
	SyncWindow         int     `mapstructure:"sync_window" yaml:"sync_window"`
	FailoverDrainRatio float64 `mapstructure:"failover_drain_ratio" yaml:"failover_drain_ratio"`
	Preroll            int     `mapstructure:"preroll" yaml:"preroll"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
	Extension string `mapstructure:"extension" yaml:"extension"` // without the dot
	Overwrite bool   `mapstructure:"overwrite" yaml:"overwrite"`
}

var defaultConfig = Config{
	Pool: PoolConfig{
		Redundancy:    2,
		RefreshAfter:  2 * time.Hour,
		StartAttempts: 3,
		PollInterval:  250 * time.Millisecond,
	},
	Buffer: BufferConfig{
		SourceCapacity:     307200,
		RecordingCapacity:  307200,
		SyncWindow:         50000,
		FailoverDrainRatio: 0.3,
		Preroll:            0,
	},
	Output: OutputConfig{
		Directory: filepath.Join(os.Getenv("HOME"), "Radio"),
		Extension: "aac",
	},
}

// Default returns the built-in configuration used when no config file is
// involved, for example when recording a URL given on the command line.
func Default() *Config {
	c := defaultConfig
	return &c
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	// Validate configuration format first
	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// Determine which config to use
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	// Convert profile to Config by resolving the station reference
	selectedConfig, err := convertProfileToConfig(selectedProfile, rootConfig.Definitions)
	if err != nil {
		return nil, fmt.Errorf("error resolving configuration profile '%s': %w", configName, err)
	}

	// Merge with default config if it exists and we're not already using default
	if configName != "default" {
		if defaultProfile, exists := rootConfig.Configs["default"]; exists {
			baseConfig, err := convertProfileToConfig(defaultProfile, rootConfig.Definitions)
			if err != nil {
				return nil, fmt.Errorf("error resolving default configuration: %w", err)
			}
			selectedConfig = mergeConfigs(baseConfig, selectedConfig)
		}
	}
	if selectedConfig.Inheritance == nil {
		selectedConfig = mergeConfigs(nil, selectedConfig)
	}

	// Built-in values fill whatever neither profile set
	applyBuiltinDefaults(selectedConfig)

	// Recordings land under the global recordings directory unless the
	// profile names an absolute one
	var recordingsDir string
	if rootConfig.Globals != nil {
		recordingsDir = rootConfig.Globals.Output.RecordingsDirectory
	}
	selectedConfig.Output.Directory = resolveOutputDirectory(recordingsDir, selectedConfig.Output.Directory, selectedConfig.Station.ID)

	if err := selectedConfig.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selectedConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	if _, ok := rootConfig.Configs[newActiveConfig]; !ok {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// convertProfileToConfig converts a ConfigProfile to Config by resolving the station reference
func convertProfileToConfig(profile *ConfigProfile, definitions *DefinitionsConfig) (*Config, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile cannot be nil")
	}

	config := &Config{
		Pool:   profile.Pool,
		Buffer: profile.Buffer,
		Output: profile.Output,
	}

	if profile.Station == "" {
		return config, nil
	}

	definition := findStation(definitions, profile.Station)
	if definition == nil {
		return nil, fmt.Errorf("station reference '%s' not found in definitions", profile.Station)
	}
	config.Station = Station(*definition)

	return config, nil
}

func findStation(definitions *DefinitionsConfig, id string) *StationDefinition {
	if definitions == nil {
		return nil
	}
	for i := range definitions.Stations {
		if definitions.Stations[i].ID == id {
			return &definitions.Stations[i]
		}
	}
	return nil
}

// mergeConfigs implements the "Selection & Fallback" inheritance model:
// - Station: the profile's station, or the default profile's when it names none
// - Every pool, buffer and output setting left at zero falls back to the default profile
// - Overwrite is a switch: the profile value always takes precedence
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{Inheritance: &InheritanceInfo{}}
	inh := result.Inheritance

	if base != nil {
		result.Station = base.Station
		result.Pool = base.Pool
		result.Buffer = base.Buffer
		result.Output = base.Output

		// Mark as inherited by default
		inh.Station = "inherited"
		inh.Pool.Redundancy = "inherited"
		inh.Pool.RefreshAfter = "inherited"
		inh.Pool.StartAttempts = "inherited"
		inh.Pool.PollInterval = "inherited"
		inh.Buffer.SourceCapacity = "inherited"
		inh.Buffer.RecordingCapacity = "inherited"
		inh.Buffer.SyncWindow = "inherited"
		inh.Buffer.FailoverDrainRatio = "inherited"
		inh.Buffer.Preroll = "inherited"
		inh.Output.Directory = "inherited"
		inh.Output.Extension = "inherited"
	}

	if profile == nil {
		return result
	}

	if profile.Station.ID != "" {
		result.Station = profile.Station
		inh.Station = "profile-specific"
	}

	if profile.Pool.Redundancy != 0 {
		result.Pool.Redundancy = profile.Pool.Redundancy
		inh.Pool.Redundancy = "profile-specific"
	}
	if profile.Pool.RefreshAfter != 0 {
		result.Pool.RefreshAfter = profile.Pool.RefreshAfter
		inh.Pool.RefreshAfter = "profile-specific"
	}
	if profile.Pool.StartAttempts != 0 {
		result.Pool.StartAttempts = profile.Pool.StartAttempts
		inh.Pool.StartAttempts = "profile-specific"
	}
	if profile.Pool.PollInterval != 0 {
		result.Pool.PollInterval = profile.Pool.PollInterval
		inh.Pool.PollInterval = "profile-specific"
	}

	if profile.Buffer.SourceCapacity != 0 {
		result.Buffer.SourceCapacity = profile.Buffer.SourceCapacity
		inh.Buffer.SourceCapacity = "profile-specific"
	}
	if profile.Buffer.RecordingCapacity != 0 {
		result.Buffer.RecordingCapacity = profile.Buffer.RecordingCapacity
		inh.Buffer.RecordingCapacity = "profile-specific"
	}
	if profile.Buffer.SyncWindow != 0 {
		result.Buffer.SyncWindow = profile.Buffer.SyncWindow
		inh.Buffer.SyncWindow = "profile-specific"
	}
	if profile.Buffer.FailoverDrainRatio != 0 {
		result.Buffer.FailoverDrainRatio = profile.Buffer.FailoverDrainRatio
		inh.Buffer.FailoverDrainRatio = "profile-specific"
	}
	if profile.Buffer.Preroll != 0 {
		result.Buffer.Preroll = profile.Buffer.Preroll
		inh.Buffer.Preroll = "profile-specific"
	}

	if profile.Output.Directory != "" {
		result.Output.Directory = profile.Output.Directory
		inh.Output.Directory = "profile-specific"
	}
	if profile.Output.Extension != "" {
		result.Output.Extension = profile.Output.Extension
		inh.Output.Extension = "profile-specific"
	}

	// Overwrite: profile value always takes precedence if the profile is loaded
	result.Output.Overwrite = profile.Output.Overwrite
	inh.Output.Overwrite = "profile-specific"

	// Anything the base never set counts as the profile's own
	for _, field := range []*string{
		&inh.Station, &inh.Pool.Redundancy, &inh.Pool.RefreshAfter, &inh.Pool.StartAttempts,
		&inh.Pool.PollInterval, &inh.Buffer.SourceCapacity, &inh.Buffer.RecordingCapacity,
		&inh.Buffer.SyncWindow, &inh.Buffer.FailoverDrainRatio, &inh.Buffer.Preroll,
		&inh.Output.Directory, &inh.Output.Extension,
	} {
		if *field == "" {
			*field = "profile-specific"
		}
	}

	return result
}

// applyBuiltinDefaults fills zero values from the built-in configuration.
func applyBuiltinDefaults(c *Config) {
	d := defaultConfig
	if c.Pool.Redundancy == 0 {
		c.Pool.Redundancy = d.Pool.Redundancy
	}
	if c.Pool.StartAttempts == 0 {
		c.Pool.StartAttempts = d.Pool.StartAttempts
	}
	if c.Pool.PollInterval == 0 {
		c.Pool.PollInterval = d.Pool.PollInterval
	}
	if c.Buffer.SourceCapacity == 0 {
		c.Buffer.SourceCapacity = d.Buffer.SourceCapacity
	}
	if c.Buffer.RecordingCapacity == 0 {
		c.Buffer.RecordingCapacity = d.Buffer.RecordingCapacity
	}
	if c.Buffer.SyncWindow == 0 {
		c.Buffer.SyncWindow = d.Buffer.SyncWindow
	}
	if c.Buffer.FailoverDrainRatio == 0 {
		c.Buffer.FailoverDrainRatio = d.Buffer.FailoverDrainRatio
	}
	if c.Output.Extension == "" {
		c.Output.Extension = d.Output.Extension
	}
	c.Output.Extension = strings.TrimPrefix(c.Output.Extension, ".")
}

// resolveOutputDirectory places relative profile directories under the
// global recordings directory. With no profile directory recordings go to
// <recordings>/<station id>.
func resolveOutputDirectory(recordingsDir, profileDir, stationID string) string {
	recordingsDir = expandPath(recordingsDir)
	profileDir = expandPath(profileDir)

	switch {
	case profileDir != "" && (filepath.IsAbs(profileDir) || recordingsDir == ""):
		return profileDir
	case profileDir != "":
		return filepath.Join(recordingsDir, profileDir)
	case recordingsDir != "" && stationID != "":
		return filepath.Join(recordingsDir, stationID)
	case recordingsDir != "":
		return recordingsDir
	default:
		return defaultConfig.Output.Directory
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Validate checks a resolved configuration.
func (c *Config) Validate() error {
	if c.Station.StreamURL == "" && c.Station.PageURL == "" {
		return fmt.Errorf("no station selected: set 'station' in the profile or pass --url")
	}
	if c.Station.StreamURL == "" && c.Station.URLPattern == "" {
		return fmt.Errorf("station '%s' has a page_url but no url_pattern", c.Station.ID)
	}

	if c.Pool.Redundancy < 1 {
		return fmt.Errorf("pool.redundancy must be >= 1, got %d", c.Pool.Redundancy)
	}
	if c.Pool.StartAttempts < 1 {
		return fmt.Errorf("pool.start_attempts must be >= 1, got %d", c.Pool.StartAttempts)
	}
	if c.Pool.RefreshAfter < 0 {
		return fmt.Errorf("pool.refresh_after must be >= 0, got %s", c.Pool.RefreshAfter)
	}
	if c.Pool.PollInterval <= 0 {
		return fmt.Errorf("pool.poll_interval must be > 0, got %s", c.Pool.PollInterval)
	}

	if c.Buffer.SourceCapacity <= 0 {
		return fmt.Errorf("buffer.source_capacity must be > 0, got %d", c.Buffer.SourceCapacity)
	}
	if c.Buffer.RecordingCapacity <= 0 {
		return fmt.Errorf("buffer.recording_capacity must be > 0, got %d", c.Buffer.RecordingCapacity)
	}
	if c.Buffer.SyncWindow <= 0 {
		return fmt.Errorf("buffer.sync_window must be > 0, got %d", c.Buffer.SyncWindow)
	}
	if c.Buffer.SyncWindow > c.Buffer.RecordingCapacity {
		return fmt.Errorf("buffer.sync_window must not exceed recording_capacity (%d > %d)", c.Buffer.SyncWindow, c.Buffer.RecordingCapacity)
	}
	if c.Buffer.SyncWindow > c.Buffer.SourceCapacity {
		return fmt.Errorf("buffer.sync_window must not exceed source_capacity (%d > %d)", c.Buffer.SyncWindow, c.Buffer.SourceCapacity)
	}
	if c.Buffer.FailoverDrainRatio < 0 || c.Buffer.FailoverDrainRatio > 1 {
		return fmt.Errorf("buffer.failover_drain_ratio must be within [0, 1], got %g", c.Buffer.FailoverDrainRatio)
	}
	if c.Buffer.Preroll < 0 {
		return fmt.Errorf("buffer.preroll must be >= 0, got %d", c.Buffer.Preroll)
	}

	if c.Output.Directory == "" {
		return fmt.Errorf("output.directory is required")
	}
	if c.Output.Extension == "" || strings.ContainsAny(c.Output.Extension, `/\`) {
		return fmt.Errorf("output.extension must be a plain file extension, got %q", c.Output.Extension)
	}

	return nil
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	// Set environment variable prefix
	v.SetEnvPrefix("RADIOREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateDefinitions(rootConfig.Definitions); err != nil {
		return nil, fmt.Errorf("invalid definitions: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section cannot be empty")
	}

	// Validate that all station references in configs are valid
	for configName, configProfile := range rootConfig.Configs {
		if configProfile == nil {
			return nil, fmt.Errorf("invalid config '%s': profile is empty", configName)
		}
		if err := validateStationReference(configProfile.Station, rootConfig.Definitions); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", configName, err)
		}
	}

	return &rootConfig, nil
}

// validateDefinitions validates the definitions section
func validateDefinitions(definitions *DefinitionsConfig) error {
	if definitions == nil {
		return fmt.Errorf("definitions section is required")
	}

	if len(definitions.Stations) == 0 {
		return fmt.Errorf("definitions.stations cannot be empty")
	}

	seenIDs := make(map[string]bool)

	for i, def := range definitions.Stations {
		if def.ID == "" {
			return fmt.Errorf("definitions.stations[%d]: 'id' is required", i)
		}
		if seenIDs[def.ID] {
			return fmt.Errorf("definitions.stations[%d]: duplicate ID '%s'", i, def.ID)
		}
		seenIDs[def.ID] = true

		if err := validateStationDefinition(def, fmt.Sprintf("definitions.stations[%d]", i)); err != nil {
			return err
		}
	}

	return nil
}

// validateStationDefinition validates a single station definition
func validateStationDefinition(def StationDefinition, prefix string) error {
	if def.Name == "" {
		return fmt.Errorf("%s: 'name' is required", prefix)
	}

	if def.PageURL == "" && def.StreamURL == "" {
		return fmt.Errorf("%s: one of 'page_url' or 'stream_url' is required", prefix)
	}

	for field, value := range map[string]string{"page_url": def.PageURL, "stream_url": def.StreamURL} {
		if value != "" && !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
			return fmt.Errorf("%s: '%s' must be an http(s) URL, got: %s", prefix, field, value)
		}
	}

	if def.StreamURL == "" && def.URLPattern == "" {
		return fmt.Errorf("%s: 'url_pattern' is required when only 'page_url' is set", prefix)
	}

	if def.URLPattern != "" {
		if _, err := regexp.Compile(def.URLPattern); err != nil {
			return fmt.Errorf("%s: 'url_pattern' is not a valid regular expression: %v", prefix, err)
		}
	}

	return nil
}

// validateStationReference validates the station reference of a config profile
func validateStationReference(ref string, definitions *DefinitionsConfig) error {
	if ref == "" {
		return nil
	}
	if findStation(definitions, ref) == nil {
		return fmt.Errorf("station: references undefined station definition '%s'", ref)
	}
	return nil
}
