package config

import (
	"os"
	"testing"
)

func TestValidateConfigurationFormat_ValidConfig(t *testing.T) {
	// Create temporary config file with valid definitions format
	validConfig := `
active_config: test

definitions:
  stations:
    - id: kxyz
      name: KXYZ 101.1
      page_url: https://kxyz.example/listen
      url_pattern: 'https?://[^"]+\.aac'

    - id: kabc
      name: KABC
      stream_url: https://radio.example/kabc.aac

configs:
  test:
    station: kxyz
    pool:
      redundancy: 3
      refresh_after: 2h
    buffer:
      sync_window: 30000
      failover_drain_ratio: 0.5
    output:
      directory: ~/Radio/Test
`

	configFile := createTempConfig(t, validConfig)
	defer os.Remove(configFile)

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if rootConfig == nil {
		t.Fatal("Expected non-nil root config")
	}

	// Validate definitions
	if rootConfig.Definitions == nil {
		t.Fatal("Expected definitions section")
	}

	if len(rootConfig.Definitions.Stations) != 2 {
		t.Errorf("Expected 2 station definitions, got %d", len(rootConfig.Definitions.Stations))
	}

	// Check first definition
	def := rootConfig.Definitions.Stations[0]
	if def.ID != "kxyz" || def.Name != "KXYZ 101.1" || def.PageURL != "https://kxyz.example/listen" {
		t.Errorf("Invalid first definition: %+v", def)
	}

	// Check config references
	testConfig := rootConfig.Configs["test"]
	if testConfig == nil {
		t.Fatal("Expected test config")
	}

	if testConfig.Station != "kxyz" {
		t.Errorf("Expected station 'kxyz', got '%s'", testConfig.Station)
	}
	if testConfig.Pool.Redundancy != 3 || testConfig.Pool.RefreshAfter.Hours() != 2 {
		t.Errorf("Unexpected pool settings %+v", testConfig.Pool)
	}
	if testConfig.Buffer.FailoverDrainRatio != 0.5 {
		t.Errorf("Expected drain ratio 0.5, got %g", testConfig.Buffer.FailoverDrainRatio)
	}
}

func TestValidateConfigurationFormat_MissingDefinitions(t *testing.T) {
	invalidConfig := `
active_config: test

configs:
  test:
    station: kxyz
`

	configFile := createTempConfig(t, invalidConfig)
	defer os.Remove(configFile)

	_, err := ValidateConfigurationFormat(configFile)
	if err == nil {
		t.Fatal("Expected error for missing definitions section")
	}

	if !containsSubstring(err.Error(), "definitions section is required") {
		t.Errorf("Expected error about missing definitions, got: %v", err)
	}
}

func TestValidateConfigurationFormat_EmptyDefinitions(t *testing.T) {
	invalidConfig := `
active_config: test

definitions:
  stations: []

configs:
  test:
    station: kxyz
`

	configFile := createTempConfig(t, invalidConfig)
	defer os.Remove(configFile)

	_, err := ValidateConfigurationFormat(configFile)
	if err == nil {
		t.Fatal("Expected error for empty definitions")
	}

	if !containsSubstring(err.Error(), "definitions.stations cannot be empty") {
		t.Errorf("Expected error about empty definitions, got: %v", err)
	}
}

func TestValidateConfigurationFormat_InvalidReference(t *testing.T) {
	invalidConfig := `
active_config: test

definitions:
  stations:
    - id: kabc
      name: KABC
      stream_url: https://radio.example/kabc.aac

configs:
  test:
    station: kxyz
`

	configFile := createTempConfig(t, invalidConfig)
	defer os.Remove(configFile)

	_, err := ValidateConfigurationFormat(configFile)
	if err == nil {
		t.Fatal("Expected error for invalid reference")
	}

	if !containsSubstring(err.Error(), "references undefined station definition 'kxyz'") {
		t.Errorf("Expected error about undefined reference, got: %v", err)
	}
}

func TestValidateConfigurationFormat_EmptyConfigs(t *testing.T) {
	invalidConfig := `
definitions:
  stations:
    - id: kabc
      name: KABC
      stream_url: https://radio.example/kabc.aac
`

	configFile := createTempConfig(t, invalidConfig)
	defer os.Remove(configFile)

	_, err := ValidateConfigurationFormat(configFile)
	if err == nil || !containsSubstring(err.Error(), "configs section cannot be empty") {
		t.Errorf("Expected error about empty configs, got: %v", err)
	}
}

func TestValidateConfigurationFormat_StationDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		station     string
		expectedErr string
	}{
		{
			name: "duplicate id",
			station: `
    - id: kabc
      name: KABC
      stream_url: https://radio.example/kabc.aac
    - id: kabc
      name: KABC again
      stream_url: https://radio.example/kabc2.aac`,
			expectedErr: "duplicate ID 'kabc'",
		},
		{
			name: "missing id",
			station: `
    - name: KABC
      stream_url: https://radio.example/kabc.aac`,
			expectedErr: "'id' is required",
		},
		{
			name: "missing name",
			station: `
    - id: kabc
      stream_url: https://radio.example/kabc.aac`,
			expectedErr: "'name' is required",
		},
		{
			name: "no url",
			station: `
    - id: kabc
      name: KABC`,
			expectedErr: "one of 'page_url' or 'stream_url' is required",
		},
		{
			name: "not http",
			station: `
    - id: kabc
      name: KABC
      stream_url: rtsp://radio.example/kabc`,
			expectedErr: "'stream_url' must be an http(s) URL",
		},
		{
			name: "page without pattern",
			station: `
    - id: kabc
      name: KABC
      page_url: https://kabc.example/listen`,
			expectedErr: "'url_pattern' is required",
		},
		{
			name: "bad pattern",
			station: `
    - id: kabc
      name: KABC
      page_url: https://kabc.example/listen
      url_pattern: '(unclosed'`,
			expectedErr: "not a valid regular expression",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := "definitions:\n  stations:" + tt.station + "\n\nconfigs:\n  default:\n    pool:\n      redundancy: 1\n"
			configFile := createTempConfig(t, content)
			defer os.Remove(configFile)

			_, err := ValidateConfigurationFormat(configFile)
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.expectedErr)
			}
			if !containsSubstring(err.Error(), tt.expectedErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.expectedErr, err)
			}
		})
	}
}

func TestValidateConfigurationFormat_MissingFile(t *testing.T) {
	if _, err := ValidateConfigurationFormat("/nonexistent/radiorec.yaml"); err == nil {
		t.Error("Expected error for missing file")
	}
}

func createTempConfig(t *testing.T, content string) string {
	tmpfile, err := os.CreateTemp("", "radiorec-test-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}

	if err := tmpfile.Close(); err != nil {
		t.Fatalf("Failed to close temp file: %v", err)
	}

	return tmpfile.Name()
}
