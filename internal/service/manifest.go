package service

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ManifestName is the session manifest kept in the output directory.
const ManifestName = "manifest.yaml"

// Manifest lists the finished recordings of an output directory.
type Manifest struct {
	Station    string          `yaml:"station,omitempty"`
	Recordings []ManifestEntry `yaml:"recordings"`
}

type ManifestEntry struct {
	File   string    `yaml:"file"`
	Size   int64     `yaml:"size"`
	BLAKE3 string    `yaml:"blake3"`
	Start  time.Time `yaml:"start"`
	End    time.Time `yaml:"end"`
}

// Find returns the entry for file, if any.
func (m *Manifest) Find(file string) (ManifestEntry, bool) {
	for _, e := range m.Recordings {
		if e.File == file {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

// LoadManifest reads the manifest in dir. A missing manifest is empty.
func LoadManifest(fs afero.Fs, dir string) (*Manifest, error) {
	data, err := afero.ReadFile(fs, filepath.Join(dir, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return &Manifest{}, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

func saveManifest(fs afero.Fs, dir string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	// Write then rename so a crash never leaves a truncated manifest
	path := filepath.Join(dir, ManifestName)
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}

// HashFile returns the hex BLAKE3 digest and size of a recording.
func HashFile(fs afero.Fs, path string) (string, int64, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	hasher := blake3.New()
	n, err := io.Copy(hasher, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}

// seal records a finished file in the manifest, replacing any entry of the
// same name left by an overwritten recording.
func seal(fs afero.Fs, dir, station, path string, start, end time.Time) (ManifestEntry, error) {
	digest, size, err := HashFile(fs, path)
	if err != nil {
		return ManifestEntry{}, err
	}

	m, err := LoadManifest(fs, dir)
	if err != nil {
		return ManifestEntry{}, err
	}
	if m.Station == "" {
		m.Station = station
	}

	entry := ManifestEntry{
		File:   filepath.Base(path),
		Size:   size,
		BLAKE3: digest,
		Start:  start,
		End:    end,
	}

	replaced := false
	for i := range m.Recordings {
		if m.Recordings[i].File == entry.File {
			m.Recordings[i] = entry
			replaced = true
		}
	}
	if !replaced {
		m.Recordings = append(m.Recordings, entry)
	}

	return entry, saveManifest(fs, dir, m)
}
