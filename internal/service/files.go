package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// RecordingInfo contains information about a recording file
type RecordingInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	BLAKE3       string    `json:"blake3,omitempty"`
	Recording    bool      `json:"recording"`
	DownloadURL  string    `json:"download_url"`
}

// ListRecordings returns the recordings in the output directory, newest first.
func (s *RecordingService) ListRecordings() ([]RecordingInfo, error) {
	files, err := afero.ReadDir(s.fs, s.cfg.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return []RecordingInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	manifest, err := LoadManifest(s.fs, s.cfg.Directory)
	if err != nil {
		s.logger.Warn("Ignoring unreadable manifest", "error", err)
		manifest = &Manifest{}
	}

	var active string
	s.mu.RLock()
	if s.session != nil {
		active = filepath.Base(s.session.File)
	}
	s.mu.RUnlock()

	ext := "." + s.cfg.Extension
	recordings := []RecordingInfo{}
	for _, info := range files {
		if info.IsDir() || !strings.EqualFold(filepath.Ext(info.Name()), ext) {
			continue
		}

		rec := RecordingInfo{
			Name:         info.Name(),
			Path:         filepath.Join(s.cfg.Directory, info.Name()),
			Size:         info.Size(),
			SizeHuman:    formatBytes(info.Size()),
			ModTime:      info.ModTime(),
			ModTimeHuman: info.ModTime().Format(DateLayout),
			Recording:    info.Name() == active,
			DownloadURL:  fmt.Sprintf("/api/files/download/%s", info.Name()),
		}
		if entry, ok := manifest.Find(info.Name()); ok {
			rec.BLAKE3 = entry.BLAKE3
		}
		recordings = append(recordings, rec)
	}

	// File names sort chronologically
	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].Name > recordings[j].Name
	})

	return recordings, nil
}

// OpenRecording opens a recording by file name for download.
func (s *RecordingService) OpenRecording(name string) (afero.File, RecordingInfo, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, RecordingInfo{}, fmt.Errorf("invalid recording name %q", name)
	}

	recordings, err := s.ListRecordings()
	if err != nil {
		return nil, RecordingInfo{}, err
	}
	for _, rec := range recordings {
		if rec.Name != name {
			continue
		}
		f, err := s.fs.Open(rec.Path)
		if err != nil {
			return nil, RecordingInfo{}, fmt.Errorf("failed to open %s: %w", name, err)
		}
		return f, rec, nil
	}
	return nil, RecordingInfo{}, fmt.Errorf("recording %s: %w", name, os.ErrNotExist)
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
