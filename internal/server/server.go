package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/audiolibrelab/radiorec/internal/service"
)

// Service is what the server reports on.
type Service interface {
	GetStatus() service.Status
	GetLastError() string
	ListRecordings() ([]service.RecordingInfo, error)
	OpenRecording(name string) (afero.File, service.RecordingInfo, error)
}

// Server exposes the recording session over HTTP
type Server struct {
	service Service
	addr    string
	logger  *slog.Logger
	mux     *http.ServeMux
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details service.Status `json:"details"`
}

// FilesResponse represents the JSON response for the files endpoint
type FilesResponse struct {
	Success bool                    `json:"success"`
	Files   []service.RecordingInfo `json:"files"`
	Count   int                     `json:"count"`
}

// New creates a new status server listening on addr
func New(svc Service, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		service: svc,
		addr:    addr,
		logger:  logger.With("component", "server"),
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/api/files", s.handleFiles)
	s.mux.HandleFunc("/api/files/download/", s.handleFileDownload)
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting status server", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("status server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status server shutdown failed: %w", err)
		}
		s.logger.Info("Status server stopped")
		return nil
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	details := s.service.GetStatus()
	response := StatusResponse{
		Status:  string(details.State),
		Message: s.generateStatusMessage(details),
		Details: details,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	files, err := s.service.ListRecordings()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, "Failed to list recordings", "error", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(FilesResponse{
		Success: true,
		Files:   files,
		Count:   len(files),
	})
}

func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Extract filename from URL
	filename := strings.TrimPrefix(r.URL.Path, "/api/files/download/")
	if filename == "" {
		http.Error(w, "Filename required", http.StatusBadRequest)
		return
	}

	// Validate filename (prevent path traversal)
	if strings.Contains(filename, "..") || strings.Contains(filename, "/") || strings.Contains(filename, "\\") {
		http.Error(w, "Invalid filename", http.StatusBadRequest)
		return
	}

	file, info, err := s.service.OpenRecording(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "File not found", http.StatusNotFound)
		} else {
			s.logger.Error("Error opening recording", "file", filename, "error", err)
			http.Error(w, "Error accessing file", http.StatusInternalServerError)
		}
		return
	}
	defer file.Close()

	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	// The file being recorded keeps growing, so only sealed files get a length
	if !info.Recording {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size))
	}

	if _, err := io.Copy(w, file); err != nil {
		s.logger.Error("Error serving file download", "file", filename, "error", err)
	}
}

func (s *Server) generateStatusMessage(status service.Status) string {
	switch status.State {
	case service.StatusWaiting:
		if status.Start != nil {
			return fmt.Sprintf("Waiting for start date %s", status.Start.Format(service.DateLayout))
		}
		return "Waiting for start date"
	case service.StatusRecording:
		if status.Session != nil {
			return fmt.Sprintf("Recording in progress - %s", filepath.Base(status.Session.File))
		}
		return "Recording in progress"
	case service.StatusFinished:
		return fmt.Sprintf("Recording finished - %d files", status.Finished)
	case service.StatusError:
		if errorDetails := s.service.GetLastError(); errorDetails != "" {
			return errorDetails
		}
		return "An error occurred during the recording"
	default:
		return ""
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...any) {
	logFields := []any{"error_message", errorMsg, "status_code", statusCode}
	logFields = append(logFields, logContext...)
	s.logger.Error("Sending error response to client", logFields...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   errorMsg,
	})
}
