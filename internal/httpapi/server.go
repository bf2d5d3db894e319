// Package httpapi serves drivewatch's status and manual-run API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/agentworkforce/drivewatch/internal/drivesync"
	"github.com/agentworkforce/drivewatch/internal/logging"
)

const DefaultAudience = "drivewatch"

// Runner is satisfied by *drivesync.RunGuard.
type Runner interface {
	Run(ctx context.Context) (drivesync.RunSummary, error)
	LastRun() (drivesync.RunRecord, bool)
}

// Sheets is the read side of the workspace the API exposes.
type Sheets interface {
	Rows(name string) ([][]string, error)
	Property(key string) (string, bool)
}

type FolderLister interface {
	Rows() ([]drivesync.FolderRow, error)
}

type ServerConfig struct {
	JWTSecret string
	Audience  string
	// RunTimeout bounds a run triggered through the API. Zero means 30m.
	RunTimeout time.Duration
	Logger     *slog.Logger
}

type Server struct {
	runner  Runner
	folders FolderLister
	sheets  Sheets
	cfg     ServerConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewServer(runner Runner, folders FolderLister, sheets Sheets, cfg ServerConfig) *Server {
	if cfg.Audience == "" {
		cfg.Audience = DefaultAudience
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Component("httpapi")
	}
	return &Server{
		runner:  runner,
		folders: folders,
		sheets:  sheets,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	correlationID := getCorrelationID(r)

	switch {
	case r.URL.Path == "/v1/folders":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", correlationID)
			return
		}
		if !s.authorize(w, r, ScopeStatusRead, correlationID) {
			return
		}
		s.handleFolders(w, correlationID)
	case r.URL.Path == "/v1/runs/last":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", correlationID)
			return
		}
		if !s.authorize(w, r, ScopeStatusRead, correlationID) {
			return
		}
		s.handleLastRun(w, correlationID)
	case r.URL.Path == "/v1/runs":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", correlationID)
			return
		}
		if !s.authorize(w, r, ScopeRunsTrigger, correlationID) {
			return
		}
		s.handleTriggerRun(w, r, correlationID)
	case strings.HasPrefix(r.URL.Path, "/v1/ledgers/"):
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", correlationID)
			return
		}
		if !s.authorize(w, r, ScopeStatusRead, correlationID) {
			return
		}
		folderID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/ledgers/"), "/")
		s.handleLedger(w, folderID, correlationID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request, scope, correlationID string) bool {
	if _, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, s.cfg.Audience, scope, s.now()); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return false
	}
	return true
}

type folderView struct {
	Row         int    `json:"row"`
	Enabled     bool   `json:"enabled"`
	Reference   string `json:"reference"`
	Name        string `json:"name,omitempty"`
	LastChecked string `json:"lastChecked,omitempty"`
	Owner       string `json:"owner,omitempty"`
	Recipient   string `json:"recipient,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleFolders(w http.ResponseWriter, correlationID string) {
	rows, err := s.folders.Rows()
	if err != nil {
		s.logger.Error("list folders failed", "error", err, "correlation_id", correlationID)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read folder table", correlationID)
		return
	}
	out := make([]folderView, 0, len(rows))
	for _, row := range rows {
		view := folderView{
			Row:       row.Index,
			Enabled:   row.Enabled,
			Reference: row.Reference,
			Name:      row.Name,
			Owner:     row.Owner,
			Recipient: row.Recipient,
			Error:     row.Error,
		}
		if !row.LastChecked.IsZero() {
			view.LastChecked = row.LastChecked.UTC().Format(time.RFC3339)
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"folders": out})
}

type rowView struct {
	Row        int    `json:"row"`
	Reference  string `json:"reference"`
	FolderID   string `json:"folderId,omitempty"`
	Ledger     string `json:"ledger,omitempty"`
	Status     string `json:"status"`
	NewEntries int    `json:"newEntries"`
	Error      string `json:"error,omitempty"`
}

type runView struct {
	Started  string    `json:"started"`
	Finished string    `json:"finished,omitempty"`
	Rows     []rowView `json:"rows"`
	Error    string    `json:"error,omitempty"`
}

func newRunView(summary drivesync.RunSummary, runErr error) runView {
	view := runView{Rows: make([]rowView, 0, len(summary.Rows))}
	if !summary.Started.IsZero() {
		view.Started = summary.Started.UTC().Format(time.RFC3339)
	}
	if !summary.Finished.IsZero() {
		view.Finished = summary.Finished.UTC().Format(time.RFC3339)
	}
	if runErr != nil {
		view.Error = runErr.Error()
	}
	for _, row := range summary.Rows {
		rv := rowView{
			Row:        row.Row,
			Reference:  row.Reference,
			FolderID:   row.FolderID,
			Ledger:     row.Ledger,
			Status:     string(row.Status),
			NewEntries: len(row.NewEntries),
		}
		if row.Err != nil {
			rv.Error = row.Err.Error()
		}
		view.Rows = append(view.Rows, rv)
	}
	return view
}

func (s *Server) handleLastRun(w http.ResponseWriter, correlationID string) {
	record, ok := s.runner.LastRun()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no run has completed yet", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, newRunView(record.Summary, record.Err))
}

func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request, correlationID string) {
	// The run outlives a client that disconnects.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.RunTimeout)
	defer cancel()

	summary, err := s.runner.Run(ctx)
	if errors.Is(err, drivesync.ErrRunInProgress) {
		writeError(w, http.StatusConflict, "run_in_progress", err.Error(), correlationID)
		return
	}
	if err != nil {
		s.logger.Error("triggered run failed", "error", err, "correlation_id", correlationID)
		writeJSON(w, http.StatusInternalServerError, newRunView(summary, err))
		return
	}
	s.logger.Info("triggered run completed", "rows", len(summary.Rows), "correlation_id", correlationID)
	writeJSON(w, http.StatusOK, newRunView(summary, nil))
}

func (s *Server) handleLedger(w http.ResponseWriter, folderID, correlationID string) {
	if folderID == "" || strings.Contains(folderID, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid folder id", correlationID)
		return
	}
	sheet, ok := s.sheets.Property(drivesync.MappingKey(folderID))
	if !ok || sheet == "" {
		writeError(w, http.StatusNotFound, "not_found", "no ledger for folder", correlationID)
		return
	}
	rows, err := s.sheets.Rows(sheet)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "ledger sheet missing", correlationID)
		return
	}
	entries := make([]map[string]string, 0, len(rows))
	for i, row := range rows {
		if i == 0 {
			continue
		}
		entry := make(map[string]string, len(drivesync.LedgerHeader))
		for col, name := range drivesync.LedgerHeader {
			if col < len(row) {
				entry[name] = row[col]
			}
		}
		entries = append(entries, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"folderId": folderID,
		"ledger":   sheet,
		"entries":  entries,
	})
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}
