// Package workspace holds the document that drivewatch reads and writes: an
// ordered set of named sheets (the folder table and one ledger per monitored
// folder) plus document-level properties. Every mutation persists a full
// snapshot through a StateBackend.
package workspace

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"
)

var (
	ErrSheetNotFound    = errors.New("sheet not found")
	ErrSheetExists      = errors.New("sheet already exists")
	ErrInvalidSheetName = errors.New("invalid sheet name")
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotImplemented   = errors.New("not implemented")
)

// MaxSheetNameLength is the longest sheet name, in runes, a workspace accepts.
const MaxSheetNameLength = 31

// IllegalSheetNameChars may not appear in sheet names.
const IllegalSheetNameChars = `/\?*[]:`

// Snapshot is the persisted form of a workspace.
type Snapshot struct {
	Sheets     []*SheetSnapshot  `json:"sheets"`
	Properties map[string]string `json:"properties"`
}

type SheetSnapshot struct {
	Name string     `json:"name"`
	Rows [][]string `json:"rows"`
	// Marker is the note attached to the sheet's first cell. Replacing the
	// sheet's rows does not touch it.
	Marker string `json:"marker,omitempty"`
}

type StateBackend interface {
	Load() (*Snapshot, error)
	Save(state *Snapshot) error
}

type stateBackendCloser interface {
	Close() error
}

type Workspace struct {
	mu      sync.Mutex
	backend StateBackend
	state   *Snapshot
}

// Open loads the workspace held by backend. A nil backend keeps the
// workspace in memory only.
func Open(backend StateBackend) (*Workspace, error) {
	if backend == nil {
		backend = NewInMemoryStateBackend()
	}
	snapshot, err := backend.Load()
	if err != nil {
		return nil, fmt.Errorf("load workspace: %w", err)
	}
	if snapshot == nil {
		snapshot = &Snapshot{}
	}
	if snapshot.Properties == nil {
		snapshot.Properties = map[string]string{}
	}
	return &Workspace{backend: backend, state: snapshot}, nil
}

func (w *Workspace) Close() error {
	if w == nil {
		return nil
	}
	if closer, ok := w.backend.(stateBackendCloser); ok {
		return closer.Close()
	}
	return nil
}

// ValidateSheetName reports whether name can be used for a sheet.
func ValidateSheetName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSheetName)
	}
	if utf8.RuneCountInString(name) > MaxSheetNameLength {
		return fmt.Errorf("%w: %q exceeds %d characters", ErrInvalidSheetName, name, MaxSheetNameLength)
	}
	if strings.ContainsAny(name, IllegalSheetNameChars) {
		return fmt.Errorf("%w: %q contains one of %s", ErrInvalidSheetName, name, IllegalSheetNameChars)
	}
	return nil
}

func (w *Workspace) SheetNames() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	names := make([]string, 0, len(w.state.Sheets))
	for _, sheet := range w.state.Sheets {
		names = append(names, sheet.Name)
	}
	return names
}

func (w *Workspace) HasSheet(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sheetLocked(name) != nil
}

func (w *Workspace) CreateSheet(name string) error {
	if err := ValidateSheetName(name); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sheetLocked(name) != nil {
		return fmt.Errorf("%w: %s", ErrSheetExists, name)
	}
	prev := w.state.Sheets
	w.state.Sheets = append(append([]*SheetSnapshot(nil), prev...), &SheetSnapshot{Name: name})
	if err := w.saveLocked(); err != nil {
		w.state.Sheets = prev
		return err
	}
	return nil
}

func (w *Workspace) RenameSheet(oldName, newName string) error {
	if err := ValidateSheetName(newName); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	sheet := w.sheetLocked(oldName)
	if sheet == nil {
		return fmt.Errorf("%w: %s", ErrSheetNotFound, oldName)
	}
	if oldName == newName {
		return nil
	}
	if w.sheetLocked(newName) != nil {
		return fmt.Errorf("%w: %s", ErrSheetExists, newName)
	}
	sheet.Name = newName
	if err := w.saveLocked(); err != nil {
		sheet.Name = oldName
		return err
	}
	return nil
}

func (w *Workspace) DeleteSheet(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	prev := w.state.Sheets
	for i, sheet := range prev {
		if sheet.Name == name {
			remaining := make([]*SheetSnapshot, 0, len(prev)-1)
			remaining = append(remaining, prev[:i]...)
			w.state.Sheets = append(remaining, prev[i+1:]...)
			if err := w.saveLocked(); err != nil {
				w.state.Sheets = prev
				return err
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrSheetNotFound, name)
}

// Rows returns a copy of the sheet's rows.
func (w *Workspace) Rows(name string) ([][]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	sheet := w.sheetLocked(name)
	if sheet == nil {
		return nil, fmt.Errorf("%w: %s", ErrSheetNotFound, name)
	}
	return copyRows(sheet.Rows), nil
}

// ReplaceRows clears the sheet's content and writes rows in one step.
func (w *Workspace) ReplaceRows(name string, rows [][]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	sheet := w.sheetLocked(name)
	if sheet == nil {
		return fmt.Errorf("%w: %s", ErrSheetNotFound, name)
	}
	prev := sheet.Rows
	sheet.Rows = copyRows(rows)
	if err := w.saveLocked(); err != nil {
		sheet.Rows = prev
		return err
	}
	return nil
}

// SetRow overwrites the row at index, padding the sheet with empty rows when
// index is past the end.
func (w *Workspace) SetRow(name string, index int, cells []string) error {
	if index < 0 {
		return fmt.Errorf("%w: negative row index %d", ErrInvalidInput, index)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	sheet := w.sheetLocked(name)
	if sheet == nil {
		return fmt.Errorf("%w: %s", ErrSheetNotFound, name)
	}
	prev := sheet.Rows
	rows := append([][]string(nil), prev...)
	for len(rows) <= index {
		rows = append(rows, []string{})
	}
	rows[index] = append([]string(nil), cells...)
	sheet.Rows = rows
	if err := w.saveLocked(); err != nil {
		sheet.Rows = prev
		return err
	}
	return nil
}

func (w *Workspace) Marker(name string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	sheet := w.sheetLocked(name)
	if sheet == nil {
		return "", fmt.Errorf("%w: %s", ErrSheetNotFound, name)
	}
	return sheet.Marker, nil
}

func (w *Workspace) SetMarker(name, marker string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	sheet := w.sheetLocked(name)
	if sheet == nil {
		return fmt.Errorf("%w: %s", ErrSheetNotFound, name)
	}
	if sheet.Marker == marker {
		return nil
	}
	prev := sheet.Marker
	sheet.Marker = marker
	if err := w.saveLocked(); err != nil {
		sheet.Marker = prev
		return err
	}
	return nil
}

func (w *Workspace) Property(key string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	value, ok := w.state.Properties[key]
	return value, ok
}

func (w *Workspace) SetProperty(key, value string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty property key", ErrInvalidInput)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	prev, existed := w.state.Properties[key]
	if existed && prev == value {
		return nil
	}
	w.state.Properties[key] = value
	if err := w.saveLocked(); err != nil {
		if existed {
			w.state.Properties[key] = prev
		} else {
			delete(w.state.Properties, key)
		}
		return err
	}
	return nil
}

func (w *Workspace) sheetLocked(name string) *SheetSnapshot {
	for _, sheet := range w.state.Sheets {
		if sheet.Name == name {
			return sheet
		}
	}
	return nil
}

// saveLocked persists the current state. Callers undo their change when it
// fails so memory never holds state the backend rejected.
func (w *Workspace) saveLocked() error {
	if err := w.backend.Save(w.state); err != nil {
		return fmt.Errorf("save workspace: %w", err)
	}
	return nil
}

func copyRows(rows [][]string) [][]string {
	if rows == nil {
		return nil
	}
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = append([]string(nil), row...)
	}
	return out
}
