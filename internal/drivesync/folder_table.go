package drivesync

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agentworkforce/drivewatch/internal/workspace"
)

const DefaultFoldersSheet = "Folders"

// FolderTableHeader names the folder table columns in order.
var FolderTableHeader = []string{"Enabled", "Reference", "Name", "LastChecked", "Owner", "EmailRecipient", "Error"}

const (
	colEnabled = iota
	colReference
	colName
	colLastChecked
	colOwner
	colRecipient
	colError
	folderTableColumns
)

// FolderRow is one configured folder. Index is the row's position in the
// sheet, header included.
type FolderRow struct {
	Index       int
	Enabled     bool
	Reference   string
	Name        string
	LastChecked time.Time
	Owner       string
	Recipient   string
	Error       string
}

// FolderTable is where the driver reads its work and records per-row status.
type FolderTable interface {
	Rows() ([]FolderRow, error)
	UpdateRow(row FolderRow) error
}

// SeedFolder is a folder to add to the table when it is not there yet.
type SeedFolder struct {
	Reference string
	Enabled   bool
	Recipient string
}

// SheetFolderTable keeps the folder table in a workspace sheet.
type SheetFolderTable struct {
	book  SheetBook
	sheet string
}

func NewSheetFolderTable(book SheetBook, sheet string) *SheetFolderTable {
	if strings.TrimSpace(sheet) == "" {
		sheet = DefaultFoldersSheet
	}
	return &SheetFolderTable{book: book, sheet: sheet}
}

func (t *SheetFolderTable) Sheet() string {
	return t.sheet
}

// Rows skips the first row when it is a header, meaning its first cell is
// not a boolean.
func (t *SheetFolderTable) Rows() ([]FolderRow, error) {
	raw, err := t.book.Rows(t.sheet)
	if err != nil {
		if errors.Is(err, workspace.ErrSheetNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read folder table: %w", err)
	}
	start := 0
	if len(raw) > 0 && isHeaderRow(raw[0]) {
		start = 1
	}
	rows := make([]FolderRow, 0, len(raw)-start)
	for i := start; i < len(raw); i++ {
		rows = append(rows, parseFolderRow(i, raw[i]))
	}
	return rows, nil
}

func (t *SheetFolderTable) UpdateRow(row FolderRow) error {
	if err := t.book.SetRow(t.sheet, row.Index, formatFolderRow(row)); err != nil {
		return fmt.Errorf("update folder row %d: %w", row.Index, err)
	}
	return nil
}

// Seed appends folders whose reference is not in the table yet, creating the
// sheet with a header row when it does not exist.
func (t *SheetFolderTable) Seed(folders []SeedFolder) (int, error) {
	if len(folders) == 0 {
		return 0, nil
	}
	if !t.book.HasSheet(t.sheet) {
		if err := t.book.CreateSheet(t.sheet); err != nil {
			return 0, fmt.Errorf("create folder table: %w", err)
		}
		if err := t.book.ReplaceRows(t.sheet, [][]string{append([]string(nil), FolderTableHeader...)}); err != nil {
			return 0, fmt.Errorf("write folder table header: %w", err)
		}
	}
	raw, err := t.book.Rows(t.sheet)
	if err != nil {
		return 0, fmt.Errorf("read folder table: %w", err)
	}
	known := make(map[string]struct{}, len(raw))
	for _, row := range raw {
		if len(row) > colReference {
			known[strings.TrimSpace(row[colReference])] = struct{}{}
		}
	}

	added := 0
	next := len(raw)
	for _, folder := range folders {
		reference := strings.TrimSpace(folder.Reference)
		if reference == "" {
			continue
		}
		if _, ok := known[reference]; ok {
			continue
		}
		row := FolderRow{Index: next, Enabled: folder.Enabled, Reference: reference, Recipient: folder.Recipient}
		if err := t.UpdateRow(row); err != nil {
			return added, err
		}
		known[reference] = struct{}{}
		next++
		added++
	}
	return added, nil
}

func isHeaderRow(row []string) bool {
	if len(row) == 0 {
		return false
	}
	_, ok := parseBoolCell(row[0])
	return !ok
}

func parseBoolCell(cell string) (bool, bool) {
	switch strings.TrimSpace(cell) {
	case "true", "TRUE", "True":
		return true, true
	case "false", "FALSE", "False":
		return false, true
	}
	return false, false
}

func parseFolderRow(index int, cells []string) FolderRow {
	cell := func(col int) string {
		if col < len(cells) {
			return strings.TrimSpace(cells[col])
		}
		return ""
	}
	enabled, _ := parseBoolCell(cell(colEnabled))
	row := FolderRow{
		Index:     index,
		Enabled:   enabled,
		Reference: cell(colReference),
		Name:      cell(colName),
		Owner:     cell(colOwner),
		Recipient: cell(colRecipient),
		Error:     cell(colError),
	}
	if checked, err := time.Parse(time.RFC3339, cell(colLastChecked)); err == nil {
		row.LastChecked = checked
	}
	return row
}

func formatFolderRow(row FolderRow) []string {
	cells := make([]string, folderTableColumns)
	cells[colEnabled] = strings.ToUpper(strconv.FormatBool(row.Enabled))
	cells[colReference] = row.Reference
	cells[colName] = row.Name
	if !row.LastChecked.IsZero() {
		cells[colLastChecked] = row.LastChecked.UTC().Format(time.RFC3339)
	}
	cells[colOwner] = row.Owner
	cells[colRecipient] = row.Recipient
	cells[colError] = row.Error
	return cells
}
