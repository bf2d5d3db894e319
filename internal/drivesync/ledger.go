package drivesync

import (
	"errors"
	"fmt"
	"time"

	"github.com/agentworkforce/drivewatch/internal/workspace"
)

// LedgerHeader is the first row of every ledger sheet.
var LedgerHeader = []string{"Name", "URL", "Kind", "LastUpdated", "Owner", "AncestryPath"}

const ledgerURLColumn = 1

// Ledger is the per-folder snapshot of the previous run's listing.
type Ledger struct {
	book  SheetBook
	sheet string
}

func NewLedger(book SheetBook, sheet string) *Ledger {
	return &Ledger{book: book, sheet: sheet}
}

func (l *Ledger) Sheet() string {
	return l.sheet
}

// ReadExistingIdentifiers returns the URLs of the previous snapshot. A
// missing sheet or one holding only a header yields an empty set.
func (l *Ledger) ReadExistingIdentifiers() (map[string]struct{}, error) {
	out := map[string]struct{}{}
	rows, err := l.book.Rows(l.sheet)
	if err != nil {
		if errors.Is(err, workspace.ErrSheetNotFound) {
			return out, nil
		}
		return nil, fmt.Errorf("read ledger %s: %w", l.sheet, err)
	}
	if len(rows) < 2 {
		return out, nil
	}
	for _, row := range rows[1:] {
		if len(row) <= ledgerURLColumn || row[ledgerURLColumn] == "" {
			continue
		}
		out[row[ledgerURLColumn]] = struct{}{}
	}
	return out, nil
}

// ReplaceContents discards the previous snapshot and writes the header and
// one row per entry in a single write.
func (l *Ledger) ReplaceContents(entries []Entry) error {
	rows := make([][]string, 0, len(entries)+1)
	rows = append(rows, append([]string(nil), LedgerHeader...))
	for _, entry := range entries {
		rows = append(rows, ledgerRow(entry))
	}
	if err := l.book.ReplaceRows(l.sheet, rows); err != nil {
		return fmt.Errorf("write ledger %s: %w", l.sheet, err)
	}
	return nil
}

// Reconcile returns the entries whose URL the ledger did not hold before,
// then replaces the ledger with entries.
func Reconcile(ledger *Ledger, entries []Entry) ([]Entry, error) {
	prior, err := ledger.ReadExistingIdentifiers()
	if err != nil {
		return nil, err
	}
	var fresh []Entry
	for _, entry := range entries {
		if _, known := prior[entry.URL]; !known {
			fresh = append(fresh, entry)
		}
	}
	if err := ledger.ReplaceContents(entries); err != nil {
		return nil, err
	}
	return fresh, nil
}

func ledgerRow(entry Entry) []string {
	lastUpdated := ""
	if !entry.LastUpdated.IsZero() {
		lastUpdated = entry.LastUpdated.UTC().Format(time.RFC3339)
	}
	owner := entry.Owner
	if owner == "" {
		owner = OwnerUnavailable
	}
	return []string{entry.Name, entry.URL, string(entry.Kind), lastUpdated, owner, entry.AncestryPath}
}
