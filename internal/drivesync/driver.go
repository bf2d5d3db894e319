package drivesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentworkforce/drivewatch/internal/logging"
)

// Notifier delivers the new entries found for one folder. It is called only
// with a recipient and at least one entry.
type Notifier interface {
	Notify(ctx context.Context, recipient, folderName string, entries []Entry) error
}

type RowStatus string

const (
	RowSkipped         RowStatus = "Skip"
	RowReferenceError  RowStatus = "ReferenceError"
	RowResolutionError RowStatus = "ResolutionError"
	RowSuccess         RowStatus = "Success"
	RowProcessingError RowStatus = "RowProcessingError"
)

type RowResult struct {
	Row        int
	Reference  string
	FolderID   string
	Ledger     string
	Status     RowStatus
	NewEntries []Entry
	Err        error
}

type RunSummary struct {
	Started  time.Time
	Finished time.Time
	Rows     []RowResult
}

// Count returns how many rows ended in status.
func (s RunSummary) Count(status RowStatus) int {
	n := 0
	for _, row := range s.Rows {
		if row.Status == status {
			n++
		}
	}
	return n
}

type DriverOptions struct {
	Table      FolderTable
	Book       SheetBook
	Properties PropertyStore
	Resolver   *Resolver
	Enumerator *Enumerator
	Notifier   Notifier
	Logger     *slog.Logger
	Now        func() time.Time
}

// Driver runs one pass over the folder table.
type Driver struct {
	table      FolderTable
	book       SheetBook
	mapper     *IdentityMapper
	resolver   *Resolver
	enumerator *Enumerator
	notifier   Notifier
	logger     *slog.Logger
	now        func() time.Time
}

func NewDriver(opts DriverOptions) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Component("driver")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	var reserved []string
	if sheet, ok := opts.Table.(interface{ Sheet() string }); ok {
		reserved = append(reserved, sheet.Sheet())
	}
	return &Driver{
		table:      opts.Table,
		book:       opts.Book,
		mapper:     NewIdentityMapper(opts.Book, opts.Properties, logger, reserved...),
		resolver:   opts.Resolver,
		enumerator: opts.Enumerator,
		notifier:   opts.Notifier,
		logger:     logger,
		now:        now,
	}
}

// Run processes every row in table order. A failing row is recorded on that
// row and never stops the others; only a failure to read the table itself,
// or cancellation, is returned.
func (d *Driver) Run(ctx context.Context) (RunSummary, error) {
	summary := RunSummary{Started: d.now()}
	rows, err := d.table.Rows()
	if err != nil {
		d.logger.Error("read folder table failed", "error", err)
		return summary, err
	}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			summary.Finished = d.now()
			return summary, err
		}
		result := d.processRow(ctx, row)
		summary.Rows = append(summary.Rows, result)
	}
	summary.Finished = d.now()
	d.logger.Info("run complete",
		"rows", len(summary.Rows),
		"succeeded", summary.Count(RowSuccess),
		"skipped", summary.Count(RowSkipped),
		"failed", len(summary.Rows)-summary.Count(RowSuccess)-summary.Count(RowSkipped),
		"duration", summary.Finished.Sub(summary.Started),
	)
	return summary, nil
}

func (d *Driver) processRow(ctx context.Context, row FolderRow) (result RowResult) {
	result = RowResult{Row: row.Index, Reference: row.Reference}
	defer func() {
		if recovered := recover(); recovered != nil {
			result.Status = RowProcessingError
			result.NewEntries = nil
			result.Err = &RowError{Row: row.Index, Err: fmt.Errorf("panic: %v", recovered)}
			d.recordFailure(row, result)
		}
	}()

	if !row.Enabled || row.Reference == "" {
		result.Status = RowSkipped
		return result
	}
	logger := d.logger.With("row", row.Index, "reference", row.Reference)

	folderID, err := ParseReference(row.Reference)
	if err != nil {
		result.Status = RowReferenceError
		result.Err = err
		d.recordFailure(row, result)
		return result
	}
	result.FolderID = folderID

	meta, err := d.resolver.Resolve(ctx, folderID)
	if err != nil {
		result.Status = RowResolutionError
		result.Err = err
		d.recordFailure(row, result)
		return result
	}

	ledgerName, err := d.mapper.Resolve(folderID, meta.Name)
	if err != nil {
		result.Status = RowResolutionError
		result.Err = err
		d.recordFailure(row, result)
		return result
	}
	result.Ledger = ledgerName

	entries, err := d.enumerator.Enumerate(ctx, folderID, meta.Name, meta)
	if err != nil {
		result.Status = RowProcessingError
		result.Err = &RowError{Row: row.Index, Err: err}
		d.recordFailure(row, result)
		return result
	}

	fresh, err := Reconcile(NewLedger(d.book, ledgerName), entries)
	if err != nil {
		result.Status = RowProcessingError
		result.Err = &RowError{Row: row.Index, Err: err}
		d.recordFailure(row, result)
		return result
	}
	result.Status = RowSuccess
	result.NewEntries = fresh

	row.Name = meta.Name
	row.Owner = meta.OwnerEmail
	row.LastChecked = d.now()
	row.Error = ""
	if err := d.table.UpdateRow(row); err != nil {
		logger.Error("update folder row failed", "error", err)
	}
	logger.Info("folder synced",
		"folder_id", folderID,
		"ledger", ledgerName,
		"backend", meta.Backend.String(),
		"entries", len(entries),
		"new", len(fresh),
	)

	if len(fresh) > 0 && row.Recipient != "" && d.notifier != nil {
		if err := d.notifier.Notify(ctx, row.Recipient, meta.Name, fresh); err != nil {
			logger.Error("notify failed", "recipient", row.Recipient, "error", err)
		}
	}
	return result
}

func (d *Driver) recordFailure(row FolderRow, result RowResult) {
	level := slog.LevelError
	if errors.Is(result.Err, ErrEmptyReference) || errors.Is(result.Err, ErrUnrecognizedReference) {
		level = slog.LevelWarn
	}
	d.logger.Log(context.Background(), level, "folder row failed",
		"row", row.Index,
		"reference", row.Reference,
		"status", string(result.Status),
		"error", result.Err,
	)
	row.Error = result.Err.Error()
	if err := d.table.UpdateRow(row); err != nil {
		d.logger.Error("record row error failed", "row", row.Index, "error", err)
	}
}
