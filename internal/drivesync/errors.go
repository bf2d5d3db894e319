package drivesync

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyReference        = errors.New("empty folder reference")
	ErrUnrecognizedReference = errors.New("unrecognized folder reference")
	ErrFolderUnresolvable    = errors.New("folder unresolvable")
	ErrNotAFolder            = errors.New("not a folder")
	ErrListingFailed         = errors.New("listing failed")
	ErrLedgerCreationFailed  = errors.New("ledger creation failed")
	ErrRowProcessing         = errors.New("row processing failed")
)

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

type NotAFolderError struct {
	FolderID string
	MimeType string
}

func (e *NotAFolderError) Error() string {
	if e.MimeType == "" {
		return fmt.Sprintf("%s is not a folder", e.FolderID)
	}
	return fmt.Sprintf("%s is not a folder (%s)", e.FolderID, e.MimeType)
}

func (e *NotAFolderError) Is(target error) bool {
	return target == ErrNotAFolder
}

// ListingError reports a failed page request for one container.
type ListingError struct {
	ContainerID string
	Err         error
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("listing %s failed: %v", e.ContainerID, e.Err)
}

func (e *ListingError) Is(target error) bool {
	return target == ErrListingFailed
}

func (e *ListingError) Unwrap() error {
	return e.Err
}

// RowError wraps anything unexpected that escaped one folder row's pipeline.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Is(target error) bool {
	return target == ErrRowProcessing
}

func (e *RowError) Unwrap() error {
	return e.Err
}
