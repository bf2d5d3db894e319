// Package drivesync finds entries that appeared in monitored Drive folders
// since the previous run and keeps one ledger sheet per folder.
package drivesync

import "time"

const (
	FolderMimeType = "application/vnd.google-apps.folder"
	MaxPageSize    = 1000

	// OwnerUnavailable stands in for an owner address no backend could provide.
	OwnerUnavailable = "unavailable"

	// UntitledFolder names folders the REST backend returned without a name.
	UntitledFolder = "Untitled folder"

	// ListFields is the per-item field selection used by both backends.
	ListFields = "id,name,mimeType,modifiedTime,webViewLink,owners"

	// ResolveFields is the REST metadata selection for folder resolution.
	ResolveFields = "id,name,mimeType,owners,driveId"

	// OwnerFields asks only for ownership.
	OwnerFields = "owners"
)

// Backend tags which data source resolved a folder and must enumerate it.
type Backend int

const (
	BackendNative Backend = iota + 1
	BackendREST
)

func (b Backend) String() string {
	switch b {
	case BackendNative:
		return "native"
	case BackendREST:
		return "rest"
	default:
		return "unknown"
	}
}

type FolderMetadata struct {
	ID         string
	Name       string
	OwnerEmail string
	Backend    Backend
	// ScopeID is the shared drive holding the folder; empty outside shared drives.
	ScopeID string
}

type EntryKind string

const (
	KindFile   EntryKind = "File"
	KindFolder EntryKind = "Folder"
)

type Entry struct {
	Name         string
	URL          string
	Kind         EntryKind
	LastUpdated  time.Time
	Owner        string
	AncestryPath string
}

type Owner struct {
	EmailAddress string `json:"emailAddress"`
	DisplayName  string `json:"displayName,omitempty"`
}

// RemoteItem is a Drive file resource as both backends return it.
type RemoteItem struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	MimeType     string  `json:"mimeType"`
	ModifiedTime string  `json:"modifiedTime,omitempty"`
	WebViewLink  string  `json:"webViewLink,omitempty"`
	Owners       []Owner `json:"owners,omitempty"`
	DriveID      string  `json:"driveId,omitempty"`
}

func (i RemoteItem) IsFolder() bool {
	return i.MimeType == FolderMimeType
}

func (i RemoteItem) OwnerEmail() string {
	if len(i.Owners) > 0 && i.Owners[0].EmailAddress != "" {
		return i.Owners[0].EmailAddress
	}
	return OwnerUnavailable
}

// ChildPage is one page of a container listing.
type ChildPage struct {
	Files         []RemoteItem `json:"files"`
	NextPageToken string       `json:"nextPageToken,omitempty"`
}
