package drivesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentworkforce/drivewatch/internal/logging"
)

const (
	DefaultMaxDepth   = 100
	ancestrySeparator = " > "
	folderURLTemplate = "https://drive.google.com/drive/folders/%s"
	fileURLTemplate   = "https://drive.google.com/file/d/%s/view"
)

type EnumeratorOptions struct {
	Native NativeClient
	REST   RESTClient
	// MaxDepth bounds descent below the root; sub-folders past it are listed
	// as entries but not entered. Zero means DefaultMaxDepth.
	MaxDepth int
	Logger   *slog.Logger
}

// Enumerator walks a folder tree depth-first and flattens it into entries.
type Enumerator struct {
	native   NativeClient
	rest     RESTClient
	maxDepth int
	logger   *slog.Logger
}

func NewEnumerator(opts EnumeratorOptions) *Enumerator {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Component("enumerator")
	}
	return &Enumerator{
		native:   opts.Native,
		rest:     opts.REST,
		maxDepth: maxDepth,
		logger:   logger,
	}
}

// Enumerate lists the tree under rootID with the backend recorded in meta.
// A failure listing rootID itself is returned; failures below it only drop
// the affected item.
func (e *Enumerator) Enumerate(ctx context.Context, rootID, rootLabel string, meta FolderMetadata) ([]Entry, error) {
	entries := []Entry{}
	switch meta.Backend {
	case BackendNative:
		if e.native == nil {
			return nil, fmt.Errorf("%w: %s: native backend not configured", ErrListingFailed, rootID)
		}
		if err := e.walkNative(ctx, rootID, rootLabel, 0, &entries); err != nil {
			return nil, err
		}
	case BackendREST:
		if e.rest == nil {
			return nil, fmt.Errorf("%w: %s: rest backend not configured", ErrListingFailed, rootID)
		}
		if err := e.walkREST(ctx, rootID, rootLabel, meta.ScopeID, 0, &entries); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s: unknown backend %s", ErrListingFailed, rootID, meta.Backend)
	}
	return entries, nil
}

// walkNative appends all files of a level before its sub-folders, recursing
// into each sub-folder right after appending its entry.
func (e *Enumerator) walkNative(ctx context.Context, folderID, ancestry string, depth int, out *[]Entry) error {
	files, err := e.native.ListFiles(ctx, folderID)
	if err != nil {
		return asListingError(folderID, err)
	}
	for _, item := range files {
		entry, err := entryFromItem(item, ancestry)
		if err != nil {
			e.logger.Warn("skipping unreadable file", "folder_id", folderID, "item_id", item.ID, "error", err)
			continue
		}
		*out = append(*out, entry)
	}

	folders, err := e.native.ListFolders(ctx, folderID)
	if err != nil {
		return asListingError(folderID, err)
	}
	for _, item := range folders {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, err := entryFromItem(item, ancestry)
		if err != nil {
			e.logger.Warn("skipping unreadable folder", "folder_id", folderID, "item_id", item.ID, "error", err)
			continue
		}
		*out = append(*out, entry)
		if !e.canDescend(item, depth) {
			continue
		}
		if err := e.walkNative(ctx, item.ID, ancestry+ancestrySeparator+item.Name, depth+1, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("skipping unreadable sub-folder", "folder_id", item.ID, "error", err)
		}
	}
	return nil
}

// walkREST pages through a container and descends into each folder as soon
// as its entry has been appended.
func (e *Enumerator) walkREST(ctx context.Context, folderID, ancestry, scopeID string, depth int, out *[]Entry) error {
	pageToken := ""
	for {
		page, err := e.rest.ListChildren(ctx, folderID, pageToken, scopeID)
		if err != nil {
			return asListingError(folderID, err)
		}
		for _, item := range page.Files {
			entry, err := entryFromItem(item, ancestry)
			if err != nil {
				e.logger.Warn("skipping unreadable item", "folder_id", folderID, "item_id", item.ID, "error", err)
				continue
			}
			*out = append(*out, entry)
			if !item.IsFolder() || !e.canDescend(item, depth) {
				continue
			}
			if err := e.walkREST(ctx, item.ID, ancestry+ancestrySeparator+item.Name, scopeID, depth+1, out); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.logger.Warn("skipping unreadable sub-folder", "folder_id", item.ID, "error", err)
			}
		}
		if page.NextPageToken == "" {
			return nil
		}
		pageToken = page.NextPageToken
	}
}

func (e *Enumerator) canDescend(item RemoteItem, depth int) bool {
	if depth+1 <= e.maxDepth {
		return true
	}
	e.logger.Warn("max depth reached, not descending", "folder_id", item.ID, "name", item.Name, "max_depth", e.maxDepth)
	return false
}

func entryFromItem(item RemoteItem, ancestry string) (Entry, error) {
	if item.ID == "" {
		return Entry{}, fmt.Errorf("item %q has no id", item.Name)
	}
	kind := KindFile
	if item.IsFolder() {
		kind = KindFolder
	}
	var updated time.Time
	if item.ModifiedTime != "" {
		parsed, err := time.Parse(time.RFC3339, item.ModifiedTime)
		if err != nil {
			return Entry{}, fmt.Errorf("item %s modifiedTime: %w", item.ID, err)
		}
		updated = parsed.UTC()
	}
	url := item.WebViewLink
	if url == "" {
		if kind == KindFolder {
			url = fmt.Sprintf(folderURLTemplate, item.ID)
		} else {
			url = fmt.Sprintf(fileURLTemplate, item.ID)
		}
	}
	return Entry{
		Name:         item.Name,
		URL:          url,
		Kind:         kind,
		LastUpdated:  updated,
		Owner:        item.OwnerEmail(),
		AncestryPath: ancestry,
	}, nil
}

func asListingError(folderID string, err error) error {
	var listingErr *ListingError
	if errors.As(err, &listingErr) {
		return err
	}
	return &ListingError{ContainerID: folderID, Err: err}
}
