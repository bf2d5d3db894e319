package drivesync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agentworkforce/drivewatch/internal/logging"
)

// Resolver turns a folder identifier into metadata, preferring the native
// backend and falling back to REST.
type Resolver struct {
	native NativeClient
	rest   RESTClient
	logger *slog.Logger
}

// NewResolver accepts a nil native client; every folder then resolves via REST.
func NewResolver(native NativeClient, rest RESTClient, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = logging.Component("resolver")
	}
	return &Resolver{native: native, rest: rest, logger: logger}
}

func (r *Resolver) Resolve(ctx context.Context, folderID string) (FolderMetadata, error) {
	if r.native != nil {
		folder, err := r.native.GetFolder(ctx, folderID)
		if err == nil {
			return FolderMetadata{
				ID:         folderID,
				Name:       folder.Name,
				OwnerEmail: r.ResolveOwner(ctx, folderID),
				Backend:    BackendNative,
			}, nil
		}
		// Not found, permission denied and transient failures all fall through.
		r.logger.Debug("native lookup failed, trying rest", "folder_id", folderID, "error", err)
	}
	if r.rest == nil {
		return FolderMetadata{}, fmt.Errorf("%w: %s: no rest backend configured", ErrFolderUnresolvable, folderID)
	}
	item, err := r.rest.GetFile(ctx, folderID, ResolveFields)
	if err != nil {
		return FolderMetadata{}, fmt.Errorf("%w: %s: %v", ErrFolderUnresolvable, folderID, err)
	}
	if item.ID == "" && item.MimeType == "" && item.Name == "" {
		return FolderMetadata{}, fmt.Errorf("%w: %s: empty response", ErrFolderUnresolvable, folderID)
	}
	if !item.IsFolder() {
		return FolderMetadata{}, &NotAFolderError{FolderID: folderID, MimeType: item.MimeType}
	}
	name := item.Name
	if name == "" {
		name = UntitledFolder
	}
	return FolderMetadata{
		ID:         folderID,
		Name:       name,
		OwnerEmail: item.OwnerEmail(),
		Backend:    BackendREST,
		ScopeID:    item.DriveID,
	}, nil
}

// ResolveOwner never fails: native owner, then a REST owners lookup, then
// OwnerUnavailable.
func (r *Resolver) ResolveOwner(ctx context.Context, folderID string) string {
	if r.native != nil {
		owner, err := r.native.FolderOwner(ctx, folderID)
		if err == nil && owner != "" {
			return owner
		}
	}
	if r.rest != nil {
		item, err := r.rest.GetFile(ctx, folderID, OwnerFields)
		if err == nil {
			return item.OwnerEmail()
		}
		r.logger.Debug("owner lookup failed", "folder_id", folderID, "error", err)
	}
	return OwnerUnavailable
}
