package drivesync

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const nativeListFields = "nextPageToken,files(" + ListFields + ")"

// NativeClient is the primary backend. It sees the caller's own Drive only;
// shared-drive folders fail here and are picked up by the REST backend.
type NativeClient interface {
	GetFolder(ctx context.Context, folderID string) (RemoteItem, error)
	FolderOwner(ctx context.Context, folderID string) (string, error)
	// ListFiles returns every non-folder child across all pages.
	ListFiles(ctx context.Context, folderID string) ([]RemoteItem, error)
	// ListFolders returns every sub-folder across all pages.
	ListFolders(ctx context.Context, folderID string) ([]RemoteItem, error)
}

var errNoOwner = errors.New("owner not reported")

type DriveNativeClient struct {
	service *drive.Service
}

func NewDriveNativeClient(ctx context.Context, opts ...option.ClientOption) (*DriveNativeClient, error) {
	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	return &DriveNativeClient{service: service}, nil
}

func (c *DriveNativeClient) GetFolder(ctx context.Context, folderID string) (RemoteItem, error) {
	file, err := c.service.Files.Get(folderID).Fields("id,name,mimeType").Context(ctx).Do()
	if err != nil {
		return RemoteItem{}, err
	}
	item := fromDriveFile(file)
	if !item.IsFolder() {
		return RemoteItem{}, &NotAFolderError{FolderID: folderID, MimeType: item.MimeType}
	}
	return item, nil
}

func (c *DriveNativeClient) FolderOwner(ctx context.Context, folderID string) (string, error) {
	file, err := c.service.Files.Get(folderID).Fields("owners(emailAddress)").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(file.Owners) == 0 || file.Owners[0] == nil || file.Owners[0].EmailAddress == "" {
		return "", errNoOwner
	}
	return file.Owners[0].EmailAddress, nil
}

func (c *DriveNativeClient) ListFiles(ctx context.Context, folderID string) ([]RemoteItem, error) {
	return c.list(ctx, folderID, fmt.Sprintf("mimeType != '%s'", FolderMimeType))
}

func (c *DriveNativeClient) ListFolders(ctx context.Context, folderID string) ([]RemoteItem, error) {
	return c.list(ctx, folderID, fmt.Sprintf("mimeType = '%s'", FolderMimeType))
}

func (c *DriveNativeClient) list(ctx context.Context, folderID, mimeClause string) ([]RemoteItem, error) {
	var items []RemoteItem
	call := c.service.Files.List().
		Q(childrenQuery(folderID, mimeClause)).
		PageSize(MaxPageSize).
		Fields(nativeListFields)
	err := call.Pages(ctx, func(page *drive.FileList) error {
		for _, file := range page.Files {
			if file == nil {
				continue
			}
			items = append(items, fromDriveFile(file))
		}
		return nil
	})
	if err != nil {
		return nil, &ListingError{ContainerID: folderID, Err: err}
	}
	return items, nil
}

func fromDriveFile(file *drive.File) RemoteItem {
	item := RemoteItem{
		ID:           file.Id,
		Name:         file.Name,
		MimeType:     file.MimeType,
		ModifiedTime: file.ModifiedTime,
		WebViewLink:  file.WebViewLink,
		DriveID:      file.DriveId,
	}
	for _, owner := range file.Owners {
		if owner == nil {
			continue
		}
		item.Owners = append(item.Owners, Owner{EmailAddress: owner.EmailAddress, DisplayName: owner.DisplayName})
	}
	return item
}
