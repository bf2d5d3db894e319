package drivesync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errFakeNotFound = errors.New("fake: not found")

type fakeNative struct {
	folders   map[string]RemoteItem
	owners    map[string]string
	files     map[string][]RemoteItem
	children  map[string][]RemoteItem
	listErr   map[string]error
	panicOn   map[string]bool
	listCalls []string
}

func newFakeNative() *fakeNative {
	return &fakeNative{
		folders:  map[string]RemoteItem{},
		owners:   map[string]string{},
		files:    map[string][]RemoteItem{},
		children: map[string][]RemoteItem{},
		listErr:  map[string]error{},
		panicOn:  map[string]bool{},
	}
}

func (f *fakeNative) GetFolder(_ context.Context, folderID string) (RemoteItem, error) {
	item, ok := f.folders[folderID]
	if !ok {
		return RemoteItem{}, errFakeNotFound
	}
	return item, nil
}

func (f *fakeNative) FolderOwner(_ context.Context, folderID string) (string, error) {
	owner, ok := f.owners[folderID]
	if !ok {
		return "", errFakeNotFound
	}
	return owner, nil
}

func (f *fakeNative) ListFiles(_ context.Context, folderID string) ([]RemoteItem, error) {
	if f.panicOn[folderID] {
		panic("fake native exploded on " + folderID)
	}
	f.listCalls = append(f.listCalls, "files:"+folderID)
	if err := f.listErr[folderID]; err != nil {
		return nil, err
	}
	return f.files[folderID], nil
}

func (f *fakeNative) ListFolders(_ context.Context, folderID string) ([]RemoteItem, error) {
	f.listCalls = append(f.listCalls, "folders:"+folderID)
	if err := f.listErr[folderID]; err != nil {
		return nil, err
	}
	return f.children[folderID], nil
}

// fakeREST serves pages[parent][n] for page token "<parent>#<n>".
type fakeREST struct {
	items      map[string]RemoteItem
	getErr     map[string]error
	pages      map[string][][]RemoteItem
	listErr    map[string]error
	getCalls   []string
	listCalls  []string
	listScopes []string
}

func newFakeREST() *fakeREST {
	return &fakeREST{
		items:   map[string]RemoteItem{},
		getErr:  map[string]error{},
		pages:   map[string][][]RemoteItem{},
		listErr: map[string]error{},
	}
}

func (f *fakeREST) GetFile(_ context.Context, fileID, fields string) (RemoteItem, error) {
	f.getCalls = append(f.getCalls, fileID+"|"+fields)
	if err := f.getErr[fileID]; err != nil {
		return RemoteItem{}, err
	}
	item, ok := f.items[fileID]
	if !ok {
		return RemoteItem{}, &HTTPError{StatusCode: 404, Code: "notFound", Message: "File not found: " + fileID}
	}
	return item, nil
}

func (f *fakeREST) ListChildren(_ context.Context, parentID, pageToken, scopeID string) (ChildPage, error) {
	f.listCalls = append(f.listCalls, parentID+"|"+pageToken)
	f.listScopes = append(f.listScopes, scopeID)
	if err := f.listErr[parentID]; err != nil {
		return ChildPage{}, &ListingError{ContainerID: parentID, Err: err}
	}
	index := 0
	if pageToken != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(pageToken, parentID+"#"))
		if err != nil {
			return ChildPage{}, fmt.Errorf("bad page token %q", pageToken)
		}
		index = n
	}
	pages := f.pages[parentID]
	if index >= len(pages) {
		return ChildPage{}, nil
	}
	page := ChildPage{Files: pages[index]}
	if index+1 < len(pages) {
		page.NextPageToken = fmt.Sprintf("%s#%d", parentID, index+1)
	}
	return page, nil
}

type recordedNotification struct {
	recipient string
	folder    string
	entries   []Entry
}

type fakeNotifier struct {
	sent []recordedNotification
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, recipient, folderName string, entries []Entry) error {
	f.sent = append(f.sent, recordedNotification{recipient: recipient, folder: folderName, entries: entries})
	return f.err
}

func folderItem(id, name string) RemoteItem {
	return RemoteItem{ID: id, Name: name, MimeType: FolderMimeType, ModifiedTime: "2024-03-01T10:00:00Z"}
}

func fileItem(id, name string) RemoteItem {
	return RemoteItem{
		ID:           id,
		Name:         name,
		MimeType:     "text/plain",
		ModifiedTime: "2024-03-02T11:30:00Z",
		WebViewLink:  "https://drive.google.com/file/d/" + id + "/view",
		Owners:       []Owner{{EmailAddress: "owner@example.com"}},
	}
}

func entryNames(entries []Entry) []string {
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name)
	}
	return names
}
