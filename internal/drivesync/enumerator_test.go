package drivesync

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/agentworkforce/drivewatch/internal/logging"
)

func TestEnumerateNativeFilesBeforeFolders(t *testing.T) {
	native := newFakeNative()
	native.files["root"] = []RemoteItem{fileItem("f1", "one.txt"), fileItem("f2", "two.txt")}
	native.children["root"] = []RemoteItem{folderItem("A", "Alpha"), folderItem("B", "Beta")}
	native.files["A"] = []RemoteItem{fileItem("a1", "alpha.txt")}
	native.children["A"] = []RemoteItem{folderItem("AA", "Deep")}
	native.files["AA"] = []RemoteItem{fileItem("aa1", "deep.txt")}

	enumerator := NewEnumerator(EnumeratorOptions{Native: native, Logger: logging.Discard()})
	entries, err := enumerator.Enumerate(context.Background(), "root", "Root", FolderMetadata{Backend: BackendNative})
	if err != nil {
		t.Fatalf("enumerate failed: %v", err)
	}
	want := []string{"one.txt", "two.txt", "Alpha", "alpha.txt", "Deep", "deep.txt", "Beta"}
	if got := entryNames(entries); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected order %v, got %v", want, got)
	}
	if entries[0].AncestryPath != "Root" {
		t.Fatalf("expected root ancestry, got %q", entries[0].AncestryPath)
	}
	if entries[5].AncestryPath != "Root > Alpha > Deep" {
		t.Fatalf("expected nested ancestry, got %q", entries[5].AncestryPath)
	}
	if entries[2].Kind != KindFolder || entries[0].Kind != KindFile {
		t.Fatalf("unexpected kinds: %q %q", entries[2].Kind, entries[0].Kind)
	}
}

func TestEnumerateRESTPaginatesAndRecursesInPlace(t *testing.T) {
	rest := newFakeREST()
	rest.pages["root"] = [][]RemoteItem{
		{fileItem("r1", "first.txt"), folderItem("X", "Sub")},
		{fileItem("r2", "second.txt")},
	}
	rest.pages["X"] = [][]RemoteItem{{fileItem("x1", "inner.txt")}}

	enumerator := NewEnumerator(EnumeratorOptions{REST: rest, Logger: logging.Discard()})
	entries, err := enumerator.Enumerate(context.Background(), "root", "Shared", FolderMetadata{Backend: BackendREST, ScopeID: "drive-1"})
	if err != nil {
		t.Fatalf("enumerate failed: %v", err)
	}
	want := []string{"first.txt", "Sub", "inner.txt", "second.txt"}
	if got := entryNames(entries); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected order %v, got %v", want, got)
	}
	wantCalls := []string{"root|", "X|", "root|root#1"}
	if !reflect.DeepEqual(rest.listCalls, wantCalls) {
		t.Fatalf("expected list calls %v, got %v", wantCalls, rest.listCalls)
	}
	for _, scope := range rest.listScopes {
		if scope != "drive-1" {
			t.Fatalf("expected every page scoped to drive-1, got %v", rest.listScopes)
		}
	}
	if entries[2].AncestryPath != "Shared > Sub" {
		t.Fatalf("expected nested ancestry, got %q", entries[2].AncestryPath)
	}
}

func TestEnumerateSkipsFailingSubfolder(t *testing.T) {
	native := newFakeNative()
	native.files["root"] = []RemoteItem{fileItem("f1", "kept.txt")}
	native.children["root"] = []RemoteItem{folderItem("bad", "Broken"), folderItem("good", "Fine")}
	native.listErr["bad"] = errors.New("permission denied")
	native.files["good"] = []RemoteItem{fileItem("g1", "also-kept.txt")}

	enumerator := NewEnumerator(EnumeratorOptions{Native: native, Logger: logging.Discard()})
	entries, err := enumerator.Enumerate(context.Background(), "root", "Root", FolderMetadata{Backend: BackendNative})
	if err != nil {
		t.Fatalf("enumerate failed: %v", err)
	}
	want := []string{"kept.txt", "Broken", "Fine", "also-kept.txt"}
	if got := entryNames(entries); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestEnumerateRootListingFailurePropagates(t *testing.T) {
	rest := newFakeREST()
	rest.listErr["root"] = &HTTPError{StatusCode: 500, Message: "backend error"}

	enumerator := NewEnumerator(EnumeratorOptions{REST: rest, Logger: logging.Discard()})
	_, err := enumerator.Enumerate(context.Background(), "root", "Root", FolderMetadata{Backend: BackendREST})
	if !errors.Is(err, ErrListingFailed) {
		t.Fatalf("expected listing failure, got %v", err)
	}

	native := newFakeNative()
	native.listErr["root"] = errors.New("boom")
	enumerator = NewEnumerator(EnumeratorOptions{Native: native, Logger: logging.Discard()})
	_, err = enumerator.Enumerate(context.Background(), "root", "Root", FolderMetadata{Backend: BackendNative})
	if !errors.Is(err, ErrListingFailed) {
		t.Fatalf("expected listing failure from native backend, got %v", err)
	}
}

func TestEnumerateRespectsMaxDepth(t *testing.T) {
	rest := newFakeREST()
	rest.pages["root"] = [][]RemoteItem{{folderItem("L1", "Level1")}}
	rest.pages["L1"] = [][]RemoteItem{{folderItem("L2", "Level2")}}
	rest.pages["L2"] = [][]RemoteItem{{fileItem("deep", "too-deep.txt")}}

	enumerator := NewEnumerator(EnumeratorOptions{REST: rest, MaxDepth: 1, Logger: logging.Discard()})
	entries, err := enumerator.Enumerate(context.Background(), "root", "Root", FolderMetadata{Backend: BackendREST})
	if err != nil {
		t.Fatalf("enumerate failed: %v", err)
	}
	want := []string{"Level1", "Level2"}
	if got := entryNames(entries); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestEnumerateItemFallbacks(t *testing.T) {
	rest := newFakeREST()
	rest.pages["root"] = [][]RemoteItem{{
		{ID: "nolink", Name: "plain.bin", MimeType: "application/octet-stream", ModifiedTime: "2024-05-06T07:08:09+02:00"},
		folderItem("sub", "Sub"),
		{ID: "badtime", Name: "broken.txt", MimeType: "text/plain", ModifiedTime: "yesterday"},
	}}

	enumerator := NewEnumerator(EnumeratorOptions{REST: rest, Logger: logging.Discard()})
	entries, err := enumerator.Enumerate(context.Background(), "root", "Root", FolderMetadata{Backend: BackendREST})
	if err != nil {
		t.Fatalf("enumerate failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected unparsable item to be skipped, got %v", entryNames(entries))
	}
	if entries[0].URL != "https://drive.google.com/file/d/nolink/view" {
		t.Fatalf("unexpected file url fallback %q", entries[0].URL)
	}
	if entries[1].URL != "https://drive.google.com/drive/folders/sub" {
		t.Fatalf("unexpected folder url fallback %q", entries[1].URL)
	}
	want := time.Date(2024, 5, 6, 5, 8, 9, 0, time.UTC)
	if !entries[0].LastUpdated.Equal(want) {
		t.Fatalf("expected %s, got %s", want, entries[0].LastUpdated)
	}
	if entries[0].Owner != OwnerUnavailable {
		t.Fatalf("expected owner %q, got %q", OwnerUnavailable, entries[0].Owner)
	}
}
