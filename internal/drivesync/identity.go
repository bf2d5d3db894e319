package drivesync

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/agentworkforce/drivewatch/internal/logging"
	"github.com/agentworkforce/drivewatch/internal/workspace"
)

const (
	MaxLedgerNameLength = workspace.MaxSheetNameLength
	ledgerMappingPrefix = "ledger."
	ledgerMarkerPrefix  = "folder:"
	defaultLedgerBase   = "folder"
	idFragmentLength    = 6
	defaultIDFragment   = "id"
)

// SheetBook is the part of a workspace the identity mapper, ledgers and the
// folder table work on.
type SheetBook interface {
	SheetNames() []string
	HasSheet(name string) bool
	CreateSheet(name string) error
	Rows(name string) ([][]string, error)
	ReplaceRows(name string, rows [][]string) error
	SetRow(name string, index int, cells []string) error
	Marker(name string) (string, error)
	SetMarker(name, marker string) error
}

// PropertyStore is the workspace-scoped key-value store holding the
// folder-to-ledger mapping.
type PropertyStore interface {
	Property(key string) (string, bool)
	SetProperty(key, value string) error
}

// IdentityMapper keeps each folder bound to one ledger sheet across folder
// renames, ledger renames and lost mappings.
type IdentityMapper struct {
	book     SheetBook
	props    PropertyStore
	reserved map[string]struct{}
	logger   *slog.Logger
}

// NewIdentityMapper never offers the reserved sheet names (the folder table)
// as ledgers.
func NewIdentityMapper(book SheetBook, props PropertyStore, logger *slog.Logger, reserved ...string) *IdentityMapper {
	if logger == nil {
		logger = logging.Component("identity")
	}
	reservedSet := make(map[string]struct{}, len(reserved))
	for _, name := range reserved {
		reservedSet[name] = struct{}{}
	}
	return &IdentityMapper{book: book, props: props, reserved: reservedSet, logger: logger}
}

// Resolve returns the ledger sheet for folderID, creating it when none of
// mapping, marker or name lookups finds one. The result is always marked
// with folderID and recorded in the mapping.
func (m *IdentityMapper) Resolve(folderID, displayName string) (string, error) {
	name, how, err := m.locate(folderID, displayName)
	if err != nil {
		return "", err
	}
	if err := m.book.SetMarker(name, MarkerFor(folderID)); err != nil {
		return "", fmt.Errorf("mark ledger %s: %w", name, err)
	}
	if err := m.props.SetProperty(MappingKey(folderID), name); err != nil {
		return "", fmt.Errorf("record ledger mapping for %s: %w", folderID, err)
	}
	m.logger.Debug("ledger resolved", "folder_id", folderID, "ledger", name, "via", how)
	return name, nil
}

func (m *IdentityMapper) locate(folderID, displayName string) (string, string, error) {
	if mapped, ok := m.props.Property(MappingKey(folderID)); ok && mapped != "" && m.isLedger(mapped) {
		return mapped, "mapping", nil
	}

	marker := MarkerFor(folderID)
	names := m.book.SheetNames()
	for _, name := range names {
		if !m.isLedger(name) {
			continue
		}
		if current, err := m.book.Marker(name); err == nil && current == marker {
			return name, "marker", nil
		}
	}

	sanitized := SanitizeLedgerName(displayName)
	var candidates []string
	for _, name := range names {
		if !m.isLedger(name) {
			continue
		}
		if name == sanitized || name == displayName || strings.HasPrefix(name, sanitized+"_") {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 1 {
		current, err := m.book.Marker(candidates[0])
		if err == nil && !markedForOther(current, marker) {
			return candidates[0], "name", nil
		}
	}

	name := m.uniqueLedgerName(sanitized, folderID)
	if err := m.book.CreateSheet(name); err != nil {
		return "", "", fmt.Errorf("%w: %s: %v", ErrLedgerCreationFailed, name, err)
	}
	return name, "created", nil
}

func (m *IdentityMapper) isLedger(name string) bool {
	if _, reserved := m.reserved[name]; reserved {
		return false
	}
	return m.book.HasSheet(name)
}

// uniqueLedgerName tries base_<id fragment>, then base_1, base_2, ...,
// trimming base so the whole name fits MaxLedgerNameLength.
func (m *IdentityMapper) uniqueLedgerName(base, folderID string) string {
	name := withSuffix(base, "_"+IDFragment(folderID))
	if !m.book.HasSheet(name) {
		return name
	}
	for n := 1; ; n++ {
		name = withSuffix(base, "_"+strconv.Itoa(n))
		if !m.book.HasSheet(name) {
			return name
		}
	}
}

// SanitizeLedgerName makes a folder display name usable as a sheet name.
func SanitizeLedgerName(displayName string) string {
	cleaned := norm.NFC.String(displayName)
	cleaned = strings.Map(func(r rune) rune {
		if strings.ContainsRune(workspace.IllegalSheetNameChars, r) {
			return '_'
		}
		return r
	}, cleaned)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		cleaned = defaultLedgerBase
	}
	return truncateRunes(cleaned, MaxLedgerNameLength)
}

// IDFragment is the last idFragmentLength alphanumeric characters of folderID.
func IDFragment(folderID string) string {
	var alnum []rune
	for _, r := range folderID {
		if r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			alnum = append(alnum, r)
		}
	}
	if len(alnum) == 0 {
		return defaultIDFragment
	}
	if len(alnum) > idFragmentLength {
		alnum = alnum[len(alnum)-idFragmentLength:]
	}
	return string(alnum)
}

func MappingKey(folderID string) string {
	return ledgerMappingPrefix + folderID
}

func MarkerFor(folderID string) string {
	return ledgerMarkerPrefix + folderID
}

// MarkedFolder returns the folder a marker names, or "" for foreign notes.
func MarkedFolder(marker string) string {
	if !strings.HasPrefix(marker, ledgerMarkerPrefix) {
		return ""
	}
	return strings.TrimPrefix(marker, ledgerMarkerPrefix)
}

func markedForOther(current, marker string) bool {
	return MarkedFolder(current) != "" && current != marker
}

func withSuffix(base, suffix string) string {
	budget := MaxLedgerNameLength - utf8.RuneCountInString(suffix)
	trimmed := strings.TrimRightFunc(truncateRunes(base, budget), unicode.IsSpace)
	if trimmed == "" {
		trimmed = truncateRunes(defaultLedgerBase, budget)
	}
	return trimmed + suffix
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
