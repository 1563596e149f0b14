// Package apperr defines the error taxonomy shared by the loader, the
// renderer and the transport layers.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrTooLarge      = errors.New("too large")
)

// FetchError reports a remote archive that answered with a non-success status.
type FetchError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Status)
}

// ArchiveFormatError reports a container missing a required entry.
type ArchiveFormatError struct {
	Entry string
}

func (e *ArchiveFormatError) Error() string {
	return fmt.Sprintf("archive: missing required entry %q", e.Entry)
}

// HierarchyError reports a deck name that maps to more than one deck, so
// parent resolution cannot pick a single ancestor.
type HierarchyError struct {
	Name string
	IDs  []int64
}

func (e *HierarchyError) Error() string {
	ids := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		ids[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("deck hierarchy: name %q is shared by decks %s", e.Name, strings.Join(ids, ", "))
}
