// Package annotation tracks the ordered, user-editable collection of drawn features.
package annotation

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/woozymasta/geoannotator/internal/geo"

	"github.com/google/uuid"
)

var (
	// ErrIndexOutOfRange is returned for positional access past the end of the store.
	ErrIndexOutOfRange = errors.New("annotation index out of range")
	// ErrNotFound is returned when no annotation has the requested id.
	ErrNotFound = errors.New("annotation not found")
)

// Annotation is a drawn feature with user supplied metadata.
type Annotation struct {
	CreatedAt time.Time        `json:"created_at"`
	Feature   geo.DrawnFeature `json:"feature"`
	ID        string           `json:"id"`
	Kind      geo.Kind         `json:"kind"`
	Label     string           `json:"label"`
	Notes     string           `json:"notes"`

	fingerprint string
}

// GeometryType returns the GeoJSON type tag of the annotation's geometry.
func (a Annotation) GeometryType() string {
	typ, _ := a.Feature.GeometryType()
	return typ
}

// Patch holds optional metadata updates.
type Patch struct {
	Label *string `json:"label,omitempty"`
	Notes *string `json:"notes,omitempty"`
}

// Store is an ordered collection of annotations in draw order.
// It holds no lock; callers serialize access.
type Store struct {
	now   func() time.Time
	newID func() string
	items []Annotation
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Add appends the feature unless a structurally equal one is already present.
// It returns the stored annotation and whether it was newly added.
func (s *Store) Add(f geo.DrawnFeature) (Annotation, bool, error) {
	kind, err := f.Classify()
	if err != nil {
		return Annotation{}, false, err
	}

	fp, err := f.Fingerprint()
	if err != nil {
		return Annotation{}, false, fmt.Errorf("fingerprint feature: %w", err)
	}

	for _, a := range s.items {
		if a.fingerprint == fp {
			return a, false, nil
		}
	}

	a := Annotation{
		ID:          s.newID(),
		Feature:     f,
		Kind:        kind,
		CreatedAt:   s.now(),
		fingerprint: fp,
	}
	s.items = append(s.items, a)

	return a, true, nil
}

// SetLabel replaces the label of the annotation at index.
func (s *Store) SetLabel(index int, text string) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}
	s.items[index].Label = text
	return nil
}

// SetNotes replaces the notes of the annotation at index.
func (s *Store) SetNotes(index int, text string) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}
	s.items[index].Notes = text
	return nil
}

// Delete removes the annotation at index, shifting later entries down by one.
func (s *Store) Delete(index int) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}
	s.items = slices.Delete(s.items, index, index+1)
	return nil
}

// Clear empties the store.
func (s *Store) Clear() {
	s.items = nil
}

// All returns a copy of the annotations in insertion order.
func (s *Store) All() []Annotation {
	return slices.Clone(s.items)
}

// Len returns the number of annotations.
func (s *Store) Len() int {
	return len(s.items)
}

// IndexOf returns the current position of the annotation with the given id.
func (s *Store) IndexOf(id string) (int, error) {
	for i, a := range s.items {
		if a.ID == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Get returns the annotation with the given id.
func (s *Store) Get(id string) (Annotation, error) {
	i, err := s.IndexOf(id)
	if err != nil {
		return Annotation{}, err
	}
	return s.items[i], nil
}

// Update applies the patch to the annotation with the given id.
func (s *Store) Update(id string, p Patch) (Annotation, error) {
	i, err := s.IndexOf(id)
	if err != nil {
		return Annotation{}, err
	}

	if p.Label != nil {
		s.items[i].Label = *p.Label
	}
	if p.Notes != nil {
		s.items[i].Notes = *p.Notes
	}

	return s.items[i], nil
}

// Remove deletes the annotation with the given id.
func (s *Store) Remove(id string) error {
	i, err := s.IndexOf(id)
	if err != nil {
		return err
	}
	return s.Delete(i)
}

func (s *Store) checkIndex(index int) error {
	if index < 0 || index >= len(s.items) {
		return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, index, len(s.items))
	}
	return nil
}
