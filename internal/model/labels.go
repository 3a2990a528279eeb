package model

import (
	"errors"
	"fmt"
	"strings"
)

// LabelSet is an ordered list of distinct candidate labels for one task.
// The zero value is an empty set.
type LabelSet struct {
	labels []string
}

// NewLabelSet copies labels into a LabelSet, rejecting blanks and duplicates.
func NewLabelSet(labels ...string) (LabelSet, error) {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for i, l := range labels {
		if strings.TrimSpace(l) == "" {
			return LabelSet{}, fmt.Errorf("label %d is blank", i)
		}
		if _, ok := seen[l]; ok {
			return LabelSet{}, fmt.Errorf("duplicate label %q", l)
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return LabelSet{labels: out}, nil
}

// MustLabelSet is NewLabelSet for package-level defaults.
func MustLabelSet(labels ...string) LabelSet {
	ls, err := NewLabelSet(labels...)
	if err != nil {
		panic(err)
	}
	return ls
}

func (ls LabelSet) Len() int { return len(ls.labels) }

func (ls LabelSet) At(i int) string { return ls.labels[i] }

func (ls LabelSet) Labels() []string {
	out := make([]string, len(ls.labels))
	copy(out, ls.labels)
	return out
}

type Catalog struct {
	Objects LabelSet
	Animals LabelSet
	Teams   LabelSet
}

// DefaultCatalog returns the labels the service ships with.
func DefaultCatalog() Catalog {
	return Catalog{
		Objects: MustLabelSet("soccer_ball", "bottle", "car", "chair", "laptop", "phone"),
		Animals: MustLabelSet("dog", "cat", "bird", "horse", "lion"),
		Teams:   MustLabelSet("Atlético Nacional", "Millonarios", "América de Cali", "Junior", "Santa Fe"),
	}
}

func (c Catalog) empty() bool {
	return c.Objects.Len() == 0 && c.Animals.Len() == 0 && c.Teams.Len() == 0
}

// Validate checks every set is non-empty and no longer than limit.
func (c Catalog) Validate(limit int) error {
	for _, s := range []struct {
		name string
		set  LabelSet
	}{{"objects", c.Objects}, {"animals", c.Animals}, {"teams", c.Teams}} {
		if s.set.Len() == 0 {
			return fmt.Errorf("%s: %w", s.name, errEmptyLabelSet)
		}
		if s.set.Len() > limit {
			return fmt.Errorf("%s: %d labels exceeds limit of %d", s.name, s.set.Len(), limit)
		}
	}
	return nil
}

var errEmptyLabelSet = errors.New("label set is empty")
