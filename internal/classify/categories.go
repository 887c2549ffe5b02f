// Package classify builds category prompts for an inference model and turns
// its free-form answers back into one label from a closed category set.
package classify

import (
	"fmt"
	"strings"
)

// Unknown is returned when no category could be determined from a response
const Unknown = "Unknown"

// DefaultCategories are checked in this order when a response names several
var DefaultCategories = []string{
	"Retail",
	"Groceries",
	"Restaurant",
	"Cafe",
	"Public Transport",
	"Hotel",
	"Miscellaneous",
}

// DefaultCatchAll is the label the model is told to use when unsure
const DefaultCatchAll = "Miscellaneous"

// CategorySet is an ordered, closed list of labels. The declared order is
// the tie-break when a response mentions more than one label.
type CategorySet struct {
	labels   []string
	catchAll string
}

// NewCategorySet validates the labels and the catch-all label
func NewCategorySet(catchAll string, labels ...string) (CategorySet, error) {
	if len(labels) == 0 {
		return CategorySet{}, fmt.Errorf("at least one category is required")
	}

	seen := make(map[string]bool, len(labels))
	clean := make([]string, 0, len(labels))
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			return CategorySet{}, fmt.Errorf("category labels must not be empty")
		}
		key := strings.ToLower(label)
		if seen[key] {
			return CategorySet{}, fmt.Errorf("duplicate category %q", label)
		}
		if strings.EqualFold(label, Unknown) {
			return CategorySet{}, fmt.Errorf("%q is reserved", Unknown)
		}
		seen[key] = true
		clean = append(clean, label)
	}

	set := CategorySet{labels: clean}
	canonical, ok := set.Lookup(catchAll)
	if !ok {
		return CategorySet{}, fmt.Errorf("catch-all category %q is not in the set", catchAll)
	}
	set.catchAll = canonical
	return set, nil
}

// DefaultCategorySet returns DefaultCategories with DefaultCatchAll
func DefaultCategorySet() CategorySet {
	set, err := NewCategorySet(DefaultCatchAll, DefaultCategories...)
	if err != nil {
		panic(err)
	}
	return set
}

// Labels returns a copy of the labels in declared order
func (s CategorySet) Labels() []string {
	out := make([]string, len(s.labels))
	copy(out, s.labels)
	return out
}

// CatchAll returns the catch-all label
func (s CategorySet) CatchAll() string {
	return s.catchAll
}

// Lookup matches a label case-insensitively and returns its declared spelling
func (s CategorySet) Lookup(label string) (string, bool) {
	label = strings.TrimSpace(label)
	for _, l := range s.labels {
		if strings.EqualFold(l, label) {
			return l, true
		}
	}
	return "", false
}
