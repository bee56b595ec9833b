// Package registry holds the fixed universe of candidates.
//
// The registry is built once (from a YAML roster or the candidate table
// written by the spreadsheet sync) and is read-only afterwards, so it is
// safe for concurrent use without locking.
package registry

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/okian/tiara/internal/domain/model"
)

// Registry is an immutable set of candidates.
type Registry struct {
	byID   map[string]model.Candidate
	sorted []model.Candidate
	folded map[string]string // id -> folded name
}

// roster is the YAML file layout.
type roster struct {
	Candidates []model.Candidate `yaml:"candidates"`
}

// New validates and indexes candidates. Ids must be unique and non-empty;
// names must be unique after Unicode normalisation and case folding.
func New(candidates []model.Candidate) (*Registry, error) {
	r := &Registry{
		byID:   make(map[string]model.Candidate, len(candidates)),
		folded: make(map[string]string, len(candidates)),
	}
	byName := make(map[string]string, len(candidates))
	for _, c := range candidates {
		c.ID = strings.TrimSpace(c.ID)
		c.Name = norm.NFC.String(strings.TrimSpace(c.Name))
		c.Region = norm.NFC.String(strings.TrimSpace(c.Region))
		if c.ID == "" || c.Name == "" {
			return nil, fmt.Errorf("%w: id and name are required (got id=%q name=%q)", ErrInvalidCandidate, c.ID, c.Name)
		}
		if _, ok := r.byID[c.ID]; ok {
			return nil, fmt.Errorf("%w: id %s", ErrDuplicateCandidate, c.ID)
		}
		key := fold(c.Name)
		if other, ok := byName[key]; ok {
			return nil, fmt.Errorf("%w: %q is used by %s and %s", ErrDuplicateCandidate, c.Name, other, c.ID)
		}
		byName[key] = c.ID
		r.byID[c.ID] = c
		r.folded[c.ID] = key
		r.sorted = append(r.sorted, c)
	}
	slices.SortFunc(r.sorted, func(a, b model.Candidate) int {
		if c := cmp.Compare(a.Number, b.Number); c != 0 {
			return c
		}
		return cmp.Compare(r.folded[a.ID], r.folded[b.ID])
	})
	return r, nil
}

// LoadFile reads a YAML roster of the form:
//
//	candidates:
//	  - id: 6f1c...
//	    name: Ana Reyes
//	    region: Cebu
//	    number: 12
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadRegistry, err)
	}
	var doc roster
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrLoadRegistry, path, err)
	}
	return New(doc.Candidates)
}

// Len returns the number of candidates.
func (r *Registry) Len() int { return len(r.sorted) }

// Get returns the candidate with the given id.
func (r *Registry) Get(id string) (model.Candidate, error) {
	c, ok := r.byID[id]
	if !ok {
		return model.Candidate{}, fmt.Errorf("%w: %s", ErrUnknownCandidate, id)
	}
	return c, nil
}

// List returns all candidates ordered by sash number then name.
func (r *Registry) List() []model.Candidate {
	return slices.Clone(r.sorted)
}

// CandidateIDs returns the set of known ids.
func (r *Registry) CandidateIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(r.byID))
	for id := range r.byID {
		ids[id] = struct{}{}
	}
	return ids
}

// CheckKnown returns ErrUnknownCandidate naming every id not in the registry.
func (r *Registry) CheckKnown(ids ...string) error {
	var unknown []string
	for _, id := range ids {
		if _, ok := r.byID[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownCandidate, strings.Join(unknown, ", "))
	}
	return nil
}

// IsUnknown reports whether err came from CheckKnown or Get.
func IsUnknown(err error) bool { return errors.Is(err, ErrUnknownCandidate) }

type match struct {
	c    model.Candidate
	dist int
}

// Search finds candidates by name, tolerating typos. Substring matches
// rank first; the rest are ordered by edit distance and dropped once the
// distance exceeds a third of the query length. limit <= 0 means no limit.
func (r *Registry) Search(query string, limit int) []model.Candidate {
	q := fold(strings.TrimSpace(query))
	if q == "" {
		out := r.List()
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return out
	}
	maxDist := len([]rune(q))/3 + 1
	var found []match
	for _, c := range r.sorted {
		name := r.folded[c.ID]
		if strings.Contains(name, q) {
			found = append(found, match{c: c, dist: 0})
			continue
		}
		best := levenshtein.ComputeDistance(q, name)
		for _, word := range strings.Fields(name) {
			best = min(best, levenshtein.ComputeDistance(q, word))
		}
		if best <= maxDist {
			found = append(found, match{c: c, dist: best})
		}
	}
	slices.SortStableFunc(found, func(a, b match) int { return cmp.Compare(a.dist, b.dist) })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	out := make([]model.Candidate, len(found))
	for i, m := range found {
		out[i] = m.c
	}
	return out
}

func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}
