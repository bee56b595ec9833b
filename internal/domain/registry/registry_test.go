package registry_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/tiara/internal/domain/model"
	"github.com/okian/tiara/internal/domain/registry"
	. "github.com/smartystreets/goconvey/convey"
)

func roster() []model.Candidate {
	return []model.Candidate{
		{ID: "c3", Name: "Maria Santos", Region: "Iloilo", Number: 3},
		{ID: "c1", Name: "Ana Reyes", Region: "Cebu", Number: 1},
		{ID: "c2", Name: "Beatriz Núñez", Region: "Davao", Number: 2},
	}
}

func TestRegistry_New(t *testing.T) {
	Convey("Given a valid roster", t, func() {
		r, err := registry.New(roster())
		So(err, ShouldBeNil)

		Convey("Then candidates are listed by sash number", func() {
			list := r.List()
			So(len(list), ShouldEqual, 3)
			So(list[0].ID, ShouldEqual, "c1")
			So(list[2].ID, ShouldEqual, "c3")
			So(r.Len(), ShouldEqual, 3)
		})

		Convey("Then known ids pass and unknown ids are named", func() {
			So(r.CheckKnown("c1", "c2"), ShouldBeNil)
			err := r.CheckKnown("c1", "zz", "yy")
			So(registry.IsUnknown(err), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "zz, yy")
		})

		Convey("Then Get returns the candidate", func() {
			c, err := r.Get("c2")
			So(err, ShouldBeNil)
			So(c.Region, ShouldEqual, "Davao")
			_, err = r.Get("nope")
			So(errors.Is(err, registry.ErrUnknownCandidate), ShouldBeTrue)
		})

		Convey("Then the id set is a copy", func() {
			ids := r.CandidateIDs()
			delete(ids, "c1")
			So(r.CheckKnown("c1"), ShouldBeNil)
		})
	})

	Convey("Given names that differ only by case", t, func() {
		cands := append(roster(), model.Candidate{ID: "c4", Name: "ANA REYES"})

		Convey("Then the registry rejects the duplicate", func() {
			_, err := registry.New(cands)
			So(errors.Is(err, registry.ErrDuplicateCandidate), ShouldBeTrue)
		})
	})

	Convey("Given a repeated id", t, func() {
		cands := append(roster(), model.Candidate{ID: "c1", Name: "Other"})

		Convey("Then the registry rejects it", func() {
			_, err := registry.New(cands)
			So(errors.Is(err, registry.ErrDuplicateCandidate), ShouldBeTrue)
		})
	})

	Convey("Given a candidate without a name", t, func() {
		_, err := registry.New([]model.Candidate{{ID: "x"}})

		Convey("Then it is invalid", func() {
			So(errors.Is(err, registry.ErrInvalidCandidate), ShouldBeTrue)
		})
	})
}

func TestRegistry_Search(t *testing.T) {
	Convey("Given a registry", t, func() {
		r, err := registry.New(roster())
		So(err, ShouldBeNil)

		Convey("When searching by a substring", func() {
			found := r.Search("santos", 0)

			Convey("Then the match is returned", func() {
				So(len(found), ShouldEqual, 1)
				So(found[0].ID, ShouldEqual, "c3")
			})
		})

		Convey("When searching with a typo", func() {
			found := r.Search("Beatris", 5)

			Convey("Then the closest name is found", func() {
				So(len(found), ShouldBeGreaterThan, 0)
				So(found[0].ID, ShouldEqual, "c2")
			})
		})

		Convey("When searching with an empty query", func() {
			found := r.Search("", 2)

			Convey("Then the first candidates are listed", func() {
				So(len(found), ShouldEqual, 2)
			})
		})

		Convey("When nothing is close", func() {
			So(r.Search("zzzzzzzzzz", 0), ShouldBeEmpty)
		})
	})
}

func TestRegistry_LoadFile(t *testing.T) {
	Convey("Given a YAML roster on disk", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, "candidates.yaml")
		content := `
candidates:
  - id: c1
    name: Ana Reyes
    region: Cebu
    number: 1
  - id: c2
    name: Maria Santos
    region: Iloilo
    number: 2
`
		So(os.WriteFile(path, []byte(content), 0o600), ShouldBeNil)

		Convey("Then it loads", func() {
			r, err := registry.LoadFile(path)
			So(err, ShouldBeNil)
			So(r.Len(), ShouldEqual, 2)
		})

		Convey("Then a missing file is a load error", func() {
			_, err := registry.LoadFile(filepath.Join(dir, "missing.yaml"))
			So(errors.Is(err, registry.ErrLoadRegistry), ShouldBeTrue)
		})
	})
}

func TestRegistry_ShippedRoster(t *testing.T) {
	Convey("The roster in configs loads and is searchable", t, func() {
		reg, err := registry.LoadFile(filepath.Join("..", "..", "..", "configs", "candidates.yaml"))
		So(err, ShouldBeNil)
		So(reg.Len(), ShouldEqual, 30)

		found := reg.Search("sofia beltran", 1)
		So(found, ShouldHaveLength, 1)
		So(found[0].ID, ShouldEqual, "c02")
	})
}
