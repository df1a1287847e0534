package plan

import (
	"errors"
	"fmt"

	"github.com/samber/lo"
)

// ErrUnknownPlan is returned by Catalog.Find for an unlisted slug.
var ErrUnknownPlan = errors.New("plan: unknown plan")

// Catalog is an immutable, ordered set of plans keyed by slug.
type Catalog struct {
	plans []Plan
	index map[string]Plan
}

// NewCatalog builds a catalog. Duplicate slugs and invalid plans are rejected.
func NewCatalog(plans ...Plan) (*Catalog, error) {
	for _, p := range plans {
		if !p.Valid() {
			return nil, fmt.Errorf("plan: invalid plan %q", p.ID)
		}
	}
	if dups := lo.FindDuplicatesBy(plans, func(p Plan) string { return p.ID }); len(dups) > 0 {
		return nil, fmt.Errorf("plan: duplicate plan %q", dups[0].ID)
	}

	return &Catalog{
		plans: append([]Plan(nil), plans...),
		index: lo.KeyBy(plans, func(p Plan) string { return p.ID }),
	}, nil
}

// DefaultCatalog returns the basic, pro and premium packs.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(Basic, Pro, Premium)
	if err != nil {
		panic(err)
	}
	return c
}

// Find looks up a plan by slug.
func (c *Catalog) Find(slug string) (Plan, error) {
	p, ok := c.index[slug]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, slug)
	}
	return p, nil
}

// List returns the plans in catalog order.
func (c *Catalog) List() []Plan {
	return append([]Plan(nil), c.plans...)
}
