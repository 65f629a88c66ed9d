package plans

import (
	"fmt"
	"strings"
	"time"
)

// LamportsPerSOL is the number of minor units in one SOL.
const LamportsPerSOL int64 = 1_000_000_000

// Plan is a purchasable access plan. DurationDays == 0 means lifetime access.
type Plan struct {
	ID            string
	Label         string
	PriceLamports int64
	DurationDays  int
}

// Lifetime reports whether the plan never expires.
func (p Plan) Lifetime() bool {
	return p.DurationDays == 0
}

// ExpiryFrom computes the expiry for a grant started at now.
// Lifetime plans return nil.
func (p Plan) ExpiryFrom(now time.Time) *time.Time {
	if p.Lifetime() {
		return nil
	}
	t := now.Add(time.Duration(p.DurationDays) * 24 * time.Hour)
	return &t
}

// PriceSOL returns the plan price in whole SOL for display.
func (p Plan) PriceSOL() float64 {
	return float64(p.PriceLamports) / float64(LamportsPerSOL)
}

// Catalog is the immutable set of plans offered by the bot.
type Catalog struct {
	ordered []Plan
	byID    map[string]Plan
}

// NewCatalog builds a catalog from the given plans, preserving order.
func NewCatalog(list ...Plan) Catalog {
	c := Catalog{
		ordered: list,
		byID:    make(map[string]Plan, len(list)),
	}
	for _, p := range list {
		c.byID[p.ID] = p
	}
	return c
}

// DefaultCatalog returns the standard plan set.
func DefaultCatalog() Catalog {
	return NewCatalog(
		Plan{ID: "week", Label: "Week", PriceLamports: 500_000_000, DurationDays: 7},
		Plan{ID: "month", Label: "Month", PriceLamports: 1_000_000_000, DurationDays: 30},
		Plan{ID: "year", Label: "Year", PriceLamports: 10_000_000_000, DurationDays: 365},
		Plan{ID: "life", Label: "Lifetime", PriceLamports: 25_000_000_000, DurationDays: 0},
	)
}

// Get returns the plan with the given id.
func (c Catalog) Get(id string) (Plan, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// List returns the plans in catalog order.
func (c Catalog) List() []Plan {
	return c.ordered
}

// FormatSOL renders a lamport amount as a SOL string without trailing zeros.
func FormatSOL(lamports int64) string {
	s := fmt.Sprintf("%.9f", float64(lamports)/float64(LamportsPerSOL))
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	return s
}
