package billing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// BillingInterval is the renewal period of a plan.
type BillingInterval string

const (
	BillingIntervalMonthly BillingInterval = "monthly"
	BillingIntervalAnnual  BillingInterval = "annual"
)

// Plan is an entry of the static plan allow-list.
// ID is the public identifier clients send; PriceID is the provider's price
// and never leaves the server.
type Plan struct {
	ID       string          `yaml:"id" json:"id"`
	Name     string          `yaml:"name" json:"name"`
	PriceID  string          `yaml:"price_id" json:"-"`
	Interval BillingInterval `yaml:"interval" json:"interval"`
}

// PlanSource loads plan definitions.
type PlanSource interface {
	Load(ctx context.Context) ([]Plan, error)
}

// Catalog is the immutable plan allow-list used by checkout.
type Catalog struct {
	plans map[string]Plan
	order []string
}

// NewCatalog loads and validates plans from src.
func NewCatalog(ctx context.Context, src PlanSource) (*Catalog, error) {
	if src == nil {
		return nil, errors.Join(ErrFailedToLoadPlans, errors.New("plan source is nil"))
	}

	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("%w: no plans defined", ErrInvalidPlanConfiguration)
	}

	c := &Catalog{plans: make(map[string]Plan, len(plans))}
	for _, p := range plans {
		p.ID = strings.TrimSpace(p.ID)
		p.PriceID = strings.TrimSpace(p.PriceID)
		if p.ID == "" || p.PriceID == "" {
			return nil, fmt.Errorf("%w: plan %q needs both id and price_id", ErrInvalidPlanConfiguration, p.ID)
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate plan %q", ErrInvalidPlanConfiguration, p.ID)
		}
		c.plans[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	return c, nil
}

// Lookup returns the plan with the given public id.
func (c *Catalog) Lookup(id string) (Plan, bool) {
	p, ok := c.plans[id]
	return p, ok
}

// Plans returns all plans in definition order.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plans[id])
	}
	return out
}

// IDs returns the sorted public plan ids.
func (c *Catalog) IDs() []string {
	ids := slices.Clone(c.order)
	slices.Sort(ids)
	return ids
}
