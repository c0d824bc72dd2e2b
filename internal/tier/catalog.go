package tier

import (
	"fmt"
	"sort"
)

// Catalog is the authoritative, read-only registry of tier definitions.
// Construct it once with NewCatalog; it needs no synchronization afterwards.
type Catalog struct {
	byID     map[ID]*Definition
	ordered  []*Definition // ascending access level
	features map[ID]map[string]struct{}
}

// NewCatalog builds a catalog from the given definitions and validates the
// invariants the derivation logic depends on:
//
//   - tier IDs are unique and non-empty
//   - access levels are positive and totally ordered (no duplicates)
//   - feature tokens are non-empty strings
//   - quotas and API limits are positive or Unlimited
//   - each tier's feature set is a superset of every strictly lower tier's
//
// The superset chain matters: RecommendUpgrade scans ascending and returns
// the first match, which is only the best match under that invariant.
// A broken catalog fails fast here rather than misbehaving later.
func NewCatalog(defs []Definition) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("tier: catalog must contain at least one tier")
	}

	c := &Catalog{
		byID:     make(map[ID]*Definition, len(defs)),
		ordered:  make([]*Definition, 0, len(defs)),
		features: make(map[ID]map[string]struct{}, len(defs)),
	}

	levels := make(map[int]ID, len(defs))
	for i := range defs {
		d := defs[i]
		if d.ID == "" {
			return nil, fmt.Errorf("tier: definition %d has empty ID", i)
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("tier: duplicate tier ID %q", d.ID)
		}
		if d.AccessLevel <= 0 {
			return nil, fmt.Errorf("tier %q: access level must be positive, got %d", d.ID, d.AccessLevel)
		}
		if prev, taken := levels[d.AccessLevel]; taken {
			return nil, fmt.Errorf("tier %q: access level %d already used by %q", d.ID, d.AccessLevel, prev)
		}
		levels[d.AccessLevel] = d.ID

		if err := validLimit("maxAnalysisPerDay", int64(d.MaxAnalysisPerDay)); err != nil {
			return nil, fmt.Errorf("tier %q: %w", d.ID, err)
		}
		if err := validLimit("requestsPerHour", d.APILimits.RequestsPerHour); err != nil {
			return nil, fmt.Errorf("tier %q: %w", d.ID, err)
		}
		if err := validLimit("requestsPerDay", d.APILimits.RequestsPerDay); err != nil {
			return nil, fmt.Errorf("tier %q: %w", d.ID, err)
		}
		if err := validLimit("maxUploadBytes", d.APILimits.MaxUploadBytes); err != nil {
			return nil, fmt.Errorf("tier %q: %w", d.ID, err)
		}

		set := make(map[string]struct{}, len(d.Features))
		for _, f := range d.Features {
			if f == "" {
				return nil, fmt.Errorf("tier %q: empty feature token", d.ID)
			}
			set[f] = struct{}{}
		}
		c.features[d.ID] = set

		cp := d
		c.byID[d.ID] = &cp
		c.ordered = append(c.ordered, &cp)
	}

	sort.Slice(c.ordered, func(i, j int) bool {
		return c.ordered[i].AccessLevel < c.ordered[j].AccessLevel
	})

	// Superset chain: every tier must carry all features of the tier below it.
	for i := 1; i < len(c.ordered); i++ {
		lower, higher := c.ordered[i-1], c.ordered[i]
		for f := range c.features[lower.ID] {
			if _, ok := c.features[higher.ID][f]; !ok {
				return nil, fmt.Errorf("tier %q: missing feature %q granted by lower tier %q", higher.ID, f, lower.ID)
			}
		}
	}

	return c, nil
}

func validLimit(name string, v int64) error {
	if v < 0 && v != Unlimited {
		return fmt.Errorf("%s must be non-negative or Unlimited (-1), got %d", name, v)
	}
	return nil
}

// Get returns the definition for the given tier ID.
func (c *Catalog) Get(id ID) (Definition, error) {
	d, ok := c.byID[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownTier, id)
	}
	return *d, nil
}

// List returns all definitions in ascending access-level order.
func (c *Catalog) List() []Definition {
	out := make([]Definition, len(c.ordered))
	for i, d := range c.ordered {
		out[i] = *d
	}
	return out
}

// HasFeature reports whether the tier grants the feature token.
// Matching is exact and case-sensitive.
func (c *Catalog) HasFeature(id ID, feature string) (bool, error) {
	set, ok := c.features[id]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownTier, id)
	}
	_, has := set[feature]
	return has, nil
}

// CanAccessLevel reports whether userTier's access level meets or exceeds
// requiredTier's. This is the single authorization primitive every
// level-gated check composes from.
func (c *Catalog) CanAccessLevel(userTier, requiredTier ID) (bool, error) {
	u, ok := c.byID[userTier]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownTier, userTier)
	}
	r, ok := c.byID[requiredTier]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownTier, requiredTier)
	}
	return u.AccessLevel >= r.AccessLevel, nil
}

// RemainingQuota returns the tier's remaining daily analyses given today's
// usage. Returns Unlimited when the tier has no cap; never returns a
// negative count otherwise.
func (c *Catalog) RemainingQuota(id ID, usedToday int) (int, error) {
	d, ok := c.byID[id]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTier, id)
	}
	if d.MaxAnalysisPerDay == Unlimited {
		return Unlimited, nil
	}
	remaining := d.MaxAnalysisPerDay - usedToday
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// RecommendUpgrade returns the lowest tier strictly above current whose
// feature set contains any requested feature the current tier lacks.
// Returns nil when the current tier already satisfies every requested
// feature, or when no higher tier grants any of the missing ones.
//
// Tiers are scanned in ascending access-level order and the first match
// wins. Under the superset invariant enforced at construction, first-match
// and best-match coincide.
func (c *Catalog) RecommendUpgrade(current ID, requestedFeatures []string) (*Definition, error) {
	cur, ok := c.byID[current]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, current)
	}

	var missing []string
	for _, f := range requestedFeatures {
		if _, has := c.features[current][f]; !has {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}

	for _, d := range c.ordered {
		if d.AccessLevel <= cur.AccessLevel {
			continue
		}
		for _, f := range missing {
			if _, has := c.features[d.ID][f]; has {
				cp := *d
				return &cp, nil
			}
		}
	}
	return nil, nil
}

// ListUpgradesAbove returns, for every tier with strictly greater access
// level than current, the features it would add and the monthly price delta.
// Results are ordered by ascending access level.
func (c *Catalog) ListUpgradesAbove(current ID) ([]Upgrade, error) {
	cur, ok := c.byID[current]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, current)
	}

	var out []Upgrade
	for _, d := range c.ordered {
		if d.AccessLevel <= cur.AccessLevel {
			continue
		}
		var added []string
		for _, f := range d.Features {
			if _, has := c.features[current][f]; !has {
				added = append(added, f)
			}
		}
		out = append(out, Upgrade{
			Tier:            *d,
			NewFeatures:     added,
			PriceDeltaCents: d.MonthlyPriceCents - cur.MonthlyPriceCents,
		})
	}
	return out, nil
}
