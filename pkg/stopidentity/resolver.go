package stopidentity

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/ctdf"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/util"
	"golang.org/x/exp/slices"
)

// Store is the read side of the stops table.
type Store interface {
	StopsByIDs(ctx context.Context, ids []string) ([]*ctdf.Stop, error)
	ChildrenOf(ctx context.Context, parentID string) ([]*ctdf.Stop, error)
	// StopByIDInsensitive returns nil without error when nothing matches.
	StopByIDInsensitive(ctx context.Context, id string) (*ctdf.Stop, error)
}

// UnknownStopError lists every key tried before giving up.
type UnknownStopError struct {
	Tried []string
}

func (e *UnknownStopError) Error() string {
	return fmt.Sprintf("unknown stop, tried %s", strings.Join(e.Tried, ", "))
}

type Resolver struct {
	store   Store
	aliases *AliasTable
}

func NewResolver(store Store, aliases *AliasTable) *Resolver {
	if aliases == nil {
		aliases = NewAliasTable(nil)
	}
	return &Resolver{store: store, aliases: aliases}
}

// Resolve maps user input onto a station: first by id, then through the
// alias table, then through a case-insensitive id lookup.
func (r *Resolver) Resolve(ctx context.Context, candidates ...string) (*ctdf.StationIdentity, error) {
	tried := []string{}
	cleaned := []string{}
	for _, candidate := range candidates {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			cleaned = append(cleaned, candidate)
		}
	}

	// Direct ids.
	variants := []string{}
	for _, candidate := range cleaned {
		variants = append(variants, idVariants(candidate)...)
	}
	variants = util.Unique(variants)
	tried = append(tried, variants...)

	if len(variants) > 0 {
		stops, err := r.store.StopsByIDs(ctx, variants)
		if err != nil {
			return nil, fmt.Errorf("lookup stops %v: %w", variants, err)
		}
		if stop := firstByOrder(stops, variants); stop != nil {
			return r.finalize(ctx, stop, ctdf.ResolutionSourceDirect, tried, nil)
		}
	}

	// Aliases.
	for _, candidate := range cleaned {
		tried = append(tried, "alias:"+candidate)
		stopID, _, ok := r.aliases.Lookup(candidate)
		if !ok {
			continue
		}

		aliasVariants := idVariants(stopID)
		stops, err := r.store.StopsByIDs(ctx, aliasVariants)
		if err != nil {
			return nil, fmt.Errorf("lookup alias %s: %w", stopID, err)
		}
		if stop := firstByOrder(stops, aliasVariants); stop != nil {
			return r.finalize(ctx, stop, ctdf.ResolutionSourceAlias, tried, []string{candidate})
		}
		log.Warn().Str("alias", candidate).Str("stop", stopID).Msg("Alias points to a missing stop")
	}

	// Last resort.
	for _, candidate := range cleaned {
		tried = append(tried, "db:"+candidate)
		stop, err := r.store.StopByIDInsensitive(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("lookup stop %s: %w", candidate, err)
		}
		if stop != nil {
			return r.finalize(ctx, stop, ctdf.ResolutionSourceDB, tried, nil)
		}
	}

	return nil, &UnknownStopError{Tried: util.Unique(tried)}
}

// finalize promotes a platform to its parent station and loads the ordered
// children.
func (r *Resolver) finalize(ctx context.Context, stop *ctdf.Stop, source string, tried []string, aliases []string) (*ctdf.StationIdentity, error) {
	canonical := stop
	if stop.ParentStation != "" {
		parents, err := r.store.StopsByIDs(ctx, []string{stop.ParentStation})
		if err != nil {
			return nil, fmt.Errorf("lookup parent %s: %w", stop.ParentStation, err)
		}
		if len(parents) > 0 {
			canonical = parents[0]
		}
	}

	children, err := r.store.ChildrenOf(ctx, canonical.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup children of %s: %w", canonical.ID, err)
	}
	if len(children) == 0 {
		children = []*ctdf.Stop{canonical}
	}
	children = slices.Clone(children)
	SortChildren(children)

	return &ctdf.StationIdentity{
		Canonical: canonical,
		Children:  children,
		Aliases:   aliases,
		Source:    source,
		Tried:     tried,
	}, nil
}

// SortChildren orders platforms naturally by platform code, then by id.
func SortChildren(children []*ctdf.Stop) {
	slices.SortStableFunc(children, func(a, b *ctdf.Stop) int {
		if a.PlatformCode != b.PlatformCode {
			if util.NaturalLess(a.PlatformCode, b.PlatformCode) {
				return -1
			}
			if util.NaturalLess(b.PlatformCode, a.PlatformCode) {
				return 1
			}
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// idVariants lists the ids a candidate may be stored under: itself, the
// Parent-prefixed form and the bare numeric root.
func idVariants(candidate string) []string {
	variants := []string{candidate}

	bare := strings.TrimPrefix(candidate, "Parent")
	if bare != candidate {
		variants = append(variants, bare)
	} else {
		variants = append(variants, "Parent"+candidate)
	}

	if root := ctdf.RootStopID(candidate); root != "" && root != bare {
		variants = append(variants, root, "Parent"+root)
	}

	return util.Unique(variants)
}

func firstByOrder(stops []*ctdf.Stop, order []string) *ctdf.Stop {
	byID := make(map[string]*ctdf.Stop, len(stops))
	for _, stop := range stops {
		byID[stop.ID] = stop
	}
	for _, id := range order {
		if stop, ok := byID[id]; ok {
			return stop
		}
	}
	return nil
}
