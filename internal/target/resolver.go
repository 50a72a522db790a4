package target

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
)

// GroupRegistry looks groups up by registry id.
type GroupRegistry interface {
	Group(id int) (Group, bool)
}

// Resolver expands group references depth-first.
type Resolver struct {
	groups GroupRegistry
}

// NewResolver creates a resolver backed by the given group registry.
func NewResolver(groups GroupRegistry) *Resolver {
	return &Resolver{groups: groups}
}

// Resolve expands t into concrete targets. Missing or cyclic groups are logged
// and dropped, so the result may be partial but never fails.
func (r *Resolver) Resolve(t Target) []Target {
	out, err := r.Expand(t)
	if err != nil {
		log.Warn().Err(err).Str("target", t.String()).Msg("Partially resolved target")
	}
	return out
}

// ResolveAll resolves each target in order and concatenates the results.
func (r *Resolver) ResolveAll(targets []Target) []Target {
	var out []Target
	for _, t := range targets {
		out = append(out, r.Resolve(t)...)
	}
	return out
}

// Expand is Resolve with the dropped branches reported as a joined error.
func (r *Resolver) Expand(t Target) ([]Target, error) {
	var errs []error
	out := r.expand(t, map[int]bool{}, &errs)
	return out, errors.Join(errs...)
}

func (r *Resolver) expand(t Target, path map[int]bool, errs *[]error) []Target {
	if !t.IsGroup() {
		return []Target{t}
	}

	id, err := strconv.Atoi(t.ID)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%w: invalid id %q", ErrGroupNotFound, t.ID))
		return nil
	}
	if path[id] {
		*errs = append(*errs, fmt.Errorf("%w: group %d references itself", ErrGroupCycle, id))
		return nil
	}

	group, ok := r.groups.Group(id)
	if !ok {
		*errs = append(*errs, fmt.Errorf("%w: %d", ErrGroupNotFound, id))
		return nil
	}

	path[id] = true
	defer delete(path, id)

	var out []Target
	for _, member := range group.Targets {
		out = append(out, r.expand(member, path, errs)...)
	}
	return out
}
