// Package routing defines who may receive the next turn: each participant maps
// to either one recipient or a candidate set handled by a group coordinator.
package routing

import (
	"sort"

	"github.com/BaSui01/chatflow/agent/participant"
	"github.com/BaSui01/chatflow/types"
)

// Entry is the outbound routing of one participant. Exactly one of Target or
// Candidates is set.
type Entry struct {
	Target     string   `json:"target,omitempty" yaml:"target"`
	Candidates []string `json:"candidates,omitempty" yaml:"candidates"`
}

// To returns a single-recipient entry.
func To(id string) Entry {
	return Entry{Target: id}
}

// OneOf returns a candidate-set entry.
func OneOf(ids ...string) Entry {
	return Entry{Candidates: append([]string(nil), ids...)}
}

// IsCandidateSet reports whether the entry lists candidates.
func (e Entry) IsCandidateSet() bool {
	return len(e.Candidates) > 0
}

// Contains reports whether id is the target or one of the candidates.
func (e Entry) Contains(id string) bool {
	if e.Target == id && id != "" {
		return true
	}
	for _, c := range e.Candidates {
		if c == id {
			return true
		}
	}
	return false
}

// Graph maps participant IDs to their outbound entries. Static for the
// lifetime of a run.
type Graph struct {
	entries map[string]Entry
}

// NewGraph copies entries into a graph.
func NewGraph(entries map[string]Entry) *Graph {
	g := &Graph{entries: make(map[string]Entry, len(entries))}
	for id, e := range entries {
		g.entries[id] = Entry{Target: e.Target, Candidates: append([]string(nil), e.Candidates...)}
	}
	return g
}

// Entry returns the outbound entry of id.
func (g *Graph) Entry(id string) (Entry, bool) {
	e, ok := g.entries[id]
	return e, ok
}

// Candidates returns the candidate set of id, or nil when id routes to a
// single participant or has no entry.
func (g *Graph) Candidates(id string) []string {
	e, ok := g.entries[id]
	if !ok || !e.IsCandidateSet() {
		return nil
	}
	return append([]string(nil), e.Candidates...)
}

// Sources returns the sorted IDs that have an outbound entry.
func (g *Graph) Sources() []string {
	ids := make([]string, 0, len(g.entries))
	for id := range g.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks that every ID referenced by the graph is registered, that
// entries are well formed, and that only group coordinators own candidate sets.
func (g *Graph) Validate(reg *participant.Registry) error {
	for _, id := range g.Sources() {
		e := g.entries[id]
		src, ok := reg.Get(id)
		if !ok {
			return types.Errorf(types.ErrConfiguration, "route source %q is not a registered participant", id)
		}
		switch {
		case e.Target != "" && e.IsCandidateSet():
			return types.Errorf(types.ErrConfiguration, "route %q has both a target and candidates", id)
		case e.Target == "" && !e.IsCandidateSet():
			return types.Errorf(types.ErrConfiguration, "route %q is empty", id)
		}
		if e.Target != "" && !reg.Has(e.Target) {
			return types.Errorf(types.ErrConfiguration, "route %q targets unknown participant %q", id, e.Target)
		}
		if !e.IsCandidateSet() {
			continue
		}
		if src.Kind != participant.KindGroupCoordinator {
			return types.Errorf(types.ErrConfiguration, "route %q lists candidates but %q is a %s", id, id, src.Kind)
		}
		seen := make(map[string]struct{}, len(e.Candidates))
		for _, c := range e.Candidates {
			if !reg.Has(c) {
				return types.Errorf(types.ErrConfiguration, "route %q lists unknown candidate %q", id, c)
			}
			if c == id {
				return types.Errorf(types.ErrConfiguration, "coordinator %q cannot be its own candidate", id)
			}
			if cc, _ := reg.Get(c); cc.Kind == participant.KindGroupCoordinator {
				return types.Errorf(types.ErrConfiguration, "candidate %q of %q is itself a group coordinator", c, id)
			}
			if _, dup := seen[c]; dup {
				return types.Errorf(types.ErrConfiguration, "route %q lists candidate %q twice", id, c)
			}
			seen[c] = struct{}{}
		}
	}
	for _, id := range reg.ByKind(participant.KindGroupCoordinator) {
		if len(g.Candidates(id)) == 0 {
			return types.Errorf(types.ErrConfiguration, "group coordinator %q has no candidate set", id)
		}
	}
	return nil
}
