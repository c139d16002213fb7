// Package invalidation maps mutation kinds to the cached views that must be
// refetched once the server confirmed the mutation.
//
// A Graph is a static table built once at startup. Rows only name namespace
// patterns; the concrete parameters come from the mutation's Scope:
//
//	"transaction.create" -> accounts, account{id <- AccountID}, dashboard-summary
//
// Resolve turns a row plus a scope into the namespaces to mark stale.
package invalidation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/unkn0wn-root/optcache"
)

// Kind identifies a mutation, e.g. "transaction.create".
type Kind string

var (
	ErrUnknownKind = errors.New("invalidation: unknown mutation kind")
	ErrMissingRows = errors.New("invalidation: mutation kinds without a row")
	ErrBadPattern  = errors.New("invalidation: invalid pattern")
)

// Pattern describes namespaces of one kind.
//
//	Pattern{Kind: "accounts"}                                            // the list
//	Pattern{Kind: "account", Field: FieldID, From: FieldAccountID}       // account{id} for each scoped account
//	Pattern{Kind: "account", All: true}                                  // every cached account{...}
type Pattern struct {
	Kind optcache.Kind
	// Field is the namespace parameter to fill. FieldNone => parameterless.
	Field optcache.Field
	// From is the scope field supplying values. FieldNone => same as Field.
	From optcache.Field
	// All matches every cached namespace of Kind regardless of parameters.
	All bool
}

func (p Pattern) source() optcache.Field {
	if p.From != optcache.FieldNone {
		return p.From
	}
	return p.Field
}

func (p Pattern) String() string {
	switch {
	case p.All:
		return string(p.Kind) + "{*}"
	case p.Field == optcache.FieldNone:
		return string(p.Kind)
	default:
		return fmt.Sprintf("%s{%s<-%s}", p.Kind, p.Field, p.source())
	}
}

func (p Pattern) validate() error {
	if p.Kind == "" {
		return fmt.Errorf("%w: empty kind", ErrBadPattern)
	}
	if p.All && (p.Field != optcache.FieldNone || p.From != optcache.FieldNone) {
		return fmt.Errorf("%w: %s: wildcard with a bound field", ErrBadPattern, p.Kind)
	}
	if p.Field == optcache.FieldNone && p.From != optcache.FieldNone {
		return fmt.Errorf("%w: %s: source without a target field", ErrBadPattern, p.Kind)
	}
	return nil
}

// Scope holds the identifiers a mutation touches, per field.
// It is a pure function of the mutation payload.
type Scope map[optcache.Field][]string

// Add appends non-empty values for f.
func (s Scope) Add(f optcache.Field, vals ...string) Scope {
	for _, v := range vals {
		if v != "" {
			s[f] = append(s[f], v)
		}
	}
	return s
}

// Rule is one row of the graph.
type Rule struct {
	Kind     Kind
	Patterns []Pattern
}

// Graph is immutable after construction and safe for concurrent use.
type Graph struct {
	rows map[Kind][]Pattern
}

// NewGraph builds a graph from rules. Every kind listed in kinds must have a
// row; a kind with nothing to invalidate still needs an explicit empty row.
func NewGraph(kinds []Kind, rules ...Rule) (*Graph, error) {
	g := &Graph{rows: make(map[Kind][]Pattern, len(rules))}
	for _, r := range rules {
		if r.Kind == "" {
			return nil, fmt.Errorf("%w: rule without kind", ErrBadPattern)
		}
		if _, dup := g.rows[r.Kind]; dup {
			return nil, fmt.Errorf("invalidation: duplicate row for %q", r.Kind)
		}
		for _, p := range r.Patterns {
			if err := p.validate(); err != nil {
				return nil, fmt.Errorf("row %q: %w", r.Kind, err)
			}
		}
		g.rows[r.Kind] = append([]Pattern(nil), r.Patterns...)
	}

	var missing []string
	for _, k := range kinds {
		if _, ok := g.rows[k]; !ok {
			missing = append(missing, string(k))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s", ErrMissingRows, strings.Join(missing, ", "))
	}
	return g, nil
}

// MustGraph is NewGraph that panics; for package-level tables.
func MustGraph(kinds []Kind, rules ...Rule) *Graph {
	g, err := NewGraph(kinds, rules...)
	if err != nil {
		panic(err)
	}
	return g
}

// Kinds lists every mutation kind with a row, sorted.
func (g *Graph) Kinds() []Kind {
	out := make([]Kind, 0, len(g.rows))
	for k := range g.rows {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Row returns a copy of the patterns for kind.
func (g *Graph) Row(kind Kind) ([]Pattern, bool) {
	ps, ok := g.rows[kind]
	if !ok {
		return nil, false
	}
	return append([]Pattern(nil), ps...), true
}

// Targets is what a successful mutation must mark stale.
type Targets struct {
	// Namespaces are exact namespaces.
	Namespaces []optcache.Namespace
	// Kinds are staled wholesale: every cached namespace of the kind.
	Kinds []optcache.Kind
}

func (t Targets) Empty() bool { return len(t.Namespaces) == 0 && len(t.Kinds) == 0 }

// Resolve binds the row of kind against scope. A parameterized pattern whose
// source field has no values in scope contributes nothing.
func (g *Graph) Resolve(kind Kind, scope Scope) (Targets, error) {
	row, ok := g.rows[kind]
	if !ok {
		return Targets{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	var t Targets
	seenNS := make(map[optcache.Namespace]struct{})
	seenKind := make(map[optcache.Kind]struct{})
	addNS := func(ns optcache.Namespace) {
		if _, ok := seenNS[ns]; ok {
			return
		}
		seenNS[ns] = struct{}{}
		t.Namespaces = append(t.Namespaces, ns)
	}

	for _, p := range row {
		switch {
		case p.All:
			if _, ok := seenKind[p.Kind]; !ok {
				seenKind[p.Kind] = struct{}{}
				t.Kinds = append(t.Kinds, p.Kind)
			}
		case p.Field == optcache.FieldNone:
			addNS(optcache.NS(p.Kind))
		default:
			for _, v := range scope[p.source()] {
				addNS(optcache.NSWith(p.Kind, p.Field, v))
			}
		}
	}
	return t, nil
}

// Matches reports whether ns is covered by t.
func (t Targets) Matches(ns optcache.Namespace) bool {
	for _, k := range t.Kinds {
		if ns.Kind == k {
			return true
		}
	}
	for _, n := range t.Namespaces {
		if n == ns {
			return true
		}
	}
	return false
}
