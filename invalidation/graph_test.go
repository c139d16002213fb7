package invalidation

import (
	"errors"
	"testing"

	"github.com/unkn0wn-root/optcache"
)

const (
	txCreate   Kind = "transaction.create"
	loanPay    Kind = "loan.payment"
	bulkDelete Kind = "transaction.bulk_delete"
)

func testGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraph([]Kind{txCreate, loanPay, bulkDelete},
		Rule{Kind: txCreate, Patterns: []Pattern{
			{Kind: "accounts"},
			{Kind: "account", Field: optcache.FieldID, From: optcache.FieldAccountID},
			{Kind: "dashboard-summary"},
			{Kind: "accounts"}, // duplicate pattern collapses
		}},
		Rule{Kind: loanPay, Patterns: []Pattern{
			{Kind: "loan", Field: optcache.FieldID},
			{Kind: "account", Field: optcache.FieldID, From: optcache.FieldAccountID},
		}},
		Rule{Kind: bulkDelete, Patterns: []Pattern{
			{Kind: "account", All: true},
			{Kind: "total-balance"},
		}},
	)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	return g
}

func TestResolveBindsScope(t *testing.T) {
	g := testGraph(t)

	got, err := g.Resolve(txCreate, Scope{}.Add(optcache.FieldAccountID, "7", "", "9"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []optcache.Namespace{
		optcache.NS("accounts"),
		optcache.NSWith("account", optcache.FieldID, "7"),
		optcache.NSWith("account", optcache.FieldID, "9"),
		optcache.NS("dashboard-summary"),
	}
	if len(got.Namespaces) != len(want) {
		t.Fatalf("got %v, want %v", got.Namespaces, want)
	}
	for i := range want {
		if got.Namespaces[i] != want[i] {
			t.Fatalf("namespace %d = %v, want %v", i, got.Namespaces[i], want[i])
		}
	}
	if len(got.Kinds) != 0 {
		t.Fatalf("no wildcard expected, got %v", got.Kinds)
	}
}

func TestResolveUnboundPatternContributesNothing(t *testing.T) {
	g := testGraph(t)
	got, err := g.Resolve(loanPay, Scope{}.Add(optcache.FieldID, "L1"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got.Namespaces) != 1 || got.Namespaces[0] != optcache.NSWith("loan", optcache.FieldID, "L1") {
		t.Fatalf("got %v", got.Namespaces)
	}
}

func TestResolveWildcard(t *testing.T) {
	g := testGraph(t)
	got, _ := g.Resolve(bulkDelete, nil)
	if len(got.Kinds) != 1 || got.Kinds[0] != "account" {
		t.Fatalf("wildcard kinds = %v", got.Kinds)
	}
	if !got.Matches(optcache.NSWith("account", optcache.FieldID, "whatever")) {
		t.Fatalf("wildcard must match any account")
	}
	if got.Matches(optcache.NS("accounts")) {
		t.Fatalf("wildcard must not match other kinds")
	}
}

func TestResolveUnknownKind(t *testing.T) {
	g := testGraph(t)
	if _, err := g.Resolve("nope", nil); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestNewGraphRequiresEveryKind(t *testing.T) {
	_, err := NewGraph([]Kind{txCreate, loanPay}, Rule{Kind: txCreate})
	if !errors.Is(err, ErrMissingRows) {
		t.Fatalf("expected ErrMissingRows, got %v", err)
	}
}

func TestNewGraphRejectsBadPatterns(t *testing.T) {
	cases := []Pattern{
		{},
		{Kind: "account", All: true, Field: optcache.FieldID},
		{Kind: "account", From: optcache.FieldAccountID},
	}
	for _, p := range cases {
		if _, err := NewGraph(nil, Rule{Kind: txCreate, Patterns: []Pattern{p}}); !errors.Is(err, ErrBadPattern) {
			t.Fatalf("pattern %+v: expected ErrBadPattern, got %v", p, err)
		}
	}
	if _, err := NewGraph(nil, Rule{Kind: txCreate}, Rule{Kind: txCreate}); err == nil {
		t.Fatalf("duplicate rows must fail")
	}
}

func TestRowIsACopy(t *testing.T) {
	g := testGraph(t)
	row, _ := g.Row(txCreate)
	row[0].Kind = "mutated"
	again, _ := g.Row(txCreate)
	if again[0].Kind != "accounts" {
		t.Fatalf("Row leaked internal slice")
	}
}
