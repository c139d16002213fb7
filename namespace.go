package optcache

import (
	"net/url"
	"strings"

	pr "github.com/unkn0wn-root/optcache/provider"
)

// Kind names a family of server views, e.g. "accounts" or "account".
type Kind string

// Field selects one parameter of a namespace.
type Field uint8

const (
	FieldNone Field = iota
	FieldID
	FieldAccountID
	FieldGroupID
	FieldPeriod
)

func (f Field) String() string {
	switch f {
	case FieldID:
		return "id"
	case FieldAccountID:
		return "account"
	case FieldGroupID:
		return "group"
	case FieldPeriod:
		return "period"
	default:
		return "none"
	}
}

// Params identify one instance of a kind. Empty fields are not part of the key.
type Params struct {
	ID        string
	AccountID string
	GroupID   string
	Period    string
}

func (p Params) Get(f Field) string {
	switch f {
	case FieldID:
		return p.ID
	case FieldAccountID:
		return p.AccountID
	case FieldGroupID:
		return p.GroupID
	case FieldPeriod:
		return p.Period
	}
	return ""
}

func (p Params) With(f Field, v string) Params {
	switch f {
	case FieldID:
		p.ID = v
	case FieldAccountID:
		p.AccountID = v
	case FieldGroupID:
		p.GroupID = v
	case FieldPeriod:
		p.Period = v
	}
	return p
}

// Namespace is the cache key of one server view.
// Two namespaces are equal iff Kind and Params are equal.
type Namespace struct {
	Kind   Kind
	Params Params
}

func NS(kind Kind) Namespace { return Namespace{Kind: kind} }

func NSWith(kind Kind, f Field, v string) Namespace {
	return Namespace{Kind: kind, Params: Params{}.With(f, v)}
}

var keyFields = [...]Field{FieldID, FieldAccountID, FieldGroupID, FieldPeriod}

// Key is the canonical string form: kind followed by the non-empty params
// in a fixed order, e.g. "transactions-by-account|account=3".
func (n Namespace) Key() string {
	var b strings.Builder
	b.WriteString(url.QueryEscape(string(n.Kind)))
	for _, f := range keyFields {
		v := n.Params.Get(f)
		if v == "" {
			continue
		}
		b.WriteByte('|')
		b.WriteString(f.String())
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(v))
	}
	return b.String()
}

func (n Namespace) String() string { return n.Key() }

func (n Namespace) IsZero() bool { return n == Namespace{} }

func storageKey(n Namespace) string { return pr.KeyPrefix + n.Key() }

// dedupe keeps the first occurrence of each namespace.
func dedupe(nss []Namespace) []Namespace {
	seen := make(map[Namespace]struct{}, len(nss))
	out := make([]Namespace, 0, len(nss))
	for _, n := range nss {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
