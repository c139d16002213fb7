package finance

import (
	"github.com/shopspring/decimal"

	"github.com/unkn0wn-root/optcache"
)

type entity interface{ EntityID() string }

// editCached rewrites the cached value of ns with fn. Namespaces that were
// never fetched are left alone: there is nothing to be optimistic about.
func editCached[V any](tx *optcache.Txn, ns optcache.Namespace, fn func(V) (V, error)) error {
	v, ok, err := optcache.Read[V](tx, ns)
	if err != nil || !ok {
		return err
	}
	v, err = fn(v)
	if err != nil {
		return err
	}
	return tx.Set(ns, v)
}

func editList[T entity](tx *optcache.Txn, ns optcache.Namespace, fn func([]T) []T) error {
	return editCached(tx, ns, func(list []T) ([]T, error) { return fn(list), nil })
}

func find[T entity](list []T, id string) (T, bool) {
	for _, v := range list {
		if v.EntityID() == id {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// replace swaps the element with id for v. Absent => list unchanged.
func replace[T entity](list []T, id string, v T) []T {
	out := make([]T, len(list))
	copy(out, list)
	for i := range out {
		if out[i].EntityID() == id {
			out[i] = v
		}
	}
	return out
}

// upsert replaces the element with id or appends v.
func upsert[T entity](list []T, id string, v T) []T {
	if _, ok := find(list, id); ok {
		return replace(list, id, v)
	}
	return append(append(make([]T, 0, len(list)+1), list...), v)
}

func remove[T entity](list []T, ids ...string) []T {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	out := make([]T, 0, len(list))
	for _, v := range list {
		if _, ok := drop[v.EntityID()]; !ok {
			out = append(out, v)
		}
	}
	return out
}

// adjustBalance moves account id by delta in both the list and the detail view.
func adjustBalance(tx *optcache.Txn, id string, delta decimal.Decimal) error {
	if id == "" || delta.IsZero() {
		return nil
	}
	add := func(a Account) Account {
		a.Balance = a.Balance.Add(delta)
		return a
	}
	if err := editCached(tx, AccountNS(id), func(a Account) (Account, error) { return add(a), nil }); err != nil {
		return err
	}
	return editCached(tx, AccountsNS(), func(list []Account) ([]Account, error) {
		if a, ok := find(list, id); ok {
			return replace(list, id, add(a)), nil
		}
		return list, nil
	})
}

// adjustMember moves a member balance by delta inside a group's balances.
func adjustMember(gb GroupBalances, memberID string, delta decimal.Decimal) GroupBalances {
	out := GroupBalances{GroupID: gb.GroupID, Balances: make([]MemberBalance, len(gb.Balances))}
	copy(out.Balances, gb.Balances)
	for i := range out.Balances {
		if out.Balances[i].MemberID == memberID {
			out.Balances[i].Balance = out.Balances[i].Balance.Add(delta)
			return out
		}
	}
	out.Balances = append(out.Balances, MemberBalance{MemberID: memberID, Balance: delta})
	return out
}
