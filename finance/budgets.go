package finance

import (
	"github.com/unkn0wn-root/optcache"
	"github.com/unkn0wn-root/optcache/invalidation"
	"github.com/unkn0wn-root/optcache/mutation"
	"github.com/unkn0wn-root/optcache/remote"
)

const entityBudget = "budget"

func validateBudget(b Budget) error {
	p := problems{}
	p.required("name", b.Name)
	p.required("category", b.Category)
	p.required("period", b.Period)
	p.positive("limit", b.Limit)
	return p.err()
}

func putBudget(tx *optcache.Txn, id string, b Budget) error {
	if err := editCached(tx, BudgetNS(id), func(Budget) (Budget, error) { return b, nil }); err != nil {
		return err
	}
	return editList(tx, BudgetsNS(), func(l []Budget) []Budget { return replace(l, id, b) })
}

var CreateBudget = mutation.Definition[Budget, Budget]{
	Kind:     BudgetCreate,
	Entity:   entityBudget,
	Op:       remote.OpCreate,
	Creates:  true,
	Affected: func(Budget) []optcache.Namespace { return []optcache.Namespace{BudgetsNS()} },
	Validate: validateBudget,
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[Budget]) error {
		b := m.Payload
		b.ID = m.TempID
		return editList(tx, BudgetsNS(), func(l []Budget) []Budget { return upsert(l, b.ID, b) })
	},
	Reconcile: func(tx *optcache.Txn, m mutation.Mutation[Budget], got Budget) error {
		if got.ID == "" {
			return mutation.Violation(BudgetsNS(), "server returned a budget without id")
		}
		return editList(tx, BudgetsNS(), func(l []Budget) []Budget { return upsert(l, m.TempID, got) })
	},
}

var UpdateBudget = mutation.Definition[Budget, Budget]{
	Kind:     BudgetUpdate,
	Entity:   entityBudget,
	Op:       remote.OpUpdate,
	Target:   func(b Budget) string { return b.ID },
	Affected: func(b Budget) []optcache.Namespace { return []optcache.Namespace{BudgetsNS(), BudgetNS(b.ID)} },
	Scope:    func(b Budget) invalidation.Scope { return invalidation.Scope{}.Add(optcache.FieldID, b.ID) },
	Validate: func(b Budget) error {
		if b.ID == "" {
			return &remote.ValidationError{Fields: map[string][]string{"id": {"is required"}}}
		}
		return validateBudget(b)
	},
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[Budget]) error {
		return putBudget(tx, m.Payload.ID, m.Payload)
	},
	Reconcile: func(tx *optcache.Txn, m mutation.Mutation[Budget], got Budget) error {
		if got.ID != m.Payload.ID {
			return mutation.Violation(BudgetNS(m.Payload.ID), "server answered budget %s", got.ID)
		}
		return putBudget(tx, got.ID, got)
	},
}

var DeleteBudget = mutation.Definition[string, struct{}]{
	Kind:     BudgetDelete,
	Entity:   entityBudget,
	Op:       remote.OpDelete,
	Target:   func(id string) string { return id },
	Body:     func(mutation.Mutation[string]) any { return nil },
	Affected: func(id string) []optcache.Namespace { return []optcache.Namespace{BudgetsNS(), BudgetNS(id)} },
	Validate: requireID,
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[string]) error {
		if err := editList(tx, BudgetsNS(), func(l []Budget) []Budget { return remove(l, m.Payload) }); err != nil {
			return err
		}
		return tx.Delete(BudgetNS(m.Payload))
	},
}

func requireID(id string) error {
	p := problems{}
	p.required("id", id)
	return p.err()
}
