package finance

import (
	"github.com/shopspring/decimal"

	"github.com/unkn0wn-root/optcache"
	"github.com/unkn0wn-root/optcache/invalidation"
	"github.com/unkn0wn-root/optcache/mutation"
	"github.com/unkn0wn-root/optcache/remote"
)

const (
	entityExpense = "shared-expense"

	opPaid remote.Op = "paid"
)

type ExpenseRef struct {
	ID      string
	GroupID string
}

// ParticipantPaid marks one participant's share as paid or unpaid.
type ParticipantPaid struct {
	ExpenseID string `json:"-"`
	GroupID   string `json:"-"`
	MemberID  string `json:"memberId"`
	Paid      bool   `json:"paid"`
}

func validateExpense(e SharedExpense) error {
	p := problems{}
	p.required("groupId", e.GroupID)
	p.required("paidBy", e.PaidBy)
	p.required("description", e.Description)
	p.positive("amount", e.Amount)
	if len(e.Participants) == 0 {
		p.add("participants", "at least one participant is required")
	}
	for _, pt := range e.Participants {
		if pt.AmountOwed.IsNegative() {
			p.add("participants", "shares cannot be negative")
			break
		}
	}
	if owed := e.Owed(); len(e.Participants) > 0 && !owed.Equal(e.Amount) {
		p.add("participants", "shares must add up to the amount")
	}
	return p.err()
}

// checkExpense enforces that participant shares add up to the amount.
func checkExpense(e SharedExpense) error {
	if owed := e.Owed(); !owed.Equal(e.Amount) {
		return mutation.Violation(SharedExpenseNS(e.ID), "participant shares sum to %s, amount is %s", owed, e.Amount)
	}
	return nil
}

func expenseNamespaces(id, groupID string) []optcache.Namespace {
	out := []optcache.Namespace{SharedExpensesNS(), GroupExpensesNS(groupID), GroupBalancesNS(groupID)}
	if id != "" {
		out = append(out, SharedExpenseNS(id))
	}
	return out
}

func expenseScope(id, groupID string) invalidation.Scope {
	return groupScope(groupID).Add(optcache.FieldID, id)
}

// applyExpense books e onto the group balances, sign=1 to add, -1 to undo.
// Every unpaid share moves from the participant to the payer, so the group
// keeps summing to zero.
func applyExpense(gb GroupBalances, e SharedExpense, sign int64) GroupBalances {
	s := decimal.NewFromInt(sign)
	for _, p := range e.Participants {
		if p.Paid || p.MemberID == e.PaidBy {
			continue
		}
		share := p.AmountOwed.Mul(s)
		gb = adjustMember(gb, p.MemberID, share.Neg())
		gb = adjustMember(gb, e.PaidBy, share)
	}
	return gb
}

// cachedExpense finds the displayed version of an expense: the detail view
// first, then the lists.
func cachedExpense(tx *optcache.Txn, id, groupID string) (SharedExpense, bool, error) {
	if e, ok, err := optcache.Read[SharedExpense](tx, SharedExpenseNS(id)); err != nil || ok {
		return e, ok, err
	}
	for _, ns := range []optcache.Namespace{GroupExpensesNS(groupID), SharedExpensesNS()} {
		l, ok, err := optcache.Read[[]SharedExpense](tx, ns)
		if err != nil {
			return SharedExpense{}, false, err
		}
		if ok {
			if e, found := find(l, id); found {
				return e, true, nil
			}
		}
	}
	return SharedExpense{}, false, nil
}

// putExpense writes e under id in every view that shows it.
func putExpense(tx *optcache.Txn, id string, e SharedExpense) error {
	up := func(l []SharedExpense) []SharedExpense { return upsert(l, id, e) }
	if err := editList(tx, SharedExpensesNS(), up); err != nil {
		return err
	}
	if err := editList(tx, GroupExpensesNS(e.GroupID), up); err != nil {
		return err
	}
	if id == e.ID {
		return editCached(tx, SharedExpenseNS(id), func(SharedExpense) (SharedExpense, error) { return e, nil })
	}
	return nil
}

// rebook replaces the balance effect of old (if it was shown) with next.
func rebook(tx *optcache.Txn, groupID string, old, next *SharedExpense) error {
	return editBalances(tx, groupID, func(gb GroupBalances) GroupBalances {
		if old != nil {
			gb = applyExpense(gb, *old, -1)
		}
		if next != nil {
			gb = applyExpense(gb, *next, 1)
		}
		return gb
	})
}

var CreateExpense = mutation.Definition[SharedExpense, SharedExpense]{
	Kind:     ExpenseCreate,
	Entity:   entityExpense,
	Op:       remote.OpCreate,
	Creates:  true,
	Affected: func(e SharedExpense) []optcache.Namespace { return expenseNamespaces("", e.GroupID) },
	Scope:    func(e SharedExpense) invalidation.Scope { return groupScope(e.GroupID) },
	Validate: validateExpense,
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[SharedExpense]) error {
		e := m.Payload
		e.ID = m.TempID
		if err := putExpense(tx, e.ID, e); err != nil {
			return err
		}
		return rebook(tx, e.GroupID, nil, &e)
	},
	Reconcile: func(tx *optcache.Txn, m mutation.Mutation[SharedExpense], got SharedExpense) error {
		if got.ID == "" {
			return mutation.Violation(SharedExpensesNS(), "server returned an expense without id")
		}
		if err := checkExpense(got); err != nil {
			return err
		}
		return putExpense(tx, m.TempID, got)
	},
}

var UpdateExpense = mutation.Definition[SharedExpense, SharedExpense]{
	Kind:     ExpenseUpdate,
	Entity:   entityExpense,
	Op:       remote.OpUpdate,
	Target:   func(e SharedExpense) string { return e.ID },
	Affected: func(e SharedExpense) []optcache.Namespace { return expenseNamespaces(e.ID, e.GroupID) },
	Scope:    func(e SharedExpense) invalidation.Scope { return expenseScope(e.ID, e.GroupID) },
	Validate: func(e SharedExpense) error {
		if e.ID == "" {
			return &remote.ValidationError{Fields: map[string][]string{"id": {"is required"}}}
		}
		return validateExpense(e)
	},
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[SharedExpense]) error {
		e := m.Payload
		old, ok, err := cachedExpense(tx, e.ID, e.GroupID)
		if err != nil {
			return err
		}
		if err := putExpense(tx, e.ID, e); err != nil {
			return err
		}
		if !ok {
			// nothing displayed to move the balances from; the refetch settles them
			return nil
		}
		return rebook(tx, e.GroupID, &old, &e)
	},
	Reconcile: func(tx *optcache.Txn, m mutation.Mutation[SharedExpense], got SharedExpense) error {
		if got.ID != m.Payload.ID {
			return mutation.Violation(SharedExpenseNS(m.Payload.ID), "server answered expense %s", got.ID)
		}
		if err := checkExpense(got); err != nil {
			return err
		}
		return putExpense(tx, got.ID, got)
	},
}

var DeleteExpense = mutation.Definition[ExpenseRef, struct{}]{
	Kind:     ExpenseDelete,
	Entity:   entityExpense,
	Op:       remote.OpDelete,
	Target:   func(r ExpenseRef) string { return r.ID },
	Body:     func(mutation.Mutation[ExpenseRef]) any { return nil },
	Affected: func(r ExpenseRef) []optcache.Namespace { return expenseNamespaces(r.ID, r.GroupID) },
	Scope:    func(r ExpenseRef) invalidation.Scope { return groupScope(r.GroupID) },
	Validate: func(r ExpenseRef) error {
		p := problems{}
		p.required("id", r.ID)
		p.required("groupId", r.GroupID)
		return p.err()
	},
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[ExpenseRef]) error {
		r := m.Payload
		old, ok, err := cachedExpense(tx, r.ID, r.GroupID)
		if err != nil {
			return err
		}
		rm := func(l []SharedExpense) []SharedExpense { return remove(l, r.ID) }
		if err := editList(tx, SharedExpensesNS(), rm); err != nil {
			return err
		}
		if err := editList(tx, GroupExpensesNS(r.GroupID), rm); err != nil {
			return err
		}
		if err := tx.Delete(SharedExpenseNS(r.ID)); err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return rebook(tx, r.GroupID, &old, nil)
	},
}

var SetParticipantPaid = mutation.Definition[ParticipantPaid, SharedExpense]{
	Kind:   ExpenseSetPaid,
	Entity: entityExpense,
	Op:     opPaid,
	Target: func(p ParticipantPaid) string { return p.ExpenseID },
	Affected: func(p ParticipantPaid) []optcache.Namespace {
		return expenseNamespaces(p.ExpenseID, p.GroupID)
	},
	Scope: func(p ParticipantPaid) invalidation.Scope { return expenseScope(p.ExpenseID, p.GroupID) },
	Validate: func(p ParticipantPaid) error {
		ps := problems{}
		ps.required("expenseId", p.ExpenseID)
		ps.required("groupId", p.GroupID)
		ps.required("memberId", p.MemberID)
		return ps.err()
	},
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[ParticipantPaid]) error {
		p := m.Payload
		old, ok, err := cachedExpense(tx, p.ExpenseID, p.GroupID)
		if err != nil || !ok {
			return err
		}
		next := old
		next.Participants = make([]Participant, len(old.Participants))
		copy(next.Participants, old.Participants)
		for i := range next.Participants {
			if next.Participants[i].MemberID == p.MemberID {
				next.Participants[i].Paid = p.Paid
			}
		}
		if err := putExpense(tx, next.ID, next); err != nil {
			return err
		}
		return rebook(tx, p.GroupID, &old, &next)
	},
	Reconcile: func(tx *optcache.Txn, m mutation.Mutation[ParticipantPaid], got SharedExpense) error {
		if got.ID != m.Payload.ExpenseID {
			return mutation.Violation(SharedExpenseNS(m.Payload.ExpenseID), "server answered expense %s", got.ID)
		}
		if err := checkExpense(got); err != nil {
			return err
		}
		return putExpense(tx, got.ID, got)
	},
}
