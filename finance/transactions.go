package finance

import (
	"github.com/unkn0wn-root/optcache"
	"github.com/unkn0wn-root/optcache/invalidation"
	"github.com/unkn0wn-root/optcache/mutation"
	"github.com/unkn0wn-root/optcache/remote"
)

const entityTransaction = "transaction"

// TransactionChange edits a transaction. Before is the version the caller
// displayed; it tells the optimistic step which balance to take the old
// amount from.
type TransactionChange struct {
	Before Transaction `json:"-"`
	After  Transaction `json:"after"`
}

type BulkDelete struct {
	IDs []string `json:"ids"`
}

type BulkDeleteResult struct {
	Deleted int `json:"deleted"`
}

func validateTransaction(t Transaction) error {
	p := problems{}
	p.required("accountId", t.AccountID)
	p.positive("amount", t.Amount)
	if t.Type != Income && t.Type != Expense {
		p.add("type", "must be income or expense")
	}
	return p.err()
}

func txnNamespaces(accountIDs ...string) []optcache.Namespace {
	out := []optcache.Namespace{TransactionsNS(), AccountsNS()}
	for _, id := range accountIDs {
		out = append(out, AccountNS(id), TransactionsByAccountNS(id))
	}
	return out
}

func txnScope(accountIDs ...string) invalidation.Scope {
	return invalidation.Scope{}.Add(optcache.FieldAccountID, accountIDs...)
}

// putTxn writes t into the global list and its account's list, replacing
// the element with id.
func putTxn(tx *optcache.Txn, id string, t Transaction) error {
	up := func(l []Transaction) []Transaction { return upsert(l, id, t) }
	if err := editList(tx, TransactionsNS(), up); err != nil {
		return err
	}
	return editList(tx, TransactionsByAccountNS(t.AccountID), up)
}

func dropTxn(tx *optcache.Txn, t Transaction) error {
	rm := func(l []Transaction) []Transaction { return remove(l, t.ID) }
	if err := editList(tx, TransactionsNS(), rm); err != nil {
		return err
	}
	return editList(tx, TransactionsByAccountNS(t.AccountID), rm)
}

var CreateTransaction = mutation.Definition[Transaction, Transaction]{
	Kind:     TransactionCreate,
	Entity:   entityTransaction,
	Op:       remote.OpCreate,
	Creates:  true,
	Affected: func(t Transaction) []optcache.Namespace { return txnNamespaces(t.AccountID) },
	Scope:    func(t Transaction) invalidation.Scope { return txnScope(t.AccountID) },
	Validate: validateTransaction,
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[Transaction]) error {
		t := m.Payload
		t.ID = m.TempID
		if err := putTxn(tx, t.ID, t); err != nil {
			return err
		}
		return adjustBalance(tx, t.AccountID, t.Signed())
	},
	Reconcile: func(tx *optcache.Txn, m mutation.Mutation[Transaction], got Transaction) error {
		if got.ID == "" {
			return mutation.Violation(TransactionsNS(), "server returned a transaction without id")
		}
		sent := m.Payload
		sent.ID = m.TempID
		if got.AccountID != sent.AccountID {
			if err := dropTxn(tx, sent); err != nil {
				return err
			}
		}
		if err := putTxn(tx, m.TempID, got); err != nil {
			return err
		}
		// the optimistic balance used the requested amount; settle on what was booked
		if err := adjustBalance(tx, sent.AccountID, sent.Signed().Neg()); err != nil {
			return err
		}
		if err := adjustBalance(tx, got.AccountID, got.Signed()); err != nil {
			return err
		}
		return rehomed(tx, sent.AccountID, got.AccountID)
	},
}

// rehomed marks the booked account's views stale when the server placed the
// transaction on another account than requested. Those views were edited
// from a guess and lie outside the mutation's invalidation scope.
func rehomed(tx *optcache.Txn, requested, booked string) error {
	if booked == requested || booked == "" {
		return nil
	}
	for _, ns := range []optcache.Namespace{AccountNS(booked), TransactionsByAccountNS(booked)} {
		if err := tx.MarkStale(ns); err != nil {
			return err
		}
	}
	return nil
}

var UpdateTransaction = mutation.Definition[TransactionChange, Transaction]{
	Kind:   TransactionUpdate,
	Entity: entityTransaction,
	Op:     remote.OpUpdate,
	Target: func(c TransactionChange) string { return c.After.ID },
	Body:   func(m mutation.Mutation[TransactionChange]) any { return m.Payload.After },
	Affected: func(c TransactionChange) []optcache.Namespace {
		return txnNamespaces(c.Before.AccountID, c.After.AccountID)
	},
	Scope: func(c TransactionChange) invalidation.Scope { return txnScope(c.Before.AccountID, c.After.AccountID) },
	Validate: func(c TransactionChange) error {
		if c.Before.ID == "" || c.Before.ID != c.After.ID {
			return &remote.ValidationError{Fields: map[string][]string{"id": {"before and after must name the same transaction"}}}
		}
		return validateTransaction(c.After)
	},
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[TransactionChange]) error {
		return moveTxn(tx, m.Payload.Before, m.Payload.After)
	},
	Reconcile: func(tx *optcache.Txn, m mutation.Mutation[TransactionChange], got Transaction) error {
		if got.ID != m.Payload.After.ID {
			return mutation.Violation(TransactionsNS(), "server answered %s for an update of %s", got.ID, m.Payload.After.ID)
		}
		if err := moveTxn(tx, m.Payload.After, got); err != nil {
			return err
		}
		return rehomed(tx, m.Payload.After.AccountID, got.AccountID)
	},
}

// moveTxn replaces from with to in every list and moves the balance effect.
func moveTxn(tx *optcache.Txn, from, to Transaction) error {
	if from.AccountID != to.AccountID {
		if err := dropTxn(tx, from); err != nil {
			return err
		}
	}
	if err := putTxn(tx, from.ID, to); err != nil {
		return err
	}
	if err := adjustBalance(tx, from.AccountID, from.Signed().Neg()); err != nil {
		return err
	}
	return adjustBalance(tx, to.AccountID, to.Signed())
}

var DeleteTransaction = mutation.Definition[Transaction, struct{}]{
	Kind:     TransactionDelete,
	Entity:   entityTransaction,
	Op:       remote.OpDelete,
	Target:   func(t Transaction) string { return t.ID },
	Body:     func(mutation.Mutation[Transaction]) any { return nil },
	Affected: func(t Transaction) []optcache.Namespace { return txnNamespaces(t.AccountID) },
	Scope:    func(t Transaction) invalidation.Scope { return txnScope(t.AccountID) },
	Validate: func(t Transaction) error {
		p := problems{}
		p.required("id", t.ID)
		p.required("accountId", t.AccountID)
		return p.err()
	},
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[Transaction]) error {
		if err := dropTxn(tx, m.Payload); err != nil {
			return err
		}
		return adjustBalance(tx, m.Payload.AccountID, m.Payload.Signed().Neg())
	},
}

// BulkDeleteTransactions removes the rows from the global list right away.
// Which accounts they belonged to is not known from the ids alone, so every
// cached account and per-account list is marked stale on success.
var BulkDeleteTransactions = mutation.Definition[BulkDelete, BulkDeleteResult]{
	Kind:     TransactionBulkDelete,
	Entity:   entityTransaction,
	Op:       remote.OpBulkDelete,
	Affected: func(BulkDelete) []optcache.Namespace { return []optcache.Namespace{TransactionsNS()} },
	Validate: func(b BulkDelete) error {
		if len(b.IDs) == 0 {
			return &remote.ValidationError{Fields: map[string][]string{"ids": {"is required"}}}
		}
		return nil
	},
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[BulkDelete]) error {
		return editList(tx, TransactionsNS(), func(l []Transaction) []Transaction { return remove(l, m.Payload.IDs...) })
	},
	Reconcile: func(_ *optcache.Txn, m mutation.Mutation[BulkDelete], got BulkDeleteResult) error {
		if got.Deleted > len(m.Payload.IDs) {
			return mutation.Violation(TransactionsNS(), "server deleted %d of %d transactions", got.Deleted, len(m.Payload.IDs))
		}
		return nil
	},
}
