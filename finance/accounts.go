package finance

import (
	"errors"

	"github.com/unkn0wn-root/optcache"
	"github.com/unkn0wn-root/optcache/invalidation"
	"github.com/unkn0wn-root/optcache/mutation"
	"github.com/unkn0wn-root/optcache/remote"
)

const entityAccount = "account"

// AccountChange edits the descriptive fields of an account. The balance is
// derived from transactions and never edited directly.
type AccountChange struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Type     AccountType `json:"type"`
	Currency string      `json:"currency"`
	Archived bool        `json:"archived"`
}

func (c AccountChange) apply(a Account) Account {
	a.Name, a.Type, a.Currency, a.Archived = c.Name, c.Type, c.Currency, c.Archived
	return a
}

// AccountRemoval deletes an account. An account that still has transactions
// needs TransferTo; without it the server answers with a conflict carrying
// "transactionCount".
type AccountRemoval struct {
	ID         string `json:"-"`
	TransferTo string `json:"transferTo,omitempty"`
}

// TransactionCount extracts the count a delete conflict reports.
func TransactionCount(err error) (int, bool) {
	var ce *remote.ConflictError
	if !errors.As(err, &ce) {
		return 0, false
	}
	return ce.Int("transactionCount")
}

func validateAccount(name string, typ AccountType, currency string) error {
	p := problems{}
	p.required("name", name)
	p.required("currency", currency)
	switch typ {
	case Checking, Savings, Credit, Cash, Investment:
	default:
		p.add("type", "unknown account type")
	}
	return p.err()
}

var CreateAccount = mutation.Definition[Account, Account]{
	Kind:     AccountCreate,
	Entity:   entityAccount,
	Op:       remote.OpCreate,
	Creates:  true,
	Affected: func(Account) []optcache.Namespace { return []optcache.Namespace{AccountsNS()} },
	Validate: func(a Account) error { return validateAccount(a.Name, a.Type, a.Currency) },
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[Account]) error {
		a := m.Payload
		a.ID = m.TempID
		return editList(tx, AccountsNS(), func(l []Account) []Account { return upsert(l, a.ID, a) })
	},
	Reconcile: func(tx *optcache.Txn, m mutation.Mutation[Account], got Account) error {
		if got.ID == "" {
			return mutation.Violation(AccountsNS(), "server returned an account without id")
		}
		return editList(tx, AccountsNS(), func(l []Account) []Account { return upsert(l, m.TempID, got) })
	},
}

var UpdateAccount = mutation.Definition[AccountChange, Account]{
	Kind:   AccountUpdate,
	Entity: entityAccount,
	Op:     remote.OpUpdate,
	Target: func(c AccountChange) string { return c.ID },
	Affected: func(c AccountChange) []optcache.Namespace {
		return []optcache.Namespace{AccountsNS(), AccountNS(c.ID)}
	},
	Scope: func(c AccountChange) invalidation.Scope { return invalidation.Scope{}.Add(optcache.FieldID, c.ID) },
	Validate: func(c AccountChange) error {
		if c.ID == "" {
			return &remote.ValidationError{Fields: map[string][]string{"id": {"is required"}}}
		}
		return validateAccount(c.Name, c.Type, c.Currency)
	},
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[AccountChange]) error {
		c := m.Payload
		return putAccount(tx, c.ID, c.apply)
	},
	Reconcile: func(tx *optcache.Txn, m mutation.Mutation[AccountChange], got Account) error {
		if got.ID != m.Payload.ID {
			return mutation.Violation(AccountNS(m.Payload.ID), "server answered account %s", got.ID)
		}
		return putAccount(tx, got.ID, func(Account) Account { return got })
	},
}

// putAccount rewrites account id in the detail view and the list.
func putAccount(tx *optcache.Txn, id string, fn func(Account) Account) error {
	err := editCached(tx, AccountNS(id), func(a Account) (Account, error) { return fn(a), nil })
	if err != nil {
		return err
	}
	return editList(tx, AccountsNS(), func(l []Account) []Account {
		if a, ok := find(l, id); ok {
			return replace(l, id, fn(a))
		}
		return l
	})
}

var DeleteAccount = mutation.Definition[AccountRemoval, struct{}]{
	Kind:   AccountDelete,
	Entity: entityAccount,
	Op:     remote.OpDelete,
	Target: func(r AccountRemoval) string { return r.ID },
	Affected: func(r AccountRemoval) []optcache.Namespace {
		return []optcache.Namespace{AccountsNS(), AccountNS(r.ID), TransactionsByAccountNS(r.ID)}
	},
	// the transfer target gains the transactions; the deleted account is gone
	Scope: func(r AccountRemoval) invalidation.Scope { return txnScope(r.TransferTo) },
	Validate: func(r AccountRemoval) error {
		p := problems{}
		p.required("id", r.ID)
		if r.TransferTo != "" && r.TransferTo == r.ID {
			p.add("transferTo", "must be a different account")
		}
		return p.err()
	},
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[AccountRemoval]) error {
		id := m.Payload.ID
		if err := editList(tx, AccountsNS(), func(l []Account) []Account { return remove(l, id) }); err != nil {
			return err
		}
		if err := tx.Delete(AccountNS(id)); err != nil {
			return err
		}
		return tx.Delete(TransactionsByAccountNS(id))
	},
}
