package finance

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/unkn0wn-root/optcache"
	"github.com/unkn0wn-root/optcache/invalidation"
	"github.com/unkn0wn-root/optcache/mutation"
	"github.com/unkn0wn-root/optcache/remote"
)

const (
	entityLoan = "loan"

	opPayments remote.Op = "payments"
	opCancel   remote.Op = "cancel"
)

// LoanRepayment records money changing hands against a loan. AccountID is
// the account the money went to or came from.
type LoanRepayment struct {
	LoanID    string          `json:"-"`
	AccountID string          `json:"accountId"`
	Amount    decimal.Decimal `json:"amount"`
	Date      time.Time       `json:"date"`
}

func loanScope(id, accountID string) invalidation.Scope {
	return invalidation.Scope{}.Add(optcache.FieldID, id).Add(optcache.FieldAccountID, accountID)
}

// checkLoan: a settled loan never shows more repaid than was lent.
func checkLoan(l Loan) error {
	if l.PaidAmount.GreaterThan(l.OriginalAmount) {
		return mutation.Violation(LoanNS(l.ID), "paid %s exceeds original %s", l.PaidAmount, l.OriginalAmount)
	}
	return nil
}

func cachedLoan(tx *optcache.Txn, id string) (Loan, bool, error) {
	if l, ok, err := optcache.Read[Loan](tx, LoanNS(id)); err != nil || ok {
		return l, ok, err
	}
	l, ok, err := optcache.Read[[]Loan](tx, LoansNS())
	if err != nil || !ok {
		return Loan{}, false, err
	}
	loan, found := find(l, id)
	return loan, found, nil
}

// putLoan writes l under id in the detail view and the list.
func putLoan(tx *optcache.Txn, id string, l Loan) error {
	if id == l.ID {
		if err := editCached(tx, LoanNS(id), func(Loan) (Loan, error) { return l, nil }); err != nil {
			return err
		}
	}
	return editList(tx, LoansNS(), func(ls []Loan) []Loan { return upsert(ls, id, l) })
}

var CreateLoan = mutation.Definition[Loan, Loan]{
	Kind:    LoanCreate,
	Entity:  entityLoan,
	Op:      remote.OpCreate,
	Creates: true,
	Affected: func(l Loan) []optcache.Namespace {
		out := []optcache.Namespace{LoansNS()}
		if l.AccountID != "" {
			out = append(out, AccountsNS(), AccountNS(l.AccountID))
		}
		return out
	},
	Scope: func(l Loan) invalidation.Scope { return loanScope("", l.AccountID) },
	Validate: func(l Loan) error {
		p := problems{}
		p.required("counterparty", l.Counterparty)
		p.positive("originalAmount", l.OriginalAmount)
		if l.Direction != Lent && l.Direction != Borrowed {
			p.add("direction", "must be lent or borrowed")
		}
		if l.PaidAmount.IsNegative() || l.PaidAmount.GreaterThan(l.OriginalAmount) {
			p.add("paidAmount", "must be between zero and the original amount")
		}
		return p.err()
	},
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[Loan]) error {
		l := m.Payload
		l.ID = m.TempID
		l.Status = LoanActive
		if err := putLoan(tx, l.ID, l); err != nil {
			return err
		}
		// lending takes money out of the account, borrowing puts it in
		return adjustBalance(tx, l.AccountID, l.cashflow(l.OriginalAmount).Neg())
	},
	Reconcile: func(tx *optcache.Txn, m mutation.Mutation[Loan], got Loan) error {
		if got.ID == "" {
			return mutation.Violation(LoansNS(), "server returned a loan without id")
		}
		if err := checkLoan(got); err != nil {
			return err
		}
		return putLoan(tx, m.TempID, got)
	},
}

// RecordLoanPayment moves the paid amount and the linked account right away.
// Overpaying is the server's call: an overshooting optimistic value is
// discarded by the rollback when the server refuses it.
var RecordLoanPayment = mutation.Definition[LoanRepayment, Loan]{
	Kind:   LoanPayment,
	Entity: entityLoan,
	Op:     opPayments,
	Target: func(p LoanRepayment) string { return p.LoanID },
	Affected: func(p LoanRepayment) []optcache.Namespace {
		out := []optcache.Namespace{LoansNS(), LoanNS(p.LoanID)}
		if p.AccountID != "" {
			out = append(out, AccountsNS(), AccountNS(p.AccountID))
		}
		return out
	},
	Scope: func(p LoanRepayment) invalidation.Scope { return loanScope(p.LoanID, p.AccountID) },
	Validate: func(p LoanRepayment) error {
		ps := problems{}
		ps.required("loanId", p.LoanID)
		ps.positive("amount", p.Amount)
		return ps.err()
	},
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[LoanRepayment]) error {
		p := m.Payload
		l, ok, err := cachedLoan(tx, p.LoanID)
		if err != nil || !ok {
			return err
		}
		l.PaidAmount = l.PaidAmount.Add(p.Amount)
		if !l.Remaining().IsPositive() {
			l.Status = LoanPaid
		}
		if err := putLoan(tx, l.ID, l); err != nil {
			return err
		}
		return adjustBalance(tx, p.AccountID, l.cashflow(p.Amount))
	},
	Reconcile: func(tx *optcache.Txn, m mutation.Mutation[LoanRepayment], got Loan) error {
		if got.ID != m.Payload.LoanID {
			return mutation.Violation(LoanNS(m.Payload.LoanID), "server answered loan %s", got.ID)
		}
		if err := checkLoan(got); err != nil {
			return err
		}
		return putLoan(tx, got.ID, got)
	},
}

var CancelLoan = mutation.Definition[string, Loan]{
	Kind:     LoanCancel,
	Entity:   entityLoan,
	Op:       opCancel,
	Target:   func(id string) string { return id },
	Body:     func(mutation.Mutation[string]) any { return nil },
	Affected: func(id string) []optcache.Namespace { return []optcache.Namespace{LoansNS(), LoanNS(id)} },
	Scope:    func(id string) invalidation.Scope { return loanScope(id, "") },
	Validate: requireID,
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[string]) error {
		l, ok, err := cachedLoan(tx, m.Payload)
		if err != nil || !ok {
			return err
		}
		l.Status = LoanCancelled
		return putLoan(tx, l.ID, l)
	},
	Reconcile: func(tx *optcache.Txn, m mutation.Mutation[string], got Loan) error {
		if got.ID != m.Payload {
			return mutation.Violation(LoanNS(m.Payload), "server answered loan %s", got.ID)
		}
		return putLoan(tx, got.ID, got)
	},
}

var DeleteLoan = mutation.Definition[string, struct{}]{
	Kind:     LoanDelete,
	Entity:   entityLoan,
	Op:       remote.OpDelete,
	Target:   func(id string) string { return id },
	Body:     func(mutation.Mutation[string]) any { return nil },
	Affected: func(id string) []optcache.Namespace { return []optcache.Namespace{LoansNS(), LoanNS(id)} },
	Validate: requireID,
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[string]) error {
		if err := editList(tx, LoansNS(), func(l []Loan) []Loan { return remove(l, m.Payload) }); err != nil {
			return err
		}
		return tx.Delete(LoanNS(m.Payload))
	},
}
