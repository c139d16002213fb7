// Package finance wires the personal-finance entities onto the optimistic
// mutation executor: namespaces, the invalidation graph, one Definition per
// mutation kind and a Coordinator with a method for each.
//
// Every Definition is exported so callers can also start mutations with
// mutation.Go and keep the Pending handle:
//
//	p := mutation.Go(ctx, coord.Executor(), finance.CreateTransaction, t)
package finance

import (
	"context"
	"time"

	"github.com/unkn0wn-root/optcache"
	"github.com/unkn0wn-root/optcache/mutation"
	"github.com/unkn0wn-root/optcache/remote"
)

type Options struct {
	Store  optcache.Store // required
	Client remote.Client  // required

	Logger optcache.Logger
	Hooks  optcache.Hooks
	NewID  func() string
	Now    func() time.Time
}

// Coordinator runs every finance mutation against one store.
type Coordinator struct {
	ex     *mutation.Executor
	reader Reader
}

func NewCoordinator(opts Options) (*Coordinator, error) {
	ex, err := mutation.NewExecutor(mutation.Options{
		Store:  opts.Store,
		Client: opts.Client,
		Graph:  Graph,
		NewID:  opts.NewID,
		Logger: opts.Logger,
		Hooks:  opts.Hooks,
		Now:    opts.Now,
	})
	if err != nil {
		return nil, err
	}
	return &Coordinator{ex: ex, reader: NewReader(opts.Store, opts.Client)}, nil
}

func (c *Coordinator) Executor() *mutation.Executor { return c.ex }
func (c *Coordinator) Reader() Reader               { return c.reader }

// Accounts

func (c *Coordinator) CreateAccount(ctx context.Context, a Account) (Account, error) {
	return mutation.Execute(ctx, c.ex, CreateAccount, a)
}

func (c *Coordinator) UpdateAccount(ctx context.Context, ch AccountChange) (Account, error) {
	return mutation.Execute(ctx, c.ex, UpdateAccount, ch)
}

// DeleteAccount removes an account. Use TransactionCount on the error to
// re-prompt for a transfer target.
func (c *Coordinator) DeleteAccount(ctx context.Context, id, transferTo string) error {
	_, err := mutation.Execute(ctx, c.ex, DeleteAccount, AccountRemoval{ID: id, TransferTo: transferTo})
	return err
}

// Budgets

func (c *Coordinator) CreateBudget(ctx context.Context, b Budget) (Budget, error) {
	return mutation.Execute(ctx, c.ex, CreateBudget, b)
}

func (c *Coordinator) UpdateBudget(ctx context.Context, b Budget) (Budget, error) {
	return mutation.Execute(ctx, c.ex, UpdateBudget, b)
}

func (c *Coordinator) DeleteBudget(ctx context.Context, id string) error {
	_, err := mutation.Execute(ctx, c.ex, DeleteBudget, id)
	return err
}

// Groups

func (c *Coordinator) CreateGroup(ctx context.Context, g Group) (Group, error) {
	return mutation.Execute(ctx, c.ex, CreateGroup, g)
}

func (c *Coordinator) RenameGroup(ctx context.Context, id, name string) (Group, error) {
	return mutation.Execute(ctx, c.ex, UpdateGroup, GroupRename{ID: id, Name: name})
}

func (c *Coordinator) DeleteGroup(ctx context.Context, id string) error {
	_, err := mutation.Execute(ctx, c.ex, DeleteGroup, id)
	return err
}

func (c *Coordinator) AddMember(ctx context.Context, groupID, name string) (Member, error) {
	return mutation.Execute(ctx, c.ex, AddMember, NewMember{GroupID: groupID, Name: name})
}

func (c *Coordinator) RemoveMember(ctx context.Context, groupID, memberID string) error {
	_, err := mutation.Execute(ctx, c.ex, RemoveMember, MemberRef{GroupID: groupID, MemberID: memberID})
	return err
}

func (c *Coordinator) Settle(ctx context.Context, s Settlement) (GroupBalances, error) {
	return mutation.Execute(ctx, c.ex, SettleGroup, s)
}

// Shared expenses

func (c *Coordinator) CreateExpense(ctx context.Context, e SharedExpense) (SharedExpense, error) {
	return mutation.Execute(ctx, c.ex, CreateExpense, e)
}

func (c *Coordinator) UpdateExpense(ctx context.Context, e SharedExpense) (SharedExpense, error) {
	return mutation.Execute(ctx, c.ex, UpdateExpense, e)
}

func (c *Coordinator) DeleteExpense(ctx context.Context, id, groupID string) error {
	_, err := mutation.Execute(ctx, c.ex, DeleteExpense, ExpenseRef{ID: id, GroupID: groupID})
	return err
}

func (c *Coordinator) SetParticipantPaid(ctx context.Context, p ParticipantPaid) (SharedExpense, error) {
	return mutation.Execute(ctx, c.ex, SetParticipantPaid, p)
}

// Transactions

func (c *Coordinator) CreateTransaction(ctx context.Context, t Transaction) (Transaction, error) {
	return mutation.Execute(ctx, c.ex, CreateTransaction, t)
}

func (c *Coordinator) UpdateTransaction(ctx context.Context, before, after Transaction) (Transaction, error) {
	return mutation.Execute(ctx, c.ex, UpdateTransaction, TransactionChange{Before: before, After: after})
}

func (c *Coordinator) DeleteTransaction(ctx context.Context, t Transaction) error {
	_, err := mutation.Execute(ctx, c.ex, DeleteTransaction, t)
	return err
}

func (c *Coordinator) BulkDeleteTransactions(ctx context.Context, ids ...string) (int, error) {
	res, err := mutation.Execute(ctx, c.ex, BulkDeleteTransactions, BulkDelete{IDs: ids})
	return res.Deleted, err
}

// Loans

func (c *Coordinator) CreateLoan(ctx context.Context, l Loan) (Loan, error) {
	return mutation.Execute(ctx, c.ex, CreateLoan, l)
}

func (c *Coordinator) RecordLoanPayment(ctx context.Context, p LoanRepayment) (Loan, error) {
	return mutation.Execute(ctx, c.ex, RecordLoanPayment, p)
}

func (c *Coordinator) CancelLoan(ctx context.Context, id string) (Loan, error) {
	return mutation.Execute(ctx, c.ex, CancelLoan, id)
}

func (c *Coordinator) DeleteLoan(ctx context.Context, id string) error {
	_, err := mutation.Execute(ctx, c.ex, DeleteLoan, id)
	return err
}
