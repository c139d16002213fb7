package finance

import (
	"context"
	"errors"

	"github.com/unkn0wn-root/optcache"
	"github.com/unkn0wn-root/optcache/remote"
)

var ErrNoRoute = errors.New("finance: namespace has no read route")

// Routes maps the read-model entities onto backend paths for remote/rest.
// CRUD entities use the default "<entity>s" path.
var Routes = map[string]string{
	entityTotalBalance:   "accounts/total-balance",
	entityBalanceHistory: "accounts/balance-history",
	entityDashboard:      "dashboard/summary",
	entityBudgetProgress: "budgets/progress",
	entityGroupBalances:  "groups/{id}/balances",
}

const (
	entityTotalBalance   = "total-balance"
	entityBalanceHistory = "balance-history"
	entityDashboard      = "dashboard-summary"
	entityBudgetProgress = "budget-progress"
	entityGroupBalances  = "group-balances"
)

func get(entity, id string) remote.Request {
	return remote.Request{Entity: entity, Op: remote.OpGet, ID: id}
}

func listOf(entity string, query ...string) remote.Request {
	req := remote.Request{Entity: entity, Op: remote.OpList}
	if len(query) == 2 && query[1] != "" {
		req.Query = map[string]string{query[0]: query[1]}
	}
	return req
}

// RequestFor is the read that fills ns. ok=false for kinds the client
// does not know how to fetch.
func RequestFor(ns optcache.Namespace) (remote.Request, bool) {
	p := ns.Params
	switch ns.Kind {
	case KindAccounts:
		return listOf(entityAccount), true
	case KindAccount:
		return get(entityAccount, p.ID), true
	case KindTotalBalance:
		return get(entityTotalBalance, ""), true
	case KindBalanceHistory:
		req := get(entityBalanceHistory, "")
		if p.Period != "" {
			req.Query = map[string]string{"period": p.Period}
		}
		return req, true
	case KindDashboard:
		return get(entityDashboard, ""), true
	case KindTransactions:
		return listOf(entityTransaction), true
	case KindTransactionsByAccount:
		return listOf(entityTransaction, "accountId", p.AccountID), true
	case KindBudgets:
		return listOf(entityBudget), true
	case KindBudget:
		return get(entityBudget, p.ID), true
	case KindBudgetProgress:
		return get(entityBudgetProgress, ""), true
	case KindGroups:
		return listOf(entityGroup), true
	case KindGroup:
		return get(entityGroup, p.ID), true
	case KindGroupBalances:
		return get(entityGroupBalances, p.GroupID), true
	case KindSharedExpenses:
		return listOf(entityExpense), true
	case KindSharedExpense:
		return get(entityExpense, p.ID), true
	case KindGroupExpenses:
		return listOf(entityExpense, "groupId", p.GroupID), true
	case KindLoans:
		return listOf(entityLoan), true
	case KindLoan:
		return get(entityLoan, p.ID), true
	}
	return remote.Request{}, false
}

func fetch[V any](c remote.Client, ns optcache.Namespace) func(context.Context) (V, error) {
	return func(ctx context.Context) (V, error) {
		var v V
		req, ok := RequestFor(ns)
		if !ok {
			return v, &remote.NetworkError{Op: ns.Key(), Err: ErrNoRoute}
		}
		err := c.Request(ctx, req, &v)
		return v, err
	}
}

func fetcherOf[V any](c remote.Client, ns optcache.Namespace) optcache.Fetcher {
	f := fetch[V](c, ns)
	return func(ctx context.Context) (any, error) { return f(ctx) }
}

// Fetchers returns the refetch for each namespace kind, for RefreshStale.
func Fetchers(c remote.Client) func(optcache.Namespace) optcache.Fetcher {
	return func(ns optcache.Namespace) optcache.Fetcher {
		switch ns.Kind {
		case KindAccounts:
			return fetcherOf[[]Account](c, ns)
		case KindAccount:
			return fetcherOf[Account](c, ns)
		case KindTotalBalance:
			return fetcherOf[TotalBalance](c, ns)
		case KindBalanceHistory:
			return fetcherOf[[]BalancePoint](c, ns)
		case KindDashboard:
			return fetcherOf[DashboardSummary](c, ns)
		case KindTransactions, KindTransactionsByAccount:
			return fetcherOf[[]Transaction](c, ns)
		case KindBudgets:
			return fetcherOf[[]Budget](c, ns)
		case KindBudget:
			return fetcherOf[Budget](c, ns)
		case KindBudgetProgress:
			return fetcherOf[[]BudgetProgress](c, ns)
		case KindGroups:
			return fetcherOf[[]Group](c, ns)
		case KindGroup:
			return fetcherOf[Group](c, ns)
		case KindGroupBalances:
			return fetcherOf[GroupBalances](c, ns)
		case KindSharedExpenses, KindGroupExpenses:
			return fetcherOf[[]SharedExpense](c, ns)
		case KindSharedExpense:
			return fetcherOf[SharedExpense](c, ns)
		case KindLoans:
			return fetcherOf[[]Loan](c, ns)
		case KindLoan:
			return fetcherOf[Loan](c, ns)
		}
		return nil
	}
}

// Reader serves the views: cached values while Fresh, a refetch otherwise.
type Reader struct {
	store  optcache.Store
	client remote.Client
}

func NewReader(s optcache.Store, c remote.Client) Reader { return Reader{store: s, client: c} }

func load[V any](ctx context.Context, r Reader, ns optcache.Namespace) (V, error) {
	return optcache.NewView[V](r.store).Load(ctx, ns, fetch[V](r.client, ns))
}

func (r Reader) Accounts(ctx context.Context) ([]Account, error) {
	return load[[]Account](ctx, r, AccountsNS())
}

func (r Reader) Account(ctx context.Context, id string) (Account, error) {
	return load[Account](ctx, r, AccountNS(id))
}

func (r Reader) TotalBalance(ctx context.Context) (TotalBalance, error) {
	return load[TotalBalance](ctx, r, TotalBalanceNS())
}

func (r Reader) BalanceHistory(ctx context.Context, period string) ([]BalancePoint, error) {
	return load[[]BalancePoint](ctx, r, BalanceHistoryNS(period))
}

func (r Reader) Dashboard(ctx context.Context) (DashboardSummary, error) {
	return load[DashboardSummary](ctx, r, DashboardNS())
}

func (r Reader) Transactions(ctx context.Context) ([]Transaction, error) {
	return load[[]Transaction](ctx, r, TransactionsNS())
}

func (r Reader) AccountTransactions(ctx context.Context, accountID string) ([]Transaction, error) {
	return load[[]Transaction](ctx, r, TransactionsByAccountNS(accountID))
}

func (r Reader) Budgets(ctx context.Context) ([]Budget, error) {
	return load[[]Budget](ctx, r, BudgetsNS())
}

func (r Reader) Budget(ctx context.Context, id string) (Budget, error) {
	return load[Budget](ctx, r, BudgetNS(id))
}

func (r Reader) BudgetProgress(ctx context.Context) ([]BudgetProgress, error) {
	return load[[]BudgetProgress](ctx, r, BudgetProgressNS())
}

func (r Reader) Groups(ctx context.Context) ([]Group, error) {
	return load[[]Group](ctx, r, GroupsNS())
}

func (r Reader) Group(ctx context.Context, id string) (Group, error) {
	return load[Group](ctx, r, GroupNS(id))
}

func (r Reader) GroupBalances(ctx context.Context, groupID string) (GroupBalances, error) {
	return load[GroupBalances](ctx, r, GroupBalancesNS(groupID))
}

func (r Reader) SharedExpenses(ctx context.Context) ([]SharedExpense, error) {
	return load[[]SharedExpense](ctx, r, SharedExpensesNS())
}

func (r Reader) SharedExpense(ctx context.Context, id string) (SharedExpense, error) {
	return load[SharedExpense](ctx, r, SharedExpenseNS(id))
}

func (r Reader) GroupExpenses(ctx context.Context, groupID string) ([]SharedExpense, error) {
	return load[[]SharedExpense](ctx, r, GroupExpensesNS(groupID))
}

func (r Reader) Loans(ctx context.Context) ([]Loan, error) {
	return load[[]Loan](ctx, r, LoansNS())
}

func (r Reader) Loan(ctx context.Context, id string) (Loan, error) {
	return load[Loan](ctx, r, LoanNS(id))
}

// RefreshStale refetches every stale namespace, limit at a time.
func (r Reader) RefreshStale(ctx context.Context, limit int) error {
	return r.store.RefreshStale(ctx, Fetchers(r.client), limit)
}
