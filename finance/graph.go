package finance

import (
	"github.com/unkn0wn-root/optcache"
	"github.com/unkn0wn-root/optcache/invalidation"
)

const (
	AccountCreate invalidation.Kind = "account.create"
	AccountUpdate invalidation.Kind = "account.update"
	AccountDelete invalidation.Kind = "account.delete"

	BudgetCreate invalidation.Kind = "budget.create"
	BudgetUpdate invalidation.Kind = "budget.update"
	BudgetDelete invalidation.Kind = "budget.delete"

	GroupCreate       invalidation.Kind = "group.create"
	GroupUpdate       invalidation.Kind = "group.update"
	GroupDelete       invalidation.Kind = "group.delete"
	GroupAddMember    invalidation.Kind = "group.add_member"
	GroupRemoveMember invalidation.Kind = "group.remove_member"
	GroupSettle       invalidation.Kind = "group.settle"

	ExpenseCreate  invalidation.Kind = "expense.create"
	ExpenseUpdate  invalidation.Kind = "expense.update"
	ExpenseDelete  invalidation.Kind = "expense.delete"
	ExpenseSetPaid invalidation.Kind = "expense.set_paid"

	TransactionCreate     invalidation.Kind = "transaction.create"
	TransactionUpdate     invalidation.Kind = "transaction.update"
	TransactionDelete     invalidation.Kind = "transaction.delete"
	TransactionBulkDelete invalidation.Kind = "transaction.bulk_delete"

	LoanCreate  invalidation.Kind = "loan.create"
	LoanPayment invalidation.Kind = "loan.payment"
	LoanCancel  invalidation.Kind = "loan.cancel"
	LoanDelete  invalidation.Kind = "loan.delete"
)

// MutationKinds lists every mutation the coordinator knows. Graph must have
// a row for each.
var MutationKinds = []invalidation.Kind{
	AccountCreate, AccountUpdate, AccountDelete,
	BudgetCreate, BudgetUpdate, BudgetDelete,
	GroupCreate, GroupUpdate, GroupDelete, GroupAddMember, GroupRemoveMember, GroupSettle,
	ExpenseCreate, ExpenseUpdate, ExpenseDelete, ExpenseSetPaid,
	TransactionCreate, TransactionUpdate, TransactionDelete, TransactionBulkDelete,
	LoanCreate, LoanPayment, LoanCancel, LoanDelete,
}

func plain(k optcache.Kind) invalidation.Pattern { return invalidation.Pattern{Kind: k} }
func every(k optcache.Kind) invalidation.Pattern { return invalidation.Pattern{Kind: k, All: true} }

func by(k optcache.Kind, f, from optcache.Field) invalidation.Pattern {
	return invalidation.Pattern{Kind: k, Field: f, From: from}
}

func row(k invalidation.Kind, ps ...invalidation.Pattern) invalidation.Rule {
	return invalidation.Rule{Kind: k, Patterns: ps}
}

var (
	accountByScope = by(KindAccount, optcache.FieldID, optcache.FieldAccountID)
	accountTxns    = by(KindTransactionsByAccount, optcache.FieldAccountID, optcache.FieldNone)
	groupBalances  = by(KindGroupBalances, optcache.FieldGroupID, optcache.FieldNone)
	groupExpenses  = by(KindGroupExpenses, optcache.FieldGroupID, optcache.FieldNone)
	groupByScope   = by(KindGroup, optcache.FieldID, optcache.FieldGroupID)
)

// money is what every change to an account balance makes stale.
var money = []invalidation.Pattern{
	plain(KindAccounts), accountByScope, accountTxns,
	plain(KindTotalBalance), plain(KindDashboard), every(KindBalanceHistory), plain(KindBudgetProgress),
}

func with(base []invalidation.Pattern, extra ...invalidation.Pattern) []invalidation.Pattern {
	return append(append([]invalidation.Pattern(nil), base...), extra...)
}

// Graph is the invalidation table of the finance client. Parameterized rows
// bind from the Scope each definition derives from its payload.
var Graph = invalidation.MustGraph(MutationKinds,
	row(AccountCreate, plain(KindAccounts), plain(KindTotalBalance), plain(KindDashboard), every(KindBalanceHistory)),
	row(AccountUpdate, plain(KindAccounts), by(KindAccount, optcache.FieldID, optcache.FieldNone),
		plain(KindTotalBalance), plain(KindDashboard)),
	// the transfer target (AccountID scope) receives the deleted account's transactions
	invalidation.Rule{Kind: AccountDelete, Patterns: with(money, plain(KindTransactions))},

	row(BudgetCreate, plain(KindBudgets), plain(KindBudgetProgress), plain(KindDashboard)),
	row(BudgetUpdate, plain(KindBudgets), by(KindBudget, optcache.FieldID, optcache.FieldNone),
		plain(KindBudgetProgress), plain(KindDashboard)),
	row(BudgetDelete, plain(KindBudgets), plain(KindBudgetProgress), plain(KindDashboard)),

	row(GroupCreate, plain(KindGroups)),
	row(GroupUpdate, plain(KindGroups), groupByScope),
	row(GroupDelete, plain(KindGroups), plain(KindSharedExpenses), plain(KindDashboard)),
	row(GroupAddMember, plain(KindGroups), groupByScope, groupBalances),
	row(GroupRemoveMember, plain(KindGroups), groupByScope, groupBalances, groupExpenses),
	row(GroupSettle, plain(KindGroups), groupBalances, groupExpenses, plain(KindSharedExpenses),
		plain(KindTransactions), plain(KindAccounts), accountByScope, plain(KindDashboard)),

	row(ExpenseCreate, plain(KindSharedExpenses), groupExpenses, groupBalances, plain(KindGroups), plain(KindDashboard)),
	row(ExpenseUpdate, plain(KindSharedExpenses), by(KindSharedExpense, optcache.FieldID, optcache.FieldNone),
		groupExpenses, groupBalances, plain(KindGroups), plain(KindDashboard)),
	row(ExpenseDelete, plain(KindSharedExpenses), groupExpenses, groupBalances, plain(KindGroups), plain(KindDashboard)),
	row(ExpenseSetPaid, plain(KindSharedExpenses), by(KindSharedExpense, optcache.FieldID, optcache.FieldNone),
		groupExpenses, groupBalances, plain(KindDashboard)),

	invalidation.Rule{Kind: TransactionCreate, Patterns: money},
	invalidation.Rule{Kind: TransactionUpdate, Patterns: money},
	invalidation.Rule{Kind: TransactionDelete, Patterns: money},
	invalidation.Rule{Kind: TransactionBulkDelete, Patterns: with(money, every(KindAccount), every(KindTransactionsByAccount))},

	row(LoanCreate, plain(KindLoans), plain(KindDashboard), plain(KindAccounts), accountByScope, plain(KindTotalBalance)),
	invalidation.Rule{Kind: LoanPayment, Patterns: with(money,
		plain(KindLoans), by(KindLoan, optcache.FieldID, optcache.FieldNone), plain(KindTransactions))},
	row(LoanCancel, plain(KindLoans), by(KindLoan, optcache.FieldID, optcache.FieldNone), plain(KindDashboard)),
	row(LoanDelete, plain(KindLoans), plain(KindDashboard)),
)
