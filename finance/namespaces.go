package finance

import "github.com/unkn0wn-root/optcache"

const (
	KindAccounts              optcache.Kind = "accounts"
	KindAccount               optcache.Kind = "account"
	KindTotalBalance          optcache.Kind = "total-balance"
	KindBalanceHistory        optcache.Kind = "balance-history"
	KindDashboard             optcache.Kind = "dashboard-summary"
	KindTransactions          optcache.Kind = "transactions"
	KindTransactionsByAccount optcache.Kind = "transactions-by-account"
	KindBudgets               optcache.Kind = "budgets"
	KindBudget                optcache.Kind = "budget"
	KindBudgetProgress        optcache.Kind = "budget-progress"
	KindGroups                optcache.Kind = "groups"
	KindGroup                 optcache.Kind = "group"
	KindGroupBalances         optcache.Kind = "group-balances"
	KindSharedExpenses        optcache.Kind = "shared-expenses"
	KindSharedExpense         optcache.Kind = "shared-expense"
	KindGroupExpenses         optcache.Kind = "group-expenses"
	KindLoans                 optcache.Kind = "loans"
	KindLoan                  optcache.Kind = "loan"
)

func AccountsNS() optcache.Namespace         { return optcache.NS(KindAccounts) }
func AccountNS(id string) optcache.Namespace { return optcache.NSWith(KindAccount, optcache.FieldID, id) }
func TotalBalanceNS() optcache.Namespace     { return optcache.NS(KindTotalBalance) }
func DashboardNS() optcache.Namespace        { return optcache.NS(KindDashboard) }
func TransactionsNS() optcache.Namespace     { return optcache.NS(KindTransactions) }
func BudgetsNS() optcache.Namespace          { return optcache.NS(KindBudgets) }
func BudgetNS(id string) optcache.Namespace  { return optcache.NSWith(KindBudget, optcache.FieldID, id) }
func BudgetProgressNS() optcache.Namespace   { return optcache.NS(KindBudgetProgress) }
func GroupsNS() optcache.Namespace           { return optcache.NS(KindGroups) }
func GroupNS(id string) optcache.Namespace   { return optcache.NSWith(KindGroup, optcache.FieldID, id) }
func SharedExpensesNS() optcache.Namespace   { return optcache.NS(KindSharedExpenses) }
func LoansNS() optcache.Namespace            { return optcache.NS(KindLoans) }
func LoanNS(id string) optcache.Namespace    { return optcache.NSWith(KindLoan, optcache.FieldID, id) }

// BalanceHistoryNS is the balance series for a period ("30d", "1y"); "" is
// the default period.
func BalanceHistoryNS(period string) optcache.Namespace {
	return optcache.NSWith(KindBalanceHistory, optcache.FieldPeriod, period)
}

func TransactionsByAccountNS(accountID string) optcache.Namespace {
	return optcache.NSWith(KindTransactionsByAccount, optcache.FieldAccountID, accountID)
}

func GroupBalancesNS(groupID string) optcache.Namespace {
	return optcache.NSWith(KindGroupBalances, optcache.FieldGroupID, groupID)
}

func SharedExpenseNS(id string) optcache.Namespace {
	return optcache.NSWith(KindSharedExpense, optcache.FieldID, id)
}

func GroupExpensesNS(groupID string) optcache.Namespace {
	return optcache.NSWith(KindGroupExpenses, optcache.FieldGroupID, groupID)
}
