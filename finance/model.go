package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountType string

const (
	Checking   AccountType = "checking"
	Savings    AccountType = "savings"
	Credit     AccountType = "credit"
	Cash       AccountType = "cash"
	Investment AccountType = "investment"
)

type Account struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Type     AccountType     `json:"type"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
	Archived bool            `json:"archived,omitempty"`
}

func (a Account) EntityID() string { return a.ID }

type TransactionType string

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

type Transaction struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"accountId"`
	Type        TransactionType `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category,omitempty"`
	Description string          `json:"description,omitempty"`
	Date        time.Time       `json:"date"`
}

func (t Transaction) EntityID() string { return t.ID }

// Signed is the effect on the account balance: income adds, expense subtracts.
func (t Transaction) Signed() decimal.Decimal {
	if t.Type == Expense {
		return t.Amount.Neg()
	}
	return t.Amount
}

type Budget struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Limit    decimal.Decimal `json:"limit"`
	Period   string          `json:"period"` // "monthly", "weekly", ...
}

func (b Budget) EntityID() string { return b.ID }

// BudgetProgress is budget-vs-actual, computed by the server.
type BudgetProgress struct {
	BudgetID string          `json:"budgetId"`
	Spent    decimal.Decimal `json:"spent"`
	Limit    decimal.Decimal `json:"limit"`
}

type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (m Member) EntityID() string { return m.ID }

type Group struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []Member `json:"members"`
}

func (g Group) EntityID() string { return g.ID }

// MemberBalance: positive => the member is owed money, negative => owes.
type MemberBalance struct {
	MemberID string          `json:"memberId"`
	Balance  decimal.Decimal `json:"balance"`
}

type GroupBalances struct {
	GroupID  string          `json:"groupId"`
	Balances []MemberBalance `json:"balances"`
}

// Sum of all member balances; zero for a consistent group.
func (g GroupBalances) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, b := range g.Balances {
		sum = sum.Add(b.Balance)
	}
	return sum
}

type Participant struct {
	MemberID   string          `json:"memberId"`
	AmountOwed decimal.Decimal `json:"amountOwed"`
	Paid       bool            `json:"paid"`
}

type SharedExpense struct {
	ID           string          `json:"id"`
	GroupID      string          `json:"groupId"`
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
	PaidBy       string          `json:"paidBy"`
	Participants []Participant   `json:"participants"`
	Date         time.Time       `json:"date"`
}

func (e SharedExpense) EntityID() string { return e.ID }

// Owed is the sum of participant shares; equal to Amount for a consistent expense.
func (e SharedExpense) Owed() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range e.Participants {
		sum = sum.Add(p.AmountOwed)
	}
	return sum
}

type LoanDirection string

const (
	Lent     LoanDirection = "lent"
	Borrowed LoanDirection = "borrowed"
)

type LoanStatus string

const (
	LoanActive    LoanStatus = "active"
	LoanPaid      LoanStatus = "paid"
	LoanCancelled LoanStatus = "cancelled"
)

type Loan struct {
	ID             string          `json:"id"`
	Counterparty   string          `json:"counterparty"`
	Direction      LoanDirection   `json:"direction"`
	OriginalAmount decimal.Decimal `json:"originalAmount"`
	PaidAmount     decimal.Decimal `json:"paidAmount"`
	AccountID      string          `json:"accountId,omitempty"`
	Status         LoanStatus      `json:"status"`
}

func (l Loan) EntityID() string { return l.ID }

func (l Loan) Remaining() decimal.Decimal { return l.OriginalAmount.Sub(l.PaidAmount) }

// cashflow is the sign a repayment has on the linked account: receiving money
// back on a lent loan credits it, paying down a borrowed loan debits it.
func (l Loan) cashflow(amount decimal.Decimal) decimal.Decimal {
	if l.Direction == Borrowed {
		return amount.Neg()
	}
	return amount
}

type BalancePoint struct {
	Date    time.Time       `json:"date"`
	Balance decimal.Decimal `json:"balance"`
}

type DashboardSummary struct {
	TotalBalance   decimal.Decimal `json:"totalBalance"`
	MonthIncome    decimal.Decimal `json:"monthIncome"`
	MonthExpense   decimal.Decimal `json:"monthExpense"`
	BudgetsOver    int             `json:"budgetsOver"`
	OpenLoans      int             `json:"openLoans"`
	GroupsOwedToMe decimal.Decimal `json:"groupsOwedToMe"`
}

// TotalBalance is the cached value of the total-balance namespace.
type TotalBalance struct {
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency,omitempty"`
}
