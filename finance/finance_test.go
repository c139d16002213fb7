package finance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/unkn0wn-root/optcache"
	"github.com/unkn0wn-root/optcache/mutation"
	"github.com/unkn0wn-root/optcache/remote"
	"github.com/unkn0wn-root/optcache/remote/remotetest"
)

var ctx = context.Background()

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type fixture struct {
	t      *testing.T
	store  optcache.Store
	client *remotetest.Client
	coord  *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := optcache.New(optcache.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	var n atomic.Int64
	client := remotetest.New()
	coord, err := NewCoordinator(Options{
		Store:  s,
		Client: client,
		NewID:  func() string { return fmt.Sprintf("id%d", n.Add(1)) },
	})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	return &fixture{t: t, store: s, client: client, coord: coord}
}

func (f *fixture) seed(ns optcache.Namespace, v any) {
	f.t.Helper()
	if err := f.store.Set(ctx, ns, v); err != nil {
		f.t.Fatalf("seed %s: %v", ns, err)
	}
}

// seedAccounts caches accounts A (100) and B (20) with empty transaction lists.
func (f *fixture) seedAccounts() {
	a := Account{ID: "A", Name: "Checking", Type: Checking, Currency: "EUR", Balance: dec(100)}
	b := Account{ID: "B", Name: "Savings", Type: Savings, Currency: "EUR", Balance: dec(20)}
	f.seed(AccountsNS(), []Account{a, b})
	f.seed(AccountNS("A"), a)
	f.seed(AccountNS("B"), b)
	f.seed(TransactionsNS(), []Transaction{})
	f.seed(TransactionsByAccountNS("A"), []Transaction{})
	f.seed(DashboardNS(), DashboardSummary{TotalBalance: dec(120)})
}

func (f *fixture) entries(nss ...optcache.Namespace) map[optcache.Namespace]optcache.Entry {
	f.t.Helper()
	out := make(map[optcache.Namespace]optcache.Entry, len(nss))
	for _, ns := range nss {
		e, ok, err := f.store.Get(ctx, ns)
		if err != nil {
			f.t.Fatalf("Get %s: %v", ns, err)
		}
		if ok {
			out[ns] = e
		}
	}
	return out
}

func (f *fixture) assertUnchanged(before map[optcache.Namespace]optcache.Entry, nss ...optcache.Namespace) {
	f.t.Helper()
	after := f.entries(nss...)
	for _, ns := range nss {
		b, hadB := before[ns]
		a, hasA := after[ns]
		if hadB != hasA {
			f.t.Fatalf("%s presence changed: before=%v after=%v", ns, hadB, hasA)
		}
		if hadB && !b.Equal(a) {
			f.t.Fatalf("%s changed:\nbefore %+v\nafter  %+v", ns, b, a)
		}
	}
}

func read[V any](t *testing.T, s optcache.Store, ns optcache.Namespace) (V, optcache.Entry) {
	t.Helper()
	v, e, ok, err := optcache.NewView[V](s).Get(ctx, ns)
	if err != nil || !ok {
		t.Fatalf("read %s: ok=%v err=%v", ns, ok, err)
	}
	return v, e
}

func echoTxn(id string) remotetest.Handler {
	return func(_ context.Context, req remote.Request) (any, error) {
		t := req.Payload.(Transaction)
		t.ID = id
		return t, nil
	}
}

func income(account string, amount int64) Transaction {
	return Transaction{AccountID: account, Type: Income, Amount: dec(amount), Category: "salary"}
}

// ==============================
// Example scenarios
// ==============================

func TestCreateTransactionAppliesThenReconciles(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts()
	gate := f.client.Hold(entityTransaction, remote.OpCreate)
	f.client.On(entityTransaction, remote.OpCreate, echoTxn("tx-9"))

	p := mutation.Go(ctx, f.coord.Executor(), CreateTransaction, income("A", 50))

	acc, _ := read[Account](t, f.store, AccountNS("A"))
	if !acc.Balance.Equal(dec(150)) {
		t.Fatalf("optimistic balance: got %s want 150", acc.Balance)
	}
	list, _ := read[[]Transaction](t, f.store, TransactionsNS())
	if len(list) != 1 || !f.coord.Executor().IsTempID(list[0].ID) {
		t.Fatalf("optimistic list: %+v", list)
	}
	tempID := list[0].ID
	if got := p.Phase(); got != mutation.AwaitingServer {
		t.Fatalf("phase: got %s want awaiting-server", got)
	}

	<-gate.Arrived()
	gate.Release()
	got, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got.ID != "tx-9" {
		t.Fatalf("server result: %+v", got)
	}

	for _, ns := range []optcache.Namespace{TransactionsNS(), TransactionsByAccountNS("A")} {
		list, _ := read[[]Transaction](t, f.store, ns)
		if len(list) != 1 || list[0].ID != "tx-9" {
			t.Fatalf("%s after reconcile: %+v", ns, list)
		}
		if _, ok := find(list, tempID); ok {
			t.Fatalf("%s still holds temp id %s", ns, tempID)
		}
	}
	if _, e := read[DashboardSummary](t, f.store, DashboardNS()); e.State != optcache.Stale {
		t.Fatalf("dashboard state: got %s want stale", e.State)
	}
	acc, e := read[Account](t, f.store, AccountNS("A"))
	if !acc.Balance.Equal(dec(150)) || e.State != optcache.Stale {
		t.Fatalf("account after success: balance=%s state=%s", acc.Balance, e.State)
	}
}

func TestServerRehomedTransactionStalesBookedAccount(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts()
	f.seed(TransactionsByAccountNS("B"), []Transaction{})
	f.client.On(entityTransaction, remote.OpCreate, func(_ context.Context, req remote.Request) (any, error) {
		tx := req.Payload.(Transaction)
		tx.ID, tx.AccountID = "tx-9", "B"
		return tx, nil
	})

	if _, err := f.coord.CreateTransaction(ctx, income("A", 50)); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	if acc, _ := read[Account](t, f.store, AccountNS("A")); !acc.Balance.Equal(dec(100)) {
		t.Fatalf("requested account should lose the optimistic credit, got %s", acc.Balance)
	}
	acc, e := read[Account](t, f.store, AccountNS("B"))
	if !acc.Balance.Equal(dec(70)) || e.State != optcache.Stale {
		t.Fatalf("booked account: balance=%s state=%s", acc.Balance, e.State)
	}
	list, e := read[[]Transaction](t, f.store, TransactionsByAccountNS("B"))
	if len(list) != 1 || list[0].ID != "tx-9" || e.State != optcache.Stale {
		t.Fatalf("booked account list: %+v state=%s", list, e.State)
	}
	if list, _ := read[[]Transaction](t, f.store, TransactionsByAccountNS("A")); len(list) != 0 {
		t.Fatalf("requested account list should be empty: %+v", list)
	}
}

func TestRejectedTransactionRollsBack(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts()
	affected := CreateTransaction.Affected(income("A", 50))
	before := f.entries(append(affected, DashboardNS())...)

	gate := f.client.Hold(entityTransaction, remote.OpCreate)
	f.client.Fail(entityTransaction, remote.OpCreate, &remote.ValidationError{
		Fields: map[string][]string{"amount": {"exceeds the daily limit"}},
	})

	p := mutation.Go(ctx, f.coord.Executor(), CreateTransaction, income("A", 50))
	if acc, _ := read[Account](t, f.store, AccountNS("A")); !acc.Balance.Equal(dec(150)) {
		t.Fatalf("optimistic balance: got %s", acc.Balance)
	}
	gate.Release()

	_, err := p.Wait(ctx)
	if mutation.OutcomeOf(err) != mutation.Validation {
		t.Fatalf("outcome: got %s (%v)", mutation.OutcomeOf(err), err)
	}
	var ve *remote.ValidationError
	if !errors.As(err, &ve) || len(ve.Fields["amount"]) != 1 {
		t.Fatalf("expected field errors through the failure, got %v", err)
	}

	acc, _ := read[Account](t, f.store, AccountNS("A"))
	if !acc.Balance.Equal(dec(100)) {
		t.Fatalf("balance after rollback: got %s want 100", acc.Balance)
	}
	if list, _ := read[[]Transaction](t, f.store, TransactionsNS()); len(list) != 0 {
		t.Fatalf("temp transaction survived rollback: %+v", list)
	}
	// no invalidation on failure either
	f.assertUnchanged(before, append(affected, DashboardNS())...)
}

func TestConcurrentCreatesConvergeOnServerBalance(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts()

	var (
		mu      sync.Mutex
		balance = dec(100)
		next    = 0
	)
	f.client.On(entityTransaction, remote.OpCreate, func(_ context.Context, req remote.Request) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		tx := req.Payload.(Transaction)
		next++
		tx.ID = fmt.Sprintf("tx-%d", next)
		balance = balance.Add(tx.Signed())
		return tx, nil
	})
	f.client.On(entityAccount, remote.OpGet, func(_ context.Context, req remote.Request) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		return Account{ID: req.ID, Name: "Checking", Type: Checking, Currency: "EUR", Balance: balance}, nil
	})
	g1 := f.client.Hold(entityTransaction, remote.OpCreate)
	g2 := f.client.Hold(entityTransaction, remote.OpCreate)

	p1 := mutation.Go(ctx, f.coord.Executor(), CreateTransaction, income("A", 50))
	p2 := mutation.Go(ctx, f.coord.Executor(), CreateTransaction, income("A", 30))

	if acc, _ := read[Account](t, f.store, AccountNS("A")); !acc.Balance.Equal(dec(180)) {
		t.Fatalf("both pending: got %s want 180", acc.Balance)
	}
	if n := f.coord.Executor().InFlight(); n != 2 {
		t.Fatalf("in flight: got %d want 2", n)
	}

	g2.Release()
	g1.Release()
	if _, err := p1.Wait(ctx); err != nil {
		t.Fatalf("p1: %v", err)
	}
	if _, err := p2.Wait(ctx); err != nil {
		t.Fatalf("p2: %v", err)
	}
	if err := f.coord.Executor().Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if _, e := read[Account](t, f.store, AccountNS("A")); e.State != optcache.Stale {
		t.Fatalf("account after both settled: state %s", e.State)
	}
	acc, err := f.coord.Reader().Account(ctx, "A")
	if err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if !acc.Balance.Equal(dec(180)) {
		t.Fatalf("refetched balance: got %s want 180", acc.Balance)
	}
	if _, e := read[Account](t, f.store, AccountNS("A")); e.State != optcache.Fresh {
		t.Fatalf("account after refetch: state %s", e.State)
	}
	list, _ := read[[]Transaction](t, f.store, TransactionsByAccountNS("A"))
	if len(list) != 2 {
		t.Fatalf("account transactions: %+v", list)
	}
	for _, tx := range list {
		if f.coord.Executor().IsTempID(tx.ID) {
			t.Fatalf("temp id left behind: %+v", list)
		}
	}
}

func TestDeleteAccountConflictThenTransfer(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts()
	f.client.On(entityAccount, remote.OpDelete, func(_ context.Context, req remote.Request) (any, error) {
		if req.Payload.(AccountRemoval).TransferTo == "" {
			return nil, &remote.ConflictError{
				Message: "account has transactions",
				Details: map[string]any{"transactionCount": float64(12)},
			}
		}
		return struct{}{}, nil
	})

	nss := DeleteAccount.Affected(AccountRemoval{ID: "A"})
	before := f.entries(nss...)

	err := f.coord.DeleteAccount(ctx, "A", "")
	if mutation.OutcomeOf(err) != mutation.Conflict {
		t.Fatalf("outcome: got %s (%v)", mutation.OutcomeOf(err), err)
	}
	n, ok := TransactionCount(err)
	if !ok || n != 12 {
		t.Fatalf("transactionCount: got %d ok=%v", n, ok)
	}
	f.assertUnchanged(before, nss...)
	if list, _ := read[[]Account](t, f.store, AccountsNS()); len(list) != 2 {
		t.Fatalf("account list after conflict: %+v", list)
	}

	// caller re-prompts and retries with a transfer target
	if err := f.coord.DeleteAccount(ctx, "A", "B"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if _, ok, _ := f.store.Get(ctx, AccountNS("A")); ok {
		t.Fatalf("account A still cached after delete")
	}
	list, _ := read[[]Account](t, f.store, AccountsNS())
	if _, ok := find(list, "A"); ok {
		t.Fatalf("account A still listed: %+v", list)
	}
	if _, e := read[Account](t, f.store, AccountNS("B")); e.State != optcache.Stale {
		t.Fatalf("transfer target should be stale, got %s", e.State)
	}
}

// ==============================
// Background poll vs optimistic write
// ==============================

func TestPollDoesNotClobberPendingOptimisticWrite(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts()
	gate := f.client.Hold(entityTransaction, remote.OpCreate)
	f.client.On(entityTransaction, remote.OpCreate, echoTxn("tx-1"))

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := f.store.Refresh(ctx, AccountNS("A"), func(context.Context) (any, error) {
			close(started)
			<-release
			return Account{ID: "A", Name: "Checking", Type: Checking, Currency: "EUR", Balance: dec(100)}, nil
		})
		done <- err
	}()
	<-started

	p := mutation.Go(ctx, f.coord.Executor(), CreateTransaction, income("A", 50))
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if acc, _ := read[Account](t, f.store, AccountNS("A")); !acc.Balance.Equal(dec(150)) {
		t.Fatalf("poll overwrote pending optimistic value: %s", acc.Balance)
	}

	gate.Release()
	if _, err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if acc, _ := read[Account](t, f.store, AccountNS("A")); !acc.Balance.Equal(dec(150)) {
		t.Fatalf("after settle: %s", acc.Balance)
	}
}

func TestPollStartedDuringPendingWriteIsDropped(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts()
	gate := f.client.Hold(entityTransaction, remote.OpCreate)
	f.client.On(entityTransaction, remote.OpCreate, echoTxn("tx-1"))

	p := mutation.Go(ctx, f.coord.Executor(), CreateTransaction, income("A", 50))
	if acc, _ := read[Account](t, f.store, AccountNS("A")); !acc.Balance.Equal(dec(150)) {
		t.Fatalf("optimistic balance = %s", acc.Balance)
	}

	// the server has not booked the transaction yet, so it still answers 100
	_, err := f.store.Refresh(ctx, AccountNS("A"), func(context.Context) (any, error) {
		return Account{ID: "A", Name: "Checking", Type: Checking, Currency: "EUR", Balance: dec(100)}, nil
	})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if acc, _ := read[Account](t, f.store, AccountNS("A")); !acc.Balance.Equal(dec(150)) {
		t.Fatalf("poll overwrote pending optimistic value: %s", acc.Balance)
	}

	gate.Release()
	if _, err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if acc, _ := read[Account](t, f.store, AccountNS("A")); !acc.Balance.Equal(dec(150)) {
		t.Fatalf("after settle: %s", acc.Balance)
	}
	if f.store.Held(AccountNS("A")) {
		t.Fatalf("settled mutation left its hold behind")
	}
}

func TestUnchangedPollIsSilent(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts()
	a, _ := read[Account](t, f.store, AccountNS("A"))

	var events atomic.Int32
	cancel := f.store.Subscribe(AccountNS("A"), func(optcache.Event) { events.Add(1) })
	defer cancel()

	if _, err := f.store.Refresh(ctx, AccountNS("A"), func(context.Context) (any, error) { return a, nil }); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if n := events.Load(); n != 0 {
		t.Fatalf("unchanged poll notified %d times", n)
	}
}

// ==============================
// Transactions
// ==============================

func TestUpdateTransactionMovesBetweenAccounts(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts()
	old := Transaction{ID: "tx-1", AccountID: "A", Type: Expense, Amount: dec(10)}
	f.seed(TransactionsNS(), []Transaction{old})
	f.seed(TransactionsByAccountNS("A"), []Transaction{old})
	f.seed(TransactionsByAccountNS("B"), []Transaction{})

	moved := old
	moved.AccountID = "B"
	moved.Amount = dec(15)

	gate := f.client.Hold(entityTransaction, remote.OpUpdate)
	f.client.On(entityTransaction, remote.OpUpdate, func(_ context.Context, req remote.Request) (any, error) {
		if req.ID != "tx-1" {
			return nil, fmt.Errorf("unexpected id %q", req.ID)
		}
		return req.Payload.(Transaction), nil
	})

	p := mutation.Go(ctx, f.coord.Executor(), UpdateTransaction, TransactionChange{Before: old, After: moved})
	a, _ := read[Account](t, f.store, AccountNS("A"))
	b, _ := read[Account](t, f.store, AccountNS("B"))
	if !a.Balance.Equal(dec(110)) || !b.Balance.Equal(dec(5)) {
		t.Fatalf("optimistic balances: A=%s B=%s", a.Balance, b.Balance)
	}
	if l, _ := read[[]Transaction](t, f.store, TransactionsByAccountNS("A")); len(l) != 0 {
		t.Fatalf("A still lists the moved transaction: %+v", l)
	}
	if l, _ := read[[]Transaction](t, f.store, TransactionsByAccountNS("B")); len(l) != 1 || l[0].AccountID != "B" {
		t.Fatalf("B list: %+v", l)
	}
	gate.Release()
	if _, err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if _, e := read[Account](t, f.store, AccountNS("B")); e.State != optcache.Stale {
		t.Fatalf("B should be stale after success")
	}
}

func TestDeleteTransactionNetworkFailureRestores(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts()
	tx := Transaction{ID: "tx-1", AccountID: "A", Type: Expense, Amount: dec(40)}
	f.seed(TransactionsNS(), []Transaction{tx})
	f.seed(TransactionsByAccountNS("A"), []Transaction{tx})
	nss := DeleteTransaction.Affected(tx)
	before := f.entries(nss...)

	f.client.Fail(entityTransaction, remote.OpDelete, &remote.NetworkError{Op: "delete", Err: context.DeadlineExceeded})
	err := f.coord.DeleteTransaction(ctx, tx)
	if mutation.OutcomeOf(err) != mutation.Network {
		t.Fatalf("outcome: %v", err)
	}
	f.assertUnchanged(before, nss...)
}

func TestBulkDeleteStalesEveryAccount(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts()
	f.seed(TransactionsNS(), []Transaction{
		{ID: "tx-1", AccountID: "A", Type: Income, Amount: dec(1)},
		{ID: "tx-2", AccountID: "B", Type: Income, Amount: dec(2)},
		{ID: "tx-3", AccountID: "B", Type: Income, Amount: dec(3)},
	})
	f.client.Respond(entityTransaction, remote.OpBulkDelete, BulkDeleteResult{Deleted: 2})

	n, err := f.coord.BulkDeleteTransactions(ctx, "tx-1", "tx-2")
	if err != nil || n != 2 {
		t.Fatalf("bulk delete: n=%d err=%v", n, err)
	}
	list, _ := read[[]Transaction](t, f.store, TransactionsNS())
	if len(list) != 1 || list[0].ID != "tx-3" {
		t.Fatalf("remaining: %+v", list)
	}
	for _, id := range []string{"A", "B"} {
		if _, e := read[Account](t, f.store, AccountNS(id)); e.State != optcache.Stale {
			t.Fatalf("account %s: state %s", id, e.State)
		}
	}
	if calls := f.client.Calls(); len(calls) != 1 || calls[0].Op != remote.OpBulkDelete {
		t.Fatalf("calls: %+v", calls)
	}
}

func TestInvalidTransactionNeverReachesServer(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts()
	before := f.entries(AccountNS("A"), TransactionsNS())

	_, err := f.coord.CreateTransaction(ctx, Transaction{AccountID: "A", Type: Income, Amount: dec(-5)})
	var ve *remote.ValidationError
	if !errors.As(err, &ve) || len(ve.Fields["amount"]) == 0 {
		t.Fatalf("expected amount validation error, got %v", err)
	}
	if calls := f.client.Calls(); len(calls) != 0 {
		t.Fatalf("invalid payload was sent: %+v", calls)
	}
	f.assertUnchanged(before, AccountNS("A"), TransactionsNS())
}

// ==============================
// Groups and shared expenses
// ==============================

func seedGroup(f *fixture) {
	g := Group{ID: "g1", Name: "Flat", Members: []Member{{ID: "ann", Name: "Ann"}, {ID: "bob", Name: "Bob"}}}
	f.seed(GroupsNS(), []Group{g})
	f.seed(GroupNS("g1"), g)
	f.seed(GroupBalancesNS("g1"), GroupBalances{GroupID: "g1", Balances: []MemberBalance{
		{MemberID: "ann", Balance: dec(30)},
		{MemberID: "bob", Balance: dec(-30)},
	}})
	f.seed(SharedExpensesNS(), []SharedExpense{})
	f.seed(GroupExpensesNS("g1"), []SharedExpense{})
}

func TestSettleKeepsBalancesSummingToZero(t *testing.T) {
	f := newFixture(t)
	seedGroup(f)
	gate := f.client.Hold(entityGroup, opSettle)
	f.client.Respond(entityGroup, opSettle, GroupBalances{GroupID: "g1", Balances: []MemberBalance{
		{MemberID: "ann", Balance: dec(10)},
		{MemberID: "bob", Balance: dec(-10)},
	}})

	p := mutation.Go(ctx, f.coord.Executor(), SettleGroup, Settlement{GroupID: "g1", From: "bob", To: "ann", Amount: dec(20)})
	gb, _ := read[GroupBalances](t, f.store, GroupBalancesNS("g1"))
	if !gb.Sum().IsZero() {
		t.Fatalf("optimistic balances do not net out: %+v", gb)
	}
	if !gb.Balances[1].Balance.Equal(dec(-10)) {
		t.Fatalf("optimistic bob: %s", gb.Balances[1].Balance)
	}
	gate.Release()
	if _, err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	_, e := read[GroupBalances](t, f.store, GroupBalancesNS("g1"))
	if e.State != optcache.Stale {
		t.Fatalf("group balances should be stale after settle: %s", e.State)
	}
	if _, e := read[[]Group](t, f.store, GroupsNS()); e.State != optcache.Stale {
		t.Fatalf("groups should be stale after settle: %s", e.State)
	}
}

func TestSettleRejectsUnbalancedServerAnswer(t *testing.T) {
	f := newFixture(t)
	seedGroup(f)
	before, _ := read[GroupBalances](t, f.store, GroupBalancesNS("g1"))
	f.client.Respond(entityGroup, opSettle, GroupBalances{GroupID: "g1", Balances: []MemberBalance{
		{MemberID: "ann", Balance: dec(10)},
		{MemberID: "bob", Balance: dec(-5)},
	}})

	_, err := f.coord.Settle(ctx, Settlement{GroupID: "g1", From: "bob", To: "ann", Amount: dec(20)})
	if mutation.OutcomeOf(err) != mutation.Invariant {
		t.Fatalf("outcome: %v", err)
	}
	var iv *mutation.InvariantViolation
	if !errors.As(err, &iv) || iv.Namespace != GroupBalancesNS("g1") {
		t.Fatalf("expected violation on group balances, got %v", err)
	}
	gb, e := read[GroupBalances](t, f.store, GroupBalancesNS("g1"))
	if !gb.Balances[1].Balance.Equal(before.Balances[1].Balance) {
		t.Fatalf("balances not restored: %+v", gb)
	}
	if e.State != optcache.Stale {
		t.Fatalf("accepted-but-inconsistent mutation must leave the view stale, got %s", e.State)
	}
}

func TestCreateExpenseBooksSharesOptimistically(t *testing.T) {
	f := newFixture(t)
	seedGroup(f)
	exp := SharedExpense{
		GroupID: "g1", Description: "groceries", Amount: dec(60), PaidBy: "ann",
		Participants: []Participant{{MemberID: "ann", AmountOwed: dec(30)}, {MemberID: "bob", AmountOwed: dec(30)}},
	}
	gate := f.client.Hold(entityExpense, remote.OpCreate)
	f.client.On(entityExpense, remote.OpCreate, func(_ context.Context, req remote.Request) (any, error) {
		e := req.Payload.(SharedExpense)
		e.ID = "e-7"
		return e, nil
	})

	p := mutation.Go(ctx, f.coord.Executor(), CreateExpense, exp)
	gb, _ := read[GroupBalances](t, f.store, GroupBalancesNS("g1"))
	if !gb.Sum().IsZero() || !gb.Balances[0].Balance.Equal(dec(60)) {
		t.Fatalf("optimistic balances: %+v", gb)
	}
	gate.Release()
	if _, err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	for _, ns := range []optcache.Namespace{SharedExpensesNS(), GroupExpensesNS("g1")} {
		l, _ := read[[]SharedExpense](t, f.store, ns)
		if len(l) != 1 || l[0].ID != "e-7" {
			t.Fatalf("%s: %+v", ns, l)
		}
	}
}

func TestExpenseSharesMustAddUp(t *testing.T) {
	f := newFixture(t)
	seedGroup(f)
	_, err := f.coord.CreateExpense(ctx, SharedExpense{
		GroupID: "g1", Description: "dinner", Amount: dec(50), PaidBy: "ann",
		Participants: []Participant{{MemberID: "ann", AmountOwed: dec(20)}, {MemberID: "bob", AmountOwed: dec(20)}},
	})
	if mutation.OutcomeOf(err) != mutation.Validation {
		t.Fatalf("outcome: %v", err)
	}
	if len(f.client.Calls()) != 0 {
		t.Fatalf("inconsistent expense was sent")
	}
}

func TestSetParticipantPaidRejectsBadServerShares(t *testing.T) {
	f := newFixture(t)
	seedGroup(f)
	exp := SharedExpense{
		ID: "e-1", GroupID: "g1", Description: "rent", Amount: dec(60), PaidBy: "ann",
		Participants: []Participant{{MemberID: "ann", AmountOwed: dec(30)}, {MemberID: "bob", AmountOwed: dec(30)}},
	}
	f.seed(SharedExpenseNS("e-1"), exp)
	f.seed(GroupExpensesNS("g1"), []SharedExpense{exp})
	nss := SetParticipantPaid.Affected(ParticipantPaid{ExpenseID: "e-1", GroupID: "g1"})

	bad := exp
	bad.Participants = []Participant{{MemberID: "ann", AmountOwed: dec(30)}, {MemberID: "bob", AmountOwed: dec(20), Paid: true}}
	f.client.Respond(entityExpense, opPaid, bad)

	_, err := f.coord.SetParticipantPaid(ctx, ParticipantPaid{ExpenseID: "e-1", GroupID: "g1", MemberID: "bob", Paid: true})
	if mutation.OutcomeOf(err) != mutation.Invariant {
		t.Fatalf("outcome: %v", err)
	}
	got, _ := read[SharedExpense](t, f.store, SharedExpenseNS("e-1"))
	if got.Participants[1].Paid {
		t.Fatalf("optimistic paid flag survived: %+v", got)
	}
	for _, ns := range nss {
		if e, ok, _ := f.store.Get(ctx, ns); ok && e.State != optcache.Stale {
			t.Fatalf("%s should be stale after a violation, got %s", ns, e.State)
		}
	}
}

func TestAddMemberReplacesTempIDEverywhere(t *testing.T) {
	f := newFixture(t)
	seedGroup(f)
	gate := f.client.Hold(entityGroup, opAddMember)
	f.client.On(entityGroup, opAddMember, func(_ context.Context, req remote.Request) (any, error) {
		return Member{ID: "cat", Name: req.Payload.(NewMember).Name}, nil
	})

	p := mutation.Go(ctx, f.coord.Executor(), AddMember, NewMember{GroupID: "g1", Name: "Cat"})
	g, _ := read[Group](t, f.store, GroupNS("g1"))
	if len(g.Members) != 3 || !f.coord.Executor().IsTempID(g.Members[2].ID) {
		t.Fatalf("optimistic members: %+v", g.Members)
	}
	temp := g.Members[2].ID
	gate.Release()
	if _, err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	g, _ = read[Group](t, f.store, GroupNS("g1"))
	if _, ok := find(g.Members, "cat"); !ok {
		t.Fatalf("server member missing: %+v", g.Members)
	}
	groups, _ := read[[]Group](t, f.store, GroupsNS())
	if _, ok := find(groups[0].Members, "cat"); !ok {
		t.Fatalf("group list disagrees with detail: %+v", groups)
	}
	gb, _ := read[GroupBalances](t, f.store, GroupBalancesNS("g1"))
	for _, b := range gb.Balances {
		if b.MemberID == temp {
			t.Fatalf("temp member id left in balances: %+v", gb)
		}
	}
}

func TestRemoveMemberKeepsOutstandingBalance(t *testing.T) {
	f := newFixture(t)
	seedGroup(f)
	gate := f.client.Hold(entityGroup, opRemoveMember)
	f.client.Fail(entityGroup, opRemoveMember, &remote.ConflictError{Message: "member has open balance"})

	p := mutation.Go(ctx, f.coord.Executor(), RemoveMember, MemberRef{GroupID: "g1", MemberID: "bob"})
	gb, _ := read[GroupBalances](t, f.store, GroupBalancesNS("g1"))
	if !gb.Sum().IsZero() || len(gb.Balances) != 2 {
		t.Fatalf("balance row of an indebted member was dropped: %+v", gb)
	}
	g, _ := read[Group](t, f.store, GroupNS("g1"))
	if len(g.Members) != 1 {
		t.Fatalf("optimistic members: %+v", g.Members)
	}
	gate.Release()
	if _, err := p.Wait(ctx); mutation.OutcomeOf(err) != mutation.Conflict {
		t.Fatalf("outcome: %v", err)
	}
	if g, _ := read[Group](t, f.store, GroupNS("g1")); len(g.Members) != 2 {
		t.Fatalf("members not restored: %+v", g.Members)
	}
}

// ==============================
// Loans
// ==============================

func seedLoan(f *fixture) Loan {
	l := Loan{ID: "l1", Counterparty: "Dan", Direction: Lent, OriginalAmount: dec(100), PaidAmount: dec(80), AccountID: "A", Status: LoanActive}
	f.seed(LoansNS(), []Loan{l})
	f.seed(LoanNS("l1"), l)
	return l
}

func TestLoanPaymentCreditsAccount(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts()
	seedLoan(f)
	gate := f.client.Hold(entityLoan, opPayments)
	f.client.Respond(entityLoan, opPayments, Loan{ID: "l1", Counterparty: "Dan", Direction: Lent,
		OriginalAmount: dec(100), PaidAmount: dec(100), AccountID: "A", Status: LoanPaid})

	p := mutation.Go(ctx, f.coord.Executor(), RecordLoanPayment, LoanRepayment{LoanID: "l1", AccountID: "A", Amount: dec(20)})
	l, _ := read[Loan](t, f.store, LoanNS("l1"))
	if !l.PaidAmount.Equal(dec(100)) || l.Status != LoanPaid {
		t.Fatalf("optimistic loan: %+v", l)
	}
	if a, _ := read[Account](t, f.store, AccountNS("A")); !a.Balance.Equal(dec(120)) {
		t.Fatalf("optimistic account: %s", a.Balance)
	}
	gate.Release()
	if _, err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	for _, ns := range []optcache.Namespace{LoanNS("l1"), AccountNS("A"), AccountsNS(), DashboardNS()} {
		if e, _, _ := f.store.Get(ctx, ns); e.State != optcache.Stale {
			t.Fatalf("%s: state %s", ns, e.State)
		}
	}
}

func TestOverpaymentRejectedByServerIsNotRetained(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts()
	seedLoan(f)
	nss := RecordLoanPayment.Affected(LoanRepayment{LoanID: "l1", AccountID: "A"})
	before := f.entries(nss...)

	f.client.Fail(entityLoan, opPayments, &remote.ValidationError{Fields: map[string][]string{"amount": {"exceeds remaining"}}})
	_, err := f.coord.RecordLoanPayment(ctx, LoanRepayment{LoanID: "l1", AccountID: "A", Amount: dec(50)})
	if mutation.OutcomeOf(err) != mutation.Validation {
		t.Fatalf("outcome: %v", err)
	}
	f.assertUnchanged(before, nss...)
}

func TestOverpaidServerAnswerIsAViolation(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts()
	seedLoan(f)
	f.client.Respond(entityLoan, opPayments, Loan{ID: "l1", OriginalAmount: dec(100), PaidAmount: dec(130)})

	_, err := f.coord.RecordLoanPayment(ctx, LoanRepayment{LoanID: "l1", AccountID: "A", Amount: dec(50)})
	if mutation.OutcomeOf(err) != mutation.Invariant {
		t.Fatalf("outcome: %v", err)
	}
	l, _ := read[Loan](t, f.store, LoanNS("l1"))
	if !l.PaidAmount.Equal(dec(80)) {
		t.Fatalf("overshooting value retained: %s", l.PaidAmount)
	}
}

func TestCancelAndDeleteLoan(t *testing.T) {
	f := newFixture(t)
	l := seedLoan(f)
	cancelled := l
	cancelled.Status = LoanCancelled
	f.client.Respond(entityLoan, opCancel, cancelled)
	f.client.Respond(entityLoan, remote.OpDelete, struct{}{})

	got, err := f.coord.CancelLoan(ctx, "l1")
	if err != nil || got.Status != LoanCancelled {
		t.Fatalf("cancel: %+v %v", got, err)
	}
	if l, _ := read[Loan](t, f.store, LoanNS("l1")); l.Status != LoanCancelled {
		t.Fatalf("cached status: %s", l.Status)
	}
	if err := f.coord.DeleteLoan(ctx, "l1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := f.store.Get(ctx, LoanNS("l1")); ok {
		t.Fatalf("loan detail still cached")
	}
	if ls, _ := read[[]Loan](t, f.store, LoansNS()); len(ls) != 0 {
		t.Fatalf("loan still listed: %+v", ls)
	}
}

// ==============================
// Accounts and budgets
// ==============================

func TestCreateAccountAndBudgetSwapTempIDs(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts()
	f.seed(BudgetsNS(), []Budget{})
	f.client.On(entityAccount, remote.OpCreate, func(_ context.Context, req remote.Request) (any, error) {
		a := req.Payload.(Account)
		a.ID = "C"
		return a, nil
	})
	f.client.On(entityBudget, remote.OpCreate, func(_ context.Context, req remote.Request) (any, error) {
		b := req.Payload.(Budget)
		b.ID = "b-1"
		return b, nil
	})

	if _, err := f.coord.CreateAccount(ctx, Account{Name: "Cash", Type: Cash, Currency: "EUR"}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if _, err := f.coord.CreateBudget(ctx, Budget{Name: "Food", Category: "food", Limit: dec(300), Period: "monthly"}); err != nil {
		t.Fatalf("CreateBudget: %v", err)
	}
	accs, _ := read[[]Account](t, f.store, AccountsNS())
	if len(accs) != 3 || accs[2].ID != "C" {
		t.Fatalf("accounts: %+v", accs)
	}
	bs, e := read[[]Budget](t, f.store, BudgetsNS())
	if len(bs) != 1 || bs[0].ID != "b-1" || e.State != optcache.Stale {
		t.Fatalf("budgets: %+v state=%s", bs, e.State)
	}
}

func TestServerIDMismatchIsAViolation(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts()
	f.client.Respond(entityAccount, remote.OpUpdate, Account{ID: "Z"})

	_, err := f.coord.UpdateAccount(ctx, AccountChange{ID: "A", Name: "Main", Type: Checking, Currency: "EUR"})
	var iv *mutation.InvariantViolation
	if !errors.As(err, &iv) {
		t.Fatalf("expected violation, got %v", err)
	}
	a, e := read[Account](t, f.store, AccountNS("A"))
	if a.Name != "Checking" || !a.Balance.Equal(dec(100)) {
		t.Fatalf("account not restored: %+v", a)
	}
	if e.State != optcache.Stale {
		t.Fatalf("state: %s", e.State)
	}
}
