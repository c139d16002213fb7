package finance

import (
	"github.com/shopspring/decimal"

	"github.com/unkn0wn-root/optcache"
	"github.com/unkn0wn-root/optcache/invalidation"
	"github.com/unkn0wn-root/optcache/mutation"
	"github.com/unkn0wn-root/optcache/remote"
)

const (
	entityGroup = "group"

	opAddMember    remote.Op = "members"
	opRemoveMember remote.Op = "remove-member"
	opSettle       remote.Op = "settle"
)

type GroupRename struct {
	ID   string `json:"-"`
	Name string `json:"name"`
}

type NewMember struct {
	GroupID string `json:"-"`
	Name    string `json:"name"`
}

type MemberRef struct {
	GroupID  string `json:"-"`
	MemberID string `json:"memberId"`
}

// Settlement records From paying To inside a group. AccountID, when set, is
// the account the payment was booked on.
type Settlement struct {
	GroupID   string          `json:"-"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	AccountID string          `json:"accountId,omitempty"`
}

func groupScope(id string) invalidation.Scope {
	return invalidation.Scope{}.Add(optcache.FieldGroupID, id)
}

// editGroup rewrites group id in the detail view and the list.
func editGroup(tx *optcache.Txn, id string, fn func(Group) Group) error {
	err := editCached(tx, GroupNS(id), func(g Group) (Group, error) { return fn(g), nil })
	if err != nil {
		return err
	}
	return editList(tx, GroupsNS(), func(l []Group) []Group {
		if g, ok := find(l, id); ok {
			return replace(l, id, fn(g))
		}
		return l
	})
}

func editBalances(tx *optcache.Txn, groupID string, fn func(GroupBalances) GroupBalances) error {
	return editCached(tx, GroupBalancesNS(groupID), func(gb GroupBalances) (GroupBalances, error) { return fn(gb), nil })
}

// checkBalances enforces that a group's member balances net out.
func checkBalances(gb GroupBalances) error {
	if sum := gb.Sum(); !sum.IsZero() {
		return mutation.Violation(GroupBalancesNS(gb.GroupID), "member balances sum to %s", sum)
	}
	return nil
}

var CreateGroup = mutation.Definition[Group, Group]{
	Kind:     GroupCreate,
	Entity:   entityGroup,
	Op:       remote.OpCreate,
	Creates:  true,
	Affected: func(Group) []optcache.Namespace { return []optcache.Namespace{GroupsNS()} },
	Validate: func(g Group) error {
		p := problems{}
		p.required("name", g.Name)
		return p.err()
	},
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[Group]) error {
		g := m.Payload
		g.ID = m.TempID
		return editList(tx, GroupsNS(), func(l []Group) []Group { return upsert(l, g.ID, g) })
	},
	Reconcile: func(tx *optcache.Txn, m mutation.Mutation[Group], got Group) error {
		if got.ID == "" {
			return mutation.Violation(GroupsNS(), "server returned a group without id")
		}
		return editList(tx, GroupsNS(), func(l []Group) []Group { return upsert(l, m.TempID, got) })
	},
}

var UpdateGroup = mutation.Definition[GroupRename, Group]{
	Kind:     GroupUpdate,
	Entity:   entityGroup,
	Op:       remote.OpUpdate,
	Target:   func(r GroupRename) string { return r.ID },
	Affected: func(r GroupRename) []optcache.Namespace { return []optcache.Namespace{GroupsNS(), GroupNS(r.ID)} },
	Scope:    func(r GroupRename) invalidation.Scope { return groupScope(r.ID) },
	Validate: func(r GroupRename) error {
		p := problems{}
		p.required("id", r.ID)
		p.required("name", r.Name)
		return p.err()
	},
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[GroupRename]) error {
		return editGroup(tx, m.Payload.ID, func(g Group) Group {
			g.Name = m.Payload.Name
			return g
		})
	},
	Reconcile: func(tx *optcache.Txn, m mutation.Mutation[GroupRename], got Group) error {
		if got.ID != m.Payload.ID {
			return mutation.Violation(GroupNS(m.Payload.ID), "server answered group %s", got.ID)
		}
		return editGroup(tx, got.ID, func(Group) Group { return got })
	},
}

var DeleteGroup = mutation.Definition[string, struct{}]{
	Kind:   GroupDelete,
	Entity: entityGroup,
	Op:     remote.OpDelete,
	Target: func(id string) string { return id },
	Body:   func(mutation.Mutation[string]) any { return nil },
	Affected: func(id string) []optcache.Namespace {
		return []optcache.Namespace{GroupsNS(), GroupNS(id), GroupBalancesNS(id), GroupExpensesNS(id)}
	},
	Validate: requireID,
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[string]) error {
		id := m.Payload
		if err := editList(tx, GroupsNS(), func(l []Group) []Group { return remove(l, id) }); err != nil {
			return err
		}
		for _, ns := range []optcache.Namespace{GroupNS(id), GroupBalancesNS(id), GroupExpensesNS(id)} {
			if err := tx.Delete(ns); err != nil {
				return err
			}
		}
		return nil
	},
}

func memberNamespaces(groupID string) []optcache.Namespace {
	return []optcache.Namespace{GroupsNS(), GroupNS(groupID), GroupBalancesNS(groupID)}
}

var AddMember = mutation.Definition[NewMember, Member]{
	Kind:     GroupAddMember,
	Entity:   entityGroup,
	Op:       opAddMember,
	Creates:  true,
	Target:   func(n NewMember) string { return n.GroupID },
	Affected: func(n NewMember) []optcache.Namespace { return memberNamespaces(n.GroupID) },
	Scope:    func(n NewMember) invalidation.Scope { return groupScope(n.GroupID) },
	Validate: func(n NewMember) error {
		p := problems{}
		p.required("groupId", n.GroupID)
		p.required("name", n.Name)
		return p.err()
	},
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[NewMember]) error {
		mem := Member{ID: m.TempID, Name: m.Payload.Name}
		if err := editGroup(tx, m.Payload.GroupID, func(g Group) Group {
			g.Members = upsert(g.Members, mem.ID, mem)
			return g
		}); err != nil {
			return err
		}
		return editBalances(tx, m.Payload.GroupID, func(gb GroupBalances) GroupBalances {
			return adjustMember(gb, mem.ID, decimal.Zero)
		})
	},
	Reconcile: func(tx *optcache.Txn, m mutation.Mutation[NewMember], got Member) error {
		if got.ID == "" {
			return mutation.Violation(GroupNS(m.Payload.GroupID), "server returned a member without id")
		}
		if err := editGroup(tx, m.Payload.GroupID, func(g Group) Group {
			g.Members = upsert(g.Members, m.TempID, got)
			return g
		}); err != nil {
			return err
		}
		return editBalances(tx, m.Payload.GroupID, func(gb GroupBalances) GroupBalances {
			out := GroupBalances{GroupID: gb.GroupID, Balances: make([]MemberBalance, 0, len(gb.Balances))}
			for _, b := range gb.Balances {
				if b.MemberID == m.TempID {
					b.MemberID = got.ID
				}
				out.Balances = append(out.Balances, b)
			}
			return out
		})
	},
}

// RemoveMember drops the member from the group right away. A member who
// still owes or is owed keeps their balance row until the server decides;
// the group must keep summing to zero.
var RemoveMember = mutation.Definition[MemberRef, struct{}]{
	Kind:     GroupRemoveMember,
	Entity:   entityGroup,
	Op:       opRemoveMember,
	Target:   func(r MemberRef) string { return r.GroupID },
	Affected: func(r MemberRef) []optcache.Namespace { return memberNamespaces(r.GroupID) },
	Scope:    func(r MemberRef) invalidation.Scope { return groupScope(r.GroupID) },
	Validate: func(r MemberRef) error {
		p := problems{}
		p.required("groupId", r.GroupID)
		p.required("memberId", r.MemberID)
		return p.err()
	},
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[MemberRef]) error {
		r := m.Payload
		if err := editGroup(tx, r.GroupID, func(g Group) Group {
			g.Members = remove(g.Members, r.MemberID)
			return g
		}); err != nil {
			return err
		}
		return editBalances(tx, r.GroupID, func(gb GroupBalances) GroupBalances {
			out := GroupBalances{GroupID: gb.GroupID}
			for _, b := range gb.Balances {
				if b.MemberID == r.MemberID && b.Balance.IsZero() {
					continue
				}
				out.Balances = append(out.Balances, b)
			}
			return out
		})
	},
}

var SettleGroup = mutation.Definition[Settlement, GroupBalances]{
	Kind:     GroupSettle,
	Entity:   entityGroup,
	Op:       opSettle,
	Target:   func(s Settlement) string { return s.GroupID },
	Affected: func(s Settlement) []optcache.Namespace { return []optcache.Namespace{GroupBalancesNS(s.GroupID)} },
	Scope: func(s Settlement) invalidation.Scope {
		return groupScope(s.GroupID).Add(optcache.FieldAccountID, s.AccountID)
	},
	Validate: func(s Settlement) error {
		p := problems{}
		p.required("groupId", s.GroupID)
		p.required("from", s.From)
		p.required("to", s.To)
		if s.From != "" && s.From == s.To {
			p.add("to", "must differ from the payer")
		}
		p.positive("amount", s.Amount)
		return p.err()
	},
	Optimistic: func(tx *optcache.Txn, m mutation.Mutation[Settlement]) error {
		s := m.Payload
		return editBalances(tx, s.GroupID, func(gb GroupBalances) GroupBalances {
			return adjustMember(adjustMember(gb, s.From, s.Amount), s.To, s.Amount.Neg())
		})
	},
	Reconcile: func(tx *optcache.Txn, m mutation.Mutation[Settlement], got GroupBalances) error {
		if got.GroupID == "" {
			got.GroupID = m.Payload.GroupID
		}
		if got.GroupID != m.Payload.GroupID {
			return mutation.Violation(GroupBalancesNS(m.Payload.GroupID), "server answered balances of group %s", got.GroupID)
		}
		if err := checkBalances(got); err != nil {
			return err
		}
		return tx.Set(GroupBalancesNS(got.GroupID), got)
	},
}
