// Package store provides an in-memory billing.Store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/card-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every document in maps keyed by document ID. Commit applies a
// batch under the write lock and restores a snapshot if any write fails.
type Memory struct {
	mu           sync.RWMutex
	groups       map[billing.GroupID]billing.Group
	members      map[memberKey]billing.Member
	cards        map[billing.CardID]billing.Card
	purchases    map[billing.PurchaseID]billing.Purchase
	installments map[billing.InstallmentID]billing.Installment
	categories   map[billing.CategoryID]billing.Category

	hub billing.Hub
}

var _ billing.Store = (*Memory)(nil)

type memberKey struct {
	GroupID billing.GroupID
	UserID  billing.UserID
}

func NewMemory() *Memory {
	return &Memory{
		groups:       make(map[billing.GroupID]billing.Group),
		members:      make(map[memberKey]billing.Member),
		cards:        make(map[billing.CardID]billing.Card),
		purchases:    make(map[billing.PurchaseID]billing.Purchase),
		installments: make(map[billing.InstallmentID]billing.Installment),
		categories:   make(map[billing.CategoryID]billing.Category),
	}
}

// Subscribers returns the number of live subscriptions.
func (m *Memory) Subscribers() int { return m.hub.Len() }

// =============================================================================
// READS
// =============================================================================

func (m *Memory) GetCard(_ context.Context, groupID billing.GroupID, id billing.CardID) (billing.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.cards[id]
	if !ok || c.GroupID != groupID {
		return billing.Card{}, &billing.NotFoundError{Kind: "card", ID: string(id)}
	}
	return c, nil
}

func (m *Memory) ListCards(_ context.Context, groupID billing.GroupID) ([]billing.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []billing.Card{}
	for _, c := range m.cards {
		if c.GroupID == groupID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) GetPurchase(_ context.Context, groupID billing.GroupID, id billing.PurchaseID) (billing.Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.purchases[id]
	if !ok || p.GroupID != groupID {
		return billing.Purchase{}, &billing.NotFoundError{Kind: "purchase", ID: string(id)}
	}
	return clonePurchase(p), nil
}

func (m *Memory) ListPurchases(_ context.Context, groupID billing.GroupID) ([]billing.Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []billing.Purchase{}
	for _, p := range m.purchases {
		if p.GroupID == groupID {
			out = append(out, clonePurchase(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PurchaseDate.Equal(out[j].PurchaseDate) {
			return out[i].PurchaseDate.After(out[j].PurchaseDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) LookupPurchase(_ context.Context, id billing.PurchaseID) (billing.Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.purchases[id]
	if !ok {
		return billing.Purchase{}, &billing.NotFoundError{Kind: "purchase", ID: string(id)}
	}
	return clonePurchase(p), nil
}

func (m *Memory) GetInstallment(_ context.Context, groupID billing.GroupID, id billing.InstallmentID) (billing.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.installments[id]
	if !ok || inst.GroupID != groupID {
		return billing.Installment{}, &billing.NotFoundError{Kind: "installment", ID: string(id)}
	}
	return inst, nil
}

func (m *Memory) QueryInstallments(_ context.Context, groupID billing.GroupID, q billing.InstallmentQuery) ([]billing.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []billing.Installment{}
	for _, inst := range m.installments {
		if inst.GroupID == groupID && q.Matches(inst) {
			out = append(out, inst)
		}
	}
	billing.SortInstallments(out, q.OrderBy)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) UnattributedInstallments(_ context.Context) ([]billing.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []billing.Installment
	for _, inst := range m.installments {
		if inst.GroupID == "" || inst.CardID == "" {
			out = append(out, inst)
		}
	}
	billing.SortInstallments(out, billing.OrderByNumber)
	return out, nil
}

func (m *Memory) ListCategories(_ context.Context, groupID billing.GroupID) ([]billing.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []billing.Category{}
	for _, c := range m.categories {
		if c.GroupID == groupID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) GetGroup(_ context.Context, id billing.GroupID) (billing.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.groups[id]
	if !ok {
		return billing.Group{}, &billing.NotFoundError{Kind: "group", ID: string(id)}
	}
	return g, nil
}

func (m *Memory) GetMember(_ context.Context, groupID billing.GroupID, userID billing.UserID) (billing.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mem, ok := m.members[memberKey{GroupID: groupID, UserID: userID}]
	if !ok {
		return billing.Member{}, &billing.NotFoundError{Kind: "member", ID: string(userID)}
	}
	return cloneMember(mem), nil
}

func (m *Memory) ListMembers(_ context.Context, groupID billing.GroupID) ([]billing.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []billing.Member{}
	for k, mem := range m.members {
		if k.GroupID == groupID {
			out = append(out, cloneMember(mem))
		}
	}
	sortMembers(out)
	return out, nil
}

func (m *Memory) FindMembership(_ context.Context, userID billing.UserID) (billing.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found []billing.Member
	for k, mem := range m.members {
		if k.UserID == userID {
			found = append(found, mem)
		}
	}
	if len(found) == 0 {
		return billing.Member{}, &billing.NotFoundError{Kind: "member", ID: string(userID)}
	}
	sortMembers(found)
	return cloneMember(found[0]), nil
}

func sortMembers(members []billing.Member) {
	sort.Slice(members, func(i, j int) bool {
		if !members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].JoinedAt.Before(members[j].JoinedAt)
		}
		return members[i].UserID < members[j].UserID
	})
}

// =============================================================================
// WATCHES
// =============================================================================

func (m *Memory) WatchCards(ctx context.Context, groupID billing.GroupID, fn func([]billing.Card, error)) (billing.Subscription, error) {
	load := func(ctx context.Context) ([]billing.Card, error) { return m.ListCards(ctx, groupID) }
	return billing.Watch(ctx, &m.hub, groupID, load, fn), nil
}

func (m *Memory) WatchPurchases(ctx context.Context, groupID billing.GroupID, fn func([]billing.Purchase, error)) (billing.Subscription, error) {
	load := func(ctx context.Context) ([]billing.Purchase, error) { return m.ListPurchases(ctx, groupID) }
	return billing.Watch(ctx, &m.hub, groupID, load, fn), nil
}

func (m *Memory) WatchInstallments(ctx context.Context, groupID billing.GroupID, q billing.InstallmentQuery, fn func([]billing.Installment, error)) (billing.Subscription, error) {
	load := func(ctx context.Context) ([]billing.Installment, error) { return m.QueryInstallments(ctx, groupID, q) }
	return billing.Watch(ctx, &m.hub, groupID, load, fn), nil
}

// =============================================================================
// COMMIT
// =============================================================================

// Commit applies every write of the batch or none of them. Subscribers of
// the touched groups are notified after the lock is released.
func (m *Memory) Commit(ctx context.Context, b *billing.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.Empty() {
		return nil
	}

	m.mu.Lock()
	snapshot := m.snapshot()
	for _, w := range b.Writes() {
		if err := m.applyLocked(w); err != nil {
			m.restore(snapshot)
			m.mu.Unlock()
			return err
		}
	}
	m.mu.Unlock()

	m.hub.Notify(b.Groups()...)
	return nil
}

func (m *Memory) applyLocked(w billing.Write) error {
	switch w := w.(type) {
	case billing.PutCard:
		m.cards[w.Card.ID] = w.Card

	case billing.UpdateCardDetails:
		c, ok := m.cards[w.ID]
		if !ok || c.GroupID != w.GroupID {
			return &billing.NotFoundError{Kind: "card", ID: string(w.ID)}
		}
		c.Name, c.Network, c.CreditLimit = w.Name, w.Network, w.CreditLimit
		c.ClosingDay, c.DueDay, c.Color = w.ClosingDay, w.DueDay, w.Color
		m.cards[w.ID] = c

	case billing.DeleteCard:
		if c, ok := m.cards[w.ID]; ok && c.GroupID == w.GroupID {
			delete(m.cards, w.ID)
		}

	case billing.AdjustCardUsed:
		c, ok := m.cards[w.CardID]
		if !ok || c.GroupID != w.GroupID {
			return &billing.NotFoundError{Kind: "card", ID: string(w.CardID)}
		}
		c.UsedAmount = c.UsedAmount.Add(w.Delta)
		m.cards[w.CardID] = c

	case billing.PutPurchase:
		m.purchases[w.Purchase.ID] = clonePurchase(w.Purchase)

	case billing.UpdatePurchaseDetails:
		p, ok := m.purchases[w.ID]
		if !ok || p.GroupID != w.GroupID {
			return &billing.NotFoundError{Kind: "purchase", ID: string(w.ID)}
		}
		p.Description, p.Category = w.Description, w.Category
		m.purchases[w.ID] = p

	case billing.CancelPurchase:
		p, ok := m.purchases[w.ID]
		if !ok || p.GroupID != w.GroupID {
			return &billing.NotFoundError{Kind: "purchase", ID: string(w.ID)}
		}
		on := w.On
		p.Status = billing.PurchaseCancelled
		p.CancellationDate = &on
		m.purchases[w.ID] = p

	case billing.DeletePurchase:
		if p, ok := m.purchases[w.ID]; ok && p.GroupID == w.GroupID {
			delete(m.purchases, w.ID)
		}

	case billing.IncrementPaidCount:
		p, ok := m.purchases[w.PurchaseID]
		if !ok || p.GroupID != w.GroupID {
			return &billing.NotFoundError{Kind: "purchase", ID: string(w.PurchaseID)}
		}
		p.PaidInstallmentCount += w.By
		m.purchases[w.PurchaseID] = p

	case billing.PutInstallment:
		m.installments[w.Installment.ID] = w.Installment

	case billing.DeleteInstallment:
		if inst, ok := m.installments[w.ID]; ok && inst.GroupID == w.GroupID {
			delete(m.installments, w.ID)
		}

	case billing.MarkInstallmentPaid:
		inst, ok := m.installments[w.ID]
		if !ok || inst.GroupID != w.GroupID {
			return &billing.NotFoundError{Kind: "installment", ID: string(w.ID)}
		}
		inst.Status = billing.InstallmentPaid
		m.installments[w.ID] = inst

	case billing.RefreshInstallmentDisplay:
		inst, ok := m.installments[w.ID]
		if !ok || inst.GroupID != w.GroupID {
			return &billing.NotFoundError{Kind: "installment", ID: string(w.ID)}
		}
		inst.PurchaseDescription, inst.CardName, inst.Category = w.PurchaseDescription, w.CardName, w.Category
		m.installments[w.ID] = inst

	case billing.PutCategory:
		m.categories[w.Category.ID] = w.Category

	case billing.DeleteCategory:
		if c, ok := m.categories[w.ID]; ok && c.GroupID == w.GroupID {
			delete(m.categories, w.ID)
		}

	case billing.PutGroup:
		m.groups[w.Group.ID] = w.Group

	case billing.PutMember:
		m.members[memberKey{GroupID: w.Member.GroupID, UserID: w.Member.UserID}] = cloneMember(w.Member)

	case billing.DeleteMember:
		delete(m.members, memberKey{GroupID: w.GroupID, UserID: w.UserID})
	}
	return nil
}

// =============================================================================
// SNAPSHOT / ROLLBACK
// =============================================================================

type memorySnapshot struct {
	groups       map[billing.GroupID]billing.Group
	members      map[memberKey]billing.Member
	cards        map[billing.CardID]billing.Card
	purchases    map[billing.PurchaseID]billing.Purchase
	installments map[billing.InstallmentID]billing.Installment
	categories   map[billing.CategoryID]billing.Category
}

func (m *Memory) snapshot() memorySnapshot {
	return memorySnapshot{
		groups:       copyMap(m.groups),
		members:      copyMap(m.members),
		cards:        copyMap(m.cards),
		purchases:    copyMap(m.purchases),
		installments: copyMap(m.installments),
		categories:   copyMap(m.categories),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.groups = s.groups
	m.members = s.members
	m.cards = s.cards
	m.purchases = s.purchases
	m.installments = s.installments
	m.categories = s.categories
}

// copyMap is shallow. Documents are values and the writes above replace
// pointer and map fields rather than mutating them, so a shallow copy is
// enough to roll back.
func copyMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func clonePurchase(p billing.Purchase) billing.Purchase {
	if p.CancellationDate != nil {
		d := *p.CancellationDate
		p.CancellationDate = &d
	}
	return p
}

func cloneMember(m billing.Member) billing.Member {
	perms := make(billing.PermissionSet, len(m.Permissions))
	for k, v := range m.Permissions {
		perms[k] = v
	}
	m.Permissions = perms
	return m
}
