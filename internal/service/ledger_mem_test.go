package service

import (
	"context"
	"sort"
	"sync"

	"github.com/ourhall/backend/internal/model"
	"github.com/ourhall/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// memLedger is an in-memory repository.Ledger for unit tests.
// Transactions are fully serialized and work on copies, so an error returned
// from fn leaves the stored state untouched (rollback).
// ---------------------------------------------------------------------------

type memLedger struct {
	mu        sync.Mutex
	campaigns map[string]*model.Campaign
	payments  map[string]*model.Payment

	conflicts   int   // InTx fails with conflictErr this many times before running fn
	conflictErr error // defaults to repository.ErrConflict
	failWith    error // InTx fails with this error without running fn
	txCount   int
	writes    int
}

func newMemLedger(campaigns ...*model.Campaign) *memLedger {
	l := &memLedger{
		campaigns: make(map[string]*model.Campaign),
		payments:  make(map[string]*model.Payment),
	}
	for _, c := range campaigns {
		l.campaigns[c.ID] = cloneCampaign(c)
	}
	return l
}

func (l *memLedger) InTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txCount++
	if l.failWith != nil {
		return l.failWith
	}
	if l.conflicts > 0 {
		l.conflicts--
		if l.conflictErr != nil {
			return l.conflictErr
		}
		return repository.ErrConflict
	}

	tx := &memLedgerTx{
		campaigns: make(map[string]*model.Campaign),
		payments:  make(map[string]*model.Payment),
		base:      l,
	}
	if err := fn(tx); err != nil {
		return err
	}
	for id, c := range tx.campaigns {
		l.campaigns[id] = c
		l.writes++
	}
	for ref, p := range tx.payments {
		l.payments[ref] = p
		l.writes++
	}
	return nil
}

func (l *memLedger) campaign(id string) *model.Campaign {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneCampaign(l.campaigns[id])
}

func (l *memLedger) payment(ref string) *model.Payment {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[ref]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

type memLedgerTx struct {
	base      *memLedger
	campaigns map[string]*model.Campaign // pending writes
	payments  map[string]*model.Payment
}

func (t *memLedgerTx) LockCampaign(_ context.Context, id string) (*model.Campaign, error) {
	c, ok := t.base.campaigns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneCampaign(c), nil
}

func (t *memLedgerTx) GetPayment(_ context.Context, ref string) (*model.Payment, error) {
	p, ok := t.base.payments[ref]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (t *memLedgerTx) ListCountedPayments(_ context.Context, campaignID string) ([]*model.Payment, error) {
	var list []*model.Payment
	for _, p := range t.base.payments {
		if p.CampaignID == campaignID && p.Counted {
			cp := *p
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].Ref < list[j].Ref
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list, nil
}

func (t *memLedgerTx) SaveAggregate(_ context.Context, c *model.Campaign) error {
	if _, ok := t.base.campaigns[c.ID]; !ok {
		return repository.ErrNotFound
	}
	t.campaigns[c.ID] = cloneCampaign(c)
	return nil
}

func (t *memLedgerTx) UpsertPayment(_ context.Context, p *model.Payment) error {
	cp := *p
	if prev, ok := t.base.payments[p.Ref]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = fixedNow
	}
	cp.UpdatedAt = fixedNow
	t.payments[p.Ref] = &cp
	p.CreatedAt = cp.CreatedAt
	p.UpdatedAt = cp.UpdatedAt
	return nil
}

func cloneCampaign(c *model.Campaign) *model.Campaign {
	if c == nil {
		return nil
	}
	cp := *c
	cp.LastDonors = append([]model.LastDonor(nil), c.LastDonors...)
	return &cp
}

// GetByID lets memLedger stand in for the campaign repository.
func (l *memLedger) GetByID(_ context.Context, id string) (*model.Campaign, error) {
	c := l.campaign(id)
	if c == nil {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

// GetByRef lets memLedger stand in for the payment repository.
func (l *memLedger) GetByRef(_ context.Context, ref string) (*model.Payment, error) {
	p := l.payment(ref)
	if p == nil {
		return nil, repository.ErrNotFound
	}
	return p, nil
}
