package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jnst/payment-reconciler/internal/model"
)

var testNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedNow() time.Time { return testNow }

type fakeTxManager struct {
	calls int
}

func (m *fakeTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++

	return fn(ctx)
}

type memChargeRepo struct {
	charges map[string]*model.ChargeRecord
	updates []model.ChargeState
	err     error
}

func newMemChargeRepo(charges ...*model.ChargeRecord) *memChargeRepo {
	r := &memChargeRepo{charges: map[string]*model.ChargeRecord{}}
	for _, c := range charges {
		r.charges[string(c.Processor)+":"+c.ExternalChargeID] = c
	}

	return r
}

func (r *memChargeRepo) FindByExternalIDForUpdate(_ context.Context, processor model.Processor, externalID string) (*model.ChargeRecord, error) {
	if r.err != nil {
		return nil, r.err
	}
	c, ok := r.charges[string(processor)+":"+externalID]
	if !ok {
		return nil, model.ErrChargeNotFound
	}
	copied := *c

	return &copied, nil
}

func (r *memChargeRepo) UpdateState(_ context.Context, id int64, state model.ChargeState, eventType string) error {
	for _, c := range r.charges {
		if c.ID == id {
			c.State = state
			c.LastEventType = eventType
		}
	}
	r.updates = append(r.updates, state)

	return nil
}

type memPurchaseRepo struct {
	failed map[int64]model.PurchaseErrorCode
	err    error
}

func (r *memPurchaseRepo) MarkFailed(_ context.Context, id int64, code model.PurchaseErrorCode, _ string) error {
	if r.err != nil {
		return r.err
	}
	if r.failed == nil {
		r.failed = map[int64]model.PurchaseErrorCode{}
	}
	r.failed[id] = code

	return nil
}

type memMerchantRepo struct {
	accounts []*model.MerchantAccount
	nextID   int64
	updates  int
}

func newMemMerchantRepo(accounts ...*model.MerchantAccount) *memMerchantRepo {
	return &memMerchantRepo{accounts: accounts, nextID: 100}
}

func (r *memMerchantRepo) byID(id int64) *model.MerchantAccount {
	for _, a := range r.accounts {
		if a.ID == id {
			return a
		}
	}

	return nil
}

func (r *memMerchantRepo) FindByMerchantID(_ context.Context, processor model.Processor, merchantID string) (*model.MerchantAccount, error) {
	var latest *model.MerchantAccount
	for _, a := range r.accounts {
		if a.Processor != processor || a.ChargeProcessorMerchantID != merchantID {
			continue
		}
		// alive rows first, then newest
		if latest == nil || (a.IsAlive() && !latest.IsAlive()) || (a.IsAlive() == latest.IsAlive() && a.ID > latest.ID) {
			latest = a
		}
	}
	if latest == nil {
		return nil, model.ErrMerchantAccountNotFound
	}
	copied := *latest

	return &copied, nil
}

func (r *memMerchantRepo) FindAliveByMerchantIDForUpdate(_ context.Context, processor model.Processor, merchantID string) (*model.MerchantAccount, error) {
	for _, a := range r.accounts {
		if a.Processor == processor && a.ChargeProcessorMerchantID == merchantID && a.IsAlive() {
			copied := *a
			return &copied, nil
		}
	}

	return nil, model.ErrMerchantAccountNotFound
}

func (r *memMerchantRepo) FindAliveByUserForUpdate(_ context.Context, userID int64, processor model.Processor) ([]*model.MerchantAccount, error) {
	var alive []*model.MerchantAccount
	for _, a := range r.accounts {
		if a.UserID == userID && a.Processor == processor && a.IsAlive() {
			copied := *a
			alive = append(alive, &copied)
		}
	}
	sort.Slice(alive, func(i, j int) bool { return alive[i].ID < alive[j].ID })

	return alive, nil
}

func (r *memMerchantRepo) FindOrCreate(_ context.Context, userID int64, processor model.Processor, merchantID string) (*model.MerchantAccount, error) {
	for _, a := range r.accounts {
		if a.UserID == userID && a.Processor == processor && a.ChargeProcessorMerchantID == merchantID && a.IsAlive() {
			copied := *a
			return &copied, nil
		}
	}
	r.nextID++
	a := &model.MerchantAccount{
		ID:                        r.nextID,
		UserID:                    userID,
		Processor:                 processor,
		ChargeProcessorMerchantID: merchantID,
		State:                     model.MerchantAccountStatePendingOnboarding,
	}
	r.accounts = append(r.accounts, a)
	copied := *a

	return &copied, nil
}

func (r *memMerchantRepo) Update(_ context.Context, account *model.MerchantAccount) error {
	stored := r.byID(account.ID)
	if stored == nil {
		return model.ErrMerchantAccountNotFound
	}
	*stored = *account
	r.updates++

	return nil
}

type memPayoutRepo struct {
	payouts map[string]*model.PayoutRecord
	updates int
}

func newMemPayoutRepo(payouts ...*model.PayoutRecord) *memPayoutRepo {
	r := &memPayoutRepo{payouts: map[string]*model.PayoutRecord{}}
	for _, p := range payouts {
		r.payouts[string(p.Processor)+":"+p.ExternalPayoutID] = p
	}

	return r
}

func (r *memPayoutRepo) FindByExternalIDForUpdate(_ context.Context, processor model.Processor, externalID string) (*model.PayoutRecord, error) {
	p, ok := r.payouts[string(processor)+":"+externalID]
	if !ok {
		return nil, model.ErrPayoutNotFound
	}
	copied := *p

	return &copied, nil
}

func (r *memPayoutRepo) Update(_ context.Context, payout *model.PayoutRecord) error {
	r.payouts[string(payout.Processor)+":"+payout.ExternalPayoutID] = payout
	r.updates++

	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []model.Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, notification model.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, notification)

	return nil
}

func (n *recordingNotifier) types() []model.NotificationType {
	n.mu.Lock()
	defer n.mu.Unlock()
	types := make([]model.NotificationType, 0, len(n.sent))
	for _, s := range n.sent {
		types = append(types, s.Type)
	}

	return types
}

type stubMerchantClient struct {
	status      *model.MerchantStatus
	err         error
	fetched     []string
	referralURL string
	referralErr error
}

func (c *stubMerchantClient) FetchMerchantStatus(_ context.Context, merchantID string) (*model.MerchantStatus, error) {
	c.fetched = append(c.fetched, merchantID)
	if c.err != nil {
		return nil, c.err
	}
	status := *c.status
	status.MerchantID = merchantID

	return &status, nil
}

func (c *stubMerchantClient) CreatePartnerReferral(_ context.Context, _, _ string) (string, error) {
	return c.referralURL, c.referralErr
}

type recordingQueue struct {
	jobs []*model.DelayedJob
	err  error
}

func (q *recordingQueue) Schedule(_ context.Context, job *model.DelayedJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)

	return nil
}

type recordingHandler struct {
	events []*model.InboundEvent
	err    error
}

func (h *recordingHandler) Handle(_ context.Context, ev *model.InboundEvent) error {
	h.events = append(h.events, ev)

	return h.err
}
