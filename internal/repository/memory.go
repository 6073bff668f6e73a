// internal/repository/memory.go
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/impactlink/escrow-backend/internal/models"
	"github.com/impactlink/escrow-backend/internal/utils"
)

type memoryState struct {
	seq            int64
	cases          map[uuid.UUID]models.PaymentCase
	caseSeq        map[uuid.UUID]int64
	milestones     map[uuid.UUID]models.Milestone
	records        []models.VerificationRecord
	payoutAccounts map[uuid.UUID]models.PayoutAccount
	webhookEvents  map[string]models.WebhookEvent
	auditLogs      []models.AuditLog
}

func newMemoryState() *memoryState {
	return &memoryState{
		cases:          make(map[uuid.UUID]models.PaymentCase),
		caseSeq:        make(map[uuid.UUID]int64),
		milestones:     make(map[uuid.UUID]models.Milestone),
		payoutAccounts: make(map[uuid.UUID]models.PayoutAccount),
		webhookEvents:  make(map[string]models.WebhookEvent),
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	c.seq = s.seq
	for k, v := range s.cases {
		c.cases[k] = v
	}
	for k, v := range s.caseSeq {
		c.caseSeq[k] = v
	}
	for k, v := range s.milestones {
		c.milestones[k] = copyMilestone(v)
	}
	c.records = append([]models.VerificationRecord(nil), s.records...)
	for k, v := range s.payoutAccounts {
		c.payoutAccounts[k] = v
	}
	for k, v := range s.webhookEvents {
		c.webhookEvents[k] = v
	}
	c.auditLogs = append([]models.AuditLog(nil), s.auditLogs...)
	return c
}

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository keeps everything in process. It backs the memory database driver
// and the service tests. Transactions hold the lock for their whole duration and roll
// back by restoring a snapshot.
type MemoryRepository struct {
	mu    *sync.Mutex
	state **memoryState
	inTx  bool
	now   func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	state := newMemoryState()
	return &MemoryRepository{mu: &sync.Mutex{}, state: &state, now: time.Now}
}

func (r *MemoryRepository) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func (r *MemoryRepository) s() *memoryState {
	return *r.state
}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(tx Repository) error) (err error) {
	if r.inTx {
		return fn(r)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.s().clone()
	tx := &MemoryRepository{mu: r.mu, state: r.state, inTx: true, now: r.now}
	defer func() {
		if p := recover(); p != nil {
			*r.state = snapshot
			panic(p)
		}
		if err != nil {
			*r.state = snapshot
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(tx)
}

func (r *MemoryRepository) CreatePaymentCase(ctx context.Context, pc *models.PaymentCase) error {
	defer r.lock()()
	st := r.s()

	if pc.ID == uuid.Nil {
		pc.ID = uuid.New()
	}
	if _, ok := st.cases[pc.ID]; ok {
		return fmt.Errorf("payment case: %w", ErrDuplicate)
	}
	if ref := pc.ChargeRef(); ref != "" {
		if _, err := r.findByChargeLocked(ref); err == nil {
			return fmt.Errorf("payment case: %w", ErrDuplicate)
		}
	}
	now := r.now()
	pc.CreatedAt, pc.UpdatedAt = now, now
	if pc.Status == "" {
		pc.Status = models.PaymentStatusAwaitingPayment
	}

	stored := *pc
	stored.Milestones = nil
	st.seq++
	st.cases[pc.ID] = stored
	st.caseSeq[pc.ID] = st.seq
	return nil
}

func (r *MemoryRepository) GetPaymentCase(ctx context.Context, id uuid.UUID) (*models.PaymentCase, error) {
	defer r.lock()()
	pc, ok := r.s().cases[id]
	if !ok {
		return nil, fmt.Errorf("payment case: %w", ErrNotFound)
	}
	pc.Milestones = r.milestonesLocked(id)
	return &pc, nil
}

func (r *MemoryRepository) FindPaymentCaseByCharge(ctx context.Context, chargeReference string) (*models.PaymentCase, error) {
	defer r.lock()()
	return r.findByChargeLocked(chargeReference)
}

func (r *MemoryRepository) findByChargeLocked(ref string) (*models.PaymentCase, error) {
	if ref == "" {
		return nil, fmt.Errorf("payment case: %w", ErrNotFound)
	}
	for _, pc := range r.s().cases {
		if pc.ChargeRef() == ref {
			found := pc
			return &found, nil
		}
	}
	return nil, fmt.Errorf("payment case: %w", ErrNotFound)
}

func (r *MemoryRepository) SetChargeReference(ctx context.Context, id uuid.UUID, chargeReference, chargeStatus string) error {
	defer r.lock()()
	st := r.s()
	pc, ok := st.cases[id]
	if !ok {
		return fmt.Errorf("payment case %s: %w", id, ErrNotFound)
	}
	if other, err := r.findByChargeLocked(chargeReference); err == nil && other.ID != id {
		return fmt.Errorf("payment case: %w", ErrDuplicate)
	}
	ref := chargeReference
	pc.ChargeReference = &ref
	pc.ChargeStatus = chargeStatus
	pc.UpdatedAt = r.now()
	st.cases[id] = pc
	return nil
}

func (r *MemoryRepository) TransitionPaymentCase(ctx context.Context, pc *models.PaymentCase, from models.PaymentStatus) error {
	defer r.lock()()
	st := r.s()
	stored, ok := st.cases[pc.ID]
	if !ok {
		return fmt.Errorf("payment case %s: %w", pc.ID, ErrNotFound)
	}
	if stored.Status != from {
		return fmt.Errorf("payment case %s no longer %s: %w", pc.ID, from, ErrVersionConflict)
	}
	stored.Status = pc.Status
	stored.ChargeStatus = pc.ChargeStatus
	stored.FailureReason = pc.FailureReason
	stored.PaidAt = pc.PaidAt
	stored.UpdatedAt = r.now()
	st.cases[pc.ID] = stored
	return nil
}

func (r *MemoryRepository) ListPaymentCases(ctx context.Context, filter PaymentCaseFilter) ([]models.PaymentCase, int64, error) {
	defer r.lock()()
	st := r.s()
	params := utils.NormalizePagination(filter.PaginationParams)

	var matched []models.PaymentCase
	for _, pc := range st.cases {
		if filter.OrganizationID != nil && pc.OrganizationID != *filter.OrganizationID {
			continue
		}
		if filter.CompanyID != nil && (pc.CompanyID == nil || *pc.CompanyID != *filter.CompanyID) {
			continue
		}
		if filter.Status != nil && pc.Status != *filter.Status {
			continue
		}
		matched = append(matched, pc)
	}

	less := func(a, b models.PaymentCase) bool {
		if params.Sort == "grant_amount" && a.GrantAmount != b.GrantAmount {
			return a.GrantAmount < b.GrantAmount
		}
		return st.caseSeq[a.ID] < st.caseSeq[b.ID]
	}
	sort.Slice(matched, func(i, j int) bool {
		if params.Order == "asc" {
			return less(matched[i], matched[j])
		}
		return less(matched[j], matched[i])
	})

	total := int64(len(matched))
	start := params.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + params.Limit
	if end > len(matched) {
		end = len(matched)
	}
	page := matched[start:end]
	for i := range page {
		page[i].Milestones = r.milestonesLocked(page[i].ID)
	}
	return page, total, nil
}

func (r *MemoryRepository) CreateMilestones(ctx context.Context, milestones []models.Milestone) (int, error) {
	defer r.lock()()
	st := r.s()

	inserted := 0
	for i := range milestones {
		m := &milestones[i]
		if existing, err := r.byNumberLocked(m.PaymentCaseID, m.MilestoneNumber); err == nil {
			*m = *existing
			continue
		}
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		if m.Version == 0 {
			m.Version = 1
		}
		if m.Status == "" {
			m.Status = models.MilestoneStatusPending
		}
		now := r.now()
		m.CreatedAt, m.UpdatedAt = now, now
		st.milestones[m.ID] = copyMilestone(*m)
		inserted++
	}
	return inserted, nil
}

func (r *MemoryRepository) GetMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	defer r.lock()()
	m, ok := r.s().milestones[id]
	if !ok {
		return nil, fmt.Errorf("milestone: %w", ErrNotFound)
	}
	m = copyMilestone(m)
	return &m, nil
}

func (r *MemoryRepository) GetMilestoneByNumber(ctx context.Context, paymentCaseID uuid.UUID, number int) (*models.Milestone, error) {
	defer r.lock()()
	return r.byNumberLocked(paymentCaseID, number)
}

func (r *MemoryRepository) byNumberLocked(paymentCaseID uuid.UUID, number int) (*models.Milestone, error) {
	for _, m := range r.s().milestones {
		if m.PaymentCaseID == paymentCaseID && m.MilestoneNumber == number {
			found := copyMilestone(m)
			return &found, nil
		}
	}
	return nil, fmt.Errorf("milestone: %w", ErrNotFound)
}

func (r *MemoryRepository) ListMilestones(ctx context.Context, paymentCaseID uuid.UUID) ([]models.Milestone, error) {
	defer r.lock()()
	return r.milestonesLocked(paymentCaseID), nil
}

func (r *MemoryRepository) milestonesLocked(paymentCaseID uuid.UUID) []models.Milestone {
	var out []models.Milestone
	for _, m := range r.s().milestones {
		if m.PaymentCaseID == paymentCaseID {
			out = append(out, copyMilestone(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MilestoneNumber < out[j].MilestoneNumber })
	return out
}

func (r *MemoryRepository) ListApprovedUnpaid(ctx context.Context, limit int) ([]models.Milestone, error) {
	defer r.lock()()
	var out []models.Milestone
	for _, m := range r.s().milestones {
		if m.Status == models.MilestoneStatusApproved {
			out = append(out, copyMilestone(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ApprovedAt, out[j].ApprovedAt
		if a == nil || b == nil {
			return a != nil
		}
		return a.Before(*b)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) UpdateMilestone(ctx context.Context, m *models.Milestone) error {
	defer r.lock()()
	st := r.s()
	stored, ok := st.milestones[m.ID]
	if !ok {
		return fmt.Errorf("milestone %s: %w", m.ID, ErrNotFound)
	}
	if stored.Version != m.Version {
		return fmt.Errorf("milestone %s at version %d: %w", m.ID, m.Version, ErrVersionConflict)
	}
	m.Version++
	m.CreatedAt = stored.CreatedAt
	m.UpdatedAt = r.now()
	st.milestones[m.ID] = copyMilestone(*m)
	return nil
}

func (r *MemoryRepository) AppendVerificationRecord(ctx context.Context, rec *models.VerificationRecord) error {
	defer r.lock()()
	st := r.s()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	stored := *rec
	stored.Flags = append(pq.StringArray(nil), rec.Flags...)
	st.records = append(st.records, stored)
	return nil
}

func (r *MemoryRepository) ListVerificationRecords(ctx context.Context, milestoneID uuid.UUID) ([]models.VerificationRecord, error) {
	defer r.lock()()
	var out []models.VerificationRecord
	for _, rec := range r.s().records {
		if rec.MilestoneID == milestoneID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *MemoryRepository) GetPayoutAccount(ctx context.Context, organizationID uuid.UUID) (*models.PayoutAccount, error) {
	defer r.lock()()
	account, ok := r.s().payoutAccounts[organizationID]
	if !ok {
		return nil, fmt.Errorf("payout account: %w", ErrNotFound)
	}
	return &account, nil
}

func (r *MemoryRepository) UpsertPayoutAccount(ctx context.Context, account *models.PayoutAccount) error {
	defer r.lock()()
	st := r.s()
	now := r.now()
	if existing, ok := st.payoutAccounts[account.OrganizationID]; ok {
		account.ID = existing.ID
		account.CreatedAt = existing.CreatedAt
	} else {
		if account.ID == uuid.Nil {
			account.ID = uuid.New()
		}
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	st.payoutAccounts[account.OrganizationID] = *account
	return nil
}

func (r *MemoryRepository) RecordWebhookEvent(ctx context.Context, ev *models.WebhookEvent) (*models.WebhookEvent, error) {
	defer r.lock()()
	st := r.s()
	if stored, ok := st.webhookEvents[ev.EventID]; ok {
		stored.TryCount++
		st.webhookEvents[ev.EventID] = stored
		return &stored, nil
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	now := r.now()
	ev.CreatedAt, ev.UpdatedAt = now, now
	ev.TryCount = 1
	if ev.Status == "" {
		ev.Status = models.WebhookEventStatusReceived
	}
	st.webhookEvents[ev.EventID] = *ev
	stored := *ev
	return &stored, nil
}

func (r *MemoryRepository) UpdateWebhookEvent(ctx context.Context, ev *models.WebhookEvent) error {
	defer r.lock()()
	st := r.s()
	stored, ok := st.webhookEvents[ev.EventID]
	if !ok {
		return fmt.Errorf("webhook event: %w", ErrNotFound)
	}
	stored.Status = ev.Status
	stored.Error = ev.Error
	stored.ProcessedAt = ev.ProcessedAt
	stored.UpdatedAt = r.now()
	st.webhookEvents[ev.EventID] = stored
	return nil
}

// WebhookEvent returns the logged event with the given provider id.
func (r *MemoryRepository) WebhookEvent(eventID string) (models.WebhookEvent, bool) {
	defer r.lock()()
	ev, ok := r.s().webhookEvents[eventID]
	return ev, ok
}

func (r *MemoryRepository) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	defer r.lock()()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = r.now()
	st := r.s()
	st.auditLogs = append(st.auditLogs, *entry)
	return nil
}

func copyMilestone(m models.Milestone) models.Milestone {
	if m.PhotoURLs != nil {
		m.PhotoURLs = append(pq.StringArray(nil), m.PhotoURLs...)
	}
	return m
}
