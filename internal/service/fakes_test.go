package service_test

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	appErrors "github.com/mailpilot/crm-backend/internal/errors"
	"github.com/mailpilot/crm-backend/internal/model"
)

// In-memory fakes mirroring the SQL repositories' contracts.

type memCampaignRepo struct {
	mu        sync.Mutex
	nextID    int
	campaigns map[int]*model.Campaign
}

func newMemCampaignRepo() *memCampaignRepo {
	return &memCampaignRepo{campaigns: map[int]*model.Campaign{}}
}

func (r *memCampaignRepo) Create(c *model.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	c.ID = r.nextID
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	cp := *c
	r.campaigns[c.ID] = &cp
	return nil
}

func (r *memCampaignRepo) GetByID(id int) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (r *memCampaignRepo) ListCampaigns(offset, limit int, status string) ([]*model.Campaign, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := []*model.Campaign{}
	for _, c := range r.campaigns {
		if status != "" && string(c.Status) != status {
			continue
		}
		cp := *c
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := len(all)
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *memCampaignRepo) ListDue(now time.Time) ([]*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	due := []*model.Campaign{}
	for _, c := range r.campaigns {
		if c.Status == model.CampaignScheduled && c.ScheduleDate != nil && !c.ScheduleDate.After(now) {
			cp := *c
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

func (r *memCampaignRepo) ListScheduled() ([]*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range r.campaigns {
		if c.Status == model.CampaignScheduled {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memCampaignRepo) UpdateStatus(id int, status model.CampaignStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	c.Status = status
	return nil
}

func (r *memCampaignRepo) ClaimStatus(id int, from, to model.CampaignStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	return true, nil
}

func (r *memCampaignRepo) UpdateSchedule(id int, scheduleType model.ScheduleType, scheduleDate *time.Time, frequency model.Frequency, status model.CampaignStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	c.ScheduleType = scheduleType
	c.ScheduleDate = scheduleDate
	c.Frequency = frequency
	c.Status = status
	return nil
}

func (r *memCampaignRepo) AddSent(id, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[id]; ok {
		c.SentCount += delta
	}
	return nil
}

func (r *memCampaignRepo) IncrementOpened(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[id]; ok {
		c.OpenedCount++
	}
	return nil
}

func (r *memCampaignRepo) IncrementClicked(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[id]; ok {
		c.ClickedCount++
	}
	return nil
}

func (r *memCampaignRepo) Delete(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.campaigns, id)
	return nil
}

type memRecipientRepo struct {
	recipients []model.Recipient
}

func (r *memRecipientRepo) GetByID(id int) (*model.Recipient, error) {
	for i := range r.recipients {
		if r.recipients[i].ID == id {
			rec := r.recipients[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (r *memRecipientRepo) ListAll() ([]model.Recipient, error) {
	out := append([]model.Recipient{}, r.recipients...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRecipientRepo) ListByCampaign(campaignID int) ([]model.Recipient, error) {
	out := []model.Recipient{}
	for _, rec := range r.recipients {
		if rec.CampaignID != nil && *rec.CampaignID == campaignID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memRecipientRepo) ListByIDs(ids []int) ([]model.Recipient, error) {
	want := map[int]bool{}
	for _, id := range ids {
		want[id] = true
	}
	out := []model.Recipient{}
	for _, rec := range r.recipients {
		if want[rec.ID] {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memBatchRepo struct {
	mu      sync.Mutex
	nextID  int
	batches map[int]*model.Batch
	members map[int][]int

	failAfter int // fail CreateBatch after this many successes, 0 = never
	created   int
}

func newMemBatchRepo() *memBatchRepo {
	return &memBatchRepo{batches: map[int]*model.Batch{}, members: map[int][]int{}}
}

func (r *memBatchRepo) CreateBatch(campaignID, batchNumber int, recipientIDs []int) (*model.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAfter > 0 && r.created >= r.failAfter {
		return nil, fmt.Errorf("store unavailable")
	}
	r.created++
	r.nextID++
	b := &model.Batch{
		ID:              r.nextID,
		CampaignID:      campaignID,
		BatchNumber:     batchNumber,
		TotalRecipients: len(recipientIDs),
		Status:          model.BatchPending,
	}
	r.batches[b.ID] = b
	r.members[b.ID] = append([]int{}, recipientIDs...)
	cp := *b
	return &cp, nil
}

func (r *memBatchRepo) ListByCampaign(campaignID int) ([]*model.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.Batch{}
	for _, b := range r.batches {
		if b.CampaignID == campaignID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchNumber < out[j].BatchNumber })
	return out, nil
}

func (r *memBatchRepo) ListMemberIDs(batchID int) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int{}, r.members[batchID]...), nil
}

func (r *memBatchRepo) ClaimBatch(batchID int, from, to model.BatchStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	now := time.Now()
	if b.StartedAt == nil {
		b.StartedAt = &now
	}
	return true, nil
}

func (r *memBatchRepo) FinishBatch(batchID, sentCount, failedCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	if !ok {
		return fmt.Errorf("batch %d not found", batchID)
	}
	b.SentCount = sentCount
	b.FailedCount = failedCount
	b.Status = model.BatchCompleted
	now := time.Now()
	b.CompletedAt = &now
	return nil
}

func (r *memBatchRepo) ResetBatches(campaignID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.batches {
		if b.CampaignID == campaignID {
			b.Status = model.BatchPending
			b.SentCount = 0
			b.FailedCount = 0
			b.StartedAt = nil
			b.CompletedAt = nil
		}
	}
	return nil
}

func (r *memBatchRepo) DeleteByCampaign(campaignID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, b := range r.batches {
		if b.CampaignID == campaignID {
			delete(r.batches, id)
			delete(r.members, id)
		}
	}
	return nil
}

func (r *memBatchRepo) Stats(campaignID int) (*model.BatchStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &model.BatchStats{}
	for _, b := range r.batches {
		if b.CampaignID != campaignID {
			continue
		}
		s.TotalBatches++
		if b.Status == model.BatchCompleted {
			s.CompletedBatches++
		}
		s.TotalRecipients += b.TotalRecipients
		s.TotalSent += b.SentCount
		s.TotalFailed += b.FailedCount
	}
	return s, nil
}

type ledgerKey struct {
	campaignID  int
	recipientID int
}

type memLedgerRepo struct {
	mu      sync.Mutex
	nextID  int
	entries map[ledgerKey]*model.LedgerEntry
}

func newMemLedgerRepo() *memLedgerRepo {
	return &memLedgerRepo{entries: map[ledgerKey]*model.LedgerEntry{}}
}

// RecordOutcome mirrors the SQL repository: one row per (campaign,
// recipient); a sent row is immutable; a second sent for the same
// lowercased email under the same campaign is a no-op.
func (r *memLedgerRepo) RecordOutcome(campaignID, recipientID int, email string, status model.LedgerStatus, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if status == model.LedgerSent {
		for k, e := range r.entries {
			if k.campaignID == campaignID && k.recipientID != recipientID &&
				strings.EqualFold(e.Email, email) && e.Status == model.LedgerSent {
				return nil
			}
		}
	}

	key := ledgerKey{campaignID, recipientID}
	e, ok := r.entries[key]
	if !ok {
		r.nextID++
		e = &model.LedgerEntry{
			ID:            r.nextID,
			CampaignID:    campaignID,
			RecipientID:   recipientID,
			Email:         email,
			TrackingToken: fmt.Sprintf("token-%d", r.nextID),
			Status:        model.LedgerPending,
			CreatedAt:     time.Now(),
		}
		r.entries[key] = e
	}
	if e.Status == model.LedgerSent {
		return nil
	}
	e.Status = status
	e.ErrorMessage = errorMessage
	if status == model.LedgerSent && e.SentAt == nil {
		now := time.Now()
		e.SentAt = &now
	}
	return nil
}

func (r *memLedgerRepo) GetStats(campaignID int) (*model.LedgerStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &model.LedgerStats{}
	for k, e := range r.entries {
		if k.campaignID != campaignID {
			continue
		}
		s.TotalSends++
		switch e.Status {
		case model.LedgerSent:
			s.SentCount++
		case model.LedgerFailed:
			s.FailedCount++
		}
		if e.OpenedAt != nil {
			s.OpenedCount++
		}
	}
	return s, nil
}

func (r *memLedgerRepo) GetByToken(token string) (*model.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.TrackingToken == token {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memLedgerRepo) RecordOpen(token string) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.TrackingToken == token {
			e.OpenCount++
			if e.OpenedAt == nil {
				now := time.Now()
				e.OpenedAt = &now
			}
			return e.CampaignID, e.OpenCount == 1, nil
		}
	}
	return 0, false, nil
}

func (r *memLedgerRepo) RecordClick(token, url string) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.TrackingToken == token {
			e.ClickCount++
			if e.ClickedAt == nil {
				now := time.Now()
				e.ClickedAt = &now
			}
			return e.CampaignID, e.ClickCount == 1, nil
		}
	}
	return 0, false, nil
}

func (r *memLedgerRepo) sentCountForEmail(campaignID int, email string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, e := range r.entries {
		if k.campaignID == campaignID && strings.EqualFold(e.Email, email) && e.Status == model.LedgerSent {
			n++
		}
	}
	return n
}

type memQueueRepo struct {
	mu     sync.Mutex
	nextID int
	items  map[int]*model.QueueItem
}

func newMemQueueRepo() *memQueueRepo {
	return &memQueueRepo{items: map[int]*model.QueueItem{}}
}

func (r *memQueueRepo) Insert(item *model.QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	item.ID = r.nextID
	if item.Status == "" {
		item.Status = model.QueuePending
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	cp := *item
	r.items[item.ID] = &cp
	return nil
}

func (r *memQueueRepo) GetByID(id int) (*model.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (r *memQueueRepo) SelectDrainable(limit int) ([]*model.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.QueueItem{}
	for _, item := range r.items {
		if (item.Status == model.QueuePending || item.Status == model.QueueFailed) &&
			item.Attempts < model.MaxQueueAttempts {
			cp := *item
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memQueueRepo) Claim(id int, from, to model.QueueStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok || item.Status != from {
		return false, nil
	}
	item.Status = to
	return true, nil
}

func (r *memQueueRepo) MarkSent(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item := r.items[id]
	item.Status = model.QueueSent
	now := time.Now()
	item.SentAt = &now
	item.LastAttempt = &now
	item.ErrorMessage = ""
	return nil
}

func (r *memQueueRepo) MarkFailed(id int, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item := r.items[id]
	item.Status = model.QueueFailed
	item.Attempts++
	now := time.Now()
	item.LastAttempt = &now
	item.ErrorMessage = errorMessage
	return nil
}

func (r *memQueueRepo) RetryFailed() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.items {
		if item.Status == model.QueueFailed && item.Attempts < model.MaxQueueAttempts {
			item.Status = model.QueuePending
			n++
		}
	}
	return n, nil
}

// memBroker records published triggers.
type memBroker struct {
	mu       sync.Mutex
	topics   []string
	payloads []any
}

func (b *memBroker) Publish(topic string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	b.payloads = append(b.payloads, payload)
	return nil
}

func (b *memBroker) Subscribe(topic string, handler func(payload any) error) error {
	return nil
}

func (b *memBroker) Close() error { return nil }

// fakeMailer counts calls and fails according to failEvery or failAll.
type fakeMailer struct {
	mu        sync.Mutex
	calls     int
	sentTo    []string
	failEvery int // fail every Nth call, 0 = never
	failAll   bool
}

func (m *fakeMailer) Send(to, subject, htmlBody, fromName, fromEmail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failAll || (m.failEvery > 0 && m.calls%m.failEvery == 0) {
		return fmt.Errorf("transport rejected %s", to)
	}
	m.sentTo = append(m.sentTo, to)
	return nil
}
