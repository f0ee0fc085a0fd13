package service

import (
	"log/slog"
	"sort"
	"strings"

	appErrors "github.com/mailpilot/crm-backend/internal/errors"
	"github.com/mailpilot/crm-backend/internal/model"
	"github.com/mailpilot/crm-backend/internal/repository"
)

const (
	DefaultBatchSize = 200
	MaxBatchSize     = 1000
)

// DedupScope selects the candidate pool when no explicit id set is given.
type DedupScope string

const (
	// ScopeGlobal deduplicates across the whole recipient pool. Two
	// campaigns sharing an address resolve to the same canonical row.
	ScopeGlobal DedupScope = "global"
	// ScopeCampaign restricts candidates to recipients associated with
	// the campaign being partitioned.
	ScopeCampaign DedupScope = "campaign"
)

type PartitionOptions struct {
	BatchSize int
	Scope     DedupScope
}

type PartitionResult struct {
	Batches         []*model.Batch `json:"batches"`
	TotalRecipients int            `json:"total_recipients"`
	BatchCount      int            `json:"batch_count"`
}

// Partitioner deduplicates a candidate recipient set and persists it as
// fixed-size batches for one campaign.
type Partitioner struct {
	Recipients repository.RecipientRepositoryInterface
	Batches    repository.BatchRepositoryInterface

	DefaultSize int // fallback when the request omits batch_size
	Log         *slog.Logger
}

// Partition resolves one canonical recipient per distinct lowercase email
// (minimum id wins), sorts the canonical ids ascending and slices them
// into batches of opts.BatchSize. Each chunk is persisted transactionally;
// chunk i becomes batch number i+1. An empty candidate set is a
// validation error so callers never create zero-recipient batches.
func (p *Partitioner) Partition(campaignID int, candidateIDs []int, opts PartitionOptions) (*PartitionResult, error) {
	batchSize := opts.BatchSize
	if batchSize < 1 {
		batchSize = p.DefaultSize
	}
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}

	candidates, err := p.loadCandidates(campaignID, candidateIDs, opts.Scope)
	if err != nil {
		return nil, err
	}

	canonical := Deduplicate(candidates)
	if len(canonical) == 0 {
		return nil, appErrors.NewValidation("no recipients to batch for campaign %d", campaignID)
	}

	result := &PartitionResult{TotalRecipients: len(canonical)}
	for start := 0; start < len(canonical); start += batchSize {
		end := start + batchSize
		if end > len(canonical) {
			end = len(canonical)
		}
		batchNumber := start/batchSize + 1

		batch, err := p.Batches.CreateBatch(campaignID, batchNumber, canonical[start:end])
		if err != nil {
			// chunks persisted so far stay; a retrying caller clears
			// prior batches before re-partitioning
			return result, err
		}
		result.Batches = append(result.Batches, batch)
		result.BatchCount++
	}

	p.Log.Info("partitioned recipients",
		"campaign_id", campaignID,
		"total_recipients", result.TotalRecipients,
		"batch_count", result.BatchCount,
		"batch_size", batchSize)

	return result, nil
}

// ClearBatches removes prior batches so a caller can re-partition after
// a partial failure.
func (p *Partitioner) ClearBatches(campaignID int) error {
	return p.Batches.DeleteByCampaign(campaignID)
}

func (p *Partitioner) loadCandidates(campaignID int, candidateIDs []int, scope DedupScope) ([]model.Recipient, error) {
	if len(candidateIDs) > 0 {
		return p.Recipients.ListByIDs(candidateIDs)
	}
	if scope == ScopeCampaign {
		return p.Recipients.ListByCampaign(campaignID)
	}
	return p.Recipients.ListAll()
}

// Deduplicate groups recipients by lowercased email and keeps the row
// with the minimum id as the canonical representative of each group.
// The returned ids are sorted ascending.
func Deduplicate(recipients []model.Recipient) []int {
	canonical := make(map[string]int, len(recipients))
	for _, r := range recipients {
		email := strings.ToLower(strings.TrimSpace(r.Email))
		if email == "" {
			continue
		}
		if id, ok := canonical[email]; !ok || r.ID < id {
			canonical[email] = r.ID
		}
	}

	ids := make([]int, 0, len(canonical))
	for _, id := range canonical {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
