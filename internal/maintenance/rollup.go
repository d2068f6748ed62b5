package maintenance

import (
	"context"
	"fmt"
	"time"

	"chatbroker/internal/repository/postgres"
)

// exportRollups pages through every user_analysis row and writes one
// ClickHouse row per user into user_analysis_rollup, sending one batch
// per page, matching generate_user_summaries/run_ai_scoring's per-user
// pass, simplified to the counters stored in user_analysis rather than
// re-deriving them from raw messages. A nil ClickHouse
// writer disables this step.
func (s *Scheduler) exportRollups(ctx context.Context) error {
	if s.cfg.ClickHouse == nil {
		return nil
	}
	return paginate(rollupPageSize, func(offset, limit int) (int, error) {
		page, err := s.cfg.Store.ListAnalysisForRollup(ctx, offset, limit)
		if err != nil {
			return 0, fmt.Errorf("list rollup candidates: %w", err)
		}
		if len(page) == 0 {
			return 0, nil
		}
		if err := s.writeRollupBatch(ctx, page); err != nil {
			return 0, err
		}
		return len(page), nil
	})
}

func (s *Scheduler) writeRollupBatch(ctx context.Context, page []postgres.RollupCandidate) error {
	batch, err := s.cfg.ClickHouse.PrepareBatch(ctx, `
		INSERT INTO user_analysis_rollup (user_id, message_count, spam_score, toxicity_score, rolled_up_at)`)
	if err != nil {
		return fmt.Errorf("prepare rollup batch: %w", err)
	}

	rolledUpAt := time.Now()
	for _, c := range page {
		if err := batch.Append(c.UserID, c.MessageCount, c.SpamScore, c.ToxicityScore, rolledUpAt); err != nil {
			return fmt.Errorf("append rollup row for %s: %w", c.UserID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send rollup batch: %w", err)
	}
	return nil
}

// paginate calls fetch with successive offsets until it reports fewer
// than limit rows processed, the page-until-short-page idiom every
// ListAnalysisForRollup caller needs regardless of what it does with
// each page.
func paginate(limit int, fetch func(offset, limit int) (int, error)) error {
	offset := 0
	for {
		n, err := fetch(offset, limit)
		if err != nil {
			return err
		}
		if n < limit {
			return nil
		}
		offset += limit
	}
}
