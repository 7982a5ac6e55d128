package dedup

import (
	"context"

	"github.com/rotisserie/eris"
)

// mergeCanonicals collapses duplicate canonical creditors into the
// earliest-created one. Merged rows stay in place pointing at the survivor;
// their mentions and clusters are reassigned and the survivor's count is
// recomputed.
func (d *Deduplicator) mergeCanonicals(ctx context.Context, keep int64, merged []int64) error {
	if _, err := d.pool.Exec(ctx,
		`UPDATE bankruptcy.canonical_creditors
		 SET status = 'merged', merged_into = $1, updated_at = now()
		 WHERE id = ANY($2)`,
		keep, merged,
	); err != nil {
		return eris.Wrapf(err, "dedup: mark canonicals merged into %d", keep)
	}

	if _, err := d.pool.Exec(ctx,
		`UPDATE bankruptcy.creditor_mentions
		 SET canonical_id = $1
		 WHERE canonical_id = ANY($2)`,
		keep, merged,
	); err != nil {
		return eris.Wrapf(err, "dedup: reassign mentions to canonical %d", keep)
	}

	if _, err := d.pool.Exec(ctx,
		`UPDATE bankruptcy.dedup_clusters
		 SET canonical_id = $1
		 WHERE canonical_id = ANY($2)`,
		keep, merged,
	); err != nil {
		return eris.Wrapf(err, "dedup: reassign clusters to canonical %d", keep)
	}

	if _, err := d.pool.Exec(ctx,
		`UPDATE bankruptcy.canonical_creditors
		 SET mention_count = (
		   SELECT count(*) FROM bankruptcy.creditor_mentions WHERE canonical_id = $1
		 ), updated_at = now()
		 WHERE id = $1`,
		keep,
	); err != nil {
		return eris.Wrapf(err, "dedup: recount mentions for canonical %d", keep)
	}

	return nil
}
