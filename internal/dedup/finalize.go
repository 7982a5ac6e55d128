package dedup

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FinalizeClusters converts open clusters that have been idle past the
// stability window into canonical creditors, resolving their mentions.
// Returns how many clusters were finalized.
func (d *Deduplicator) FinalizeClusters(ctx context.Context) (int, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, representative, COALESCE(edrpou, '')
		 FROM bankruptcy.dedup_clusters
		 WHERE status = 'open' AND last_joined_at < now() - ($1 * interval '1 second')
		 ORDER BY id`,
		d.stabilityWindow.Seconds(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "dedup: load stable clusters")
	}

	type stableCluster struct {
		ID             int64
		Representative string
		EDRPOU         string
	}
	var stable []stableCluster
	for rows.Next() {
		var c stableCluster
		if err := rows.Scan(&c.ID, &c.Representative, &c.EDRPOU); err != nil {
			rows.Close()
			return 0, eris.Wrap(err, "dedup: scan stable cluster")
		}
		stable = append(stable, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "dedup: iterate stable clusters")
	}

	finalized := 0
	var firstErr error
	for _, c := range stable {
		if ctx.Err() != nil {
			return finalized, eris.Wrap(ctx.Err(), "dedup: cancelled")
		}
		if err := d.finalizeCluster(ctx, c.ID, c.Representative, c.EDRPOU); err != nil {
			// One bad cluster must not starve the rest of the pass.
			d.log.Warn("cluster finalization failed",
				zap.Int64("cluster_id", c.ID),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		finalized++
	}
	if finalized > 0 {
		d.log.Info("clusters finalized", zap.Int("count", finalized))
	}
	return finalized, firstErr
}

// finalizeCluster promotes one cluster. A concurrent or earlier run may
// already hold an active canonical with the same normalized name; the
// upsert folds the cluster into it instead of failing. An active canonical
// holding the same registry code under a different name trips the unique
// index instead, so that violation folds into the code's owner.
func (d *Deduplicator) finalizeCluster(ctx context.Context, clusterID int64, representative, edrpou string) error {
	var edrpouArg *string
	if edrpou != "" {
		edrpouArg = &edrpou
	}

	var canonicalID int64
	err := d.pool.QueryRow(ctx,
		`INSERT INTO bankruptcy.canonical_creditors (name, normalized_name, edrpou, status)
		 VALUES ($1, $2, $3, 'active')
		 ON CONFLICT (normalized_name) WHERE status = 'active'
		 DO UPDATE SET updated_at = now()
		 RETURNING id`,
		representative, Normalize(representative), edrpouArg,
	).Scan(&canonicalID)
	if err != nil {
		var pgErr *pgconn.PgError
		if edrpouArg == nil || !errors.As(err, &pgErr) || pgErr.Code != "23505" {
			return eris.Wrapf(err, "dedup: create canonical for cluster %d", clusterID)
		}
		if err := d.pool.QueryRow(ctx,
			`SELECT id FROM bankruptcy.canonical_creditors
			 WHERE edrpou = $1 AND status = 'active'`,
			edrpou,
		).Scan(&canonicalID); err != nil {
			return eris.Wrapf(err, "dedup: look up canonical by code for cluster %d", clusterID)
		}
	}

	if _, err := d.pool.Exec(ctx,
		`UPDATE bankruptcy.dedup_clusters
		 SET status = 'finalized', canonical_id = $1
		 WHERE id = $2`,
		canonicalID, clusterID,
	); err != nil {
		return eris.Wrapf(err, "dedup: finalize cluster %d", clusterID)
	}

	if _, err := d.pool.Exec(ctx,
		`UPDATE bankruptcy.creditor_mentions
		 SET status = 'resolved', canonical_id = $1
		 WHERE cluster_id = $2`,
		canonicalID, clusterID,
	); err != nil {
		return eris.Wrapf(err, "dedup: resolve mentions for cluster %d", clusterID)
	}

	if _, err := d.pool.Exec(ctx,
		`UPDATE bankruptcy.canonical_creditors
		 SET mention_count = (
		   SELECT count(*) FROM bankruptcy.creditor_mentions WHERE canonical_id = $1
		 ), updated_at = now()
		 WHERE id = $1`,
		canonicalID,
	); err != nil {
		return eris.Wrapf(err, "dedup: recount mentions for canonical %d", canonicalID)
	}

	return nil
}
