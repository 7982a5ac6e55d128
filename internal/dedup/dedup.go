package dedup

import (
	"context"
	"time"

	"github.com/agext/levenshtein"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chesno-labs/bankflow/internal/db"
)

// Deduplicator resolves pending creditor mentions against canonical
// creditors and open clusters. Mentions are processed in ascending id
// order, so a fixed input set always produces the same assignments.
type Deduplicator struct {
	pool            db.Pool
	threshold       float64
	stabilityWindow time.Duration
	log             *zap.Logger
}

// New creates a Deduplicator. threshold is the minimum name similarity
// for a match; stabilityWindow is how long a cluster must stay idle
// before finalization.
func New(pool db.Pool, threshold float64, stabilityWindow time.Duration) *Deduplicator {
	return &Deduplicator{
		pool:            pool,
		threshold:       threshold,
		stabilityWindow: stabilityWindow,
		log:             zap.L().With(zap.String("component", "dedup")),
	}
}

// pendingMention is an unresolved, unclustered mention.
type pendingMention struct {
	ID             int64
	RawText        string
	NormalizedText string
	EDRPOU         string
}

// candidate is an active canonical or open cluster considered for matching.
type candidate struct {
	ID         int64
	Normalized string
	EDRPOU     string
}

// ProcessBatch resolves up to limit pending mentions and returns how many
// were assigned to a canonical, joined to a cluster, or seeded a cluster.
func (d *Deduplicator) ProcessBatch(ctx context.Context, limit int) (int, error) {
	mentions, err := d.loadPending(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(mentions) == 0 {
		return 0, nil
	}

	canonicals, err := d.loadActiveCanonicals(ctx)
	if err != nil {
		return 0, err
	}
	clusters, err := d.loadOpenClusters(ctx)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, m := range mentions {
		if ctx.Err() != nil {
			return processed, eris.Wrap(ctx.Err(), "dedup: cancelled")
		}
		if err := d.resolveMention(ctx, m, &canonicals, &clusters); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

// resolveMention applies the match ladder: exact registry code, canonical
// name similarity, cluster similarity, then a fresh cluster.
func (d *Deduplicator) resolveMention(ctx context.Context, m pendingMention, canonicals, clusters *[]candidate) error {
	// Registry code is authoritative when both sides carry one. Open
	// clusters are checked too, so two clusters never hold the same code.
	if m.EDRPOU != "" {
		for _, c := range *canonicals {
			if c.EDRPOU == m.EDRPOU {
				return d.assignToCanonical(ctx, m.ID, c.ID)
			}
		}
		for _, c := range *clusters {
			if c.EDRPOU == m.EDRPOU {
				return d.joinCluster(ctx, m.ID, c.ID)
			}
		}
	}

	// Candidates are in ascending id order, so matched ids come out sorted
	// and the merge survivor is the earliest-created canonical.
	var matched []int64
	for _, c := range *canonicals {
		if levenshtein.Similarity(m.NormalizedText, c.Normalized, nil) >= d.threshold {
			matched = append(matched, c.ID)
		}
	}
	switch {
	case len(matched) == 1:
		return d.assignToCanonical(ctx, m.ID, matched[0])
	case len(matched) > 1:
		keep := matched[0]
		d.log.Info("merging canonical creditors",
			zap.Int64("keep", keep),
			zap.Int64s("merged", matched[1:]),
		)
		if err := d.mergeCanonicals(ctx, keep, matched[1:]); err != nil {
			return err
		}
		dropMerged(canonicals, matched[1:])
		return d.assignToCanonical(ctx, m.ID, keep)
	}

	// Best open cluster wins; equal scores break toward the earliest
	// cluster id, which the ascending scan gives for free.
	bestID := int64(0)
	bestScore := 0.0
	for _, c := range *clusters {
		score := levenshtein.Similarity(m.NormalizedText, c.Normalized, nil)
		if score >= d.threshold && score > bestScore {
			bestID = c.ID
			bestScore = score
		}
	}
	if bestID != 0 {
		return d.joinCluster(ctx, m.ID, bestID)
	}

	id, err := d.createCluster(ctx, m)
	if err != nil {
		return err
	}
	*clusters = append(*clusters, candidate{ID: id, Normalized: m.NormalizedText, EDRPOU: m.EDRPOU})
	return nil
}

func (d *Deduplicator) loadPending(ctx context.Context, limit int) ([]pendingMention, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, raw_text, normalized_text, COALESCE(edrpou, '')
		 FROM bankruptcy.creditor_mentions
		 WHERE status = 'pending' AND cluster_id IS NULL
		 ORDER BY id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "dedup: load pending mentions")
	}
	defer rows.Close()

	var out []pendingMention
	for rows.Next() {
		var m pendingMention
		if err := rows.Scan(&m.ID, &m.RawText, &m.NormalizedText, &m.EDRPOU); err != nil {
			return nil, eris.Wrap(err, "dedup: scan mention")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (d *Deduplicator) loadActiveCanonicals(ctx context.Context) ([]candidate, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, normalized_name, COALESCE(edrpou, '')
		 FROM bankruptcy.canonical_creditors
		 WHERE status = 'active'
		 ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "dedup: load canonicals")
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.ID, &c.Normalized, &c.EDRPOU); err != nil {
			return nil, eris.Wrap(err, "dedup: scan canonical")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *Deduplicator) loadOpenClusters(ctx context.Context) ([]candidate, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, representative, COALESCE(edrpou, '')
		 FROM bankruptcy.dedup_clusters
		 WHERE status = 'open'
		 ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "dedup: load open clusters")
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var c candidate
		var rep string
		if err := rows.Scan(&c.ID, &rep, &c.EDRPOU); err != nil {
			return nil, eris.Wrap(err, "dedup: scan cluster")
		}
		c.Normalized = Normalize(rep)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *Deduplicator) assignToCanonical(ctx context.Context, mentionID, canonicalID int64) error {
	if _, err := d.pool.Exec(ctx,
		`UPDATE bankruptcy.creditor_mentions
		 SET status = 'resolved', canonical_id = $1
		 WHERE id = $2`,
		canonicalID, mentionID,
	); err != nil {
		return eris.Wrapf(err, "dedup: resolve mention %d", mentionID)
	}

	if _, err := d.pool.Exec(ctx,
		`UPDATE bankruptcy.canonical_creditors
		 SET mention_count = mention_count + 1, updated_at = now()
		 WHERE id = $1`,
		canonicalID,
	); err != nil {
		return eris.Wrapf(err, "dedup: bump mention count for canonical %d", canonicalID)
	}
	return nil
}

func (d *Deduplicator) joinCluster(ctx context.Context, mentionID, clusterID int64) error {
	if _, err := d.pool.Exec(ctx,
		`UPDATE bankruptcy.creditor_mentions SET cluster_id = $1 WHERE id = $2`,
		clusterID, mentionID,
	); err != nil {
		return eris.Wrapf(err, "dedup: join mention %d to cluster %d", mentionID, clusterID)
	}

	if _, err := d.pool.Exec(ctx,
		`UPDATE bankruptcy.dedup_clusters SET last_joined_at = now() WHERE id = $1`,
		clusterID,
	); err != nil {
		return eris.Wrapf(err, "dedup: touch cluster %d", clusterID)
	}
	return nil
}

func (d *Deduplicator) createCluster(ctx context.Context, m pendingMention) (int64, error) {
	var edrpou *string
	if m.EDRPOU != "" {
		edrpou = &m.EDRPOU
	}

	var id int64
	err := d.pool.QueryRow(ctx,
		`INSERT INTO bankruptcy.dedup_clusters (representative, edrpou, status)
		 VALUES ($1, $2, 'open') RETURNING id`,
		m.RawText, edrpou,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "dedup: create cluster for mention %d", m.ID)
	}

	if _, err := d.pool.Exec(ctx,
		`UPDATE bankruptcy.creditor_mentions SET cluster_id = $1 WHERE id = $2`,
		id, m.ID,
	); err != nil {
		return 0, eris.Wrapf(err, "dedup: seed cluster %d with mention %d", id, m.ID)
	}
	return id, nil
}

// dropMerged removes merged canonical ids from the in-memory candidate set.
func dropMerged(canonicals *[]candidate, merged []int64) {
	gone := make(map[int64]struct{}, len(merged))
	for _, id := range merged {
		gone[id] = struct{}{}
	}
	kept := (*canonicals)[:0]
	for _, c := range *canonicals {
		if _, ok := gone[c.ID]; !ok {
			kept = append(kept, c)
		}
	}
	*canonicals = kept
}
