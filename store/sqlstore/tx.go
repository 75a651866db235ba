package sqlstore

import (
	"database/sql"
	"time"

	"github.com/blockberries/tallyberry/store"
	"github.com/blockberries/tallyberry/types"
)

// txn implements store.Tx on a *sql.Tx.
type txn struct {
	reader
	now time.Time
}

func (t *txn) Now() time.Time { return t.now }

func (t *txn) exec(query string, args ...any) (sql.Result, error) {
	res, err := t.q.ExecContext(t.ctx, t.d.rebind(query), args...)
	if err != nil {
		return nil, mapError(err)
	}
	return res, nil
}

// execOne runs a statement that must touch exactly one row.
func (t *txn) execOne(query string, args ...any) error {
	res, err := t.exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *txn) LockItem(project types.ProjectID, key types.ItemKey) (types.Item, error) {
	it := types.Item{Key: key}
	err := t.queryRow(`SELECT points_needed FROM project_items
		WHERE project_id = ? AND item_key = ?`+t.d.lockSuffix, string(project), string(key)).
		Scan(&it.PointsNeeded)
	if err != nil {
		return types.Item{}, mapError(err)
	}
	return it, nil
}

func (t *txn) InsertProject(p *types.Project) error {
	published := 0
	if p.IsPublished {
		published = 1
	}
	if _, err := t.exec(`INSERT INTO projects (id, name, is_published, created_at) VALUES (?, ?, ?, ?)`,
		string(p.ID), p.Name, published, toNanos(p.CreatedAt)); err != nil {
		return err
	}
	for i, it := range p.Items {
		if _, err := t.exec(`INSERT INTO project_items (project_id, item_key, points_needed, position)
			VALUES (?, ?, ?, ?)`, string(p.ID), string(it.Key), it.PointsNeeded, i); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) SetPublished(id types.ProjectID) error {
	return t.execOne(`UPDATE projects SET is_published = 1 WHERE id = ?`, string(id))
}

func (t *txn) InsertCandidate(c types.Candidate) error {
	ref := c.Ref()
	if _, err := t.exec(`INSERT INTO candidates (kind, id, project_id, creator_id, reference, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int(ref.Kind), ref.ID, string(c.OwnerProject()), string(c.Creator()), c.Reference(),
		c.ContentHash().String(), toNanos(c.CreatedAt())); err != nil {
		return err
	}
	for _, key := range c.Keys() {
		v, _ := c.Value(key)
		if _, err := t.exec(`INSERT INTO candidate_values (kind, candidate_id, item_key, value)
			VALUES (?, ?, ?, ?)`, int(ref.Kind), ref.ID, string(key), string(v)); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) InsertAllocation(a *types.VoteAllocation) error {
	pp, ip := refColumns(a.Candidate)
	_, err := t.exec(`INSERT INTO vote_allocations (id, voter_id, project_id, item_key, weight,
		project_proposal_id, item_proposal_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Voter), string(a.Project), string(a.Key), a.Weight,
		pp, ip, toNanos(a.CreatedAt), toNanos(a.UpdatedAt))
	return err
}

func (t *txn) UpdateAllocation(a *types.VoteAllocation) error {
	pp, ip := refColumns(a.Candidate)
	return t.execOne(`UPDATE vote_allocations
		SET weight = ?, project_proposal_id = ?, item_proposal_id = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		a.Weight, pp, ip, toNanos(a.UpdatedAt), a.ID)
}

func (t *txn) DeleteAllocation(id string) error {
	now := toNanos(t.now)
	return t.execOne(`UPDATE vote_allocations SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`, now, now, id)
}

func (t *txn) InsertLeadership(r *types.LeadershipRecord) error {
	var seq int64
	if err := t.queryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM leadership_records
		WHERE project_id = ? AND item_key = ?`, string(r.Project), string(r.Key)).Scan(&seq); err != nil {
		return mapError(err)
	}

	notLeading := 0
	if r.IsNotLeading {
		notLeading = 1
	}
	pp, ip := refColumns(r.Candidate)
	_, err := t.exec(`INSERT INTO leadership_records (id, project_id, item_key, seq,
		project_proposal_id, item_proposal_id, created_at, is_not_leading)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Project), string(r.Key), seq, pp, ip, toNanos(r.CreatedAt), notLeading)
	return err
}

func (t *txn) SupersedeLeadership(id string) error {
	return t.execOne(`UPDATE leadership_records SET is_not_leading = 1, superseded_at = ?
		WHERE id = ? AND is_not_leading = 0`, toNanos(t.now), id)
}
