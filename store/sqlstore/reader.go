package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blockberries/tallyberry/store"
	"github.com/blockberries/tallyberry/types"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const allocationColumns = `id, voter_id, project_id, item_key, weight,
	project_proposal_id, item_proposal_id, created_at, updated_at, deleted_at`

const leadershipColumns = `id, project_id, item_key, project_proposal_id, item_proposal_id,
	created_at, is_not_leading, superseded_at`

type scanner interface {
	Scan(dest ...any) error
}

// reader implements store.Reader. When lock is set, row reads that guard a
// subsequent write take row locks where the dialect supports it.
type reader struct {
	ctx  context.Context
	q    queryer
	d    dialect
	lock bool
}

func (r reader) queryRow(query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(r.ctx, r.d.rebind(query), args...)
}

func (r reader) query(query string, args ...any) (*sql.Rows, error) {
	rows, err := r.q.QueryContext(r.ctx, r.d.rebind(query), args...)
	if err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

func (r reader) lockSuffix() string {
	if r.lock {
		return r.d.lockSuffix
	}
	return ""
}

func (r reader) Project(id types.ProjectID) (*types.Project, error) {
	var (
		p         types.Project
		published int64
		created   int64
	)
	err := r.queryRow(`SELECT id, name, is_published, created_at FROM projects WHERE id = ?`, string(id)).
		Scan(&p.ID, &p.Name, &published, &created)
	if err != nil {
		return nil, mapError(err)
	}
	p.IsPublished = published != 0
	p.CreatedAt = fromNanos(created)

	rows, err := r.query(`SELECT item_key, points_needed FROM project_items
		WHERE project_id = ? ORDER BY position`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it types.Item
		if err := rows.Scan(&it.Key, &it.PointsNeeded); err != nil {
			return nil, mapError(err)
		}
		p.Items = append(p.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

func (r reader) Candidate(ref types.CandidateRef) (types.Candidate, error) {
	var (
		project, creator, reference string
		created                     int64
	)
	err := r.queryRow(`SELECT project_id, creator_id, reference, created_at
		FROM candidates WHERE kind = ? AND id = ?`, int(ref.Kind), ref.ID).
		Scan(&project, &creator, &reference, &created)
	if err != nil {
		return nil, mapError(err)
	}

	values, err := r.candidateValues(ref)
	if err != nil {
		return nil, err
	}

	switch ref.Kind {
	case types.CandidateKindProject:
		return &types.ProjectProposal{
			ID:        ref.ID,
			ProjectID: types.ProjectID(project),
			CreatorID: types.VoterID(creator),
			Values:    values,
			Citation:  reference,
			Timestamp: fromNanos(created),
		}, nil
	case types.CandidateKindItem:
		if len(values) != 1 {
			return nil, fmt.Errorf("item proposal %s has %d values", ref.ID, len(values))
		}
		p := &types.ItemProposal{
			ID:        ref.ID,
			ProjectID: types.ProjectID(project),
			CreatorID: types.VoterID(creator),
			Citation:  reference,
			Timestamp: fromNanos(created),
		}
		for k, v := range values {
			p.Key, p.Payload = k, v
		}
		return p, nil
	default:
		return nil, types.ErrUnknownKind
	}
}

func (r reader) candidateValues(ref types.CandidateRef) (map[types.ItemKey]json.RawMessage, error) {
	rows, err := r.query(`SELECT item_key, value FROM candidate_values
		WHERE kind = ? AND candidate_id = ?`, int(ref.Kind), ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[types.ItemKey]json.RawMessage)
	for rows.Next() {
		var (
			key   string
			value string
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, mapError(err)
		}
		values[types.ItemKey(key)] = json.RawMessage(value)
	}
	return values, mapError(rows.Err())
}

func (r reader) Candidates(project types.ProjectID, key types.ItemKey) ([]types.Candidate, error) {
	rows, err := r.query(`SELECT c.kind, c.id FROM candidates c
		JOIN candidate_values v ON v.kind = c.kind AND v.candidate_id = c.id
		WHERE c.project_id = ? AND v.item_key = ?
		ORDER BY c.created_at, c.kind, c.id`, string(project), string(key))
	if err != nil {
		return nil, err
	}
	refs, err := scanRefs(rows)
	if err != nil {
		return nil, err
	}

	out := make([]types.Candidate, 0, len(refs))
	for _, ref := range refs {
		c, err := r.Candidate(ref)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r reader) CandidateByHash(project types.ProjectID, key types.ItemKey, h types.Hash) (types.Candidate, error) {
	rows, err := r.query(`SELECT c.kind, c.id FROM candidates c
		JOIN candidate_values v ON v.kind = c.kind AND v.candidate_id = c.id
		WHERE c.project_id = ? AND c.kind = ? AND c.content_hash = ? AND v.item_key = ?
		ORDER BY c.created_at`, string(project), int(types.CandidateKindItem), h.String(), string(key))
	if err != nil {
		return nil, err
	}
	refs, err := scanRefs(rows)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, store.ErrNotFound
	}
	return r.Candidate(refs[0])
}

// scanRefs drains and closes rows before any follow-up query runs on the
// same connection.
func scanRefs(rows *sql.Rows) ([]types.CandidateRef, error) {
	defer rows.Close()
	var refs []types.CandidateRef
	for rows.Next() {
		var (
			kind int
			id   string
		)
		if err := rows.Scan(&kind, &id); err != nil {
			return nil, mapError(err)
		}
		refs = append(refs, types.CandidateRef{Kind: types.CandidateKind(kind), ID: id})
	}
	return refs, mapError(rows.Err())
}

func (r reader) Allocation(id string) (*types.VoteAllocation, error) {
	return scanAllocation(r.queryRow(`SELECT `+allocationColumns+` FROM vote_allocations WHERE id = ?`, id))
}

func (r reader) LiveAllocation(voter types.VoterID, project types.ProjectID, key types.ItemKey) (*types.VoteAllocation, error) {
	return scanAllocation(r.queryRow(`SELECT `+allocationColumns+` FROM vote_allocations
		WHERE voter_id = ? AND project_id = ? AND item_key = ? AND deleted_at IS NULL`+r.lockSuffix(),
		string(voter), string(project), string(key)))
}

func (r reader) LiveAllocations(project types.ProjectID, key types.ItemKey) ([]*types.VoteAllocation, error) {
	rows, err := r.query(`SELECT `+allocationColumns+` FROM vote_allocations
		WHERE project_id = ? AND item_key = ? AND deleted_at IS NULL
		ORDER BY created_at, id`, string(project), string(key))
	if err != nil {
		return nil, err
	}
	return scanAllocations(rows)
}

func (r reader) VoterAllocations(voter types.VoterID, project types.ProjectID) ([]*types.VoteAllocation, error) {
	rows, err := r.query(`SELECT `+allocationColumns+` FROM vote_allocations
		WHERE voter_id = ? AND project_id = ? AND deleted_at IS NULL
		ORDER BY created_at, id`, string(voter), string(project))
	if err != nil {
		return nil, err
	}
	return scanAllocations(rows)
}

func scanAllocations(rows *sql.Rows) ([]*types.VoteAllocation, error) {
	defer rows.Close()
	var out []*types.VoteAllocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, mapError(rows.Err())
}

func scanAllocation(s scanner) (*types.VoteAllocation, error) {
	var (
		a                         types.VoteAllocation
		projectProp, itemProp     sql.NullString
		created, updated          int64
		deleted                   sql.NullInt64
	)
	err := s.Scan(&a.ID, &a.Voter, &a.Project, &a.Key, &a.Weight,
		&projectProp, &itemProp, &created, &updated, &deleted)
	if err != nil {
		return nil, mapError(err)
	}
	a.Candidate = refFromColumns(projectProp, itemProp)
	a.CreatedAt = fromNanos(created)
	a.UpdatedAt = fromNanos(updated)
	if deleted.Valid {
		t := fromNanos(deleted.Int64)
		a.DeletedAt = &t
	}
	return &a, nil
}

func (r reader) LiveLeadership(project types.ProjectID, key types.ItemKey) (*types.LeadershipRecord, error) {
	return scanLeadership(r.queryRow(`SELECT `+leadershipColumns+` FROM leadership_records
		WHERE project_id = ? AND item_key = ? AND is_not_leading = 0`, string(project), string(key)))
}

func (r reader) LeadershipHistory(project types.ProjectID, key types.ItemKey) ([]*types.LeadershipRecord, error) {
	rows, err := r.query(`SELECT `+leadershipColumns+` FROM leadership_records
		WHERE project_id = ? AND item_key = ? ORDER BY seq`, string(project), string(key))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.LeadershipRecord
	for rows.Next() {
		rec, err := scanLeadership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, mapError(rows.Err())
}

func scanLeadership(s scanner) (*types.LeadershipRecord, error) {
	var (
		rec                   types.LeadershipRecord
		projectProp, itemProp sql.NullString
		created, notLeading   int64
		superseded            sql.NullInt64
	)
	err := s.Scan(&rec.ID, &rec.Project, &rec.Key, &projectProp, &itemProp,
		&created, &notLeading, &superseded)
	if err != nil {
		return nil, mapError(err)
	}
	rec.Candidate = refFromColumns(projectProp, itemProp)
	rec.CreatedAt = fromNanos(created)
	rec.IsNotLeading = notLeading != 0
	if superseded.Valid {
		t := fromNanos(superseded.Int64)
		rec.SupersededAt = &t
	}
	return &rec, nil
}

// refColumns splits a reference into the two mutually exclusive pointer columns.
func refColumns(ref types.CandidateRef) (projectProp, itemProp any) {
	if ref.Kind == types.CandidateKindProject {
		return ref.ID, nil
	}
	return nil, ref.ID
}

func refFromColumns(projectProp, itemProp sql.NullString) types.CandidateRef {
	if projectProp.Valid {
		return types.ProjectRef(projectProp.String)
	}
	return types.ItemRef(itemProp.String)
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
