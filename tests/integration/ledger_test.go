package integration

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/blockberries/tallyberry/engine"
	"github.com/blockberries/tallyberry/store"
	"github.com/blockberries/tallyberry/store/sqlstore"
	"github.com/blockberries/tallyberry/types"
	"github.com/blockberries/tallyberry/wal"
)

// TestLedger is an engine on a SQLite file with a journal.
type TestLedger struct {
	Dir     string
	Engine  *engine.Engine
	Store   *sqlstore.Store
	WAL     *wal.FileWAL
	Journal *wal.Journal
}

func setupTestLedger(t *testing.T, dir string) *TestLedger {
	t.Helper()
	ctx := context.Background()

	st, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver: sqlstore.DriverSQLite,
		DSN:    filepath.Join(dir, "tally.db"),
	})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	w, err := wal.NewFileWAL(filepath.Join(dir, "journal"))
	if err != nil {
		t.Fatalf("failed to create WAL: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start WAL: %v", err)
	}
	journal := wal.NewJournal(w, true)

	logger, _ := logtest.NewNullLogger()
	eng, err := engine.New(st, nil,
		engine.WithLogger(logger),
		engine.WithSinks(journal),
	)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	l := &TestLedger{Dir: dir, Engine: eng, Store: st, WAL: w, Journal: journal}
	t.Cleanup(l.Close)
	return l
}

// Close stops the journal and closes the store. It is safe to call twice.
func (l *TestLedger) Close() {
	l.WAL.Stop()
	l.Store.Close()
}

func (l *TestLedger) createProject(t *testing.T, id types.ProjectID, keys ...types.ItemKey) {
	t.Helper()
	p := &types.Project{ID: id}
	for _, k := range keys {
		p.Items = append(p.Items, types.Item{Key: k})
	}
	if _, err := l.Engine.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
}

func (l *TestLedger) proposeItem(t *testing.T, project types.ProjectID, key types.ItemKey, creator types.VoterID, value string) types.CandidateRef {
	t.Helper()
	c, err := l.Engine.ProposeItem(context.Background(), engine.ItemProposalRequest{
		Creator: creator,
		Project: project,
		Key:     key,
		Value:   []byte(fmt.Sprintf("%q", value)),
	})
	if err != nil {
		t.Fatalf("failed to propose %q: %v", value, err)
	}
	return c.Ref()
}

func (l *TestLedger) cast(t *testing.T, voter types.VoterID, project types.ProjectID, key types.ItemKey, ref types.CandidateRef, weight int64) *types.VoteAllocation {
	t.Helper()
	a, err := l.Engine.CastVote(context.Background(), engine.VoteRequest{
		Voter: voter, Project: project, Key: key, Candidate: ref, Weight: weight,
	})
	if err != nil {
		t.Fatalf("cast by %s failed: %v", voter, err)
	}
	return a
}

func (l *TestLedger) leader(t *testing.T, project types.ProjectID, key types.ItemKey) *types.CandidateRef {
	t.Helper()
	ref, err := l.Engine.GetLeadingCandidate(context.Background(), project, key)
	if err != nil {
		t.Fatalf("failed to read leader: %v", err)
	}
	return ref
}

func (l *TestLedger) verify(t *testing.T) *engine.VerifyReport {
	t.Helper()
	r, err := wal.OpenWALForReading(filepath.Join(l.Dir, "journal"))
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	defer r.Close()
	report, err := l.Engine.Verify(context.Background(), r)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	return report
}

func TestQuorumAndPoints(t *testing.T) {
	l := setupTestLedger(t, t.TempDir())
	l.createProject(t, "album", "title")
	ref := l.proposeItem(t, "album", "title", "author", "Kind of Blue")

	l.cast(t, "v1", "album", "title", ref, 60)
	l.cast(t, "v2", "album", "title", ref, 60)
	if got := l.leader(t, "album", "title"); got != nil {
		t.Fatalf("two voters must not reach quorum, got leader %v", got)
	}

	l.cast(t, "v3", "album", "title", ref, 1)
	got := l.leader(t, "album", "title")
	if got == nil || *got != ref {
		t.Fatalf("expected %v to lead, got %v", ref, got)
	}
}

func TestConcurrentCastsSameVoter(t *testing.T) {
	l := setupTestLedger(t, t.TempDir())
	l.createProject(t, "album", "title")
	ref := l.proposeItem(t, "album", "title", "author", "Kind of Blue")

	const n = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		failures  []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Engine.CastVote(context.Background(), engine.VoteRequest{
				Voter: "v1", Project: "album", Key: "title", Candidate: ref, Weight: 10,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else {
				failures = append(failures, err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one cast to commit, got %d", succeeded)
	}
	for _, err := range failures {
		if engine.KindOf(err) != engine.KindConflict {
			t.Errorf("expected conflict, got %v", err)
		}
	}

	var live []*types.VoteAllocation
	err := l.Store.View(context.Background(), func(r store.Reader) error {
		var err error
		live, err = r.LiveAllocations("album", "title")
		return err
	})
	if err != nil {
		t.Fatalf("read allocations: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("expected 1 live allocation, got %d", len(live))
	}
}

func TestConcurrentVoters(t *testing.T) {
	l := setupTestLedger(t, t.TempDir())
	l.createProject(t, "album", "title")
	a := l.proposeItem(t, "album", "title", "author-a", "Kind of Blue")
	b := l.proposeItem(t, "album", "title", "author-b", "Blue Train")

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		ref := a
		if i%4 == 0 {
			ref = b
		}
		voter := types.VoterID(fmt.Sprintf("v%02d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Engine.CastVote(context.Background(), engine.VoteRequest{
				Voter: voter, Project: "album", Key: "title", Candidate: ref, Weight: 10,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("cast failed: %v", err)
		}
	}

	totals, err := l.Engine.Totals(context.Background(), "album", "title")
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	weights := make(map[types.CandidateRef]int64)
	for _, tl := range totals.Tallies {
		weights[tl.Candidate] = tl.Weight
	}
	if weights[a] != 150 || weights[b] != 50 {
		t.Fatalf("unexpected totals: a=%d b=%d", weights[a], weights[b])
	}

	got := l.leader(t, "album", "title")
	if got == nil || *got != a {
		t.Fatalf("expected %v to lead, got %v", a, got)
	}
	if report := l.verify(t); !report.OK() {
		t.Fatalf("journal disagrees with store: %v", report.Mismatches)
	}
}

func TestSwitchRoundTrip(t *testing.T) {
	l := setupTestLedger(t, t.TempDir())
	l.createProject(t, "album", "title")
	a := l.proposeItem(t, "album", "title", "author-a", "Kind of Blue")
	b := l.proposeItem(t, "album", "title", "author-b", "Blue Train")

	for _, v := range []types.VoterID{"v1", "v2", "v3"} {
		l.cast(t, v, "album", "title", a, 40)
	}
	l.cast(t, "v4", "album", "title", b, 40)
	l.cast(t, "v5", "album", "title", b, 40)

	ctx := context.Background()
	move := func(to types.CandidateRef) {
		t.Helper()
		_, err := l.Engine.SwitchVote(ctx, engine.VoteRequest{
			Voter: "v3", Project: "album", Key: "title", Candidate: to, Weight: 40,
		})
		if err != nil {
			t.Fatalf("switch failed: %v", err)
		}
	}

	move(b)
	if got := l.leader(t, "album", "title"); got == nil || *got != b {
		t.Fatalf("expected %v to lead after switch, got %v", b, got)
	}
	move(a)
	if got := l.leader(t, "album", "title"); got == nil || *got != a {
		t.Fatalf("expected %v to lead after switching back, got %v", a, got)
	}

	history, err := l.Engine.History(ctx, "album", "title")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 leadership records, got %d", len(history))
	}
	live := 0
	for _, rec := range history {
		if !rec.IsNotLeading {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("expected exactly one live leadership record, got %d", live)
	}
}

func TestPublishedProjectRejectsMutations(t *testing.T) {
	l := setupTestLedger(t, t.TempDir())
	l.createProject(t, "album", "title")
	ref := l.proposeItem(t, "album", "title", "author", "Kind of Blue")
	a := l.cast(t, "v1", "album", "title", ref, 10)

	ctx := context.Background()
	if err := l.Engine.PublishProject(ctx, "album"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	before := l.Journal.LastSeq()

	_, err := l.Engine.CastVote(ctx, engine.VoteRequest{Voter: "v2", Project: "album", Key: "title", Candidate: ref, Weight: 10})
	if !errors.Is(err, engine.ErrVotingClosed) {
		t.Fatalf("expected ErrVotingClosed on cast, got %v", err)
	}
	if err := l.Engine.CancelVote(ctx, "v1", a.ID); !errors.Is(err, engine.ErrVotingClosed) {
		t.Fatalf("expected ErrVotingClosed on cancel, got %v", err)
	}
	_, err = l.Engine.ProposeItem(ctx, engine.ItemProposalRequest{Creator: "late", Project: "album", Key: "title", Value: []byte(`"Late"`)})
	if !errors.Is(err, engine.ErrVotingClosed) {
		t.Fatalf("expected ErrVotingClosed on propose, got %v", err)
	}

	if after := l.Journal.LastSeq(); after != before {
		t.Fatalf("rejected operations reached the journal: %d -> %d", before, after)
	}
	mine, err := l.Engine.VoterAllocations(ctx, "v1", "album")
	if err != nil {
		t.Fatalf("allocations: %v", err)
	}
	if len(mine) != 1 || mine[0].IsDeleted() {
		t.Fatalf("ledger changed after publish: %+v", mine)
	}
}

func TestJournalVerifyAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	l := setupTestLedger(t, dir)
	l.createProject(t, "album", "title", "year")
	title := l.proposeItem(t, "album", "title", "author", "Kind of Blue")
	year := l.proposeItem(t, "album", "year", "author", "1959")

	var cancel *types.VoteAllocation
	for i, v := range []types.VoterID{"v1", "v2", "v3", "v4"} {
		l.cast(t, v, "album", "year", year, 30)
		a := l.cast(t, v, "album", "title", title, int64(25+i))
		if v == "v2" {
			cancel = a
		}
	}
	if err := l.Engine.CancelVote(context.Background(), "v2", cancel.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	lastSeq := l.Journal.LastSeq()
	l.Close()

	reopened := setupTestLedger(t, dir)
	if got := reopened.Journal.LastSeq(); got != lastSeq {
		t.Fatalf("journal sequence lost across restart: %d != %d", got, lastSeq)
	}

	report := reopened.verify(t)
	if !report.OK() {
		t.Fatalf("journal disagrees with store: %v", report.Mismatches)
	}
	if report.Keys != 2 {
		t.Fatalf("expected 2 keys, got %d", report.Keys)
	}
	if report.LastSeq != lastSeq {
		t.Fatalf("expected last seq %d, got %d", lastSeq, report.LastSeq)
	}

	// year: 4 x 30 passes; title: 25+27+28 = 80 does not
	if got := reopened.leader(t, "album", "year"); got == nil || *got != year {
		t.Fatalf("expected %v to lead year, got %v", year, got)
	}
	if got := reopened.leader(t, "album", "title"); got != nil {
		t.Fatalf("expected no title leader, got %v", got)
	}
}
