package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/tallyberry/config"
	"github.com/blockberries/tallyberry/engine"
	"github.com/blockberries/tallyberry/store/sqlstore"
	"github.com/blockberries/tallyberry/types"
	"github.com/blockberries/tallyberry/wal"
)

func init() {
	color.NoColor = true
}

// seed writes a config file and a ledger where p1/title has a leader.
func seed(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Store.DSN = filepath.Join(dir, "tally.db")
	cfg.Journal.Dir = filepath.Join(dir, "journal")
	cfg.Log.Level = "error"
	path := filepath.Join(dir, "tallyberry.yaml")
	require.NoError(t, cfg.SaveToFile(path))

	ctx := context.Background()
	st, err := sqlstore.Open(ctx, sqlstore.Config{Driver: sqlstore.DriverSQLite, DSN: cfg.Store.DSN})
	require.NoError(t, err)
	defer st.Close()

	w, err := wal.NewFileWAL(cfg.Journal.Dir)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	logger, _ := logtest.NewNullLogger()
	eng, err := engine.New(st, cfg.EngineConfig(),
		engine.WithLogger(logger),
		engine.WithSinks(wal.NewJournal(w, true)),
	)
	require.NoError(t, err)

	_, err = eng.CreateProject(ctx, &types.Project{ID: "p1", Items: []types.Item{{Key: "title"}}})
	require.NoError(t, err)
	c, err := eng.ProposeItem(ctx, engine.ItemProposalRequest{
		Creator: "author", Project: "p1", Key: "title", Value: []byte(`"Kind of Blue"`),
	})
	require.NoError(t, err)
	for _, v := range []types.VoterID{"v1", "v2", "v3"} {
		_, err := eng.CastVote(ctx, engine.VoteRequest{Voter: v, Project: "p1", Key: "title", Candidate: c.Ref(), Weight: 40})
		require.NoError(t, err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tallyberry version dev")
}

func TestLeaderCommand(t *testing.T) {
	path := seed(t)

	out, err := execute(t, "--config", path, "leader", "p1", "title", "--totals")
	require.NoError(t, err)
	assert.Contains(t, out, `p1/title: "Kind of Blue"`)
	assert.Contains(t, out, "creator:   author")
	assert.Contains(t, out, "validated")

	out, err = execute(t, "--config", path, "leader", "p1", "title", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"value": "Kind of Blue"`)

	_, err = execute(t, "--config", path, "leader", "p1", "genre")
	assert.ErrorIs(t, err, engine.ErrKeyNotAccepted)

	_, err = execute(t, "--config", path, "leader", "p1")
	assert.Error(t, err)
}

func TestVerifyCommand(t *testing.T) {
	path := seed(t)

	out, err := execute(t, "--config", path, "verify")
	require.NoError(t, err, out)
	assert.Contains(t, out, "keys: 1")
	assert.Contains(t, out, "OK")

	_, err = execute(t, "--config", path, "verify", "--journal", filepath.Join(t.TempDir(), "none"))
	assert.ErrorIs(t, err, engine.ErrNoJournal)
}

func TestJournalInfoCommand(t *testing.T) {
	path := seed(t)

	out, err := execute(t, "--config", path, "journal", "info")
	require.NoError(t, err, out)
	assert.Contains(t, out, "segments:  1 (wal-00000 .. wal-00000)")
	// three casts, the third one electing a leader
	assert.Contains(t, out, "last seq:  4")
}

func TestJournalCheckpointCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Store.DSN = filepath.Join(dir, "tally.db")
	cfg.Journal.Dir = filepath.Join(dir, "journal")
	cfg.Journal.MaxSegmentBytes = 1
	cfg.Log.Level = "error"
	path := filepath.Join(dir, "tallyberry.yaml")
	require.NoError(t, cfg.SaveToFile(path))

	// one event per segment
	w, err := wal.NewFileWAL(cfg.Journal.Dir, wal.WithMaxSegmentSize(1))
	require.NoError(t, err)
	require.NoError(t, w.Start())
	for seq := uint64(1); seq <= 5; seq++ {
		msg, err := wal.NewEventMessage(seq, types.Event{
			Type: types.EventLeader, Time: time.Now(), Project: "p1", Key: "title",
		})
		require.NoError(t, err)
		require.NoError(t, w.WriteSync(msg))
	}
	require.NoError(t, w.Stop())

	out, err := execute(t, "--config", path, "journal", "checkpoint", "3")
	require.NoError(t, err, out)
	assert.Contains(t, out, "removed 3 segments through seq 3, 2 left")

	out, err = execute(t, "--config", path, "journal", "info")
	require.NoError(t, err, out)
	assert.Contains(t, out, "segments:  2 (wal-00003 .. wal-00004)")
	assert.Contains(t, out, "last seq:  5")

	_, err = execute(t, "--config", path, "journal", "checkpoint", "three")
	assert.Error(t, err)
}
