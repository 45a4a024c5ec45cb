package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/sqlwasm/pkg/failure"
)

func TestStore_RecordRecent(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer st.Close()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	id1, err := st.Record(ctx, Run{Stage: "configure", Recipe: "sqljs-1.7.0", State: "done",
		Started: base, Duration: 42 * time.Second})
	require.NoError(t, err)
	_, err = uuid.Parse(id1)
	require.NoError(t, err, "generated id is a uuid")

	id2, err := st.Record(ctx, Run{ID: "build-1", Stage: "build", Recipe: "sqljs-1.7.0", State: "done",
		Started: base.Add(time.Minute), Duration: 3 * time.Minute,
		Artifacts: []Artifact{
			{Name: "sql-wasm.wasm", Size: 1024, SHA256: "aa"},
			{Name: "sql-wasm.js", Size: 512, SHA256: "bb"},
		}})
	require.NoError(t, err)
	assert.Equal(t, "build-1", id2)

	_, err = st.Record(ctx, Run{Stage: "build", Recipe: "sqljs-1.6.2", State: "failed",
		Started: base.Add(2 * time.Minute), Error: "can't link"})
	require.NoError(t, err)

	runs, err := st.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)

	assert.Equal(t, "failed", runs[0].State)
	assert.Equal(t, "can't link", runs[0].Error)
	assert.Empty(t, runs[0].Artifacts)

	assert.Equal(t, "build-1", runs[1].ID)
	assert.Equal(t, 3*time.Minute, runs[1].Duration)
	assert.True(t, base.Add(time.Minute).Equal(runs[1].Started))
	assert.Equal(t, []Artifact{
		{Name: "sql-wasm.js", Size: 512, SHA256: "bb"},
		{Name: "sql-wasm.wasm", Size: 1024, SHA256: "aa"},
	}, runs[1].Artifacts)

	assert.Equal(t, id1, runs[2].ID)
	assert.Equal(t, "configure", runs[2].Stage)

	runs, err = st.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].State)
}

func TestStore_DuplicateID(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer st.Close()

	_, err = st.Record(ctx, Run{ID: "same", Stage: "build", Recipe: "r", State: "done"})
	require.NoError(t, err)
	_, err = st.Record(ctx, Run{ID: "same", Stage: "build", Recipe: "r", State: "done"})
	require.Error(t, err)
	assert.Equal(t, failure.KindFilesystem, failure.KindOf(err))
}

func TestStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	st, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = st.Record(ctx, Run{Stage: "configure", Recipe: "r", State: "done"})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(ctx, path)
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, failure.KindConfig, failure.KindOf(err))

	_, err = Open(context.Background(), filepath.Join(t.TempDir(), "no-such-dir", "history.db"))
	require.Error(t, err)
}
