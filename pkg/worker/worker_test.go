package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goccy/go-json"

	"github.com/graphworks/spanners/pkg/handlers"
	"github.com/graphworks/spanners/pkg/storage"
	"github.com/graphworks/spanners/pkg/types"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		argv    []string
		want    *Args
		wantErr string
	}{
		{
			name: "valid",
			argv: []string{"7", "3", "host=localhost dbname=spanners", "1048576"},
			want: &Args{JobID: 7, UserID: 3, DBConn: "host=localhost dbname=spanners", MemLimit: 1048576},
		},
		{
			name: "zero limit means unlimited",
			argv: []string{"1", "1", "conn", "0"},
			want: &Args{JobID: 1, UserID: 1, DBConn: "conn", MemLimit: 0},
		},
		{name: "too few", argv: []string{"1", "2", "conn"}, wantErr: "expected 4 arguments"},
		{name: "too many", argv: []string{"1", "2", "conn", "0", "extra"}, wantErr: "expected 4 arguments"},
		{name: "bad job id", argv: []string{"x", "2", "conn", "0"}, wantErr: "invalid job id"},
		{name: "bad user id", argv: []string{"1", "x", "conn", "0"}, wantErr: "invalid user id"},
		{name: "bad limit", argv: []string{"1", "2", "conn", "x"}, wantErr: "invalid memory limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArgs(tt.argv)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunRejectsBadArgv(t *testing.T) {
	assert.Equal(t, ExitUsage, Run(nil))
	assert.Equal(t, ExitUsage, Run([]string{"not", "enough"}))
	assert.Equal(t, ExitUsage, Run([]string{"a", "b", "conn", "c"}))
}

func queuedGraphJob(t *testing.T, store *storage.MemStore, handlerType string) (userID, jobID int64) {
	t.Helper()
	ctx := context.Background()

	userID, err := store.CreateUser(ctx, &types.User{Name: "alice", PWHash: []byte("h"), Salt: []byte("s")})
	require.NoError(t, err)

	blob, err := json.Marshal(&handlers.Request{
		Graph: handlers.Graph{
			Nodes: []int64{1, 2, 3},
			Edges: []handlers.Edge{
				{Source: 1, Target: 2, Weight: 1},
				{Source: 2, Target: 3, Weight: 1},
			},
		},
		Attributes: map[string]string{"source": "1"},
	})
	require.NoError(t, err)

	jobID, err = store.AddJob(ctx, userID, handlerType, "path job", types.PayloadJobRequest, blob)
	require.NoError(t, err)
	require.NoError(t, store.SetStarted(ctx, jobID))
	return userID, jobID
}

func TestExecuteStoresResponse(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	userID, jobID := queuedGraphJob(t, store, "dijkstra")

	require.NoError(t, Execute(ctx, store, jobID, userID))

	_, blob, err := store.GetResponseData(ctx, jobID, userID)
	require.NoError(t, err)

	resp := &handlers.Response{}
	require.NoError(t, json.Unmarshal(blob, resp))
	assert.Equal(t, "OK", resp.Status)
	distances := resp.Result["distances"].(map[string]any)
	assert.Equal(t, float64(2), distances["3"])

	// Runtime is recorded and never zero
	record, err := store.GetStatusData(ctx, jobID, userID)
	require.NoError(t, err)
	assert.Positive(t, record.OGDFRuntime)
}

func TestExecuteUnknownHandler(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	userID, jobID := queuedGraphJob(t, store, "no-such-algorithm")

	err := Execute(ctx, store, jobID, userID)
	assert.ErrorContains(t, err, "unknown handler")

	_, _, err = store.GetResponseData(ctx, jobID, userID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestExecuteRejectsForeignJob(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	_, jobID := queuedGraphJob(t, store, "bfs")

	err := Execute(ctx, store, jobID, 9999)
	assert.ErrorContains(t, err, "failed to load job meta")
}

func TestExecuteMalformedPayload(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()

	userID, err := store.CreateUser(ctx, &types.User{Name: "bob", PWHash: []byte("h"), Salt: []byte("s")})
	require.NoError(t, err)
	jobID, err := store.AddJob(ctx, userID, "bfs", "junk", types.PayloadJobRequest, []byte("not json"))
	require.NoError(t, err)

	err = Execute(ctx, store, jobID, userID)
	assert.ErrorContains(t, err, "failed to decode job request")
}
