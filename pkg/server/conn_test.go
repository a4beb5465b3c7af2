package server

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphworks/spanners/pkg/log"
	"github.com/graphworks/spanners/pkg/protocol"
	"github.com/graphworks/spanners/pkg/scheduler"
	"github.com/graphworks/spanners/pkg/storage"
	"github.com/graphworks/spanners/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, Output: io.Discard})
	os.Exit(m.Run())
}

func newTestServer(t *testing.T) (*Server, *storage.MemStore) {
	t.Helper()
	store := storage.NewMemStore()
	sched := scheduler.New(store, nil, scheduler.Config{ExecPath: "/bin/false"})
	return NewServer(store, sched, nil, nil), store
}

// exchange runs one full request/response over an in-memory connection
func exchange(t *testing.T, s *Server, meta *protocol.MetaData, container []byte) (*protocol.MetaData, []byte) {
	t.Helper()
	client, server := net.Pipe()
	defer client.Close()

	go s.handleConn(server)

	require.NoError(t, protocol.WriteFrame(client, meta, container))
	reply, body, err := protocol.ReadFrame(client)
	require.NoError(t, err)
	return reply, body
}

func decodeError(t *testing.T, body []byte) *protocol.ErrorMessage {
	t.Helper()
	msg := &protocol.ErrorMessage{}
	require.NoError(t, protocol.DecodeContainer(body, msg))
	return msg
}

func createUser(t *testing.T, s *Server, name, password string) {
	t.Helper()
	reply, body := exchange(t, s, &protocol.MetaData{
		Type: protocol.TypeCreateUser,
		User: protocol.Credentials{Name: name, Password: password},
	}, nil)
	require.Equal(t, protocol.TypeCreateUser, reply.Type)

	resp := &protocol.ResponseContainer{}
	require.NoError(t, protocol.DecodeContainer(body, resp))
	require.Equal(t, protocol.StatusOK, resp.Status)
}

func alice(password string) protocol.Credentials {
	return protocol.Credentials{Name: "alice", Password: password}
}

func TestCreateUserAndAuth(t *testing.T) {
	s, _ := newTestServer(t)
	createUser(t, s, "alice", "secret")

	reply, body := exchange(t, s, &protocol.MetaData{Type: protocol.TypeAuth, User: alice("secret")}, nil)
	assert.Equal(t, protocol.TypeAuth, reply.Type)
	resp := &protocol.ResponseContainer{}
	require.NoError(t, protocol.DecodeContainer(body, resp))
	assert.Equal(t, protocol.StatusOK, resp.Status)
}

func TestWrongPassword(t *testing.T) {
	s, _ := newTestServer(t)
	createUser(t, s, "alice", "secret")

	reply, body := exchange(t, s, &protocol.MetaData{Type: protocol.TypeAuth, User: alice("nope")}, nil)
	require.Equal(t, protocol.TypeError, reply.Type)
	assert.Equal(t, protocol.ErrTypeUnauthorized, decodeError(t, body).Type)
}

func TestUnknownUser(t *testing.T) {
	s, _ := newTestServer(t)

	reply, body := exchange(t, s, &protocol.MetaData{Type: protocol.TypeAuth, User: alice("secret")}, nil)
	require.Equal(t, protocol.TypeError, reply.Type)
	assert.Equal(t, protocol.ErrTypeUnauthorized, decodeError(t, body).Type)
}

func TestBlockedUserRefused(t *testing.T) {
	s, store := newTestServer(t)
	createUser(t, s, "alice", "secret")

	user, err := store.GetUserByName(context.Background(), "alice")
	require.NoError(t, err)
	require.NoError(t, store.SetUserBlocked(context.Background(), user.ID, true))

	reply, body := exchange(t, s, &protocol.MetaData{Type: protocol.TypeAuth, User: alice("secret")}, nil)
	require.Equal(t, protocol.TypeError, reply.Type)
	assert.Equal(t, protocol.ErrTypeUnauthorized, decodeError(t, body).Type)
}

func TestDuplicateUser(t *testing.T) {
	s, _ := newTestServer(t)
	createUser(t, s, "alice", "secret")

	reply, body := exchange(t, s, &protocol.MetaData{
		Type: protocol.TypeCreateUser,
		User: alice("other password"),
	}, nil)
	require.Equal(t, protocol.TypeError, reply.Type)
	msg := decodeError(t, body)
	assert.Equal(t, protocol.ErrTypeUserCreation, msg.Type)
	assert.Equal(t, "User already exists.", msg.Message)
}

func submitJob(t *testing.T, s *Server, handlerType string, payload []byte) (*protocol.MetaData, []byte) {
	t.Helper()
	return exchange(t, s, &protocol.MetaData{
		Type:        protocol.TypeNewJob,
		HandlerType: handlerType,
		JobName:     "test job",
		User:        alice("secret"),
	}, payload)
}

func TestSubmitJob(t *testing.T) {
	s, store := newTestServer(t)
	createUser(t, s, "alice", "secret")

	payload := []byte(`{"graph":{"nodes":[1],"edges":[]},"attributes":{"source":"1"}}`)
	reply, body := submitJob(t, s, "bfs", payload)
	require.Equal(t, protocol.TypeNewJobResponse, reply.Type)

	resp := &protocol.NewJobResponse{}
	require.NoError(t, protocol.DecodeContainer(body, resp))
	assert.Equal(t, int64(1), resp.JobID)

	user, err := store.GetUserByName(context.Background(), "alice")
	require.NoError(t, err)
	record, err := store.GetStatusData(context.Background(), resp.JobID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "waiting", record.Status)
	assert.Equal(t, "bfs", record.HandlerType)

	_, blob, err := store.GetRequestData(context.Background(), resp.JobID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, payload, blob)
}

func TestSubmitUnknownHandler(t *testing.T) {
	s, _ := newTestServer(t)
	createUser(t, s, "alice", "secret")

	reply, body := submitJob(t, s, "no-such-algorithm", []byte("{}"))
	require.Equal(t, protocol.TypeError, reply.Type)
	assert.Equal(t, protocol.ErrTypeInvalidRequest, decodeError(t, body).Type)
}

func TestUnknownTypeTreatedAsNewJob(t *testing.T) {
	s, _ := newTestServer(t)
	createUser(t, s, "alice", "secret")

	reply, body := exchange(t, s, &protocol.MetaData{
		Type:        protocol.MessageType(77),
		HandlerType: "bfs",
		JobName:     "legacy client",
		User:        alice("secret"),
	}, []byte("{}"))
	require.Equal(t, protocol.TypeNewJobResponse, reply.Type)

	resp := &protocol.NewJobResponse{}
	require.NoError(t, protocol.DecodeContainer(body, resp))
	assert.Equal(t, int64(1), resp.JobID)
}

func TestAvailableHandlers(t *testing.T) {
	s, _ := newTestServer(t)
	createUser(t, s, "alice", "secret")

	reply, body := exchange(t, s, &protocol.MetaData{Type: protocol.TypeAvailableHandlers, User: alice("secret")}, nil)
	require.Equal(t, protocol.TypeAvailableHandlers, reply.Type)

	resp := &protocol.HandlersResponse{}
	require.NoError(t, protocol.DecodeContainer(body, resp))
	names := make([]string, 0, len(resp.Handlers))
	for _, h := range resp.Handlers {
		names = append(names, h.Name)
	}
	assert.Contains(t, names, "bfs")
	assert.Contains(t, names, "dijkstra")
}

func TestStatusListsOwnJobsOnly(t *testing.T) {
	s, store := newTestServer(t)
	createUser(t, s, "alice", "secret")
	createUser(t, s, "bob", "hunter2")

	submitJob(t, s, "bfs", []byte("{}"))

	bob, err := store.GetUserByName(context.Background(), "bob")
	require.NoError(t, err)
	_, err = store.AddJob(context.Background(), bob.ID, "bfs", "bobs job", types.PayloadJobRequest, nil)
	require.NoError(t, err)

	reply, body := exchange(t, s, &protocol.MetaData{Type: protocol.TypeStatus, User: alice("secret")}, nil)
	require.Equal(t, protocol.TypeStatus, reply.Type)

	resp := &protocol.StatusResponse{}
	require.NoError(t, protocol.DecodeContainer(body, resp))
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, "test job", resp.Jobs[0].JobName)
}

func jobRef(t *testing.T, jobID int64) []byte {
	t.Helper()
	body, err := protocol.EncodeContainer(&protocol.ResultRequest{JobID: jobID})
	require.NoError(t, err)
	return body
}

func TestResultNotReady(t *testing.T) {
	s, _ := newTestServer(t)
	createUser(t, s, "alice", "secret")
	submitJob(t, s, "bfs", []byte("{}"))

	reply, body := exchange(t, s, &protocol.MetaData{Type: protocol.TypeResult, User: alice("secret")}, jobRef(t, 1))
	require.Equal(t, protocol.TypeError, reply.Type)
	msg := decodeError(t, body)
	assert.Equal(t, protocol.ErrTypeInvalidRequest, msg.Type)
	assert.Equal(t, "job has no result yet", msg.Message)
}

func TestResultAfterCompletion(t *testing.T) {
	s, store := newTestServer(t)
	createUser(t, s, "alice", "secret")
	submitJob(t, s, "bfs", []byte("{}"))

	ctx := context.Background()
	require.NoError(t, store.SetStarted(ctx, 1))
	require.NoError(t, store.AddResponse(ctx, 1, types.PayloadJobResponse, []byte(`{"status":"OK"}`), 42))
	require.NoError(t, store.SetFinished(ctx, 1, types.StatusSuccess, "", ""))

	reply, body := exchange(t, s, &protocol.MetaData{Type: protocol.TypeResult, User: alice("secret")}, jobRef(t, 1))
	require.Equal(t, protocol.TypeResult, reply.Type)

	resp := &protocol.ResultResponse{}
	require.NoError(t, protocol.DecodeContainer(body, resp))
	assert.Equal(t, []byte(`{"status":"OK"}`), resp.Payload)
	require.NotNil(t, resp.Status)
	assert.Equal(t, "success", resp.Status.Status)
	assert.Equal(t, int64(42), resp.Status.OGDFRuntime)
}

func TestOriginGraphReturnsRequest(t *testing.T) {
	s, _ := newTestServer(t)
	createUser(t, s, "alice", "secret")

	payload := []byte(`{"graph":{"nodes":[1,2],"edges":[]}}`)
	submitJob(t, s, "bfs", payload)

	reply, body := exchange(t, s, &protocol.MetaData{Type: protocol.TypeOriginGraph, User: alice("secret")}, jobRef(t, 1))
	require.Equal(t, protocol.TypeOriginGraph, reply.Type)

	resp := &protocol.ResultResponse{}
	require.NoError(t, protocol.DecodeContainer(body, resp))
	assert.Equal(t, payload, resp.Payload)
}

func TestAbortWaitingJob(t *testing.T) {
	s, store := newTestServer(t)
	createUser(t, s, "alice", "secret")
	submitJob(t, s, "bfs", []byte("{}"))

	reply, body := exchange(t, s, &protocol.MetaData{Type: protocol.TypeAbortJob, User: alice("secret")}, jobRef(t, 1))
	require.Equal(t, protocol.TypeAbortJob, reply.Type)
	resp := &protocol.ResponseContainer{}
	require.NoError(t, protocol.DecodeContainer(body, resp))
	assert.Equal(t, protocol.StatusOK, resp.Status)

	user, err := store.GetUserByName(context.Background(), "alice")
	require.NoError(t, err)
	record, err := store.GetStatusData(context.Background(), 1, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "aborted", record.Status)
	assert.Equal(t, "Preemptive abort", record.ErrorMsg)
}

func TestAbortForeignJob(t *testing.T) {
	s, _ := newTestServer(t)
	createUser(t, s, "alice", "secret")
	createUser(t, s, "bob", "hunter2")
	submitJob(t, s, "bfs", []byte("{}")) // job 1 belongs to alice

	reply, body := exchange(t, s, &protocol.MetaData{
		Type: protocol.TypeAbortJob,
		User: protocol.Credentials{Name: "bob", Password: "hunter2"},
	}, jobRef(t, 1))
	require.Equal(t, protocol.TypeError, reply.Type)
	assert.Equal(t, protocol.ErrTypeNotFound, decodeError(t, body).Type)
}

func TestDeleteJob(t *testing.T) {
	s, store := newTestServer(t)
	createUser(t, s, "alice", "secret")
	submitJob(t, s, "bfs", []byte("{}"))

	reply, body := exchange(t, s, &protocol.MetaData{Type: protocol.TypeDeleteJob, User: alice("secret")}, jobRef(t, 1))
	require.Equal(t, protocol.TypeDeleteJob, reply.Type)
	resp := &protocol.ResponseContainer{}
	require.NoError(t, protocol.DecodeContainer(body, resp))
	assert.Equal(t, protocol.StatusOK, resp.Status)

	user, err := store.GetUserByName(context.Background(), "alice")
	require.NoError(t, err)
	_, err = store.GetStatusData(context.Background(), 1, user.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMalformedMetadata(t *testing.T) {
	s, _ := newTestServer(t)

	client, server := net.Pipe()
	defer client.Close()
	go s.handleConn(server)

	// Valid length prefix, invalid JSON behind it
	garbage := []byte("not json at all")
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(garbage)))
	_, err := client.Write(lenBuf[:])
	require.NoError(t, err)
	_, err = client.Write(garbage)
	require.NoError(t, err)

	reply, body, err := protocol.ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeError, reply.Type)
	assert.Equal(t, protocol.ErrTypeParse, decodeError(t, body).Type)
}
