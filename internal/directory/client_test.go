package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/groupflow/internal/domain"
	"go.uber.org/zap"
)

type recorded struct {
	Method string
	Path   string
	Body   envelope
}

// fakeDirectory записывает запросы и отвечает заданным обработчиком.
type fakeDirectory struct {
	mu       sync.Mutex
	requests []recorded
	hits     atomic.Int32
	reply    func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeDirectory) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)
	var body envelope
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, recorded{Method: r.Method, Path: r.URL.Path, Body: body})
	f.mu.Unlock()
	f.reply(w, r)
}

func (f *fakeDirectory) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func okReply(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Result{Success: true, Message: "done"})
}

func newTestClient(t *testing.T, fake *fakeDirectory, cfg ClientConfig) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	cfg.URL = srv.URL
	return NewClient(cfg, srv.Client(), nil, zap.NewNop())
}

func TestCreateGroupSendsEnvelope(t *testing.T) {
	fake := &fakeDirectory{reply: okReply}
	c := newTestClient(t, fake, ClientConfig{})

	res, err := c.CreateGroup(context.Background(), domain.CreateGroupPayload{
		GroupID:        "FRDIS0000000007",
		GroupName:      "ops",
		Hierarchy:      "corp/it",
		Classification: "blue",
		Owner:          "alice",
		Members:        []string{"bob", "carol"},
		Type:           "distribution",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "FRDIS0000000007", res.GroupID)

	req := fake.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/Group", req.Path)
	assert.Equal(t, OpCreateDistribution, req.Body.Type)
	assert.NotEmpty(t, req.Body.ID)
	assert.Equal(t, "FRDIS0000000007", req.Body.Data["groupId"])
	assert.Equal(t, "bob;carol", req.Body.Data["members"])
}

func TestCreateSecurityGroupType(t *testing.T) {
	fake := &fakeDirectory{reply: okReply}
	c := newTestClient(t, fake, ClientConfig{})

	_, err := c.CreateGroup(context.Background(), domain.CreateGroupPayload{GroupID: "red-team", Type: "security"})
	require.NoError(t, err)
	assert.Equal(t, OpCreateSecurity, fake.last().Body.Type)
}

func TestAddMembersRoutesBySize(t *testing.T) {
	fake := &fakeDirectory{reply: okReply}
	c := newTestClient(t, fake, ClientConfig{})

	_, err := c.AddMembers(context.Background(), "g1", []string{"bob"})
	require.NoError(t, err)
	req := fake.last()
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/Group/user", req.Path)
	assert.Equal(t, "bob", req.Body.Data["userId"])
	assert.Equal(t, OpAdd, req.Body.Type)

	_, err = c.AddMembers(context.Background(), "g1", []string{"bob", "carol", "dan"})
	require.NoError(t, err)
	req = fake.last()
	assert.Equal(t, "/Group/users", req.Path)
	assert.Equal(t, "bob;carol;dan", req.Body.Data["userId"])

	_, err = c.AddMembers(context.Background(), "g1", nil)
	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestOwnerAndFieldRoutes(t *testing.T) {
	fake := &fakeDirectory{reply: okReply}
	c := newTestClient(t, fake, ClientConfig{})

	_, err := c.ChangeOwner(context.Background(), "g1", "erin")
	require.NoError(t, err)
	assert.Equal(t, "/Group/owner", fake.last().Path)
	assert.Equal(t, "erin", fake.last().Body.Data["value"])

	_, err = c.UpdateField(context.Background(), "g1", FieldDisplayName, "Ops Team")
	require.NoError(t, err)
	assert.Equal(t, "/Group/displayName", fake.last().Path)
	assert.Equal(t, OpChangeDisplayName, fake.last().Body.Type)

	_, err = c.DeleteGroup(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, fake.last().Method)
	assert.Equal(t, OpDeleteDistribution, fake.last().Body.Type)
}

func TestSuccessFalseIsError(t *testing.T) {
	fake := &fakeDirectory{reply: func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Result{Success: false, Message: "owner unknown"})
	}}
	c := newTestClient(t, fake, ClientConfig{})

	_, err := c.ChangeOwner(context.Background(), "g1", "ghost")
	var rErr *RemoteError
	require.ErrorAs(t, err, &rErr)
	assert.Equal(t, "owner unknown", rErr.Message)
	assert.NotErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestMutationsAreNotRetried(t *testing.T) {
	fake := &fakeDirectory{reply: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"message":"boom"}`))
	}}
	c := newTestClient(t, fake, ClientConfig{})

	_, err := c.AddMembers(context.Background(), "g1", []string{"bob"})
	var rErr *RemoteError
	require.ErrorAs(t, err, &rErr)
	assert.Equal(t, http.StatusInternalServerError, rErr.Status)
	assert.Equal(t, "boom", rErr.Message)
	assert.Equal(t, int32(1), fake.hits.Load())
}

func TestGetGroupNotFoundIsNotRetried(t *testing.T) {
	fake := &fakeDirectory{reply: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}}
	c := newTestClient(t, fake, ClientConfig{})

	_, err := c.GetGroup(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, int32(1), fake.hits.Load())
}

func TestGetGroupRetriesServerErrors(t *testing.T) {
	fake := &fakeDirectory{}
	fake.reply = func(w http.ResponseWriter, r *http.Request) {
		if fake.hits.Load() < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(domain.Group{ID: "g1", Name: "ops", Members: []string{"a", "b"}})
	}
	c := newTestClient(t, fake, ClientConfig{RetryAttempts: 3})

	g, err := c.GetGroup(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, 2, g.MemberCount())
	assert.Equal(t, int32(3), fake.hits.Load())
	assert.Equal(t, "/Group/g1", fake.last().Path)
}

func TestBreakerOpensAfterOutages(t *testing.T) {
	fake := &fakeDirectory{reply: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}}
	c := newTestClient(t, fake, ClientConfig{CBFailures: 2})

	for i := 0; i < 2; i++ {
		_, err := c.DeleteGroup(context.Background(), "g1")
		require.Error(t, err)
	}

	_, err := c.DeleteGroup(context.Background(), "g1")
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.Equal(t, int32(2), fake.hits.Load())
}

func TestRejectionsDoNotTripBreaker(t *testing.T) {
	fake := &fakeDirectory{reply: func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Result{Success: false, Message: "nope"})
	}}
	c := newTestClient(t, fake, ClientConfig{CBFailures: 1})

	for i := 0; i < 3; i++ {
		_, err := c.DeleteGroup(context.Background(), "g1")
		var rErr *RemoteError
		require.ErrorAs(t, err, &rErr)
	}
	assert.Equal(t, int32(3), fake.hits.Load())
}

func TestTransportFailureIsGatewayUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(okReply))
	url := srv.URL
	srv.Close()

	c := NewClient(ClientConfig{URL: url}, nil, nil, zap.NewNop())
	_, err := c.ChangeOwner(context.Background(), "g1", "bob")
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestNilLoggerIsAllowed(t *testing.T) {
	srv := httptest.NewServer(&fakeDirectory{reply: okReply})
	t.Cleanup(srv.Close)
	c := NewClient(ClientConfig{URL: srv.URL}, srv.Client(), nil, nil)

	assert.NotPanics(t, func() {
		_, err := c.CreateGroup(context.Background(), domain.CreateGroupPayload{GroupID: "FRDIS0000000009", Type: "distribution"})
		assert.NoError(t, err)
	})
}
