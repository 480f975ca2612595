package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issueflow/internal/config"
	"issueflow/internal/domain"
	"issueflow/internal/engine"
	"issueflow/internal/logging"
	"issueflow/internal/memstore"
	"issueflow/internal/report"
)

type testEnv struct {
	srv    *httptest.Server
	engine engine.Engine
	store  *memstore.Store
}

func newTestEnv(t *testing.T, auth AuthConfig) *testEnv {
	t.Helper()
	s := memstore.New()
	e := engine.New(s, logging.Discard())
	handler, err := New(Config{Engine: e, Reader: report.New(s), BasePath: "/v0", Auth: auth, Logger: logging.Discard()})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, engine: e, store: s}
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func (env *testEnv) seed(t *testing.T) (ProjectResponse, UserResponse) {
	t.Helper()
	res, data := doJSON(t, http.MethodPost, env.srv.URL+"/v0/projects", map[string]any{"name": "Core"}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	project := decode[ProjectResponse](t, data)
	res, data = doJSON(t, http.MethodPost, env.srv.URL+"/v0/users", map[string]any{"id": "u-ana", "username": "ana"}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	return project, decode[UserResponse](t, data)
}

func TestIssueLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	project, user := env.seed(t)
	base := env.srv.URL + "/v0"
	actor := map[string]string{actorHeader: user.ID}

	res, data := doJSON(t, http.MethodPost, base+"/projects/"+project.ID+"/issues", map[string]any{
		"title":    "Login fails",
		"type":     "BUG",
		"priority": "HIGH",
		"labels":   []string{"auth"},
	}, actor)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	issue := decode[IssueResponse](t, data)
	assert.Equal(t, "TODO", issue.Status)
	assert.Equal(t, int64(0), issue.Version)

	res, data = doJSON(t, http.MethodPut, base+"/issues/"+issue.ID+"/start", nil, actor)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	assert.Equal(t, "constraint_violation", decode[errorEnvelope](t, data).Error.Code)

	res, data = doJSON(t, http.MethodPut, base+"/issues/"+issue.ID+"/assign?user_id="+user.ID, nil, actor)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	issue = decode[IssueResponse](t, data)
	require.NotNil(t, issue.Assignee)
	assert.Equal(t, "ana", issue.Assignee.Username)

	res, data = doJSON(t, http.MethodPut, base+"/issues/"+issue.ID+"/start", nil, actor)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = doJSON(t, http.MethodPut, base+"/issues/"+issue.ID+"/complete", nil, actor)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	issue = decode[IssueResponse](t, data)
	assert.Equal(t, "DONE", issue.Status)
	assert.Equal(t, int64(3), issue.Version)

	res, data = doJSON(t, http.MethodPut, base+"/issues/"+issue.ID+"/start", nil, actor)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "invalid_transition", decode[errorEnvelope](t, data).Error.Code)

	res, data = doJSON(t, http.MethodGet, base+"/issues/"+issue.ID+"/history", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	history := decode[[]HistoryResponse](t, data)
	require.Len(t, history, 3)
	assert.Equal(t, "status", history[0].Field)
	assert.Equal(t, "IN_PROGRESS", history[0].OldValue)
	assert.Equal(t, "DONE", history[0].NewValue)
	assert.Equal(t, "assignee", history[2].Field)
	assert.Equal(t, "Unassigned", history[2].OldValue)
	require.NotNil(t, history[0].ChangedBy)
	assert.Equal(t, user.ID, *history[0].ChangedBy)

	res, data = doJSON(t, http.MethodGet, base+"/reports/top-performers", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	top := decode[TopPerformersResponse](t, data)
	require.Len(t, top.Items, 1)
	assert.Equal(t, PerformerResponse{AssigneeName: "ana", ClosedCount: 1}, top.Items[0])
}

func TestSearchAndComments(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	project, user := env.seed(t)
	base := env.srv.URL + "/v0"
	for _, title := range []string{"Fix login", "Write docs"} {
		res, data := doJSON(t, http.MethodPost, base+"/projects/"+project.ID+"/issues", map[string]any{"title": title}, nil)
		require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	}

	res, data := doJSON(t, http.MethodGet, base+"/projects/"+project.ID+"/issues?text=LOGIN&status=todo", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	found := decode[[]IssueResponse](t, data)
	require.Len(t, found, 1)
	assert.Equal(t, "Fix login", found[0].Title)

	res, data = doJSON(t, http.MethodGet, base+"/projects/"+project.ID+"/issues?status=BLOCKED", nil, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, http.MethodPost, base+"/issues/"+found[0].ID+"/comments?user_id="+user.ID, map[string]any{"content": "repro attached"}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, http.MethodPost, base+"/issues/"+found[0].ID+"/comments", map[string]any{"content": "anonymous"}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))

	res, data = doJSON(t, http.MethodGet, base+"/issues/"+found[0].ID+"/comments", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	comments := decode[[]CommentResponse](t, data)
	require.Len(t, comments, 1)
	assert.Equal(t, "ana", comments[0].Author.Username)
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	base := env.srv.URL + "/v0"

	res, data := doJSON(t, http.MethodGet, base+"/issues/missing", nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", decode[errorEnvelope](t, data).Error.Code)

	res, _ = doJSON(t, http.MethodPut, base+"/issues/missing/assign?user_id=nobody", nil, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = doJSON(t, http.MethodGet, base+"/reports/top-performers?from=2024-02-01&to=2024-01-01", nil, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = doJSON(t, http.MethodGet, base+"/reports/top-performers?from=whenever-ish", nil, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = doJSON(t, http.MethodGet, base+"/events?after=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = doJSON(t, http.MethodGet, base+"/openapi.json", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestOpenAPIDocument(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	url := env.srv.URL + "/v0/openapi.json"

	bodies := make([][]byte, 8)
	var wg sync.WaitGroup
	for n := range bodies {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res, err := http.Get(url)
			if err != nil {
				return
			}
			defer res.Body.Close()
			bodies[n], _ = io.ReadAll(res.Body)
		}(n)
	}
	wg.Wait()
	for _, b := range bodies[1:] {
		assert.Equal(t, string(bodies[0]), string(b))
	}

	var doc struct {
		Paths map[string]map[string]struct {
			Responses map[string]struct {
				Content map[string]struct {
					Schema struct {
						Ref string `json:"$ref"`
					} `json:"schema"`
				} `json:"content"`
			} `json:"responses"`
			Security []map[string][]string `json:"security"`
		} `json:"paths"`
		Components struct {
			Schemas         map[string]json.RawMessage `json:"schemas"`
			SecuritySchemes map[string]json.RawMessage `json:"securitySchemes"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(bodies[0], &doc), string(bodies[0]))
	assert.Contains(t, doc.Components.SecuritySchemes, "bearerAuth")
	assert.Contains(t, doc.Components.SecuritySchemes, "actorHeader")

	start, ok := doc.Paths["/v0/issues/{issue_id}/start"]["put"]
	require.True(t, ok)
	ref := start.Responses["default"].Content["application/json"].Schema.Ref
	require.NotEmpty(t, ref)
	assert.Contains(t, doc.Components.Schemas, strings.TrimPrefix(ref, "#/components/schemas/"))
	assert.Len(t, start.Security, 2)
	assert.Empty(t, doc.Paths["/v0/health"]["get"].Security)
}

func TestConcurrentModificationMapsToConflict(t *testing.T) {
	err := handleError(&engine.Error{Kind: engine.KindConcurrentModification, IssueID: "i1", Msg: "stale version"})
	body := err.(*apiError)
	assert.Equal(t, http.StatusConflict, body.GetStatus())
	assert.Equal(t, "concurrent_modification", body.Body.Code)
	assert.Equal(t, "i1", body.Body.Details["issue_id"])
}

func TestJWTIdentifiesActor(t *testing.T) {
	secret := "s3cret"
	env := newTestEnv(t, AuthConfig{JWTSecret: secret})
	base := env.srv.URL + "/v0"

	res, _ := doJSON(t, http.MethodGet, base+"/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, _ = doJSON(t, http.MethodGet, base+"/projects", nil, map[string]string{actorHeader: "u1"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = doJSON(t, http.MethodGet, base+"/projects", nil, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u-ops"}).SignedString([]byte(secret))
	require.NoError(t, err)
	res, data := doJSON(t, http.MethodPost, base+"/projects", map[string]any{"name": "Ops"}, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	evts, err := env.store.EventsAfter(context.Background(), 10, 0, "")
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "u-ops", evts[0].ActorID)
}

func TestWebhookDelivery(t *testing.T) {
	var (
		mu       sync.Mutex
		received []webhookEvent
		secrets  []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err == nil {
			mu.Lock()
			received = append(received, evt)
			secrets = append(secrets, r.Header.Get("X-Issueflow-Secret"))
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	ctx := context.Background()
	s := memstore.New()
	e := engine.New(s, logging.Discard())
	_, err := e.CreateProject(ctx, domain.Project{Name: "Before"})
	require.NoError(t, err)

	d := NewWebhookDispatcher(s, []config.Webhook{{URL: hook.URL, Events: []string{"issue.*"}, Secret: "k"}}, logging.Discard())
	require.True(t, d.Enabled())
	d.DispatchOnce(ctx)

	p, err := e.CreateProject(ctx, domain.Project{Name: "Core"})
	require.NoError(t, err)
	issue, err := e.CreateIssue(ctx, engine.IssueDraft{ProjectID: p.ID, Title: "Hook me"})
	require.NoError(t, err)
	d.DispatchOnce(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "issue.created", received[0].Type)
	assert.Equal(t, issue.ID, received[0].EntityID)
	assert.Equal(t, []string{"k"}, secrets)
}
