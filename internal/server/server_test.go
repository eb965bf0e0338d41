package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"testing"
	"time"

	"agora/internal/config"
	"agora/internal/db"
	"agora/internal/domain"
	"agora/internal/engine"
	"agora/internal/generator"
	"agora/internal/migrate"
)

type testServer struct {
	URL       string
	Engine    engine.Engine
	Scheduler string
	Viewer    string
	AgentID   string
	client    *http.Client
	close     func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	ctx := context.Background()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg, generator.Template{Rand: rand.New(rand.NewPCG(1, 2))})
	if _, err := e.Repo.EnsureChannel(ctx, "general", "anything"); err != nil {
		t.Fatalf("ensure channel: %v", err)
	}
	if _, err := e.Repo.InsertUser(ctx, domain.User{ID: "owner"}); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	agent, err := e.Repo.InsertAgent(ctx, domain.Agent{OwnerID: "owner", Name: "ada", ActivityPerDay: 12, IsActive: true})
	if err != nil {
		t.Fatalf("insert agent: %v", err)
	}
	schedKey, _, err := e.Repo.CreateAPIKey(ctx, "cron", "cron", "scheduler")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	viewKey, _, err := e.Repo.CreateAPIKey(ctx, "dashboard", "dashboard", "viewer")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:       "http://" + ln.Addr().String(),
		Engine:    e,
		Scheduler: schedKey,
		Viewer:    viewKey,
		AgentID:   agent.ID,
		client:    &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func apiKey(key string) map[string]string { return map[string]string{"X-Api-Key": key} }

func TestHealthIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(body))
	}
}

func TestTickRequiresAuthAndPermission(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/scheduler/tick", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/scheduler/tick", nil, apiKey("agk_bogus"))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/scheduler/tick", nil, apiKey(srv.Viewer))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d %s", res.StatusCode, string(body))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Code != "forbidden" {
		t.Fatalf("unexpected error envelope %s", string(body))
	}
}

func TestTickProcessesDueAgentAndReschedules(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/scheduler/tick", nil, apiKey(srv.Scheduler))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("tick status %d: %s", res.StatusCode, string(body))
	}
	var tick TickResponse
	if err := json.Unmarshal(body, &tick); err != nil {
		t.Fatalf("unmarshal tick: %v", err)
	}
	if tick.Processed != 1 || tick.Succeeded+tick.Failed != 1 || len(tick.Errors) != tick.Failed {
		t.Fatalf("unexpected summary %+v", tick.TickSummary)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/agents/"+srv.AgentID, nil, apiKey(srv.Viewer))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get agent status %d: %s", res.StatusCode, string(body))
	}
	var agent AgentResponse
	if err := json.Unmarshal(body, &agent); err != nil {
		t.Fatalf("unmarshal agent: %v", err)
	}
	if agent.NextActivityAt == nil {
		t.Fatal("agent was not rescheduled")
	}
	next, err := time.Parse(time.RFC3339, *agent.NextActivityAt)
	if err != nil || !next.After(time.Now().Add(29*time.Minute)) {
		t.Fatalf("next activity too early: %v %v", next, err)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/agents/"+srv.AgentID+"/activities", nil, apiKey(srv.Viewer))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("activities status %d: %s", res.StatusCode, string(body))
	}
	var list ActivityListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("unmarshal activities: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].Success != (tick.Succeeded == 1) {
		t.Fatalf("activity log does not match tick: %+v", list.Items)
	}

	// The agent is no longer due, so a second pass is empty.
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/scheduler/tick", nil, apiKey(srv.Scheduler))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second tick status %d: %s", res.StatusCode, string(body))
	}
	tick = TickResponse{}
	_ = json.Unmarshal(body, &tick)
	if tick.Processed != 0 || tick.Errors == nil {
		t.Fatalf("expected empty summary, got %+v", tick.TickSummary)
	}
}

func TestGetAgentNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/agents/missing", nil, apiKey(srv.Viewer))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(body))
	}
}

func TestBearerTokenAndMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	token, err := SignToken(testSecret, "cron-job", []string{"scheduler"}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(body))
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(body, &who); err != nil {
		t.Fatal(err)
	}
	if who.ActorID != "cron-job" || who.Source != "jwt" || len(who.Permissions) == 0 {
		t.Fatalf("unexpected principal %+v", who)
	}

	bad, err := SignToken("other-secret", "cron-job", nil, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + bad})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong secret, got %d", res.StatusCode)
	}
}

func TestActivitiesFeedCursor(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := srv.Engine.Activity.Log(ctx, srv.AgentID, domain.ActivityResult{Success: true, ActivityType: domain.ActivityVote}); err != nil {
			t.Fatal(err)
		}
	}
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/activities?limit=2", nil, apiKey(srv.Viewer))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("feed status %d: %s", res.StatusCode, string(body))
	}
	var page ActivityListResponse
	_ = json.Unmarshal(body, &page)
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("unexpected first page %+v", page)
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/activities?limit=2&cursor="+page.NextCursor, nil, apiKey(srv.Viewer))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("feed status %d: %s", res.StatusCode, string(body))
	}
	page = ActivityListResponse{}
	_ = json.Unmarshal(body, &page)
	if len(page.Items) != 1 || page.NextCursor != "" {
		t.Fatalf("unexpected second page %+v", page)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/activities?cursor=abc", nil, apiKey(srv.Viewer))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d", res.StatusCode)
	}
}

func TestTickGateRejectsConcurrentPass(t *testing.T) {
	g := &TickGate{Engine: engine.Engine{Config: config.Default()}}
	g.mu.Lock()
	_, err := g.TryTick(context.Background())
	g.mu.Unlock()
	if err != ErrTickInProgress {
		t.Fatalf("expected ErrTickInProgress, got %v", err)
	}
	if status := handleError(err).(*apiError).GetStatus(); status != http.StatusConflict {
		t.Fatalf("expected 409, got %d", status)
	}
}
