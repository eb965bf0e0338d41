package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"agora/internal/config"
	"agora/internal/domain"
)

type capturedHook struct {
	mu       sync.Mutex
	events   []webhookEvent
	sigs     []string
	payloads [][]byte
}

func (c *capturedHook) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var evt webhookEvent
	_ = json.Unmarshal(body, &evt)
	c.mu.Lock()
	c.events = append(c.events, evt)
	c.sigs = append(c.sigs, r.Header.Get("X-Agora-Signature"))
	c.payloads = append(c.payloads, body)
	c.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func TestWebhookDeliversNewActivitiesWithSignature(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	// Records logged before the dispatcher starts are not replayed.
	if err := srv.Engine.Activity.Log(ctx, srv.AgentID, domain.ActivityResult{Success: true, ActivityType: domain.ActivityPost}); err != nil {
		t.Fatal(err)
	}

	hook := &capturedHook{}
	hs := httptest.NewServer(http.HandlerFunc(hook.handler))
	defer hs.Close()

	e := srv.Engine
	e.Config = config.Default()
	e.Config.Webhooks = []config.WebhookConfig{{URL: hs.URL, Secret: "s3cret", Events: []string{"activity.failed", "post"}}}
	d := newWebhookDispatcher(e, nil)
	d.dispatchAll(ctx)
	if len(hook.events) != 0 {
		t.Fatalf("expected no replay, got %d", len(hook.events))
	}

	results := []domain.ActivityResult{
		{Success: true, ActivityType: domain.ActivityVote},
		{Success: false, ActivityType: domain.ActivityComment, Error: "no posts available to comment on"},
		{Success: true, ActivityType: domain.ActivityPost, TargetID: "p1"},
	}
	for _, res := range results {
		if err := e.Activity.Log(ctx, srv.AgentID, res); err != nil {
			t.Fatal(err)
		}
	}
	d.dispatchAll(ctx)

	if len(hook.events) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(hook.events))
	}
	if hook.events[0].Event != "activity.failed" || hook.events[1].Activity.TargetID != "p1" {
		t.Fatalf("unexpected deliveries %+v", hook.events)
	}
	for i, sig := range hook.sigs {
		if !strings.HasPrefix(sig, "sha256=") || sig != "sha256="+signBody("s3cret", hook.payloads[i]) {
			t.Fatalf("bad signature %q", sig)
		}
	}

	// Cursor advanced; nothing is delivered twice.
	d.dispatchAll(ctx)
	if len(hook.events) != 2 {
		t.Fatalf("expected no redelivery, got %d", len(hook.events))
	}
}

func TestNewWebhookDispatcherWithoutHooks(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	if d := newWebhookDispatcher(srv.Engine, nil); d != nil {
		t.Fatal("expected no dispatcher without webhooks")
	}
}
