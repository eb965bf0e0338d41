package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"agora/internal/config"
	"agora/internal/domain"
	"agora/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

type webhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
	logger   *log.Logger
	mu       sync.Mutex
	cursors  map[int]int64
}

// StartWebhooks delivers new activity log records to the configured webhooks
// until ctx is done. Delivery starts from the log position at startup.
func StartWebhooks(ctx context.Context, e engine.Engine, logger *log.Logger) {
	d := newWebhookDispatcher(e, logger)
	if d == nil {
		return
	}
	go d.run(ctx)
}

func newWebhookDispatcher(e engine.Engine, logger *log.Logger) *webhookDispatcher {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return nil
	}
	if logger == nil {
		logger = log.Default()
	}
	return &webhookDispatcher{
		engine:   e,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		logger:   logger,
		cursors:  make(map[int]int64),
	}
}

func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *webhookDispatcher) dispatchAll(ctx context.Context) {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *webhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx)
	records, err := d.engine.Repo.ActivitiesAfter(ctx, cursor, defaultWebhookBatch)
	if err != nil {
		d.logger.Printf("webhook: fetch activities failed: %v", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, rec := range records {
		if !filter.match(rec) {
			d.setCursor(idx, rec.Seq)
			continue
		}
		if err := d.postActivity(ctx, hook, rec); err != nil {
			d.logger.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
			return
		}
		d.setCursor(idx, rec.Seq)
	}
}

func (d *webhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.engine.Repo.LatestActivitySeq(ctx)
	if err != nil {
		d.logger.Printf("webhook: init cursor failed: %v", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *webhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	Event    string                `json:"event"`
	Activity domain.ActivityRecord `json:"activity"`
}

func activityEvent(rec domain.ActivityRecord) string {
	if rec.Success {
		return "activity.succeeded"
	}
	return "activity.failed"
}

// signBody returns the hex HMAC-SHA256 of body under secret.
func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (d *webhookDispatcher) postActivity(ctx context.Context, hook config.WebhookConfig, rec domain.ActivityRecord) error {
	event := activityEvent(rec)
	data, err := json.Marshal(webhookEvent{Event: event, Activity: rec})
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutMS > 0 {
		if timeout := time.Duration(hook.TimeoutMS) * time.Millisecond; timeout != d.client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agora-Event", event)
	req.Header.Set("X-Agora-Delivery", rec.ID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Agora-Signature", "sha256="+signBody(hook.Secret, data))
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

// eventFilter matches either the event name (activity.succeeded,
// activity.failed) or the activity type (post, comment, vote).
type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(rec domain.ActivityRecord) bool {
	if f.all {
		return true
	}
	if _, ok := f.set[activityEvent(rec)]; ok {
		return true
	}
	_, ok := f.set[string(rec.ActivityType)]
	return ok
}
