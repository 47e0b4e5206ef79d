package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	tracking "livestock-cloud/internal/tracking/domain"
)

type recordingPusher struct {
	mu     sync.Mutex
	pushes []Push
	err    error
}

func (r *recordingPusher) Push(_ context.Context, push Push) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, push)
	return r.err
}

func (r *recordingPusher) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pushes)
}

type recordingRecorder struct {
	mu    sync.Mutex
	items []tracking.Notification
	err   error
}

func (r *recordingRecorder) Append(_ context.Context, n tracking.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.items = append(r.items, n)
	return nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func breachEvent() tracking.AlertEvent {
	return tracking.NewGeofenceBreach("farm-1", "collar-7", time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
}

func TestEmitterPushesAndRecords(t *testing.T) {
	pusher := &recordingPusher{}
	recorder := &recordingRecorder{}
	emitter := NewEmitter(pusher, recorder, WithLogger(quietLogger()))

	emitter.Emit(context.Background(), breachEvent())

	if pusher.Count() != 1 {
		t.Fatalf("expected 1 push, got %d", pusher.Count())
	}
	push := pusher.pushes[0]
	if push.Title != "Geofence Breach Alert" || push.Body != "Collar collar-7 has left the designated safe zone" {
		t.Fatalf("unexpected push: %+v", push)
	}
	if len(recorder.items) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recorder.items))
	}
	n := recorder.items[0]
	if n.ID == "" || n.Read || n.AnimalID != "collar-7" || n.Type != tracking.AlertGeofenceBreach {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if !n.CreatedAt.Equal(breachEvent().CreatedAt) {
		t.Fatalf("expected created_at from event, got %s", n.CreatedAt)
	}
}

func TestEmitterSideEffectsAreIndependent(t *testing.T) {
	pusher := &recordingPusher{err: errors.New("push down")}
	recorder := &recordingRecorder{}
	NewEmitter(pusher, recorder, WithLogger(quietLogger())).Emit(context.Background(), breachEvent())
	if len(recorder.items) != 1 {
		t.Fatalf("expected record despite push failure, got %d", len(recorder.items))
	}

	pusher = &recordingPusher{}
	recorder = &recordingRecorder{err: errors.New("store down")}
	NewEmitter(pusher, recorder, WithLogger(quietLogger())).Emit(context.Background(), breachEvent())
	if pusher.Count() != 1 {
		t.Fatalf("expected push despite record failure, got %d", pusher.Count())
	}
}

type panickingPusher struct{}

func (panickingPusher) Push(context.Context, Push) error {
	panic("send on closed channel")
}

func TestEmitterRecordsWhenPusherPanics(t *testing.T) {
	recorder := &recordingRecorder{}
	emitter := NewEmitter(panickingPusher{}, recorder, WithLogger(quietLogger()))

	emitter.Emit(context.Background(), breachEvent())

	if len(recorder.items) != 1 {
		t.Fatalf("expected record despite push panic, got %d", len(recorder.items))
	}
}

func TestMultiPusherContinuesAfterPanic(t *testing.T) {
	after := &recordingPusher{}
	err := NewMultiPusher(panickingPusher{}, after).Push(context.Background(), Push{FarmID: "farm-1"})
	if err == nil {
		t.Fatalf("expected error from panicking pusher")
	}
	if after.Count() != 1 {
		t.Fatalf("expected later pusher to run, got %d", after.Count())
	}
}

func TestEmitterDoesNotDedupe(t *testing.T) {
	pusher := &recordingPusher{}
	recorder := &recordingRecorder{}
	emitter := NewEmitter(pusher, recorder, WithLogger(quietLogger()))

	emitter.Emit(context.Background(), breachEvent())
	emitter.Emit(context.Background(), breachEvent())

	if pusher.Count() != 2 || len(recorder.items) != 2 {
		t.Fatalf("expected 2 pushes and 2 records, got %d and %d", pusher.Count(), len(recorder.items))
	}
	if recorder.items[0].ID == recorder.items[1].ID {
		t.Fatal("expected distinct notification ids")
	}
}

func TestEmitterCustomTemplate(t *testing.T) {
	tpl, err := NewTemplate("[{{.Priority}}] {{.Animal}} @ {{.Farm}}: {{.Message}}")
	if err != nil {
		t.Fatalf("new template: %v", err)
	}
	pusher := &recordingPusher{}
	NewEmitter(pusher, nil, WithTemplate(tpl), WithLogger(quietLogger())).Emit(context.Background(), breachEvent())

	want := "[critical] collar-7 @ farm-1: Collar collar-7 has left the designated safe zone"
	if pusher.pushes[0].Body != want {
		t.Fatalf("expected %q, got %q", want, pusher.pushes[0].Body)
	}
}

func TestWebhookChannelPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload webhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	if err := channel.Push(context.Background(), Push{Title: "Lost Connection", Body: "Collar c1 has no data."}); err != nil {
		t.Fatalf("push: %v", err)
	}

	select {
	case payload := <-payloadCh:
		if payload.MsgType != "text" {
			t.Fatalf("expected msgtype text, got %s", payload.MsgType)
		}
		if !strings.Contains(payload.Text.Content, "Lost Connection") || !strings.Contains(payload.Text.Content, "Collar c1 has no data.") {
			t.Fatalf("unexpected content: %s", payload.Text.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for webhook payload")
	}
}

func TestWebhookChannelNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel, _ := NewWebhookChannel(server.URL)
	if err := channel.Push(context.Background(), Push{Title: "t"}); err == nil {
		t.Fatal("expected error on 502")
	}
	if _, err := NewWebhookChannel(""); err == nil {
		t.Fatal("expected error on empty url")
	}
}

func TestMultiPusherContinuesAfterFailure(t *testing.T) {
	failing := &recordingPusher{err: errors.New("boom")}
	ok := &recordingPusher{}
	multi := NewMultiPusher(failing, nil, ok)

	if multi.Len() != 2 {
		t.Fatalf("expected nil pusher skipped, got %d", multi.Len())
	}
	if err := multi.Push(context.Background(), Push{Title: "t"}); err == nil {
		t.Fatal("expected joined error")
	}
	if ok.Count() != 1 {
		t.Fatalf("expected second pusher to receive push, got %d", ok.Count())
	}
}

type stubToken struct {
	err error
}

func (s stubToken) Wait() bool                       { return true }
func (s stubToken) WaitTimeout(_ time.Duration) bool { return true }
func (s stubToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (s stubToken) Error() error { return s.err }

type stubPublisher struct {
	topic   string
	qos     byte
	payload []byte
	err     error
}

func (s *stubPublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	s.topic = topic
	s.qos = qos
	s.payload, _ = payload.([]byte)
	return stubToken{err: s.err}
}

func TestMQTTChannelPublishesToFarmTopic(t *testing.T) {
	publisher := &stubPublisher{}
	channel := NewMQTTChannel(publisher, "/herd/")

	push := Push{Type: tracking.AlertConnectionLost, Title: "Lost Connection", AnimalID: "c9", FarmID: "farm-2"}
	if err := channel.Push(context.Background(), push); err != nil {
		t.Fatalf("push: %v", err)
	}
	if publisher.topic != "herd/farm-2/alerts" {
		t.Fatalf("unexpected topic %s", publisher.topic)
	}
	if publisher.qos != 1 {
		t.Fatalf("expected qos 1, got %d", publisher.qos)
	}
	var decoded Push
	if err := json.Unmarshal(publisher.payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.AnimalID != "c9" || decoded.Type != tracking.AlertConnectionLost {
		t.Fatalf("unexpected payload: %+v", decoded)
	}

	publisher.err = errors.New("not connected")
	if err := channel.Push(context.Background(), push); err == nil {
		t.Fatal("expected publish error")
	}
}
