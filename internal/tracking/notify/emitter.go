package notify

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"livestock-cloud/internal/observability/metrics"
	tracking "livestock-cloud/internal/tracking/domain"
)

const defaultDeliveryTimeout = 10 * time.Second

// Emitter turns alert events into a push and a stored notification. The two
// side effects are independent; failures are logged and counted, never
// returned.
type Emitter struct {
	pusher   Pusher
	recorder Recorder
	template *Template
	logger   *log.Logger
	timeout  time.Duration
	newID    func() string
}

// Option configures the emitter.
type Option func(*Emitter)

// WithTemplate overrides the push body template.
func WithTemplate(tpl *Template) Option {
	return func(e *Emitter) {
		if tpl != nil {
			e.template = tpl
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Emitter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithDeliveryTimeout bounds each side effect.
func WithDeliveryTimeout(timeout time.Duration) Option {
	return func(e *Emitter) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// NewEmitter constructs an emitter. Either pusher or recorder may be nil.
func NewEmitter(pusher Pusher, recorder Recorder, opts ...Option) *Emitter {
	tpl, _ := NewTemplate("")
	e := &Emitter{
		pusher:   pusher,
		recorder: recorder,
		template: tpl,
		logger:   log.Default(),
		timeout:  defaultDeliveryTimeout,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit implements application.AlertEmitter.
func (e *Emitter) Emit(ctx context.Context, event tracking.AlertEvent) {
	if e == nil {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	e.guard("push", event, func() { e.push(ctx, event) })
	e.guard("record", event, func() { e.record(ctx, event) })
}

// guard runs one side effect, turning a panic into a logged failure.
func (e *Emitter) guard(stage string, event tracking.AlertEvent, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncEmitterFailure(stage)
			e.logger.Printf("alert emitter %s panic: type=%s animal=%s panic=%v", stage, event.Type, event.AnimalID, r)
		}
	}()
	fn()
}

func (e *Emitter) push(ctx context.Context, event tracking.AlertEvent) {
	if e.pusher == nil {
		return
	}
	body, err := e.template.Render(templateData(event))
	if err != nil {
		e.logger.Printf("alert emitter template error: animal=%s err=%v", event.AnimalID, err)
		body = event.Message
	}
	pushCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	err = e.pusher.Push(pushCtx, Push{
		Type:     event.Type,
		Priority: event.Priority,
		Title:    event.Title,
		Body:     body,
		AnimalID: event.AnimalID,
		FarmID:   event.FarmID,
		At:       event.CreatedAt,
	})
	if err != nil {
		metrics.IncEmitterFailure("push")
		e.logger.Printf("alert emitter push error: type=%s animal=%s err=%v", event.Type, event.AnimalID, err)
	}
}

func (e *Emitter) record(ctx context.Context, event tracking.AlertEvent) {
	if e.recorder == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	err := e.recorder.Append(recordCtx, tracking.Notification{
		ID:        e.newID(),
		FarmID:    event.FarmID,
		Type:      event.Type,
		Priority:  event.Priority,
		Title:     event.Title,
		Message:   event.Message,
		AnimalID:  event.AnimalID,
		Read:      false,
		CreatedAt: event.CreatedAt.UTC(),
	})
	if err != nil {
		metrics.IncEmitterFailure("record")
		e.logger.Printf("alert emitter record error: type=%s animal=%s err=%v", event.Type, event.AnimalID, err)
	}
}
