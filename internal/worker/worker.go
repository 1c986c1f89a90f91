// Package worker provides a NATS worker that answers interpretation requests.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/interpretation-service/internal/core"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultHandleTimeout bounds the handling of one request when no budget
	// is configured. Services derive theirs from the retry budget.
	DefaultHandleTimeout = 4 * time.Minute
	// DefaultMaxInFlight bounds the requests handled at the same time.
	DefaultMaxInFlight = 8
)

var (
	// ErrSubjectEmpty indicates that no request subject was configured.
	ErrSubjectEmpty = errors.New("request subject cannot be empty")
	// ErrGeneratorNil indicates that no generator was supplied.
	ErrGeneratorNil = errors.New("generator cannot be nil")
)

const (
	logFmtRequestReceived = "Received request %s: %d personas, operation %s"
	logFmtRequestRejected = "Rejected request %s: %v"
	logFmtRequestHandled  = "Answered request %s: %d/%d succeeded in %v"
	logFmtExportFailed    = "Export for request %s failed: %v"
	logFmtReplyFailed     = "Failed to publish reply for request %s: %v"
	logFmtDrainTimeout    = "Subscription %s did not close after drain"
)

// Generator produces interpretations for a batch of personas.
type Generator interface {
	GenerateMany(
		ctx context.Context, text string, personaIDs []string, op core.OperationType, opts core.Options,
	) ([]core.Outcome, error)
}

// Options configures a NatsWorker.
type Options struct {
	Subject    string
	QueueGroup string
	// Exporter is optional; without it export requests are answered with an
	// export error.
	Exporter      core.ExportSink
	HandleTimeout time.Duration
	// MaxInFlight bounds concurrent requests. Once reached, delivery waits for
	// a free slot.
	MaxInFlight int
}

// NatsWorker listens for InterpretationRequestedEvents on a NATS subject and
// replies with InterpretationsGeneratedEvents.
type NatsWorker struct {
	natsConnection *nats.Conn
	opts           Options
	generator      Generator
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	generator Generator,
	opts Options,
	log *logger.Logger,
) (*NatsWorker, error) {
	if opts.Subject == "" {
		return nil, ErrSubjectEmpty
	}

	if generator == nil {
		return nil, ErrGeneratorNil
	}

	if opts.HandleTimeout <= 0 {
		opts.HandleTimeout = DefaultHandleTimeout
	}

	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = DefaultMaxInFlight
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		opts:           opts,
		generator:      generator,
		log:            log,
	}, nil
}

// Run subscribes and serves requests until ctx is cancelled, then drains the
// subscription and waits for in-flight requests to be answered.
func (w *NatsWorker) Run(ctx context.Context) error {
	var (
		sub *nats.Subscription
		err error
	)

	var handlers errgroup.Group

	handlers.SetLimit(w.opts.MaxInFlight)

	dispatch := func(msg *nats.Msg) {
		handlers.Go(func() error {
			w.handleMessage(msg)

			return nil
		})
	}

	if w.opts.QueueGroup != "" {
		sub, err = w.natsConnection.QueueSubscribe(w.opts.Subject, w.opts.QueueGroup, dispatch)
	} else {
		sub, err = w.natsConnection.Subscribe(w.opts.Subject, dispatch)
	}

	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.opts.Subject, err)
	}

	closed := sub.StatusChanged(nats.SubscriptionClosed)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	// No callbacks run once the drained subscription is closed.
	select {
	case <-closed:
	case <-time.After(w.opts.HandleTimeout):
		w.log.Warn(logFmtDrainTimeout, w.opts.Subject)
	}

	_ = handlers.Wait()

	return nil
}

// handle turns one request body into its reply.
func (w *NatsWorker) handle(ctx context.Context, data []byte) *core.InterpretationsGeneratedEvent {
	started := time.Now()

	event, err := parseAndValidateEvent(data)
	if err != nil {
		workflowID := ""
		if event != nil {
			workflowID = event.Header.WorkflowID
		}

		w.log.Warn(logFmtRequestRejected, workflowID, err)

		return w.rejection(event, err)
	}

	w.log.Info(logFmtRequestReceived, event.Header.WorkflowID, len(event.PersonaIDs), event.Operation)

	outcomes, err := w.generator.GenerateMany(ctx, event.Text, event.PersonaIDs, event.Operation, event.Options)
	if err != nil {
		w.log.Warn(logFmtRequestRejected, event.Header.WorkflowID, err)

		return w.rejection(event, err)
	}

	reply := &core.InterpretationsGeneratedEvent{
		Header:      replyHeader(event.Header),
		Outcomes:    outcomes,
		ExportKey:   "",
		ExportError: "",
		Error:       nil,
	}

	if event.ExportFormat != core.ExportNone {
		w.export(ctx, event, reply)
	}

	succeeded := len(core.Interpretations(outcomes))
	w.log.Info(logFmtRequestHandled, event.Header.WorkflowID, succeeded, len(outcomes), time.Since(started))

	return reply
}

func (w *NatsWorker) export(
	ctx context.Context,
	event *core.InterpretationRequestedEvent,
	reply *core.InterpretationsGeneratedEvent,
) {
	if w.opts.Exporter == nil {
		reply.ExportError = "export is not configured"

		return
	}

	key, err := w.opts.Exporter.Export(ctx, event.Text, core.Interpretations(reply.Outcomes), event.ExportFormat)
	if err != nil {
		w.log.Error(logFmtExportFailed, event.Header.WorkflowID, err)
		reply.ExportError = err.Error()

		return
	}

	reply.ExportKey = key
}

func (w *NatsWorker) rejection(event *core.InterpretationRequestedEvent, err error) *core.InterpretationsGeneratedEvent {
	header := events.EventHeader{}
	if event != nil {
		header = event.Header
	}

	kind := core.KindOf(err)
	if kind == "" {
		kind = core.KindValidation
	}

	return &core.InterpretationsGeneratedEvent{
		Header:      replyHeader(header),
		Outcomes:    nil,
		ExportKey:   "",
		ExportError: "",
		Error: &core.ErrorDescriptor{
			PersonaID:    "",
			PersonaName:  "",
			Kind:         kind,
			ErrorMessage: err.Error(),
		},
	}
}

// replyHeader keeps the caller's workflow and identity and stamps a new event.
func replyHeader(request events.EventHeader) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now().UTC(),
		WorkflowID: request.WorkflowID,
		EventID:    uuid.NewString(),
		UserID:     request.UserID,
		TenantID:   request.TenantID,
	}
}

// publishReplyEvent marshals and responds with the reply event.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *core.InterpretationsGeneratedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

// parseAndValidateEvent decodes a request and checks the fields the generator
// cannot report per persona. The decoded event is returned even when
// validation fails so the reply can echo its header.
func parseAndValidateEvent(data []byte) (*core.InterpretationRequestedEvent, error) {
	var event core.InterpretationRequestedEvent

	err := json.Unmarshal(data, &event)
	if err != nil {
		return nil, core.NewError(core.KindValidation, "failed to unmarshal event", err)
	}

	_, opErr := core.ParseOperation(string(event.Operation))
	if opErr != nil {
		return &event, opErr
	}

	switch event.ExportFormat {
	case core.ExportNone, core.ExportText, core.ExportMarkdown:
	default:
		return &event, core.NewError(core.KindValidation, fmt.Sprintf("unsupported export format %q", event.ExportFormat), nil)
	}

	return &event, nil
}
