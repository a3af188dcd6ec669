// Package relay drives one live agent request: it supervises the spawned
// process, forwards its decoded output to the client sink in receipt
// order, and keeps the session registry in step with the run's lifecycle.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sessiond/internal/agent"
	"sessiond/internal/broker"
	"sessiond/internal/claude"
	"sessiond/internal/registry"
)

// State names the phases of a relay run.
type State string

const (
	// StateStarting covers the span between accepting a request and the
	// subprocess producing its first event.
	StateStarting State = "starting"
	// StateStreaming means events are flowing to the client.
	StateStreaming State = "streaming"
	// StateCompleted means the agent finished on its own.
	StateCompleted State = "completed"
	// StateCancelled means the run was stopped: an explicit cancel, a
	// client disconnect, or daemon shutdown.
	StateCancelled State = "cancelled"
	// StateFailed means the run ended with an error to report.
	StateFailed State = "failed"
)

// Sink receives one framed payload per relayed event, in receipt order. A
// Send error means the client is gone and the run should stop.
type Sink interface {
	Send(ctx context.Context, data []byte) error
}

// Request describes one message send.
type Request struct {
	Prompt    string
	SessionID string // resume this session when set
	WorkDir   string
	Images    []agent.Image
}

// Outcome reports how a relay run ended. SessionID is the id the agent
// announced, or empty if it never did.
type Outcome struct {
	State     State
	SessionID string
	Err       error
}

// Relay ties an agent driver, the session registry, and client sinks
// together. One Relay serves any number of concurrent runs.
type Relay struct {
	driver   agent.Driver
	registry *registry.Registry
	logger   *slog.Logger
}

// New returns a relay. Driver and registry are required.
func New(driver agent.Driver, reg *registry.Registry, logger *slog.Logger) *Relay {
	if driver == nil {
		panic("relay: driver is required")
	}
	if reg == nil {
		panic("relay: registry is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{driver: driver, registry: reg, logger: logger}
}

// Run executes one request to completion, forwarding every decoded event
// to sink as it arrives. It registers the session for the duration of the
// run; a second run against the same session id fails with ErrBusy. Run
// returns once the subprocess has been reaped and the session is no longer
// registered.
func (r *Relay) Run(ctx context.Context, req Request, sink Sink) Outcome {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := time.Now()

	// Until the agent announces its session id, the run is registered
	// under a provisional one so it can be cancelled from the start.
	id := req.SessionID
	provisional := id == ""
	if provisional {
		id = uuid.NewString()
	}

	feed := broker.New[claude.LogEntry]()
	defer feed.Close()

	if err := r.registry.Register(id, &registry.Session{
		Cancel:    cancel,
		Events:    feed,
		StartedAt: started,
	}); err != nil {
		return Outcome{State: StateFailed, Err: err}
	}
	defer func() { r.registry.Remove(id) }()

	logger := r.logger.With("session", id)
	logger.Info("relay starting", "resume", !provisional)

	proc, err := r.driver.Start(runCtx, agent.StartConfig{
		Prompt:    req.Prompt,
		SessionID: req.SessionID,
		WorkDir:   req.WorkDir,
		Images:    req.Images,
	})
	if err != nil {
		return Outcome{State: StateFailed, Err: fmt.Errorf("spawn agent: %w", err)}
	}

	events := make(chan claude.LogEntry)
	pumpDone := make(chan error, 1)
	go func() {
		defer close(events)
		pumpDone <- r.driver.ParseOutput(runCtx, proc.Output(), events)
	}()

	state := StateStreaming
	sawResult := false
	disconnected := false

forward:
	for {
		select {
		case <-runCtx.Done():
			state = StateCancelled
			break forward
		case entry, ok := <-events:
			if !ok {
				break forward
			}
			if provisional && entry.SessionID != "" {
				if r.registry.Rekey(id, entry.SessionID) {
					id = entry.SessionID
					logger = r.logger.With("session", id)
					logger.Debug("session id resolved")
				} else {
					logger.Warn("could not adopt announced session id", "announced", entry.SessionID)
				}
				provisional = false
			}
			if err := sink.Send(runCtx, entry.Raw); err != nil {
				logger.Info("client disconnected", "error", err)
				disconnected = true
				state = StateCancelled
				break forward
			}
			feed.Publish(entry)
			if entry.Type == claude.EntryTypeResult {
				sawResult = true
			}
		}
	}

	// The pump can observe a cancel and close the event channel before the
	// loop re-enters its select, so a cancelled run may exit through the
	// closed-channel branch. Recheck before our own cancel below masks it.
	if state == StateStreaming && runCtx.Err() != nil {
		state = StateCancelled
	}

	// Deregister before reaping: a cancelled session must read as not
	// busy immediately, not once the subprocess winds down.
	r.registry.Remove(id)
	cancel()

	waitErr := proc.Wait()
	pumpErr := <-pumpDone

	switch {
	case state == StateCancelled:
	case waitErr != nil:
		state = StateFailed
	case pumpErr != nil && !errors.Is(pumpErr, context.Canceled):
		state = StateFailed
	default:
		state = StateCompleted
	}

	outcome := Outcome{State: state}
	if !provisional {
		outcome.SessionID = id
	}

	switch state {
	case StateFailed:
		if waitErr != nil {
			outcome.Err = waitErr
		} else {
			outcome.Err = pumpErr
		}
		logger.Error("relay failed", "error", outcome.Err, "duration", time.Since(started))
	case StateCancelled:
		logger.Info("relay cancelled", "disconnected", disconnected, "duration", time.Since(started))
	default:
		logger.Info("relay completed", "result", sawResult, "duration", time.Since(started))
	}
	return outcome
}
