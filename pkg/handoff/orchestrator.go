package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// CallControl is the slice of the telephony control plane the orchestrator
// needs. *telephony.ControlClient satisfies it.
type CallControl interface {
	Hold(ctx context.Context, callID string) error
	Transfer(ctx context.Context, callID, destination string) error
	BroadcastAudio(ctx context.Context, callID, fileURL string) error
}

// Orchestrator resolves escalation requests. Resolution always reaches a
// terminal Outcome: transferred, ticket_created, or (when even the
// ticketing API is down) failed with the error attached. It never leaves a
// request pending.
type Orchestrator struct {
	presence PresenceClient
	tickets  TicketClient
	control  CallControl
	log      *slog.Logger
}

// NewOrchestrator wires the orchestrator's collaborators. logger may be nil.
func NewOrchestrator(presence PresenceClient, tickets TicketClient, control CallControl, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		presence: presence,
		tickets:  tickets,
		control:  control,
		log:      logger,
	}
}

// Evaluate snapshots a trigger into a Request under the tenant's policy.
func (o *Orchestrator) Evaluate(t Trigger, cfg Config) Request {
	return NewRequest(t, cfg.TargetQueue)
}

// Resolve runs the escalation algorithm: business hours, then presence,
// then a bounded transfer attempt, with ticket creation as the fallback at
// every step.
func (o *Orchestrator) Resolve(ctx context.Context, req Request, cfg Config) Outcome {
	log := o.log.With("call_id", req.CallID, "tenant_id", req.TenantID, "handoff_id", req.ID, "reason", req.Reason)

	// Provider exhaustion means there is no working conversation left to
	// hand over live. Go straight to a ticket.
	if req.Reason == ReasonProviderExhausted {
		log.Info("providers exhausted, filing ticket")
		return o.ticket(ctx, req, log)
	}

	if !cfg.Hours.Open(time.Now()) {
		log.Info("outside business hours, filing ticket")
		return o.ticket(ctx, req, log)
	}

	agents, err := o.presence.AvailableAgents(ctx, req.TenantID, req.TargetQueue)
	if err != nil {
		log.Warn("presence query failed, filing ticket", "error", err)
		return o.ticket(ctx, req, log)
	}
	if len(agents) == 0 {
		log.Info("no agents available, filing ticket")
		return o.ticket(ctx, req, log)
	}

	timeout := cfg.TransferTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().TransferTimeout
	}
	transferCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dest, err := o.transfer(transferCtx, req, agents[0], cfg.AnnouncementURL)
	if err != nil {
		log.Warn("transfer failed, filing ticket", "destination", dest, "error", err)
		return o.ticket(ctx, req, log)
	}

	log.Info("call transferred", "destination", dest)
	return Outcome{Result: ResultTransferred, Destination: dest, ResolvedAt: time.Now()}
}

// transfer holds the caller, plays the announcement, and originates the
// agent leg. Any step failing or timing out fails the whole attempt.
func (o *Orchestrator) transfer(ctx context.Context, req Request, agent Agent, announcementURL string) (string, error) {
	if err := o.control.Hold(ctx, req.CallID); err != nil {
		return agent.Destination, fmt.Errorf("hold: %w", err)
	}
	if announcementURL != "" {
		if err := o.control.BroadcastAudio(ctx, req.CallID, announcementURL); err != nil {
			// The announcement is a courtesy. A failed playback should not
			// cost the caller their transfer.
			o.log.Warn("transfer announcement failed", "call_id", req.CallID, "error", err)
		}
	}
	if err := o.control.Transfer(ctx, req.CallID, agent.Destination); err != nil {
		return agent.Destination, fmt.Errorf("transfer: %w", err)
	}
	return agent.Destination, nil
}

// ticket files the fallback ticket, retrying briefly. Ticket creation is
// the terminal safety net; it must not share the transfer attempt's fate on
// a canceled context, so it gets its own deadline.
func (o *Orchestrator) ticket(ctx context.Context, req Request, log *slog.Logger) Outcome {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	ticketCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	t := Ticket{
		TenantID:     req.TenantID,
		CallID:       req.CallID,
		Caller:       req.Caller,
		Reason:       req.Reason,
		Subject:      fmt.Sprintf("Call %s escalated: %s", req.CallID, req.Reason),
		Summary:      summarize(req.Transcript, req.Reason),
		Transcript:   req.Transcript,
		RecordingURL: req.RecordingURL,
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ticketCtx.Done():
				lastErr = errors.Join(lastErr, ticketCtx.Err())
				log.Error("ticket creation failed", "error", lastErr)
				return Outcome{Result: ResultFailed, Err: lastErr, ResolvedAt: time.Now()}
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
		id, err := o.tickets.CreateTicket(ticketCtx, t)
		if err == nil {
			log.Info("ticket created", "ticket_id", id)
			return Outcome{Result: ResultTicketCreated, TicketID: id, ResolvedAt: time.Now()}
		}
		lastErr = err
	}

	log.Error("ticket creation failed", "error", lastErr)
	return Outcome{Result: ResultFailed, Err: lastErr, ResolvedAt: time.Now()}
}
