package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/outreach/internal/circuitbreaker"
)

// ProtectedSender puts a circuit breaker in front of a transport. While
// the circuit is open Send returns circuitbreaker.ErrCircuitOpen without
// calling the transport, and dispatch defers the rest of the pass.
type ProtectedSender struct {
	sender  Sender
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewProtectedSender(sender Sender, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

func (p *ProtectedSender) Name() string { return p.sender.Name() }

func (p *ProtectedSender) Send(ctx context.Context, msg Message) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit open, transport call skipped",
			zap.String("transport", p.sender.Name()),
			zap.String("tracking_id", msg.TrackingID),
		)
		return fmt.Errorf("%w: %s transport unavailable", circuitbreaker.ErrCircuitOpen, p.sender.Name())
	}

	err := p.sender.Send(ctx, msg)
	switch {
	case err == nil:
		p.breaker.RecordSuccess()
	case errors.Is(err, ErrNoRecipient), errors.Is(err, ErrRecipientRejected):
		// the transport answered; only this recipient was bad
		p.breaker.RecordSuccess()
	default:
		p.breaker.RecordFailure()
	}
	return err
}
