package claims

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/hoken/internal/integrity"
	"github.com/ashita-ai/hoken/internal/model"
	"github.com/ashita-ai/hoken/internal/settlement"
	"github.com/ashita-ai/hoken/internal/telemetry"
)

// Settle pays out an Approved claim. key must be the claim's idempotency key;
// repeating a completed settlement returns the recorded decision without
// paying twice. Settlements on the same policy are serialized so concurrent
// claims never overdraw the limit.
//
// Payment timeouts are retried with backoff. The retry count is kept on the
// claim, so it accumulates across calls; once it exceeds MaxRetries, or the
// gateway declines, the claim moves to SettlementFailed. If ctx is canceled
// mid-settlement the claim stays Approved.
func (s *Service) Settle(ctx context.Context, id uuid.UUID, key string) (dec model.SettlementDecision, err error) {
	ctx, span := s.tracer.Start(ctx, "claims.settle", trace.WithAttributes(attribute.String("claim_id", id.String())))
	defer func() { telemetry.End(span, err) }()

	c, err := s.Get(ctx, id)
	if err != nil {
		return model.SettlementDecision{}, err
	}
	if key != c.IdempotencyKey {
		return model.SettlementDecision{}, fmt.Errorf("%w: key does not belong to claim %s", model.ErrIdempotencyMismatch, c.ID)
	}

	reqHash, err := integrity.ContentHash(map[string]string{"claim_id": c.ID.String(), "key": key})
	if err != nil {
		return model.SettlementDecision{}, fmt.Errorf("claims: settle: hash request: %w", err)
	}
	rec, err := s.deps.Idempotency.Begin(ctx, key, reqHash)
	if err != nil {
		return model.SettlementDecision{}, fmt.Errorf("claims: settle %s: %w", c.ID, err)
	}
	if rec.Completed {
		if err := json.Unmarshal(rec.Response, &dec); err != nil {
			return model.SettlementDecision{}, fmt.Errorf("claims: settle: decode replay: %w", err)
		}
		s.logger.Info("claims: settlement replayed", "claim_id", c.ID)
		return dec, nil
	}

	done := false
	defer func() {
		if done {
			return
		}
		if cerr := s.deps.Idempotency.Clear(context.WithoutCancel(ctx), key); cerr != nil {
			s.logger.Warn("claims: clear idempotency key failed", "claim_id", id, "error", cerr)
		}
	}()
	complete := func(d model.SettlementDecision) {
		if cerr := s.deps.Idempotency.Complete(context.WithoutCancel(ctx), key, d); cerr != nil {
			s.logger.Warn("claims: complete idempotency key failed", "claim_id", id, "error", cerr)
			return
		}
		done = true
	}

	unlock, err := s.deps.Locker.Lock(ctx, "policy:"+c.PolicyID.String())
	if err != nil {
		return model.SettlementDecision{}, fmt.Errorf("claims: settle: lock policy %s: %w", c.PolicyID, err)
	}
	defer unlock()

	// Reload under the lock; another settlement may have moved this claim.
	if c, err = s.Get(ctx, id); err != nil {
		return model.SettlementDecision{}, err
	}
	switch c.State {
	case model.StateApproved:
	case model.StateSettled:
		if c.Decision == nil {
			return model.SettlementDecision{}, fmt.Errorf("%w: settled claim %s has no decision", model.ErrInvariantViolation, c.ID)
		}
		complete(*c.Decision)
		return *c.Decision, nil
	default:
		_, err := Transition(c.State, EventSettle)
		return model.SettlementDecision{}, err
	}

	terms, err := s.deps.Coverage.Terms(ctx, c.PolicyID)
	if err != nil {
		return model.SettlementDecision{}, fmt.Errorf("claims: settle: policy %s: %w", c.PolicyID, err)
	}
	prior, lineage, err := s.priorPayouts(ctx, c, terms)
	if err != nil {
		return model.SettlementDecision{}, err
	}
	est, ok := c.LatestEstimate()
	if !ok {
		err := fmt.Errorf("%w: approved claim %s has no damage estimate", model.ErrInvariantViolation, c.ID)
		s.logger.Error("claims: settle aborted", "claim_id", c.ID, "error", err)
		return model.SettlementDecision{}, err
	}
	basis := model.BasisAutomated
	if est.Basis == model.EstimateAdjuster {
		basis = model.BasisAdjusterOverride
	}
	dec, err = settlement.Calculate(settlement.Input{
		ClaimID:        c.ID,
		Estimate:       est,
		Terms:          terms,
		IncidentType:   c.IncidentType,
		IncidentDate:   c.IncidentDate,
		PriorPayouts:   prior,
		LineagePayouts: lineage,
		Basis:          basis,
		DecidedAt:      s.now(),
	})
	if err != nil {
		s.logger.Error("claims: settle aborted", "claim_id", c.ID, "error", err)
		return model.SettlementDecision{}, fmt.Errorf("claims: settle %s: %w", c.ID, err)
	}

	if dec.Denied() {
		c.Decision = &dec
		out, err := s.advance(ctx, c, EventSettlementDenied, dec.DeniedReason, nil)
		if err != nil {
			return model.SettlementDecision{}, err
		}
		s.deps.Audit.Emit(ctx, model.AuditSettlementDecision, out.ID.String(), dec.InputHash, dec)
		complete(dec)
		return dec, nil
	}

	auth, c, err := s.authorize(ctx, c, dec, key)
	if err != nil {
		return model.SettlementDecision{}, err
	}

	dec.AuthorizationRef = auth.Reference
	c.Decision = &dec
	c.LastError = ""
	payout := model.Payout{
		ClaimID:          c.ID,
		PolicyID:         c.PolicyID,
		Amount:           dec.ApprovedAmount,
		IdempotencyKey:   key,
		AuthorizationRef: auth.Reference,
		IncidentDate:     c.IncidentDate,
		PaidAt:           s.now().UTC(),
	}
	// The payment is authorized; record it even if the caller has gone away.
	commitCtx := context.WithoutCancel(ctx)
	out, err := s.advance(commitCtx, c, EventSettle, "", func(ctx context.Context, c model.Claim) (model.Claim, error) {
		return s.deps.Payouts.CommitSettlement(ctx, c, payout)
	})
	if err != nil {
		s.logger.Error("claims: payment authorized but settlement not recorded",
			"claim_id", c.ID, "authorization_ref", auth.Reference, "error", err)
		return model.SettlementDecision{}, err
	}
	s.deps.Audit.Emit(commitCtx, model.AuditSettlementDecision, out.ID.String(), dec.InputHash, dec)
	complete(dec)
	return dec, nil
}

// authorize calls the payment gateway until it succeeds, declines, or the
// claim's retry budget runs out. It returns the claim as last persisted.
func (s *Service) authorize(ctx context.Context, c model.Claim, dec model.SettlementDecision, key string) (Authorization, model.Claim, error) {
	b := backoff{base: s.cfg.BaseDelay, max: s.cfg.MaxDelay}
	for {
		auth, err := callWithTimeout(ctx, s.cfg.PaymentTimeout, func(ctx context.Context) (Authorization, error) {
			return s.deps.Payments.Authorize(ctx, c.ID, dec.ApprovedAmount, key)
		})
		if err == nil {
			s.recordAttempt(ctx, "authorized")
			return auth, c, nil
		}
		if ctx.Err() != nil {
			s.recordAttempt(ctx, "canceled")
			return Authorization{}, c, fmt.Errorf("claims: settle %s: %w", c.ID, ctx.Err())
		}
		switch {
		case errors.Is(err, model.ErrPaymentDeclined):
			s.recordAttempt(ctx, "declined")
			return Authorization{}, c, s.failSettlement(ctx, c, err)
		case !model.Retryable(err):
			s.recordAttempt(ctx, "error")
			return Authorization{}, c, fmt.Errorf("claims: settle %s: authorize: %w", c.ID, err)
		}

		s.recordAttempt(ctx, "timeout")
		c.RetryCount++
		c.LastError = err.Error()
		if c.RetryCount > s.cfg.MaxRetries {
			return Authorization{}, c, s.failSettlement(ctx, c, err)
		}
		if c, err = s.save(ctx, c); err != nil {
			return Authorization{}, c, err
		}
		s.logger.Warn("claims: payment attempt timed out", "claim_id", c.ID, "retry", c.RetryCount, "max_retries", s.cfg.MaxRetries)
		if err := sleep(ctx, b.delay(c.RetryCount-1)); err != nil {
			return Authorization{}, c, fmt.Errorf("claims: settle %s: %w", c.ID, err)
		}
	}
}

func (s *Service) failSettlement(ctx context.Context, c model.Claim, cause error) error {
	c.LastError = cause.Error()
	if _, err := s.advance(ctx, c, EventSettlementFailed, cause.Error(), nil); err != nil {
		return err
	}
	return fmt.Errorf("%w: claim %s: %w", model.ErrSettlementFailed, c.ID, cause)
}

func (s *Service) recordAttempt(ctx context.Context, outcome string) {
	s.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
