package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/hoken/internal/assessment"
	"github.com/ashita-ai/hoken/internal/audit"
	"github.com/ashita-ai/hoken/internal/ctxutil"
	"github.com/ashita-ai/hoken/internal/integrity"
	"github.com/ashita-ai/hoken/internal/model"
	"github.com/ashita-ai/hoken/internal/telemetry"
)

// MinDescriptionLength is the shortest incident description accepted for submission.
const MinDescriptionLength = 20

// Config holds the lifecycle tunables.
type Config struct {
	// ConfidenceFloor routes estimates below it to adjuster review.
	ConfidenceFloor float64
	// AutoApprovalCeiling routes estimates above it to adjuster review.
	AutoApprovalCeiling decimal.Decimal
	// MaxRetries bounds payment retries per claim and diagnostic retries per fetch.
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	PaymentTimeout    time.Duration
	DiagnosticTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ConfidenceFloor:     0.6,
		AutoApprovalCeiling: decimal.NewFromInt(25000),
		MaxRetries:          5,
		BaseDelay:           200 * time.Millisecond,
		MaxDelay:            10 * time.Second,
		PaymentTimeout:      5 * time.Second,
		DiagnosticTimeout:   5 * time.Second,
	}
}

// Deps are the collaborators of a Service. Profiles, Diagnostics, Audit,
// Logger and Now are optional.
type Deps struct {
	Claims      Repository
	Payouts     PayoutLedger
	Idempotency IdempotencyStore
	Coverage    CoverageStore
	Robots      RobotRegistry
	Profiles    ProfileReader
	Assessor    Assessor
	Diagnostics DiagnosticProvider
	Payments    PaymentGateway
	Locker      Locker
	Audit       *audit.Emitter
	Logger      *slog.Logger
	Now         func() time.Time
}

// Service runs the claim lifecycle.
type Service struct {
	cfg  Config
	deps Deps

	logger *slog.Logger
	now    func() time.Time
	tracer trace.Tracer

	transitions metric.Int64Counter
	attempts    metric.Int64Counter
}

// NewService validates the dependencies and creates a Service.
func NewService(cfg Config, deps Deps) (*Service, error) {
	var missing []string
	for name, ok := range map[string]bool{
		"claims":      deps.Claims != nil,
		"payouts":     deps.Payouts != nil,
		"idempotency": deps.Idempotency != nil,
		"coverage":    deps.Coverage != nil,
		"robots":      deps.Robots != nil,
		"assessor":    deps.Assessor != nil,
		"payments":    deps.Payments != nil,
		"locker":      deps.Locker != nil,
	} {
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("claims: missing dependencies: %s", strings.Join(missing, ", "))
	}
	if cfg.ConfidenceFloor < 0 || cfg.ConfidenceFloor > 1 {
		return nil, fmt.Errorf("%w: confidence floor %v outside [0,1]", model.ErrValidation, cfg.ConfidenceFloor)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: max retries must be non-negative", model.ErrValidation)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	meter := telemetry.Meter("hoken/claims")
	transitions, _ := meter.Int64Counter("hoken.claims.transitions",
		metric.WithDescription("Claim lifecycle transitions"),
	)
	attempts, _ := meter.Int64Counter("hoken.settlement.attempts",
		metric.WithDescription("Payment authorization attempts"),
	)
	return &Service{
		cfg:         cfg,
		deps:        deps,
		logger:      logger,
		now:         now,
		tracer:      telemetry.Tracer("hoken/claims"),
		transitions: transitions,
		attempts:    attempts,
	}, nil
}

// NewClaim is the intake form for a claim.
type NewClaim struct {
	PolicyID     uuid.UUID                 `json:"policy_id"`
	RobotID      uuid.UUID                 `json:"robot_id"`
	IncidentType model.IncidentType        `json:"incident_type"`
	IncidentDate time.Time                 `json:"incident_date"`
	Description  string                    `json:"description"`
	Documents    []string                  `json:"documents,omitempty"`
	PreIncident  *model.DiagnosticSnapshot `json:"pre_incident,omitempty"`
	PostIncident *model.DiagnosticSnapshot `json:"post_incident,omitempty"`
}

// Create opens a Draft claim. The claim's idempotency key is generated here
// and reused for every settlement attempt.
func (s *Service) Create(ctx context.Context, in NewClaim) (model.Claim, error) {
	now := s.now().UTC()
	var problems []string
	if in.PolicyID == uuid.Nil {
		problems = append(problems, "policy_id is required")
	}
	if in.RobotID == uuid.Nil {
		problems = append(problems, "robot_id is required")
	}
	if in.IncidentType == "" {
		problems = append(problems, "incident_type is required")
	}
	switch {
	case in.IncidentDate.IsZero():
		problems = append(problems, "incident_date is required")
	case in.IncidentDate.After(now):
		problems = append(problems, "incident_date cannot be in the future")
	}
	if len(problems) > 0 {
		return model.Claim{}, fmt.Errorf("%w: %s", model.ErrValidation, strings.Join(problems, "; "))
	}
	if _, err := s.deps.Coverage.Terms(ctx, in.PolicyID); err != nil {
		return model.Claim{}, fmt.Errorf("claims: create: policy %s: %w", in.PolicyID, err)
	}
	if _, err := s.deps.Robots.Robot(ctx, in.RobotID); err != nil {
		return model.Claim{}, fmt.Errorf("claims: create: robot %s: %w", in.RobotID, err)
	}

	c := model.Claim{
		ID:             uuid.New(),
		PolicyID:       in.PolicyID,
		RobotID:        in.RobotID,
		State:          model.StateDraft,
		Priority:       model.PriorityLow,
		IncidentType:   in.IncidentType,
		IncidentDate:   in.IncidentDate.UTC(),
		ReportedDate:   now,
		Description:    strings.TrimSpace(in.Description),
		Documents:      append([]string(nil), in.Documents...),
		PreIncident:    in.PreIncident,
		PostIncident:   in.PostIncident,
		IdempotencyKey: uuid.NewString(),
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
		History: []model.TransitionRecord{{
			To:    model.StateDraft,
			Event: "create",
			Actor: ctxutil.ActorFromContext(ctx),
			At:    now,
		}},
	}
	if err := s.deps.Claims.CreateClaim(ctx, c); err != nil {
		return model.Claim{}, fmt.Errorf("claims: create: %w", err)
	}
	s.logger.Info("claims: created", "claim_id", c.ID, "policy_id", c.PolicyID, "incident_type", c.IncidentType)
	return c.Clone(), nil
}

// Get returns a claim.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (model.Claim, error) {
	c, err := s.deps.Claims.GetClaim(ctx, id)
	if err != nil {
		return model.Claim{}, fmt.Errorf("claims: get %s: %w", id, err)
	}
	return c, nil
}

// EvidenceUpdate changes the incident narrative. Nil fields are left alone.
type EvidenceUpdate struct {
	Description *string  `json:"description,omitempty"`
	Documents   []string `json:"documents,omitempty"`
}

// UpdateEvidence edits description and documents. Only Draft and Submitted
// claims are editable.
func (s *Service) UpdateEvidence(ctx context.Context, id uuid.UUID, upd EvidenceUpdate) (model.Claim, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return model.Claim{}, err
	}
	if err := requireEditable(c); err != nil {
		return model.Claim{}, err
	}
	if upd.Description != nil {
		c.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.Documents != nil {
		c.Documents = append(c.Documents, upd.Documents...)
	}
	c.UpdatedAt = s.now().UTC()
	return s.save(ctx, c)
}

// SnapshotKind selects which diagnostic snapshot to attach.
type SnapshotKind string

const (
	PreIncident  SnapshotKind = "pre"
	PostIncident SnapshotKind = "post"
)

// AttachSnapshot attaches diagnostic evidence. Allowed while the claim is
// editable, and during adjuster review so new evidence can inform the decision.
func (s *Service) AttachSnapshot(ctx context.Context, id uuid.UUID, kind SnapshotKind, snap model.DiagnosticSnapshot) (model.Claim, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return model.Claim{}, err
	}
	if c.State != model.StatePendingAdjusterReview {
		if err := requireEditable(c); err != nil {
			return model.Claim{}, err
		}
	}
	if snap.RobotID != uuid.Nil && snap.RobotID != c.RobotID {
		return model.Claim{}, fmt.Errorf("%w: snapshot belongs to robot %s, claim is for %s", model.ErrValidation, snap.RobotID, c.RobotID)
	}
	switch kind {
	case PreIncident:
		c.PreIncident = &snap
	case PostIncident:
		c.PostIncident = &snap
	default:
		return model.Claim{}, fmt.Errorf("%w: unknown snapshot kind %q", model.ErrValidation, kind)
	}
	c.UpdatedAt = s.now().UTC()
	return s.save(ctx, c)
}

// Submit moves a Draft claim to Submitted.
func (s *Service) Submit(ctx context.Context, id uuid.UUID) (model.Claim, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return model.Claim{}, err
	}
	if n := len([]rune(strings.TrimSpace(c.Description))); n < MinDescriptionLength {
		return model.Claim{}, fmt.Errorf("%w: description must be at least %d characters, got %d", model.ErrValidation, MinDescriptionLength, n)
	}
	if c.IncidentDate.After(c.ReportedDate) {
		return model.Claim{}, fmt.Errorf("%w: incident date is after reported date", model.ErrValidation)
	}
	return s.advance(ctx, c, EventSubmit, "", nil)
}

// Withdraw cancels a claim on the claimant's behalf. Before assessment the
// claim becomes Withdrawn; afterwards it is Denied with reason "withdrawn".
func (s *Service) Withdraw(ctx context.Context, id uuid.UUID, reason string) (model.Claim, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return model.Claim{}, err
	}
	to, err := Transition(c.State, EventWithdraw)
	if err != nil {
		return model.Claim{}, err
	}
	if to == model.StateDenied {
		if c.Decision, err = s.denial(c, model.DenialWithdrawn, model.BasisAutomated); err != nil {
			return model.Claim{}, err
		}
	}
	return s.advance(ctx, c, EventWithdraw, reason, nil)
}

// AdjusterApproval is an adjuster's sign-off on a claim under review.
// ManualAmount, when set, becomes the latest estimate and makes the
// settlement an adjuster override.
type AdjusterApproval struct {
	AdjusterID   string           `json:"adjuster_id"`
	ManualAmount *decimal.Decimal `json:"manual_amount,omitempty"`
	Note         string           `json:"note,omitempty"`
}

// ApproveAfterReview approves a claim in PendingAdjusterReview.
func (s *Service) ApproveAfterReview(ctx context.Context, id uuid.UUID, a AdjusterApproval) (model.Claim, error) {
	if strings.TrimSpace(a.AdjusterID) == "" {
		return model.Claim{}, fmt.Errorf("%w: adjuster_id is required", model.ErrValidation)
	}
	ctx = ctxutil.WithActor(ctx, a.AdjusterID)
	c, err := s.Get(ctx, id)
	if err != nil {
		return model.Claim{}, err
	}
	if !CanTransition(c.State, EventAdjusterApprove) {
		_, err := Transition(c.State, EventAdjusterApprove)
		return model.Claim{}, err
	}
	if a.ManualAmount != nil {
		robot, err := s.deps.Robots.Robot(ctx, c.RobotID)
		if err != nil {
			return model.Claim{}, fmt.Errorf("claims: approve: robot %s: %w", c.RobotID, err)
		}
		est, err := s.deps.Assessor.Manual(c.ID, *a.ManualAmount, robot.ReplacementValue, a.Note)
		if err != nil {
			return model.Claim{}, err
		}
		c.DamageEstimates = append(c.DamageEstimates, est)
		c.Priority = assessment.PriorityFor(est.SeverityClass)
	} else if _, ok := c.LatestEstimate(); !ok {
		return model.Claim{}, fmt.Errorf("%w: claim has no estimate; a manual amount is required", model.ErrValidation)
	}
	if a.Note != "" {
		c.Notes = append(c.Notes, model.AdjusterNote{AdjusterID: a.AdjusterID, Note: a.Note, At: s.now().UTC()})
	}
	out, err := s.advance(ctx, c, EventAdjusterApprove, a.Note, nil)
	if err != nil {
		return model.Claim{}, err
	}
	if a.ManualAmount != nil {
		est, _ := out.LatestEstimate()
		s.deps.Audit.Emit(ctx, model.AuditDamageEstimate, out.ID.String(), est.InputHash, est)
	}
	return out, nil
}

// DenyAfterReview denies a claim in PendingAdjusterReview.
func (s *Service) DenyAfterReview(ctx context.Context, id uuid.UUID, adjusterID, reason string) (model.Claim, error) {
	if strings.TrimSpace(adjusterID) == "" || strings.TrimSpace(reason) == "" {
		return model.Claim{}, fmt.Errorf("%w: adjuster_id and reason are required", model.ErrValidation)
	}
	ctx = ctxutil.WithActor(ctx, adjusterID)
	c, err := s.Get(ctx, id)
	if err != nil {
		return model.Claim{}, err
	}
	if _, err := Transition(c.State, EventAdjusterDeny); err != nil {
		return model.Claim{}, err
	}
	if c.Decision, err = s.denial(c, reason, model.BasisAdjusterOverride); err != nil {
		return model.Claim{}, err
	}
	c.Notes = append(c.Notes, model.AdjusterNote{AdjusterID: adjusterID, Note: reason, At: s.now().UTC()})
	out, err := s.advance(ctx, c, EventAdjusterDeny, reason, nil)
	if err != nil {
		return model.Claim{}, err
	}
	s.deps.Audit.Emit(ctx, model.AuditSettlementDecision, out.ID.String(), out.Decision.InputHash, out.Decision)
	return out, nil
}

// Dispute contests a Settled or Denied claim. The original decision is left
// untouched; a linked follow-up claim is opened in Submitted for re-review.
// Returns the disputed original and the follow-up.
func (s *Service) Dispute(ctx context.Context, id uuid.UUID, reason string) (model.Claim, model.Claim, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return model.Claim{}, model.Claim{}, err
	}
	if _, err := Transition(c.State, EventDispute); err != nil {
		return model.Claim{}, model.Claim{}, err
	}
	followUp := s.followUp(ctx, c, "dispute_opened", reason)
	original, err := s.advance(ctx, c, EventDispute, reason, func(ctx context.Context, c model.Claim) (model.Claim, error) {
		return s.deps.Claims.CreateFollowUp(ctx, c, followUp)
	})
	if err != nil {
		return model.Claim{}, model.Claim{}, err
	}
	return original, followUp, nil
}

// Reopen opens a follow-up claim for a claim whose settlement failed. The
// failed claim stays terminal; it can be reopened once.
func (s *Service) Reopen(ctx context.Context, id uuid.UUID, reason string) (model.Claim, model.Claim, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return model.Claim{}, model.Claim{}, err
	}
	if _, err := Transition(c.State, EventReopen); err != nil {
		return model.Claim{}, model.Claim{}, err
	}
	for _, h := range c.History {
		if h.Event == string(EventReopen) {
			return model.Claim{}, model.Claim{}, fmt.Errorf("%w: claim %s was already reopened", model.ErrIllegalTransition, c.ID)
		}
	}
	followUp := s.followUp(ctx, c, "reopened", reason)
	original, err := s.advance(ctx, c, EventReopen, reason, func(ctx context.Context, c model.Claim) (model.Claim, error) {
		return s.deps.Claims.CreateFollowUp(ctx, c, followUp)
	})
	if err != nil {
		return model.Claim{}, model.Claim{}, err
	}
	return original, followUp, nil
}

func (s *Service) followUp(ctx context.Context, parent model.Claim, event, reason string) model.Claim {
	now := s.now().UTC()
	src := parent.Clone()
	parentID := parent.ID
	return model.Claim{
		ID:             uuid.New(),
		PolicyID:       parent.PolicyID,
		RobotID:        parent.RobotID,
		ParentClaimID:  &parentID,
		State:          model.StateSubmitted,
		Priority:       parent.Priority,
		IncidentType:   parent.IncidentType,
		IncidentDate:   parent.IncidentDate,
		ReportedDate:   parent.ReportedDate,
		Description:    parent.Description,
		Documents:      src.Documents,
		PreIncident:    src.PreIncident,
		PostIncident:   src.PostIncident,
		IdempotencyKey: uuid.NewString(),
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
		History: []model.TransitionRecord{{
			To:     model.StateSubmitted,
			Event:  event,
			Actor:  ctxutil.ActorFromContext(ctx),
			Reason: reason,
			At:     now,
		}},
	}
}

// denial builds a zero-payout decision. Its input hash covers the claim, the
// reason, the basis and the estimate it was made against, if any.
func (s *Service) denial(c model.Claim, reason string, basis model.DecisionBasis) (*model.SettlementDecision, error) {
	d := &model.SettlementDecision{
		ClaimID:        c.ID,
		ApprovedAmount: decimal.Zero,
		DeniedReason:   reason,
		DecisionBasis:  basis,
		DecidedAt:      s.now().UTC(),
	}
	inputs := map[string]string{
		"claim_id": c.ID.String(),
		"reason":   reason,
		"basis":    string(basis),
	}
	if est, ok := c.LatestEstimate(); ok {
		id := est.ID
		d.EstimateID = &id
		inputs["estimate_id"] = id.String()
		inputs["estimate_hash"] = est.InputHash
	}
	hash, err := integrity.ContentHash(inputs)
	if err != nil {
		return nil, fmt.Errorf("claims: hash denial inputs: %w", err)
	}
	d.InputHash = hash
	return d, nil
}

// advance applies ev, persists the claim and records the transition. persist
// defaults to a compare-and-swap update.
func (s *Service) advance(ctx context.Context, c model.Claim, ev Event, reason string, persist func(context.Context, model.Claim) (model.Claim, error)) (out model.Claim, err error) {
	ctx, span := s.tracer.Start(ctx, "claims."+string(ev), trace.WithAttributes(
		attribute.String("claim_id", c.ID.String()),
		attribute.String("from", string(c.State)),
	))
	defer func() { telemetry.End(span, err, attribute.String("to", string(out.State))) }()

	from := c.State
	to, err := Transition(from, ev)
	if err != nil {
		return model.Claim{}, err
	}
	now := s.now().UTC()
	c.History = append(c.History, model.TransitionRecord{
		From:   from,
		To:     to,
		Event:  string(ev),
		Actor:  ctxutil.ActorFromContext(ctx),
		Reason: reason,
		At:     now,
	})
	c.State = to
	c.UpdatedAt = now

	if persist == nil {
		persist = s.deps.Claims.UpdateClaim
	}
	out, err = persist(ctx, c)
	if err != nil {
		return model.Claim{}, fmt.Errorf("claims: %s %s: %w", ev, c.ID, err)
	}
	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
	s.deps.Audit.Emit(ctx, model.AuditClaimTransition, out.ID.String(), "", out.History[len(out.History)-1])
	s.logger.Info("claims: transition",
		"claim_id", out.ID, "from", from, "to", to, "event", ev, "version", out.Version,
		"request_id", ctxutil.RequestIDFromContext(ctx))
	return out, nil
}

func (s *Service) save(ctx context.Context, c model.Claim) (model.Claim, error) {
	out, err := s.deps.Claims.UpdateClaim(ctx, c)
	if err != nil {
		return model.Claim{}, fmt.Errorf("claims: update %s: %w", c.ID, err)
	}
	return out, nil
}

func requireEditable(c model.Claim) error {
	switch {
	case c.State.Editable():
		return nil
	case c.State.Terminal():
		return fmt.Errorf("%w: claim %s is %s", model.ErrClaimClosed, c.ID, c.State)
	default:
		return fmt.Errorf("%w: claim %s is %s and no longer editable", model.ErrIllegalTransition, c.ID, c.State)
	}
}

func ignoreNotFound[T any](v T, err error) (T, error) {
	if errors.Is(err, model.ErrNotFound) {
		var zero T
		return zero, nil
	}
	return v, err
}

// fetchMissingSnapshots fills in whichever snapshots the claimant did not
// attach, concurrently. NotAvailable leaves the snapshot nil.
func (s *Service) fetchMissingSnapshots(ctx context.Context, c model.Claim) (pre, post *model.DiagnosticSnapshot, err error) {
	pre, post = c.PreIncident, c.PostIncident
	if s.deps.Diagnostics == nil || (pre != nil && post != nil) {
		return pre, post, nil
	}
	b := backoff{base: s.cfg.BaseDelay, max: s.cfg.MaxDelay}
	fetch := func(ctx context.Context, asOf time.Time) (*model.DiagnosticSnapshot, error) {
		snap, err := withRetry(ctx, s.cfg.MaxRetries, s.cfg.DiagnosticTimeout, b, func(ctx context.Context) (*model.DiagnosticSnapshot, error) {
			return s.deps.Diagnostics.FetchSnapshot(ctx, c.RobotID, asOf)
		})
		if errors.Is(err, model.ErrNotAvailable) {
			s.logger.Warn("claims: diagnostic snapshot not available", "claim_id", c.ID, "as_of", asOf)
			return nil, nil
		}
		return snap, err
	}

	g, gctx := errgroup.WithContext(ctx)
	if pre == nil {
		g.Go(func() (err error) {
			pre, err = fetch(gctx, c.IncidentDate)
			return err
		})
	}
	if post == nil {
		g.Go(func() (err error) {
			post, err = fetch(gctx, c.ReportedDate)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("claims: fetch diagnostics: %w", err)
	}
	return pre, post, nil
}
