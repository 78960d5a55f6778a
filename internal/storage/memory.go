package storage

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ashita-ai/hoken/internal/model"
)

type memKey struct {
	requestHash string
	completed   bool
	response    json.RawMessage
}

// MemoryStore is an in-process store with the same contracts as DB. Values
// are cloned on the way in and out so callers never share state with it.
type MemoryStore struct {
	mu       sync.RWMutex
	claims   map[uuid.UUID]model.Claim
	payouts  map[uuid.UUID]model.Payout
	keys     map[string]memKey
	robots   map[uuid.UUID]model.RobotSpec
	terms    map[uuid.UUID]model.CoverageTerms
	profiles map[uuid.UUID][]model.RiskProfile
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		claims:   make(map[uuid.UUID]model.Claim),
		payouts:  make(map[uuid.UUID]model.Payout),
		keys:     make(map[string]memKey),
		robots:   make(map[uuid.UUID]model.RobotSpec),
		terms:    make(map[uuid.UUID]model.CoverageTerms),
		profiles: make(map[uuid.UUID][]model.RiskProfile),
	}
}

// CreateClaim inserts a new claim.
func (m *MemoryStore) CreateClaim(_ context.Context, c model.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertClaim(c)
}

// GetClaim returns a claim by ID.
func (m *MemoryStore) GetClaim(_ context.Context, id uuid.UUID) (model.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.claims[id]
	if !ok {
		return model.Claim{}, notFound("claim", id)
	}
	return c.Clone(), nil
}

// UpdateClaim writes c if the stored version still equals c.Version.
func (m *MemoryStore) UpdateClaim(_ context.Context, c model.Claim) (model.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateClaim(c)
}

// CreateFollowUp updates original and inserts followUp atomically.
func (m *MemoryStore) CreateFollowUp(_ context.Context, original, followUp model.Claim) (model.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.claims[followUp.ID]; exists {
		return model.Claim{}, fmt.Errorf("%w: claim %s already exists", model.ErrValidation, followUp.ID)
	}
	out, err := m.updateClaim(original)
	if err != nil {
		return model.Claim{}, err
	}
	m.claims[followUp.ID] = followUp.Clone()
	return out, nil
}

// ClaimsByPolicy lists a policy's claims, oldest first.
func (m *MemoryStore) ClaimsByPolicy(_ context.Context, policyID uuid.UUID) ([]model.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Claim
	for _, c := range m.claims {
		if c.PolicyID == policyID {
			out = append(out, c.Clone())
		}
	}
	slices.SortFunc(out, func(a, b model.Claim) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

func (m *MemoryStore) insertClaim(c model.Claim) error {
	if _, exists := m.claims[c.ID]; exists {
		return fmt.Errorf("%w: claim %s already exists", model.ErrValidation, c.ID)
	}
	m.claims[c.ID] = c.Clone()
	return nil
}

func (m *MemoryStore) updateClaim(c model.Claim) (model.Claim, error) {
	stored, ok := m.claims[c.ID]
	if !ok {
		return model.Claim{}, notFound("claim", c.ID)
	}
	if stored.Version != c.Version {
		return model.Claim{}, fmt.Errorf("%w: claim %s is at version %d, not %d", model.ErrConcurrentUpdate, c.ID, stored.Version, c.Version)
	}
	next := c.Clone()
	next.Version++
	m.claims[c.ID] = next
	return next.Clone(), nil
}

// Payouts lists the payouts recorded against a policy.
func (m *MemoryStore) Payouts(_ context.Context, policyID uuid.UUID) ([]model.Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Payout
	for _, p := range m.payouts {
		if p.PolicyID == policyID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b model.Payout) int { return a.PaidAt.Compare(b.PaidAt) })
	return out, nil
}

// CommitSettlement updates the claim and records its payout atomically.
func (m *MemoryStore) CommitSettlement(_ context.Context, c model.Claim, p model.Payout) (model.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, paid := m.payouts[p.ClaimID]; paid {
		return model.Claim{}, fmt.Errorf("%w: %s", ErrDuplicatePayout, p.ClaimID)
	}
	terms, ok := m.terms[p.PolicyID]
	if !ok {
		return model.Claim{}, notFound("policy", p.PolicyID)
	}
	paid := decimal.Zero
	for _, q := range m.payouts {
		if q.PolicyID == p.PolicyID && terms.InForce(q.IncidentDate) {
			paid = paid.Add(q.Amount)
		}
	}
	if err := fitsLimit(p, paid, terms.Limit); err != nil {
		return model.Claim{}, err
	}
	out, err := m.updateClaim(c)
	if err != nil {
		return model.Claim{}, err
	}
	m.payouts[p.ClaimID] = p
	return out, nil
}

// Begin reserves a settlement key. See DB.Begin.
func (m *MemoryStore) Begin(_ context.Context, key, requestHash string) (model.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[key]
	switch {
	case !ok:
		m.keys[key] = memKey{requestHash: requestHash}
		return model.IdempotencyRecord{}, nil
	case k.requestHash != requestHash:
		return model.IdempotencyRecord{}, model.ErrIdempotencyMismatch
	case k.completed:
		return model.IdempotencyRecord{Completed: true, Response: slices.Clone(k.response)}, nil
	default:
		return model.IdempotencyRecord{}, model.ErrIdempotencyInFlight
	}
}

// Complete stores the response for a reserved key.
func (m *MemoryStore) Complete(_ context.Context, key string, response any) error {
	payload, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("storage: marshal idempotency response: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[key]
	if !ok || k.completed {
		return fmt.Errorf("storage: complete idempotency: %w", notFound("in-progress key", key))
	}
	k.completed = true
	k.response = payload
	m.keys[key] = k
	return nil
}

// Clear removes an in-progress reservation.
func (m *MemoryStore) Clear(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[key]; ok && !k.completed {
		delete(m.keys, key)
	}
	return nil
}

// PutRobot inserts or replaces a robot spec.
func (m *MemoryStore) PutRobot(_ context.Context, spec model.RobotSpec) error {
	if spec.RobotID == uuid.Nil {
		return fmt.Errorf("storage: put robot: %w: robot_id is required", model.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	spec.Certifications = slices.Clone(spec.Certifications)
	m.robots[spec.RobotID] = spec
	return nil
}

// Robot returns a robot spec by ID.
func (m *MemoryStore) Robot(_ context.Context, robotID uuid.UUID) (model.RobotSpec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	spec, ok := m.robots[robotID]
	if !ok {
		return model.RobotSpec{}, notFound("robot", robotID)
	}
	spec.Certifications = slices.Clone(spec.Certifications)
	return spec, nil
}

// PutTerms inserts or replaces a policy's coverage terms.
func (m *MemoryStore) PutTerms(_ context.Context, terms model.CoverageTerms) error {
	if err := terms.Validate(); err != nil {
		return fmt.Errorf("storage: put terms: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	terms.Exclusions = slices.Clone(terms.Exclusions)
	m.terms[terms.PolicyID] = terms
	return nil
}

// Terms returns a policy's coverage terms.
func (m *MemoryStore) Terms(_ context.Context, policyID uuid.UUID) (model.CoverageTerms, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	terms, ok := m.terms[policyID]
	if !ok {
		return model.CoverageTerms{}, notFound("policy", policyID)
	}
	terms.Exclusions = slices.Clone(terms.Exclusions)
	return terms, nil
}

// AppendProfile stores p as the robot's next profile version.
func (m *MemoryStore) AppendProfile(_ context.Context, p model.RiskProfile) (model.RiskProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := p.Clone()
	stored.Version = len(m.profiles[p.RobotID]) + 1
	m.profiles[p.RobotID] = append(m.profiles[p.RobotID], stored)
	return stored.Clone(), nil
}

// LatestProfile returns the newest profile version for a robot.
func (m *MemoryStore) LatestProfile(_ context.Context, robotID uuid.UUID) (model.RiskProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.profiles[robotID]
	if len(versions) == 0 {
		return model.RiskProfile{}, notFound("risk profile for robot", robotID)
	}
	return versions[len(versions)-1].Clone(), nil
}

// ProfileVersions returns every profile version for a robot, oldest first.
func (m *MemoryStore) ProfileVersions(_ context.Context, robotID uuid.UUID) ([]model.RiskProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.RiskProfile, 0, len(m.profiles[robotID]))
	for _, p := range m.profiles[robotID] {
		out = append(out, p.Clone())
	}
	return out, nil
}
