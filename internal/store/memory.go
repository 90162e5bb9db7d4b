package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/agentmold/gateway/pkg/models"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	UsageEvents    []*models.UsageEvent          `json:"usage_events"`
	PolicyDenials  []*models.PolicyDenialRecord  `json:"policy_denials"`
	Approvals      map[string]*models.ApprovalRecord `json:"approvals"`
	Subscriptions  map[string]*models.Subscription   `json:"subscriptions"`
	Plans          map[string]*models.Plan           `json:"plans"`
	HiredAgents    map[string]*models.HiredAgent     `json:"hired_agents"` // key: customer_id:agent_id
	Deliverables   map[string]*models.Deliverable    `json:"deliverables"`
}

// MemoryStore implements Store with in-memory maps plus debounced JSON
// snapshot persistence, so a local/dev gateway survives restarts without
// a database dependency.
type MemoryStore struct {
	mu sync.Mutex

	usageEvents   []*models.UsageEvent
	policyDenials []*models.PolicyDenialRecord
	approvals     map[string]*models.ApprovalRecord
	subscriptions map[string]*models.Subscription // key: subscription_id
	custSubIndex  map[string]string               // customer_id -> subscription_id
	plans         map[string]*models.Plan
	hiredAgents   map[string]*models.HiredAgent // key: customer_id:agent_id
	deliverables  map[string]*models.Deliverable

	snapshotPath string
	saveMu       sync.Mutex
	saveCh       chan struct{}
	doneCh       chan struct{}
}

// NewMemoryStore creates a new in-memory store. If GATEWAY_DATA_DIR is
// set, data is persisted to a JSON file in that directory; otherwise
// it defaults to ~/.agentmold-gateway/data.json.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		usageEvents:   make([]*models.UsageEvent, 0),
		policyDenials: make([]*models.PolicyDenialRecord, 0),
		approvals:     make(map[string]*models.ApprovalRecord),
		subscriptions: make(map[string]*models.Subscription),
		custSubIndex:  make(map[string]string),
		plans:         make(map[string]*models.Plan),
		hiredAgents:   make(map[string]*models.HiredAgent),
		deliverables:  make(map[string]*models.Deliverable),
		saveCh:        make(chan struct{}, 1),
		doneCh:        make(chan struct{}),
	}

	dataDir := os.Getenv("GATEWAY_DATA_DIR")
	if dataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dataDir = filepath.Join(home, ".agentmold-gateway")
		}
	}
	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "data.json")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("memory store configured")
	return m
}

func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond)
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.Lock()
	snap := snapshot{
		UsageEvents:   m.usageEvents,
		PolicyDenials: m.policyDenials,
		Approvals:     m.approvals,
		Subscriptions: m.subscriptions,
		Plans:         m.plans,
		HiredAgents:   m.hiredAgents,
		Deliverables:  m.deliverables,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Msg("failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("failed to rename snapshot")
		return
	}
	log.Debug().Str("path", m.snapshotPath).Msg("snapshot saved")
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("no snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.UsageEvents != nil {
		m.usageEvents = snap.UsageEvents
	}
	if snap.PolicyDenials != nil {
		m.policyDenials = snap.PolicyDenials
	}
	if snap.Approvals != nil {
		m.approvals = snap.Approvals
	}
	if snap.Subscriptions != nil {
		m.subscriptions = snap.Subscriptions
		for id, sub := range m.subscriptions {
			m.custSubIndex[sub.CustomerID] = id
		}
	}
	if snap.Plans != nil {
		m.plans = snap.Plans
	}
	if snap.HiredAgents != nil {
		m.hiredAgents = snap.HiredAgents
	}
	if snap.Deliverables != nil {
		m.deliverables = snap.Deliverables
	}

	log.Info().
		Int("usage_events", len(m.usageEvents)).
		Int("policy_denials", len(m.policyDenials)).
		Int("approvals", len(m.approvals)).
		Str("path", m.snapshotPath).
		Msg("snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times.
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
	default:
		close(m.doneCh)
		if m.snapshotPath != "" {
			m.saveSnapshot()
		}
	}
	return nil
}

// ── Usage events ──────────────────────────────────────────────

func (m *MemoryStore) AppendUsageEvent(_ context.Context, event *models.UsageEvent) error {
	m.mu.Lock()
	m.usageEvents = append(m.usageEvents, event)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListUsageEvents(_ context.Context, filter UsageFilter) ([]models.UsageEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.UsageEvent, 0)
	for i := len(m.usageEvents) - 1; i >= 0; i-- {
		e := m.usageEvents[i]
		if !matchesUsageFilter(e, filter) {
			continue
		}
		out = append(out, *e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func matchesUsageFilter(e *models.UsageEvent, f UsageFilter) bool {
	if f.CustomerID != "" && e.CustomerID != f.CustomerID {
		return false
	}
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	return true
}

func (m *MemoryStore) SumCostSince(_ context.Context, customerID string, since time.Time) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total float64
	for _, e := range m.usageEvents {
		if e.CustomerID == customerID && !e.Timestamp.Before(since) {
			total += e.CostUSD
		}
	}
	return total, nil
}

func (m *MemoryStore) SumAgentCostSince(_ context.Context, customerID, agentID string, since time.Time) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total float64
	for _, e := range m.usageEvents {
		if e.CustomerID == customerID && e.AgentID == agentID && !e.Timestamp.Before(since) {
			total += e.CostUSD
		}
	}
	return total, nil
}

// ── Policy denials ────────────────────────────────────────────

func (m *MemoryStore) AppendPolicyDenial(_ context.Context, record *models.PolicyDenialRecord) error {
	m.mu.Lock()
	m.policyDenials = append(m.policyDenials, record)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListPolicyDenials(_ context.Context, filter DenialFilter) ([]models.PolicyDenialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.PolicyDenialRecord, 0)
	for i := len(m.policyDenials) - 1; i >= 0; i-- {
		d := m.policyDenials[i]
		if filter.CustomerID != "" && d.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Stage != "" && d.Stage != filter.Stage {
			continue
		}
		if filter.Since != nil && d.Timestamp.Before(*filter.Since) {
			continue
		}
		out = append(out, *d)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// ── Approvals ─────────────────────────────────────────────────

func (m *MemoryStore) CreateApproval(_ context.Context, record *models.ApprovalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.approvals[record.ApprovalID]; exists {
		return &ErrNotFound{Entity: "approval", Key: "duplicate:" + record.ApprovalID}
	}
	cp := *record
	m.approvals[record.ApprovalID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetApproval(_ context.Context, approvalID string) (*models.ApprovalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.approvals[approvalID]
	if !ok {
		return nil, &ErrNotFound{Entity: "approval", Key: approvalID}
	}
	cp := *rec
	return &cp, nil
}

// ConsumeApproval is the single compare-and-set point for approval
// consumption: the whole check-and-mutate runs under the store mutex,
// so of N concurrent callers racing the same approval_id, exactly one
// observes ConsumedAt == nil and wins; every other caller observes the
// already-set ConsumedAt and receives ErrAlreadyConsumed.
func (m *MemoryStore) ConsumeApproval(_ context.Context, approvalID, consumedBy string, at time.Time) (*models.ApprovalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.approvals[approvalID]
	if !ok {
		return nil, &ErrNotFound{Entity: "approval", Key: approvalID}
	}
	if rec.ConsumedAt != nil {
		return nil, ErrAlreadyConsumed
	}

	consumedAt := at
	rec.ConsumedAt = &consumedAt
	rec.ConsumedBy = consumedBy
	m.requestSave()

	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) ListApprovals(_ context.Context, customerID string, limit int) ([]models.ApprovalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.ApprovalRecord, 0)
	for _, rec := range m.approvals {
		if customerID != "" && rec.CustomerID != customerID {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GrantedAt.After(out[j].GrantedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ── Subscriptions / Plans / HiredAgents ──────────────────────

func (m *MemoryStore) GetSubscription(_ context.Context, subscriptionID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[subscriptionID]
	if !ok {
		return nil, &ErrNotFound{Entity: "subscription", Key: subscriptionID}
	}
	cp := *sub
	return &cp, nil
}

func (m *MemoryStore) GetSubscriptionByCustomer(_ context.Context, customerID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.custSubIndex[customerID]
	if !ok {
		return nil, &ErrNotFound{Entity: "subscription", Key: "customer:" + customerID}
	}
	sub, ok := m.subscriptions[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "subscription", Key: "customer:" + customerID}
	}
	cp := *sub
	return &cp, nil
}

func (m *MemoryStore) PutSubscription(_ context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	cp := *sub
	m.subscriptions[sub.SubscriptionID] = &cp
	m.custSubIndex[sub.CustomerID] = sub.SubscriptionID
	m.requestSave()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetPlan(_ context.Context, planID string) (*models.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan, ok := m.plans[planID]
	if !ok {
		return nil, &ErrNotFound{Entity: "plan", Key: planID}
	}
	cp := *plan
	return &cp, nil
}

func (m *MemoryStore) PutPlan(_ context.Context, plan *models.Plan) error {
	m.mu.Lock()
	cp := *plan
	m.plans[plan.PlanID] = &cp
	m.requestSave()
	m.mu.Unlock()
	return nil
}

func hiredAgentKey(customerID, agentID string) string { return customerID + ":" + agentID }

func (m *MemoryStore) GetHiredAgent(_ context.Context, customerID, agentID string) (*models.HiredAgent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hiredAgents[hiredAgentKey(customerID, agentID)]
	if !ok {
		return nil, &ErrNotFound{Entity: "hired_agent", Key: hiredAgentKey(customerID, agentID)}
	}
	cp := *h
	return &cp, nil
}

func (m *MemoryStore) PutHiredAgent(_ context.Context, hired *models.HiredAgent) error {
	m.mu.Lock()
	cp := *hired
	m.hiredAgents[hiredAgentKey(hired.CustomerID, hired.AgentID)] = &cp
	m.requestSave()
	m.mu.Unlock()
	return nil
}

// ── Deliverables ──────────────────────────────────────────────

func (m *MemoryStore) CreateDeliverable(_ context.Context, d *models.Deliverable) error {
	m.mu.Lock()
	cp := *d
	m.deliverables[d.DeliverableID] = &cp
	m.requestSave()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetDeliverable(_ context.Context, id string) (*models.Deliverable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliverables[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "deliverable", Key: id}
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) UpdateDeliverable(_ context.Context, d *models.Deliverable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deliverables[d.DeliverableID]; !ok {
		return &ErrNotFound{Entity: "deliverable", Key: d.DeliverableID}
	}
	cp := *d
	m.deliverables[d.DeliverableID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListDeliverables(_ context.Context, customerID string, limit int) ([]models.Deliverable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Deliverable, 0)
	for _, d := range m.deliverables {
		if customerID != "" && d.CustomerID != customerID {
			continue
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
