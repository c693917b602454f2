package assignment

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/swiftfleet/dispatch-backend/internal/agents"
	"github.com/swiftfleet/dispatch-backend/internal/geoindex"
	"github.com/swiftfleet/dispatch-backend/internal/orders"
	"github.com/swiftfleet/dispatch-backend/pkg/config"
	"github.com/swiftfleet/dispatch-backend/pkg/db/models"
	"github.com/swiftfleet/dispatch-backend/pkg/enums"
	"github.com/swiftfleet/dispatch-backend/pkg/logger"
	"github.com/swiftfleet/dispatch-backend/pkg/outbox"
	"github.com/swiftfleet/dispatch-backend/pkg/redis"
	"github.com/swiftfleet/dispatch-backend/pkg/types"
)

type stubOrderRepo struct {
	orders map[uuid.UUID]*models.Order
}

func newStubOrderRepo() *stubOrderRepo {
	return &stubOrderRepo{orders: make(map[uuid.UUID]*models.Order)}
}

func (s *stubOrderRepo) WithTx(tx *gorm.DB) orders.Repository { return s }

func (s *stubOrderRepo) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	s.orders[order.ID] = order
	return order, nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, ok := s.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *order
	return &copied, nil
}

func (s *stubOrderRepo) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	order, ok := s.orders[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if _, exists := updates["search_attempts"]; exists {
		order.SearchAttempts++
	}
	return nil
}

func (s *stubOrderRepo) UpdateStatusGuarded(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (int64, error) {
	order, ok := s.orders[id]
	if !ok || order.Status != from {
		return 0, nil
	}
	order.Status = to
	if agentID, exists := updates["agent_id"]; exists {
		aid := agentID.(uuid.UUID)
		order.AgentID = &aid
	}
	if assignedAt, exists := updates["assigned_at"]; exists {
		ts := assignedAt.(time.Time)
		order.AssignedAt = &ts
	}
	return 1, nil
}

func (s *stubOrderRepo) FindStaleSearching(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	return nil, nil
}

type stubAgentRepo struct {
	agents  map[uuid.UUID]*models.Agent
	updates map[uuid.UUID][]map[string]any
}

func newStubAgentRepo() *stubAgentRepo {
	return &stubAgentRepo{
		agents:  make(map[uuid.UUID]*models.Agent),
		updates: make(map[uuid.UUID][]map[string]any),
	}
}

func (s *stubAgentRepo) WithTx(tx *gorm.DB) agents.Repository { return s }

func (s *stubAgentRepo) Create(ctx context.Context, agent *models.Agent) (*models.Agent, error) {
	if agent.ID == uuid.Nil {
		agent.ID = uuid.New()
	}
	s.agents[agent.ID] = agent
	return agent, nil
}

func (s *stubAgentRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	agent, ok := s.agents[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *agent
	return &copied, nil
}

func (s *stubAgentRepo) FindEligibleByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Agent, error) {
	out := []models.Agent{}
	for _, id := range ids {
		agent, ok := s.agents[id]
		if !ok {
			continue
		}
		if !agent.IsApproved || agent.IsBlocked {
			continue
		}
		if agent.Status != enums.AgentStatusOnline && agent.Status != enums.AgentStatusOnTrip {
			continue
		}
		out = append(out, *agent)
	}
	return out, nil
}

func (s *stubAgentRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.AgentStatus) error {
	return nil
}

func (s *stubAgentRepo) CompleteOrder(ctx context.Context, id uuid.UUID) error {
	agent, ok := s.agents[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	agent.Status = enums.AgentStatusOnline
	agent.CurrentOrderID = nil
	agent.TotalOrders++
	return nil
}

func (s *stubAgentRepo) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	agent, ok := s.agents[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	s.updates[id] = append(s.updates[id], updates)
	if status, exists := updates["status"]; exists {
		agent.Status = status.(enums.AgentStatus)
	}
	if orderID, exists := updates["current_order_id"]; exists {
		if orderID == nil {
			agent.CurrentOrderID = nil
		} else {
			oid := orderID.(uuid.UUID)
			agent.CurrentOrderID = &oid
		}
	}
	return nil
}

type stubAssignRepo struct {
	created  []models.OrderAssignment
	released []uuid.UUID
}

func (s *stubAssignRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubAssignRepo) Create(ctx context.Context, row *models.OrderAssignment) (*models.OrderAssignment, error) {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	s.created = append(s.created, *row)
	return row, nil
}

func (s *stubAssignRepo) FindActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.OrderAssignment, error) {
	for i := range s.created {
		if s.created[i].OrderID == orderID && s.created[i].Active {
			row := s.created[i]
			return &row, nil
		}
	}
	return nil, nil
}

func (s *stubAssignRepo) ListByAgent(ctx context.Context, agentID uuid.UUID, limit int) ([]models.OrderAssignment, error) {
	out := []models.OrderAssignment{}
	for _, row := range s.created {
		if row.AgentID == agentID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *stubAssignRepo) ReleaseActiveTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) error {
	s.released = append(s.released, orderID)
	return nil
}

// stubTxRunner runs callbacks inline. failures injects errors for the first N
// serializable attempts to exercise retry behavior. The mutex gives concurrent
// callers the one-at-a-time execution a serializable transaction guarantees.
type stubTxRunner struct {
	mu       sync.Mutex
	failures []error
	attempts int
}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(nil)
}

func (s *stubTxRunner) WithSerializableTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return err
	}
	return fn(nil)
}

type stubOutbox struct {
	events []outbox.DomainEvent
}

func (s *stubOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

func (s *stubOutbox) has(eventType enums.OutboxEventType) bool {
	for _, evt := range s.events {
		if evt.EventType == eventType {
			return true
		}
	}
	return false
}

type stubOffers struct {
	data       map[string]string
	placeCalls int
}

func newStubOffers() *stubOffers {
	return &stubOffers{data: make(map[string]string)}
}

func (s *stubOffers) key(orderID, agentID string) string {
	return orderID + ":" + agentID
}

func (s *stubOffers) PlaceOffer(ctx context.Context, orderID, agentID, payload string, ttl time.Duration) (bool, error) {
	s.placeCalls++
	key := s.key(orderID, agentID)
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = payload
	return true, nil
}

func (s *stubOffers) GetOffer(ctx context.Context, orderID, agentID string) (string, error) {
	payload, ok := s.data[s.key(orderID, agentID)]
	if !ok {
		return "", redis.ErrNil
	}
	return payload, nil
}

func (s *stubOffers) ClearOffers(ctx context.Context, orderID string, agentIDs ...string) error {
	for _, agentID := range agentIDs {
		delete(s.data, s.key(orderID, agentID))
	}
	return nil
}

type stubNotifier struct {
	pushed  []uuid.UUID
	failFor map[uuid.UUID]bool
}

func newStubNotifier() *stubNotifier {
	return &stubNotifier{failFor: make(map[uuid.UUID]bool)}
}

func (s *stubNotifier) PushOfferToAgent(ctx context.Context, agentID uuid.UUID, notice OfferNotice) error {
	if s.failFor[agentID] {
		return fmt.Errorf("push rejected for %s", agentID)
	}
	s.pushed = append(s.pushed, agentID)
	return nil
}

// stubGeo replays canned radius results per call, recording the radii and
// result caps asked for.
type stubGeo struct {
	rounds [][]geoindex.Candidate
	radii  []float64
	limits []int
	err    error
	calls  int
}

func (s *stubGeo) Upsert(ctx context.Context, agentID uuid.UUID, location types.Coordinate) error {
	return nil
}

func (s *stubGeo) Remove(ctx context.Context, agentID uuid.UUID) error {
	return nil
}

func (s *stubGeo) QueryRadius(ctx context.Context, center types.Coordinate, radiusMeters float64, limit int) ([]geoindex.Candidate, error) {
	s.radii = append(s.radii, radiusMeters)
	s.limits = append(s.limits, limit)
	if s.err != nil {
		return nil, s.err
	}
	idx := s.calls
	s.calls++
	if idx >= len(s.rounds) {
		return nil, nil
	}
	return s.rounds[idx], nil
}

func testAssignmentConfig() config.AssignmentConfig {
	return config.AssignmentConfig{
		SearchRadiusMeters:    5000,
		MaxCandidates:         20,
		MaxOffers:             5,
		OfferTTL:              30 * time.Second,
		CommitMaxRetries:      3,
		CommitRetryBackoff:    time.Millisecond,
		EscalationMaxAttempts: 3,
		RadiusGrowthFactor:    1.5,
		BaseScore:             100,
		DistanceWeight:        0.30,
		AcceptanceWeight:      0.20,
		RatingWeight:          0.15,
		ExperienceWeight:      0.10,
		PayoutWeight:          0.10,
		HighPriorityBonus:     20,
		BusyAgentPenalty:      30,
		MetersPerScorePoint:   50,
		PayoutPerScorePoint:   0.20,
		MissingRatingDefault:  50,
	}
}

type pipelineFixture struct {
	svc       Service
	committer *Committer
	orders    *stubOrderRepo
	agents    *stubAgentRepo
	assigns   *stubAssignRepo
	offers    *stubOffers
	notifier  *stubNotifier
	geo       *stubGeo
	outbox    *stubOutbox
	tx        *stubTxRunner
}

func newPipelineFixture(t *testing.T, geo *stubGeo) *pipelineFixture {
	t.Helper()
	cfg := testAssignmentConfig()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	orderRepo := newStubOrderRepo()
	agentRepo := newStubAgentRepo()
	assignRepo := &stubAssignRepo{}
	offers := newStubOffers()
	notifier := newStubNotifier()
	ob := &stubOutbox{}
	tx := &stubTxRunner{}

	selector, err := NewSelector(geo, agentRepo, NewScorer(cfg))
	if err != nil {
		t.Fatalf("selector build failed: %v", err)
	}
	dispatcher, err := NewDispatcher(offers, notifier, logg)
	if err != nil {
		t.Fatalf("dispatcher build failed: %v", err)
	}
	committer, err := NewCommitter(CommitterParams{
		Tx:        tx,
		OrderRepo: orderRepo,
		AgentRepo: agentRepo,
		Repo:      assignRepo,
		Outbox:    ob,
		Config:    cfg,
		Logger:    logg,
	})
	if err != nil {
		t.Fatalf("committer build failed: %v", err)
	}
	svc, err := NewService(ServiceParams{
		OrderRepo:  orderRepo,
		Repo:       assignRepo,
		Selector:   selector,
		Dispatcher: dispatcher,
		Committer:  committer,
		Offers:     offers,
		Tx:         tx,
		Outbox:     ob,
		Config:     cfg,
		Logger:     logg,
	})
	if err != nil {
		t.Fatalf("service build failed: %v", err)
	}
	return &pipelineFixture{
		svc:       svc,
		committer: committer,
		orders:    orderRepo,
		agents:    agentRepo,
		assigns:   assignRepo,
		offers:    offers,
		notifier:  notifier,
		geo:       geo,
		outbox:    ob,
		tx:        tx,
	}
}

func (f *pipelineFixture) seedSearchingOrder() *models.Order {
	order := &models.Order{
		ID:              uuid.New(),
		Status:          enums.OrderStatusSearchingAgent,
		Priority:        enums.OrderPriorityNormal,
		PickupLocation:  types.Coordinate{Lat: 12.97, Lng: 77.59},
		DropoffLocation: types.Coordinate{Lat: 12.93, Lng: 77.61},
		PayoutAmount:    decimal.NewFromFloat(6.00),
	}
	f.orders.orders[order.ID] = order
	return order
}

func (f *pipelineFixture) seedOnlineAgent() *models.Agent {
	agent := &models.Agent{
		ID:             uuid.New(),
		Name:           "agent",
		Status:         enums.AgentStatusOnline,
		IsApproved:     true,
		AcceptanceRate: 90,
		TotalOrders:    40,
	}
	f.agents.agents[agent.ID] = agent
	return agent
}
