package handlers

import (
	"errors"
	"time"

	"brokerage/internal/marketdata"
	"brokerage/internal/models"
	"brokerage/internal/repository"
	"brokerage/internal/service"
	"brokerage/internal/worker"
)

// ErrMockDatabase - имитация ошибки БД для тестов
var ErrMockDatabase = errors.New("mock database error")

// ============ MockPassTrigger ============

// MockPassTrigger имитирует запуск прохода воркера
type MockPassTrigger struct {
	result   *worker.PassResult
	err      error
	calls    int
	lastOpts worker.PassOptions
}

func NewMockPassTrigger() *MockPassTrigger {
	return &MockPassTrigger{
		result: &worker.PassResult{
			StartedAt: time.Now(),
			Scanned:   3,
			Updated:   2,
			Skipped:   1,
			ElapsedMs: 42,
		},
	}
}

func (m *MockPassTrigger) ProcessPendingOrdersWith(opts worker.PassOptions) (*worker.PassResult, error) {
	m.calls++
	m.lastOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

// ============ MockBroadcaster ============

// MockBroadcaster собирает разосланные heartbeat-сводки
type MockBroadcaster struct {
	heartbeats []*models.WorkerHeartbeat
}

func NewMockBroadcaster() *MockBroadcaster {
	return &MockBroadcaster{}
}

func (m *MockBroadcaster) BroadcastHeartbeat(hb *models.WorkerHeartbeat) {
	m.heartbeats = append(m.heartbeats, hb)
}

// ============ MockThresholdsService ============

// MockThresholdsService имитирует резолвер риск-порогов
type MockThresholdsService struct {
	current     models.RiskThresholds
	resolveErr  error
	updateErr   error
	resetErr    error
	updateCalls int
	resetCalls  int
}

var _ service.ThresholdsServiceInterface = (*MockThresholdsService)(nil)

func NewMockThresholdsService() *MockThresholdsService {
	return &MockThresholdsService{
		current: models.RiskThresholds{
			WarningThreshold:   0.80,
			AutoCloseThreshold: 0.90,
			Source:             models.ThresholdSourceDefault,
		},
	}
}

func (m *MockThresholdsService) Resolve() (models.RiskThresholds, error) {
	if m.resolveErr != nil {
		return models.RiskThresholds{}, m.resolveErr
	}
	return m.current, nil
}

func (m *MockThresholdsService) ResolveWithMaxAge(maxAge time.Duration) (models.RiskThresholds, error) {
	return m.Resolve()
}

func (m *MockThresholdsService) UpdateThresholds(req *service.UpdateThresholdsRequest) (models.RiskThresholds, error) {
	m.updateCalls++
	if m.updateErr != nil {
		return models.RiskThresholds{}, m.updateErr
	}

	apply := func(v float64) (float64, error) {
		if v <= 0 || v > 100 {
			return 0, service.ErrInvalidThreshold
		}
		if v > 1 {
			v = v / 100
		}
		return v, nil
	}

	updated := m.current
	if req.WarningThreshold != nil {
		v, err := apply(*req.WarningThreshold)
		if err != nil {
			return models.RiskThresholds{}, err
		}
		updated.WarningThreshold = v
	}
	if req.AutoCloseThreshold != nil {
		v, err := apply(*req.AutoCloseThreshold)
		if err != nil {
			return models.RiskThresholds{}, err
		}
		updated.AutoCloseThreshold = v
	}
	if updated.AutoCloseThreshold < updated.WarningThreshold {
		updated.AutoCloseThreshold = updated.WarningThreshold
	}
	updated.Source = models.ThresholdSourceSettings

	m.current = updated
	return updated, nil
}

func (m *MockThresholdsService) ResetThresholds() error {
	m.resetCalls++
	if m.resetErr != nil {
		return m.resetErr
	}
	m.current = models.RiskThresholds{
		WarningThreshold:   0.80,
		AutoCloseThreshold: 0.90,
		Source:             models.ThresholdSourceDefault,
	}
	return nil
}

func (m *MockThresholdsService) Invalidate() {}

// ============ MockHeartbeatRepository ============

// MockHeartbeatRepository имитирует хранилище heartbeat воркера
type MockHeartbeatRepository struct {
	latest *models.WorkerHeartbeat
	err    error
}

var _ service.HeartbeatRepositoryInterface = (*MockHeartbeatRepository)(nil)

func NewMockHeartbeatRepository() *MockHeartbeatRepository {
	return &MockHeartbeatRepository{}
}

func (m *MockHeartbeatRepository) Save(hb *models.WorkerHeartbeat) error {
	if m.err != nil {
		return m.err
	}
	m.latest = hb
	return nil
}

func (m *MockHeartbeatRepository) GetLatest() (*models.WorkerHeartbeat, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.latest == nil {
		return nil, repository.ErrHeartbeatNotFound
	}
	return m.latest, nil
}

func (m *MockHeartbeatRepository) DeleteOlderThan(keepCount int) (int64, error) {
	return 0, nil
}

// ============ MockDBPinger ============

// MockDBPinger имитирует проверку живости БД
type MockDBPinger struct {
	err error
}

func (m *MockDBPinger) Ping() error {
	return m.err
}

// ============ MockFeedHealth ============

// MockFeedHealth имитирует снимок здоровья фида котировок
type MockFeedHealth struct {
	health marketdata.Health
}

func (m *MockFeedHealth) GetHealth() marketdata.Health {
	return m.health
}
