package repotest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tm-acme-shop/acme-ops-portal/internal/errors"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
	"github.com/tm-acme-shop/acme-ops-portal/internal/repository"
)

var _ repository.SystemStore = (*SystemStore)(nil)

type grantKey struct {
	userID   int64
	systemID int64
}

type grant struct {
	at time.Time
	by int64
}

// SystemStore is an in-memory repository.SystemStore. When Users is set,
// grant listings resolve the granting admin's username through it.
type SystemStore struct {
	mu      sync.Mutex
	systems map[int64]*models.System
	grants  map[grantKey]grant
	nextID  int64
	now     time.Time
	Users   *UserStore
}

// NewSystemStore returns an empty registry whose timestamps are all now.
func NewSystemStore(now time.Time) *SystemStore {
	return &SystemStore{
		systems: make(map[int64]*models.System),
		grants:  make(map[grantKey]grant),
		nextID:  1,
		now:     now,
	}
}

func (m *SystemStore) sorted(keep func(*models.System) bool) []*models.System {
	systems := []*models.System{}
	for _, s := range m.systems {
		if keep(s) {
			copied := *s
			systems = append(systems, &copied)
		}
	}
	sort.Slice(systems, func(i, j int) bool {
		if systems[i].OrderNum != systems[j].OrderNum {
			return systems[i].OrderNum < systems[j].OrderNum
		}
		return systems[i].ID < systems[j].ID
	})
	return systems
}

func (m *SystemStore) List(ctx context.Context) ([]*models.System, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(*models.System) bool { return true }), nil
}

func (m *SystemStore) ListActive(ctx context.Context) ([]*models.System, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(s *models.System) bool { return s.Status == models.SystemActive }), nil
}

func (m *SystemStore) ListForUser(ctx context.Context, userID int64) ([]*models.System, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(s *models.System) bool {
		_, ok := m.grants[grantKey{userID, s.ID}]
		return ok
	}), nil
}

func (m *SystemStore) GetByID(ctx context.Context, id int64) (*models.System, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.systems[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *SystemStore) Create(ctx context.Context, req *models.SystemRequest) (*models.System, error) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.systems[id] = &models.System{
		ID:           id,
		Name:         req.Name,
		URL:          req.URL,
		Icon:         req.Icon,
		Description:  req.Description,
		OrderNum:     req.OrderNum,
		Status:       req.Status,
		HealthStatus: models.HealthUnknown,
		CreatedAt:    m.now,
		UpdatedAt:    m.now,
	}
	m.mu.Unlock()
	return m.GetByID(ctx, id)
}

func (m *SystemStore) Update(ctx context.Context, id int64, req *models.SystemRequest) (*models.System, error) {
	m.mu.Lock()
	s, ok := m.systems[id]
	if !ok {
		m.mu.Unlock()
		return nil, errors.ErrNotFound
	}
	s.Name = req.Name
	s.URL = req.URL
	s.Icon = req.Icon
	s.Description = req.Description
	s.OrderNum = req.OrderNum
	s.Status = req.Status
	s.UpdatedAt = m.now
	m.mu.Unlock()
	return m.GetByID(ctx, id)
}

func (m *SystemStore) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.systems[id]; !ok {
		return errors.ErrNotFound
	}
	delete(m.systems, id)
	for key := range m.grants {
		if key.systemID == id {
			delete(m.grants, key)
		}
	}
	return nil
}

func (m *SystemStore) UpdateHealth(ctx context.Context, result *models.HealthResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.systems[result.SystemID]
	if !ok {
		return nil
	}
	ms := result.ResponseTimeMs
	at := result.CheckedAt
	s.HealthStatus = result.HealthStatus
	s.ResponseTimeMs = &ms
	s.LastCheckAt = &at
	return nil
}

// Grant fails without writing anything when any system is unknown.
func (m *SystemStore) Grant(ctx context.Context, userID int64, systemIDs []int64, grantedBy int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range systemIDs {
		if _, ok := m.systems[id]; !ok {
			return fmt.Errorf("%w: %d", repository.ErrUnknownSystem, id)
		}
	}
	for _, id := range systemIDs {
		key := grantKey{userID, id}
		if _, ok := m.grants[key]; !ok {
			m.grants[key] = grant{at: m.now, by: grantedBy}
		}
	}
	return nil
}

func (m *SystemStore) Revoke(ctx context.Context, userID, systemID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := grantKey{userID, systemID}
	if _, ok := m.grants[key]; !ok {
		return errors.ErrNotFound
	}
	delete(m.grants, key)
	return nil
}

func (m *SystemStore) ListGrants(ctx context.Context, userID int64) ([]*models.SystemGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	grants := []*models.SystemGrant{}
	for _, s := range m.sorted(func(s *models.System) bool {
		_, ok := m.grants[grantKey{userID, s.ID}]
		return ok
	}) {
		g := m.grants[grantKey{userID, s.ID}]
		entry := &models.SystemGrant{SystemID: s.ID, Name: s.Name, GrantedAt: g.at}
		if m.Users != nil {
			if by, err := m.Users.GetByID(ctx, g.by); err == nil {
				entry.GrantedByName = by.Username
			}
		}
		grants = append(grants, entry)
	}
	return grants, nil
}

func (m *SystemStore) HasAccess(ctx context.Context, userID, systemID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.grants[grantKey{userID, systemID}]
	return ok, nil
}
