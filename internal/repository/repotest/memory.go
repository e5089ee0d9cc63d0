// Package repotest provides in-memory stores for tests of the layers above
// the repository.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tm-acme-shop/acme-ops-portal/internal/errors"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
	"github.com/tm-acme-shop/acme-ops-portal/internal/repository"
)

var (
	_ repository.UserStore  = (*UserStore)(nil)
	_ repository.AuditStore = (*AuditStore)(nil)
)

// UserStore is an in-memory repository.UserStore. IDs start at 1.
type UserStore struct {
	mu     sync.Mutex
	users  map[int64]*models.User
	hashes map[int64]string
	nextID int64
	now    time.Time
}

// NewUserStore returns an empty store whose timestamps are all now.
func NewUserStore(now time.Time) *UserStore {
	return &UserStore{
		users:  make(map[int64]*models.User),
		hashes: make(map[int64]string),
		nextID: 1,
		now:    now,
	}
}

func (m *UserStore) GetByID(ctx context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(id)
}

func (m *UserStore) get(id int64) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *UserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.users {
		if u.Username == username {
			return m.get(id)
		}
	}
	return nil, errors.ErrNotFound
}

func (m *UserStore) Create(ctx context.Context, req *models.CreateUserRequest) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == req.Username {
			return nil, errors.ErrConflict
		}
	}

	status := req.Status
	if status == "" {
		status = models.StatusActive
	}
	id := m.nextID
	m.nextID++
	m.users[id] = &models.User{
		ID:        id,
		Username:  req.Username,
		Email:     req.Email,
		FullName:  req.FullName,
		Role:      req.Role,
		Status:    status,
		CreatedAt: m.now,
		UpdatedAt: m.now,
	}
	m.hashes[id] = req.Password
	return m.get(id)
}

func (m *UserStore) Update(ctx context.Context, id int64, req *models.UpdateUserRequest) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	if req.Email != nil {
		u.Email = *req.Email
	}
	if req.FullName != nil {
		u.FullName = *req.FullName
	}
	if req.Role != nil {
		u.Role = *req.Role
	}
	if req.Status != nil {
		u.Status = *req.Status
	}
	if req.Password != nil {
		m.hashes[id] = *req.Password
	}
	u.UpdatedAt = m.now
	return m.get(id)
}

func (m *UserStore) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return errors.ErrNotFound
	}
	delete(m.users, id)
	delete(m.hashes, id)
	return nil
}

// List filters by role and status and orders by ID, newest first.
func (m *UserStore) List(ctx context.Context, filter *models.UserListFilter) ([]*models.User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]*models.User, 0, len(m.users))
	for _, u := range m.users {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		if filter.Status != nil && u.Status != *filter.Status {
			continue
		}
		copied := *u
		users = append(users, &copied)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID > users[j].ID })

	total := len(users)
	if filter.Offset >= len(users) {
		return []*models.User{}, total, nil
	}
	users = users[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(users) {
		users = users[:filter.Limit]
	}
	return users, total, nil
}

func (m *UserStore) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return errors.ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

func (m *UserStore) GetPasswordHash(ctx context.Context, id int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash, ok := m.hashes[id]
	if !ok {
		return "", errors.ErrNotFound
	}
	return hash, nil
}

// AuditStore is an in-memory repository.AuditStore. Set Err to make every
// call fail.
type AuditStore struct {
	mu      sync.Mutex
	entries []*models.AuditLog
	filters []models.AuditLogFilter
	Err     error
}

func (m *AuditStore) Record(ctx context.Context, entry *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	entry.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, entry)
	return nil
}

// List returns every entry matching the user and action filters, newest
// first. Limit and offset are recorded but not applied.
func (m *AuditStore) List(ctx context.Context, filter *models.AuditLogFilter) ([]*models.AuditLog, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, *filter)
	if m.Err != nil {
		return nil, 0, m.Err
	}

	logs := []*models.AuditLog{}
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if filter.UserID != nil && (e.UserID == nil || *e.UserID != *filter.UserID) {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		logs = append(logs, e)
	}
	return logs, len(logs), nil
}

// Actions returns the recorded actions in order.
func (m *AuditStore) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions := make([]string, len(m.entries))
	for i, e := range m.entries {
		actions[i] = e.Action
	}
	return actions
}

// Last returns the most recent entry, or nil.
func (m *AuditStore) Last() *models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return nil
	}
	return m.entries[len(m.entries)-1]
}

// LastFilter returns the filter of the most recent List call.
func (m *AuditStore) LastFilter() models.AuditLogFilter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.filters) == 0 {
		return models.AuditLogFilter{}
	}
	return m.filters[len(m.filters)-1]
}
