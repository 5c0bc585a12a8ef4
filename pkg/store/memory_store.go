package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"aiscene/pkg/domain"
)

// MemoryStore keeps all records in-process. It backs tests and local
// development without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]domain.Project
	assets   map[string]domain.Asset
	admins   map[string]domain.AdminUser
	models   map[string]domain.AIModel
	order    []string // project insertion order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]domain.Project),
		assets:   make(map[string]domain.Asset),
		admins:   make(map[string]domain.AdminUser),
		models:   make(map[string]domain.AIModel),
	}
}

func (m *MemoryStore) SaveProject(p domain.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.projects[p.ID]; !exists {
		m.order = append(m.order, p.ID)
	}
	m.projects[p.ID] = p
	return nil
}

func (m *MemoryStore) GetProject(id string) (domain.Project, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	return p, ok, nil
}

func (m *MemoryStore) ListProjects(userID int64, status domain.ProjectStatus, page, size int) ([]domain.Project, int64, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = 20
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := make([]domain.Project, 0, len(m.order))
	for _, id := range m.order {
		p, ok := m.projects[id]
		if !ok {
			continue
		}
		if userID != 0 && p.UserID != userID {
			continue
		}
		if status != "" && p.Status != status {
			continue
		}
		matched = append(matched, p)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := int64(len(matched))
	start := page * size
	if start >= len(matched) {
		return []domain.Project{}, total, nil
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (m *MemoryStore) UpdateProjectStatusIf(id string, from []domain.ProjectStatus, to domain.ProjectStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return false, nil
	}
	for _, st := range from {
		if p.Status == st {
			p.Status = to
			m.projects[id] = p
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ProjectStats(dayStart time.Time) (domain.DashboardStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats domain.DashboardStats
	for _, p := range m.projects {
		stats.TotalProjects++
		if p.Status.Processing() {
			stats.ProcessingCount++
		}
		if p.CreatedAt.Before(dayStart) {
			continue
		}
		stats.TodayCreated++
		switch p.Status {
		case domain.StatusCompleted:
			stats.TodayCompleted++
		case domain.StatusFailed:
			stats.TodayFailed++
		}
	}
	return stats, nil
}

func (m *MemoryStore) SaveAsset(a domain.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[a.ID] = a
	return nil
}

func (m *MemoryStore) GetAsset(id string) (domain.Asset, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[id]
	return a, ok, nil
}

func (m *MemoryStore) ListAssets(projectID string) ([]domain.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Asset, 0)
	for _, a := range m.assets {
		if a.ProjectID == projectID && !a.IsDeleted {
			res = append(res, a)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].SortOrder < res[j].SortOrder
	})
	return res, nil
}

func (m *MemoryStore) SaveAdminUser(u domain.AdminUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admins[u.ID] = u
	return nil
}

func (m *MemoryStore) GetAdminUserByUsername(username string) (domain.AdminUser, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.admins {
		if u.Username == username {
			return u, true, nil
		}
	}
	return domain.AdminUser{}, false, nil
}

func (m *MemoryStore) GetAdminUserByID(id string) (domain.AdminUser, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.admins[id]
	return u, ok, nil
}

func (m *MemoryStore) ListAdminUsers() ([]domain.AdminUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.AdminUser, 0, len(m.admins))
	for _, u := range m.admins {
		res = append(res, u)
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

func (m *MemoryStore) DeleteAdminUser(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.admins, id)
	return nil
}

func (m *MemoryStore) SaveModel(mod domain.AIModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models[mod.ID] = mod
	return nil
}

func (m *MemoryStore) ListModels() ([]domain.AIModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.AIModel, 0, len(m.models))
	for _, mod := range m.models {
		res = append(res, mod)
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].Provider != res[j].Provider {
			return res[i].Provider < res[j].Provider
		}
		return res[i].ModelName < res[j].ModelName
	})
	return res, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}
