package store

import (
	"context"
	"time"

	"aiscene/pkg/domain"
)

// Store defines persistence operations for projects, assets, admin users,
// and model monitoring records. A userID of 0 or an empty status means
// "no filter" on list operations.
type Store interface {
	// projects
	SaveProject(p domain.Project) error
	GetProject(id string) (domain.Project, bool, error)
	// ListProjects pages newest-first; page is zero-based.
	ListProjects(userID int64, status domain.ProjectStatus, page, size int) ([]domain.Project, int64, error)
	// UpdateProjectStatusIf transitions status only when the current status
	// is one of from; reports whether the transition happened.
	UpdateProjectStatusIf(id string, from []domain.ProjectStatus, to domain.ProjectStatus) (bool, error)
	ProjectStats(dayStart time.Time) (domain.DashboardStats, error)

	// assets; ListAssets returns live assets ordered by sortOrder.
	SaveAsset(a domain.Asset) error
	GetAsset(id string) (domain.Asset, bool, error)
	ListAssets(projectID string) ([]domain.Asset, error)

	// admin users
	SaveAdminUser(u domain.AdminUser) error
	GetAdminUserByUsername(username string) (domain.AdminUser, bool, error)
	GetAdminUserByID(id string) (domain.AdminUser, bool, error)
	ListAdminUsers() ([]domain.AdminUser, error)
	DeleteAdminUser(id string) error

	// model monitoring
	SaveModel(m domain.AIModel) error
	ListModels() ([]domain.AIModel, error)

	Ping(ctx context.Context) error
}
