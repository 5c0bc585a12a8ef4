package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"aiscene/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&ProjectModel{}, &AssetModel{}, &AdminUserModel{}, &AIModelModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) SaveProject(p domain.Project) error {
	model := projectToModel(p)
	if err := s.db.Save(&model).Error; err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

func (s *GormStore) GetProject(id string) (domain.Project, bool, error) {
	var model ProjectModel
	err := s.db.First(&model, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return domain.Project{}, false, nil
	}
	if err != nil {
		return domain.Project{}, false, fmt.Errorf("get project: %w", err)
	}
	return projectFromModel(model), true, nil
}

func (s *GormStore) ListProjects(userID int64, status domain.ProjectStatus, page, size int) ([]domain.Project, int64, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = 20
	}
	query := s.db.Model(&ProjectModel{})
	if userID != 0 {
		query = query.Where("user_id = ?", userID)
	}
	if status != "" {
		query = query.Where("status = ?", string(status))
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count projects: %w", err)
	}
	var models []ProjectModel
	err := query.Order("created_at DESC").Offset(page * size).Limit(size).Find(&models).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list projects: %w", err)
	}
	projects := make([]domain.Project, 0, len(models))
	for _, model := range models {
		projects = append(projects, projectFromModel(model))
	}
	return projects, total, nil
}

func (s *GormStore) UpdateProjectStatusIf(id string, from []domain.ProjectStatus, to domain.ProjectStatus) (bool, error) {
	statuses := make([]string, 0, len(from))
	for _, st := range from {
		statuses = append(statuses, string(st))
	}
	res := s.db.Model(&ProjectModel{}).
		Where("id = ? AND status IN ?", id, statuses).
		Update("status", string(to))
	if res.Error != nil {
		return false, fmt.Errorf("update project status: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) ProjectStats(dayStart time.Time) (domain.DashboardStats, error) {
	var stats domain.DashboardStats
	counts := []struct {
		dest  *int64
		query *gorm.DB
	}{
		{&stats.TotalProjects, s.db.Model(&ProjectModel{})},
		{&stats.TodayCreated, s.db.Model(&ProjectModel{}).Where("created_at >= ?", dayStart)},
		{&stats.TodayCompleted, s.db.Model(&ProjectModel{}).Where("created_at >= ? AND status = ?", dayStart, string(domain.StatusCompleted))},
		{&stats.TodayFailed, s.db.Model(&ProjectModel{}).Where("created_at >= ? AND status = ?", dayStart, string(domain.StatusFailed))},
		{&stats.ProcessingCount, s.db.Model(&ProjectModel{}).Where("status IN ?", []string{
			string(domain.StatusAnalyzing),
			string(domain.StatusScriptGenerating),
			string(domain.StatusAudioGenerating),
			string(domain.StatusRendering),
		})},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dest).Error; err != nil {
			return domain.DashboardStats{}, fmt.Errorf("project stats: %w", err)
		}
	}
	return stats, nil
}

func (s *GormStore) SaveAsset(a domain.Asset) error {
	model := assetToModel(a)
	if err := s.db.Save(&model).Error; err != nil {
		return fmt.Errorf("save asset: %w", err)
	}
	return nil
}

func (s *GormStore) GetAsset(id string) (domain.Asset, bool, error) {
	var model AssetModel
	err := s.db.First(&model, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return domain.Asset{}, false, nil
	}
	if err != nil {
		return domain.Asset{}, false, fmt.Errorf("get asset: %w", err)
	}
	return assetFromModel(model), true, nil
}

func (s *GormStore) ListAssets(projectID string) ([]domain.Asset, error) {
	var models []AssetModel
	err := s.db.
		Where("project_id = ? AND is_deleted = ?", projectID, false).
		Order("sort_order ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	assets := make([]domain.Asset, 0, len(models))
	for _, model := range models {
		assets = append(assets, assetFromModel(model))
	}
	return assets, nil
}

func (s *GormStore) SaveAdminUser(u domain.AdminUser) error {
	model := adminUserToModel(u)
	if err := s.db.Save(&model).Error; err != nil {
		return fmt.Errorf("save admin user: %w", err)
	}
	return nil
}

func (s *GormStore) GetAdminUserByUsername(username string) (domain.AdminUser, bool, error) {
	var model AdminUserModel
	err := s.db.First(&model, "username = ?", username).Error
	if err == gorm.ErrRecordNotFound {
		return domain.AdminUser{}, false, nil
	}
	if err != nil {
		return domain.AdminUser{}, false, fmt.Errorf("get admin user: %w", err)
	}
	return adminUserFromModel(model), true, nil
}

func (s *GormStore) GetAdminUserByID(id string) (domain.AdminUser, bool, error) {
	var model AdminUserModel
	err := s.db.First(&model, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return domain.AdminUser{}, false, nil
	}
	if err != nil {
		return domain.AdminUser{}, false, fmt.Errorf("get admin user: %w", err)
	}
	return adminUserFromModel(model), true, nil
}

func (s *GormStore) ListAdminUsers() ([]domain.AdminUser, error) {
	var models []AdminUserModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list admin users: %w", err)
	}
	users := make([]domain.AdminUser, 0, len(models))
	for _, model := range models {
		users = append(users, adminUserFromModel(model))
	}
	return users, nil
}

func (s *GormStore) DeleteAdminUser(id string) error {
	if err := s.db.Delete(&AdminUserModel{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete admin user: %w", err)
	}
	return nil
}

func (s *GormStore) SaveModel(m domain.AIModel) error {
	model := aiModelToModel(m)
	if err := s.db.Save(&model).Error; err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	return nil
}

func (s *GormStore) ListModels() ([]domain.AIModel, error) {
	var models []AIModelModel
	if err := s.db.Order("provider ASC, model_name ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	out := make([]domain.AIModel, 0, len(models))
	for _, model := range models {
		out = append(out, aiModelFromModel(model))
	}
	return out, nil
}

// Ping verifies database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func projectToModel(p domain.Project) ProjectModel {
	return ProjectModel{
		ID:             p.ID,
		UserID:         p.UserID,
		Title:          p.Title,
		HouseInfo:      datatypes.JSON(p.HouseInfo),
		Status:         string(p.Status),
		ScriptContent:  datatypes.JSON(p.ScriptContent),
		AudioURL:       p.AudioURL,
		BgmURL:         p.BgmURL,
		FinalVideoURL:  p.FinalVideoURL,
		ErrorLog:       p.ErrorLog,
		ErrorTaskID:    p.ErrorTaskID,
		ErrorRequestID: p.ErrorRequestID,
		ErrorStep:      p.ErrorStep,
		ErrorAt:        p.ErrorAt,
		CreatedAt:      p.CreatedAt,
	}
}

func projectFromModel(m ProjectModel) domain.Project {
	return domain.Project{
		ID:             m.ID,
		UserID:         m.UserID,
		Title:          m.Title,
		HouseInfo:      json.RawMessage(m.HouseInfo),
		Status:         domain.ProjectStatus(m.Status),
		ScriptContent:  json.RawMessage(m.ScriptContent),
		AudioURL:       m.AudioURL,
		BgmURL:         m.BgmURL,
		FinalVideoURL:  m.FinalVideoURL,
		ErrorLog:       m.ErrorLog,
		ErrorTaskID:    m.ErrorTaskID,
		ErrorRequestID: m.ErrorRequestID,
		ErrorStep:      m.ErrorStep,
		ErrorAt:        m.ErrorAt,
		CreatedAt:      m.CreatedAt,
	}
}

func assetToModel(a domain.Asset) AssetModel {
	return AssetModel{
		ID:            a.ID,
		ProjectID:     a.ProjectID,
		OssURL:        a.OssURL,
		StorageBucket: a.StorageBucket,
		StorageKey:    a.StorageKey,
		Duration:      a.Duration,
		SceneLabel:    a.SceneLabel,
		SceneScore:    a.SceneScore,
		UserLabel:     a.UserLabel,
		SortOrder:     a.SortOrder,
		IsDeleted:     a.IsDeleted,
	}
}

func assetFromModel(m AssetModel) domain.Asset {
	return domain.Asset{
		ID:            m.ID,
		ProjectID:     m.ProjectID,
		OssURL:        m.OssURL,
		StorageBucket: m.StorageBucket,
		StorageKey:    m.StorageKey,
		Duration:      m.Duration,
		SceneLabel:    m.SceneLabel,
		SceneScore:    m.SceneScore,
		UserLabel:     m.UserLabel,
		SortOrder:     m.SortOrder,
		IsDeleted:     m.IsDeleted,
	}
}

func adminUserToModel(u domain.AdminUser) AdminUserModel {
	return AdminUserModel{
		ID:           u.ID,
		Username:     u.Username,
		DisplayName:  u.DisplayName,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		IsEnabled:    u.IsEnabled,
		LastLoginAt:  u.LastLoginAt,
		CreatedAt:    u.CreatedAt,
	}
}

func adminUserFromModel(m AdminUserModel) domain.AdminUser {
	return domain.AdminUser{
		ID:           m.ID,
		Username:     m.Username,
		DisplayName:  m.DisplayName,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         domain.AdminRole(m.Role),
		IsEnabled:    m.IsEnabled,
		LastLoginAt:  m.LastLoginAt,
		CreatedAt:    m.CreatedAt,
	}
}

func aiModelToModel(m domain.AIModel) AIModelModel {
	return AIModelModel{
		ID:                m.ID,
		Provider:          m.Provider,
		ModelName:         m.ModelName,
		AgentType:         m.AgentType,
		Description:       m.Description,
		IsEnabled:         m.IsEnabled,
		APIKeyConfigured:  m.APIKeyConfigured,
		LastTestAt:        m.LastTestAt,
		LastTestStatus:    m.LastTestStatus,
		LastTestLatencyMs: m.LastTestLatencyMs,
		LastTestError:     m.LastTestError,
	}
}

func aiModelFromModel(m AIModelModel) domain.AIModel {
	return domain.AIModel{
		ID:                m.ID,
		Provider:          m.Provider,
		ModelName:         m.ModelName,
		AgentType:         m.AgentType,
		Description:       m.Description,
		IsEnabled:         m.IsEnabled,
		APIKeyConfigured:  m.APIKeyConfigured,
		LastTestAt:        m.LastTestAt,
		LastTestStatus:    m.LastTestStatus,
		LastTestLatencyMs: m.LastTestLatencyMs,
		LastTestError:     m.LastTestError,
	}
}
