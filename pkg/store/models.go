package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ProjectModel struct {
	ID             string `gorm:"primaryKey"`
	UserID         int64  `gorm:"index"`
	Title          string `gorm:"not null"`
	HouseInfo      datatypes.JSON
	Status         string `gorm:"not null;index"`
	ScriptContent  datatypes.JSON
	AudioURL       string
	BgmURL         string
	FinalVideoURL  string
	ErrorLog       string `gorm:"type:text"`
	ErrorTaskID    string
	ErrorRequestID string
	ErrorStep      string
	ErrorAt        *time.Time
	CreatedAt      time.Time `gorm:"not null;index"`
}

type AssetModel struct {
	ID            string `gorm:"primaryKey"`
	ProjectID     string `gorm:"not null;index"`
	OssURL        string `gorm:"not null"`
	StorageBucket string
	StorageKey    string
	Duration      float64
	SceneLabel    string
	SceneScore    *float64
	UserLabel     string
	SortOrder     int  `gorm:"not null"`
	IsDeleted     bool `gorm:"not null;default:false"`
}

type AdminUserModel struct {
	ID           string `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;not null"`
	DisplayName  string
	Email        string
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"not null"`
	IsEnabled    bool   `gorm:"not null;default:true"`
	LastLoginAt  *time.Time
	CreatedAt    time.Time `gorm:"not null"`
}

type AIModelModel struct {
	ID                string `gorm:"primaryKey"`
	Provider          string `gorm:"not null"`
	ModelName         string `gorm:"not null"`
	AgentType         string `gorm:"not null"`
	Description       string
	IsEnabled         bool `gorm:"not null;default:true"`
	APIKeyConfigured  bool
	LastTestAt        *time.Time
	LastTestStatus    string
	LastTestLatencyMs int64
	LastTestError     string
}
