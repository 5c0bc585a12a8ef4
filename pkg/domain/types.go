package domain

import (
	"encoding/json"
	"time"
)

// ProjectStatus is one discrete stage of the video-generation pipeline.
type ProjectStatus string

const (
	StatusDraft            ProjectStatus = "DRAFT"
	StatusUploading        ProjectStatus = "UPLOADING"
	StatusAnalyzing        ProjectStatus = "ANALYZING"
	StatusReview           ProjectStatus = "REVIEW"
	StatusScriptGenerating ProjectStatus = "SCRIPT_GENERATING"
	StatusScriptGenerated  ProjectStatus = "SCRIPT_GENERATED"
	StatusAudioGenerating  ProjectStatus = "AUDIO_GENERATING"
	StatusAudioGenerated   ProjectStatus = "AUDIO_GENERATED"
	StatusRendering        ProjectStatus = "RENDERING"
	StatusCompleted        ProjectStatus = "COMPLETED"
	StatusFailed           ProjectStatus = "FAILED"
)

// Statuses lists every pipeline stage in order.
var Statuses = []ProjectStatus{
	StatusDraft, StatusUploading, StatusAnalyzing, StatusReview,
	StatusScriptGenerating, StatusScriptGenerated,
	StatusAudioGenerating, StatusAudioGenerated,
	StatusRendering, StatusCompleted, StatusFailed,
}

// Valid reports whether s is a known pipeline stage.
func (s ProjectStatus) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Processing reports whether the pipeline is actively working on the project.
func (s ProjectStatus) Processing() bool {
	switch s {
	case StatusAnalyzing, StatusScriptGenerating, StatusAudioGenerating, StatusRendering:
		return true
	}
	return false
}

// HouseInfo is the structured listing metadata attached to a project.
type HouseInfo struct {
	Community     string   `json:"community"`
	Room          int      `json:"room"`
	Hall          int      `json:"hall"`
	Restroom      int      `json:"restroom"`
	Area          float64  `json:"area"`
	Price         float64  `json:"price"`
	SellingPoints []string `json:"sellingPoints"`
	Remarks       string   `json:"remarks"`
}

// Project is one marketing-video job moving through the pipeline.
// ScriptContent stays raw because the engine writes it either as a plain
// string or as a structured segments object.
type Project struct {
	ID             string          `json:"id"`
	UserID         int64           `json:"userId"`
	Title          string          `json:"title"`
	HouseInfo      json.RawMessage `json:"houseInfo,omitempty"`
	Status         ProjectStatus   `json:"status"`
	ScriptContent  json.RawMessage `json:"scriptContent,omitempty"`
	AudioURL       string          `json:"audioUrl,omitempty"`
	BgmURL         string          `json:"bgmUrl,omitempty"`
	FinalVideoURL  string          `json:"finalVideoUrl,omitempty"`
	ErrorLog       string          `json:"errorLog,omitempty"`
	ErrorTaskID    string          `json:"errorTaskId,omitempty"`
	ErrorRequestID string          `json:"errorRequestId,omitempty"`
	ErrorStep      string          `json:"errorStep,omitempty"`
	ErrorAt        *time.Time      `json:"errorAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Asset is a single uploaded clip with derived scene metadata.
type Asset struct {
	ID            string   `json:"id"`
	ProjectID     string   `json:"projectId"`
	OssURL        string   `json:"ossUrl"`
	StorageBucket string   `json:"storageBucket,omitempty"`
	StorageKey    string   `json:"storageKey,omitempty"`
	Duration      float64  `json:"duration"`
	SceneLabel    string   `json:"sceneLabel,omitempty"`
	SceneScore    *float64 `json:"sceneScore,omitempty"`
	UserLabel     string   `json:"userLabel,omitempty"`
	SortOrder     int      `json:"sortOrder"`
	IsDeleted     bool     `json:"-"`
}

// PresignedUpload carries a pre-signed PUT target for direct browser upload.
type PresignedUpload struct {
	UploadURL     string            `json:"uploadUrl"`
	PublicURL     string            `json:"publicUrl"`
	ObjectKey     string            `json:"objectKey"`
	SignedHeaders map[string]string `json:"signedHeaders"`
}

type AdminRole string

const (
	RoleAdmin  AdminRole = "ADMIN"
	RoleViewer AdminRole = "VIEWER"
)

// AdminUser is an operator account on the monitoring surface.
type AdminUser struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	DisplayName  string     `json:"displayName"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         AdminRole  `json:"role"`
	IsEnabled    bool       `json:"isEnabled"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// AIModel is a configured generation model with its last probe result.
type AIModel struct {
	ID                string     `json:"id"`
	Provider          string     `json:"provider"`
	ModelName         string     `json:"modelName"`
	AgentType         string     `json:"agentType"`
	Description       string     `json:"description,omitempty"`
	IsEnabled         bool       `json:"isEnabled"`
	APIKeyConfigured  bool       `json:"apiKeyConfigured"`
	LastTestAt        *time.Time `json:"lastTestAt,omitempty"`
	LastTestStatus    string     `json:"lastTestStatus,omitempty"`
	LastTestLatencyMs int64      `json:"lastTestLatencyMs,omitempty"`
	LastTestError     string     `json:"lastTestError,omitempty"`
}

// DashboardStats aggregates counters for the admin dashboard cards.
type DashboardStats struct {
	TotalProjects   int64 `json:"totalProjects"`
	TodayCreated    int64 `json:"todayCreated"`
	TodayCompleted  int64 `json:"todayCompleted"`
	TodayFailed     int64 `json:"todayFailed"`
	ProcessingCount int64 `json:"processingCount"`
	HealthyModels   int   `json:"healthyModelCount"`
	UnhealthyModels int   `json:"unhealthyModelCount"`
}

const (
	HealthHealthy  = "HEALTHY"
	HealthDegraded = "DEGRADED"
	HealthDown     = "DOWN"
)

// ServiceHealth is the probe result for one dependency.
type ServiceHealth struct {
	Status         string `json:"status"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
	Message        string `json:"message,omitempty"`
}

// QueueStatus reports pipeline queue depth.
type QueueStatus struct {
	QueueName    string `json:"queueName"`
	PendingTasks int64  `json:"pendingTasks"`
}

// SystemHealth is the composite health view the admin dashboard polls.
type SystemHealth struct {
	Backend  ServiceHealth `json:"backend"`
	Database ServiceHealth `json:"database"`
	Redis    ServiceHealth `json:"redis"`
	Queue    QueueStatus   `json:"queue"`
}

const (
	StepSuccess = "SUCCESS"
	StepFailed  = "FAILED"
	StepPending = "PENDING"
	StepRunning = "RUNNING"
)

// TimelineNode is one processing step in the admin project-detail view.
type TimelineNode struct {
	Step         string `json:"step"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// ProcessingTimeline wraps the step history for a project.
type ProcessingTimeline struct {
	Nodes []TimelineNode `json:"nodes"`
}

// ProjectPage is the paged project-list envelope both surfaces consume.
type ProjectPage struct {
	Content       []Project `json:"content"`
	TotalElements int64     `json:"totalElements"`
	TotalPages    int       `json:"totalPages"`
	Number        int       `json:"number"`
	Size          int       `json:"size"`
}
