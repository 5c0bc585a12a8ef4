package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"aiscene/pkg/domain"
	"aiscene/pkg/queue"
	"aiscene/pkg/store"
)

// providerProbeURLs maps a model provider to the endpoint used for
// connectivity tests. Overridable through config for self-hosted gateways.
var providerProbeURLs = map[string]string{
	"openai":    "https://api.openai.com/v1/models",
	"anthropic": "https://api.anthropic.com/v1/models",
	"dashscope": "https://dashscope.aliyuncs.com/api/v1",
	"minimax":   "https://api.minimax.chat/v1",
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL       string
	JWTSecret         string
	TokenTTL          time.Duration
	ProjectServiceURL string
	ProviderEndpoints map[string]string

	// Injectable for tests; built from the other fields when nil.
	Store      store.Store
	Redis      *redis.Client
	Dispatcher queue.Dispatcher
	HTTPClient *http.Client
}

// App is the core application service for the monitoring surface.
type App struct {
	store             store.Store
	redis             *redis.Client
	dispatcher        queue.Dispatcher
	jwtSecret         []byte
	tokenTTL          time.Duration
	projectServiceURL string
	providerEndpoints map[string]string
	httpClient        *http.Client
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, fmt.Errorf("jwt secret required")
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	endpoints := cfg.ProviderEndpoints
	if endpoints == nil {
		endpoints = providerProbeURLs
	}
	return &App{
		store:             dataStore,
		redis:             cfg.Redis,
		dispatcher:        cfg.Dispatcher,
		jwtSecret:         []byte(cfg.JWTSecret),
		tokenTTL:          cfg.TokenTTL,
		projectServiceURL: strings.TrimRight(cfg.ProjectServiceURL, "/"),
		providerEndpoints: endpoints,
		httpClient:        httpClient,
	}, nil
}

// LoginResult carries the signed token plus the user summary the header
// bar renders.
type LoginResult struct {
	Token       string           `json:"token"`
	Username    string           `json:"username"`
	DisplayName string           `json:"displayName"`
	Role        domain.AdminRole `json:"role"`
	ExpiresAt   time.Time        `json:"expiresAt"`
}

type adminClaims struct {
	Username string           `json:"username"`
	Role     domain.AdminRole `json:"role"`
	jwt.RegisteredClaims
}

// Login validates operator credentials and issues an HS256 token.
func (a *App) Login(username, password string) (LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return LoginResult{}, ErrUsernameAndPasswordRequired
	}
	user, ok, err := a.store.GetAdminUserByUsername(username)
	if err != nil {
		return LoginResult{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return LoginResult{}, ErrInvalidCredentials
	}
	if !user.IsEnabled {
		return LoginResult{}, ErrUserDisabled
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	expiresAt := now.Add(a.tokenTTL)
	claims := adminClaims{
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
	if err != nil {
		return LoginResult{}, fmt.Errorf("sign token: %w", err)
	}

	user.LastLoginAt = &now
	if err := a.store.SaveAdminUser(user); err != nil {
		return LoginResult{}, fmt.Errorf("record login: %w", err)
	}

	return LoginResult{
		Token:       token,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Role:        user.Role,
		ExpiresAt:   expiresAt,
	}, nil
}

// UserFromToken verifies a bearer token and resolves the operator.
func (a *App) UserFromToken(token string) (domain.AdminUser, bool) {
	var claims adminClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return domain.AdminUser{}, false
	}
	user, ok, err := a.store.GetAdminUserByID(claims.Subject)
	if err != nil || !ok || !user.IsEnabled {
		return domain.AdminUser{}, false
	}
	return user, true
}

// CreateUser provisions a new operator account.
func (a *App) CreateUser(username, password, displayName, email string, role domain.AdminRole) (domain.AdminUser, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.AdminUser{}, ErrUsernameAndPasswordRequired
	}
	if role != domain.RoleAdmin && role != domain.RoleViewer {
		role = domain.RoleViewer
	}
	if _, exists, err := a.store.GetAdminUserByUsername(username); err != nil {
		return domain.AdminUser{}, fmt.Errorf("check username: %w", err)
	} else if exists {
		return domain.AdminUser{}, ErrUsernameAlreadyExists
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.AdminUser{}, fmt.Errorf("hash password: %w", err)
	}
	user := domain.AdminUser{
		ID:           uuid.NewString(),
		Username:     username,
		DisplayName:  displayName,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		IsEnabled:    true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.SaveAdminUser(user); err != nil {
		return domain.AdminUser{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

// EnsureDefaultAdmin creates the bootstrap account when no operators
// exist yet. Returns true when the account was created.
func (a *App) EnsureDefaultAdmin(username, password string) (bool, error) {
	users, err := a.store.ListAdminUsers()
	if err != nil {
		return false, fmt.Errorf("list users: %w", err)
	}
	if len(users) > 0 {
		return false, nil
	}
	if _, err := a.CreateUser(username, password, "Administrator", "", domain.RoleAdmin); err != nil {
		return false, err
	}
	return true, nil
}

// UserPage is the paged operator-account envelope.
type UserPage struct {
	Content       []domain.AdminUser `json:"content"`
	TotalElements int64              `json:"totalElements"`
	TotalPages    int                `json:"totalPages"`
	Number        int                `json:"number"`
	Size          int                `json:"size"`
}

// ListUsers pages the operator accounts.
func (a *App) ListUsers(page, size int) (UserPage, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}
	users, err := a.store.ListAdminUsers()
	if err != nil {
		return UserPage{}, fmt.Errorf("list users: %w", err)
	}
	total := int64(len(users))
	start := (page - 1) * size
	if start > len(users) {
		start = len(users)
	}
	end := start + size
	if end > len(users) {
		end = len(users)
	}
	return UserPage{
		Content:       users[start:end],
		TotalElements: total,
		TotalPages:    int((total + int64(size) - 1) / int64(size)),
		Number:        page,
		Size:          size,
	}, nil
}

func (a *App) GetUser(id string) (domain.AdminUser, error) {
	user, ok, err := a.store.GetAdminUserByID(id)
	if err != nil {
		return domain.AdminUser{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.AdminUser{}, ErrUserNotFound
	}
	return user, nil
}

// UpdateUserStatus enables or disables an account. Operators cannot
// disable their own account.
func (a *App) UpdateUserStatus(actor domain.AdminUser, id string, enabled bool) (domain.AdminUser, error) {
	user, err := a.GetUser(id)
	if err != nil {
		return domain.AdminUser{}, err
	}
	if user.ID == actor.ID && !enabled {
		return domain.AdminUser{}, ErrCannotDisableSelf
	}
	user.IsEnabled = enabled
	if err := a.store.SaveAdminUser(user); err != nil {
		return domain.AdminUser{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

// DeleteUser removes an account. Operators cannot delete themselves.
func (a *App) DeleteUser(actor domain.AdminUser, id string) error {
	user, err := a.GetUser(id)
	if err != nil {
		return err
	}
	if user.ID == actor.ID {
		return ErrCannotDeleteSelf
	}
	return a.store.DeleteAdminUser(id)
}

// Stats aggregates the dashboard counters: project totals from the store
// plus model health from the latest probe results.
func (a *App) Stats() (domain.DashboardStats, error) {
	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	stats, err := a.store.ProjectStats(dayStart)
	if err != nil {
		return domain.DashboardStats{}, fmt.Errorf("project stats: %w", err)
	}
	models, err := a.store.ListModels()
	if err != nil {
		return domain.DashboardStats{}, fmt.Errorf("list models: %w", err)
	}
	for _, m := range models {
		if !m.IsEnabled {
			continue
		}
		if m.LastTestStatus == domain.StepFailed {
			stats.UnhealthyModels++
		} else {
			stats.HealthyModels++
		}
	}
	return stats, nil
}

// ListProjects pages all projects for monitoring, optionally filtered by
// owner and status.
func (a *App) ListProjects(userID int64, status domain.ProjectStatus, page, size int) (domain.ProjectPage, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}
	projects, total, err := a.store.ListProjects(userID, status, page-1, size)
	if err != nil {
		return domain.ProjectPage{}, fmt.Errorf("list projects: %w", err)
	}
	return domain.ProjectPage{
		Content:       projects,
		TotalElements: total,
		TotalPages:    int((total + int64(size) - 1) / int64(size)),
		Number:        page,
		Size:          size,
	}, nil
}

// ProjectDetail returns the full project record with its assets and the
// derived processing timeline.
func (a *App) ProjectDetail(id string) (domain.Project, []domain.Asset, domain.ProcessingTimeline, error) {
	project, ok, err := a.store.GetProject(id)
	if err != nil {
		return domain.Project{}, nil, domain.ProcessingTimeline{}, fmt.Errorf("fetch project: %w", err)
	}
	if !ok {
		return domain.Project{}, nil, domain.ProcessingTimeline{}, ErrProjectNotFound
	}
	assets, err := a.store.ListAssets(id)
	if err != nil {
		return domain.Project{}, nil, domain.ProcessingTimeline{}, fmt.Errorf("list assets: %w", err)
	}
	return project, assets, deriveTimeline(project), nil
}

// pipelineSteps is the fixed processing order; names match the errorStep
// values the workers write into failed projects.
var pipelineSteps = []string{"analyze", "generate_script", "generate_audio", "render"}

// stepReached maps a status to the index of the step it is working on (or
// has passed). The bool reports whether that step is still running.
func stepReached(status domain.ProjectStatus) (int, bool) {
	switch status {
	case domain.StatusAnalyzing:
		return 0, true
	case domain.StatusReview:
		return 0, false
	case domain.StatusScriptGenerating:
		return 1, true
	case domain.StatusScriptGenerated:
		return 1, false
	case domain.StatusAudioGenerating:
		return 2, true
	case domain.StatusAudioGenerated:
		return 2, false
	case domain.StatusRendering:
		return 3, true
	case domain.StatusCompleted:
		return 3, false
	default: // DRAFT, UPLOADING
		return -1, false
	}
}

// deriveTimeline reconstructs per-step progress from the project status.
// A failed project marks the step recorded in errorStep; steps before it
// count as done, steps after it as not started.
func deriveTimeline(project domain.Project) domain.ProcessingTimeline {
	nodes := make([]domain.TimelineNode, len(pipelineSteps))
	for i, step := range pipelineSteps {
		nodes[i] = domain.TimelineNode{Step: step, Status: domain.StepPending}
	}

	if project.Status == domain.StatusFailed {
		failedAt := len(pipelineSteps) - 1
		for i, step := range pipelineSteps {
			if step == project.ErrorStep {
				failedAt = i
				break
			}
		}
		for i := 0; i < failedAt; i++ {
			nodes[i].Status = domain.StepSuccess
		}
		nodes[failedAt].Status = domain.StepFailed
		nodes[failedAt].ErrorMessage = project.ErrorLog
		return domain.ProcessingTimeline{Nodes: nodes}
	}

	reached, running := stepReached(project.Status)
	for i := 0; i < reached; i++ {
		nodes[i].Status = domain.StepSuccess
	}
	if reached >= 0 {
		if running {
			nodes[reached].Status = domain.StepRunning
		} else {
			nodes[reached].Status = domain.StepSuccess
		}
	}
	return domain.ProcessingTimeline{Nodes: nodes}
}

func (a *App) ListModels() ([]domain.AIModel, error) {
	return a.store.ListModels()
}

func (a *App) GetModel(id string) (domain.AIModel, error) {
	models, err := a.store.ListModels()
	if err != nil {
		return domain.AIModel{}, fmt.Errorf("list models: %w", err)
	}
	for _, m := range models {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.AIModel{}, ErrModelNotFound
}

// TestModel probes the model provider's API endpoint and records the
// result on the model record. Authorization is not exercised; the probe
// only proves the provider is reachable from this deployment.
func (a *App) TestModel(ctx context.Context, id string) (domain.AIModel, error) {
	model, err := a.GetModel(id)
	if err != nil {
		return domain.AIModel{}, err
	}

	now := time.Now().UTC()
	model.LastTestAt = &now
	probeURL, ok := a.providerEndpoints[strings.ToLower(model.Provider)]
	if !ok {
		model.LastTestStatus = domain.StepFailed
		model.LastTestError = "unknown provider " + model.Provider
	} else {
		start := time.Now()
		status, probeErr := a.probe(ctx, probeURL)
		model.LastTestLatencyMs = time.Since(start).Milliseconds()
		switch {
		case probeErr != nil:
			model.LastTestStatus = domain.StepFailed
			model.LastTestError = probeErr.Error()
		case status >= 500:
			model.LastTestStatus = domain.StepFailed
			model.LastTestError = fmt.Sprintf("provider returned %d", status)
		default:
			// 4xx means reachable but unauthenticated, which is fine here.
			model.LastTestStatus = domain.StepSuccess
			model.LastTestError = ""
		}
	}

	if err := a.store.SaveModel(model); err != nil {
		return domain.AIModel{}, fmt.Errorf("save model: %w", err)
	}
	return model, nil
}

func (a *App) probe(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// SystemHealth fans out probes to the database, Redis, the project
// service, and the task queue, and reports each dependency separately.
func (a *App) SystemHealth(ctx context.Context) domain.SystemHealth {
	var health domain.SystemHealth
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		start := time.Now()
		err := a.store.Ping(ctx)
		health.Database = probeResult(start, err)
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		var err error
		if a.redis == nil {
			err = fmt.Errorf("redis not configured")
		} else {
			err = a.redis.Ping(ctx).Err()
		}
		health.Redis = probeResult(start, err)
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		var err error
		if a.projectServiceURL == "" {
			err = fmt.Errorf("project service not configured")
		} else {
			var status int
			status, err = a.probe(ctx, a.projectServiceURL+"/healthz")
			if err == nil && status != http.StatusOK {
				err = fmt.Errorf("healthz returned %d", status)
			}
		}
		health.Backend = probeResult(start, err)
		return nil
	})
	g.Go(func() error {
		health.Queue = domain.QueueStatus{QueueName: "celery"}
		if a.dispatcher == nil {
			return nil
		}
		pending, err := a.dispatcher.PendingCount(ctx)
		if err != nil {
			health.Queue.PendingTasks = -1
			return nil
		}
		health.Queue.PendingTasks = pending
		return nil
	})

	_ = g.Wait()
	return health
}

func probeResult(start time.Time, err error) domain.ServiceHealth {
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return domain.ServiceHealth{
			Status:         domain.HealthDown,
			ResponseTimeMs: elapsed,
			Message:        err.Error(),
		}
	}
	return domain.ServiceHealth{Status: domain.HealthHealthy, ResponseTimeMs: elapsed}
}
