package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"aiscene/pkg/domain"
	"aiscene/pkg/projectview"
	"aiscene/pkg/queue"
	"aiscene/pkg/storage"
	"aiscene/pkg/store"
)

// defaultAllowedContentTypes is the upload whitelist applied when the
// config does not override it. Only real video containers are accepted.
var defaultAllowedContentTypes = []string{
	"video/mp4",
	"video/quicktime",
	"video/x-m4v",
	"video/webm",
	"video/3gpp",
	"video/3gpp2",
}

// scenePriority orders analyzed clips the way a viewing tour flows:
// entrance first, living spaces, then private rooms. Labels come from the
// analysis worker and are Chinese scene names. Unknown labels sort after
// every known scene, unlabeled clips last.
var scenePriority = map[string]int{
	"小区门头": 10,
	"小区环境": 20,
	"客厅":   30,
	"餐厅":   40,
	"厨房":   50,
	"卧室":   60,
	"卫生间":  70,
	"阳台":   80,
	"走廊":   90,
}

const (
	unknownScenePriority = 100
	noScenePriority      = 999
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL         string
	AllowedContentTypes []string
	BgmURLs             []string
	BgmAutoSelect       bool

	// Injectable for tests; built from the other fields when nil.
	Store      store.Store
	Objects    storage.ObjectStore
	Dispatcher queue.Dispatcher
}

// App is the core application service wiring storage, object storage, and
// the pipeline dispatcher together.
type App struct {
	store         store.Store
	objects       storage.ObjectStore
	dispatcher    queue.Dispatcher
	allowed       map[string]bool
	bgmURLs       []string
	bgmAutoSelect bool
}

// New constructs the application.
func New(cfg Config) (*App, error) {
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
	if cfg.Objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("task dispatcher required")
	}

	types := cfg.AllowedContentTypes
	if len(types) == 0 {
		types = defaultAllowedContentTypes
	}
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[strings.ToLower(strings.TrimSpace(t))] = true
	}

	return &App{
		store:         dataStore,
		objects:       cfg.Objects,
		dispatcher:    cfg.Dispatcher,
		allowed:       allowed,
		bgmURLs:       cfg.BgmURLs,
		bgmAutoSelect: cfg.BgmAutoSelect,
	}, nil
}

// Store exposes the backing store for health checks.
func (a *App) Store() store.Store {
	return a.store
}

// CreateProject registers a new draft from listing metadata. A background
// track is picked automatically when the built-in list is configured.
func (a *App) CreateProject(userID int64, title string, houseInfo json.RawMessage) (domain.Project, error) {
	bgmURL := ""
	if a.bgmAutoSelect && len(a.bgmURLs) > 0 {
		bgmURL = a.bgmURLs[rand.Intn(len(a.bgmURLs))]
	}
	project := domain.Project{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		HouseInfo: houseInfo,
		BgmURL:    bgmURL,
		Status:    domain.StatusDraft,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.SaveProject(project); err != nil {
		return domain.Project{}, fmt.Errorf("save project: %w", err)
	}
	return project, nil
}

func (a *App) GetProject(id string) (domain.Project, error) {
	project, ok, err := a.store.GetProject(id)
	if err != nil {
		return domain.Project{}, fmt.Errorf("fetch project: %w", err)
	}
	if !ok {
		return domain.Project{}, ErrProjectNotFound
	}
	return project, nil
}

// ListProjects pages through a user's projects, newest first. A userID of
// 0 lists across all users.
func (a *App) ListProjects(userID int64, page, size int) (domain.ProjectPage, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}
	projects, total, err := a.store.ListProjects(userID, "", page-1, size)
	if err != nil {
		return domain.ProjectPage{}, fmt.Errorf("list projects: %w", err)
	}
	totalPages := int((total + int64(size) - 1) / int64(size))
	return domain.ProjectPage{
		Content:       projects,
		TotalElements: total,
		TotalPages:    totalPages,
		Number:        page,
		Size:          size,
	}, nil
}

// ValidateContentType enforces the upload whitelist. Parameters after a
// semicolon are ignored and matching is case-insensitive.
func (a *App) ValidateContentType(contentType string) error {
	normalized := strings.TrimSpace(contentType)
	if i := strings.Index(normalized, ";"); i >= 0 {
		normalized = normalized[:i]
	}
	normalized = strings.ToLower(strings.TrimSpace(normalized))
	if normalized == "" {
		return ErrMissingContentType
	}
	if !a.allowed[normalized] {
		return ErrUnsupportedContentType
	}
	return nil
}

// PresignAsset hands out a direct-upload target for one clip. The object
// key is prefixed with a fresh UUID so uploads never collide.
func (a *App) PresignAsset(ctx context.Context, projectID, filename, contentType string) (domain.PresignedUpload, error) {
	if err := a.ValidateContentType(contentType); err != nil {
		return domain.PresignedUpload{}, err
	}
	if _, err := a.GetProject(projectID); err != nil {
		return domain.PresignedUpload{}, err
	}
	objectKey := uuid.NewString() + "-" + filename
	presigned, err := a.objects.PresignPut(ctx, objectKey, contentType)
	if err != nil {
		return domain.PresignedUpload{}, fmt.Errorf("presign upload: %w", err)
	}
	return presigned, nil
}

// ConfirmAsset registers an object the browser uploaded directly and
// queues it for scene analysis. The project moves DRAFT → UPLOADING →
// ANALYZING as clips arrive; duration stays zero until the analysis
// worker fills it in.
func (a *App) ConfirmAsset(ctx context.Context, projectID, objectKey, contentType string) (domain.Asset, error) {
	if err := a.ValidateContentType(contentType); err != nil {
		return domain.Asset{}, err
	}
	project, err := a.GetProject(projectID)
	if err != nil {
		return domain.Asset{}, err
	}
	return a.registerAsset(ctx, project, objectKey, a.objects.PublicURL(objectKey))
}

// UploadAsset streams a clip through the service into object storage,
// for clients that cannot use presigned uploads.
func (a *App) UploadAsset(ctx context.Context, projectID, filename, contentType string, r io.Reader, size int64) (domain.Asset, error) {
	if err := a.ValidateContentType(contentType); err != nil {
		return domain.Asset{}, err
	}
	project, err := a.GetProject(projectID)
	if err != nil {
		return domain.Asset{}, err
	}
	objectKey := uuid.NewString() + "-" + filename
	if err := a.objects.Put(ctx, objectKey, r, size, contentType); err != nil {
		return domain.Asset{}, fmt.Errorf("store upload: %w", err)
	}
	return a.registerAsset(ctx, project, objectKey, a.objects.PublicURL(objectKey))
}

func (a *App) registerAsset(ctx context.Context, project domain.Project, objectKey, ossURL string) (domain.Asset, error) {
	if project.Status == domain.StatusDraft {
		project.Status = domain.StatusUploading
		if err := a.store.SaveProject(project); err != nil {
			return domain.Asset{}, fmt.Errorf("save project: %w", err)
		}
	}

	existing, err := a.store.ListAssets(project.ID)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("list assets: %w", err)
	}
	asset := domain.Asset{
		ID:            uuid.NewString(),
		ProjectID:     project.ID,
		OssURL:        ossURL,
		StorageBucket: a.objects.Bucket(),
		StorageKey:    objectKey,
		Duration:      0,
		SortOrder:     len(existing),
	}
	if err := a.store.SaveAsset(asset); err != nil {
		return domain.Asset{}, fmt.Errorf("save asset: %w", err)
	}

	if _, err := a.dispatcher.SubmitAnalysis(ctx, project.ID, asset.ID, asset.OssURL); err != nil {
		return domain.Asset{}, fmt.Errorf("submit analysis: %w", err)
	}

	if project.Status == domain.StatusDraft || project.Status == domain.StatusUploading {
		project.Status = domain.StatusAnalyzing
		if err := a.store.SaveProject(project); err != nil {
			return domain.Asset{}, fmt.Errorf("save project: %w", err)
		}
	}
	return asset, nil
}

// UpdateAsset applies user edits to one clip. A user label also replaces
// the analysis label so later script generation follows the correction.
func (a *App) UpdateAsset(assetID string, userLabel *string, sortOrder *int) (domain.Asset, error) {
	asset, ok, err := a.store.GetAsset(assetID)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("fetch asset: %w", err)
	}
	if !ok {
		return domain.Asset{}, ErrAssetNotFound
	}
	if userLabel != nil {
		asset.UserLabel = *userLabel
		asset.SceneLabel = *userLabel
	}
	if sortOrder != nil {
		asset.SortOrder = *sortOrder
	}
	if err := a.store.SaveAsset(asset); err != nil {
		return domain.Asset{}, fmt.Errorf("save asset: %w", err)
	}
	return asset, nil
}

// SmartTimeline returns the project with its clips in presentation order.
// Before analysis the upload order is kept; once any clip carries a scene
// label the clips are reordered along the viewing-tour priority.
func (a *App) SmartTimeline(projectID string) (domain.Project, []domain.Asset, error) {
	project, err := a.GetProject(projectID)
	if err != nil {
		return domain.Project{}, nil, err
	}
	assets, err := a.store.ListAssets(projectID)
	if err != nil {
		return domain.Project{}, nil, fmt.Errorf("list assets: %w", err)
	}

	hasAnalysis := false
	for _, asset := range assets {
		if asset.SceneLabel != "" {
			hasAnalysis = true
			break
		}
	}
	if hasAnalysis {
		sort.SliceStable(assets, func(i, j int) bool {
			return sceneRank(assets[i].SceneLabel) < sceneRank(assets[j].SceneLabel)
		})
	}
	return project, assets, nil
}

func sceneRank(label string) int {
	if label == "" {
		return noScenePriority
	}
	if p, ok := scenePriority[label]; ok {
		return p
	}
	return unknownScenePriority
}

// GenerateScript queues narration-script generation from the analyzed
// timeline and moves the project to SCRIPT_GENERATING.
func (a *App) GenerateScript(ctx context.Context, projectID string) (string, error) {
	project, err := a.GetProject(projectID)
	if err != nil {
		return "", err
	}
	assets, err := a.store.ListAssets(projectID)
	if err != nil {
		return "", fmt.Errorf("list assets: %w", err)
	}

	project.Status = domain.StatusScriptGenerating
	if err := a.store.SaveProject(project); err != nil {
		return "", fmt.Errorf("save project: %w", err)
	}

	taskID, err := a.dispatcher.SubmitScriptGeneration(ctx, projectID, project.HouseInfo, timelinePayload(assets, true))
	if err != nil {
		return "", fmt.Errorf("submit script generation: %w", err)
	}
	return taskID, nil
}

// UpdateScript stores user edits to the script. Edits are rejected once
// the project is completed or while audio or rendering is in flight. A
// non-zero userID must own the project.
func (a *App) UpdateScript(projectID, scriptContent string, userID int64) error {
	project, err := a.GetProject(projectID)
	if err != nil {
		return err
	}
	if err := checkOwnership(project, userID); err != nil {
		return err
	}
	switch project.Status {
	case domain.StatusCompleted:
		return ErrProjectCompleted
	case domain.StatusAudioGenerating, domain.StatusAudioGenerated, domain.StatusRendering:
		return ErrProjectProcessing
	}
	if !json.Valid([]byte(scriptContent)) {
		// The web editor PUTs the canonical text, which for a string-form
		// script is bare prose; re-wrap so storage stays valid JSON.
		encoded, err := json.Marshal(scriptContent)
		if err != nil {
			return ErrInvalidScript
		}
		project.ScriptContent = encoded
	} else {
		project.ScriptContent = json.RawMessage(scriptContent)
	}
	project.Status = domain.StatusScriptGenerated
	if err := a.store.SaveProject(project); err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

// GenerateAudio stores the (possibly edited) script and queues narration
// synthesis. An empty body falls back to the stored script.
func (a *App) GenerateAudio(ctx context.Context, projectID, scriptContent string) error {
	project, err := a.GetProject(projectID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(scriptContent) == "" {
		scriptContent = projectview.CanonicalScript(project.ScriptContent)
	}
	if !json.Valid([]byte(scriptContent)) {
		// Canonical scripts are JSON text; a plain string is re-wrapped so
		// storage stays valid JSON.
		encoded, err := json.Marshal(scriptContent)
		if err != nil {
			return ErrInvalidScript
		}
		project.ScriptContent = encoded
	} else {
		project.ScriptContent = json.RawMessage(scriptContent)
	}
	project.Status = domain.StatusAudioGenerating
	if err := a.store.SaveProject(project); err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	if _, err := a.dispatcher.SubmitAudioGeneration(ctx, projectID, scriptContent); err != nil {
		return fmt.Errorf("submit audio generation: %w", err)
	}
	return nil
}

// Render queues the final render. Only a project whose script is ready,
// or whose previous render failed, may start; the transition is a
// conditional status update so concurrent render requests cannot both
// pass the guard.
func (a *App) Render(ctx context.Context, projectID string, userID int64) error {
	project, err := a.GetProject(projectID)
	if err != nil {
		return err
	}
	if err := checkOwnership(project, userID); err != nil {
		return err
	}
	script := projectview.CanonicalScript(project.ScriptContent)
	if script == "" {
		return ErrScriptEmpty
	}
	assets, err := a.store.ListAssets(projectID)
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}
	if len(assets) == 0 {
		return ErrNoAssets
	}

	ok, err := a.store.UpdateProjectStatusIf(projectID,
		[]domain.ProjectStatus{domain.StatusScriptGenerated, domain.StatusFailed},
		domain.StatusRendering)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if !ok {
		if project.Status == domain.StatusRendering || project.Status == domain.StatusAudioGenerating {
			return ErrProjectProcessing
		}
		return ErrNotReadyToRender
	}

	if _, err := a.dispatcher.SubmitRenderPipeline(ctx, projectID, script, timelinePayload(assets, false), project.BgmURL); err != nil {
		return fmt.Errorf("submit render: %w", err)
	}
	return nil
}

// checkOwnership rejects cross-user edits. A zero userID skips the check,
// matching requests made without an identity header.
func checkOwnership(project domain.Project, userID int64) error {
	if userID == 0 {
		return nil
	}
	if project.UserID != userID {
		return ErrForbidden
	}
	return nil
}

// timelinePayload flattens assets into the per-clip task payload. Scene
// metadata is only relevant for script generation.
func timelinePayload(assets []domain.Asset, withScenes bool) []queue.TimelineAsset {
	out := make([]queue.TimelineAsset, 0, len(assets))
	for _, asset := range assets {
		item := queue.TimelineAsset{
			ID:       asset.ID,
			OssURL:   asset.OssURL,
			Duration: asset.Duration,
		}
		if withScenes {
			item.SceneLabel = asset.SceneLabel
			item.SceneScore = asset.SceneScore
		}
		out = append(out, item)
	}
	return out
}
