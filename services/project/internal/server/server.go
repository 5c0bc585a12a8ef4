package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"aiscene/internal/ratelimit"
	"aiscene/internal/util"
	"aiscene/pkg/domain"
	"aiscene/services/project/internal/app"
)

const maxJSONBody = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	APIKey         string
	Limiter        *ratelimit.FixedWindowLimiter
	MaxUploadBytes int64
}

// Server exposes HTTP endpoints for the project service.
type Server struct {
	app            *app.App
	apiKey         string
	limiter        *ratelimit.FixedWindowLimiter
	maxUploadBytes int64
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 512 << 20
	}
	s := &Server{
		app:            cfg.App,
		apiKey:         cfg.APIKey,
		limiter:        cfg.Limiter,
		maxUploadBytes: maxUpload,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/v1/projects", s.authenticated(s.handleProjects))
	s.mux.Handle("/v1/projects/", s.authenticated(s.handleProjectSubtree))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// apiHandler receives the caller identity parsed from X-User-Id, zero
// when the header is absent.
type apiHandler func(http.ResponseWriter, *http.Request, int64)

func (s *Server) authenticated(next apiHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}
		if s.limiter != nil && !s.limiter.Allow(util.ClientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		var userID int64
		if v := r.Header.Get("X-User-Id"); v != "" {
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", "invalid X-User-Id")
				return
			}
			userID = parsed
		}
		next(w, r, userID)
	})
}

func (s *Server) authorize(r *http.Request) bool {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "ApiKey ") {
		return false
	}
	key := strings.TrimSpace(strings.TrimPrefix(authHeader, "ApiKey "))
	return key != "" && key == s.apiKey
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request, userID int64) {
	switch r.Method {
	case http.MethodGet:
		page := queryInt(r, "page", 1)
		size := queryInt(r, "size", 10)
		result, err := s.app.ListProjects(userID, page, size)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case http.MethodPost:
		var req createProjectRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
			return
		}
		if req.UserID != 0 {
			userID = req.UserID
		}
		project, err := s.app.CreateProject(userID, req.Title, req.HouseInfo)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleProjectSubtree(w http.ResponseWriter, r *http.Request, userID int64) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/projects/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	projectID := parts[0]

	switch {
	case len(parts) == 1:
		s.handleGetProject(w, r, projectID)
	case len(parts) == 2 && parts[1] == "timeline":
		s.handleTimeline(w, r, projectID)
	case len(parts) == 2 && parts[1] == "script":
		s.handleScript(w, r, projectID, userID)
	case len(parts) == 2 && parts[1] == "audio":
		s.handleAudio(w, r, projectID)
	case len(parts) == 2 && parts[1] == "render":
		s.handleRender(w, r, projectID, userID)
	case len(parts) == 2 && parts[1] == "assets":
		s.handleUploadAsset(w, r, projectID)
	case len(parts) == 3 && parts[1] == "assets" && parts[2] == "presign":
		s.handlePresign(w, r, projectID)
	case len(parts) == 3 && parts[1] == "assets" && parts[2] == "confirm":
		s.handleConfirmAsset(w, r, projectID)
	case len(parts) == 3 && parts[1] == "assets":
		s.handleUpdateAsset(w, r, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request, projectID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	project, err := s.app.GetProject(projectID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request, projectID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	project, assets, err := s.app.SmartTimeline(projectID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, timelineResponse{
		ProjectID:      project.ID,
		ProjectTitle:   project.Title,
		Status:         project.Status,
		ErrorRequestID: optionalString(project.ErrorRequestID),
		ErrorStep:      optionalString(project.ErrorStep),
		Assets:         assets,
		ScriptContent:  project.ScriptContent,
	})
}

func (s *Server) handlePresign(w http.ResponseWriter, r *http.Request, projectID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	filename := r.URL.Query().Get("filename")
	contentType := r.URL.Query().Get("contentType")
	if filename == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "filename is required")
		return
	}
	presigned, err := s.app.PresignAsset(r.Context(), projectID, filename, contentType)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presigned)
}

func (s *Server) handleConfirmAsset(w http.ResponseWriter, r *http.Request, projectID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req confirmAssetRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.ObjectKey == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "objectKey is required")
		return
	}
	asset, err := s.app.ConfirmAsset(r.Context(), projectID, req.ObjectKey, req.ContentType)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (s *Server) handleUploadAsset(w http.ResponseWriter, r *http.Request, projectID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "file is required")
		return
	}
	defer file.Close()

	asset, err := s.app.UploadAsset(r.Context(), projectID, header.Filename,
		header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (s *Server) handleUpdateAsset(w http.ResponseWriter, r *http.Request, assetID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req updateAssetRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	asset, err := s.app.UpdateAsset(assetID, req.UserLabel, req.SortOrder)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (s *Server) handleScript(w http.ResponseWriter, r *http.Request, projectID string, userID int64) {
	switch r.Method {
	case http.MethodGet:
		project, err := s.app.GetProject(projectID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, scriptResponse{
			ProjectID:     project.ID,
			Status:        project.Status,
			ScriptContent: project.ScriptContent,
		})
	case http.MethodPost:
		taskID, err := s.app.GenerateScript(r.Context(), projectID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		project, err := s.app.GetProject(projectID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, scriptResponse{
			ProjectID:     project.ID,
			TaskID:        taskID,
			Status:        project.Status,
			ScriptContent: project.ScriptContent,
		})
	case http.MethodPut:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
		if err != nil || len(body) == 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "script body is required")
			return
		}
		if err := s.app.UpdateScript(projectID, string(body), userID); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request, projectID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid body")
		return
	}
	if err := s.app.GenerateAudio(r.Context(), projectID, string(body)); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request, projectID string, userID int64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.Render(r.Context(), projectID, userID); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrProjectNotFound), errors.Is(err, app.ErrAssetNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, app.ErrProjectProcessing):
		writeError(w, http.StatusConflict, "project_processing", err.Error())
	case errors.Is(err, app.ErrProjectCompleted),
		errors.Is(err, app.ErrNotReadyToRender),
		errors.Is(err, app.ErrScriptEmpty),
		errors.Is(err, app.ErrNoAssets):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, app.ErrInvalidScript),
		errors.Is(err, app.ErrMissingContentType),
		errors.Is(err, app.ErrUnsupportedContentType):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed",
			"method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

type createProjectRequest struct {
	UserID    int64           `json:"userId"`
	Title     string          `json:"title"`
	HouseInfo json.RawMessage `json:"houseInfo"`
}

type confirmAssetRequest struct {
	ObjectKey   string `json:"objectKey"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type updateAssetRequest struct {
	UserLabel *string `json:"userLabel"`
	SortOrder *int    `json:"sortOrder"`
}

type timelineResponse struct {
	ProjectID      string               `json:"projectId"`
	ProjectTitle   string               `json:"projectTitle"`
	Status         domain.ProjectStatus `json:"status"`
	ErrorRequestID *string              `json:"errorRequestId,omitempty"`
	ErrorStep      *string              `json:"errorStep,omitempty"`
	Assets         []domain.Asset       `json:"assets"`
	ScriptContent  json.RawMessage      `json:"scriptContent,omitempty"`
}

type scriptResponse struct {
	ProjectID     string               `json:"projectId"`
	TaskID        string               `json:"taskId,omitempty"`
	Status        domain.ProjectStatus `json:"status"`
	ScriptContent json.RawMessage      `json:"scriptContent,omitempty"`
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}
