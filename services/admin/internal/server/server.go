package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"aiscene/pkg/domain"
	"aiscene/services/admin/internal/app"
)

const maxJSONBody = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
}

// Server exposes HTTP endpoints for the admin service.
type Server struct {
	app *app.App
	mux *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app: cfg.App,
		mux: http.NewServeMux(),
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

	s.mux.HandleFunc("/admin/auth/login", s.handleLogin)
	s.mux.Handle("/admin/auth/me", s.authenticated(s.handleMe))

	s.mux.Handle("/admin/projects/stats", s.authenticated(s.handleStats))
	s.mux.Handle("/admin/projects", s.authenticated(s.handleProjects))
	s.mux.Handle("/admin/projects/", s.authenticated(s.handleProjectByID))

	s.mux.Handle("/admin/models", s.authenticated(s.handleModels))
	s.mux.Handle("/admin/models/", s.authenticated(s.handleModelSubtree))

	s.mux.Handle("/admin/system/health", s.authenticated(s.handleSystemHealth))

	s.mux.Handle("/admin/users", s.adminOnly(s.handleUsers))
	s.mux.Handle("/admin/users/", s.adminOnly(s.handleUserSubtree))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, domain.AdminUser)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.AdminUser) {
		if user.Role != domain.RoleAdmin {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.AdminUser, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.AdminUser{}, false
	}
	return s.app.UserFromToken(token)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := s.app.Login(req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidCredentials), errors.Is(err, app.ErrUserDisabled):
			// Disabled accounts read like bad credentials on purpose.
			writeError(w, http.StatusUnauthorized, app.ErrInvalidCredentials.Error())
		case errors.Is(err, app.ErrUsernameAndPasswordRequired):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.AdminUser) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, _ domain.AdminUser) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.app.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request, _ domain.AdminUser) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	var userID int64
	if v := q.Get("userId"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid userId")
			return
		}
		userID = parsed
	}
	status := domain.ProjectStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	page, err := s.app.ListProjects(userID, status, queryInt(q.Get("page"), 1), queryInt(q.Get("size"), 10))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleProjectByID(w http.ResponseWriter, r *http.Request, _ domain.AdminUser) {
	id := strings.TrimPrefix(r.URL.Path, "/admin/projects/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	project, assets, timeline, err := s.app.ProjectDetail(id)
	if err != nil {
		if errors.Is(err, app.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, projectDetailResponse{
		Project:  project,
		Assets:   assets,
		Timeline: timeline,
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request, _ domain.AdminUser) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	models, err := s.app.ListModels()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, models)
}

func (s *Server) handleModelSubtree(w http.ResponseWriter, r *http.Request, _ domain.AdminUser) {
	rest := strings.TrimPrefix(r.URL.Path, "/admin/models/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		model, err := s.app.GetModel(parts[0])
		if err != nil {
			s.writeModelError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, model)
	case len(parts) == 2 && parts[1] == "test":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		model, err := s.app.TestModel(r.Context(), parts[0])
		if err != nil {
			s.writeModelError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, model)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) writeModelError(w http.ResponseWriter, err error) {
	if errors.Is(err, app.ErrModelNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request, _ domain.AdminUser) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.app.SystemHealth(r.Context()))
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request, _ domain.AdminUser) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		page, err := s.app.ListUsers(queryInt(q.Get("page"), 1), queryInt(q.Get("size"), 10))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, page)
	case http.MethodPost:
		var req createUserRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		user, err := s.app.CreateUser(req.Username, req.Password, req.DisplayName, req.Email, req.Role)
		if err != nil {
			switch {
			case errors.Is(err, app.ErrUsernameAlreadyExists):
				writeError(w, http.StatusConflict, err.Error())
			case errors.Is(err, app.ErrUsernameAndPasswordRequired):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}
		writeJSON(w, http.StatusCreated, user)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUserSubtree(w http.ResponseWriter, r *http.Request, actor domain.AdminUser) {
	rest := strings.TrimPrefix(r.URL.Path, "/admin/users/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		s.handleUserByID(w, r, actor, parts[0])
	case len(parts) == 2 && parts[1] == "status":
		s.handleUserStatus(w, r, actor, parts[0])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request, actor domain.AdminUser, id string) {
	switch r.Method {
	case http.MethodGet:
		user, err := s.app.GetUser(id)
		if err != nil {
			s.writeUserError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		if err := s.app.DeleteUser(actor, id); err != nil {
			s.writeUserError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUserStatus(w http.ResponseWriter, r *http.Request, actor domain.AdminUser, id string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "enabled query parameter is required")
		return
	}
	user, err := s.app.UpdateUserStatus(actor, id, enabled)
	if err != nil {
		s.writeUserError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) writeUserError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrCannotDisableSelf), errors.Is(err, app.ErrCannotDeleteSelf):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type createUserRequest struct {
	Username    string           `json:"username"`
	Password    string           `json:"password"`
	DisplayName string           `json:"displayName"`
	Email       string           `json:"email"`
	Role        domain.AdminRole `json:"role"`
}

type projectDetailResponse struct {
	domain.Project
	Assets   []domain.Asset            `json:"assets"`
	Timeline domain.ProcessingTimeline `json:"timeline"`
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	return token, token != ""
}

func queryInt(v string, fallback int) int {
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
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "message": msg})
}
