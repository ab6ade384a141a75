package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"promptapi/internal/ratelimit"
	"promptapi/internal/util"
	"promptapi/pkg/domain"
	"promptapi/pkg/store"
	"promptapi/services/api/internal/app"
	"promptapi/services/api/internal/security"
)

const (
	apiName    = "AI Prompt API"
	apiVersion = "1.0.0"

	maxJSONBytes = 1 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Redis          *redis.Client
	TrustedProxies *util.TrustedProxies

	// A zero limit disables the limiter.
	LoginRateLimitPerMinute     int
	AnonTokenRateLimitPerMinute int
}

// Server exposes the prompt gallery HTTP API.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	trustedProxies *util.TrustedProxies
	loginLimiter   *ratelimit.FixedWindowLimiter
	anonLimiter    *ratelimit.FixedWindowLimiter
	alerter        *security.AuditAlerter
	now            func() time.Time
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server requires an app")
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		if limit <= 0 {
			return nil, nil
		}
		if cfg.Redis == nil {
			return nil, fmt.Errorf("init %s limiter: redis client is required", name)
		}
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "promptapi:ratelimit:"+name, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	loginLimiter, err := newLimiter("login", cfg.LoginRateLimitPerMinute)
	if err != nil {
		return nil, err
	}
	anonLimiter, err := newLimiter("anonymous", cfg.AnonTokenRateLimitPerMinute)
	if err != nil {
		return nil, err
	}
	var alerter *security.AuditAlerter
	if cfg.Redis != nil {
		if alerter, err = security.NewAuditAlerter(cfg.Redis, "promptapi:alerts"); err != nil {
			return nil, fmt.Errorf("init audit alerter: %w", err)
		}
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		trustedProxies: cfg.TrustedProxies,
		loginLimiter:   loginLimiter,
		anonLimiter:    anonLimiter,
		alerter:        alerter,
		now:            time.Now,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog("api",
			util.WithRecover(
				util.WithSecurityHeaders(
					util.WithCORS(s.mux),
				),
			),
		),
	)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/test", s.handleTest)

	// auth
	s.mux.HandleFunc("/api/auth/anonymous", s.handleAnonymousToken)

	// admin
	s.mux.HandleFunc("/api/admin/login", s.handleAdminLogin)
	s.mux.Handle("/api/admin/logout", s.adminOnly(s.handleAdminLogout))
	s.mux.Handle("/api/admin/stats", s.adminOnly(s.handleAdminStats))
	s.mux.Handle("/api/admin/create", s.superAdminOnly(s.handleCreateAdmin))
	s.mux.Handle("/api/admin/list", s.superAdminOnly(s.handleListAdmins))
	s.mux.Handle("/api/admin/prompts", s.adminOnly(s.handleAdminPrompts))
	s.mux.Handle("/api/admin/prompts/", s.adminOnly(s.handleAdminPromptByID))

	// categories: reads for anonymous users, writes for admins
	s.mux.HandleFunc("/api/categories", s.handleCategories)
	s.mux.Handle("/api/categories/", s.adminOnly(s.handleCategoryByID))

	// prompts & favorites
	s.mux.Handle("/api/prompts/generate", s.anonOnly(s.handleGenerate))
	s.mux.Handle("/api/prompts", s.anonOnly(s.handleListPrompts))
	s.mux.Handle("/api/prompts/", s.anonOnly(s.handlePromptByID))
	s.mux.Handle("/api/user/favorites", s.anonOnly(s.handleFavorites))
	s.mux.Handle("/api/user/favorites/add", s.anonOnly(s.handleAddFavorite))
	s.mux.Handle("/api/user/favorites/remove", s.anonOnly(s.handleRemoveFavorite))

	// images
	s.mux.Handle("/api/images/upload", s.adminOnly(s.handleUploadImage))
	s.mux.Handle("/api/images/upload-multiple", s.adminOnly(s.handleUploadImages))
	s.mux.HandleFunc("/api/images/", s.handleImageByID)

	s.mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found")
	})
}

// envelope is the response body of every API endpoint.
type envelope struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message,omitempty"`
	Data       any             `json:"data,omitempty"`
	Pagination *app.Pagination `json:"pagination,omitempty"`
	Timestamp  string          `json:"timestamp,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK", "message": "Server is running"})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	database := "connected"
	if err := s.app.Ping(r.Context()); err != nil {
		util.LoggerFromContext(r.Context()).Warn("store ping failed", "err", err)
		database = "disconnected"
	}
	writeJSON(w, http.StatusOK, envelope{
		Success:   true,
		Message:   "API is working!",
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Data: map[string]string{
			"server":   apiName,
			"version":  apiVersion,
			"database": database,
		},
	})
}

// auth wrappers
type anonHandler func(http.ResponseWriter, *http.Request, domain.AnonUser)

type adminHandler func(http.ResponseWriter, *http.Request, domain.Admin, store.TokenClaims)

func (s *Server) anonOnly(next anonHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _, err := s.app.ResolveAnon(r.Context(), bearerToken(r))
		if err != nil {
			s.audit(r, "api.anon.authorize", "fail", "reason", err.Error())
			writeAppError(w, r, err)
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next adminHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admin, claims, err := s.app.ResolveAdmin(r.Context(), bearerToken(r))
		if err != nil {
			s.audit(r, "api.admin.authorize", "fail", "reason", err.Error())
			writeAppError(w, r, err)
			return
		}
		s.audit(r, "api.admin.authorize", "success", "admin_id", admin.ID)
		next(w, r, admin, claims)
	})
}

func (s *Server) superAdminOnly(next adminHandler) http.Handler {
	return s.adminOnly(func(w http.ResponseWriter, r *http.Request, admin domain.Admin, claims store.TokenClaims) {
		if err := app.RequireSuperAdmin(admin); err != nil {
			s.audit(r, "api.superadmin.authorize", "fail", "admin_id", admin.ID, "reason", "forbidden")
			writeAppError(w, r, err)
			return
		}
		next(w, r, admin, claims)
	})
}

// auth handlers
func (s *Server) handleAnonymousToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.anonLimiter) {
		s.audit(r, "api.anonymous", "rate_limited")
		return
	}
	session, err := s.app.IssueAnonymousToken(r.Context())
	if err != nil {
		s.audit(r, "api.anonymous", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.anonymous", "success")
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "Anonymous token created", Data: session})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter) {
		s.audit(r, "api.admin.login", "rate_limited")
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		s.audit(r, "api.admin.login", "fail", "reason", "invalid_json")
		return
	}
	session, err := s.app.AdminLogin(r.Context(), req.Username, req.Password)
	if err != nil {
		s.audit(r, "api.admin.login", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.admin.login", "success", "admin_id", session.Admin.ID)
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Login successful", Data: session})
}

func (s *Server) handleAdminLogout(w http.ResponseWriter, r *http.Request, admin domain.Admin, claims store.TokenClaims) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.AdminLogout(r.Context(), claims); err != nil {
		s.audit(r, "api.admin.logout", "fail", "admin_id", admin.ID, "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.admin.logout", "success", "admin_id", admin.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request, _ domain.Admin, _ store.TokenClaims) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.app.Stats(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: stats})
}

type createAdminRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (s *Server) handleCreateAdmin(w http.ResponseWriter, r *http.Request, admin domain.Admin, _ store.TokenClaims) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req createAdminRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	created, err := s.app.CreateAdmin(r.Context(), req.Username, req.Password, domain.AdminRole(strings.TrimSpace(req.Role)))
	if err != nil {
		s.audit(r, "api.admin.create", "fail", "admin_id", admin.ID, "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.admin.create", "success", "admin_id", admin.ID, "created_id", created.ID, "role", string(created.Role))
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "Admin created successfully", Data: created})
}

func (s *Server) handleListAdmins(w http.ResponseWriter, r *http.Request, _ domain.Admin, _ store.TokenClaims) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	admins, err := s.app.ListAdmins(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: admins})
}

type adminPromptRequest struct {
	PromptText string   `json:"promptText"`
	CategoryID string   `json:"categoryId"`
	Status     string   `json:"status"`
	ImageIDs   []string `json:"imageIds"`
	ImageURLs  []string `json:"imageUrls"`
}

// /api/admin/prompts
func (s *Server) handleAdminPrompts(w http.ResponseWriter, r *http.Request, admin domain.Admin, _ store.TokenClaims) {
	switch r.Method {
	case http.MethodGet:
		s.listPrompts(w, r, app.DefaultAdminPromptPageSize)
	case http.MethodPost:
		var req adminPromptRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		view, _, err := s.app.CreatePromptAsAdmin(r.Context(), admin, app.AdminPromptInput{
			PromptText: req.PromptText,
			CategoryID: req.CategoryID,
			Status:     req.Status,
			ImageIDs:   req.ImageIDs,
			ImageURLs:  req.ImageURLs,
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "Prompt created successfully", Data: view})
	default:
		methodNotAllowed(w)
	}
}

// /api/admin/prompts/{id}
func (s *Server) handleAdminPromptByID(w http.ResponseWriter, r *http.Request, admin domain.Admin, _ store.TokenClaims) {
	id, ok := pathID(r, "/api/admin/prompts/")
	if !ok {
		writeError(w, http.StatusNotFound, "Route not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeletePrompt(r.Context(), id); err != nil {
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.prompt.delete", "success", "admin_id", admin.ID, "prompt_id", id)
	w.WriteHeader(http.StatusNoContent)
}

type categoryRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// /api/categories
func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.anonOnly(func(w http.ResponseWriter, r *http.Request, _ domain.AnonUser) {
			categories, err := s.app.ListCategories(r.Context())
			if err != nil {
				writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, envelope{Success: true, Data: categories})
		}).ServeHTTP(w, r)
	case http.MethodPost:
		s.adminOnly(func(w http.ResponseWriter, r *http.Request, _ domain.Admin, _ store.TokenClaims) {
			var req categoryRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			category, err := s.app.CreateCategory(r.Context(), app.CategoryInput{Name: req.Name, Description: req.Description})
			if err != nil {
				writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "Category created successfully", Data: category})
		}).ServeHTTP(w, r)
	default:
		methodNotAllowed(w)
	}
}

// /api/categories/{id}
func (s *Server) handleCategoryByID(w http.ResponseWriter, r *http.Request, _ domain.Admin, _ store.TokenClaims) {
	id, ok := pathID(r, "/api/categories/")
	if !ok {
		writeError(w, http.StatusNotFound, "Route not found")
		return
	}
	switch r.Method {
	case http.MethodPut:
		var req categoryRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		category, err := s.app.UpdateCategory(r.Context(), id, app.CategoryInput{Name: req.Name, Description: req.Description})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Category updated successfully", Data: category})
	case http.MethodDelete:
		if err := s.app.DeleteCategory(r.Context(), id); err != nil {
			writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

type generateRequest struct {
	PromptText string   `json:"promptText"`
	CategoryID string   `json:"categoryId"`
	ImageIDs   []string `json:"imageIds"`
	Count      int      `json:"count"`
	Size       string   `json:"size"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, user domain.AnonUser) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req generateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	view, _, err := s.app.SubmitPrompt(r.Context(), user, app.SubmitPromptInput{
		PromptText: req.PromptText,
		CategoryID: req.CategoryID,
		ImageIDs:   req.ImageIDs,
		Count:      req.Count,
		Size:       req.Size,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	msg := "Prompt queued for generation"
	if view.Status == domain.StatusDone {
		msg = "Prompt saved successfully"
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: msg, Data: view})
}

// /api/prompts
func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request, _ domain.AnonUser) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.listPrompts(w, r, app.DefaultPromptPageSize)
}

func (s *Server) listPrompts(w http.ResponseWriter, r *http.Request, defaultLimit int) {
	q := r.URL.Query()
	views, page, err := s.app.ListPrompts(r.Context(), app.PromptQuery{
		CategoryID: strings.TrimSpace(q.Get("category")),
		Status:     strings.TrimSpace(q.Get("status")),
		Page:       queryInt(q.Get("page")),
		Limit:      queryInt(q.Get("limit")),
	}, defaultLimit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: views, Pagination: &page})
}

// /api/prompts/{id}
func (s *Server) handlePromptByID(w http.ResponseWriter, r *http.Request, _ domain.AnonUser) {
	id, ok := pathID(r, "/api/prompts/")
	if !ok {
		writeError(w, http.StatusNotFound, "Route not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	view, err := s.app.GetPrompt(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: view})
}

type favoriteRequest struct {
	PromptID string `json:"promptId"`
}

func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request, user domain.AnonUser) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	views, err := s.app.ListFavorites(r.Context(), user)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: views})
}

func (s *Server) handleAddFavorite(w http.ResponseWriter, r *http.Request, user domain.AnonUser) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req favoriteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ids, added, err := s.app.AddFavorite(r.Context(), user, req.PromptID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	msg := "Already in favorites"
	if added {
		msg = "Added to favorites"
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: msg, Data: ids})
}

func (s *Server) handleRemoveFavorite(w http.ResponseWriter, r *http.Request, user domain.AnonUser) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req favoriteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ids, err := s.app.RemoveFavorite(r.Context(), user, req.PromptID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Removed from favorites", Data: ids})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}

// pathID extracts a single trailing path segment after prefix.
func pathID(r *http.Request, prefix string) (string, bool) {
	id := strings.TrimPrefix(r.URL.Path, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func queryInt(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}

// decodeJSON reads a bounded JSON body into dst, writing a 400 on failure.
// An empty body decodes to the zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Message: msg})
}

func statusForKind(kind app.Kind) int {
	switch kind {
	case app.KindValidation:
		return http.StatusBadRequest
	case app.KindAuthentication:
		return http.StatusUnauthorized
	case app.KindAuthorization:
		return http.StatusForbidden
	case app.KindNotFound:
		return http.StatusNotFound
	case app.KindConflict:
		return http.StatusConflict
	case app.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := app.KindOf(err)
	if kind == app.KindInternal || kind == app.KindUpstream {
		util.LoggerFromContext(r.Context()).Error("request failed", "kind", kind.String(), "err", err)
	}
	writeError(w, statusForKind(kind), app.PublicMessage(err))
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := util.ClientIP(r, s.trustedProxies)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)

	result, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security alert evaluation failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String(),
		)
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	decision := limiter.Allow(r.Context(), key)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
	if decision.Allowed {
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		return true
	}
	retry := int(decision.RetryAfter.Round(time.Second) / time.Second)
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeAppError(w, r, app.ErrRateLimited)
	return false
}
