package server

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"Choirbook/config"
	"Choirbook/core/auth"
	"Choirbook/core/catalog"
	"Choirbook/core/gate"
	"Choirbook/core/mail"
	"Choirbook/logger"
	"Choirbook/model"
	"Choirbook/repository"
	"Choirbook/storage"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// SessionCookie is the name of the cookie that carries the signed session token.
const SessionCookie = "choirbook_session"

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Config   *config.Config
	Users    repository.UserRepository
	Music    repository.MusicRepository
	Sessions gate.SessionStore
	Tokens   gate.Tokens
	Files    storage.FileStorage
	Mailer   mail.Mailer
	Renderer *Renderer
}

// Handler 处理所有页面请求
type Handler struct {
	cfg      *config.Config
	users    repository.UserRepository
	gate     *gate.Gate
	catalog  *catalog.Service
	files    storage.FileStorage
	mailer   mail.Mailer
	render   *Renderer
	validate *validator.Validate
}

// NewHandler wires the gate and catalog service from deps.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		cfg:      deps.Config,
		users:    deps.Users,
		gate:     gate.New(auth.NewAuthenticator(deps.Users), deps.Sessions, deps.Users, deps.Tokens),
		catalog:  catalog.NewService(deps.Music, deps.Files),
		files:    deps.Files,
		mailer:   deps.Mailer,
		render:   deps.Renderer,
		validate: newValidator(),
	}
}

// NewRouter builds the full route table.
func NewRouter(deps Deps) http.Handler {
	h := NewHandler(deps)

	router := mux.NewRouter()
	router.Use(h.identify)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.renderError(w, r, http.StatusNotFound, "Page not found.")
	})

	// 认证
	router.HandleFunc("/", h.LoginHandler).Methods(http.MethodGet, http.MethodPost)
	router.HandleFunc("/login", h.LoginHandler).Methods(http.MethodGet, http.MethodPost)
	router.HandleFunc("/logout", h.LogoutHandler).Methods(http.MethodGet, http.MethodPost)

	// 账号
	router.HandleFunc("/register", h.RegisterHandler).Methods(http.MethodGet, http.MethodPost)
	router.HandleFunc("/delete-account", h.requireActive(h.DeleteAccountConfirmHandler)).Methods(http.MethodGet)
	router.HandleFunc("/delete-account/confirm", h.requireActive(h.DeleteAccountHandler)).Methods(http.MethodPost)

	// 公开页面
	router.HandleFunc("/contact", h.ContactHandler).Methods(http.MethodGet, http.MethodPost)
	router.HandleFunc("/useful-links", h.UsefulLinksHandler).Methods(http.MethodGet)
	router.HandleFunc("/healthz", h.HealthHandler).Methods(http.MethodGet)

	// 需要已审批账号
	router.HandleFunc("/home", h.requireActive(h.HomeHandler)).Methods(http.MethodGet)
	router.HandleFunc("/landing", h.requireActive(h.LandingHandler)).Methods(http.MethodGet)
	router.HandleFunc("/piece/{id:[0-9]+}", h.requireActive(h.PieceDetailHandler)).Methods(http.MethodGet)
	router.PathPrefix(storage.MediaPrefix).Handler(h.requireActive(h.MediaHandler)).Methods(http.MethodGet, http.MethodHead)

	// 日志包在最外层，未匹配路由的请求也会记录
	return requestLogger(router)
}

// pageData is what every template receives.
type pageData struct {
	User    *model.User
	Active  bool
	Flash   string
	Message string
	Next    string
	Form    map[string]string
	Errors  ValidationError

	Query   string
	Letter  string
	Letters []string
	Pieces  []catalog.PieceSummary
	Piece   *catalog.PieceDetail

	Status int
}

// newPage fills the identity fields from the request.
func newPage(r *http.Request) *pageData {
	id := identityFrom(r.Context())
	return &pageData{
		User:   id.User,
		Active: gate.Allows(id.State),
		Form:   map[string]string{},
	}
}

func (h *Handler) renderPage(w http.ResponseWriter, r *http.Request, status int, page string, data *pageData) {
	var buf bytes.Buffer
	if err := h.render.Render(&buf, page, data); err != nil {
		logger.Error("[Render] 页面渲染失败", logger.String("page", page), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	data := newPage(r)
	data.Status = status
	data.Message = message
	h.renderPage(w, r, status, "error", data)
}

// serverError logs err and renders the generic 500 page.
func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, tag string, err error) {
	logger.Error(tag+" 请求处理失败",
		logger.String("method", r.Method),
		logger.String("path", r.URL.Path),
		logger.ErrorField(err))
	h.renderError(w, r, http.StatusInternalServerError, "Something went wrong. Please try again later.")
}

// errorStatus maps domain errors onto HTTP status codes.
func errorStatus(err error) int {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusNotFound
	case mail.IsDeliveryError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cfg.SessionTTL / time.Second),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func sessionToken(r *http.Request) string {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}
