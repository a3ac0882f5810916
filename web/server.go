// Package web serves warden's public companion: OAuth member verification,
// ban-appeal intake and status pages, and a small JSON API for moderators.
package web

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"

	"github.com/warden-bot/warden/store"
)

// GuildClient is the slice of the chat platform the web surface needs:
// unbanning on appeal approval, granting the verified role, and naming the
// guild on user-facing pages.
type GuildClient interface {
	UnbanMember(ctx context.Context, guildID, userID string) error
	GrantRole(ctx context.Context, guildID, userID, roleID string) error
	GuildName(ctx context.Context, guildID string) (string, error)
}

// UnbanCanceller drops a scheduled unban once an appeal approval has already
// lifted the ban.
type UnbanCanceller interface {
	Cancel(userID, guildID string) bool
}

// RuleInvalidator flushes the message pipeline's cached rules after an
// administrative change.
type RuleInvalidator interface {
	Invalidate(guildID string)
}

type Config struct {
	// PublicURL is the externally reachable base URL, used to build the
	// OAuth redirect URI.
	PublicURL     string
	ClientID      string
	ClientSecret  string
	GuildID       string
	VerifyRoleID  string
	SessionSecret string
	// AdminToken authorizes the moderator JSON API.
	AdminToken string
}

type Server struct {
	echo     *echo.Echo
	logger   *slog.Logger
	cfg      Config
	appeals  store.AppealStore
	infr     store.InfractionStore
	rules    store.RuleStore
	stats    store.StatsStore
	guild    GuildClient
	sched    UnbanCanceller
	cache    RuleInvalidator
	sessions *sessions.CookieStore
	httpc    *http.Client
	limiter  *ipRateLimiter
	tmpl     *template.Template

	// test overrides for the upstream OAuth endpoints
	oauthTokenURL string
	oauthMeURL    string
}

func NewServer(logger *slog.Logger, cfg Config, appeals store.AppealStore, infr store.InfractionStore, rules store.RuleStore, stats store.StatsStore, guild GuildClient, sched UnbanCanceller, cache RuleInvalidator) (*Server, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}

	srv := &Server{
		logger:   logger,
		cfg:      cfg,
		appeals:  appeals,
		infr:     infr,
		rules:    rules,
		stats:    stats,
		guild:    guild,
		sched:    sched,
		cache:    cache,
		sessions: sessions.NewCookieStore([]byte(cfg.SessionSecret)),
		httpc:    cleanhttp.DefaultPooledClient(),
		limiter:  newIPRateLimiter(),
		tmpl:     tmpl,
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = srv.errorHandler

	e.GET("/health", srv.handleHealth)

	e.GET("/verify", srv.handleVerify)
	e.GET("/oauth/callback", srv.handleOAuthCallback)

	e.GET("/unban/request", srv.handleAppealForm)
	e.POST("/unban/submit", srv.handleAppealSubmit)
	e.GET("/unban/status/:code", srv.handleAppealStatus)

	api := e.Group("/api", srv.requireAdmin)
	api.GET("/appeals", srv.handleListAppeals)
	api.POST("/appeals/:code/resolve", srv.handleResolveAppeal)
	api.GET("/stats/:guild", srv.handleGuildStats)
	api.GET("/rules/:guild", srv.handleListRules)
	api.POST("/rules/:guild", srv.handleCreateRule)
	api.PUT("/rules/:guild/:name", srv.handleUpdateRule)
	api.DELETE("/rules/:guild/:name", srv.handleDeleteRule)

	srv.echo = e
	return srv, nil
}

// Handler exposes the underlying mux for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) Start(bind string) error {
	s.logger.Info("web server listening", "bind", bind)
	err := s.echo.Start(bind)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// requireAdmin gates the moderator API on a static bearer token.
func (s *Server) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cfg.AdminToken == "" {
			return echo.NewHTTPError(http.StatusForbidden, "admin API disabled")
		}
		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token != s.cfg.AdminToken {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid admin token")
		}
		return next(c)
	}
}

// errorHandler renders API errors as JSON and page errors through the error
// template.
func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := "internal server error"
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		code = httpErr.Code
		msg = fmt.Sprintf("%v", httpErr.Message)
	} else {
		s.logger.Error("request failed", "path", c.Request().URL.Path, "err", err)
	}
	if c.Response().Committed {
		return
	}
	if strings.HasPrefix(c.Request().URL.Path, "/api/") || c.Request().URL.Path == "/health" {
		c.JSON(code, map[string]string{"error": msg})
		return
	}
	s.renderPage(c, code, "error.html", map[string]any{"Message": msg})
}

func (s *Server) renderPage(c echo.Context, code int, name string, data any) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(code)
	if err := s.tmpl.ExecuteTemplate(c.Response(), name, data); err != nil {
		s.logger.Error("template render failed", "template", name, "err", err)
		return err
	}
	return nil
}
