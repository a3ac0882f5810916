package web

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"

	"github.com/warden-bot/warden/store"
)

// snowflakeRe matches Discord user IDs.
var snowflakeRe = regexp.MustCompile(`^\d{17,19}$`)

const (
	maxAppealMessage = 2000
	maxEvidence      = 1000
)

// ipRateLimiter throttles appeal submissions per client IP. Limiters for idle
// IPs are dropped on a periodic sweep.
type ipRateLimiter struct {
	limiters *xsync.MapOf[string, *rate.Limiter]
}

func newIPRateLimiter() *ipRateLimiter {
	return &ipRateLimiter{limiters: xsync.NewMapOf[string, *rate.Limiter]()}
}

// allow reports whether ip may submit now: 3 submissions, refilling one every
// 5 minutes.
func (l *ipRateLimiter) allow(ip string) bool {
	lim, _ := l.limiters.LoadOrCompute(ip, func() *rate.Limiter {
		return rate.NewLimiter(rate.Every(5*time.Minute), 3)
	})
	return lim.Allow()
}

func (s *Server) handleAppealForm(c echo.Context) error {
	guildName, err := s.guild.GuildName(c.Request().Context(), s.cfg.GuildID)
	if err != nil {
		guildName = "this server"
	}
	return s.renderPage(c, http.StatusOK, "appeal_form.html", map[string]any{
		"GuildName": guildName,
	})
}

// handleAppealSubmit files a new unban request. One pending request per user;
// submissions are throttled per IP.
func (s *Server) handleAppealSubmit(c echo.Context) error {
	if !s.limiter.allow(c.RealIP()) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, try again later")
	}

	userID := strings.TrimSpace(c.FormValue("user_id"))
	message := strings.TrimSpace(c.FormValue("message"))
	evidence := strings.TrimSpace(c.FormValue("evidence"))
	email := strings.TrimSpace(c.FormValue("email"))

	if !snowflakeRe.MatchString(userID) {
		return echo.NewHTTPError(http.StatusBadRequest, "user ID must be a 17-19 digit number")
	}
	if message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "an appeal message is required")
	}
	if len(message) > maxAppealMessage {
		message = message[:maxAppealMessage]
	}
	if len(evidence) > maxEvidence {
		evidence = evidence[:maxEvidence]
	}

	ctx := c.Request().Context()

	// surface the original ban reason on the request if we have it
	var banReason string
	if infs, err := s.infr.ActiveInfractions(ctx, userID, s.cfg.GuildID); err == nil {
		for _, inf := range infs {
			if inf.Type == store.ActionBan {
				banReason = inf.Reason
				break
			}
		}
	}

	req := &store.UnbanRequest{
		UserID:        userID,
		GuildID:       s.cfg.GuildID,
		BanReason:     banReason,
		AppealMessage: message,
		Evidence:      evidence,
		RequestIP:     c.RealIP(),
		ContactEmail:  email,
	}
	if err := s.appeals.CreateAppeal(ctx, req); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return echo.NewHTTPError(http.StatusConflict, "you already have a pending appeal")
		}
		return err
	}

	s.logger.Info("unban request filed", "user", userID, "code", req.RequestCode)
	return s.renderPage(c, http.StatusOK, "appeal_submitted.html", map[string]any{
		"Code": req.RequestCode,
	})
}

func (s *Server) handleAppealStatus(c echo.Context) error {
	code := c.Param("code")
	req, err := s.appeals.AppealByCode(c.Request().Context(), code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no appeal found for that code")
		}
		return err
	}
	return s.renderPage(c, http.StatusOK, "appeal_status.html", map[string]any{
		"Code":      req.RequestCode,
		"Status":    string(req.Status),
		"Response":  req.ModeratorResponse,
		"CreatedAt": req.CreatedAt.Format("2006-01-02 15:04 UTC"),
	})
}
