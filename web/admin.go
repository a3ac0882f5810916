package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/warden-bot/warden/banmgr"
	"github.com/warden-bot/warden/store"
)

func (s *Server) handleListAppeals(c echo.Context) error {
	status := store.AppealStatus(strings.ToUpper(c.QueryParam("status")))
	appeals, err := s.appeals.ListAppeals(c.Request().Context(), status)
	if err != nil {
		return err
	}
	if appeals == nil {
		appeals = []store.UnbanRequest{}
	}
	return c.JSON(http.StatusOK, map[string]any{"appeals": appeals})
}

type resolveAppealBody struct {
	Action      string `json:"action"` // "approve" or "deny"
	Response    string `json:"response"`
	ModeratorID string `json:"moderatorId"`
}

// handleResolveAppeal settles a pending appeal. Approval lifts the ban,
// closes out the user's ban infractions, and drops any scheduled unban; the
// appeal is only marked approved once the unban succeeded.
func (s *Server) handleResolveAppeal(c echo.Context) error {
	code := c.Param("code")
	var body resolveAppealBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var status store.AppealStatus
	switch body.Action {
	case "approve":
		status = store.AppealApproved
	case "deny":
		status = store.AppealDenied
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "action must be approve or deny")
	}

	ctx := c.Request().Context()
	req, err := s.appeals.AppealByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no appeal found for that code")
		}
		return err
	}
	if req.Status != store.AppealPending {
		return echo.NewHTTPError(http.StatusConflict, "appeal is already resolved")
	}

	if status == store.AppealApproved {
		err := s.guild.UnbanMember(ctx, req.GuildID, req.UserID)
		if err != nil && !errors.Is(err, banmgr.ErrUnknownBan) {
			s.logger.Error("failed to unban appealing user", "user", req.UserID, "err", err)
			return echo.NewHTTPError(http.StatusBadGateway, "could not lift the ban")
		}
		if _, err := s.infr.DeactivateUserBans(ctx, req.UserID, req.GuildID); err != nil {
			s.logger.Error("failed to deactivate bans after appeal", "user", req.UserID, "err", err)
		}
		if s.sched != nil {
			s.sched.Cancel(req.UserID, req.GuildID)
		}
	}

	resolved, err := s.appeals.ResolveAppeal(ctx, code, status, body.Response, body.ModeratorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusConflict, "appeal is already resolved")
		}
		return err
	}

	s.logger.Info("appeal resolved", "code", code, "status", status, "moderator", body.ModeratorID)
	return c.JSON(http.StatusOK, resolved)
}

const (
	defaultStatsDays = 7
	maxStatsDays     = 90
)

// handleGuildStats returns the rule-trigger aggregates for the last N days,
// busiest rules first.
func (s *Server) handleGuildStats(c echo.Context) error {
	days := defaultStatsDays
	if raw := c.QueryParam("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "days must be a positive integer")
		}
		days = n
	}
	if days > maxStatsDays {
		days = maxStatsDays
	}

	now := time.Now()
	start, _ := store.DayBucket(now.AddDate(0, 0, -(days - 1)))
	_, end := store.DayBucket(now)

	guildID := c.Param("guild")
	stats, err := s.stats.StatsForPeriod(c.Request().Context(), guildID, start, end)
	if err != nil {
		return err
	}
	if stats == nil {
		stats = []store.AutoModStats{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"guildId":     guildID,
		"periodStart": start,
		"periodEnd":   end,
		"days":        days,
		"rules":       stats,
	})
}

func (s *Server) handleListRules(c echo.Context) error {
	rules, err := s.rules.ActiveRules(c.Request().Context(), c.Param("guild"))
	if err != nil {
		return err
	}
	if rules == nil {
		rules = []store.Rule{}
	}
	return c.JSON(http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) handleCreateRule(c echo.Context) error {
	var rule store.Rule
	if err := c.Bind(&rule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid rule body")
	}
	rule.GuildID = c.Param("guild")
	if err := rule.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.rules.CreateRule(c.Request().Context(), &rule); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return echo.NewHTTPError(http.StatusConflict, "a rule with that name already exists")
		}
		return err
	}
	s.cache.Invalidate(rule.GuildID)
	return c.JSON(http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(c echo.Context) error {
	var rule store.Rule
	if err := c.Bind(&rule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid rule body")
	}
	rule.GuildID = c.Param("guild")
	rule.Name = c.Param("name")
	if err := rule.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.rules.UpdateRule(c.Request().Context(), &rule); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no such rule")
		}
		return err
	}
	s.cache.Invalidate(rule.GuildID)
	return c.JSON(http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(c echo.Context) error {
	guildID := c.Param("guild")
	if err := s.rules.DeleteRule(c.Request().Context(), guildID, c.Param("name")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no such rule")
		}
		return err
	}
	s.cache.Invalidate(guildID)
	return c.NoContent(http.StatusNoContent)
}
