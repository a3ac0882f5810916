package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
)

const (
	discordAuthorizeURL = "https://discord.com/oauth2/authorize"
	discordTokenURL     = "https://discord.com/api/oauth2/token"
	discordMeURL        = "https://discord.com/api/users/@me"

	// stateTTL bounds how long an OAuth round-trip may take before the
	// signed state expires.
	stateTTL = 10 * time.Minute

	sessionName = "warden-session"
)

func (s *Server) redirectURI() string {
	return strings.TrimRight(s.cfg.PublicURL, "/") + "/oauth/callback"
}

// handleVerify starts the verification flow: issue a short-lived signed state
// and send the member to the platform's consent screen.
func (s *Server) handleVerify(c echo.Context) error {
	claims := jwt.RegisteredClaims{
		Issuer:    "warden",
		Subject:   "oauth-state",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(stateTTL)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.SessionSecret))
	if err != nil {
		return fmt.Errorf("signing oauth state: %w", err)
	}

	q := url.Values{}
	q.Set("client_id", s.cfg.ClientID)
	q.Set("redirect_uri", s.redirectURI())
	q.Set("response_type", "code")
	q.Set("scope", "identify")
	q.Set("state", state)
	return c.Redirect(http.StatusFound, discordAuthorizeURL+"?"+q.Encode())
}

// handleOAuthCallback finishes verification: check the state, trade the code
// for a token, resolve the member's identity, and grant the verified role.
func (s *Server) handleOAuthCallback(c echo.Context) error {
	if errCode := c.QueryParam("error"); errCode != "" {
		return echo.NewHTTPError(http.StatusBadRequest, "authorization was denied")
	}
	code := c.QueryParam("code")
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing authorization code")
	}
	if err := s.checkState(c.QueryParam("state")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid or expired state")
	}

	ctx := c.Request().Context()
	token, err := s.exchangeCode(c, code)
	if err != nil {
		s.logger.Error("oauth code exchange failed", "err", err)
		return echo.NewHTTPError(http.StatusBadGateway, "could not complete verification")
	}

	user, err := s.fetchIdentity(c, token)
	if err != nil {
		s.logger.Error("oauth identity fetch failed", "err", err)
		return echo.NewHTTPError(http.StatusBadGateway, "could not complete verification")
	}

	if err := s.guild.GrantRole(ctx, s.cfg.GuildID, user.ID, s.cfg.VerifyRoleID); err != nil {
		s.logger.Error("failed to grant verified role", "user", user.ID, "err", err)
		return echo.NewHTTPError(http.StatusBadGateway, "could not assign the verified role")
	}

	sess, _ := s.sessions.Get(c.Request(), sessionName)
	sess.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int((7 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	sess.Values["user_id"] = user.ID
	sess.Values["username"] = user.Username
	if err := sess.Save(c.Request(), c.Response()); err != nil {
		s.logger.Warn("failed to persist session", "err", err)
	}

	s.logger.Info("member verified", "user", user.ID, "username", user.Username)
	return s.renderPage(c, http.StatusOK, "verified.html", map[string]any{
		"Username": user.Username,
	})
}

func (s *Server) checkState(state string) error {
	if state == "" {
		return fmt.Errorf("empty state")
	}
	_, err := jwt.Parse(state, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.SessionSecret), nil
	}, jwt.WithExpirationRequired())
	return err
}

type oauthIdentity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func (s *Server) exchangeCode(c echo.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("client_id", s.cfg.ClientID)
	form.Set("client_secret", s.cfg.ClientSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", s.redirectURI())

	req, err := http.NewRequestWithContext(c.Request().Context(), http.MethodPost, s.tokenURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}
	return body.AccessToken, nil
}

func (s *Server) fetchIdentity(c echo.Context, token string) (*oauthIdentity, error) {
	req, err := http.NewRequestWithContext(c.Request().Context(), http.MethodGet, s.meURL(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity endpoint returned %d", resp.StatusCode)
	}

	var user oauthIdentity
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decoding identity response: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("identity response missing id")
	}
	return &user, nil
}

// tokenURL and meURL are swappable for tests.
func (s *Server) tokenURL() string {
	if s.oauthTokenURL != "" {
		return s.oauthTokenURL
	}
	return discordTokenURL
}

func (s *Server) meURL() string {
	if s.oauthMeURL != "" {
		return s.oauthMeURL
	}
	return discordMeURL
}
