// internal/app/features/authgoogle/handler.go
package authgoogle

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	uierrors "github.com/dalemusser/churchos/internal/app/features/errors"
	"github.com/dalemusser/churchos/internal/app/store/oauthstate"
	userstore "github.com/dalemusser/churchos/internal/app/store/users"
	"github.com/dalemusser/churchos/internal/app/system/auditlog"
	"github.com/dalemusser/churchos/internal/app/system/identity"
	"github.com/dalemusser/churchos/internal/app/system/tenant"
	"github.com/dalemusser/churchos/internal/app/system/timeouts"
	"github.com/dalemusser/churchos/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/query"
	"github.com/dalemusser/waffle/pantry/urlutil"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	authMethod = "google"
	stateTTL   = 10 * time.Minute

	// DefaultUserInfoURL is Google's profile endpoint.
	DefaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// StateStore keeps one-time OAuth state tokens. *oauthstate.Store
// satisfies it.
type StateStore interface {
	Save(ctx context.Context, st oauthstate.State) error
	Consume(ctx context.Context, state string) (oauthstate.State, bool, error)
}

// UserStore creates or refreshes the user behind a sign-in.
// *userstore.Store satisfies it.
type UserStore interface {
	UpsertFromSignIn(ctx context.Context, p userstore.SignInProfile) (models.User, error)
}

var (
	_ StateStore = (*oauthstate.Store)(nil)
	_ UserStore  = (*userstore.Store)(nil)
)

// Handler handles Google OAuth authentication.
type Handler struct {
	Log      *zap.Logger
	ErrLog   *uierrors.ErrorLogger
	AuditLog *auditlog.Logger
	Gateway  *identity.Gateway
	States   StateStore
	Users    UserStore

	// OAuth configuration
	ClientID     string
	ClientSecret string
	RedirectURL  string // e.g., "https://church-os.com/auth/google/callback"
	// Endpoint and UserInfoURL default to Google's.
	Endpoint    oauth2.Endpoint
	UserInfoURL string

	scheme string // scheme of the base URL, used to send users back to tenant hosts
}

// NewHandler creates a new Google OAuth handler.
func NewHandler(
	gateway *identity.Gateway,
	errLog *uierrors.ErrorLogger,
	audit *auditlog.Logger,
	states StateStore,
	users UserStore,
	clientID, clientSecret, baseURL string,
	logger *zap.Logger,
) *Handler {
	scheme := "https"
	if u, err := url.Parse(baseURL); err == nil && u.Scheme != "" {
		scheme = u.Scheme
	}
	return &Handler{
		Log:          logger,
		ErrLog:       errLog,
		AuditLog:     audit,
		Gateway:      gateway,
		States:       states,
		Users:        users,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  baseURL + "/auth/google/callback",
		Endpoint:     google.Endpoint,
		UserInfoURL:  DefaultUserInfoURL,
		scheme:       scheme,
	}
}

// oauth2Config returns the Google OAuth2 configuration.
func (h *Handler) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     h.ClientID,
		ClientSecret: h.ClientSecret,
		RedirectURL:  h.RedirectURL,
		Scopes: []string{
			"openid",
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: h.Endpoint,
	}
}

// IsConfigured returns true if Google OAuth is configured.
func (h *Handler) IsConfigured() bool {
	return h.ClientID != "" && h.ClientSecret != ""
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET /auth/google                                                             |
| Initiates the Google OAuth flow by redirecting to Google's consent screen.   |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	if !h.IsConfigured() {
		h.Log.Warn("Google OAuth not configured")
		http.Redirect(w, r, "/?auth_error=google_not_configured", http.StatusSeeOther)
		return
	}

	// Generate cryptographically secure state
	state, err := generateState()
	if err != nil {
		h.Log.Error("failed to generate OAuth state", zap.Error(err))
		http.Redirect(w, r, "/?auth_error=internal", http.StatusSeeOther)
		return
	}

	returnURL := query.Get(r, "return")

	// Remember the tenant host only when it resolved; the callback sends the
	// browser back there.
	tenantHost := ""
	if res, err := tenant.FromRequest(r); err == nil && !res.IsPlatform() {
		tenantHost = r.Host
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	st := oauthstate.State{
		State:      state,
		ReturnURL:  returnURL,
		TenantHost: tenantHost,
		ExpiresAt:  time.Now().UTC().Add(stateTTL),
	}
	if err := h.States.Save(ctx, st); err != nil {
		h.Log.Error("failed to save OAuth state", zap.Error(err))
		http.Redirect(w, r, "/?auth_error=internal", http.StatusSeeOther)
		return
	}

	authURL := h.oauth2Config().AuthCodeURL(state, oauth2.AccessTypeOffline)

	h.Log.Debug("initiating Google OAuth flow",
		zap.String("return_url", returnURL),
		zap.String("tenant_host", tenantHost))

	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET /auth/google/callback                                                    |
| Exchanges the code, fetches the profile, upserts the user and signs in.      |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Check for errors from Google
	if errParam := query.Get(r, "error"); errParam != "" {
		h.Log.Warn("Google OAuth error",
			zap.String("error", errParam),
			zap.String("description", query.Get(r, "error_description")))
		h.fail(w, r, "google_denied", "provider denied: "+errParam)
		return
	}

	state := query.Get(r, "state")
	if state == "" {
		h.Log.Warn("missing OAuth state parameter")
		h.fail(w, r, "invalid_state", "missing state")
		return
	}

	stateCtx, cancel := context.WithTimeout(ctx, timeouts.Short())
	st, valid, err := h.States.Consume(stateCtx, state)
	cancel()
	if err != nil {
		h.ErrLog.Log(r, "failed to validate OAuth state", err)
		http.Redirect(w, r, "/?auth_error=internal", http.StatusSeeOther)
		return
	}
	if !valid {
		h.Log.Warn("invalid or expired OAuth state")
		h.fail(w, r, "invalid_state", "unknown or expired state")
		return
	}

	code := query.Get(r, "code")
	if code == "" {
		h.Log.Warn("missing OAuth code parameter")
		h.fail(w, r, "invalid_code", "missing code")
		return
	}

	exCtx, cancel := context.WithTimeout(ctx, timeouts.Medium())
	defer cancel()

	conf := h.oauth2Config()
	token, err := conf.Exchange(exCtx, code)
	if err != nil {
		h.Log.Error("failed to exchange OAuth code", zap.Error(err))
		h.fail(w, r, "token_exchange", "code exchange failed")
		return
	}

	ts := conf.TokenSource(exCtx, token)
	if cur, sid := h.Gateway.Current(r); cur != nil {
		// Re-consent on a live session: a refreshed token is an identity
		// refresh for that session.
		ts = h.Gateway.TokenSource(sid, *cur, token, ts)
	}

	info, err := h.fetchUserInfo(exCtx, ts)
	if err != nil {
		h.Log.Error("failed to fetch Google user info", zap.Error(err))
		h.fail(w, r, "user_info", "profile fetch failed")
		return
	}
	if !info.EmailVerified {
		h.Log.Info("Google OAuth: unverified email", zap.String("email", info.Email))
		h.fail(w, r, "email_unverified", "email not verified")
		return
	}

	h.Log.Debug("Google user info fetched",
		zap.String("google_id", info.ID),
		zap.String("email", info.Email),
		zap.String("tenant_host", st.TenantHost))

	u, err := h.Users.UpsertFromSignIn(exCtx, userstore.SignInProfile{
		Email:      info.Email,
		FullName:   info.Name,
		AuthMethod: authMethod,
		Subject:    info.ID,
	})
	if err != nil {
		h.ErrLog.Log(r, "failed to upsert user", err, zap.String("email", info.Email))
		h.fail(w, r, "internal", "user upsert failed")
		return
	}
	if u.Status == "disabled" {
		h.Log.Info("Google OAuth: user disabled", zap.String("user_id", u.ID.Hex()))
		h.fail(w, r, "account_disabled", "account disabled")
		return
	}

	sid, err := h.Gateway.SignIn(w, r, identity.Identity{
		UserID:     u.ID,
		Email:      u.Email,
		Name:       u.FullName,
		AuthMethod: authMethod,
	})
	if err != nil {
		h.ErrLog.Log(r, "save session failed", err, zap.String("user_id", u.ID.Hex()))
		h.fail(w, r, "session", "session save failed")
		return
	}

	h.AuditLog.LoginSuccess(ctx, r, u.ID, authMethod, u.Email)
	h.Log.Info("user signed in via Google OAuth",
		zap.String("user_id", u.ID.Hex()),
		zap.String("session_id", sid),
		zap.String("tenant_host", st.TenantHost))

	safePath := urlutil.SafeReturn(st.ReturnURL, "", "/")
	if st.TenantHost != "" && st.TenantHost != r.Host {
		http.Redirect(w, r, fmt.Sprintf("%s://%s%s", h.scheme, st.TenantHost, safePath), http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, safePath, http.StatusSeeOther)
}

// fail records a failed sign-in and sends the browser home with a code.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, code, reason string) {
	h.AuditLog.LoginFailed(r.Context(), r, authMethod, reason)
	http.Redirect(w, r, "/?auth_error="+code, http.StatusSeeOther)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Helpers                                                                      |
*─────────────────────────────────────────────────────────────────────────────*/

// googleUserInfo represents user info returned from Google.
type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"verified_email"`
	Name          string `json:"name"`
}

// fetchUserInfo retrieves the profile from the userinfo endpoint.
func (h *Handler) fetchUserInfo(ctx context.Context, ts oauth2.TokenSource) (*googleUserInfo, error) {
	client := oauth2.NewClient(ctx, ts)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.UserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	return &info, nil
}

// generateState creates a cryptographically secure random state string.
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
