// Package identity is the boundary to the identity provider and the session
// cookie. It answers "who is signed in" and tells subscribers when that
// changes.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

/*─────────────────────────────────────────────────────────────────────────────*
| Session keys                                                                 |
*─────────────────────────────────────────────────────────────────────────────*/

// SessionMaxAge is how long a session cookie lives.
const SessionMaxAge = 14 * 24 * time.Hour

const (
	DefaultSessionName = "churchos-session"

	isAuthKey     = "is_authenticated"
	sessionIDKey  = "sid"
	userIDKey     = "user_id"
	userNameKey   = "user_name"
	userEmailKey  = "user_email"
	authMethodKey = "auth_method"
)

// Identity is the authenticated principal.
type Identity struct {
	UserID     primitive.ObjectID `json:"user_id"`
	Email      string             `json:"email"`
	Name       string             `json:"name"`
	AuthMethod string             `json:"auth_method"`
}

// EventKind says how the signed-in identity changed.
type EventKind int

const (
	SignedIn EventKind = iota + 1
	Refreshed
	SignedOut
)

func (k EventKind) String() string {
	switch k {
	case SignedIn:
		return "signed_in"
	case Refreshed:
		return "refreshed"
	case SignedOut:
		return "signed_out"
	default:
		return "unknown"
	}
}

// Event is one identity change for one session. Identity is nil for
// SignedOut.
type Event struct {
	Kind      EventKind
	SessionID string
	Identity  *Identity
}

// Gateway reads and writes the signed-in identity in a cookie session.
type Gateway struct {
	store sessions.Store
	name  string
	log   *zap.Logger

	mu     sync.RWMutex
	subs   map[int]func(Event)
	nextID int
}

// NewGateway returns a Gateway storing sessions under name in store.
func NewGateway(store sessions.Store, name string, logger *zap.Logger) *Gateway {
	if name == "" {
		name = DefaultSessionName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{store: store, name: name, log: logger, subs: make(map[int]func(Event))}
}

// NewCookieStore builds the session cookie store.
//
// Cookies are SameSite=Lax, which still rides the top-level redirect back
// from the OAuth provider. In production (secure=true) they are also Secure;
// in local dev over http://localhost, use secure=false so cookies are
// accepted.
func NewCookieStore(sessionKey, domain string, secure bool, logger *zap.Logger) (*sessions.CookieStore, error) {
	if sessionKey == "" {
		return nil, fmt.Errorf("session key is empty; provide ≥32 random chars")
	}
	if len(sessionKey) < 32 {
		logger.Warn("session key is short; 32+ chars recommended",
			zap.Int("length", len(sessionKey)))
	}

	store := sessions.NewCookieStore([]byte(sessionKey))
	store.Options = &sessions.Options{
		Domain:   domain,
		Path:     "/",
		MaxAge:   int(SessionMaxAge / time.Second),
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	logger.Info("session store initialized",
		zap.Bool("secure", secure),
		zap.String("domain", domain))
	return store, nil
}

// session loads the session, replacing an undecodable cookie with a fresh
// one.
func (g *Gateway) session(r *http.Request) *sessions.Session {
	sess, err := g.store.Get(r, g.name)
	if err != nil {
		var scErr securecookie.Error
		if errors.As(err, &scErr) && scErr.IsDecode() {
			g.log.Debug("session cookie invalid, using fresh session", zap.Error(err))
		} else {
			g.log.Warn("session store error, using fresh session", zap.Error(err))
		}
		if sess == nil {
			sess = sessions.NewSession(g.store, g.name)
		}
	}
	return sess
}

// Current returns the signed-in identity and its session id, or nil.
func (g *Gateway) Current(r *http.Request) (*Identity, string) {
	sess := g.session(r)
	if isAuth, _ := sess.Values[isAuthKey].(bool); !isAuth {
		return nil, ""
	}
	uid, err := primitive.ObjectIDFromHex(getString(sess, userIDKey))
	if err != nil {
		return nil, ""
	}
	return &Identity{
		UserID:     uid,
		Email:      getString(sess, userEmailKey),
		Name:       getString(sess, userNameKey),
		AuthMethod: getString(sess, authMethodKey),
	}, getString(sess, sessionIDKey)
}

// SignIn stores id in the session and notifies subscribers. It returns the
// session id. Signing in again as the same user keeps the session id and is
// reported as Refreshed; signing in as someone else starts a new session.
func (g *Gateway) SignIn(w http.ResponseWriter, r *http.Request, id Identity) (string, error) {
	sess := g.session(r)
	prevSID := getString(sess, sessionIDKey)
	prevUser := getString(sess, userIDKey)
	wasAuth, _ := sess.Values[isAuthKey].(bool)

	kind := SignedIn
	sid := prevSID
	switch {
	case sid == "":
		sid = uuid.NewString()
	case wasAuth && prevUser == id.UserID.Hex():
		kind = Refreshed
	default:
		sid = uuid.NewString()
	}

	sess.Values[isAuthKey] = true
	sess.Values[sessionIDKey] = sid
	sess.Values[userIDKey] = id.UserID.Hex()
	sess.Values[userNameKey] = id.Name
	sess.Values[userEmailKey] = id.Email
	sess.Values[authMethodKey] = id.AuthMethod
	if err := sess.Save(r, w); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}

	if prevSID != "" && prevSID != sid && wasAuth {
		g.publish(Event{Kind: SignedOut, SessionID: prevSID})
	}
	g.publish(Event{Kind: kind, SessionID: sid, Identity: &id})
	return sid, nil
}

// SignOut clears the session and notifies subscribers.
func (g *Gateway) SignOut(w http.ResponseWriter, r *http.Request) error {
	sess := g.session(r)
	sid := getString(sess, sessionIDKey)
	for k := range sess.Values {
		delete(sess.Values, k)
	}
	sess.Options = cloneOptions(sess.Options)
	sess.Options.MaxAge = -1
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if sid != "" {
		g.publish(Event{Kind: SignedOut, SessionID: sid})
	}
	return nil
}

// Subscribe registers fn for identity changes and returns a function that
// removes it. fn runs on the goroutine that caused the change and must not
// block.
func (g *Gateway) Subscribe(fn func(Event)) (unsubscribe func()) {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.subs[id] = fn
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.subs, id)
			g.mu.Unlock()
		})
	}
}

func (g *Gateway) publish(ev Event) {
	g.mu.RLock()
	ids := make([]int, 0, len(g.subs))
	for id := range g.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, g.subs[id])
	}
	g.mu.RUnlock()

	g.log.Debug("identity changed",
		zap.String("kind", ev.Kind.String()),
		zap.String("session_id", ev.SessionID))
	for _, fn := range fns {
		fn(ev)
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| Request context                                                              |
*─────────────────────────────────────────────────────────────────────────────*/

type ctxKey string

const (
	identityKey  ctxKey = "identity"
	sessionIDCtx ctxKey = "identity_session_id"
)

// LoadIdentity injects the signed-in identity, if any, into the request
// context.
func (g *Gateway) LoadIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, sid := g.Current(r); id != nil {
			r = r.WithContext(WithIdentity(r.Context(), id, sid))
		}
		next.ServeHTTP(w, r)
	})
}

// WithIdentity returns ctx carrying id and its session id.
func WithIdentity(ctx context.Context, id *Identity, sessionID string) context.Context {
	ctx = context.WithValue(ctx, identityKey, id)
	return context.WithValue(ctx, sessionIDCtx, sessionID)
}

// FromContext returns the identity LoadIdentity stored, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// SessionID returns the session id LoadIdentity stored, or "".
func SessionID(ctx context.Context) string {
	sid, _ := ctx.Value(sessionIDCtx).(string)
	return sid
}

// helpers

func getString(s *sessions.Session, key string) string {
	if v, ok := s.Values[key].(string); ok {
		return v
	}
	return ""
}

func cloneOptions(o *sessions.Options) *sessions.Options {
	if o == nil {
		return &sessions.Options{Path: "/"}
	}
	c := *o
	return &c
}
