package identity_test

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/churchos/internal/app/system/identity"
	"github.com/gorilla/sessions"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const testKey = "0123456789abcdef0123456789abcdef"

func newGateway(t *testing.T) *identity.Gateway {
	t.Helper()
	store, err := identity.NewCookieStore(testKey, "", false, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCookieStore: %v", err)
	}
	return identity.NewGateway(store, "", zap.NewNop())
}

type recorder struct {
	mu     sync.Mutex
	events []identity.Event
}

func (r *recorder) record(ev identity.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []identity.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]identity.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

// signIn performs a sign-in and returns the cookies a browser would send back.
func signIn(t *testing.T, g *identity.Gateway, id identity.Identity) ([]*http.Cookie, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback", nil)
	sid, err := g.SignIn(rec, req, id)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	return rec.Result().Cookies(), sid
}

func withCookies(req *http.Request, cookies []*http.Cookie) *http.Request {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func TestNewCookieStore_RejectsEmptyKey(t *testing.T) {
	if _, err := identity.NewCookieStore("", "", false, zap.NewNop()); err == nil {
		t.Fatal("expected error for empty session key")
	}
}

func TestNewCookieStore_SameSiteLax(t *testing.T) {
	for _, secure := range []bool{false, true} {
		store, err := identity.NewCookieStore(testKey, "", secure, zap.NewNop())
		if err != nil {
			t.Fatalf("NewCookieStore: %v", err)
		}
		if store.Options.SameSite != http.SameSiteLaxMode {
			t.Errorf("secure=%v: SameSite = %v, want Lax", secure, store.Options.SameSite)
		}
		if store.Options.Secure != secure {
			t.Errorf("secure=%v: Secure = %v", secure, store.Options.Secure)
		}
	}
}

func TestCurrent_Anonymous(t *testing.T) {
	g := newGateway(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if id, sid := g.Current(req); id != nil || sid != "" {
		t.Errorf("Current = %v, %q; want nil", id, sid)
	}
}

func TestSignIn_RoundTrip(t *testing.T) {
	g := newGateway(t)
	rec := &recorder{}
	g.Subscribe(rec.record)

	want := identity.Identity{
		UserID:     primitive.NewObjectID(),
		Email:      "pastor@example.org",
		Name:       "Pastor Jane",
		AuthMethod: "google",
	}
	cookies, sid := signIn(t, g, want)
	if sid == "" {
		t.Fatal("expected a session id")
	}

	req := withCookies(httptest.NewRequest(http.MethodGet, "/", nil), cookies)
	got, gotSID := g.Current(req)
	if got == nil {
		t.Fatal("Current returned nil after sign-in")
	}
	if *got != want {
		t.Errorf("Current = %+v, want %+v", *got, want)
	}
	if gotSID != sid {
		t.Errorf("session id = %q, want %q", gotSID, sid)
	}

	kinds := rec.kinds()
	if len(kinds) != 1 || kinds[0] != identity.SignedIn {
		t.Errorf("events = %v, want [signed_in]", kinds)
	}
}

func TestSignIn_SameUserIsRefresh(t *testing.T) {
	g := newGateway(t)
	rec := &recorder{}
	g.Subscribe(rec.record)

	id := identity.Identity{UserID: primitive.NewObjectID(), Email: "a@example.org"}
	cookies, sid := signIn(t, g, id)

	w := httptest.NewRecorder()
	again, err := g.SignIn(w, withCookies(httptest.NewRequest(http.MethodGet, "/", nil), cookies), id)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if again != sid {
		t.Errorf("session id changed from %q to %q", sid, again)
	}
	kinds := rec.kinds()
	if len(kinds) != 2 || kinds[1] != identity.Refreshed {
		t.Errorf("events = %v, want [signed_in refreshed]", kinds)
	}
}

func TestSignIn_OtherUserRotatesSession(t *testing.T) {
	g := newGateway(t)
	rec := &recorder{}
	g.Subscribe(rec.record)

	cookies, sid := signIn(t, g, identity.Identity{UserID: primitive.NewObjectID()})

	w := httptest.NewRecorder()
	other, err := g.SignIn(w, withCookies(httptest.NewRequest(http.MethodGet, "/", nil), cookies),
		identity.Identity{UserID: primitive.NewObjectID()})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if other == sid {
		t.Fatal("session id reused for a different user")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 3 {
		t.Fatalf("got %d events, want 3", len(rec.events))
	}
	if ev := rec.events[1]; ev.Kind != identity.SignedOut || ev.SessionID != sid {
		t.Errorf("events[1] = %+v, want signed_out of the old session", ev)
	}
	if ev := rec.events[2]; ev.Kind != identity.SignedIn || ev.SessionID != other {
		t.Errorf("events[2] = %+v, want signed_in of the new session", ev)
	}
}

func TestSignOut_ClearsAndNotifies(t *testing.T) {
	g := newGateway(t)
	rec := &recorder{}
	g.Subscribe(rec.record)

	cookies, sid := signIn(t, g, identity.Identity{UserID: primitive.NewObjectID(), Email: "a@example.org"})

	w := httptest.NewRecorder()
	req := withCookies(httptest.NewRequest(http.MethodPost, "/logout", nil), cookies)
	if err := g.SignOut(w, req); err != nil {
		t.Fatalf("SignOut: %v", err)
	}

	var cleared bool
	for _, c := range w.Result().Cookies() {
		if c.Name == identity.DefaultSessionName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("expected session cookie to be expired")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 2 {
		t.Fatalf("got %d events, want 2", len(rec.events))
	}
	last := rec.events[1]
	if last.Kind != identity.SignedOut || last.SessionID != sid || last.Identity != nil {
		t.Errorf("last event = %+v, want signed_out for %q", last, sid)
	}
}

func TestSignOut_AnonymousIsSilent(t *testing.T) {
	g := newGateway(t)
	rec := &recorder{}
	g.Subscribe(rec.record)

	w := httptest.NewRecorder()
	if err := g.SignOut(w, httptest.NewRequest(http.MethodPost, "/logout", nil)); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if n := len(rec.kinds()); n != 0 {
		t.Errorf("got %d events for anonymous sign-out, want 0", n)
	}
}

func TestCurrent_TamperedCookieIsAnonymous(t *testing.T) {
	g := newGateway(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: identity.DefaultSessionName, Value: "not-a-valid-cookie"})
	if id, _ := g.Current(req); id != nil {
		t.Errorf("Current = %+v, want nil for tampered cookie", id)
	}
}

func TestCurrent_OtherKeyIsAnonymous(t *testing.T) {
	g := newGateway(t)
	cookies, _ := signIn(t, g, identity.Identity{UserID: primitive.NewObjectID()})

	other := identity.NewGateway(sessions.NewCookieStore([]byte("ffffffffffffffffffffffffffffffff")), "", zap.NewNop())
	req := withCookies(httptest.NewRequest(http.MethodGet, "/", nil), cookies)
	if id, _ := other.Current(req); id != nil {
		t.Error("cookie signed with another key must not authenticate")
	}
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	g := newGateway(t)
	rec := &recorder{}
	unsub := g.Subscribe(rec.record)
	unsub()
	unsub()

	signIn(t, g, identity.Identity{UserID: primitive.NewObjectID()})
	if n := len(rec.kinds()); n != 0 {
		t.Errorf("got %d events after unsubscribe, want 0", n)
	}
}

func TestLoadIdentity(t *testing.T) {
	g := newGateway(t)
	want := identity.Identity{UserID: primitive.NewObjectID(), Email: "m@example.org"}
	cookies, sid := signIn(t, g, want)

	var got *identity.Identity
	var gotSID string
	h := g.LoadIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = identity.FromContext(r.Context())
		gotSID = identity.SessionID(r.Context())
	}))

	h.ServeHTTP(httptest.NewRecorder(), withCookies(httptest.NewRequest(http.MethodGet, "/", nil), cookies))
	if got == nil || got.UserID != want.UserID {
		t.Fatalf("FromContext = %+v, want %+v", got, want)
	}
	if gotSID != sid {
		t.Errorf("SessionID = %q, want %q", gotSID, sid)
	}

	got = nil
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if got != nil {
		t.Errorf("anonymous request carried identity %+v", got)
	}
}

type seqSource struct {
	mu   sync.Mutex
	toks []string
	n    int
}

func (s *seqSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok := s.toks[s.n]
	if s.n < len(s.toks)-1 {
		s.n++
	}
	// Already expired so ReuseTokenSource asks again next time.
	return &oauth2.Token{AccessToken: tok, Expiry: time.Now().Add(-time.Minute)}, nil
}

func TestTokenSource_PublishesRefresh(t *testing.T) {
	g := newGateway(t)
	rec := &recorder{}
	g.Subscribe(rec.record)

	initial := &oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(-time.Minute)}
	base := &seqSource{toks: []string{"a", "b", "b"}}
	ts := g.TokenSource("sid-1", identity.Identity{Email: "x@example.org"}, initial, base)

	for i := 0; i < 3; i++ {
		if _, err := ts.Token(); err != nil {
			t.Fatalf("Token: %v", err)
		}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 1 {
		t.Fatalf("got %d refresh events, want 1", len(rec.events))
	}
	ev := rec.events[0]
	if ev.Kind != identity.Refreshed || ev.SessionID != "sid-1" || ev.Identity == nil {
		t.Errorf("event = %+v", ev)
	}
}
