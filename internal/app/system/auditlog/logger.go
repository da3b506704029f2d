// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"
	"net/http"
	"strconv"

	"github.com/dalemusser/churchos/internal/app/store/audit"
	"github.com/dalemusser/churchos/internal/app/system/ratelimit"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Destination settings for a category.
const (
	ModeAll = "all" // MongoDB + zap
	ModeDB  = "db"  // MongoDB only
	ModeLog = "log" // zap only
	ModeOff = "off" // disabled
)

// Config holds audit logging configuration.
type Config struct {
	// Auth controls logging for sign-in and sign-out events.
	Auth string
	// Access controls logging for role resolution side effects
	// (auto-provisioned memberships).
	Access string
	// Content controls logging for page identity events (slug conflicts
	// resolved, homepage moved).
	Content string
}

// Logger provides convenience methods for logging audit events.
// It logs to both MongoDB (via audit.Store) and structured logs (via zap).
type Logger struct {
	store  *audit.Store
	zapLog *zap.Logger
	config Config
}

// New creates a new audit Logger. A nil store turns "db" and "all" into
// log-only output.
func New(store *audit.Store, zapLog *zap.Logger, config Config) *Logger {
	if zapLog == nil {
		zapLog = zap.NewNop()
	}
	return &Logger{
		store:  store,
		zapLog: zapLog,
		config: config,
	}
}

func getClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	return ratelimit.ClientIP(r)
}

func userAgent(r *http.Request) string {
	if r == nil {
		return ""
	}
	return r.UserAgent()
}

// logToZap logs the event to zap with consistent structure.
func (l *Logger) logToZap(event audit.Event) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", event.Category),
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
	}

	if event.IP != "" {
		fields = append(fields, zap.String("ip", event.IP))
	}
	if event.TenantID != nil {
		fields = append(fields, zap.String("tenant_id", event.TenantID.Hex()))
	}
	if event.UserID != nil {
		fields = append(fields, zap.String("user_id", event.UserID.Hex()))
	}
	if event.ActorID != nil {
		fields = append(fields, zap.String("actor_id", event.ActorID.Hex()))
	}
	if event.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", event.FailureReason))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}

	if event.Success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Warn("audit event", fields...)
	}
}

func (l *Logger) setting(category string) string {
	var s string
	switch category {
	case audit.CategoryAuth:
		s = l.config.Auth
	case audit.CategoryAccess:
		s = l.config.Access
	case audit.CategoryContent:
		s = l.config.Content
	}
	if s == "" {
		return ModeAll
	}
	return s
}

// Log records an audit event based on configuration.
// If the logger is nil, this is a no-op (allows tests to use nil audit logger).
func (l *Logger) Log(ctx context.Context, event audit.Event) {
	if l == nil {
		return
	}

	setting := l.setting(event.Category)
	if setting == ModeOff {
		return
	}

	if setting == ModeAll || setting == ModeLog || l.store == nil {
		l.logToZap(event)
	}

	if l.store != nil && (setting == ModeAll || setting == ModeDB) {
		if err := l.store.Log(ctx, event); err != nil {
			l.zapLog.Error("failed to store audit event",
				zap.Error(err),
				zap.String("event_type", event.EventType),
			)
		}
	}
}

/*──────────────────────────── Authentication ────────────────────────────*/

// LoginSuccess logs a completed sign-in.
func (l *Logger) LoginSuccess(ctx context.Context, r *http.Request, userID primitive.ObjectID, authMethod, email string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventLoginSuccess,
		UserID:    &userID,
		IP:        getClientIP(r),
		UserAgent: userAgent(r),
		Success:   true,
		Details: map[string]string{
			"auth_method": authMethod,
			"email":       email,
		},
	})
}

// LoginFailed logs a sign-in that did not complete.
func (l *Logger) LoginFailed(ctx context.Context, r *http.Request, authMethod, reason string) {
	l.Log(ctx, audit.Event{
		Category:      audit.CategoryAuth,
		EventType:     audit.EventLoginFailed,
		IP:            getClientIP(r),
		UserAgent:     userAgent(r),
		Success:       false,
		FailureReason: reason,
		Details: map[string]string{
			"auth_method": authMethod,
		},
	})
}

// Logout logs a sign-out. An unparsable user id is logged without a user.
func (l *Logger) Logout(ctx context.Context, r *http.Request, userIDStr string) {
	var userID *primitive.ObjectID
	if oid, err := primitive.ObjectIDFromHex(userIDStr); err == nil {
		userID = &oid
	}
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventLogout,
		UserID:    userID,
		IP:        getClientIP(r),
		UserAgent: userAgent(r),
		Success:   true,
	})
}

/*──────────────────────────── Access ────────────────────────────*/

// MembershipAutoProvisioned logs that role resolution created a membership
// for a signed-in user who had none.
func (l *Logger) MembershipAutoProvisioned(ctx context.Context, tenantID, userID primitive.ObjectID, role string) {
	l.Log(ctx, audit.Event{
		TenantID:  &tenantID,
		Category:  audit.CategoryAccess,
		EventType: audit.EventMembershipAutoProvisioned,
		UserID:    &userID,
		Success:   true,
		Details: map[string]string{
			"role": role,
		},
	})
}

/*──────────────────────────── Content ────────────────────────────*/

// SlugRenegotiated logs a page saved under a different slug than requested.
func (l *Logger) SlugRenegotiated(ctx context.Context, tenantID, pageID primitive.ObjectID, requested, final string) {
	l.Log(ctx, audit.Event{
		TenantID:  &tenantID,
		Category:  audit.CategoryContent,
		EventType: audit.EventPageSlugRenegotiated,
		Success:   true,
		Details: map[string]string{
			"page_id":   pageID.Hex(),
			"requested": requested,
			"final":     final,
		},
	})
}

// HomepageChanged logs the homepage flag moving to pageID.
func (l *Logger) HomepageChanged(ctx context.Context, tenantID, pageID primitive.ObjectID, cleared int64) {
	l.Log(ctx, audit.Event{
		TenantID:  &tenantID,
		Category:  audit.CategoryContent,
		EventType: audit.EventPageHomepageMoved,
		Success:   true,
		Details: map[string]string{
			"page_id": pageID.Hex(),
			"cleared": strconv.FormatInt(cleared, 10),
		},
	})
}
