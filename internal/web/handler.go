// Package web serves the attendance pages and the small JSON API.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"qrattend/internal/attendance"
	"qrattend/internal/audit"
	"qrattend/internal/auth"
	"qrattend/internal/cloudinary"
	"qrattend/internal/httpmiddleware"
)

// Config holds the settings the handlers read per request.
type Config struct {
	SessionSecret string
	JWTIssuer     string
	AdminTokenTTL time.Duration
	CookieSecure  bool
	PublicBaseURL string
	QRSize        int
	// TrustedProxies are the addresses allowed to set X-Forwarded-For for
	// c.ClientIP. Empty means the socket address is always used.
	TrustedProxies []string
}

// ScanEventLister reads the audit trail.
type ScanEventLister interface {
	ListScanEvents(ctx context.Context, limit int) ([]audit.Event, error)
}

// QRPublisher uploads QR images somewhere shareable.
type QRPublisher interface {
	UploadPNG(ctx context.Context, data []byte, publicID string) (*cloudinary.UploadResult, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps wires the handler. Audit, ScanEvents, CDN and Limiter are optional.
type Deps struct {
	Attendance *attendance.Service
	Admins     *auth.Authenticator
	Audit      *audit.Publisher
	ScanEvents ScanEventLister
	CDN        QRPublisher
	Limiter    httpmiddleware.Limiter
	Health     map[string]HealthCheck
	Log        *zap.Logger
	Config     Config
}

type Handler struct {
	att    *attendance.Service
	admins *auth.Authenticator
	audit  *audit.Publisher
	events ScanEventLister
	cdn    QRPublisher
	health map[string]HealthCheck
	log    *zap.Logger
	cfg    Config
}

func New(d Deps) *Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Config.AdminTokenTTL <= 0 {
		d.Config.AdminTokenTTL = 12 * time.Hour
	}
	return &Handler{
		att:    d.Attendance,
		admins: d.Admins,
		audit:  d.Audit,
		events: d.ScanEvents,
		cdn:    d.CDN,
		health: d.Health,
		log:    d.Log,
		cfg:    d.Config,
	}
}

// NewRouter builds the gin engine with every route and middleware.
func NewRouter(d Deps) (*gin.Engine, error) {
	h := New(d)

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	r := gin.New()
	if err := r.SetTrustedProxies(h.cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.SetHTMLTemplate(tmpl)

	r.Use(httpmiddleware.RequestLogger(h.log))
	r.Use(gin.CustomRecovery(h.recovered))
	r.Use(httpmiddleware.SecurityHeaders())

	flashStore := cookie.NewStore([]byte(h.cfg.SessionSecret))
	flashStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   86400,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(flashCookieName, flashStore))
	r.Use(auth.AdminContext(h.cfg.SessionSecret, h.cfg.JWTIssuer))

	limit := func(c *gin.Context) { c.Next() }
	if d.Limiter != nil {
		limit = httpmiddleware.RateLimit(d.Limiter, h.log)
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.Healthz)

	r.GET("/", h.Index)
	r.GET("/admin", h.AdminLogin)
	r.POST("/admin", limit, h.AdminLogin)
	r.GET("/logout", h.Logout)
	r.GET("/generate_qr", h.requireAdminPage, h.GenerateQR)
	r.POST("/generate_qr", h.requireAdminPage, h.GenerateQR)
	r.GET("/scan/:token", h.ScanForm)
	r.POST("/scan/:token", limit, h.Scan)
	r.GET("/success", h.Success)
	r.GET("/get_attendance", h.ListAttendance)
	r.GET("/get_attendance.csv", h.ExportAttendanceCSV)

	api := r.Group("/api", cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          12 * time.Hour,
	}), limit)
	api.POST("/admin/token", h.IssueToken)
	api.GET("/scan-events", auth.RequireAdmin(), h.ListScanEvents)

	r.NoRoute(h.NotFound)
	return r, nil
}

// ---------- Errors ----------

func (h *Handler) NotFound(c *gin.Context) {
	h.render(c, http.StatusNotFound, "error.html", gin.H{"Error": "Page not found"})
}

func (h *Handler) recovered(c *gin.Context, v any) {
	h.log.Error("panic recovered", zap.Any("panic", v), zap.String("path", c.Request.URL.Path))
	c.HTML(http.StatusInternalServerError, "error.html", gin.H{"Error": "Internal server error"})
	c.Abort()
}

// fail logs err and shows the generic error page.
func (h *Handler) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	h.log.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	h.render(c, http.StatusInternalServerError, "error.html", gin.H{"Error": "Internal server error"})
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.health {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}
