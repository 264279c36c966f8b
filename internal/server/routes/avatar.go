package routes

import (
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/freemre/avatargen/internal/pipeline"
	"github.com/freemre/avatargen/internal/render"
)

// AvatarRoutes exposes the avatar generation endpoint and the preview file
// collaborator.
type AvatarRoutes struct {
	orchestrator   *pipeline.Orchestrator
	outputRoot     string
	rateLimitRPS   float64
	rateLimitBurst int
}

func NewAvatarRoutes(orchestrator *pipeline.Orchestrator, outputRoot string, rateLimitRPS float64, rateLimitBurst int) *AvatarRoutes {
	return &AvatarRoutes{
		orchestrator:   orchestrator,
		outputRoot:     outputRoot,
		rateLimitRPS:   rateLimitRPS,
		rateLimitBurst: rateLimitBurst,
	}
}

// RegisterRoutes registers avatar endpoints. Submissions are rate limited
// per source IP; the renderer is too expensive to expose unthrottled.
func (a *AvatarRoutes) RegisterRoutes(s *echo.Echo) {
	limiter := middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(a.rateLimitRPS),
			Burst:     a.rateLimitBurst,
			ExpiresIn: 3 * time.Minute,
		}),
	})

	s.POST("/api/avatars", a.handleGenerate, limiter)
	s.GET("/previews/:email/:username", a.handlePreview)
	s.GET("/healthz", a.handleHealth)
}

type generateRequest struct {
	Username   string `json:"username" form:"username"`
	Email      string `json:"email" form:"email"`
	ExtraThicc bool   `json:"extraThicc" form:"extraThicc"`
	Autorig    bool   `json:"autorig" form:"autorig"`
}

func (a *AvatarRoutes) handleGenerate(c echo.Context) error {
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "malformed request"})
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "username is required"})
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "a valid email is required"})
	}

	result := a.orchestrator.Process(c.Request().Context(), pipeline.Request{
		Username:   req.Username,
		Email:      req.Email,
		ExtraThicc: req.ExtraThicc,
		Autorig:    req.Autorig,
		SourceIP:   c.RealIP(),
	})
	return c.JSON(statusForOutcome(result.Outcome), map[string]string{"message": result.Message})
}

func (a *AvatarRoutes) handlePreview(c echo.Context) error {
	email := c.Param("email")
	username := c.Param("username")
	if strings.Contains(email, "..") || strings.Contains(username, "..") {
		return echo.ErrNotFound
	}
	return c.File(render.PreviewPath(a.outputRoot, email, username))
}

func (a *AvatarRoutes) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func statusForOutcome(outcome pipeline.Outcome) int {
	switch outcome {
	case pipeline.Delivered:
		return http.StatusOK
	case pipeline.UserNotFound:
		return http.StatusUnprocessableEntity
	case pipeline.QuotaExceeded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
