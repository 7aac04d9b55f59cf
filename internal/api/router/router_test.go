package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/procrasturbate/procrasturbate/internal/ai"
	"github.com/procrasturbate/procrasturbate/internal/config"
	"github.com/procrasturbate/procrasturbate/internal/engine"
	"github.com/procrasturbate/procrasturbate/internal/scheduler"
	"github.com/procrasturbate/procrasturbate/internal/store"
	"github.com/procrasturbate/procrasturbate/pkg/logger"
)

func init() {
	logger.Init(logger.Config{Level: "error", Format: "text"})
}

type noopReviewer struct{}

func (noopReviewer) Review(ctx context.Context, req ai.Request) (*ai.Result, error) {
	return &ai.Result{Summary: "ok", RiskLevel: "low"}, nil
}

func setupTestRouter(t *testing.T, adminToken string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, cleanup := store.SetupTestDB(t)
	t.Cleanup(cleanup)

	cfg := config.Default()
	cfg.Server.AdminToken = adminToken
	cfg.GithubApp.WebhookSecret = "test-secret"

	clients := func(installationID int64) engine.HostClient { return nil }
	budget := engine.NewBudget(s, cfg.AI.InputCostCentsPerMillion, cfg.AI.OutputCostCentsPerMillion)
	eng := engine.New(s, clients, noopReviewer{}, budget, cfg.Review, nil)
	sched := scheduler.New(s.Job(), cfg.Scheduler, nil)
	installations := engine.NewInstallations(s, cfg.Review.DefaultMonthlyBudgetCents)
	d := engine.NewDispatcher(s, sched, eng, installations, clients, cfg.Review.BotTriggers, 30*time.Second)

	r := gin.New()
	Setup(r, cfg, d, s, sched)
	return r
}

// TestRouter_Health tests the public health endpoint
func TestRouter_Health(t *testing.T) {
	r := setupTestRouter(t, "")

	req, _ := http.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

// TestRouter_WebhookRequiresSignature tests that the webhook route rejects
// unsigned requests
func TestRouter_WebhookRequiresSignature(t *testing.T) {
	r := setupTestRouter(t, "")

	req := httptest.NewRequest("POST", "/api/v1/webhooks/github", nil)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "ping")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

// TestRouter_AdminRequiresToken tests admin route protection
func TestRouter_AdminRequiresToken(t *testing.T) {
	r := setupTestRouter(t, "admin-token")

	req, _ := http.NewRequest("GET", "/api/v1/admin/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without token, got %d", w.Code)
	}

	req, _ = http.NewRequest("GET", "/api/v1/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 with token, got %d", w.Code)
	}
}

// TestRouter_AdminDisabledWithoutToken tests that the admin API is off when
// no token is configured
func TestRouter_AdminDisabledWithoutToken(t *testing.T) {
	r := setupTestRouter(t, "")

	req, _ := http.NewRequest("GET", "/api/v1/admin/installations", nil)
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
}

// TestRouter_UnknownRoute tests that unknown routes return 404
func TestRouter_UnknownRoute(t *testing.T) {
	r := setupTestRouter(t, "")

	req, _ := http.NewRequest("GET", "/api/v1/nope", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}
