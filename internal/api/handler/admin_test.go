package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/procrasturbate/procrasturbate/internal/api/middleware"
	"github.com/procrasturbate/procrasturbate/internal/config"
	"github.com/procrasturbate/procrasturbate/internal/model"
	"github.com/procrasturbate/procrasturbate/internal/scheduler"
	"github.com/procrasturbate/procrasturbate/internal/store"
)

func setupAdminRouter(t *testing.T) (*gin.Engine, store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, cleanup := store.SetupTestDB(t)
	t.Cleanup(cleanup)

	sched := scheduler.New(s.Job(), config.SchedulerConfig{Workers: 1, MaxRetries: 3, ShutdownTimeoutSeconds: 5}, nil)
	h := NewAdminHandler(s, sched)

	r := gin.New()
	r.Use(middleware.ErrorHandler(false))
	r.GET("/admin/installations", h.ListInstallations)
	r.GET("/admin/installations/:id/repositories", h.ListRepositories)
	r.GET("/admin/installations/:id/usage", h.GetUsage)
	r.GET("/admin/reviews", h.ListReviews)
	r.GET("/admin/reviews/:id", h.GetReview)
	r.GET("/admin/stats", h.GetStats)
	return r, s
}

func getJSON(t *testing.T, r *gin.Engine, path string, wantStatus int) map[string]any {
	t.Helper()
	req, _ := http.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != wantStatus {
		t.Fatalf("GET %s: expected status %d, got %d: %s", path, wantStatus, w.Code, w.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return body
}

// TestAdmin_ListInstallations tests the installation listing endpoint
func TestAdmin_ListInstallations(t *testing.T) {
	r, s := setupAdminRouter(t)

	store.CreateTestInstallation(t, s)
	store.CreateTestInstallation(t, s)

	body := getJSON(t, r, "/admin/installations", http.StatusOK)
	if body["total"].(float64) != 2 {
		t.Errorf("Expected total 2, got %v", body["total"])
	}
	if len(body["installations"].([]any)) != 2 {
		t.Errorf("Expected 2 installations, got %d", len(body["installations"].([]any)))
	}
}

// TestAdmin_ListRepositories tests listing repositories of an installation
func TestAdmin_ListRepositories(t *testing.T) {
	r, s := setupAdminRouter(t)

	installation := store.CreateTestInstallation(t, s)
	store.CreateTestRepository(t, s, installation.ID)

	path := fmt.Sprintf("/admin/installations/%d/repositories", installation.ID)
	body := getJSON(t, r, path, http.StatusOK)
	if len(body["repositories"].([]any)) != 1 {
		t.Errorf("Expected 1 repository, got %d", len(body["repositories"].([]any)))
	}

	getJSON(t, r, "/admin/installations/99999/repositories", http.StatusNotFound)
	getJSON(t, r, "/admin/installations/abc/repositories", http.StatusBadRequest)
}

// TestAdmin_ListReviews tests the review listing with a status filter
func TestAdmin_ListReviews(t *testing.T) {
	r, s := setupAdminRouter(t)

	installation := store.CreateTestInstallation(t, s)
	repo := store.CreateTestRepository(t, s, installation.ID)
	store.CreateTestReview(t, s, repo.ID)
	store.CreateTestReview(t, s, repo.ID, func(rv *model.Review) {
		rv.Status = model.ReviewStatusCompleted
	})

	body := getJSON(t, r, "/admin/reviews", http.StatusOK)
	if body["total"].(float64) != 2 {
		t.Errorf("Expected total 2, got %v", body["total"])
	}

	body = getJSON(t, r, "/admin/reviews?status=completed", http.StatusOK)
	if body["total"].(float64) != 1 {
		t.Errorf("Expected total 1 for completed filter, got %v", body["total"])
	}
}

// TestAdmin_GetReview tests fetching a single review with its comments
func TestAdmin_GetReview(t *testing.T) {
	r, s := setupAdminRouter(t)

	installation := store.CreateTestInstallation(t, s)
	repo := store.CreateTestRepository(t, s, installation.ID)
	review := store.CreateTestReview(t, s, repo.ID)

	if err := s.Review().CreateComments([]model.ReviewComment{
		{ReviewID: review.ID, FilePath: "main.go", Severity: "warning", Message: "check this"},
	}); err != nil {
		t.Fatalf("CreateComments() failed: %v", err)
	}

	body := getJSON(t, r, "/admin/reviews/"+review.ID, http.StatusOK)
	if body["id"] != review.ID {
		t.Errorf("Expected review %s, got %v", review.ID, body["id"])
	}
	if len(body["comments"].([]any)) != 1 {
		t.Errorf("Expected 1 comment, got %v", body["comments"])
	}

	getJSON(t, r, "/admin/reviews/rev_missing", http.StatusNotFound)
}

// TestAdmin_GetStats tests the aggregate stats endpoint
func TestAdmin_GetStats(t *testing.T) {
	r, s := setupAdminRouter(t)

	installation := store.CreateTestInstallation(t, s)
	repo := store.CreateTestRepository(t, s, installation.ID)
	store.CreateTestReview(t, s, repo.ID)
	store.CreateTestReview(t, s, repo.ID, func(rv *model.Review) {
		rv.Status = model.ReviewStatusFailed
	})

	body := getJSON(t, r, "/admin/stats", http.StatusOK)

	byStatus := body["reviews_by_status"].(map[string]any)
	if byStatus["pending"].(float64) != 1 {
		t.Errorf("Expected 1 pending review, got %v", byStatus["pending"])
	}
	if byStatus["failed"].(float64) != 1 {
		t.Errorf("Expected 1 failed review, got %v", byStatus["failed"])
	}
	if body["reviews_last_24h"].(float64) != 2 {
		t.Errorf("Expected 2 reviews in last 24h, got %v", body["reviews_last_24h"])
	}
	if _, ok := body["scheduler"].(map[string]any); !ok {
		t.Errorf("Expected scheduler stats object, got %v", body["scheduler"])
	}
}
