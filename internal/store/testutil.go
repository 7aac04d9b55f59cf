// Package store provides test utilities for database testing.
package store

import (
	"crypto/sha256"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/procrasturbate/procrasturbate/internal/database"
	"github.com/procrasturbate/procrasturbate/internal/model"
	"github.com/procrasturbate/procrasturbate/pkg/idgen"
)

// SetupTestDB creates a temporary SQLite database for testing.
// It returns a Store instance and a cleanup function.
// The cleanup function should be called with defer in tests.
func SetupTestDB(t *testing.T) (Store, func()) {
	// Reset database state to allow re-initialization
	database.ResetForTesting()

	// Create temporary database file
	tmpFile, err := os.CreateTemp("", "test_*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()

	// Initialize database with temp path
	if err := database.InitWithPath(tmpPath); err != nil {
		os.Remove(tmpPath)
		t.Fatalf("Failed to initialize test database: %v", err)
	}

	db := database.Get()
	store := NewStore(db)

	// Cleanup function
	cleanup := func() {
		database.Close()
		database.ResetForTesting()
		os.Remove(tmpPath)
	}

	return store, cleanup
}

var testSeq int64

// uniqueInt64 returns an int64 unique within the process, for columns
// carrying a UNIQUE constraint such as github IDs.
func uniqueInt64(t *testing.T) int64 {
	testSeq++
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%d-%d", t.Name(), time.Now().UnixNano(), testSeq)))
	v := int64(sum[0])<<40 | int64(sum[1])<<32 | int64(sum[2])<<24 |
		int64(sum[3])<<16 | int64(sum[4])<<8 | int64(sum[5])
	return v + 1
}

// CreateTestInstallation creates a test Installation with default values.
// Fields can be overridden by passing a function that modifies the record.
func CreateTestInstallation(t *testing.T, store Store, overrides ...func(*model.Installation)) *model.Installation {
	installation := &model.Installation{
		GithubInstallationID: uniqueInt64(t),
		OwnerLogin:           "octocat",
		OwnerType:            "Organization",
		OwnerGithubID:        uniqueInt64(t),
		IsActive:             true,
		MonthlyBudgetCents:   10000,
	}

	for _, override := range overrides {
		override(installation)
	}

	if err := store.Installation().Create(installation); err != nil {
		t.Fatalf("Failed to create test installation: %v", err)
	}

	return installation
}

// CreateTestRepository creates a test Repository under the given installation.
func CreateTestRepository(t *testing.T, store Store, installationID uint, overrides ...func(*model.Repository)) *model.Repository {
	githubID := uniqueInt64(t)
	repo := &model.Repository{
		InstallationID: installationID,
		GithubRepoID:   githubID,
		FullName:       fmt.Sprintf("octocat/repo-%d", githubID),
		DefaultBranch:  "main",
		IsEnabled:      true,
		AutoReview:     true,
	}

	for _, override := range overrides {
		override(repo)
	}

	if err := store.Repository().Create(repo); err != nil {
		t.Fatalf("Failed to create test repository: %v", err)
	}

	return repo
}

// CreateTestReview creates a test Review with default values.
func CreateTestReview(t *testing.T, store Store, repositoryID uint, overrides ...func(*model.Review)) *model.Review {
	sum := sha256.Sum256([]byte(idgen.NewID()))
	review := &model.Review{
		ID:           idgen.NewReviewID(),
		RepositoryID: repositoryID,
		PRNumber:     42,
		PRTitle:      "Add feature",
		PRAuthor:     "octocat",
		HeadSHA:      fmt.Sprintf("%x", sum)[:40],
		BaseSHA:      "0000000000000000000000000000000000000000",
		Status:       model.ReviewStatusPending,
		Trigger:      model.TriggerPROpened,
	}

	for _, override := range overrides {
		override(review)
	}

	if err := store.Review().Create(review); err != nil {
		t.Fatalf("Failed to create test review: %v", err)
	}

	return review
}
