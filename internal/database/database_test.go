package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/procrasturbate/procrasturbate/internal/model"
	"github.com/procrasturbate/procrasturbate/pkg/logger"
)

func TestSQLiteOptimizations(t *testing.T) {
	// Initialize logger for testing
	logger.Init(logger.Config{
		Level:  "info",
		Format: "text",
		File:   "",
	})
	defer logger.Sync()

	// Create temporary database file
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	ResetForTesting()

	// Initialize database with custom path for testing
	err := InitWithPath(dbPath)
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		Close()
		ResetForTesting()
		os.Remove(dbPath)
	}()

	// Get database connection
	db := Get()

	// Check journal_mode (should be WAL)
	var journalMode string
	result := db.Raw("PRAGMA journal_mode").Scan(&journalMode)
	if result.Error != nil {
		t.Fatalf("Failed to query journal_mode: %v", result.Error)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode to be 'wal', got '%s'", journalMode)
	}

	// Check synchronous (should be 1 for NORMAL)
	var synchronous int
	result = db.Raw("PRAGMA synchronous").Scan(&synchronous)
	if result.Error != nil {
		t.Fatalf("Failed to query synchronous: %v", result.Error)
	}
	if synchronous != 1 {
		t.Errorf("Expected synchronous to be 1 (NORMAL), got %d", synchronous)
	}

	// Check foreign_keys (should be ON)
	var foreignKeys int
	result = db.Raw("PRAGMA foreign_keys").Scan(&foreignKeys)
	if result.Error != nil {
		t.Fatalf("Failed to query foreign_keys: %v", result.Error)
	}
	if foreignKeys != 1 {
		t.Errorf("Expected foreign_keys to be 1 (ON), got %d", foreignKeys)
	}

	t.Logf("SQLite optimizations verified: journal_mode=%s, synchronous=%d, foreign_keys=%d",
		journalMode, synchronous, foreignKeys)
}

// TestMigrationCreatesTables verifies auto-migration produces tables for all models
func TestMigrationCreatesTables(t *testing.T) {
	logger.Init(logger.Config{Level: "info", Format: "text"})

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "migrate.db")

	ResetForTesting()
	require.NoError(t, InitWithPath(dbPath))
	defer func() {
		Close()
		ResetForTesting()
	}()

	db := Get()
	migrator := db.Migrator()

	for _, m := range model.AllModels() {
		assert.True(t, migrator.HasTable(m), "expected table for %T", m)
	}

	// Spot-check a write and read through the migrated schema
	inst := &model.Installation{
		GithubInstallationID: 12345,
		OwnerLogin:           "octocat",
		OwnerType:            "User",
		IsActive:             true,
		MonthlyBudgetCents:   10000,
	}
	require.NoError(t, db.Create(inst).Error)

	var loaded model.Installation
	require.NoError(t, db.First(&loaded, "github_installation_id = ?", int64(12345)).Error)
	assert.Equal(t, "octocat", loaded.OwnerLogin)
}

// TestTransaction verifies the transaction helper commits and rolls back
func TestTransaction(t *testing.T) {
	logger.Init(logger.Config{Level: "info", Format: "text"})

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "tx.db")

	ResetForTesting()
	require.NoError(t, InitWithPath(dbPath))
	defer func() {
		Close()
		ResetForTesting()
	}()

	t.Run("commit", func(t *testing.T) {
		err := Transaction(func(tx *gorm.DB) error {
			return tx.Create(&model.Installation{
				GithubInstallationID: 111,
				OwnerLogin:           "alice",
			}).Error
		})
		require.NoError(t, err)

		var count int64
		Get().Model(&model.Installation{}).Where("owner_login = ?", "alice").Count(&count)
		assert.Equal(t, int64(1), count)
	})

	t.Run("rollback", func(t *testing.T) {
		err := Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&model.Installation{
				GithubInstallationID: 222,
				OwnerLogin:           "bob",
			}).Error; err != nil {
				return err
			}
			return assert.AnError
		})
		require.Error(t, err)

		var count int64
		Get().Model(&model.Installation{}).Where("owner_login = ?", "bob").Count(&count)
		assert.Equal(t, int64(0), count)
	})
}

// TestHealthCheck verifies the ping helper
func TestHealthCheck(t *testing.T) {
	logger.Init(logger.Config{Level: "info", Format: "text"})

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "health.db")

	ResetForTesting()
	require.NoError(t, InitWithPath(dbPath))
	defer func() {
		Close()
		ResetForTesting()
	}()

	assert.NoError(t, HealthCheck())
}
