package store

import (
	"testing"
)

// TestUsageStore_AddUsage tests the monthly aggregate upsert
func TestUsageStore_AddUsage(t *testing.T) {
	store, cleanup := SetupTestDB(t)
	defer cleanup()

	installation := CreateTestInstallation(t, store)

	err := store.Usage().AddUsage(installation.ID, 2026, 8, UsageDelta{
		InputTokens:  1000,
		OutputTokens: 200,
		CostCents:    5,
		Reviews:      1,
	})
	if err != nil {
		t.Fatalf("AddUsage() failed: %v", err)
	}

	// A second delta for the same period must add onto the first
	err = store.Usage().AddUsage(installation.ID, 2026, 8, UsageDelta{
		InputTokens:  500,
		OutputTokens: 100,
		CostCents:    3,
		Reviews:      1,
	})
	if err != nil {
		t.Fatalf("AddUsage() failed: %v", err)
	}

	record, err := store.Usage().GetForMonth(installation.ID, 2026, 8)
	if err != nil {
		t.Fatalf("GetForMonth() failed: %v", err)
	}
	if record.TotalInputTokens != 1500 {
		t.Errorf("Expected 1500 input tokens, got %d", record.TotalInputTokens)
	}
	if record.TotalOutputTokens != 300 {
		t.Errorf("Expected 300 output tokens, got %d", record.TotalOutputTokens)
	}
	if record.TotalCostCents != 8 {
		t.Errorf("Expected 8 cents, got %d", record.TotalCostCents)
	}
	if record.ReviewCount != 2 {
		t.Errorf("Expected 2 reviews, got %d", record.ReviewCount)
	}
}

// TestUsageStore_GetForMonth_Empty tests the zero-valued record for a fresh period
func TestUsageStore_GetForMonth_Empty(t *testing.T) {
	store, cleanup := SetupTestDB(t)
	defer cleanup()

	installation := CreateTestInstallation(t, store)

	record, err := store.Usage().GetForMonth(installation.ID, 2026, 1)
	if err != nil {
		t.Fatalf("GetForMonth() failed: %v", err)
	}
	if record.TotalCostCents != 0 {
		t.Errorf("Expected zero cost for fresh period, got %d", record.TotalCostCents)
	}
	if record.Year != 2026 || record.Month != 1 {
		t.Errorf("Expected period 2026-01, got %d-%d", record.Year, record.Month)
	}
}

// TestUsageStore_PeriodsAreIndependent tests that months do not bleed into each other
func TestUsageStore_PeriodsAreIndependent(t *testing.T) {
	store, cleanup := SetupTestDB(t)
	defer cleanup()

	installation := CreateTestInstallation(t, store)

	if err := store.Usage().AddUsage(installation.ID, 2026, 7, UsageDelta{CostCents: 100, Reviews: 1}); err != nil {
		t.Fatalf("AddUsage() failed: %v", err)
	}
	if err := store.Usage().AddUsage(installation.ID, 2026, 8, UsageDelta{CostCents: 40, Reviews: 1}); err != nil {
		t.Fatalf("AddUsage() failed: %v", err)
	}

	july, err := store.Usage().GetForMonth(installation.ID, 2026, 7)
	if err != nil {
		t.Fatalf("GetForMonth() failed: %v", err)
	}
	august, err := store.Usage().GetForMonth(installation.ID, 2026, 8)
	if err != nil {
		t.Fatalf("GetForMonth() failed: %v", err)
	}

	if july.TotalCostCents != 100 {
		t.Errorf("Expected July cost 100, got %d", july.TotalCostCents)
	}
	if august.TotalCostCents != 40 {
		t.Errorf("Expected August cost 40, got %d", august.TotalCostCents)
	}

	records, err := store.Usage().ListByInstallation(installation.ID, 10)
	if err != nil {
		t.Fatalf("ListByInstallation() failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 usage records, got %d", len(records))
	}
	// Most recent period first
	if records[0].Month != 8 {
		t.Errorf("Expected August first, got month %d", records[0].Month)
	}
}

// TestStore_Transaction tests that usage and review writes commit atomically
func TestStore_Transaction(t *testing.T) {
	store, cleanup := SetupTestDB(t)
	defer cleanup()

	installation := CreateTestInstallation(t, store)
	repo := CreateTestRepository(t, store, installation.ID)
	review := CreateTestReview(t, store, repo.ID)

	err := store.Transaction(func(tx Store) error {
		if _, err := tx.Review().MarkTerminal(review.ID, "failed", "budget check aborted"); err != nil {
			return err
		}
		if err := tx.Usage().AddUsage(installation.ID, 2026, 8, UsageDelta{CostCents: 9}); err != nil {
			return err
		}
		return errRollback
	})
	if err != errRollback {
		t.Fatalf("Expected rollback error, got %v", err)
	}

	// Both writes must have been rolled back
	retrieved, _ := store.Review().GetByID(review.ID)
	if retrieved.Status != "pending" {
		t.Errorf("Expected review to stay pending after rollback, got '%s'", retrieved.Status)
	}
	record, _ := store.Usage().GetForMonth(installation.ID, 2026, 8)
	if record.TotalCostCents != 0 {
		t.Errorf("Expected usage to be rolled back, got %d cents", record.TotalCostCents)
	}
}

type rollbackError struct{}

func (rollbackError) Error() string { return "intentional rollback" }

var errRollback = rollbackError{}
