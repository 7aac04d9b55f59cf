package engine

import (
	"fmt"
	"time"

	"github.com/procrasturbate/procrasturbate/internal/model"
	"github.com/procrasturbate/procrasturbate/internal/store"
)

// Budget enforces per-installation monthly spend limits and converts token
// usage into cost.
type Budget struct {
	store store.Store

	inputCentsPerMillion  int64
	outputCentsPerMillion int64
}

// NewBudget creates a budget tracker with the configured pricing.
func NewBudget(s store.Store, inputCentsPerMillion, outputCentsPerMillion int) *Budget {
	return &Budget{
		store:                 s,
		inputCentsPerMillion:  int64(inputCentsPerMillion),
		outputCentsPerMillion: int64(outputCentsPerMillion),
	}
}

// CostCents converts token counts to cost. The sum is floored once so the
// fractional cents of the two sides still count toward the total.
func (b *Budget) CostCents(inputTokens, outputTokens int64) int64 {
	return (inputTokens*b.inputCentsPerMillion + outputTokens*b.outputCentsPerMillion) / 1_000_000
}

// EffectiveLimitCents resolves the spend limit for a repository. A
// repository override wins over the installation default.
func (b *Budget) EffectiveLimitCents(installation *model.Installation, repo *model.Repository) int {
	if repo != nil && repo.MonthlyBudgetCents != nil {
		return *repo.MonthlyBudgetCents
	}
	return installation.MonthlyBudgetCents
}

// Check reports whether the current calendar month's spend has reached the
// effective limit. A limit of zero or below disables the check.
func (b *Budget) Check(installation *model.Installation, repo *model.Repository, now time.Time) (exceeded bool, limitCents int, err error) {
	limitCents = b.EffectiveLimitCents(installation, repo)
	if limitCents <= 0 {
		return false, limitCents, nil
	}

	record, err := b.store.Usage().GetForMonth(installation.ID, now.Year(), int(now.Month()))
	if err != nil {
		return false, limitCents, err
	}
	return record.TotalCostCents >= int64(limitCents), limitCents, nil
}

// BudgetExceededMessage renders the comment posted on a pull request when a
// review is skipped for budget reasons.
func BudgetExceededMessage(limitCents int) string {
	return fmt.Sprintf("Monthly budget of $%.2f has been exceeded", float64(limitCents)/100)
}
