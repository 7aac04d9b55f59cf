package ai

import (
	"sort"
	"strings"

	"github.com/procrasturbate/procrasturbate/internal/config"
)

// ruleDescriptions explain each built-in category to the model.
var ruleDescriptions = map[string]string{
	"security":      "vulnerabilities, injection risks, unsafe handling of secrets or credentials",
	"performance":   "inefficient algorithms, unnecessary allocations, N+1 queries, blocking calls",
	"style":         "readability, naming, idiomatic usage, dead code",
	"bugs":          "logic errors, off-by-one mistakes, nil handling, race conditions",
	"documentation": "missing or misleading comments and docs on exported behavior",
}

// buildSystemPrompt assembles the reviewer persona with the enabled rule
// categories and repository hints.
func buildSystemPrompt(cfg *config.ReviewConfig) string {
	if cfg == nil {
		cfg = config.DefaultReviewConfig()
	}

	var sb strings.Builder
	sb.WriteString("You are an expert code reviewer. Review the supplied pull request diff ")
	sb.WriteString("and report findings only on lines that appear in the diff.\n\n")

	sb.WriteString("Review for the following categories:\n")
	for _, cat := range enabledCategories(cfg) {
		sb.WriteString("- ")
		sb.WriteString(cat.name)
		sb.WriteString(": ")
		sb.WriteString(cat.description)
		sb.WriteString("\n")
	}

	if len(cfg.Languages) > 0 {
		sb.WriteString("\nPrimary languages: ")
		sb.WriteString(strings.Join(cfg.Languages, ", "))
		sb.WriteString("\n")
	}
	if len(cfg.Frameworks) > 0 {
		sb.WriteString("Frameworks in use: ")
		sb.WriteString(strings.Join(cfg.Frameworks, ", "))
		sb.WriteString("\n")
	}
	if cfg.AdditionalInstructions != "" {
		sb.WriteString("\nAdditional instructions from the repository owner:\n")
		sb.WriteString(cfg.AdditionalInstructions)
		sb.WriteString("\n")
	}

	sb.WriteString(`
Respond with a single JSON object and nothing else:
{
  "summary": "<2-4 sentence overview of the change and its risks>",
  "risk_level": "low" | "medium" | "high" | "critical",
  "comments": [
    {
      "file": "<path as it appears in the diff>",
      "line": <new-file line number>,
      "severity": "critical" | "warning" | "suggestion" | "nitpick" | "praise",
      "category": "<one of the categories above>",
      "message": "<the finding>",
      "suggested_fix": "<replacement code for that line, optional>"
    }
  ]
}
Only comment on lines present in the diff. Return an empty comments array when the change is clean.`)

	return sb.String()
}

type category struct {
	name        string
	description string
}

func enabledCategories(cfg *config.ReviewConfig) []category {
	var cats []category
	add := func(name string, enabled bool) {
		if enabled {
			cats = append(cats, category{name: name, description: ruleDescriptions[name]})
		}
	}
	add("security", cfg.Rules.Security)
	add("performance", cfg.Rules.Performance)
	add("style", cfg.Rules.Style)
	add("bugs", cfg.Rules.Bugs)
	add("documentation", cfg.Rules.Documentation)

	// Custom rules in stable order
	names := make([]string, 0, len(cfg.Rules.Custom))
	for name := range cfg.Rules.Custom {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cats = append(cats, category{name: name, description: cfg.Rules.Custom[name]})
	}
	return cats
}

// buildUserPrompt packages the PR and its diff for the model.
func buildUserPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("# Pull Request\n\nTitle: ")
	sb.WriteString(req.PRTitle)
	sb.WriteString("\n")
	if req.PRBody != "" {
		sb.WriteString("\nDescription:\n")
		sb.WriteString(req.PRBody)
		sb.WriteString("\n")
	}
	if req.ContextBlob != "" {
		sb.WriteString("\n# Repository context\n\n")
		sb.WriteString(req.ContextBlob)
		sb.WriteString("\n")
	}
	sb.WriteString("\n# Diff\n\n```diff\n")
	sb.WriteString(req.DiffText)
	sb.WriteString("\n```\n")
	return sb.String()
}
