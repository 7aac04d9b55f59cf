// Package command parses bot commands out of pull request comments.
package command

import "strings"

// Type identifies a recognized bot command.
type Type string

const (
	TypeReview   Type = "review"
	TypeExplain  Type = "explain"
	TypeSecurity Type = "security"
	TypeIgnore   Type = "ignore"
	TypeConfig   Type = "config"
	TypeHelp     Type = "help"
)

// DefaultTriggers are the phrases that address the bot when no custom
// triggers are configured.
var DefaultTriggers = []string{"@reviewer", "@procrasturbate", "it's gooning time"}

// ParsedCommand is the result of parsing a comment body.
type ParsedCommand struct {
	Type Type     `json:"type"`
	Args []string `json:"args"`
}

// Parser recognizes trigger phrases and the command word that follows.
type Parser struct {
	triggers []string
}

// NewParser creates a parser with the given trigger phrases. An empty list
// falls back to DefaultTriggers.
func NewParser(triggers []string) *Parser {
	if len(triggers) == 0 {
		triggers = DefaultTriggers
	}
	return &Parser{triggers: triggers}
}

// Triggers returns the configured trigger phrases.
func (p *Parser) Triggers() []string {
	return p.triggers
}

// Parse scans the body for a trigger phrase followed by a command word.
// Matching is case-insensitive and the trigger may appear anywhere in the
// body. Returns nil when no trigger is present. A trigger with no command
// word, or an unrecognized command word, maps to help.
func (p *Parser) Parse(body string) *ParsedCommand {
	lower := strings.ToLower(body)

	for _, trigger := range p.triggers {
		idx := strings.Index(lower, strings.ToLower(trigger))
		if idx < 0 {
			continue
		}

		rest := body[idx+len(trigger):]
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return &ParsedCommand{Type: TypeHelp, Args: []string{}}
		}

		cmdType := parseType(fields[0])
		args := fields[1:]
		if cmdType == TypeHelp {
			args = []string{}
		}
		return &ParsedCommand{Type: cmdType, Args: args}
	}

	return nil
}

func parseType(word string) Type {
	switch strings.ToLower(word) {
	case "review":
		return TypeReview
	case "explain":
		return TypeExplain
	case "security":
		return TypeSecurity
	case "ignore":
		return TypeIgnore
	case "config":
		return TypeConfig
	case "help":
		return TypeHelp
	default:
		return TypeHelp
	}
}

// HelpMessage renders the reply posted for the help command.
func (p *Parser) HelpMessage() string {
	var sb strings.Builder
	sb.WriteString("### Available commands\n\n")
	sb.WriteString("Address me with ")
	for i, trigger := range p.triggers {
		if i > 0 {
			sb.WriteString(" or ")
		}
		sb.WriteString("`")
		sb.WriteString(trigger)
		sb.WriteString("`")
	}
	sb.WriteString(" followed by:\n\n")
	sb.WriteString("| Command | Effect |\n")
	sb.WriteString("|---------|--------|\n")
	sb.WriteString("| `review [path]` | Run a review, optionally limited to a path |\n")
	sb.WriteString("| `explain` | Explain the changes in this pull request |\n")
	sb.WriteString("| `security` | Run a security-focused review |\n")
	sb.WriteString("| `ignore` | Skip automatic reviews for this pull request |\n")
	sb.WriteString("| `config` | Show the effective review configuration |\n")
	sb.WriteString("| `help` | Show this message |\n")
	return sb.String()
}
