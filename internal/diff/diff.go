// Package diff parses unified diffs and derives the per-file position
// index used when posting inline review comments.
package diff

import (
	"regexp"
	"strconv"
	"strings"
)

// FileDiff represents the diff of a single file.
type FileDiff struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
	Hunks   []Hunk `json:"hunks"`

	IsNew     bool `json:"is_new"`
	IsDeleted bool `json:"is_deleted"`
	IsRenamed bool `json:"is_renamed"`
	IsBinary  bool `json:"is_binary"`
}

// Hunk represents a single @@ hunk within a file diff.
type Hunk struct {
	OldStart int      `json:"old_start"`
	OldCount int      `json:"old_count"`
	NewStart int      `json:"new_start"`
	NewCount int      `json:"new_count"`
	Header   string   `json:"header"`
	Lines    []string `json:"lines"`
}

// Additions returns the number of added lines across all hunks.
func (f *FileDiff) Additions() int {
	n := 0
	for _, h := range f.Hunks {
		for _, line := range h.Lines {
			if strings.HasPrefix(line, "+") {
				n++
			}
		}
	}
	return n
}

// Deletions returns the number of deleted lines across all hunks.
func (f *FileDiff) Deletions() int {
	n := 0
	for _, h := range f.Hunks {
		for _, line := range h.Lines {
			if strings.HasPrefix(line, "-") {
				n++
			}
		}
	}
	return n
}

// String reconstructs the unified diff text for this file. Used to rebuild
// a reduced diff after path filtering.
func (f *FileDiff) String() string {
	var sb strings.Builder
	sb.WriteString("diff --git a/")
	sb.WriteString(f.OldPath)
	sb.WriteString(" b/")
	sb.WriteString(f.NewPath)
	sb.WriteString("\n")
	if f.IsBinary {
		sb.WriteString("Binary files differ\n")
		return sb.String()
	}
	sb.WriteString("--- a/")
	sb.WriteString(f.OldPath)
	sb.WriteString("\n+++ b/")
	sb.WriteString(f.NewPath)
	sb.WriteString("\n")
	for _, h := range f.Hunks {
		sb.WriteString(formatHunkHeader(h))
		sb.WriteString("\n")
		for _, line := range h.Lines {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func formatHunkHeader(h Hunk) string {
	header := "@@ -" + strconv.Itoa(h.OldStart) + "," + strconv.Itoa(h.OldCount) +
		" +" + strconv.Itoa(h.NewStart) + "," + strconv.Itoa(h.NewCount) + " @@"
	if h.Header != "" {
		header += " " + h.Header
	}
	return header
}

// Format joins the reconstructed diffs of the given files.
func Format(files []FileDiff) string {
	var sb strings.Builder
	for i := range files {
		sb.WriteString(files[i].String())
	}
	return sb.String()
}

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@ ?(.*)$`)

// Parse splits a unified diff into per-file records.
//
// A file starts at "diff --git a/<old> b/<new>". Mode lines, rename lines
// and "Binary files" markers set the corresponding flags. Hunk body lines
// begin with '+', '-', a space, or are empty; anything else ends the hunk.
func Parse(text string) []FileDiff {
	var files []FileDiff
	var current *FileDiff
	var hunk *Hunk
	inHunk := false

	flushHunk := func() {
		if hunk != nil && current != nil {
			current.Hunks = append(current.Hunks, *hunk)
		}
		hunk = nil
		inHunk = false
	}
	flushFile := func() {
		flushHunk()
		if current != nil {
			files = append(files, *current)
		}
		current = nil
	}

	lines := strings.Split(text, "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "diff --git ") {
			flushFile()
			oldPath, newPath := parseGitHeader(line)
			current = &FileDiff{OldPath: oldPath, NewPath: newPath}
			continue
		}
		if current == nil {
			continue
		}

		if m := hunkHeaderRe.FindStringSubmatch(line); m != nil {
			flushHunk()
			hunk = &Hunk{
				OldStart: atoiDefault(m[1], 1),
				OldCount: atoiDefault(m[2], 1),
				NewStart: atoiDefault(m[3], 1),
				NewCount: atoiDefault(m[4], 1),
				Header:   m[5],
			}
			inHunk = true
			continue
		}

		if inHunk {
			if line == "" || strings.HasPrefix(line, "+") ||
				strings.HasPrefix(line, "-") || strings.HasPrefix(line, " ") {
				hunk.Lines = append(hunk.Lines, line)
				continue
			}
			flushHunk()
		}

		switch {
		case strings.HasPrefix(line, "new file mode"):
			current.IsNew = true
		case strings.HasPrefix(line, "deleted file mode"):
			current.IsDeleted = true
		case strings.HasPrefix(line, "rename from "):
			current.IsRenamed = true
		case strings.HasPrefix(line, "Binary files "):
			current.IsBinary = true
		}
	}
	flushFile()

	return files
}

// parseGitHeader extracts old and new paths from a "diff --git" line.
func parseGitHeader(line string) (string, string) {
	rest := strings.TrimPrefix(line, "diff --git ")
	idx := strings.Index(rest, " b/")
	if idx < 0 {
		return "", ""
	}
	oldPath := strings.TrimPrefix(rest[:idx], "a/")
	newPath := rest[idx+len(" b/"):]
	return oldPath, newPath
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
