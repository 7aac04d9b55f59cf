package diff

import "strings"

// LinePosition locates a new-file line within the per-file diff body.
type LinePosition struct {
	// DiffPosition is the 1-based offset into the file's diff body,
	// counting every line including hunk headers and deletions. This is
	// the position contract used when posting inline comments.
	DiffPosition int    `json:"diff_position"`
	Content      string `json:"content"`
	IsAddition   bool   `json:"is_addition"`
}

// BuildPositionIndex maps new-file line numbers to their diff positions.
// Deleted and binary files have no commentable lines and yield an empty
// index. Deletion lines advance the position counter but not the new-file
// line number.
func BuildPositionIndex(file *FileDiff) map[int]LinePosition {
	index := make(map[int]LinePosition)
	if file.IsDeleted || file.IsBinary {
		return index
	}

	position := 0
	for _, hunk := range file.Hunks {
		position++ // the @@ header occupies a position
		newLine := hunk.NewStart
		for _, line := range hunk.Lines {
			position++
			switch {
			case strings.HasPrefix(line, "+"):
				index[newLine] = LinePosition{
					DiffPosition: position,
					Content:      line[1:],
					IsAddition:   true,
				}
				newLine++
			case strings.HasPrefix(line, "-"):
				// advances position only
			default:
				content := line
				if strings.HasPrefix(line, " ") {
					content = line[1:]
				}
				index[newLine] = LinePosition{
					DiffPosition: position,
					Content:      content,
				}
				newLine++
			}
		}
	}
	return index
}

// PositionIndex is the two-level lookup used by the review pipeline:
// file path, then new-file line number.
type PositionIndex map[string]map[int]LinePosition

// BuildIndex builds the position index for every commentable file.
func BuildIndex(files []FileDiff) PositionIndex {
	index := make(PositionIndex, len(files))
	for i := range files {
		index[files[i].NewPath] = BuildPositionIndex(&files[i])
	}
	return index
}

// Lookup returns the position for (path, line), if the line is present in
// the diff.
func (idx PositionIndex) Lookup(path string, line int) (LinePosition, bool) {
	fileIndex, ok := idx[path]
	if !ok {
		return LinePosition{}, false
	}
	pos, ok := fileIndex[line]
	return pos, ok
}
