package patch

import "strings"

// diffLine is one line of a file being transformed, tagged with its
// original 1-based line number and (once rewritten) the id of the chunk
// that introduced it — mirrors original_source diffs.rs's DiffLine.
type diffLine struct {
	lineN          int
	text           string
	overwrittenByID *int
}

func splitLines(text, lineEnding string) []diffLine {
	parts := strings.Split(text, lineEnding)
	lines := make([]diffLine, len(parts))
	for i, p := range parts {
		lines[i] = diffLine{lineN: i + 1, text: p}
	}
	return lines
}

func joinLines(lines []diffLine, lineEnding string) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.text
	}
	return strings.Join(parts, lineEnding)
}

func lineEndingOf(text string) string {
	if strings.Contains(text, "\r\n") {
		return "\r\n"
	}
	return "\n"
}

// splitNonEmptyLines splits chunk.LinesRemove/LinesAdd the way Rust's
// str::lines() does: no trailing empty element for a final newline.
func splitNonEmptyLines(text string) []string {
	if text == "" {
		return nil
	}
	trimmed := strings.TrimSuffix(strings.TrimSuffix(text, "\n"), "\r")
	if trimmed == "" {
		return nil
	}
	return strings.Split(strings.ReplaceAll(trimmed, "\r\n", "\n"), "\n")
}

// findChunkMatches locates every contiguous run in window whose text lines
// equal chunkLinesRemove, returning the matched original line numbers per
// occurrence.
func findChunkMatches(chunkLinesRemove []string, window []diffLine) ([][]int, bool) {
	chunkLen := len(chunkLinesRemove)
	winLen := len(window)
	if chunkLen == 0 || winLen < chunkLen {
		return nil, false
	}
	var matches [][]int
	for i := 0; i+chunkLen <= winLen; i++ {
		ok := true
		for j := 0; j < chunkLen; j++ {
			if window[i+j].text != chunkLinesRemove[j] {
				ok = false
				break
			}
		}
		if ok {
			positions := make([]int, chunkLen)
			for j := 0; j < chunkLen; j++ {
				positions[j] = window[i+j].lineN
			}
			matches = append(matches, positions)
		}
	}
	return matches, len(matches) > 0
}

// applyChunkToTextFuzzy applies one chunk against linesOrig, sliding the
// search window outward by up to maxFuzzyN lines on both sides of
// [chunk.Line1, chunk.Line2) when an exact-offset match isn't found.
// Pure-insert chunks (LinesRemove empty) splice at Line1 unconditionally.
func applyChunkToTextFuzzy(chunkID int, linesOrig []diffLine, chunk DiffChunk, maxFuzzyN int) ([]diffLine, error) {
	removeLines := splitNonEmptyLines(chunk.LinesRemove)
	addLines := splitNonEmptyLines(chunk.LinesAdd)
	id := chunkID
	addDiffLines := make([]diffLine, len(addLines))
	for i, t := range addLines {
		addDiffLines[i] = diffLine{text: t, overwrittenByID: &id}
	}

	if len(removeLines) == 0 {
		var out []diffLine
		i := 0
		for ; i < len(linesOrig); i++ {
			l := linesOrig[i]
			if !(l.lineN < chunk.Line1 || l.overwrittenByID != nil) {
				break
			}
			out = append(out, l)
		}
		out = append(out, addDiffLines...)
		out = append(out, linesOrig[i:]...)
		return out, nil
	}

	for fuzzyN := 0; fuzzyN <= maxFuzzyN; fuzzyN++ {
		searchFrom := chunk.Line1 - fuzzyN
		if searchFrom < 0 {
			searchFrom = 0
		}
		searchTill := chunk.Line2 - 1 + fuzzyN

		var window []diffLine
		for _, l := range linesOrig {
			if l.overwrittenByID == nil && l.lineN >= searchFrom && l.lineN <= searchTill {
				window = append(window, l)
			}
		}

		matches, ok := findChunkMatches(removeLines, window)
		if !ok {
			if fuzzyN >= maxFuzzyN {
				return nil, errPatchChunkNotFound
			}
			continue
		}
		best := matches[0]
		matched := make(map[int]bool, len(best))
		for _, n := range best {
			matched[n] = true
		}
		lastMatched := best[len(best)-1]

		var out []diffLine
		for _, l := range linesOrig {
			if l.lineN == lastMatched {
				out = append(out, addDiffLines...)
			}
			if !matched[l.lineN] {
				out = append(out, l)
			}
		}
		if len(out) == 0 {
			return nil, errPatchApplyEmpty
		}
		return out, nil
	}
	return nil, errPatchChunkNotFound
}
