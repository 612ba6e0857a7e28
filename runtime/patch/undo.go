package patch

// Reverse builds the inverse batch for results previously produced by
// Apply, so it can be fed straight back into Apply to undo them. Edit
// chunks swap LinesRemove/LinesAdd and recompute Line2 from the new
// LinesRemove length, mirroring original_source's undo_chunks (mem::swap +
// line2 recompute). Non-edit actions invert to their natural counterpart:
// add undoes to remove, remove undoes to add (using the RemovedText Apply
// captured), and rename swaps from/into.
func Reverse(chunks []DiffChunk, results []Result) []DiffChunk {
	removedByFile := make(map[string]string)
	for _, r := range results {
		if r.FileNameDelete != nil && r.RemovedText != nil {
			removedByFile[*r.FileNameDelete] = *r.RemovedText
		}
	}

	out := make([]DiffChunk, len(chunks))
	for i, c := range chunks {
		switch c.FileAction {
		case ActionEdit:
			rev := c
			rev.LinesRemove, rev.LinesAdd = c.LinesAdd, c.LinesRemove
			rev.Line2 = rev.Line1 + countLines(rev.LinesRemove)
			out[i] = rev
		case ActionAdd:
			out[i] = DiffChunk{FileName: c.FileName, FileAction: ActionRemove, Line1: 1, Line2: 1}
		case ActionRemove:
			out[i] = DiffChunk{
				FileName:   c.FileName,
				FileAction: ActionAdd,
				Line1:      1, Line2: 1,
				LinesAdd: removedByFile[c.FileName],
			}
		case ActionRename:
			out[i] = DiffChunk{FileName: c.FileNameRename, FileAction: ActionRename, FileNameRename: c.FileName, Line1: 1, Line2: 1}
		default:
			out[i] = c
		}
	}
	return out
}

func countLines(text string) int {
	return len(splitNonEmptyLines(text))
}
