// Package patch implements the Patch Engine (§4.7): validating, fuzzy-
// applying, and atomically committing the DiffChunk batches a patch tool
// produces, plus their reverse (undo).
//
// Grounded on original_source/src/diffs.rs and
// original_source/src/tools/tool_patch_aux/diff_apply.rs — the Rust
// implementation this spec was distilled from — translated into the
// teacher's idiom: small, independently testable pure functions
// (fuzzy.go) wrapped by an Engine that owns the one side effect (writing
// to a filesystem), the way the teacher separates runtime/agent/model's
// pure turn-assembly helpers from runtime/agent/runtime's side-effecting
// orchestration.
package patch

import (
	"fmt"

	"github.com/chatcore/engine/runtime/errs"
)

// Action identifies what a DiffChunk does to its target file.
type Action string

const (
	ActionEdit   Action = "edit"
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
	ActionRename Action = "rename"
)

// MaxFuzzyN bounds how many lines apply_chunk_to_text_fuzzy slides its
// search window by before giving up (original_source diff_apply.rs).
const MaxFuzzyN = 10

// DiffChunk is one hunk a patch tool produced, addressed by a 1-based
// half-open [Line1, Line2) range (Line2 exclusive) against the file's
// current content.
type DiffChunk struct {
	FileName         string
	FileAction       Action
	FileNameRename   string // only meaningful when FileAction == ActionRename
	Line1, Line2     int
	LinesRemove      string
	LinesAdd         string
	ApplicationDetails string
}

// Validate enforces the structural invariants every chunk must satisfy
// before fuzzy matching runs.
func (c DiffChunk) Validate() error {
	if c.Line1 < 1 {
		return errs.New(errs.PatchInvalid, "invalid line range: line1 cannot be < 1")
	}
	if c.Line2 < c.Line1 {
		return errs.New(errs.PatchInvalid, "invalid line range: line2 cannot be < line1")
	}
	switch c.FileAction {
	case ActionEdit, ActionAdd, ActionRemove, ActionRename:
	default:
		return errs.Newf(errs.PatchInvalid, "invalid file_action %q: must be one of edit, add, rename, remove", c.FileAction)
	}
	if c.FileNameRename != "" && c.FileAction != ActionRename {
		return errs.Newf(errs.PatchInvalid, "file_name_rename is not allowed for file_action %q", c.FileAction)
	}
	return nil
}

// Resolver locates the real path an ambiguous or slightly-off file_name
// refers to, mirroring at_file::file_repair_candidates. Callers without a
// workspace index can pass nil; edit chunks then require an exact,
// already-existing FileName.
type Resolver interface {
	// Candidates returns exact-path matches for name (ideally length 0 or 1
	// for an unambiguous resolution) and, separately, fuzzy suggestions to
	// surface in an error when there is no exact match.
	Candidates(name string) (exact []string, fuzzy []string)
}

// CorrectAndValidate resolves each edit chunk's FileName against resolver
// (when non-nil) and validates every chunk's structure. It mutates
// chunks[i].FileName in place when a resolver supplies a single unambiguous
// candidate, matching original_source's correct_and_validate_chunks.
func CorrectAndValidate(chunks []DiffChunk, resolver Resolver, fileExists func(string) bool) error {
	for i := range chunks {
		c := &chunks[i]
		if c.FileAction == ActionEdit && resolver != nil && !fileExists(c.FileName) {
			exact, fuzzy := resolver.Candidates(c.FileName)
			switch {
			case len(exact) > 1:
				return errs.Newf(errs.PatchAmbiguous, "file_name %q is ambiguous: could be %v", c.FileName, exact)
			case len(exact) == 0 && len(fuzzy) > 0:
				return errs.Newf(errs.PatchInvalid, "file_name %q not found; similar paths: %v", c.FileName, fuzzy)
			case len(exact) == 0:
				return errs.Newf(errs.PatchInvalid, "file_name %q not found", c.FileName)
			}
			c.FileName = exact[0]
			if !fileExists(c.FileName) {
				return errs.Newf(errs.PatchInvalid, "file_name %q not found; similar paths: %v", c.FileName, fuzzy)
			}
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("chunk %d (%s): %w", i, c.FileName, err)
		}
	}
	return nil
}
