package patch

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/chatcore/engine/runtime/errs"
	"github.com/chatcore/engine/runtime/message"
)

// Result is the filesystem effect one chunk (or group of same-file edit
// chunks) produced, mirroring original_source's ApplyDiffResult.
type Result struct {
	FileText       *string
	FileNameEdit   *string
	FileNameDelete *string
	FileNameAdd    *string
	// RemovedText captures the prior file content for a remove action so
	// Reverse can restore it without re-reading from disk; rename results
	// leave it nil. original_source has no undo path for non-edit actions;
	// this engine adds one.
	RemovedText *string
}

// Outcome reports whether chunk i of the batch applied successfully.
type Outcome struct {
	ChunkIndex int
	Applied    bool
	CanUnapply bool
	Detail     string
}

// Engine applies and reverses DiffChunk batches against a filesystem. FS is
// an afero.Fs so callers can inject afero.NewMemMapFs() in tests instead of
// touching the real disk, the same dependency the teacher pulls in
// (indirectly, via testcontainers) and this engine promotes to direct use
// for its one genuinely stateful component.
//
// Verifier and Indexer are the out-of-process collaborators §4.7 steps 5-6
// require (an AST/lint backend and an async AST indexer); both are
// correctly out of this module's scope, so Engine only depends on their
// interfaces, the same opt-out-with-nil shape diffchunk.go's Resolver uses.
type Engine struct {
	FS       afero.Fs
	Verifier Verifier
	Indexer  Indexer

	// Checkpoints turns on stamping a message.Checkpoint at every
	// successful commit, mirroring ThreadParams.CheckpointsEnabled
	// (SPEC_FULL.md §C).
	Checkpoints bool
}

// Option configures an Engine at construction, the same functional-option
// shape the teacher's runtime.RuntimeOption/RunOption use.
type Option func(*Engine)

// WithVerifier injects the AST/lint error counter Apply uses to reject an
// edit batch that would raise a file's error count (§4.7 step 5).
func WithVerifier(v Verifier) Option { return func(e *Engine) { e.Verifier = v } }

// WithIndexer injects the async AST indexer Apply enqueues committed paths
// into (§4.7 step 6).
func WithIndexer(idx Indexer) Option { return func(e *Engine) { e.Indexer = idx } }

// WithCheckpoints turns on checkpoint stamping at commit time.
func WithCheckpoints(enabled bool) Option { return func(e *Engine) { e.Checkpoints = enabled } }

// New builds an Engine backed by fs.
func New(fs afero.Fs, opts ...Option) *Engine {
	e := &Engine{FS: fs}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// groupPlan is one edit group's in-memory result, computed before Apply
// commits anything to FS.
type groupPlan struct {
	fileName string
	original string
	newText  string
	indices  []int
	failed   bool
}

// otherPlan is one validated-but-not-yet-committed add/remove/rename chunk.
type otherPlan struct {
	index  int
	action Action
}

// Apply commits every chunk in the batch as a single all-or-nothing
// operation (testable property 8): chunks are first validated and
// fuzzy-matched entirely in memory (including the §4.7 step 5 AST/lint
// gate for edit groups), and FS is only touched once every chunk in the
// batch has a valid plan. If any chunk's plan fails, Apply writes nothing
// and every Outcome reports Applied=false — the workspace is left
// byte-for-byte as it was. Apply returns a non-nil error only for
// conditions a batch can never recover from (e.g. the filesystem itself
// failing mid-commit); content-level failures are reported per chunk via
// Outcome instead.
func (e *Engine) Apply(chunks []DiffChunk) ([]Result, []Outcome, *message.Checkpoint, error) {
	outcomes := make([]Outcome, len(chunks))
	for i := range outcomes {
		outcomes[i] = Outcome{ChunkIndex: i}
	}

	editGroups := make(map[string][]int)
	for i, c := range chunks {
		if c.FileAction == ActionEdit {
			editGroups[c.FileName] = append(editGroups[c.FileName], i)
		}
	}
	fileNames := make([]string, 0, len(editGroups))
	for name := range editGroups {
		fileNames = append(fileNames, name)
	}
	sort.Strings(fileNames)

	anyFailed := false

	var plans []groupPlan
	for _, name := range fileNames {
		plan, err := e.planEditGroup(name, editGroups[name], chunks, outcomes)
		if err != nil {
			anyFailed = true
			continue
		}
		if plan.failed {
			anyFailed = true
		}
		plans = append(plans, plan)
	}

	var others []otherPlan
	for i, c := range chunks {
		switch c.FileAction {
		case ActionAdd:
			if err := e.checkAdd(c); err != nil {
				outcomes[i] = Outcome{ChunkIndex: i, Detail: err.Error()}
				anyFailed = true
				continue
			}
			others = append(others, otherPlan{index: i, action: ActionAdd})
		case ActionRemove:
			if err := e.checkRemove(c); err != nil {
				outcomes[i] = Outcome{ChunkIndex: i, Detail: err.Error()}
				anyFailed = true
				continue
			}
			others = append(others, otherPlan{index: i, action: ActionRemove})
		case ActionRename:
			if err := e.checkRename(c); err != nil {
				outcomes[i] = Outcome{ChunkIndex: i, Detail: err.Error()}
				anyFailed = true
				continue
			}
			others = append(others, otherPlan{index: i, action: ActionRename})
		}
	}

	if anyFailed {
		for i := range outcomes {
			outcomes[i].Applied = false
			outcomes[i].CanUnapply = false
			if outcomes[i].Detail == "" {
				outcomes[i].Detail = "chunk not applied: batch rejected due to a failure elsewhere in the set"
			}
		}
		return nil, outcomes, nil, nil
	}

	var results []Result
	var touched []string
	for _, plan := range plans {
		fileName, newText := plan.fileName, plan.newText
		if err := afero.WriteFile(e.FS, fileName, []byte(newText), 0o644); err != nil {
			return nil, nil, nil, fmt.Errorf("write %s: %w", fileName, err)
		}
		results = append(results, Result{FileText: &newText, FileNameEdit: &fileName})
		touched = append(touched, fileName)
	}

	// CanUnapply is false for all three below (outcomeFor's last arg),
	// mirroring original_source's other_actions-excludes-unapply rule, even
	// though Reverse supports undoing every action kind.
	for _, o := range others {
		c := chunks[o.index]
		var res Result
		var err error
		switch o.action {
		case ActionAdd:
			res, err = e.applyAdd(c)
		case ActionRemove:
			res, err = e.applyRemove(c)
		case ActionRename:
			res, err = e.applyRename(c)
		}
		if err != nil {
			return nil, nil, nil, fmt.Errorf("commit chunk %d: %w", o.index, err)
		}
		outcomes[o.index] = outcomeFor(o.index, nil, false)
		results = append(results, res)
		touched = append(touched, c.FileName)
	}

	e.awaitIndex(touched)

	var checkpoint *message.Checkpoint
	if e.Checkpoints && len(results) > 0 {
		checkpoint = &message.Checkpoint{
			ID:        uuid.NewString(),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
	}

	return results, outcomes, checkpoint, nil
}

func outcomeFor(idx int, err error, canUnapply bool) Outcome {
	if err != nil {
		return Outcome{ChunkIndex: idx, Detail: err.Error()}
	}
	return Outcome{ChunkIndex: idx, Applied: true, CanUnapply: canUnapply, Detail: "chunk applied successfully"}
}

// planEditGroup fuzzy-applies every chunk addressing fileName against one
// read of its current content and, when a Verifier is configured, runs the
// §4.7 step 5 error-count gate against the result. It never writes to FS.
func (e *Engine) planEditGroup(fileName string, indices []int, chunks []DiffChunk, outcomes []Outcome) (groupPlan, error) {
	data, err := afero.ReadFile(e.FS, fileName)
	if err != nil {
		for _, idx := range indices {
			outcomes[idx] = Outcome{ChunkIndex: idx, Detail: fmt.Sprintf("failed to read file: %v", err)}
		}
		return groupPlan{}, fmt.Errorf("read %s: %w", fileName, err)
	}
	original := string(data)
	lineEnding := lineEndingOf(original)
	lines := splitLines(original, lineEnding)

	sort.Ints(indices)
	failed := false
	for _, idx := range indices {
		newLines, err := applyChunkToTextFuzzy(idx, lines, chunks[idx], MaxFuzzyN)
		if err != nil {
			outcomes[idx] = Outcome{ChunkIndex: idx, Detail: err.Error()}
			failed = true
			continue
		}
		lines = newLines
		outcomes[idx] = Outcome{ChunkIndex: idx, Applied: true, CanUnapply: true, Detail: "chunk applied successfully"}
	}

	newText := joinLines(lines, lineEnding)
	plan := groupPlan{fileName: fileName, original: original, newText: newText, indices: indices, failed: failed}
	if failed || e.Verifier == nil {
		return plan, nil
	}

	before, err := e.Verifier.CountErrors(fileName, original)
	if err != nil {
		return plan, fmt.Errorf("verify %s (pre-edit): %w", fileName, err)
	}
	after, err := e.Verifier.CountErrors(fileName, newText)
	if err != nil {
		return plan, fmt.Errorf("verify %s (post-edit): %w", fileName, err)
	}
	if after > before {
		verr := errs.Newf(errs.PatchIntroducesErrors,
			"editing %q would raise the error count from %d to %d", fileName, before, after)
		for _, idx := range indices {
			outcomes[idx] = Outcome{ChunkIndex: idx, Detail: verr.Error()}
		}
		plan.failed = true
	}
	return plan, nil
}

// checkAdd validates ActionAdd's precondition (the target must not already
// exist) without touching FS.
func (e *Engine) checkAdd(c DiffChunk) error {
	if exists, _ := afero.Exists(e.FS, c.FileName); exists {
		return errs.Newf(errs.PatchInvalid, "cannot add %q: file already exists", c.FileName)
	}
	return nil
}

// checkRemove validates ActionRemove's precondition (the target must
// exist) without touching FS.
func (e *Engine) checkRemove(c DiffChunk) error {
	if exists, _ := afero.Exists(e.FS, c.FileName); !exists {
		return errs.Newf(errs.PatchInvalid, "cannot remove %q: file does not exist", c.FileName)
	}
	return nil
}

// checkRename validates ActionRename's preconditions (source exists,
// destination does not) without touching FS.
func (e *Engine) checkRename(c DiffChunk) error {
	from, into := c.FileNameRename, c.FileName
	if exists, _ := afero.Exists(e.FS, into); exists {
		return errs.Newf(errs.PatchInvalid, "cannot rename into %q: already exists", into)
	}
	if exists, _ := afero.Exists(e.FS, from); !exists {
		return errs.Newf(errs.PatchInvalid, "cannot rename %q: does not exist", from)
	}
	return nil
}

func (e *Engine) applyAdd(c DiffChunk) (Result, error) {
	dir := filepath.Dir(c.FileName)
	if exists, _ := afero.DirExists(e.FS, dir); !exists {
		if err := e.FS.MkdirAll(dir, 0o755); err != nil {
			return Result{}, errs.Newf(errs.PatchInvalid, "cannot create %q: parent dir could not be created: %v", c.FileName, err)
		}
	}
	if exists, _ := afero.Exists(e.FS, c.FileName); exists {
		return Result{}, errs.Newf(errs.PatchInvalid, "cannot add %q: file already exists", c.FileName)
	}
	text := c.LinesAdd
	if err := afero.WriteFile(e.FS, c.FileName, []byte(text), 0o644); err != nil {
		return Result{}, fmt.Errorf("write %s: %w", c.FileName, err)
	}
	name := c.FileName
	return Result{FileText: &text, FileNameAdd: &name}, nil
}

func (e *Engine) applyRemove(c DiffChunk) (Result, error) {
	isFile, _ := afero.Exists(e.FS, c.FileName)
	if !isFile {
		return Result{}, errs.Newf(errs.PatchInvalid, "cannot remove %q: file does not exist", c.FileName)
	}
	prior, err := afero.ReadFile(e.FS, c.FileName)
	if err != nil {
		return Result{}, fmt.Errorf("read %s before remove: %w", c.FileName, err)
	}
	if err := e.FS.Remove(c.FileName); err != nil {
		return Result{}, fmt.Errorf("remove %s: %w", c.FileName, err)
	}
	name := c.FileName
	priorText := string(prior)
	return Result{FileNameDelete: &name, RemovedText: &priorText}, nil
}

func (e *Engine) applyRename(c DiffChunk) (Result, error) {
	from, into := c.FileNameRename, c.FileName
	if exists, _ := afero.Exists(e.FS, into); exists {
		return Result{}, errs.Newf(errs.PatchInvalid, "cannot rename into %q: already exists", into)
	}
	if exists, _ := afero.Exists(e.FS, from); !exists {
		return Result{}, errs.Newf(errs.PatchInvalid, "cannot rename %q: does not exist", from)
	}
	if err := e.FS.Rename(from, into); err != nil {
		return Result{}, fmt.Errorf("rename %s -> %s: %w", from, into, err)
	}
	fromCopy, intoCopy := from, into
	return Result{FileNameDelete: &fromCopy, FileNameAdd: &intoCopy}, nil
}
