package patch

import "time"

// Verifier counts the AST/lint error symbols a file's text would produce,
// mirroring original_source's ast_markup error-count gate (§4.7 step 5).
// Callers without a live AST/lint backend can pass nil; Apply then skips
// the verification gate entirely rather than rejecting anything, the same
// opt-out shape Resolver gives CorrectAndValidate.
type Verifier interface {
	// CountErrors returns the number of error symbols and lint messages
	// text would produce if committed as fileName's content.
	CountErrors(fileName, text string) (int, error)
}

// Indexer enqueues paths for asynchronous AST re-indexing after a commit
// (§4.7 step 6). Callers without a live indexer can pass nil; awaitIndex
// then returns immediately.
type Indexer interface {
	// Enqueue schedules paths for re-indexing and returns a channel that
	// closes once indexing of all of them completes.
	Enqueue(paths []string) (<-chan struct{}, error)
}

// IndexWait bounds how long Apply waits for the Indexer to catch up after a
// commit, matching the spec's "wait up to 20s" step. The wait is best
// effort: a timeout never undoes an already-committed batch.
const IndexWait = 20 * time.Second

// awaitIndex enqueues paths with e.Indexer and blocks up to IndexWait for
// indexing to finish. A nil Indexer, an Enqueue error, or a timeout are all
// silently tolerated — freshness of the AST index is advisory, not a
// correctness gate for a commit that has already happened.
func (e *Engine) awaitIndex(paths []string) {
	if e.Indexer == nil || len(paths) == 0 {
		return
	}
	done, err := e.Indexer.Enqueue(paths)
	if err != nil || done == nil {
		return
	}
	timer := time.NewTimer(IndexWait)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	}
}
