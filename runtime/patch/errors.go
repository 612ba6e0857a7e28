package patch

import "errors"

var (
	errPatchChunkNotFound = errors.New("chunk text not found in original text")
	errPatchApplyEmpty    = errors.New("error applying new lines")
)
