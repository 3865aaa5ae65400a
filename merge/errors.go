package merge

import (
	"errors"
	"fmt"
)

var ErrConflict = errors.New("schema merge conflict")

// ConflictError names the rule that rejected a change, the entity path of
// the element's parent (database, collection and doc part path) and the
// element itself. The description of the committed and origin parents is
// only rendered when the error message is asked for.
type ConflictError struct {
	Rule    string
	Path    string
	Element string

	describe func() string
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("%v [%s] %s: %s", ErrConflict, e.Rule, e.Path, e.Element)
	if e.describe != nil {
		msg += ": " + e.describe()
	}
	return msg
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Result is the outcome of one merge step. The zero value is success.
type Result struct {
	conflict *ConflictError
}

func ok() Result {
	return Result{}
}

func conflict(rule, path, element string, describe func() string) Result {
	return Result{&ConflictError{Rule: rule, Path: path, Element: element, describe: describe}}
}

func (r Result) OK() bool {
	return r.conflict == nil
}

func (r Result) Err() error {
	if r.conflict == nil {
		return nil
	}
	return r.conflict
}
