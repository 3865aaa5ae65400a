package docrel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/andreyvit/docrel/merge"
	"github.com/andreyvit/docrel/pathref"
	"github.com/andreyvit/docrel/rid"
)

var (
	// ErrSchemaNameConflict is returned when a document key cannot be mapped
	// because it collides with a reserved internal name.
	ErrSchemaNameConflict = errors.New("schema name conflict")

	// ErrSchemaMergeConflict is returned by Commit when a concurrent schema
	// change makes this transaction's changes inapplicable. Retrying the
	// whole transaction is expected to succeed.
	ErrSchemaMergeConflict = merge.ErrConflict

	ErrAllocatorUnavailable = rid.ErrUnavailable
	ErrInvalidReference     = pathref.ErrInvalidReference

	ErrTxClosed   = errors.New("transaction already committed or aborted")
	ErrNotFound   = errors.New("document not found")
	ErrUnknownRef = errors.New("unknown database or collection")
)

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

// SchemaNameError reports a document key that cannot become a field.
type SchemaNameError struct {
	Database   string
	Collection string
	Path       *pathref.PathRef
	Key        string
	Msg        string
}

func nameErrf(database, collection string, path *pathref.PathRef, key string, format string, args ...any) error {
	return &SchemaNameError{database, collection, path, key, fmt.Sprintf(format, args...)}
}

func (e *SchemaNameError) Error() string {
	return fmt.Sprintf("%v: %s.%s/%v: key %q: %s", ErrSchemaNameConflict, e.Database, e.Collection, e.Path, e.Key, e.Msg)
}

func (e *SchemaNameError) Is(target error) bool {
	return target == ErrSchemaNameConflict
}

// DocPartError reports malformed relational data of a doc part.
type DocPartError struct {
	Collection string
	DocPart    string
	Rid        int64
	Msg        string
	Err        error
}

func docPartErrf(collection, docPart string, rid int64, err error, format string, args ...any) error {
	return &DocPartError{collection, docPart, rid, fmt.Sprintf(format, args...), err}
}

func (e *DocPartError) Unwrap() error {
	return e.Err
}

func (e *DocPartError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Collection)
	if e.DocPart != "" {
		buf.WriteByte('.')
		buf.WriteString(e.DocPart)
	}
	if e.Rid != 0 {
		buf.WriteByte('#')
		buf.WriteString(strconv.FormatInt(e.Rid, 10))
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// BackendError wraps failures of the storage backend.
type BackendError struct {
	Op  string
	Err error
}

func backendErrf(op string, err error) error {
	return &BackendError{op, err}
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("docrel: backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
