// Package pathref identifies nesting levels of documents within a collection.
//
// A PathRef names the relational doc part that holds the values found at
// a particular nesting shape: the root document, the object or array under
// a key, or an array nested directly inside another array.
//
// Object values and arrays found under the same key share one PathRef (and
// one doc part); array elements carry their index in the seq column.
// Arrays nested directly inside arrays get an array-element child named
// `$N`, where N is the array dimension (`$2` for the elements of an array
// inside an array, `$3` one level deeper, and so on).
//
// PathRefs are immutable, interned and safe to share between goroutines.
// Equality is structural (see Equal); interning only makes it cheap.
package pathref

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

// ErrInvalidReference is returned when navigating past the root or when
// building a child whose name does not match its nesting kind.
var ErrInvalidReference = errors.New("invalid path reference")

const arrayElementPrefix = "$"

type PathRef struct {
	parent *PathRef
	name   string
	array  bool
	dim    int // array dimension of an array-element level, 0 otherwise
	depth  int
	hash   uint64
	key    string
}

type internKey struct {
	parent *PathRef
	name   string
	array  bool
}

var (
	root     = &PathRef{hash: xxhash.Sum64String("")}
	interned = xsync.NewMapOf[internKey, *PathRef]()
)

// Root returns the PathRef of the top-level document.
func Root() *PathRef {
	return root
}

// FromSequence builds the PathRef named by names, the inverse of Sequence.
// Names of the `$N` form denote array-element levels.
func FromSequence(names []string) (*PathRef, error) {
	p := root
	for _, name := range names {
		_, isArray := parseArrayElementName(name)
		child, err := p.Child(name, isArray)
		if err != nil {
			return nil, err
		}
		p = child
	}
	return p, nil
}

// MustFromSequence is FromSequence for names known to be valid.
func MustFromSequence(names ...string) *PathRef {
	p, err := FromSequence(names)
	if err != nil {
		panic(err)
	}
	return p
}

// Child returns the nested level called name. Array-element children must
// be named `$N` with N one more than the array dimension of p; object
// children must not use that form.
func (p *PathRef) Child(name string, isArrayElement bool) (*PathRef, error) {
	dim, looksLikeArray := parseArrayElementName(name)
	if isArrayElement {
		if p.IsRoot() || !looksLikeArray || dim != p.nextDimension() {
			return nil, refErrf(p, "array element child must be named %s, got %q", ArrayElementName(p.nextDimension()), name)
		}
	} else if looksLikeArray {
		return nil, refErrf(p, "object child %q uses the reserved array element form", name)
	}

	k := internKey{p, name, isArrayElement}
	if c, ok := interned.Load(k); ok {
		return c, nil
	}
	c, _ := interned.LoadOrCompute(k, func() *PathRef {
		return p.newChild(name, isArrayElement, dim)
	})
	return c, nil
}

// ArrayChild returns the level that holds arrays nested directly inside the
// array elements stored at p.
func (p *PathRef) ArrayChild() (*PathRef, error) {
	return p.Child(ArrayElementName(p.nextDimension()), true)
}

func (p *PathRef) newChild(name string, isArray bool, dim int) *PathRef {
	d := xxhash.New()
	var buf [9]byte
	binary.LittleEndian.PutUint64(buf[:8], p.hash)
	if isArray {
		buf[8] = 1
	}
	d.Write(buf[:])
	d.WriteString(name)

	var key string
	if p.IsRoot() {
		key = strconv.Quote(name)
	} else {
		key = p.key + "." + strconv.Quote(name)
	}

	c := &PathRef{
		parent: p,
		name:   name,
		array:  isArray,
		depth:  p.depth + 1,
		hash:   d.Sum64(),
		key:    key,
	}
	if isArray {
		c.dim = dim
	}
	return c
}

func (p *PathRef) nextDimension() int {
	if p.array {
		return p.dim + 1
	}
	return 2
}

// ArrayElementName returns the name of an array-element level of the given
// dimension.
func ArrayElementName(dim int) string {
	return arrayElementPrefix + strconv.Itoa(dim)
}

func parseArrayElementName(name string) (int, bool) {
	if !strings.HasPrefix(name, arrayElementPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(name[len(arrayElementPrefix):])
	if err != nil || n < 2 || ArrayElementName(n) != name {
		return 0, false
	}
	return n, true
}

func (p *PathRef) IsRoot() bool {
	return p.parent == nil
}

// Parent returns the enclosing level, failing with ErrInvalidReference on
// the root.
func (p *PathRef) Parent() (*PathRef, error) {
	if p.parent == nil {
		return nil, refErrf(p, "root has no parent")
	}
	return p.parent, nil
}

func (p *PathRef) Name() string         { return p.name }
func (p *PathRef) IsArrayElement() bool { return p.array }
func (p *PathRef) Depth() int           { return p.depth }
func (p *PathRef) Hash() uint64         { return p.hash }

// ArrayDimension returns N for `$N` levels and 1 for other non-root levels,
// whose array elements are one-dimensional.
func (p *PathRef) ArrayDimension() int {
	switch {
	case p.array:
		return p.dim
	case p.IsRoot():
		return 0
	default:
		return 1
	}
}

// Key returns an unambiguous string form usable as a map key. Two PathRefs
// have the same key iff they are Equal.
func (p *PathRef) Key() string {
	return p.key
}

// Sequence returns the names from the outermost level down to p, root
// omitted.
func (p *PathRef) Sequence() []string {
	names := make([]string, p.depth)
	for c := p; c.parent != nil; c = c.parent {
		names[c.depth-1] = c.name
	}
	return names
}

// Equal compares ancestor chains by name and kind.
func (p *PathRef) Equal(o *PathRef) bool {
	for a, b := p, o; ; a, b = a.parent, b.parent {
		if a == b {
			return true
		}
		if a == nil || b == nil || a.depth != b.depth || a.hash != b.hash || a.name != b.name || a.array != b.array {
			return false
		}
	}
}

func (p *PathRef) String() string {
	if p.IsRoot() {
		return "<root>"
	}
	return strings.Join(p.Sequence(), ".")
}

// Error describes a failed PathRef navigation.
type Error struct {
	Ref *PathRef
	Msg string
}

func refErrf(p *PathRef, format string, args ...any) error {
	return &Error{p, fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrInvalidReference, e.Ref, e.Msg)
}

func (e *Error) Unwrap() error {
	return ErrInvalidReference
}
