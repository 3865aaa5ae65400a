package catalog

import (
	"strconv"
	"strings"
)

// MaxIdentifierLength matches the usual relational limit on unquoted names.
const MaxIdentifierLength = 63

var reservedColumnIdentifiers = map[string]bool{
	"did": true,
	"rid": true,
	"pid": true,
	"seq": true,
}

// IsReservedColumnIdentifier reports whether id names a structural column.
func IsReservedColumnIdentifier(id string) bool {
	return reservedColumnIdentifiers[id]
}

// sanitize lowercases s, replaces anything outside [a-z0-9_] with '_' and
// makes sure the result starts with a letter or underscore.
func sanitize(s string) string {
	var buf strings.Builder
	buf.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			buf.WriteRune(r)
		default:
			buf.WriteByte('_')
		}
	}
	out := buf.String()
	if out == "" || (out[0] >= '0' && out[0] <= '9') {
		out = "_" + out
	}
	return out
}

// uniqueIdentifier truncates base to MaxIdentifierLength and appends _2,
// _3, ... until taken reports false.
func uniqueIdentifier(base string, taken func(string) bool) string {
	id := truncate(base, MaxIdentifierLength)
	if !taken(id) {
		return id
	}
	for n := 2; ; n++ {
		suffix := "_" + strconv.Itoa(n)
		id = truncate(base, MaxIdentifierLength-len(suffix)) + suffix
		if !taken(id) {
			return id
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func databaseIdentifierBase(name string) string {
	return sanitize(name)
}

func collectionIdentifierBase(name string) string {
	return sanitize(name)
}

func docPartIdentifierBase(collectionIdentifier string, seq []string) string {
	var buf strings.Builder
	buf.WriteString(collectionIdentifier)
	for _, name := range seq {
		buf.WriteByte('_')
		buf.WriteString(strings.TrimPrefix(sanitize(name), "_"))
	}
	return buf.String()
}

func fieldIdentifierBase(name string, typ FieldType) string {
	// keep room for the type suffix when truncating
	return truncate(sanitize(name), MaxIdentifierLength-2) + "_" + string(typ.Char())
}

func scalarIdentifierBase(typ FieldType) string {
	return "v_" + string(typ.Char())
}
