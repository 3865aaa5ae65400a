package catalog

import (
	"strings"

	"gopkg.in/yaml.v3"
)

type dumpDatabase struct {
	Name        string           `yaml:"name"`
	Identifier  string           `yaml:"identifier"`
	Collections []dumpCollection `yaml:"collections,omitempty"`
}

type dumpCollection struct {
	Name       string        `yaml:"name"`
	Identifier string        `yaml:"identifier"`
	DocParts   []dumpDocPart `yaml:"docparts,omitempty"`
	Indexes    []dumpIndex   `yaml:"indexes,omitempty"`
}

type dumpDocPart struct {
	Path       string             `yaml:"path"`
	Identifier string             `yaml:"identifier"`
	Columns    []string           `yaml:"columns,omitempty"`
	Indexes    []dumpDocPartIndex `yaml:"indexes,omitempty"`
}

type dumpIndex struct {
	Name       string   `yaml:"name"`
	Identifier string   `yaml:"identifier"`
	Unique     bool     `yaml:"unique,omitempty"`
	Fields     []string `yaml:"fields"`
}

type dumpDocPartIndex struct {
	Identifier string   `yaml:"identifier"`
	Unique     bool     `yaml:"unique,omitempty"`
	Columns    []string `yaml:"columns"`
}

// Dump renders the catalog as YAML in a deterministic order. Two snapshots
// describing the same schema dump identically.
func (s *Snapshot) Dump() string {
	var dbs []dumpDatabase
	for _, db := range s.Databases() {
		ddb := dumpDatabase{Name: db.name, Identifier: db.identifier}
		for _, c := range db.Collections() {
			dc := dumpCollection{Name: c.name, Identifier: c.identifier}
			for _, dp := range c.DocParts() {
				ddp := dumpDocPart{Path: dp.ref.String(), Identifier: dp.identifier}
				for _, col := range dp.Columns() {
					ddp.Columns = append(ddp.Columns, describeColumn(col))
				}
				for _, dpi := range dp.DocPartIndexes() {
					ddpi := dumpDocPartIndex{Identifier: dpi.identifier, Unique: dpi.unique}
					for _, col := range dpi.columns {
						ddpi.Columns = append(ddpi.Columns, describeIndexKey(col.Identifier, col.Descending))
					}
					ddp.Indexes = append(ddp.Indexes, ddpi)
				}
				dc.DocParts = append(dc.DocParts, ddp)
			}
			for _, idx := range c.Indexes() {
				di := dumpIndex{Name: idx.name, Identifier: idx.identifier, Unique: idx.unique}
				for _, f := range idx.fields {
					key := f.Name
					if !f.Path.IsRoot() {
						key = f.Path.String() + "." + key
					}
					di.Fields = append(di.Fields, describeIndexKey(key, f.Descending))
				}
				dc.Indexes = append(dc.Indexes, di)
			}
			ddb.Collections = append(ddb.Collections, dc)
		}
		dbs = append(dbs, ddb)
	}

	var buf strings.Builder
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(dbs); err != nil {
		panic(err)
	}
	enc.Close()
	return buf.String()
}

func describeColumn(col Column) string {
	var buf strings.Builder
	buf.WriteString(col.Identifier())
	if f, ok := col.(*Field); ok {
		buf.WriteString(" (")
		buf.WriteString(f.name)
		buf.WriteString(":")
		buf.WriteString(f.typ.String())
		buf.WriteString(")")
	} else {
		buf.WriteString(" (scalar:")
		buf.WriteString(col.Type().String())
		buf.WriteString(")")
	}
	return buf.String()
}

func describeIndexKey(key string, desc bool) string {
	if desc {
		return key + " desc"
	}
	return key
}
