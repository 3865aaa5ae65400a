package merge

import (
	"fmt"
	"slices"
	"strings"

	"github.com/andreyvit/docrel/catalog"
)

type fieldStep struct {
	m         *merger
	parent    *docPartStep
	field     *catalog.Field
	committed *catalog.DocPart // nil when the doc part is new to the committed snapshot
	origin    *catalog.DocPart
	builder   *catalog.DocPartBuilder
	remap     map[int]int
}

func (s *fieldStep) element() string {
	return fmt.Sprintf("field %q (%v) in %s", s.field.Name(), s.field.Type(), s.builder.Identifier())
}

// typeRival returns a committed field with the same name and another type
// that the transaction did not see.
func (s *fieldStep) typeRival() *catalog.Field {
	if s.committed == nil {
		return nil
	}
	for _, f := range s.committed.FieldsNamed(s.field.Name()) {
		if f.Type() == s.field.Type() {
			continue
		}
		if s.origin == nil || s.origin.Field(f.Name(), f.Type()) == nil {
			return f
		}
	}
	return nil
}

// parents describes the columns the committed and origin versions of the
// doc part hold under the field's name.
func (s *fieldStep) parents() string {
	return describeParent("committed", s.committed, s.field.Name()) + "; " + describeParent("origin", s.origin, s.field.Name())
}

func describeParent(label string, dp *catalog.DocPart, name string) string {
	if dp == nil {
		return label + " doc part absent"
	}
	fields := dp.FieldsNamed(name)
	if len(fields) == 0 {
		return fmt.Sprintf("%s %s has no %q", label, dp.Identifier(), name)
	}
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = fmt.Sprintf("%s (%v)", f.Identifier(), f.Type())
	}
	return fmt.Sprintf("%s %s has %s", label, dp.Identifier(), strings.Join(cols, ", "))
}

var fieldRules = ruleSet[fieldStep]{
	kind: "field",
	rules: []rule[fieldStep]{
		{
			id: "field.same-type-exists",
			applies: func(s *fieldStep) bool {
				return s.builder.Field(s.field.Name(), s.field.Type()) != nil
			},
			execute: func(s *fieldStep) Result {
				existing := s.builder.Field(s.field.Name(), s.field.Type())
				s.remap[s.field.Position()] = existing.Position()
				return ok()
			},
		},
		{
			id: "field.concurrent-type-conflict",
			applies: func(s *fieldStep) bool {
				return s.typeRival() != nil
			},
			execute: func(s *fieldStep) Result {
				rival := s.typeRival()
				return conflict("field.concurrent-type-conflict", s.parent.path(), s.element(), func() string {
					return fmt.Sprintf("a concurrent transaction added %q as %v; %s", rival.Name(), rival.Type(), s.parents())
				})
			},
		},
		{
			id: "field.identifier-taken",
			applies: func(s *fieldStep) bool {
				return s.builder.ColumnByIdentifier(s.field.Identifier()) != nil
			},
			execute: func(s *fieldStep) Result {
				return conflict("field.identifier-taken", s.parent.path(), s.element(), func() string {
					return fmt.Sprintf("column identifier %q is already in use; %s", s.field.Identifier(), s.parents())
				})
			},
		},
	},
	apply: func(s *fieldStep) Result {
		f := s.field
		if pos := s.builder.NextPosition(); pos != f.Position() {
			s.remap[f.Position()] = pos
			f = catalog.NewField(f.Name(), f.Identifier(), f.Type(), pos)
		}
		s.builder.AddField(f)
		return ok()
	},
	describe: (*fieldStep).element,
}

type scalarStep struct {
	m       *merger
	parent  *docPartStep
	scalar  *catalog.Scalar
	builder *catalog.DocPartBuilder
	remap   map[int]int
}

func (s *scalarStep) element() string {
	return fmt.Sprintf("scalar %v in %s", s.scalar.Type(), s.builder.Identifier())
}

var scalarRules = ruleSet[scalarStep]{
	kind: "scalar",
	rules: []rule[scalarStep]{
		{
			id: "scalar.same-type-exists",
			applies: func(s *scalarStep) bool {
				return s.builder.Scalar(s.scalar.Type()) != nil
			},
			execute: func(s *scalarStep) Result {
				s.remap[s.scalar.Position()] = s.builder.Scalar(s.scalar.Type()).Position()
				return ok()
			},
		},
		{
			id: "scalar.identifier-taken",
			applies: func(s *scalarStep) bool {
				return s.builder.ColumnByIdentifier(s.scalar.Identifier()) != nil
			},
			execute: func(s *scalarStep) Result {
				return conflict("scalar.identifier-taken", s.parent.path(), s.element(), func() string {
					return fmt.Sprintf("column identifier %q is already in use", s.scalar.Identifier())
				})
			},
		},
	},
	apply: func(s *scalarStep) Result {
		sc := s.scalar
		if pos := s.builder.NextPosition(); pos != sc.Position() {
			s.remap[sc.Position()] = pos
			sc = catalog.NewScalar(sc.Identifier(), sc.Type(), pos)
		}
		s.builder.AddScalar(sc)
		return ok()
	},
	describe: (*scalarStep).element,
}

type docPartIndexStep struct {
	m       *merger
	parent  *docPartStep
	index   *catalog.DocPartIndex
	change  catalog.ChangeType
	builder *catalog.DocPartBuilder
}

func (s *docPartIndexStep) element() string {
	return fmt.Sprintf("doc part index %s (%v)", s.index.Identifier(), s.change)
}

var docPartIndexRules = ruleSet[docPartIndexStep]{
	kind: "docpartindex",
	rules: []rule[docPartIndexStep]{
		{
			id: "docpartindex.same-columns",
			applies: func(s *docPartIndexStep) bool {
				existing := s.builder.DocPartIndex(s.index.Identifier())
				return s.change == catalog.Added && existing != nil && existing.SameColumns(s.index)
			},
			execute: func(s *docPartIndexStep) Result { return ok() },
		},
		{
			id: "docpartindex.identifier-taken",
			applies: func(s *docPartIndexStep) bool {
				return s.change == catalog.Added && s.builder.DocPartIndex(s.index.Identifier()) != nil
			},
			execute: func(s *docPartIndexStep) Result {
				return conflict("docpartindex.identifier-taken", s.parent.path(), s.element(), func() string {
					return "a different index with this identifier was added concurrently"
				})
			},
		},
		{
			id: "docpartindex.already-removed",
			applies: func(s *docPartIndexStep) bool {
				return s.change == catalog.Removed && s.builder.DocPartIndex(s.index.Identifier()) == nil
			},
			execute: func(s *docPartIndexStep) Result { return ok() },
		},
	},
	apply: func(s *docPartIndexStep) Result {
		switch s.change {
		case catalog.Added:
			s.builder.PutDocPartIndex(s.index)
		case catalog.Removed:
			s.builder.RemoveDocPartIndex(s.index.Identifier())
		default:
			panic(fmt.Errorf("unexpected %v", s.element()))
		}
		return ok()
	},
	describe: (*docPartIndexStep).element,
}

type docPartStep struct {
	m      *merger
	mdp    *catalog.MutableDocPart
	change catalog.ChangeType
	coll   *catalog.CollectionBuilder
	db     *catalog.DatabaseBuilder
}

func (s *docPartStep) element() string {
	return fmt.Sprintf("doc part %s (%v) in %s", s.mdp.Ref(), s.change, s.coll.Name())
}

func (s *docPartStep) path() string {
	return fmt.Sprintf("%s.%s/%v", s.db.Name(), s.coll.Name(), s.mdp.Ref())
}

func (s *docPartStep) identifierOwner() string {
	c, dp := s.db.DocPartByIdentifier(s.mdp.Identifier())
	if dp == nil {
		return "nothing"
	}
	return fmt.Sprintf("%s.%s/%v", s.db.Name(), c.Name(), dp.Ref())
}

var docPartRules = ruleSet[docPartStep]{
	kind: "docpart",
	rules: []rule[docPartStep]{
		{
			id: "docpart.concurrent-add",
			applies: func(s *docPartStep) bool {
				return s.change == catalog.Added && s.coll.DocPart(s.mdp.Ref()) != nil
			},
			execute: applyDocPart,
		},
		{
			id: "docpart.identifier-taken",
			applies: func(s *docPartStep) bool {
				return s.change == catalog.Added && s.db.DocPartIdentifierTaken(s.mdp.Identifier())
			},
			execute: func(s *docPartStep) Result {
				return conflict("docpart.identifier-taken", s.path(), s.element(), func() string {
					return fmt.Sprintf("doc part identifier %q is already in use by %s", s.mdp.Identifier(), s.identifierOwner())
				})
			},
		},
		{
			id: "docpart.missing",
			applies: func(s *docPartStep) bool {
				return s.change == catalog.Modified && s.coll.DocPart(s.mdp.Ref()) == nil
			},
			execute: func(s *docPartStep) Result {
				return conflict("docpart.missing", s.path(), s.element(), func() string {
					return "the doc part no longer exists"
				})
			},
		},
	},
	apply:    applyDocPart,
	describe: (*docPartStep).element,
}

func applyDocPart(s *docPartStep) Result {
	committed := s.coll.DocPart(s.mdp.Ref())
	var b *catalog.DocPartBuilder
	if committed != nil {
		b = committed.Builder()
	} else {
		b = catalog.NewDocPartBuilder(s.mdp.Ref(), s.mdp.Identifier())
	}
	shortcut := committed == s.mdp.Origin()
	remap := make(map[int]int)

	cols := make([]catalog.Column, 0)
	for _, f := range s.mdp.AddedFields() {
		cols = append(cols, f)
	}
	for _, sc := range s.mdp.AddedScalars() {
		cols = append(cols, sc)
	}
	slices.SortFunc(cols, func(a, b catalog.Column) int {
		return a.Position() - b.Position()
	})
	for _, col := range cols {
		var r Result
		switch col := col.(type) {
		case *catalog.Field:
			r = run(s.m, &fieldRules, shortcut, &fieldStep{m: s.m, parent: s, field: col, committed: committed, origin: s.mdp.Origin(), builder: b, remap: remap})
		case *catalog.Scalar:
			r = run(s.m, &scalarRules, shortcut, &scalarStep{m: s.m, parent: s, scalar: col, builder: b, remap: remap})
		}
		if !r.OK() {
			return r
		}
	}

	for _, ch := range s.mdp.ChangedDocPartIndexes() {
		idx := ch.Element
		if ch.Change == catalog.Added {
			idx = idx.WithRemappedColumns(remap)
		}
		if r := run(s.m, &docPartIndexRules, shortcut, &docPartIndexStep{m: s.m, parent: s, index: idx, change: ch.Change, builder: b}); !r.OK() {
			return r
		}
	}

	s.coll.PutDocPart(b.Build())
	return ok()
}

type indexStep struct {
	m      *merger
	index  *catalog.Index
	change catalog.ChangeType
	coll   *catalog.CollectionBuilder
	db     *catalog.DatabaseBuilder
}

func (s *indexStep) path() string {
	return s.db.Name() + "." + s.coll.Name()
}

func (s *indexStep) element() string {
	return fmt.Sprintf("index %q (%v) in %s", s.index.Name(), s.change, s.coll.Name())
}

var indexRules = ruleSet[indexStep]{
	kind: "index",
	rules: []rule[indexStep]{
		{
			id: "index.same-definition",
			applies: func(s *indexStep) bool {
				existing := s.coll.Index(s.index.Name())
				return s.change == catalog.Added && existing != nil && existing.SameDefinition(s.index)
			},
			execute: func(s *indexStep) Result { return ok() },
		},
		{
			id: "index.name-taken",
			applies: func(s *indexStep) bool {
				return s.change == catalog.Added && s.coll.Index(s.index.Name()) != nil
			},
			execute: func(s *indexStep) Result {
				return conflict("index.name-taken", s.path(), s.element(), func() string {
					return "an index with a different definition was added concurrently"
				})
			},
		},
		{
			id: "index.identifier-taken",
			applies: func(s *indexStep) bool {
				return s.change == catalog.Added && s.coll.IndexIdentifierTaken(s.index.Identifier())
			},
			execute: func(s *indexStep) Result {
				return conflict("index.identifier-taken", s.path(), s.element(), func() string {
					return fmt.Sprintf("index identifier %q is already in use", s.index.Identifier())
				})
			},
		},
		{
			id: "index.already-removed",
			applies: func(s *indexStep) bool {
				return s.change == catalog.Removed && s.coll.Index(s.index.Name()) == nil
			},
			execute: func(s *indexStep) Result { return ok() },
		},
	},
	apply: func(s *indexStep) Result {
		switch s.change {
		case catalog.Added:
			s.coll.PutIndex(s.index)
		case catalog.Removed:
			s.coll.RemoveIndex(s.index.Name())
		default:
			panic(fmt.Errorf("unexpected %v", s.element()))
		}
		return ok()
	},
	describe: (*indexStep).element,
}

type collectionStep struct {
	m      *merger
	mc     *catalog.MutableCollection
	change catalog.ChangeType
	db     *catalog.DatabaseBuilder

	// dbMoved is set when the committed database is not the one the
	// transaction forked from.
	dbMoved bool
}

func (s *collectionStep) path() string {
	return s.db.Name() + "." + s.mc.Name()
}

func (s *collectionStep) element() string {
	return fmt.Sprintf("collection %q (%v) in %s", s.mc.Name(), s.change, s.db.Name())
}

var collectionRules = ruleSet[collectionStep]{
	kind: "collection",
	rules: []rule[collectionStep]{
		{
			id: "collection.concurrent-add",
			applies: func(s *collectionStep) bool {
				return s.change == catalog.Added && s.db.Collection(s.mc.Name()) != nil
			},
			execute: applyCollection,
		},
		{
			id: "collection.identifier-taken",
			applies: func(s *collectionStep) bool {
				return s.change == catalog.Added && s.db.CollectionIdentifierTaken(s.mc.Identifier())
			},
			execute: func(s *collectionStep) Result {
				return conflict("collection.identifier-taken", s.path(), s.element(), func() string {
					return fmt.Sprintf("collection identifier %q is already in use", s.mc.Identifier())
				})
			},
		},
		{
			id: "collection.missing",
			applies: func(s *collectionStep) bool {
				return s.change == catalog.Modified && s.db.Collection(s.mc.Name()) == nil
			},
			execute: func(s *collectionStep) Result {
				return conflict("collection.missing", s.path(), s.element(), func() string {
					return "the collection no longer exists"
				})
			},
		},
	},
	apply:    applyCollection,
	describe: (*collectionStep).element,
}

func applyCollection(s *collectionStep) Result {
	committed := s.db.Collection(s.mc.Name())
	var b *catalog.CollectionBuilder
	if committed != nil {
		b = committed.Builder()
	} else {
		b = catalog.NewCollectionBuilder(s.mc.Name(), s.mc.Identifier())
	}
	shortcut := committed == s.mc.Origin()

	// Doc part identifiers are unique across the database, so a sibling
	// collection committed since the fork can own the identifier of a
	// doc part added here.
	docPartShortcut := shortcut && !s.dbMoved
	for _, ch := range s.mc.ChangedDocParts() {
		step := &docPartStep{m: s.m, mdp: ch.Element, change: ch.Change, coll: b, db: s.db}
		if r := run(s.m, &docPartRules, docPartShortcut, step); !r.OK() {
			return r
		}
	}
	for _, ch := range s.mc.ChangedIndexes() {
		step := &indexStep{m: s.m, index: ch.Element, change: ch.Change, coll: b, db: s.db}
		if r := run(s.m, &indexRules, shortcut, step); !r.OK() {
			return r
		}
	}

	s.db.PutCollection(b.Build())
	return ok()
}

type databaseStep struct {
	m      *merger
	mdb    *catalog.MutableDatabase
	change catalog.ChangeType
	snap   *catalog.SnapshotBuilder
}

func (s *databaseStep) element() string {
	return fmt.Sprintf("database %q (%v)", s.mdb.Name(), s.change)
}

var databaseRules = ruleSet[databaseStep]{
	kind: "database",
	rules: []rule[databaseStep]{
		{
			id: "database.concurrent-add",
			applies: func(s *databaseStep) bool {
				return s.change == catalog.Added && s.snap.Database(s.mdb.Name()) != nil
			},
			execute: applyDatabase,
		},
		{
			id: "database.identifier-taken",
			applies: func(s *databaseStep) bool {
				return s.change == catalog.Added && s.snap.DatabaseIdentifierTaken(s.mdb.Identifier())
			},
			execute: func(s *databaseStep) Result {
				return conflict("database.identifier-taken", s.mdb.Name(), s.element(), func() string {
					return fmt.Sprintf("database identifier %q is already in use", s.mdb.Identifier())
				})
			},
		},
		{
			id: "database.missing",
			applies: func(s *databaseStep) bool {
				return s.change == catalog.Modified && s.snap.Database(s.mdb.Name()) == nil
			},
			execute: func(s *databaseStep) Result {
				return conflict("database.missing", s.mdb.Name(), s.element(), func() string {
					return "the database no longer exists"
				})
			},
		},
	},
	apply:    applyDatabase,
	describe: (*databaseStep).element,
}

func applyDatabase(s *databaseStep) Result {
	committed := s.snap.Database(s.mdb.Name())
	var b *catalog.DatabaseBuilder
	if committed != nil {
		b = committed.Builder()
	} else {
		b = catalog.NewDatabaseBuilder(s.mdb.Name(), s.mdb.Identifier())
	}
	shortcut := committed == s.mdb.Origin()

	for _, ch := range s.mdb.ChangedCollections() {
		step := &collectionStep{m: s.m, mc: ch.Element, change: ch.Change, db: b, dbMoved: !shortcut}
		if r := run(s.m, &collectionRules, shortcut, step); !r.OK() {
			return r
		}
	}

	s.snap.PutDatabase(b.Build())
	return ok()
}
