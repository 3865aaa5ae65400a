/*
Package docrel stores schemaless nested documents in relational form, on top
of a key-value store (Bolt, or memory for tests).

We implement:

1. Translation of documents into rows of per-shape tables (doc parts), and
back. The schema catalog grows as documents arrive.

2. Transactions that grow private forks of the catalog and merge them back
on commit, so that writers never lock the whole catalog while translating.

3. Row id allocation that reserves identifiers in batches.

4. Logical indexes over document fields, materialized as physical indexes
over the typed columns those fields map to.

# Technical Details

**Doc parts.**
Every nesting level of a collection (a PathRef) is one table. The root level
holds one row per document. An object or array under key k is stored in the
child doc part named k, whatever its position in the document; an array
nested directly in an array goes to the child named $2, $3 and so on, by
array dimension.

**Rows.**
A row carries did (the root row's rid), rid, pid (the parent row's rid, 0 at
the root), seq (the index within an array, -1 otherwise) and one value per
column present in the source.

**Columns.**
A field is a (name, type) pair; a key holding values of several types over
time maps to several sibling columns. Array elements that are not objects go
into scalar columns, one per type. A child column holds false when the key
held an object and true when it held an array. Positions are assigned in
order and never reused.

**Catalog versions.**
The published catalog is an immutable snapshot swapped atomically on commit.
Commits touching the same database are serialized; merging a fork replays
its additions onto the latest snapshot through per-element rules that
accept or reject each addition.

## Storage layout

Buckets:

1. _ddl: the schema change log, one msgpack batch per commit, keyed by
big-endian sequence number. Replayed on Open.

2. _rids: reserved row id bound per (database, collection, path).

3. d:<database identifier>, with one nested bucket per doc part identifier.
Keys are big-endian (did, rid) so that all rows of a document are adjacent.
Values are msgpack arrays [pid, seq, [position, value, ...]].
*/
package docrel
