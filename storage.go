package docrel

// storage is the sorted key-value engine under kvBackend: bbolt on disk,
// memStorage for InMemory databases and tests.
type storage interface {
	// BeginTx starts a transaction. Writers are serialized; a second
	// writable BeginTx blocks until the first one ends.
	BeginTx(writable bool) (storageTx, error)
	Close() error
}

type storageTx interface {
	Writable() bool

	// Bucket finds a root bucket (sub == "") or a bucket nested one level
	// under it. Nil when missing.
	Bucket(name, sub string) storageBucket

	// CreateBucket is Bucket that creates what is missing, including the
	// root bucket of a nested one.
	CreateBucket(name, sub string) (storageBucket, error)

	Commit() error

	// Rollback is a no-op on a finished transaction.
	Rollback() error

	// Size reports bytes held by the engine, for stats only.
	Size() int64
}

// storageBucket is one table: row buckets keyed by (did, rid), the schema
// change log keyed by sequence, rid bounds keyed by allocator key.
type storageBucket interface {
	// Get returns nil for a missing key. The slice is only valid until
	// the transaction ends.
	Get(key []byte) []byte
	Put(key, value []byte) error
	Cursor() storageCursor
	KeyCount() int
}

// storageCursor walks keys in byte order. All methods return a nil key
// once the cursor runs off the end.
type storageCursor interface {
	First() (key, value []byte)
	Last() (key, value []byte)
	// Seek positions at the first key >= seek.
	Seek(seek []byte) (key, value []byte)
	Next() (key, value []byte)
}
