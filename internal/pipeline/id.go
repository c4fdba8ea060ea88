package pipeline

// EntryId is the unique key of a filesystem object: an opaque pair of
// integers (e.g. a Lustre FID {seq, oid} or POSIX {dev, ino}). The zero
// value is the "unset" id.
type EntryId struct {
	Seq uint64
	Oid uint64
}

// ZeroEntryId is the unset EntryId, used as the sentinel for Op.id before a
// handler (e.g. GET_ID) assigns a real one.
var ZeroEntryId = EntryId{}

// IsZero reports whether this is the unset id.
func (id EntryId) IsZero() bool { return id == ZeroEntryId }

// hash produces a stable mix of the two id fields, per spec.md §4.2 ("a
// stable mixing function"). Uses the splitmix64 finalizer (mix64),
// applied to each half and xor-combined so that
// nearby (Seq, Oid) pairs — the common case for a directory's children —
// don't collide in the same bucket.
func (id EntryId) hash() uint64 {
	return mix64(id.Seq) ^ mix64(id.Oid+0x9e3779b97f4a7c15)
}

func mix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
