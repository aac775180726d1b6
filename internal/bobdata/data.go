// Package bobdata holds the core value types shared by every layer of the
// storage engine: the blob key, its metadata, the blob itself, and the error
// taxonomy used to report partial failure up through Holder, Group, Backend
// and the Quorum Cluster.
package bobdata


// Key identifies one blob: a 64-bit unsigned integer. Routing to a vdisk
// is a plain modulo over it.
type Key uint64

// Meta is the logical version of a value. Reconciliation between
// duplicate copies of a key always prefers the higher Timestamp.
type Meta struct {
	Timestamp uint64
}

// After reports whether m is strictly newer than other.
func (m Meta) After(other Meta) bool {
	return m.Timestamp > other.Timestamp
}

// BobData is one stored value: its bytes plus the Meta that versions it.
type BobData struct {
	Bytes []byte
	Meta  Meta
}

// Reconcile returns the candidate with the highest Meta.Timestamp. It
// panics if candidates is empty — callers must only call it once they know
// at least one value was found (see the Group.Get and Cluster.Get callers).
func Reconcile(candidates []BobData) BobData {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Meta.Timestamp > best.Meta.Timestamp {
			best = c
		}
	}
	return best
}
