// Package transfer implements the byte transfer layer: given a caller's
// byte slice that may be a view over a larger backing array, extract
// exactly the live range to hand off across the xchan boundary, never
// exposing capacity the caller didn't ask to share.
package transfer

// Extract returns the slice that should actually cross the wire for buf.
//
// If buf's capacity exactly matches its length, buf already denotes its
// full live range with nothing else attached at its tail, so it is
// returned unchanged.
//
// Otherwise buf is a sub-view of a larger backing array the caller may
// still be holding onto (e.g. buf was produced by slicing into a reusable
// scratch buffer). Returning buf as-is would let the receiver's own
// mutations — or a future append that has room to grow in place — reach
// backing memory it doesn't own. A right-sized copy is made instead.
func Extract(buf []byte) []byte {
	if cap(buf) == len(buf) {
		return buf
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out
}

// Payload is the wire shape used by methods whose params carry raw bytes
// (loadFromXlsxBytes, loadFromEncryptedXlsxBytes, large cell updates).
type Payload struct {
	Bytes []byte `json:"bytes"`
}

// NewPayload builds a Payload from buf, applying Extract so the serialized
// bytes never leak beyond the caller's intended live range.
func NewPayload(buf []byte) Payload {
	return Payload{Bytes: Extract(buf)}
}
