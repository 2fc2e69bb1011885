package queue

import "encoding/binary"

// Key prefixes for queue data structures
const (
	prefixMsg    = "msg/"       // message data
	prefixReady  = "ready_idx/" // visibility index, keyed by visible-at
	prefixParked = "parked/"    // dead-lettered messages with no target queue
)

// queuePrefix returns the base prefix for a queue.
// Format: q/{name}/
func queuePrefix(name string) string {
	return "q/" + name + "/"
}

// msgKey returns the message key.
// Format: q/{name}/msg/{id}
func msgKey(name, id string) []byte {
	return []byte(queuePrefix(name) + prefixMsg + id)
}

// msgPrefix returns the prefix for scanning all messages in a queue.
func msgPrefix(name string) []byte {
	return []byte(queuePrefix(name) + prefixMsg)
}

// readyIdxKey returns the visibility index key.
// Format: q/{name}/ready_idx/{visible_ms 8B BE}{id}
//
// Big-endian millis sort the index by visible-at, so a prefix scan visits
// receivable entries first and can stop at the first entry in the future.
func readyIdxKey(name string, visibleMs int64, id string) []byte {
	prefix := queuePrefix(name) + prefixReady
	key := make([]byte, len(prefix)+8+len(id))
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(visibleMs))
	copy(key[len(prefix)+8:], id)
	return key
}

// readyIdxPrefix returns the prefix for visibility index scanning.
func readyIdxPrefix(name string) []byte {
	return []byte(queuePrefix(name) + prefixReady)
}

// parkedKey returns the key for a parked message.
// Format: q/{name}/parked/{id}
func parkedKey(name, id string) []byte {
	return []byte(queuePrefix(name) + prefixParked + id)
}

// parkedPrefix returns the prefix for scanning parked messages.
func parkedPrefix(name string) []byte {
	return []byte(queuePrefix(name) + prefixParked)
}

// metaKey returns the per-queue metadata key holding the message count.
// Format: q/{name}/meta
func metaKey(name string) []byte {
	return []byte(queuePrefix(name) + "meta")
}

// keyRange returns inclusive-lower/exclusive-upper bounds for a prefix scan.
func keyRange(prefix []byte) ([]byte, []byte) {
	hi := make([]byte, len(prefix)+1)
	copy(hi, prefix)
	hi[len(prefix)] = 0xFF
	return prefix, hi
}
