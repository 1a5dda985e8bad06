// Package chain links audit entries of one entity into a tamper-evident
// hash chain.
//
// Each entry's hash is a BLAKE3 keyed hash over its immutable fields and the
// hash of the previous entry for the same entity. ActorID and Origin are not
// covered, so anonymization never breaks a chain; any other edit, insertion
// or deletion does.
package chain

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"

	"passgate/internal/audit/models"
	id "passgate/pkg/domain"
)

// entryDomainKey is the ASCII domain name zero-padded to 32 bytes. Changing
// it invalidates every stored hash.
var entryDomainKey = [32]byte{
	'p', 'a', 's', 's', 'g', 'a', 't', 'e', '.', 'a', 'u', 'd', 'i', 't', '.',
	'e', 'n', 't', 'r', 'y', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Hash computes the chain hash of e given e.PrevHash. Timestamps are hashed
// at microsecond precision, the resolution every store persists.
func Hash(e *models.Entry) string {
	hasher, err := blake3.NewKeyed(entryDomainKey[:])
	if err != nil {
		panic("chain: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	writeField(hasher, []byte(e.ID.String()))
	writeField(hasher, []byte(e.Action))
	writeField(hasher, []byte(e.EntityType))
	writeField(hasher, []byte(e.EntityID))
	writeField(hasher, e.Changes)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(e.Timestamp.UnixMicro()))
	writeField(hasher, ts[:])
	writeField(hasher, []byte(e.PrevHash))
	return hex.EncodeToString(hasher.Sum(nil))
}

// writeField length-prefixes each field so adjacent fields cannot be
// shifted into one another.
func writeField(h *blake3.Hasher, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	_, _ = h.Write(n[:])
	_, _ = h.Write(b)
}

// Seal sets e.PrevHash and e.Hash.
func Seal(e *models.Entry, prevHash string) {
	e.PrevHash = prevHash
	e.Hash = Hash(e)
}

// Result reports the outcome of verifying one entity's chain.
type Result struct {
	Checked  int         `json:"checked"`
	Valid    bool        `json:"valid"`
	BrokenAt *id.AuditID `json:"broken_at,omitempty"`
	Reason   string      `json:"reason,omitempty"`
}

// Verify walks entries, which must be one entity's chain in append order.
func Verify(entries []*models.Entry) Result {
	prev := ""
	for i, e := range entries {
		if e.PrevHash != prev {
			return broken(i, e, "previous hash mismatch")
		}
		if Hash(e) != e.Hash {
			return broken(i, e, "entry hash mismatch")
		}
		prev = e.Hash
	}
	return Result{Checked: len(entries), Valid: true}
}

func broken(i int, e *models.Entry, reason string) Result {
	at := e.ID
	return Result{Checked: i + 1, Valid: false, BrokenAt: &at, Reason: reason}
}
