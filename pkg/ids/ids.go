// Package ids derives order identifiers and spent markers.
//
// An order id is keccak256 over the fields that make the order unique
// (owner, asset pair, nonce). A nullifier is keccak256 over the id plus
// the record version being consumed. Ids are unique for the lifetime of
// the system as long as nonces are never reused per owner; nullifiers
// inherit that uniqueness per version.
package ids

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// ID is a 32-byte collision-resistant identifier.
type ID [32]byte

// Nullifier marks a record version as consumed. Inserting the same
// nullifier twice is impossible at the ledger, which is what makes
// "consume-once" hold.
type Nullifier [32]byte

func (id ID) Hex() string         { return "0x" + hex.EncodeToString(id[:]) }
func (n Nullifier) Hex() string   { return "0x" + hex.EncodeToString(n[:]) }
func (id ID) Bytes() []byte       { return id[:] }
func (n Nullifier) Bytes() []byte { return n[:] }

// ParseID decodes a 0x-prefixed 64-char hex string into an ID.
func ParseID(s string) (ID, bool) {
	var id ID
	if len(s) == 66 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s) != 64 {
		return id, false
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, false
	}
	copy(id[:], b)
	return id, true
}

func keccak(parts ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func u64be(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// EscrowOrderID derives the identifier of a bilateral escrow order:
// keccak256(owner || sellAsset || buyAsset || nonce).
func EscrowOrderID(owner common.Address, sellAsset, buyAsset string, nonce uint64) ID {
	return ID(keccak(owner.Bytes(), []byte(sellAsset), []byte(buyAsset), u64be(nonce)))
}

// PoolOrderID derives the identifier of a pool order:
// keccak256(owner || base || quote || side || nonce).
func PoolOrderID(owner common.Address, base, quote string, side int8, nonce uint64) ID {
	return ID(keccak(owner.Bytes(), []byte(base), []byte(quote), []byte{byte(side)}, u64be(nonce)))
}

// RecordNullifier is the spent marker for a consume-once record
// (escrow orders have a single version).
func RecordNullifier(id ID) Nullifier {
	return VersionNullifier(id, 0)
}

// VersionNullifier is the spent marker for version v of a record.
// Pool orders advance one version per partial fill; spending the
// current version is what serializes competing matches.
func VersionNullifier(id ID, version uint64) Nullifier {
	return Nullifier(keccak(id[:], u64be(version)))
}
