package ledger

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/darkpool/pkg/ids"
)

// RecordWrite stores (or overwrites with a newer version) the payload
// under a record id.
type RecordWrite struct {
	ID      ids.ID
	Payload []byte
}

// SettlementWrite appends one immutable settlement, with a copy keyed
// under each counterparty for per-party queries.
type SettlementWrite struct {
	Parties []common.Address
	Seq     uint64
	SID     string
	Payload []byte
}

// Batch collects the effects of one operation. It is built during the
// pure build phase and handed to Store.Commit in the apply phase.
type Batch struct {
	spends      []ids.Nullifier
	records     []RecordWrite
	settlements []SettlementWrite
	counters    map[string]int64
}

func NewBatch() *Batch {
	return &Batch{counters: make(map[string]int64)}
}

// Spend schedules a nullifier insert. Commit fails with ErrSpent if the
// marker already exists.
func (b *Batch) Spend(n ids.Nullifier) *Batch {
	b.spends = append(b.spends, n)
	return b
}

// PutRecord schedules a record write.
func (b *Batch) PutRecord(id ids.ID, payload []byte) *Batch {
	b.records = append(b.records, RecordWrite{ID: id, Payload: payload})
	return b
}

// AppendSettlement schedules a settlement append for the given parties.
func (b *Batch) AppendSettlement(parties []common.Address, seq uint64, sid string, payload []byte) *Batch {
	b.settlements = append(b.settlements, SettlementWrite{Parties: parties, Seq: seq, SID: sid, Payload: payload})
	return b
}

// AddCounter schedules a counter delta, applied in the same atomic batch
// as the record mutation it describes.
func (b *Batch) AddCounter(name string, delta int64) *Batch {
	b.counters[name] += delta
	return b
}
