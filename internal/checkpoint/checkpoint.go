// Package checkpoint serializes and restores simulator state, grounded on
// spec.md §4.7's CHECKPOINT event and on the teacher's use of
// github.com/pierrec/lz4/v4 and github.com/OneOfOne/xxhash
// (server/conf and util/hash_utils.go) for on-disk compression and
// integrity checking of persisted state.
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"
	"math/rand"
	"os"

	"github.com/OneOfOne/xxhash"
	"github.com/pierrec/lz4/v4"

	"github.com/flashbox/ssdsim/internal/bitmap"
	"github.com/flashbox/ssdsim/internal/device"
	"github.com/flashbox/ssdsim/internal/element"
	"github.com/flashbox/ssdsim/internal/event"
	"github.com/flashbox/ssdsim/internal/ftl"
	"github.com/flashbox/ssdsim/internal/simerr"
)

func init() {
	// Event payloads travel through event.Snapshot.Payload (interface{});
	// gob must know every concrete type that can appear there up front.
	gob.Register(0)
	gob.Register([]int{})
	gob.Register(&device.AccessPayload{})
}

// magic identifies a checkpoint file; version allows the on-disk layout
// to evolve without silently misreading an old file.
const (
	magic   uint32 = 0x53534443 // "SSDC"
	version uint32 = 1
)

// StatsSnapshot captures one element's atomic counters as plain values.
type StatsSnapshot struct {
	NumClean      int64
	PagesMoved    int64
	TotXferCost   float64
	TotReqsIssued int64
	TotTimeTaken  float64
	TotCleanTime  float64
}

// ElementSnapshot captures everything needed to reconstruct an
// *ftl.Element: its geometry, lba table, block/plane metadata, free-block
// bitmap, allocation cursors, and running stats; plus the owning
// *element.Dispatcher's pending queue and cleaning configuration, so a
// restored element resumes with the same unserved requests and the same
// media_busy/cleaning-mode state it had at checkpoint time.
type ElementSnapshot struct {
	Geometry         ftl.Geometry
	LBATable         []int32
	Blocks           []ftl.Block
	Planes           []ftl.Plane
	FreeBlocksBits   []byte
	TotFreeBlocks    int
	BlockAllocPos    int
	WritePlaneCursor int
	BSN              uint64
	GangNum          int
	Stats            StatsSnapshot

	Queue         []element.Request
	MediaBusy     bool
	CopyBack      bool
	CleanInBG     bool
	ColdMigration bool
	Policy        ftl.CleaningPolicy
}

// BusSnapshot captures the shared bus's ownership and FIFO wait queue.
type BusSnapshot struct {
	Owner    int
	WaitList []int
	Delay    float64
}

// Snapshot is the full simulator checkpoint: the simulated clock, every
// element's state, the pending event queue, the shared bus, and how many
// trace records have been consumed so far (spec.md §6's restore-offsets
// requirement).
//
// Not captured: each element's *rand.Rand draw position. A restored
// dispatcher gets a freshly seeded generator (the same seed the run
// started with) rather than the exact mid-stream state, since
// math/rand.Rand's default source isn't itself gob-serializable. This
// only affects runs where a cleaning sweep (the only RNG consumer) fires
// between the checkpoint and the point being compared against.
type Snapshot struct {
	ClockTime   float64
	Elements    []ElementSnapshot
	Events      []event.Snapshot
	Bus         BusSnapshot
	RecordsRead int
}

// FromElement captures e's current state into a serializable snapshot.
func FromElement(e *ftl.Element) ElementSnapshot {
	blocks := make([]ftl.Block, len(e.Blocks))
	copy(blocks, e.Blocks)
	planes := make([]ftl.Plane, len(e.Planes))
	copy(planes, e.Planes)
	lba := make([]int32, len(e.LBATable))
	copy(lba, e.LBATable)

	return ElementSnapshot{
		Geometry:         e.Geometry,
		LBATable:         lba,
		Blocks:           blocks,
		Planes:           planes,
		FreeBlocksBits:   e.FreeBlocks.Bytes(),
		TotFreeBlocks:    e.TotFreeBlocks,
		BlockAllocPos:    e.BlockAllocPos,
		WritePlaneCursor: e.WritePlaneCursor(),
		BSN:              e.BSN(),
		GangNum:          e.GangNum,
		Stats: StatsSnapshot{
			NumClean:      e.Stats.NumClean.Load(),
			PagesMoved:    e.Stats.PagesMoved.Load(),
			TotXferCost:   e.Stats.TotXferCost.Load(),
			TotReqsIssued: e.Stats.TotReqsIssued.Load(),
			TotTimeTaken:  e.Stats.TotTimeTaken.Load(),
			TotCleanTime:  e.Stats.TotCleanTime.Load(),
		},
	}
}

// Restore reconstructs an *ftl.Element from a snapshot taken by
// FromElement. The element's geometry-derived mapping is rebuilt fresh;
// everything mutable is restored verbatim.
func Restore(s ElementSnapshot) *ftl.Element {
	e := ftl.NewElement(s.Geometry, s.GangNum)
	copy(e.LBATable, s.LBATable)
	copy(e.Blocks, s.Blocks)
	copy(e.Planes, s.Planes)
	e.FreeBlocks = bitmap.FromBytes(s.FreeBlocksBits, s.Geometry.BlocksPerElement)
	e.TotFreeBlocks = s.TotFreeBlocks
	e.BlockAllocPos = s.BlockAllocPos
	e.SetWritePlaneCursor(s.WritePlaneCursor)
	e.SetBSN(s.BSN)

	e.Stats.NumClean.Store(s.Stats.NumClean)
	e.Stats.PagesMoved.Store(s.Stats.PagesMoved)
	e.Stats.TotXferCost.Store(s.Stats.TotXferCost)
	e.Stats.TotReqsIssued.Store(s.Stats.TotReqsIssued)
	e.Stats.TotTimeTaken.Store(s.Stats.TotTimeTaken)
	e.Stats.TotCleanTime.Store(s.Stats.TotCleanTime)
	return e
}

// FromDispatcher captures d's full state: its bound element plus its
// pending queue, media_busy flag, and cleaning configuration.
func FromDispatcher(d *element.Dispatcher) ElementSnapshot {
	s := FromElement(d.FTL)
	s.Queue = make([]element.Request, len(d.Queue))
	copy(s.Queue, d.Queue)
	s.MediaBusy = d.MediaBusy
	s.CopyBack = d.CopyBack
	s.CleanInBG = d.CleanInBG
	s.ColdMigration = d.ColdMigration
	s.Policy = d.Policy
	return s
}

// RestoreDispatcher reconstructs an *element.Dispatcher from a snapshot
// taken by FromDispatcher. rng seeds the restored dispatcher's cleaning
// PRNG fresh (see Snapshot's doc comment on what isn't captured).
func RestoreDispatcher(s ElementSnapshot, rng *rand.Rand) *element.Dispatcher {
	e := Restore(s)
	d := element.NewDispatcher(e, s.CopyBack, s.CleanInBG, s.ColdMigration, s.Policy, rng)
	d.Queue = make([]element.Request, len(s.Queue))
	copy(d.Queue, s.Queue)
	d.MediaBusy = s.MediaBusy
	return d
}

// encode gob-encodes snap, lz4-compresses the result, and returns the
// compressed payload plus an xxhash64 digest of the UNCOMPRESSED bytes
// (so a restore can verify integrity after decompression without needing
// to recompress first).
func encode(snap Snapshot) (compressed []byte, digest uint64, err error) {
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(snap); err != nil {
		return nil, 0, simerr.NewDomainError("checkpoint encode failed: %v", err)
	}

	h := xxhash.New64()
	h.Write(raw.Bytes())
	digest = h.Sum64()

	var out bytes.Buffer
	zw := lz4.NewWriter(&out)
	if _, err := zw.Write(raw.Bytes()); err != nil {
		return nil, 0, simerr.NewDomainError("checkpoint compression failed: %v", err)
	}
	if err := zw.Close(); err != nil {
		return nil, 0, simerr.NewDomainError("checkpoint compression close failed: %v", err)
	}
	return out.Bytes(), digest, nil
}

func decode(compressed []byte, wantDigest uint64) (Snapshot, error) {
	var snap Snapshot
	zr := lz4.NewReader(bytes.NewReader(compressed))
	raw, err := io.ReadAll(zr)
	if err != nil {
		return snap, simerr.NewDomainError("checkpoint decompression failed: %v", err)
	}

	h := xxhash.New64()
	h.Write(raw)
	if h.Sum64() != wantDigest {
		return snap, simerr.NewDomainError("checkpoint digest mismatch: file is corrupt or truncated")
	}

	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&snap); err != nil {
		return snap, simerr.NewDomainError("checkpoint decode failed: %v", err)
	}
	return snap, nil
}

// Write serializes snap to path as: a fixed header (magic, version,
// uncompressed digest, compressed-payload length) followed by the
// lz4-compressed gob payload.
func Write(path string, snap Snapshot) error {
	compressed, digest, err := encode(snap)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return simerr.NewDomainError("checkpoint create %q failed: %v", path, err)
	}
	defer f.Close()

	var header [20]byte
	binary.BigEndian.PutUint32(header[0:4], magic)
	binary.BigEndian.PutUint32(header[4:8], version)
	binary.BigEndian.PutUint64(header[8:16], digest)
	binary.BigEndian.PutUint32(header[16:20], uint32(len(compressed)))

	if _, err := f.Write(header[:]); err != nil {
		return simerr.NewDomainError("checkpoint header write failed: %v", err)
	}
	if _, err := f.Write(compressed); err != nil {
		return simerr.NewDomainError("checkpoint payload write failed: %v", err)
	}
	return nil
}

// Read loads and validates a checkpoint file written by Write.
func Read(path string) (Snapshot, error) {
	var snap Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, simerr.NewDomainError("checkpoint read %q failed: %v", path, err)
	}
	if len(data) < 20 {
		return snap, simerr.NewDomainError("checkpoint file %q too short to contain a header", path)
	}

	gotMagic := binary.BigEndian.Uint32(data[0:4])
	gotVersion := binary.BigEndian.Uint32(data[4:8])
	digest := binary.BigEndian.Uint64(data[8:16])
	size := binary.BigEndian.Uint32(data[16:20])

	if gotMagic != magic {
		return snap, simerr.NewDomainError("checkpoint file %q has wrong magic %#x", path, gotMagic)
	}
	if gotVersion != version {
		return snap, simerr.NewDomainError("checkpoint file %q has unsupported version %d", path, gotVersion)
	}
	if uint32(len(data)-20) != size {
		return snap, simerr.NewDomainError("checkpoint file %q payload size mismatch: header says %d, have %d", path, size, len(data)-20)
	}

	return decode(data[20:], digest)
}
