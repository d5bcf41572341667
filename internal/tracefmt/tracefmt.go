// Package tracefmt reads request-trace records lazily, one record
// pre-fetched at a time: the next record is read only once the
// previously-fetched one has been consumed, mirroring a NULL_EVENT tick
// pulling the next request off the trace. It specifies a narrow Source
// interface plus two concrete readers (ASCII and a disksim-style
// fixed-width binary layout); trace format detection beyond that is left
// to the caller.
package tracefmt

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/flashbox/ssdsim/internal/simerr"
)

// Record is one request-trace entry: an arrival time, the device it
// targets, the starting block, the block count, and whether it is a
// read.
type Record struct {
	ArrivalTime float64
	Device      int
	Blkno       int
	Bcount      int
	IsRead      bool
}

// Source yields trace records lazily: Next reads and returns exactly one
// record per call, reporting io.EOF once no more records remain. Callers
// that want the "one record pre-fetched" contract call Next once up
// front and again after each NULL_EVENT service.
type Source interface {
	Next() (Record, error)
	Close() error
}

// ASCIIReader reads whitespace-separated text records, one per line:
//
//	<arrival-time> <device> <blkno> <bcount> <flags>
//
// flags bit 0 set means read; clear means write. Blank lines and lines
// beginning with '#' are skipped.
type ASCIIReader struct {
	sc     *bufio.Scanner
	closer io.Closer
	line   int
}

// NewASCIIReader wraps r as an ASCIIReader. If r also implements
// io.Closer, Close releases it.
func NewASCIIReader(r io.Reader) *ASCIIReader {
	ar := &ASCIIReader{sc: bufio.NewScanner(r)}
	if c, ok := r.(io.Closer); ok {
		ar.closer = c
	}
	return ar
}

func (a *ASCIIReader) Next() (Record, error) {
	for a.sc.Scan() {
		a.line++
		line := strings.TrimSpace(a.sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			return Record{}, simerr.NewTraceError(fmt.Sprintf("trace line %d: expected 5 fields, got %d", a.line, len(fields)), nil)
		}
		arrival, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return Record{}, simerr.NewTraceError(fmt.Sprintf("trace line %d: bad arrival time %q", a.line, fields[0]), err)
		}
		device, err := strconv.Atoi(fields[1])
		if err != nil {
			return Record{}, simerr.NewTraceError(fmt.Sprintf("trace line %d: bad device %q", a.line, fields[1]), err)
		}
		blkno, err := strconv.Atoi(fields[2])
		if err != nil {
			return Record{}, simerr.NewTraceError(fmt.Sprintf("trace line %d: bad blkno %q", a.line, fields[2]), err)
		}
		bcount, err := strconv.Atoi(fields[3])
		if err != nil {
			return Record{}, simerr.NewTraceError(fmt.Sprintf("trace line %d: bad bcount %q", a.line, fields[3]), err)
		}
		flags, err := strconv.Atoi(fields[4])
		if err != nil {
			return Record{}, simerr.NewTraceError(fmt.Sprintf("trace line %d: bad flags %q", a.line, fields[4]), err)
		}
		return Record{
			ArrivalTime: arrival,
			Device:      device,
			Blkno:       blkno,
			Bcount:      bcount,
			IsRead:      flags&0x1 != 0,
		}, nil
	}
	if err := a.sc.Err(); err != nil {
		return Record{}, simerr.NewTraceError("trace scan failed", err)
	}
	return Record{}, io.EOF
}

func (a *ASCIIReader) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

// binaryRecordSize is the on-disk width of one BinaryReader record:
// arrival time (float64), device/blkno/bcount (int32 each), flags (uint32).
const binaryRecordSize = 8 + 4 + 4 + 4 + 4

// BinaryReader reads fixed-width, big-endian trace records, the layout a
// disksim-derived trace-generation pipeline would emit. It requires no
// delimiter scanning, so a NULL_EVENT's prefetch is a single fixed-size
// read.
type BinaryReader struct {
	r   io.Reader
	buf [binaryRecordSize]byte
	c   io.Closer
}

// NewBinaryReader wraps r as a BinaryReader. If r also implements
// io.Closer, Close releases it.
func NewBinaryReader(r io.Reader) *BinaryReader {
	br := &BinaryReader{r: r}
	if c, ok := r.(io.Closer); ok {
		br.c = c
	}
	return br
}

func (b *BinaryReader) Next() (Record, error) {
	if _, err := io.ReadFull(b.r, b.buf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Record{}, io.EOF
		}
		return Record{}, simerr.NewTraceError("binary trace read failed", err)
	}
	bits := binary.BigEndian.Uint64(b.buf[0:8])
	arrival := math.Float64frombits(bits)
	device := int(int32(binary.BigEndian.Uint32(b.buf[8:12])))
	blkno := int(int32(binary.BigEndian.Uint32(b.buf[12:16])))
	bcount := int(int32(binary.BigEndian.Uint32(b.buf[16:20])))
	flags := binary.BigEndian.Uint32(b.buf[20:24])
	return Record{
		ArrivalTime: arrival,
		Device:      device,
		Blkno:       blkno,
		Bcount:      bcount,
		IsRead:      flags&0x1 != 0,
	}, nil
}

func (b *BinaryReader) Close() error {
	if b.c != nil {
		return b.c.Close()
	}
	return nil
}

// Prefetcher wraps a Source with the one-record-ahead contract: a record
// is fetched as soon as the previous one is handed out, so Peek never
// blocks on I/O after construction. Pull both returns and advances past
// the pending record; EOF observed while prefetching surfaces only once
// the caller actually pulls it, matching "not fatal until the simulation
// runs out of requests to serve".
type Prefetcher struct {
	src     Source
	pending Record
	err     error
	primed  bool
	read    int
}

// NewPrefetcher wraps src and immediately fetches its first record.
func NewPrefetcher(src Source) *Prefetcher {
	p := &Prefetcher{src: src}
	p.fill()
	return p
}

// NewPrefetcherAt wraps src, discarding the first skip records before
// priming the next one as pending. A checkpoint records RecordsRead at
// the moment it was taken; resuming from it means reopening the same
// trace and skipping that many records so the new Prefetcher primes the
// same pending record the checkpointed run had (spec.md §6).
func NewPrefetcherAt(src Source, skip int) *Prefetcher {
	p := &Prefetcher{src: src, read: skip}
	for i := 0; i < skip; i++ {
		if _, err := src.Next(); err != nil {
			break
		}
	}
	p.fill()
	return p
}

func (p *Prefetcher) fill() {
	p.pending, p.err = p.src.Next()
	p.primed = true
}

// Peek returns the currently pre-fetched record without consuming it.
// ok is false once the trace is exhausted (or failed); err distinguishes
// a clean io.EOF from a malformed-record TraceError.
func (p *Prefetcher) Peek() (rec Record, ok bool, err error) {
	if !p.primed {
		p.fill()
	}
	if p.err != nil {
		if p.err == io.EOF {
			return Record{}, false, nil
		}
		return Record{}, false, p.err
	}
	return p.pending, true, nil
}

// Pull returns the pre-fetched record and immediately primes the next
// one, ready for the following NULL_EVENT tick.
func (p *Prefetcher) Pull() (rec Record, ok bool, err error) {
	rec, ok, err = p.Peek()
	if !ok {
		return rec, ok, err
	}
	p.read++
	p.fill()
	return rec, true, nil
}

// RecordsRead reports how many records have been consumed via Pull so
// far — the trace offset a checkpoint needs to save to resume with
// NewPrefetcherAt.
func (p *Prefetcher) RecordsRead() int { return p.read }

// Close releases the underlying source.
func (p *Prefetcher) Close() error { return p.src.Close() }
