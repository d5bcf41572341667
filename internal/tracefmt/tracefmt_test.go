package tracefmt

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"strings"
	"testing"
)

func TestASCIIReaderParsesRecords(t *testing.T) {
	input := "# comment\n0.0 0 0 8 1\n\n0.1 0 8 8 0\n"
	r := NewASCIIReader(strings.NewReader(input))

	rec, err := r.Next()
	if err != nil {
		t.Fatalf("first record: %v", err)
	}
	if rec.ArrivalTime != 0.0 || rec.Device != 0 || rec.Blkno != 0 || rec.Bcount != 8 || !rec.IsRead {
		t.Fatalf("unexpected first record: %+v", rec)
	}

	rec, err = r.Next()
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if rec.Blkno != 8 || rec.IsRead {
		t.Fatalf("unexpected second record: %+v", rec)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestASCIIReaderRejectsMalformedLine(t *testing.T) {
	r := NewASCIIReader(strings.NewReader("0.0 0 0\n"))
	if _, err := r.Next(); err == nil {
		t.Fatalf("expected error on short record")
	}
}

func TestBinaryReaderRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	write := func(arrival float64, device, blkno, bcount int, flags uint32) {
		var rec [binaryRecordSize]byte
		binary.BigEndian.PutUint64(rec[0:8], math.Float64bits(arrival))
		binary.BigEndian.PutUint32(rec[8:12], uint32(device))
		binary.BigEndian.PutUint32(rec[12:16], uint32(blkno))
		binary.BigEndian.PutUint32(rec[16:20], uint32(bcount))
		binary.BigEndian.PutUint32(rec[20:24], flags)
		buf.Write(rec[:])
	}
	write(1.5, 2, 100, 8, 1)
	write(2.5, 2, 108, 8, 0)

	r := NewBinaryReader(&buf)
	rec, err := r.Next()
	if err != nil {
		t.Fatalf("first record: %v", err)
	}
	if rec.ArrivalTime != 1.5 || rec.Device != 2 || rec.Blkno != 100 || rec.Bcount != 8 || !rec.IsRead {
		t.Fatalf("unexpected first record: %+v", rec)
	}

	rec, err = r.Next()
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if rec.IsRead {
		t.Fatalf("expected write record")
	}

	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestBinaryReaderTruncatedRecordIsEOF(t *testing.T) {
	r := NewBinaryReader(bytes.NewReader([]byte{1, 2, 3}))
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF on truncated trailing record, got %v", err)
	}
}

func TestPrefetcherPeekDoesNotConsume(t *testing.T) {
	r := NewASCIIReader(strings.NewReader("0.0 0 0 8 1\n1.0 0 8 8 0\n"))
	p := NewPrefetcher(r)

	rec, ok, err := p.Peek()
	if err != nil || !ok {
		t.Fatalf("peek: ok=%v err=%v", ok, err)
	}
	if rec.Blkno != 0 {
		t.Fatalf("expected first record still pending, got %+v", rec)
	}

	rec2, ok, err := p.Peek()
	if err != nil || !ok || rec2.Blkno != 0 {
		t.Fatalf("peek should be idempotent, got %+v ok=%v err=%v", rec2, ok, err)
	}
}

func TestPrefetcherPullAdvancesOnEachNullEventTick(t *testing.T) {
	r := NewASCIIReader(strings.NewReader("0.0 0 0 8 1\n1.0 0 8 8 0\n"))
	p := NewPrefetcher(r)

	first, ok, err := p.Pull()
	if err != nil || !ok || first.Blkno != 0 {
		t.Fatalf("first pull: %+v ok=%v err=%v", first, ok, err)
	}

	second, ok, err := p.Pull()
	if err != nil || !ok || second.Blkno != 8 {
		t.Fatalf("second pull: %+v ok=%v err=%v", second, ok, err)
	}

	_, ok, err = p.Pull()
	if ok || err != nil {
		t.Fatalf("expected exhausted trace with no error, got ok=%v err=%v", ok, err)
	}
}
