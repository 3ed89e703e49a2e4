// Package journal implements the binary event journal keymapd uses for
// session recording and deterministic replay.
//
// A journal segment is a 32-byte header followed by fixed-size records,
// one per confirmed key event. Each record carries the engine tick it was
// processed on, so replaying a segment through an identical keymap
// reproduces the exact report stream. Records are CRC-framed; a torn
// final record from a crashed session is tolerated on read.
package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"keymapd/internal/matrix"
)

// Format constants.
const (
	Magic      = "KMJL"
	Version    = 1
	HeaderSize = 32
	RecordSize = 16
)

// Errors.
var (
	ErrInvalidMagic   = errors.New("journal: invalid magic number")
	ErrInvalidVersion = errors.New("journal: unsupported version")
	ErrCorruptRecord  = errors.New("journal: corrupted record (CRC mismatch)")
	ErrJournalFull    = errors.New("journal: size cap reached")
	ErrJournalClosed  = errors.New("journal: closed")
)

// WriterOptions configure a journal writer.
type WriterOptions struct {
	// MaxSizeBytes caps the segment size. Appends past the cap return
	// ErrJournalFull. Zero or negative means no cap.
	MaxSizeBytes int64

	// FlushEvery is the number of records between explicit flushes to
	// disk. Zero or negative flushes on Close only.
	FlushEvery int
}

// Writer appends key events to a journal segment.
type Writer struct {
	mu sync.Mutex

	path   string
	file   *os.File
	buf    *bufio.Writer
	opts   WriterOptions
	closed bool

	records    uint64
	size       int64
	sinceFlush int
}

// Create creates a new journal segment. The path must not already exist;
// each session writes a fresh segment.
func Create(path string, tickHz int, opts WriterOptions) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create journal segment: %w", err)
	}

	w := &Writer{
		path: path,
		file: file,
		buf:  bufio.NewWriter(file),
		opts: opts,
		size: HeaderSize,
	}

	header := make([]byte, HeaderSize)
	copy(header[0:4], Magic)
	binary.BigEndian.PutUint32(header[4:8], Version)
	binary.BigEndian.PutUint64(header[8:16], uint64(time.Now().UnixNano()))
	binary.BigEndian.PutUint32(header[16:20], uint32(tickHz))
	// Bytes 20-32 are reserved

	if _, err := w.buf.Write(header); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write journal header: %w", err)
	}
	// Flush the header immediately so even a session that crashes before
	// its first record leaves a readable segment.
	if err := w.flushLocked(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}

	return w, nil
}

// Append writes one key event record.
func (w *Writer) Append(ev matrix.KeyEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrJournalClosed
	}
	if w.opts.MaxSizeBytes > 0 && w.size+RecordSize > w.opts.MaxSizeBytes {
		return ErrJournalFull
	}

	var rec [RecordSize]byte
	binary.BigEndian.PutUint64(rec[0:8], ev.Tick)
	rec[8] = ev.Pos.Row
	rec[9] = ev.Pos.Col
	if ev.Pressed {
		rec[10] = 1
	}
	// Byte 11 is reserved
	binary.BigEndian.PutUint32(rec[12:16], crc32.ChecksumIEEE(rec[0:12]))

	if _, err := w.buf.Write(rec[:]); err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	w.records++
	w.size += RecordSize
	w.sinceFlush++

	if w.opts.FlushEvery > 0 && w.sinceFlush >= w.opts.FlushEvery {
		if err := w.flushLocked(); err != nil {
			return err
		}
	}

	return nil
}

// Flush forces buffered records to disk.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrJournalClosed
	}
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	w.sinceFlush = 0
	return nil
}

// RecordCount returns the number of records appended.
func (w *Writer) RecordCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records
}

// Size returns the segment size in bytes, including buffered records.
func (w *Writer) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Path returns the segment path.
func (w *Writer) Path() string {
	return w.path
}

// Close flushes and closes the segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("flush journal: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("sync journal: %w", err)
	}
	return w.file.Close()
}

// Reader reads key events back from a journal segment.
type Reader struct {
	file    *os.File
	r       *bufio.Reader
	tickHz  int
	created time.Time
}

// OpenReader opens a journal segment for reading and validates its header.
func OpenReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal segment: %w", err)
	}

	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(file, header); err != nil {
		file.Close()
		return nil, fmt.Errorf("read journal header: %w", err)
	}

	if string(header[0:4]) != Magic {
		file.Close()
		return nil, ErrInvalidMagic
	}
	version := binary.BigEndian.Uint32(header[4:8])
	if version != Version {
		file.Close()
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrInvalidVersion, version, Version)
	}

	return &Reader{
		file:    file,
		r:       bufio.NewReader(file),
		tickHz:  int(binary.BigEndian.Uint32(header[16:20])),
		created: time.Unix(0, int64(binary.BigEndian.Uint64(header[8:16]))),
	}, nil
}

// TickHz returns the engine tick rate the segment was recorded at.
func (r *Reader) TickHz() int {
	return r.tickHz
}

// CreatedAt returns the segment creation time.
func (r *Reader) CreatedAt() time.Time {
	return r.created
}

// Next returns the next recorded event. It returns io.EOF at the end of
// the segment, including after a torn final record from a crashed
// session. A full-size record that fails its CRC returns
// ErrCorruptRecord.
func (r *Reader) Next() (matrix.KeyEvent, error) {
	var rec [RecordSize]byte
	if _, err := io.ReadFull(r.r, rec[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return matrix.KeyEvent{}, io.EOF
		}
		return matrix.KeyEvent{}, fmt.Errorf("read record: %w", err)
	}

	if binary.BigEndian.Uint32(rec[12:16]) != crc32.ChecksumIEEE(rec[0:12]) {
		return matrix.KeyEvent{}, ErrCorruptRecord
	}

	return matrix.KeyEvent{
		Pos:     matrix.Pos{Row: rec[8], Col: rec[9]},
		Pressed: rec[10] == 1,
		Tick:    binary.BigEndian.Uint64(rec[0:8]),
	}, nil
}

// ReadAll reads every remaining record.
func (r *Reader) ReadAll() ([]matrix.KeyEvent, error) {
	var events []matrix.KeyEvent
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

// Close closes the segment.
func (r *Reader) Close() error {
	return r.file.Close()
}

// SegmentName returns the canonical segment file name for a session
// started at t.
func SegmentName(t time.Time) string {
	return fmt.Sprintf("keymapd-%s.journal", t.Format("20060102-150405"))
}

// ListSegments returns the journal segments in dir, oldest first.
func ListSegments(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "keymapd-*.journal"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
