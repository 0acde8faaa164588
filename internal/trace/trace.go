// Package trace records interrupt delivery latencies to a compact
// binary stream: a header, a JSON table of the registered sample kinds,
// then fixed-size samples. Soak runs produce millions of samples, so
// recording hands them to a single flusher goroutine over a channel
// instead of touching the writer inline.
package trace

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

const (
	Magic   uint32 = 0x41494354 // "AICT"
	Version uint32 = 1
)

type header struct {
	Magic       uint32
	Version     uint32
	KindsLength uint32
}

// KindID names a registered sample kind.
type KindID uint32

const InvalidKind = KindID(0)

// KindInfo describes a registered kind in the stream's table.
type KindInfo struct {
	Name string
}

var kinds = make(map[KindID]KindInfo)

// RegisterKind allocates an ID for a named sample kind. Call it from
// package initialization only; the kind table is frozen into the stream
// when Open runs.
func RegisterKind(name string) KindID {
	id := KindID(len(kinds) + 1)
	kinds[id] = KindInfo{Name: name}
	return id
}

// sample is the on-stream record: kind, the CPU it was delivered on,
// and the delivery latency in nanoseconds.
type sample struct {
	ID      uint32
	CPU     uint32
	Latency int64
}

var sampleSize = binary.Size(sample{})

type writer struct {
	w       io.Writer
	flushed chan error
	samples chan sample
}

func (w *writer) run() {
	defer close(w.flushed)

	var buf [4096]byte
	off := 0

	for s := range w.samples {
		if off+sampleSize > len(buf) {
			if _, err := w.w.Write(buf[:off]); err != nil {
				w.flushed <- err
				return
			}
			off = 0
		}
		binary.LittleEndian.PutUint32(buf[off:], s.ID)
		binary.LittleEndian.PutUint32(buf[off+4:], s.CPU)
		binary.LittleEndian.PutUint64(buf[off+8:], uint64(s.Latency))
		off += sampleSize
	}

	if off > 0 {
		if _, err := w.w.Write(buf[:off]); err != nil {
			w.flushed <- err
			return
		}
	}
	w.flushed <- nil
}

// Close stops the flusher and drains what it buffered.
func (w *writer) Close() error {
	if !current.CompareAndSwap(w, nil) {
		return fmt.Errorf("trace: already closed")
	}
	close(w.samples)
	if err := <-w.flushed; err != nil {
		return fmt.Errorf("trace: flush: %w", err)
	}
	return nil
}

var current atomic.Pointer[writer]

// Record emits one sample to the open stream. Without an open stream it
// is a cheap no-op, so delivery paths can record unconditionally.
func Record(id KindID, cpu int, latency time.Duration) {
	if w := current.Load(); w != nil {
		w.samples <- sample{ID: uint32(id), CPU: uint32(cpu), Latency: latency.Nanoseconds()}
	}
}

// Open starts recording to w. Only one stream can be open at a time;
// the returned Closer stops it.
func Open(w io.Writer) (io.Closer, error) {
	if current.Load() != nil {
		return nil, fmt.Errorf("trace: already open")
	}

	table, err := json.Marshal(kinds)
	if err != nil {
		return nil, fmt.Errorf("trace: marshal kind table: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, header{
		Magic:       Magic,
		Version:     Version,
		KindsLength: uint32(len(table)),
	}); err != nil {
		return nil, fmt.Errorf("trace: write header: %w", err)
	}
	if _, err := w.Write(table); err != nil {
		return nil, fmt.Errorf("trace: write kind table: %w", err)
	}

	// Pad so samples start page-aligned.
	off := binary.Size(header{}) + len(table)
	if off%4096 != 0 {
		if _, err := w.Write(make([]byte, 4096-off%4096)); err != nil {
			return nil, fmt.Errorf("trace: write padding: %w", err)
		}
	}

	tw := &writer{
		w:       w,
		samples: make(chan sample, 4096),
		flushed: make(chan error, 1),
	}
	if !current.CompareAndSwap(nil, tw) {
		return nil, fmt.Errorf("trace: already open")
	}
	go tw.run()
	return tw, nil
}

// ReadAll replays a stream, calling fn for every sample.
func ReadAll(r io.Reader, fn func(kind string, cpu int, latency time.Duration) error) error {
	buf := bufio.NewReaderSize(r, 4096)

	var h header
	if err := binary.Read(buf, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("trace: read header: %w", err)
	}
	if h.Magic != Magic {
		return fmt.Errorf("trace: bad magic %#x", h.Magic)
	}
	if h.Version != Version {
		return fmt.Errorf("trace: version %d, want %d", h.Version, Version)
	}

	var table map[KindID]KindInfo
	dec := json.NewDecoder(io.LimitReader(buf, int64(h.KindsLength)))
	if err := dec.Decode(&table); err != nil {
		return fmt.Errorf("trace: decode kind table: %w", err)
	}

	off := binary.Size(header{}) + int(h.KindsLength)
	if off%4096 != 0 {
		if _, err := buf.Discard(4096 - off%4096); err != nil {
			return fmt.Errorf("trace: skip padding: %w", err)
		}
	}

	for {
		var s sample
		if err := binary.Read(buf, binary.LittleEndian, &s); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("trace: read sample: %w", err)
		}
		kind, ok := table[KindID(s.ID)]
		if !ok {
			return fmt.Errorf("trace: unknown kind %d", s.ID)
		}
		if err := fn(kind.Name, int(s.CPU), time.Duration(s.Latency)); err != nil {
			return err
		}
	}
}
