// Package streaming reads change files with bounded memory.
//
// Small files come back as one buffered read. Files at or above the
// streaming threshold come back as a pull-based chunk cursor: callers drain
// it with Next() and must Close() it, including on early exit. An in-flight
// byte counter on the Reader enforces the memory ceiling at every yield
// boundary, and periodic checkpoints make interrupted streams resumable
// from a byte offset.
package streaming

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultChunkSize is the per-chunk read size.
	DefaultChunkSize = 64 * 1024
	// DefaultStreamingThreshold is the file size at which reads switch
	// from buffered to chunked.
	DefaultStreamingThreshold = 1024 * 1024
	// DefaultMaxFileSize is the hard per-file ceiling; larger files are
	// rejected outright.
	DefaultMaxFileSize = 100 * 1024 * 1024
	// DefaultMaxMemory bounds the bytes in flight across all streams of
	// one Reader.
	DefaultMaxMemory = 50 * 1024 * 1024
	// DefaultCheckpointInterval is the number of chunks between
	// checkpoint emissions.
	DefaultCheckpointInterval = 16

	// checkpointHistoryLimit bounds the retained checkpoint history.
	checkpointHistoryLimit = 100
)

var (
	// ErrSizeExceeded means the file is larger than the configured
	// maximum and was rejected before any read.
	ErrSizeExceeded = errors.New("file exceeds maximum allowed size")
	// ErrMemoryLimit means the in-flight byte counter would exceed the
	// memory ceiling; the offending chunk is never yielded.
	ErrMemoryLimit = errors.New("streaming memory limit exceeded")
	// ErrClosed means Next was called on a closed stream.
	ErrClosed = errors.New("stream is closed")
)

// Options configures a Reader. Zero fields fall back to the defaults.
type Options struct {
	ChunkSize          int
	StreamingThreshold int64
	MaxFileSize        int64
	MaxMemory          int64
	CheckpointInterval int
}

// DefaultOptions returns the standard streaming configuration.
func DefaultOptions() Options {
	return Options{
		ChunkSize:          DefaultChunkSize,
		StreamingThreshold: DefaultStreamingThreshold,
		MaxFileSize:        DefaultMaxFileSize,
		MaxMemory:          DefaultMaxMemory,
		CheckpointInterval: DefaultCheckpointInterval,
	}
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.StreamingThreshold <= 0 {
		o.StreamingThreshold = DefaultStreamingThreshold
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.MaxMemory <= 0 {
		o.MaxMemory = DefaultMaxMemory
	}
	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = DefaultCheckpointInterval
	}
	return o
}

// Checkpoint marks a resumable position in a stream.
type Checkpoint struct {
	BytePosition int64     `json:"byte_position"`
	ChunkIndex   int       `json:"chunk_index"`
	Timestamp    time.Time `json:"timestamp"`
}

// CheckpointFunc receives checkpoints as a stream emits them.
type CheckpointFunc func(Checkpoint)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// Reader decides between buffered and chunked reads and owns the shared
// in-flight byte counter.
type Reader struct {
	opts         Options
	inFlight     atomic.Int64
	onCheckpoint CheckpointFunc

	mu      sync.Mutex
	history []Checkpoint
}

// NewReader creates a Reader with the given options.
func NewReader(opts Options) *Reader {
	return &Reader{opts: opts.withDefaults()}
}

// OnCheckpoint registers the checkpoint callback. At most one callback is
// active; registering replaces the previous one.
func (r *Reader) OnCheckpoint(fn CheckpointFunc) {
	r.onCheckpoint = fn
}

// Result is the outcome of a Read: exactly one of Content (buffered small
// file) or Stream (chunked large file) is set.
type Result struct {
	Content []byte
	Stream  *Stream
	Size    int64
}

// Streamed reports whether the file came back as a chunk cursor.
func (res *Result) Streamed() bool {
	return res.Stream != nil
}

// Read stats path and returns either the full content (below the streaming
// threshold) or an open chunk cursor. Files above MaxFileSize are rejected
// with ErrSizeExceeded before any data is read.
func (r *Reader) Read(path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	size := info.Size()
	if size > r.opts.MaxFileSize {
		return nil, fmt.Errorf("%w (%d bytes)", ErrSizeExceeded, size)
	}

	if size < r.opts.StreamingThreshold {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading file: %w", err)
		}
		return &Result{Content: data, Size: size}, nil
	}

	stream, err := r.stream(path, 0)
	if err != nil {
		return nil, err
	}
	return &Result{Stream: stream, Size: size}, nil
}

// StreamFrom re-opens path at the given byte offset, typically taken from
// an earlier checkpoint, and applies the same size and memory rules.
func (r *Reader) StreamFrom(path string, offset int64) (*Stream, error) {
	if offset < 0 {
		return nil, fmt.Errorf("negative stream offset %d", offset)
	}
	return r.stream(path, offset)
}

func (r *Reader) stream(path string, offset int64) (*Stream, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	size := info.Size()
	if size > r.opts.MaxFileSize {
		return nil, fmt.Errorf("%w (%d bytes)", ErrSizeExceeded, size)
	}
	if offset > size {
		return nil, fmt.Errorf("stream offset %d beyond end of file (%d bytes)", offset, size)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("seeking to offset: %w", err)
		}
	}

	return &Stream{
		reader:     r,
		f:          f,
		pos:        offset,
		chunkIndex: int(offset / int64(r.opts.ChunkSize)),
	}, nil
}

// record appends a checkpoint to the bounded history and invokes the
// registered callback.
func (r *Reader) record(cp Checkpoint) {
	r.mu.Lock()
	r.history = append(r.history, cp)
	if len(r.history) > checkpointHistoryLimit {
		r.history = r.history[len(r.history)-checkpointHistoryLimit:]
	}
	r.mu.Unlock()

	if r.onCheckpoint != nil {
		r.onCheckpoint(cp)
	}
}

// Checkpoints returns a copy of the retained checkpoint history, most
// recent last.
func (r *Reader) Checkpoints() []Checkpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Checkpoint, len(r.history))
	copy(out, r.history)
	return out
}

// InFlightBytes returns the current value of the shared in-flight counter.
func (r *Reader) InFlightBytes() int64 {
	return r.inFlight.Load()
}

// Stream is a pull-based chunk cursor over one open file. It is not safe
// for concurrent use; a consumer drains it with Next and must Close it.
type Stream struct {
	reader *Reader
	f      *os.File

	pos        int64 // byte position after the last yielded chunk
	chunkIndex int   // chunks yielded so far (absolute when resumed)
	pending    int64 // bytes of the last yielded chunk, still counted in flight
	closed     bool
	done       bool
}

// Next returns the next chunk, or io.EOF after the final chunk. The
// returned slice is owned by the caller. Any failure closes the underlying
// handle and resets this stream's in-flight contribution before returning.
func (s *Stream) Next() ([]byte, error) {
	if s.done {
		_ = s.Close()
		return nil, io.EOF
	}
	if s.closed {
		return nil, ErrClosed
	}

	// The previously yielded chunk now belongs entirely to the consumer.
	if s.pending > 0 {
		s.reader.inFlight.Add(-s.pending)
		s.pending = 0
	}

	buf := make([]byte, s.reader.opts.ChunkSize)
	n, err := io.ReadFull(s.f, buf)
	if err == io.EOF {
		s.finish()
		return nil, io.EOF
	}
	if err != nil && err != io.ErrUnexpectedEOF {
		s.abort()
		return nil, fmt.Errorf("reading chunk: %w", err)
	}
	lastChunk := err == io.ErrUnexpectedEOF

	// Count the chunk before yielding; nothing is yielded on a breach.
	if s.reader.inFlight.Add(int64(n)) > s.reader.opts.MaxMemory {
		s.reader.inFlight.Add(int64(-n))
		s.abort()
		return nil, fmt.Errorf("%w (chunk of %d bytes)", ErrMemoryLimit, n)
	}
	s.pending = int64(n)
	s.pos += int64(n)
	s.chunkIndex++

	if lastChunk {
		s.done = true
		s.checkpoint()
	} else if s.reader.opts.CheckpointInterval > 0 && s.chunkIndex%s.reader.opts.CheckpointInterval == 0 {
		s.checkpoint()
	}

	return buf[:n], nil
}

// Close releases the underlying handle and the stream's in-flight bytes.
// Safe to call at any time, including mid-stream and repeatedly.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.pending > 0 {
		s.reader.inFlight.Add(-s.pending)
		s.pending = 0
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("closing stream: %w", err)
	}
	return nil
}

// Position returns the byte position after the last yielded chunk.
func (s *Stream) Position() int64 {
	return s.pos
}

// finish marks clean end-of-stream: final checkpoint, then close.
func (s *Stream) finish() {
	s.done = true
	s.checkpoint()
	_ = s.Close()
}

// abort closes the stream on a mid-stream failure.
func (s *Stream) abort() {
	_ = s.Close()
}

func (s *Stream) checkpoint() {
	s.reader.record(Checkpoint{
		BytePosition: s.pos,
		ChunkIndex:   s.chunkIndex,
		Timestamp:    timeNow(),
	})
}
