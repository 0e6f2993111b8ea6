package streaming

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

// writeTestFile creates a file of n pseudo-random-ish bytes and returns its
// path and content.
func writeTestFile(t *testing.T, n int) (string, []byte) {
	t.Helper()
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 31)
	}
	path := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path, data
}

// drain consumes a stream to completion, returning the concatenation.
func drain(t *testing.T, s *Stream) []byte {
	t.Helper()
	var out bytes.Buffer
	for {
		chunk, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		out.Write(chunk)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return out.Bytes()
}

func TestRead_SmallFileIsBuffered(t *testing.T) {
	path, data := writeTestFile(t, 512)
	r := NewReader(Options{StreamingThreshold: 1024})

	res, err := r.Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if res.Streamed() {
		t.Fatal("small file should not stream")
	}
	if !bytes.Equal(res.Content, data) {
		t.Error("buffered content mismatch")
	}
}

func TestRead_AtThresholdStreams(t *testing.T) {
	path, _ := writeTestFile(t, 1024)
	r := NewReader(Options{StreamingThreshold: 1024, ChunkSize: 256})

	res, err := r.Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !res.Streamed() {
		t.Fatal("file at threshold should stream")
	}
	res.Stream.Close()
}

func TestRead_RejectsOversizeFile(t *testing.T) {
	path, _ := writeTestFile(t, 2048)
	r := NewReader(Options{MaxFileSize: 1024})

	if _, err := r.Read(path); !errors.Is(err, ErrSizeExceeded) {
		t.Fatalf("err = %v, want ErrSizeExceeded", err)
	}
}

func TestStream_ChunkCountAndConcatenation(t *testing.T) {
	// 5x threshold with an uneven tail: ceil(5000/1024) = 5 chunks.
	path, data := writeTestFile(t, 5000)
	r := NewReader(Options{StreamingThreshold: 1000, ChunkSize: 1024})

	res, err := r.Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	var chunks int
	var out bytes.Buffer
	for {
		chunk, err := res.Stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		chunks++
		out.Write(chunk)
	}
	if chunks != 5 {
		t.Errorf("chunks = %d, want 5", chunks)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Error("stream concatenation does not match original")
	}
	if got := r.InFlightBytes(); got != 0 {
		t.Errorf("in-flight bytes after drain = %d, want 0", got)
	}
}

func TestStream_ExactMultipleOfChunkSize(t *testing.T) {
	path, data := writeTestFile(t, 4096)
	r := NewReader(Options{StreamingThreshold: 1024, ChunkSize: 1024})

	res, err := r.Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	got := drain(t, res.Stream)
	if !bytes.Equal(got, data) {
		t.Error("concatenation mismatch")
	}
}

func TestStream_MemoryLimitFailsBeforeYield(t *testing.T) {
	path, _ := writeTestFile(t, 8192)
	r := NewReader(Options{
		StreamingThreshold: 1024,
		ChunkSize:          2048,
		MaxMemory:          1024,
	})

	stream, err := r.StreamFrom(path, 0)
	if err != nil {
		t.Fatalf("StreamFrom failed: %v", err)
	}
	if _, err := stream.Next(); !errors.Is(err, ErrMemoryLimit) {
		t.Fatalf("err = %v, want ErrMemoryLimit", err)
	}
	if got := r.InFlightBytes(); got != 0 {
		t.Errorf("in-flight bytes after breach = %d, want 0", got)
	}
	// Handle must already be released; a second Next reports closed.
	if _, err := stream.Next(); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestStream_InFlightNeverExceedsCeiling(t *testing.T) {
	path, _ := writeTestFile(t, 10*1024)
	ceiling := int64(2048)
	r := NewReader(Options{
		StreamingThreshold: 1024,
		ChunkSize:          1024,
		MaxMemory:          ceiling,
	})

	stream, err := r.StreamFrom(path, 0)
	if err != nil {
		t.Fatalf("StreamFrom failed: %v", err)
	}
	defer stream.Close()
	for {
		_, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if got := r.InFlightBytes(); got > ceiling {
			t.Fatalf("in-flight %d exceeds ceiling %d at yield boundary", got, ceiling)
		}
	}
}

func TestStream_CloseMidStreamReleasesCounter(t *testing.T) {
	path, _ := writeTestFile(t, 8192)
	r := NewReader(Options{StreamingThreshold: 1024, ChunkSize: 1024})

	stream, err := r.StreamFrom(path, 0)
	if err != nil {
		t.Fatalf("StreamFrom failed: %v", err)
	}
	if _, err := stream.Next(); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := r.InFlightBytes(); got != 0 {
		t.Errorf("in-flight bytes after mid-stream close = %d, want 0", got)
	}
	// Close is idempotent.
	if err := stream.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestStream_CheckpointsEmittedAtInterval(t *testing.T) {
	path, _ := writeTestFile(t, 10*1024)
	r := NewReader(Options{
		StreamingThreshold: 1024,
		ChunkSize:          1024,
		CheckpointInterval: 4,
	})
	var seen []Checkpoint
	r.OnCheckpoint(func(cp Checkpoint) { seen = append(seen, cp) })

	stream, err := r.StreamFrom(path, 0)
	if err != nil {
		t.Fatalf("StreamFrom failed: %v", err)
	}
	drain(t, stream)

	// 10 chunks, interval 4: checkpoints after chunks 4 and 8, plus the
	// completion checkpoint.
	if len(seen) != 3 {
		t.Fatalf("checkpoints = %d, want 3", len(seen))
	}
	if seen[0].ChunkIndex != 4 || seen[0].BytePosition != 4096 {
		t.Errorf("first checkpoint = %+v", seen[0])
	}
	if last := seen[len(seen)-1]; last.BytePosition != 10*1024 {
		t.Errorf("final checkpoint position = %d, want %d", last.BytePosition, 10*1024)
	}
	if got := r.Checkpoints(); len(got) != 3 {
		t.Errorf("history length = %d, want 3", len(got))
	}
}

func TestReader_CheckpointHistoryIsBounded(t *testing.T) {
	r := NewReader(Options{})
	for i := 0; i < 250; i++ {
		r.record(Checkpoint{ChunkIndex: i})
	}
	got := r.Checkpoints()
	if len(got) != checkpointHistoryLimit {
		t.Fatalf("history length = %d, want %d", len(got), checkpointHistoryLimit)
	}
	if got[len(got)-1].ChunkIndex != 249 {
		t.Errorf("history does not retain the most recent checkpoints")
	}
}

func TestStreamFrom_ResumesAtOffset(t *testing.T) {
	path, data := writeTestFile(t, 8192)
	r := NewReader(Options{StreamingThreshold: 1024, ChunkSize: 1024})

	stream, err := r.StreamFrom(path, 4096)
	if err != nil {
		t.Fatalf("StreamFrom failed: %v", err)
	}
	got := drain(t, stream)
	if !bytes.Equal(got, data[4096:]) {
		t.Error("resumed stream does not match file tail")
	}
}

func TestStreamFrom_RejectsBadOffsets(t *testing.T) {
	path, _ := writeTestFile(t, 1024)
	r := NewReader(Options{})

	if _, err := r.StreamFrom(path, -1); err == nil {
		t.Error("negative offset accepted")
	}
	if _, err := r.StreamFrom(path, 4096); err == nil {
		t.Error("offset past EOF accepted")
	}
}

func TestStreamFrom_AppliesSizeRule(t *testing.T) {
	path, _ := writeTestFile(t, 4096)
	r := NewReader(Options{MaxFileSize: 1024})
	if _, err := r.StreamFrom(path, 0); !errors.Is(err, ErrSizeExceeded) {
		t.Fatalf("err = %v, want ErrSizeExceeded", err)
	}
}
