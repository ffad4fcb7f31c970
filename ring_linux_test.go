//go:build linux
// +build linux

package uring

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

// openTestRing opens a real ring or skips when the kernel cannot.
func openTestRing(t *testing.T, cfg *Config) *Ring {
	t.Helper()
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	r, err := Open(c)
	if err != nil {
		if errors.Is(err, syscall.ENOSYS) || errors.Is(err, syscall.EPERM) ||
			IsCode(err, ErrCodeKernelNotSupported) {
			t.Skipf("io_uring unavailable: %v", err)
		}
		t.Fatalf("Open: %v", err)
	}
	return r
}

// The canonical small-ring walkthrough: fill a four-slot ring with nops,
// observe the fifth rejection, flush and reap everything in one enter.
func TestRingNopBatch(t *testing.T) {
	r := openTestRing(t, &Config{Entries: 4})
	defer r.Close()

	if got := r.SQCapacity(); got != 4 {
		t.Fatalf("capacity = %d, want 4", got)
	}

	ids := make(map[uint64]bool, 4)
	for i := 0; i < 4; i++ {
		id, err := r.Submit(Nop())
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		ids[id] = true
	}
	if len(ids) != 4 {
		t.Fatalf("expected 4 distinct correlation ids, got %d", len(ids))
	}
	if _, err := r.Submit(Nop()); !IsQueueFull(err) {
		t.Fatalf("fifth submit: %v, want queue-full", err)
	}

	n, err := r.Enter(4, 4, 0)
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if n != 4 {
		t.Fatalf("kernel accepted %d, want 4", n)
	}

	for i := 0; i < 4; i++ {
		c, ok := r.PollCompletion()
		if !ok {
			t.Fatalf("completion %d missing", i)
		}
		if !ids[c.UserData] {
			t.Fatalf("completion for unknown id %d", c.UserData)
		}
		delete(ids, c.UserData)
		if c.Res != 0 {
			t.Errorf("nop result = %d", c.Res)
		}
	}
	if _, ok := r.PollCompletion(); ok {
		t.Error("extra completion after draining")
	}
}

func TestRingReadFile(t *testing.T) {
	r := openTestRing(t, nil)
	defer r.Close()
	q := NewSyncQueue(r)

	path := filepath.Join(t.TempDir(), "payload")
	want := bytes.Repeat([]byte("ringway"), 100)
	if err := os.WriteFile(path, want, 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	buf := make([]byte, len(want))
	c, err := q.SubmitAndWait(Read(int32(f.Fd()), buf, 0))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if int(c.Res) != len(want) {
		t.Fatalf("read %d bytes, want %d", c.Res, len(want))
	}
	if !bytes.Equal(buf, want) {
		t.Error("payload mismatch")
	}
}

func TestRingWriteThenRead(t *testing.T) {
	r := openTestRing(t, nil)
	defer r.Close()
	q := NewSyncQueue(r)

	path := filepath.Join(t.TempDir(), "out")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	payload := []byte("written through the ring")
	c, err := q.SubmitAndWait(Write(int32(f.Fd()), payload, 0))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if int(c.Res) != len(payload) {
		t.Fatalf("wrote %d bytes, want %d", c.Res, len(payload))
	}

	got := make([]byte, len(payload))
	if _, err := q.SubmitAndWait(Read(int32(f.Fd()), got, 0)); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("readback mismatch")
	}
}

func TestRingOpenAtAndClose(t *testing.T) {
	r := openTestRing(t, nil)
	defer r.Close()
	q := NewSyncQueue(r)

	path := filepath.Join(t.TempDir(), "via-ring")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := q.SubmitAndWait(OpenAt(AtFDCWD, path, uint32(os.O_RDONLY), 0))
	if err != nil {
		t.Fatalf("openat: %v", err)
	}
	fd := c.Res
	if fd < 0 {
		t.Fatalf("openat returned %d", fd)
	}

	if _, err := q.SubmitAndWait(CloseFD(fd)); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRingFixedBuffers(t *testing.T) {
	r := openTestRing(t, &Config{Entries: 8, FixedBuffers: 2, FixedBufferSize: 4096})
	defer r.Close()
	q := NewSyncQueue(r)

	fb, ok := r.GetRegisteredBuffer()
	if !ok {
		t.Fatal("no buffer available from the pool")
	}

	path := filepath.Join(t.TempDir(), "fixed")
	want := bytes.Repeat([]byte{0xAB}, 1024)
	if err := os.WriteFile(path, want, 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	c, err := q.SubmitAndWait(ReadFixed(int32(f.Fd()), fb, 1024, 0))
	if err != nil {
		t.Fatalf("read fixed: %v", err)
	}
	if int(c.Res) != 1024 {
		t.Fatalf("read %d bytes, want 1024", c.Res)
	}
	if !bytes.Equal(fb.B[:1024], want) {
		t.Error("fixed buffer payload mismatch")
	}
	if err := r.ReturnRegisteredBuffer(fb); err != nil {
		t.Fatalf("return buffer: %v", err)
	}
}

func TestRingForeignFixedBufferRejected(t *testing.T) {
	r := openTestRing(t, &Config{Entries: 8, FixedBuffers: 1, FixedBufferSize: 4096})
	defer r.Close()

	forged := &FixedBuffer{Index: 0, B: make([]byte, 4096)}
	_, err := r.Submit(ReadFixed(0, forged, 16, 0))
	if !IsCode(err, ErrCodeInvalidArgument) {
		t.Fatalf("foreign buffer submit: %v, want invalid-argument", err)
	}
}

func TestRingLinkedTimeoutExpires(t *testing.T) {
	r := openTestRing(t, nil)
	defer r.Close()
	q := NewSyncQueue(r)

	// A pipe with no writer never becomes readable.
	var p [2]int
	if err := syscall.Pipe(p[:]); err != nil {
		t.Fatal(err)
	}
	defer syscall.Close(p[0])
	defer syscall.Close(p[1])

	buf := make([]byte, 8)
	start := time.Now()
	_, err := q.SubmitAndWaitTimeout(Read(int32(p[0]), buf, 0), 50*time.Millisecond)
	if !IsTimeout(err) {
		t.Fatalf("read from silent pipe: %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("timed out after %v, expected ~50ms", elapsed)
	}
}

func TestRingLinkedTimeoutOperationWins(t *testing.T) {
	r := openTestRing(t, nil)
	defer r.Close()
	q := NewSyncQueue(r)

	path := filepath.Join(t.TempDir(), "fast")
	if err := os.WriteFile(path, []byte("quick"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	buf := make([]byte, 5)
	c, err := q.SubmitAndWaitTimeout(Read(int32(f.Fd()), buf, 0), 5*time.Second)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if c.Res != 5 {
		t.Fatalf("read %d bytes, want 5", c.Res)
	}
}

func TestWorkQueueOnRealRing(t *testing.T) {
	r := openTestRing(t, &Config{Entries: 8})
	q := NewWorkQueue(r, nil)

	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func() {
			_, err := q.SubmitAndWait(Nop())
			done <- err
		}()
	}
	for i := 0; i < 20; i++ {
		if err := <-done; err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	if err := q.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestRingCloseIdempotent(t *testing.T) {
	r := openTestRing(t, nil)
	if err := r.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := r.Submit(Nop()); !IsCode(err, ErrCodeRingClosed) {
		t.Errorf("submit after close: %v", err)
	}
}
