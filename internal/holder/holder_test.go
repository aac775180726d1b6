package holder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bobfs/bobd/internal/bobdata"
)

func TestPrepareThenWriteRead(t *testing.T) {
	h := New(filepath.Join(t.TempDir(), "1700000000"), 1700000000, 1700086400, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.Prepare(ctx); err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}
	if h.State() != StateReady {
		t.Fatalf("State() = %v, want Ready", h.State())
	}

	v := bobdata.BobData{Bytes: []byte("x"), Meta: bobdata.Meta{Timestamp: 1700000001}}
	if err := h.Write(ctx, 1, v); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	got, err := h.Read(ctx, 1)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if string(got.Bytes) != "x" {
		t.Errorf("Read() = %+v, want bytes=%q", got, "x")
	}
}

func TestWriteBeforePrepareIsNotReady(t *testing.T) {
	h := New(filepath.Join(t.TempDir(), "1700000000"), 1700000000, 1700086400, 10*time.Millisecond)

	err := h.Write(context.Background(), 1, bobdata.BobData{})
	if !bobdata.Is(err, bobdata.KindVDiskNotReady) {
		t.Errorf("Write() before Prepare err = %v, want KindVDiskNotReady", err)
	}
}

func TestContains(t *testing.T) {
	h := New(t.TempDir(), 100, 200, time.Millisecond)
	if !h.Contains(100) {
		t.Errorf("Contains(100) = false, want true (inclusive start)")
	}
	if h.Contains(200) {
		t.Errorf("Contains(200) = true, want false (exclusive end)")
	}
	if !h.Contains(150) {
		t.Errorf("Contains(150) = false, want true")
	}
}

func TestTryReinitClosesStoreAndBlocksReuse(t *testing.T) {
	h := New(filepath.Join(t.TempDir(), "1700000000"), 1700000000, 1700086400, 10*time.Millisecond)
	if err := h.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}

	if ok := h.TryReinit(); !ok {
		t.Fatalf("first TryReinit() = false, want true")
	}
	if h.State() != StateInitializing {
		t.Fatalf("State() after TryReinit = %v, want Initializing", h.State())
	}
	if ok := h.TryReinit(); ok {
		t.Errorf("second TryReinit() = true, want false (already Initializing)")
	}
}
