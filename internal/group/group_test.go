package group

import (
	"context"
	"testing"
	"time"

	"github.com/bobfs/bobd/internal/bobdata"
	"github.com/bobfs/bobd/internal/settings"
)

func testSettings() settings.Settings {
	return settings.Settings{
		RootDirName:      "bob",
		AlienRootDirName: "alien",
		Period:           settings.PeriodDay,
		FailRetryTimeout: 10 * time.Millisecond,
	}
}

func TestPutThenGetCreatesHolderLazily(t *testing.T) {
	s := testSettings()
	g := New(Owner{VDiskID: 0}, t.TempDir(), s)

	if err := g.LoadFromDisk(context.Background()); err != nil {
		t.Fatalf("LoadFromDisk() error: %v", err)
	}
	if g.HolderCount() != 0 {
		t.Fatalf("HolderCount() = %d, want 0 before any Put", g.HolderCount())
	}

	ts := uint64(time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC).Unix())
	v := bobdata.BobData{Bytes: []byte("payload"), Meta: bobdata.Meta{Timestamp: ts}}

	if err := g.Put(context.Background(), 1, v); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if g.HolderCount() != 1 {
		t.Fatalf("HolderCount() after Put = %d, want 1", g.HolderCount())
	}

	got, err := g.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(got.Bytes) != "payload" {
		t.Errorf("Get() = %+v, want bytes=%q", got, "payload")
	}
}

func TestGetMissingKeyAcrossHolders(t *testing.T) {
	s := testSettings()
	g := New(Owner{VDiskID: 0}, t.TempDir(), s)
	if err := g.LoadFromDisk(context.Background()); err != nil {
		t.Fatalf("LoadFromDisk() error: %v", err)
	}

	ts := uint64(time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC).Unix())
	if err := g.Put(context.Background(), 1, bobdata.BobData{Meta: bobdata.Meta{Timestamp: ts}}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	_, err := g.Get(context.Background(), 999)
	if !bobdata.Is(err, bobdata.KindKeyNotFound) {
		t.Errorf("Get(missing) err = %v, want KindKeyNotFound", err)
	}
}

func TestPutsInDifferentDaysCreateSeparateHolders(t *testing.T) {
	s := testSettings()
	g := New(Owner{VDiskID: 0}, t.TempDir(), s)
	if err := g.LoadFromDisk(context.Background()); err != nil {
		t.Fatalf("LoadFromDisk() error: %v", err)
	}

	day1 := uint64(time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC).Unix())
	day2 := uint64(time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC).Unix())

	if err := g.Put(context.Background(), 1, bobdata.BobData{Meta: bobdata.Meta{Timestamp: day1}}); err != nil {
		t.Fatalf("Put() day1 error: %v", err)
	}
	if err := g.Put(context.Background(), 2, bobdata.BobData{Meta: bobdata.Meta{Timestamp: day2}}); err != nil {
		t.Fatalf("Put() day2 error: %v", err)
	}

	if g.HolderCount() != 2 {
		t.Errorf("HolderCount() = %d, want 2 (one per day)", g.HolderCount())
	}
}

func TestExistAcrossHolders(t *testing.T) {
	s := testSettings()
	g := New(Owner{VDiskID: 0}, t.TempDir(), s)
	if err := g.LoadFromDisk(context.Background()); err != nil {
		t.Fatalf("LoadFromDisk() error: %v", err)
	}

	ts := uint64(time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC).Unix())
	if err := g.Put(context.Background(), 5, bobdata.BobData{Meta: bobdata.Meta{Timestamp: ts}}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, err := g.Exist(context.Background(), []bobdata.Key{5, 6})
	if err != nil {
		t.Fatalf("Exist() error: %v", err)
	}
	if !got[0] || got[1] {
		t.Errorf("Exist() = %v, want [true false]", got)
	}
}
