package partition

import (
	"testing"

	"github.com/bobfs/bobd/internal/bobdata"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	v := bobdata.BobData{Bytes: []byte("hello"), Meta: bobdata.Meta{Timestamp: 1}}
	if err := s.Write(1, v); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	got, err := s.Read(1)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if string(got.Bytes) != "hello" || got.Meta.Timestamp != 1 {
		t.Errorf("Read() = %+v, want %+v", got, v)
	}
}

func TestReadMissingKey(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	_, err = s.Read(42)
	if !bobdata.Is(err, bobdata.KindKeyNotFound) {
		t.Errorf("Read() err = %v, want KindKeyNotFound", err)
	}
}

func TestWriteSameTimestampIsDuplicate(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	v := bobdata.BobData{Bytes: []byte("a"), Meta: bobdata.Meta{Timestamp: 5}}
	if err := s.Write(1, v); err != nil {
		t.Fatalf("first Write() error: %v", err)
	}
	err = s.Write(1, v)
	if !bobdata.Is(err, bobdata.KindDuplicateKey) {
		t.Errorf("second Write() err = %v, want KindDuplicateKey", err)
	}
}

func TestWriteNewerTimestampOverwrites(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	if err := s.Write(1, bobdata.BobData{Bytes: []byte("old"), Meta: bobdata.Meta{Timestamp: 1}}); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if err := s.Write(1, bobdata.BobData{Bytes: []byte("new"), Meta: bobdata.Meta{Timestamp: 2}}); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	got, err := s.Read(1)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if string(got.Bytes) != "new" {
		t.Errorf("Read() = %q, want %q", got.Bytes, "new")
	}
}

func TestExistReportsEachKeyInOrder(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	if err := s.Write(1, bobdata.BobData{Meta: bobdata.Meta{Timestamp: 1}}); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	got := s.Exist([]bobdata.Key{1, 2, 3})
	want := []bool{true, false, false}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Exist()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestReopenReplaysLog(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := s.Write(7, bobdata.BobData{Bytes: []byte("persisted"), Meta: bobdata.Meta{Timestamp: 9}}); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen Open() error: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Read(7)
	if err != nil {
		t.Fatalf("Read() after reopen error: %v", err)
	}
	if string(got.Bytes) != "persisted" {
		t.Errorf("Read() after reopen = %q, want %q", got.Bytes, "persisted")
	}
}

func TestRemoveDeletesKey(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	if err := s.Write(3, bobdata.BobData{Meta: bobdata.Meta{Timestamp: 1}}); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	removed, err := s.Remove(3)
	if err != nil || !removed {
		t.Fatalf("Remove() = %v, %v; want true, nil", removed, err)
	}

	if _, err := s.Read(3); !bobdata.Is(err, bobdata.KindKeyNotFound) {
		t.Errorf("Read() after Remove() err = %v, want KindKeyNotFound", err)
	}

	if removed, _ := s.Remove(3); removed {
		t.Errorf("second Remove() = true, want false")
	}
}

func TestRemoveSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := s.Write(4, bobdata.BobData{Bytes: []byte("gone"), Meta: bobdata.Meta{Timestamp: 1}}); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if _, err := s.Remove(4); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen Open() error: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.Read(4); !bobdata.Is(err, bobdata.KindKeyNotFound) {
		t.Errorf("Read() after reopen err = %v, want KindKeyNotFound (tombstone replayed)", err)
	}
}
