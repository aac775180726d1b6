package backend

import (
	"context"
	"testing"
	"time"

	"github.com/bobfs/bobd/internal/bobdata"
	"github.com/bobfs/bobd/internal/settings"
	"github.com/bobfs/bobd/internal/topology"
)

func testMapper(t *testing.T) *topology.Mapper {
	t.Helper()
	disk := topology.DiskPath{Name: "disk01", Path: t.TempDir()}
	m, err := topology.New("node01",
		[]topology.Node{{Name: "node01"}, {Name: "node02"}},
		map[string][]topology.DiskPath{"node01": {disk}, "node02": {disk}},
		[]topology.VDisk{
			{ID: 0, Replicas: []topology.Replica{{NodeName: "node01", DiskName: "disk01"}}},
		},
	)
	if err != nil {
		t.Fatalf("topology.New() error: %v", err)
	}
	return m
}

func testSettings() settings.Settings {
	return settings.Settings{RootDirName: "bob", AlienRootDirName: "alien", Period: settings.PeriodDay, FailRetryTimeout: 10 * time.Millisecond}
}

func TestParseType(t *testing.T) {
	cases := []struct {
		in   string
		want Type
		ok   bool
	}{
		{"", TypePearl, true},
		{"pearl", TypePearl, true},
		{"in_memory", TypeInMemory, true},
		{"stub", TypeStub, true},
		{"bolt", 0, false},
	}
	for _, c := range cases {
		got, err := ParseType(c.in)
		if c.ok && (err != nil || got != c.want) {
			t.Errorf("ParseType(%q) = %v, %v; want %v, nil", c.in, got, err, c.want)
		}
		if !c.ok && !bobdata.Is(err, bobdata.KindInvalidConfig) {
			t.Errorf("ParseType(%q) err = %v, want KindInvalidConfig", c.in, err)
		}
	}
}

func TestPearlPutGetLocal(t *testing.T) {
	mapper := testMapper(t)
	be := New(mapper, testSettings(), topology.DiskPath{Name: "alien", Path: t.TempDir()}, TypePearl)

	if err := be.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	op := mapper.OperationForKey(1)
	if op.Alien {
		t.Fatalf("setup: key 1 should resolve locally")
	}

	v := bobdata.BobData{Bytes: []byte("hi"), Meta: bobdata.Meta{Timestamp: uint64(time.Now().Unix())}}
	if err := be.Put(context.Background(), op, 1, v); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, err := be.Get(context.Background(), op, 1)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(got.Bytes) != "hi" {
		t.Errorf("Get() = %+v, want bytes=%q", got, "hi")
	}
}

func TestPearlAlienGroupCreatedLazily(t *testing.T) {
	mapper := testMapper(t)
	be := New(mapper, testSettings(), topology.DiskPath{Name: "alien", Path: t.TempDir()}, TypePearl)
	if err := be.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(be.AlienTargets()) != 0 {
		t.Fatalf("AlienTargets() before any alien write = %v, want empty", be.AlienTargets())
	}

	op := topology.AlienOperation(0, "node02")
	v := bobdata.BobData{Bytes: []byte("spill"), Meta: bobdata.Meta{Timestamp: uint64(time.Now().Unix())}}
	if err := be.Put(context.Background(), op, 1, v); err != nil {
		t.Fatalf("alien Put() error: %v", err)
	}

	targets := be.AlienTargets()
	if len(targets) != 1 || targets[0].RemoteNode != "node02" {
		t.Fatalf("AlienTargets() = %+v, want one target for node02", targets)
	}
}

// TestPearlRunLoadsAliensLeftOnDisk restarts a Pearl over the same
// directories and checks that alien data written by the previous
// instance is rediscovered, so the drain loop can still deliver it.
func TestPearlRunLoadsAliensLeftOnDisk(t *testing.T) {
	mapper := testMapper(t)
	s := testSettings()
	alienDisk := topology.DiskPath{Name: "alien", Path: t.TempDir()}

	first := New(mapper, s, alienDisk, TypePearl)
	if err := first.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error: %v", err)
	}
	v := bobdata.BobData{Bytes: []byte("debt"), Meta: bobdata.Meta{Timestamp: uint64(time.Now().Unix())}}
	if err := first.Put(context.Background(), topology.AlienOperation(0, "node02"), 9, v); err != nil {
		t.Fatalf("alien Put() error: %v", err)
	}

	second := New(mapper, s, alienDisk, TypePearl)
	if err := second.Run(context.Background()); err != nil {
		t.Fatalf("second Run() error: %v", err)
	}

	targets := second.AlienTargets()
	if len(targets) != 1 || targets[0].RemoteNode != "node02" {
		t.Fatalf("AlienTargets() after restart = %+v, want the on-disk target for node02", targets)
	}
	got, err := targets[0].Store.Get(context.Background(), 9)
	if err != nil {
		t.Fatalf("Store.Get() after restart error: %v", err)
	}
	if string(got.Bytes) != "debt" {
		t.Errorf("Store.Get() = %+v, want bytes=%q", got, "debt")
	}
}

func TestPearlNormalVDiskIDsAndHolderCount(t *testing.T) {
	mapper := testMapper(t)
	be := New(mapper, testSettings(), topology.DiskPath{Name: "alien", Path: t.TempDir()}, TypePearl)
	if err := be.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	ids := be.NormalVDiskIDs()
	if len(ids) != 1 || ids[0] != 0 {
		t.Fatalf("NormalVDiskIDs() = %v, want [0]", ids)
	}

	if got := be.HolderCount(0); got != 0 {
		t.Errorf("HolderCount(0) before any Put = %d, want 0", got)
	}
	if got := be.HolderCount(99); got != 0 {
		t.Errorf("HolderCount(99) = %d, want 0 (unknown vdisk)", got)
	}

	op := mapper.OperationForKey(1)
	v := bobdata.BobData{Bytes: []byte("x"), Meta: bobdata.Meta{Timestamp: uint64(time.Now().Unix())}}
	if err := be.Put(context.Background(), op, 1, v); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if got := be.HolderCount(0); got != 1 {
		t.Errorf("HolderCount(0) after Put = %d, want 1", got)
	}
}

func TestMemoryBackendFullCycle(t *testing.T) {
	mapper := testMapper(t)
	be := New(mapper, testSettings(), topology.DiskPath{}, TypeInMemory)
	if err := be.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	op := mapper.OperationForKey(1)
	v := bobdata.BobData{Bytes: []byte("mem"), Meta: bobdata.Meta{Timestamp: 10}}
	if err := be.Put(context.Background(), op, 1, v); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := be.Put(context.Background(), op, 1, v); !bobdata.Is(err, bobdata.KindDuplicateKey) {
		t.Errorf("second Put() err = %v, want KindDuplicateKey", err)
	}

	got, err := be.Get(context.Background(), op, 1)
	if err != nil || string(got.Bytes) != "mem" {
		t.Fatalf("Get() = %+v, %v; want bytes=%q", got, err, "mem")
	}

	exist, err := be.Exist(context.Background(), op, []bobdata.Key{1, 2})
	if err != nil {
		t.Fatalf("Exist() error: %v", err)
	}
	if !exist[0] || exist[1] {
		t.Errorf("Exist() = %v, want [true false]", exist)
	}

	if _, err := be.Get(context.Background(), op, 2); !bobdata.Is(err, bobdata.KindKeyNotFound) {
		t.Errorf("Get(missing) err = %v, want KindKeyNotFound", err)
	}
}

func TestMemoryBackendAlienDrainStore(t *testing.T) {
	mapper := testMapper(t)
	be := New(mapper, testSettings(), topology.DiskPath{}, TypeInMemory)
	if err := be.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	v := bobdata.BobData{Bytes: []byte("spill"), Meta: bobdata.Meta{Timestamp: 5}}
	if err := be.Put(context.Background(), topology.AlienOperation(0, "node02"), 3, v); err != nil {
		t.Fatalf("alien Put() error: %v", err)
	}

	if got, err := be.GetAlienForVDisk(context.Background(), 0, 3); err != nil || string(got.Bytes) != "spill" {
		t.Fatalf("GetAlienForVDisk() = %+v, %v; want bytes=%q", got, err, "spill")
	}

	targets := be.AlienTargets()
	if len(targets) != 1 || targets[0].RemoteNode != "node02" {
		t.Fatalf("AlienTargets() = %+v, want one target for node02", targets)
	}

	store := targets[0].Store
	keys := store.Keys()
	if len(keys) != 1 || keys[0] != 3 {
		t.Fatalf("Store.Keys() = %v, want [3]", keys)
	}
	if err := store.Remove(context.Background(), 3); err != nil {
		t.Fatalf("Store.Remove() error: %v", err)
	}
	if len(store.Keys()) != 0 {
		t.Errorf("Store.Keys() after Remove = %v, want empty", store.Keys())
	}
}

func TestStubBackendAcksAndMisses(t *testing.T) {
	mapper := testMapper(t)
	be := New(mapper, testSettings(), topology.DiskPath{}, TypeStub)
	if err := be.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	op := mapper.OperationForKey(1)
	if err := be.Put(context.Background(), op, 1, bobdata.BobData{Bytes: []byte("x")}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if _, err := be.Get(context.Background(), op, 1); !bobdata.Is(err, bobdata.KindKeyNotFound) {
		t.Errorf("Get() err = %v, want KindKeyNotFound (stub stores nothing)", err)
	}
	exist, err := be.Exist(context.Background(), op, []bobdata.Key{1, 2})
	if err != nil {
		t.Fatalf("Exist() error: %v", err)
	}
	if exist[0] || exist[1] {
		t.Errorf("Exist() = %v, want [false false]", exist)
	}
}
