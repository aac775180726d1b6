package configs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bobfs/bobd/internal/bobdata"
	"github.com/bobfs/bobd/internal/settings"
)

const sampleCluster = `
nodes:
  - name: node01
    address: "127.0.0.1:20000"
    disks:
      - {name: disk01, path: /mnt/disk01}
  - name: node02
    address: "127.0.0.1:20001"
    disks:
      - {name: disk01, path: /mnt/disk01}
vdisks:
  - id: 0
    replicas:
      - {node: node01, disk: disk01}
      - {node: node02, disk: disk01}
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadClusterConfigAndBuildMapper(t *testing.T) {
	path := writeTemp(t, "cluster.yml", sampleCluster)

	cfg, err := LoadClusterConfig(path)
	if err != nil {
		t.Fatalf("LoadClusterConfig() error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	mapper, err := BuildMapper(cfg, "node01")
	if err != nil {
		t.Fatalf("BuildMapper() error: %v", err)
	}
	if mapper.LocalNodeName() != "node01" {
		t.Errorf("LocalNodeName() = %q, want node01", mapper.LocalNodeName())
	}
	if got := len(mapper.Replicas(0)); got != 2 {
		t.Errorf("len(Replicas(0)) = %d, want 2", got)
	}
	remotes := mapper.RemoteNodes()
	if len(remotes) != 1 || remotes[0].Name != "node02" {
		t.Fatalf("RemoteNodes() = %+v, want [node02]", remotes)
	}
	if remotes[0].Port != 20001 {
		t.Errorf("node02 port = %d, want 20001", remotes[0].Port)
	}
}

func TestLoadClusterConfigMissingFile(t *testing.T) {
	_, err := LoadClusterConfig(filepath.Join(t.TempDir(), "nope.yml"))
	if !bobdata.Is(err, bobdata.KindInvalidConfig) {
		t.Errorf("LoadClusterConfig(missing) err = %v, want KindInvalidConfig", err)
	}
}

func TestClusterConfigValidateRejectsEmpty(t *testing.T) {
	cfg := &ClusterConfig{}
	if err := cfg.Validate(); !bobdata.Is(err, bobdata.KindInvalidConfig) {
		t.Errorf("Validate() err = %v, want KindInvalidConfig", err)
	}
}

func TestNodeConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  NodeConfig
		ok   bool
	}{
		{"valid", NodeConfig{Name: "node01", GRPCPort: 20000, QuorumRequired: 1}, true},
		{"full", NodeConfig{Name: "node01", GRPCPort: 20000, QuorumRequired: 2, OperationTimeout: "3s", ClusterPolicy: "quorum", BackendType: "pearl", CleanupInterval: "1m"}, true},
		{"simple policy", NodeConfig{Name: "node01", GRPCPort: 20000, QuorumRequired: 1, ClusterPolicy: "simple", BackendType: "in_memory"}, true},
		{"no name", NodeConfig{GRPCPort: 20000, QuorumRequired: 1}, false},
		{"no port", NodeConfig{Name: "node01", QuorumRequired: 1}, false},
		{"zero quorum", NodeConfig{Name: "node01", GRPCPort: 20000}, false},
		{"bad policy", NodeConfig{Name: "node01", GRPCPort: 20000, QuorumRequired: 1, ClusterPolicy: "paxos"}, false},
		{"bad backend", NodeConfig{Name: "node01", GRPCPort: 20000, QuorumRequired: 1, BackendType: "bolt"}, false},
		{"bad timeout", NodeConfig{Name: "node01", GRPCPort: 20000, QuorumRequired: 1, OperationTimeout: "fast"}, false},
		{"negative cleanup", NodeConfig{Name: "node01", GRPCPort: 20000, QuorumRequired: 1, CleanupInterval: "-1m"}, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.cfg.Validate()
			if c.ok && err != nil {
				t.Errorf("Validate() error: %v, want nil", err)
			}
			if !c.ok && !bobdata.Is(err, bobdata.KindInvalidConfig) {
				t.Errorf("Validate() err = %v, want KindInvalidConfig", err)
			}
		})
	}
}

func TestDurationAccessorsFallBackToDefaults(t *testing.T) {
	cfg := NodeConfig{}
	if got := cfg.OperationTimeoutOr(3 * time.Second); got != 3*time.Second {
		t.Errorf("OperationTimeoutOr(3s) on empty config = %v, want 3s", got)
	}
	if got := cfg.CleanupIntervalOr(time.Minute); got != time.Minute {
		t.Errorf("CleanupIntervalOr(1m) on empty config = %v, want 1m", got)
	}

	cfg = NodeConfig{OperationTimeout: "750ms", CleanupInterval: "2m"}
	if got := cfg.OperationTimeoutOr(3 * time.Second); got != 750*time.Millisecond {
		t.Errorf("OperationTimeoutOr = %v, want 750ms", got)
	}
	if got := cfg.CleanupIntervalOr(time.Minute); got != 2*time.Minute {
		t.Errorf("CleanupIntervalOr = %v, want 2m", got)
	}
}

func TestBuildSettingsRejectsBadPeriod(t *testing.T) {
	_, err := BuildSettings(&NodeConfig{Period: "2h"})
	if !bobdata.Is(err, bobdata.KindInvalidConfig) {
		t.Errorf("BuildSettings(period=2h) err = %v, want KindInvalidConfig", err)
	}
}

func TestBuildSettingsParsesDurations(t *testing.T) {
	s, err := BuildSettings(&NodeConfig{
		Period:             "1w",
		RootDirName:        "bob",
		AlienRootDirName:   "alien",
		FailRetryTimeoutMS: 250,
		CreatePearlWaitMS:  100,
	})
	if err != nil {
		t.Fatalf("BuildSettings() error: %v", err)
	}
	if s.Period != settings.PeriodWeek {
		t.Errorf("Period = %v, want PeriodWeek", s.Period)
	}
	if s.FailRetryTimeout.Milliseconds() != 250 {
		t.Errorf("FailRetryTimeout = %v, want 250ms", s.FailRetryTimeout)
	}
}
