// Package configs loads cluster.yml and node.yml into the plain
// YAML-shaped structs below, validates them, and converts a
// ClusterConfig into a ready topology.Mapper.
package configs

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bobfs/bobd/internal/backend"
	"github.com/bobfs/bobd/internal/bobdata"
	"github.com/bobfs/bobd/internal/settings"
	"github.com/bobfs/bobd/internal/topology"
)

// NodeDiskConfig is one disk entry under a node in cluster.yml.
type NodeDiskConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// NodeConfigEntry is one node entry in cluster.yml's nodes list.
type NodeConfigEntry struct {
	Name    string           `yaml:"name"`
	Address string           `yaml:"address"`
	Disks   []NodeDiskConfig `yaml:"disks"`
}

// ReplicaConfig is one (node, disk) placement inside a vdisk entry.
type ReplicaConfig struct {
	Node string `yaml:"node"`
	Disk string `yaml:"disk"`
}

// VDiskConfig is one vdisk entry in cluster.yml.
type VDiskConfig struct {
	ID       uint32          `yaml:"id"`
	Replicas []ReplicaConfig `yaml:"replicas"`
}

// ClusterConfig is the parsed shape of cluster.yml.
type ClusterConfig struct {
	Nodes  []NodeConfigEntry `yaml:"nodes"`
	VDisks []VDiskConfig     `yaml:"vdisks"`
}

// NodeConfig is the parsed shape of node.yml: node-local settings that
// don't belong in the cluster-wide topology file.
type NodeConfig struct {
	Name                 string `yaml:"name"`
	QuorumRequired       int    `yaml:"quorum"`
	OperationTimeout     string `yaml:"operation_timeout"`
	ClusterPolicy        string `yaml:"cluster_policy"`
	BackendType          string `yaml:"backend_type"`
	CleanupInterval      string `yaml:"cleanup_interval"`
	AlienDiskName        string `yaml:"alien_disk"`
	RootDirName          string `yaml:"root_dir_name"`
	AlienRootDirName     string `yaml:"alien_root_dir_name"`
	Period               string `yaml:"timestamp_period"`
	GRPCPort             int    `yaml:"grpc_port"`
	HTTPAPIPort          int    `yaml:"http_api_port"`
	PingPeriodMS         int    `yaml:"ping_period_ms"`
	FailRetryTimeoutMS   int    `yaml:"fail_retry_timeout_ms"`
	CreatePearlWaitMS    int    `yaml:"create_pearl_wait_delay_ms"`
	AlienDrainPeriodMS   int    `yaml:"alien_drain_period_ms"`
	GraphiteAddress      string `yaml:"graphite_address"`
	MetricsPrefix        string `yaml:"metrics_prefix"`
	MetricsFlushPeriodMS int    `yaml:"metrics_flush_period_ms"`
}

// Cluster policies: quorum counts acks against the configured quorum,
// simple is satisfied by a single ack.
const (
	PolicySimple = "simple"
	PolicyQuorum = "quorum"
)

// LoadClusterConfig reads and parses filename, without validating it —
// callers should call Validate explicitly so parse errors and validation
// errors aren't conflated.
func LoadClusterConfig(filename string) (*ClusterConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, bobdata.Wrap(bobdata.KindInvalidConfig, "read cluster config", err)
	}
	var cfg ClusterConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, bobdata.Wrap(bobdata.KindInvalidConfig, "parse cluster config yaml", err)
	}
	return &cfg, nil
}

// LoadNodeConfig reads and parses filename.
func LoadNodeConfig(filename string) (*NodeConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, bobdata.Wrap(bobdata.KindInvalidConfig, "read node config", err)
	}
	var cfg NodeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, bobdata.Wrap(bobdata.KindInvalidConfig, "parse node config yaml", err)
	}
	return &cfg, nil
}

// Validate checks cluster-level shape invariants that topology.New's
// deeper cross-reference validation doesn't already cover: non-empty
// names/addresses, at least one node and one vdisk. topology.New still
// performs the duplicate/unknown-reference checks, since it already has
// to walk the same structures to build its lookup tables.
func (c *ClusterConfig) Validate() error {
	if len(c.Nodes) == 0 {
		return bobdata.New(bobdata.KindInvalidConfig, "cluster config has no nodes")
	}
	if len(c.VDisks) == 0 {
		return bobdata.New(bobdata.KindInvalidConfig, "cluster config has no vdisks")
	}
	for _, n := range c.Nodes {
		if n.Name == "" || n.Address == "" {
			return bobdata.New(bobdata.KindInvalidConfig, fmt.Sprintf("node %+v has an empty name or address", n))
		}
		for _, d := range n.Disks {
			if d.Name == "" || d.Path == "" {
				return bobdata.New(bobdata.KindInvalidConfig, fmt.Sprintf("disk %+v on node %q has an empty name or path", d, n.Name))
			}
		}
	}
	return nil
}

// Validate checks node.yml-level invariants bobd needs before it can
// start serving: a name, at least one port, a sane quorum, and known
// values for the policy/backend enums and duration fields.
func (c *NodeConfig) Validate() error {
	if c.Name == "" {
		return bobdata.New(bobdata.KindInvalidConfig, "node config has an empty name")
	}
	if c.GRPCPort <= 0 {
		return bobdata.New(bobdata.KindInvalidConfig, "node config grpc_port must be positive")
	}
	if c.QuorumRequired <= 0 {
		return bobdata.New(bobdata.KindInvalidConfig, "node config quorum must be positive")
	}
	switch c.ClusterPolicy {
	case "", PolicySimple, PolicyQuorum:
	default:
		return bobdata.New(bobdata.KindInvalidConfig, fmt.Sprintf("unknown cluster_policy %q (want simple or quorum)", c.ClusterPolicy))
	}
	if _, err := backend.ParseType(c.BackendType); err != nil {
		return err
	}
	if _, err := parseDuration("operation_timeout", c.OperationTimeout); err != nil {
		return err
	}
	if _, err := parseDuration("cleanup_interval", c.CleanupInterval); err != nil {
		return err
	}
	return nil
}

// parseDuration parses an optional duration field; empty means "use the
// caller's default" and is not an error.
func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, bobdata.Wrap(bobdata.KindInvalidConfig, "node config "+field, err)
	}
	if d <= 0 {
		return 0, bobdata.New(bobdata.KindInvalidConfig, "node config "+field+" must be positive")
	}
	return d, nil
}

// OperationTimeoutOr returns the parsed operation_timeout, or def when
// the field is unset. Validate has already rejected malformed values.
func (c *NodeConfig) OperationTimeoutOr(def time.Duration) time.Duration {
	if d, err := parseDuration("operation_timeout", c.OperationTimeout); err == nil && d > 0 {
		return d
	}
	return def
}

// CleanupIntervalOr returns the parsed cleanup_interval, or def when the
// field is unset.
func (c *NodeConfig) CleanupIntervalOr(def time.Duration) time.Duration {
	if d, err := parseDuration("cleanup_interval", c.CleanupInterval); err == nil && d > 0 {
		return d
	}
	return def
}

// BuildMapper converts a validated ClusterConfig into a topology.Mapper
// rooted at localNodeName.
func BuildMapper(c *ClusterConfig, localNodeName string) (*topology.Mapper, error) {
	nodes := make([]topology.Node, 0, len(c.Nodes))
	disksByNode := make(map[string][]topology.DiskPath, len(c.Nodes))

	for _, n := range c.Nodes {
		host, port, err := splitAddress(n.Address)
		if err != nil {
			return nil, bobdata.Wrap(bobdata.KindInvalidConfig, "node "+n.Name+" address", err)
		}
		nodes = append(nodes, topology.Node{Name: n.Name, Host: host, Port: port})

		disks := make([]topology.DiskPath, 0, len(n.Disks))
		for _, d := range n.Disks {
			disks = append(disks, topology.DiskPath{Name: d.Name, Path: d.Path})
		}
		disksByNode[n.Name] = disks
	}

	vdisks := make([]topology.VDisk, 0, len(c.VDisks))
	for _, vd := range c.VDisks {
		replicas := make([]topology.Replica, 0, len(vd.Replicas))
		for _, r := range vd.Replicas {
			path := diskPathFor(disksByNode, r.Node, r.Disk)
			replicas = append(replicas, topology.Replica{NodeName: r.Node, DiskName: r.Disk, Path: path})
		}
		vdisks = append(vdisks, topology.VDisk{ID: topology.VDiskID(vd.ID), Replicas: replicas})
	}

	return topology.New(localNodeName, nodes, disksByNode, vdisks)
}

func diskPathFor(disksByNode map[string][]topology.DiskPath, nodeName, diskName string) string {
	for _, d := range disksByNode[nodeName] {
		if d.Name == diskName {
			return d.Path
		}
	}
	return ""
}

// BuildSettings converts a validated NodeConfig's pearl-related fields
// into a settings.Settings.
func BuildSettings(c *NodeConfig) (settings.Settings, error) {
	period, err := settings.ParsePeriod(c.Period)
	if err != nil {
		return settings.Settings{}, err
	}
	return settings.Settings{
		RootDirName:          c.RootDirName,
		AlienRootDirName:     c.AlienRootDirName,
		Period:               period,
		CreatePearlWaitDelay: time.Duration(c.CreatePearlWaitMS) * time.Millisecond,
		FailRetryTimeout:     time.Duration(c.FailRetryTimeoutMS) * time.Millisecond,
	}, nil
}

func splitAddress(address string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return host, port, nil
}
