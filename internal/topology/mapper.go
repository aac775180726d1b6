package topology

import (
	"fmt"

	"github.com/bobfs/bobd/internal/bobdata"
)

// Mapper resolves key -> vdisk -> replica set -> local disk path. It is
// built once at startup from the parsed cluster.yml and never mutated;
// there is no rebalancing and no membership change at runtime.
type Mapper struct {
	localNodeName   string
	localDisks      []DiskPath
	vdisksByID      map[VDiskID]VDisk
	vdiskOrder      []VDiskID
	localDiskByName map[string]DiskPath
	nodesByName     map[string]Node
	nodeOrder       []Node
}

// New validates nodes/vdisks and builds a Mapper rooted at localNodeName.
// Validation fails on duplicate node/disk/vdisk names and on replica
// references to unknown (node, disk) pairs, with KindInvalidConfig and a
// message naming the offending entity.
func New(localNodeName string, nodes []Node, disksByNode map[string][]DiskPath, vdisks []VDisk) (*Mapper, error) {
	nodeSet := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if nodeSet[n.Name] {
			return nil, invalidConfig("duplicate node name %q", n.Name)
		}
		nodeSet[n.Name] = true
	}

	diskSet := make(map[string]map[string]bool, len(disksByNode))
	for nodeName, disks := range disksByNode {
		seen := make(map[string]bool, len(disks))
		for _, d := range disks {
			if seen[d.Name] {
				return nil, invalidConfig("duplicate disk name %q on node %q", d.Name, nodeName)
			}
			seen[d.Name] = true
		}
		diskSet[nodeName] = seen
	}

	vdisksByID := make(map[VDiskID]VDisk, len(vdisks))
	order := make([]VDiskID, 0, len(vdisks))
	for _, vd := range vdisks {
		if _, ok := vdisksByID[vd.ID]; ok {
			return nil, invalidConfig("duplicate vdisk id %d", vd.ID)
		}

		seenReplica := make(map[Replica]bool, len(vd.Replicas))
		for _, r := range vd.Replicas {
			if seenReplica[r] {
				return nil, invalidConfig("duplicate replica %+v in vdisk %d", r, vd.ID)
			}
			seenReplica[r] = true

			if !nodeSet[r.NodeName] {
				return nil, invalidConfig("vdisk %d replica references unknown node %q", vd.ID, r.NodeName)
			}
			if !diskSet[r.NodeName][r.DiskName] {
				return nil, invalidConfig("vdisk %d replica references unknown disk %q on node %q", vd.ID, r.DiskName, r.NodeName)
			}
		}

		vdisksByID[vd.ID] = vd
		order = append(order, vd.ID)
	}

	if !nodeSet[localNodeName] {
		return nil, invalidConfig("local node %q not present in cluster config", localNodeName)
	}

	localDiskByName := make(map[string]DiskPath, len(disksByNode[localNodeName]))
	for _, d := range disksByNode[localNodeName] {
		localDiskByName[d.Name] = d
	}

	nodesByName := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		nodesByName[n.Name] = n
	}

	return &Mapper{
		localNodeName:   localNodeName,
		localDisks:      disksByNode[localNodeName],
		vdisksByID:      vdisksByID,
		vdiskOrder:      order,
		localDiskByName: localDiskByName,
		nodesByName:     nodesByName,
		nodeOrder:       nodes,
	}, nil
}

func invalidConfig(format string, args ...any) error {
	return bobdata.New(bobdata.KindInvalidConfig, fmt.Sprintf(format, args...))
}

// VDiskForKey is k mod N over the number of configured vdisks. Pure, total,
// and a function of (k, topology) alone.
func (m *Mapper) VDiskForKey(k bobdata.Key) VDiskID {
	n := uint64(len(m.vdiskOrder))
	if n == 0 {
		return 0
	}
	return m.vdiskOrder[uint64(k)%n]
}

// Replicas returns the ordered replica list for a vdisk, or nil if unknown.
func (m *Mapper) Replicas(id VDiskID) []Replica {
	return m.vdisksByID[id].Replicas
}

func (m *Mapper) LocalNodeName() string { return m.localNodeName }

func (m *Mapper) LocalDisks() []DiskPath { return m.localDisks }

// VDisksOnDisk returns the vdisks that have a replica on (local node, diskName).
func (m *Mapper) VDisksOnDisk(diskName string) []VDiskID {
	var out []VDiskID
	for _, id := range m.vdiskOrder {
		for _, r := range m.vdisksByID[id].Replicas {
			if r.NodeName == m.localNodeName && r.DiskName == diskName {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

func (m *Mapper) IsVDiskOnNode(nodeName string, id VDiskID) bool {
	for _, r := range m.vdisksByID[id].Replicas {
		if r.NodeName == nodeName {
			return true
		}
	}
	return false
}

// OperationForKey returns a local operation if any replica of the key's
// vdisk lives on this node's disks (the first such replica, in replica
// order), otherwise an alien operation targeted at the first replica's node.
func (m *Mapper) OperationForKey(k bobdata.Key) Operation {
	id := m.VDiskForKey(k)
	replicas := m.vdisksByID[id].Replicas
	for _, r := range replicas {
		if r.NodeName == m.localNodeName {
			if _, ok := m.localDiskByName[r.DiskName]; ok {
				return LocalOperation(id, r.DiskName)
			}
		}
	}
	if len(replicas) == 0 {
		return Operation{VDiskID: id}
	}
	return AlienOperation(id, replicas[0].NodeName)
}

// NodeByName returns the full Node record (including host/port) for name.
func (m *Mapper) NodeByName(name string) (Node, bool) {
	n, ok := m.nodesByName[name]
	return n, ok
}

// RemoteNodes returns every configured node except the local one, in
// config order — the link manager's dial target list.
func (m *Mapper) RemoteNodes() []Node {
	out := make([]Node, 0, len(m.nodeOrder))
	for _, n := range m.nodeOrder {
		if n.Name != m.localNodeName {
			out = append(out, n)
		}
	}
	return out
}

// AllVDiskIDs returns every configured vdisk id, in config order.
func (m *Mapper) AllVDiskIDs() []VDiskID {
	out := make([]VDiskID, len(m.vdiskOrder))
	copy(out, m.vdiskOrder)
	return out
}
