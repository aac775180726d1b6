// Package adminapi is the operator-facing HTTP surface next to the gRPC
// data plane. It carries no client data-plane traffic — that's bobrpc's
// job — only health, metrics snapshots, and topology introspection for
// operators and load balancers.
package adminapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bobfs/bobd/internal/backend"
	"github.com/bobfs/bobd/internal/metrics"
	"github.com/bobfs/bobd/internal/topology"
)

// Handler holds the read-only dependencies the admin surface reports on.
type Handler struct {
	nodeName string
	mapper   *topology.Mapper
	backend  backend.Backend
	sink     *metrics.Sink
}

func NewHandler(nodeName string, mapper *topology.Mapper, be backend.Backend, sink *metrics.Sink) *Handler {
	return &Handler{nodeName: nodeName, mapper: mapper, backend: be, sink: sink}
}

// Register mounts the admin routes on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/metrics/snapshot", h.MetricsSnapshot)
	r.GET("/debug/vdisks", h.DebugVDisks)
}

// Health reports liveness and the node's identity.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"node":   h.nodeName,
		"status": "ok",
		"vdisks": len(h.mapper.AllVDiskIDs()),
	})
}

// MetricsSnapshot exposes the current in-memory aggregates without
// waiting for the next graphite flush — useful for a scrape-based
// monitor sitting alongside the push exporter.
func (h *Handler) MetricsSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.sink.Snapshot())
}

// DebugVDisks lists every vdisk this node serves locally and how many
// holders each group currently has open, for operator troubleshooting.
func (h *Handler) DebugVDisks(c *gin.Context) {
	type vdiskInfo struct {
		ID          uint32 `json:"id"`
		HolderCount int    `json:"holder_count"`
	}

	out := make([]vdiskInfo, 0, len(h.backend.NormalVDiskIDs()))
	for _, id := range h.backend.NormalVDiskIDs() {
		out = append(out, vdiskInfo{ID: uint32(id), HolderCount: h.backend.HolderCount(id)})
	}
	c.JSON(http.StatusOK, gin.H{"node": h.nodeName, "vdisks": out})
}
