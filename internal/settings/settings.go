// Package settings owns the time-partition policy (calendar-aligned
// day/week cadence) and the on-disk path layout for normal and alien
// groups. Nothing here touches a partition store directly — Holder and
// Group are the callers.
package settings

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bobfs/bobd/internal/bobdata"
	"github.com/bobfs/bobd/internal/topology"
)

// Period is the calendar-aligned cadence used to bucket blobs into
// holders. Only day and week are supported; anything else is rejected at
// startup.
type Period int

const (
	PeriodDay Period = iota
	PeriodWeek
)

func ParsePeriod(s string) (Period, error) {
	switch s {
	case "1d":
		return PeriodDay, nil
	case "1w":
		return PeriodWeek, nil
	default:
		return 0, bobdata.New(bobdata.KindInvalidConfig, fmt.Sprintf("unsupported timestamp_period %q (want 1d or 1w)", s))
	}
}

func (p Period) Duration() time.Duration {
	if p == PeriodWeek {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// Settings bundles the knobs that determine directory layout and
// partition lifecycle. It is constructed once by configs.BuildSettings
// from node.yml's flat top-level fields.
type Settings struct {
	RootDirName          string
	AlienRootDirName     string
	Period               Period
	CreatePearlWaitDelay time.Duration
	FailRetryTimeout     time.Duration
}

// Interval floors ts to the configured cadence, calendar-aligned UTC, and
// returns the half-open [start, end) interval (as Unix seconds) that
// contains it.
func (s Settings) Interval(ts uint64) (start, end uint64) {
	t := time.Unix(int64(ts), 0).UTC()

	var floored time.Time
	switch s.Period {
	case PeriodWeek:
		// Align to the most recent Monday 00:00 UTC.
		y, m, d := t.Date()
		midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		offset := (int(midnight.Weekday()) + 6) % 7 // Monday == 0
		floored = midnight.AddDate(0, 0, -offset)
	default:
		y, m, d := t.Date()
		floored = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	startUnix := uint64(floored.Unix())
	return startUnix, startUnix + uint64(s.Period.Duration()/time.Second)
}

// GroupDir is the directory for a local normal group: <disk>/<root>/<vdisk>.
func (s Settings) GroupDir(disk topology.DiskPath, vdisk topology.VDiskID) string {
	return filepath.Join(disk.Path, s.RootDirName, strconv.FormatUint(uint64(vdisk), 10))
}

// AlienGroupDir is the directory for an alien group:
// <alien_disk>/<alien_root>/<remote_node>/<vdisk>.
func (s Settings) AlienGroupDir(alienDisk topology.DiskPath, remoteNode string, vdisk topology.VDiskID) string {
	return filepath.Join(alienDisk.Path, s.AlienRootDirName, remoteNode, strconv.FormatUint(uint64(vdisk), 10))
}

// HolderDir appends the decimal start timestamp that names one holder's
// sub-directory within a group directory.
func (s Settings) HolderDir(groupDir string, startTS uint64) string {
	return filepath.Join(groupDir, strconv.FormatUint(startTS, 10))
}

// ParseHolderDirName extracts the start timestamp encoded in a holder
// sub-directory's name, as produced by HolderDir.
func ParseHolderDirName(name string) (uint64, error) {
	return strconv.ParseUint(name, 10, 64)
}
