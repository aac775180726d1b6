// Package holder implements the Holder state machine: one partition store
// instance opened at a directory covering a fixed time interval
// [StartTS, EndTS). A Holder is either Initializing (no store open) or
// Ready (store open); an I/O error classified as "real" triggers a
// transition back to Initializing and a scheduled re-Prepare.
//
// A reader takes the shared lock, checks state, grabs a handle to the
// store, and releases the lock before the actual store I/O — the lock is
// never held across anything that blocks.
package holder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bobfs/bobd/internal/bobdata"
	"github.com/bobfs/bobd/internal/partition"
)

type State int32

const (
	StateInitializing State = iota
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "Ready"
	}
	return "Initializing"
}

// Holder owns one partition.Store at Path, valid for [StartTS, EndTS).
type Holder struct {
	Path    string
	StartTS uint64
	EndTS   uint64

	mu    sync.RWMutex
	state State
	store *partition.Store

	failRetryTimeout time.Duration
}

// New returns a Holder in the Initializing state. Call Prepare to open it.
func New(path string, startTS, endTS uint64, failRetryTimeout time.Duration) *Holder {
	return &Holder{
		Path:             path,
		StartTS:          startTS,
		EndTS:            endTS,
		state:            StateInitializing,
		failRetryTimeout: failRetryTimeout,
	}
}

// Contains reports whether ts falls in this holder's half-open interval.
func (h *Holder) Contains(ts uint64) bool {
	return ts >= h.StartTS && ts < h.EndTS
}

// Prepare opens the partition store at Path, retrying transient errors
// with fail_retry_timeout between attempts, until ctx is done. On success
// the holder transitions to Ready.
func (h *Holder) Prepare(ctx context.Context) error {
	for {
		store, err := partition.Open(h.Path)
		if err == nil {
			h.mu.Lock()
			h.store = store
			h.state = StateReady
			h.mu.Unlock()
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("prepare holder %s: %w", h.Path, ctx.Err())
		case <-time.After(h.failRetryTimeout):
		}
	}
}

func (h *Holder) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// handle returns the current store if Ready, releasing the lock before the
// caller uses it — no suspension point ever runs under this lock.
func (h *Holder) handle() (*partition.Store, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.state != StateReady || h.store == nil {
		return nil, bobdata.ErrVDiskNotReady
	}
	return h.store, nil
}

func (h *Holder) Write(ctx context.Context, key bobdata.Key, value bobdata.BobData) error {
	store, err := h.handle()
	if err != nil {
		return err
	}

	if err := store.Write(key, value); err != nil {
		if h.classifyWriteError(err) {
			h.reinit()
		}
		return err
	}
	return nil
}

func (h *Holder) Read(ctx context.Context, key bobdata.Key) (bobdata.BobData, error) {
	store, err := h.handle()
	if err != nil {
		return bobdata.BobData{}, err
	}

	v, err := store.Read(key)
	if err != nil {
		if bobdata.Is(err, bobdata.KindKeyNotFound) {
			return bobdata.BobData{}, err
		}
		if h.classifyReadError(err) {
			h.reinit()
		}
		return bobdata.BobData{}, err
	}
	return v, nil
}

// Exist preserves input order; a holder that isn't Ready reports every key
// absent rather than failing the whole batch — the group and cluster
// layers already treat "any holder says yes" as existence, so a holder
// temporarily down contributes nothing rather than an error.
func (h *Holder) Exist(ctx context.Context, keys []bobdata.Key) ([]bool, error) {
	store, err := h.handle()
	if err != nil {
		return make([]bool, len(keys)), nil
	}
	return store.Exist(keys), nil
}

// Keys lists every key currently in this holder's store, or nil if the
// holder isn't Ready. Used only by the alien drain loop, which already
// tolerates a momentarily-unready holder contributing nothing.
func (h *Holder) Keys() []bobdata.Key {
	store, err := h.handle()
	if err != nil {
		return nil
	}
	return store.Keys()
}

// Remove deletes key after it has been successfully drained to its owner.
// Returns KeyNotFound if this holder never had it, so the group can keep
// looking in its other holders.
func (h *Holder) Remove(key bobdata.Key) error {
	store, err := h.handle()
	if err != nil {
		return err
	}
	removed, err := store.Remove(key)
	if err != nil {
		return err
	}
	if !removed {
		return bobdata.ErrKeyNotFound
	}
	return nil
}

// classifyWriteError reports whether a write error should trigger reinit:
// anything other than DuplicateKey and VDiskNotReady.
func (h *Holder) classifyWriteError(err error) bool {
	return !bobdata.Is(err, bobdata.KindDuplicateKey) && !bobdata.Is(err, bobdata.KindVDiskNotReady)
}

// classifyReadError reports whether a read error should trigger reinit:
// anything other than KeyNotFound and VDiskNotReady.
func (h *Holder) classifyReadError(err error) bool {
	return !bobdata.Is(err, bobdata.KindKeyNotFound) && !bobdata.Is(err, bobdata.KindVDiskNotReady)
}

// TryReinit transitions Ready -> Initializing, closing the old store
// best-effort. It returns false if the holder is already Initializing —
// at most one concurrent reinit is meaningful per holder. The caller is
// responsible for scheduling the subsequent Prepare.
func (h *Holder) TryReinit() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateInitializing {
		return false
	}

	if h.store != nil {
		_ = h.store.Close() // best-effort; a close error doesn't block reinit
		h.store = nil
	}
	h.state = StateInitializing
	return true
}

// reinit flips the holder back to Initializing and schedules its own
// re-Prepare in the background, since nothing higher up the call chain
// (Write/Read's caller) is positioned to notice the state change and
// re-drive it — the holder re-opens itself and resumes serving once
// Prepare succeeds.
func (h *Holder) reinit() {
	if !h.TryReinit() {
		return
	}
	go func() {
		// Prepare retries internally on transient error with
		// fail_retry_timeout; context.Background() because this runs
		// detached from whatever request triggered the reinit.
		_ = h.Prepare(context.Background())
	}()
}
