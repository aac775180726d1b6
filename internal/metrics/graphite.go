package metrics

import (
	"fmt"
	"math"
	"net"
	"time"

	"github.com/bobfs/bobd/internal/logging"
)

// GraphiteExporter periodically pushes a Sink's aggregates to a graphite
// carbon endpoint using the plaintext line protocol: one line per metric
// (`<key> <value> <unix_ts>\n`), a flush interval, and a socket that
// reconnects rather than aborting the exporter on a transient failure.
type GraphiteExporter struct {
	sink     *Sink
	addr     string
	prefix   string
	interval time.Duration
	log      *logging.Logger

	conn net.Conn
}

// NewGraphiteExporter builds an exporter that pushes prefix-qualified keys
// (e.g. "bobd.node01.grinder.put_count") to addr every interval.
func NewGraphiteExporter(sink *Sink, addr, prefix string, interval time.Duration, log *logging.Logger) *GraphiteExporter {
	return &GraphiteExporter{sink: sink, addr: addr, prefix: prefix, interval: interval, log: log}
}

// Run flushes on a fixed ticker until stop is closed, then performs one
// last flush so the final partial window isn't silently dropped.
func (e *GraphiteExporter) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.flush()
		case <-stop:
			e.flush()
			e.closeConn()
			return
		}
	}
}

func (e *GraphiteExporter) flush() {
	snap := e.sink.snapshotAndReset()
	if len(snap.counters) == 0 && len(snap.gauges) == 0 && len(snap.timerAvg) == 0 {
		return
	}

	now := time.Now().Unix()
	var buf []byte
	for k, v := range snap.counters {
		buf = appendLine(buf, e.qualify(k), v, now)
	}
	for k, v := range snap.gauges {
		buf = appendLine(buf, e.qualify(k), v, now)
	}
	for k, v := range snap.timerAvg {
		buf = appendLine(buf, e.qualify(k)+".mean", v, now)
	}

	if err := e.writeWithRetry(buf); err != nil {
		e.log.Warnf("metrics: graphite flush to %s failed: %v", e.addr, err)
	}
}

// writeWithRetry dials (if needed) and writes buf to carbon, retrying
// with exponential backoff if either step fails. A socket write failure
// drops the connection and reconnects before the next attempt.
func (e *GraphiteExporter) writeWithRetry(buf []byte) error {
	var lastErr error
	for attempt := 0; attempt < graphiteDialRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))*100) * time.Millisecond
			time.Sleep(delay)
		}

		if err := e.ensureConn(); err != nil {
			lastErr = err
			continue
		}
		if _, err := e.conn.Write(buf); err != nil {
			e.closeConn()
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("after %d attempts: %w", graphiteDialRetries, lastErr)
}

func (e *GraphiteExporter) qualify(key string) string {
	if e.prefix == "" {
		return key
	}
	return e.prefix + "." + key
}

func appendLine(buf []byte, key string, value float64, ts int64) []byte {
	return append(buf, []byte(fmt.Sprintf("%s %v %d\n", key, value, ts))...)
}

// graphiteDialRetries caps writeWithRetry's exponential backoff at three
// attempts per flush; a cycle that still can't reach carbon just retries
// on the next ticker fire, so there is no point blocking the exporter
// goroutine indefinitely.
const graphiteDialRetries = 3

func (e *GraphiteExporter) ensureConn() error {
	if e.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", e.addr, 5*time.Second)
	if err != nil {
		return err
	}
	e.conn = conn
	return nil
}

func (e *GraphiteExporter) closeConn() {
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
}
