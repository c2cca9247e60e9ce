// Package analytics aggregates live usage metrics: request volume,
// response-time samples and error counts bucketed by wall-clock second,
// plus an approximate concurrent-user gauge.
//
// Everything is written through the kvstore layer, so the numbers are
// process-local on the in-memory fallback and fleet-wide on Redis. All
// recording calls are best-effort: a failed metric write is logged and
// dropped, never surfaced to the request that triggered it, and a failure
// writing one metric does not stop the others from being recorded.
//
// Concurrent users are approximated by short-TTL activity markers tracked
// in an explicit index set, so computing the gauge walks only the active
// identifiers instead of glob-scanning the whole keyspace. Markers that
// expired but have not been pruned yet can briefly overcount; an accepted
// approximation.
package analytics

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jassus213/go-surgekit/kvstore"
)

// Key prefixes. Buckets embed the UTC second they cover.
const (
	requestsPrefix      = "requests:"
	responseTimesPrefix = "response_times:"
	errorsPrefix        = "errors:"     // errors:<type>:<endpoint>, hourly scope
	errorsSecPrefix     = "errors_sec:" // per-second error totals
	activityPrefix      = "user:activity:"
	activityIndexKey    = "analytics:active_index"

	gaugeConcurrentUsers = "analytics:concurrent_users"
	gaugeRPS             = "analytics:rps"
	gaugeAvgResponseTime = "analytics:avg_response_time"
	gaugeErrorRate       = "analytics:error_rate"
)

const (
	bucketTTL   = 120 * time.Second
	errorTTL    = time.Hour
	activityTTL = 300 * time.Second
	gaugeTTL    = 60 * time.Second

	// maxSamples bounds the response-time list per second bucket.
	maxSamples = 100

	// rateWindowSeconds is the trailing window the error-rate gauge is
	// computed over. Errors and requests are summed over the same window so
	// the ratio has one consistent time base.
	rateWindowSeconds = 60

	// retention is how long dead buckets may linger before Cleanup removes
	// them; a backstop for TTL bookkeeping drift, not the primary expiry.
	retention = time.Hour
)

// Logger is the logging contract for dropped metric writes.
type Logger interface {
	Debugf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type noopLogger struct{}

func (l *noopLogger) Debugf(format string, args ...interface{}) {}
func (l *noopLogger) Errorf(format string, args ...interface{}) {}

// Snapshot is one reading of the derived gauges. Zero values mean "no
// traffic observed", not an error.
type Snapshot struct {
	ConcurrentUsers   int64
	RequestsPerSecond int64
	AvgResponseTimeMs float64
	ErrorRatePercent  int64
}

// Aggregator buckets request telemetry by second and maintains the derived
// gauges. Construct one per process with New and share it.
type Aggregator struct {
	store  kvstore.Store
	logger Logger

	// now is swappable in tests.
	now func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger for best-effort write failures.
func WithLogger(l Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an Aggregator over store.
func New(store kvstore.Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:  store,
		logger: &noopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// second returns the current UTC wall-clock second.
func (a *Aggregator) second() int64 {
	return a.now().UTC().Unix()
}

// RecordRequest counts one completed request against the current second's
// bucket and samples its duration, then refreshes the throughput gauges.
func (a *Aggregator) RecordRequest(ctx context.Context, endpoint string, duration time.Duration) {
	sec := a.second()

	a.incrBucket(ctx, requestsPrefix+strconv.FormatInt(sec, 10), bucketTTL)

	samplesKey := responseTimesPrefix + strconv.FormatInt(sec, 10)
	ms := strconv.FormatInt(duration.Milliseconds(), 10)
	if err := a.store.LPush(ctx, samplesKey, ms); err != nil {
		a.logger.Errorf("analytics: sampling response time for %q failed: %v", endpoint, err)
	} else {
		if err := a.store.LTrim(ctx, samplesKey, 0, maxSamples-1); err != nil {
			a.logger.Errorf("analytics: trimming %q failed: %v", samplesKey, err)
		}
		a.ensureTTL(ctx, samplesKey, bucketTTL)
	}

	a.recomputeThroughput(ctx, sec)
}

// RecordError counts one error by (type, endpoint) on an hourly-scoped
// counter and against the current second, then refreshes the error-rate
// gauge.
func (a *Aggregator) RecordError(ctx context.Context, errorType, endpoint string) {
	sec := a.second()

	a.incrBucket(ctx, errorsPrefix+errorType+":"+endpoint, errorTTL)
	a.incrBucket(ctx, errorsSecPrefix+strconv.FormatInt(sec, 10), bucketTTL)

	a.recomputeErrorRate(ctx, sec)
}

// RecordActivity refreshes the short-TTL activity marker for an identifier
// and recomputes the concurrent-user gauge.
func (a *Aggregator) RecordActivity(ctx context.Context, userID string) {
	if userID == "" {
		return
	}

	marker := activityPrefix + userID
	now := strconv.FormatInt(a.now().Unix(), 10)
	if err := a.store.Set(ctx, marker, now, activityTTL); err != nil {
		a.logger.Errorf("analytics: writing activity marker for %q failed: %v", userID, err)
		return
	}
	if err := a.store.SAdd(ctx, activityIndexKey, userID); err != nil {
		a.logger.Errorf("analytics: indexing activity for %q failed: %v", userID, err)
	}

	a.recomputeConcurrentUsers(ctx)
}

// Stats reads the derived gauges. Absent gauges read as zero.
func (a *Aggregator) Stats(ctx context.Context) Snapshot {
	return Snapshot{
		ConcurrentUsers:   a.getInt(ctx, gaugeConcurrentUsers),
		RequestsPerSecond: a.getInt(ctx, gaugeRPS),
		AvgResponseTimeMs: a.getFloat(ctx, gaugeAvgResponseTime),
		ErrorRatePercent:  a.getInt(ctx, gaugeErrorRate),
	}
}

// ErrorBreakdown returns the live per-(type, endpoint) error counters,
// keyed "type:endpoint".
func (a *Aggregator) ErrorBreakdown(ctx context.Context) map[string]int64 {
	keys, err := a.store.Keys(ctx, errorsPrefix+"*:*")
	if err != nil {
		a.logger.Errorf("analytics: scanning error counters failed: %v", err)
		return nil
	}

	out := make(map[string]int64, len(keys))
	for _, k := range keys {
		out[strings.TrimPrefix(k, errorsPrefix)] = a.getInt(ctx, k)
	}
	return out
}

// recomputeThroughput refreshes the rps and average-response-time gauges
// from the current second's bucket.
func (a *Aggregator) recomputeThroughput(ctx context.Context, sec int64) {
	count := a.getInt(ctx, requestsPrefix+strconv.FormatInt(sec, 10))
	a.setGauge(ctx, gaugeRPS, strconv.FormatInt(count, 10))

	samples, err := a.store.LRange(ctx, responseTimesPrefix+strconv.FormatInt(sec, 10), 0, -1)
	if err != nil {
		a.logger.Errorf("analytics: reading response-time samples failed: %v", err)
		return
	}
	var sum, n float64
	for _, s := range samples {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			continue
		}
		sum += v
		n++
	}
	avg := 0.0
	if n > 0 {
		avg = sum / n
	}
	a.setGauge(ctx, gaugeAvgResponseTime, strconv.FormatFloat(avg, 'f', -1, 64))
}

// recomputeErrorRate refreshes the error-rate gauge: errors as a rounded
// percentage of requests, both summed over the trailing window ending at
// sec. A window with no requests reads as 0, never a division error.
func (a *Aggregator) recomputeErrorRate(ctx context.Context, sec int64) {
	var errorsTotal, requestsTotal int64
	for i := int64(0); i < rateWindowSeconds; i++ {
		s := strconv.FormatInt(sec-i, 10)
		errorsTotal += a.getInt(ctx, errorsSecPrefix+s)
		requestsTotal += a.getInt(ctx, requestsPrefix+s)
	}

	rate := int64(0)
	if requestsTotal > 0 {
		rate = int64(math.Round(100 * float64(errorsTotal) / float64(requestsTotal)))
	}
	a.setGauge(ctx, gaugeErrorRate, strconv.FormatInt(rate, 10))
}

// recomputeConcurrentUsers walks the activity index, prunes identifiers
// whose marker has expired, and publishes the count of the rest.
func (a *Aggregator) recomputeConcurrentUsers(ctx context.Context) {
	members, err := a.store.SMembers(ctx, activityIndexKey)
	if err != nil {
		a.logger.Errorf("analytics: reading activity index failed: %v", err)
		return
	}

	var active int64
	for _, id := range members {
		ttl, err := a.store.TTL(ctx, activityPrefix+id)
		if err != nil {
			a.logger.Errorf("analytics: probing activity marker for %q failed: %v", id, err)
			continue
		}
		if ttl == kvstore.TTLMissing {
			if err := a.store.SRem(ctx, activityIndexKey, id); err != nil {
				a.logger.Errorf("analytics: pruning %q from activity index failed: %v", id, err)
			}
			continue
		}
		active++
	}
	a.setGauge(ctx, gaugeConcurrentUsers, strconv.FormatInt(active, 10))
}

// Cleanup sweeps stale buckets and repairs TTL bookkeeping. It deletes
// request, response-time and per-second error buckets older than the
// retention horizon, gives a bounded TTL to any activity marker that lost
// one, and prunes dead identifiers from the activity index.
func (a *Aggregator) Cleanup(ctx context.Context) {
	horizon := a.second() - int64(retention/time.Second)

	for _, prefix := range []string{requestsPrefix, responseTimesPrefix, errorsSecPrefix} {
		keys, err := a.store.Keys(ctx, prefix+"*")
		if err != nil {
			a.logger.Errorf("analytics: cleanup scan for %q failed: %v", prefix, err)
			continue
		}
		for _, k := range keys {
			sec, err := strconv.ParseInt(strings.TrimPrefix(k, prefix), 10, 64)
			if err != nil {
				continue
			}
			if sec < horizon {
				if _, err := a.store.Del(ctx, k); err != nil {
					a.logger.Errorf("analytics: cleanup delete of %q failed: %v", k, err)
				}
			}
		}
	}

	markers, err := a.store.Keys(ctx, activityPrefix+"*")
	if err != nil {
		a.logger.Errorf("analytics: cleanup scan for activity markers failed: %v", err)
	} else {
		for _, k := range markers {
			ttl, err := a.store.TTL(ctx, k)
			if err != nil {
				continue
			}
			if ttl == kvstore.TTLNone {
				if err := a.store.Expire(ctx, k, activityTTL); err != nil {
					a.logger.Errorf("analytics: repairing TTL of %q failed: %v", k, err)
				}
			}
		}
	}

	a.recomputeConcurrentUsers(ctx)
}

// StartJanitor runs Cleanup every interval until ctx is done.
func (a *Aggregator) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.Cleanup(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// incrBucket increments a counter and establishes its TTL when the
// increment created it.
func (a *Aggregator) incrBucket(ctx context.Context, key string, ttl time.Duration) {
	n, err := a.store.Incr(ctx, key)
	if err != nil {
		a.logger.Errorf("analytics: incrementing %q failed: %v", key, err)
		return
	}
	if n == 1 {
		if err := a.store.Expire(ctx, key, ttl); err != nil {
			a.logger.Errorf("analytics: setting TTL on %q failed: %v", key, err)
		}
	}
}

// ensureTTL sets ttl on key only when it has none, preserving the deadline
// established on first write.
func (a *Aggregator) ensureTTL(ctx context.Context, key string, ttl time.Duration) {
	cur, err := a.store.TTL(ctx, key)
	if err != nil {
		a.logger.Errorf("analytics: probing TTL of %q failed: %v", key, err)
		return
	}
	if cur == kvstore.TTLNone {
		if err := a.store.Expire(ctx, key, ttl); err != nil {
			a.logger.Errorf("analytics: setting TTL on %q failed: %v", key, err)
		}
	}
}

// setGauge publishes one derived gauge with the short gauge TTL.
func (a *Aggregator) setGauge(ctx context.Context, key, value string) {
	if err := a.store.Set(ctx, key, value, gaugeTTL); err != nil {
		a.logger.Errorf("analytics: publishing gauge %q failed: %v", key, err)
	}
}

func (a *Aggregator) getInt(ctx context.Context, key string) int64 {
	v, ok, err := a.store.Get(ctx, key)
	if err != nil {
		a.logger.Errorf("analytics: reading %q failed: %v", key, err)
		return 0
	}
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		a.logger.Errorf("analytics: %q holds %q, not an integer", key, v)
		return 0
	}
	return n
}

func (a *Aggregator) getFloat(ctx context.Context, key string) float64 {
	v, ok, err := a.store.Get(ctx, key)
	if err != nil || !ok {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		a.logger.Errorf("analytics: %q holds %q, not a number", key, v)
		return 0
	}
	return f
}

// String implements fmt.Stringer for log-friendly snapshots.
func (s Snapshot) String() string {
	return fmt.Sprintf("users=%d rps=%d avg=%.1fms errors=%d%%",
		s.ConcurrentUsers, s.RequestsPerSecond, s.AvgResponseTimeMs, s.ErrorRatePercent)
}
