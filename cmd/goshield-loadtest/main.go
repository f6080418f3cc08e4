// Command goshield-loadtest measures sliding-window limiter latency and
// checks that concurrent callers on one key never exceed the budget.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goShield/internal/rate"
)

func main() {
	var (
		callers     = flag.Int("callers", 10000, "distinct caller identities for the spread phase")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "checks in the spread phase")
		hotLimit    = flag.Int("hot-limit", 100, "budget for the single-key phase")
		hotOps      = flag.Int("hot-ops", 5000, "checks in the single-key phase")
		window      = flag.Duration("window", time.Minute, "sliding window length")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "lt", "limiter key prefix")
	)
	flag.Parse()

	if *callers <= 0 || *concurrency <= 0 || *ops <= 0 || *hotLimit <= 0 || *hotOps <= 0 {
		fmt.Fprintln(os.Stderr, "callers, concurrency, ops, hot-limit and hot-ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	limiter := rate.New(client, rate.Config{KeyPrefix: fmt.Sprintf("%s:%d", *prefix, time.Now().UnixNano())})

	spread := runSpreadPhase(ctx, limiter, *callers, *ops, *concurrency, *window)
	hot, admitted := runHotKeyPhase(ctx, limiter, *hotOps, *concurrency, *hotLimit, *window)

	fmt.Println("---- results ----")
	printStats("spread", spread)
	printStats("hot-key", hot)
	fmt.Printf("hot-key: admitted=%d limit=%d\n", admitted, *hotLimit)

	if admitted > int64(*hotLimit) {
		fmt.Fprintf(os.Stderr, "budget exceeded: %d admitted for limit %d\n", admitted, *hotLimit)
		os.Exit(1)
	}
}

// runSpreadPhase issues checks for random callers under a budget none of them
// can exhaust, measuring store round-trip latency.
func runSpreadPhase(ctx context.Context, limiter *rate.Limiter, callers, ops, concurrency int, window time.Duration) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				key := limiter.Key(fmt.Sprintf("ip:10.0.%d.%d", r.Intn(callers)/256, r.Intn(256)), "/api/v1/items")
				t0 := time.Now()
				_, err := limiter.Check(ctx, key, window, ops+1)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

// runHotKeyPhase drives every worker at one key and counts admissions.
func runHotKeyPhase(ctx context.Context, limiter *rate.Limiter, ops, concurrency, limit int, window time.Duration) (phaseStats, int64) {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		admitted  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	key := limiter.Key("ip:203.0.113.1", "/api/v1/auth/login")
	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				res, err := limiter.Check(ctx, key, window, limit)
				d := time.Since(t0)
				switch {
				case err != nil:
					atomic.AddInt64(&failures, 1)
				case res.Allowed:
					atomic.AddInt64(&admitted, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures), admitted
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
