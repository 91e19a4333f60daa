package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/policy"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const loadCategory policy.Category = "loadtest"

func main() {
	var (
		identities  = flag.Int("identities", 1000, "number of distinct caller identities")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (admit + status)")
		maxCalls    = flag.Int64("max-calls", 100, "per-identity budget for the load category")
		window      = flag.Duration("window", time.Hour, "window length for the load category")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "gate-load", "key prefix")
	)
	flag.Parse()

	if *identities <= 0 || *concurrency <= 0 || *ops <= 0 || *maxCalls <= 0 {
		fmt.Fprintln(os.Stderr, "identities, concurrency, ops, and max-calls must be > 0")
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

	cfg := goGate.DefaultConfig()
	cfg.Store.KeyPrefix = *prefix
	cfg.Store.OperationTimeout = time.Second
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("loadtest-signing-key-0123456789ab")
	cfg.Metrics.Enabled = true
	cfg.Policies[loadCategory] = policy.Policy{
		Window:         *window,
		MaxCalls:       *maxCalls,
		OnStoreFailure: policy.FailClosed,
	}

	engine, err := goGate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithPrincipalProvider(goGate.NewStaticPrincipalProvider(nil)).
		WithRequiredCategories(loadCategory).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ids := make([]string, *identities)
	for i := range ids {
		ids[i] = fmt.Sprintf("load-%d", i)
	}

	before, err := engine.Status(ctx, ids[0], loadCategory)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status failed: %v\n", err)
		os.Exit(1)
	}

	admitStats, admitted := runAdmitPhase(ctx, engine, ids, *ops, *concurrency)
	statusStats := runStatusPhase(ctx, engine, ids, *ops, *concurrency)

	after, err := engine.Status(ctx, ids[0], loadCategory)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("---- results ----")
	printStats("admit", admitStats)
	printStats("status", statusStats)

	if !before.ResetAt.Equal(after.ResetAt) {
		fmt.Println("window rolled over during the run; admission counts not checked")
		return
	}
	if mismatches := checkAdmitted(admitted, *ops, *maxCalls); mismatches > 0 {
		fmt.Fprintf(os.Stderr, "%d identities admitted more or fewer calls than their budget\n", mismatches)
		os.Exit(1)
	}
	fmt.Println("admission counts match the budget for every identity")
}

// checkAdmitted compares per-identity admissions to min(budget, calls sent).
// Identity i receives ops/len + 1 calls when i < ops%len.
func checkAdmitted(admitted []int64, ops int, maxCalls int64) int {
	n := len(admitted)
	mismatches := 0
	for i, got := range admitted {
		sent := int64(ops / n)
		if i < ops%n {
			sent++
		}
		if got != min(sent, maxCalls) {
			mismatches++
		}
	}
	return mismatches
}

func runAdmitPhase(ctx context.Context, engine *goGate.Engine, ids []string, ops, concurrency int) (phaseStats, []int64) {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		admitted  = make([]int64, len(ids))
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

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
				idx := i % len(ids)
				t0 := time.Now()
				_, err := engine.Guard(ctx, goGate.GuardRequest{Identity: ids[idx], Category: loadCategory})
				elapsed := time.Since(t0)
				switch {
				case err == nil:
					atomic.AddInt64(&admitted[idx], 1)
				case errors.Is(err, goGate.ErrRateLimited):
				default:
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, elapsed)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures), admitted
}

func runStatusPhase(ctx context.Context, engine *goGate.Engine, ids []string, ops, concurrency int) phaseStats {
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
				t0 := time.Now()
				st, err := engine.Status(ctx, ids[r.Intn(len(ids))], loadCategory)
				elapsed := time.Since(t0)
				if err != nil || !st.StoreReachable {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, elapsed)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
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
