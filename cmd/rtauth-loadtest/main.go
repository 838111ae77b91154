// Command rtauth-loadtest measures Authenticate and Refresh throughput
// against Redis, or an in-process miniredis when no address is given.
package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/greensec/rtauth"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

type clientState struct {
	addr string
	pair rtauth.TokenPair
	mu   sync.Mutex
}

func main() {
	var (
		clients     = pflag.Int("clients", 10000, "number of client contexts to sign in")
		concurrency = pflag.Int("concurrency", 256, "number of concurrent workers")
		ops         = pflag.Int("ops", 100000, "operations per phase")
		redisAddr   = pflag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		namespace   = pflag.String("namespace", "LoadTest", "session key namespace")
	)
	pflag.Parse()

	if *clients <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "clients, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	cfg := rtauth.DefaultConfig()
	cfg.Namespace = *namespace
	cfg.JWT.AccessKey = bytes.Repeat([]byte{0xa1}, 32)
	cfg.JWT.RefreshKey = bytes.Repeat([]byte{0xb2}, 32)
	engine, err := rtauth.New().WithConfig(cfg).WithRedis(client).WithLatencyHistograms(true).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]clientState, *clients)
	fmt.Printf("signing in %d clients...\n", *clients)
	startSeed := time.Now()
	for i := range states {
		states[i].addr = fmt.Sprintf("10.%d.%d.%d", i>>16&0xff, i>>8&0xff, i&0xff)
		pair, err := engine.Login(ctx, fmt.Sprintf("u%d", i%1000), []string{"ROLE_USER"}, states[i].addr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
		states[i].pair = *pair
	}
	fmt.Printf("signed in in %s\n", time.Since(startSeed).Round(time.Millisecond))

	authStats := runPhase(*ops, *concurrency, len(states), func(idx int) error {
		s := &states[idx]
		s.mu.Lock()
		access := s.pair.AccessToken
		s.mu.Unlock()
		_, err := engine.Authenticate(ctx, access)
		return err
	})
	refreshStats := runPhase(*ops, *concurrency, len(states), func(idx int) error {
		s := &states[idx]
		s.mu.Lock()
		defer s.mu.Unlock()
		pair, err := engine.Refresh(ctx, s.pair.AccessToken, s.pair.RefreshToken, s.addr)
		if err == nil {
			s.pair = *pair
		}
		return err
	})

	fmt.Println("---- results ----")
	printStats("authenticate", authStats)
	printStats("refresh", refreshStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("conflicts=%d store_unavailable=%d\n",
		snap.Counters[rtauth.MetricRefreshConflict], snap.Counters[rtauth.MetricStoreUnavailable])
}

// runPhase runs op against random client indexes until ops calls are done.
func runPhase(ops, concurrency, n int, op func(idx int) error) phaseStats {
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
				if int(atomic.AddInt64(&cursor, 1)) > ops {
					return
				}
				t0 := time.Now()
				err := op(r.Intn(n))
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
	return computeStats(time.Since(start), latencies, failures)
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
	switch {
	case len(samples) == 0:
		return 0
	case p <= 0:
		return samples[0]
	case p >= 100:
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name, s.ops, s.failures,
		s.total.Round(time.Millisecond), s.opsPerS,
		s.p50.Round(time.Microsecond), s.p95.Round(time.Microsecond), s.p99.Round(time.Microsecond),
	)
}
