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
	"github.com/thisjowi/keyward"
	"github.com/thisjowi/keyward/storage/sqlite"
)

const seedSecret = "L0ad!Test-Secret"

func main() {
	var (
		identities  = flag.Int("identities", 200, "number of identities to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase (verify + rate)")
		logins      = flag.Int("logins", 500, "operations in the login phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		argonMemory = flag.Uint("argon-memory", 16*1024, "argon2id memory in KiB")
	)
	flag.Parse()

	if *identities <= 0 || *concurrency <= 0 || *ops <= 0 || *logins <= 0 {
		fmt.Fprintln(os.Stderr, "identities, concurrency, ops, and logins must be > 0")
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
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	db, err := sqlite.NewMemoryDB("keyward-loadtest")
	if err != nil {
		fmt.Fprintf(os.Stderr, "open sqlite: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := sqlite.RunMigrations(db.Writer); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	cfg := keyward.DefaultConfig()
	cfg.Token.Secret = "loadtest-token-secret-0123456789abcdef"
	cfg.Envelope.Secret = "loadtest-envelope-secret-0123456789ab"
	cfg.Password.Memory = uint32(*argonMemory)
	cfg.Password.Time = 1
	cfg.RateLimit.Backend = "redis"
	cfg.RateLimit.Default = keyward.RatePolicy{Capacity: 1 << 20, Period: time.Minute}
	cfg.Audit.Enabled = false

	engine, err := keyward.New().
		WithConfig(cfg).
		WithRedis(client).
		WithIdentityStore(sqlite.NewIdentityRepo(db)).
		WithOTPStore(sqlite.NewOTPRepo(db)).
		WithEntryStore(sqlite.NewEntryRepo(db)).
		WithNoteStore(sqlite.NewNoteRepo(db)).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	emails := make([]string, *identities)
	tokens := make([]string, *identities)
	fmt.Printf("seeding %d identities...\n", *identities)
	startSeed := time.Now()
	for i := range emails {
		emails[i] = fmt.Sprintf("user-%d@loadtest.example", i)
		if _, err := engine.Register(ctx, emails[i], seedSecret); err != nil {
			fmt.Fprintf(os.Stderr, "register failed: %v\n", err)
			os.Exit(1)
		}
		tok, err := engine.Login(ctx, emails[i], seedSecret)
		if err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
		tokens[i] = tok
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	loginStats := runPhase(*logins, *concurrency, 7919, func(r *rand.Rand, _ int) error {
		_, err := engine.Login(ctx, emails[r.Intn(len(emails))], seedSecret)
		return err
	})
	verifyStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand, _ int) error {
		if _, ok := engine.VerifyBearer("Bearer " + tokens[r.Intn(len(tokens))]); !ok {
			return keyward.ErrInvalidToken
		}
		return nil
	})
	rateStats := runPhase(*ops, *concurrency, 4099, func(r *rand.Rand, i int) error {
		source := fmt.Sprintf("10.0.%d.%d", (i/256)%256, r.Intn(256))
		_, err := engine.CheckRate(ctx, source, keyward.RateClassDefault)
		return err
	})

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("verify", verifyStats)
	printStats("rate", rateStats)
}

// runPhase spreads ops calls of op across concurrency workers and records
// per-call latency.
func runPhase(ops, concurrency int, seed int64, op func(r *rand.Rand, i int) error) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
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
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
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
