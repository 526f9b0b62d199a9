package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/danmuck/chatwire/internal/client"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type stressOptions struct {
	Server   string
	Clients  int
	Messages int
	Interval time.Duration
	Stagger  time.Duration
	// Client overrides the per-client config; Address and Username are set per worker.
	Client client.Config
}

func defaultStressOptions() stressOptions {
	return stressOptions{
		Server:   "127.0.0.1:5555",
		Clients:  10,
		Messages: 20,
		Interval: 100 * time.Millisecond,
		Stagger:  100 * time.Millisecond,
		Client:   client.DefaultConfig(),
	}
}

type stressStats struct {
	ClientsConnected int64
	ClientsFailed    int64
	MessagesSent     int64
	MessagesFailed   int64
	Elapsed          time.Duration
}

func (s stressStats) MessagesPerSecond() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.MessagesSent) / s.Elapsed.Seconds()
}

func (s stressStats) print(w io.Writer, opts stressOptions) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "STRESS TEST RESULTS")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Clients connected:    %d/%d\n", s.ClientsConnected, opts.Clients)
	fmt.Fprintf(w, "Clients failed:       %d\n", s.ClientsFailed)
	fmt.Fprintf(w, "Messages sent:        %d/%d\n", s.MessagesSent, opts.Clients*opts.Messages)
	fmt.Fprintf(w, "Messages failed:      %d\n", s.MessagesFailed)
	fmt.Fprintf(w, "Total time:           %.2f seconds\n", s.Elapsed.Seconds())
	fmt.Fprintf(w, "Messages per second:  %.2f\n", s.MessagesPerSecond())
	fmt.Fprintln(w, rule)
}

// runStress connects opts.Clients users concurrently. Per-client failures
// are counted, not returned.
func runStress(ctx context.Context, opts stressOptions) (stressStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Clients <= 0 || opts.Messages < 0 {
		return stressStats{}, fmt.Errorf("clients must be positive and messages non-negative")
	}
	var connected, failed, sent, sendFailed atomic.Int64

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.Clients; i++ {
		id := i
		g.Go(func() error {
			cfg := opts.Client
			cfg.Address = opts.Server
			cfg.Username = fmt.Sprintf("StressUser%d", id)
			cl, err := client.New(cfg, client.Callbacks{})
			if err != nil {
				return err
			}
			if err := cl.Connect(ctx); err != nil {
				failed.Add(1)
				log.Warn().Str("username", cfg.Username).Err(err).Msg("chatload client connect failed")
				return nil
			}
			connected.Add(1)
			defer func() { _ = cl.Disconnect(context.Background()) }()

			for m := 0; m < opts.Messages; m++ {
				text := fmt.Sprintf("Message %d from %s", m, cfg.Username)
				if err := cl.SubmitUserMessage(ctx, text); err != nil {
					sendFailed.Add(1)
				} else {
					sent.Add(1)
				}
				if opts.Interval > 0 {
					if err := sleepCtx(ctx, opts.Interval); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if opts.Stagger > 0 && i < opts.Clients-1 {
			if err := sleepCtx(ctx, opts.Stagger); err != nil {
				break
			}
		}
	}
	err := g.Wait()

	return stressStats{
		ClientsConnected: connected.Load(),
		ClientsFailed:    failed.Load(),
		MessagesSent:     sent.Load(),
		MessagesFailed:   sendFailed.Load(),
		Elapsed:          time.Since(start),
	}, err
}

type latencyStats struct {
	Count int
	Avg   time.Duration
	Min   time.Duration
	Max   time.Duration
}

func (s latencyStats) print(w io.Writer) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "LATENCY TEST RESULTS")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Messages tested:      %d\n", s.Count)
	fmt.Fprintf(w, "Average latency:      %.2f ms\n", float64(s.Avg.Microseconds())/1000)
	fmt.Fprintf(w, "Min latency:          %.2f ms\n", float64(s.Min.Microseconds())/1000)
	fmt.Fprintf(w, "Max latency:          %.2f ms\n", float64(s.Max.Microseconds())/1000)
	fmt.Fprintln(w, rule)
}

// runLatency times count sequential acked sends from a single client.
func runLatency(ctx context.Context, addr string, count int) (latencyStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if count <= 0 {
		return latencyStats{}, fmt.Errorf("messages must be positive")
	}
	cfg := client.DefaultConfig()
	cfg.Address = addr
	cfg.Username = fmt.Sprintf("LatencyUser%d", time.Now().UnixNano()%100000)
	cl, err := client.New(cfg, client.Callbacks{})
	if err != nil {
		return latencyStats{}, err
	}
	if err := cl.Connect(ctx); err != nil {
		return latencyStats{}, err
	}
	defer func() { _ = cl.Disconnect(context.Background()) }()

	var stats latencyStats
	var total time.Duration
	for i := 0; i < count; i++ {
		start := time.Now()
		if err := cl.SubmitUserMessage(ctx, fmt.Sprintf("Latency test %d", i)); err != nil {
			return stats, err
		}
		d := time.Since(start)
		total += d
		if stats.Count == 0 || d < stats.Min {
			stats.Min = d
		}
		if d > stats.Max {
			stats.Max = d
		}
		stats.Count++
	}
	stats.Avg = total / time.Duration(stats.Count)
	return stats, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
