package commands

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"espdata/internal/client"
)

type simulateOptions struct {
	galons   []string
	count    int
	interval time.Duration
	min, max float64
	seed     int64
}

func newSimulateCmd(opts *rootOptions) *cobra.Command {
	so := &simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate devices sending readings concurrently",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(so.galons) == 0 {
				return fmt.Errorf("at least one --galon is required")
			}
			if so.max < so.min {
				return fmt.Errorf("--max must not be below --min")
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			sent, failed := simulate(cmd.Context(), c, so)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "sent=%d failed=%d galons=%s\n", sent, failed, strings.Join(so.galons, ","))
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d readings failed", failed)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&so.galons, "galon", nil, "galon identifiers, one device per galon")
	f.IntVar(&so.count, "count", 10, "readings per device")
	f.DurationVar(&so.interval, "interval", time.Second, "delay between readings of one device")
	f.Float64Var(&so.min, "min", 0, "lowest simulated value")
	f.Float64Var(&so.max, "max", 100, "highest simulated value")
	f.Int64Var(&so.seed, "seed", 0, "random seed (0 uses the clock)")
	return cmd
}

// simulate 每个 galon 一个 goroutine，数值在 [min,max] 内随机游走。
func simulate(ctx context.Context, c *client.Client, so *simulateOptions) (sent, failed int) {
	seed := so.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i, g := range so.galons {
		wg.Add(1)
		go func(galon string, rng *rand.Rand) {
			defer wg.Done()
			span := so.max - so.min
			v := so.min + rng.Float64()*span
			for n := 0; n < so.count; n++ {
				if n > 0 && so.interval > 0 {
					select {
					case <-ctx.Done():
						return
					case <-time.After(so.interval):
					}
				}
				err := c.Send(ctx, galon, v)
				mu.Lock()
				if err != nil {
					failed++
				} else {
					sent++
				}
				mu.Unlock()
				v += (rng.Float64() - 0.5) * span * 0.1
				if v < so.min {
					v = so.min
				}
				if v > so.max {
					v = so.max
				}
			}
		}(g, rand.New(rand.NewSource(seed+int64(i))))
	}
	wg.Wait()
	return sent, failed
}
