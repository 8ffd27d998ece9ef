package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/coherent/codec"
	"github.com/unkn0wn-root/coherent/collections"
	"github.com/unkn0wn-root/coherent/store"
)

const (
	defaultNumbers = "number"
	defaultQueue   = "message-queue"
)

type listCtor func(store.Lists, string, codec.Codec[int64]) *collections.Collection[int64]

// numbers opens a collection of int64 stored as decimal text.
func (a *app) numbers(ctx context.Context, name string, ctor listCtor) (*collections.Collection[int64], error) {
	st, err := a.lists(ctx)
	if err != nil {
		return nil, err
	}
	return ctor(st, name, codec.Int64{}), nil
}

func (a *app) listCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Work with a remote list of numbers",
	}
	cmd.PersistentFlags().StringVar(&name, "name", defaultNumbers, "list name")

	var count int64
	fill := &cobra.Command{
		Use:   "fill",
		Short: "Append 1..count and print the size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := a.numbers(cmd.Context(), name, collections.NewList[int64])
			if err != nil {
				return err
			}
			vs := make([]int64, 0, count)
			for i := int64(1); i <= count; i++ {
				vs = append(vs, i)
			}
			n, err := l.AddAll(cmd.Context(), vs...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "size: %d\n", n)
			return nil
		},
	}
	fill.Flags().Int64Var(&count, "count", 10, "how many numbers to append")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print every element",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := a.numbers(cmd.Context(), name, collections.NewList[int64])
			if err != nil {
				return err
			}
			vs, err := l.Range(cmd.Context(), 0, -1)
			if err != nil {
				return err
			}
			for _, v := range vs {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		},
	}

	cmd.AddCommand(fill, show)
	return cmd
}

func (a *app) queueCmd() *cobra.Command {
	return a.pollCmd("queue", "Take numbers from the head of a remote queue",
		collections.NewQueue[int64], (*collections.Collection[int64]).Poll)
}

func (a *app) stackCmd() *cobra.Command {
	return a.pollCmd("stack", "Take numbers from the tail of a remote deque",
		collections.NewDeque[int64], (*collections.Collection[int64]).PollLast)
}

// pollCmd builds "<use> poll": pop count elements, print them and the size left.
func (a *app) pollCmd(use, short string, ctor listCtor,
	pop func(*collections.Collection[int64], context.Context) (int64, bool, error),
) *cobra.Command {
	var name string
	var count int
	cmd := &cobra.Command{Use: use, Short: short}
	cmd.PersistentFlags().StringVar(&name, "name", defaultNumbers, use+" name")

	poll := &cobra.Command{
		Use:   "poll",
		Short: "Pop elements without waiting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := a.numbers(cmd.Context(), name, ctor)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i := 0; i < count; i++ {
				v, ok, err := pop(q, cmd.Context())
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, "empty")
					break
				}
				fmt.Fprintln(out, v)
			}
			n, err := q.Size(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "size: %d\n", n)
			return nil
		},
	}
	poll.Flags().IntVar(&count, "count", 4, "how many elements to pop")
	cmd.AddCommand(poll)
	return cmd
}

func (a *app) produceCmd() *cobra.Command {
	var (
		name     string
		from     int64
		count    int64
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "produce",
		Short: "Add numbers to a blocking queue at a fixed pace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			q, err := a.numbers(ctx, name, collections.NewDeque[int64])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for n := from; n < from+count; n++ {
				if interval > 0 {
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(interval):
					}
				}
				fmt.Fprintf(out, "going to add %d\n", n)
				if err := q.Add(ctx, n); err != nil {
					return err
				}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&name, "name", defaultQueue, "queue name")
	f.Int64Var(&from, "from", 1, "first number")
	f.Int64Var(&count, "count", 20, "how many numbers")
	f.DurationVar(&interval, "interval", 500*time.Millisecond, "delay before each add")
	return cmd
}

func (a *app) consumeCmd() *cobra.Command {
	var (
		name      string
		consumers int
		limit     int64
	)
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Run competing consumers on a blocking queue",
		Long: `consume starts several consumers on one queue. Every element goes to exactly
one of them, here and across every other process consuming the same queue.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if consumers < 1 {
				return fmt.Errorf("--consumers must be at least 1, got %d", consumers)
			}
			q, err := a.numbers(cmd.Context(), name, collections.NewDeque[int64])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			var (
				mu   sync.Mutex
				seen atomic.Int64
				out  = cmd.OutOrStdout()
			)
			g, gctx := errgroup.WithContext(ctx)
			for i := 1; i <= consumers; i++ {
				g.Go(func() error {
					vals, errs := q.Take(gctx)
					for v := range vals {
						mu.Lock()
						fmt.Fprintf(out, "Consumer %d: %d\n", i, v)
						mu.Unlock()
						if limit > 0 && seen.Add(1) >= limit {
							cancel()
						}
					}
					if err := <-errs; err != nil {
						a.log.Error("consumer stopped", zap.Int("consumer", i), zap.Error(err))
						return err
					}
					return nil
				})
			}
			return g.Wait()
		},
	}
	f := cmd.Flags()
	f.StringVar(&name, "name", defaultQueue, "queue name")
	f.IntVar(&consumers, "consumers", 2, "number of consumers")
	f.Int64Var(&limit, "limit", 0, "stop after this many elements in total (0 runs until interrupted)")
	return cmd
}
