package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/coherent"
	"github.com/unkn0wn-root/coherent/codec"
	"github.com/unkn0wn-root/coherent/collections"
	asynchook "github.com/unkn0wn-root/coherent/hooks/async"
	promhook "github.com/unkn0wn-root/coherent/hooks/prom"
)

func (a *app) mapCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "map",
		Short: "Read and write a plain remote map (no local cache)",
	}
	cmd.PersistentFlags().StringVar(&name, "name", "map", "map name")

	rmap := func(ctx context.Context) (*collections.RMap[string], error) {
		st, err := a.open(ctx)
		if err != nil {
			return nil, err
		}
		return collections.NewRMap[string](st, name, codec.String{}), nil
	}

	put := &cobra.Command{
		Use:   "put <key> <value> [<key> <value>...]",
		Short: "Store key/value pairs",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 || len(args)%2 != 0 {
				return errors.New("expected key/value pairs")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := rmap(cmd.Context())
			if err != nil {
				return err
			}
			for i := 0; i < len(args); i += 2 {
				ver, err := m.Put(cmd.Context(), args[i], args[i+1])
				if err != nil {
					return fmt.Errorf("put %s: %w", args[i], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s v%d\n", args[i], ver)
			}
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get <key>...",
		Short: "Print values",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := rmap(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range args {
				v, ok, err := m.Get(cmd.Context(), k)
				if err != nil {
					return fmt.Errorf("get %s: %w", k, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatEntry(k, v, ok))
			}
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <key>...",
		Short: "Remove keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := rmap(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range args {
				ok, err := m.Delete(cmd.Context(), k)
				if err != nil {
					return fmt.Errorf("delete %s: %w", k, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s deleted=%t\n", k, ok)
			}
			return nil
		},
	}

	size := &cobra.Command{
		Use:   "size",
		Short: "Print the number of entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := rmap(cmd.Context())
			if err != nil {
				return err
			}
			n, err := m.Size(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "size: %d\n", n)
			return nil
		},
	}

	cmd.AddCommand(put, get, del, size)
	return cmd
}

func formatEntry(key, value string, ok bool) string {
	if !ok {
		return key + "-->null"
	}
	return key + "-->" + value
}

type watchOpts struct {
	name        string
	sync        string
	reconnect   string
	puts        []string
	interval    time.Duration
	keys        int
	ticks       int
	codec       string
	provider    string
	cacheSize   int
	metricsAddr string
}

func (a *app) watchCmd() *cobra.Command {
	var o watchOpts
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll a local cached map, printing one key per tick",
		Long: `watch opens a coherent cached map, optionally writes some entries, then
prints key N on tick N. Run several watchers with different --sync and
--reconnect settings and write from another shell to see how updates travel.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error { return a.watch(cmd, o) },
	}
	f := cmd.Flags()
	f.StringVar(&o.name, "name", "cacheMap", "map name")
	f.StringVar(&o.sync, "sync", "update", "sync strategy: update, invalidate or none")
	f.StringVar(&o.reconnect, "reconnect", "none", "reconnection policy: none or clean")
	f.StringArrayVar(&o.puts, "put", nil, "key=value to write before watching (repeatable)")
	f.DurationVar(&o.interval, "interval", time.Second, "tick interval")
	f.IntVar(&o.keys, "keys", 0, "cycle through keys 0..keys-1 (0 counts up forever)")
	f.IntVar(&o.ticks, "ticks", 0, "stop after this many ticks (0 runs until interrupted)")
	f.StringVar(&o.codec, "codec", "json", "value encoding: json, cbor, msgpack or raw")
	f.StringVar(&o.provider, "provider", "lru", "local cache: lru, ristretto or bigcache")
	f.IntVar(&o.cacheSize, "cache-size", 10000, "local cache capacity in entries")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func (a *app) watch(cmd *cobra.Command, o watchOpts) error {
	strategy, err := coherent.ParseSyncStrategy(o.sync)
	if err != nil {
		return err
	}
	if o.interval <= 0 {
		return fmt.Errorf("--interval must be positive, got %s", o.interval)
	}
	policy, err := coherent.ParseReconnectionPolicy(o.reconnect)
	if err != nil {
		return err
	}
	vc, err := valueCodec(o.codec)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := a.open(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	var hooks coherent.Hooks
	if o.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		ph, err := promhook.New(reg, "coherent")
		if err != nil {
			return err
		}
		ah := asynchook.New(ph, 1, 1024)
		defer ah.Close()
		hooks = ah

		srv := &http.Server{
			Addr:              o.metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.WithoutCancel(ctx))
		})
	}

	lp, err := localProvider(o.provider, o.cacheSize)
	if err != nil {
		return err
	}
	m, err := coherent.NewMap(ctx, coherent.Options[string]{
		Name:               o.name,
		Store:              st,
		Codec:              vc,
		Provider:           lp,
		CacheSize:          o.cacheSize,
		SyncStrategy:       strategy,
		ReconnectionPolicy: policy,
		Logger:             a.logger(),
		Hooks:              hooks,
	})
	if err != nil {
		return err
	}
	defer m.Close(context.WithoutCancel(ctx))

	for _, kv := range o.puts {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("--put %q: want key=value", kv)
		}
		if err := m.Put(ctx, k, v); err != nil {
			return fmt.Errorf("put %s: %w", k, err)
		}
	}

	// Ending the loop ends the metrics server too.
	g.Go(func() error { return a.tick(ctx, cmd, m, o) })
	err = g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, errTicksDone) {
		return nil
	}
	return err
}

// errTicksDone stops the watch group once --ticks is reached.
var errTicksDone = errors.New("ticks done")

func (a *app) tick(ctx context.Context, cmd *cobra.Command, m *coherent.Map[string], o watchOpts) error {
	t := time.NewTicker(o.interval)
	defer t.Stop()
	out := cmd.OutOrStdout()
	for i := 0; o.ticks == 0 || i < o.ticks; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		n := i
		if o.keys > 0 {
			n = i % o.keys
		}
		key := strconv.Itoa(n)
		v, ok, err := m.Get(ctx, key)
		if err != nil {
			a.log.Warn("read failed", zap.String("key", key), zap.Error(err))
			continue
		}
		fmt.Fprintln(out, formatEntry(key, v, ok))
	}
	return errTicksDone
}
