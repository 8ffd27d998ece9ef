package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/coherent"
	zaplog "github.com/unkn0wn-root/coherent/log/zap"
	"github.com/unkn0wn-root/coherent/store"
	"github.com/unkn0wn-root/coherent/store/memory"
	olricstore "github.com/unkn0wn-root/coherent/store/olric"
	redisstore "github.com/unkn0wn-root/coherent/store/redis"
)

// config is read from flags, COHERENT_* environment variables and an optional
// coherent.yaml, in that order of precedence.
type config struct {
	Backend       string   `mapstructure:"backend"`
	RedisAddr     string   `mapstructure:"redis-addr"`
	RedisPassword string   `mapstructure:"redis-password"`
	RedisDB       int      `mapstructure:"redis-db"`
	OlricAddrs    []string `mapstructure:"olric-addrs"`
	Debug         bool     `mapstructure:"debug"`
}

// backend is what every command needs; lists and sorted sets are asserted on
// demand since not every backend has them.
type backend interface {
	store.Coherent
	Close(ctx context.Context) error
}

type app struct {
	cfg   config
	log   *zap.Logger
	st    backend
	owned bool // st was opened here and must be closed here
}

func newRootCmd() *cobra.Command {
	return (&app{}).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "coherent",
		Short: "Coherent cached maps and remote collections",
		Long: `coherent talks to a shared store (Redis by default) through cached maps
that stay coherent across processes, competing-consumer queues, fan-out topics
and sorted sets. Run two instances side by side to watch them cooperate.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, _ []string) { a.teardown(cmd.Context()) },
	}

	pf := root.PersistentFlags()
	pf.String("backend", "redis", "store backend: redis, olric or memory (in-process, for trying things out)")
	pf.String("redis-addr", "localhost:6379", "Redis address")
	pf.String("redis-password", "", "Redis password")
	pf.Int("redis-db", 0, "Redis database")
	pf.StringSlice("olric-addrs", []string{"localhost:3320"}, "Olric cluster members")
	pf.Bool("debug", false, "verbose development logging")

	root.AddCommand(
		a.versionCmd(),
		a.mapCmd(),
		a.watchCmd(),
		a.listCmd(),
		a.queueCmd(),
		a.stackCmd(),
		a.produceCmd(),
		a.consumeCmd(),
		a.publishCmd(),
		a.subscribeCmd(),
		a.rankCmd(),
	)
	return root
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "coherent %s (commit %s)\n", version, commit)
		},
	}
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	v.SetConfigName("coherent")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("COHERENT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(&a.cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	if a.log == nil {
		l, err := newLogger(a.cfg.Debug)
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		a.log = l
	}
	return nil
}

func (a *app) teardown(ctx context.Context) {
	if a.owned && a.st != nil {
		if err := a.st.Close(context.WithoutCancel(ctx)); err != nil {
			a.log.Warn("closing store", zap.Error(err))
		}
		a.st, a.owned = nil, false
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

// newLogger keeps the production logger quiet so command output stays readable.
func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	return cfg.Build()
}

func (a *app) logger() coherent.Logger { return zaplog.ZapLogger{L: a.log} }

func (a *app) open(ctx context.Context) (backend, error) {
	if a.st != nil {
		return a.st, nil
	}
	switch a.cfg.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect redis %s: %w", a.cfg.RedisAddr, err)
		}
		a.st = redisstore.New(rdb, redisstore.Options{})
	case "olric":
		s, err := olricstore.Dial(a.cfg.OlricAddrs, olricstore.Options{})
		if err != nil {
			return nil, fmt.Errorf("connect olric %v: %w", a.cfg.OlricAddrs, err)
		}
		a.st = s
	case "memory":
		a.st = memory.New()
	default:
		return nil, fmt.Errorf("unknown backend %q", a.cfg.Backend)
	}
	a.owned = true
	a.log.Debug("store opened", zap.String("backend", a.cfg.Backend))
	return a.st, nil
}

func (a *app) lists(ctx context.Context) (store.Lists, error) {
	b, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	l, ok := b.(store.Lists)
	if !ok {
		return nil, fmt.Errorf("%s backend: lists: %w", a.cfg.Backend, store.ErrUnsupported)
	}
	return l, nil
}

func (a *app) sortedSets(ctx context.Context) (store.SortedSets, error) {
	b, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	z, ok := b.(store.SortedSets)
	if !ok {
		return nil, fmt.Errorf("%s backend: sorted sets: %w", a.cfg.Backend, store.ErrUnsupported)
	}
	return z, nil
}
