package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/coherent/codec"
	"github.com/unkn0wn-root/coherent/collections"
)

const (
	defaultTopic = "room"
	defaultRank  = "name:score"
)

func (a *app) topic(cmd *cobra.Command, name string) (*collections.Topic[string], error) {
	st, err := a.open(cmd.Context())
	if err != nil {
		return nil, err
	}
	return collections.NewTopic[string](st, name, codec.String{}, collections.TopicOptions{
		Logger: a.logger(),
	}), nil
}

func (a *app) publishCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "publish <message>...",
		Short: "Publish messages to a topic",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.topic(cmd, name)
			if err != nil {
				return err
			}
			for _, msg := range args {
				n, err := t.Publish(cmd.Context(), msg)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%q delivered to %d subscribers\n", msg, n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", defaultTopic, "topic name")
	return cmd
}

func (a *app) subscribeCmd() *cobra.Command {
	var (
		name  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Print every message published to a topic from now on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := a.topic(cmd, name)
			if err != nil {
				return err
			}
			sub, err := t.Subscribe(cmd.Context())
			if err != nil {
				return err
			}
			defer sub.Close()

			out := cmd.OutOrStdout()
			for n := 0; limit == 0 || n < limit; n++ {
				select {
				case <-cmd.Context().Done():
					return nil
				case msg, ok := <-sub.C():
					if !ok {
						return nil
					}
					fmt.Fprintln(out, msg)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", defaultTopic, "topic name")
	cmd.Flags().IntVar(&limit, "limit", 0, "exit after this many messages (0 runs until interrupted)")
	return cmd
}

var defaultScores = []string{"Sam=1.0", "Mike=2.5", "jake=0.5"}

func (a *app) rankCmd() *cobra.Command {
	var (
		name        string
		start, stop int64
	)
	cmd := &cobra.Command{
		Use:   "rank [member=score...]",
		Short: "Add to member scores and print a rank range",
		Long: `rank adds each score to its member in a sorted set (creating the member if
needed) and prints ranks start..stop as score:member. With no arguments it
scores Sam=1.0 Mike=2.5 jake=0.5.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = defaultScores
			}
			type scored struct {
				member string
				score  float64
			}
			entries := make([]scored, 0, len(args))
			for _, arg := range args {
				m, s, ok := strings.Cut(arg, "=")
				if !ok || m == "" {
					return fmt.Errorf("%q: want member=score", arg)
				}
				f, err := strconv.ParseFloat(s, 64)
				if err != nil {
					return fmt.Errorf("%q: %w", arg, err)
				}
				entries = append(entries, scored{m, f})
			}

			st, err := a.sortedSets(cmd.Context())
			if err != nil {
				return err
			}
			z := collections.NewSortedSet[string](st, name, codec.String{})
			for _, e := range entries {
				if _, err := z.AddScore(cmd.Context(), e.member, e.score); err != nil {
					return err
				}
			}
			rs, err := z.RangeByRank(cmd.Context(), start, stop)
			if err != nil {
				return err
			}
			for _, r := range rs {
				fmt.Fprintf(cmd.OutOrStdout(), "%.1f:%s\n", r.Score, r.Value)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&name, "name", defaultRank, "sorted set name")
	f.Int64Var(&start, "start", 0, "first rank")
	f.Int64Var(&stop, "stop", 1, "last rank (inclusive, negative counts from the end)")
	return cmd
}
