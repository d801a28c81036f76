package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/agentuity/go-geocache/cache"
	"github.com/agentuity/go-geocache/category"
	"github.com/agentuity/go-geocache/config"
	"github.com/agentuity/go-geocache/envelope"
	"github.com/agentuity/go-geocache/eventing"
	"github.com/agentuity/go-geocache/index"
	"github.com/agentuity/go-geocache/logger"
	"github.com/agentuity/go-geocache/manager"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

type globals struct {
	configFile string
	redisURL   string
	channel    string
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           "geocachectl",
		Short:         "Inspect geocache configuration and invalidate caches across nodes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&g.configFile, "config", "c", "geocache.yaml", "configuration file")
	cmd.PersistentFlags().StringVar(&g.redisURL, "redis", "", "redis url, overrides the configuration")
	cmd.PersistentFlags().StringVar(&g.channel, "channel", eventing.DefaultChannel, "event channel")

	cmd.AddCommand(
		newValidateCmd(g),
		newResolveCmd(g),
		newInvalidateCmd(g),
		newDropCmd(g),
		newWatchCmd(g),
	)
	return cmd
}

func (g *globals) load() (*config.Config, error) {
	return config.Load(g.configFile, config.WithRedisURL(g.redisURL))
}

func newValidateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			for _, e := range cfg.Entries() {
				cmd.Printf("%-24s %s\n", e.Scope(), describe(e))
			}
			cmd.Printf("%s is valid\n", g.configFile)
			return nil
		},
	}
}

func newResolveCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <layer> <category>",
		Short: "Show which backends serve a layer and category",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			e, err := cfg.Resolve(args[0], category.New(args[1]))
			if err != nil {
				return err
			}
			cmd.Printf("%s/%s is served by %s (configured for %s)\n", args[0], category.New(args[1]), describe(e), e.Scope())
			return nil
		},
	}
}

func newInvalidateCmd(g *globals) *cobra.Command {
	var bbox string
	cmd := &cobra.Command{
		Use:   "invalidate <layer>",
		Short: "Invalidate a layer on every node, optionally only inside a bounding box",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev := manager.Event{Kind: manager.EventInvalidateAll, Layer: args[0]}
			if bbox != "" {
				env, err := envelope.Parse(bbox)
				if err != nil {
					return err
				}
				ev = manager.Event{Kind: manager.EventInvalidate, Layer: args[0], Envelope: &env}
			}
			return g.broadcast(cmd, ev)
		},
	}
	cmd.Flags().StringVar(&bbox, "bbox", "", "minx,miny,maxx,maxy to invalidate, the whole layer when empty")
	return cmd
}

func newDropCmd(g *globals) *cobra.Command {
	var cat string
	cmd := &cobra.Command{
		Use:   "drop <layer>",
		Short: "Drop the caches of a layer on every node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev := manager.Event{Kind: manager.EventDrop, Layer: args[0]}
			if cat != "" {
				ev = manager.Event{Kind: manager.EventDropCategory, Layer: args[0], Category: category.New(cat)}
			}
			return g.broadcast(cmd, ev)
		},
	}
	cmd.Flags().StringVar(&cat, "category", "", "only drop this category")
	return cmd
}

// printer is an eventing.Applier writing every event to the command output.
type printer struct {
	cmd *cobra.Command
}

func (p printer) Apply(_ context.Context, ev manager.Event) error {
	line := string(ev.Kind) + " " + ev.Layer
	if ev.Category != category.Any {
		line += "/" + ev.Category.Name()
	}
	if ev.Envelope != nil {
		line += " " + ev.Envelope.String()
	}
	p.cmd.Println(line)
	return nil
}

func newWatchCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the cache events sent by every node until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return g.withBus(ctx, func(bus *eventing.Bus) error {
				sub, err := bus.Listen(ctx, printer{cmd})
				if err != nil {
					return err
				}
				defer sub.Close()
				cmd.PrintErrf("watching %s, press Ctrl+C to stop\n", g.channel)
				<-ctx.Done()
				return nil
			})
		},
	}
}

// withBus connects to redis and runs fn with a bus on the selected channel.
func (g *globals) withBus(ctx context.Context, fn func(bus *eventing.Bus) error) error {
	url := g.redisURL
	if url == "" {
		cfg, err := g.load()
		if err != nil {
			return err
		}
		url = cfg.Redis.URL
	}
	if url == "" {
		return errors.Newf("no redis url, use --redis or set %s", config.EnvRedisURL)
	}
	rdb, err := config.NewRedisClient(url)
	if err != nil {
		return err
	}
	defer rdb.Close()

	log := logger.NewConsoleLogger(logger.LevelWarn)
	client, err := eventing.NewRedisClient(ctx, log, rdb)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(eventing.NewBus(log, client, eventing.WithChannel(g.channel)))
}

func (g *globals) broadcast(cmd *cobra.Command, ev manager.Event) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := g.withBus(ctx, func(bus *eventing.Bus) error {
		return bus.Broadcast(ctx, ev)
	}); err != nil {
		return err
	}
	target := ev.Layer
	if ev.Category != category.Any {
		target += "/" + ev.Category.Name()
	}
	cmd.Printf("sent %s for %s\n", ev.Kind, target)
	return nil
}

func describe(e config.Entry) string {
	var sb strings.Builder
	sb.WriteString("cache=")
	sb.WriteString(orDefault(e.Cache.Type, cache.TypeMemory))
	sb.WriteString(" index=")
	sb.WriteString(orDefault(e.Index.Type, index.TypeRTree))
	if e.Description != "" {
		sb.WriteString(" (" + e.Description + ")")
	}
	return sb.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
