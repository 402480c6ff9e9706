package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kleberbaum/gqty/internal/cache"
	"github.com/kleberbaum/gqty/internal/client"
	"github.com/kleberbaum/gqty/internal/eventbus"
	"github.com/kleberbaum/gqty/internal/httptp"
	"github.com/kleberbaum/gqty/internal/logging"
	"github.com/kleberbaum/gqty/internal/otel"
	"github.com/kleberbaum/gqty/internal/persist"
	"github.com/kleberbaum/gqty/internal/resolver"
	"github.com/kleberbaum/gqty/internal/schema"
	"github.com/kleberbaum/gqty/internal/transport"
	"github.com/kleberbaum/gqty/internal/wstp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	// The config file name without extension; viper tries every supported format.
	defaultConfigFilename = "gqty"

	// Flags are bound to environment variables with this prefix, e.g.
	// --max-age to GQTY_MAX_AGE.
	envPrefix = "GQTY"
)

type config struct {
	Endpoint      string
	WSEndpoint    string
	Headers       []string
	Timeout       time.Duration
	Policy        cache.Policy
	MaxAge        time.Duration
	SWR           time.Duration
	Normalize     bool
	CacheDir      string
	CacheName     string
	Schema        string
	Retries       int
	Production    bool
	Verbose       bool
	OtelEndpoint  string
	OtelService   string
	OperationName string
}

type app struct {
	v      *viper.Viper
	cfg    config
	logger *zap.Logger
	bus    *eventbus.Bus

	cleanup []func(context.Context) error
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	var cfgFile string

	root := &cobra.Command{
		Use:           "gqty",
		Short:         "Resolve GraphQL selections through a normalized client cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.loadConfig(cmd, cfgFile); err != nil {
				return err
			}
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ./gqty.yaml or $HOME/.config/gqty/gqty.yaml)")
	pf.StringP("endpoint", "e", "", "GraphQL HTTP endpoint")
	pf.String("ws-endpoint", "", "graphql-transport-ws endpoint (default derived from --endpoint)")
	pf.StringArrayP("header", "H", nil, `request header "Name: value"; repeatable`)
	pf.Duration("timeout", 10*time.Second, "per-request timeout")
	pf.String("policy", "default", "cache policy: default, force-cache, no-cache, no-store, only-if-cached")
	pf.Duration("max-age", 0, "time a cached value stays fresh")
	pf.Duration("stale-while-revalidate", 5*time.Minute, "time a stale value is still served while refetching")
	pf.Bool("normalize", false, "index objects by __typename and id")
	pf.String("cache-dir", "", "persist the cache in this badger directory")
	pf.String("cache-name", "default", "name of the persisted cache snapshot")
	pf.String("schema", "", "SDL file used for argument types and identity fields")
	pf.Int("retries", 1, "retries for failed queries and subscription connects")
	pf.String("env", "", `"production" shortens aggregated error messages`)
	pf.BoolP("verbose", "v", false, "log every fetch and cache decision")
	pf.String("otel-endpoint", "", "OTLP gRPC collector endpoint")
	pf.String("otel-service", "gqty", "OpenTelemetry service name")
	pf.String("operation-name", "", "operation name sent with the document")

	root.AddCommand(
		newResolveCmd(a, "query", "Resolve a query selection"),
		newResolveCmd(a, "mutate", "Run a mutation selection"),
		newSubscribeCmd(a),
		newCacheCmd(a),
	)
	return root
}

func (a *app) loadConfig(cmd *cobra.Command, cfgFile string) error {
	v := a.v
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/gqty")
		v.SetConfigName(defaultConfigFilename)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "help" {
			return
		}
		if err := v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return bindErr
	}

	policy, err := cache.ParsePolicy(v.GetString("policy"))
	if err != nil {
		return err
	}
	var headers []string
	if cmd.Flags().Changed("header") {
		headers, _ = cmd.Flags().GetStringArray("header")
	} else if v.InConfig("header") {
		headers = v.GetStringSlice("header")
	}
	a.cfg = config{
		Endpoint:      v.GetString("endpoint"),
		WSEndpoint:    v.GetString("ws-endpoint"),
		Headers:       headers,
		Timeout:       v.GetDuration("timeout"),
		Policy:        policy,
		MaxAge:        v.GetDuration("max-age"),
		SWR:           v.GetDuration("stale-while-revalidate"),
		Normalize:     v.GetBool("normalize"),
		CacheDir:      v.GetString("cache-dir"),
		CacheName:     v.GetString("cache-name"),
		Schema:        v.GetString("schema"),
		Retries:       v.GetInt("retries"),
		Production:    v.GetString("env") == "production",
		Verbose:       v.GetBool("verbose"),
		OtelEndpoint:  v.GetString("otel-endpoint"),
		OtelService:   v.GetString("otel-service"),
		OperationName: v.GetString("operation-name"),
	}
	return nil
}

func (a *app) setup() error {
	var err error
	if a.cfg.Verbose {
		a.logger, err = zap.NewDevelopment()
	} else {
		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		a.logger, err = zc.Build()
	}
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	a.cleanup = append(a.cleanup, func(context.Context) error {
		a.logger.Sync()
		return nil
	})

	a.bus = eventbus.New()
	eventbus.Use(a.bus)
	detach := logging.Attach(a.bus, a.logger)
	a.cleanup = append(a.cleanup, func(context.Context) error {
		detach()
		return nil
	})

	shutdown, err := otel.Setup(a.cfg.OtelEndpoint, a.cfg.OtelService)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	a.cleanup = append(a.cleanup, shutdown)
	return nil
}

// close runs the cleanups in reverse order.
func (a *app) close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var errs []error
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		if err := a.cleanup[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.cleanup = nil
	return errors.Join(errs...)
}

// client builds a client for the configured endpoint. The returned func saves
// the persisted cache and releases the transports.
func (a *app) client() (*client.Client, func() error, error) {
	cfg := a.cfg
	if cfg.Endpoint == "" && cfg.WSEndpoint == "" {
		return nil, nil, errors.New("no endpoint configured, set --endpoint or GQTY_ENDPOINT")
	}
	header, err := parseHeaders(cfg.Headers)
	if err != nil {
		return nil, nil, err
	}

	cacheOpts := []cache.Option{cache.WithMaxAge(cfg.MaxAge), cache.WithStaleWhileRevalidate(cfg.SWR)}
	if cfg.Normalize {
		cacheOpts = append(cacheOpts, cache.WithNormalization(cache.DefaultKey))
	}
	c := cache.New(cacheOpts...)

	var store *persist.Store
	if cfg.CacheDir != "" {
		store, err = persist.Open(cfg.CacheDir, a.logger)
		if err != nil {
			return nil, nil, err
		}
		if _, err := store.LoadCache(cfg.CacheName, c); err != nil {
			store.Close()
			return nil, nil, err
		}
	}

	httpOpts := []httptp.Option{httptp.WithTimeout(cfg.Timeout)}
	wsOpts := []wstp.Option{}
	for k, vs := range header {
		for _, v := range vs {
			httpOpts = append(httpOpts, httptp.WithHeader(k, v))
			wsOpts = append(wsOpts, wstp.WithHeader(k, v))
		}
	}
	ws := wstp.New(wsEndpoint(cfg), wsOpts...)
	var tr transport.Transport
	if cfg.Endpoint != "" {
		tr = httptp.New(cfg.Endpoint, httpOpts...)
	} else {
		tr = ws
	}

	opts := []client.Option{
		client.WithCache(c),
		client.WithPolicy(cfg.Policy),
		client.WithSubscriber(ws),
		client.WithRetry(resolver.Retries(cfg.Retries)),
		client.WithProduction(cfg.Production),
	}
	if cfg.Schema != "" {
		s, err := schema.Load(cfg.Schema)
		if err != nil {
			if store != nil {
				store.Close()
			}
			return nil, nil, err
		}
		opts = append(opts, client.WithSchema(s))
	}

	done := func() error {
		var errs []error
		errs = append(errs, ws.Close())
		if hc, ok := tr.(*httptp.Transport); ok {
			errs = append(errs, hc.Close())
		}
		if store != nil {
			errs = append(errs, store.SaveCache(cfg.CacheName, c), store.Close())
		}
		return errors.Join(errs...)
	}
	return client.New(tr, opts...), done, nil
}

func wsEndpoint(cfg config) string {
	if cfg.WSEndpoint != "" {
		return cfg.WSEndpoint
	}
	switch {
	case strings.HasPrefix(cfg.Endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(cfg.Endpoint, "https://")
	case strings.HasPrefix(cfg.Endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(cfg.Endpoint, "http://")
	}
	return cfg.Endpoint
}

func parseHeaders(lines []string) (http.Header, error) {
	h := http.Header{}
	for _, line := range lines {
		k, v, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Name: value\"", line)
		}
		h.Add(strings.TrimSpace(k), strings.TrimSpace(v))
	}
	return h, nil
}
