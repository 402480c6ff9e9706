package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/kleberbaum/gqty/internal/cache"
	"github.com/kleberbaum/gqty/internal/client"
	"github.com/kleberbaum/gqty/internal/persist"
	"github.com/spf13/cobra"
)

func newResolveCmd(a *app, use, short string) *cobra.Command {
	var vars []string
	cmd := &cobra.Command{
		Use:   use + " <selection>",
		Short: short,
		Example: `  gqty query 'hello(name: "you")'
  gqty query --var id=1 'user(id: $id) { name posts { title } }'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseVars(vars)
			if err != nil {
				return err
			}
			p, err := parsePlan(args[0], values)
			if err != nil {
				return err
			}
			c, done, err := a.client()
			if err != nil {
				return err
			}
			data, err := run(cmd.Context(), c, use == "mutate", p, a.cfg.OperationName)
			if derr := done(); err == nil {
				err = derr
			}
			if data != nil {
				if werr := writeJSON(cmd.OutOrStdout(), data, true); err == nil {
					err = werr
				}
			}
			return err
		},
	}
	cmd.Flags().StringArrayVar(&vars, "var", nil, "variable name=value, value parsed as JSON when possible; repeatable")
	return cmd
}

// run resolves p. The data is returned alongside GraphQL errors so partial
// results still print.
func run(ctx context.Context, c *client.Client, mutation bool, p *plan, opName string) (map[string]any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var opts []client.ResolveOption
	if opName != "" {
		opts = append(opts, client.OperationName(opName))
	}
	fn := client.Resolve[map[string]any]
	if mutation {
		fn = client.Mutate[map[string]any]
	}
	return fn(ctx, c, p.project, opts...)
}

func newSubscribeCmd(a *app) *cobra.Command {
	var vars []string
	var count int
	cmd := &cobra.Command{
		Use:   "subscribe <selection>",
		Short: "Print every event of a subscription as one JSON line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseVars(vars)
			if err != nil {
				return err
			}
			p, err := parsePlan(args[0], values)
			if err != nil {
				return err
			}
			c, done, err := a.client()
			if err != nil {
				return err
			}
			defer done()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
			defer stop()

			var opts []client.ResolveOption
			if a.cfg.OperationName != "" {
				opts = append(opts, client.OperationName(a.cfg.OperationName))
			}
			sub, err := client.Subscribe(ctx, c, p.project, opts...)
			if err != nil {
				return err
			}
			defer sub.Close()

			n := 0
			for {
				select {
				case <-ctx.Done():
					return nil
				case v, ok := <-sub.Values():
					if !ok {
						return sub.Err()
					}
					if v.Err != nil {
						fmt.Fprintln(cmd.ErrOrStderr(), "error:", v.Err)
					}
					if err := writeJSON(cmd.OutOrStdout(), v.Data, false); err != nil {
						return err
					}
					n++
					if count > 0 && n >= count {
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().StringArrayVar(&vars, "var", nil, "variable name=value, value parsed as JSON when possible; repeatable")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "stop after this many events; 0 waits for the server to complete")
	return cmd
}

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the persisted cache",
	}
	open := func() (*persist.Store, error) {
		if a.cfg.CacheDir == "" {
			return nil, errors.New("no cache directory configured, set --cache-dir or GQTY_CACHE_DIR")
		}
		return persist.Open(a.cfg.CacheDir, a.logger)
	}
	name := func(args []string) string {
		if len(args) > 0 {
			return args[0]
		}
		return a.cfg.CacheName
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the saved snapshots",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, err := open()
				if err != nil {
					return err
				}
				defer s.Close()
				names, err := s.Names()
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "show [name]",
			Short: "Print the cached data of a snapshot",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := open()
				if err != nil {
					return err
				}
				defer s.Close()
				c := cache.New()
				found, err := s.LoadCache(name(args), c)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("no snapshot named %q", name(args))
				}
				return writeJSON(cmd.OutOrStdout(), c.ToJSON(), true)
			},
		},
		&cobra.Command{
			Use:   "clear [name]",
			Short: "Delete a snapshot",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := open()
				if err != nil {
					return err
				}
				defer s.Close()
				return s.Delete(name(args))
			},
		},
	)
	return cmd
}

func writeJSON(w io.Writer, v any, indent bool) error {
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
