package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rendis/flowengine/internal/api"
	"github.com/rendis/flowengine/internal/worker"
	fmcp "github.com/rendis/flowengine/pkg/mcp"
	"github.com/rendis/flowengine/pkg/schema"
)

type cli struct {
	v          *viper.Viper
	cfg        Config
	configFile string
}

func newRootCmd() *cobra.Command {
	c := &cli{v: newConfigViper()}

	root := &cobra.Command{
		Use:               "flowengine",
		Short:             "Execute flow versions",
		SilenceUsage:      true,
		PersistentPreRunE: c.setupConfig,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configFile, "config", "", "settings file (default: ~/.flowengine/settings.json)")
	pf.String("db-path", "", "database path (default: ~/.flowengine/flowengine.db)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("redis-addr", "", "redis address for run locks (disabled if empty)")
	pf.String("internal-api-url", "", "coordinator URL for progress updates")
	pf.String("public-url", "", "public URL of the coordinator")
	pf.String("vault-passphrase", "", "connection vault passphrase")
	pf.String("vault-salt", "", "connection vault salt")
	pf.Int("timeout-seconds", 0, "default run time budget in seconds")

	root.AddCommand(
		c.newServeCmd(),
		c.newMCPCmd(),
		c.newRunCmd(),
		c.newResolveCmd(),
		newVersionCmd(),
	)
	return root
}

func (c *cli) setupConfig(cmd *cobra.Command, _ []string) error {
	if err := bindFlags(c.v, cmd); err != nil {
		return err
	}
	cfg, err := loadConfig(c.v, c.configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg
	return nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (c *cli) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the engine HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt, err := buildRuntime(ctx, c.cfg, cmd.ErrOrStderr(), runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			srv := api.NewServer(api.Deps{Executor: rt.worker, Store: rt.store, Logger: rt.logger})
			return srv.ListenAndServe(ctx, c.cfg.ListenAddr)
		},
	}
	cmd.Flags().String("listen-addr", "", "TCP listen address (default :4100)")
	return cmd
}

func (c *cli) newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the engine as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt, err := buildRuntime(ctx, c.cfg, cmd.ErrOrStderr(), runtimeOptions{discardProgress: c.cfg.InternalAPIURL == ""})
			if err != nil {
				return err
			}
			defer rt.Close()

			return fmcp.NewServer(fmcp.ServerDeps{Runs: rt.worker, Logger: rt.logger}).Serve(ctx)
		},
	}
}

func (c *cli) newRunCmd() *cobra.Command {
	var runID, projectID, payload string
	cmd := &cobra.Command{
		Use:   "run <flow.json>",
		Short: "Execute a flow version file from its trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fv, err := readFlowVersion(args[0])
			if err != nil {
				return err
			}
			var triggerPayload any
			if payload != "" {
				if err := json.Unmarshal([]byte(payload), &triggerPayload); err != nil {
					return fmt.Errorf("invalid --payload: %w", err)
				}
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt, err := buildRuntime(ctx, c.cfg, cmd.ErrOrStderr(), runtimeOptions{discardProgress: c.cfg.InternalAPIURL == ""})
			if err != nil {
				return err
			}
			defer rt.Close()

			resp, err := rt.worker.BeginRun(ctx, &worker.BeginRunRequest{
				FlowVersion:    fv,
				RunID:          runID,
				ProjectID:      projectID,
				TriggerPayload: triggerPayload,
				InternalAPIURL: c.cfg.InternalAPIURL,
				PublicURL:      c.cfg.PublicURL,
			})
			if err != nil {
				return err
			}
			if err := writeJSON(cmd, resp); err != nil {
				return err
			}
			switch resp.Status {
			case schema.RunStatusFailed, schema.RunStatusTimeout, schema.RunStatusInternalError:
				return fmt.Errorf("run finished with status %s", resp.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run ID (default: generated)")
	cmd.Flags().StringVar(&projectID, "project-id", "", "project the run belongs to")
	cmd.Flags().StringVar(&payload, "payload", "", "trigger payload as JSON")
	return cmd
}

func (c *cli) newResolveCmd() *cobra.Command {
	var testOutputs string
	cmd := &cobra.Command{
		Use:   "resolve <flow.json> <step> <expression>",
		Short: "Resolve a {{ }} expression as the given step would see it",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fv, err := readFlowVersion(args[0])
			if err != nil {
				return err
			}
			req := &schema.ResolveVariableRequest{
				FlowVersion:        fv,
				StepName:           args[1],
				VariableExpression: args[2],
			}
			if testOutputs != "" {
				if err := json.Unmarshal([]byte(testOutputs), &req.StepTestOutputs); err != nil {
					return fmt.Errorf("invalid --test-outputs: %w", err)
				}
			}

			rt, err := buildRuntime(cmd.Context(), c.cfg, cmd.ErrOrStderr(), runtimeOptions{discardProgress: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			resp := rt.worker.ResolveVariable(cmd.Context(), req)
			if err := writeJSON(cmd, resp); err != nil {
				return err
			}
			if !resp.Success {
				return fmt.Errorf("resolve failed: %s", resp.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&testOutputs, "test-outputs", "", "encoded sample outputs as a JSON object keyed by step id")
	return cmd
}

func readFlowVersion(path string) (schema.FlowVersion, error) {
	var fv schema.FlowVersion
	data, err := os.ReadFile(path)
	if err != nil {
		return fv, fmt.Errorf("read flow: %w", err)
	}
	if err := json.Unmarshal(data, &fv); err != nil {
		return fv, fmt.Errorf("parse flow %s: %w", path, err)
	}
	return fv, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
