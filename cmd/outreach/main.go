// Command outreach is the operator CLI. It drives the same campaign
// operations as the HTTP API against the configured record store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lalithlochan/outreach/internal/app"
	"github.com/lalithlochan/outreach/internal/config"
	"github.com/lalithlochan/outreach/internal/observ"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{}
	if err := c.execute(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// cli carries the wired application between cobra hooks and commands.
type cli struct {
	app     *app.App
	verbose bool
}

// execute runs one command line and releases the application afterwards,
// whether or not the command failed.
func (c *cli) execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	defer c.close()

	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "outreach",
		Short: "Run small-business outreach campaigns",
		Long: `Import leads, build campaigns, schedule their emails and send them.

Configuration comes from the environment (and an optional .env file),
the same variables the gateway reads.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd.Context())
		},
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Log at the configured LOG_LEVEL instead of warnings only")

	root.AddCommand(
		c.importCmd(),
		c.businessCmd(),
		c.campaignCmd(),
		c.dispatchCmd(),
		c.analyticsCmd(),
		c.appointmentCmd(),
		c.templatesCmd(),
	)
	return root
}

func (c *cli) setup(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := "warn"
	if c.verbose {
		level = cfg.LogLevel
	}
	logger, err := observ.NewLogger(cfg.Env, level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	c.app, err = app.New(ctx, cfg, logger)
	return err
}

func (c *cli) close() {
	if c.app == nil {
		return
	}
	c.app.Close()
	_ = c.app.Logger.Sync()
	c.app = nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, arg)
	}
	return id, nil
}
