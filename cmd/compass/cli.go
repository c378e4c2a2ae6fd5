package main

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/compass/internal/config"
	"github.com/hpungsan/compass/internal/errors"
	"github.com/hpungsan/compass/internal/logging"
	"github.com/hpungsan/compass/internal/mcp"
	"github.com/hpungsan/compass/internal/metrics"
	"github.com/hpungsan/compass/internal/ops"
	"github.com/hpungsan/compass/internal/scenario"
	"github.com/hpungsan/compass/internal/web"
)

// Default UI address.
const (
	defaultUIBind = "127.0.0.1"
	defaultUIPort = 8745
)

// appEnv carries what commands need at run time. Fields are nil when the
// app only prints help or version.
type appEnv struct {
	db      *sql.DB
	cfg     *config.Config
	log     *zap.Logger
	reg     *prometheus.Registry
	metrics *metrics.Metrics
}

// newAppEnv wires logging and metrics around an open database.
func newAppEnv(database *sql.DB, cfg *config.Config, log *zap.Logger) *appEnv {
	reg := prometheus.NewRegistry()
	return &appEnv{
		db:      database,
		cfg:     cfg,
		log:     logging.OrNop(log),
		reg:     reg,
		metrics: metrics.MustNew(reg),
	}
}

func (e *appEnv) session() ops.SessionOptions {
	return ops.SessionOptions{Logger: e.log, Metrics: e.metrics}
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(e *appEnv) *cli.App {
	app := &cli.App{
		Name:    "compass",
		Usage:   "Meeting-aware mode decisions with explanations",
		Version: Version,
		Commands: []*cli.Command{
			decideCmd(e),
			forceCmd(e),
			unpinCmd(e),
			statusCmd(e),
			eventsCmd(e),
			synthesisCmd(e),
			decisionsCmd(e),
			scenarioCmd(e),
			uiCmd(e),
			serveCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// decideCmd creates the decide command.
func decideCmd(e *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "decide",
		Usage: "Evaluate once and print the decision",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "at", Usage: "Evaluate at an RFC 3339 instant (what-if, not recorded)"},
			&cli.StringFlag{Name: "pin", Usage: "Evaluate as if MODE were pinned (what-if, not recorded)"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "Output format: json|md"},
			&cli.BoolFlag{Name: "strict", Usage: "Fail when no calendar view is available"},
		},
		Action: func(c *cli.Context) error {
			format, err := parseFormat(c.String("format"))
			if err != nil {
				return outputError(err)
			}

			input := ops.DecideInput{
				Pin:    c.String("pin"),
				Strict: c.Bool("strict"),
			}
			if at := c.String("at"); at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return outputError(errors.NewInvalidRequest(fmt.Sprintf("invalid --at %q: want RFC 3339", at)))
				}
				input.At = t
			}

			res, err := ops.Decide(c.Context, e.db, e.cfg, input, e.session())
			if err != nil {
				return outputError(err)
			}
			if format == "md" {
				return outputText(c, res.Capsule.Markdown())
			}
			return outputJSON(c, res)
		},
	}
}

// forceCmd creates the force command.
func forceCmd(e *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "force",
		Usage:     "Pin a mode until unpinned",
		ArgsUsage: "MODE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("force takes exactly one MODE argument"))
			}
			res, err := ops.Force(c.Context, e.db, e.cfg, c.Args().First(), e.session())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, res)
		},
	}
}

// unpinCmd creates the unpin command.
func unpinCmd(e *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "unpin",
		Usage: "Clear the pinned mode and re-evaluate",
		Action: func(c *cli.Context) error {
			res, err := ops.Unpin(c.Context, e.db, e.cfg, e.session())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, res)
		},
	}
}

// statusCmd creates the status command.
func statusCmd(e *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the pin, calendar sync and audit trail summary",
		Action: func(c *cli.Context) error {
			out, err := ops.Status(c.Context, e.db)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, out)
		},
	}
}

// eventsCmd creates the events command group.
func eventsCmd(e *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Manage the local calendar snapshot",
		Subcommands: []*cli.Command{
			{
				Name:  "import",
				Usage: "Import calendar events from a JSONL or YAML file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Import file path"},
				},
				Action: func(c *cli.Context) error {
					out, err := ops.ImportEvents(c.Context, e.db, e.cfg, ops.ImportEventsInput{Path: c.String("path")})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
		},
	}
}

// synthesisCmd creates the synthesis command group.
func synthesisCmd(e *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "synthesis",
		Usage: "Track meeting synthesis",
		Subcommands: []*cli.Command{
			{
				Name:      "complete",
				Usage:     "Mark the synthesis of a meeting as done",
				ArgsUsage: "EVENT_ID",
				Action: func(c *cli.Context) error {
					out, err := ops.CompleteSynthesis(c.Context, e.db, ops.CompleteSynthesisInput{EventID: c.Args().First()})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
		},
	}
}

// decisionsCmd creates the decisions command group.
func decisionsCmd(e *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "decisions",
		Usage: "Inspect and maintain the decision audit trail",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recorded decisions, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
					&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
				},
				Action: func(c *cli.Context) error {
					out, err := ops.ListDecisions(c.Context, e.db, ops.ListDecisionsInput{
						Limit:  c.Int("limit"),
						Offset: c.Int("offset"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:  "export",
				Usage: "Export decisions to a JSONL file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.compass/exports/decisions-<timestamp>.jsonl)"},
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "File name prefix for the default path"},
					&cli.StringFlag{Name: "since", Usage: "Only export decisions from the last N days (e.g., 7d)"},
				},
				Action: func(c *cli.Context) error {
					input := ops.ExportDecisionsInput{
						Path: c.String("path"),
						Name: c.String("name"),
					}
					if since := c.String("since"); since != "" {
						days, err := parseDuration(since)
						if err != nil {
							return outputError(errors.NewInvalidRequest(err.Error()))
						}
						input.SinceDays = days
					}

					out, err := ops.ExportDecisions(c.Context, e.db, e.cfg, input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:  "purge",
				Usage: "Permanently delete recorded decisions",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "older-than", Usage: "Only purge decisions older than N days (e.g., 30d)"},
				},
				Action: func(c *cli.Context) error {
					input := ops.PurgeDecisionsInput{}
					if olderThan := c.String("older-than"); olderThan != "" {
						days, err := parseDuration(olderThan)
						if err != nil {
							return outputError(errors.NewInvalidRequest(err.Error()))
						}
						input.OlderThanDays = days
					}

					out, err := ops.PurgeDecisions(c.Context, e.db, input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
		},
	}
}

// scenarioCmd creates the scenario command group.
func scenarioCmd(e *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "scenario",
		Usage: "Replay scripted calendars against the decision engine",
		Subcommands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Run a scenario file or a built-in scenario",
				ArgsUsage: "[FILE]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "builtin", Aliases: []string{"b"}, Usage: "Built-in scenario name"},
				},
				Action: func(c *cli.Context) error {
					sc, err := loadScenario(c.Args().First(), c.String("builtin"))
					if err != nil {
						return outputError(err)
					}

					report, err := scenario.Run(c.Context, sc, scenario.Options{Logger: e.log, Metrics: e.metrics})
					if err != nil {
						return outputError(err)
					}
					if err := outputJSON(c, report); err != nil {
						return err
					}
					if !report.Passed {
						return cli.Exit(fmt.Sprintf("scenario %q did not match its expectations", report.Name), 1)
					}
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List built-in scenarios",
				Action: func(c *cli.Context) error {
					return outputJSON(c, map[string]any{"builtin": scenario.ListBuiltin()})
				},
			},
		},
	}
}

// uiCmd creates the ui command.
func uiCmd(e *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "ui",
		Usage: "Serve the web UI with a live scheduler",
		Flags: uiFlags(),
		Action: func(c *cli.Context) error {
			return serve(c.Context, e, false, &uiOptions{bind: c.String("bind"), port: c.Int("port")})
		},
	}
}

// serveCmd creates the serve command. Running compass with piped stdin and
// no arguments does the same.
func serveCmd(e *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the MCP server over stdio",
		Flags: append(uiFlags(), &cli.BoolFlag{Name: "ui", Usage: "Also serve the web UI"}),
		Action: func(c *cli.Context) error {
			var ui *uiOptions
			if c.Bool("ui") {
				ui = &uiOptions{bind: c.String("bind"), port: c.Int("port")}
			}
			return serve(c.Context, e, true, ui)
		},
	}
}

func uiFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "bind", Value: defaultUIBind, Usage: "UI bind address"},
		&cli.IntFlag{Name: "port", Value: defaultUIPort, Usage: "UI port"},
	}
}

type uiOptions struct {
	bind string
	port int
}

// serve starts a long-lived scheduler and runs the MCP server, the UI or
// both until a signal arrives or stdin closes.
func serve(ctx context.Context, e *appEnv, withMCP bool, ui *uiOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if unknown := mcp.ValidateDisabledTools(e.cfg.DisabledTools); len(unknown) > 0 {
		e.log.Warn("unknown tools in disabled_tools", zap.Strings("tools", unknown))
	}

	sched, err := ops.NewScheduler(e.db, e.cfg, e.session())
	if err != nil {
		return outputError(err)
	}
	if err := sched.Start(ctx); err != nil {
		return outputError(err)
	}
	defer sched.Stop()

	g, gctx := errgroup.WithContext(ctx)

	if ui != nil {
		srv, err := web.NewServer(web.Options{
			DB:        e.db,
			Config:    e.cfg,
			Scheduler: sched,
			Gatherer:  e.reg,
			Logger:    e.log,
			Version:   Version,
			Bind:      ui.bind,
			Port:      ui.port,
		})
		if err != nil {
			return outputError(errors.NewInternal(err))
		}
		if !withMCP {
			fmt.Fprintf(os.Stderr, "compass UI running at http://%s\n", srv.Addr)
		}
		g.Go(func() error { return web.Run(gctx, srv, e.log) })
	}

	if withMCP {
		g.Go(func() error {
			defer stop()
			err := mcp.Run(gctx, mcp.NewServer(e.db, e.cfg, sched, Version, e.log))
			if stderrors.Is(err, context.Canceled) || stderrors.Is(err, io.EOF) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

// Helper functions

// loadScenario resolves a scenario from a file path or a built-in name.
func loadScenario(path, builtin string) (*scenario.Scenario, error) {
	switch {
	case path != "" && builtin != "":
		return nil, errors.NewInvalidRequest("pass either FILE or --builtin, not both")
	case builtin != "":
		return scenario.Builtin(builtin)
	case path != "":
		return scenario.Load(path)
	}
	return nil, errors.NewInvalidRequest("scenario FILE or --builtin is required")
}

// parseFormat validates an output format name.
func parseFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "", "json":
		return "json", nil
	case "md", "markdown":
		return "md", nil
	}
	return "", errors.NewInvalidRequest(fmt.Sprintf("unknown format %q (want json or md)", s))
}

// outputJSON writes v to the app's writer as indented JSON.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputText writes s followed by a newline.
func outputText(c *cli.Context, s string) error {
	_, err := fmt.Fprintln(c.App.Writer, strings.TrimRight(s, "\n"))
	return err
}

// outputError formats error for CLI.
func outputError(err error) error {
	var cErr *errors.CompassError
	if stderrors.As(err, &cErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", cErr.Code, cErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// parseDuration parses "7d" format to days.
func parseDuration(s string) (int, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration must be non-negative")
		}
		return days, nil
	}
	return 0, fmt.Errorf("duration must end with 'd' (days), e.g., 7d")
}
