package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"xroute/config"
	"xroute/pkg/logging"
	"xroute/pkg/runner"
	"xroute/pkg/store"
	"xroute/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run <route.json>",
	Short: "Execute a route",
	Long: `Execute a route read from a JSON file. Progress is stored after every
change, so an interrupted route can be continued with "xroute resume".

Examples:
  xroute run route.json
  xroute run route.json --json`,
	Args: cobra.ExactArgs(1),
	Run:  runRoute,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <route-id>",
	Short: "Continue an interrupted route",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		continueRoute(cmd, args[0], runner.OpResume)
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart <route-id>",
	Short: "Retry the failed steps of a route",
	Long: `Discard the failed attempt of every failed step and continue the route.
Completed work is kept.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		continueRoute(cmd, args[0], runner.OpRestart)
	},
}

var routeStatusCmd = &cobra.Command{
	Use:   "status <route-id>",
	Short: "Show a stored route",
	Args:  cobra.ExactArgs(1),
	Run:   runRouteStatus,
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List stored routes",
	Run:     runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <route-id>",
	Short: "Remove a stored route",
	Args:  cobra.ExactArgs(1),
	Run:   runDelete,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(routeStatusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
}

// signalContext is cancelled on Ctrl+C
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func readRoute(path string) (*types.Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route: %w", err)
	}
	var route types.Route
	if err := json.Unmarshal(data, &route); err != nil {
		return nil, fmt.Errorf("failed to parse route: %w", err)
	}
	if route.ID == "" {
		route.ID = uuid.New().String()
	}
	return &route, nil
}

func runRoute(cmd *cobra.Command, args []string) {
	route, err := readRoute(args[0])
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	execute(cmd, route, runner.OpStart)
}

func continueRoute(cmd *cobra.Command, id string, op runner.Operation) {
	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	s, err := openStore(cfg, logging.Component(logging.Discard(), "store"))
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	route, err := s.Load(context.Background(), id)
	s.Close()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	execute(cmd, route, op)
}

// execute runs route in the foreground and prints its progress
func execute(cmd *cobra.Command, route *types.Route, op runner.Operation) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	ctx, stop := signalContext()
	defer stop()

	e, err := newEngine(ctx, cfg, !jsonOutput)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer e.Close()

	if err := e.startEvents(ctx); err != nil {
		printError(err)
		os.Exit(1)
	}

	var onUpdate runner.UpdateFunc
	if !jsonOutput {
		fmt.Printf("\nExecuting route %s\n\n", color.CyanString(route.ID))
		onUpdate = newProgressPrinter().update
	}

	h, err := e.runner.Go(ctx, route, op, onUpdate)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	err = h.Wait()
	final := h.Snapshot()

	if jsonOutput {
		printJSON(final)
	} else if final != nil {
		displayRoute(final)
	}

	switch {
	case err == nil:
		if !jsonOutput {
			printSuccess(color.GreenString("Route completed. Received %s %s", final.ToAmount, final.ToToken.Symbol))
		}
	case errors.Is(err, context.Canceled):
		if !jsonOutput {
			color.Yellow("Interrupted. Continue with:")
			color.Cyan("  xroute resume %s\n", route.ID)
		}
		os.Exit(130)
	default:
		printError(err)
		if !jsonOutput && final != nil && final.Status() == types.RouteFailed {
			color.Yellow("Retry the failed steps with:")
			color.Cyan("  xroute restart %s\n", route.ID)
		}
		os.Exit(1)
	}
}

func runRouteStatus(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	s, err := openStore(cfg, logging.Component(logging.Discard(), "store"))
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer s.Close()

	route, err := s.Load(context.Background(), args[0])
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	if jsonOutput {
		printJSON(route)
		return
	}
	displayRoute(route)
}

func runList(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	s, err := openStore(cfg, logging.Component(logging.Discard(), "store"))
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer s.Close()

	routes, err := s.List(context.Background())
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	if jsonOutput {
		printJSON(routes)
		return
	}
	if len(routes) == 0 {
		fmt.Println("\nNo routes stored.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tFROM\tTO\tSTEPS\tUPDATED")
	for _, route := range routes {
		status := "NOT STARTED"
		if route.Started() {
			status = string(route.Status())
		}
		fmt.Fprintf(w, "%s\t%s\t%s %s\t%s %s\t%d\t%s\n",
			route.ID,
			status,
			route.FromAmount, route.FromToken.Symbol,
			route.ToAmount, route.ToToken.Symbol,
			len(route.Steps),
			route.UpdatedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func runDelete(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	s, err := openStore(cfg, logging.Component(logging.Discard(), "store"))
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer s.Close()

	if err := s.Delete(context.Background(), args[0]); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = fmt.Errorf("route %s not found", args[0])
		}
		printError(err)
		os.Exit(1)
	}
	printSuccess(fmt.Sprintf("Route %s deleted.", args[0]))
}
