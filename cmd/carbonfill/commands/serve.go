package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/carbonfill/errors"
	"github.com/teranos/carbonfill/logger"
	"github.com/teranos/carbonfill/server"
	"github.com/teranos/carbonfill/version"
)

// ServeCmd starts the HTTP API
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the carbonfill HTTP API",
	Long: `Serve the enrichment API until interrupted.

Routes:
  POST /api/v1/ai/match-carbon-factors   enrich a JSON array of nodes
  POST /api/v1/ai/optimize/:stage        enrich one node as a stage
  POST /api/v1/ai/completions            chat completion proxy
  GET  /health
  GET  /metrics                          Prometheus exposition`,
	RunE: runServe,
}

var servePort int

func init() {
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg.Server
	if servePort > 0 {
		cfg.Port = servePort
	}
	srv, err := server.New(cfg, a.pipeline, a.invoker,
		server.WithRegistry(a.registry),
		server.WithDecomposer(a.decomposer),
		server.WithLogger(logger.ComponentLogger("server")))
	if err != nil {
		return errors.Wrap(err, "failed to create server")
	}

	verbosity, _ := cmd.Flags().GetCount("verbose")
	printStartupBanner(cmd, cfg.Port, verbosity, a.cfg.Database.Path, a.invoker.Settings().MockMode())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}

func printStartupBanner(cmd *cobra.Command, port, verbosity int, dbPath string, mockMode bool) {
	info := version.Get()
	out := cmd.ErrOrStderr()
	pterm.Success.WithWriter(out).Printfln("carbonfill %s (commit %s)", info.Version, info.Short())
	pterm.Info.WithWriter(out).Printfln("Listening: http://localhost:%d", port)
	pterm.Info.WithWriter(out).Printfln("Verbosity: %s", logger.LevelName(verbosity))
	if dbPath != "" {
		pterm.Info.WithWriter(out).Printfln("Database:  %s", dbPath)
	} else {
		pterm.Info.WithWriter(out).Println("Database:  none (usage tracking off)")
	}
	if mockMode {
		pterm.Warning.WithWriter(out).Println("Mock mode: answers come from the built-in mock responder")
	}
}
