package commands

import (
	"database/sql"
	"encoding/json"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/teranos/carbonfill/ai/invoke"
	"github.com/teranos/carbonfill/ai/tracker"
	"github.com/teranos/carbonfill/am"
	"github.com/teranos/carbonfill/db"
	"github.com/teranos/carbonfill/decompose"
	"github.com/teranos/carbonfill/enrich"
	"github.com/teranos/carbonfill/errors"
	"github.com/teranos/carbonfill/logger"
)

// app holds the components shared by enrich, optimize, decompose and serve
type app struct {
	cfg        *am.Config
	db         *sql.DB // nil when database.path is empty
	usage      *tracker.UsageTracker
	registry   *prometheus.Registry
	invoker    *invoke.Invoker
	pipeline   *enrich.Pipeline
	decomposer *decompose.Decomposer
}

// loadConfig reads configuration, honouring the global --config flag when present.
func loadConfig(cmd *cobra.Command) (*am.Config, error) {
	var explicit string
	if f := cmd.Flags().Lookup("config"); f != nil {
		explicit = f.Value.String()
	}
	cfg, err := am.Load(explicit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	return cfg, nil
}

// openDatabase opens and migrates the usage database.
// An empty path disables usage tracking and returns nil.
func openDatabase(cfg *am.Config) (*sql.DB, error) {
	if cfg.Database.Path == "" {
		return nil, nil
	}
	database, err := db.OpenWithMigrations(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", cfg.Database.Path)
	}
	return database, nil
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, db: database, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	invokeOpts := []invoke.Option{}
	pipelineOpts := []enrich.PipelineOption{enrich.WithMetrics(enrich.NewMetrics(a.registry))}
	if database != nil {
		a.usage = tracker.NewUsageTracker(database)
		invokeOpts = append(invokeOpts, invoke.WithTracker(a.usage))
		pipelineOpts = append(pipelineOpts, enrich.WithRecorder(a.usage))
	}

	a.invoker, err = invoke.New(invoke.SettingsFromConfig(cfg), invokeOpts...)
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "failed to create invoker")
	}
	a.pipeline = enrich.New(a.invoker, enrich.OptionsFromConfig(cfg), pipelineOpts...)
	a.decomposer = decompose.New(a.invoker, decompose.WithReasonMaxLen(cfg.Enrichment.ReasonMaxLen))
	return a, nil
}

func (a *app) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// openInput returns the file named by args[0], or stdin for "-" or no argument.
func openInput(cmd *cobra.Command, args []string) (io.ReadCloser, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, errors.Wrap(err, "failed to open input")
	}
	return f, nil
}

func readJSON(cmd *cobra.Command, args []string, v any) error {
	in, err := openInput(cmd, args)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := json.NewDecoder(in).Decode(v); err != nil {
		return errors.WrapInvalidRequest(err, "failed to decode input JSON")
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
