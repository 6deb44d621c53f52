// Sterbox Bridge
//
// Polls a Sterbox controller over HTTP and publishes its readings to MQTT.
// Readings can additionally be kept in a local SQLite history and mirrored
// to InfluxDB.
//
// Usage:
//
//	sterbox-bridge [--config path] [--debug] [--check] [--history N] [--version]
//
// The configuration path is taken from --config, then STERBOX_CONFIG, then
// configs/config.yaml. --history prints the newest stored readings per topic
// and needs database.enabled.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/sterbox-bridge/internal/bridges/sterbox"
	"github.com/nerrad567/sterbox-bridge/internal/history"
	"github.com/nerrad567/sterbox-bridge/internal/infrastructure/config"
	"github.com/nerrad567/sterbox-bridge/internal/infrastructure/database"
	"github.com/nerrad567/sterbox-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/sterbox-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/sterbox-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/sterbox-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// healthCheckTimeout bounds the startup dependency checks.
	healthCheckTimeout = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the command line flags.
type options struct {
	configPath string
	debug      bool
	check      bool
	history    int
	version    bool
}

func parseFlags(args []string) (options, error) {
	var opts options

	fs := pflag.NewFlagSet("sterbox-bridge", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration (default $STERBOX_CONFIG or "+defaultConfigPath+")")
	fs.BoolVar(&opts.debug, "debug", false, "enable debug logging regardless of the configuration")
	fs.BoolVar(&opts.check, "check", false, "validate the configuration, print the poll plan and exit")
	fs.IntVar(&opts.history, "history", 0, "print the last N stored readings per topic and exit")
	fs.BoolVar(&opts.version, "version", false, "print version information and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if opts.history < 0 {
		return options{}, fmt.Errorf("--history must not be negative")
	}
	return opts, nil
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Cancelled on SIGINT/SIGTERM
//   - args: Command line arguments without the program name
//   - stdout: Destination for --version, --check and --history output
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if opts.version {
		fmt.Fprintf(stdout, "sterbox-bridge %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	configPath := getConfigPath(opts.configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.debug {
		cfg.Debug = true
	}

	if opts.check {
		printPlan(stdout, cfg)
		return nil
	}
	if opts.history > 0 {
		return printHistory(ctx, stdout, cfg, opts.history)
	}

	log := logging.New(cfg.EffectiveLogging(), version)
	log.Info("starting sterbox bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", configPath,
	)

	// Reading history (optional)
	var db *database.DB
	var store *history.Repository
	if cfg.Database.Enabled {
		var applied int
		db, applied, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		log.Info("reading history enabled",
			"path", db.Path(),
			"migrations_applied", applied,
			"retention_hours", cfg.Database.RetentionHours,
		)
		store = history.NewRepository(db.DB)
	}

	// MQTT
	topics := mqtt.NewTopics(cfg.Sterbox.Name)
	mqttClient, err := connectMQTT(ctx, cfg.MQTT, topics, cfg.GetMQTTConnectRetryDelay(), log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// InfluxDB mirror (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	bridgeOpts := sterbox.BridgeOptions{
		Config:    cfg,
		Publisher: mqttClient,
		Topics:    topics,
		Logger:    log,
		Version:   version,
	}
	// Typed nil pointers would make the optional interfaces non-nil.
	if store != nil {
		bridgeOpts.History = store
	}
	if influxClient != nil {
		bridgeOpts.Metrics = influxClient
	}

	bridge, err := sterbox.NewBridge(bridgeOpts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Stop polling before the deferred closes run: InfluxDB, MQTT, database.
	bridge.Stop()

	log.Info("sterbox bridge stopped")
	return nil
}

// connectMQTT connects to the broker, retrying every retryDelay until it
// succeeds or ctx is cancelled.
func connectMQTT(ctx context.Context, cfg config.MQTTConfig, topics mqtt.Topics, retryDelay time.Duration, log *logging.Logger) (*mqtt.Client, error) {
	for attempt := 1; ; attempt++ {
		client, err := mqtt.Connect(cfg, topics)
		if err == nil {
			log.Info("MQTT connected",
				"broker", fmt.Sprintf("%s:%d", cfg.Server, cfg.Port),
				"client_id", cfg.ClientID,
				"attempts", attempt,
			)
			return client, nil
		}
		if attempt == 1 {
			log.Warn("MQTT broker unavailable, retrying", "error", err, "retry_delay", retryDelay)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connecting to MQTT: %w", ctx.Err())
		case <-time.After(retryDelay):
		}
	}
}

// openDatabase opens the reading history database and applies pending
// migrations. It returns the number of migrations applied.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, int, error) {
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, 0, fmt.Errorf("opening database: %w", err)
	}

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, 0, fmt.Errorf("running migrations: %w", err)
	}
	return db, applied, nil
}

// healthCheck verifies the connected dependencies answer.
//
// Parameters:
//   - ctx: Context for cancellation, bounded by healthCheckTimeout
//   - db: History database (nil when the history is disabled)
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (nil when the mirror is disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// getConfigPath returns the configuration file path.
// An explicit flag wins over STERBOX_CONFIG, which wins over the default.
func getConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if path := os.Getenv("STERBOX_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// printPlan writes the polled sections and their queries.
func printPlan(w io.Writer, cfg *config.Config) {
	sections := sterbox.SectionsFromConfig(cfg.Variables)

	fmt.Fprintf(w, "device:   %s\n", cfg.Sterbox.URL)
	fmt.Fprintf(w, "topic:    %s\n", cfg.Sterbox.Name)
	fmt.Fprintf(w, "cadence:  %s every %v (rest %v)\n", cfg.Sterbox.Cadence, cfg.GetInterval(), cfg.GetRestDelay())
	fmt.Fprintf(w, "sections: %d, variables: %d\n\n", len(sections), cfg.Variables.VariableCount())

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SECTION\tVARIABLE\tTYPE\tQUERY")
	for _, s := range sections {
		for _, v := range s.Variables {
			kind := "float"
			if v.Integer() {
				kind = "integer"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, v.Name, kind, v.Query)
		}
	}
	tw.Flush() //nolint:errcheck // Writes to stdout
}

// printHistory writes the newest limit stored readings for the combined
// topic and every section topic, skipping topics with nothing recorded.
func printHistory(ctx context.Context, w io.Writer, cfg *config.Config, limit int) error {
	if !cfg.Database.Enabled {
		return fmt.Errorf("reading history is disabled (database.enabled: false)")
	}

	db, _, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // Read-only use

	repo := history.NewRepository(db.DB)
	topics := mqtt.NewTopics(cfg.Sterbox.Name)

	candidates := []string{topics.Data()}
	for _, s := range cfg.Variables {
		candidates = append(candidates, topics.Section(s.Name))
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOPIC\tRECORDED\tREADINGS")
	for _, topic := range candidates {
		entries, err := repo.GetHistory(ctx, topic, limit)
		if err != nil {
			return fmt.Errorf("reading history for %s: %w", topic, err)
		}
		for _, e := range entries {
			readings, err := json.Marshal(e.Readings)
			if err != nil {
				return fmt.Errorf("encoding readings: %w", err)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Topic, e.CreatedAt.Format(time.RFC3339), readings)
		}
	}
	return tw.Flush()
}
