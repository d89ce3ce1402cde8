// Command ingestor is the process entry point: it loads configuration,
// wires the pipeline components described across internal/, and runs
// one of two source topologies named by its subcommand, mirroring the
// teacher's cmd/cc-backend/main.go in flag style and startup sequencing
// (gops listener, then config, then long-running services).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/jeffutter/kafka-postgres-transform/internal/adminserver"
	"github.com/jeffutter/kafka-postgres-transform/internal/broker"
	"github.com/jeffutter/kafka-postgres-transform/internal/config"
	"github.com/jeffutter/kafka-postgres-transform/internal/dbwriter"
	"github.com/jeffutter/kafka-postgres-transform/internal/frame"
	"github.com/jeffutter/kafka-postgres-transform/internal/metrics"
	"github.com/jeffutter/kafka-postgres-transform/internal/objectstore"
	"github.com/jeffutter/kafka-postgres-transform/internal/pipeline"
	"github.com/jeffutter/kafka-postgres-transform/internal/script"
	"github.com/jeffutter/kafka-postgres-transform/internal/status"
	"github.com/jeffutter/kafka-postgres-transform/pkg/log"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	globalFlags := flag.NewFlagSet("ingestor", flag.ContinueOnError)
	configPath := globalFlags.String("config", "", "path to JSON configuration file")
	pluginPath := globalFlags.String("plugin", "", "path to the transform script")
	postgresURL := globalFlags.String("postgres-url", "", "PostgreSQL connection string")
	adminAddr := globalFlags.String("admin-addr", "", "admin/metrics HTTP listen address")
	statusInterval := globalFlags.String("status-interval", "", "periodic progress log interval")
	logLevel := globalFlags.String("loglevel", "info", "log level: err, warn, info, debug")
	gops := globalFlags.Bool("gops", false, "listen via github.com/google/gops/agent (for debugging)")

	if len(args) == 0 {
		return fmt.Errorf("usage: ingestor [flags] <kafka|file> [flags]")
	}
	if err := globalFlags.Parse(args); err != nil {
		return err
	}

	log.SetLogLevel(*logLevel)

	if *gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			return fmt.Errorf("gops/agent.Listen failed: %w", err)
		}
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *pluginPath != "" {
		cfg.ScriptPath = *pluginPath
	}
	if *postgresURL != "" {
		cfg.PostgresURL = *postgresURL
	}
	if *adminAddr != "" {
		cfg.AdminAddr = *adminAddr
	}
	if *statusInterval != "" {
		cfg.StatusInterval = *statusInterval
	}

	rest := globalFlags.Args()
	if len(rest) == 0 {
		return fmt.Errorf("usage: ingestor [flags] <kafka|file> [flags]")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch rest[0] {
	case "kafka":
		return runKafka(ctx, cfg, rest[1:])
	case "file":
		return runFile(ctx, cfg, rest[1:])
	default:
		return fmt.Errorf("unknown subcommand %q: expected kafka or file", rest[0])
	}
}

// services bundles the components common to both subcommands: the
// script runtime pool, the retrying database writer, the admin/metrics
// server, and the periodic status reporter. cleanup tears all of it
// down: status reporter, admin server, script pool, then database pool.
type services struct {
	orch    *pipeline.Orchestrator
	admin   *adminserver.Server
	report  *status.Reporter
	cleanup func()
}

func startServices(ctx context.Context, cfg config.Config, total func() int64) (*services, error) {
	scriptSource, err := os.ReadFile(cfg.ScriptPath)
	if err != nil {
		return nil, fmt.Errorf("reading plugin script: %w", err)
	}

	pool, err := script.NewPool(string(scriptSource), cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("starting script runtime pool: %w", err)
	}

	pgxCfg, err := pgxpool.ParseConfig(cfg.PostgresURL)
	if err != nil {
		pool.Shutdown()
		return nil, fmt.Errorf("parsing postgres-url: %w", err)
	}
	dbPool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		pool.Shutdown()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	m := metrics.New()
	writer := dbwriter.NewRetrying(dbwriter.New(dbwriter.NewPgxDB(dbPool)), rate.Limit(2), 3)
	orch := pipeline.New(writer, pool, m, cfg)

	admin := adminserver.New(cfg.AdminAddr)
	admin.Start()

	interval, err := time.ParseDuration(cfg.StatusInterval)
	if err != nil {
		interval = 10 * time.Second
	}
	reporter, err := status.Start(interval, func() status.Counts {
		return status.Counts{Processed: admin.Snapshot().Processed, Total: total()}
	})
	if err != nil {
		_ = admin.Shutdown()
		pool.Shutdown()
		dbPool.Close()
		return nil, err
	}

	return &services{
		orch:   orch,
		admin:  admin,
		report: reporter,
		cleanup: func() {
			_ = reporter.Stop()
			_ = admin.Shutdown()
			pool.Shutdown()
			dbPool.Close()
		},
	}, nil
}

func runFile(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("file", flag.ContinueOnError)
	input := fs.String("input", "", "path (or s3:// URI) to a frame-formatted input file")
	typeName := fs.String("type-name", "", "fully qualified protobuf message type name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" || *typeName == "" {
		return fmt.Errorf("file: --input and --type-name are required")
	}

	var body io.ReadCloser
	if objectstore.IsS3URL(*input) {
		rd, err := objectstore.Fetch(ctx, *input)
		if err != nil {
			return err
		}
		body = rd
	} else {
		f, err := os.Open(*input)
		if err != nil {
			return fmt.Errorf("file: opening %s: %w", *input, err)
		}
		body = f
	}
	defer body.Close()

	fr, err := frame.Open(body)
	if err != nil {
		return err
	}
	defer fr.Close()

	total := int64(fr.NumMessages())
	svc, err := startServices(ctx, cfg, func() int64 { return total })
	if err != nil {
		return err
	}
	defer svc.cleanup()

	result, runErr := svc.orch.RunFile(ctx, fr, *typeName)

	svc.admin.AddProcessed(result.Processed)
	svc.admin.AddFailed(result.Failed)
	svc.admin.AddInserted(result.Inserted)

	log.Infof("file ingestion stopped: processed=%d/%d failed=%d inserted=%d", result.Processed, total, result.Failed, result.Inserted)
	if runErr != nil {
		return fmt.Errorf("file ingestion terminated: %w", runErr)
	}
	if result.Failed > 0 {
		return fmt.Errorf("file ingestion completed with %d failed records", result.Failed)
	}
	return nil
}

func runKafka(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("kafka", flag.ContinueOnError)
	bootstrapServers := fs.String("bootstrap-servers", "", "broker bootstrap address(es)")
	topic := fs.String("topic", "", "subject/topic to consume")
	schemaRegistry := fs.String("schema-registry", "", "Confluent Schema Registry base URL")
	groupID := fs.String("group-id", "", "consumer group / queue name")
	typeName := fs.String("type-name", "", "fully qualified protobuf message type name")
	descriptorSetPath := fs.String("descriptor-set", "", "path to a serialized FileDescriptorSet matching --type-name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *bootstrapServers == "" || *topic == "" {
		return fmt.Errorf("kafka: --bootstrap-servers and --topic are required")
	}
	if *typeName == "" || *descriptorSetPath == "" {
		return fmt.Errorf("kafka: --type-name and --descriptor-set are required")
	}

	cfg.Nats.Address = *bootstrapServers
	if *schemaRegistry != "" {
		cfg.Kafka.SchemaRegistry = *schemaRegistry
	}
	if *groupID != "" {
		cfg.Kafka.GroupID = *groupID
	}

	descriptorSet, err := os.ReadFile(*descriptorSetPath)
	if err != nil {
		return fmt.Errorf("kafka: reading descriptor set: %w", err)
	}

	client, err := broker.Connect(cfg.Nats)
	if err != nil {
		return err
	}
	defer client.Close()

	// Message decoding runs off the locally supplied descriptor set
	// rather than a registry lookup per message; internal/registry is
	// available to callers that resolve schema IDs dynamically (see its
	// own tests) but this subcommand only logs that one is configured.
	if cfg.Kafka.SchemaRegistry != "" {
		log.Infof("schema registry configured at %s (diagnostic only; decoding uses --descriptor-set)", cfg.Kafka.SchemaRegistry)
	}

	svc, err := startServices(ctx, cfg, func() int64 { return 0 })
	if err != nil {
		return err
	}
	defer svc.cleanup()

	result, runErr := svc.orch.RunBroker(ctx, client, *topic, cfg.Kafka.GroupID, *typeName, descriptorSet)

	svc.admin.AddProcessed(result.Processed)
	svc.admin.AddFailed(result.Failed)
	svc.admin.AddInserted(result.Inserted)

	log.Infof("broker ingestion stopped: processed=%d failed=%d inserted=%d", result.Processed, result.Failed, result.Inserted)
	if runErr != nil {
		return fmt.Errorf("broker ingestion terminated: %w", runErr)
	}
	return nil
}
