package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-recorder/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-recorder/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-recorder/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-recorder/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-recorder/internal/recorder"
	"github.com/nerrad567/gray-logic-recorder/internal/statebus"
)

// Shutdown and health timings.
const (
	shutdownTimeout    = 30 * time.Second
	healthCheckTimeout = 5 * time.Second
	statsInterval      = 5 * time.Minute
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the recorder service",
		Long: `Connect to the state bus and record every entity state change.

Runs until interrupted (SIGINT/SIGTERM). On shutdown every accepted
event is committed before the process exits.

Examples:
  graylogic-recorder serve
  graylogic-recorder serve --config /etc/graylogic/recorder.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts)
		},
	}
}

// runServe wires the service together and blocks until ctx is cancelled.
//
// Startup order: store, InfluxDB, MQTT, recorder, subscription.
// Deferred shutdown runs in reverse, so the recorder drains before the
// broker and database connections close.
func runServe(ctx context.Context, opts *RootOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	log := logging.Default()
	log.Info("starting Gray Logic recorder", "version", opts.Version)

	cfg, err := loadConfig(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading config", err)
	}

	log = logging.New(cfg.Logging, opts.Version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	st, err := openStore(ctx, cfg.Database, false)
	if err != nil {
		return WrapExitError(ExitFailure, "opening store", err)
	}
	defer func() {
		log.Info("closing store")
		if closeErr := st.Close(); closeErr != nil {
			log.Error("error closing store", "error", closeErr)
		}
	}()
	log.Info("store ready", st.Describe(cfg.Database)...)

	influxClient, err := connectInflux(cfg.InfluxDB, log)
	if err != nil {
		return WrapExitError(ExitFailure, "connecting to InfluxDB", err)
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return WrapExitError(ExitFailure, "connecting to MQTT", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	rec := recorder.New(st.Store, recorder.Options{
		QueueSize:     cfg.Recorder.QueueSize,
		CommitTimeout: cfg.GetCommitTimeout(),
		SeedCache:     cfg.Recorder.SeedCache,
	})
	rec.SetLogger(log.Component("recorder"))
	if influxClient != nil {
		rec.AddObserver(influxMirror(influxClient))
	}

	if err := rec.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "starting recorder", err)
	}
	defer func() {
		// ctx is already cancelled here; shutdown gets its own deadline.
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if stopErr := rec.Stop(stopCtx); stopErr != nil {
			log.Error("error stopping recorder", "error", stopErr)
		}
	}()

	sub := statebus.NewSubscriber(mqttClient, cfg.MQTT.StateTopic, byte(cfg.MQTT.QoS))
	if err := rec.Attach(ctx, sub); err != nil {
		return WrapExitError(ExitFailure, "subscribing to state bus", err)
	}
	log.Info("recording state changes", "topic", sub.Topic(), "run_id", rec.RunID())

	healthCheck(ctx, log, st, mqttClient, influxClient)

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return nil
		case <-ticker.C:
			stats := rec.Stats()
			log.Info("recorder stats",
				"enqueued", stats.Enqueued,
				"committed", stats.Committed,
				"dropped", stats.Dropped,
			)
			if influxClient != nil {
				mirror := influxClient.Stats()
				log.Info("influxdb mirror stats",
					"written", mirror.Written,
					"failed", mirror.Failed,
				)
			}
		}
	}
}

// connectInflux connects the optional mirror. It returns nil, nil when
// disabled.
func connectInflux(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.Enabled {
		log.Info("InfluxDB mirror disabled")
		return nil, nil
	}

	client, err := influxdb.Connect(cfg)
	if err != nil {
		return nil, err
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
		"measurement", client.Measurement(),
	)
	return client, nil
}

// stateWriter is the part of the InfluxDB client the mirror uses.
type stateWriter interface {
	WriteEntityState(entityID, domain, state string, attributes map[string]any, ts time.Time)
}

// influxMirror forwards each committed record to InfluxDB.
func influxMirror(w stateWriter) recorder.CommitObserver {
	return recorder.CommitObserverFunc(func(s recorder.State) {
		w.WriteEntityState(s.EntityID, s.Domain, s.State, s.Attributes, s.LastUpdated)
	})
}

// healthCheck logs the state of every connection once at startup.
func healthCheck(ctx context.Context, log *logging.Logger, st *storeHandle, mqttClient *mqtt.Client, influxClient *influxdb.Client) {
	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := st.HealthCheck(checkCtx); err != nil {
		log.Warn("store health check failed", "error", err)
	}
	if err := mqttClient.HealthCheck(checkCtx); err != nil {
		log.Warn("MQTT health check failed", "error", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(checkCtx); err != nil {
			log.Warn("InfluxDB health check failed", "error", err)
		}
	}
}
