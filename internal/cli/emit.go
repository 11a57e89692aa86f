package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-recorder/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-recorder/internal/recorder"
	"github.com/nerrad567/gray-logic-recorder/internal/statebus"
)

// EmitOptions holds flags for the emit command.
type EmitOptions struct {
	*RootOptions
	Attrs     []string
	AttrsJSON string
	At        string
}

// NewEmitCommand creates the emit command.
func NewEmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "emit ENTITY_ID STATE",
		Short: "Publish one state-change event on the state bus",
		Long: `Publish one state-change event on the state bus, in the format core uses.

Attribute values are parsed as JSON when possible, otherwise kept as strings.

Examples:
  graylogic-recorder emit light.kitchen on --attr brightness=180
  graylogic-recorder emit climate.lounge heat --attrs '{"temperature":21.5}'`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := buildEmitEvent(args[0], args[1], opts, time.Now())
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid event", err)
			}
			return runEmit(cmd, opts, ev)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Attrs, "attr", nil, "attribute as name=value (repeatable)")
	cmd.Flags().StringVar(&opts.AttrsJSON, "attrs", "", "attributes as a JSON object")
	cmd.Flags().StringVar(&opts.At, "at", "now", "event timestamp")

	return cmd
}

func runEmit(cmd *cobra.Command, opts *EmitOptions, ev recorder.Event) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading config", err)
	}

	// A distinct client id keeps a running recorder connected.
	cfg.MQTT.Broker.ClientID = fmt.Sprintf("%s-emit-%s", cfg.MQTT.Broker.ClientID, uuid.NewString()[:8])

	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithoutStatus())
	if err != nil {
		return WrapExitError(ExitFailure, "connecting to MQTT", err)
	}
	defer client.Close() //nolint:errcheck // Short-lived client

	if err := statebus.NewEmitter(client).Emit(ev); err != nil {
		return WrapExitError(ExitFailure, "publishing event", err)
	}

	topic := mqtt.Topics{}.CoreState(ev.EntityID)
	return newFormatter(opts.RootOptions, cmd.OutOrStdout()).Success(
		map[string]any{"topic": topic, "event": statebus.MessageFromEvent(ev)},
		func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "published %s=%s to %s\n", ev.EntityID, ev.State, topic)
			return err
		},
	)
}

// buildEmitEvent assembles the event from arguments and flags.
func buildEmitEvent(entityID, state string, opts *EmitOptions, now time.Time) (recorder.Event, error) {
	domain, _, ok := recorder.SplitEntityID(entityID)
	if !ok {
		return recorder.Event{}, fmt.Errorf("entity_id %q is not domain.object_id", entityID)
	}

	at, err := parseTime(opts.At, now)
	if err != nil {
		return recorder.Event{}, err
	}

	attrs := recorder.Attributes{}
	if opts.AttrsJSON != "" {
		if err := json.Unmarshal([]byte(opts.AttrsJSON), &attrs); err != nil {
			return recorder.Event{}, fmt.Errorf("--attrs: %w", err)
		}
	}
	for _, kv := range opts.Attrs {
		name, raw, found := strings.Cut(kv, "=")
		if !found || name == "" {
			return recorder.Event{}, fmt.Errorf("--attr %q: want name=value", kv)
		}
		attrs[name] = parseAttrValue(raw)
	}

	return recorder.Event{
		EntityID:   entityID,
		Domain:     domain,
		State:      state,
		Attributes: attrs,
		Timestamp:  at,
	}, nil
}

// parseAttrValue decodes raw as JSON, falling back to the raw string.
func parseAttrValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
