package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-recorder/internal/infrastructure/config"
)

const testBrokerAddr = "127.0.0.1:1883"

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "graylogic-recorder-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		StateTopic: Topics{}.AllCoreStates(),
	}
}

// connectTestClient connects with clientID, skipping when no broker is listening.
func connectTestClient(t *testing.T, clientID string) *Client {
	t.Helper()

	conn, err := net.DialTimeout("tcp", testBrokerAddr, 500*time.Millisecond)
	if err != nil {
		t.Skipf("MQTT broker not available at %s: %v", testBrokerAddr, err)
	}
	conn.Close()

	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() {
		client.Close() //nolint:errcheck // Test cleanup
	})
	return client
}

// recordingLogger captures warn and error messages.
type recordingLogger struct {
	mu    sync.Mutex
	warns []string
	errs  []string
}

func (l *recordingLogger) Info(string, ...any) {}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, msg)
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	client := connectTestClient(t, "graylogic-recorder-test-connect")

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_BrokerRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	_, err := Connect(cfg)
	if err == nil {
		t.Fatal("Connect() expected error for unreachable broker")
	}
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose(t *testing.T) {
	client := connectTestClient(t, "graylogic-recorder-test-close")

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestCloseNil(t *testing.T) {
	var client *Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := (&Client{}).HealthCheck(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	if (&Client{}).IsConnected() {
		t.Error("IsConnected() = true for zero client")
	}
}

// =============================================================================
// Validation Tests (no broker needed)
// =============================================================================

func TestPublishValidation(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "graylogic/test", []byte("x"), 3, ErrInvalidQoS},
		{"payload too large", "graylogic/test", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"disconnected", "graylogic/test", []byte("x"), 1, ErrNotConnected},
		{"nil payload disconnected", "graylogic/test", nil, 0, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishJSON_EncodeError(t *testing.T) {
	client := &Client{}

	err := client.PublishJSON("graylogic/test", map[string]any{"bad": make(chan int)}, false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON() error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		wantErr error
	}{
		{"empty topic", "", 1, noop, ErrInvalidTopic},
		{"invalid qos", "graylogic/test", 3, noop, ErrInvalidQoS},
		{"nil handler", "graylogic/test", 1, nil, ErrSubscribeFailed},
		{"disconnected", "graylogic/test", 1, noop, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after failed subscribes, want 0", client.SubscriptionCount())
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	client := &Client{subscriptions: map[string]subscription{
		"graylogic/test": {topic: "graylogic/test"},
	}}

	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Unsubscribe("graylogic/test"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() disconnected error = %v, want ErrNotConnected", err)
	}
	if client.HasSubscription("graylogic/test") {
		t.Error("subscription still tracked after Unsubscribe while disconnected")
	}
}

func TestDispatch(t *testing.T) {
	log := &recordingLogger{}
	client := &Client{}
	client.SetLogger(log)

	client.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "graylogic/test", nil)
	client.dispatch(func(string, []byte) error { panic("handler bug") }, "graylogic/test", nil)
	client.dispatch(func(string, []byte) error { return nil }, "graylogic/test", nil)

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.warns) != 1 {
		t.Errorf("warns = %v, want 1 handler error", log.warns)
	}
	if len(log.errs) != 1 {
		t.Errorf("errors = %v, want 1 recovered panic", log.errs)
	}
}

func TestDispatch_NoLogger(t *testing.T) {
	client := &Client{}
	client.dispatch(func(string, []byte) error { panic("no logger") }, "graylogic/test", nil)
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "recorder"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != cfg.Broker.ClientID {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, cfg.Broker.ClientID)
	}
	if opts.Username != "recorder" || opts.Password != "secret" {
		t.Errorf("credentials = (%q, %q), want configured", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || !opts.CleanSession || !opts.Order {
		t.Errorf("AutoReconnect=%v CleanSession=%v Order=%v, want all true", opts.AutoReconnect, opts.CleanSession, opts.Order)
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
}

func TestBrokerURL_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	if got := brokerURL(cfg); got != "ssl://127.0.0.1:8883" {
		t.Errorf("brokerURL() = %q, want ssl://127.0.0.1:8883", got)
	}
	opts := buildClientOptions(cfg)
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Errorf("TLSConfig = %+v, want MinVersion TLS1.2", opts.TLSConfig)
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "graylogic-recorder")

	if !opts.WillEnabled || !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will enabled=%v retained=%v qos=%d", opts.WillEnabled, opts.WillRetained, opts.WillQos)
	}
	if opts.WillTopic != "graylogic/system/recorder/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}

	var status StatusPayload
	if err := json.Unmarshal(opts.WillPayload, &status); err != nil {
		t.Fatalf("will payload not JSON: %v", err)
	}
	if status.Status != statusOffline || status.Reason != reasonUnexpected || status.ClientID != "graylogic-recorder" {
		t.Errorf("will payload = %+v", status)
	}
}

func TestBuildStatusPayload(t *testing.T) {
	var status StatusPayload
	if err := json.Unmarshal(buildStatusPayload("rec", statusOnline, ""), &status); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if status.Status != "online" || status.ClientID != "rec" || status.Reason != "" {
		t.Errorf("payload = %+v, want online for rec", status)
	}
	if _, err := time.Parse(time.RFC3339, status.Timestamp); err != nil {
		t.Errorf("Timestamp %q not RFC3339: %v", status.Timestamp, err)
	}
}

// =============================================================================
// Topics Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"CoreState", Topics{}.CoreState("light.kitchen"), "graylogic/core/state/light.kitchen"},
		{"AllCoreStates", Topics{}.AllCoreStates(), "graylogic/core/state/+"},
		{"RecorderStatus", Topics{}.RecorderStatus(), "graylogic/system/recorder/status"},
		{"SystemStatus", Topics{}.SystemStatus(), "graylogic/system/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestEntityFromStateTopic(t *testing.T) {
	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"graylogic/core/state/light.kitchen", "light.kitchen", true},
		{"graylogic/core/state/", "", false},
		{"graylogic/core/state/light.kitchen/extra", "", false},
		{"graylogic/core/device/light/state", "", false},
		{"other/topic", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := EntityFromStateTopic(tt.topic)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("EntityFromStateTopic(%q) = (%q, %v), want (%q, %v)", tt.topic, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

// =============================================================================
// Broker Round-trip Tests
// =============================================================================

func TestPublishSubscribeRoundtrip(t *testing.T) {
	sub := connectTestClient(t, "graylogic-recorder-test-sub")
	pub := connectTestClient(t, "graylogic-recorder-test-pub")

	received := make(chan string, 1)
	err := sub.Subscribe(Topics{}.AllCoreStates(), 1, func(topic string, payload []byte) error {
		entityID, _ := EntityFromStateTopic(topic)
		received <- entityID + "=" + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !sub.HasSubscription(Topics{}.AllCoreStates()) || sub.SubscriptionCount() != 1 {
		t.Error("subscription not tracked")
	}

	time.Sleep(100 * time.Millisecond)

	if err := pub.PublishJSON(Topics{}.CoreState("light.roundtrip"), map[string]string{"state": "on"}, false); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case got := <-received:
		if !strings.HasPrefix(got, "light.roundtrip=") || !strings.Contains(got, `"state":"on"`) {
			t.Errorf("received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	if err := sub.Unsubscribe(Topics{}.AllCoreStates()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if sub.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after Unsubscribe, want 0", sub.SubscriptionCount())
	}
}

func TestWithoutStatus(t *testing.T) {
	c := &Client{announce: true}
	WithoutStatus()(c)
	if c.announce {
		t.Error("announce = true after WithoutStatus()")
	}
}

func TestConnect_WithoutStatus(t *testing.T) {
	conn, err := net.DialTimeout("tcp", testBrokerAddr, 500*time.Millisecond)
	if err != nil {
		t.Skipf("MQTT broker not available at %s: %v", testBrokerAddr, err)
	}
	conn.Close()

	cfg := testConfig()
	cfg.Broker.ClientID = "graylogic-recorder-test-quiet"
	client, err := Connect(cfg, WithoutStatus())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if client.announce {
		t.Error("announce = true for WithoutStatus client")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
