// Package influxdb provides an optional InfluxDB mirror for the Gray Logic
// recorder.
//
// It wraps the official influxdb-client-go v2 library. The recorder's SQL
// store stays the source of truth; the mirror exists so dashboards can graph
// entity states without querying the recorder.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   "your-token",
//	    Org:     "graylogic",
//	    Bucket:  "states",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteEntityState("sensor.hall", "sensor", "21.5", nil, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Writes are non-blocking and batch errors are reported via a callback.
// Connection and health check errors are returned directly.
package influxdb
