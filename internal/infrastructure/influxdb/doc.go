// Package influxdb provides optional InfluxDB telemetry for the Arduino bridge.
//
// Numeric device payloads are recorded as device_metrics points tagged with
// the device GUID, and each firmware update phase as an arduino_flash point.
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry switched off
//	}
//	defer client.Close()
//
//	client.WriteDeviceMetric("0_0_31", "value", 21.5)
//
// Writes are non-blocking and batched; asynchronous failures are delivered
// to the SetOnError callback. All methods are safe for concurrent use.
package influxdb
