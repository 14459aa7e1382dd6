package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementDeviceMetrics = "device_metrics"
	MeasurementFlash         = "arduino_flash"
)

// WriteDeviceMetric records one numeric reading from a device.
// The write is non-blocking; points are batched and sent asynchronously.
//
//	client.WriteDeviceMetric("0_0_31", "value", 21.5)
func (c *Client) WriteDeviceMetric(deviceID string, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(newDeviceMetricPoint(deviceID, measurement, value, time.Now()))
}

// WriteFlashEvent records a firmware update phase (requested, started,
// finished). exitCode is only meaningful for the finished phase.
func (c *Client) WriteFlashEvent(jobID, phase, selector string, exitCode int) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(newFlashPoint(jobID, phase, selector, exitCode, time.Now()))
}

func newDeviceMetricPoint(deviceID, measurement string, value float64, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementDeviceMetrics,
		map[string]string{
			"device_id":   deviceID,
			"measurement": measurement,
		},
		map[string]interface{}{
			"value": value,
		},
		at,
	)
}

func newFlashPoint(jobID, phase, selector string, exitCode int, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementFlash,
		map[string]string{
			"phase": phase,
		},
		map[string]interface{}{
			"job_id":    jobID,
			"selector":  selector,
			"exit_code": exitCode,
		},
		at,
	)
}
