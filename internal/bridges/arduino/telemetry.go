package arduino

import (
	"bytes"
	"encoding/json"
)

// MetricWriter records time-series points. Satisfied by *influxdb.Client.
type MetricWriter interface {
	WriteDeviceMetric(deviceID string, measurement string, value float64)
	WriteFlashEvent(jobID, phase, selector string, exitCode int)
}

// Flash phases written to the time-series store.
const (
	FlashPhaseRequested = "requested"
	FlashPhaseStarted   = "started"
	FlashPhaseFinished  = "finished"
	FlashPhaseSkipped   = "skipped"
)

// TelemetrySink writes numeric and boolean device data and the flash
// lifecycle to a MetricWriter. Other payloads are ignored.
type TelemetrySink struct {
	NopSink
	w MetricWriter
}

// NewTelemetrySink returns a sink writing to w.
func NewTelemetrySink(w MetricWriter) *TelemetrySink {
	return &TelemetrySink{w: w}
}

func (s *TelemetrySink) DeviceData(h Handle, data json.RawMessage) {
	if v, ok := numericValue(data); ok {
		s.w.WriteDeviceMetric(h.GUID, "value", v)
	}
}

func (s *TelemetrySink) FlashChanged(ev FlashEvent) {
	switch {
	case ev.State == FlashRequested:
		s.w.WriteFlashEvent(ev.JobID, FlashPhaseRequested, ev.Selector, 0)
	case ev.State == FlashFlashing:
		s.w.WriteFlashEvent(ev.JobID, FlashPhaseStarted, ev.Selector, 0)
	case ev.ExitCode != nil:
		s.w.WriteFlashEvent(ev.JobID, FlashPhaseFinished, ev.Selector, *ev.ExitCode)
	default:
		s.w.WriteFlashEvent(ev.JobID, FlashPhaseSkipped, ev.Selector, 0)
	}
}

// numericValue decodes a JSON number or boolean. Strings are never
// converted: colour payloads such as "000000" would read as numbers.
func numericValue(data json.RawMessage) (float64, bool) {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("true")):
		return 1, true
	case bytes.Equal(data, []byte("false")):
		return 0, true
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, false
	}
	return v, true
}
