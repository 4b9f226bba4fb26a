package observability

import "time"

// NoopLogger is a logger that does nothing
type NoopLogger struct{}

// NewNoopLogger creates a new NoopLogger
func NewNoopLogger() Logger {
	return &NoopLogger{}
}

// Debug implements Logger.Debug
func (l *NoopLogger) Debug(msg string, fields map[string]interface{}) {}

// Info implements Logger.Info
func (l *NoopLogger) Info(msg string, fields map[string]interface{}) {}

// Warn implements Logger.Warn
func (l *NoopLogger) Warn(msg string, fields map[string]interface{}) {}

// Error implements Logger.Error
func (l *NoopLogger) Error(msg string, fields map[string]interface{}) {}

// Fatal implements Logger.Fatal
func (l *NoopLogger) Fatal(msg string, fields map[string]interface{}) {}

// Debugf implements Logger.Debugf
func (l *NoopLogger) Debugf(format string, args ...interface{}) {}

// Infof implements Logger.Infof
func (l *NoopLogger) Infof(format string, args ...interface{}) {}

// Warnf implements Logger.Warnf
func (l *NoopLogger) Warnf(format string, args ...interface{}) {}

// Errorf implements Logger.Errorf
func (l *NoopLogger) Errorf(format string, args ...interface{}) {}

// Fatalf implements Logger.Fatalf
func (l *NoopLogger) Fatalf(format string, args ...interface{}) {}

// WithPrefix implements Logger.WithPrefix
func (l *NoopLogger) WithPrefix(prefix string) Logger {
	return l
}

// NoopMetricsClient is a metrics client that discards everything
type NoopMetricsClient struct{}

// NewNoopMetricsClient creates a new NoopMetricsClient
func NewNoopMetricsClient() MetricsClient {
	return &NoopMetricsClient{}
}

// IncrementCounter implements MetricsClient.IncrementCounter
func (m *NoopMetricsClient) IncrementCounter(name string, value float64) {}

// IncrementCounterWithLabels implements MetricsClient.IncrementCounterWithLabels
func (m *NoopMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
}

// RecordGauge implements MetricsClient.RecordGauge
func (m *NoopMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {}

// RecordHistogram implements MetricsClient.RecordHistogram
func (m *NoopMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {}

// RecordTimer implements MetricsClient.RecordTimer
func (m *NoopMetricsClient) RecordTimer(name string, duration time.Duration, labels map[string]string) {
}

// Close implements MetricsClient.Close
func (m *NoopMetricsClient) Close() error { return nil }
