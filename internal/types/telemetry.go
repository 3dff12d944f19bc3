package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricJobRun            = "JobRun"
	MetricJobDuration       = "JobDuration"
	MetricJobItemsProcessed = "JobItemsProcessed"
	MetricJobItemErrors     = "JobItemErrors"

	// Dimension Keys
	DimJob    = "Job"
	DimResult = "Result"

	// Metric Namespace
	MetricNamespace = "Clubhouse"
)
