// Package metrics publishes job run telemetry to CloudWatch.
package metrics

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"clubhouse/internal/notifications"
	"clubhouse/internal/scheduler"
	"clubhouse/internal/types"
)

// Run outcomes used as the Result dimension.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertion that CloudWatchRecorder implements scheduler.RunRecorder.
var _ scheduler.RunRecorder = (*CloudWatchRecorder)(nil)

// CloudWatchRecorder emits one PutMetricData call per completed run:
//
//	JobRun             Dims {Job, Result}   Count
//	JobDuration        Dims {Job}           Milliseconds
//	JobItemsProcessed  Dims {Job}           Count
//	JobItemErrors      Dims {Job}           Count
//
// Skipped runs only emit JobRun. Writes go through the spawner so a slow
// CloudWatch endpoint never holds up the registry.
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	spawner   *notifications.Spawner
	logger    *slog.Logger
}

// NewCloudWatchRecorder creates a recorder. An empty namespace falls back to
// types.MetricNamespace.
func NewCloudWatchRecorder(client CloudWatchClient, namespace string, spawner *notifications.Spawner, logger *slog.Logger) *CloudWatchRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchRecorder{
		client:    client,
		namespace: namespace,
		spawner:   spawner,
		logger:    logger,
	}
}

// RecordRun implements scheduler.RunRecorder.
func (r *CloudWatchRecorder) RecordRun(ctx context.Context, res scheduler.Result, err error) {
	input := r.buildInput(res, err)
	r.spawner.Go(ctx, "metrics:"+string(res.Job), func(taskCtx context.Context) error {
		if _, putErr := r.client.PutMetricData(taskCtx, input); putErr != nil {
			r.logger.ErrorContext(taskCtx, "failed to record job metrics",
				"error", putErr.Error(),
				"job", string(res.Job),
				"run_id", res.RunID,
			)
			return putErr
		}
		return nil
	})
}

func (r *CloudWatchRecorder) buildInput(res scheduler.Result, err error) *cloudwatch.PutMetricDataInput {
	job := string(res.Job)
	jobDim := cwtypes.Dimension{Name: aws.String(types.DimJob), Value: aws.String(job)}

	data := []cwtypes.MetricDatum{
		{
			MetricName: aws.String(types.MetricJobRun),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				jobDim,
				{Name: aws.String(types.DimResult), Value: aws.String(outcome(res, err))},
			},
		},
	}
	if !res.Skipped {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String(types.MetricJobDuration),
				Value:      aws.Float64(float64(res.Duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{jobDim},
			},
			cwtypes.MetricDatum{
				MetricName: aws.String(types.MetricJobItemsProcessed),
				Value:      aws.Float64(float64(res.TotalProcessed)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{jobDim},
			},
			cwtypes.MetricDatum{
				MetricName: aws.String(types.MetricJobItemErrors),
				Value:      aws.Float64(float64(len(res.Errors))),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{jobDim},
			},
		)
	}

	return &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(r.namespace),
		MetricData: data,
	}
}

func outcome(res scheduler.Result, err error) string {
	switch {
	case res.Skipped:
		return ResultSkipped
	case err != nil:
		return ResultFailure
	default:
		return ResultSuccess
	}
}

// NopRecorder discards every run. Used when metrics are disabled.
type NopRecorder struct{}

// RecordRun implements scheduler.RunRecorder.
func (NopRecorder) RecordRun(context.Context, scheduler.Result, error) {}
