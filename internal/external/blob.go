// Package external provides the anti-corruption layer between the job engine
// and third-party services. Outbound calls are wrapped in a circuit breaker so
// a failing dependency degrades a run instead of stalling it.
package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sony/gobreaker/v2"

	"clubhouse/internal/types"
)

// S3API defines the subset of the S3 client used by S3BlobDeleter.
type S3API interface {
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// BlobDeleterConfig configures an S3BlobDeleter.
type BlobDeleterConfig struct {
	// Bucket restricts deletions to one bucket. URLs naming another bucket
	// are rejected. Empty allows any bucket.
	Bucket string
	// PublicBaseURL is an optional CDN or custom-domain prefix that maps
	// directly onto keys in Bucket (e.g. https://media.example.com/).
	PublicBaseURL string
	Logger        *slog.Logger
}

// S3BlobDeleter implements scheduler.BlobDeleter on S3.
type S3BlobDeleter struct {
	api     S3API
	cfg     BlobDeleterConfig
	breaker *gobreaker.CircuitBreaker[*s3.DeleteObjectOutput]
	logger  *slog.Logger
}

// NewS3BlobDeleter creates an S3BlobDeleter from an AWS config.
func NewS3BlobDeleter(awsCfg aws.Config, cfg BlobDeleterConfig, optFns ...func(*s3.Options)) *S3BlobDeleter {
	return NewS3BlobDeleterWithAPI(s3.NewFromConfig(awsCfg, optFns...), cfg)
}

// NewS3BlobDeleterWithAPI creates an S3BlobDeleter with a pre-configured
// S3API. Useful for testing.
func NewS3BlobDeleterWithAPI(api S3API, cfg BlobDeleterConfig) *S3BlobDeleter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker[*s3.DeleteObjectOutput](gobreaker.Settings{
		Name:        "s3-blob-delete",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &S3BlobDeleter{
		api:     api,
		cfg:     cfg,
		breaker: cb,
		logger:  logger,
	}
}

// DeleteBlob removes the object addressed by rawURL. Deleting an object that
// does not exist succeeds.
func (d *S3BlobDeleter) DeleteBlob(ctx context.Context, rawURL string) error {
	bucket, key, err := d.locate(rawURL)
	if err != nil {
		return err
	}

	_, err = d.breaker.Execute(func() (*s3.DeleteObjectOutput, error) {
		out, delErr := d.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		var noKey *s3types.NoSuchKey
		if errors.As(delErr, &noKey) {
			return out, nil
		}
		return out, delErr
	})
	if err != nil {
		return mapS3Error(err)
	}

	d.logger.DebugContext(ctx, "blob deleted", "bucket", bucket, "key", key)
	return nil
}

func (d *S3BlobDeleter) locate(rawURL string) (string, string, error) {
	if d.cfg.PublicBaseURL != "" && strings.HasPrefix(rawURL, d.cfg.PublicBaseURL) {
		key := strings.TrimPrefix(strings.TrimPrefix(rawURL, d.cfg.PublicBaseURL), "/")
		if key == "" || d.cfg.Bucket == "" {
			return "", "", invalidBlobURL(rawURL, nil)
		}
		return d.cfg.Bucket, key, nil
	}

	bucket, key, err := ParseBlobURL(rawURL)
	if err != nil {
		return "", "", err
	}
	if d.cfg.Bucket != "" && bucket != d.cfg.Bucket {
		return "", "", types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidURL,
			"blob URL points outside the media bucket",
			nil,
			map[string]any{"bucket": bucket},
		)
	}
	return bucket, key, nil
}

// ParseBlobURL extracts bucket and key from s3://bucket/key,
// virtual-hosted https://bucket.s3[.region].amazonaws.com/key, or path-style
// https://s3[.region].amazonaws.com/bucket/key URLs.
func ParseBlobURL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", invalidBlobURL(rawURL, err)
	}

	path := strings.TrimPrefix(u.Path, "/")
	switch u.Scheme {
	case "s3":
		bucket, key = u.Host, path
	case "https", "http":
		host := u.Hostname()
		if !strings.HasSuffix(host, ".amazonaws.com") {
			return "", "", invalidBlobURL(rawURL, nil)
		}
		if strings.HasPrefix(host, "s3.") || strings.HasPrefix(host, "s3-") {
			bucket, key, _ = strings.Cut(path, "/")
		} else if i := strings.Index(host, ".s3"); i > 0 {
			bucket, key = host[:i], path
		}
	default:
		return "", "", invalidBlobURL(rawURL, nil)
	}

	if bucket == "" || key == "" {
		return "", "", invalidBlobURL(rawURL, nil)
	}
	return bucket, key, nil
}

func invalidBlobURL(rawURL string, err error) *types.AppError {
	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationInvalidURL,
		"unrecognised blob URL",
		err,
		map[string]any{"url": rawURL},
	)
}

func mapS3Error(err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(
			types.ErrCodeUpstreamCircuitOpen,
			"circuit breaker is open; blob storage unavailable",
			err,
		)
	}
	return types.NewAppError(
		types.ErrCodeUpstreamBlobStorage,
		fmt.Sprintf("blob delete failed: %v", err),
		err,
	)
}
