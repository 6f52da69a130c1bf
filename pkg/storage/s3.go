package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	// Packages
	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	config "github.com/aws/aws-sdk-go-v2/config"
	credentials "github.com/aws/aws-sdk-go-v2/credentials"
	s3 "github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"
	videoframe "github.com/michealrm/video-submission-frame"
	otelaws "go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

type s3adapter struct {
	*opt
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string // key prefix within the bucket, without trailing slash
}

var _ Adapter = (*s3adapter)(nil)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewS3Adapter creates an adapter over an S3 or S3-compatible bucket.
// Examples:
//   - "s3://my-bucket?region=us-east-1"
//   - "s3://my-bucket/videos" with WithEndpoint("http://localhost:9000")
//
// Credentials come from WithCredentials, WithAnonymous, WithAWSConfig or
// the SDK default chain, in that order of preference.
func NewS3Adapter(ctx context.Context, u string, opts ...Opt) (*s3adapter, error) {
	self := new(s3adapter)

	// Set the options
	if url, err := url.Parse(u); err != nil {
		return nil, err
	} else if url.Scheme != "s3" {
		return nil, fmt.Errorf("unsupported s3 scheme %q", url.Scheme)
	} else if url.Host == "" {
		return nil, fmt.Errorf("missing bucket name in %q", u)
	} else if opt, err := apply(url, opts...); err != nil {
		return nil, err
	} else {
		self.opt = opt
		self.bucket = url.Host
		self.prefix = strings.Trim(url.Path, "/")
	}

	// Load the configuration
	var cfg aws.Config
	if self.awsConfig != nil {
		cfg = self.awsConfig.Copy()
	} else if loaded, err := config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(self.attempts)); err != nil {
		return nil, err
	} else {
		cfg = loaded
	}
	if self.region != "" {
		cfg.Region = self.region
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	self.region = cfg.Region
	switch {
	case self.anonymous:
		cfg.Credentials = aws.AnonymousCredentials{}
	case self.accessKey != "":
		cfg.Credentials = aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(self.accessKey, self.secretKey, ""))
	}
	if self.tracer != nil {
		otelaws.AppendMiddlewares(&cfg.APIOptions)
	}

	// Create the S3 client
	self.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if self.endpoint != "" {
			o.BaseEndpoint = aws.String(self.endpoint)
			o.UsePathStyle = true
		}
	})
	self.presign = s3.NewPresignClient(self.client)

	// Return success
	return self, nil
}

// Close the adapter
func (s *s3adapter) Close() error {
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Name returns the bucket name
func (s *s3adapter) Name() string {
	return s.bucket
}

// CanPresign always returns true
func (s *s3adapter) CanPresign() bool {
	return true
}

// FileURL returns the unsigned URL of key: the public URL when configured,
// else endpoint/bucket/key, else the virtual-hosted AWS URL.
func (s *s3adapter) FileURL(key string) string {
	escaped := url.PathEscape(s.objectKey(key))
	escaped = strings.ReplaceAll(escaped, "%2F", "/")
	switch {
	case s.publicURL != "":
		return s.publicURL + "/" + url.PathEscape(key)
	case s.endpoint != "":
		return s.endpoint + "/" + s.bucket + "/" + escaped
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, escaped)
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// objectKey returns the bucket key for a storage key
func (s *s3adapter) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// optString returns nil for an empty string
func optString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// s3Err maps an SDK error onto the upload error kinds
func s3Err(err error, key string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return videoframe.ErrTransfer.Withf("%q: %v", key, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchUpload":
			return videoframe.ErrNotFound.Withf("File not found: %q", key)
		case "NotImplemented":
			return videoframe.ErrCapabilityUnsupported.Withf("%q: %s", key, apiErr.ErrorMessage())
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return videoframe.ErrNotFound.Withf("File not found: %q", key)
		case http.StatusNotImplemented:
			return videoframe.ErrCapabilityUnsupported.Withf("%q: %v", key, respErr.Err)
		}
	}
	return videoframe.ErrTransfer.Withf("s3 operation failed for %q: %v", key, err)
}
