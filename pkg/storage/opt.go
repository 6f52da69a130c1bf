package storage

import (
	"fmt"
	"net/url"
	"strings"

	// Packages
	aws "github.com/aws/aws-sdk-go-v2/aws"
	trace "go.opentelemetry.io/otel/trace"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

type opt struct {
	url       *url.URL
	awsConfig *aws.Config
	endpoint  string // S3-compatible endpoint, forces path-style addressing
	region    string
	accessKey string
	secretKey string
	anonymous bool
	publicURL string // base for FileURL, overrides the backend default
	partSize  int64
	attempts  int
	tracer    trace.Tracer // when set, AWS SDK middleware is injected
}

type Opt func(*opt) error

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// DefaultPartSize is the size of each part of a proxied multipart transfer.
	DefaultPartSize int64 = 5 * 1024 * 1024

	// defaultAttempts is the SDK retry budget for a single S3 call.
	defaultAttempts = 3
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func apply(url *url.URL, opts ...Opt) (*opt, error) {
	o := opt{url: url, partSize: DefaultPartSize, attempts: defaultAttempts}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	// Region may also be carried on the URL
	if o.region == "" && url != nil {
		o.region = url.Query().Get("region")
	}

	// Return success
	return &o, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// WithEndpoint sets the endpoint for S3-compatible services such as MinIO.
func WithEndpoint(endpoint string) Opt {
	return func(o *opt) error {
		if endpoint == "" {
			return nil
		}
		if u, err := url.Parse(endpoint); err != nil {
			return err
		} else if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("endpoint must be http:// or https://, got %s://", u.Scheme)
		} else {
			o.endpoint = strings.TrimSuffix(u.String(), "/")
		}
		return nil
	}
}

// WithRegion sets the S3 region.
func WithRegion(region string) Opt {
	return func(o *opt) error {
		o.region = region
		return nil
	}
}

// WithCredentials sets static S3 credentials. Empty values leave the SDK
// default credential chain in place.
func WithCredentials(accessKey, secretKey string) Opt {
	return func(o *opt) error {
		if (accessKey == "") != (secretKey == "") {
			return fmt.Errorf("access key and secret key must be set together")
		}
		o.accessKey, o.secretKey = accessKey, secretKey
		return nil
	}
}

// WithAnonymous forces anonymous credentials.
func WithAnonymous() Opt {
	return func(o *opt) error {
		o.anonymous = true
		return nil
	}
}

// WithPublicURL sets the base URL returned by FileURL.
func WithPublicURL(base string) Opt {
	return func(o *opt) error {
		o.publicURL = strings.TrimSuffix(base, "/")
		return nil
	}
}

// WithPartSize sets the multipart part size for S3 transfers.
func WithPartSize(size int64) Opt {
	return func(o *opt) error {
		if size <= 0 {
			return fmt.Errorf("part size must be positive, got %d", size)
		}
		o.partSize = size
		return nil
	}
}

// WithMaxAttempts sets the number of attempts the SDK makes per S3 call.
func WithMaxAttempts(n int) Opt {
	return func(o *opt) error {
		if n < 1 {
			return fmt.Errorf("max attempts must be at least 1, got %d", n)
		}
		o.attempts = n
		return nil
	}
}

// WithTracer sets the OpenTelemetry tracer. On s3:// adapters each SDK call
// then produces a child span.
func WithTracer(tracer trace.Tracer) Opt {
	return func(o *opt) error {
		o.tracer = tracer
		return nil
	}
}

// WithAWSConfig provides an AWS SDK configuration directly, in place of the
// one assembled from region, credentials and the default chain.
func WithAWSConfig(cfg aws.Config) Opt {
	return func(o *opt) error {
		o.awsConfig = &cfg
		return nil
	}
}
