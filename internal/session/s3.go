package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/merchant-ops/portalsync/internal/config"
)

// S3Store persists session material in an S3-compatible bucket. It works
// against AWS S3, MinIO, or any other S3-compatible backend.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewStore builds the session store from configuration. An empty bucket
// means the backend is unconfigured and a NopStore is returned so callers
// see silent-absent fetches.
func NewStore(ctx context.Context, cfg config.SessionConfig) (Store, error) {
	if cfg.Bucket == "" {
		zap.L().Info("session store unconfigured, session reuse disabled")
		return NopStore{}, nil
	}
	return NewS3Store(ctx, cfg)
}

// NewS3Store creates an S3Store from configuration.
func NewS3Store(ctx context.Context, cfg config.SessionConfig) (*S3Store, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, eris.New("session: s3 access key and secret key are required")
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if cfg.UseSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, eris.Wrap(err, "session: create aws config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3Store) key(portal string) string {
	return path.Join(s.prefix, portal+".session")
}

// Fetch downloads the persisted material for a portal. A missing object is
// not an error: it returns (nil, nil).
func (s *S3Store) Fetch(ctx context.Context, portal string) (*Material, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(portal)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) || strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound") {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "session: fetch material for %s", portal)
	}
	defer out.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "session: read material for %s", portal)
	}

	updated := time.Now().UTC()
	if out.LastModified != nil {
		updated = *out.LastModified
	}

	return &Material{Portal: portal, Data: data, UpdatedAt: updated}, nil
}

// Put uploads material for a portal, overwriting any previous snapshot.
func (s *S3Store) Put(ctx context.Context, portal string, m *Material) error {
	if m == nil || len(m.Data) == 0 {
		return eris.Errorf("session: refusing to store empty material for %s", portal)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(portal)),
		Body:        bytes.NewReader(m.Data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return eris.Wrapf(err, "session: store material for %s", portal)
	}

	zap.L().Debug("session material persisted",
		zap.String("portal", portal),
		zap.Int("bytes", len(m.Data)),
	)
	return nil
}

// Delete removes persisted material for a portal. Used by the manual
// remediation path when a session is known to be corrupt or expired.
func (s *S3Store) Delete(ctx context.Context, portal string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(portal)),
	})
	if err != nil {
		return eris.Wrapf(err, "session: delete material for %s", portal)
	}
	return nil
}
