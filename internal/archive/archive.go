// Package archive persists validated page snapshots in S3-compatible
// object storage. Each admitted record's fetched HTML is kept under a
// deterministic key so a scheme can be re-inspected later without another
// fetch against the upstream site. The archive is optional; the pipeline
// runs without it and jobs never fail on archive errors.
package archive

import (
	"bytes"
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Default timeouts for object storage operations.
const (
	DefaultMetadataTimeout = 10 * time.Second // bucket checks, stat
	DefaultDataTimeout     = 60 * time.Second // snapshot put and get
)

// Config holds connection and timeout settings for the snapshot archive.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool

	// MetadataTimeout is the context timeout for metadata operations.
	// Defaults to 10s if zero.
	MetadataTimeout time.Duration

	// DataTimeout is the context timeout for snapshot transfers.
	// Defaults to 60s if zero.
	DataTimeout time.Duration
}

// Store writes page snapshots to a MinIO / S3-compatible bucket.
type Store struct {
	client          *minio.Client
	bucket          string
	metadataTimeout time.Duration
	dataTimeout     time.Duration
}

// Snapshot is one stored page.
type Snapshot struct {
	Key      string
	Body     []byte
	Modified time.Time
}

// New creates a Store connected to the configured endpoint. It auto-creates
// the bucket if it doesn't exist, so first deploys need no manual setup.
func New(ctx context.Context, cfg Config) (*Store, error) {
	metadataTimeout := cfg.MetadataTimeout
	if metadataTimeout == 0 {
		metadataTimeout = DefaultMetadataTimeout
	}
	dataTimeout := cfg.DataTimeout
	if dataTimeout == 0 {
		dataTimeout = DefaultDataTimeout
	}

	// Custom transport with explicit dial and TLS timeouts.
	// ResponseHeaderTimeout is set to the metadata timeout; it bounds the
	// time waiting for the server to start replying, not the full download.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: metadataTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	s := &Store{
		client:          client,
		bucket:          cfg.Bucket,
		metadataTimeout: metadataTimeout,
		dataTimeout:     dataTimeout,
	}

	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// Key returns the object key for one page snapshot:
// source/<sourceID>/<sha1 of the URL>.html. Hashing the URL keeps keys
// flat and filesystem-safe no matter what the URL carries, and makes the
// write idempotent: re-validating a page overwrites its old snapshot.
func Key(sourceID, pageURL string) string {
	return fmt.Sprintf("source/%s/%x.html", sourceID, sha1.Sum([]byte(pageURL)))
}

// ArchivePage stores the fetched HTML for one admitted record.
func (s *Store) ArchivePage(ctx context.Context, sourceID, pageURL string, body []byte) error {
	ctx, cancel := s.withDataTimeout(ctx)
	defer cancel()

	key := Key(sourceID, pageURL)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "text/html; charset=utf-8"})
	if err != nil {
		return fmt.Errorf("put snapshot %s: %w", key, err)
	}
	return nil
}

// ReadPage retrieves the stored snapshot for a URL.
// Returns nil, nil if no snapshot exists (not an error).
func (s *Store) ReadPage(ctx context.Context, sourceID, pageURL string) (*Snapshot, error) {
	ctx, cancel := s.withDataTimeout(ctx)
	defer cancel()

	key := Key(sourceID, pageURL)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", key, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, fmt.Errorf("stat snapshot %s: %w", key, err)
	}

	body, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", key, err)
	}

	return &Snapshot{
		Key:      key,
		Body:     body,
		Modified: info.LastModified,
	}, nil
}

// withMetadataTimeout returns a child context with the metadata operation
// timeout. If the parent already has an earlier deadline, that deadline is
// preserved.
func (s *Store) withMetadataTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.metadataTimeout)
}

// withDataTimeout returns a child context with the data operation timeout.
func (s *Store) withDataTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.dataTimeout)
}

// HealthCheck reports whether the archive is usable, for the readiness
// endpoint. Probing the bucket is the cheapest call that proves both
// connectivity and that the bucket survived since startup.
func (s *Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := s.withMetadataTimeout(ctx)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("archive bucket check: %w", err)
	}
	if !exists {
		return fmt.Errorf("archive bucket %q does not exist", s.bucket)
	}
	return nil
}

// ensureBucket creates the bucket if it doesn't already exist.
func (s *Store) ensureBucket(ctx context.Context) error {
	ctx, cancel := s.withMetadataTimeout(ctx)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}
