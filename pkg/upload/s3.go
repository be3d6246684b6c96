package upload

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethpandaops/hwci/pkg/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultPrefix is used when no prefix is configured.
const DefaultPrefix = "hwci/runs"

const writeTestKey = ".hwci-write-test"

// objectAPI is the subset of the S3 client used here.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// s3Uploader implements Uploader for S3-compatible storage.
type s3Uploader struct {
	log    logrus.FieldLogger
	cfg    *config.S3UploadConfig
	client objectAPI
}

// Ensure interface compliance.
var _ Uploader = (*s3Uploader)(nil)

// NewS3Uploader creates a new S3 uploader from the given configuration.
func NewS3Uploader(log logrus.FieldLogger, cfg *config.S3UploadConfig) Uploader {
	return &s3Uploader{
		log:    log.WithField("component", "s3-uploader"),
		cfg:    cfg,
		client: newS3Client(cfg),
	}
}

func newS3Client(cfg *config.S3UploadConfig) *s3.Client {
	return s3.New(s3.Options{}, func(o *s3.Options) {
		if cfg.Region != "" {
			o.Region = cfg.Region
		} else {
			o.Region = "us-east-1"
		}

		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}

		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}

		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)
		}
	})
}

// Preflight verifies S3 connectivity by writing a small test object.
func (u *s3Uploader) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("hwci write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(u.key(writeTestKey)),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", u.cfg.Bucket, err)
	}

	return nil
}

// Upload walks localDir and uploads the accepted files with bounded
// concurrency.
func (u *s3Uploader) Upload(ctx context.Context, localDir, remoteName string, filter Filter) (int, error) {
	prefix := u.resolvePrefix(remoteName)

	var files []string

	err := filepath.WalkDir(localDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}

		rel = filepath.ToSlash(rel)
		if filter != nil && !filter(rel) {
			return nil
		}

		files = append(files, rel)

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walking directory %s: %w", localDir, err)
	}

	var count atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.parallelism())

	for _, rel := range files {
		g.Go(func() error {
			if err := u.uploadFile(gctx, filepath.Join(localDir, filepath.FromSlash(rel)), prefix+"/"+rel); err != nil {
				return fmt.Errorf("uploading %s: %w", rel, err)
			}

			count.Add(1)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(count.Load()), err
	}

	u.log.WithFields(logrus.Fields{
		"files":  count.Load(),
		"bucket": u.cfg.Bucket,
		"prefix": prefix,
	}).Info("Upload completed")

	return int(count.Load()), nil
}

// List returns the immediate sub-prefixes of the configured prefix.
func (u *s3Uploader) List(ctx context.Context) ([]string, error) {
	base := u.resolvePrefix("")

	paginator := s3.NewListObjectsV2Paginator(u.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(u.cfg.Bucket),
		Prefix:    aws.String(base),
		Delimiter: aws.String("/"),
	})

	var names []string

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing prefixes under %q: %w", base, err)
		}

		for _, cp := range page.CommonPrefixes {
			if cp.Prefix == nil {
				continue
			}

			name := strings.TrimSuffix(strings.TrimPrefix(*cp.Prefix, base), "/")
			if name != "" {
				names = append(names, name)
			}
		}
	}

	return names, nil
}

// uploadFile uploads a single file to S3.
func (u *s3Uploader) uploadFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer func() { _ = f.Close() }()

	u.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": u.cfg.Bucket,
	}).Debug("Uploading file")

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(detectContentType(localPath)),
	})
	if err != nil {
		return fmt.Errorf("PutObject: %w", err)
	}

	return nil
}

func (u *s3Uploader) parallelism() int {
	if u.cfg.Parallelism > 0 {
		return u.cfg.Parallelism
	}

	return config.DefaultUploadParallelism
}

// resolvePrefix builds the S3 key prefix for a run. An empty name yields the
// base prefix with a trailing slash.
func (u *s3Uploader) resolvePrefix(name string) string {
	prefix := u.cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	prefix = strings.Trim(prefix, "/")

	if name == "" {
		return prefix + "/"
	}

	return prefix + "/" + strings.Trim(name, "/")
}

func (u *s3Uploader) key(name string) string {
	return strings.TrimSuffix(u.resolvePrefix(""), "/") + "/" + name
}

// detectContentType returns a MIME type based on file extension. Step logs
// are plain text.
func detectContentType(path string) string {
	ext := filepath.Ext(path)

	switch ext {
	case "":
		return "application/octet-stream"
	case ".rpt":
		return "text/plain; charset=utf-8"
	}

	ct := mime.TypeByExtension(ext)
	if ct == "" {
		return "application/octet-stream"
	}

	return ct
}
