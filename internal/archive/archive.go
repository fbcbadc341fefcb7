// Package archive uploads retired grocery items to S3-compatible storage
// before retention cleanup deletes them.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/freshkeep/internal/model"
)

var ErrDisabled = errors.New("archive storage not configured")

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

func (c S3Config) complete() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Document is the archived JSON body.
type Document struct {
	ArchivedAt time.Time           `json:"archived_at"`
	Count      int                 `json:"count"`
	Items      []model.GroceryItem `json:"items"`
}

// Archiver writes retired items to a bucket. The zero-config archiver is
// disabled and every call returns ErrDisabled.
type Archiver struct {
	client     s3Client
	bucket     string
	passphrase string
	now        func() time.Time
	logger     *slog.Logger
}

// New returns an archiver. A passphrase enables encryption at rest.
func New(cfg S3Config, passphrase string, logger *slog.Logger) *Archiver {
	a := &Archiver{
		bucket:     cfg.Bucket,
		passphrase: passphrase,
		now:        time.Now,
		logger:     logger.With("component", "archive"),
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.complete() {
		a.client = newS3Client(cfg)
	}
	return a
}

func (a *Archiver) Enabled() bool {
	return a != nil && a.client != nil
}

// ArchiveItems uploads items as one document and returns its object key.
// An empty slice uploads nothing.
func (a *Archiver) ArchiveItems(ctx context.Context, items []model.GroceryItem) (string, error) {
	if !a.Enabled() {
		return "", ErrDisabled
	}
	if len(items) == 0 {
		return "", nil
	}

	now := a.now().UTC()
	data, err := json.Marshal(Document{ArchivedAt: now, Count: len(items), Items: items})
	if err != nil {
		return "", fmt.Errorf("marshal archive: %w", err)
	}

	key := objectKey(now, a.passphrase != "")
	contentType := "application/json"
	if a.passphrase != "" {
		data, err = Encrypt(data, a.passphrase)
		if err != nil {
			return "", fmt.Errorf("encrypt archive: %w", err)
		}
		contentType = "application/octet-stream"
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload archive: %w", err)
	}

	a.logger.Info("items archived", "key", key, "count", len(items), "bytes", len(data))
	return key, nil
}

// Fetch downloads and, when needed, decrypts an archived document.
func (a *Archiver) Fetch(ctx context.Context, key string) (*Document, error) {
	if !a.Enabled() {
		return nil, ErrDisabled
	}
	result, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download archive: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	if strings.HasSuffix(key, ".enc") {
		if a.passphrase == "" {
			return nil, fmt.Errorf("archive %s is encrypted and no passphrase is set", key)
		}
		data, err = Decrypt(data, a.passphrase)
		if err != nil {
			return nil, err
		}
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal archive: %w", err)
	}
	return &doc, nil
}

func objectKey(t time.Time, encrypted bool) string {
	key := fmt.Sprintf("items/%s/retired-%s.json", t.Format("2006/01/02"), t.Format("20060102T150405.000000000"))
	if encrypted {
		key += ".enc"
	}
	return key
}
