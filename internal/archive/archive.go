// Package archive uploads synthesis console transcripts and the event log to
// S3-compatible storage.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/contactlaplanque/akm-control/internal/util"
)

// uploadTimeout bounds a single upload.
const uploadTimeout = 30 * time.Second

// ErrNotConfigured is returned when no bucket or credentials are set.
var ErrNotConfigured = errors.New("archive is not configured")

// Config holds the S3 target.
type Config struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// IsConfigured reports whether uploads can be attempted.
func (c *Config) IsConfigured() bool {
	return util.IsConfigured(c.Bucket, c.AccessKeyID, c.SecretAccessKey)
}

// objectStore is the subset of the S3 client used here.
type objectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Archiver uploads text artifacts under a key prefix.
type Archiver struct {
	cfg    Config
	client objectStore
	logger *slog.Logger
}

// New returns an Archiver for cfg.
func New(cfg Config) (*Archiver, error) {
	if !cfg.IsConfigured() {
		return nil, ErrNotConfigured
	}
	return &Archiver{
		cfg:    cfg,
		client: newS3Client(&cfg),
		logger: slog.Default().With("component", "archive"),
	}, nil
}

func newS3Client(cfg *Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = "auto"
		},
	}
	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.New(s3.Options{}, options...)
}

// TranscriptKey returns the object key for a console transcript taken at t.
func (a *Archiver) TranscriptKey(t time.Time) string {
	t = t.UTC()
	return a.key("transcripts", t.Format("2006/01/02"), "sclang-"+t.Format("150405")+".log")
}

// EventLogKey returns the object key for an event log snapshot taken at t.
func (a *Archiver) EventLogKey(t time.Time) string {
	t = t.UTC()
	return a.key("events", t.Format("2006/01/02"), "events-"+t.Format("150405")+".jsonl")
}

func (a *Archiver) key(parts ...string) string {
	prefix := strings.Trim(a.cfg.Prefix, "/")
	if prefix == "" {
		return path.Join(parts...)
	}
	return path.Join(append([]string{prefix}, parts...)...)
}

// UploadTranscript uploads console lines as a text object and returns its key.
func (a *Archiver) UploadTranscript(ctx context.Context, lines []string, at time.Time) (string, error) {
	if len(lines) == 0 {
		return "", fmt.Errorf("transcript is empty")
	}
	body := []byte(strings.Join(lines, "\n") + "\n")
	key := a.TranscriptKey(at)
	if err := a.put(ctx, key, "text/plain; charset=utf-8", body); err != nil {
		return "", err
	}
	a.logger.Info("uploaded console transcript", "key", key, "lines", len(lines))
	return key, nil
}

// UploadEventLog uploads the event log file at logPath and returns its key.
func (a *Archiver) UploadEventLog(ctx context.Context, logPath string, at time.Time) (string, error) {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return "", util.WrapError("read event log", err)
	}
	key := a.EventLogKey(at)
	if err := a.put(ctx, key, "application/x-ndjson", data); err != nil {
		return "", err
	}
	a.logger.Info("uploaded event log", "key", key, "file", filepath.Base(logPath), "bytes", len(data))
	return key, nil
}

func (a *Archiver) put(ctx context.Context, key, contentType string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return util.WrapError("upload "+key, err)
	}
	return nil
}

// TestConnection uploads and deletes a small object.
func (a *Archiver) TestConnection(ctx context.Context) error {
	key := a.key(fmt.Sprintf("test-connection-%d.txt", time.Now().UnixNano()))
	if err := a.put(ctx, key, "text/plain", []byte("akm-control connection test")); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()
	if _, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		a.logger.Warn("failed to delete test file", "key", key, "error", err)
	}
	return nil
}
