package archive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storedObject struct {
	key         string
	contentType string
	body        string
}

type fakeStore struct {
	puts    []storedObject
	deletes []string
	putErr  error
}

func (f *fakeStore) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts = append(f.puts, storedObject{
		key:         aws.ToString(in.Key),
		contentType: aws.ToString(in.ContentType),
		body:        string(body),
	})
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeStore) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deletes = append(f.deletes, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func newTestArchiver(prefix string) (*Archiver, *fakeStore) {
	store := &fakeStore{}
	return &Archiver{
		cfg:    Config{Bucket: "akm", AccessKeyID: "id", SecretAccessKey: "secret", Prefix: prefix},
		client: store,
		logger: slog.New(slog.DiscardHandler),
	}, store
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(Config{Bucket: "akm"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	a, err := New(Config{Bucket: "akm", AccessKeyID: "id", SecretAccessKey: "secret", Endpoint: "http://localhost:9000"})
	require.NoError(t, err)
	assert.NotNil(t, a.client)
}

func TestKeys(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 5, 0, time.UTC)

	a, _ := newTestArchiver("/studio-a/")
	assert.Equal(t, "studio-a/transcripts/2026/03/01/sclang-123005.log", a.TranscriptKey(at))
	assert.Equal(t, "studio-a/events/2026/03/01/events-123005.jsonl", a.EventLogKey(at))

	a, _ = newTestArchiver("")
	assert.Equal(t, "transcripts/2026/03/01/sclang-123005.log", a.TranscriptKey(at))
}

func TestUploadTranscript(t *testing.T) {
	a, store := newTestArchiver("akm")
	at := time.Date(2026, 3, 1, 12, 30, 5, 0, time.UTC)

	key, err := a.UploadTranscript(t.Context(), []string{"compiling class library", "server ready"}, at)
	require.NoError(t, err)
	assert.Equal(t, "akm/transcripts/2026/03/01/sclang-123005.log", key)

	require.Len(t, store.puts, 1)
	assert.Equal(t, "compiling class library\nserver ready\n", store.puts[0].body)
	assert.Equal(t, "text/plain; charset=utf-8", store.puts[0].contentType)

	_, err = a.UploadTranscript(t.Context(), nil, at)
	assert.Error(t, err)
}

func TestUploadEventLog(t *testing.T) {
	a, store := newTestArchiver("")
	logPath := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(logPath, []byte(`{"type":"server_started"}`+"\n"), 0o600))

	key, err := a.UploadEventLog(t.Context(), logPath, time.Now())
	require.NoError(t, err)
	require.Len(t, store.puts, 1)
	assert.Equal(t, key, store.puts[0].key)
	assert.Contains(t, store.puts[0].body, "server_started")

	_, err = a.UploadEventLog(t.Context(), filepath.Join(t.TempDir(), "missing.jsonl"), time.Now())
	assert.Error(t, err)
}

func TestUploadError(t *testing.T) {
	a, store := newTestArchiver("")
	store.putErr = errors.New("access denied")

	_, err := a.UploadTranscript(t.Context(), []string{"x"}, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestConnectionCleansUp(t *testing.T) {
	a, store := newTestArchiver("akm")
	require.NoError(t, a.TestConnection(t.Context()))
	require.Len(t, store.puts, 1)
	assert.Equal(t, []string{store.puts[0].key}, store.deletes)
}
