package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/freshkeep/internal/model"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	getErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

var fixedNow = time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)

func testArchiver(client s3Client, passphrase string) *Archiver {
	return &Archiver{
		client:     client,
		bucket:     "archive",
		passphrase: passphrase,
		now:        func() time.Time { return fixedNow },
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func retired() []model.GroceryItem {
	return []model.GroceryItem{
		{ID: 1, UserID: 1, Name: "Milk", Quantity: 1, Price: 1.5, Status: model.ItemStatusExpired},
		{ID: 2, UserID: 1, Name: "Apples", Quantity: 4, Price: 0.5, Status: model.ItemStatusConsumed},
	}
}

func TestNewDisabledWithoutCredentials(t *testing.T) {
	a := New(S3Config{Bucket: "b"}, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if a.Enabled() {
		t.Fatal("expected disabled archiver")
	}
	if _, err := a.ArchiveItems(context.Background(), retired()); !errors.Is(err, ErrDisabled) {
		t.Errorf("err = %v, want ErrDisabled", err)
	}

	a = New(S3Config{Bucket: "b", AccessKey: "k", SecretKey: "s"}, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if !a.Enabled() {
		t.Error("expected enabled archiver")
	}
}

func TestArchivePlain(t *testing.T) {
	mock := newMockS3()
	a := testArchiver(mock, "")

	key, err := a.ArchiveItems(context.Background(), retired())
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !strings.HasPrefix(key, "items/2026/03/10/retired-") || !strings.HasSuffix(key, ".json") {
		t.Errorf("key = %q", key)
	}
	if !bytes.Contains(mock.objects[key], []byte(`"Milk"`)) {
		t.Error("uploaded object is not plain JSON")
	}

	doc, err := a.Fetch(context.Background(), key)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if doc.Count != 2 || len(doc.Items) != 2 || doc.Items[1].Name != "Apples" {
		t.Errorf("doc = %+v", doc)
	}
}

func TestArchiveEncrypted(t *testing.T) {
	mock := newMockS3()
	a := testArchiver(mock, "hunter2")

	key, err := a.ArchiveItems(context.Background(), retired())
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !strings.HasSuffix(key, ".json.enc") {
		t.Errorf("key = %q, want .json.enc suffix", key)
	}
	if bytes.Contains(mock.objects[key], []byte("Milk")) {
		t.Error("encrypted object contains plaintext")
	}

	doc, err := a.Fetch(context.Background(), key)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if doc.Count != 2 {
		t.Errorf("count = %d, want 2", doc.Count)
	}

	if _, err := testArchiver(mock, "").Fetch(context.Background(), key); err == nil {
		t.Error("expected error fetching encrypted archive without passphrase")
	}
}

func TestArchiveEmptyUploadsNothing(t *testing.T) {
	mock := newMockS3()
	key, err := testArchiver(mock, "").ArchiveItems(context.Background(), nil)
	if err != nil || key != "" {
		t.Fatalf("key = %q, err = %v", key, err)
	}
	if len(mock.objects) != 0 {
		t.Error("expected no uploads")
	}
}

func TestArchiveUploadError(t *testing.T) {
	mock := newMockS3()
	mock.putErr = errors.New("bucket gone")
	_, err := testArchiver(mock, "").ArchiveItems(context.Background(), retired())
	if err == nil || !strings.Contains(err.Error(), "bucket gone") {
		t.Errorf("err = %v", err)
	}
}
