// Package archive keeps the raw body of every webhook delivery in an
// S3-compatible bucket.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"ideaforge/api/internal/util"
)

type Delivery struct {
	ID         string
	EventType  string
	Repository string
	Body       []byte
	ReceivedAt time.Time
}

type Archiver interface {
	Store(ctx context.Context, delivery Delivery) (string, error)
}

type objectPutter interface {
	PutObject(ctx context.Context, bucket, key string, reader *bytes.Reader, size int64, contentType string, meta map[string]string) error
}

type minioPutter struct {
	client *minio.Client
}

func (p minioPutter) PutObject(ctx context.Context, bucket, key string, reader *bytes.Reader, size int64, contentType string, meta map[string]string) error {
	_, err := p.client.PutObject(ctx, bucket, key, reader, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: meta,
	})
	return err
}

type Bucket struct {
	objects objectPutter
	bucket  string
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Open connects to the object store and creates the bucket when missing.
func Open(ctx context.Context, opts Options) (*Bucket, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}
	return &Bucket{objects: minioPutter{client: client}, bucket: opts.Bucket}, nil
}

func (b *Bucket) Store(ctx context.Context, delivery Delivery) (string, error) {
	key := ObjectKey(delivery)
	meta := map[string]string{"event-type": delivery.EventType}
	if delivery.Repository != "" {
		meta["repository"] = delivery.Repository
	}
	if err := b.objects.PutObject(ctx, b.bucket, key, bytes.NewReader(delivery.Body), int64(len(delivery.Body)), "application/json", meta); err != nil {
		return "", fmt.Errorf("archive delivery %s: %w", key, err)
	}
	return key, nil
}

// ObjectKey lays deliveries out by day: webhooks/2026/10/14/push/<id>.json.
func ObjectKey(delivery Delivery) string {
	at := delivery.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	eventType := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return -1
		}
	}, delivery.EventType)
	if eventType == "" {
		eventType = "unknown"
	}
	id := strings.NewReplacer("/", "", "..", "").Replace(strings.TrimSpace(delivery.ID))
	if id == "" {
		id = util.NewID("dlv")
	}
	return fmt.Sprintf("webhooks/%s/%s/%s.json", at.UTC().Format("2006/01/02"), eventType, id)
}
