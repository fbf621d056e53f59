package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/cespare/xxhash/v2"

	"github.com/EvnyaGH/NewsAICopy/types"
)

// Archiver stores raw feed pages in S3 and reads them back for replay
type Archiver struct {
	s3Client s3iface.S3API
	bucket   string
	prefix   string
	now      func() time.Time
}

// NewArchiver creates an archiver backed by a new AWS session
func NewArchiver(region, bucket, prefix string) (*Archiver, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return NewArchiverWithClient(s3.New(sess), bucket, prefix), nil
}

// NewArchiverWithClient creates an archiver with a custom S3 client (for testing)
func NewArchiverWithClient(client s3iface.S3API, bucket, prefix string) *Archiver {
	return &Archiver{
		s3Client: client,
		bucket:   bucket,
		prefix:   strings.TrimSuffix(prefix, "/"),
		now:      time.Now,
	}
}

// ArchiveResult represents the result of an archive upload
type ArchiveResult struct {
	S3Key          string    `json:"s3_key"`
	CompressedSize int64     `json:"compressed_size"`
	OriginalSize   int64     `json:"original_size"`
	Checksum       string    `json:"checksum"`
	Timestamp      time.Time `json:"timestamp"`
}

// Archive gzips a raw feed page and uploads it with its fetch metadata.
func (a *Archiver) Archive(ctx context.Context, raw []byte, summary types.FetchSummary) (*ArchiveResult, error) {
	ts := summary.FetchedAt
	if ts.IsZero() {
		ts = a.now()
	}
	key := a.generateS3Key(ts)
	checksum := Checksum(raw)

	compressed, err := compressData(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to compress feed: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(compressed),
		ContentType:     aws.String("application/atom+xml"),
		ContentEncoding: aws.String("gzip"),
		Metadata: map[string]*string{
			"search-query": aws.String(summary.Query),
			"start":        aws.String(strconv.Itoa(summary.Start)),
			"entry-count":  aws.String(strconv.Itoa(summary.EntryCount)),
			"checksum":     aws.String(checksum),
			"fetch-time":   aws.String(ts.UTC().Format(time.RFC3339)),
		},
	}

	if _, err := a.s3Client.PutObjectWithContext(ctx, input); err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return &ArchiveResult{
		S3Key:          key,
		CompressedSize: int64(len(compressed)),
		OriginalSize:   int64(len(raw)),
		Checksum:       checksum,
		Timestamp:      a.now(),
	}, nil
}

// Load downloads an archived feed page, decompressing .gz objects.
func (a *Archiver) Load(ctx context.Context, key string) ([]byte, error) {
	result, err := a.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download S3 object %s/%s: %w", a.bucket, key, err)
	}
	defer result.Body.Close()

	var reader io.Reader = result.Body
	if strings.HasSuffix(key, ".gz") {
		gz, err := gzip.NewReader(result.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader for %s/%s: %w", a.bucket, key, err)
		}
		defer gz.Close()
		reader = gz
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read content from %s/%s: %w", a.bucket, key, err)
	}
	return data, nil
}

// generateS3Key formats prefix/YYYY-MM-DD/arxiv-feed-YYYYMMDD-HHMMSS.xml.gz
func (a *Archiver) generateS3Key(ts time.Time) string {
	ts = ts.UTC()
	name := fmt.Sprintf("%s/arxiv-feed-%s.xml.gz", ts.Format("2006-01-02"), ts.Format("20060102-150405"))
	if a.prefix == "" {
		return name
	}
	return a.prefix + "/" + name
}

// Checksum returns the hex xxhash64 of raw.
func Checksum(raw []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(raw))
}

func compressData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	if _, err := gzipWriter.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write to gzip writer: %w", err)
	}
	if err := gzipWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecompressData decompresses gzip data
func DecompressData(compressed []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
