package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"volleystat/internal/upload"
	volley_errors "volleystat/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const DefaultBlockSize int64 = 5 * 1024 * 1024

// ObjectSource reads a staged object with ranged GETs. One block is kept in
// memory so the small reads of an HTTP body copy do not each hit S3.
type ObjectSource struct {
	client      objectGetter
	bucket      string
	key         string
	name        string
	contentType string
	size        int64
	blockSize   int64

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	blockStart int64
	block      []byte
}

type objectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// OpenObject stats key and returns a reader over it. name is the file name
// reported to the ingest endpoint.
func (c *Client) OpenObject(ctx context.Context, key, name string, blockSize int64) (*ObjectSource, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	return openObject(ctx, c.s3, c.cfg.Bucket, key, name, blockSize)
}

// Open is OpenObject with the default block size, typed as an upload source.
func (c *Client) Open(ctx context.Context, key, name string) (upload.Source, error) {
	src, err := c.OpenObject(ctx, key, name, DefaultBlockSize)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func openObject(ctx context.Context, client objectGetter, bucket, key, name string, blockSize int64) (*ObjectSource, error) {
	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if missingObject(err) {
			return nil, fmt.Errorf("stat %s: %w", key, volley_errors.ErrNotFound)
		}
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	readCtx, cancel := context.WithCancel(context.Background())
	return &ObjectSource{
		client:      client,
		bucket:      bucket,
		key:         key,
		name:        name,
		contentType: aws.ToString(head.ContentType),
		size:        aws.ToInt64(head.ContentLength),
		blockSize:   blockSize,
		ctx:         readCtx,
		cancel:      cancel,
		blockStart:  -1,
	}, nil
}

func (o *ObjectSource) Name() string        { return o.name }
func (o *ObjectSource) ContentType() string { return o.contentType }
func (o *ObjectSource) Size() int64         { return o.size }
func (o *ObjectSource) Key() string         { return o.key }

func (o *ObjectSource) Close() error {
	o.cancel()
	o.mu.Lock()
	o.block = nil
	o.mu.Unlock()
	return nil
}

func (o *ObjectSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if off >= o.size {
		return 0, io.EOF
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for n < len(p) && off < o.size {
		if err := o.load(off); err != nil {
			return n, err
		}
		copied := copy(p[n:], o.block[off-o.blockStart:])
		n += copied
		off += int64(copied)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// load makes sure the block holding off is in memory.
func (o *ObjectSource) load(off int64) error {
	if o.block != nil && off >= o.blockStart && off < o.blockStart+int64(len(o.block)) {
		return nil
	}
	start := off - off%o.blockSize
	end := start + o.blockSize - 1
	if end >= o.size {
		end = o.size - 1
	}

	out, err := o.client.GetObject(o.ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
	})
	if err != nil {
		return fmt.Errorf("read %s at %d: %w", o.key, start, err)
	}
	defer out.Body.Close()

	buf := make([]byte, end-start+1)
	if _, err := io.ReadFull(out.Body, buf); err != nil {
		return fmt.Errorf("read %s at %d: %w", o.key, start, err)
	}
	o.blockStart = start
	o.block = buf
	return nil
}

// missingObject reports whether err is S3 saying the key does not exist.
// HeadObject has no body, so a missing key surfaces as NotFound.
func missingObject(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}
