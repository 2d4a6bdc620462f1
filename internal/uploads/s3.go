package uploads

import (
	"context"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/keithlinneman/tradedesk/internal/log"
	"github.com/keithlinneman/tradedesk/internal/xerrors"
)

// S3Putter is the subset of *s3.Client used for uploads.
type S3Putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Store struct {
	client S3Putter
	bucket string
	prefix string
	now    func() time.Time
}

func NewS3Store(client S3Putter, bucket, prefix string) (*S3Store, error) {
	if bucket == "" {
		return nil, xerrors.New("S3 bucket is required")
	}
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, name, contentType string, r io.Reader, size int64) (string, error) {
	key, err := objectKey(s.now(), contentType)
	if err != nil {
		return "", err
	}
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 r,
		ContentLength:        aws.Int64(size),
		ContentType:          aws.String(contentType),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
		Metadata: map[string]string{
			// metadata values must be ASCII
			"original-name": url.QueryEscape(name),
		},
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "put S3 object s3://%s/%s", s.bucket, key)
	}

	log.FromContext(ctx).Info(ctx, "document stored",
		"bucket", s.bucket,
		"key", key,
		"size", size,
	)
	return key, nil
}
