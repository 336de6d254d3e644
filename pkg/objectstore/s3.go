package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/cuemby/cargohold/pkg/regerr"
)

// S3Config configures the S3-compatible backend.
type S3Config struct {
	AccessKey string
	SecretKey string
	Region    string
	Endpoint  string
	Bucket    string
	AllowHTTP bool
}

// s3Backend stores blobs in an S3-compatible bucket.
type s3Backend struct {
	client *s3.S3
	bucket string
}

// NewS3 creates a Backend backed by an S3-compatible bucket, suitable
// both for AWS S3 itself and for MinIO-style self-hosted endpoints.
func NewS3(cfg S3Config) (Backend, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		Config: aws.Config{
			Region:           aws.String(cfg.Region),
			Endpoint:         aws.String(cfg.Endpoint),
			Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
			S3ForcePathStyle: aws.Bool(true),
			DisableSSL:       aws.Bool(cfg.AllowHTTP),
		},
		SharedConfigState: session.SharedConfigDisable,
	})
	if err != nil {
		return nil, fmt.Errorf("creating S3 session: %w", err)
	}
	return &s3Backend{client: s3.New(sess), bucket: cfg.Bucket}, nil
}

func (b *s3Backend) Put(ctx context.Context, key string, data io.Reader, size int64) error {
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, data); err != nil {
		return fmt.Errorf("buffering object for S3 put: %w", err)
	}
	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(int64(buf.Len())),
	})
	if err != nil {
		return fmt.Errorf("S3 put %s: %w", key, err)
	}
	return nil
}

func (b *s3Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, regerr.Wrap(regerr.NotFound, "blob "+key+" not found", err)
		}
		return nil, fmt.Errorf("S3 get %s: %w", key, err)
	}
	return out.Body, nil
}

func (b *s3Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("S3 head %s: %w", key, err)
}

func (b *s3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("S3 delete %s: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if ok := asAWSError(err, &aerr); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return true
		}
	}
	return false
}

func asAWSError(err error, target *awserr.Error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		*target = aerr
		return true
	}
	return false
}
