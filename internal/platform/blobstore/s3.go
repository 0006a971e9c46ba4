package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// NewS3Client loads the default AWS credential chain. endpoint, when set,
// points at an S3-compatible service such as MinIO and enables path-style
// addressing.
func NewS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Store keeps photos as private objects under prefix in bucket.
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

func NewS3Store(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(ref string) string {
	return s.prefix + ref
}

func (s *S3Store) Save(ctx context.Context, meta PhotoMeta, content io.Reader) (*PhotoMeta, error) {
	meta, data, err := prepare(meta, content)
	if err != nil {
		return nil, err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(meta.Ref)),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(meta.ContentType),
		ContentLength: aws.Int64(meta.Size),
		ACL:           types.ObjectCannedACLPrivate,
		Metadata: map[string]string{
			"file-name":   meta.FileName,
			"sha256":      meta.Hash,
			"uploaded-by": strconv.FormatInt(meta.UploadedBy, 10),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", meta.Ref, err)
	}
	return &meta, nil
}

func (s *S3Store) Open(ctx context.Context, ref string) (io.ReadCloser, *PhotoMeta, error) {
	if !ValidRef(ref) {
		return nil, nil, ErrInvalidRef
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil, ErrPhotoNotFound
		}
		return nil, nil, fmt.Errorf("get object %s: %w", ref, err)
	}

	meta := &PhotoMeta{
		Ref:         ref,
		FileName:    out.Metadata["file-name"],
		ContentType: aws.ToString(out.ContentType),
		Size:        aws.ToInt64(out.ContentLength),
		Hash:        out.Metadata["sha256"],
	}
	if meta.ContentType == "" {
		meta.ContentType = contentTypeForRef(ref)
	}
	if out.LastModified != nil {
		meta.CreatedAt = out.LastModified.UTC()
	}
	return out.Body, meta, nil
}

func (s *S3Store) Exists(ctx context.Context, ref string) (bool, error) {
	if !ValidRef(ref) {
		return false, nil
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("head object %s: %w", ref, err)
	}
	return true, nil
}
