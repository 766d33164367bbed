// Package blob is the content-addressed store for action code. Objects
// are keyed actions/{namespace}/{action}/{sha256}; the hash is both the
// key suffix and the integrity check, so duplicate puts of identical
// code are no-ops by construction.
package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/penguinwhisk/controller/internal/werr"
)

// api is the slice of the S3 client the store uses; tests substitute a
// fake.
type api interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

type presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4PresignedRequest, error)
}

// v4PresignedRequest mirrors the fields of s3's signed request we need.
type v4PresignedRequest struct {
	URL string
}

type s3Presigner struct {
	inner *s3.PresignClient
}

func (p *s3Presigner) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4PresignedRequest, error) {
	req, err := p.inner.PresignGetObject(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return &v4PresignedRequest{URL: req.URL}, nil
}

// Store is the blob store client.
type Store struct {
	client     api
	presign    presigner
	bucket     string
	maxRetries int
	log        *zap.Logger
}

// Options configure the blob store.
type Options struct {
	Endpoint   string
	Region     string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	MaxRetries int
	Logger     *zap.Logger
}

// New builds a store against an S3-compatible endpoint and ensures the
// bucket exists.
func New(ctx context.Context, opts Options) (*Store, error) {
	scheme := "http"
	if opts.UseSSL {
		scheme = "https"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
	)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(scheme + "://" + opts.Endpoint)
		o.UsePathStyle = true // MinIO and friends
	})

	st := &Store{
		client:     client,
		presign:    &s3Presigner{inner: s3.NewPresignClient(client)},
		bucket:     opts.Bucket,
		maxRetries: opts.MaxRetries,
		log:        opts.Logger,
	}
	if err := st.ensureBucket(ctx); err != nil {
		return nil, err
	}
	st.log.Info("blob store ready",
		zap.String("endpoint", opts.Endpoint),
		zap.String("bucket", opts.Bucket))
	return st, nil
}

// Hash returns the content address of code.
func Hash(code []byte) string {
	sum := sha256.Sum256(code)
	return hex.EncodeToString(sum[:])
}

// ObjectKey builds the bucket key for an action's code blob.
func ObjectKey(namespace, action, hash string) string {
	return fmt.Sprintf("actions/%s/%s/%s", namespace, action, hash)
}

// Bucket returns the configured bucket name.
func (s *Store) Bucket() string { return s.bucket }

func (s *Store) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return werr.Wrap(err, werr.KindServiceUnavailable, "create bucket "+s.bucket)
	}
	return nil
}

// retry runs op up to maxRetries times with linear backoff, returning
// the last error if all attempts fail.
func (s *Store) retry(ctx context.Context, what string, op func() error) error {
	var last error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if last = op(); last == nil {
			return nil
		}
		var classified *werr.Error
		if errors.As(last, &classified) {
			// Already terminal (e.g. NotFound), not transient.
			return last
		}
		s.log.Warn("blob operation failed",
			zap.String("op", what),
			zap.Int("attempt", attempt),
			zap.Int("max", s.maxRetries),
			zap.Error(last))
		if attempt < s.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
	}
	return werr.Wrap(last, werr.KindServiceUnavailable, what+" failed after retries")
}

// Put stores code and returns its sha256 content address.
func (s *Store) Put(ctx context.Context, namespace, action string, code []byte, binary bool) (string, error) {
	hash := Hash(code)
	key := ObjectKey(namespace, action, hash)

	contentType := "text/plain"
	if binary {
		contentType = "application/octet-stream"
	}

	err := s.retry(ctx, "put "+key, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(code),
			ContentType: aws.String(contentType),
		})
		return err
	})
	if err != nil {
		return "", err
	}
	s.log.Debug("stored action code",
		zap.String("key", key),
		zap.Int("size", len(code)),
		zap.Bool("binary", binary))
	return hash, nil
}

// Get retrieves code by content address.
func (s *Store) Get(ctx context.Context, namespace, action, hash string) ([]byte, error) {
	key := ObjectKey(namespace, action, hash)
	var code []byte
	err := s.retry(ctx, "get "+key, func() error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var noKey *types.NoSuchKey
			if errors.As(err, &noKey) {
				return werr.New(werr.KindNotFound, "code blob not found: "+key)
			}
			return err
		}
		defer out.Body.Close()
		code, err = io.ReadAll(out.Body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return code, nil
}

// Delete removes a code blob; true means the object no longer exists.
func (s *Store) Delete(ctx context.Context, namespace, action, hash string) (bool, error) {
	key := ObjectKey(namespace, action, hash)
	err := s.retry(ctx, "delete "+key, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// PresignedGet returns a URL an invoker can use to fetch the blob
// without credentials for ttl.
func (s *Store) PresignedGet(ctx context.Context, namespace, action, hash string, ttl time.Duration) (string, error) {
	key := ObjectKey(namespace, action, hash)
	var url string
	err := s.retry(ctx, "presign "+key, func() error {
		req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}, func(o *s3.PresignOptions) {
			o.Expires = ttl
		})
		if err != nil {
			return err
		}
		url = req.URL
		return nil
	})
	if err != nil {
		return "", err
	}
	return url, nil
}
