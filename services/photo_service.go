package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"

	"go-tours/utils/errors"
)

const (
	PhotoSize      = 500
	photoURLExpiry = 24 * time.Hour
)

// PhotoStore keeps user photos by key.
type PhotoStore interface {
	Put(ctx context.Context, key string, jpeg []byte) error
	Delete(ctx context.Context, key string) error
	URL(ctx context.Context, key string) (string, error)
}

// ResizePhoto crops the image to a PhotoSize square and encodes it as JPEG.
func ResizePhoto(r io.Reader) ([]byte, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(err, "Not an image! Please upload only images.", http.StatusBadRequest)
	}
	thumb := imaging.Fill(img, PhotoSize, PhotoSize, imaging.Center, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("encode photo: %w", err)
	}
	return buf.Bytes(), nil
}

// S3PhotoStore stores photos in one bucket.
type S3PhotoStore struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// NewS3PhotoStore builds a client from static credentials. Empty credentials
// fall back to the default AWS credential chain.
func NewS3PhotoStore(ctx context.Context, bucket, region, accessKey, secretKey string) (*S3PhotoStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	slog.Info("S3 photo store ready", "bucket", bucket, "region", region)
	return &S3PhotoStore{client: client, presign: s3.NewPresignClient(client), bucket: bucket}, nil
}

func (s *S3PhotoStore) Put(ctx context.Context, key string, jpeg []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(jpeg),
		ContentType: aws.String("image/jpeg"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *S3PhotoStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// URL presigns a GET for the photo, valid for a day.
func (s *S3PhotoStore) URL(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(photoURLExpiry))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}
