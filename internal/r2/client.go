// Package r2 stores uploaded source materials in a Cloudflare R2 bucket via
// the S3-compatible API.
package r2

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// Client wraps the S3 client pointed at a Cloudflare R2 bucket.
type Client struct {
	s3Client   *s3.Client
	bucketName string
	publicURL  string // base public URL for the bucket, e.g. https://pub-xxxxxxxx.r2.dev
}

// NewClient configures an R2 client from environment variables. It returns
// (nil, nil) when the R2 variables are not fully set, in which case material
// uploads are skipped and the service runs without object storage.
func NewClient() (*Client, error) {
	accountID := os.Getenv("CLOUDFLARE_ACCOUNT_ID")
	bucketName := os.Getenv("R2_BUCKET_NAME")
	accessKeyID := os.Getenv("R2_ACCESS_KEY_ID")
	secretAccessKey := os.Getenv("R2_SECRET_ACCESS_KEY")
	publicURL := os.Getenv("R2_PUBLIC_URL")

	if accountID == "" || bucketName == "" || accessKeyID == "" || secretAccessKey == "" || publicURL == "" {
		log.Println("WARN: Cloudflare R2 environment variables not fully configured (CLOUDFLARE_ACCOUNT_ID, R2_BUCKET_NAME, R2_ACCESS_KEY_ID, R2_SECRET_ACCESS_KEY, R2_PUBLIC_URL). Material uploads will be skipped.")
		return nil, nil
	}

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")),
		config.WithRegion("auto"), // R2 is region-agnostic
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS SDK config for R2: %w", err)
	}

	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID))
	})

	log.Printf("INFO: R2 client initialized for bucket '%s'", bucketName)
	return &Client{
		s3Client:   s3Client,
		bucketName: bucketName,
		publicURL:  publicURL,
	}, nil
}

// Enabled reports whether uploads are configured.
func (c *Client) Enabled() bool {
	return c != nil && c.s3Client != nil
}

// UploadMaterial uploads a source document under
// material/<userID>/<materialID>/<filename> and returns its public URL.
func (c *Client) UploadMaterial(ctx context.Context, userID uuid.UUID, materialID uuid.UUID, filename string, content io.Reader) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("R2 client not initialized, skipping upload")
	}

	objectKey := fmt.Sprintf("material/%s/%s/%s", userID.String(), materialID.String(), filename)

	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucketName),
		Key:         aws.String(objectKey),
		Body:        content,
		ACL:         types.ObjectCannedACLPublicRead,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload material to R2 (key: %s): %w", objectKey, err)
	}

	baseURL, err := url.Parse(c.publicURL)
	if err != nil {
		log.Printf("ERROR: Failed to parse R2 public base URL '%s': %v", c.publicURL, err)
		return "", fmt.Errorf("invalid R2 public base URL configured")
	}
	baseURL.Path = path.Join(baseURL.Path, objectKey)

	publicFileURL := baseURL.String()
	log.Printf("INFO: Uploaded material to R2: %s", publicFileURL)
	return publicFileURL, nil
}
