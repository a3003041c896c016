// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// MaxProofSize caps uploaded proof screenshots.
const MaxProofSize = 10 << 20

var proofExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// ObjectPutter is the slice of the S3 API the proof store needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ProofStore uploads quest proof images to Cloudflare R2.
type ProofStore struct {
	Client     ObjectPutter
	Bucket     string
	CDNBaseURL string
}

// NewProofStoreFromEnv builds an R2-backed store from CLOUDFLARE_ACCOUNT_ID,
// R2_ACCESS_KEY_ID, R2_ACCESS_KEY_SECRET, R2_BUCKET_NAME and CDN_BASE_URL.
func NewProofStoreFromEnv(ctx context.Context) (*ProofStore, error) {
	accountID := os.Getenv("CLOUDFLARE_ACCOUNT_ID")
	accessKeyID := os.Getenv("R2_ACCESS_KEY_ID")
	accessKeySecret := os.Getenv("R2_ACCESS_KEY_SECRET")
	bucket := os.Getenv("R2_BUCKET_NAME")
	cdnBaseURL := os.Getenv("CDN_BASE_URL")
	if accountID == "" || bucket == "" {
		return nil, fmt.Errorf("CLOUDFLARE_ACCOUNT_ID and R2_BUCKET_NAME are required")
	}
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
	if cdnBaseURL == "" {
		cdnBaseURL = endpoint + "/" + bucket
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID, accessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return &ProofStore{Client: client, Bucket: bucket, CDNBaseURL: strings.TrimRight(cdnBaseURL, "/")}, nil
}

// UploadProof stores a user's proof image and returns its public URL.
// Keys look like proofs/<userID>/<questID>/<uuid>.png
func (p *ProofStore) UploadProof(ctx context.Context, fileHeader *multipart.FileHeader, userID, questID string) (string, error) {
	if fileHeader.Size > MaxProofSize {
		return "", fmt.Errorf("proof image too large (%d bytes, max %d)", fileHeader.Size, MaxProofSize)
	}
	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if !proofExtensions[ext] {
		return "", fmt.Errorf("unsupported proof image type %q", ext)
	}

	file, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, io.LimitReader(file, MaxProofSize+1)); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/" + strings.TrimPrefix(ext, ".")
	}
	key := fmt.Sprintf("proofs/%s/%s/%s%s", userID, questID, uuid.NewString(), ext)
	_, err = p.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}

	return fmt.Sprintf("%s/%s", p.CDNBaseURL, key), nil
}
