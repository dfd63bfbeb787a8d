// Package uploader ships rotated chat archives to S3. Credentials come from
// either static keys or an assumed role backed by the host's OIDC token
// endpoint.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.uber.org/zap"
)

// Uploader handles uploading completed archive files to S3.
type Uploader struct {
	s3Client    *s3.Client
	bucket      string
	deleteAfter bool
	maxRetries  int
	log         *zap.Logger
}

// flyTokenRetriever implements stscreds.IdentityTokenRetriever for Fly.io
// OIDC.
type flyTokenRetriever struct {
	socketPath string
	audience   string
}

// GetIdentityToken fetches an OIDC token from Fly.io's Unix socket API.
func (f *flyTokenRetriever) GetIdentityToken() ([]byte, error) {
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", f.socketPath)
			},
		},
		Timeout: 5 * time.Second,
	}

	reqBody, err := json.Marshal(map[string]string{
		"aud": f.audience,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := client.Post("http://localhost/v1/tokens/oidc", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	token, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}

	return token, nil
}

// New creates an S3 uploader using OIDC authentication.
func New(ctx context.Context, bucket, region, roleARN string, deleteAfter bool, maxRetries int, log *zap.Logger) (*Uploader, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	if roleARN != "" {
		stsClient := sts.NewFromConfig(cfg)

		tokenRetriever := &flyTokenRetriever{
			socketPath: "/.fly/api",
			audience:   "sts.amazonaws.com",
		}

		credProvider := stscreds.NewWebIdentityRoleProvider(
			stsClient,
			roleARN,
			tokenRetriever,
		)

		cfg.Credentials = aws.NewCredentialsCache(credProvider)
	}

	return &Uploader{
		s3Client:    s3.NewFromConfig(cfg),
		bucket:      bucket,
		deleteAfter: deleteAfter,
		maxRetries:  maxRetries,
		log:         log,
	}, nil
}

// NewWithStaticCredentials creates an S3 uploader using static credentials.
func NewWithStaticCredentials(ctx context.Context, bucket, region, accessKeyID, secretAccessKey string, deleteAfter bool, maxRetries int, log *zap.Logger) (*Uploader, error) {
	credProvider := credentials.NewStaticCredentialsProvider(
		accessKeyID,
		secretAccessKey,
		"",
	)

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credProvider),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &Uploader{
		s3Client:    s3.NewFromConfig(cfg),
		bucket:      bucket,
		deleteAfter: deleteAfter,
		maxRetries:  maxRetries,
		log:         log,
	}, nil
}

// ScanAndUploadExisting uploads .jsonl files left behind by a previous run.
func (u *Uploader) ScanAndUploadExisting(ctx context.Context, outputDir string) error {
	u.log.Info("scanning for existing files to upload", zap.String("dir", outputDir))

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return fmt.Errorf("read directory: %w", err)
	}

	var filesToUpload []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".jsonl") {
			filesToUpload = append(filesToUpload, filepath.Join(outputDir, entry.Name()))
		}
	}

	if len(filesToUpload) == 0 {
		u.log.Info("no existing files found to upload")
		return nil
	}

	u.log.Info("found existing files to upload", zap.Int("count", len(filesToUpload)))

	for _, filePath := range filesToUpload {
		go u.uploadWithRetry(ctx, filePath)
	}

	return nil
}

// Start monitors fileChan for completed archives until ctx is cancelled.
func (u *Uploader) Start(ctx context.Context, fileChan <-chan string) error {
	for {
		select {
		case localPath := <-fileChan:
			// Upload in a goroutine so we don't block the recorder.
			go u.uploadWithRetry(ctx, localPath)

		case <-ctx.Done():
			u.log.Info("uploader shutting down")
			return ctx.Err()
		}
	}
}

func (u *Uploader) uploadWithRetry(ctx context.Context, localPath string) {
	filename := filepath.Base(localPath)

	s3Key, err := generateS3Key(filename)
	if err != nil {
		u.log.Error("generate S3 key", zap.String("file", filename), zap.Error(err))
		return
	}

	for attempt := 0; attempt <= u.maxRetries; attempt++ {
		err := u.uploadFile(ctx, localPath, s3Key)
		if err == nil {
			u.log.Info("uploaded archive",
				zap.String("file", filename),
				zap.String("bucket", u.bucket),
				zap.String("key", s3Key))

			if u.deleteAfter {
				if err := os.Remove(localPath); err != nil {
					u.log.Error("delete local file", zap.String("file", localPath), zap.Error(err))
				}
			}
			return
		}

		if attempt < u.maxRetries {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			u.log.Warn("upload attempt failed",
				zap.Int("attempt", attempt+1),
				zap.Int("max", u.maxRetries),
				zap.String("file", filename),
				zap.Duration("backoff", backoff),
				zap.Error(err))

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
		}
	}

	u.log.Error("upload failed permanently", zap.String("file", filename), zap.Int("attempts", u.maxRetries))
}

func (u *Uploader) uploadFile(ctx context.Context, localPath, s3Key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	_, err = u.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(s3Key),
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}

	return nil
}

// generateS3Key derives the object key from an archive filename.
// Input: twitch_20251230_1030.jsonl
// Output: 2025/12/30/twitch/twitch_20251230_1030.jsonl
func generateS3Key(filename string) (string, error) {
	nameWithoutExt := strings.TrimSuffix(filename, ".jsonl")

	parts := strings.Split(nameWithoutExt, "_")
	if len(parts) < 3 {
		return "", fmt.Errorf("invalid filename format: %s", filename)
	}

	service := strings.Join(parts[:len(parts)-2], "_")
	dateStr := parts[len(parts)-2] // YYYYMMDD
	timeStr := parts[len(parts)-1] // HHMM

	t, err := time.Parse("20060102_1504", dateStr+"_"+timeStr)
	if err != nil {
		return "", fmt.Errorf("parse timestamp: %w", err)
	}

	s3Key := fmt.Sprintf("%04d/%02d/%02d/%s/%s",
		t.Year(), t.Month(), t.Day(), service, filename)

	return s3Key, nil
}
