// utils/archive.go
package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

var archiveClient *s3.Client
var archiveBucket string

// InitArchive configures the R2/S3 client used for match transcript
// archiving. Missing credentials disable archiving rather than failing
// startup.
func InitArchive() error {
	accountID := os.Getenv("CLOUDFLARE_ACCOUNT_ID")
	accessKeyID := os.Getenv("R2_ACCESS_KEY_ID")
	accessKeySecret := os.Getenv("R2_ACCESS_KEY_SECRET")
	archiveBucket = os.Getenv("R2_BUCKET_NAME")

	if accountID == "" || accessKeyID == "" || archiveBucket == "" {
		log.Warn().Msg("transcript archiving disabled: R2 credentials not configured")
		return nil
	}

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID, accessKeySecret, "",
		)),
		config.WithEndpointResolver(aws.EndpointResolverFunc(
			func(service, region string) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID),
				}, nil
			}),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to load archive storage config: %w", err)
	}

	archiveClient = s3.NewFromConfig(cfg)
	return nil
}

// Transcript is the archived artifact for one AI seat in one match: the
// connection's recent activity plus the final snapshot it saw.
type Transcript struct {
	ClientID      string          `json:"client_id"`
	MatchID       string          `json:"match_id"`
	GameType      string          `json:"game_type"`
	FinalSnapshot json.RawMessage `json:"final_snapshot,omitempty"`
	Activity      []string        `json:"activity"`
	ArchivedAt    time.Time       `json:"archived_at"`
}

// ArchiveTranscript uploads the transcript as a JSON object under
// transcripts/{matchID}/{clientID}.json. No-op when archiving is disabled.
func ArchiveTranscript(ctx context.Context, t *Transcript) error {
	if archiveClient == nil {
		return nil
	}
	t.ArchivedAt = time.Now().UTC()

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}
	key := fmt.Sprintf("transcripts/%s/%s.json", t.MatchID, t.ClientID)

	_, err = archiveClient.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(archiveBucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload transcript %s: %w", key, err)
	}
	return nil
}
