package storage

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
)

// TestS3StoreAgainstLocalstack exercises the real SDK clients (including the
// transfer manager) against an S3-compatible container.
func TestS3StoreAgainstLocalstack(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := localstack.Run(ctx, "localstack/localstack:3.8")
	require.NoError(t, err, "should start localstack")
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	endpoint, err := container.PortEndpoint(ctx, "4566/tcp", "http")
	require.NoError(t, err)

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	require.NoError(t, err)

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String("movies")})
	require.NoError(t, err)

	store := NewS3Store(client, t.TempDir(), nil)

	require.NoError(t, store.WriteObject(ctx, "s3://movies/models/model.onnx", strings.NewReader("graph")))

	data, err := store.ReadObject(ctx, "s3://movies/models/model.onnx")
	require.NoError(t, err)
	assert.Equal(t, "graph", string(data))

	local, err := store.Stage(ctx, "s3://movies/models/model.onnx")
	require.NoError(t, err)
	staged, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "graph", string(staged))
}
