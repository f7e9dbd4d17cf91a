package costexplorer

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

const (
	DefaultRegion = "us-east-1" // Cost Explorer is served from us-east-1 only
)

// LoadConfig resolves credentials for profile. The SDK's own retryer is
// limited to a single attempt: retries of billed calls are owned by the
// billing cache so they can be capped in one place.
func LoadConfig(ctx context.Context, profile, region string) (*awssdk.Config, error) {
	if region == "" {
		region = DefaultRegion
	}

	opts := []func(*config.LoadOptions) error{
		config.WithDefaultRegion(region),
		config.WithRetryMaxAttempts(1),
	}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	// Test the credentials
	_, err = awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("invalid AWS credentials for profile %q: %w", profile, err)
	}

	return &awsCfg, nil
}
