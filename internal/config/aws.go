package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// LoadAWS resolves the AWS configuration shared by the Bedrock sender and the
// CloudWatch sink. Static keys are used when both are set, otherwise the
// default credential chain (env, shared credentials, IAM role, etc.)
func LoadAWS(ctx context.Context, c AWSConfig) (aws.Config, error) {
	if c.AccessKeyID != "" && c.SecretAccessKey != "" {
		return aws.Config{
			Region: c.Region,
			Credentials: credentials.NewStaticCredentialsProvider(
				c.AccessKeyID,
				c.SecretAccessKey,
				"",
			),
		}, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load default AWS config: %w", err)
	}

	return cfg, nil
}
