package sender

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
)

// InvokeModelAPI is the part of the Bedrock Runtime client used by BedrockSender
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockSender invokes a Bedrock model with the payload as request body
type BedrockSender struct {
	client  InvokeModelAPI
	modelID string
}

// NewBedrockSender creates a sender backed by a Bedrock Runtime client built from cfg
func NewBedrockSender(cfg aws.Config, modelID string) (*BedrockSender, error) {
	return NewBedrockSenderWithClient(bedrockruntime.NewFromConfig(cfg), modelID)
}

// NewBedrockSenderWithClient creates a sender around an existing client
func NewBedrockSenderWithClient(client InvokeModelAPI, modelID string) (*BedrockSender, error) {
	if client == nil {
		return nil, errors.New("bedrock client is required")
	}
	if modelID == "" {
		return nil, errors.New("bedrock model id is required")
	}
	return &BedrockSender{client: client, modelID: modelID}, nil
}

// Send invokes the model. Service errors carrying an HTTP status become a
// non-2xx Response; anything else is a transport error.
func (s *BedrockSender) Send(ctx context.Context, body []byte) (Response, error) {
	input := &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(s.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	}

	output, err := s.client.InvokeModel(ctx, input)
	if err != nil {
		if status := statusFromError(err); status > 0 {
			return Response{
				StatusCode: status,
				Body:       []byte(categorizeError(err) + ": " + errorMessage(err)),
			}, nil
		}
		return Response{}, err
	}

	return Response{StatusCode: 200, Body: output.Body}, nil
}

// statusFromError extracts the HTTP status of an AWS response error
func statusFromError(err error) int {
	var re interface{ HTTPStatusCode() int }
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

func errorMessage(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorMessage()
	}
	return err.Error()
}

// categorizeError categorizes AWS errors
func categorizeError(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) && ae.ErrorCode() != "" {
		return ae.ErrorCode()
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "throttling") || strings.Contains(errStr, "too many"):
		return "ThrottlingError"
	case strings.Contains(errStr, "validation"):
		return "ValidationError"
	case strings.Contains(errStr, "access denied"):
		return "AccessDeniedError"
	case strings.Contains(errStr, "not found"):
		return "ModelNotFoundError"
	case strings.Contains(errStr, "service quota"):
		return "QuotaExceededError"
	case strings.Contains(errStr, "timeout"):
		return "TimeoutError"
	default:
		return fmt.Sprintf("UnknownError(%T)", err)
	}
}
