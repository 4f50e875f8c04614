package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"github.com/drblury/bifrost/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/bifrost/internal/runtime/logging"
)

const (
	defaultBedrockRegion = "us-east-1"
	defaultBedrockModel  = "anthropic.claude-3-sonnet-20240229-v1:0"

	anthropicVersion = "bedrock-2023-05-31"
	maxTokens        = 4096
	temperature      = 0.7
)

// DefaultConfigLoader allows overriding the AWS config loader for testing.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// InvokeModelAPI is the slice of the Bedrock runtime client used here.
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockOptions configures a Bedrock client.
type BedrockOptions struct {
	Region string
	Model  string
	// Profile selects a shared config profile; empty or "default" uses the
	// default credential chain.
	Profile string
	Logger  loggingpkg.ServiceLogger
	// Client replaces the SDK client, skipping config loading.
	Client InvokeModelAPI
}

// Bedrock invokes Anthropic models through AWS Bedrock.
type Bedrock struct {
	region string
	model  string
	client InvokeModelAPI
	logger loggingpkg.ServiceLogger
}

// NewBedrock loads the AWS config and builds the runtime client.
func NewBedrock(ctx context.Context, opts BedrockOptions) (*Bedrock, error) {
	b := &Bedrock{
		region: opts.Region,
		model:  opts.Model,
		client: opts.Client,
		logger: opts.Logger,
	}
	if b.region == "" {
		b.region = defaultBedrockRegion
	}
	if b.model == "" {
		b.model = defaultBedrockModel
	}
	if b.logger == nil {
		b.logger = loggingpkg.Discard()
	}
	b.logger = b.logger.With(loggingpkg.LogFields{"component": "bedrock", "model": b.model, "region": b.region})

	if b.client == nil {
		loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(b.region)}
		if opts.Profile != "" && opts.Profile != "default" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
		}
		awsCfg, err := DefaultConfigLoader(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("bedrock: load aws config: %w", err)
		}
		b.client = bedrockruntime.NewFromConfig(awsCfg)
	}
	return b, nil
}

// Source implements Analyzer.
func (b *Bedrock) Source() string { return "cloud" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Messages         []anthropicMessage `json:"messages"`
	Temperature      float64            `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Analyze sends prompt as a single user message.
func (b *Bedrock) Analyze(ctx context.Context, prompt string) (*Response, error) {
	body, err := jsoncodec.Marshal(anthropicRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        maxTokens,
		Messages:         []anthropicMessage{{Role: "user", Content: prompt}},
		Temperature:      temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock: encode request: %w", err)
	}

	start := time.Now()
	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, classifyBedrockError(err)
	}
	duration := time.Since(start)

	var decoded anthropicResponse
	if err := jsoncodec.Unmarshal(out.Body, &decoded); err != nil {
		return nil, fmt.Errorf("bedrock: decode response: %w", err)
	}

	text := ""
	if len(decoded.Content) > 0 {
		text = decoded.Content[0].Text
	}

	b.logger.Debug("Bedrock call completed", loggingpkg.LogFields{
		"duration_ms":   duration.Milliseconds(),
		"input_tokens":  decoded.Usage.InputTokens,
		"output_tokens": decoded.Usage.OutputTokens,
	})

	return &Response{
		Text: text,
		Metadata: Metadata{
			Model:    b.model,
			Duration: duration,
			Region:   b.region,
			Usage: &Usage{
				InputTokens:  decoded.Usage.InputTokens,
				OutputTokens: decoded.Usage.OutputTokens,
				TotalTokens:  decoded.Usage.InputTokens + decoded.Usage.OutputTokens,
			},
		},
	}, nil
}

// Bedrock failure classes.
var (
	ErrAccessDenied = errors.New("bedrock: access denied, check the bedrock:InvokeModel IAM permission")
	ErrThrottled    = errors.New("bedrock: request throttled")
)

func classifyBedrockError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("bedrock: request failed: %w", err)
	}
	switch apiErr.ErrorCode() {
	case "AccessDeniedException":
		return fmt.Errorf("%w: %s", ErrAccessDenied, apiErr.ErrorMessage())
	case "ThrottlingException":
		return fmt.Errorf("%w: %s", ErrThrottled, apiErr.ErrorMessage())
	default:
		return fmt.Errorf("bedrock: api error [%s]: %w", apiErr.ErrorCode(), err)
	}
}
