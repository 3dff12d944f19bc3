package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SecretProvider resolves parameter paths to plaintext values.
type SecretProvider interface {
	// GetParametersBatch returns values keyed by path. Paths that do not
	// exist are absent from the map rather than reported as errors.
	GetParametersBatch(ctx context.Context, paths []string) (map[string]string, error)
}

// ssmMaxBatch is the GetParameters API limit.
const ssmMaxBatch = 10

// ssmClient is the subset of the SSM API used by SSMProvider.
type ssmClient interface {
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// SSMProvider resolves SecureString parameters from AWS SSM Parameter Store.
type SSMProvider struct {
	client ssmClient
}

// NewSSMProvider builds a provider from a loaded AWS config.
func NewSSMProvider(awsCfg aws.Config, optFns ...func(*ssm.Options)) *SSMProvider {
	return &SSMProvider{client: ssm.NewFromConfig(awsCfg, optFns...)}
}

func newSSMProviderWithClient(client ssmClient) *SSMProvider {
	return &SSMProvider{client: client}
}

// GetParametersBatch fetches paths in groups of ten with decryption enabled.
func (p *SSMProvider) GetParametersBatch(ctx context.Context, paths []string) (map[string]string, error) {
	out := make(map[string]string, len(paths))
	for start := 0; start < len(paths); start += ssmMaxBatch {
		end := min(start+ssmMaxBatch, len(paths))
		resp, err := p.client.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          paths[start:end],
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("ssm get parameters [%d:%d]: %w", start, end, err)
		}
		for _, param := range resp.Parameters {
			out[aws.ToString(param.Name)] = aws.ToString(param.Value)
		}
	}
	return out, nil
}

// StaticProvider serves parameters from memory. job-runner builds one from
// --secrets-file to resolve *_SSM_PARAM pointers without AWS.
type StaticProvider map[string]string

// LoadStaticProvider reads a JSON object mapping parameter paths to values.
func LoadStaticProvider(path string) (StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	var p StaticProvider
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", path, err)
	}
	if p == nil {
		p = StaticProvider{}
	}
	return p, nil
}

// GetParametersBatch implements SecretProvider.
func (s StaticProvider) GetParametersBatch(_ context.Context, paths []string) (map[string]string, error) {
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		if v, ok := s[p]; ok {
			out[p] = v
		}
	}
	return out, nil
}
