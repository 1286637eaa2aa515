package modelconfig

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SSMAPI is the subset of the SSM client used to fetch the config parameter.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

var _ SSMAPI = (*ssm.Client)(nil)

// SSMProvider is a koanf provider that reads a single (possibly encrypted)
// SSM parameter whose value is a JSON document.
type SSMProvider struct {
	ctx    context.Context
	client SSMAPI
	name   string
}

// NewSSMProvider returns a provider for the named parameter.
func NewSSMProvider(ctx context.Context, client SSMAPI, name string) *SSMProvider {
	return &SSMProvider{ctx: ctx, client: client, name: name}
}

// ReadBytes fetches the parameter value with decryption enabled.
func (p *SSMProvider) ReadBytes() ([]byte, error) {
	out, err := p.client.GetParameter(p.ctx, &ssm.GetParameterInput{
		Name:           aws.String(p.name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get parameter %s: %w", p.name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, fmt.Errorf("parameter %s has no value", p.name)
	}
	return []byte(aws.ToString(out.Parameter.Value)), nil
}

// Read is not supported; the provider must be paired with a parser.
func (p *SSMProvider) Read() (map[string]any, error) {
	return nil, errors.New("ssm provider does not support this method")
}
