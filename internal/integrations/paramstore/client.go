package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ErrParameterNotFound is returned when the named parameter does not exist.
var ErrParameterNotFound = errors.New("paramstore: parameter not found")

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Client wraps an AWS SSM API for parameter retrieval.
type Client struct {
	api ssmAPI
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %q", ErrParameterNotFound, name)
		}
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return strings.TrimSpace(*out.Parameter.Value), nil
}

// CoreAPISettings are the runtime settings for reaching the core API.
type CoreAPISettings struct {
	BaseURL     string
	SendTimeout time.Duration
}

// LoadCoreAPISettings reads <prefix>/core_api_base_url (required) and
// <prefix>/send_timeout (optional Go duration, falls back to def).
func (c *Client) LoadCoreAPISettings(ctx context.Context, prefix string, def time.Duration) (CoreAPISettings, error) {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return CoreAPISettings{}, errors.New("paramstore: parameter prefix must not be empty")
	}

	baseURL, err := c.GetParameter(ctx, prefix+"/core_api_base_url")
	if err != nil {
		return CoreAPISettings{}, fmt.Errorf("paramstore: load core api base url: %w", err)
	}

	settings := CoreAPISettings{BaseURL: baseURL, SendTimeout: def}
	raw, err := c.GetParameter(ctx, prefix+"/send_timeout")
	switch {
	case errors.Is(err, ErrParameterNotFound):
	case err != nil:
		return CoreAPISettings{}, fmt.Errorf("paramstore: load send timeout: %w", err)
	default:
		d, perr := time.ParseDuration(raw)
		if perr != nil || d <= 0 {
			return CoreAPISettings{}, fmt.Errorf("paramstore: invalid send timeout %q", raw)
		}
		settings.SendTimeout = d
	}
	return settings, nil
}
