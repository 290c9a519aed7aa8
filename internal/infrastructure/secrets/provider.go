// Package secrets loads provider credentials from AWS Secrets Manager.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"

	ofclient "finsync/internal/infrastructure/openfinance"
	"finsync/internal/shared/errs"
)

// ManagerAPI is the subset of the Secrets Manager client used here.
type ManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// providerSecret is the JSON document stored in the secret.
type providerSecret struct {
	SecretID       string `json:"secret_id"`
	SecretPassword string `json:"secret_password"`
}

// Loader reads the provider's basic-auth pair from one secret.
type Loader struct {
	api        ManagerAPI
	secretName string
}

// NewLoader creates a loader using the default AWS credential chain.
func NewLoader(ctx context.Context, secretName, region, endpoint string) (*Loader, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	api := secretsmanager.NewFromConfig(cfg, func(o *secretsmanager.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewLoaderWithAPI(api, secretName), nil
}

// NewLoaderWithAPI wraps an existing client.
func NewLoaderWithAPI(api ManagerAPI, secretName string) *Loader {
	return &Loader{api: api, secretName: secretName}
}

// ProviderCredentials fetches and decodes the credentials.
func (l *Loader) ProviderCredentials(ctx context.Context) (ofclient.Credentials, error) {
	out, err := l.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(l.secretName),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ResourceNotFoundException" {
			return ofclient.Credentials{}, errs.New(errs.ErrNotFound, fmt.Sprintf("secret %s not found", l.secretName))
		}
		return ofclient.Credentials{}, fmt.Errorf("failed to get secret %s: %w", l.secretName, err)
	}

	raw := aws.ToString(out.SecretString)
	if raw == "" && out.SecretBinary != nil {
		raw = string(out.SecretBinary)
	}

	var s providerSecret
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return ofclient.Credentials{}, errs.New(errs.ErrValidation, fmt.Sprintf("secret %s is not valid JSON", l.secretName))
	}
	if s.SecretID == "" || s.SecretPassword == "" {
		return ofclient.Credentials{}, errs.New(errs.ErrValidation, fmt.Sprintf("secret %s lacks secret_id or secret_password", l.secretName))
	}

	return ofclient.Credentials{SecretID: s.SecretID, SecretPassword: s.SecretPassword}, nil
}
