package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"
)

// SecretsAPI is the Secrets Manager surface used by the engine.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// MirrorCredentials are credentials for a package mirror, stored in Secrets
// Manager as {"<alias>": {"username": "...", "password": "..."}}.
type MirrorCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// GetMirrorCredentials fetches and decodes mirror credentials. The secret
// name may carry an alias suffix as "<name>::<alias>"; without one the alias
// defaults to defaultAlias. Malformed JSON or a missing alias entry is a
// configuration error, never a silent skip.
func GetMirrorCredentials(ctx context.Context, api SecretsAPI, secretName, defaultAlias string) (*MirrorCredentials, error) {
	name, alias := secretName, defaultAlias
	if idx := strings.Index(secretName, "::"); idx >= 0 {
		name, alias = secretName[:idx], secretName[idx+2:]
	}

	out, err := api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return nil, seeder.NewError(seeder.ErrCodeConfiguration,
			fmt.Sprintf("secret %q could not be retrieved", name), err)
	}

	entries := map[string]MirrorCredentials{}
	if err := json.Unmarshal([]byte(aws.ToString(out.SecretString)), &entries); err != nil {
		return nil, seeder.NewError(seeder.ErrCodeConfiguration,
			fmt.Sprintf("secret %q is not valid credential JSON", name), err)
	}

	creds, ok := entries[alias]
	if !ok {
		return nil, seeder.NewError(seeder.ErrCodeConfiguration,
			fmt.Sprintf("secret %q has no entry for alias %q", name, alias), nil)
	}
	if creds.Username == "" || creds.Password == "" {
		return nil, seeder.NewError(seeder.ErrCodeConfiguration,
			fmt.Sprintf("secret %q alias %q is missing username or password", name, alias), nil)
	}
	return &creds, nil
}
