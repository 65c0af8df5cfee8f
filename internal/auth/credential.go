// Package auth produces the access tokens passed to the table service on
// every create and load.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/arkilian/memstress/internal/table"
	"github.com/aws/aws-sdk-go-v2/aws"
)

// Token is a set of storage options valid until ExpiresAt. A zero ExpiresAt
// means the token does not expire.
type Token struct {
	Options   table.StorageOptions
	ExpiresAt time.Time
}

// Bearer returns the bearer token option, if any.
func (t Token) Bearer() string {
	return t.Options[table.OptionBearerToken]
}

// Expired reports whether the token has expired at now.
func (t Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// Credential fetches a fresh token on demand.
type Credential interface {
	Token(ctx context.Context) (Token, error)
}

// StaticCredential always returns the same bearer token. An empty token
// yields no options.
type StaticCredential struct {
	BearerToken string
}

// Token implements Credential.
func (c StaticCredential) Token(ctx context.Context) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	opts := table.StorageOptions{}
	if c.BearerToken != "" {
		opts[table.OptionBearerToken] = c.BearerToken
	}
	return Token{Options: opts}, nil
}

// AWSCredential resolves credentials from an AWS provider chain and renders
// them as storage options.
type AWSCredential struct {
	Provider aws.CredentialsProvider
}

// NewAWSCredential wraps the credentials of a resolved AWS configuration.
func NewAWSCredential(cfg aws.Config) *AWSCredential {
	return &AWSCredential{Provider: cfg.Credentials}
}

// Token implements Credential.
func (c *AWSCredential) Token(ctx context.Context) (Token, error) {
	if c.Provider == nil {
		return Token{}, fmt.Errorf("no AWS credentials provider configured")
	}
	creds, err := c.Provider.Retrieve(ctx)
	if err != nil {
		return Token{}, fmt.Errorf("failed to retrieve AWS credentials: %w", err)
	}
	opts := table.StorageOptions{
		table.OptionAccessKeyID:     creds.AccessKeyID,
		table.OptionSecretAccessKey: creds.SecretAccessKey,
	}
	if creds.SessionToken != "" {
		opts[table.OptionSessionToken] = creds.SessionToken
	}
	tok := Token{Options: opts}
	if creds.CanExpire {
		tok.ExpiresAt = creds.Expires
	}
	return tok, nil
}
