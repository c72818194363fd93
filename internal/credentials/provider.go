package credentials

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"media-uploader/internal/domain"
)

// Temporary is a time-boxed STS-style credential set held in memory only.
// Instances are never mutated in place; replacement swaps the whole value.
type Temporary struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ExpiresAt       time.Time
}

// Provider hands out the process-wide temporary credential. It rejects use of
// stale credentials but never refreshes them itself; refresh is an external,
// operator-driven act that deposits a new credential via Replace.
type Provider struct {
	current atomic.Pointer[Temporary]
	now     func() time.Time
}

func NewProvider(cred Temporary) *Provider {
	p := &Provider{now: time.Now}
	p.current.Store(&cred)
	return p
}

// NewProviderWithClock is intended for tests that need a deterministic clock.
func NewProviderWithClock(cred Temporary, now func() time.Time) *Provider {
	p := &Provider{now: now}
	p.current.Store(&cred)
	return p
}

// Current returns a snapshot of the active credential, or ErrCredentialExpired
// once its expiry has passed.
func (p *Provider) Current() (Temporary, error) {
	cred := p.current.Load()
	if !p.now().Before(cred.ExpiresAt) {
		return Temporary{}, fmt.Errorf("credential expired at %s: %w",
			cred.ExpiresAt.UTC().Format(time.RFC3339), domain.ErrCredentialExpired)
	}
	return *cred, nil
}

// Replace atomically installs a new credential. Concurrent readers observe
// either the old or the new value, never a mix.
func (p *Provider) Replace(cred Temporary) {
	p.current.Store(&cred)
}

// ExpiresAt reports the active credential's expiry without exposing its secrets.
func (p *Provider) ExpiresAt() time.Time {
	return p.current.Load().ExpiresAt
}

// AWS adapts the provider to the SDK credential interface so the S3 client and
// presigner are the only components reading the secret fields.
func (p *Provider) AWS() aws.CredentialsProviderFunc {
	return func(ctx context.Context) (aws.Credentials, error) {
		cred, err := p.Current()
		if err != nil {
			return aws.Credentials{}, err
		}
		return aws.Credentials{
			AccessKeyID:     cred.AccessKeyID,
			SecretAccessKey: cred.SecretAccessKey,
			SessionToken:    cred.SessionToken,
			CanExpire:       true,
			Expires:         cred.ExpiresAt,
			Source:          "media-uploader temporary credential",
		}, nil
	}
}
