package clients

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ajitpratap0/hubble/pkg/errors"
)

// TokenProvider yields the bearer token attached to outgoing API requests.
// The client calls it once per request, so providers that refresh must cache
// internally.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenProvider serves a fixed API token. This is the common case for
// upstream APIs authenticated with a long-lived personal token.
type StaticTokenProvider struct {
	source oauth2.TokenSource
}

// NewStaticTokenProvider wraps apiToken as a bearer token.
func NewStaticTokenProvider(apiToken string) *StaticTokenProvider {
	return &StaticTokenProvider{
		source: oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: apiToken,
			TokenType:   "Bearer",
		}),
	}
}

// Token implements TokenProvider.
func (p *StaticTokenProvider) Token(context.Context) (string, error) {
	tok, err := p.source.Token()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to obtain token")
	}
	return tok.AccessToken, nil
}

// ClientCredentialsProvider obtains and refreshes tokens via the OAuth2
// client-credentials grant. Tokens are cached and renewed by the underlying
// source before expiry.
type ClientCredentialsProvider struct {
	source oauth2.TokenSource
}

// NewClientCredentialsProvider builds a provider for the given token
// endpoint. scopes may be nil.
func NewClientCredentialsProvider(ctx context.Context, clientID, clientSecret, tokenURL string, scopes []string) *ClientCredentialsProvider {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
	return &ClientCredentialsProvider{source: cfg.TokenSource(ctx)}
}

// Token implements TokenProvider.
func (p *ClientCredentialsProvider) Token(context.Context) (string, error) {
	tok, err := p.source.Token()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to obtain token")
	}
	return tok.AccessToken, nil
}
