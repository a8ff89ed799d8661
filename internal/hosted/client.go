package hosted

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/schema"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// NewHTTPClient returns an HTTP client with the retry policy, the TLS toggle and bearer auth applied.
// cfg.Timeout bounds each attempt until response headers arrive; the policy bounds retries.
func NewHTTPClient(cfg contract.APIConfig, policy RetryPolicy, logger logrus.FieldLogger) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.Insecure, //nolint:gosec // internal servers use self-signed certificates
	}
	if cfg.Timeout > 0 {
		base.ResponseHeaderTimeout = cfg.Timeout
	}
	client := &http.Client{Transport: &Transport{Base: base, Policy: policy, Logger: logger}}
	if cfg.Token == "" {
		return client
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
}

// NewClient builds the HostedClient for the configured platform.
func NewClient(cfg contract.APIConfig, logger logrus.FieldLogger) (contract.HostedClient, error) {
	httpClient := NewHTTPClient(cfg, PolicyFromConfig(cfg), logger)
	switch cfg.Platform {
	case schema.BitbucketPlatform, "":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("bitbucket client needs a base url")
		}
		return NewBitbucketClient(httpClient, cfg.BaseURL, cfg.PageSize), nil
	case schema.GitHubPlatform:
		return NewGitHubClient(httpClient, cfg.BaseURL, cfg.PageSize)
	}
	return nil, fmt.Errorf("unsupported api platform: %s", cfg.Platform)
}
