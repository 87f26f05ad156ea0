// Package github implements the remote ports (pull request search, review
// threads, notifications) against the GitHub API. REST calls go through
// go-github; the review-thread graph, which REST does not expose with stable
// thread ids, goes through a small GraphQL client.
package github

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	gogithub "github.com/google/go-github/v72/github"
	"golang.org/x/oauth2"

	"github.com/bkyoung/reviewsync/internal/remote"
)

const defaultRESTBaseURL = "https://api.github.com/"

// Config configures a Client.
type Config struct {
	Token       string
	RESTBaseURL string
	GraphQLURL  string
	HTTPClient  *http.Client

	// Repo is the repository thread operations are scoped to.
	Repo *remote.Identity
}

// Client talks to the GitHub API for one repository.
type Client struct {
	rest    *gogithub.Client
	graphql *graphqlClient
	repo    *remote.Identity
}

// NewClient builds a client with an oauth2 static-token transport.
func NewClient(cfg Config) (*Client, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	if cfg.Token != "" {
		baseTransport := httpClient.Transport
		if baseTransport == nil {
			baseTransport = http.DefaultTransport
		}
		httpClient = &http.Client{
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}),
				Base:   baseTransport,
			},
			Timeout: httpClient.Timeout,
		}
	}

	restClient := gogithub.NewClient(httpClient)
	baseURL := cfg.RESTBaseURL
	if baseURL == "" {
		baseURL = defaultRESTBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse REST base URL %q: %w", baseURL, err)
	}
	restClient.BaseURL = parsed

	return &Client{
		rest:    restClient,
		graphql: newGraphQLClient(cfg.GraphQLURL, cfg.Token, cfg.HTTPClient),
		repo:    cfg.Repo,
	}, nil
}

// Repo returns the repository identity this client is scoped to.
func (c *Client) Repo() *remote.Identity {
	return c.repo
}
