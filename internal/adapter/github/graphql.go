package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultGraphQLURL = "https://api.github.com/graphql"

// graphqlClient is a minimal GraphQL transport for the handful of review
// thread operations the REST API does not cover (thread listing with node
// ids, resolve/unresolve, thread replies).
type graphqlClient struct {
	httpClient *http.Client
	endpoint   string
	token      string
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlErrorMessage struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage       `json:"data"`
	Errors []graphqlErrorMessage `json:"errors"`
}

func newGraphQLClient(endpoint, token string, httpClient *http.Client) *graphqlClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if endpoint == "" {
		endpoint = defaultGraphQLURL
	}
	return &graphqlClient{
		httpClient: httpClient,
		endpoint:   endpoint,
		token:      token,
	}
}

// query runs one GraphQL operation and unmarshals the data payload into out.
func (c *graphqlClient) query(ctx context.Context, query string, variables map[string]any, out any) error {
	payload := graphqlRequest{Query: query, Variables: variables}
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("create graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute graphql request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read graphql response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return mapStatusError("graphql", resp.StatusCode, body)
	}

	var parsed graphqlResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("decode graphql response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		messages := make([]string, len(parsed.Errors))
		for i, e := range parsed.Errors {
			messages[i] = e.Message
		}
		return fmt.Errorf("graphql: %s", strings.Join(messages, "; "))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(parsed.Data, out); err != nil {
		return fmt.Errorf("decode graphql data: %w", err)
	}
	return nil
}
