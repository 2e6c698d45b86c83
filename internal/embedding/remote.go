package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// RemoteClient calls an OpenAI-style embeddings endpoint with a bearer credential.
type RemoteClient struct {
	endpoint string
	apiKey   string
	model    string
	dims     int
	client   *http.Client
}

// NewRemoteClient creates a remote embedding client. model is the identifier
// sent with every request; dims is the expected embedding dimensionality.
func NewRemoteClient(endpoint, apiKey, model string, dims int) *RemoteClient {
	return &RemoteClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		dims:     dims,
		client:   http.DefaultClient,
	}
}

type embeddingsRequest struct {
	Input          string `json:"input"`
	Model          string `json:"model"`
	EncodingFormat string `json:"encoding_format"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed requests an embedding using the stored credential.
func (c *RemoteClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.EmbedWithKey(ctx, text, "")
}

// EmbedWithKey requests an embedding. keyOverride, when non-empty, takes
// precedence over the stored credential. Non-2xx responses are returned as
// *RemoteError carrying the upstream status and body.
func (c *RemoteClient) EmbedWithKey(ctx context.Context, text, keyOverride string) ([]float32, error) {
	body, err := json.Marshal(embeddingsRequest{
		Input:          text,
		Model:          c.model,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	key := c.apiKey
	if keyOverride != "" {
		key = keyOverride
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &RemoteError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &RemoteError{Status: resp.StatusCode, Body: string(b)}
	}
	var out embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &RemoteError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, &RemoteError{Err: fmt.Errorf("response contains no embedding")}
	}
	return out.Data[0].Embedding, nil
}

// Dimensions returns the configured embedding dimension.
func (c *RemoteClient) Dimensions() int { return c.dims }

// Close is a no-op for RemoteClient.
func (c *RemoteClient) Close() error { return nil }
