package upstreamclient

import (
	"context"
	"fmt"
	"net/http"
)

// nativeDialect speaks the vendor's own API: bearer auth, model carried in
// the body.
type nativeDialect struct {
	baseURL string
}

func (d *nativeDialect) prepareBody(body map[string]any) map[string]any {
	return body
}

func (d *nativeDialect) buildRequest(ctx context.Context, key string, payload []byte) (*http.Request, error) {
	url := d.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, newBodyReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	return req, nil
}

// deploymentDialect speaks the deployment-scoped variant: api-key header,
// deployment name (not the model field) selects the model, api-version is a
// query parameter.
type deploymentDialect struct {
	endpoint   string
	deployment string
	apiVersion string
}

func (d *deploymentDialect) prepareBody(body map[string]any) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		if k == "model" {
			continue
		}
		out[k] = v
	}
	return out
}

func (d *deploymentDialect) buildRequest(ctx context.Context, key string, payload []byte) (*http.Request, error) {
	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s", d.endpoint, d.deployment, d.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, newBodyReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", key)
	return req, nil
}
