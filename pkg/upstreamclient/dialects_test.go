package upstreamclient

import (
	"context"
	"strings"
	"testing"
)

func TestNativeDialectBuildRequest(t *testing.T) {
	d := &nativeDialect{baseURL: "https://api.openai.com/v1"}

	body := d.prepareBody(map[string]any{"model": "gpt-4o-mini"})
	if body["model"] != "gpt-4o-mini" {
		t.Error("native dialect must keep the model field")
	}

	req, err := d.buildRequest(context.Background(), "sk-live-123", []byte(`{}`))
	if err != nil {
		t.Fatalf("buildRequest() error: %v", err)
	}
	if req.URL.String() != "https://api.openai.com/v1/chat/completions" {
		t.Errorf("unexpected URL: %s", req.URL.String())
	}
	if req.Header.Get("Authorization") != "Bearer sk-live-123" {
		t.Errorf("unexpected Authorization header: %s", req.Header.Get("Authorization"))
	}
}

func TestDeploymentDialectDropsModel(t *testing.T) {
	d := &deploymentDialect{endpoint: "https://my-resource.openai.azure.com", deployment: "gpt4-deploy", apiVersion: "2024-02-01"}

	body := d.prepareBody(map[string]any{"model": "gpt-4", "messages": []any{}})
	if _, ok := body["model"]; ok {
		t.Error("deployment-scoped dialect must drop the model field")
	}
	if _, ok := body["messages"]; !ok {
		t.Error("deployment-scoped dialect must keep other fields")
	}

	req, err := d.buildRequest(context.Background(), "az-key-123", []byte(`{}`))
	if err != nil {
		t.Fatalf("buildRequest() error: %v", err)
	}
	if !strings.Contains(req.URL.String(), "/openai/deployments/gpt4-deploy/chat/completions") {
		t.Errorf("unexpected URL: %s", req.URL.String())
	}
	if !strings.Contains(req.URL.String(), "api-version=2024-02-01") {
		t.Errorf("missing api-version query param: %s", req.URL.String())
	}
	if req.Header.Get("api-key") != "az-key-123" {
		t.Errorf("unexpected api-key header: %s", req.Header.Get("api-key"))
	}
	if req.Header.Get("Authorization") != "" {
		t.Error("deployment-scoped dialect must not set an Authorization header")
	}
}
