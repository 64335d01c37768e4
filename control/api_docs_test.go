package main

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestGenerateOpenAPISpec_ValidJSON(t *testing.T) {
	raw := generateOpenAPISpec(7171)

	var spec map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		t.Fatalf("spec is not valid JSON: %v", err)
	}
	if spec["openapi"] != "3.0.3" {
		t.Errorf("openapi = %v, want 3.0.3", spec["openapi"])
	}

	servers := spec["servers"].([]interface{})
	if url := servers[0].(map[string]interface{})["url"]; url != "http://localhost:7171" {
		t.Errorf("server url = %v, want http://localhost:7171", url)
	}

	paths, ok := spec["paths"].(map[string]interface{})
	if !ok {
		t.Fatalf("paths is %T, want object", spec["paths"])
	}
	for _, p := range []string{
		"/api/track/download/{id}",
		"/api/album/download/{id}",
		"/api/playlist/download/{id}",
		"/api/artist/download/{id}",
		"/api/prgs/list",
		"/api/prgs/{taskID}",
		"/api/prgs/retry/{taskID}",
		"/api/prgs/cancel/all",
		"/api/history",
		"/api/history/{taskID}/tracks",
		"/api/playlist/watch/list",
		"/api/artist/watch/{id}",
		"/api/config",
		"/api/health",
		"/api/stats",
	} {
		if _, ok := paths[p]; !ok {
			t.Errorf("spec missing path %q", p)
		}
	}
}

func TestGenerateOpenAPISpec_PortInterpolation(t *testing.T) {
	raw := generateOpenAPISpec(9999)
	if !strings.Contains(raw, "http://localhost:9999") {
		t.Error("spec does not carry the configured port")
	}
}

func TestSwaggerUIHTML(t *testing.T) {
	html := swaggerUIHTML()
	for _, want := range []string{
		"swagger-ui-bundle.js",
		"/api/docs/swagger.json",
		"Spotizerr",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("swagger UI page missing %q", want)
		}
	}
}
