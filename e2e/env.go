//go:build e2e

// Package e2e exercises a running hyperdrive node through its gateway.
// Start one with `hyperdrive serve` and point HYPERDRIVE_GATEWAY_URL at it.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func gatewayBaseURL() string {
	return strings.TrimRight(getEnv("HYPERDRIVE_GATEWAY_URL", "http://127.0.0.1:8080"), "/")
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// requireGateway skips the test when no node answers on the gateway URL.
func requireGateway(t *testing.T) string {
	t.Helper()
	base := gatewayBaseURL()
	resp, err := httpClient().Get(base + "/health")
	if err != nil {
		t.Skipf("gateway %s not reachable: %v", base, err)
	}
	resp.Body.Close()
	return base
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s response: %v", url, err)
		}
	}
	return resp.StatusCode
}

func uniqueTarget(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
