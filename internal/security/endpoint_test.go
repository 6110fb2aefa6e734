package security

import "testing"

func TestValidateEndpointURL_RejectsUnsafe(t *testing.T) {
	// IP literals and blocked hostnames only; no DNS resolution in tests.
	cases := []struct {
		name string
		url  string
	}{
		{"loopback", "http://127.0.0.1:8545"},
		{"private 10.x", "https://10.1.2.3/sign"},
		{"private 192.168.x", "http://192.168.1.50:3000"},
		{"link-local", "http://169.254.169.254/latest/meta-data"},
		{"unspecified", "http://0.0.0.0:8080"},
		{"localhost", "http://localhost:7470/execute"},
		{"cloud metadata", "http://metadata.google.internal/"},
		{"bad scheme", "ftp://signer.example.com"},
		{"no host", "https://"},
		{"garbage", "://not-a-url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateEndpointURL(tc.url); err == nil {
				t.Errorf("expected %s to be rejected", tc.url)
			}
		})
	}
}

func TestValidateEndpointURL_AllowsPublicIPLiteral(t *testing.T) {
	if err := ValidateEndpointURL("https://8.8.8.8/rpc"); err != nil {
		t.Fatalf("expected public IP literal to pass, got %v", err)
	}
}
