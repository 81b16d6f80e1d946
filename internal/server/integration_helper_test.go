package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leslieo2/depwatch/internal/config"
)

// testServer holds information about a running test server.
type testServer struct {
	baseURL    string
	metricsURL string
}

// startTestServer runs Serve on dynamic ports for integration tests and
// returns a cleanup function that cancels it and waits for shutdown.
func startTestServer(t *testing.T, cfg *config.Config, deps Deps) (*testServer, func()) {
	t.Helper()

	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			tmpDir := t.TempDir()
			certFile, keyFile, err := generateTestCertificates(tmpDir)
			if err != nil {
				t.Fatalf("Failed to generate test certificates: %v", err)
			}
			cfg.TLS.CertFile = certFile
			cfg.TLS.KeyFile = keyFile
		}
	}

	apiLn, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("Failed to listen on a dynamic port: %v", err)
	}
	metricsLn, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		apiLn.Close()
		t.Fatalf("Failed to listen on a dynamic metrics port: %v", err)
	}

	appServer, err := New(cfg, deps)
	if err != nil {
		apiLn.Close()
		metricsLn.Close()
		t.Fatalf("Failed to create server: %v", err)
	}

	protocol := "http"
	if cfg.TLS.Enabled {
		protocol = "https"
	}
	ts := &testServer{
		baseURL:    fmt.Sprintf("%s://localhost:%d", protocol, apiLn.Addr().(*net.TCPAddr).Port),
		metricsURL: fmt.Sprintf("http://localhost:%d", metricsLn.Addr().(*net.TCPAddr).Port),
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- appServer.Serve(ctx, apiLn, metricsLn)
	}()

	waitForServerReady(t, ts.baseURL, cfg.TLS.Enabled)

	cleanup := func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Test server returned an error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Test server did not shut down in time")
		}
	}

	return ts, cleanup
}

func waitForServerReady(t *testing.T, baseURL string, tlsEnabled bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)

	client := &http.Client{Timeout: 1 * time.Second}
	if tlsEnabled {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	healthURL := baseURL + "/health"

	for time.Now().Before(deadline) {
		resp, err := client.Get(healthURL)
		if err == nil {
			_ = resp.Body.Close()
			// Any response from the server means it's up.
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Server at %s failed to start within timeout", baseURL)
}

func generateTestCertificates(tmpDir string) (string, string, error) {
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", "", err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privKey.PublicKey, privKey)
	if err != nil {
		return "", "", err
	}

	certFile := filepath.Join(tmpDir, "test-cert.pem")
	certOut, _ := os.Create(certFile)
	defer certOut.Close()
	if err = pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: certDER}); err != nil {
		return "", "", err
	}

	keyFile := filepath.Join(tmpDir, "test-key.pem")
	keyOut, _ := os.Create(keyFile)
	defer keyOut.Close()

	privKeyBytes, err := x509.MarshalPKCS8PrivateKey(privKey)
	if err != nil {
		return "", "", err
	}
	if err = pem.Encode(keyOut, &pem.Block{Type: "PRIVATE KEY", Bytes: privKeyBytes}); err != nil {
		return "", "", err
	}

	return certFile, keyFile, nil
}
