package signing

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mrhapile/wacz/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testHash    = "sha256:0f1e2d3c4b5a69788796a5b4c3d2e1f00f1e2d3c4b5a69788796a5b4c3d2e1f0"
	testCreated = "2024-03-01T12:00:00Z"
)

func TestRemoteSigner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "bearer secret", r.Header.Get("Authorization"))
		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, testHash, req.Hash)
		assert.Equal(t, testCreated, req.Created)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"hash":      req.Hash,
			"created":   req.Created,
			"signature": "c2ln",
		})
	}))
	defer srv.Close()

	s := &RemoteSigner{URL: srv.URL, Token: "secret"}
	raw, err := s.Sign(context.Background(), testHash, testCreated)
	require.NoError(t, err)

	var sd types.SignedData
	require.NoError(t, json.Unmarshal(raw, &sd))
	assert.Equal(t, testHash, sd.Hash)
	assert.Equal(t, "c2ln", sd.Signature)

	t.Run("non-200 is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()
		_, err := (&RemoteSigner{URL: srv.URL}).Sign(context.Background(), testHash, testCreated)
		assert.ErrorContains(t, err, "401")
	})

	t.Run("non-object body is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `"just a string"`)
		}))
		defer srv.Close()
		_, err := (&RemoteSigner{URL: srv.URL}).Sign(context.Background(), testHash, testCreated)
		assert.Error(t, err)
	})
}

func TestRemoteVerifier(t *testing.T) {
	signed := json.RawMessage(`{"hash":"` + testHash + `","created":"` + testCreated + `","extra":{"kept":true}}`)

	t.Run("200 means verified and the body is passed through", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			assert.JSONEq(t, string(signed), string(body))
		}))
		defer srv.Close()
		assert.NoError(t, (&RemoteVerifier{URL: srv.URL}).Verify(context.Background(), signed))
	})

	t.Run("other statuses are not verified", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()
		err := (&RemoteVerifier{URL: srv.URL}).Verify(context.Background(), signed)
		assert.ErrorIs(t, err, ErrNotVerified)
	})

	t.Run("a hung verifier times out after one attempt", func(t *testing.T) {
		var calls atomic.Int32
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			select {
			case <-r.Context().Done():
			case <-release:
			}
		}))
		defer srv.Close()
		defer close(release)

		start := time.Now()
		err := (&RemoteVerifier{URL: srv.URL, Timeout: 50 * time.Millisecond}).Verify(context.Background(), signed)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 5*time.Second)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("unreachable verifier", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		assert.Error(t, (&RemoteVerifier{URL: url}).Verify(context.Background(), signed))
	})
}

type testCert struct {
	key     crypto.Signer
	certPEM []byte
	cert    *x509.Certificate
}

func newCert(t *testing.T, key crypto.Signer, notBefore, notAfter time.Time) testCert {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "signer.example.org"},
		DNSNames:              []string{"signer.example.org"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return testCert{
		key:     key,
		cert:    cert,
		certPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}
}

func ecdsaCert(t *testing.T) testCert {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	created, _ := time.Parse(time.RFC3339, testCreated)
	return newCert(t, key, created.Add(-24*time.Hour), created.Add(24*time.Hour))
}

func TestKeySignerAndCertVerifier(t *testing.T) {
	tc := ecdsaCert(t)
	signer := &KeySigner{Key: tc.key, CertPEM: string(tc.certPEM), Domain: "signer.example.org", Software: "test"}
	ctx := context.Background()

	signed, err := signer.Sign(ctx, testHash, testCreated)
	require.NoError(t, err)

	var sd types.SignedData
	require.NoError(t, json.Unmarshal(signed, &sd))
	assert.Equal(t, testHash, sd.Hash)
	assert.Equal(t, testCreated, sd.Created)
	assert.Equal(t, "signer.example.org", sd.Domain)

	t.Run("verifies", func(t *testing.T) {
		assert.NoError(t, (&CertVerifier{}).Verify(ctx, signed))
	})

	t.Run("verifies against configured roots", func(t *testing.T) {
		roots := x509.NewCertPool()
		roots.AddCert(tc.cert)
		assert.NoError(t, (&CertVerifier{Roots: roots}).Verify(ctx, signed))
	})

	t.Run("unknown root", func(t *testing.T) {
		other := ecdsaCert(t)
		roots := x509.NewCertPool()
		roots.AddCert(other.cert)
		assert.ErrorIs(t, (&CertVerifier{Roots: roots}).Verify(ctx, signed), ErrNotVerified)
	})

	t.Run("tampered hash", func(t *testing.T) {
		bad := sd
		bad.Hash = "sha256:00"
		raw, err := json.Marshal(bad)
		require.NoError(t, err)
		assert.ErrorIs(t, (&CertVerifier{}).Verify(ctx, raw), ErrNotVerified)
	})

	t.Run("created outside certificate validity", func(t *testing.T) {
		late, err := signer.Sign(ctx, testHash, "2030-01-01T00:00:00Z")
		require.NoError(t, err)
		assert.ErrorIs(t, (&CertVerifier{}).Verify(ctx, late), ErrNotVerified)
	})

	t.Run("no signature", func(t *testing.T) {
		raw := json.RawMessage(`{"hash":"` + testHash + `","created":"` + testCreated + `"}`)
		assert.ErrorIs(t, (&CertVerifier{}).Verify(ctx, raw), ErrNoSignature)
	})
}

func TestEd25519PublicKey(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)

	sig := ed25519.Sign(priv, []byte(testHash))
	raw, err := json.Marshal(types.SignedData{
		Hash:      testHash,
		Created:   testCreated,
		Signature: base64.StdEncoding.EncodeToString(sig),
		PublicKey: base64.StdEncoding.EncodeToString(der),
	})
	require.NoError(t, err)
	assert.NoError(t, (&CertVerifier{}).Verify(context.Background(), raw))
}

func TestLoadKeySigner(t *testing.T) {
	tc := ecdsaCert(t)
	keyDER, err := x509.MarshalPKCS8PrivateKey(tc.key)
	require.NoError(t, err)

	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key.pem")
	certPath := filepath.Join(dir, "cert.pem")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0o600))
	require.NoError(t, os.WriteFile(certPath, tc.certPEM, 0o644))

	signer, err := LoadKeySigner(keyPath, certPath)
	require.NoError(t, err)
	assert.Equal(t, "signer.example.org", signer.Domain)

	signed, err := signer.Sign(context.Background(), testHash, testCreated)
	require.NoError(t, err)
	assert.NoError(t, (&CertVerifier{}).Verify(context.Background(), signed))

	t.Run("mismatched key", func(t *testing.T) {
		other := ecdsaCert(t)
		require.NoError(t, os.WriteFile(certPath, other.certPEM, 0o644))
		_, err := LoadKeySigner(keyPath, certPath)
		assert.Error(t, err)
	})
}
