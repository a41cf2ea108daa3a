package signing

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mrhapile/wacz/pkg/types"
)

const createdLayout = "2006-01-02T15:04:05Z"

// CertVerifier checks a signature block locally. The signature must be
// made by the key of the leaf certificate in domainCert (or by publicKey
// when no certificate is present), and the signing time must fall inside
// the certificate's validity window.
type CertVerifier struct {
	// Roots, when set, must anchor the certificate chain.
	Roots *x509.CertPool
}

func (v *CertVerifier) Verify(_ context.Context, signedData json.RawMessage) error {
	var sd types.SignedData
	if err := json.Unmarshal(signedData, &sd); err != nil {
		return fmt.Errorf("decoding signed data: %w", err)
	}
	if sd.Signature == "" {
		return ErrNoSignature
	}
	sig, err := decodeBase64(sd.Signature)
	if err != nil {
		return fmt.Errorf("decoding signature: %w", err)
	}
	created, err := time.Parse(time.RFC3339, sd.Created)
	if err != nil {
		return fmt.Errorf("invalid created time %q: %w", sd.Created, err)
	}

	var pub crypto.PublicKey
	switch {
	case sd.DomainCert != "":
		chain, err := parseCertificates([]byte(sd.DomainCert))
		if err != nil {
			return err
		}
		leaf := chain[0]
		if created.Before(leaf.NotBefore) || created.After(leaf.NotAfter) {
			return fmt.Errorf("%w: signed at %s outside certificate validity %s to %s", ErrNotVerified,
				sd.Created, leaf.NotBefore.UTC().Format(createdLayout), leaf.NotAfter.UTC().Format(createdLayout))
		}
		if sd.Domain != "" {
			if err := leaf.VerifyHostname(sd.Domain); err != nil {
				return fmt.Errorf("%w: %v", ErrNotVerified, err)
			}
		}
		if v.Roots != nil {
			intermediates := x509.NewCertPool()
			for _, c := range chain[1:] {
				intermediates.AddCert(c)
			}
			_, err := leaf.Verify(x509.VerifyOptions{
				Roots:         v.Roots,
				Intermediates: intermediates,
				CurrentTime:   created,
				KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
			})
			if err != nil {
				return fmt.Errorf("%w: %v", ErrNotVerified, err)
			}
		}
		pub = leaf.PublicKey

	case sd.PublicKey != "":
		pub, err = parsePublicKey(sd.PublicKey)
		if err != nil {
			return err
		}

	default:
		return errors.New("signed data has neither domainCert nor publicKey")
	}

	return verifySignature(pub, sd.Hash, sig)
}

func verifySignature(pub crypto.PublicKey, hash string, sig []byte) error {
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		digest := sha256.Sum256([]byte(hash))
		if !ecdsa.VerifyASN1(key, digest[:], sig) {
			return fmt.Errorf("%w: ecdsa signature does not match hash", ErrNotVerified)
		}
	case ed25519.PublicKey:
		if !ed25519.Verify(key, []byte(hash), sig) {
			return fmt.Errorf("%w: ed25519 signature does not match hash", ErrNotVerified)
		}
	default:
		return fmt.Errorf("unsupported public key type %T", pub)
	}
	return nil
}

// KeySigner signs locally with a private key and its certificate. Its
// output has the shape produced by remote signing services.
type KeySigner struct {
	Key      crypto.Signer
	CertPEM  string
	Domain   string
	Software string
}

// LoadKeySigner reads a PEM private key (ECDSA or Ed25519) and the PEM
// certificate chain whose leaf holds the matching public key.
func LoadKeySigner(keyPath, certPath string) (*KeySigner, error) {
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading signing key: %w", err)
	}
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("reading signing certificate: %w", err)
	}
	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}
	chain, err := parseCertificates(certPEM)
	if err != nil {
		return nil, err
	}
	leaf := chain[0]
	type equaler interface{ Equal(crypto.PublicKey) bool }
	if pk, ok := key.Public().(equaler); !ok || !pk.Equal(leaf.PublicKey) {
		return nil, errors.New("signing key does not match certificate")
	}
	domain := leaf.Subject.CommonName
	if len(leaf.DNSNames) > 0 {
		domain = leaf.DNSNames[0]
	}
	return &KeySigner{Key: key, CertPEM: string(certPEM), Domain: domain}, nil
}

func (s *KeySigner) Sign(_ context.Context, hash, created string) (json.RawMessage, error) {
	var (
		sig []byte
		err error
	)
	switch s.Key.Public().(type) {
	case *ecdsa.PublicKey:
		digest := sha256.Sum256([]byte(hash))
		sig, err = s.Key.Sign(rand.Reader, digest[:], crypto.SHA256)
	case ed25519.PublicKey:
		sig, err = s.Key.Sign(rand.Reader, []byte(hash), crypto.Hash(0))
	default:
		return nil, fmt.Errorf("unsupported signing key type %T", s.Key.Public())
	}
	if err != nil {
		return nil, fmt.Errorf("signing hash: %w", err)
	}
	return types.MarshalCompact(types.SignedData{
		Hash:       hash,
		Created:    created,
		Software:   s.Software,
		Signature:  base64.StdEncoding.EncodeToString(sig),
		Domain:     s.Domain,
		DomainCert: s.CertPEM,
	})
}

func parsePrivateKey(data []byte) (crypto.Signer, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, errors.New("no private key found in PEM data")
		}
		switch block.Type {
		case "EC PRIVATE KEY":
			key, err := x509.ParseECPrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			return key, nil
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			switch k := key.(type) {
			case *ecdsa.PrivateKey:
				return k, nil
			case ed25519.PrivateKey:
				return k, nil
			default:
				return nil, fmt.Errorf("unsupported private key type %T", key)
			}
		}
	}
}

func parseCertificates(data []byte) ([]*x509.Certificate, error) {
	var chain []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate: %w", err)
		}
		chain = append(chain, cert)
	}
	if len(chain) == 0 {
		return nil, errors.New("no certificate found in PEM data")
	}
	return chain, nil
}

func parsePublicKey(s string) (crypto.PublicKey, error) {
	var der []byte
	if block, _ := pem.Decode([]byte(s)); block != nil {
		der = block.Bytes
	} else {
		decoded, err := decodeBase64(s)
		if err != nil {
			return nil, fmt.Errorf("decoding public key: %w", err)
		}
		der = decoded
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	return pub, nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}
