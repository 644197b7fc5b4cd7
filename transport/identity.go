package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"storagemesh/errs"
)

// Identity is the mTLS client certificate/key this process presents
// to peers. It is created once explicitly (LoadOrCreateIdentity) and
// passed into Client, rather than lazily constructed process-wide on
// first use.
type Identity struct {
	Cert tls.Certificate
}

// LoadOrCreateIdentity reads a persisted cert/key pair from dir, or
// generates a fresh self-signed one and persists it there if absent.
// This cert only makes the TLS channel work; peer identity is instead
// carried by the on-chain coin and a signed nonce per upload.
func LoadOrCreateIdentity(dir string) (*Identity, error) {
	certPath := filepath.Join(dir, "client.crt")
	keyPath := filepath.Join(dir, "client.key")

	if certBytes, err := os.ReadFile(certPath); err == nil {
		if keyBytes, err2 := os.ReadFile(keyPath); err2 == nil {
			cert, err3 := tls.X509KeyPair(certBytes, keyBytes)
			if err3 == nil {
				return &Identity{Cert: cert}, nil
			}
		}
	}

	cert, certPEM, keyPEM, err := generateSelfSigned()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.Wrap(errs.Resource, err)
	}
	if err := os.WriteFile(certPath, certPEM, 0o600); err != nil {
		return nil, errs.Wrap(errs.Resource, err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return nil, errs.Wrap(errs.Resource, err)
	}
	return &Identity{Cert: cert}, nil
}

func generateSelfSigned() (tls.Certificate, []byte, []byte, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, nil, nil, errs.Wrap(errs.Resource, err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, nil, nil, errs.Wrap(errs.Resource, err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "storagemesh-peer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(5, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, nil, nil, errs.Wrap(errs.Resource, err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, nil, nil, errs.Wrap(errs.Resource, err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, nil, nil, errs.Wrap(errs.Resource, err)
	}
	return cert, certPEM, keyPEM, nil
}
