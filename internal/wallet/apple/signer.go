package apple

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.mozilla.org/pkcs7"
	"golang.org/x/crypto/pkcs12"
)

// Signer produces the detached PKCS#7 signature of a pass manifest.
type Signer struct {
	Cert  *x509.Certificate
	Key   crypto.PrivateKey
	Chain []*x509.Certificate
}

// Sign returns the DER encoded detached signature over manifest.
func (s *Signer) Sign(manifest []byte) ([]byte, error) {
	sd, err := pkcs7.NewSignedData(manifest)
	if err != nil {
		return nil, err
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := sd.AddSignerChain(s.Cert, s.Key, s.Chain, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, fmt.Errorf("add signer: %w", err)
	}
	sd.Detach()
	return sd.Finish()
}

// readMaterial returns inline PEM text as is and reads anything else as a file path.
func readMaterial(v string) ([]byte, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if strings.HasPrefix(v, "-----BEGIN") {
		return []byte(v), nil
	}
	return os.ReadFile(v)
}

// LoadSigner builds a signer from the signing settings of cfg: a .p12 bundle
// when one is configured, otherwise a PEM certificate and key.
func LoadSigner(cfg Config) (*Signer, error) {
	wwdr, err := readMaterial(cfg.WWDRCert)
	if err != nil {
		return nil, fmt.Errorf("read wwdr certificate: %w", err)
	}
	if cfg.P12 != "" {
		data, err := os.ReadFile(cfg.P12)
		if err != nil {
			return nil, fmt.Errorf("read p12: %w", err)
		}
		return ParseP12(data, cfg.P12Password, wwdr)
	}
	certPEM, err := readMaterial(cfg.SignerCert)
	if err != nil {
		return nil, fmt.Errorf("read signer certificate: %w", err)
	}
	keyPEM, err := readMaterial(cfg.SignerKey)
	if err != nil {
		return nil, fmt.Errorf("read signer key: %w", err)
	}
	return ParsePEM(certPEM, keyPEM, wwdr)
}

func ParsePEM(certPEM, keyPEM, wwdrPEM []byte) (*Signer, error) {
	cert, err := parseCertificate(certPEM)
	if err != nil {
		return nil, fmt.Errorf("signer certificate: %w", err)
	}
	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("signer key: %w", err)
	}
	chain, err := parseChain(wwdrPEM)
	if err != nil {
		return nil, err
	}
	return &Signer{Cert: cert, Key: key, Chain: chain}, nil
}

func ParseP12(data []byte, password string, wwdrPEM []byte) (*Signer, error) {
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("decode p12: %w", err)
	}
	chain, err := parseChain(wwdrPEM)
	if err != nil {
		return nil, err
	}
	return &Signer{Cert: cert, Key: key, Chain: chain}, nil
}

func parseChain(wwdrPEM []byte) ([]*x509.Certificate, error) {
	if len(wwdrPEM) == 0 {
		return nil, nil
	}
	wwdr, err := parseCertificate(wwdrPEM)
	if err != nil {
		return nil, fmt.Errorf("wwdr certificate: %w", err)
	}
	return []*x509.Certificate{wwdr}, nil
}

func parseCertificate(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		// Apple ships the WWDR intermediate as DER.
		if len(data) == 0 {
			return nil, errors.New("empty certificate")
		}
		return x509.ParseCertificate(data)
	}
	if block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("unexpected PEM block %q", block.Type)
	}
	return x509.ParseCertificate(block.Bytes)
}

func parsePrivateKey(data []byte) (crypto.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		return x509.ParsePKCS8PrivateKey(block.Bytes)
	}
	return nil, fmt.Errorf("unsupported key type %q", block.Type)
}
