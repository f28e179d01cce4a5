package appstore

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
	"github.com/wekeepgrowing/appstore-reconciler/pkg/clock"
)

// JWSVerifier checks App Store signed payloads: ES256 signed, with an x5c
// certificate chain that must lead to the configured root.
type JWSVerifier struct {
	roots  *x509.CertPool
	clock  clock.Clock
	parser *jwt.Parser
}

// NewJWSVerifier creates a verifier trusting root.
func NewJWSVerifier(root *x509.Certificate, clk clock.Clock) *JWSVerifier {
	pool := x509.NewCertPool()
	pool.AddCert(root)
	return &JWSVerifier{
		roots: pool,
		clock: clk,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
			jwt.WithJSONNumber(),
			jwt.WithoutClaimsValidation(),
		),
	}
}

// LoadRootCertificate reads a PEM or DER encoded certificate from path.
func LoadRootCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read root certificate: %w", err)
	}
	if block, _ := pem.Decode(data); block != nil {
		data = block.Bytes
	}
	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse root certificate: %w", err)
	}
	return cert, nil
}

// Verify checks the signature of signed and decodes its payload into claims.
func (v *JWSVerifier) Verify(signed string, claims jwt.Claims) error {
	_, err := v.parser.ParseWithClaims(signed, claims, v.keyFromChain)
	return err
}

func (v *JWSVerifier) keyFromChain(token *jwt.Token) (interface{}, error) {
	raw, ok := token.Header["x5c"].([]interface{})
	if !ok || len(raw) == 0 {
		return nil, errors.New("missing x5c header")
	}

	certs := make([]*x509.Certificate, 0, len(raw))
	for i, entry := range raw {
		s, ok := entry.(string)
		if !ok {
			return nil, fmt.Errorf("x5c[%d] is not a string", i)
		}
		der, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("x5c[%d]: %w", i, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("x5c[%d]: %w", i, err)
		}
		certs = append(certs, cert)
	}

	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}

	leaf := certs[0]
	if _, err := leaf.Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   v.clock.Now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return nil, fmt.Errorf("certificate chain: %w", err)
	}

	key, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected leaf key type %T", leaf.PublicKey)
	}
	return key, nil
}
