// Package dkim generates per-domain RSA keypairs and signs outgoing
// messages before transfer.
package dkim

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	msgdkim "github.com/emersion/go-msgauth/dkim"
)

// MinKeySize is the smallest RSA modulus accepted for new keys.
const MinKeySize = 1024

// signedHeaders lists the headers covered by the signature.
var signedHeaders = []string{
	"To", "Cc", "From", "Date", "Subject",
	"Reply-To", "Message-ID", "In-Reply-To",
}

// GenerateKeyPair creates an RSA keypair. It returns the private key as
// PEM and the public key as the base64 DER used in the DNS p= tag.
func GenerateKeyPair(bits int) (privatePEM, publicB64 string, err error) {
	if bits < MinKeySize {
		return "", "", fmt.Errorf("key size %d below minimum %d", bits, MinKeySize)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return "", "", fmt.Errorf("generate rsa key: %w", err)
	}

	privBlock := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(privBlock)), base64.StdEncoding.EncodeToString(pubDER), nil
}

// ParsePrivateKey reads a PEM private key in PKCS#1 or PKCS#8 form.
func ParsePrivateKey(privatePEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return nil, fmt.Errorf("no PEM block in private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}

// Sign returns the message with a DKIM-Signature header prepended.
// Relaxed canonicalization on both header and body keeps the signature
// stable across folding relays.
func Sign(raw []byte, domainName, selector, privatePEM string) ([]byte, error) {
	key, err := ParsePrivateKey(privatePEM)
	if err != nil {
		return nil, err
	}

	opts := &msgdkim.SignOptions{
		Domain:                 domainName,
		Selector:               selector,
		Signer:                 key,
		HeaderKeys:             signedHeaders,
		HeaderCanonicalization: msgdkim.CanonicalizationRelaxed,
		BodyCanonicalization:   msgdkim.CanonicalizationRelaxed,
	}

	var buf bytes.Buffer
	if err := msgdkim.Sign(&buf, bytes.NewReader(raw), opts); err != nil {
		return nil, fmt.Errorf("dkim sign: %w", err)
	}
	return buf.Bytes(), nil
}

// TXTValue renders the DNS TXT record value for a public key.
func TXTValue(publicB64 string) string {
	return "v=DKIM1; k=rsa; p=" + publicB64
}
