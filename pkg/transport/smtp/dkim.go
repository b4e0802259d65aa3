package smtp

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	msgauthdkim "github.com/emersion/go-msgauth/dkim"
)

var signedHeaders = []string{
	"from",
	"to",
	"cc",
	"reply-to",
	"subject",
	"date",
	"mime-version",
	"content-type",
	"message-id",
}

type signer struct {
	domain   string
	selector string
	key      crypto.Signer
}

// newSigner returns nil when DKIM is not configured.
func newSigner(cfg DKIMConfig) (*signer, error) {
	if !cfg.enabled() {
		return nil, nil
	}
	if strings.TrimSpace(cfg.Selector) == "" {
		return nil, errors.New("dkim selector is required when signing is enabled")
	}

	var pemData []byte
	switch {
	case cfg.PrivateKey != "":
		pemData = []byte(cfg.PrivateKey)
	case cfg.KeyPath != "":
		data, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read dkim private key: %w", err)
		}
		pemData = data
	default:
		return nil, errors.New("dkim key-path or private-key is required when signing is enabled")
	}

	key, err := parsePrivateKey(pemData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dkim private key: %w", err)
	}

	return &signer{
		domain:   strings.ToLower(strings.TrimSpace(cfg.Domain)),
		selector: strings.TrimSpace(cfg.Selector),
		key:      key,
	}, nil
}

// sign prepends a DKIM-Signature header. Messages already carrying one are
// returned unchanged.
func (s *signer) sign(message []byte, from string) ([]byte, error) {
	if s == nil {
		return message, nil
	}
	if hasSignature(message) {
		return message, nil
	}

	domain := s.domain
	if domain == "" {
		domain = domainOf(from)
	}
	if domain == "" {
		return nil, errors.New("unable to determine dkim signing domain")
	}

	opts := &msgauthdkim.SignOptions{
		Domain:                 domain,
		Selector:               s.selector,
		Signer:                 s.key,
		HeaderCanonicalization: msgauthdkim.CanonicalizationRelaxed,
		BodyCanonicalization:   msgauthdkim.CanonicalizationRelaxed,
		HeaderKeys:             signedHeaders,
	}

	var signed bytes.Buffer
	if err := msgauthdkim.Sign(&signed, bytes.NewReader(normalizeLineEndings(message)), opts); err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	return signed.Bytes(), nil
}

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}
		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			return key, nil
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			if s, ok := key.(crypto.Signer); ok {
				return s, nil
			}
			return nil, errors.New("unsupported private key type in PKCS#8 container")
		}
		pemData = rest
	}
	return nil, errors.New("no private key found in PEM data")
}

func domainOf(address string) string {
	address = strings.Trim(strings.TrimSpace(address), "<>")
	if i := strings.LastIndex(address, "@"); i >= 0 && i+1 < len(address) {
		return strings.ToLower(address[i+1:])
	}
	return ""
}

func hasSignature(message []byte) bool {
	upper := bytes.ToUpper(message)
	return bytes.HasPrefix(upper, []byte("DKIM-SIGNATURE:")) || bytes.Contains(upper, []byte("\nDKIM-SIGNATURE:"))
}

func normalizeLineEndings(data []byte) []byte {
	if bytes.Contains(data, []byte("\r\n")) || !bytes.Contains(data, []byte("\n")) {
		return data
	}
	return bytes.ReplaceAll(data, []byte("\n"), []byte("\r\n"))
}
