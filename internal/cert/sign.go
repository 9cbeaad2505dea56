package cert

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// SignatureAlg идентификатор схемы подписи в блоке signature
const SignatureAlg = "RSA-PSS-SHA256"

// SignatureBlock отсоединяемый блок подписи сертификата
type SignatureBlock struct {
	Alg             string `json:"alg"`
	SigB64          string `json:"sig_b64"`
	PubkeySHA256x16 string `json:"pubkey_sha256_16"`
}

// SignedCertificate сертификат с блоком подписи
type SignedCertificate struct {
	Certificate
	Signature SignatureBlock `json:"signature"`
}

// IncompleteCertificateError подпись запрошена для сертификата с
// незаполненными обязательными полями
type IncompleteCertificateError struct {
	Missing []string
}

func (e *IncompleteCertificateError) Error() string {
	return fmt.Sprintf("сертификат не подписан, незаполненные поля: %s", strings.Join(e.Missing, ", "))
}

// Sign подписывает канонические байты сертификата схемой RSA-PSS-SHA256.
// Полнота обязательных полей проверяется повторно и независимо от
// сборщика сертификата.
func Sign(c *Certificate, key *rsa.PrivateKey) (*SignedCertificate, error) {
	if key == nil {
		return nil, fmt.Errorf("закрытый ключ не задан")
	}
	if key.N.BitLen() < MinKeyBits {
		return nil, fmt.Errorf("модуль ключа %d бит меньше минимального %d", key.N.BitLen(), MinKeyBits)
	}
	if missing := c.MissingFields(); len(missing) > 0 {
		return nil, &IncompleteCertificateError{Missing: missing}
	}

	payload, err := CanonicalBytes(c)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка подписи: %w", err)
	}

	fingerprint, err := Fingerprint16(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	return &SignedCertificate{
		Certificate: *c,
		Signature: SignatureBlock{
			Alg:             SignatureAlg,
			SigB64:          base64.StdEncoding.EncodeToString(sig),
			PubkeySHA256x16: fingerprint,
		},
	}, nil
}
