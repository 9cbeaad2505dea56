package cert

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"safeerase_enterprise/internal/nist"
)

// VerificationResult итог независимой проверки подписанного сертификата.
// Каждая проверка отражена отдельной строкой в Reasons, чтобы можно было
// объяснить, почему сертификат не прошёл.
type VerificationResult struct {
	Valid   bool
	Reasons []string
}

// Verify независимо проверяет подписанный сертификат: пересчитывает
// канонические байты, сверяет подпись, полноту обязательных полей и
// допустимость пары метод/техника. Структурно корректная подпись над
// недопустимой парой метод/техника не делает сертификат действительным.
func Verify(sc *SignedCertificate, pub *rsa.PublicKey) VerificationResult {
	var reasons []string
	valid := true

	payload, err := CanonicalBytes(&sc.Certificate)
	if err != nil {
		valid = false
		reasons = append(reasons, fmt.Sprintf("canonicalization: FAILED: %v", err))
	} else {
		reasons = append(reasons, fmt.Sprintf("canonicalization: OK (%d bytes)", len(payload)))
	}

	reason, ok := checkSignature(sc, pub, payload)
	valid = valid && ok
	reasons = append(reasons, reason)

	if missing := sc.MissingFields(); len(missing) > 0 {
		valid = false
		reasons = append(reasons, fmt.Sprintf("required fields: MISSING: %s", strings.Join(missing, ", ")))
	} else {
		reasons = append(reasons, "required fields: OK")
	}

	if !nist.ValidPair(sc.SanitizationMethod, sc.SanitizationTechnique) {
		valid = false
		reasons = append(reasons, fmt.Sprintf("method/technique: INVALID pair %q / %q",
			sc.SanitizationMethod, sc.SanitizationTechnique))
	} else {
		reasons = append(reasons, "method/technique: OK")
	}

	return VerificationResult{Valid: valid, Reasons: reasons}
}

func checkSignature(sc *SignedCertificate, pub *rsa.PublicKey, payload []byte) (string, bool) {
	if pub == nil {
		return "signature: FAILED: public key not provided", false
	}
	if payload == nil {
		return "signature: FAILED: no canonical payload to verify", false
	}
	if sc.Signature.SigB64 == "" {
		return "signature: FAILED: no signature present", false
	}
	if sc.Signature.Alg != SignatureAlg {
		return fmt.Sprintf("signature: FAILED: unexpected algorithm %q", sc.Signature.Alg), false
	}

	sig, err := base64.StdEncoding.DecodeString(sc.Signature.SigB64)
	if err != nil {
		return fmt.Sprintf("signature: FAILED: invalid base64: %v", err), false
	}

	digest := sha256.Sum256(payload)
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       crypto.SHA256,
	}); err != nil {
		return "signature: FAILED: signature mismatch", false
	}

	// Несовпадение отпечатка ключа не делает подпись недействительной,
	// но фиксируется
	if fp, err := Fingerprint16(pub); err == nil && sc.Signature.PubkeySHA256x16 != "" && sc.Signature.PubkeySHA256x16 != fp {
		return "signature: OK (public key fingerprint mismatch noted)", true
	}
	return "signature: OK", true
}
