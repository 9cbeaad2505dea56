package cert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// MinKeyBits минимально допустимый размер модуля RSA
const MinKeyBits = 2048

const (
	privateKeyFile = "private.pem"
	publicKeyFile  = "public.pem"
)

// GenerateKeyPair создаёт ключевую пару RSA для подписи сертификатов
func GenerateKeyPair(bits int) (*rsa.PrivateKey, error) {
	if bits < MinKeyBits {
		return nil, fmt.Errorf("размер ключа %d бит меньше минимального %d", bits, MinKeyBits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации ключа: %w", err)
	}
	return key, nil
}

// SaveKeyPair сохраняет пару в PEM-файлы private.pem и public.pem
func SaveKeyPair(dir string, key *rsa.PrivateKey) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("не удалось создать директорию ключей: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("ошибка кодирования закрытого ключа: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	if err := os.WriteFile(filepath.Join(dir, privateKeyFile), privPEM, 0600); err != nil {
		return fmt.Errorf("ошибка записи закрытого ключа: %w", err)
	}

	pubPEM, err := PublicKeyPEM(&key.PublicKey)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, publicKeyFile), pubPEM, 0644); err != nil {
		return fmt.Errorf("ошибка записи открытого ключа: %w", err)
	}
	return nil
}

// EnsureDevKeys создаёт ключевую пару в dir, если её ещё нет, и
// возвращает пути к файлам. Предназначено для dev-окружения и sandbox.
func EnsureDevKeys(dir string) (privPath, pubPath string, err error) {
	privPath = filepath.Join(dir, privateKeyFile)
	pubPath = filepath.Join(dir, publicKeyFile)

	if _, err := os.Stat(privPath); err == nil {
		if _, err := os.Stat(pubPath); err == nil {
			return privPath, pubPath, nil
		}
	}

	key, err := GenerateKeyPair(MinKeyBits)
	if err != nil {
		return "", "", err
	}
	if err := SaveKeyPair(dir, key); err != nil {
		return "", "", err
	}
	return privPath, pubPath, nil
}

// LoadPrivateKey читает закрытый ключ RSA из PEM-файла
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать закрытый ключ: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("файл %s не содержит PEM-блок", path)
	}

	switch block.Type {
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("ошибка разбора закрытого ключа: %w", err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("ключ в %s не является ключом RSA", path)
		}
		return key, nil
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("ошибка разбора закрытого ключа: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("неожиданный тип PEM-блока: %s", block.Type)
	}
}

// LoadPublicKey читает открытый ключ RSA из PEM-файла
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать открытый ключ: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("файл %s не содержит PEM-блок", path)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора открытого ключа: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("ключ в %s не является ключом RSA", path)
	}
	return key, nil
}

// PublicKeyPEM кодирует открытый ключ в PEM
func PublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("ошибка кодирования открытого ключа: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// Fingerprint16 первые 16 hex-символов SHA-256 от PEM открытого ключа
func Fingerprint16(pub *rsa.PublicKey) (string, error) {
	pemBytes, err := PublicKeyPEM(pub)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(pemBytes)
	return hex.EncodeToString(sum[:])[:16], nil
}
