package cert

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CanonicalBytes детерминированно сериализует поля сертификата без блока
// signature: ключи в лексикографическом порядке, без пробелов, UTF-8.
// Именно эта последовательность байт подписывается и проверяется.
func CanonicalBytes(c *Certificate) ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации сертификата: %w", err)
	}
	return canonicalize(raw)
}

// canonicalize перекодирует JSON-объект в каноническую форму, убирая
// блок signature, если он присутствует
func canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("ошибка разбора сертификата: %w", err)
	}
	delete(fields, "signature")

	// encoding/json сортирует ключи map и не вставляет пробелы
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("ошибка канонизации: %w", err)
	}
	return out, nil
}
