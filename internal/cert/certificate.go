package cert

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"safeerase_enterprise/internal/nist"
	"safeerase_enterprise/internal/operation"
)

const (
	// ToolIdentifier попадает в каждый сертификат
	ToolIdentifier = "SafeErase Enterprise v1.0.0"

	VerificationMethod  = "NIST SP 800-88r2 compliance"
	ComplianceStatement = "Sanitized in accordance with NIST SP 800-88r2"

	// PlaceholderValue записывается вместо недоступных полей устройства.
	// Поле никогда не опускается, подмена фиксируется в verification_details.
	PlaceholderValue = "UNKNOWN"
)

// Identity оператор, выполнивший затирание
type Identity struct {
	Name  string
	Title string
}

// Certificate запись о затирании со всеми обязательными полями NIST.
// Неизменяема после подписи.
type Certificate struct {
	Manufacturer           string                     `json:"manufacturer"`
	Model                  string                     `json:"model"`
	SerialNumber           string                     `json:"serial_number"`
	MediaType              string                     `json:"media_type"`
	Transport              string                     `json:"transport"`
	IsEncrypted            bool                       `json:"is_encrypted"`
	EncryptionAlwaysOn     bool                       `json:"encryption_always_on"`
	SanitizationMethod     nist.SanitizationMethod    `json:"sanitization_method"`
	SanitizationTechnique  nist.SanitizationTechnique `json:"sanitization_technique"`
	DecisionWarnings       []string                   `json:"decision_warnings"`
	ToolIdentifier         string                     `json:"tool_identifier"`
	VerificationMethodUsed string                     `json:"verification_method"`
	OperatorName           string                     `json:"operator_name"`
	OperatorTitle          string                     `json:"operator_title"`
	Date                   string                     `json:"date"`
	DevicePath             string                     `json:"device_path"`
	DeviceSizeBytes        int64                      `json:"device_size_bytes"`
	VerificationStatus     string                     `json:"verification_status"`
	VerificationDetails    []string                   `json:"verification_details"`
	CompletionTimeUTC      string                     `json:"completion_time_utc"`
	CertificateID          string                     `json:"certificate_id"`
	Compliance             string                     `json:"compliance_statement"`
}

// IncompleteOperationError сертификат запрошен для незавершённой операции
type IncompleteOperationError struct {
	State operation.State
}

func (e *IncompleteOperationError) Error() string {
	return fmt.Sprintf("сертификат доступен только для завершённой операции, состояние: %s", e.State)
}

// Build собирает сертификат из фактов устройства, решения и снимка
// завершённой операции. Недоступные поля устройства записываются как
// placeholder и фиксируются в verification_details.
func Build(facts nist.DeviceFacts, decision nist.Decision, snap operation.Snapshot, id Identity) (*Certificate, error) {
	if snap.State != operation.StateCompleted {
		return nil, &IncompleteOperationError{State: snap.State}
	}

	details := append([]string(nil), snap.VerificationDetails...)

	manufacturer := facts.Manufacturer
	if manufacturer == "" {
		manufacturer = PlaceholderValue
		details = append(details, "manufacturer not available, recorded as placeholder")
	}
	model := facts.Model
	if model == "" {
		model = PlaceholderValue
		details = append(details, "model not available, recorded as placeholder")
	}
	serial := facts.SerialNumber
	if serial == "" {
		serial = PlaceholderValue
		details = append(details, "serial number not available, recorded as placeholder")
	}

	operatorName := id.Name
	if operatorName == "" {
		operatorName = PlaceholderValue
		details = append(details, "operator name not provided, recorded as placeholder")
	}
	operatorTitle := id.Title
	if operatorTitle == "" {
		operatorTitle = PlaceholderValue
		details = append(details, "operator title not provided, recorded as placeholder")
	}

	warnings := make([]string, 0, len(decision.Warnings))
	for _, w := range decision.Warnings {
		warnings = append(warnings, string(w))
	}

	completedAt := snap.StartedAt
	if snap.CompletedAt != nil {
		completedAt = *snap.CompletedAt
	}

	// Момент выпуска не может предшествовать завершению операции
	issued := time.Now().UTC()
	if issued.Before(completedAt) {
		issued = completedAt
	}

	return &Certificate{
		Manufacturer:           manufacturer,
		Model:                  model,
		SerialNumber:           serial,
		MediaType:              string(facts.MediaType),
		Transport:              string(facts.Transport),
		IsEncrypted:            facts.IsEncrypted,
		EncryptionAlwaysOn:     facts.EncryptionAlwaysOn,
		SanitizationMethod:     decision.Method,
		SanitizationTechnique:  decision.Technique,
		DecisionWarnings:       warnings,
		ToolIdentifier:         ToolIdentifier,
		VerificationMethodUsed: VerificationMethod,
		OperatorName:           operatorName,
		OperatorTitle:          operatorTitle,
		Date:                   issued.Format(time.RFC3339),
		DevicePath:             snap.DevicePath,
		DeviceSizeBytes:        facts.SizeBytes,
		VerificationStatus:     string(snap.VerificationStatus),
		VerificationDetails:    details,
		CompletionTimeUTC:      completedAt.UTC().Format(time.RFC3339),
		CertificateID:          uuid.NewString(),
		Compliance:             ComplianceStatement,
	}, nil
}

// requiredFields обязательный набор полей NIST: имя поля и признак
// заполненности
func (c *Certificate) requiredFields() []struct {
	name string
	ok   bool
} {
	return []struct {
		name string
		ok   bool
	}{
		{"manufacturer", c.Manufacturer != ""},
		{"model", c.Model != ""},
		{"serial_number", c.SerialNumber != ""},
		{"media_type", c.MediaType != ""},
		{"sanitization_method", c.SanitizationMethod != ""},
		{"sanitization_technique", c.SanitizationTechnique != ""},
		{"tool_identifier", c.ToolIdentifier != ""},
		{"verification_method", c.VerificationMethodUsed != ""},
		{"operator_name", c.OperatorName != ""},
		{"operator_title", c.OperatorTitle != ""},
		{"date", c.Date != ""},
		{"device_path", c.DevicePath != ""},
		{"device_size_bytes", c.DeviceSizeBytes > 0},
		{"verification_status", c.VerificationStatus != ""},
		{"verification_details", len(c.VerificationDetails) > 0},
		{"completion_time_utc", c.CompletionTimeUTC != ""},
		{"certificate_id", c.CertificateID != ""},
		{"compliance_statement", c.Compliance != ""},
	}
}

// MissingFields возвращает имена незаполненных обязательных полей
func (c *Certificate) MissingFields() []string {
	var missing []string
	for _, f := range c.requiredFields() {
		if !f.ok {
			missing = append(missing, f.name)
		}
	}
	return missing
}
