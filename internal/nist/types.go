package nist

// SanitizationMethod определяет уровень гарантии по NIST SP 800-88r2
type SanitizationMethod string

const (
	MethodClear   SanitizationMethod = "Clear"
	MethodPurge   SanitizationMethod = "Purge"
	MethodDestroy SanitizationMethod = "Destroy"
)

// SanitizationTechnique определяет конкретную технику затирания
type SanitizationTechnique string

const (
	TechniqueSinglePassOverwrite SanitizationTechnique = "Single Pass Overwrite"
	TechniqueSSDSecureErase      SanitizationTechnique = "SSD Secure Erase"
	TechniqueCryptographicErase  SanitizationTechnique = "Cryptographic Erase"
	TechniqueDestructionGuidance SanitizationTechnique = "Physical Destruction (guidance only)"
)

// Sensitivity уровень чувствительности данных
type Sensitivity string

const (
	SensitivityLow      Sensitivity = "low"
	SensitivityModerate Sensitivity = "moderate"
	SensitivityHigh     Sensitivity = "high"
)

// Transport тип подключения устройства
type Transport string

const (
	TransportFile  Transport = "file"
	TransportATA   Transport = "ata"
	TransportNVMe  Transport = "nvme"
	TransportSCSI  Transport = "scsi"
	TransportOther Transport = "other"
)

// MediaType тип носителя
type MediaType string

const (
	MediaMagnetic MediaType = "magnetic"
	MediaFlash    MediaType = "flash"
	MediaVirtual  MediaType = "virtual"
	MediaUnknown  MediaType = "unknown"
)

// WarningCode код предупреждения движка принятия решений
type WarningCode string

const (
	// Покрытие носителя
	WarnClearFlashSpareCells  WarningCode = "clear_flash_spare_cells"
	WarnMagneticPurgeLimited  WarningCode = "magnetic_purge_software_limited"
	WarnUnknownMediaDowngrade WarningCode = "unknown_media_technique_downgrade"
	WarnCryptoEraseDowngrade  WarningCode = "crypto_erase_downgraded"

	// Документирование для Destroy
	WarnDestroyHighSensitivity WarningCode = "destroy_high_sensitivity_note"
	WarnDestroyLeavesControl   WarningCode = "destroy_leaves_control_note"

	// Защитный fallback, наблюдаемый для аудита
	WarnUnclassifiedFallback WarningCode = "unclassified_case_fallback"
)

// DeviceFacts описывает устройство. Заполняется один раз провайдером
// устройств и дальше никем не изменяется.
type DeviceFacts struct {
	Path               string    `json:"path"`
	Manufacturer       string    `json:"manufacturer"`
	Model              string    `json:"model"`
	SerialNumber       string    `json:"serial_number"`
	SizeBytes          int64     `json:"size_bytes"`
	Transport          Transport `json:"transport"`
	MediaType          MediaType `json:"media_type"`
	IsEncrypted        bool      `json:"is_encrypted"`
	EncryptionAlwaysOn bool      `json:"encryption_always_on"`
}

// PolicyAnswers ответы оператора на вопросы NIST flowchart.
// Неизменяемы после старта операции.
type PolicyAnswers struct {
	WillBeReused          bool        `json:"will_be_reused"`
	Sensitivity           Sensitivity `json:"sensitivity"`
	LeavesPhysicalControl bool        `json:"leaves_physical_control"`
}

// Decision результат движка принятия решений. Неизменяем после вычисления.
type Decision struct {
	Method    SanitizationMethod    `json:"method"`
	Technique SanitizationTechnique `json:"technique"`
	Warnings  []WarningCode         `json:"warnings,omitempty"`
}

// HasWarning проверяет наличие предупреждения в решении
func (d Decision) HasWarning(code WarningCode) bool {
	for _, w := range d.Warnings {
		if w == code {
			return true
		}
	}
	return false
}

// ValidPair проверяет, что комбинация метод/техника допустима по NIST flowchart
func ValidPair(method SanitizationMethod, technique SanitizationTechnique) bool {
	switch method {
	case MethodClear:
		return technique == TechniqueSinglePassOverwrite
	case MethodPurge:
		return technique == TechniqueSinglePassOverwrite ||
			technique == TechniqueSSDSecureErase ||
			technique == TechniqueCryptographicErase
	case MethodDestroy:
		return technique == TechniqueDestructionGuidance
	default:
		return false
	}
}

// ValidateSensitivity проверяет корректность уровня чувствительности
func ValidateSensitivity(s string) (Sensitivity, error) {
	v := Sensitivity(s)
	switch v {
	case SensitivityLow, SensitivityModerate, SensitivityHigh:
		return v, nil
	default:
		return "", &ConfigurationError{Detail: "неподдерживаемый уровень чувствительности: " + s}
	}
}
