package nist

// ConfigurationError противоречивые факты или ответы политики.
// Отклоняется до старта операции и никогда не исправляется автоматически.
type ConfigurationError struct {
	Detail string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Detail
}

// Decide реализует NIST SP 800-88r2 decision flowchart (стр. 25).
// Чистая функция: без I/O, без побочных эффектов, детерминирована.
// Приоритет правил фиксирован, побеждает первое совпадение.
func Decide(facts DeviceFacts, answers PolicyAnswers) (Decision, error) {
	if err := validateFacts(facts); err != nil {
		return Decision{}, err
	}
	if _, err := ValidateSensitivity(string(answers.Sensitivity)); err != nil {
		return Decision{}, err
	}

	// Правило 1: носитель не будет использоваться повторно -> Destroy.
	// Исполняемое действие не назначается, только guidance.
	if !answers.WillBeReused {
		var warnings []WarningCode
		if answers.Sensitivity == SensitivityHigh {
			warnings = append(warnings, WarnDestroyHighSensitivity)
		}
		if answers.LeavesPhysicalControl {
			warnings = append(warnings, WarnDestroyLeavesControl)
		}
		return Decision{
			Method:    MethodDestroy,
			Technique: TechniqueDestructionGuidance,
			Warnings:  warnings,
		}, nil
	}

	// Правило 2: выходит из физического контроля или данные moderate/high -> Purge
	if answers.LeavesPhysicalControl ||
		answers.Sensitivity == SensitivityModerate ||
		answers.Sensitivity == SensitivityHigh {
		technique, warnings := selectPurgeTechnique(facts)
		return Decision{
			Method:    MethodPurge,
			Technique: technique,
			Warnings:  warnings,
		}, nil
	}

	// Правило 3: low sensitivity и остаётся под контролем -> Clear
	if answers.Sensitivity == SensitivityLow && !answers.LeavesPhysicalControl {
		var warnings []WarningCode
		if facts.MediaType == MediaFlash {
			// Clear не достигает spare/over-provisioned ячеек SSD
			warnings = append(warnings, WarnClearFlashSpareCells)
		}
		return Decision{
			Method:    MethodClear,
			Technique: TechniqueSinglePassOverwrite,
			Warnings:  warnings,
		}, nil
	}

	// Правила 1-3 исчерпывают bool x enum x bool, сюда попадать не должны.
	// Защитный fallback обязан быть наблюдаемым для аудита, не молчаливым.
	return Decision{
		Method:    MethodPurge,
		Technique: TechniqueSinglePassOverwrite,
		Warnings:  []WarningCode{WarnUnclassifiedFallback},
	}, nil
}

// selectPurgeTechnique выбирает технику для метода Purge по типу носителя
// и состоянию шифрования
func selectPurgeTechnique(facts DeviceFacts) (SanitizationTechnique, []WarningCode) {
	var warnings []WarningCode

	switch facts.MediaType {
	case MediaFlash:
		// Cryptographic Erase только если шифрование было включено с самого
		// начала, иначе данные могли сохраниться до включения шифрования
		if facts.EncryptionAlwaysOn {
			return TechniqueCryptographicErase, nil
		}
		if facts.IsEncrypted {
			warnings = append(warnings, WarnCryptoEraseDowngrade)
		}
		return TechniqueSSDSecureErase, warnings

	case MediaMagnetic:
		// Purge-гарантии на магнитных носителях программно недостижимы
		// в полном объёме
		warnings = append(warnings, WarnMagneticPurgeLimited)
		return TechniqueSinglePassOverwrite, warnings

	case MediaVirtual:
		return TechniqueSinglePassOverwrite, nil

	default:
		// Неизвестный носитель: CE/Secure Erase не выбираем, деградируем
		// с предупреждением. Clear/Purge всё равно должны выполниться.
		warnings = append(warnings, WarnUnknownMediaDowngrade)
		if facts.EncryptionAlwaysOn {
			warnings = append(warnings, WarnCryptoEraseDowngrade)
		}
		return TechniqueSinglePassOverwrite, warnings
	}
}

// validateFacts отклоняет самопротиворечивые факты об устройстве
func validateFacts(facts DeviceFacts) error {
	if facts.EncryptionAlwaysOn && !facts.IsEncrypted {
		return &ConfigurationError{
			Detail: "encryption_always_on=true при is_encrypted=false: факты устройства противоречивы",
		}
	}
	return nil
}
