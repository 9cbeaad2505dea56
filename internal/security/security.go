package security

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"safeerase_enterprise/internal/config"
	"safeerase_enterprise/internal/nist"
)

// ShouldSkipDevice проверяет, исключено ли устройство политикой
func ShouldSkipDevice(cfg *config.Config, facts nist.DeviceFacts) bool {
	if cfg == nil {
		return false
	}
	for _, excluded := range cfg.Security.ExcludedDevices {
		if facts.Path == excluded || facts.SerialNumber == excluded {
			return true
		}
	}
	return false
}

// ConfirmSanitization запрашивает у оператора явное подтверждение перед
// необратимым затиранием. При require_confirmation=false подтверждение
// не запрашивается.
func ConfirmSanitization(cfg *config.Config, in io.Reader, out io.Writer, facts nist.DeviceFacts, decision nist.Decision) (bool, error) {
	if cfg != nil && !cfg.Security.RequireConfirmation {
		return true, nil
	}

	fmt.Fprintf(out, "ВНИМАНИЕ: данные на устройстве %s (%s, серийный %s) будут необратимо уничтожены.\n",
		facts.Path, facts.Model, facts.SerialNumber)
	fmt.Fprintf(out, "Метод: %s, техника: %s\n", decision.Method, decision.Technique)
	for _, w := range decision.Warnings {
		fmt.Fprintf(out, "Предупреждение: %s\n", w)
	}
	fmt.Fprint(out, "Введите YES для продолжения: ")

	reader := bufio.NewReader(in)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("не удалось прочитать подтверждение: %w", err)
	}
	return strings.TrimSpace(line) == "YES", nil
}
