package device

import (
	"context"
	"fmt"

	"safeerase_enterprise/internal/nist"
)

// DeviceNotFoundError устройство с таким путём не известно провайдеру
type DeviceNotFoundError struct {
	Path string
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("устройство %s не найдено", e.Path)
}

// Provider источник фактов об устройствах хранения
type Provider interface {
	ListDevices(ctx context.Context) ([]nist.DeviceFacts, error)
	DescribeDevice(ctx context.Context, path string) (nist.DeviceFacts, error)
}
