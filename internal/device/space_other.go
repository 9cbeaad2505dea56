//go:build !linux

package device

// freeSpace недоступно на этой платформе, проверка места пропускается
func freeSpace(path string) (uint64, error) {
	return 0, nil
}
