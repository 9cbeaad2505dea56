//go:build linux

package device

import "golang.org/x/sys/unix"

// freeSpace возвращает свободное место в байтах на файловой системе пути
func freeSpace(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}
