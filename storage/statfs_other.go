//go:build !linux && !darwin && !freebsd

package storage

func statfs(dir string) (*Info, error) {
	return nil, ErrUnsupported
}
