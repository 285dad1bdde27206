//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || windows)

package netengine

func setReuseAddr(fd uintptr) error {
	return nil
}
