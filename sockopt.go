package netengine

import "syscall"

// listenControl returns the net.ListenConfig control hook applying the
// reuse-address options, or nil when none are wanted.
func listenControl(reuseAddr bool) func(network, address string, rc syscall.RawConn) error {
	if !reuseAddr {
		return nil
	}

	return func(network, address string, rc syscall.RawConn) error {
		var opErr error
		err := rc.Control(func(fd uintptr) {
			opErr = setReuseAddr(fd)
		})
		if err != nil {
			return err
		}
		return opErr
	}
}
