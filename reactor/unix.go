package reactor

import (
	"net"
	"os"
)

// DefaultSocketPermissions mirrors the teacher's transport/unix
// default: owner-only read/write on the socket file.
const DefaultSocketPermissions = 0600

// UnixListener accepts Unix-domain stream connections for the IPC
// skeleton side, adapted from the teacher's transport/unix accept loop.
type UnixListener struct {
	listener *net.UnixListener
	path     string
}

// ListenUnix creates (or replaces) the socket file at path and begins
// listening, applying DefaultSocketPermissions unless perm is non-zero.
func ListenUnix(path string, perm os.FileMode) (*UnixListener, error) {
	_ = os.Remove(path) // stale socket file from a prior run
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, err
	}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, err
	}
	if perm == 0 {
		perm = DefaultSocketPermissions
	}
	if err := os.Chmod(path, perm); err != nil {
		listener.Close()
		return nil, err
	}
	return &UnixListener{listener: listener, path: path}, nil
}

// Accept blocks until one client connects, returning its *net.UnixConn.
func (l *UnixListener) Accept() (*net.UnixConn, error) {
	conn, err := l.listener.AcceptUnix()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Close stops listening and removes the socket file.
func (l *UnixListener) Close() error {
	err := l.listener.Close()
	_ = os.Remove(l.path)
	return err
}

// DialUnix connects to a Unix-domain stream socket for the IPC proxy
// side, adapted from the teacher's client-mode transport/unix.NewTransport.
func DialUnix(path string) (*net.UnixConn, error) {
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, err
	}
	return net.DialUnix("unix", nil, addr)
}
