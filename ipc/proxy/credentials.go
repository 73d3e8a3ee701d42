package proxy

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sys/unix"

	"github.com/quickcom/someip-ipc-core/errs"
	"github.com/quickcom/someip-ipc-core/reactor"
)

// PeerCredentials is the OS-asserted identity of a connected peer
// process, read via SO_PEERCRED.
type PeerCredentials struct {
	PID int32
	UID uint32
	GID uint32
}

// fingerprint collapses credentials into a single integrity-level value
// by hashing with blake2b and folding the digest down to a uint32. This
// gives IntegrityLevel comparisons a single deterministic numeric scale
// derived from (uid, gid) without hand-rolling a hash.
func (c PeerCredentials) fingerprint() IntegrityLevel {
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:4], c.UID)
	binary.BigEndian.PutUint32(buf[4:8], c.GID)
	sum := blake2b.Sum256(buf[:])
	return IntegrityLevel(binary.BigEndian.Uint32(sum[:4]))
}

// ReadPeerCredentials retrieves SO_PEERCRED from conn, which must wrap a
// *net.UnixConn.
func ReadPeerCredentials(conn reactor.Conn) (PeerCredentials, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return PeerCredentials{}, fmt.Errorf("connection proxy: peer credentials require a unix socket connection, got %T", conn)
	}

	raw, err := unixConn.SyscallConn()
	if err != nil {
		return PeerCredentials{}, err
	}

	var ucred *unix.Ucred
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		ucred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return PeerCredentials{}, err
	}
	if sockErr != nil {
		return PeerCredentials{}, sockErr
	}

	return PeerCredentials{PID: ucred.Pid, UID: ucred.Uid, GID: ucred.Gid}, nil
}

// CheckIntegrityLevel is the reference CredentialChecker: it reads the
// peer's SO_PEERCRED credentials, fingerprints them with blake2b, and
// requires the resulting level to be at least requiredLevel, per
// spec.md §6's "violated integrity level" usage-error condition.
func CheckIntegrityLevel(conn reactor.Conn, requiredLevel IntegrityLevel) error {
	creds, err := ReadPeerCredentials(conn)
	if err != nil {
		return err
	}
	if creds.fingerprint() < requiredLevel {
		return errs.Wrap(errs.CodeRuntimeFault, uint32(requiredLevel), errs.ErrIntegrityLevel)
	}
	return nil
}
