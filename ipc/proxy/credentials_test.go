package proxy

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func unixSocketPair(t *testing.T) (client, server *net.UnixConn) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proxy-test.sock")
	addr, err := net.ResolveUnixAddr("unix", path)
	require.NoError(t, err)
	listener, err := net.ListenUnix("unix", addr)
	require.NoError(t, err)
	t.Cleanup(func() {
		listener.Close()
		os.Remove(path)
	})

	acceptCh := make(chan *net.UnixConn, 1)
	go func() {
		conn, _ := listener.AcceptUnix()
		acceptCh <- conn
	}()

	clientConn, err := net.DialUnix("unix", nil, addr)
	require.NoError(t, err)
	serverConn := <-acceptCh
	require.NotNil(t, serverConn)
	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
	})
	return clientConn, serverConn
}

func TestReadPeerCredentialsOverUnixSocket(t *testing.T) {
	client, server := unixSocketPair(t)

	creds, err := ReadPeerCredentials(server)
	require.NoError(t, err)
	require.Equal(t, uint32(os.Getuid()), creds.UID)

	creds2, err := ReadPeerCredentials(client)
	require.NoError(t, err)
	require.Equal(t, creds.UID, creds2.UID)
}

func TestReadPeerCredentialsRejectsNonUnixConn(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	_, err := ReadPeerCredentials(client)
	require.Error(t, err)
}

func TestCheckIntegrityLevelAcceptsSelfConnectedPeer(t *testing.T) {
	_, server := unixSocketPair(t)

	// The test process connecting to its own listener always satisfies
	// the zero (lowest) integrity level.
	err := CheckIntegrityLevel(server, IntegrityLevel(0))
	require.NoError(t, err)
}

func TestCheckIntegrityLevelRejectsUnsatisfiedLevel(t *testing.T) {
	_, server := unixSocketPair(t)

	creds, err := ReadPeerCredentials(server)
	require.NoError(t, err)
	tooHigh := creds.fingerprint() + 1

	err = CheckIntegrityLevel(server, tooHigh)
	require.Error(t, err)
}
