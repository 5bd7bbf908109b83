package certs

import (
	"crypto/tls"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// --- Test Helpers ---

func generated(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, Generate(dir, "localhost", time.Hour))
	return dir
}

// handshake runs one TLS handshake over loopback TCP and returns the first
// error either side saw.
func handshake(t *testing.T, server, client *tls.Config) error {
	t.Helper()
	ln, err := tls.Listen("tcp", "127.0.0.1:0", server)
	require.NoError(t, err)
	defer ln.Close()

	srvErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			srvErr <- err
			return
		}
		defer conn.Close()
		// The handshake completes on first read.
		_, err = io.ReadFull(conn, make([]byte, 1))
		srvErr <- err
	}()

	conn, err := tls.Dial("tcp", ln.Addr().String(), client)
	if err == nil {
		_, err = conn.Write([]byte{1})
		conn.Close()
	}
	sErr := <-srvErr
	if err == nil {
		err = sErr
	}
	return err
}

// --- Test Cases ---

func TestGenerate_MutualTLS(t *testing.T) {
	dir := generated(t)
	srv, err := LoadServerTLSConfig(filepath.Join(dir, CAFile), filepath.Join(dir, ServerCertFile), filepath.Join(dir, ServerKeyFile))
	require.NoError(t, err)
	require.Equal(t, tls.RequireAndVerifyClientCert, srv.ClientAuth)

	cli, err := LoadClientTLSConfig(filepath.Join(dir, CAFile), filepath.Join(dir, ClientCertFile), filepath.Join(dir, ClientKeyFile))
	require.NoError(t, err)
	cli.ServerName = "localhost"

	require.NoError(t, handshake(t, srv, cli))
}

func TestServerTLS_WithoutClientCA(t *testing.T) {
	dir := generated(t)
	srv, err := LoadServerTLSConfig("", filepath.Join(dir, ServerCertFile), filepath.Join(dir, ServerKeyFile))
	require.NoError(t, err)
	require.Equal(t, tls.NoClientCert, srv.ClientAuth)

	cli, err := LoadClientTLSConfig(filepath.Join(dir, CAFile), "", "")
	require.NoError(t, err)
	cli.ServerName = "localhost"
	require.NoError(t, handshake(t, srv, cli))
}

func TestClientTLS_RejectsForeignCA(t *testing.T) {
	serverDir, otherDir := generated(t), generated(t)
	srv, err := LoadServerTLSConfig("", filepath.Join(serverDir, ServerCertFile), filepath.Join(serverDir, ServerKeyFile))
	require.NoError(t, err)

	cli, err := LoadClientTLSConfig(filepath.Join(otherDir, CAFile), "", "")
	require.NoError(t, err)
	cli.ServerName = "localhost"
	require.Error(t, handshake(t, srv, cli))
}

func TestLoad_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadServerTLSConfig("", filepath.Join(dir, "nope.crt"), filepath.Join(dir, "nope.key"))
	require.Error(t, err)
	_, err = LoadClientTLSConfig(filepath.Join(dir, "nope.crt"), "", "")
	require.Error(t, err)
}
