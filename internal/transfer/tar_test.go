package transfer

import (
	"archive/tar"
	"bufio"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

// dialedPair returns two ends of a real TCP connection, so tests exercise
// the same half-close/trailer semantics the wire protocol relies on
// (net.Pipe's fully synchronous, unbuffered Close does not).
func dialedPair(t *testing.T) (server, client net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		accepted <- conn
	}()

	client, err = net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(ln.Addr().(*net.TCPAddr).Port))
	require.NoError(t, err)
	server = <-accepted
	return server, client
}

func TestUploadExtractsTarAndWritesByteCountTrailer(t *testing.T) {
	server, client := dialedPair(t)

	go func() {
		tw := tar.NewWriter(client)
		content := []byte("hello world")
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: "in.txt", Size: int64(len(content)), Mode: 0o644}))
		_, err := tw.Write(content)
		require.NoError(t, err)
		require.NoError(t, tw.Close())
	}()

	dest := t.TempDir()
	n, err := Upload(server, dest, true)
	require.NoError(t, err)
	require.EqualValues(t, 11, n)

	contents, err := os.ReadFile(filepath.Join(dest, "in.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(contents))

	reader := bufio.NewReader(client)
	trailer, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "11\r\n", trailer)
}

func TestUploadWithoutOverwriteFailsOnCollision(t *testing.T) {
	server, client := dialedPair(t)

	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "existing.txt"), []byte("original"), 0o644))

	go func() {
		tw := tar.NewWriter(client)
		content := []byte("clobber")
		tw.WriteHeader(&tar.Header{Name: "existing.txt", Size: int64(len(content)), Mode: 0o644})
		tw.Write(content)
		tw.Close()
	}()

	_, err := Upload(server, dest, false)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrProtocol)

	contents, err := os.ReadFile(filepath.Join(dest, "existing.txt"))
	require.NoError(t, err)
	require.Equal(t, "original", string(contents))
}

func TestDownloadWritesTarOfResolvedEntries(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "foo.txt"), "hello")
	writeFile(t, filepath.Join(src, "nested", "bar.txt"), "world!")

	server, client := dialedPair(t)

	downloadErr := make(chan error, 1)
	var downloaded int64
	go func() {
		n, err := Download(server, src)
		downloaded = n
		downloadErr <- err
	}()

	tr := tar.NewReader(client)
	got := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		buf, err := io.ReadAll(tr)
		require.NoError(t, err)
		got[hdr.Name] = string(buf)
	}

	require.NoError(t, <-downloadErr)
	require.Equal(t, "hello", got["foo.txt"])
	require.Equal(t, "world!", got[filepath.ToSlash(filepath.Join("nested", "bar.txt"))])
	require.EqualValues(t, len("hello")+len("world!"), downloaded)
}

func TestProbeSizeMatchesDownloadByteTotal(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "12345")
	writeFile(t, filepath.Join(src, "sub", "b.txt"), "67")

	size, err := ProbeSize(src)
	require.NoError(t, err)
	require.EqualValues(t, 7, size)

	server, client := dialedPair(t)
	go Download(server, src)

	tr := tar.NewReader(client)
	var total int64
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		n, err := io.Copy(io.Discard, tr)
		require.NoError(t, err)
		total += n
	}

	require.Equal(t, size, total)
}
