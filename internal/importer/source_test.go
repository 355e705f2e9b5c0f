package importer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ftpStub is a single-purpose FTP server answering the commands the
// jlaffaye client sends for a login plus RETR over EPSV/PASV.
type ftpStub struct {
	ln    net.Listener
	files map[string]string
	wg    sync.WaitGroup

	mu    sync.Mutex
	users []string
}

func newFTPStub(t *testing.T, files map[string]string) *ftpStub {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &ftpStub{ln: ln, files: files}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go s.serve(conn)
		}
	}()
	t.Cleanup(func() {
		ln.Close() //nolint:errcheck
		s.wg.Wait()
	})
	return s
}

func (s *ftpStub) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()                                 //nolint:errcheck
	conn.SetDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck

	r := bufio.NewReader(conn)
	reply := func(format string, args ...any) {
		fmt.Fprintf(conn, format+"\r\n", args...) //nolint:errcheck
	}
	reply("220 ready")

	var data net.Listener
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		switch strings.ToUpper(cmd) {
		case "USER":
			s.mu.Lock()
			s.users = append(s.users, arg)
			s.mu.Unlock()
			reply("331 password please")
		case "PASS":
			reply("230 logged in")
		case "FEAT":
			reply("211 no features")
		case "TYPE", "OPTS":
			reply("200 ok")
		case "EPSV":
			data, err = net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				reply("425 no data connection")
				continue
			}
			reply("229 Entering Extended Passive Mode (|||%d|)", data.Addr().(*net.TCPAddr).Port)
		case "RETR":
			content, ok := s.files[arg]
			if !ok || data == nil {
				reply("550 not found")
				continue
			}
			reply("150 opening data connection")
			dc, err := data.Accept()
			if err == nil {
				io.WriteString(dc, content) //nolint:errcheck
				dc.Close()                  //nolint:errcheck
			}
			data.Close() //nolint:errcheck
			data = nil
			reply("226 transfer complete")
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 not implemented")
		}
	}
}

func TestParseFTPURL(t *testing.T) {
	tests := []struct {
		url      string
		wantHost string
		wantPath string
		wantErr  bool
	}{
		{url: "ftp://files.example.com/leads/q3.csv", wantHost: "files.example.com:21", wantPath: "/leads/q3.csv"},
		{url: "ftp://files.example.com:2121/a.xlsx", wantHost: "files.example.com:2121", wantPath: "/a.xlsx"},
		{url: "sftp://files.example.com/a.csv", wantErr: true},
		{url: "ftp://files.example.com/", wantErr: true},
		{url: "://bad", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			host, p, err := parseFTPURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPath, p)
		})
	}
}

func TestLocalize_LocalPath(t *testing.T) {
	p, cleanup, err := Localize(context.Background(), "/data/leads.csv", t.TempDir(), FTPAuth{})
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, "/data/leads.csv", p)
}

func TestImport_FromFTP(t *testing.T) {
	srv := newFTPStub(t, map[string]string{
		"/drop/leads.csv": "id,lat,lon,asset_value\nf1,37.7,-122.4,410000\n",
	})
	dir := t.TempDir()
	w := &memWriter{}

	src := fmt.Sprintf("ftp://%s/drop/leads.csv", srv.ln.Addr())
	report, err := New(w, 0, nil).Import(context.Background(), src, Options{
		TempDir: dir,
		FTP:     FTPAuth{User: "loader", Password: "secret", Timeout: 5 * time.Second},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Imported)
	assert.Equal(t, "f1", w.all()[0].ID)

	srv.mu.Lock()
	assert.Equal(t, []string{"loader"}, srv.users)
	srv.mu.Unlock()

	// The download is removed once the import finishes.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestImport_FTPNotFound(t *testing.T) {
	srv := newFTPStub(t, map[string]string{})

	src := fmt.Sprintf("ftp://%s/missing.csv", srv.ln.Addr())
	_, err := New(&memWriter{}, 0, nil).Import(context.Background(), src, Options{TempDir: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "importer: ftp retrieve /missing.csv")
}

func TestImport_FTPConnectionRefused(t *testing.T) {
	_, err := New(&memWriter{}, 0, nil).Import(context.Background(), "ftp://127.0.0.1:1/a.csv", Options{
		TempDir: t.TempDir(),
		FTP:     FTPAuth{Timeout: time.Second},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "importer: ftp dial")
}
