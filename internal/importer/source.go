package importer

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPAuth holds FTP credentials. Empty values log in anonymously.
type FTPAuth struct {
	User     string
	Password string
	Timeout  time.Duration
}

// Localize returns a local path for src. ftp:// URLs are downloaded into
// dir; the returned cleanup removes the download. Local paths are returned
// unchanged with a no-op cleanup.
func Localize(ctx context.Context, src, dir string, auth FTPAuth) (string, func(), error) {
	if !strings.HasPrefix(strings.ToLower(src), "ftp://") {
		return src, func() {}, nil
	}

	host, remote, err := parseFTPURL(src)
	if err != nil {
		return "", nil, err
	}
	f, err := os.CreateTemp(dir, "import-*"+path.Ext(remote))
	if err != nil {
		return "", nil, eris.Wrap(err, "importer: create temp file")
	}
	cleanup := func() { os.Remove(f.Name()) } //nolint:errcheck

	n, err := downloadFTP(ctx, host, remote, auth, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", nil, err
	}

	zap.L().Info("downloaded import file",
		zap.String("host", host),
		zap.String("path", remote),
		zap.Int64("bytes", n),
	)
	return f.Name(), cleanup, nil
}

func downloadFTP(ctx context.Context, host, remote string, auth FTPAuth, w io.Writer) (int64, error) {
	timeout := auth.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	conn, err := ftp.Dial(host, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return 0, eris.Wrap(err, "importer: ftp dial")
	}
	defer conn.Quit() //nolint:errcheck

	user, pass := auth.User, auth.Password
	if user == "" {
		user, pass = "anonymous", "anonymous@"
	}
	if err := conn.Login(user, pass); err != nil {
		return 0, eris.Wrap(err, "importer: ftp login")
	}

	resp, err := conn.Retr(remote)
	if err != nil {
		return 0, eris.Wrapf(err, "importer: ftp retrieve %s", remote)
	}
	defer resp.Close() //nolint:errcheck

	n, err := io.Copy(w, resp)
	return n, eris.Wrap(err, "importer: ftp copy")
}

// parseFTPURL splits an ftp:// URL into host:port and remote path.
func parseFTPURL(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", eris.Wrap(err, "importer: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("importer: expected ftp scheme, got %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		return "", "", eris.New("importer: ftp url has no path")
	}
	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "21")
	}
	return host, u.Path, nil
}

// detectFormat picks a parser from the file extension.
func detectFormat(p string) (Format, error) {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", eris.Errorf("importer: cannot infer format of %q", p)
}
