// Package session owns the SSH connection and the SFTP channel on top of
// it. One Session maps to one handshake; if the transport dies the whole
// Session is dead and the caller reconnects by dialing a new one.
//
// The underlying sftp client multiplexes concurrent requests over the
// single connection, so a Session is safe for use from multiple
// goroutines.
package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// DefaultPort is used when the config leaves Port zero.
const DefaultPort = 22

// DefaultUser is used when the config leaves User empty.
const DefaultUser = "root"

const dialTimeout = 30 * time.Second

// Config identifies the remote endpoint and how to authenticate.
type Config struct {
	Host     string
	Port     int
	User     string
	KeyPath  string
	CertPath string
}

func (c Config) addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", port))
}

func (c Config) user() string {
	if c.User == "" {
		return DefaultUser
	}
	return c.User
}

// Session is an authenticated SSH connection with an open SFTP subsystem.
type Session struct {
	client *ssh.Client
	sftp   *sftp.Client

	mu     sync.Mutex
	closed bool
}

// Dial connects, authenticates and opens the SFTP channel. It performs
// exactly one handshake; any failure is terminal for this attempt.
func Dial(cfg Config) (*Session, error) {
	auth, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.user(),
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	client, err := ssh.Dial("tcp", cfg.addr(), sshCfg)
	if err != nil {
		return nil, &ConnError{Err: fmt.Errorf("dialing %s: %w", cfg.addr(), err)}
	}

	ftp, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, &ConnError{Err: fmt.Errorf("opening sftp subsystem: %w", err)}
	}

	return &Session{client: client, sftp: ftp}, nil
}

// authMethods builds the auth chain: explicit key (optionally wrapped in
// a certificate), then ssh-agent, then the default key locations.
func authMethods(cfg Config) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.KeyPath != "" {
		signer, err := loadSigner(cfg.KeyPath, cfg.CertPath)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if m := agentAuth(); m != nil {
		methods = append(methods, m)
	}

	if cfg.KeyPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
				path := home + "/.ssh/" + name
				if signer, err := loadSigner(path, ""); err == nil {
					methods = append(methods, ssh.PublicKeys(signer))
					break
				}
			}
		}
	}

	if len(methods) == 0 {
		return nil, errors.New("no usable authentication method: provide --key or run an ssh-agent")
	}
	return methods, nil
}

func loadSigner(keyPath, certPath string) (ssh.Signer, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing private key %s: %w", keyPath, err)
	}

	if certPath == "" {
		return signer, nil
	}

	certData, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("reading certificate: %w", err)
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey(certData)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate %s: %w", certPath, err)
	}
	cert, ok := pub.(*ssh.Certificate)
	if !ok {
		return nil, fmt.Errorf("%s is not an OpenSSH certificate", certPath)
	}
	certSigner, err := ssh.NewCertSigner(cert, signer)
	if err != nil {
		return nil, fmt.Errorf("combining key and certificate: %w", err)
	}
	return certSigner, nil
}

func agentAuth() ssh.AuthMethod {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers)
}

// List returns the entries of a remote directory.
func (s *Session) List(path string) ([]Entry, error) {
	infos, err := s.sftp.ReadDir(path)
	if err != nil {
		return nil, classify(path, err)
	}
	entries := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, entryFromInfo(fi))
	}
	return entries, nil
}

// Stat returns metadata for one remote path.
func (s *Session) Stat(path string) (Entry, error) {
	fi, err := s.sftp.Stat(path)
	if err != nil {
		return Entry{}, classify(path, err)
	}
	e := entryFromInfo(fi)
	e.Name = fi.Name()
	return e, nil
}

// Open opens a remote file for reading and returns its size alongside.
func (s *Session) Open(path string) (io.ReadCloser, int64, error) {
	f, err := s.sftp.Open(path)
	if err != nil {
		return nil, 0, classify(path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, classify(path, err)
	}
	return f, fi.Size(), nil
}

// Create opens a remote file for writing, truncating it if it exists.
func (s *Session) Create(path string) (io.WriteCloser, error) {
	f, err := s.sftp.Create(path)
	if err != nil {
		return nil, classify(path, err)
	}
	return f, nil
}

// Remove deletes a remote file or empty directory.
func (s *Session) Remove(path string) error {
	return classify(path, s.sftp.Remove(path))
}

// RemoveDir deletes an empty remote directory.
func (s *Session) RemoveDir(path string) error {
	return classify(path, s.sftp.RemoveDirectory(path))
}

// Rename moves a remote file or directory.
func (s *Session) Rename(oldPath, newPath string) error {
	return classify(oldPath, s.sftp.Rename(oldPath, newPath))
}

// Mkdir creates a remote directory. The parent must exist.
func (s *Session) Mkdir(path string) error {
	return classify(path, s.sftp.Mkdir(path))
}

// Touch creates an empty remote file, failing if it already exists.
func (s *Session) Touch(path string) error {
	f, err := s.sftp.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY)
	if err != nil {
		return classify(path, err)
	}
	return classify(path, f.Close())
}

// ReadLink returns the target of a remote symlink.
func (s *Session) ReadLink(path string) (string, error) {
	target, err := s.sftp.ReadLink(path)
	if err != nil {
		return "", classify(path, err)
	}
	return target, nil
}

// Canonicalize resolves a remote path to its absolute, symlink-free form.
func (s *Session) Canonicalize(path string) (string, error) {
	real, err := s.sftp.RealPath(path)
	if err != nil {
		return "", classify(path, err)
	}
	return real, nil
}

// Close tears down the SFTP channel and the SSH connection.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	sftpErr := s.sftp.Close()
	sshErr := s.client.Close()
	if sftpErr != nil {
		return sftpErr
	}
	return sshErr
}

func entryFromInfo(fi os.FileInfo) Entry {
	e := Entry{
		Name:    fi.Name(),
		Size:    fi.Size(),
		Mode:    fi.Mode(),
		ModTime: fi.ModTime(),
	}
	if st, ok := fi.Sys().(*sftp.FileStat); ok {
		e.UID = st.UID
		e.GID = st.GID
	}
	return e
}
