package source

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/openfroyo/cfgtree/pkg/cfg"
)

// AuthMethod selects how the SFTP resolver authenticates.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication
	AuthMethodPassword AuthMethod = "password"

	// AuthMethodKey uses private key authentication
	AuthMethodKey AuthMethod = "key"
)

// SFTPConfig holds the credentials used for sftp:// sources.
type SFTPConfig struct {
	// User is used when the URL carries no user
	User string

	// AuthMethod specifies which authentication method to use
	AuthMethod AuthMethod

	// Password for password-based authentication
	Password string

	// PrivateKeyPath is the path to the private key file
	PrivateKeyPath string

	// PrivateKeyPassphrase is the passphrase for encrypted private keys
	PrivateKeyPassphrase string

	// KnownHostsPath is the path to the known_hosts file
	KnownHostsPath string

	// StrictHostKeyChecking rejects hosts missing from KnownHostsPath
	StrictHostKeyChecking bool

	// ConnectionTimeout bounds the SSH handshake
	ConnectionTimeout time.Duration

	// MaxFileSize bounds the size of a fetched source
	MaxFileSize int64
}

// DefaultSFTPConfig returns an SFTPConfig using key authentication and the
// user's known_hosts file.
func DefaultSFTPConfig(user string) *SFTPConfig {
	return &SFTPConfig{
		User:                  user,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
		MaxFileSize:           4 << 20,
	}
}

// Validate checks if the configuration is valid.
func (c *SFTPConfig) Validate() error {
	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return fmt.Errorf("password is required for password authentication")
		}
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			homeDir := os.Getenv("HOME")
			for _, keyPath := range []string{
				filepath.Join(homeDir, ".ssh", "id_ed25519"),
				filepath.Join(homeDir, ".ssh", "id_rsa"),
				filepath.Join(homeDir, ".ssh", "id_ecdsa"),
			} {
				if _, err := os.Stat(keyPath); err == nil {
					c.PrivateKeyPath = keyPath
					break
				}
			}
			if c.PrivateKeyPath == "" {
				return fmt.Errorf("private key path is required for key authentication and no default key found")
			}
		}
		if _, err := os.Stat(c.PrivateKeyPath); os.IsNotExist(err) {
			return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
		}
	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max file size must be positive")
	}
	return nil
}

// clientConfig builds the ssh.ClientConfig for user.
func (c *SFTPConfig) clientConfig(user string) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	switch c.AuthMethod {
	case AuthMethodPassword:
		auth = append(auth, ssh.Password(c.Password))
		auth = append(auth, ssh.KeyboardInteractive(
			func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			},
		))
	case AuthMethodKey:
		keyBytes, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	var hostKeyCallback ssh.HostKeyCallback
	if c.KnownHostsPath != "" && c.StrictHostKeyChecking {
		var err error
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	} else {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

// Target is a parsed sftp:// location.
type Target struct {
	User string
	Host string
	Port int
	Path string
}

// ParseTarget parses sftp://[user@]host[:port]/path.
func ParseTarget(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("parse %s: %w", raw, err)
	}
	if u.Scheme != "sftp" {
		return Target{}, fmt.Errorf("parse %s: scheme must be sftp", raw)
	}
	if u.Hostname() == "" {
		return Target{}, fmt.Errorf("parse %s: missing host", raw)
	}
	if u.Path == "" || u.Path == "/" {
		return Target{}, fmt.Errorf("parse %s: missing path", raw)
	}

	t := Target{Host: u.Hostname(), Port: 22, Path: u.Path}
	if u.User != nil {
		t.User = u.User.Username()
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Target{}, fmt.Errorf("parse %s: invalid port %s", raw, p)
		}
		t.Port = port
	}
	return t, nil
}

// Address returns host:port.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// String formats the target back into a URL.
func (t Target) String() string {
	u := url.URL{Scheme: "sftp", Host: t.Host, Path: t.Path}
	if t.Port != 22 {
		u.Host = t.Address()
	}
	if t.User != "" {
		u.User = url.User(t.User)
	}
	return u.String()
}

// FetchError describes a failed remote fetch.
type FetchError struct {
	// Op is the step that failed (e.g., "connect", "open", "read")
	Op string

	// URL is the location being fetched
	URL string

	// Err is the underlying error
	Err error

	// IsTemporary indicates the fetch may succeed when retried
	IsTemporary bool
}

func (e *FetchError) Error() string {
	return e.Op + " " + e.URL + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying may help.
func (e *FetchError) Temporary() bool {
	return e.IsTemporary
}

type dialFunc func(t Target) (*sftp.Client, io.Closer, error)

// SFTP resolves sftp:// names by fetching the file over SSH. Each
// resolution opens its own connection and reads the whole file before
// returning.
type SFTP struct {
	config *SFTPConfig
	dial   dialFunc
}

// NewSFTP returns an SFTP resolver.
func NewSFTP(config *SFTPConfig) (*SFTP, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s := &SFTP{config: config}
	s.dial = s.dialSSH
	return s, nil
}

func (s *SFTP) dialSSH(t Target) (*sftp.Client, io.Closer, error) {
	clientConfig, err := s.config.clientConfig(t.User)
	if err != nil {
		return nil, nil, err
	}
	conn, err := ssh.Dial("tcp", t.Address(), clientConfig)
	if err != nil {
		return nil, nil, err
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}
	return client, conn, nil
}

// target works out the location for name included from from.
func (s *SFTP) target(name, from string) (Target, error) {
	var t Target
	if Scheme(name) == "sftp" {
		var err error
		if t, err = ParseTarget(name); err != nil {
			return Target{}, err
		}
	} else {
		base, err := ParseTarget(from)
		if err != nil {
			return Target{}, fmt.Errorf("relative name %s needs an sftp includer: %w", name, err)
		}
		t = base
		if strings.HasPrefix(name, "/") {
			t.Path = name
		} else {
			t.Path = path.Join(path.Dir(base.Path), name)
		}
	}
	if t.User == "" {
		t.User = s.config.User
	}
	return t, nil
}

// Resolve implements cfg.Resolver.
func (s *SFTP) Resolve(name, from string) (*cfg.Source, error) {
	t, err := s.target(name, from)
	if err != nil {
		return nil, err
	}
	loc := t.String()
	start := time.Now()

	client, conn, err := s.dial(t)
	if err != nil {
		return nil, &FetchError{Op: "connect", URL: loc, Err: err, IsTemporary: true}
	}
	defer conn.Close()
	defer client.Close()

	file, err := client.Open(t.Path)
	if err != nil {
		return nil, &FetchError{Op: "open", URL: loc, Err: err}
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.config.MaxFileSize+1))
	if err != nil {
		return nil, &FetchError{Op: "read", URL: loc, Err: err, IsTemporary: true}
	}
	if int64(len(data)) > s.config.MaxFileSize {
		return nil, &FetchError{Op: "read", URL: loc, Err: fmt.Errorf("larger than %d bytes", s.config.MaxFileSize)}
	}

	log.Debug().
		Str("url", loc).
		Int("bytes", len(data)).
		Dur("duration", time.Since(start)).
		Msg("fetched remote source")

	return &cfg.Source{Name: loc, ReadCloser: io.NopCloser(bytes.NewReader(data))}, nil
}
