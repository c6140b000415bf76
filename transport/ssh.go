package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/nanogit/gitcore/retry"
)

// DefaultSSHPort is the TCP port the ssh daemon listens on when a Git
// remote URL doesn't specify one.
const DefaultSSHPort = "22"

// sshBackend implements Backend over the SSH transport: one session execs
// the service as a remote command (e.g. "git-upload-pack
// '/path/to/repo.git'"), exactly as the git CLI does.
// https://git-scm.com/docs/pack-protocol#_ssh_transport
//
// A single remote command, once started, speaks the entire protocol v2
// session (advertisement, then one or more further commands) over that
// one exec's stdin/stdout, so sshBackend dials and execs once per backend
// instance and reuses the session across SmartInfo/UploadPack/ReceivePack,
// matching tcpBackend's single-socket-per-session discipline (§4.4.2).
type sshBackend struct {
	addr   string
	path   string
	client *ssh.ClientConfig

	mu                   sync.Mutex
	conn                 *sshConn
	service              string
	advertisementPending bool
}

// sshConn holds the live SSH client, session, and pipes for one exec'd
// remote command.
type sshConn struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

func dialSSH(ctx context.Context, u *url.URL, opts ...Option) (Backend, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	auth, err := sshAuthMethods(cfg)
	if err != nil {
		return nil, fmt.Errorf("transport: configuring SSH auth: %w", err)
	}

	hostKeyCallback, err := sshHostKeyCallback(cfg)
	if err != nil {
		return nil, fmt.Errorf("transport: configuring SSH host key verification: %w", err)
	}

	username := "git"
	if u.User != nil {
		username = u.User.Username()
	}

	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), DefaultSSHPort)
	}

	return &sshBackend{
		addr: host,
		path: u.Path,
		client: &ssh.ClientConfig{
			User:            username,
			Auth:            auth,
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.DialTimeout,
		},
	}, nil
}

func sshAuthMethods(cfg *Config) ([]ssh.AuthMethod, error) {
	if len(cfg.SSHPrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(cfg.SSHPrivateKey)
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return []ssh.AuthMethod{sshAgentAuthMethod()}, nil
}

func sshHostKeyCallback(cfg *Config) (ssh.HostKeyCallback, error) {
	if len(cfg.SSHKnownHosts) == 0 {
		//nolint:gosec // explicit opt-out: caller did not supply known_hosts entries.
		return ssh.InsecureIgnoreHostKey(), nil
	}
	tmp, err := os.CreateTemp("", "gitcore-known-hosts-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(cfg.SSHKnownHosts); err != nil {
		tmp.Close()
		return nil, err
	}
	tmp.Close()
	return knownhosts.New(tmp.Name())
}

// dialAndExec opens the TCP connection, performs the SSH handshake, opens
// a session, and execs service against b.path, returning the live pipes.
func (b *sshBackend) dialAndExec(ctx context.Context, service string) (*sshConn, error) {
	d := net.Dialer{Timeout: b.client.Timeout}
	tcpConn, err := d.DialContext(ctx, "tcp", b.addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %s: %w", b.addr, err)
	}

	sshRawConn, chans, reqs, err := ssh.NewClientConn(tcpConn, b.addr, b.client)
	if err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("transport: SSH handshake: %w", err)
	}
	client := ssh.NewClient(sshRawConn, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("transport: opening SSH session: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, err
	}

	cmd := fmt.Sprintf("%s '%s'", service, filepath.ToSlash(b.path))
	if err := session.Start(cmd); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("transport: starting %q: %w", cmd, err)
	}

	return &sshConn{client: client, session: session, stdin: stdin, stdout: stdout}, nil
}

// ensureConn lazily establishes the shared session for service, retrying
// the dial-and-handshake step per the configured retrier.
func (b *sshBackend) ensureConn(ctx context.Context, service string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		return nil
	}

	conn, err := retry.Do(ctx, func() (*sshConn, error) {
		return b.dialAndExec(ctx, service)
	})
	if err != nil {
		return err
	}

	b.conn = conn
	b.service = service
	b.advertisementPending = true
	return nil
}

// command writes body (if any) to the shared session's stdin, first
// draining any still-pending ref advertisement off stdout, and returns a
// reader over the remainder of stdout.
func (b *sshBackend) command(ctx context.Context, service string, body io.Reader) (io.ReadCloser, error) {
	if err := b.ensureConn(ctx, service); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.advertisementPending {
		if err := discardAdvertisement(b.conn.stdout); err != nil {
			return nil, err
		}
		b.advertisementPending = false
	}

	if body != nil {
		if _, err := io.Copy(b.conn.stdin, body); err != nil {
			return nil, fmt.Errorf("transport: writing request body: %w", err)
		}
	}

	return io.NopCloser(b.conn.stdout), nil
}

// SmartInfo implements Backend. SSH has no dedicated discovery step:
// execing the service is itself how the server begins the capability/ref
// advertisement, so SmartInfo just establishes the session and hands back
// stdout for the caller to parse directly.
func (b *sshBackend) SmartInfo(ctx context.Context, service string) (io.ReadCloser, error) {
	if err := b.ensureConn(ctx, service); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advertisementPending = false
	return io.NopCloser(b.conn.stdout), nil
}

// UploadPack implements Backend.
func (b *sshBackend) UploadPack(ctx context.Context, request io.Reader) (io.ReadCloser, error) {
	return b.command(ctx, "git-upload-pack", request)
}

// ReceivePack implements Backend.
func (b *sshBackend) ReceivePack(ctx context.Context, request io.Reader) (io.ReadCloser, error) {
	return b.command(ctx, "git-receive-pack", request)
}

// Close releases the shared session and client, if a session was ever
// established. The remote command's exit status is collected first: a
// command that exited non-zero surfaces as an error here even if every
// byte of its output was read successfully.
func (b *sshBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	var err error
	_ = b.conn.stdin.Close()
	var exitErr *ssh.ExitError
	if werr := b.conn.session.Wait(); werr != nil && errors.As(werr, &exitErr) {
		err = fmt.Errorf("transport: remote %s exited with status %d", b.service, exitErr.ExitStatus())
	}
	_ = b.conn.session.Close()
	if cerr := b.conn.client.Close(); err == nil {
		err = cerr
	}
	b.conn = nil
	return err
}

// errNoSSHAgent is returned by the agent-backed AuthMethod when
// SSH_AUTH_SOCK isn't set or the agent socket can't be reached, so the
// handshake fails with a clear message instead of silently offering zero
// keys.
var errNoSSHAgent = errors.New("transport: no SSH_AUTH_SOCK available and no private key configured")

// sshAgentAuthMethod returns an auth method backed by the running
// ssh-agent, used when the caller hasn't supplied WithSSHPrivateKey.
func sshAgentAuthMethod() ssh.AuthMethod {
	return ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
		sock := os.Getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return nil, errNoSSHAgent
		}
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errNoSSHAgent, err)
		}
		return agent.NewClient(conn).Signers()
	})
}
