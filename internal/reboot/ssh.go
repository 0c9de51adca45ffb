package reboot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type sshTransport struct {
	logger       *slog.Logger
	insecureOnce sync.Once
}

// NewSSHTransport returns a Transport that runs commands over SSH.
// Pass nil logger to use the default logger.
func NewSSHTransport(logger *slog.Logger) Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &sshTransport{logger: logger}
}

func (t *sshTransport) Exec(ctx context.Context, target Target, command string) (ExecResult, error) {
	cfg, err := t.clientConfig(target)
	if err != nil {
		return ExecResult{}, err
	}

	port := target.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(target.Host, strconv.Itoa(port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return ExecResult{}, fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer conn.Close()
	// Closing the connection unblocks the handshake and the session once ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		return ExecResult{}, t.ctxErr(ctx, fmt.Errorf("ssh handshake with %s: %w", addr, err))
	}
	client := ssh.NewClient(c, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return ExecResult{}, t.ctxErr(ctx, fmt.Errorf("opening session: %w", err))
	}
	defer session.Close()

	var stderr bytes.Buffer
	session.Stderr = &stderr

	err = session.Run(command)
	res := ExecResult{Stderr: stderr.String()}

	var exitErr *ssh.ExitError
	var missingErr *ssh.ExitMissingError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
		return res, nil
	case ctx.Err() != nil:
		return res, ctx.Err()
	case errors.As(err, &missingErr), errors.Is(err, io.EOF):
		return res, ErrNoExitStatus
	default:
		return res, fmt.Errorf("running %q: %w", command, err)
	}
}

// ctxErr prefers the context error when the connection was torn down by it.
func (t *sshTransport) ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}

func (t *sshTransport) clientConfig(target Target) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if target.KeyFile != "" {
		key, err := os.ReadFile(target.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parsing key file %q: %w", target.KeyFile, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if target.Password != "" {
		password := target.Password
		auth = append(auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	var hostKey ssh.HostKeyCallback
	if target.KnownHosts != "" {
		cb, err := knownhosts.New(target.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("loading known hosts: %w", err)
		}
		hostKey = cb
	} else {
		t.insecureOnce.Do(func() {
			t.logger.Warn("no known_hosts configured; accepting any host key", "host", target.Host)
		})
		hostKey = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            target.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
	}, nil
}
