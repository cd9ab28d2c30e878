// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/alexandremahdhaoui/virtmig/pkg/execcontext"
	"github.com/avast/retry-go"
	"github.com/povsister/scp"
	"golang.org/x/crypto/ssh"
)

const (
	defaultPort         = "22"
	defaultDialTimeout  = 10 * time.Second
	defaultDialAttempts = 3
	defaultDialDelay    = 2 * time.Second
)

var (
	errNoAuthMethod     = errors.New("either a private key or a password is required")
	errParsePrivateKey  = errors.New("unable to parse private key")
	errDial             = errors.New("unable to connect to ssh server")
	errNewSession       = errors.New("unable to create ssh session")
	errRemoteCommand    = errors.New("remote command failed")
	errCopyToRemote     = errors.New("failed to copy file to remote host")
	errCopyFromRemote   = errors.New("failed to copy file from remote host")
	errAwaitServer      = errors.New("timed out waiting for ssh server")
	errReadPrivateKey   = errors.New("unable to read private key")
	errNewSCPConnection = errors.New("unable to open scp session")
)

// Client implements RemoteHost over SSH. Every call opens its own
// connection.
type Client struct {
	Host       string
	User       string
	Port       string
	PrivateKey []byte
	Password   string
}

// NewClient creates a client authenticating with the private key at
// privateKeyPath.
func NewClient(host, user, privateKeyPath, port string) (*Client, error) {
	key, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, errors.Join(err, errReadPrivateKey)
	}

	return &Client{
		Host:       host,
		User:       user,
		PrivateKey: key,
		Port:       port,
	}, nil
}

// NewPasswordClient creates a client authenticating with a password.
func NewPasswordClient(host, user, password, port string) *Client {
	return &Client{
		Host:     host,
		User:     user,
		Password: password,
		Port:     port,
	}
}

// Address returns host:port.
func (c *Client) Address() string {
	port := c.Port
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(c.Host, port)
}

func (c *Client) config() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if len(c.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(c.PrivateKey)
		if err != nil {
			return nil, errors.Join(err, errParsePrivateKey)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password))
	}
	if len(auth) == 0 {
		return nil, errNoAuthMethod
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // test hosts are disposable
		Timeout:         defaultDialTimeout,
	}, nil
}

// dial connects, retrying transient network failures.
func (c *Client) dial(ctx context.Context) (*ssh.Client, error) {
	config, err := c.config()
	if err != nil {
		return nil, err
	}

	addr := c.Address()
	var conn *ssh.Client
	err = retry.Do(
		func() error {
			var err error
			conn, err = ssh.Dial("tcp", addr, config)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(defaultDialAttempts),
		retry.Delay(defaultDialDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, errors.Join(err, fmt.Errorf("addr=%s", addr), errDial)
	}
	return conn, nil
}

// Run executes cmd on the remote host. A command exiting non-zero returns
// an error from which ExitStatus recovers the status.
func (c *Client) Run(
	ctx execcontext.Context,
	cmd ...string,
) (stdout, stderr string, err error) {
	conn, err := c.dial(context.Background())
	if err != nil {
		return "", "", err
	}
	defer runFuncAndLogErr(conn.Close)

	session, err := conn.NewSession()
	if err != nil {
		return "", "", errors.Join(err, errNewSession)
	}
	defer runFuncAndLogErr(session.Close)

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	line := execcontext.FormatCmd(ctx, cmd...)
	slog.Debug("running remote command", "host", c.Host, "cmd", line)

	if err := session.Run(line); err != nil {
		return stdoutBuf.String(), stderrBuf.String(), fmt.Errorf("%w: %w", errRemoteCommand, err)
	}

	return stdoutBuf.String(), stderrBuf.String(), nil
}

// CopyToRemote copies a local file to the remote host.
func (c *Client) CopyToRemote(ctx context.Context, localPath, remotePath string) error {
	return c.withSCP(ctx, func(client *scp.Client) error {
		if err := client.CopyFileToRemote(localPath, remotePath, &scp.FileTransferOption{}); err != nil {
			return errors.Join(err, fmt.Errorf("local=%s remote=%s", localPath, remotePath), errCopyToRemote)
		}
		return nil
	})
}

// CopyFromRemote copies a remote file to the local host.
func (c *Client) CopyFromRemote(ctx context.Context, remotePath, localPath string) error {
	return c.withSCP(ctx, func(client *scp.Client) error {
		if err := client.CopyFileFromRemote(remotePath, localPath, &scp.FileTransferOption{}); err != nil {
			return errors.Join(err, fmt.Errorf("remote=%s local=%s", remotePath, localPath), errCopyFromRemote)
		}
		return nil
	})
}

func (c *Client) withSCP(ctx context.Context, fn func(client *scp.Client) error) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer runFuncAndLogErr(conn.Close)

	client, err := scp.NewClientFromExistingSSH(conn, &scp.ClientOption{})
	if err != nil {
		return errors.Join(err, errNewSCPConnection)
	}
	return fn(client)
}

// AwaitServer waits until the SSH server accepts a connection.
func (c *Client) AwaitServer(ctx context.Context, timeout, interval time.Duration) error {
	config, err := c.config()
	if err != nil {
		return err
	}

	addr := c.Address()
	timeoutChan := time.After(timeout)
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		conn, err := ssh.Dial("tcp", addr, config)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		slog.DebugContext(ctx, "ssh server not available yet", "addr", addr, "error", err.Error())

		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), errAwaitServer)
		case <-timeoutChan:
			return fmt.Errorf("%w: addr=%s", errAwaitServer, addr)
		case <-tick.C:
		}
	}
}

func runFuncAndLogErr(f func() error) {
	if err := f(); err != nil {
		slog.Debug("error closing ssh session or connection", "err", err.Error())
	}
}
