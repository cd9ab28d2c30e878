//go:build unit

/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ssh_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexandremahdhaoui/virtmig/internal/util/ssh"
	"github.com/alexandremahdhaoui/virtmig/pkg/execcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cryptossh "golang.org/x/crypto/ssh"
)

func TestNewClient(t *testing.T) {
	t.Run("reads the private key", func(t *testing.T) {
		keyPath := filepath.Join(t.TempDir(), "id_ed25519")
		require.NoError(t, os.WriteFile(keyPath, []byte("not really a key"), 0o600))

		client, err := ssh.NewClient("host2", "root", keyPath, "2222")
		require.NoError(t, err)
		assert.Equal(t, "host2", client.Host)
		assert.Equal(t, "root", client.User)
		assert.Equal(t, "2222", client.Port)
		assert.Equal(t, []byte("not really a key"), client.PrivateKey)
		assert.Equal(t, "host2:2222", client.Address())
	})

	t.Run("missing key file", func(t *testing.T) {
		_, err := ssh.NewClient("host2", "root", filepath.Join(t.TempDir(), "missing"), "22")
		assert.Error(t, err)
	})
}

func TestClient_Address(t *testing.T) {
	assert.Equal(t, "host2:22", ssh.NewPasswordClient("host2", "root", "secret", "").Address())
	assert.Equal(t, "[fd00::2]:22", ssh.NewPasswordClient("fd00::2", "root", "secret", "22").Address())
}

func TestClient_RequiresAuth(t *testing.T) {
	client := &ssh.Client{Host: "127.0.0.1", User: "root", Port: "1"}

	_, _, err := client.Run(execcontext.Empty(), "true")
	require.Error(t, err)
	assert.ErrorContains(t, err, "private key or a password")

	err = client.AwaitServer(context.Background(), time.Millisecond, time.Millisecond)
	assert.Error(t, err)
}

func TestExitStatus(t *testing.T) {
	status, ok := ssh.ExitStatus(nil)
	assert.True(t, ok)
	assert.Equal(t, 0, status)

	status, ok = ssh.ExitStatus(errors.New("connection reset"))
	assert.False(t, ok)
	assert.Equal(t, -1, status)

	wrapped := fmt.Errorf("remote command failed: %w", &cryptossh.ExitError{Waitmsg: cryptossh.Waitmsg{}})
	status, ok = ssh.ExitStatus(wrapped)
	assert.True(t, ok)
	assert.Equal(t, 0, status)
}
