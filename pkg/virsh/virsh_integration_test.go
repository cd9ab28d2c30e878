//go:build integration

package virsh_test

import (
	"context"
	"testing"

	"github.com/alexandremahdhaoui/virtmig/internal/util/testutil"
	"github.com/alexandremahdhaoui/virtmig/pkg/command"
	"github.com/alexandremahdhaoui/virtmig/pkg/virsh"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_UnknownDomain_Integration(t *testing.T) {
	testutil.SkipWithoutCommands(t, "virsh")

	c := virsh.New(command.NewLocal(nil), virsh.WithConnectURI("qemu:///system"))
	ctx := context.Background()
	name := "virtmig-" + uuid.NewString()[:8]

	exists, err := c.DomainExists(ctx, name)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = c.JobInfo(ctx, name)
	assert.Error(t, err)
}
