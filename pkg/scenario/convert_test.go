//go:build unit

package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuestXMLSpec_Options(t *testing.T) {
	t.Run("every rewrite", func(t *testing.T) {
		g := &GuestXMLSpec{
			DiskCache: "none",
			CPU: &CPUSpec{
				Model:    "Penryn",
				Vendor:   "Intel",
				Features: map[string]string{"vmx": "require", "aes": "disable"},
			},
			RemoveVideo: true,
			SoundModel:  "ich6",
			Watchdog:    &WatchdogSpec{Model: "i6300esb"},
			Smartcard:   &SmartcardSpec{Mode: SmartcardPassthrough, Type: SmartcardSpiceVMC},
			Interface:   &InterfaceSpec{Model: "virtio", Address: "type=pci,bus=0x00,slot=0x0b,function=0x0"},
		}

		opts, err := g.Options()
		require.NoError(t, err)

		assert.Equal(t, "none", opts.DiskCache)
		assert.True(t, opts.RemoveVideo)

		require.NotNil(t, opts.CPU)
		assert.Equal(t, "custom", opts.CPU.Mode)
		assert.Equal(t, "exact", opts.CPU.Match)
		assert.Equal(t, "Penryn", opts.CPU.Model.Value)
		assert.Equal(t, "allow", opts.CPU.Model.Fallback)
		assert.Equal(t, "Intel", opts.CPU.Vendor)
		require.Len(t, opts.CPU.Features, 2)
		assert.Equal(t, "aes", opts.CPU.Features[0].Name, "features are sorted by name")
		assert.Equal(t, "disable", opts.CPU.Features[0].Policy)

		require.NotNil(t, opts.Sound)
		assert.Equal(t, "ich6", opts.Sound.Model)
		require.NotNil(t, opts.Watchdog)
		assert.Equal(t, "none", opts.Watchdog.Action)
		require.NotNil(t, opts.Smartcard)
		require.NotNil(t, opts.Smartcard.Passthrough)
		assert.NotNil(t, opts.Smartcard.Passthrough.SpiceVMC)

		require.NotNil(t, opts.Interface)
		assert.Equal(t, "virtio", opts.Interface.Model.Type)
		require.NotNil(t, opts.Interface.Address.PCI)
		assert.Equal(t, uint(0x0b), *opts.Interface.Address.PCI.Slot)
	})

	t.Run("baseline cpu is left to the caller", func(t *testing.T) {
		opts, err := (&GuestXMLSpec{CPU: &CPUSpec{Baseline: true}}).Options()
		require.NoError(t, err)
		assert.Nil(t, opts.CPU)
	})

	t.Run("host smartcard", func(t *testing.T) {
		opts, err := (&GuestXMLSpec{Smartcard: &SmartcardSpec{Mode: SmartcardHost}}).Options()
		require.NoError(t, err)
		assert.NotNil(t, opts.Smartcard.Host)
		assert.Nil(t, opts.Smartcard.Passthrough)
	})

	t.Run("bad interface address", func(t *testing.T) {
		_, err := (&GuestXMLSpec{Interface: &InterfaceSpec{Address: "slot=zz"}}).Options()
		assert.ErrorContains(t, err, "setup.guestXML.interface.address")
	})
}
