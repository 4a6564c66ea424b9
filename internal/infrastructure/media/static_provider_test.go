package media

import (
	"context"
	"testing"

	"peercall/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireMicrophone_Available(t *testing.T) {
	p := NewStaticProvider()
	tracks, err := p.AcquireMicrophone(context.Background())
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, "audio", tracks[0].ID())
}

func TestAcquireMicrophone_Absent(t *testing.T) {
	p := &StaticProvider{Microphone: DeviceAbsent}
	_, err := p.AcquireMicrophone(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoDevice)
}

func TestAcquireMicrophone_Denied(t *testing.T) {
	p := &StaticProvider{Microphone: DeviceDenied}
	_, err := p.AcquireMicrophone(context.Background())
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestAcquireDisplayCapture_Available(t *testing.T) {
	p := NewStaticProvider()
	tracks, err := p.AcquireDisplayCapture(context.Background())
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, "video", tracks[0].ID())
}

func TestAcquireDisplayCapture_Denied(t *testing.T) {
	p := &StaticProvider{Display: DeviceDenied}
	_, err := p.AcquireDisplayCapture(context.Background())
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestParseDeviceAccess(t *testing.T) {
	got, err := ParseDeviceAccess("available")
	require.NoError(t, err)
	assert.Equal(t, DeviceAvailable, got)

	got, err = ParseDeviceAccess("denied")
	require.NoError(t, err)
	assert.Equal(t, DeviceDenied, got)

	_, err = ParseDeviceAccess("sometimes")
	assert.Error(t, err)
}
