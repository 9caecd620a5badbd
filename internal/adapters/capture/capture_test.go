package capture

import (
	"context"
	"testing"

	"github.com/dkeye/Mesh/internal/app/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthetic_CameraAndScreen(t *testing.T) {
	s := &Synthetic{}
	m := media.NewManager(s)

	cam, err := m.AcquireCameraAndMic(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cam.Video())
	require.NotNil(t, cam.Audio())

	scr, err := m.AcquireScreenShare(context.Background())
	require.NoError(t, err)
	require.NotNil(t, scr.Video())
	assert.Nil(t, scr.Audio())
	assert.NotEqual(t, cam.ID, scr.ID)

	ended := make(chan struct{})
	scr.Video().OnEnded(func() { close(ended) })
	m.ReleaseAll(cam, scr)
	<-ended
	assert.Equal(t, int32(2), s.Captures.Load())
}

func TestSynthetic_InjectedFailure(t *testing.T) {
	s := &Synthetic{UserErr: media.Unavailable(media.SourceCamera, media.ReasonPermissionDenied, nil)}
	_, err := media.NewManager(s).AcquireCameraAndMic(context.Background())
	assert.Equal(t, media.ReasonPermissionDenied, media.ReasonOf(err))
}

func TestNoneAndByName(t *testing.T) {
	_, err := media.NewManager(None{}).AcquireScreenShare(context.Background())
	assert.Equal(t, media.ReasonUnsupported, media.ReasonOf(err))

	c, err := ByName("none", "", "")
	require.NoError(t, err)
	assert.IsType(t, None{}, c)

	_, err = ByName("webcam", "", "")
	assert.Error(t, err)
	_, err = ByName("devices", "h265", "")
	assert.Error(t, err)
}
