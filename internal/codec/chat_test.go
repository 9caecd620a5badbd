package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatJSONWireFormat(t *testing.T) {
	data, err := JSON{}.Encode(NewChat("aaa", "hi"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"chat","message":"hi","from":"aaa"}`, string(data))
}

func TestDecodeChat_MixedCodecs(t *testing.T) {
	for _, name := range []string{"json", "msgpack"} {
		c, err := ByName(name)
		require.NoError(t, err)
		data, err := c.Encode(NewChat("bbb", "yo"))
		require.NoError(t, err)

		m, err := DecodeChat(data, c.Binary())
		require.NoError(t, err, name)
		assert.Equal(t, "yo", m.Message)
		assert.Equal(t, "bbb", m.From)
	}
}

func TestDecodeChat_Rejects(t *testing.T) {
	_, err := DecodeChat([]byte(`{"type":"ping"}`), false)
	assert.ErrorIs(t, err, ErrNotChat)

	_, err = DecodeChat([]byte(`not json`), false)
	assert.Error(t, err)

	_, err = ByName("xml")
	assert.Error(t, err)
}
