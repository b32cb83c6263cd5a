package ws

import (
	"bytes"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFrame = `{"notificationType":"LISTENING_STARTED","data":"tok"}`

func TestFrameDecoder_Zstd(t *testing.T) {
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := enc.EncodeAll([]byte(sampleFrame), nil)
	enc.Close()

	d, err := NewFrameDecoder(CompressionZstd)
	require.NoError(t, err)
	defer d.Close()

	out, err := d.Decode(websocket.BinaryMessage, compressed)
	require.NoError(t, err)
	assert.Equal(t, sampleFrame, string(out))
}

func TestFrameDecoder_Flate(t *testing.T) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write([]byte(sampleFrame))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	d, err := NewFrameDecoder(CompressionFlate)
	require.NoError(t, err)

	out, err := d.Decode(websocket.BinaryMessage, buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, sampleFrame, string(out))
}

func TestFrameDecoder_TextPassthrough(t *testing.T) {
	d, err := NewFrameDecoder(CompressionZstd)
	require.NoError(t, err)
	defer d.Close()

	out, err := d.Decode(websocket.TextMessage, []byte(sampleFrame))
	require.NoError(t, err)
	assert.Equal(t, sampleFrame, string(out))
}

func TestFrameDecoder_Unsupported(t *testing.T) {
	_, err := NewFrameDecoder("brotli")
	assert.Error(t, err)
}

func TestParseNotification(t *testing.T) {
	msg, err := parseNotification([]byte(sampleFrame))
	require.NoError(t, err)
	ls, ok := msg.(*listeningStarted)
	require.True(t, ok)
	assert.Equal(t, "tok", ls.token)

	msg, err = parseNotification([]byte(`{"notificationType":"CONTENT_CHANGES","data":[{},{}]}`))
	require.NoError(t, err)
	cc, ok := msg.(*contentChanges)
	require.True(t, ok)
	assert.Len(t, cc.containers, 2)

	_, err = parseNotification([]byte(`{"notificationType":"LISTENING_STARTED","data":""}`))
	assert.Error(t, err)
}
