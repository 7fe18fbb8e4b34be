package speech_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceai/internal/infra/speech"
)

func TestEncodeWAV(t *testing.T) {
	samples := []int16{0, 1200, -1200, 32767, -32768, 42}

	data, err := speech.EncodeWAV(samples, 16000)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))

	decoded, rate, err := speech.DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)
	assert.Equal(t, samples, decoded)
}

func TestDecodeWAV_Invalid(t *testing.T) {
	_, _, err := speech.DecodeWAV([]byte("not a wav file at all"))
	assert.Error(t, err)
}
