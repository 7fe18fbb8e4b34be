package speech

import (
	"bytes"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"go.uber.org/multierr"
)

// EncodeWAV renders mono 16-bit PCM samples as a WAV file.
func EncodeWAV(samples []int16, sampleRate int) (data []byte, err error) {
	// The encoder seeks back to patch the header sizes, so it needs a file.
	tmp, err := os.CreateTemp("", "voiceai-*.wav")
	if err != nil {
		return nil, fmt.Errorf("creating temp wav: %w", err)
	}
	defer func() {
		err = multierr.Combine(err, os.Remove(tmp.Name()))
	}()

	enc := wav.NewEncoder(tmp, sampleRate, 16, 1, 1)

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, s := range samples {
		buf.Data[i] = int(s)
	}

	if err := enc.Write(buf); err != nil {
		return nil, multierr.Combine(fmt.Errorf("encoding wav: %w", err), tmp.Close())
	}
	if err := enc.Close(); err != nil {
		return nil, multierr.Combine(fmt.Errorf("finishing wav: %w", err), tmp.Close())
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing temp wav: %w", err)
	}

	return os.ReadFile(tmp.Name())
}

// DecodeWAV returns the PCM samples and sample rate of a WAV file.
func DecodeWAV(data []byte) ([]int16, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("invalid WAV file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decoding wav: %w", err)
	}

	samples := make([]int16, len(buf.Data))
	for i, s := range buf.Data {
		samples[i] = int16(s)
	}
	return samples, int(dec.SampleRate), nil
}
