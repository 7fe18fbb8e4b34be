package speech

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func frame(n int, v int16) []int16 {
	f := make([]int16, n)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestUtterance_EndsAfterTrailingSilence(t *testing.T) {
	u := newUtterance(1000, 500, 10*time.Second)

	assert.False(t, u.add(frame(1000, 4000)))
	assert.False(t, u.add(frame(500, 0)))
	assert.True(t, u.add(frame(600, 0)))
	assert.True(t, u.heardVoice)
	assert.Len(t, u.samples, 2100)
}

func TestUtterance_VoiceResetsSilence(t *testing.T) {
	u := newUtterance(1000, 500, 10*time.Second)

	assert.False(t, u.add(frame(900, 0)))
	assert.False(t, u.add(frame(200, -900)))
	assert.False(t, u.add(frame(900, 0)))
}

func TestUtterance_StopsAtMaxLength(t *testing.T) {
	u := newUtterance(1000, 500, 2*time.Second)

	assert.False(t, u.add(frame(1500, 3000)))
	assert.True(t, u.add(frame(500, 3000)))
}

func TestUtterance_SilenceOnly(t *testing.T) {
	u := newUtterance(1000, 0, 10*time.Second)

	u.add(frame(1000, 10))
	assert.True(t, u.add(frame(1000, 10)))
	assert.False(t, u.heardVoice)
}

func TestIsSilent(t *testing.T) {
	assert.True(t, isSilent([]int16{0, 500, -500}, 500))
	assert.False(t, isSilent([]int16{0, 501}, 500))
	assert.False(t, isSilent([]int16{-501}, 500))
}
