package speech

import "time"

const (
	defaultSilenceThreshold = int16(500)
	defaultMaxUtterance     = 10 * time.Second
)

// utterance accumulates microphone frames until the speaker goes quiet for a
// second after at least a second of audio, or the maximum length is hit.
type utterance struct {
	sampleRate int
	threshold  int16
	maxSamples int

	samples    []int16
	silentRun  int
	heardVoice bool
}

func newUtterance(sampleRate int, threshold int16, maxLen time.Duration) *utterance {
	if threshold <= 0 {
		threshold = defaultSilenceThreshold
	}
	if maxLen <= 0 {
		maxLen = defaultMaxUtterance
	}
	return &utterance{
		sampleRate: sampleRate,
		threshold:  threshold,
		maxSamples: int(maxLen.Seconds() * float64(sampleRate)),
		samples:    make([]int16, 0, sampleRate*2),
	}
}

// add appends frame and reports whether the utterance is complete.
func (u *utterance) add(frame []int16) bool {
	u.samples = append(u.samples, frame...)

	if isSilent(frame, u.threshold) {
		u.silentRun += len(frame)
	} else {
		u.silentRun = 0
		u.heardVoice = true
	}

	if u.silentRun > u.sampleRate && len(u.samples) > u.sampleRate {
		return true
	}
	return len(u.samples) >= u.maxSamples
}

func isSilent(frame []int16, threshold int16) bool {
	for _, s := range frame {
		if s > threshold || s < -threshold {
			return false
		}
	}
	return true
}
