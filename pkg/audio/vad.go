package audio

import "math"

// VAD classifies one audio frame as speech or silence.
type VAD interface {
	IsSpeech(pcm []byte) bool
}

// EnergyVAD marks a frame as speech when its normalized RMS energy
// crosses the threshold. PCM is little-endian 16-bit mono.
type EnergyVAD struct {
	Threshold float64
}

func NewEnergyVAD(threshold float64) *EnergyVAD {
	if threshold <= 0 {
		threshold = 0.35
	}
	return &EnergyVAD{Threshold: threshold}
}

func (v *EnergyVAD) IsSpeech(pcm []byte) bool {
	return RMS(pcm) >= v.Threshold
}

// RMS computes normalized root-mean-square energy in [0, 1].
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}
