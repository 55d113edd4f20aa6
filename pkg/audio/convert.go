package audio

import (
	"encoding/binary"
	"fmt"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "16000Hz mono".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// Normalize converts frame to a mono stream at target.SampleRate. Browsers
// capture at whatever rate the device offers, so the media socket normalizes
// every frame before publishing it.
func Normalize(frame AudioFrame, target Format) (AudioFrame, error) {
	if frame.Channels <= 0 || frame.SampleRate <= 0 {
		return AudioFrame{}, fmt.Errorf("audio: normalize: bad source format %s", Format{frame.SampleRate, frame.Channels})
	}
	if target.Channels != 1 {
		return AudioFrame{}, fmt.Errorf("audio: normalize: only mono targets are supported, got %s", target)
	}
	if len(frame.Data)%(2*frame.Channels) != 0 {
		return AudioFrame{}, fmt.Errorf("audio: normalize: %d bytes is not aligned to %d channels", len(frame.Data), frame.Channels)
	}
	if frame.SampleRate == target.SampleRate && frame.Channels == 1 {
		return frame, nil
	}
	pcm := Downmix(frame.Data, frame.Channels)
	pcm = ResampleMono16(pcm, frame.SampleRate, target.SampleRate)
	return AudioFrame{Data: pcm, SampleRate: target.SampleRate, Channels: 1, Timestamp: frame.Timestamp}, nil
}

// Samples decodes little-endian int16 PCM. A trailing odd byte is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return out
}

// PCM encodes samples as little-endian int16 bytes.
func PCM(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// Downmix averages interleaved channels into mono.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	in := Samples(pcm)
	frames := len(in) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		for c := range channels {
			sum += int32(in[i*channels+c])
		}
		out[i] = int16(sum / int32(channels))
	}
	return PCM(out)
}

// ResampleMono16 resamples mono int16 PCM from srcRate to dstRate by linear
// interpolation. Invalid rates and equal rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	in := Samples(pcm)
	n := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}
	out := make([]int16, n)
	step := float64(srcRate) / float64(dstRate)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		frac := pos - float64(j)
		next := in[j]
		if j+1 < len(in) {
			next = in[j+1]
		}
		out[i] = int16(float64(in[j])*(1-frac) + float64(next)*frac)
	}
	return PCM(out)
}
