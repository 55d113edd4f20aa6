package audio

import (
	"testing"
	"time"
)

func TestSamplesPCMRoundTrip(t *testing.T) {
	t.Parallel()
	in := []int16{0, 1, -1, 32767, -32768}
	got := Samples(PCM(in))
	for i := range in {
		if got[i] != in[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], in[i])
		}
	}
	if n := len(Samples([]byte{1, 2, 3})); n != 1 {
		t.Fatalf("odd input: %d samples, want 1", n)
	}
}

func TestDownmix(t *testing.T) {
	t.Parallel()
	stereo := PCM([]int16{100, 300, 32767, 32767, -32768, -32768})
	got := Samples(Downmix(stereo, 2))
	want := []int16{200, 32767, -32768}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()
	src := PCM(make([]int16, 480))
	if got := len(ResampleMono16(src, 48000, 16000)); got != 160*2 {
		t.Fatalf("48k->16k bytes = %d, want 320", got)
	}
	if got := ResampleMono16(src, 16000, 16000); len(got) != len(src) {
		t.Fatal("equal rates should be a no-op")
	}
	ramp := PCM([]int16{0, 100})
	up := Samples(ResampleMono16(ramp, 8000, 16000))
	if len(up) != 4 || up[1] != 50 {
		t.Fatalf("upsampled = %v, want interpolated midpoint 50", up)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	target := Format{SampleRate: 16000, Channels: 1}

	same := AudioFrame{Data: PCM(make([]int16, 160)), SampleRate: 16000, Channels: 1}
	got, err := Normalize(same, target)
	if err != nil || len(got.Data) != len(same.Data) {
		t.Fatalf("passthrough: %v, %d bytes", err, len(got.Data))
	}

	stereo48 := AudioFrame{Data: PCM(make([]int16, 960)), SampleRate: 48000, Channels: 2, Timestamp: time.Second}
	got, err = Normalize(stereo48, target)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got.SampleRate != 16000 || got.Channels != 1 || len(got.Data) != 320 || got.Timestamp != time.Second {
		t.Fatalf("normalized = %d Hz, %d ch, %d bytes, ts %v", got.SampleRate, got.Channels, len(got.Data), got.Timestamp)
	}

	if _, err := Normalize(AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1}, target); err == nil {
		t.Fatal("expected alignment error")
	}
	if _, err := Normalize(same, Format{SampleRate: 16000, Channels: 2}); err == nil {
		t.Fatal("expected error for stereo target")
	}
}

func TestClip(t *testing.T) {
	t.Parallel()
	ok := Clip{Data: make([]byte, 32000), SampleRate: 16000, Channels: 1}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if d := ok.Duration(); d != time.Second {
		t.Fatalf("Duration = %v, want 1s", d)
	}
	for name, c := range map[string]Clip{
		"empty":     {SampleRate: 16000, Channels: 1},
		"no rate":   {Data: make([]byte, 4), Channels: 1},
		"unaligned": {Data: make([]byte, 6), SampleRate: 16000, Channels: 2},
	} {
		if c.Validate() == nil {
			t.Errorf("%s: expected error", name)
		}
		if c.Duration() != 0 {
			t.Errorf("%s: Duration should be 0", name)
		}
	}
}

func TestFormatString(t *testing.T) {
	t.Parallel()
	for f, want := range map[Format]string{
		{16000, 1}: "16000Hz mono",
		{48000, 2}: "48000Hz stereo",
		{44100, 6}: "44100Hz 6ch",
	} {
		if got := f.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", f, got, want)
		}
	}
}
