package ffinput

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mediaforge/ffproducer/media"
)

func TestIsSaneFPS(t *testing.T) {
	t.Parallel()

	cases := []struct {
		num, den int
		want     bool
	}{
		{1, 25, true},
		{1001, 30000, true},
		{0, 25, false},
		{1, 1000, false}, // 1000fps, outside the sane band
		{10, 1, false},   // 0.1fps
	}
	for _, c := range cases {
		if got := isSaneFPS(c.num, c.den); got != c.want {
			t.Errorf("isSaneFPS(%d, %d) = %v, want %v", c.num, c.den, got, c.want)
		}
	}
}

func TestFixTimeBaseRebasesBareNumerator(t *testing.T) {
	t.Parallel()

	num, den := fixTimeBase(1, 2997)
	if !isSaneFPS(num, den) {
		t.Fatalf("fixTimeBase(1, 2997) = (%d, %d), still not sane", num, den)
	}
}

func TestFixTimeBaseHalvesDenominatorWhenNeeded(t *testing.T) {
	t.Parallel()

	// den chosen so that halving (not rebasing num) lands in the sane band:
	// 1000/10 = 100fps (not sane), 500/10 = 50fps (sane).
	num, den := fixTimeBase(10, 1000)
	if !isSaneFPS(num, den) {
		t.Fatalf("fixTimeBase(10, 1000) = (%d, %d), still not sane", num, den)
	}
}

func TestSnapFPSPicksNearestKnownRate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		fps  float64
		want float64
	}{
		{29.9, 29.97},
		{30.1, 30},
		{59.9, 59.94},
		{23.98, 23.976},
		{25.01, 25},
	}
	for _, c := range cases {
		if got := snapFPS(c.fps); got != c.want {
			t.Errorf("snapFPS(%v) = %v, want %v", c.fps, got, c.want)
		}
	}
}

func TestReadFLVMetaFPSIgnoresNonFLVResource(t *testing.T) {
	t.Parallel()

	in := &Input{params: media.ProducerParams{Resource: "clip.mov"}}
	if _, ok := in.readFLVMetaFPS(); ok {
		t.Fatal("readFLVMetaFPS should ignore a non-.flv resource")
	}
}

func TestReadFLVMetaFPSReadsSidecar(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	resource := filepath.Join(dir, "clip.flv")
	meta, err := json.Marshal(map[string]string{"framerate": "29.97"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := os.WriteFile(resource+".meta", meta, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	in := &Input{params: media.ProducerParams{Resource: resource}}
	fps, ok := in.readFLVMetaFPS()
	if !ok {
		t.Fatal("readFLVMetaFPS should find the sidecar")
	}
	if fps != 29.97 {
		t.Fatalf("fps = %v, want 29.97", fps)
	}
}

func TestReadFLVMetaFPSMissingSidecarIsNotFound(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := &Input{params: media.ProducerParams{Resource: filepath.Join(dir, "clip.flv")}}
	if _, ok := in.readFLVMetaFPS(); ok {
		t.Fatal("readFLVMetaFPS should report not-found when no sidecar exists")
	}
}

func TestEofHonorsConfiguredLength(t *testing.T) {
	t.Parallel()

	in := &Input{params: media.ProducerParams{Length: 10}, frameNumber: 10}
	if !in.Eof() {
		t.Fatal("Eof should be true once frameNumber reaches the configured Length")
	}

	in2 := &Input{params: media.ProducerParams{Length: 10}, frameNumber: 9}
	if in2.Eof() {
		t.Fatal("Eof should be false before frameNumber reaches the configured Length")
	}
}

func TestEofReflectsReadState(t *testing.T) {
	t.Parallel()

	in := &Input{lastReadEOF: true}
	if !in.Eof() {
		t.Fatal("Eof should be true once a read has hit end-of-stream")
	}
}

func TestCloseIsSafeOnNilInput(t *testing.T) {
	t.Parallel()

	var in *Input
	in.Close() // must not panic
}

func TestPlatformCaptureFormatIsNonEmpty(t *testing.T) {
	t.Parallel()

	if platformCaptureFormat() == "" {
		t.Fatal("platformCaptureFormat should never return an empty string")
	}
}
