package audiodecoder

import "testing"

func TestCloseIsSafeOnNilDecoder(t *testing.T) {
	t.Parallel()

	var d *AudioDecoder
	d.Close() // must not panic
}

func TestFileFrameNumberStartsAtZero(t *testing.T) {
	t.Parallel()

	d := &AudioDecoder{}
	if got := d.FileFrameNumber(); got != 0 {
		t.Fatalf("FileFrameNumber() = %d, want 0", got)
	}
}
