package ffinput

import (
	"encoding/json"
	"os"
	"runtime"
)

// readSidecar reads a flat string-keyed JSON metadata file sitting next to
// a resource, used only for the FLV framerate lookup.
func readSidecar(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta map[string]string
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// platformCaptureFormat picks the capture input format name for the host
// platform, matching the original's Windows-only "dshow" with the
// additional Linux/macOS formats ffmpeg ships.
func platformCaptureFormat() string {
	switch runtime.GOOS {
	case "windows":
		return "dshow"
	case "darwin":
		return "avfoundation"
	default:
		return "v4l2"
	}
}
