// Package params parses the command-token form of a producer's
// configuration into a media.ProducerParams.
package params

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mediaforge/ffproducer/media"
)

// validExts are file extensions ffmpeg demuxing is known to handle well for
// this producer. validateFile does not consult this list: only invalidExts
// affects whether a resource is accepted.
var validExts = map[string]bool{
	".m2t": true, ".mov": true, ".mp4": true, ".dv": true, ".flv": true,
	".mpg": true, ".wav": true, ".mp3": true, ".dnxhd": true, ".h264": true,
	".prores": true,
}

// invalidExts are still-image formats ffprobe would happily open as a
// single-frame "video," explicitly rejected rather than silently producing
// a one-frame clip.
var invalidExts = map[string]bool{
	".png": true, ".tga": true, ".bmp": true, ".jpg": true, ".jpeg": true,
	".gif": true, ".tiff": true, ".tif": true, ".jp2": true, ".jpx": true,
	".j2k": true, ".j2c": true, ".swf": true, ".ct": true,
}

var filterAliases = []struct{ from, to string }{
	{"DEINTERLACE_BOB", "YADIF=1:-1"},
	{"DEINTERLACE", "YADIF=0:-1"},
}

// Parse tokenizes a producer command string (whitespace-separated, with an
// optional trailing `-- -opt value ...` tail of raw demux arguments) into a
// media.ProducerParams.
//
// Grammar: `<resource>` or `<KIND> <resource>` (KIND one of FILE, DEVICE,
// STREAM), followed by any of `LOOP`, `SEEK <n>`, `LENGTH <n>`,
// `FILTER <expr>` in any order, followed by an optional `--` marker and raw
// `-opt value` pairs collected unchanged into ExtraDemuxArgs.
func Parse(command string) (media.ProducerParams, error) {
	tokens := tokenize(command)
	if len(tokens) == 0 {
		return media.ProducerParams{}, fmt.Errorf("params: empty command")
	}

	var p media.ProducerParams
	i := 0

	switch strings.ToUpper(tokens[0]) {
	case "FILE":
		p.Kind = media.ResourceFile
		i = 1
	case "DEVICE":
		p.Kind = media.ResourceDevice
		i = 1
	case "STREAM":
		p.Kind = media.ResourceStream
		i = 1
	default:
		p.Kind = media.ResourceFile
	}

	if i >= len(tokens) {
		return media.ProducerParams{}, fmt.Errorf("params: missing resource identifier")
	}
	resource := tokens[i]
	i++

	if i == 1 {
		// No explicit KIND token: infer it from the resource string itself.
		p.Kind, resource = inferKind(resource)
	}

	if p.Kind == media.ResourceFile {
		if err := validateFile(resource); err != nil {
			return media.ProducerParams{}, err
		}
	}
	p.Resource = resource

	p.Length = 0 // 0 means unbounded until LENGTH overrides it

	var filterParts []string
	for i < len(tokens) {
		tok := strings.ToUpper(tokens[i])
		switch tok {
		case "LOOP":
			p.Loop = true
			i++
		case "SEEK":
			n, err := parseUint(tokens, i)
			if err != nil {
				return media.ProducerParams{}, err
			}
			p.Start = n
			i += 2
		case "LENGTH":
			n, err := parseUint(tokens, i)
			if err != nil {
				return media.ProducerParams{}, err
			}
			p.Length = n
			i += 2
		case "FILTER":
			if i+1 >= len(tokens) {
				return media.ProducerParams{}, fmt.Errorf("params: FILTER requires an expression")
			}
			filterParts = append(filterParts, tokens[i+1])
			i += 2
		case "--":
			extra, err := parseExtraArgs(tokens[i+1:])
			if err != nil {
				return media.ProducerParams{}, err
			}
			p.ExtraDemuxArgs = extra
			i = len(tokens)
		default:
			return media.ProducerParams{}, fmt.Errorf("params: unrecognized token %q", tokens[i])
		}
	}

	p.FilterStr = applyFilterAliases(strings.Join(filterParts, " "))
	return p, nil
}

func parseUint(tokens []string, i int) (uint32, error) {
	if i+1 >= len(tokens) {
		return 0, fmt.Errorf("params: %s requires a numeric argument", tokens[i])
	}
	n, err := strconv.ParseUint(tokens[i+1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("params: %s argument %q is not a number", tokens[i], tokens[i+1])
	}
	return uint32(n), nil
}

// parseExtraArgs pairs up the raw "-opt value" tail verbatim.
func parseExtraArgs(tokens []string) (map[string]string, error) {
	if len(tokens)%2 != 0 {
		return nil, fmt.Errorf("params: trailing demux args must come in -opt value pairs")
	}
	if len(tokens) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(tokens)/2)
	for i := 0; i < len(tokens); i += 2 {
		out[tokens[i]] = tokens[i+1]
	}
	return out, nil
}

// inferKind infers a resource's kind from its scheme when no explicit KIND
// token was given: dshow:// is a capture device, http(s)/rtp/rtps is a
// stream, anything else is a file.
func inferKind(resource string) (media.ResourceKind, string) {
	lower := strings.ToLower(resource)
	switch {
	case strings.HasPrefix(lower, "dshow://"):
		return media.ResourceDevice, resource[len("dshow://"):]
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"),
		strings.HasPrefix(lower, "rtp://"), strings.HasPrefix(lower, "rtps://"):
		return media.ResourceStream, resource
	default:
		return media.ResourceFile, resource
	}
}

// validateFile rejects resources with a known-bad (still-image) extension.
// Every other resource is accepted, whether or not its extension is in
// validExts, and left to the demuxer to open and fail on its own terms
// (ffmpeg's own format probing stands in for producer2's content-sniffing
// fallback here).
func validateFile(resource string) error {
	ext := extOf(resource)
	if ext == "" {
		return nil
	}
	if invalidExts[ext] {
		return fmt.Errorf("params: %q has an unsupported still-image extension", resource)
	}
	return nil
}

func extOf(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	slash := strings.LastIndexAny(path, `/\`)
	if slash > i {
		return ""
	}
	return strings.ToLower(path[i:])
}

// tokenize splits command on whitespace, treating a double-quoted run (e.g.
// a DEVICE resource name containing spaces) as a single token with the
// quotes stripped.
func tokenize(command string) []string {
	var tokens []string
	var cur strings.Builder
	inQuotes := false
	hasTok := false

	flush := func() {
		if hasTok {
			tokens = append(tokens, cur.String())
			cur.Reset()
			hasTok = false
		}
	}

	for _, r := range command {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			hasTok = true
		case !inQuotes && (r == ' ' || r == '\t'):
			flush()
		default:
			cur.WriteRune(r)
			hasTok = true
		}
	}
	flush()
	return tokens
}

func applyFilterAliases(filter string) string {
	for _, a := range filterAliases {
		filter = strings.ReplaceAll(filter, a.from, a.to)
	}
	return filter
}
