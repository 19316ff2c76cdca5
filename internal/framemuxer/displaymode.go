package framemuxer

import "github.com/mediaforge/ffproducer/media"

// selectDisplayMode computes the DisplayMode for a (source field mode,
// source fps, target field mode, target fps) tuple, matching the
// table. sourceHeight/targetHeight carry the NTSC-DV exception and the
// deinterlace_bob_reinterlace dimension-mismatch rule; forceDeinterlace is
// the caller's currently-active deinterlace hint.
func selectDisplayMode(sourceMode, targetMode media.FieldMode, sourceFPS, targetFPS float64, sourceHeight, targetHeight int, forceDeinterlace bool) media.DisplayMode {
	const epsilon = 0.01

	sourceProgressive := sourceMode == media.FieldModeProgressive
	targetProgressive := targetMode == media.FieldModeProgressive

	mode := media.DisplayModeSimple

	switch {
	case sourceProgressive && targetProgressive && closeEnough(sourceFPS, targetFPS, epsilon):
		mode = media.DisplayModeSimple

	case !sourceProgressive && targetProgressive && closeEnough(sourceFPS, targetFPS, epsilon):
		if forceDeinterlace {
			mode = media.DisplayModeDeinterlaceBob
		} else {
			mode = media.DisplayModeDeinterlace
		}

	case sourceProgressive && !targetProgressive && closeEnough(sourceFPS, 2*targetFPS, epsilon):
		mode = media.DisplayModeInterlace

	case closeEnough(sourceFPS, 2*targetFPS, epsilon) && sourceMode == targetMode:
		mode = media.DisplayModeHalf

	case closeEnough(targetFPS, 2*sourceFPS, epsilon) && sourceMode == targetMode:
		mode = media.DisplayModeDuplicate

	case !sourceProgressive && !closeEnough(sourceFPS, targetFPS, epsilon) && sourceHeight != targetHeight:
		mode = media.DisplayModeDeinterlaceBobReinterlace
	}

	isNTSCDV := sourceHeight == 480 && targetHeight == 486

	if !isNTSCDV && mode == media.DisplayModeSimple && !sourceProgressive && !targetProgressive && sourceHeight != targetHeight {
		mode = media.DisplayModeDeinterlaceBobReinterlace
	}

	if forceDeinterlace && !sourceProgressive &&
		mode != media.DisplayModeDeinterlace &&
		mode != media.DisplayModeDeinterlaceBob &&
		mode != media.DisplayModeDeinterlaceBobReinterlace {
		mode = media.DisplayModeDeinterlace
	}

	return mode
}

func closeEnough(a, b, epsilon float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < epsilon
}

// filterChainFor returns the YADIF filter suffix a display mode requires,
// appended to any caller-supplied filter string.
func filterChainFor(mode media.DisplayMode) string {
	switch mode {
	case media.DisplayModeDeinterlace:
		return "YADIF=0:-1"
	case media.DisplayModeDeinterlaceBob, media.DisplayModeDeinterlaceBobReinterlace:
		return "YADIF=1:-1"
	default:
		return ""
	}
}

func appendFilter(base, extra string) string {
	if extra == "" {
		return base
	}
	if base == "" {
		return extra
	}
	return base + "," + extra
}
