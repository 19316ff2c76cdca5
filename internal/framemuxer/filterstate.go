package framemuxer

import "github.com/mediaforge/ffproducer/media"

// updateDisplayMode recomputes the display mode and derived filter chain
// from the most recently pushed picture's field mode, the source fps this
// muxer was constructed with, and the channel's target format.
func (m *Muxer) updateDisplayMode(pic *media.RawPicture) {
	sourceMode := pic.FieldMode()

	mode := selectDisplayMode(
		sourceMode, m.format.FieldMode,
		m.inFPS, m.format.FPS,
		pic.Height, m.format.Height,
		m.forceDeinterlace,
	)

	if mode == m.displayMode {
		return
	}

	m.displayMode = mode
	m.filterStr = appendFilter(m.baseFilterStr, filterChainFor(mode))

	m.log.Debug("display mode updated",
		"mode", mode.String(),
		"source_fps", m.inFPS,
		"target_fps", m.format.FPS,
		"filter", m.filterStr,
	)
}

// FilterString returns the currently active filter chain: the caller's base
// filter string with any deinterlace stage this muxer's display mode
// requires appended.
func (m *Muxer) FilterString() string { return m.filterStr }

// DisplayMode returns the muxer's currently active display mode, mostly
// useful for diagnostics and tests.
func (m *Muxer) DisplayMode() media.DisplayMode { return m.displayMode }

// Format returns the channel format this muxer targets, used by callers
// building info()/print() responses.
func (m *Muxer) Format() media.VideoFormatDesc { return m.format }
