package format

import "strings"

// WithContainerInfo produces a new Format combining the receiver (a
// sample-level descriptor) with container-level hints. Any non-empty
// metadata passed in is appended to existing metadata; bitrate, if
// given, replaces both average and peak.
func (f *Format) WithContainerInfo(
	id string,
	label string,
	sampleMIME string,
	codecs string,
	metadata [][]byte,
	bitrate int64,
	width int,
	height int,
	channelCount int,
	selectionFlags uint32,
	language string,
) *Format {
	out := *f

	if id != "" {
		out.ID = id
	}
	if label != "" {
		out.Label = label
	}
	if sampleMIME != "" {
		out.SampleMIME = sampleMIME
	}
	if codecs != "" {
		out.Codecs = codecs
	}
	if len(metadata) > 0 {
		merged := make([][]byte, 0, len(out.Metadata)+len(metadata))
		merged = append(merged, out.Metadata...)
		merged = append(merged, metadata...)
		out.Metadata = merged
	}
	if bitrate != 0 {
		out.AverageBitrate = bitrate
		out.PeakBitrate = bitrate
	}
	if width != 0 && out.Video != nil {
		v := *out.Video
		v.Width = width
		out.Video = &v
	}
	if height != 0 && out.Video != nil {
		v := *out.Video
		v.Height = height
		out.Video = &v
	}
	if channelCount != 0 && out.Audio != nil {
		a := *out.Audio
		a.ChannelCount = channelCount
		out.Audio = &a
	}
	out.SelectionFlags |= selectionFlags
	if language != "" {
		out.Language = language
	}

	out.hashValid = false
	return &out
}

// codecTrackType maps an RFC 6381 codec string prefix to the track type
// it belongs to. Good enough for the common container codec families;
// unknown prefixes are treated as TypeUnknown and filtered out.
func codecTrackType(codec string) Type {
	codec = strings.TrimSpace(codec)
	switch {
	case strings.HasPrefix(codec, "avc1"), strings.HasPrefix(codec, "avc3"),
		strings.HasPrefix(codec, "hvc1"), strings.HasPrefix(codec, "hev1"),
		strings.HasPrefix(codec, "vp09"), strings.HasPrefix(codec, "av01"):
		return TypeVideo
	case strings.HasPrefix(codec, "mp4a"), strings.HasPrefix(codec, "ac-3"),
		strings.HasPrefix(codec, "ec-3"), strings.HasPrefix(codec, "opus"):
		return TypeAudio
	case strings.HasPrefix(codec, "wvtt"), strings.HasPrefix(codec, "stpp"):
		return TypeText
	default:
		return TypeUnknown
	}
}

func filterCodecsByType(codecs string, t Type) []string {
	var out []string
	for _, c := range strings.Split(codecs, ",") {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if codecTrackType(c) == t {
			out = append(out, c)
		}
	}
	return out
}

// combineDRMInitData implements "session-creation-data" merge: manifest
// data is preferred as the base, with self appended when both are
// present and distinct. If only one side carries DRM init data, it wins.
func combineDRMInitData(manifestData, selfData []byte) []byte {
	if len(manifestData) == 0 {
		return selfData
	}
	if len(selfData) == 0 {
		return manifestData
	}
	out := make([]byte, 0, len(manifestData)+len(selfData))
	out = append(out, manifestData...)
	out = append(out, selfData...)
	return out
}

// WithManifestFormatInfo merges manifest-level format hints into the
// receiver (the sample-level format), following strict per-field
// precedence:
//
//   - id: from manifest
//   - label: manifest preferred, else self
//   - language: self preferred, falls back to manifest for TEXT/AUDIO
//   - averageBitrate/peakBitrate: self preferred
//   - codecs: self preferred; if self has none, filter manifest codecs
//     to the sample MIME's track type and adopt only if exactly one
//     codec survives the filter
//   - frameRate: self preferred, unless VIDEO and self is absent
//   - selection/role flags: bitwise OR (commutative, order-independent)
//   - DRM init data: session-creation-data merge (manifest, then self)
func (f *Format) WithManifestFormatInfo(manifest *Format) *Format {
	out := *f

	if manifest.ID != "" {
		out.ID = manifest.ID
	}

	if manifest.Label != "" {
		out.Label = manifest.Label
	}

	if out.Language == "" && (f.Type == TypeText || f.Type == TypeAudio) {
		out.Language = manifest.Language
	}

	if out.AverageBitrate == 0 {
		out.AverageBitrate = manifest.AverageBitrate
	}
	if out.PeakBitrate == 0 {
		out.PeakBitrate = manifest.PeakBitrate
	}

	if out.Codecs == "" && manifest.Codecs != "" {
		candidates := filterCodecsByType(manifest.Codecs, codecTrackType(sniffCodecTrackTypeFromMIME(f.SampleMIME, f.Type)))
		if len(candidates) == 1 {
			out.Codecs = candidates[0]
		}
	}

	if out.Video != nil && manifest.Video != nil {
		v := *out.Video
		if f.Type == TypeVideo && v.FrameRate == 0 {
			v.FrameRate = manifest.Video.FrameRate
		}
		out.Video = &v
	}

	out.SelectionFlags = f.SelectionFlags | manifest.SelectionFlags
	out.RoleFlags = f.RoleFlags | manifest.RoleFlags

	out.DRMInitData = combineDRMInitData(manifest.DRMInitData, f.DRMInitData)

	out.hashValid = false
	return &out
}

// sniffCodecTrackTypeFromMIME maps a sample MIME's coarse family to a
// codec string usable by codecTrackType's prefix matching, so the
// filter above can be expressed purely in terms of Type. When the MIME's
// top-level type is not video, audio or text, t is used instead.
func sniffCodecTrackTypeFromMIME(sampleMIME string, t Type) string {
	switch {
	case strings.HasPrefix(sampleMIME, "video/"):
		t = TypeVideo
	case strings.HasPrefix(sampleMIME, "audio/"):
		t = TypeAudio
	case strings.HasPrefix(sampleMIME, "text/"):
		t = TypeText
	}
	switch t {
	case TypeVideo:
		return "avc1"
	case TypeAudio:
		return "mp4a"
	case TypeText:
		return "wvtt"
	default:
		return ""
	}
}
