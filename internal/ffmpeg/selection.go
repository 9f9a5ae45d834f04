package ffmpeg

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// Priority is the automatic hardware selection order.
var Priority = []HWAccelType{HWAccelVAAPI, HWAccelCUDA, HWAccelQSV, HWAccelVideoToolbox, HWAccelAMF}

// ErrNoEncoder is returned when no usable encoder exists for a codec.
var ErrNoEncoder = errors.New("no usable encoder")

// Selection is the encoder chosen for a codec.
type Selection struct {
	Encoder string      `json:"encoder"`
	HWAccel HWAccelType `json:"hwaccel,omitempty"`
	Device  string      `json:"device,omitempty"`
}

// Software reports whether the selection is a CPU encoder.
func (s Selection) Software() bool {
	return s.HWAccel == "" || s.HWAccel == HWAccelNone
}

// EncoderSelector picks the best encoder for a codec from a detected
// installation.
type EncoderSelector struct {
	binInfo *BinaryInfo
}

// NewEncoderSelector creates a selector.
func NewEncoderSelector(binInfo *BinaryInfo) *EncoderSelector {
	return &EncoderSelector{binInfo: binInfo}
}

// NormalizeCodec maps codec aliases to "h264" or "hevc". Unknown codecs are
// returned lowercased.
func NormalizeCodec(codec string) string {
	switch c := strings.ToLower(strings.TrimSpace(codec)); c {
	case "h264", "avc", "x264", "avc1":
		return "h264"
	case "hevc", "h265", "x265", "hvc1":
		return "hevc"
	default:
		return c
	}
}

// SelectVideoEncoder chooses an encoder for codec. preferred names a backend
// to try first; "" and "auto" select by Priority, "none" forces software.
// Software is used as a fallback only when allowSoftware is set.
func (s *EncoderSelector) SelectVideoEncoder(codec, preferred string, allowSoftware bool) (Selection, error) {
	codec = NormalizeCodec(codec)
	preferred = strings.ToLower(strings.TrimSpace(preferred))

	hw := hardwareEncoders(codec)
	sw := softwareEncoder(codec)
	if hw == nil || sw == "" {
		return Selection{}, fmt.Errorf("%w: unsupported codec %q", ErrNoEncoder, codec)
	}

	slog.Debug("encoder selection starting",
		slog.String("codec", codec),
		slog.String("preferred_hwaccel", preferred),
	)

	if preferred == string(HWAccelNone) {
		return s.software(codec, sw)
	}

	if preferred != "" && preferred != "auto" {
		if sel, ok := s.tryHardware(HWAccelType(preferred), hw); ok {
			return sel, nil
		}
		slog.Debug("preferred hwaccel not usable, falling back to auto selection",
			slog.String("hwaccel", preferred),
		)
	}

	for _, accel := range Priority {
		if sel, ok := s.tryHardware(accel, hw); ok {
			return sel, nil
		}
	}

	if !allowSoftware {
		return Selection{}, fmt.Errorf("%w: no hardware encoder for %s and software encoding is disabled", ErrNoEncoder, codec)
	}
	return s.software(codec, sw)
}

func (s *EncoderSelector) tryHardware(accel HWAccelType, hw map[HWAccelType]string) (Selection, bool) {
	enc, ok := hw[accel]
	if !ok {
		return Selection{}, false
	}
	for _, info := range s.binInfo.HWAccels {
		if info.Type != accel || !info.Available {
			continue
		}
		supported := slices.Contains(info.Encoders, enc)
		slog.Debug("checking hwaccel encoder support",
			slog.String("hwaccel", string(accel)),
			slog.String("encoder", enc),
			slog.Bool("encoder_supported", supported),
			slog.String("device", info.DeviceName),
		)
		if supported {
			return Selection{Encoder: enc, HWAccel: accel, Device: info.DeviceName}, true
		}
	}
	return Selection{}, false
}

func (s *EncoderSelector) software(codec, sw string) (Selection, error) {
	if len(s.binInfo.Encoders) > 0 && !s.binInfo.HasEncoder(sw) {
		return Selection{}, fmt.Errorf("%w: ffmpeg lacks %s for %s", ErrNoEncoder, sw, codec)
	}
	slog.Debug("using software encoder", slog.String("codec", codec), slog.String("encoder", sw))
	return Selection{Encoder: sw, HWAccel: HWAccelNone}, nil
}

func hardwareEncoders(codec string) map[HWAccelType]string {
	switch codec {
	case "h264":
		return map[HWAccelType]string{
			HWAccelVAAPI:        "h264_vaapi",
			HWAccelCUDA:         "h264_nvenc",
			HWAccelQSV:          "h264_qsv",
			HWAccelVideoToolbox: "h264_videotoolbox",
			HWAccelAMF:          "h264_amf",
		}
	case "hevc":
		return map[HWAccelType]string{
			HWAccelVAAPI:        "hevc_vaapi",
			HWAccelCUDA:         "hevc_nvenc",
			HWAccelQSV:          "hevc_qsv",
			HWAccelVideoToolbox: "hevc_videotoolbox",
			HWAccelAMF:          "hevc_amf",
		}
	}
	return nil
}

func softwareEncoder(codec string) string {
	switch codec {
	case "h264":
		return "libx264"
	case "hevc":
		return "libx265"
	}
	return ""
}

// IsHardwareEncoder reports whether an encoder name belongs to a hardware
// backend.
func IsHardwareEncoder(encoder string) bool {
	encoder = strings.ToLower(encoder)
	for _, suffix := range encoderSuffixes {
		if strings.HasSuffix(encoder, suffix) {
			return true
		}
	}
	return false
}
