package ffmpeg

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not installed.
func skipIfNoFFmpeg(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	return path
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

const versionOutput = `ffmpeg version n6.1.1-7-ga267d4ad4c Copyright (c) 2000-2023 the FFmpeg developers
built with gcc 13.2.1 (GCC) 20230801
configuration: --prefix=/usr --enable-vaapi --enable-nvenc
libavutil      58. 29.100 / 58. 29.100
`

const encodersOutput = `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
 V....D h264_vaapi           H.264/AVC (VAAPI) (codec h264)
 V....D hevc_vaapi           H.265/HEVC (VAAPI) (codec hevc)
 V....D h264_qsv             H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (Intel Quick Sync Video acceleration) (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
`

func TestParseVersion(t *testing.T) {
	v, err := parseVersion(versionOutput)
	require.NoError(t, err)
	assert.Equal(t, "n6.1.1-7-ga267d4ad4c", v.Full)
	assert.Equal(t, 6, v.Major)
	assert.Equal(t, 1, v.Minor)
	assert.Equal(t, "gcc 13.2.1 (GCC) 20230801", v.BuildDate)
	assert.Contains(t, v.Configuration, "--enable-vaapi")

	_, err = parseVersion("not ffmpeg at all")
	assert.Error(t, err)
}

func TestParseEncoders(t *testing.T) {
	encoders := parseEncoders(encodersOutput)
	assert.Equal(t, []string{"libx264", "h264_nvenc", "h264_vaapi", "hevc_vaapi", "h264_qsv"}, encoders)
}

func TestBinaryInfo_SupportsMinVersion(t *testing.T) {
	info := &BinaryInfo{MajorVersion: 6, MinorVersion: 1}
	assert.True(t, info.SupportsMinVersion(5, 9))
	assert.True(t, info.SupportsMinVersion(6, 0))
	assert.True(t, info.SupportsMinVersion(6, 1))
	assert.False(t, info.SupportsMinVersion(6, 2))
	assert.False(t, info.SupportsMinVersion(7, 0))
}

func TestBinaryInfo_JSON(t *testing.T) {
	info := &BinaryInfo{FFmpegPath: "/usr/bin/ffmpeg", Version: "6.1"}
	out := info.JSON()
	assert.Contains(t, out, `"ffmpeg_path": "/usr/bin/ffmpeg"`)
	assert.Contains(t, out, `"version": "6.1"`)
}

func TestFindBinary(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "my-ffmpeg")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755))
	plain := filepath.Join(dir, "not-executable")
	require.NoError(t, os.WriteFile(plain, []byte("x"), 0o644))

	t.Run("explicit path wins", func(t *testing.T) {
		t.Setenv(BinaryEnv, "")
		path, err := FindBinary(exe)
		require.NoError(t, err)
		assert.Equal(t, exe, path)
	})

	t.Run("environment variable", func(t *testing.T) {
		t.Setenv(BinaryEnv, exe)
		path, err := FindBinary("")
		require.NoError(t, err)
		assert.Equal(t, exe, path)
	})

	t.Run("non-executable explicit path is skipped", func(t *testing.T) {
		t.Setenv(BinaryEnv, "")
		t.Setenv("PATH", dir)
		_, err := FindBinary(plain)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Contains(t, err.Error(), plain)
	})

	t.Run("directories are not binaries", func(t *testing.T) {
		t.Setenv(BinaryEnv, dir)
		t.Setenv("PATH", dir)
		_, err := FindBinary("")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestBinaryDetector_Detect(t *testing.T) {
	skipIfNoFFmpeg(t)

	detector := NewBinaryDetector("").WithCacheTTL(time.Hour)
	detector.ProbeHardware = false

	info, err := detector.Detect(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, info.FFmpegPath)
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.Encoders)

	cached, err := detector.Detect(context.Background())
	require.NoError(t, err)
	assert.Same(t, info, cached)

	detector.Clear()
	fresh, err := detector.Detect(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, info, fresh)
}

func TestAccelEncoders(t *testing.T) {
	encoders := parseEncoders(encodersOutput)
	assert.Equal(t, []string{"h264_vaapi", "hevc_vaapi"}, AccelEncoders(HWAccelVAAPI, encoders))
	assert.Equal(t, []string{"h264_nvenc"}, AccelEncoders(HWAccelCUDA, encoders))
	assert.Empty(t, AccelEncoders(HWAccelAMF, encoders))
	assert.Empty(t, AccelEncoders(HWAccelNone, encoders))
}

func TestHWAccelDetector_Detect(t *testing.T) {
	var probed []string
	d := &HWAccelDetector{
		ffmpegPath: "ffmpeg",
		run: func(_ context.Context, _ string, args ...string) error {
			joined := strings.Join(args, " ")
			probed = append(probed, joined)
			if strings.Contains(joined, "h264_nvenc") {
				return nil
			}
			return errors.New("exit status 1")
		},
	}

	accels, err := d.Detect(context.Background(), parseEncoders(encodersOutput))
	require.NoError(t, err)

	byType := map[HWAccelType]HWAccelInfo{}
	for _, a := range accels {
		byType[a.Type] = a
	}
	require.Contains(t, byType, HWAccelCUDA)
	assert.True(t, byType[HWAccelCUDA].Available)
	assert.Equal(t, []string{"h264_nvenc"}, byType[HWAccelCUDA].Encoders)
	require.Contains(t, byType, HWAccelQSV)
	assert.False(t, byType[HWAccelQSV].Available)
	assert.Empty(t, byType[HWAccelQSV].Encoders)
	assert.NotContains(t, byType, HWAccelAMF, "backends without encoders are not reported")

	for _, args := range probed {
		assert.Contains(t, args, "nullsrc=s=320x240:d=0.1")
		assert.True(t, strings.HasSuffix(args, "-f null -"))
	}
}

func TestEncoderSelector_SelectVideoEncoder(t *testing.T) {
	info := &BinaryInfo{
		Encoders: []string{"libx264", "libx265", "h264_vaapi", "h264_nvenc", "hevc_nvenc", "h264_qsv"},
		HWAccels: []HWAccelInfo{
			{Type: HWAccelVAAPI, Available: false},
			{Type: HWAccelCUDA, Available: true, DeviceName: "NVIDIA NVENC", Encoders: []string{"h264_nvenc", "hevc_nvenc"}},
			{Type: HWAccelQSV, Available: true, DeviceName: "Intel Quick Sync", Encoders: []string{"h264_qsv"}},
		},
	}
	s := NewEncoderSelector(info)

	tests := []struct {
		name      string
		codec     string
		preferred string
		software  bool
		want      Selection
		wantErr   bool
	}{
		{name: "auto picks first available by priority", codec: "h264", preferred: "auto",
			want: Selection{Encoder: "h264_nvenc", HWAccel: HWAccelCUDA, Device: "NVIDIA NVENC"}},
		{name: "codec aliases are normalised", codec: "AVC", preferred: "",
			want: Selection{Encoder: "h264_nvenc", HWAccel: HWAccelCUDA, Device: "NVIDIA NVENC"}},
		{name: "preferred backend wins when usable", codec: "h264", preferred: "qsv",
			want: Selection{Encoder: "h264_qsv", HWAccel: HWAccelQSV, Device: "Intel Quick Sync"}},
		{name: "unusable preference falls back to auto", codec: "h264", preferred: "vaapi",
			want: Selection{Encoder: "h264_nvenc", HWAccel: HWAccelCUDA, Device: "NVIDIA NVENC"}},
		{name: "hevc", codec: "h265", preferred: "auto",
			want: Selection{Encoder: "hevc_nvenc", HWAccel: HWAccelCUDA, Device: "NVIDIA NVENC"}},
		{name: "none forces software", codec: "h264", preferred: "none",
			want: Selection{Encoder: "libx264", HWAccel: HWAccelNone}},
		{name: "unknown codec", codec: "vp8", preferred: "auto", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.SelectVideoEncoder(tt.codec, tt.preferred, tt.software)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoEncoder)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncoderSelector_SoftwareFallback(t *testing.T) {
	info := &BinaryInfo{Encoders: []string{"libx264"}}
	s := NewEncoderSelector(info)

	sel, err := s.SelectVideoEncoder("h264", "auto", true)
	require.NoError(t, err)
	assert.Equal(t, "libx264", sel.Encoder)
	assert.True(t, sel.Software())

	_, err = s.SelectVideoEncoder("h264", "auto", false)
	assert.ErrorIs(t, err, ErrNoEncoder)

	_, err = s.SelectVideoEncoder("hevc", "auto", true)
	assert.ErrorIs(t, err, ErrNoEncoder, "libx265 is not in the encoder list")
}

func TestIsHardwareEncoder(t *testing.T) {
	assert.True(t, IsHardwareEncoder("h264_nvenc"))
	assert.True(t, IsHardwareEncoder("HEVC_VAAPI"))
	assert.False(t, IsHardwareEncoder("libx264"))
}

func TestCommandBuilder_RawVideoPipeline(t *testing.T) {
	cmd := NewCommandBuilder("/usr/bin/ffmpeg").
		HideBanner().
		InitHWDevice(HWAccelVAAPI, "/dev/dri/renderD128").
		RawVideoInput(1920, 1080, 60, "rgba").
		HWUploadFilter(HWAccelVAAPI).
		VideoCodec("h264_vaapi").
		VideoBitrate("8M").
		VideoPreset("").
		Format("mpegts").
		Overwrite().
		Output("/tmp/display-0.ts").
		Build()

	assert.Equal(t, "/usr/bin/ffmpeg", cmd.Binary)
	assert.Equal(t, "/tmp/display-0.ts", cmd.Output)
	assert.Equal(t, []string{
		"-loglevel", "error",
		"-hide_banner",
		"-init_hw_device", "vaapi=hw:/dev/dri/renderD128", "-filter_hw_device", "hw",
		"-y",
		"-f", "rawvideo", "-pix_fmt", "rgba", "-s", "1920x1080", "-r", "60",
		"-i", "pipe:0",
		"-vf", "format=nv12,hwupload",
		"-c:v", "h264_vaapi",
		"-b:v", "8M",
		"-f", "mpegts",
		"/tmp/display-0.ts",
	}, cmd.Args)
	assert.True(t, strings.HasPrefix(cmd.String(), "/usr/bin/ffmpeg -loglevel error"))
}

func TestCommandBuilder_InitHWDevice(t *testing.T) {
	tests := []struct {
		hw     HWAccelType
		device string
		want   []string
	}{
		{HWAccelCUDA, "", []string{"-init_hw_device", "cuda=hw", "-filter_hw_device", "hw"}},
		{HWAccelQSV, "", []string{"-init_hw_device", "qsv=hw", "-filter_hw_device", "hw"}},
		{HWAccelVideoToolbox, "", nil},
		{HWAccelAMF, "", nil},
		{HWAccelNone, "", nil},
		{"auto", "", nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.hw), func(t *testing.T) {
			b := NewCommandBuilder("ffmpeg").InitHWDevice(tt.hw, tt.device)
			assert.Equal(t, tt.want, b.globalArgs)
		})
	}
}

func TestCommandBuilder_HWUploadFilter(t *testing.T) {
	tests := map[HWAccelType]string{
		HWAccelVAAPI:        "format=nv12,hwupload",
		HWAccelCUDA:         "format=nv12,hwupload_cuda",
		HWAccelQSV:          "format=nv12,hwupload=extra_hw_frames=64,format=qsv",
		HWAccelVideoToolbox: "format=nv12",
		HWAccelNone:         "",
	}
	for hw, want := range tests {
		b := NewCommandBuilder("ffmpeg").HWUploadFilter(hw)
		if want == "" {
			assert.Empty(t, b.filterArgs, hw)
			continue
		}
		assert.Equal(t, []string{want}, b.filterArgs, hw)
	}
}

func TestContainerFormat(t *testing.T) {
	for in, want := range map[string]string{"ts": "mpegts", "MKV": "matroska", "mp4": "mp4", "h264": "h264", "265": "hevc"} {
		got, err := ContainerFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ContainerFormat("avi")
	assert.Error(t, err)
}

func TestStderrRing(t *testing.T) {
	r := newStderrRing(2, nil)
	_, _ = r.Write([]byte("first\nsec"))
	_, _ = r.Write([]byte("ond\r\n\nthird\n"))
	assert.Equal(t, []string{"second", "third"}, r.Lines())
	assert.Equal(t, "third", r.Last())
}

func TestProcess_WriteAndClose(t *testing.T) {
	requireShell(t)

	p, err := Start(&Command{Binary: "sh", Args: []string{"-c", "exec cat > /dev/null"}}, nil)
	require.NoError(t, err)

	frame := make([]byte, 4096)
	for range 3 {
		require.NoError(t, p.WriteFrame(frame, time.Second))
	}
	stats := p.Stats(context.Background())
	assert.Equal(t, uint64(3), stats.FramesWritten)
	assert.Equal(t, uint64(3*4096), stats.BytesWritten)
	assert.Positive(t, stats.PID)
	assert.Positive(t, stats.MemoryRSSBytes)

	require.NoError(t, p.CloseInput(5*time.Second))
	assert.True(t, p.Exited())
}

func TestProcess_WriteTimeoutKills(t *testing.T) {
	requireShell(t)

	// The child never reads stdin, so a write larger than the pipe buffer
	// blocks until the deadline.
	p, err := Start(&Command{Binary: "sh", Args: []string{"-c", "exec sleep 30"}}, nil)
	require.NoError(t, err)

	err = p.WriteFrame(make([]byte, 8<<20), 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWriteTimeout)
	assert.True(t, p.Exited())

	err = p.WriteFrame([]byte{1}, time.Second)
	assert.ErrorIs(t, err, ErrExited)
}

func TestProcess_ExitReportsStderr(t *testing.T) {
	requireShell(t)

	p, err := Start(&Command{Binary: "sh", Args: []string{"-c", "echo 'Unknown encoder h264_bogus' >&2; exit 3"}}, nil)
	require.NoError(t, err)

	require.Eventually(t, p.Exited, 5*time.Second, 10*time.Millisecond)

	err = p.WriteFrame([]byte{1, 2, 3}, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExited)
	assert.Contains(t, err.Error(), "Unknown encoder h264_bogus")
	assert.Equal(t, []string{"Unknown encoder h264_bogus"}, p.StderrLines())

	stats := p.Stats(context.Background())
	assert.Equal(t, []string{"Unknown encoder h264_bogus"}, stats.StderrTail)
	assert.Zero(t, stats.CPUPercent, "exited processes are not sampled")
}

func TestProcess_Kill(t *testing.T) {
	requireShell(t)

	p, err := Start(&Command{Binary: "sh", Args: []string{"-c", "exec sleep 30"}}, nil)
	require.NoError(t, err)
	require.NoError(t, p.Kill())
	assert.True(t, p.Exited())
	require.NoError(t, p.Kill(), "killing an exited process is a no-op")
}
