package normalize

import (
	"fmt"
	"strconv"
	"strings"

	"montage/internal/config"
)

// Encoder names the ffmpeg video encoder used for a run.
type Encoder string

const (
	EncoderNVENC Encoder = "h264_nvenc"
	EncoderX264  Encoder = "libx264"
)

// Profile is the target media profile every clip is brought to.
type Profile struct {
	Width           int
	Height          int
	FPS             int
	PixelFormat     string
	CQ              int
	VideoBitrate    string
	AudioBitrate    string
	AudioSampleRate int
}

// ProfileFromConfig copies the profile knobs out of the normalize section.
func ProfileFromConfig(cfg config.Normalize) Profile {
	return Profile{
		Width:           cfg.Width,
		Height:          cfg.Height,
		FPS:             cfg.FPS,
		PixelFormat:     cfg.PixelFormat,
		CQ:              cfg.CQ,
		VideoBitrate:    cfg.VideoBitrate,
		AudioBitrate:    cfg.AudioBitrate,
		AudioSampleRate: cfg.AudioSampleRate,
	}
}

// Args builds the ffmpeg argument list that transcodes input to output.
func Args(input, output string, p Profile, enc Encoder) []string {
	fps := strconv.Itoa(p.FPS)
	args := []string{
		"-y",
		"-fflags", "+genpts",
		"-i", input,
		"-vf", "scale=" + strconv.Itoa(p.Width) + ":" + strconv.Itoa(p.Height) + ":flags=lanczos,fps=" + fps,
	}
	args = append(args, videoArgs(p, enc)...)
	args = append(args,
		"-pix_fmt", p.PixelFormat,
		"-fps_mode", "cfr",
		"-r", fps,
		"-movflags", "+faststart",
		"-c:a", "aac",
		"-ar", strconv.Itoa(p.AudioSampleRate),
		"-b:a", p.AudioBitrate,
		output,
	)
	return args
}

func videoArgs(p Profile, enc Encoder) []string {
	cq := strconv.Itoa(p.CQ)
	if enc == EncoderNVENC {
		return []string{
			"-c:v", string(EncoderNVENC),
			"-profile:v", "main",
			"-rc", "vbr",
			"-cq", cq,
			"-b:v", p.VideoBitrate,
			"-maxrate", p.VideoBitrate,
			"-bufsize", nvencBufferSize(p.VideoBitrate),
			"-preset", "p4",
		}
	}
	return []string{
		"-c:v", string(EncoderX264),
		"-preset", "medium",
		"-profile:v", "main",
		"-level", "4.2",
		"-crf", cq,
		"-maxrate", p.VideoBitrate,
		"-bufsize", "16M",
	}
}

// nvencBufferSize doubles a megabit bitrate ("12M" -> "24M"); other forms
// get a fixed 16M buffer.
func nvencBufferSize(bitrate string) string {
	trimmed := strings.TrimSpace(bitrate)
	if strings.HasSuffix(trimmed, "M") || strings.HasSuffix(trimmed, "m") {
		if n, err := strconv.Atoi(trimmed[:len(trimmed)-1]); err == nil && n > 0 {
			return strconv.Itoa(n*2) + "M"
		}
	}
	return "16M"
}

// ArtifactName is the per-index file name of a normalized clip.
func ArtifactName(index int) string {
	return fmt.Sprintf("normalized_%03d.mp4", index)
}
