// Package deps checks for the external binaries montage delegates to:
// ffmpeg, ffprobe and, for hardware encoding, nvidia-smi.
package deps
