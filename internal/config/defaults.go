package config

const (
	defaultConfigPath      = "~/.config/montage/config.toml"
	defaultCatalogFile     = "~/.local/share/montage/catalog.csv"
	defaultTaskSheet       = "~/.local/share/montage/tasks.csv"
	defaultLedgerFile      = "~/.local/share/montage/used.log"
	defaultOutputDir       = "~/Videos/montage"
	defaultLogDir          = "~/.local/share/montage/logs"
	defaultOutputSuffix    = "montage"
	defaultFFmpegBinary    = "ffmpeg"
	defaultFFprobeBinary   = "ffprobe"
	defaultWorkers         = 8
	defaultWidth           = 1920
	defaultHeight          = 1080
	defaultFPS             = 60
	defaultPixelFormat     = "yuv420p"
	defaultCQ              = 23
	defaultVideoBitrate    = "12M"
	defaultAudioBitrate    = "160k"
	defaultAudioSampleRate = 48000
	defaultLogFormat       = "console"
	defaultLogLevel        = "info"
	defaultLogRetention    = 30
	defaultNtfyTimeout     = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			CatalogFile: defaultCatalogFile,
			TaskSheet:   defaultTaskSheet,
			LedgerFile:  defaultLedgerFile,
			OutputDir:   defaultOutputDir,
			WorkDir:     defaultWorkDir(),
			LogDir:      defaultLogDir,
		},
		Selection: Selection{
			OutputSuffix: defaultOutputSuffix,
		},
		Normalize: Normalize{
			FFmpegBinary:    defaultFFmpegBinary,
			FFprobeBinary:   defaultFFprobeBinary,
			Workers:         defaultWorkers,
			Width:           defaultWidth,
			Height:          defaultHeight,
			FPS:             defaultFPS,
			PixelFormat:     defaultPixelFormat,
			UseNVENC:        true,
			CQ:              defaultCQ,
			VideoBitrate:    defaultVideoBitrate,
			AudioBitrate:    defaultAudioBitrate,
			AudioSampleRate: defaultAudioSampleRate,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetention,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
		},
	}
}
