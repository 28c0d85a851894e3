package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeSelection(); err != nil {
		return err
	}
	c.normalizeTranscode()
	c.normalizeLogging()
	c.normalizeNotifications()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.CatalogFile, err = expandPath(c.Paths.CatalogFile); err != nil {
		return fmt.Errorf("paths.catalog_file: %w", err)
	}
	if c.Paths.TaskSheet, err = expandPath(c.Paths.TaskSheet); err != nil {
		return fmt.Errorf("paths.task_sheet: %w", err)
	}
	if strings.TrimSpace(c.Paths.LedgerFile) == "" {
		c.Paths.LedgerFile = defaultLedgerFile
	}
	if c.Paths.LedgerFile, err = expandPath(c.Paths.LedgerFile); err != nil {
		return fmt.Errorf("paths.ledger_file: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir()
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.MetricsFile, err = expandPath(strings.TrimSpace(c.Paths.MetricsFile)); err != nil {
		return fmt.Errorf("paths.metrics_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeSelection() error {
	if value, ok := os.LookupEnv("MONTAGE_SEED"); ok && c.Selection.Seed == 0 {
		seed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return fmt.Errorf("MONTAGE_SEED: %w", err)
		}
		c.Selection.Seed = seed
	}
	c.Selection.OutputSuffix = strings.TrimSpace(c.Selection.OutputSuffix)
	if c.Selection.OutputSuffix == "" {
		c.Selection.OutputSuffix = defaultOutputSuffix
	}
	if c.Selection.MinClipSeconds < 0 {
		c.Selection.MinClipSeconds = 0
	}
	return nil
}

func (c *Config) normalizeTranscode() {
	c.Normalize.FFmpegBinary = strings.TrimSpace(c.Normalize.FFmpegBinary)
	if value, ok := os.LookupEnv("MONTAGE_FFMPEG"); ok && strings.TrimSpace(value) != "" {
		c.Normalize.FFmpegBinary = strings.TrimSpace(value)
	}
	if c.Normalize.FFmpegBinary == "" {
		c.Normalize.FFmpegBinary = defaultFFmpegBinary
	}
	c.Normalize.FFprobeBinary = strings.TrimSpace(c.Normalize.FFprobeBinary)
	if value, ok := os.LookupEnv("MONTAGE_FFPROBE"); ok && strings.TrimSpace(value) != "" {
		c.Normalize.FFprobeBinary = strings.TrimSpace(value)
	}
	if c.Normalize.FFprobeBinary == "" {
		c.Normalize.FFprobeBinary = defaultFFprobeBinary
	}
	if c.Normalize.Workers <= 0 {
		c.Normalize.Workers = defaultWorkers
	}
	c.Normalize.PixelFormat = strings.ToLower(strings.TrimSpace(c.Normalize.PixelFormat))
	if c.Normalize.PixelFormat == "" {
		c.Normalize.PixelFormat = defaultPixelFormat
	}
	c.Normalize.VideoBitrate = strings.TrimSpace(c.Normalize.VideoBitrate)
	if c.Normalize.VideoBitrate == "" {
		c.Normalize.VideoBitrate = defaultVideoBitrate
	}
	c.Normalize.AudioBitrate = strings.TrimSpace(c.Normalize.AudioBitrate)
	if c.Normalize.AudioBitrate == "" {
		c.Normalize.AudioBitrate = defaultAudioBitrate
	}
	if c.Normalize.AudioSampleRate <= 0 {
		c.Normalize.AudioSampleRate = defaultAudioSampleRate
	}
	if c.Normalize.JobTimeoutSeconds < 0 {
		c.Normalize.JobTimeoutSeconds = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if value, ok := os.LookupEnv("MONTAGE_NTFY_TOPIC"); ok && strings.TrimSpace(value) != "" {
		c.Notifications.NtfyTopic = strings.TrimSpace(value)
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyTimeout
	}
}
