package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var bitratePattern = regexp.MustCompile(`^[0-9]+[kKmM]?$`)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateSelection(); err != nil {
		return err
	}
	if err := c.validateNormalize(); err != nil {
		return err
	}
	return c.validateNotifications()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.LedgerFile) == "" {
		return errors.New("paths.ledger_file must be set")
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		return errors.New("paths.work_dir must be set")
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		return errors.New("paths.output_dir must be set")
	}
	return nil
}

func (c *Config) validateSelection() error {
	if strings.ContainsAny(c.Selection.OutputSuffix, `/\`) {
		return fmt.Errorf("selection.output_suffix must not contain path separators (got %q)", c.Selection.OutputSuffix)
	}
	return nil
}

func (c *Config) validateNormalize() error {
	if err := ensurePositiveMap(map[string]int{
		"normalize.workers":           c.Normalize.Workers,
		"normalize.width":             c.Normalize.Width,
		"normalize.height":            c.Normalize.Height,
		"normalize.fps":               c.Normalize.FPS,
		"normalize.audio_sample_rate": c.Normalize.AudioSampleRate,
	}); err != nil {
		return err
	}
	if c.Normalize.CQ < 0 || c.Normalize.CQ > 51 {
		return errors.New("normalize.cq must be between 0 and 51")
	}
	if !bitratePattern.MatchString(c.Normalize.VideoBitrate) {
		return fmt.Errorf("normalize.video_bitrate %q is not a bitrate like 12M", c.Normalize.VideoBitrate)
	}
	if !bitratePattern.MatchString(c.Normalize.AudioBitrate) {
		return fmt.Errorf("normalize.audio_bitrate %q is not a bitrate like 160k", c.Normalize.AudioBitrate)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic != "" && !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL (got %q)", topic)
	}
	return nil
}
