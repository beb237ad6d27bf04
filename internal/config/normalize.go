package config

import "strings"

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}

	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	c.Pipeline.Queue = strings.TrimSpace(c.Pipeline.Queue)
	c.Queue.Backend = strings.ToLower(strings.TrimSpace(c.Queue.Backend))
	c.Queue.RedisAddr = strings.TrimSpace(c.Queue.RedisAddr)
	c.Health.WebhookURL = strings.TrimSpace(c.Health.WebhookURL)
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	if c.Queue.Backend == "" {
		c.Queue.Backend = defaultQueueBackend
	}
	if c.Pipeline.Queue == "" {
		c.Pipeline.Queue = defaultQueueName
	}
	if c.Pipeline.RetryBackoffSeconds <= 0 {
		c.Pipeline.RetryBackoffSeconds = defaultRetryBackoff
	}
	if c.Pipeline.RetryBackoffMaxSeconds < c.Pipeline.RetryBackoffSeconds {
		c.Pipeline.RetryBackoffMaxSeconds = defaultRetryBackoffMax
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}

	return nil
}
