package main

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	appconfig "github.com/saker-ai/lsf-avatar/internal/config"
	applogger "github.com/saker-ai/lsf-avatar/internal/logger"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     appconfig.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (appconfig.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = appconfig.LoadConfig(c.configPath())
	})
	return c.config, c.configErr
}

// newLogger builds the configured logger, or a production logger if that fails.
func (c *commandContext) newLogger(cfg appconfig.Config) *zap.Logger {
	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
		logger.Warn("log config rejected; using defaults", zap.Error(err))
	}
	return logger
}
