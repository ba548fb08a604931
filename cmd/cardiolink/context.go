package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"cardiolink/internal/config"
	"cardiolink/internal/links"
	"cardiolink/internal/session"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withStores opens the link and session stores for the duration of fn.
func (c *commandContext) withStores(fn func(cfg *config.Config, linkStore *links.Store, sessionStore *session.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	linkStore, err := links.Open(cfg)
	if err != nil {
		return err
	}
	defer linkStore.Close()

	sessionStore, err := session.Open(cfg)
	if err != nil {
		return err
	}
	defer sessionStore.Close()

	return fn(cfg, linkStore, sessionStore)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
