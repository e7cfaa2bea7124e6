// Package scrape implements the cheapest discovery tier: pulling the
// "latest register" link off the public landing page.
package scrape

import (
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"stortinget-register/internal/register"
)

// Config controls the landing-page fetch.
type Config struct {
	// URL of the landing page. Defaults to register.LandingPageURL.
	URL       string
	UserAgent string
	Timeout   time.Duration
}

// Landing scrapes the landing page for register document links.
type Landing struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a landing-page scraper.
func New(cfg Config, logger *zap.Logger) *Landing {
	if cfg.URL == "" {
		cfg.URL = register.LandingPageURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Landing{cfg: cfg, logger: logger}
}

// Latest returns the most recent register document linked from the landing
// page. Any failure (unreachable page, no matching link, unparseable
// href) is logged and reported as "no hit"; this tier is never fatal.
func (l *Landing) Latest() (register.Discovery, bool) {
	found, err := l.collect()
	if err != nil {
		l.logger.Warn("landing page scrape failed", zap.String("url", l.cfg.URL), zap.Error(err))
		return register.Discovery{}, false
	}
	if len(found) == 0 {
		l.logger.Warn("landing page has no register link", zap.String("url", l.cfg.URL))
		return register.Discovery{}, false
	}

	latest := found[0]
	for _, d := range found[1:] {
		if d.Date.After(latest.Date) {
			latest = d
		}
	}
	l.logger.Info("landing page scrape hit",
		zap.String("date", register.ISO(latest.Date)),
		zap.String("url", latest.URL),
	)
	return latest, true
}

func (l *Landing) collect() ([]register.Discovery, error) {
	opts := []colly.CollectorOption{colly.IgnoreRobotsTxt()}
	if l.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(l.cfg.UserAgent))
	}
	c := colly.NewCollector(opts...)
	c.SetRequestTimeout(l.cfg.Timeout)

	var found []register.Discovery
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if d, ok := register.ParseDocumentURL(e.Attr("href")); ok {
			found = append(found, d)
		}
	})

	if err := c.Visit(l.cfg.URL); err != nil {
		return nil, fmt.Errorf("visit landing page: %w", err)
	}
	c.Wait()
	return found, nil
}
