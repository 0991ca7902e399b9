package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog/log"
	"github.com/temoto/robotstxt"
)

// Page is one fetched resource, kept as raw bytes so the extractor can
// parse HTML and PDF alike.
type Page struct {
	URL         string
	ContentType string
	Body        []byte
}

// Config holds configuration for the crawler.
type Config struct {
	StartURL      string
	DomainPrefix  string // Only URLs with this prefix are followed
	MaxDepth      int
	Parallelism   int
	DelayBetween  time.Duration
	RespectRobots bool
	UserAgent     string
}

// DefaultConfig returns sensible defaults for a single help-site crawl.
func DefaultConfig() Config {
	return Config{
		MaxDepth:      3,
		Parallelism:   2,
		DelayBetween:  500 * time.Millisecond,
		RespectRobots: true,
		UserAgent:     "regchat-indexer/1.0",
	}
}

// Scraper is a bounded crawler that collects registration help pages for
// the index builder.
type Scraper struct {
	config    Config
	collector *colly.Collector
	robots    *robotstxt.RobotsData

	mu    sync.Mutex
	pages []Page
}

// New creates a scraper. DomainPrefix defaults to the start URL's directory
// so the crawl never leaves the help site.
func New(cfg Config) (*Scraper, error) {
	if cfg.StartURL == "" {
		return nil, fmt.Errorf("scraper: start URL is required")
	}
	if cfg.DomainPrefix == "" {
		cfg.DomainPrefix = cfg.StartURL
	}

	s := &Scraper{config: cfg}

	s.collector = colly.NewCollector(colly.MaxDepth(cfg.MaxDepth))
	s.collector.UserAgent = cfg.UserAgent
	s.collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.DelayBetween,
	})

	if cfg.RespectRobots {
		if err := s.loadRobots(); err != nil {
			log.Warn().Err(err).Msg("robots.txt unavailable")
		}
	}

	s.collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if s.shouldFollow(link) {
			e.Request.Visit(link)
		}
	})

	s.collector.OnResponse(func(r *colly.Response) {
		contentType := r.Headers.Get("Content-Type")
		if !strings.Contains(contentType, "html") && !strings.Contains(contentType, "pdf") {
			return
		}
		body := make([]byte, len(r.Body))
		copy(body, r.Body)

		s.mu.Lock()
		s.pages = append(s.pages, Page{
			URL:         r.Request.URL.String(),
			ContentType: contentType,
			Body:        body,
		})
		s.mu.Unlock()
		log.Debug().Str("url", r.Request.URL.String()).Int("bytes", len(body)).Msg("fetched page")
	})

	s.collector.OnError(func(r *colly.Response, err error) {
		log.Warn().Err(err).Str("url", r.Request.URL.String()).Msg("fetch failed")
	})

	return s, nil
}

// Run crawls from the start URL and returns the collected pages.
func (s *Scraper) Run(ctx context.Context) ([]Page, error) {
	done := make(chan error, 1)
	go func() {
		err := s.collector.Visit(s.config.StartURL)
		s.collector.Wait()
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("crawl %s: %w", s.config.StartURL, err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	pages := make([]Page, len(s.pages))
	copy(pages, s.pages)
	return pages, nil
}

func (s *Scraper) loadRobots() error {
	base, err := url.Parse(s.config.StartURL)
	if err != nil {
		return err
	}
	resp, err := http.Get(fmt.Sprintf("%s://%s/robots.txt", base.Scheme, base.Host))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("robots.txt status %d", resp.StatusCode)
	}
	s.robots, err = robotstxt.FromResponse(resp)
	return err
}

func (s *Scraper) shouldFollow(link string) bool {
	if !strings.HasPrefix(link, s.config.DomainPrefix) {
		return false
	}
	if s.robots != nil {
		u, err := url.Parse(link)
		if err != nil {
			return false
		}
		if !s.robots.TestAgent(u.Path, s.config.UserAgent) {
			return false
		}
	}
	return true
}
