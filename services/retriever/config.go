package retriever

import "time"

// Dedupe strategies for recognizing already-saved documents.
const (
	// DedupeIDPrefix matches on the leading document id in saved file
	// names and download history rows.
	DedupeIDPrefix = "id-prefix"
	// DedupeOff disables both duplicate layers; every link downloads.
	DedupeOff = "off"
)

// Config is the retriever's json5 configuration surface.
type Config struct {
	// DevtoolsURL is the Chrome DevTools endpoint to drive.
	DevtoolsURL string `json:"devtools_url"`
	// CaseURLMatch selects the already-open case details tab.
	CaseURLMatch string `json:"case_url_match"`

	DownloadDir string `json:"download_dir"`
	StateDir    string `json:"state_dir"`
	HistoryDB   string `json:"history_db"`

	// RateCeiling requests per RateWindowSeconds, shared by document
	// opens and page advances. Held below the portal's enforcement
	// threshold.
	RateCeiling       int `json:"rate_ceiling"`
	RateWindowSeconds int `json:"rate_window_seconds"`

	// BaseClickDelayMs is added on top of the randomized per-document
	// delay bounded by DelayMinMs and DelayMaxMs.
	BaseClickDelayMs int `json:"base_click_delay_ms"`
	DelayMinMs       int `json:"delay_min_ms"`
	DelayMaxMs       int `json:"delay_max_ms"`

	MaxViewers             int `json:"max_viewers"`
	DocumentTimeoutSeconds int `json:"document_timeout_seconds"`
	PageRetries            int `json:"page_retries"`
	PageIntervalSeconds    int `json:"page_interval_seconds"`

	// MaxDocuments and MaxPages are per-run guard rails.
	MaxDocuments int `json:"max_documents"`
	MaxPages     int `json:"max_pages"`

	// DedupeStrategy is "id-prefix" or "off".
	DedupeStrategy string `json:"dedupe_strategy"`

	// Debug processes only the first and last document of each page with
	// verbose logging, for dry-running a case.
	Debug bool `json:"debug"`
}

// ApplyDefaults fills zero fields with production values.
func (c *Config) ApplyDefaults() {
	if c.DevtoolsURL == "" {
		c.DevtoolsURL = "http://127.0.0.1:9222"
	}
	if c.CaseURLMatch == "" {
		c.CaseURLMatch = "hcdistrictclerk.com"
	}
	if c.DownloadDir == "" {
		c.DownloadDir = "downloads"
	}
	if c.StateDir == "" {
		c.StateDir = "."
	}
	if c.HistoryDB == "" {
		c.HistoryDB = "downloads.db"
	}
	if c.RateCeiling <= 0 {
		c.RateCeiling = 18
	}
	if c.RateWindowSeconds <= 0 {
		c.RateWindowSeconds = 60
	}
	if c.DelayMinMs <= 0 {
		c.DelayMinMs = 3000
	}
	if c.DelayMaxMs <= c.DelayMinMs {
		c.DelayMaxMs = c.DelayMinMs + 4000
	}
	if c.MaxViewers <= 0 {
		c.MaxViewers = 1
	}
	if c.DocumentTimeoutSeconds <= 0 {
		c.DocumentTimeoutSeconds = 30
	}
	if c.PageRetries <= 0 {
		c.PageRetries = 3
	}
	if c.PageIntervalSeconds <= 0 {
		c.PageIntervalSeconds = 10
	}
	if c.MaxDocuments <= 0 {
		c.MaxDocuments = 1000
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 50
	}
	if c.DedupeStrategy == "" {
		c.DedupeStrategy = DedupeIDPrefix
	}
}

func (c Config) DocumentTimeout() time.Duration {
	return time.Duration(c.DocumentTimeoutSeconds) * time.Second
}

func (c Config) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSeconds) * time.Second
}

func (c Config) PageInterval() time.Duration {
	return time.Duration(c.PageIntervalSeconds) * time.Second
}
