package engine

import (
	"time"

	"github.com/hazyhaar/snatch/locator"
	"github.com/hazyhaar/snatch/rowextract"
)

// Config tunes the extraction loop. Zero values take defaults.
type Config struct {
	// Session names the page context in events and logs.
	Session string `yaml:"session"`

	Patience  int `yaml:"patience"`   // consecutive no-progress cycles before completing
	MaxCycles int `yaml:"max_cycles"` // hard cap per run

	ScrollStepMin float64 `yaml:"scroll_step_min"` // px
	ScrollStepMax float64 `yaml:"scroll_step_max"` // px

	DelayMin time.Duration `yaml:"delay_min"`
	DelayMax time.Duration `yaml:"delay_max"`

	MinScrollDelta  float64       `yaml:"min_scroll_delta"` // px; smaller moves count as stalled
	BottomTolerance float64       `yaml:"bottom_tolerance"` // px
	PersistInterval time.Duration `yaml:"persist_interval"`

	LocateTimeout time.Duration `yaml:"locate_timeout"`
	ResumeTimeout time.Duration `yaml:"resume_timeout"`
	PollInterval  time.Duration `yaml:"poll_interval"`

	// RowSelectors are tried in order; the first yielding rows wins.
	// When none match, the container's direct children are used.
	RowSelectors []string `yaml:"row_selectors"`

	Locator locator.Config    `yaml:"locator"`
	Rows    rowextract.Config `yaml:"rows"`
}

// DefaultRowSelectors match chat rows across client releases.
var DefaultRowSelectors = []string{
	`div[role="row"]`,
	`div[role="listitem"]`,
	`[data-testid="cell-frame-container"]`,
}

func (c *Config) defaults() {
	if c.Session == "" {
		c.Session = "default"
	}
	if c.Patience <= 0 {
		c.Patience = 10
	}
	if c.MaxCycles <= 0 {
		c.MaxCycles = 300
	}
	if c.ScrollStepMin <= 0 {
		c.ScrollStepMin = 500
	}
	if c.ScrollStepMax < c.ScrollStepMin {
		c.ScrollStepMax = c.ScrollStepMin + 200
	}
	if c.DelayMin <= 0 {
		c.DelayMin = 700 * time.Millisecond
	}
	if c.DelayMax < c.DelayMin {
		c.DelayMax = c.DelayMin + 1100*time.Millisecond
	}
	if c.MinScrollDelta <= 0 {
		c.MinScrollDelta = 5
	}
	if c.BottomTolerance <= 0 {
		c.BottomTolerance = 2
	}
	if c.PersistInterval <= 0 {
		c.PersistInterval = 2 * time.Second
	}
	if c.LocateTimeout <= 0 {
		c.LocateTimeout = 15 * time.Second
	}
	if c.ResumeTimeout <= 0 {
		c.ResumeTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 300 * time.Millisecond
	}
	if len(c.RowSelectors) == 0 {
		c.RowSelectors = DefaultRowSelectors
	}
}
