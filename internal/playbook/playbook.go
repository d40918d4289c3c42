// Package playbook loads the task list a harvest run executes.
package playbook

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"eauharvest/internal/daterange"
	"eauharvest/internal/ratelimit"
)

// Task kinds a runner is registered for
const (
	KindGeoDownload   = "geo_download"
	KindQualityRivers = "quality_rivers"
	KindHydrometry    = "hydrometry"
	KindGroundwater   = "groundwater"
	KindCrawlPDFs     = "crawl_pdfs"
	KindProcess       = "process"
)

var (
	ErrInvalidPlaybook = errors.New("invalid playbook")
	ErrUnknownSource   = errors.New("unknown source")
)

// legacyKinds maps the historical task ids to their kind when a playbook
// entry does not name one
var legacyKinds = map[string]string{
	"t1": KindGeoDownload, "t2": KindGeoDownload, "t3": KindGeoDownload,
	"t4": KindQualityRivers, "t5": KindHydrometry, "t6": KindGroundwater,
	"t7": KindCrawlPDFs, "t8": KindCrawlPDFs,
	"t9": KindProcess, "t10": KindProcess,
}

type Resource struct {
	URL    string `mapstructure:"url" json:"url"`
	Format string `mapstructure:"format" json:"format,omitempty"`
}

type Source struct {
	ID        string     `mapstructure:"id" json:"id"`
	Name      string     `mapstructure:"name" json:"name,omitempty"`
	Resources []Resource `mapstructure:"resources" json:"resources"`
}

type RateLimit struct {
	Domain string  `mapstructure:"domain" json:"domain"`
	MaxRPS float64 `mapstructure:"max_rps" json:"max_rps"`
	Burst  float64 `mapstructure:"burst" json:"burst,omitempty"`
}

// Params carries every optional task parameter. Runners read the fields
// that apply to their kind.
type Params struct {
	daterange.IterationParams `mapstructure:",squash"`

	CodeParametre []string `mapstructure:"code_parametre" json:"code_parametre,omitempty"`
	GrandeurHydro []string `mapstructure:"grandeur_hydro" json:"grandeur_hydro,omitempty"`
	CodeStation   []string `mapstructure:"code_station" json:"code_station,omitempty"`
	CodeSite      []string `mapstructure:"code_site" json:"code_site,omitempty"`
	Periods       []string `mapstructure:"periods" json:"periods,omitempty"`
	Endpoint      string   `mapstructure:"endpoint" json:"endpoint,omitempty"`
	Keyword       string   `mapstructure:"keyword" json:"keyword,omitempty"`

	StartURLs    []string `mapstructure:"start_urls" json:"start_urls,omitempty"`
	AllowedHosts []string `mapstructure:"allowed_hosts" json:"allowed_hosts,omitempty"`
	Follow       []string `mapstructure:"follow" json:"follow,omitempty"`
	MaxDepth     int      `mapstructure:"max_depth" json:"max_depth,omitempty"`
	Concurrency  int      `mapstructure:"concurrency" json:"concurrency,omitempty"`
}

type Task struct {
	ID          string   `mapstructure:"id" json:"id"`
	Kind        string   `mapstructure:"kind" json:"kind,omitempty"`
	Description string   `mapstructure:"description" json:"description,omitempty"`
	Source      string   `mapstructure:"source" json:"source,omitempty"`
	Action      string   `mapstructure:"action" json:"action,omitempty"`
	Input       string   `mapstructure:"input" json:"input,omitempty"`
	Inputs      []string `mapstructure:"inputs" json:"inputs,omitempty"`
	Output      string   `mapstructure:"output" json:"output,omitempty"`
	BufferM     float64  `mapstructure:"buffer_m" json:"buffer_m,omitempty"`
	Params      Params   `mapstructure:"params" json:"params"`
}

// ResolvedKind is Kind, else the kind implied by Action or a legacy id
func (t Task) ResolvedKind() string {
	if t.Kind != "" {
		return strings.ToLower(t.Kind)
	}
	if t.Action != "" {
		return KindProcess
	}
	return legacyKinds[t.ID]
}

// ProcessAction names the processor a process task runs
func (t Task) ProcessAction() string {
	if t.Action != "" {
		return t.Action
	}
	if t.ResolvedKind() == KindProcess {
		return "ocr"
	}
	return ""
}

type Playbook struct {
	Name           string      `mapstructure:"name" json:"name,omitempty"`
	Sources        []Source    `mapstructure:"sources" json:"sources"`
	RateLimits     []RateLimit `mapstructure:"rate_limits" json:"rate_limits"`
	Tasks          []Task      `mapstructure:"tasks" json:"tasks"`
	PostProcessing []Task      `mapstructure:"post_processing" json:"post_processing"`
}

// Load reads a JSON or YAML playbook, picked by file extension
func Load(path string) (*Playbook, error) {
	v := viper.New()
	v.SetConfigFile(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		v.SetConfigType("yaml")
	default:
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read playbook %s: %w", path, err)
	}

	var pb Playbook
	if err := v.Unmarshal(&pb); err != nil {
		return nil, fmt.Errorf("decode playbook %s: %w", path, err)
	}
	if err := pb.Validate(); err != nil {
		return nil, err
	}
	return &pb, nil
}

// Validate checks ids are present and unique and periods parse
func (p *Playbook) Validate() error {
	var errs []error
	seen := make(map[string]bool)

	check := func(section string, tasks []Task) {
		for i, t := range tasks {
			if t.ID == "" {
				errs = append(errs, fmt.Errorf("%s[%d]: missing id", section, i))
				continue
			}
			if seen[t.ID] {
				errs = append(errs, fmt.Errorf("%s: duplicate task id %q", section, t.ID))
			}
			seen[t.ID] = true
			for _, period := range t.Params.Periods {
				if _, _, err := daterange.ParsePeriod(period); err != nil {
					errs = append(errs, fmt.Errorf("task %s: %w", t.ID, err))
				}
			}
			if t.Params.IterationMode != "" {
				if _, err := daterange.ParseGranularity(t.Params.IterationMode); err != nil {
					errs = append(errs, fmt.Errorf("task %s: %w", t.ID, err))
				}
			}
		}
	}
	check("tasks", p.Tasks)
	check("post_processing", p.PostProcessing)

	for i, rl := range p.RateLimits {
		if rl.Domain == "" || rl.MaxRPS <= 0 {
			errs = append(errs, fmt.Errorf("rate_limits[%d]: domain and positive max_rps required", i))
			continue
		}
		if err := rl.limit().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("rate_limits[%d] %s: %w", i, rl.Domain, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPlaybook, errors.Join(errs...))
	}
	return nil
}

func (rl RateLimit) limit() ratelimit.Limit {
	return ratelimit.Limit{Rate: rl.MaxRPS, Burst: rl.Burst}
}

// DomainLimits returns the per-domain limits for ratelimit.NewLimiter
func (p *Playbook) DomainLimits() map[string]ratelimit.Limit {
	out := make(map[string]ratelimit.Limit, len(p.RateLimits))
	for _, rl := range p.RateLimits {
		out[rl.Domain] = rl.limit()
	}
	return out
}

// SourceURL returns the first resource URL of a source
func (p *Playbook) SourceURL(id string) (string, error) {
	for _, s := range p.Sources {
		if s.ID != id {
			continue
		}
		if len(s.Resources) == 0 || s.Resources[0].URL == "" {
			return "", fmt.Errorf("%w: %s has no resource url", ErrUnknownSource, id)
		}
		return s.Resources[0].URL, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownSource, id)
}

// Lookup finds a task or post-processing step by id
func (p *Playbook) Lookup(id string) (Task, bool) {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	for _, t := range p.PostProcessing {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}
