// Package jobs stores site profiles and runs crawl jobs built from them.
package jobs

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/PentesterFlow/pagewalker/internal/fetch"
	"github.com/PentesterFlow/pagewalker/internal/scope"
	"github.com/PentesterFlow/pagewalker/internal/selector"
	"github.com/PentesterFlow/pagewalker/pkg/crawler"
)

// ErrInvalidProfile is wrapped by every profile validation error.
var ErrInvalidProfile = errors.New("invalid profile")

// PreviewLimit is the number of runes kept in a page preview.
const PreviewLimit = 280

// Profile is a stored site configuration. The first selector rule is the
// primary content rule.
type Profile struct {
	ID             string                 `json:"id" yaml:"id"`
	Name           string                 `json:"name" yaml:"name"`
	Domain         string                 `json:"domain" yaml:"domain"`
	SelectorRules  []crawler.SelectorRule `json:"selector_rules" yaml:"selector_rules"`
	PaginationRule crawler.PaginationRule `json:"pagination_rule" yaml:"pagination_rule"`
	StopRules      crawler.StopRules      `json:"stop_rules" yaml:"stop_rules"`
	CreatedAt      time.Time              `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at" yaml:"updated_at"`
}

// PrimaryRule returns the content rule a job extracts.
func (p *Profile) PrimaryRule() (crawler.SelectorRule, bool) {
	for _, r := range p.SelectorRules {
		if strings.TrimSpace(r.Selector) != "" {
			return r, true
		}
	}
	return crawler.SelectorRule{}, false
}

// Request builds the crawl request of a job starting at startURL.
func (p *Profile) Request(startURL string) crawler.Request {
	rule, _ := p.PrimaryRule()
	rules := p.StopRules
	if rules.MaxPages < 1 {
		rules.MaxPages = 1
	}
	if rules.MaxConsecutiveErrors < 1 {
		rules.MaxConsecutiveErrors = crawler.DefaultStopRules().MaxConsecutiveErrors
	}
	return crawler.Request{
		StartURL:       strings.TrimSpace(startURL),
		Domain:         p.Domain,
		ContentRule:    rule,
		PaginationRule: p.PaginationRule,
		StopRules:      rules,
	}
}

// Draft is the user input a profile is created from.
type Draft struct {
	Name                 string        `json:"name" yaml:"name"`
	Domain               string        `json:"domain" yaml:"domain"`
	FieldName            string        `json:"field_name" yaml:"field_name"`
	SelectorType         selector.Type `json:"selector_type" yaml:"selector_type"`
	Selector             string        `json:"selector" yaml:"selector"`
	ExtractMode          selector.Mode `json:"extract_mode" yaml:"extract_mode"`
	ContentAttributeName string        `json:"content_attribute_name" yaml:"content_attribute_name"`
	Required             bool          `json:"required" yaml:"required"`
	NextSelectorType     selector.Type `json:"next_selector_type" yaml:"next_selector_type"`
	NextSelector         string        `json:"next_selector" yaml:"next_selector"`
	NextAttributeName    string        `json:"next_attribute_name" yaml:"next_attribute_name"`
	MaxPages             int           `json:"max_pages" yaml:"max_pages"`
}

// DefaultDraft returns the values a new profile starts from.
func DefaultDraft() Draft {
	return Draft{
		FieldName:            "body",
		SelectorType:         selector.CSS,
		ExtractMode:          selector.HTML,
		ContentAttributeName: "href",
		Required:             true,
		NextSelectorType:     selector.CSS,
		NextAttributeName:    "href",
		MaxPages:             crawler.DefaultStopRules().MaxPages,
	}
}

// NewProfile validates d and turns it into a profile with fresh IDs.
func NewProfile(d Draft, now time.Time) (*Profile, error) {
	name := strings.TrimSpace(d.Name)
	domain := scope.NormalizeDomain(d.Domain)

	if name == "" {
		return nil, fmt.Errorf("%w: profile name is required", ErrInvalidProfile)
	}
	if domain == "" || !strings.Contains(domain, ".") {
		return nil, fmt.Errorf("%w: a valid domain is required (example.com)", ErrInvalidProfile)
	}
	if strings.TrimSpace(d.Selector) == "" {
		return nil, fmt.Errorf("%w: primary selector is required", ErrInvalidProfile)
	}
	if strings.TrimSpace(d.NextSelector) == "" {
		return nil, fmt.Errorf("%w: next-page selector is required", ErrInvalidProfile)
	}

	def := DefaultDraft()
	content := crawler.SelectorRule{
		FieldName:     orDefault(d.FieldName, def.FieldName),
		SelectorType:  selector.Type(orDefault(string(d.SelectorType), string(def.SelectorType))),
		Selector:      strings.TrimSpace(d.Selector),
		ExtractMode:   selector.Mode(orDefault(string(d.ExtractMode), string(def.ExtractMode))),
		AttributeName: strings.TrimSpace(d.ContentAttributeName),
		Required:      d.Required,
	}
	if content.ExtractMode != selector.Attribute {
		content.AttributeName = ""
	}
	next := crawler.PaginationRule{
		SelectorType:  selector.Type(orDefault(string(d.NextSelectorType), string(def.NextSelectorType))),
		Selector:      strings.TrimSpace(d.NextSelector),
		AttributeName: orDefault(d.NextAttributeName, def.NextAttributeName),
	}

	for _, q := range []selector.Query{content.Query(), next.Query()} {
		if err := selector.Compile(q); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
		}
	}

	maxPages := d.MaxPages
	if maxPages < 1 {
		maxPages = 1
	}
	stop := crawler.DefaultStopRules()
	stop.MaxPages = maxPages

	return &Profile{
		ID:             uuid.NewString(),
		Name:           name,
		Domain:         domain,
		SelectorRules:  []crawler.SelectorRule{content},
		PaginationRule: next,
		StopRules:      stop,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// PageRecord is the stored form of one extracted page.
type PageRecord struct {
	URL         string   `json:"url"`
	Preview     string   `json:"preview"`
	Stylesheets []string `json:"stylesheets"`
	Scripts     []string `json:"scripts"`
}

// Job is one run of a profile.
type Job struct {
	ID               string       `json:"id"`
	ProfileID        string       `json:"profile_id"`
	ProfileName      string       `json:"profile_name"`
	ProfileDomain    string       `json:"profile_domain"`
	StartURL         string       `json:"start_url"`
	Status           Status       `json:"status"`
	CreatedAt        time.Time    `json:"created_at"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
	Note             string       `json:"note,omitempty"`
	StopReason       string       `json:"stop_reason,omitempty"`
	Error            string       `json:"error,omitempty"`
	PagesProcessed   int          `json:"pages_processed"`
	LastVisitedURL   string       `json:"last_visited_url,omitempty"`
	Pages            []PageRecord `json:"pages,omitempty"`
	ExtractedPreview string       `json:"extracted_preview,omitempty"`
}

// NewJob creates a queued job for p.
func NewJob(p *Profile, startURL string, now time.Time) *Job {
	return &Job{
		ID:            uuid.NewString(),
		ProfileID:     p.ID,
		ProfileName:   p.Name,
		ProfileDomain: p.Domain,
		StartURL:      strings.TrimSpace(startURL),
		Status:        StatusQueued,
		CreatedAt:     now,
		Note:          "Queued",
	}
}

// applyPages replaces the stored pages with previews of pages.
func (j *Job) applyPages(pages []crawler.PageResult) {
	j.Pages = make([]PageRecord, 0, len(pages))
	previews := make([]string, 0, len(pages))
	for i, p := range pages {
		rec := PageRecord{
			URL:         p.URL,
			Preview:     Preview(p.ExtractedContent),
			Stylesheets: p.Stylesheets,
			Scripts:     p.Scripts,
		}
		j.Pages = append(j.Pages, rec)
		previews = append(previews, fmt.Sprintf("Page %d: %s", i+1, rec.Preview))
	}
	j.PagesProcessed = len(pages)
	if len(pages) > 0 {
		j.LastVisitedURL = pages[len(pages)-1].URL
	}
	j.ExtractedPreview = strings.Join(previews, "\n\n")
}

func (j *Job) finish(status Status, now time.Time) {
	j.Status = status
	j.CompletedAt = &now
}

// Preview collapses whitespace and cuts content to PreviewLimit runes.
func Preview(content string) string {
	s := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(s) <= PreviewLimit {
		return s
	}
	return string([]rune(s)[:PreviewLimit]) + "…"
}

// Settings are user defaults applied to every job.
type Settings struct {
	OutputDir         string        `json:"output_dir"`
	MaxPagesDefault   int           `json:"max_pages_default"`
	RequestTimeout    time.Duration `json:"request_timeout"`
	DelayBetweenPages time.Duration `json:"delay_between_pages"`
	StrictDomainOnly  bool          `json:"strict_domain_only"`
	Renderer          fetch.Kind    `json:"renderer"`
}

// DefaultSettings returns the settings used before any are saved.
func DefaultSettings() Settings {
	return Settings{
		OutputDir:         "exports",
		MaxPagesDefault:   100,
		RequestTimeout:    15 * time.Second,
		DelayBetweenPages: 250 * time.Millisecond,
		StrictDomainOnly:  true,
		Renderer:          fetch.Static,
	}
}

// Sanitize replaces out-of-range values with defaults.
func (s Settings) Sanitize() Settings {
	def := DefaultSettings()
	s.OutputDir = strings.TrimSpace(s.OutputDir)
	if s.OutputDir == "" {
		s.OutputDir = def.OutputDir
	}
	if s.MaxPagesDefault < 1 {
		s.MaxPagesDefault = def.MaxPagesDefault
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = def.RequestTimeout
	}
	if s.DelayBetweenPages < 0 {
		s.DelayBetweenPages = def.DelayBetweenPages
	}
	if s.Renderer != fetch.Static && s.Renderer != fetch.Rendered {
		s.Renderer = def.Renderer
	}
	return s
}
