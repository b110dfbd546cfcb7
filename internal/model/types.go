package model

import "time"

// LinkMode controls how hyperlinks are rendered in the markdown.
type LinkMode string

const (
	LinksInline    LinkMode = "inline"
	LinksCitations LinkMode = "citations"
)

// Mode selects the response body: full markdown or the pruned fit view.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModeFit    Mode = "fit"
)

// Options are the recognised per-request conversion options. They are
// part of the cache fingerprint.
type Options struct {
	Mode         Mode     `json:"mode,omitempty"`
	Links        LinkMode `json:"links,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	ForceBrowser bool     `json:"force_browser,omitempty"`
	SkipFetch    bool     `json:"skip_fetch,omitempty"`
	SkipBaas     bool     `json:"skip_baas,omitempty"`
}

// Quality is the deterministic score computed from the markdown.
type Quality struct {
	Score float64 `json:"score"`
	Grade string  `json:"grade"`
}

// Result is the gateway's product for one conversion. It is created
// once per request, cached, and never mutated afterwards.
type Result struct {
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	Markdown    string   `json:"content"`
	FitMarkdown string   `json:"fit_markdown,omitempty"`
	Tokens      int      `json:"tokens"`
	FitTokens   int      `json:"fit_tokens,omitempty"`
	Tier        string   `json:"tier"`
	Method      string   `json:"method"`
	Quality     Quality  `json:"quality"`
	Readability bool     `json:"readability"`
	Excerpt     string   `json:"excerpt,omitempty"`
	Byline      string   `json:"byline,omitempty"`
	SiteName    string   `json:"siteName,omitempty"`
	TotalMs     int64    `json:"time_ms"`
	CfChallenge bool     `json:"cf_challenge,omitempty"`
	Escalation  []string `json:"escalation,omitempty"`
}

// JobStatus is the lifecycle state of an async conversion job.
type JobStatus string

const (
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job is the persisted state of an async submission. CallbackURL and
// Options are internal: the poll endpoint never echoes them.
type Job struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Options     Options    `json:"options"`
	CallbackURL string     `json:"callback_url,omitempty"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      *Result    `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}
