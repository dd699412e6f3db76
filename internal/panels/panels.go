package panels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"tubepilot.app/internal/ids"
	"tubepilot.app/internal/llm"
	"tubepilot.app/internal/obs"
)

// Panel names.
const (
	PanelKeywords  = "keywords"
	PanelIdeas     = "ideas"
	PanelRetention = "retention"
)

const (
	// MaxInputRunes bounds topic and niche inputs.
	MaxInputRunes = 200
	// DefaultIdeaCount is the number of ideas requested when none is given.
	DefaultIdeaCount = 5
	// MaxIdeaCount caps the ideas requested per run.
	MaxIdeaCount = 10
)

var (
	// ErrEmptyInput means the topic or niche was blank.
	ErrEmptyInput = errors.New("panels: input is empty")
	// ErrInputTooLong means the topic or niche exceeded MaxInputRunes.
	ErrInputTooLong = errors.New("panels: input is too long")
	// ErrDisabled means the panel needs a language model and none is configured.
	ErrDisabled = errors.New("panels: feature disabled")
)

// Run is one recorded panel invocation.
type Run struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Panel     string    `json:"panel"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	CreatedAt time.Time `json:"created_at"`
}

// Recorder persists panel runs.
type Recorder interface {
	Record(ctx context.Context, run Run) error
}

// Result is the output of a text-generating panel.
type Result struct {
	RunID string `json:"run_id"`
	Text  string `json:"text"`
}

// Service runs feature panels. Access control happens before it is called.
type Service struct {
	gen    llm.Generator
	rec    Recorder
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder records every successful run.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.rec = r }
}

// WithLogger overrides the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService builds a Service. A nil generator disables the LLM panels;
// retention analysis keeps working.
func NewService(gen llm.Generator, opts ...Option) *Service {
	s := &Service{gen: gen, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = obs.Logger()
	}
	return s
}

// LLMEnabled reports whether the keyword and idea panels are available.
func (s *Service) LLMEnabled() bool { return s.gen != nil }

// Keywords generates SEO keywords for a video topic.
func (s *Service) Keywords(ctx context.Context, email, topic string) (Result, error) {
	topic, err := cleanInput(topic)
	if err != nil {
		return Result{}, err
	}
	prompt, err := render(keywordPrompt, struct{ Topic string }{topic})
	if err != nil {
		return Result{}, fmt.Errorf("panels: render prompt: %w", err)
	}
	return s.generate(ctx, PanelKeywords, email, topic, prompt)
}

// Ideas generates video titles and thumbnail concepts for a niche.
// count <= 0 uses DefaultIdeaCount.
func (s *Service) Ideas(ctx context.Context, email, niche string, count int) (Result, error) {
	niche, err := cleanInput(niche)
	if err != nil {
		return Result{}, err
	}
	switch {
	case count <= 0:
		count = DefaultIdeaCount
	case count > MaxIdeaCount:
		count = MaxIdeaCount
	}
	prompt, err := render(ideaPrompt, struct {
		Niche string
		Count int
	}{niche, count})
	if err != nil {
		return Result{}, fmt.Errorf("panels: render prompt: %w", err)
	}
	return s.generate(ctx, PanelIdeas, email, niche, prompt)
}

// Retention analyzes an uploaded analytics CSV.
func (s *Service) Retention(ctx context.Context, email, filename string, r io.Reader) (RetentionReport, error) {
	report, err := AnalyzeRetention(r)
	if err != nil {
		obs.RecordPanelRun(PanelRetention, "error")
		return RetentionReport{}, err
	}
	obs.RecordPanelRun(PanelRetention, "ok")
	s.record(ctx, Run{
		Email:  email,
		Panel:  PanelRetention,
		Input:  strings.TrimSpace(filename),
		Output: fmt.Sprintf("rows=%d skipped=%d mean=%.2f", report.Rows, report.Skipped, report.MeanPercent),
	})
	return report, nil
}

func (s *Service) generate(ctx context.Context, panel, email, input, prompt string) (Result, error) {
	if s.gen == nil {
		obs.RecordPanelRun(panel, "disabled")
		return Result{}, ErrDisabled
	}
	text, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		obs.RecordPanelRun(panel, "error")
		return Result{}, err
	}
	obs.RecordPanelRun(panel, "ok")
	run := s.record(ctx, Run{Email: email, Panel: panel, Input: input, Output: text})
	return Result{RunID: run.ID, Text: text}, nil
}

// record stores run; failures are logged and never fail the panel.
func (s *Service) record(ctx context.Context, run Run) Run {
	run.ID = ids.New()
	run.CreatedAt = s.now().UTC()
	if s.rec == nil {
		return run
	}
	if err := s.rec.Record(ctx, run); err != nil {
		s.logger.Warn("record panel run failed",
			zap.String("panel", run.Panel),
			zap.String("run_id", run.ID),
			zap.Error(err),
		)
	}
	return run
}

func cleanInput(s string) (string, error) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "", ErrEmptyInput
	}
	if utf8.RuneCountInString(s) > MaxInputRunes {
		return "", ErrInputTooLong
	}
	return s, nil
}
