package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gabrielmiguelok/questkit/internal/questview"
	"github.com/gabrielmiguelok/questkit/pkg/client"
	"github.com/gabrielmiguelok/questkit/pkg/logging"
	"github.com/gabrielmiguelok/questkit/pkg/quest"
	"github.com/gabrielmiguelok/questkit/pkg/wizard"
)

// ErrAborted is returned when the user interrupts a prompt.
var ErrAborted = errors.New("fill aborted")

// Prompter asks the user for answers.
type Prompter interface {
	TextArea(ctx context.Context, message, help, def string) (string, error)
	Select(ctx context.Context, message string, options []string) (int, error)
}

type surveyPrompter struct{}

func (surveyPrompter) TextArea(ctx context.Context, message, help, def string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var out string
	prompt := &survey.Multiline{Message: message, Help: help, Default: def}
	if err := survey.AskOne(prompt, &out); err != nil {
		return "", translateSurveyErr(err)
	}
	return out, nil
}

func (surveyPrompter) Select(ctx context.Context, message string, options []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	var out int
	prompt := &survey.Select{Message: message, Options: options}
	if err := survey.AskOne(prompt, &out); err != nil {
		return -1, translateSurveyErr(err)
	}
	return out, nil
}

func translateSurveyErr(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return ErrAborted
	}
	return err
}

type fillOptions struct {
	backend     string
	token       string
	path        string
	formType    string
	answers     string
	interactive bool
	timeout     time.Duration
	minWords    int

	prompter Prompter
}

func newFillCmd(root *rootOptions) *cobra.Command {
	opts := &fillOptions{prompter: surveyPrompter{}}
	cmd := &cobra.Command{
		Use:   "fill",
		Short: "Fill and submit a form against a running backend",
		Long: `Runs the wizard headless against a questd backend: resolves the page,
restores the saved answers for the token, applies answers from a YAML file
(field id to text) or prompts for them, and submits.`,
		Example: `  questd fill --backend http://localhost:3000 --type lite --answers lite.yaml
  questd fill --backend http://localhost:3000 --token abc --path /purpose-journey -i`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), cmd.OutOrStdout(), root)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.backend, "backend", "http://localhost:3000", "backend base URL")
	f.StringVar(&opts.token, "token", "", "session token (a new one when empty)")
	f.StringVar(&opts.path, "path", "", "page path to resolve (derived from --type when empty)")
	f.StringVar(&opts.formType, "type", "", "form type to choose on the selection screen")
	f.StringVar(&opts.answers, "answers", "", "YAML file mapping field ids to answers")
	f.BoolVarP(&opts.interactive, "interactive", "i", false, "prompt for unanswered fields")
	f.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall deadline for non-interactive runs")
	return cmd
}

// pagePath returns the page that resolves to ft.
func pagePath(ft quest.FormType) string {
	for _, p := range questview.DefaultPages() {
		if got, err := quest.Resolve(p.Path); err == nil && got == ft {
			return p.Path
		}
	}
	return questview.DefaultPages()[0].Path
}

func loadAnswers(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read answers: %w", err)
	}
	answers := map[string]string{}
	if err := yaml.Unmarshal(data, &answers); err != nil {
		return nil, fmt.Errorf("parse answers %s: %w", path, err)
	}
	return answers, nil
}

func (o *fillOptions) run(ctx context.Context, out io.Writer, root *rootOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !o.interactive && o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	ft, err := quest.ParseFormType(o.formType)
	if err != nil {
		return err
	}
	path := o.path
	if path == "" {
		path = pagePath(ft)
	}
	answers, err := loadAnswers(o.answers)
	if err != nil {
		return err
	}
	token := o.token
	if token == "" {
		token = uuid.NewString()
	}

	var logger logging.Logger = logging.NopLogger{}
	if root.logger != nil {
		logger = root.logger.With(logging.String("token", token))
	}
	c, err := client.New(o.backend,
		client.WithLogger(logger),
		client.WithBreaker(client.NewBreaker(client.DefaultBreakerConfig())),
		client.WithRetry(nil),
	)
	if err != nil {
		return err
	}

	cfg := root.cfg.Wizard()
	cfg.AutoSelect = false
	o.minWords = cfg.MinWords
	s := wizard.New(c, client.StaticTokens{Token: token, Slug: root.cfg.Quest.ProductSlug},
		wizard.WithConfig(cfg),
		wizard.WithLogger(logger),
	)
	defer s.Close()

	if err := s.Start(ctx, path); err != nil {
		return err
	}
	if s.State().Phase == wizard.PhaseSelecting {
		if ft, err = o.choose(ctx, s.State().Choices, ft); err != nil {
			return err
		}
		if err := s.Choose(ctx, ft); err != nil {
			return err
		}
	}
	if s.State().Phase != wizard.PhaseEditing {
		return fmt.Errorf("%w (phase %s)", wizard.ErrNotEditing, s.State().Phase)
	}

	if err := o.apply(ctx, s, answers); err != nil {
		return err
	}

	outcome, err := s.Submit(ctx)
	st := s.State()
	fmt.Fprintf(out, "token: %s\nform: %s\noutcome: %s\nanswered: %d/%d\n",
		token, st.FormType, outcome, st.Answered, s.Template().Len())
	for _, n := range st.Notices {
		fmt.Fprintf(out, "%s: %s\n", n.Level, n.Message)
	}
	switch outcome {
	case wizard.OutcomeSubmitted, wizard.OutcomeSkipped:
		return nil
	case wizard.OutcomeInvalid:
		report, _ := s.Validate()
		return fmt.Errorf("answers are incomplete: %s", report.Error())
	default:
		return err
	}
}

func (o *fillOptions) choose(ctx context.Context, choices []quest.FormType, ft quest.FormType) (quest.FormType, error) {
	if ft.IsSet() {
		return ft, nil
	}
	if !o.interactive {
		return quest.Unset, fmt.Errorf("the page shows a selection screen: pass --type")
	}
	labels := make([]string, len(choices))
	for i, c := range choices {
		labels[i] = questview.Labels[c]
	}
	idx, err := o.prompter.Select(ctx, "Which form do you want to fill?", labels)
	if err != nil {
		return quest.Unset, err
	}
	if idx < 0 || idx >= len(choices) {
		return quest.Unset, quest.ErrUnknownFormType
	}
	return choices[idx], nil
}

// apply fills answers, then prompts for what is still empty.
func (o *fillOptions) apply(ctx context.Context, s *wizard.Session, answers map[string]string) error {
	t := s.Template()
	for id, text := range answers {
		if _, ok := t.Field(id); !ok {
			return fmt.Errorf("%w: %s", wizard.ErrUnknownField, id)
		}
		if err := s.Input(id, text); err != nil {
			return err
		}
	}
	if !o.interactive {
		return nil
	}
	for _, f := range t.Fields() {
		current, _ := s.Instance().Get(f.ID)
		if _, given := answers[f.ID]; given {
			continue
		}
		help := fmt.Sprintf("%s (at least %d words)", f.PathString(), o.minWords)
		text, err := o.prompter.TextArea(ctx, f.Prompt, help, current)
		if err != nil {
			return err
		}
		if err := s.Input(f.ID, text); err != nil {
			return err
		}
	}
	return nil
}
