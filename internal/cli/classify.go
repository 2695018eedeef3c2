package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pulsecheck/internal/agent"
	"pulsecheck/internal/app"
	"pulsecheck/internal/domain"
	"pulsecheck/internal/report"
)

// errClassifyFailed is all the user sees of a model failure; the cause is logged.
var errClassifyFailed = errors.New("could not classify notes")

type classifyOptions struct {
	notesFile    string
	pov          string
	format       string
	tone         string
	name         string
	team         string
	timeframe    string
	answers      []string
	previousFile string
	reportDir    string
}

func newClassifyCmd() *cobra.Command {
	var opts classifyOptions
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify notes once and print the outcome as JSON",
		Long: `Classify runs one agent turn over the notes and prints items, resolved
preferences and any follow-up questions.

Example:
  pulsecheck classify --notes-file notes.txt --pov first --format bullets --tone executive
  pulsecheck classify --notes-file notes.txt --previous out.json --answer pov=first --answer tone=executive`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.notesFile, "notes-file", "", "file with the raw notes ('-' reads stdin)")
	f.StringVar(&opts.pov, "pov", "", "point of view: first, third_limited, third_omniscient")
	f.StringVar(&opts.format, "format", "", "report format: bullets, paragraph")
	f.StringVar(&opts.tone, "tone", "", "report tone: team_chill, executive, escalation")
	f.StringVar(&opts.name, "name", "", "attribution name for third-person reports")
	f.StringVar(&opts.team, "team", "", "team name (default: team_name from config)")
	f.StringVar(&opts.timeframe, "timeframe", "", "reporting period, e.g. 'this week'")
	f.StringArrayVar(&opts.answers, "answer", nil, "answer to a follow-up question as field=value (repeatable)")
	f.StringVar(&opts.previousFile, "previous", "", "JSON output of an earlier classify run to resolve answers against")
	f.StringVar(&opts.reportDir, "report-dir", "", "write .md and .eml reports here when no questions remain (default: report_output_dir)")
	_ = cmd.MarkFlagRequired("notes-file")
	return cmd
}

func runClassify(cmd *cobra.Command, opts classifyOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	in, err := buildInput(opts, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if in.Team == "" {
		in.Team = cfg.TeamName
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.TurnTimeout())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Logger.Sync() }()

	outcome, err := a.Orchestrator.Run(ctx, in)
	if errors.Is(err, agent.ErrClassificationUnavailable) {
		a.Logger.Error("classify failed", zap.Error(err))
		return errClassifyFailed
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcome); err != nil {
		return err
	}

	dir := opts.reportDir
	if dir == "" {
		dir = cfg.ReportOutputDir
	}
	if !outcome.Done() || dir == "" {
		return nil
	}
	r := report.Report{
		Team:        in.Team,
		Date:        time.Now().In(cfg.Location),
		Items:       outcome.Items,
		Preferences: outcome.Preferences,
	}
	mdPath, err := report.WriteMarkdownFile(r, dir)
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	emlPath, err := report.WriteEmailDraftFile(r, dir)
	if err != nil {
		return fmt.Errorf("write email draft: %w", err)
	}
	a.Logger.Info("report written", zap.String("markdown", mdPath), zap.String("email", emlPath))
	return nil
}

func buildInput(opts classifyOptions, stdin io.Reader) (domain.ClassificationInput, error) {
	notes, err := readNotes(opts.notesFile, stdin)
	if err != nil {
		return domain.ClassificationInput{}, err
	}
	prefs, err := flagPreferences(opts)
	if err != nil {
		return domain.ClassificationInput{}, err
	}
	answers, err := parseAnswers(opts.answers)
	if err != nil {
		return domain.ClassificationInput{}, err
	}

	in := domain.ClassificationInput{
		Notes:       notes,
		Preferences: prefs,
		Team:        opts.team,
		Timeframe:   opts.timeframe,
		Answers:     answers,
	}
	if opts.previousFile != "" {
		data, err := os.ReadFile(opts.previousFile)
		if err != nil {
			return in, fmt.Errorf("read previous result: %w", err)
		}
		var prev agent.Outcome
		if err := json.Unmarshal(data, &prev); err != nil {
			return in, fmt.Errorf("parse previous result %s: %w", opts.previousFile, err)
		}
		result := prev.Result()
		in.Previous = &result
	}
	return in, nil
}

func readNotes(path string, stdin io.Reader) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read notes: %w", err)
	}
	return string(data), nil
}

func flagPreferences(opts classifyOptions) (domain.AgentPreferences, error) {
	var p domain.AgentPreferences
	if opts.pov != "" {
		v, ok := domain.ParsePOV(opts.pov)
		if !ok {
			return p, fmt.Errorf("invalid --pov %q", opts.pov)
		}
		p.POV = v
	}
	if opts.format != "" {
		v, ok := domain.ParseFormat(opts.format)
		if !ok {
			return p, fmt.Errorf("invalid --format %q", opts.format)
		}
		p.Format = v
	}
	if opts.tone != "" {
		v, ok := domain.ParseTone(opts.tone)
		if !ok {
			return p, fmt.Errorf("invalid --tone %q", opts.tone)
		}
		p.Tone = v
	}
	p.AttributionName = opts.name
	return p.Normalized(), nil
}

// parseAnswers reads field=value pairs. Unknown fields pass through and are
// dropped by the engine.
func parseAnswers(raw []string) ([]domain.UserAnswer, error) {
	answers := make([]domain.UserAnswer, 0, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --answer %q: expected field=value", kv)
		}
		field := domain.Field(key)
		if parsed, known := domain.ParseField(key); known {
			field = parsed
		}
		answers = append(answers, domain.UserAnswer{Field: field, Answer: strings.TrimSpace(value)})
	}
	return answers, nil
}
