// Package preflight runs the startup checks and prints a colored report.
package preflight

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
)

// Step is the outcome of one check.
type Step struct {
	Name    string
	Status  StepStatus
	Message string
	Error   error
	Latency time.Duration
}

// StepStatus represents the status of a validation step.
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepPassed
	StepFailed
	StepWarning
	StepSkipped
)

// String returns the string representation of a step status.
func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepRunning:
		return "running"
	case StepPassed:
		return "passed"
	case StepFailed:
		return "failed"
	case StepWarning:
		return "warning"
	case StepSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Outcome is what a check reports back.
type Outcome struct {
	Status  StepStatus
	Message string
	Err     error
}

// Pass, Warn, Skip and Fail build outcomes.
func Pass(format string, args ...any) Outcome {
	return Outcome{Status: StepPassed, Message: fmt.Sprintf(format, args...)}
}

func Warn(format string, args ...any) Outcome {
	return Outcome{Status: StepWarning, Message: fmt.Sprintf(format, args...)}
}

func Skip(format string, args ...any) Outcome {
	return Outcome{Status: StepSkipped, Message: fmt.Sprintf(format, args...)}
}

func Fail(err error) Outcome {
	return Outcome{Status: StepFailed, Err: err}
}

// Check is one named startup check.
type Check struct {
	Name string
	Run  func() Outcome
}

// Result is the complete result of a suite run.
type Result struct {
	Steps       []Step
	TotalSteps  int
	PassedSteps int
	FailedSteps int
	Warnings    int
	Duration    time.Duration
	Success     bool
}

// Suite runs checks in order with progress output.
type Suite struct {
	output       io.Writer
	showProgress bool
	failFast     bool
}

// NewSuite creates a Suite writing to stdout.
func NewSuite() *Suite {
	return &Suite{
		output:       os.Stdout,
		showProgress: true,
	}
}

// WithOutput sets the output writer for progress messages.
func (s *Suite) WithOutput(w io.Writer) *Suite {
	s.output = w
	return s
}

// WithShowProgress enables or disables progress output.
func (s *Suite) WithShowProgress(show bool) *Suite {
	s.showProgress = show
	return s
}

// WithFailFast skips the remaining checks after the first failure.
func (s *Suite) WithFailFast(failFast bool) *Suite {
	s.failFast = failFast
	return s
}

// Run executes checks in order under title. Warnings do not fail the run.
func (s *Suite) Run(title string, checks []Check) Result {
	startTime := time.Now()
	steps := make([]Step, 0, len(checks))

	if s.showProgress {
		s.printHeader(title)
	}

	failed := false
	for _, check := range checks {
		if failed && s.failFast {
			step := Step{Name: check.Name, Status: StepSkipped, Message: "skipped after an earlier failure"}
			if s.showProgress {
				s.printStep(step)
			}
			steps = append(steps, step)
			continue
		}
		step := s.runStep(check)
		if step.Status == StepFailed {
			failed = true
		}
		steps = append(steps, step)
	}

	result := s.buildResult(steps, startTime)
	if s.showProgress {
		s.printSummary(result)
	}
	return result
}

// runStep executes a check with timing and progress output. A panicking
// check counts as failed.
func (s *Suite) runStep(check Check) (step Step) {
	step = Step{Name: check.Name, Status: StepRunning}

	if s.showProgress {
		s.printStepStart(check.Name)
	}

	startTime := time.Now()
	defer func() {
		if r := recover(); r != nil {
			step.Status = StepFailed
			step.Error = fmt.Errorf("check panicked: %v", r)
		}
		step.Latency = time.Since(startTime)
		if s.showProgress {
			s.printStep(step)
		}
	}()

	out := check.Run()
	step.Status = out.Status
	step.Message = out.Message
	step.Error = out.Err
	if step.Error != nil {
		step.Status = StepFailed
	}
	return step
}

// buildResult creates a Result from completed steps.
func (s *Suite) buildResult(steps []Step, startTime time.Time) Result {
	result := Result{
		Steps:      steps,
		TotalSteps: len(steps),
		Duration:   time.Since(startTime),
		Success:    true,
	}

	for _, step := range steps {
		switch step.Status {
		case StepPassed:
			result.PassedSteps++
		case StepFailed:
			result.FailedSteps++
			result.Success = false
		case StepWarning:
			result.Warnings++
		}
	}

	return result
}

func (s *Suite) printHeader(title string) {
	fmt.Fprintln(s.output)
	headerColor := color.New(color.FgCyan, color.Bold)
	headerColor.Fprintf(s.output, "━━━ %s ━━━\n", title)
	fmt.Fprintln(s.output)
}

// printStepStart prints the step name before execution (for real-time feedback).
func (s *Suite) printStepStart(name string) {
	fmt.Fprintf(s.output, "  ◌ %s...", name)
}

func (s *Suite) printStep(step Step) {
	var icon string
	var clr *color.Color

	switch step.Status {
	case StepPassed:
		icon = "✓"
		clr = color.New(color.FgGreen)
	case StepFailed:
		icon = "✗"
		clr = color.New(color.FgRed)
	case StepWarning:
		icon = "!"
		clr = color.New(color.FgYellow)
	case StepSkipped:
		icon = "○"
		clr = color.New(color.FgHiBlack)
	default:
		icon = "?"
		clr = color.New(color.FgWhite)
	}

	// Overwrite the "running" line.
	fmt.Fprintf(s.output, "\r")
	clr.Fprintf(s.output, "  %s %s", icon, step.Name)

	if step.Message != "" {
		dim := color.New(color.FgHiBlack)
		dim.Fprintf(s.output, " - %s", step.Message)
	}

	fmt.Fprintln(s.output)

	if step.Status == StepFailed && step.Error != nil {
		errColor := color.New(color.FgRed)
		errColor.Fprintf(s.output, "    └─ %s\n", step.Error.Error())
	}
}

func (s *Suite) printSummary(result Result) {
	fmt.Fprintln(s.output)

	if result.Success {
		successColor := color.New(color.FgGreen, color.Bold)
		successColor.Fprintf(s.output, "━━━ Startup Checks Passed ")
		color.New(color.FgHiBlack).Fprintf(s.output, "(%d/%d passed, %d warnings, %v)",
			result.PassedSteps, result.TotalSteps, result.Warnings, result.Duration.Round(time.Millisecond))
		successColor.Fprintln(s.output, " ━━━")
	} else {
		failColor := color.New(color.FgRed, color.Bold)
		failColor.Fprintf(s.output, "━━━ Startup Checks Failed ")
		color.New(color.FgHiBlack).Fprintf(s.output, "(%d passed, %d failed)",
			result.PassedSteps, result.FailedSteps)
		failColor.Fprintln(s.output, " ━━━")
	}

	fmt.Fprintln(s.output)
}

// Errors returns all errors from failed steps.
func (r Result) Errors() []error {
	errs := make([]error, 0)
	for _, step := range r.Steps {
		if step.Error != nil {
			errs = append(errs, step.Error)
		}
	}
	return errs
}

// FirstError returns the first error from failed steps, or nil if all passed.
func (r Result) FirstError() error {
	for _, step := range r.Steps {
		if step.Error != nil {
			return step.Error
		}
	}
	return nil
}

// Summary returns a one-line summary for logs.
func (r Result) Summary() string {
	var sb strings.Builder
	if r.Success {
		sb.WriteString("startup checks passed: ")
	} else {
		sb.WriteString("startup checks failed: ")
	}
	fmt.Fprintf(&sb, "%d/%d checks passed", r.PassedSteps, r.TotalSteps)
	if r.FailedSteps > 0 {
		fmt.Fprintf(&sb, ", %d failed", r.FailedSteps)
	}
	if r.Warnings > 0 {
		fmt.Fprintf(&sb, ", %d warnings", r.Warnings)
	}
	fmt.Fprintf(&sb, " (took %v)", r.Duration.Round(time.Millisecond))
	return sb.String()
}
