// Package validate checks that a container is structurally intact,
// matches its manifest and, on request, carries a verified signature.
//
// Validation is a fixed sequence of stages. The first failing stage ends
// the run with an INVALID outcome; a run in which every stage passes is
// VALID.
package validate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mrhapile/wacz/pkg/signing"
	"github.com/mrhapile/wacz/pkg/types"
)

// Outcome is the terminal state of a validation run.
type Outcome string

const (
	Valid   Outcome = "VALID"
	Invalid Outcome = "INVALID"
)

// Report describes one validation run.
type Report struct {
	Path    string  `json:"path"`
	Outcome Outcome `json:"outcome"`
	Version string  `json:"version,omitempty"`
	Legacy  bool    `json:"legacy,omitempty"`

	// Passed lists the stages that passed, in order.
	Passed []string `json:"passed"`

	// FailedStage and Err are set when the outcome is Invalid.
	FailedStage string `json:"failed_stage,omitempty"`
	Err         error  `json:"-"`
	Message     string `json:"error,omitempty"`

	// Mismatches holds every hash mismatch found by the failing stage.
	Mismatches []types.HashMismatch `json:"mismatches,omitempty"`

	Notices []string `json:"notices,omitempty"`
}

// Valid reports whether the container passed validation.
func (r *Report) Valid() bool {
	return r.Outcome == Valid
}

// Validator runs the validation pipeline. It holds no per-container state
// and may be used for any number of runs.
type Validator struct {
	verify      bool
	verifierURL string
	timeout     time.Duration
	httpClient  *http.Client
	verifier    signing.Verifier
	schema      SchemaValidator
	log         *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithVerifyAuth requests signature verification. Without it a signed
// container passes with a notice.
func WithVerifyAuth(verify bool) Option {
	return func(v *Validator) {
		v.verify = verify
	}
}

// WithVerifierURL sends signatures to a remote verification service.
func WithVerifierURL(url string) Option {
	return func(v *Validator) {
		v.verifierURL = url
	}
}

// WithTimeout bounds the remote verification call. It is made once and
// never retried.
func WithTimeout(d time.Duration) Option {
	return func(v *Validator) {
		v.timeout = d
	}
}

// WithHTTPClient sets the client used for remote verification.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Validator) {
		v.httpClient = c
	}
}

// WithVerifier sets the local verifier used when no verifier URL is set.
func WithVerifier(verifier signing.Verifier) Option {
	return func(v *Validator) {
		v.verifier = verifier
	}
}

// WithSchema replaces the embedded manifest schema.
func WithSchema(s SchemaValidator) Option {
	return func(v *Validator) {
		v.schema = s
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) {
		v.log = l
	}
}

func New(opts ...Option) (*Validator, error) {
	v := &Validator{timeout: signing.DefaultTimeout}
	for _, opt := range opts {
		opt(v)
	}
	if v.log == nil {
		v.log = slog.New(slog.DiscardHandler)
	}
	if v.schema == nil {
		s, err := defaultSchema()
		if err != nil {
			return nil, err
		}
		v.schema = s
	}
	return v, nil
}

// Validate runs every stage against the container at path.
func (v *Validator) Validate(ctx context.Context, path string) *Report {
	return v.Run(ctx, path, v.Stages())
}

// Run executes stages in order against the container at path, stopping
// at the first failure.
func (v *Validator) Run(ctx context.Context, path string, stages []Stage) *Report {
	report := &Report{Path: path, Outcome: Valid, Passed: []string{}}

	c, err := openContainer(path)
	if err != nil {
		report.fail("open", err)
		v.log.Warn("validation failed", "path", path, "error", err)
		return report
	}
	defer c.Close()

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			report.fail(stage.Name, err)
			break
		}
		v.log.Debug("running stage", "stage", stage.Name)
		err := stage.Run(ctx, c)
		if errors.Is(err, SkipRemaining) {
			report.Passed = append(report.Passed, stage.Name)
			break
		}
		if err != nil {
			report.fail(stage.Name, err)
			break
		}
		report.Passed = append(report.Passed, stage.Name)
	}

	report.Version = c.Version
	report.Legacy = c.Legacy
	report.Notices = c.notices
	if report.Valid() {
		v.log.Info("validation succeeded", "path", path, "version", c.Version, "legacy", c.Legacy)
	} else {
		v.log.Warn("validation failed", "path", path, "stage", report.FailedStage, "error", report.Err)
	}
	return report
}

func (r *Report) fail(stage string, err error) {
	r.Outcome = Invalid
	r.FailedStage = stage
	r.Err = err
	r.Message = err.Error()
	var integrity *types.IntegrityError
	if errors.As(err, &integrity) {
		r.Mismatches = integrity.Mismatches
	}
}
