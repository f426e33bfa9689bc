package reconcile

import (
	"github.com/h2hsecure/usermanage/internal/domain"
)

// StepResult is the outcome of one successful step.
type StepResult struct {
	Record  string
	Step    domain.Step
	Changed bool
}

// Report summarizes a pass. Failures holds the errors that did not abort
// the pass, every one of them a *domain.StepError.
type Report struct {
	Skipped  bool
	Steps    []StepResult
	Failures []error
	Members  []string
	OpenIDs  []string
	Homes    []domain.HomeDirectorySpec
}

func (r *Report) record(name string, step domain.Step, changed bool) {
	r.Steps = append(r.Steps, StepResult{Record: name, Step: step, Changed: changed})
}

func (r *Report) fail(err error) {
	r.Failures = append(r.Failures, err)
}

// Changes counts the steps that modified the host.
func (r *Report) Changes() int {
	n := 0
	for _, s := range r.Steps {
		if s.Changed {
			n++
		}
	}
	return n
}

// Merge appends the results of another pass.
func (r *Report) Merge(o *Report) {
	if o == nil {
		return
	}
	r.Skipped = r.Skipped || o.Skipped
	r.Steps = append(r.Steps, o.Steps...)
	r.Failures = append(r.Failures, o.Failures...)
	if o.Members != nil {
		r.Members = o.Members
	}
	if o.OpenIDs != nil {
		r.OpenIDs = o.OpenIDs
	}
	r.Homes = append(r.Homes, o.Homes...)
}
