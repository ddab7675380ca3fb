package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"mercator-hq/indexretain/pkg/index"
	"mercator-hq/indexretain/pkg/index/joblog"
)

// Owners resolves the subclient and backupset a job belongs to.
// index.Store satisfies it.
type Owners interface {
	GetSubclient(ctx context.Context, id string) (*index.Subclient, error)
	GetBackupset(ctx context.Context, id string) (*index.Backupset, error)
}

// Option configures a Policy.
type Option func(*Policy)

// WithDefaultRule sets the rule applied to subclients that carry none.
func WithDefaultRule(rule index.RetentionRule) Option {
	return func(p *Policy) {
		r := rule
		p.defaultRule = &r
	}
}

// WithLogger sets the policy logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Policy) {
		p.logger = logger.With("component", "index.retention")
	}
}

// Policy evaluates retention rules against a job log.
type Policy struct {
	jobs   joblog.Reader
	owners Owners
	logger *slog.Logger

	mu          sync.RWMutex
	defaultRule *index.RetentionRule
}

// New creates a Policy. Without WithDefaultRule, a subclient with no rule of
// its own is covered only by its backupset's rule.
func New(jobs joblog.Reader, owners Owners, opts ...Option) *Policy {
	p := &Policy{
		jobs:   jobs,
		owners: owners,
		logger: slog.Default().With("component", "index.retention"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DefaultRule returns the rule applied to subclients that carry none.
func (p *Policy) DefaultRule() (index.RetentionRule, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.defaultRule == nil {
		return index.RetentionRule{}, false
	}
	return *p.defaultRule, true
}

// SetDefaultRule replaces the default rule. Returns true when it changed.
func (p *Policy) SetDefaultRule(rule index.RetentionRule) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.defaultRule != nil && *p.defaultRule == rule {
		return false
	}
	p.defaultRule = &rule
	p.logger.Info("default retention rule changed", "rule", rule.String())
	return true
}

// Rules returns every rule covering a subclient. A deleted subclient is
// covered by the rule it carried when it was deleted.
func (p *Policy) Rules(ctx context.Context, subclientID string) ([]index.RetentionRule, error) {
	sc, err := p.owners.GetSubclient(ctx, subclientID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve subclient %s: %w", subclientID, err)
	}

	var rules []index.RetentionRule
	if sc.Retention != nil {
		rules = append(rules, *sc.Retention)
	} else if def, ok := p.DefaultRule(); ok {
		rules = append(rules, def)
	}

	if sc.BackupsetID != "" {
		bs, err := p.owners.GetBackupset(ctx, sc.BackupsetID)
		switch {
		case err == nil:
			if bs.Retention != nil {
				rules = append(rules, *bs.Retention)
			}
		case !errors.Is(err, index.ErrNotFound):
			return nil, fmt.Errorf("failed to resolve backupset %s: %w", sc.BackupsetID, err)
		}
	}

	return rules, nil
}

// CoveredByDays reports whether any days rule covers the subclient.
// Such subclients age with the clock, not only with new jobs.
func (p *Policy) CoveredByDays(ctx context.Context, subclientID string) (bool, error) {
	rules, err := p.Rules(ctx, subclientID)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(rules, func(r index.RetentionRule) bool {
		return r.Type == index.RuleDays
	}), nil
}

// EligibleForPruning returns the ids of the subclient's live jobs that every
// covering rule allows to be pruned at asOf.
func (p *Policy) EligibleForPruning(ctx context.Context, subclientID string, asOf time.Time) (index.JobSet, error) {
	rules, err := p.Rules(ctx, subclientID)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		p.logger.Debug("no retention rule covers subclient", "subclient_id", subclientID)
		return index.NewJobSet(), nil
	}

	seq, err := p.jobs.Cycles(ctx, subclientID)
	if err != nil {
		return nil, err
	}
	return p.eligible(subclientID, rules, slices.Collect(seq), asOf)
}

// EligibleAmong is EligibleForPruning over a fixed snapshot of the
// subclient's live jobs instead of the current log. jobs must be sorted with
// index.SortJobs.
func (p *Policy) EligibleAmong(ctx context.Context, subclientID string, jobs []*index.Job, asOf time.Time) (index.JobSet, error) {
	rules, err := p.Rules(ctx, subclientID)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		p.logger.Debug("no retention rule covers subclient", "subclient_id", subclientID)
		return index.NewJobSet(), nil
	}
	return p.eligible(subclientID, rules, slices.Collect(index.GroupCycles(jobs)), asOf)
}

func (p *Policy) eligible(subclientID string, rules []index.RetentionRule, cycles []index.Cycle, asOf time.Time) (index.JobSet, error) {
	var eligible index.JobSet
	for _, rule := range rules {
		set, err := Evaluate(rule, cycles, asOf)
		if err != nil {
			return nil, fmt.Errorf("subclient %s: %w", subclientID, err)
		}
		if eligible == nil {
			eligible = set
		} else {
			eligible = eligible.Intersect(set)
		}
	}

	p.logger.Debug("retention evaluated",
		"subclient_id", subclientID,
		"rules", len(rules),
		"cycles", len(cycles),
		"eligible", len(eligible),
		"as_of", asOf,
	)
	return eligible, nil
}

// Evaluate applies a single rule to a subclient's cycles, oldest first.
func Evaluate(rule index.RetentionRule, cycles []index.Cycle, asOf time.Time) (index.JobSet, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	switch rule.Type {
	case index.RuleCycles:
		return byCycles(rule.Value, cycles), nil
	case index.RuleDays:
		return byDays(rule.Value, cycles, asOf), nil
	default:
		return nil, fmt.Errorf("unsupported retention rule type %q", rule.Type)
	}
}

// byCycles keeps the keep newest complete cycles. Every cycle but the last
// has a successor full and is therefore complete.
func byCycles(keep int, cycles []index.Cycle) index.JobSet {
	eligible := index.NewJobSet()

	complete := len(cycles) - 1
	for i := 0; i < complete-keep; i++ {
		for _, j := range cycles[i].Jobs {
			eligible.Add(j.JobID)
		}
	}
	return eligible
}

// byDays ages each job by end time. Anchors are held back while their cycle
// keeps any job, and the newest cycle's anchor is always held.
func byDays(days int, cycles []index.Cycle, asOf time.Time) index.JobSet {
	eligible := index.NewJobSet()
	window := time.Duration(days) * 24 * time.Hour

	for i, c := range cycles {
		newest := i == len(cycles)-1

		retained := false
		for _, j := range c.Jobs {
			if j == c.Anchor {
				continue
			}
			if asOf.Sub(j.EndTime) > window {
				eligible.Add(j.JobID)
			} else {
				retained = true
			}
		}

		if c.Anchor == nil || newest || retained {
			continue
		}
		if asOf.Sub(c.Anchor.EndTime) > window {
			eligible.Add(c.Anchor.JobID)
		}
	}
	return eligible
}
