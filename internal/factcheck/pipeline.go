// Package factcheck decomposes text into claims and verifies each one
// against multiple providers under a shared token budget.
package factcheck

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicsense/analysis-cli/internal/health"
	"github.com/civicsense/analysis-cli/internal/jsonx"
	"github.com/civicsense/analysis-cli/internal/model"
	"github.com/civicsense/analysis-cli/internal/provider"
	"github.com/civicsense/analysis-cli/internal/resilience"
	"github.com/civicsense/analysis-cli/internal/schema"
	"github.com/civicsense/analysis-cli/internal/store"
	"github.com/civicsense/analysis-cli/internal/telemetry"
)

// Config tunes the claim pipeline.
type Config struct {
	MaxClaimsPerJob int `yaml:"max_claims_per_job" mapstructure:"max_claims_per_job"`
	MaxTokensPerJob int `yaml:"max_tokens_per_job" mapstructure:"max_tokens_per_job"`
	// MaxFallbacks is how many providers beyond the primary may be tried
	// per claim. Escalation follows registration order.
	MaxFallbacks int `yaml:"max_fallbacks" mapstructure:"max_fallbacks"`
	// ConfidenceFloor is the run confidence below which a usable verdict
	// still escalates to the next provider for a second opinion.
	ConfidenceFloor float64 `yaml:"confidence_floor" mapstructure:"confidence_floor"`
}

// Pipeline runs fact-check jobs end to end.
type Pipeline struct {
	store      store.Store
	registry   *provider.Registry
	tracker    *health.Tracker
	validator  *schema.Validator
	decomposer *Decomposer
	sink       telemetry.Sink
	cfg        Config
}

// New wires a pipeline. The first enabled provider doubles as the claim
// decomposition backend.
func New(st store.Store, reg *provider.Registry, tracker *health.Tracker, v *schema.Validator, sink telemetry.Sink, cfg Config) *Pipeline {
	if sink == nil {
		sink = telemetry.Nop{}
	}
	if cfg.MaxClaimsPerJob <= 0 {
		cfg.MaxClaimsPerJob = 10
	}
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = 0.5
	}

	var decomposeAdapter provider.Adapter
	if ids := reg.Enabled(); len(ids) > 0 {
		decomposeAdapter, _, _ = reg.Get(ids[0])
	}

	return &Pipeline{
		store:      st,
		registry:   reg,
		tracker:    tracker,
		validator:  v,
		decomposer: NewDecomposer(decomposeAdapter, cfg.MaxClaimsPerJob, 1024),
		sink:       sink,
		cfg:        cfg,
	}
}

// Run executes one fact-check job: decompose, verify each claim, persist
// evidence. Budget exhaustion skips remaining work but still completes the
// job; only infrastructure failures mark it failed.
func (p *Pipeline) Run(ctx context.Context, content, locale string) (*model.FactcheckJob, error) {
	if strings.TrimSpace(content) == "" {
		return nil, eris.New("factcheck: empty content")
	}

	job, err := p.store.CreateJob(ctx, content, locale)
	if err != nil {
		return nil, err
	}
	if err := p.store.UpdateJobStatus(ctx, job.ID, model.JobRunning); err != nil {
		return nil, err
	}

	drafts := p.decomposer.Decompose(ctx, content)
	if err := p.store.AppendAudit(ctx, model.AuditEntry{
		JobID:  job.ID,
		Action: "claims_extracted",
		Detail: fmt.Sprintf("count=%d", len(drafts)),
	}); err != nil {
		zap.L().Warn("audit write failed", zap.Error(err))
	}

	budget := NewBudget(p.cfg.MaxTokensPerJob)
	var outcomes []model.ClaimOutcome
	var totalCost float64

	for _, draft := range drafts {
		claim, created, err := p.store.UpsertClaim(ctx, draft.Text, draft.Scope, draft.Timeframe)
		if err != nil {
			return nil, p.failJob(ctx, job, err)
		}
		if !created {
			zap.L().Debug("claim reused across jobs", zap.String("claim_id", claim.ID))
		}

		outcome, cost, err := p.checkClaim(ctx, job.ID, claim, budget)
		if err != nil {
			return nil, p.failJob(ctx, job, err)
		}
		totalCost += cost
		outcomes = append(outcomes, *outcome)
	}

	job.Status = model.JobCompleted
	job.Claims = outcomes
	job.TokensUsed = budget.Used()
	job.CostEUR = totalCost
	if err := p.store.CompleteJob(ctx, job); err != nil {
		return nil, err
	}
	if err := p.store.AppendAudit(ctx, model.AuditEntry{
		JobID:  job.ID,
		Action: "job_completed",
		Detail: fmt.Sprintf("claims=%d tokens=%d cost_eur=%.6f", len(outcomes), job.TokensUsed, totalCost),
	}); err != nil {
		zap.L().Warn("audit write failed", zap.Error(err))
	}
	return job, nil
}

// checkClaim verifies one claim through the primary provider and up to
// MaxFallbacks escalations. A failed call escalates, and so does a verdict
// below ConfidenceFloor. The returned error is reserved for store failures;
// provider failures are recorded as pending runs.
func (p *Pipeline) checkClaim(ctx context.Context, jobID string, claim *model.Claim, budget *Budget) (*model.ClaimOutcome, float64, error) {
	providers := p.availableProviders()
	maxAttempts := 1 + p.cfg.MaxFallbacks
	if len(providers) < maxAttempts {
		maxAttempts = len(providers)
	}

	var cost float64
	verified := false
	budgetStopped := false

	for i := 0; i < maxAttempts; i++ {
		id := providers[i]
		_, profile, ok := p.registry.Get(id)
		if !ok {
			continue
		}

		estimate := profile.MaxTokens
		if estimate <= 0 {
			estimate = 1024
		}
		if err := budget.Reserve(estimate); err != nil {
			if errors.Is(err, ErrBudgetExhausted) {
				budgetStopped = true
				zap.L().Info("claim skipped, budget exhausted",
					zap.String("job_id", jobID),
					zap.String("claim_id", claim.ID))
				p.audit(ctx, jobID, claim.ID, "claim_skipped", "budget exhausted")
				break
			}
			return nil, cost, err
		}

		run, callCost, err := p.verifyOnce(ctx, jobID, id, profile, claim, budget, estimate)
		cost += callCost
		if _, err := p.store.AppendProviderRun(ctx, *run); err != nil {
			return nil, cost, err
		}
		if err == nil {
			verified = true
			if run.Confidence >= p.cfg.ConfidenceFloor {
				break
			}
			zap.L().Info("verdict confidence below floor, escalating",
				zap.String("claim_id", claim.ID),
				zap.String("provider", id),
				zap.Float64("confidence", run.Confidence))
			continue
		}
		zap.L().Warn("provider verification failed, escalating",
			zap.String("claim_id", claim.ID),
			zap.String("provider", id),
			zap.Error(err))
	}

	runs, err := p.store.ListProviderRuns(ctx, claim.ID)
	if err != nil {
		return nil, cost, err
	}

	outcome := &model.ClaimOutcome{Claim: *claim, Runs: runs}

	var verdict model.ConsensusVerdict
	if budgetStopped && !verified && !hasVote(runs) {
		// Never attempted: close the claim with a pending verdict so the
		// job's output accounts for it rather than dropping it silently.
		outcome.Skipped = true
		verdict = model.ConsensusVerdict{
			ClaimID: claim.ID,
			Method:  model.ConsensusSingle,
			Verdict: model.VerdictPending,
		}
	} else {
		verdict = WeightedConsensus(claim.ID, runs, p.providerWeight, p.domainTrust(ctx))
	}
	if err := p.store.SaveConsensusVerdict(ctx, verdict); err != nil {
		return nil, cost, err
	}
	if err := p.store.UpdateClaimStatus(ctx, claim.ID, model.ClaimResolved); err != nil {
		return nil, cost, err
	}
	claim.Status = model.ClaimResolved
	outcome.Claim.Status = model.ClaimResolved
	outcome.Consensus = &verdict

	p.audit(ctx, jobID, claim.ID, "claim_resolved",
		fmt.Sprintf("verdict=%s confidence=%.2f", verdict.Verdict, verdict.Confidence))
	return outcome, cost, nil
}

// verifyOnce runs one provider call for one claim. It always returns a run
// to persist: failed calls yield a VerdictPending run plus the error.
func (p *Pipeline) verifyOnce(ctx context.Context, jobID, id string, profile provider.Profile, claim *model.Claim, budget *Budget, estimate int) (*model.ProviderRun, float64, error) {
	adapter, _, _ := p.registry.Get(id)
	prompt := buildVerifyPrompt(claim, profile)

	if err := p.registry.Wait(ctx, id); err != nil {
		budget.Settle(estimate, 0)
		return pendingRun(claim.ID, id, err), 0, err
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if profile.TimeoutMs > 0 {
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(profile.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	p.tracker.BeforeCall(id)
	start := time.Now()
	result, err := resilience.ExecuteVal(callCtx, p.tracker.Breaker(id), func(ctx context.Context) (*provider.CallResult, error) {
		return adapter.Call(ctx, provider.CallRequest{Prompt: prompt, MaxTokens: profile.MaxTokens})
	})
	duration := time.Since(start)

	if err != nil {
		budget.Settle(estimate, 0)
		p.tracker.AfterCall(id, duration, false, false)
		p.record(ctx, jobID, claim.ID, id, duration, false, string(resilience.Classify(err)), nil)
		return pendingRun(claim.ID, id, err), 0, err
	}

	tokens := result.TokensIn + result.TokensOut
	budget.Settle(estimate, tokens)

	item, perr := p.parseVerdict(result.Text)
	if perr != nil {
		p.tracker.AfterCall(id, duration, true, false)
		p.record(ctx, jobID, claim.ID, id, duration, false, string(resilience.Classify(perr)), result)
		run := pendingRun(claim.ID, id, perr)
		run.CostTokens = tokens
		run.LatencyMs = duration.Milliseconds()
		run.RawOutput = result.Text
		return run, result.CostEUR, perr
	}

	p.tracker.AfterCall(id, duration, true, true)
	p.record(ctx, jobID, claim.ID, id, duration, true, "", result)
	sources := mergeCitations(item.Sources, result.Citations)
	p.recordSourceTrust(ctx, sources)

	return &model.ProviderRun{
		ClaimID:    claim.ID,
		Provider:   id,
		Verdict:    item.Verdict,
		Confidence: float64(item.Confidence),
		Rationale:  item.Rationale,
		Sources:    sources,
		CostTokens: tokens,
		LatencyMs:  duration.Milliseconds(),
		RawOutput:  result.Text,
	}, result.CostEUR, nil
}

// parseVerdict extracts the verdict for a single claim from provider output
// shaped as a factcheck analysis.
func (p *Pipeline) parseVerdict(text string) (*model.FactcheckItem, error) {
	analysis, err := parseAnalysis(p.validator, text)
	if err != nil {
		return nil, err
	}
	if analysis.Factcheck == nil || len(analysis.Factcheck.Items) == 0 {
		return nil, eris.New("factcheck: provider returned no claim items")
	}
	return &analysis.Factcheck.Items[0], nil
}

func parseAnalysis(v *schema.Validator, text string) (*model.Analysis, error) {
	raw, _, err := jsonx.Parse(text)
	if err != nil {
		return nil, resilience.WithKind(resilience.KindJSON, err)
	}
	analysis, err := v.Validate(model.ModeFactcheck, raw)
	if err != nil {
		return nil, resilience.WithKind(resilience.KindSchema, err)
	}
	return analysis, nil
}

func (p *Pipeline) availableProviders() []string {
	var out []string
	for _, id := range p.registry.Enabled() {
		if p.tracker.Available(id) {
			out = append(out, id)
		}
	}
	return out
}

func (p *Pipeline) providerWeight(id string) float64 {
	if profile, ok := p.registry.Profile(id); ok {
		return profile.Weight
	}
	return 0
}

// domainTrust returns a lookup over persisted trust scores, defaulting
// unknown domains to DefaultTrust.
func (p *Pipeline) domainTrust(ctx context.Context) func(domain string) float64 {
	return func(domain string) float64 {
		score, ok, err := p.store.GetSourceTrust(ctx, domain)
		if err != nil {
			zap.L().Warn("trust lookup failed", zap.String("domain", domain), zap.Error(err))
			return DefaultTrust
		}
		if !ok {
			return DefaultTrust
		}
		return score
	}
}

// mergeCitations appends retrieval citations the model did not already list
// among its sources. Grounded providers report these out of band, next to
// the completion rather than inside it.
func mergeCitations(sources []model.SourceItem, citations []string) []model.SourceItem {
	if len(citations) == 0 {
		return sources
	}
	seen := make(map[string]bool, len(sources))
	for _, s := range sources {
		seen[s.DedupKey()] = true
	}
	for _, c := range citations {
		item := model.SourceItem{URL: c}
		key := item.DedupKey()
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		sources = append(sources, item)
	}
	return sources
}

// recordSourceTrust seeds unseen domains with the default score so they show
// up for curation.
func (p *Pipeline) recordSourceTrust(ctx context.Context, sources []model.SourceItem) {
	for _, src := range sources {
		d := Domain(src.URL)
		if d == "" {
			continue
		}
		_, ok, err := p.store.GetSourceTrust(ctx, d)
		if err != nil || ok {
			continue
		}
		if err := p.store.SetSourceTrust(ctx, d, DefaultTrust); err != nil {
			zap.L().Warn("trust seed failed", zap.String("domain", d), zap.Error(err))
		}
	}
}

func (p *Pipeline) failJob(ctx context.Context, job *model.FactcheckJob, cause error) error {
	if err := p.store.UpdateJobStatus(ctx, job.ID, model.JobFailed); err != nil {
		zap.L().Error("failed to mark job failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	return eris.Wrapf(cause, "factcheck: job %s", job.ID)
}

func (p *Pipeline) audit(ctx context.Context, jobID, claimID, action, detail string) {
	err := p.store.AppendAudit(ctx, model.AuditEntry{
		JobID:   jobID,
		ClaimID: claimID,
		Action:  action,
		Detail:  detail,
	})
	if err != nil {
		zap.L().Warn("audit write failed", zap.Error(err))
	}
}

func (p *Pipeline) record(ctx context.Context, jobID, claimID, id string, duration time.Duration, success bool, errorKind string, result *provider.CallResult) {
	rec := telemetry.CallRecord{
		Provider:  id,
		JobID:     jobID,
		ClaimID:   claimID,
		Success:   success,
		ErrorKind: errorKind,
		LatencyMs: duration.Milliseconds(),
		At:        time.Now().UTC(),
	}
	if result != nil {
		rec.TokensIn = result.TokensIn
		rec.TokensOut = result.TokensOut
		rec.CostEUR = result.CostEUR
	}
	p.sink.Record(ctx, rec)
}

func pendingRun(claimID, providerID string, cause error) *model.ProviderRun {
	return &model.ProviderRun{
		ClaimID:   claimID,
		Provider:  providerID,
		Verdict:   model.VerdictPending,
		Rationale: cause.Error(),
	}
}

// hasVote reports whether any run carries a usable verdict.
func hasVote(runs []model.ProviderRun) bool {
	for _, r := range runs {
		if r.Verdict != model.VerdictPending {
			return true
		}
	}
	return false
}

const verifyPromptEN = `Fact-check this single claim. Give a verdict (true, false, mixed, unverified), your confidence from 0 to 1, a short rationale, and the sources you relied on.

Respond with only a JSON object of the form:
{"type":"factcheck","summary":"...","items":[{"claim":"...","verdict":"true|false|mixed|unverified","confidence":0.0,"rationale":"...","sources":[{"title":"...","url":"..."}]}]}

Claim: `

func buildVerifyPrompt(claim *model.Claim, profile provider.Profile) string {
	var b strings.Builder
	b.WriteString(verifyPromptEN)
	b.WriteString(claim.Text)
	if claim.Scope != "" {
		b.WriteString("\nScope: ")
		b.WriteString(claim.Scope)
	}
	if claim.Timeframe != "" {
		b.WriteString("\nTimeframe: ")
		b.WriteString(claim.Timeframe)
	}
	b.WriteString("\n\n")
	b.WriteString(profile.Role.PromptGuidance())
	if profile.PromptHint != "" {
		b.WriteString("\n")
		b.WriteString(profile.PromptHint)
	}
	return b.String()
}
