package app

import (
	"fmt"
	"math"
	"time"

	"flowsentry/clients/oracle"
	"flowsentry/config"
)

// Rule names reported on validation failures.
const (
	RuleConfidence = "confidence"
	RuleCooldown   = "cooldown"
	RulePosition   = "position"
	RuleRiskReward = "risk_reward"
)

// ValidationInput carries the live context a candidate is judged against.
type ValidationInput struct {
	CurrentPrice   float64
	LastAcceptedAt time.Time // zero when no prior alert constrains this one
	Exposure       Exposure
	Now            time.Time
}

// ValidationResult reports the first rule a candidate failed, if any.
type ValidationResult struct {
	OK     bool
	Rule   string
	Reason string
}

func pass() ValidationResult {
	return ValidationResult{OK: true}
}

func fail(rule, format string, args ...any) ValidationResult {
	return ValidationResult{Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

// Validator runs candidates through the acceptance rules in a fixed order:
// confidence, cooldown, position conflicts, then risk/reward. The first
// failing rule short-circuits the rest.
type Validator struct {
	cfg config.ValidationConfig
}

func NewValidator(cfg config.ValidationConfig) *Validator {
	return &Validator{cfg: cfg}
}

func (v *Validator) Validate(cand *oracle.AlertCandidate, in ValidationInput) ValidationResult {
	if res := v.checkConfidence(cand); !res.OK {
		return res
	}
	if res := v.checkCooldown(in); !res.OK {
		return res
	}
	if res := v.checkPosition(cand, in.Exposure); !res.OK {
		return res
	}
	return v.checkRiskReward(cand, in.CurrentPrice)
}

func (v *Validator) floorFor(kind oracle.AlertKind) float64 {
	switch kind {
	case oracle.KindRiskAlert:
		return v.cfg.MinRiskConfidence
	case oracle.KindTradeAlert:
		return v.cfg.MinSetupConfidence
	default:
		return v.cfg.MinConfidence
	}
}

func (v *Validator) checkConfidence(cand *oracle.AlertCandidate) ValidationResult {
	floor := v.floorFor(cand.Kind)
	if cand.Confidence < floor {
		return fail(RuleConfidence, "confidence %.2f below %.2f floor", cand.Confidence, floor)
	}
	return pass()
}

func (v *Validator) checkCooldown(in ValidationInput) ValidationResult {
	if v.cfg.Cooldown <= 0 || in.LastAcceptedAt.IsZero() {
		return pass()
	}
	elapsed := in.Now.Sub(in.LastAcceptedAt)
	if elapsed < v.cfg.Cooldown {
		remaining := v.cfg.Cooldown - elapsed
		return fail(RuleCooldown, "cooldown active, %.0fs remaining", remaining.Seconds())
	}
	return pass()
}

func (v *Validator) checkPosition(cand *oracle.AlertCandidate, exp Exposure) ValidationResult {
	switch cand.Direction {
	case DirectionLong:
		if exp.PositionSize < 0 {
			return fail(RulePosition, "conflicting short position open (size %.4f)", exp.PositionSize)
		}
		if exp.PendingSells > 0 {
			return fail(RulePosition, "%d sell orders pending against a long setup", exp.PendingSells)
		}
	case DirectionShort:
		if exp.PositionSize > 0 {
			return fail(RulePosition, "conflicting long position open (size %.4f)", exp.PositionSize)
		}
		if exp.PendingBuys > 0 {
			return fail(RulePosition, "%d buy orders pending against a short setup", exp.PendingBuys)
		}
	}
	return pass()
}

// firstTarget returns the first usable take-profit level.
func firstTarget(targets []float64) float64 {
	for _, t := range targets {
		if t > 0 {
			return t
		}
	}
	return 0
}

// entryPrice resolves the price the setup would fill at: the ideal entry if
// given, else the midpoint of the entry zone, else the current market price.
func entryPrice(exec *oracle.Execution, currentPrice float64) float64 {
	if exec.IdealEntry > 0 {
		return exec.IdealEntry
	}
	if len(exec.EntryZone) == 2 && exec.EntryZone[0] > 0 && exec.EntryZone[1] > 0 {
		return (exec.EntryZone[0] + exec.EntryZone[1]) / 2
	}
	return currentPrice
}

func (v *Validator) checkRiskReward(cand *oracle.AlertCandidate, currentPrice float64) ValidationResult {
	exec := cand.Execution
	if exec == nil || exec.StopLoss <= 0 {
		return pass()
	}
	target := firstTarget(exec.TakeProfits)
	if target <= 0 {
		return pass()
	}
	entry := entryPrice(exec, currentPrice)
	if entry <= 0 {
		return pass()
	}

	riskPct := math.Abs(entry-exec.StopLoss) / entry * 100
	if riskPct < v.cfg.MinStopDistancePct {
		return fail(RuleRiskReward, "stop too tight: %.2f%% risk below %.2f%% minimum",
			riskPct, v.cfg.MinStopDistancePct)
	}
	rewardPct := math.Abs(target-entry) / entry * 100
	if ratio := rewardPct / riskPct; ratio < v.cfg.MinRiskReward {
		return fail(RuleRiskReward, "risk/reward %.2f below %.2f minimum", ratio, v.cfg.MinRiskReward)
	}
	return pass()
}
