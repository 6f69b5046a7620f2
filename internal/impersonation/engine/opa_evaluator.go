package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"tenant-auth-policy/internal/platform/rbac"
)

const violationsQuery = "data.tap.impersonation.violations"

// DefaultPolicy is the built-in impersonation policy. Roles and permissions in the input are normalized
// before evaluation.
const DefaultPolicy = `package tap.impersonation

default elevated := false

elevated if "super_admin" in input.actor.roles

elevated if "impersonate_users" in input.actor.permissions

violations contains "already_impersonating" if input.actor.impersonating

violations contains "missing_permission" if not elevated

violations contains "self" if input.actor.id == input.target.id

violations contains "protected_target" if input.target.protected

violations contains "insufficient_privilege" if input.target.priority >= input.actor.priority

violations contains "target_inactive" if not input.target.active

violations contains "target_already_impersonated" if input.target.impersonated
`

// order fixes the reporting order of known violations; unknown codes from custom policies sort last.
var order = []string{
	ViolationAlreadyImpersonating,
	ViolationMissingPermission,
	ViolationSelf,
	ViolationProtectedTarget,
	ViolationInsufficientPrivilege,
	ViolationTargetInactive,
	ViolationTargetAlreadyImpersonated,
}

// OPAEvaluator evaluates impersonation requests with OPA Rego.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles modules, or DefaultPolicy when none are given. Every module must live in package
// tap.impersonation and define a violations set.
func NewOPAEvaluator(ctx context.Context, modules ...string) (*OPAEvaluator, error) {
	if len(modules) == 0 {
		modules = []string{DefaultPolicy}
	}
	files := make(map[string]string, len(modules))
	for i, m := range modules {
		files[fmt.Sprintf("impersonation_%d.rego", i)] = m
	}
	compiler, err := ast.CompileModules(files)
	if err != nil {
		return nil, fmt.Errorf("compile impersonation policy: %w", err)
	}
	q, err := rego.New(rego.Query(violationsQuery), rego.Compiler(compiler)).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare impersonation policy: %w", err)
	}
	return &OPAEvaluator{query: q}, nil
}

// HealthCheck evaluates a request that must be denied and reports an error if the policy does not deny it.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	v, err := e.Violations(ctx, Input{Actor: Actor{ID: "a"}, Target: Target{ID: "a"}})
	if err != nil {
		return err
	}
	if len(v) == 0 {
		return fmt.Errorf("impersonation policy allowed self impersonation")
	}
	return nil
}

// Violations evaluates in. Roles and permissions are normalized first.
func (e *OPAEvaluator) Violations(ctx context.Context, in Input) ([]string, error) {
	in.Actor.Roles = normalizeRoles(in.Actor.Roles)
	in.Actor.Permissions = normalizePermissions(in.Actor.Permissions)
	in.Target.Roles = normalizeRoles(in.Target.Roles)

	doc, err := toDocument(in)
	if err != nil {
		return nil, err
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return nil, fmt.Errorf("eval impersonation policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, fmt.Errorf("impersonation policy returned no result")
	}
	raw, ok := rs[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("impersonation policy violations: unexpected type %T", rs[0].Expressions[0].Value)
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	slices.SortStableFunc(out, func(a, b string) int { return rank(a) - rank(b) })
	return out, nil
}

func rank(code string) int {
	if i := slices.Index(order, code); i >= 0 {
		return i
	}
	return len(order)
}

// toDocument round-trips in through JSON so the policy sees the json tag names.
func toDocument(in Input) (map[string]interface{}, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, rbac.NormalizeRole(r))
	}
	return out
}

func normalizePermissions(perms []string) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, rbac.NormalizeRole(p))
	}
	return out
}
