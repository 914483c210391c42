package rules

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"

	"github.com/Sentinel-Gate/cellgate/internal/config"
	"github.com/Sentinel-Gate/cellgate/pkg/cell"
	"github.com/Sentinel-Gate/cellgate/pkg/ratelimit"
)

// maxKeyValueLen bounds the raw client-supplied part of a counter key.
// Longer values (oversized headers) are replaced by their xxhash so the
// keyspace stays bounded regardless of what clients send.
const maxKeyValueLen = 64

type selectorKind int

const (
	selectIP selectorKind = iota
	selectStatic
	selectHeader
)

// keySelector extracts the counter key value from a request.
type keySelector struct {
	kind  selectorKind
	value string // static value or header name
}

// parseKeySelector parses a key_by field. The config validator accepts the
// same grammar, so errors here indicate a rule built outside LoadConfig.
func parseKeySelector(keyBy string) (keySelector, error) {
	if keyBy == "ip" {
		return keySelector{kind: selectIP}, nil
	}
	if v, ok := strings.CutPrefix(keyBy, "static:"); ok && v != "" {
		return keySelector{kind: selectStatic, value: v}, nil
	}
	if name, ok := strings.CutPrefix(keyBy, "header:"); ok && name != "" {
		return keySelector{kind: selectHeader, value: name}, nil
	}
	return keySelector{}, fmt.Errorf("invalid key_by %q", keyBy)
}

// compiledRule is a rule with its match expression compiled and its policy
// resolved. Built once at startup, read-only afterwards.
type compiledRule struct {
	name     string
	resource string
	match    cel.Program
	selector keySelector
	policy   cell.Policy
}

// Provider classifies HTTP requests against an ordered rule list.
// Rules are evaluated in order; the first whose match expression holds
// determines the counter key and policy. Requests matching no rule are
// reported as unruled.
//
// Provider is safe for concurrent use: all state is immutable after New.
type Provider struct {
	rules  []compiledRule
	logger *slog.Logger
}

var _ ratelimit.RuleProvider[*http.Request] = (*Provider)(nil)

// New compiles the configured rules into a Provider.
// Rule order is preserved; a compile failure names the offending rule.
func New(cfgRules []config.RuleConfig, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := NewRequestEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create request environment: %w", err)
	}

	compiled := make([]compiledRule, 0, len(cfgRules))
	for i, rc := range cfgRules {
		selector, err := parseKeySelector(rc.KeyBy)
		if err != nil {
			return nil, fmt.Errorf("rules[%d] (%s): %w", i, rc.Name, err)
		}

		cr := compiledRule{
			name:     rc.Name,
			resource: rc.Resource,
			selector: selector,
			policy:   rc.Policy(),
		}
		if cr.resource == "" {
			cr.resource = rc.Name
		}
		if err := cr.policy.Validate(); err != nil {
			return nil, fmt.Errorf("rules[%d] (%s): %w", i, rc.Name, err)
		}

		// An empty match expression matches every request.
		if rc.Match != "" {
			prg, err := compileMatch(env, rc.Match)
			if err != nil {
				return nil, fmt.Errorf("rules[%d] (%s): %w", i, rc.Name, err)
			}
			cr.match = prg
		}

		compiled = append(compiled, cr)
	}

	return &Provider{rules: compiled, logger: logger}, nil
}

// Len reports how many rules the provider evaluates per request.
func (p *Provider) Len() int {
	return len(p.rules)
}

// ProvideRule classifies the request. It returns the rule of the first
// matching entry, (nil, nil) when no entry matches, and an error when the
// request cannot be classified (evaluation failure or a missing header
// named by the matching rule's selector).
func (p *Provider) ProvideRule(req *http.Request) (*ratelimit.Rule, error) {
	var activation map[string]interface{}

	for _, cr := range p.rules {
		if cr.match != nil {
			if activation == nil {
				activation = buildActivation(req)
			}
			matched, err := p.evaluate(cr, activation)
			if err != nil {
				return nil, &ratelimit.ProvideRuleError{
					Detail: fmt.Sprintf("rule %s: %v", cr.name, err),
				}
			}
			if !matched {
				continue
			}
		}

		value, err := cr.selector.extract(req)
		if err != nil {
			return nil, err
		}

		rule := ratelimit.NewRule(ratelimit.StringKey(counterKey(cr.resource, value)), cr.policy).
			WithResource(cr.resource)
		return &rule, nil
	}

	return nil, nil
}

// evaluate runs the compiled match program with a bounded context.
func (p *Provider) evaluate(cr compiledRule, activation map[string]interface{}) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := cr.match.ContextEval(ctx, activation)
	if err != nil {
		p.logger.Warn("rule evaluation failed", "rule", cr.name, "error", err)
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	matched, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}
	return matched, nil
}

// extract resolves the counter key value for a matched rule.
func (s keySelector) extract(req *http.Request) (string, error) {
	switch s.kind {
	case selectIP:
		return clientIP(req), nil
	case selectStatic:
		return s.value, nil
	case selectHeader:
		v := req.Header.Get(s.value)
		if v == "" {
			return "", &ratelimit.ProvideRuleError{
				Detail: fmt.Sprintf("missing %s header", s.value),
			}
		}
		return v, nil
	default:
		return "", &ratelimit.ProvideRuleError{Detail: "unknown key selector"}
	}
}

// counterKey builds the counter store key for a resource and client value.
// Oversized values are replaced by their xxhash digest.
func counterKey(resource, value string) string {
	if len(value) > maxKeyValueLen {
		value = fmt.Sprintf("%016x", xxhash.Sum64String(value))
	}
	return resource + ":" + value
}

// buildActivation maps the request onto the CEL variables declared in
// NewRequestEnvironment.
func buildActivation(req *http.Request) map[string]interface{} {
	headers := make(map[string]string, len(req.Header))
	for name, values := range req.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	return map[string]interface{}{
		"method": req.Method,
		"path":   req.URL.Path,
		"host":   req.Host,
		"ip":     clientIP(req),
		"header": headers,
	}
}

// clientIP returns the client IP for keying. The leftmost X-Forwarded-For
// entry wins when present; otherwise the connection's remote address is
// used with its port stripped.
func clientIP(req *http.Request) string {
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		return host
	}
	return req.RemoteAddr
}
