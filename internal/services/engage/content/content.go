// Package content defines the response-generation boundary the engine
// consumes. The engine only needs generated text back; templating internals
// and AI-flow routing live behind this interface in the product layer.
package content

import (
	"context"
	"fmt"
	"strings"
	"text/template"
)

// Flow names the engine asks for.
const (
	// FlowCriticalAck acknowledges receipt of a critical message.
	FlowCriticalAck = "critical_ack"
	// FlowTimeoutFollowup nudges a participant whose reply window elapsed.
	FlowTimeoutFollowup = "timeout_followup"
)

// Generator produces response text for a named flow.
type Generator interface {
	Generate(ctx context.Context, flow string, vars map[string]string) (string, error)
}

// TemplateGenerator renders flows from plain text templates. It is the
// default provider; richer providers are selected by configuration.
type TemplateGenerator struct {
	templates map[string]*template.Template
}

// defaultFlows are the built-in response templates.
var defaultFlows = map[string]string{
	FlowCriticalAck:     "We received your {{.keyword}} message and an organizer is being looped in.",
	FlowTimeoutFollowup: "We didn't hear back in time. Reply when you can and we'll pick up where we left off.",
}

// NewTemplateGenerator parses the built-in flows plus any overrides.
func NewTemplateGenerator(overrides map[string]string) (*TemplateGenerator, error) {
	parsed := make(map[string]*template.Template, len(defaultFlows)+len(overrides))
	for name, text := range defaultFlows {
		tmpl, err := template.New(name).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse flow %s: %w", name, err)
		}
		parsed[name] = tmpl
	}
	for name, text := range overrides {
		tmpl, err := template.New(name).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse flow override %s: %w", name, err)
		}
		parsed[name] = tmpl
	}
	return &TemplateGenerator{templates: parsed}, nil
}

// Generate renders the named flow with the provided variables.
func (g *TemplateGenerator) Generate(ctx context.Context, flow string, vars map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tmpl, ok := g.templates[flow]
	if !ok {
		return "", fmt.Errorf("unknown content flow %q", flow)
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, vars); err != nil {
		return "", fmt.Errorf("render flow %s: %w", flow, err)
	}
	return out.String(), nil
}
