package content

import (
	"context"
	"strings"
	"testing"
)

func TestGenerateRendersBuiltInFlows(t *testing.T) {
	t.Parallel()

	gen, err := NewTemplateGenerator(nil)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}

	ack, err := gen.Generate(context.Background(), FlowCriticalAck, map[string]string{"keyword": "EMERGENCY"})
	if err != nil {
		t.Fatalf("generate ack: %v", err)
	}
	if !strings.Contains(ack, "EMERGENCY") {
		t.Fatalf("expected keyword in ack, got %q", ack)
	}

	followup, err := gen.Generate(context.Background(), FlowTimeoutFollowup, nil)
	if err != nil {
		t.Fatalf("generate followup: %v", err)
	}
	if followup == "" {
		t.Fatal("expected non-empty followup")
	}
}

func TestGenerateUnknownFlow(t *testing.T) {
	t.Parallel()

	gen, err := NewTemplateGenerator(nil)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	if _, err := gen.Generate(context.Background(), "nope", nil); err == nil {
		t.Fatal("expected unknown flow error")
	}
}

func TestNewTemplateGeneratorAppliesOverrides(t *testing.T) {
	t.Parallel()

	gen, err := NewTemplateGenerator(map[string]string{
		FlowTimeoutFollowup: "custom nudge",
	})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	got, err := gen.Generate(context.Background(), FlowTimeoutFollowup, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "custom nudge" {
		t.Fatalf("expected override text, got %q", got)
	}

	if _, err := NewTemplateGenerator(map[string]string{"bad": "{{."}); err == nil {
		t.Fatal("expected parse error for malformed override")
	}
}
