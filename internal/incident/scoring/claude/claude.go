// Package claude implements incident.Scorer with a one-shot Claude call.
// The engine never depends on it: with no scorer configured, static default
// severities apply.
package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/venkata-adulla/edi-control-tower/internal/incident"
)

const responseTokens = 64

const systemPrompt = `You score logistics incidents for a control tower.
Given an incident trigger, answer with exactly one word: low, medium, high, or critical.
Consider operational impact: repeated SLA misses and carrier exceptions rate higher than one-off sequencing noise.`

// Scorer asks Claude for a severity hint on newly opened incidents.
type Scorer struct {
	client anthropic.Client
	model  string
}

// New creates a Scorer with the given API key and model name.
func New(apiKey, model string) *Scorer {
	return &Scorer{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Score returns a severity hint for the trigger. Errors leave the caller on
// its static severity.
func (s *Scorer) Score(ctx context.Context, c *incident.Context) (incident.Severity, error) {
	prompt := fmt.Sprintf(`Incident trigger:
Kind: %s
Partner: %s
Shipment: %s
Detail: %s
Overdue: %s

Severity?`, c.Kind, c.PartnerID, c.ShipmentRef, c.Detail, c.Overdue)

	msg, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: responseTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude score: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
		}
	}
	return parseSeverity(text)
}

func parseSeverity(text string) (incident.Severity, error) {
	switch sev := incident.Severity(strings.ToLower(strings.TrimSpace(text))); sev {
	case incident.SeverityLow, incident.SeverityMedium, incident.SeverityHigh, incident.SeverityCritical:
		return sev, nil
	default:
		return "", fmt.Errorf("unrecognized severity %q", text)
	}
}
