package routing

import (
	"fmt"
	"strings"

	"switchboard/internal/domain"
)

const systemPromptHeader = `You route user requests to exactly one agent.
Pick the agent whose purpose best matches the request. Respect each agent's
"use when" and "do not use when" lists. Reply with a single JSON object:
{"agent_id": "<one of the ids below>", "confidence": <number between 0 and 1>, "reasoning": "<one sentence>"}
Use a low confidence when no agent is a clear fit.

Agents:
`

// buildMessages renders the classifier prompt for rc. Only the last
// contextMessages entries of the conversation are included.
func buildMessages(rc domain.RoutingContext, contextMessages int) []domain.Message {
	var sys strings.Builder
	sys.WriteString(systemPromptHeader)
	for _, a := range rc.AvailableAgents {
		fmt.Fprintf(&sys, "\n- id: %s\n  name: %s\n", a.ID, a.Name)
		if a.Description != "" {
			fmt.Fprintf(&sys, "  description: %s\n", a.Description)
		}
		if len(a.WhenToUse) > 0 {
			fmt.Fprintf(&sys, "  use when: %s\n", strings.Join(a.WhenToUse, "; "))
		}
		if len(a.WhenNotToUse) > 0 {
			fmt.Fprintf(&sys, "  do not use when: %s\n", strings.Join(a.WhenNotToUse, "; "))
		}
	}

	var user strings.Builder
	if recent := tail(rc.ConversationContext, contextMessages); len(recent) > 0 {
		user.WriteString("Recent conversation:\n")
		for _, m := range recent {
			fmt.Fprintf(&user, "- %s\n", m)
		}
		user.WriteString("\n")
	}
	fmt.Fprintf(&user, "Request: %s", rc.Query)

	return []domain.Message{
		{Role: domain.RoleSystem, Content: sys.String()},
		{Role: domain.RoleUser, Content: user.String()},
	}
}

func tail(s []string, n int) []string {
	if n <= 0 {
		return nil
	}
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
