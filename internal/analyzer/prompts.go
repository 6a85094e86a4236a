package analyzer

import (
	"fmt"
	"strings"

	"github.com/signalcore/evidence-engine/internal/model"
)

const systemPrompt = `You review vendor documentation for a technical evaluation.

Given page text, a vendor and one evaluation requirement, find statements on the page that show whether the vendor meets the requirement. For each one return:
- claim: one sentence stating what the vendor supports, in your own words
- snippet: the supporting text copied exactly from the page
- strength: "strong" if the page states it directly and specifically, "moderate" if it is implied or partial, "weak" if it is only hinted at
- reasoning: one sentence on why the snippet supports the claim

Rules:
- Only use what the page says. Do not rely on outside knowledge of the vendor.
- Prefer a few precise items over many vague ones.
- Marketing language without specifics is at most "weak".
- When nothing on the page is relevant, return an empty evidence array.

Respond with a single JSON object of the form {"evidence": [...]} and nothing else.`

// evidenceSchema describes the reply the live analyzer accepts.
const evidenceSchema = `{
  "type": "object",
  "required": ["evidence"],
  "properties": {
    "evidence": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["claim", "snippet", "strength", "reasoning"],
        "additionalProperties": false,
        "properties": {
          "claim": {"type": "string", "minLength": 1},
          "snippet": {"type": "string"},
          "strength": {"type": "string", "enum": ["strong", "moderate", "weak"]},
          "reasoning": {"type": "string"}
        }
      }
    }
  }
}`

// buildUserPrompt renders the per-page request.
func buildUserPrompt(pageText, vendorName string, req model.Requirement) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Vendor: %s\n", vendorName)
	fmt.Fprintf(&sb, "Requirement: %s\n", req.Name)
	if req.Description != "" {
		fmt.Fprintf(&sb, "Requirement detail: %s\n", req.Description)
	}
	sb.WriteString("\nPage text:\n<page>\n")
	sb.WriteString(pageText)
	sb.WriteString("\n</page>\n\n")
	sb.WriteString("List the evidence on this page for the requirement as JSON. Return {\"evidence\": []} if there is none.")
	return sb.String()
}
