// Package suggest holds the suggestion service: client transports that
// implement assist.Transport over HTTP, gRPC or the OpenAI API, and the
// server-side generator that prompts the model.
package suggest

import (
	"fmt"

	"github.com/ashureev/vulndash/internal/assist"
)

// CompletionSuffix is appended by the generator after the last model chunk.
const CompletionSuffix = "\n\n" + assist.DefaultCompletionMarker

const systemPrompt = "You are a security engineer who writes precise, minimal dependency upgrade fixes."

const promptTemplate = `Below is a Dependabot security alert. Please provide:

1) A concise code fix snippet
2) The exact file path to apply the fix
3) Any merge conflict resolution strategy if needed
4) Step-by-step implementation instructions

Alert Details:
- Vulnerability: %s
- Package: %s
- Severity: %s
- Patched Version: %s
- Apply Fix In: %s

Please provide a comprehensive but concise response with actionable steps.`

// BuildPrompt renders the user prompt for req.
func BuildPrompt(req assist.SuggestionRequest) string {
	return fmt.Sprintf(promptTemplate,
		req.Vulnerability, req.Package, req.Severity, req.PatchedIn, req.ApplyFixIn)
}
