package claude

import (
	"fmt"
	"strings"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/ports"
)

const systemPrompt = `You are a knowledgeable tax compliance assistant specializing in US federal tax law.
Your role is to help users understand tax regulations based on official IRS publications.

Guidelines:
1. Only answer based on the provided context passages
2. If the context doesn't contain relevant information, clearly state that
3. Cite the passages you used with bracketed numbers matching their labels, e.g. [1] or [2]
4. Use clear, accessible language while remaining accurate
5. For complex topics, break down the explanation into steps
6. Always remind users to consult a tax professional for their specific situation`

const historyWindow = 6

// buildMessages renders retrieved passages as numbered sources so the model
// can cite them by bracketed ordinal. Prior turns precede the current query as
// alternating user/assistant messages.
func buildMessages(req ports.GenerationRequest) []message {
	history := req.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	messages := make([]message, 0, 2*len(history)+1)
	for _, turn := range history {
		messages = append(messages,
			message{Role: "user", Content: turn.Query},
			message{Role: "assistant", Content: turn.Answer},
		)
	}
	messages = append(messages, message{Role: "user", Content: buildUserPrompt(req)})
	return messages
}

func buildUserPrompt(req ports.GenerationRequest) string {
	if len(req.Passages) == 0 {
		return fmt.Sprintf(`No relevant passages were found in the document corpus.

User question: %s

Tell the user the available documents do not cover this question, and suggest rephrasing or uploading a relevant document.`, req.Query)
	}

	var contextBuilder strings.Builder
	for idx, passage := range req.Passages {
		pageInfo := ""
		if passage.Page > 0 {
			pageInfo = fmt.Sprintf(" (Page %d)", passage.Page)
		}
		contextBuilder.WriteString(fmt.Sprintf("[Source %d: %s%s]\n%s\n\n", idx+1, passage.Source, pageInfo, passage.Text))
	}

	return fmt.Sprintf(`Context from tax documents:

%sUser question: %s

Provide a helpful, accurate response based on the context above. Cite sources by their bracketed number.`, contextBuilder.String(), req.Query)
}
