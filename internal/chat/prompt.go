package chat

import "strings"

// HistoryWindow bounds the caller-supplied turns included in the
// prompt. The persisted transcript is unbounded; this only caps
// prompt size.
const HistoryWindow = 10

// NoContextMarker is injected when retrieval produced zero hits above
// threshold. The model is told context is absent explicitly, never
// handed a silently empty section.
const NoContextMarker = "NO RELEVANT INFORMATION FOUND."

// personaInstructions pin the assistant to the site owner's content.
const personaInstructions = `You are the assistant of a personal portfolio site. Answer questions about the site owner's projects, blog posts, profile, and work experience.

Rules:
- Answer only from the CONTEXT section below. If it does not contain the answer, say you do not have that information.
- Do not invent projects, employers, dates, or links.
- Answer in the language of the question.
- Keep answers concise.`

// BuildPrompt assembles the final model prompt from the fixed persona
// instructions, the trimmed history, the fused context blocks, and
// the user question.
func BuildPrompt(history []Turn, contextBlocks []string, question string) string {
	var b strings.Builder
	b.WriteString(personaInstructions)
	b.WriteString("\n\n")

	if trimmed := TrimHistory(history); len(trimmed) > 0 {
		b.WriteString("CONVERSATION SO FAR:\n")
		for _, t := range trimmed {
			b.WriteString(strings.ToUpper(t.Role))
			b.WriteString(": ")
			b.WriteString(t.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("CONTEXT:\n")
	if len(contextBlocks) == 0 {
		b.WriteString(NoContextMarker)
		b.WriteString("\n")
	} else {
		for i, block := range contextBlocks {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(block)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nQUESTION: ")
	b.WriteString(question)
	return b.String()
}

// TrimHistory keeps the most recent HistoryWindow turns.
func TrimHistory(history []Turn) []Turn {
	if len(history) <= HistoryWindow {
		return history
	}
	return history[len(history)-HistoryWindow:]
}
