package nlu

import (
	"fmt"
	"strings"
)

// Prompt builds the instruction for models that answer in plain text. They
// must reply with a single JSON decision naming one of actions.
func Prompt(userName, assistantName string, actions []string, utterance string) string {
	quoted := make([]string, 0, len(actions)+1)
	for _, a := range actions {
		quoted = append(quoted, fmt.Sprintf("'%s'", a))
	}
	quoted = append(quoted, fmt.Sprintf("'%s'", ActionNone))

	var b strings.Builder
	b.WriteString("You are a voice assistant. Respond ONLY with a valid JSON object.\n\n")
	b.WriteString("Your response must include:\n")
	b.WriteString("- 'reply': a natural language response\n")
	b.WriteString("- 'action': one of:\n")
	b.WriteString("     " + strings.Join(quoted, ", ") + "\n")
	b.WriteString("- 'parameters': dictionary of needed data, or {} if none.\n\n")
	fmt.Fprintf(&b, "User name is '%s'. Assistant name is '%s'.\n", userName, assistantName)
	b.WriteString("Rules:\n")
	b.WriteString("- DO NOT include explanations or markdown.\n")
	b.WriteString("- ALWAYS return a single valid JSON object with double quotes.\n")
	fmt.Fprintf(&b, "User command: %s", utterance)
	return b.String()
}

// ToolPrompt builds the instruction for models with native tool calling.
func ToolPrompt(userName, assistantName, utterance string) string {
	return fmt.Sprintf(
		"You are a voice assistant. You can call tools if needed.\n\n"+
			"User name is '%s'. Assistant name is '%s'.\n"+
			"User command: %s",
		userName, assistantName, utterance,
	)
}
