package nlu

import (
	"encoding/json"
	"fmt"
	log "log/slog"
	"regexp"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"github.com/kaptinlin/jsonschema"
)

const (
	ActionNone = "none"

	ReplyInvalidJSON   = "Invalid JSON returned by the assistant."
	ReplyNotUnderstood = "Sorry, I didn't understand."
)

// Decision is what the model wants to say and do for one utterance.
type Decision struct {
	Reply      string         `json:"reply"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
}

// Fallback is returned when the model output holds no usable JSON.
func Fallback() Decision {
	return Decision{
		Reply:      ReplyInvalidJSON,
		Action:     ActionNone,
		Parameters: map[string]any{},
	}
}

const decisionSchema = `{
  "type": "object",
  "properties": {
    "reply":      {"type": "string"},
    "action":     {"type": "string"},
    "parameters": {"type": "object"}
  },
  "required": ["reply", "action", "parameters"]
}`

var (
	thinkRe     = regexp.MustCompile(`(?s)<think>.*?</think>`)
	fenceOpenRe = regexp.MustCompile("^```(?:json)?\\n?")
	fenceEndRe  = regexp.MustCompile("\\n?```$")
	objectRe    = regexp.MustCompile(`\{[\s\S]*\}`)

	validator *jsonschema.Schema
)

func init() {
	var err error
	validator, err = jsonschema.NewCompiler().Compile([]byte(decisionSchema))
	if err != nil {
		panic(fmt.Sprintf("compile decision schema: %v", err))
	}
}

// Extract pulls the decision object out of raw model text. Reasoning blocks
// and markdown fences are dropped, malformed JSON is repaired. Text with no
// object at all yields Fallback.
func Extract(text string) Decision {
	text = thinkRe.ReplaceAllString(text, "")
	text = fenceOpenRe.ReplaceAllString(strings.TrimSpace(text), "")
	text = fenceEndRe.ReplaceAllString(strings.TrimSpace(text), "")

	raw := objectRe.FindString(text)
	if raw == "" {
		return Fallback()
	}

	doc, err := parseObject(raw)
	if err != nil {
		log.Warn("Faulty JSON from model", "raw", raw, "err", err)
		return Fallback()
	}

	return fromDocument(doc)
}

func parseObject(raw string) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err == nil {
		return doc, nil
	}

	repaired, err := jsonrepair.RepairJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("repair: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal repaired: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("not an object")
	}
	// repair turns almost any braced prose into some object
	if !hasDecisionField(doc) {
		return nil, fmt.Errorf("repaired object has no decision fields")
	}
	return doc, nil
}

func hasDecisionField(doc map[string]any) bool {
	for _, k := range []string{"reply", "action", "parameters"} {
		if _, ok := doc[k]; ok {
			return true
		}
	}
	return false
}

func fromDocument(doc map[string]any) Decision {
	if res := validator.Validate(doc); !res.IsValid() {
		var msgs []string
		for field, e := range res.Errors {
			msgs = append(msgs, fmt.Sprintf("%s: %s", field, e.Message))
		}
		log.Debug("Decision does not match schema", "errors", strings.Join(msgs, "; "))
	}

	var d Decision
	if s, ok := doc["reply"].(string); ok {
		d.Reply = s
	}
	if s, ok := doc["action"].(string); ok {
		d.Action = s
	}
	if p, ok := doc["parameters"].(map[string]any); ok {
		d.Parameters = p
	}
	return d
}

// Normalize fills in what the model left out. known reports whether an
// action exists; anything it rejects becomes none. Required parameters are
// checked by the action itself, so parameterless actions survive here.
func Normalize(d Decision, known func(string) bool) Decision {
	if strings.TrimSpace(d.Reply) == "" {
		d.Reply = ReplyNotUnderstood
	}

	d.Action = strings.TrimSpace(d.Action)
	if d.Action == "" {
		d.Action = ActionNone
	}

	if d.Parameters == nil {
		d.Parameters = map[string]any{}
	}

	if d.Action != ActionNone && known != nil && !known(d.Action) {
		log.Warn("Model picked unknown action", "action", d.Action)
		d.Action = ActionNone
	}

	return d
}

// Analyze turns raw JSON-mode model output into a usable decision.
func Analyze(content string, known func(string) bool) Decision {
	return Normalize(Extract(content), known)
}

// Param renders parameter p as text; non-strings are JSON encoded.
func (d Decision) Param(p string) string {
	v, ok := d.Parameters[p]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
