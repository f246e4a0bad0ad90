package prompt

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/bryanwahyu/casegate/internal/domain/archive"
	"github.com/bryanwahyu/casegate/internal/domain/cases"
)

// MaxLevel is the highest severity level the model may report
const MaxLevel = 4

// GetSystemPrompt provides strict directions and schema for JSON output.
func GetSystemPrompt() string {
	return `You are a clinical triage assistant reviewing one skin photo. You must produce one valid JSON object only (no markdown, no commentary) that follows the schema below. Do not include code fences.

Requirements:
- Output must be a single JSON object.
- ai_level is an integer severity from 0 (no concern) to 4 (urgent referral).
- ai_prob is your confidence in ai_level, a number between 0 and 1.
- ai_suggestion is one or two short sentences of care advice for a caregiver.
- If the photo is unusable, return ai_level 0, ai_prob 0 and say so in ai_suggestion.

Schema (example with empty values):
{
  "ai_level": 0,
  "ai_prob": 0.0,
  "ai_suggestion": "<string>"
}`
}

// GetUserPrompt builds the text part sent alongside the image.
func GetUserPrompt(ext string) string {
	return fmt.Sprintf("Assess the attached %s image and respond with the JSON per schema.", strings.TrimPrefix(ext, "."))
}

type reply struct {
	Level      *float64 `json:"ai_level"`
	Prob       *float64 `json:"ai_prob"`
	Suggestion string   `json:"ai_suggestion"`
}

// ParseAssessment reads the model reply. Code fences are tolerated, the
// level must be a whole number within [0, MaxLevel] and prob within [0, 1].
func ParseAssessment(content string) (cases.Assessment, error) {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	var r reply
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return cases.Assessment{}, fmt.Errorf("%w: %v", archive.ErrBadAssessment, err)
	}
	if r.Level == nil || r.Prob == nil {
		return cases.Assessment{}, fmt.Errorf("%w: ai_level and ai_prob are required", archive.ErrBadAssessment)
	}
	lvl := *r.Level
	if lvl != math.Trunc(lvl) || lvl < 0 || lvl > MaxLevel {
		return cases.Assessment{}, fmt.Errorf("%w: ai_level %v out of range", archive.ErrBadAssessment, lvl)
	}
	if math.IsNaN(*r.Prob) || *r.Prob < 0 || *r.Prob > 1 {
		return cases.Assessment{}, fmt.Errorf("%w: ai_prob %v out of range", archive.ErrBadAssessment, *r.Prob)
	}
	return cases.Assessment{
		Level:      int(lvl),
		Prob:       *r.Prob,
		Suggestion: strings.TrimSpace(r.Suggestion),
	}, nil
}
