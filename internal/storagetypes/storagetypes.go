package storagetypes

import (
	"time"

	"github.com/keshon/sable/internal/persona"
)

// AgentSubject is the subject id under which the agent's own persona
// transients are stored.
const AgentSubject = "agent"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Entry struct {
	MessageID   string    `json:"message_id"`
	ChannelID   string    `json:"channel_id"`
	AuthorID    string    `json:"author_id"`
	AuthorName  string    `json:"author_name"`
	Role        Role      `json:"role"`
	Text        string    `json:"text"`
	TokenCount  int       `json:"token_count"` // tokens of the rendered prompt line
	SentAt      time.Time `json:"sent_at"`
	Reactions   []string  `json:"reactions,omitempty"`
	Attachments []string  `json:"attachments,omitempty"`
}

type Transient struct {
	ID         string           `json:"id"`
	SubjectID  string           `json:"subject_id"`
	Category   persona.Category `json:"category"`
	Text       string           `json:"text"`
	Confidence int              `json:"confidence"`
	SourceID   string           `json:"source_id"` // message that last confirmed it
	InsertedAt time.Time        `json:"inserted_at"`
}

type AffectRecord struct {
	Valence   float64   `json:"valence"`
	Arousal   float64   `json:"arousal"`
	Dominance float64   `json:"dominance"`
	Mood      string    `json:"mood"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Group collects transients into per-category phrase lists. Facts below
// minFactConfidence are left out.
func Group(ts []Transient, minFactConfidence int) persona.Categories {
	out := persona.NewCategories()
	for _, t := range ts {
		if t.Category == persona.Fact && t.Confidence < minFactConfidence {
			continue
		}
		out.Add(t.Category, t.Text)
	}
	return out
}

// Transients flattens extracted categories into rows for one subject.
func Transients(subjectID, sourceID string, cats persona.Categories, at time.Time) []Transient {
	var out []Transient
	for _, c := range persona.All {
		for _, text := range cats[c] {
			out = append(out, Transient{
				SubjectID:  subjectID,
				Category:   c,
				Text:       text,
				Confidence: 1,
				SourceID:   sourceID,
				InsertedAt: at,
			})
		}
	}
	return out
}
