package prompt

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/keshon/sable/internal/affect"
	"github.com/keshon/sable/internal/persona"
	st "github.com/keshon/sable/internal/storagetypes"
)

type wordCounter struct{}

func (wordCounter) CountTokens(s string) int { return len(strings.Fields(s)) }

func entries(counts ...int) []st.Entry {
	out := make([]st.Entry, len(counts))
	for i, c := range counts {
		out[i] = st.Entry{
			MessageID:  fmt.Sprintf("m%d", i),
			AuthorName: "bob",
			Role:       st.RoleUser,
			Text:       fmt.Sprintf("message %d", i),
			TokenCount: c,
		}
	}
	return out
}

// header "be nice" (2) + marker (2) + reserved 6 = 10 tokens of overhead.
func newAssembler(budget int) *Assembler {
	return &Assembler{Budget: budget, Reserved: 6, Counter: wordCounter{}}
}

func TestAssembleKeepsNewestThatFit(t *testing.T) {
	es := entries(50, 40, 30, 20, 10)
	got := newAssembler(130).Assemble("be nice", es)
	if len(got.Included) != 3 {
		t.Fatalf("included %d entries, want 3", len(got.Included))
	}
	wantOrder := []string{"m2", "m1", "m0"}
	for i, id := range wantOrder {
		if got.Included[i].MessageID != id {
			t.Fatalf("included[%d] = %s, want %s", i, got.Included[i].MessageID, id)
		}
	}
	if !got.Truncated || got.TokensUsed != 130 {
		t.Fatalf("truncated=%v used=%d", got.Truncated, got.TokensUsed)
	}
	if !strings.HasSuffix(got.Prompt, "<bob> message 0\n"+AssistantTag) {
		t.Fatalf("newest entry should sit next to the marker:\n%s", got.Prompt)
	}

	if got := newAssembler(129).Assemble("be nice", es); len(got.Included) != 2 {
		t.Fatalf("budget 129 included %d, want 2", len(got.Included))
	}
}

func TestAssembleStopsAtFirstOverflow(t *testing.T) {
	// The 5-token entry would fit after the 100-token one is skipped, but
	// assembly never skips over an entry.
	got := newAssembler(40).Assemble("be nice", entries(20, 100, 5))
	if len(got.Included) != 1 || got.Included[0].MessageID != "m0" {
		t.Fatalf("included %+v", got.Included)
	}
}

func TestAssembleNewestTooLarge(t *testing.T) {
	got := newAssembler(59).Assemble("be nice", entries(50, 1))
	if len(got.Included) != 0 || !got.Truncated || got.HeaderOverflow {
		t.Fatalf("unexpected assembly %+v", got)
	}
	if got.Prompt != "be nice\n"+AssistantTag {
		t.Fatalf("prompt = %q", got.Prompt)
	}
}

func TestAssembleHeaderOverflow(t *testing.T) {
	got := newAssembler(9).Assemble("be nice", entries(1))
	if !got.HeaderOverflow || len(got.Included) != 0 {
		t.Fatalf("expected header overflow, got %+v", got)
	}
}

func TestAssembleHeadersTrimsToFit(t *testing.T) {
	headers := []string{"be nice and remember bob likes chess", "be nice and remember", "be nice"}
	cases := []struct {
		budget, trimmed, included int
		overflow                  bool
	}{
		{20, 0, 1, false},
		{19, 1, 1, false},
		{14, 1, 0, false},
		{9, 2, 0, true},
	}
	for _, c := range cases {
		a := newAssembler(c.budget)
		got := a.AssembleHeaders(headers, entries(5))
		if got.HeaderTrimmed != c.trimmed || len(got.Included) != c.included || got.HeaderOverflow != c.overflow {
			t.Errorf("budget %d: trimmed=%d included=%d overflow=%v", c.budget, got.HeaderTrimmed, len(got.Included), got.HeaderOverflow)
		}
		if rendered := (wordCounter{}).CountTokens(got.Prompt) + a.Reserved; rendered > c.budget || rendered != got.TokensUsed {
			t.Errorf("budget %d: rendered %d used %d", c.budget, rendered, got.TokensUsed)
		}
	}
	if got := newAssembler(9).AssembleHeaders(headers, nil); got.Prompt != "be\n"+AssistantTag {
		t.Fatalf("cut prompt = %q", got.Prompt)
	}
}

func TestAssembleNeverExceedsBudget(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for trial := 0; trial < 200; trial++ {
		n := rng.Intn(20)
		es := make([]st.Entry, n)
		for i := range es {
			words := make([]string, 1+rng.Intn(30))
			for j := range words {
				words[j] = "w"
			}
			es[i] = st.Entry{AuthorName: "a", Text: strings.Join(words, " ")}
		}
		budget := 9 + rng.Intn(200)
		a := newAssembler(budget)
		got := a.AssembleHeaders([]string{"be nice to everyone here", "be nice"}, es)
		rendered := wordCounter{}.CountTokens(got.Prompt) + a.Reserved
		if rendered != got.TokensUsed || rendered > budget {
			t.Fatalf("trial %d: rendered %d used %d budget %d", trial, rendered, got.TokensUsed, budget)
		}
	}
}

func TestRenderLine(t *testing.T) {
	e := st.Entry{Role: st.RoleAssistant, AuthorName: "Sable", Text: " hello "}
	if got := RenderLine(e); got != "### assistant: <Sable> hello" {
		t.Fatalf("RenderLine = %q", got)
	}
	e = st.Entry{Role: st.RoleUser, Text: "hi"}
	if got := RenderLine(e); got != "### user: hi" {
		t.Fatalf("RenderLine = %q", got)
	}
}

func TestBuildInstruction(t *testing.T) {
	agent := persona.NewCategories()
	agent.Add(persona.Like, "cats", "jazz")
	agent.Add(persona.Avoidance, "politics")
	speaker := persona.NewCategories()
	speaker.Add(persona.Passion, "chess")
	speaker.Add(persona.Fact, "nurse")

	got := BuildInstruction(InstructionInput{
		Template:    "You are {name}.",
		AgentName:   "Sable",
		Moods:       []affect.Mood{affect.Joyful, affect.Excited, affect.Calm},
		Agent:       agent,
		SpeakerName: "Bob",
		Speaker:     speaker,
	})
	want := strings.Join([]string{
		"### instruction: You are Sable.",
		"- Your current mood should be: joyful, excited, calm",
		"- You like: cats, jazz",
		"- You should avoid discussing: politics",
		"- You know Bob is passionate about: chess",
		"- You know about Bob: nurse",
	}, "\n")
	if got != want {
		t.Fatalf("BuildInstruction =\n%s\nwant\n%s", got, want)
	}
}

func TestInstructionVariants(t *testing.T) {
	speaker := persona.NewCategories()
	speaker.Add(persona.Passion, "chess")
	speaker.Add(persona.Fact, "nurse")
	in := InstructionInput{
		Template:    "You are {name}.",
		AgentName:   "Sable",
		Moods:       []affect.Mood{affect.Calm},
		SpeakerName: "Bob",
		Speaker:     speaker,
	}
	got := InstructionVariants(in)
	if len(got) != 4 || got[0] != BuildInstruction(in) {
		t.Fatalf("variants = %q", got)
	}
	if strings.Contains(got[1], "nurse") || !strings.Contains(got[1], "chess") {
		t.Fatalf("second variant should drop the last memory line: %q", got[1])
	}
	if got[3] != "### instruction: You are Sable." {
		t.Fatalf("bare variant = %q", got[3])
	}
}
