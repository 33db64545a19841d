package services

import (
	"strings"
	"testing"

	"github.com/learningmaiyo/ancestral-echo/models"
)

func TestRankedKnowledgeBase_Empty(t *testing.T) {
	if got := RankedKnowledgeBase(nil, "tell me about the farm"); got != "" {
		t.Errorf("expected empty knowledge base, got %q", got)
	}
}

func TestRankedKnowledgeBase_RelevantStoryFirst(t *testing.T) {
	stories := []models.Story{
		{
			Title:    "Learning to drive",
			Content:  "The old truck story.",
			Keywords: models.StringList{"truck", "driving"},
			Themes:   models.StringList{"independence"},
		},
		{
			Title:    "Summers on the farm",
			Content:  "Haying season every July.",
			Keywords: models.StringList{"farm", "harvest"},
			Themes:   models.StringList{"hard work"},
		},
	}

	kb := RankedKnowledgeBase(stories, "What was life on the farm like?")

	farmIdx := strings.Index(kb, "Summers on the farm")
	driveIdx := strings.Index(kb, "Learning to drive")
	if farmIdx == -1 || driveIdx == -1 {
		t.Fatalf("expected both stories in knowledge base, got:\n%s", kb)
	}
	if farmIdx > driveIdx {
		t.Errorf("expected the farm story ranked before the driving story")
	}
}

func TestRankedKnowledgeBase_TiesPreferNewerStories(t *testing.T) {
	stories := []models.Story{
		{Title: "Old story", Content: "first recorded"},
		{Title: "New story", Content: "recorded later"},
	}

	// No matching terms, so both score zero and the newer one should lead.
	kb := RankedKnowledgeBase(stories, "hello")

	if strings.Index(kb, "New story") > strings.Index(kb, "Old story") {
		t.Errorf("expected newer story first on score ties, got:\n%s", kb)
	}
}

func TestRankedKnowledgeBase_RespectsCharBudget(t *testing.T) {
	long := strings.Repeat("a very long memory ", 400) // ~7600 chars each
	stories := []models.Story{
		{Title: "One", Content: long},
		{Title: "Two", Content: long},
		{Title: "Three", Content: long},
	}

	kb := RankedKnowledgeBase(stories, "memory")

	if len(kb) > knowledgeCharBudget+len(long)+200 {
		t.Errorf("knowledge base far exceeds budget: %d chars", len(kb))
	}
	if !strings.Contains(kb, long) {
		t.Error("expected at least one full story even when over budget")
	}
	if count := strings.Count(kb, "\n\n---\n\n"); count > 1 {
		t.Errorf("expected at most two stories within budget, got %d separators", count)
	}
}

func TestStoryScore(t *testing.T) {
	story := models.Story{
		Title:    "The fishing trip",
		Keywords: models.StringList{"fishing", "lake"},
		Themes:   models.StringList{"patience"},
	}

	tests := []struct {
		name    string
		message string
		want    int
	}{
		{"keyword match", "do you remember fishing?", 4}, // keyword 3 + title word 1
		{"theme match", "you taught me patience", 2},
		{"title word match", "that trip we took", 1},
		{"no match", "how are you", 0},
		{"short words ignored", "the and for", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := storyScore(story, messageTerms(tt.message))
			if got != tt.want {
				t.Errorf("storyScore(%q) = %d, want %d", tt.message, got, tt.want)
			}
		})
	}
}

func TestReferencedStoryIDs(t *testing.T) {
	stories := []models.Story{
		{ID: "s1", Title: "The Great Flood of 1965"},
		{ID: "s2", Title: "Meeting your grandfather at the county dance"},
		{ID: "s3", Title: "First car"},
	}

	// Titles match case-insensitively on their first 20 characters.
	reply := "I remember the great flood of 1965 like it was yesterday. " +
		"That was the year before meeting your grandfa... well, your grandfather."

	ids := ReferencedStoryIDs(stories, reply)

	if len(ids) != 2 {
		t.Fatalf("expected 2 referenced stories, got %v", ids)
	}
	if ids[0] != "s1" || ids[1] != "s2" {
		t.Errorf("expected [s1 s2], got %v", ids)
	}
}

func TestReferencedStoryIDs_NoMatches(t *testing.T) {
	stories := []models.Story{{ID: "s1", Title: "The Great Flood of 1965"}}

	if ids := ReferencedStoryIDs(stories, "let's talk about something else"); ids != nil {
		t.Errorf("expected no references, got %v", ids)
	}
}
