package services

import (
	"sort"
	"strings"

	"github.com/learningmaiyo/ancestral-echo/models"
)

// knowledgeCharBudget bounds how much story text goes into a chat prompt.
// The full knowledge base can outgrow the model context once a member has
// many recordings.
const knowledgeCharBudget = 12000

// RankedKnowledgeBase renders the stories most relevant to the user's
// message, newest first among ties, until the character budget is spent.
// With few stories this degenerates to the full knowledge base.
func RankedKnowledgeBase(stories []models.Story, userMessage string) string {
	if len(stories) == 0 {
		return ""
	}

	terms := messageTerms(userMessage)

	type scored struct {
		story models.Story
		score int
		idx   int
	}
	ranked := make([]scored, 0, len(stories))
	for i, s := range stories {
		ranked = append(ranked, scored{story: s, score: storyScore(s, terms), idx: i})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		// Later stories are newer; prefer them on ties.
		return ranked[i].idx > ranked[j].idx
	})

	var b strings.Builder
	for _, r := range ranked {
		entry := BuildKnowledgeBase([]models.Story{r.story})
		if b.Len() > 0 && b.Len()+len(entry) > knowledgeCharBudget {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n\n---\n\n")
		}
		b.WriteString(entry)
	}
	return b.String()
}

func messageTerms(message string) map[string]bool {
	terms := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(message)) {
		word = strings.Trim(word, ".,!?\"'()")
		if len(word) >= 4 {
			terms[word] = true
		}
	}
	return terms
}

func storyScore(s models.Story, terms map[string]bool) int {
	if len(terms) == 0 {
		return 0
	}
	score := 0
	for _, kw := range s.Keywords {
		if terms[strings.ToLower(kw)] {
			score += 3
		}
	}
	for _, th := range s.Themes {
		if terms[strings.ToLower(th)] {
			score += 2
		}
	}
	for _, word := range strings.Fields(strings.ToLower(s.Title)) {
		if terms[strings.Trim(word, ".,!?\"'()")] {
			score++
		}
	}
	return score
}

// ReferencedStoryIDs finds stories whose titles appear in the reply, using a
// case-insensitive match on the first 20 characters of each title.
func ReferencedStoryIDs(stories []models.Story, reply string) []string {
	lowerReply := strings.ToLower(reply)
	var ids []string
	for _, story := range stories {
		title := strings.ToLower(story.Title)
		if runes := []rune(title); len(runes) > 20 {
			title = string(runes[:20])
		}
		if title != "" && strings.Contains(lowerReply, title) {
			ids = append(ids, story.ID)
		}
	}
	return ids
}
