package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/learningmaiyo/ancestral-echo/models"
)

const (
	ChatModel = openai.GPT4oMini

	// MaxHistoryMessages bounds how much conversation history goes into the
	// prompt context.
	MaxHistoryMessages = 10

	maxChatRetries = 3
)

// ExtractedStory is one discrete story pulled out of a transcription.
type ExtractedStory struct {
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	Category      string   `json:"category"`
	EmotionalTone string   `json:"emotional_tone"`
	Keywords      []string `json:"keywords"`
	Themes        []string `json:"themes"`
}

// PersonaProfile is the derived personality and conversation style for a
// family member.
type PersonaProfile struct {
	PersonalityTraits models.JSONMap `json:"personality_traits"`
	ConversationStyle models.JSONMap `json:"conversation_style"`
}

// OpenAIService handles story extraction, persona profiling, and persona chat
// through the OpenAI chat completions API.
type OpenAIService struct {
	client *openai.Client
}

func NewOpenAIService(apiKey string) *OpenAIService {
	return &OpenAIService{client: openai.NewClient(apiKey)}
}

// Client exposes the underlying client for the Whisper transcriber.
func (o *OpenAIService) Client() *openai.Client {
	return o.client
}

var validCategories = map[string]bool{
	models.StoryCategoryChildhood:     true,
	models.StoryCategoryCareer:        true,
	models.StoryCategoryFamily:        true,
	models.StoryCategoryWisdom:        true,
	models.StoryCategoryHistorical:    true,
	models.StoryCategoryHobbies:       true,
	models.StoryCategoryTravel:        true,
	models.StoryCategoryAchievements:  true,
	models.StoryCategoryChallenges:    true,
	models.StoryCategoryRelationships: true,
}

// ExtractStories pulls discrete stories out of a transcription. A response
// that is not valid JSON yields an empty list, not an error: a transcription
// with no extractable stories is a normal outcome.
func (o *OpenAIService) ExtractStories(ctx context.Context, member *models.FamilyMember, recordingContext, transcription string) ([]ExtractedStory, error) {
	bio := member.Bio
	if bio == "" {
		bio = "No bio available"
	}
	recCtx := recordingContext
	if recCtx == "" {
		recCtx = "General conversation"
	}

	prompt := fmt.Sprintf(`You are an AI family historian. Analyze this family recording transcription and extract meaningful stories.

Family Member: %s
Relationship: %s
Context: %s
Bio: %s

Transcription:
"%s"

Please extract and format distinct stories from this transcription. For each story, provide:
1. A clear, descriptive title
2. The full story content (clean, readable prose)
3. Category (childhood, career, family, wisdom, historical, hobbies, travel, achievements, challenges, relationships)
4. Emotional tone (happy, sad, nostalgic, funny, serious, proud, grateful, other)
5. Keywords (3-7 relevant keywords)
6. Themes (2-4 main themes)

Return ONLY a valid JSON array with this structure:
[
  {
    "title": "Story title",
    "content": "Full story content in readable prose",
    "category": "category_name",
    "emotional_tone": "tone",
    "keywords": ["keyword1", "keyword2", "keyword3"],
    "themes": ["theme1", "theme2"]
  }
]

If no clear stories can be extracted, return an empty array [].`,
		member.Name, member.Relationship, recCtx, bio, transcription)

	content, err := o.complete(ctx, openai.ChatCompletionRequest{
		Model: ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a family historian AI that extracts and formats family stories. Always return valid JSON."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.7,
		MaxTokens:   2000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract stories: %w", err)
	}

	var stories []ExtractedStory
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &stories); err != nil {
		slog.Error("Failed to parse story extraction response as JSON", "error", err, "family_member_id", member.ID)
		return []ExtractedStory{}, nil
	}

	for i := range stories {
		if !validCategories[stories[i].Category] {
			stories[i].Category = models.StoryCategoryFamily
		}
	}

	slog.Info("Extracted stories from transcription", "family_member_id", member.ID, "count", len(stories))
	return stories, nil
}

// DerivePersona builds a personality profile from every story known for the
// family member. Profile parse failures are non-fatal and yield an empty
// profile.
func (o *OpenAIService) DerivePersona(ctx context.Context, member *models.FamilyMember, knowledgeBase string) (*PersonaProfile, error) {
	prompt := fmt.Sprintf(`Based on these family stories about %s, create a personality profile and conversation style.

Stories:
%s

Return ONLY valid JSON with this structure:
{
  "personality_traits": {
    "speaking_style": "description of how they speak",
    "values": ["core values they demonstrate"],
    "interests": ["main interests and passions"],
    "characteristics": ["personality characteristics"],
    "life_philosophy": "their approach to life"
  },
  "conversation_style": {
    "greeting_style": "how they typically greet people",
    "storytelling_approach": "how they tell stories",
    "humor_style": "their sense of humor",
    "advice_giving": "how they give advice",
    "emotional_expression": "how they express emotions"
  }
}`, member.Name, knowledgeBase)

	profile := &PersonaProfile{
		PersonalityTraits: models.JSONMap{},
		ConversationStyle: models.JSONMap{},
	}

	content, err := o.complete(ctx, openai.ChatCompletionRequest{
		Model: ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are an AI that analyzes family stories to create personality profiles. Always return valid JSON."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.8,
		MaxTokens:   1500,
	})
	if err != nil {
		slog.Error("Personality generation failed", "error", err, "family_member_id", member.ID)
		return profile, nil
	}

	if err := json.Unmarshal([]byte(stripCodeFence(content)), profile); err != nil {
		slog.Error("Failed to parse personality response as JSON", "error", err, "family_member_id", member.ID)
		return &PersonaProfile{
			PersonalityTraits: models.JSONMap{},
			ConversationStyle: models.JSONMap{},
		}, nil
	}
	if profile.PersonalityTraits == nil {
		profile.PersonalityTraits = models.JSONMap{}
	}
	if profile.ConversationStyle == nil {
		profile.ConversationStyle = models.JSONMap{}
	}

	slog.Info("Derived persona profile", "family_member_id", member.ID)
	return profile, nil
}

// BuildKnowledgeBase renders stories into the persona knowledge base format.
func BuildKnowledgeBase(stories []models.Story) string {
	entries := make([]string, 0, len(stories))
	for _, s := range stories {
		entries = append(entries, fmt.Sprintf("Title: %s\nContent: %s\nTone: %s\nThemes: %s",
			s.Title, s.Content, s.EmotionalTone, strings.Join(s.Themes, ", ")))
	}
	return strings.Join(entries, "\n\n---\n\n")
}

// PersonaReply generates a blocking chat reply in the persona's voice.
func (o *OpenAIService) PersonaReply(ctx context.Context, persona *models.Persona, knowledgeBase string, history []models.ConversationMessage, userMessage string) (string, error) {
	messages := buildPersonaMessages(persona, knowledgeBase, history, userMessage)

	content, err := o.complete(ctx, openai.ChatCompletionRequest{
		Model:       ChatModel,
		Messages:    messages,
		Temperature: 0.8,
		MaxTokens:   400,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate persona reply: %w", err)
	}

	slog.Info("Generated persona reply", "persona_id", persona.ID, "response_length", len(content))
	return content, nil
}

// StreamPersonaReply streams a persona reply token by token through emit and
// returns the assembled full text.
func (o *OpenAIService) StreamPersonaReply(ctx context.Context, persona *models.Persona, knowledgeBase string, history []models.ConversationMessage, userMessage string, emit func(delta string) error) (string, error) {
	messages := buildPersonaMessages(persona, knowledgeBase, history, userMessage)

	stream, err := o.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       ChatModel,
		Messages:    messages,
		Temperature: 0.8,
		MaxTokens:   400,
		Stream:      true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to open completion stream: %w", err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return full.String(), fmt.Errorf("completion stream failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if err := emit(delta); err != nil {
			return full.String(), err
		}
	}

	slog.Info("Streamed persona reply", "persona_id", persona.ID, "response_length", full.Len())
	return full.String(), nil
}

// SummarizeTitle produces a short conversation title from the opening
// message.
func (o *OpenAIService) SummarizeTitle(ctx context.Context, firstMessage string) (string, error) {
	content, err := o.complete(ctx, openai.ChatCompletionRequest{
		Model: ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "Summarize the user's message as a short conversation title of at most six words. Return only the title."},
			{Role: openai.ChatMessageRoleUser, Content: firstMessage},
		},
		Temperature: 0.3,
		MaxTokens:   20,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate title: %w", err)
	}
	return strings.Trim(strings.TrimSpace(content), `"`), nil
}

func buildPersonaMessages(persona *models.Persona, knowledgeBase string, history []models.ConversationMessage, userMessage string) []openai.ChatCompletionMessage {
	name := persona.FamilyMember.Name
	relationship := persona.FamilyMember.Relationship
	if name == "" {
		name = "a beloved family member"
	}

	traits, _ := json.Marshal(persona.PersonalityTraits)
	style, _ := json.Marshal(persona.ConversationStyle)

	system := fmt.Sprintf(`You are %s, speaking with a family member who loves you. You are sharing memories and wisdom from your life.

Your relationship to them: %s

Your personality: %s

Your conversation style: %s

Your memories and stories:
%s

Guidelines:
- Speak in first person as %s, warmly and naturally
- Draw on your stories when relevant to the conversation
- Stay in character and never mention being an AI
- If you don't remember something, say so gently rather than inventing facts
- Keep responses conversational, a few sentences at most`,
		name, relationship, string(traits), string(style), knowledgeBase, name)

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}

	start := 0
	if len(history) > MaxHistoryMessages {
		start = len(history) - MaxHistoryMessages
	}
	for _, msg := range history[start:] {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		role := openai.ChatMessageRoleAssistant
		if msg.IsUserMessage {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}

	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userMessage})
	return messages
}

// complete runs a chat completion with bounded retries on transient errors.
func (o *OpenAIService) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	var lastErr error
	for attempt := 0; attempt < maxChatRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(CalculateBackoff(500*time.Millisecond, attempt)):
			}
		}

		resp, err := o.client.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = err
			slog.Warn("Chat completion attempt failed", "attempt", attempt+1, "error", err)
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("chat completion returned no choices")
			continue
		}
		return resp.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("chat completion failed after %d attempts: %w", maxChatRetries, lastErr)
}

// stripCodeFence removes a markdown code fence the model sometimes wraps
// around JSON output.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
