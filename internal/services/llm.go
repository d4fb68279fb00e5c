package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/melodymind/internal/shared"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// personaPrompt frames every free-form reply. Replies stay short because the
// chat surface is a messaging app, not a document.
const personaPrompt = `You are MelodyMind, a friendly and knowledgeable music assistant in a chat app.
You help people discover music, talk about songs and artists, and keep them company.
Keep replies warm and conversational, at most a few sentences. Use at most one emoji.
When the user seems to want a specific song, suggest they ask you to find or download it.`

const classifierPrompt = `You classify chat messages for a music assistant.
Decide whether the message asks to find, play or download a specific piece of music.
Respond with JSON only: {"is_music_request": true/false, "query": "<artist and title, or empty>"}.
Greetings, opinions and general chatter are not requests.`

const moodPrompt = `Read the user's message and answer with exactly one lowercase word naming their mood:
happy, sad, anxious, excited, calm, angry, energetic, relaxed, focused, nostalgic or neutral.
Answer neutral when unsure.`

const analyzerPrompt = `You analyze a user's conversation and listening history for music taste.
Respond with JSON only: {"genres": [...], "artists": [...], "mood": "<one word>"}.
List at most 2 genres and at most 2 artists, the ones the evidence supports best.`

// OpenAIService implements [Assistant] against any OpenAI-compatible
// completion API.
type OpenAIService struct {
	apiKey          string
	baseURL         string
	chatModel       string
	classifierModel string
	httpClient      *http.Client
	logger          *log.Logger
}

var _ Assistant = (*OpenAIService)(nil)

// NewOpenAIService creates an assistant client from config.
func NewOpenAIService(cfg shared.OpenAIConfig, logger *log.Logger) (*OpenAIService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai api_key", shared.ErrMissingCredentials)
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = "gpt-4-turbo"
	}
	classifierModel := cfg.ClassifierModel
	if classifierModel == "" {
		classifierModel = chatModel
	}

	return &OpenAIService{
		apiKey:          cfg.APIKey,
		baseURL:         baseURL,
		chatModel:       chatModel,
		classifierModel: classifierModel,
		httpClient:      &http.Client{Timeout: 60 * time.Second},
		logger:          logger,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

func jsonMode(req *completionRequest) *completionRequest {
	req.ResponseFormat = &struct {
		Type string `json:"type"`
	}{Type: "json_object"}
	return req
}

type completionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// complete runs one chat completion and returns the first choice's content.
func (o *OpenAIService) complete(ctx context.Context, req *completionRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: completion status %d", shared.ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: completion status %d", shared.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: completion status %d", shared.ErrUnclassified, resp.StatusCode)
	}

	var body completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}
	if len(body.Choices) == 0 {
		return "", fmt.Errorf("%w: completion returned no choices", shared.ErrUnclassified)
	}

	return strings.TrimSpace(body.Choices[0].Message.Content), nil
}

// Reply produces a conversational answer grounded in the session context.
func (o *OpenAIService) Reply(ctx context.Context, userText string, chatCtx ChatContext) (string, error) {
	messages := []chatMessage{{Role: "system", Content: personaPrompt}}

	if summary := summarizeContext(chatCtx); summary != "" {
		messages = append(messages, chatMessage{Role: "system", Content: summary})
	}
	for _, turn := range chatCtx.History {
		messages = append(messages, chatMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userText})

	return o.complete(ctx, &completionRequest{
		Model:       o.chatModel,
		Messages:    messages,
		MaxTokens:   150,
		Temperature: 0.75,
	})
}

func summarizeContext(chatCtx ChatContext) string {
	var parts []string
	if chatCtx.Mood != "" && chatCtx.Mood != "neutral" {
		parts = append(parts, fmt.Sprintf("The user is feeling %s.", chatCtx.Mood))
	}
	if len(chatCtx.Genres) > 0 {
		parts = append(parts, fmt.Sprintf("They like %s.", strings.Join(chatCtx.Genres, ", ")))
	}
	if len(chatCtx.RecentArtists) > 0 {
		parts = append(parts, fmt.Sprintf("They recently listened to %s.", strings.Join(chatCtx.RecentArtists, ", ")))
	}
	return strings.Join(parts, " ")
}

// ClassifyMusicRequest asks the classifier model whether text is a concrete
// music request. Model output is untrusted; anything malformed classifies as
// not-a-request.
func (o *OpenAIService) ClassifyMusicRequest(ctx context.Context, text string) (MusicRequest, error) {
	raw, err := o.complete(ctx, jsonMode(&completionRequest{
		Model: o.classifierModel,
		Messages: []chatMessage{
			{Role: "system", Content: classifierPrompt},
			{Role: "user", Content: text},
		},
		MaxTokens:   80,
		Temperature: 0.1,
	}))
	if err != nil {
		return MusicRequest{}, err
	}

	var parsed struct {
		IsMusicRequest bool   `json:"is_music_request"`
		Query          string `json:"query"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		o.logger.Warn("classifier returned malformed JSON", "output", shared.Truncate(raw, 120))
		return MusicRequest{}, nil
	}

	query := strings.TrimSpace(parsed.Query)
	if !parsed.IsMusicRequest || query == "" {
		return MusicRequest{}, nil
	}
	return MusicRequest{IsRequest: true, Query: query}, nil
}

// DetectMood estimates the user's mood from a single message. The raw answer
// is returned for the caller to normalize onto the closed mood set.
func (o *OpenAIService) DetectMood(ctx context.Context, text string) (string, error) {
	return o.complete(ctx, &completionRequest{
		Model: o.classifierModel,
		Messages: []chatMessage{
			{Role: "system", Content: moodPrompt},
			{Role: "user", Content: text},
		},
		MaxTokens:   5,
		Temperature: 0.2,
	})
}

// Analyze extracts genre and artist signals from the conversation and
// listening history for recommendation seeding.
func (o *OpenAIService) Analyze(ctx context.Context, conversation, listening, mood string, genres []string) (Analysis, error) {
	var sb strings.Builder
	if mood != "" {
		fmt.Fprintf(&sb, "Stated mood: %s\n", mood)
	}
	if len(genres) > 0 {
		fmt.Fprintf(&sb, "Stated genres: %s\n", strings.Join(genres, ", "))
	}
	if listening != "" {
		fmt.Fprintf(&sb, "Listening history:\n%s\n", listening)
	}
	if conversation != "" {
		fmt.Fprintf(&sb, "Conversation:\n%s\n", conversation)
	}

	raw, err := o.complete(ctx, jsonMode(&completionRequest{
		Model: o.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: analyzerPrompt},
			{Role: "user", Content: sb.String()},
		},
		MaxTokens:   120,
		Temperature: 0.1,
	}))
	if err != nil {
		return Analysis{}, err
	}

	var parsed struct {
		Genres  []string `json:"genres"`
		Artists []string `json:"artists"`
		Mood    string   `json:"mood"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		o.logger.Warn("analyzer returned malformed JSON", "output", shared.Truncate(raw, 120))
		return Analysis{}, nil
	}

	if len(parsed.Genres) > 2 {
		parsed.Genres = parsed.Genres[:2]
	}
	if len(parsed.Artists) > 2 {
		parsed.Artists = parsed.Artists[:2]
	}
	return Analysis{Genres: parsed.Genres, Artists: parsed.Artists, Mood: parsed.Mood}, nil
}

// Transcribe converts a voice note to text through the transcription
// endpoint.
func (o *OpenAIService) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build transcription form: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("failed to buffer audio: %w", err)
	}
	if err := mw.WriteField("model", "whisper-1"); err != nil {
		return "", fmt.Errorf("failed to build transcription form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to build transcription form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: transcription status %d", shared.ErrUnavailable, resp.StatusCode)
	}

	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode transcription response: %w", err)
	}
	return strings.TrimSpace(body.Text), nil
}
