package university

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/example/campus-rides/internal/models"
)

const (
	DefaultGroqBaseURL = "https://api.groq.com/openai/v1"
	DefaultGroqModel   = "llama3-8b-8192"
)

var (
	jsonObject = regexp.MustCompile(`(?s)\{.*\}`)
	jsonArray  = regexp.MustCompile(`(?s)\[.*\]`)
)

// OpenAIDetector asks a chat completion model about email domains. Any
// OpenAI-compatible endpoint works; the default is Groq.
type OpenAIDetector struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

func NewOpenAIDetector(apiKey, baseURL, model string, logger *slog.Logger) (*OpenAIDetector, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GROQ_API_KEY not set")
	}
	if baseURL == "" {
		baseURL = DefaultGroqBaseURL
	}
	if model == "" {
		model = DefaultGroqModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	return &OpenAIDetector{client: openai.NewClientWithConfig(cfg), model: model, logger: logger}, nil
}

const detectSystem = "You are an expert on universities and educational institutions worldwide. Provide accurate, factual information about universities based on their email domains."

const detectPrompt = `Identify the university that owns the email domain %q.

Respond with one JSON object and nothing else:
{
  "valid": true when the domain belongs to a university,
  "university_name": "full official name",
  "short_name": "common abbreviation or short name",
  "city": "city",
  "state": "state or province",
  "country": "country",
  "coordinates": {"latitude": decimal, "longitude": decimal}
}

When the domain is not a university domain respond with
{"valid": false, "error": "Domain not recognized as a valid university"}`

const nearbySystem = "You are an expert on university geography and student travel patterns. Provide practical suggestions for nearby universities where students might share rides."

const nearbyPrompt = `A student attends %s in %s, %s. List 3 to 6 nearby universities or colleges whose students could realistically share local rides with them.

Only include institutions within 10 miles, closest first. If fewer than 3 exist, up to 2 more within 15 miles are acceptable. Community colleges count.

Respond with a JSON array and nothing else:
[{"name": "full name", "short_name": "abbreviation", "city": "city", "distance_miles": number, "relationship": "why students would share rides"}]`

type detectPayload struct {
	Valid       bool   `json:"valid"`
	Name        string `json:"university_name"`
	ShortName   string `json:"short_name"`
	City        string `json:"city"`
	State       string `json:"state"`
	Country     string `json:"country"`
	Error       string `json:"error"`
	Coordinates *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"coordinates"`
}

func (d *OpenAIDetector) Detect(ctx context.Context, domain string) (Detection, error) {
	content, err := d.complete(ctx, detectSystem, fmt.Sprintf(detectPrompt, domain), 0.1, 1000)
	if err != nil {
		return Detection{}, err
	}
	raw := jsonObject.FindString(content)
	if raw == "" {
		return Detection{}, fmt.Errorf("detector returned no JSON object")
	}
	var p detectPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Detection{}, fmt.Errorf("decode detection: %w", err)
	}
	det := Detection{
		Valid:     p.Valid,
		Name:      strings.TrimSpace(p.Name),
		ShortName: strings.TrimSpace(p.ShortName),
		City:      strings.TrimSpace(p.City),
		State:     strings.TrimSpace(p.State),
		Country:   strings.TrimSpace(p.Country),
		Error:     p.Error,
	}
	if p.Coordinates != nil {
		det.Coordinates = &models.Coord{Lat: p.Coordinates.Latitude, Lon: p.Coordinates.Longitude}
	}
	return det, nil
}

func (d *OpenAIDetector) Nearby(ctx context.Context, det Detection) ([]models.NearbyUniversity, error) {
	content, err := d.complete(ctx, nearbySystem, fmt.Sprintf(nearbyPrompt, det.Name, det.City, det.State), 0.3, 800)
	if err != nil {
		return nil, err
	}
	raw := jsonArray.FindString(content)
	if raw == "" {
		return nil, fmt.Errorf("detector returned no JSON array")
	}
	var list []models.NearbyUniversity
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("decode nearby universities: %w", err)
	}
	return list, nil
}

func (d *OpenAIDetector) complete(ctx context.Context, system, prompt string, temperature float32, maxTokens int) (string, error) {
	d.logger.Debug("querying university detector", "model", d.model)
	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("detector completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("detector returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
