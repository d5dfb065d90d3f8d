// Package generation provides a Gemini-backed implementation of the content
// generation client. Every call constrains the response to a fixed JSON
// schema so callers never parse free text.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/autoapply/autoapply/internal/core"
	"github.com/autoapply/autoapply/internal/domain/model"
	"google.golang.org/genai"
)

// DefaultModel is the generation model used when none is configured.
const DefaultModel = "gemini-2.5-flash"

// Options configures the Gemini generation client.
type Options struct {
	APIKey string        // Required unless Client is provided
	Model  string        // Optional: defaults to DefaultModel
	Client *genai.Client // Optional: injected client (useful for tests)
	Logger *slog.Logger  // Optional: structured logger
}

// Client implements core.GenerationClient on top of the Gemini API.
type Client struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

var _ core.GenerationClient = (*Client)(nil)

// NewClient creates a new Gemini generation client.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	client := opts.Client
	if client == nil {
		if opts.APIKey == "" {
			return nil, errors.New("api key is required")
		}
		var err error
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  opts.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
	}

	modelName := opts.Model
	if modelName == "" {
		modelName = DefaultModel
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		client: client,
		model:  modelName,
		logger: logger.With("component", "generation_client", "model", modelName),
	}, nil
}

// personalizationSchema constrains the personalize response shape.
var personalizationSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"resume_variant_used": {Type: genai.TypeString},
		"evidence_map": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"requirement": {Type: genai.TypeString},
					"evidence":    {Type: genai.TypeString},
					"confidence":  {Type: genai.TypeString, Enum: []string{"strong", "medium", "weak"}},
				},
				Required: []string{"requirement", "evidence", "confidence"},
			},
		},
		"answered_questions": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"question": {Type: genai.TypeString},
					"answer":   {Type: genai.TypeString},
				},
				Required: []string{"question", "answer"},
			},
		},
	},
	Required: []string{"resume_variant_used", "evidence_map"},
}

// groundingSchema constrains the grounding verdict response shape.
var groundingSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"is_grounded":         {Type: genai.TypeBoolean},
		"hallucination_risks": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"confidence_score":    {Type: genai.TypeInteger},
		"reasoning":           {Type: genai.TypeString},
	},
	Required: []string{"is_grounded", "hallucination_risks", "confidence_score"},
}

// skipExplanationSchema constrains the skip explanation response shape.
var skipExplanationSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"explanation": {Type: genai.TypeString},
	},
	Required: []string{"explanation"},
}

// PersonalizeApplication generates grounded application content for one job
// from the artifact pack.
func (c *Client) PersonalizeApplication(
	ctx context.Context,
	params core.PersonalizeParams,
) (*model.Personalization, error) {
	if params.Job == nil {
		return nil, errors.New("job posting is required")
	}

	prompt, err := buildPersonalizePrompt(params)
	if err != nil {
		return nil, err
	}

	var out model.Personalization
	if err := c.generateJSON(ctx, prompt, personalizationSchema, &out); err != nil {
		return nil, fmt.Errorf("personalize application: %w", err)
	}
	return &out, nil
}

// ValidateGrounding asks the model to judge whether generated content is
// supported by the artifact pack.
func (c *Client) ValidateGrounding(
	ctx context.Context,
	params core.GroundingParams,
) (*model.GroundingVerdict, error) {
	if params.Personalization == nil {
		return nil, errors.New("personalization is required")
	}

	prompt, err := buildGroundingPrompt(params)
	if err != nil {
		return nil, err
	}

	var out model.GroundingVerdict
	if err := c.generateJSON(ctx, prompt, groundingSchema, &out); err != nil {
		return nil, fmt.Errorf("validate grounding: %w", err)
	}
	return &out, nil
}

// ExplainSkip produces a one-sentence explanation of a skip decision.
func (c *Client) ExplainSkip(ctx context.Context, params core.SkipExplanationParams) (string, error) {
	prompt := buildSkipPrompt(params)

	var out struct {
		Explanation string `json:"explanation"`
	}
	if err := c.generateJSON(ctx, prompt, skipExplanationSchema, &out); err != nil {
		return "", fmt.Errorf("explain skip: %w", err)
	}
	return out.Explanation, nil
}

// generateJSON runs one schema-constrained generation and unmarshals the
// response into out.
func (c *Client) generateJSON(ctx context.Context, prompt string, schema *genai.Schema, out any) error {
	temperature := float32(0.2)
	config := &genai.GenerateContentConfig{
		Temperature:      &temperature,
		MaxOutputTokens:  4096,
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), config)
	if err != nil {
		return fmt.Errorf("generate content: %w", err)
	}
	if resp == nil {
		return errors.New("no response generated")
	}

	text := resp.Text()
	if text == "" {
		return errors.New("no text content in response")
	}

	if err := json.Unmarshal([]byte(text), out); err != nil {
		c.logger.Warn("model returned unparseable JSON", "error", err)
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func buildPersonalizePrompt(params core.PersonalizeParams) (string, error) {
	packJSON, err := json.Marshal(params.Pack)
	if err != nil {
		return "", fmt.Errorf("encode artifact pack: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are preparing a job application using only verified candidate artifacts.\n")
	b.WriteString("Map each job requirement to a single piece of evidence drawn verbatim from the\n")
	b.WriteString("artifact pack below. Never invent skills, employers, dates, or credentials.\n")
	b.WriteString("If no evidence exists for a requirement, tag it weak and cite the closest match.\n")
	b.WriteString("Pick the resume variant whose name best fits the job.\n\n")
	fmt.Fprintf(&b, "Job title: %s\nCompany: %s\nDescription: %s\n",
		params.Job.Title, params.Job.Company, params.Job.Description)
	fmt.Fprintf(&b, "Requirements: %s\n", strings.Join(params.Job.Requirements, "; "))
	fmt.Fprintf(&b, "\nArtifact pack:\n%s\n", packJSON)
	if len(params.Questions) > 0 {
		fmt.Fprintf(&b, "\nAnswer these application questions from the pack only:\n- %s\n",
			strings.Join(params.Questions, "\n- "))
	}
	return b.String(), nil
}

func buildGroundingPrompt(params core.GroundingParams) (string, error) {
	packJSON, err := json.Marshal(params.Pack)
	if err != nil {
		return "", fmt.Errorf("encode artifact pack: %w", err)
	}
	contentJSON, err := json.Marshal(params.Personalization)
	if err != nil {
		return "", fmt.Errorf("encode personalization: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are auditing generated job application content for fabrication.\n")
	b.WriteString("Every claim in the content must be supported by the artifact pack.\n")
	b.WriteString("List each unsupported claim as a hallucination risk and score your\n")
	b.WriteString("confidence that the content is fully grounded from 0 to 100.\n\n")
	if params.Job != nil {
		fmt.Fprintf(&b, "Job title: %s\nCompany: %s\n\n", params.Job.Title, params.Job.Company)
	}
	fmt.Fprintf(&b, "Artifact pack:\n%s\n\nGenerated content:\n%s\n", packJSON, contentJSON)
	return b.String(), nil
}

func buildSkipPrompt(params core.SkipExplanationParams) string {
	var b strings.Builder
	b.WriteString("Explain in one plain sentence, addressed to the candidate, why this job\n")
	b.WriteString("application was skipped. Do not apologise or speculate beyond the reason given.\n\n")
	if params.Job != nil {
		fmt.Fprintf(&b, "Job title: %s\nCompany: %s\n", params.Job.Title, params.Job.Company)
	}
	fmt.Fprintf(&b, "Skip reason: %s\n", params.Reason)
	if params.Detail != "" {
		fmt.Fprintf(&b, "Detail: %s\n", params.Detail)
	}
	return b.String()
}
