// services/verifier.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"quest-reward-system/models"

	"github.com/PaulSonOfLars/gotgbot/v2"
	openai "github.com/sashabaranov/go-openai"
)

// Verdict is advisory input to the SUBMITTED -> REWARDED transition.
type Verdict struct {
	IsValid           bool    `json:"is_valid"`
	Confidence        float64 `json:"confidence"`
	Reason            string  `json:"reason"`
	NeedsManualReview bool    `json:"needs_manual_review"`
}

type VerificationRequest struct {
	UserID     string
	TelegramID int64
	Quest      models.Quest
	Proof      string
	ProofURL   string
}

// ProofVerifier checks a submission with an external collaborator.
type ProofVerifier interface {
	Verify(ctx context.Context, req VerificationRequest) (*Verdict, error)
}

// ErrNoVerifier means nothing can check this quest type automatically.
var ErrNoVerifier = errors.New("no verifier for quest type")

// VerifierRouter dispatches by quest type.
type VerifierRouter struct {
	ByType   map[models.QuestType]ProofVerifier
	Fallback ProofVerifier
}

func (r *VerifierRouter) Verify(ctx context.Context, req VerificationRequest) (*Verdict, error) {
	if v, ok := r.ByType[req.Quest.Type]; ok && v != nil {
		return v.Verify(ctx, req)
	}
	if r.Fallback != nil {
		return r.Fallback.Verify(ctx, req)
	}
	return nil, ErrNoVerifier
}

// ChatMemberGetter is the part of the Telegram bot API membership checks use.
type ChatMemberGetter interface {
	GetChatMember(chatId int64, userId int64, opts *gotgbot.GetChatMemberOpts) (gotgbot.ChatMember, error)
}

// MembershipVerifier confirms join-channel and join-group quests by asking
// Telegram whether the user is a member of the quest's target chat.
type MembershipVerifier struct {
	Bot ChatMemberGetter
}

func (m *MembershipVerifier) Verify(ctx context.Context, req VerificationRequest) (*Verdict, error) {
	if req.TelegramID == 0 {
		return &Verdict{Reason: "user has no linked Telegram account", NeedsManualReview: true}, nil
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(req.Quest.TargetRef), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("quest %s target %q is not a chat id", req.Quest.ID, req.Quest.TargetRef)
	}
	member, err := m.Bot.GetChatMember(chatID, req.TelegramID, nil)
	if err != nil {
		return nil, fmt.Errorf("getChatMember: %w", err)
	}
	switch status := member.GetStatus(); status {
	case "creator", "administrator", "member", "restricted":
		return &Verdict{IsValid: true, Confidence: 1, Reason: "member (" + status + ")"}, nil
	default:
		return &Verdict{IsValid: false, Confidence: 1, Reason: "not a member (" + status + ")"}, nil
	}
}

const verifierPrompt = `You verify screenshots submitted as proof for a social task.
Task: %s (%s). Target: %s.
The screenshot must clearly show the account "%s" having completed the task.
Answer with a JSON object: {"is_valid": bool, "confidence": number between 0 and 1, "reason": string, "needs_manual_review": bool}.`

// OpenAIVerifier asks a vision model whether a proof screenshot shows the
// expected identity marker completing the task.
type OpenAIVerifier struct {
	Client *openai.Client
	Model  string
}

func NewOpenAIVerifier(apiKey, model string) *OpenAIVerifier {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIVerifier{Client: openai.NewClient(apiKey), Model: model}
}

func (o *OpenAIVerifier) Verify(ctx context.Context, req VerificationRequest) (*Verdict, error) {
	if req.ProofURL == "" {
		return &Verdict{Reason: "no proof image", NeedsManualReview: true}, nil
	}
	marker := req.Quest.ProofMarker
	if marker == "" {
		marker = req.Proof
	}
	prompt := fmt.Sprintf(verifierPrompt, req.Quest.Title, req.Quest.Type, req.Quest.TargetRef, marker)

	resp, err := o.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.Model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    req.ProofURL,
					Detail: openai.ImageURLDetailLow,
				}},
			},
		}},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		MaxTokens:      300,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty response")
	}

	var v Verdict
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return nil, fmt.Errorf("openai: unparseable verdict %q: %w", content, err)
	}
	return &v, nil
}
