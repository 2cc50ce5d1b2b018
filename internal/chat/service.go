package chat

import (
	"context"
	"errors"
	"log"
	"regexp"
	"strings"

	"github.com/codecollab-dev/syncengine/internal/durable"
	"github.com/codecollab-dev/syncengine/internal/stats"
	"github.com/codecollab-dev/syncengine/internal/types"
)

const (
	BotName   = "CodeBot"
	BotAvatar = "/ai-avatar.png"

	// botFallback is posted when the assistant cannot produce a reply.
	botFallback = "Sorry, I couldn't process that request. Please try again."

	historyLimit = 100
)

var ErrEmptyMessage = errors.New("chat: empty message")

// mentionRe captures an assistant prompt: everything after the first @.
var mentionRe = regexp.MustCompile(`@(.+)`)

// Responder produces assistant replies to mentioned prompts.
type Responder interface {
	ChatResponse(ctx context.Context, message string) (string, error)
}

// Service is the workspace chat: durable message history plus an
// optional assistant that answers @-mentions. The sender's message is
// always stored as typed; the assistant reply follows as a second
// message authored by the bot pseudo-user.
type Service struct {
	log       *log.Logger
	store     durable.Store
	provider  stats.StatsProvider
	responder Responder
}

// NewService creates a chat service. responder may be nil, in which
// case @-mentions are stored like any other message.
func NewService(logger *log.Logger, store durable.Store, provider stats.StatsProvider, responder Responder) *Service {
	return &Service{
		log:       logger,
		store:     store,
		provider:  provider,
		responder: responder,
	}
}

// Send stores the sender's message and, when it mentions the assistant,
// posts the assistant's reply afterwards. Assistant failures never fail
// the send; a fallback reply is posted instead.
func (s *Service) Send(ctx context.Context, workspaceId string, sender types.Identity, text string) (types.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.Message{}, ErrEmptyMessage
	}

	msg, err := s.store.CreateMessage(types.Message{
		WorkspaceId: workspaceId,
		UserId:      sender.UserId,
		Name:        sender.DisplayName,
		ImageURL:    sender.PhotoURL,
		Text:        text,
	})
	if err != nil {
		return types.Message{}, err
	}
	s.provider.Incr(stats.ChatMessages)

	if prompt := mentionPrompt(text); prompt != "" && s.responder != nil {
		s.respond(ctx, workspaceId, prompt)
	}

	return msg, nil
}

func (s *Service) respond(ctx context.Context, workspaceId, prompt string) {
	reply, err := s.responder.ChatResponse(ctx, prompt)
	if err != nil {
		s.log.Printf("chat: assistant reply: %v", err)
		reply = botFallback
	}

	if _, err := s.store.CreateMessage(types.Message{
		WorkspaceId: workspaceId,
		UserId:      types.BotUserId,
		Name:        BotName,
		ImageURL:    BotAvatar,
		Text:        "\U0001F916 " + reply,
	}); err != nil {
		s.log.Printf("chat: store assistant reply: %v", err)
		return
	}
	s.provider.Incr(stats.ChatMessages)
}

// History returns the most recent messages in the workspace, oldest
// first.
func (s *Service) History(ctx context.Context, workspaceId string) ([]types.Message, error) {
	return s.store.ListMessages(workspaceId, historyLimit)
}

// Subscribe returns the current history and registers fn for every
// message stored after that.
func (s *Service) Subscribe(ctx context.Context, workspaceId string, fn func(types.Message)) ([]types.Message, func(), error) {
	unsubscribe := s.store.SubscribeMessages(workspaceId, fn)

	history, err := s.store.ListMessages(workspaceId, historyLimit)
	if err != nil {
		unsubscribe()
		return nil, nil, err
	}

	return history, unsubscribe, nil
}

// Clear deletes the workspace's entire chat history.
func (s *Service) Clear(ctx context.Context, workspaceId string) error {
	return s.store.ClearMessages(workspaceId)
}

func mentionPrompt(text string) string {
	m := mentionRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
