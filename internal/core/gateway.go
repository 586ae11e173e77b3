package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"gwi.com/classroom-messaging/internal/config"
	"gwi.com/classroom-messaging/internal/metrics"
	"gwi.com/classroom-messaging/internal/realtime"
	"gwi.com/classroom-messaging/internal/store"
	"gwi.com/classroom-messaging/internal/utils"
)

const (
	DefaultGenerationTimeout = 60 * time.Second
	DefaultPageLimit         = 50
	MaxPageLimit             = 100
)

// Admitter is the rate limiter as seen by the gateway.
type Admitter interface {
	Admit(key string) error
}

type GatewayDeps struct {
	Store     store.MessageStore
	Publisher realtime.Publisher
	Moderator Moderator
	Router    *Router
	Limiter   Admitter
	Assembler *ContextAssembler
	Metrics   *metrics.Collector
	Logger    *zap.Logger
	// GenerationTimeout bounds the assistant branch, which is detached from the request's cancellation.
	GenerationTimeout time.Duration
}

// Gateway accepts messages, stores them, fans them out and runs the optional assistant reply.
type Gateway struct {
	store     store.MessageStore
	publisher realtime.Publisher
	moderator Moderator
	router    *Router
	limiter   Admitter
	assembler *ContextAssembler
	access    *ThreadAccess
	metrics   *metrics.Collector
	logger    *zap.Logger
	timeout   time.Duration
}

func NewGateway(d GatewayDeps) *Gateway {
	g := &Gateway{
		store:     d.Store,
		publisher: d.Publisher,
		moderator: d.Moderator,
		router:    d.Router,
		limiter:   d.Limiter,
		assembler: d.Assembler,
		metrics:   d.Metrics,
		logger:    d.Logger,
		timeout:   d.GenerationTimeout,
	}
	if g.publisher == nil {
		g.publisher = realtime.NopPublisher{}
	}
	if g.moderator == nil {
		g.moderator = DisabledModerator{}
	}
	if g.router == nil {
		g.router = NewRouter(nil, config.ModelConfig{})
	}
	if g.assembler == nil {
		g.assembler = NewContextAssembler(d.Store, DefaultHistoryLimit, 0, 0)
	}
	if g.metrics == nil {
		g.metrics = metrics.NewCollector()
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	if g.timeout <= 0 {
		g.timeout = DefaultGenerationTimeout
	}
	g.access = NewThreadAccess(g.store, g.logger)
	return g
}

type SendInput struct {
	From        string
	To          string
	ThreadID    string
	Type        store.MessageType
	Content     string
	Attachments []store.Attachment
	// AIMode names a persona; when set, an assistant reply follows the message.
	AIMode string
}

// SendMessage validates, sanitizes and moderates the message, stores it and publishes it.
// When AIMode is set an assistant reply is generated afterwards; failures there are logged and
// counted but never change the result of the send.
func (g *Gateway) SendMessage(ctx context.Context, in SendInput) (*store.Message, error) {
	start := time.Now()
	msg, persona, err := g.acceptMessage(ctx, in)
	g.metrics.RecordTiming(metrics.OpSend, time.Since(start), err != nil)
	if err != nil {
		return nil, err
	}

	if persona != "" {
		g.reply(ctx, msg, persona)
	}
	return msg, nil
}

func (g *Gateway) acceptMessage(ctx context.Context, in SendInput) (*store.Message, Persona, error) {
	from := strings.TrimSpace(in.From)
	to := strings.TrimSpace(in.To)
	if from == "" {
		return nil, "", fmt.Errorf("%w: sender is required", ErrBadRequest)
	}
	if to == "" {
		return nil, "", fmt.Errorf("%w: recipient is required", ErrBadRequest)
	}
	if from == store.AIAssistantID {
		return nil, "", fmt.Errorf("%w: sender id is reserved", ErrBadRequest)
	}

	msgType := in.Type
	if msgType == "" {
		msgType = store.TypeText
	}
	if !msgType.Valid() || msgType == store.TypeAIResponse {
		return nil, "", fmt.Errorf("%w: unsupported message type %q", ErrBadRequest, in.Type)
	}

	var persona Persona
	if in.AIMode != "" {
		p, err := ParsePersona(in.AIMode)
		if err != nil {
			return nil, "", err
		}
		persona = p
	}

	// Only plain text is sanitized and moderated; captions of other types are stored as sent.
	plain := msgType == store.TypeText
	content := in.Content
	if plain {
		content = utils.Sanitize(content)
	} else if strings.TrimSpace(content) == "" {
		content = ""
	}
	if content == "" && len(in.Attachments) == 0 {
		return nil, "", fmt.Errorf("%w: content or attachments are required", ErrBadRequest)
	}
	if persona != "" && (!plain || content == "") {
		return nil, "", fmt.Errorf("%w: aiMode requires a text message", ErrBadRequest)
	}

	if plain && content != "" && g.moderator.Enabled() {
		start := time.Now()
		res, err := g.moderator.Moderate(ctx, content)
		g.metrics.RecordTiming(metrics.OpModeration, time.Since(start), err != nil)
		if err != nil {
			if !errors.Is(err, ErrProviderCallFailure) {
				err = fmt.Errorf("%w: %w", ErrProviderCallFailure, err)
			}
			return nil, "", err
		}
		if res.Flagged {
			g.logger.Info("Message rejected by moderation",
				zap.String("from", from),
				zap.Strings("categories", res.Categories))
			return nil, "", fmt.Errorf("%w: %s", ErrContentRejected, strings.Join(res.Categories, ", "))
		}
	}

	threadID := strings.TrimSpace(in.ThreadID)
	if threadID == "" {
		threadID = store.CanonicalThreadID(from, to)
	}

	msg := &store.Message{
		From:        from,
		To:          to,
		ThreadID:    threadID,
		Type:        msgType,
		Content:     content,
		Attachments: in.Attachments,
	}
	if err := g.store.CreateMessage(ctx, msg); err != nil {
		return nil, "", fmt.Errorf("%w: failed to store message: %w", ErrPersistenceFailure, err)
	}

	g.fanOut(msg, msg.To)
	return msg, persona, nil
}

// fanOut publishes msg to the recipient's user channel and the thread channel, in that order.
func (g *Gateway) fanOut(msg *store.Message, recipient string) {
	g.publisher.Publish(realtime.UserChannel(recipient), realtime.EventMessageReceived, msg)
	g.publisher.Publish(realtime.ConversationChannel(msg.ThreadID), realtime.EventNewMessage, msg)
}

// reply runs the assistant branch for a stored human message.
func (g *Gateway) reply(parent context.Context, human *store.Message, persona Persona) {
	log := g.logger.With(
		zap.String("thread_id", human.ThreadID),
		zap.String("message_id", human.ID),
		zap.String("persona", string(persona)))

	if !g.router.Enabled() {
		log.Debug("Skipping assistant reply, no provider configured")
		g.metrics.RecordOutcome(metrics.OutcomeNotConfigured)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), g.timeout)
	defer cancel()

	handle, err := g.resolveText(persona.PreferredVariant())
	if err != nil {
		log.Warn("No provider for assistant reply", zap.Error(err))
		g.metrics.RecordOutcome(metrics.OutcomeNotConfigured)
		return
	}

	req, err := g.assembler.BuildContext(ctx, human.ThreadID, persona, human.Content, human.From, human.ID)
	if err != nil {
		log.Error("Failed to build assistant context", zap.Error(err))
		g.metrics.RecordOutcome(metrics.OutcomeContextFailed)
		return
	}
	// after a fallback this is not the persona's variant
	req.ModelVariant = handle.Variant

	if g.limiter != nil {
		if err := g.limiter.Admit(human.From); err != nil {
			log.Warn("Assistant reply rate limited", zap.String("caller", human.From))
			g.metrics.RecordOutcome(metrics.OutcomeRateLimited)
			return
		}
	}

	res, err := g.dispatch(ctx, handle, req)
	if err != nil {
		log.Error("Assistant generation failed", zap.Error(err),
			zap.String("provider", string(handle.Provider)),
			zap.String("model", handle.Model))
		g.metrics.RecordOutcome(metrics.OutcomeProviderFailed)
		return
	}

	answer := &store.Message{
		From:     store.AIAssistantID,
		To:       human.From,
		ThreadID: human.ThreadID,
		Type:     store.TypeAIResponse,
		Content:  res.Text,
	}
	if err := g.store.CreateMessage(ctx, answer); err != nil {
		log.Error("Failed to store assistant reply", zap.Error(err))
		g.metrics.RecordOutcome(metrics.OutcomePersistenceFailed)
		return
	}

	g.fanOut(answer, human.From)
	g.metrics.RecordOutcome(metrics.OutcomeSucceeded)
	log.Debug("Assistant reply stored",
		zap.String("reply_id", answer.ID),
		zap.String("provider", string(res.Provider)),
		zap.String("model", res.Model),
		zap.Int("total_tokens", res.Usage.TotalTokens))
}

// resolveText falls back to the other text routes when the preferred one has no configured provider,
// so a deployment with only one provider key still answers every persona.
func (g *Gateway) resolveText(preferred Variant) (ProviderHandle, error) {
	handle, err := g.router.Resolve(CapabilityText, preferred)
	if err == nil || !errors.Is(err, ErrProviderNotConfigured) {
		return handle, err
	}
	for _, v := range []Variant{VariantDefault, VariantGoogle} {
		if v == preferred {
			continue
		}
		if h, ferr := g.router.Resolve(CapabilityText, v); ferr == nil {
			return h, nil
		}
	}
	return ProviderHandle{}, err
}

func (g *Gateway) dispatch(ctx context.Context, h ProviderHandle, req *GenerationRequest) (*GenerationResult, error) {
	start := time.Now()
	res, err := g.router.Dispatch(ctx, h, req)
	if err != nil {
		g.metrics.RecordTiming(metrics.OpDispatch, time.Since(start), true)
		return nil, err
	}
	g.metrics.RecordUsage(metrics.OpDispatch, time.Since(start), int64(res.Usage.PromptTokens), int64(res.Usage.CompletionTokens))
	return res, nil
}

type SuggestInput struct {
	CallerID     string
	Conversation []Turn
	ModelVariant string
}

// Suggest generates a reply suggestion for a conversation. Nothing is stored.
func (g *Gateway) Suggest(ctx context.Context, in SuggestInput) (*GenerationResult, error) {
	start := time.Now()
	res, err := g.suggest(ctx, in)
	g.metrics.RecordTiming(metrics.OpSuggest, time.Since(start), err != nil)
	return res, err
}

func (g *Gateway) suggest(ctx context.Context, in SuggestInput) (*GenerationResult, error) {
	if strings.TrimSpace(in.CallerID) == "" {
		return nil, fmt.Errorf("%w: caller is required", ErrBadRequest)
	}

	history := make([]Turn, 0, len(in.Conversation))
	for _, turn := range in.Conversation {
		content := utils.Sanitize(turn.Content)
		if content == "" {
			continue
		}
		role := RoleUser
		if turn.Role == RoleAssistant {
			role = RoleAssistant
		}
		history = append(history, Turn{Role: role, Content: content})
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: conversation is required", ErrBadRequest)
	}

	variant, err := ParseVariant(in.ModelVariant)
	if err != nil {
		return nil, err
	}

	handle, err := g.router.Resolve(CapabilityText, variant)
	if err != nil {
		return nil, err
	}

	// Routing failures must not spend a token.
	if g.limiter != nil {
		if err := g.limiter.Admit(in.CallerID); err != nil {
			return nil, err
		}
	}

	cfg := g.assembler
	req := &GenerationRequest{
		SystemMessage: smartReplyPrompt,
		History:       history,
		UserPrompt:    suggestInstruction,
		ModelVariant:  variant,
		MaxTokens:     cfg.maxTokens,
		Temperature:   cfg.temperature,
		CallerID:      in.CallerID,
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.dispatch(ctx, handle, req)
}

type ImageInput struct {
	CallerID     string
	Prompt       string
	ModelVariant string
}

// GenerateImage turns a prompt into an image URL through the image routes. Nothing is stored.
func (g *Gateway) GenerateImage(ctx context.Context, in ImageInput) (*GenerationResult, error) {
	start := time.Now()
	res, err := g.generateImage(ctx, in)
	g.metrics.RecordTiming(metrics.OpImage, time.Since(start), err != nil)
	return res, err
}

func (g *Gateway) generateImage(ctx context.Context, in ImageInput) (*GenerationResult, error) {
	if strings.TrimSpace(in.CallerID) == "" {
		return nil, fmt.Errorf("%w: caller is required", ErrBadRequest)
	}
	prompt := utils.Sanitize(in.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrBadRequest)
	}

	variant, err := ParseVariant(in.ModelVariant)
	if err != nil {
		return nil, err
	}
	handle, err := g.router.Resolve(CapabilityImage, variant)
	if err != nil {
		return nil, err
	}

	if g.moderator.Enabled() {
		res, err := g.moderator.Moderate(ctx, prompt)
		if err != nil {
			if !errors.Is(err, ErrProviderCallFailure) {
				err = fmt.Errorf("%w: %w", ErrProviderCallFailure, err)
			}
			return nil, err
		}
		if res.Flagged {
			return nil, fmt.Errorf("%w: %s", ErrContentRejected, strings.Join(res.Categories, ", "))
		}
	}

	if g.limiter != nil {
		if err := g.limiter.Admit(in.CallerID); err != nil {
			return nil, err
		}
	}

	req := &GenerationRequest{
		UserPrompt:   prompt,
		ModelVariant: variant,
		CallerID:     in.CallerID,
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.dispatch(ctx, handle, req)
}

type ConversationPage struct {
	Messages []store.Message `json:"messages"`
	Page     int             `json:"page"`
	Limit    int             `json:"limit"`
	Total    int             `json:"total"`
}

// Conversation lists messages exchanged between caller and other, newest first.
func (g *Gateway) Conversation(ctx context.Context, caller, other string, page, limit int) (*ConversationPage, error) {
	if caller == "" || other == "" {
		return nil, fmt.Errorf("%w: both participants are required", ErrBadRequest)
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	msgs, total, err := g.store.GetConversation(ctx, caller, other, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load conversation: %w", ErrPersistenceFailure, err)
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	return &ConversationPage{Messages: msgs, Page: page, Limit: limit, Total: total}, nil
}

// CanAccessThread reports whether userID may follow threadID.
func (g *Gateway) CanAccessThread(ctx context.Context, userID, threadID string) bool {
	return g.access.CanAccessThread(ctx, userID, threadID)
}

// Metrics exposes the gateway counters.
func (g *Gateway) Metrics() *metrics.Collector {
	return g.metrics
}
