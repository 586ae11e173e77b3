package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"gwi.com/classroom-messaging/internal/auth"
	"gwi.com/classroom-messaging/internal/core"
	"gwi.com/classroom-messaging/internal/metrics"
	"gwi.com/classroom-messaging/internal/store"
)

const maxBodyBytes = 1 << 20

type contextKey string

const userIDKey contextKey = "userID"

// UserIDFromContext returns the caller set by JWTAuthMiddleware.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// WebsocketServer is the realtime hub as seen by the HTTP layer.
type WebsocketServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, userID string)
	Dropped() int64
}

// BucketCounter reports live rate-limiter buckets.
type BucketCounter interface {
	Len() int
}

type APIHandler struct {
	gateway   *core.Gateway
	jwtSecret string
	logger    *zap.Logger
	limiter   BucketCounter
	ws        WebsocketServer
}

// NewAPIHandler wires the gateway to HTTP. limiter and ws may be nil; the websocket endpoint then answers 404.
func NewAPIHandler(gw *core.Gateway, jwtSecret string, limiter BucketCounter, ws WebsocketServer, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{
		gateway:   gw,
		jwtSecret: jwtSecret,
		logger:    logger,
		limiter:   limiter,
		ws:        ws,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, errorResponse{Error: msg, Code: code})
}

// statusFor maps gateway errors to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrContentRejected):
		return http.StatusBadRequest, "content_rejected"
	case errors.Is(err, core.ErrUnknownModelVariant):
		return http.StatusBadRequest, "unknown_model_variant"
	case errors.Is(err, core.ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, core.ErrRateLimitExceeded):
		return http.StatusTooManyRequests, "rate_limit_exceeded"
	case errors.Is(err, core.ErrProviderNotConfigured):
		return http.StatusServiceUnavailable, "provider_not_configured"
	case errors.Is(err, core.ErrProviderCallFailure):
		return http.StatusBadGateway, "provider_call_failure"
	case errors.Is(err, core.ErrPersistenceFailure):
		return http.StatusInternalServerError, "persistence_failure"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *APIHandler) respondGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.Error(err),
			zap.String("path", r.URL.Path),
			zap.String("code", code))
		msg = http.StatusText(status)
	}
	respondError(w, status, code, msg)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func (h *APIHandler) authenticate(r *http.Request) (string, error) {
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return "", auth.ErrInvalidToken
	}
	return auth.ValidateJWT(h.jwtSecret, token)
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized", "Authorization header is required")
			return
		}

		userID, err := h.authenticate(r)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type SendMessageRequest struct {
	To          string             `json:"to"`
	Content     string             `json:"content"`
	Type        string             `json:"type,omitempty"`
	ThreadID    string             `json:"threadId,omitempty"`
	Attachments []store.Attachment `json:"attachments,omitempty"`
	AIMode      string             `json:"aiMode,omitempty"`
}

func (h *APIHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req SendMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	msg, err := h.gateway.SendMessage(r.Context(), core.SendInput{
		From:        userID,
		To:          req.To,
		ThreadID:    req.ThreadID,
		Type:        store.MessageType(req.Type),
		Content:     req.Content,
		Attachments: req.Attachments,
		AIMode:      req.AIMode,
	})
	if err != nil {
		h.respondGatewayError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func (h *APIHandler) ConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	other := chi.URLParam(r, "userId")

	page, err := queryInt(r, "page")
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "page must be a number")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "limit must be a number")
		return
	}

	conv, err := h.gateway.Conversation(r.Context(), userID, other, page, limit)
	if err != nil {
		h.respondGatewayError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

type SuggestTurn struct {
	Role    string `json:"role,omitempty"`
	From    string `json:"from,omitempty"`
	Content string `json:"content"`
}

type SuggestRequest struct {
	Conversation []SuggestTurn `json:"conversation"`
	ModelVariant string        `json:"modelVariant,omitempty"`
}

type SuggestResponse struct {
	Suggestion string `json:"suggestion"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
}

func (h *APIHandler) SuggestHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req SuggestRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	turns := make([]core.Turn, 0, len(req.Conversation))
	for _, t := range req.Conversation {
		role := core.RoleUser
		if t.Role == core.RoleAssistant || (t.Role == "" && t.From == store.AIAssistantID) {
			role = core.RoleAssistant
		}
		turns = append(turns, core.Turn{Role: role, Content: t.Content})
	}

	res, err := h.gateway.Suggest(r.Context(), core.SuggestInput{
		CallerID:     userID,
		Conversation: turns,
		ModelVariant: req.ModelVariant,
	})
	if err != nil {
		h.respondGatewayError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, SuggestResponse{
		Suggestion: res.Text,
		Provider:   string(res.Provider),
		Model:      res.Model,
	})
}

type ImageRequest struct {
	Prompt       string `json:"prompt"`
	ModelVariant string `json:"modelVariant,omitempty"`
}

type ImageResponse struct {
	URL      string `json:"url"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

func (h *APIHandler) ImageHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req ImageRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	res, err := h.gateway.GenerateImage(r.Context(), core.ImageInput{
		CallerID:     userID,
		Prompt:       req.Prompt,
		ModelVariant: req.ModelVariant,
	})
	if err != nil {
		h.respondGatewayError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ImageResponse{
		URL:      res.Text,
		Provider: string(res.Provider),
		Model:    res.Model,
	})
}

// WebsocketHandler authenticates with the token query parameter, since browsers cannot set headers on upgrades.
func (h *APIHandler) WebsocketHandler(w http.ResponseWriter, r *http.Request) {
	if h.ws == nil {
		respondError(w, http.StatusNotFound, "realtime_disabled", "Realtime delivery is disabled")
		return
	}
	userID, err := h.authenticate(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
		return
	}
	h.ws.ServeWS(w, r, userID)
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type StatsResponse struct {
	RateLimiterBuckets int              `json:"rateLimiterBuckets"`
	RealtimeDropped    int64            `json:"realtimeDropped"`
	Gateway            metrics.Snapshot `json:"gateway"`
}

func (h *APIHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Gateway: h.gateway.Metrics().Snapshot()}
	if h.limiter != nil {
		resp.RateLimiterBuckets = h.limiter.Len()
	}
	if h.ws != nil {
		resp.RealtimeDropped = h.ws.Dropped()
	}
	respondJSON(w, http.StatusOK, resp)
}
