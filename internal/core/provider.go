package core

import (
	"context"
	"fmt"
	"strings"

	"gwi.com/classroom-messaging/internal/config"
)

type Provider string

const (
	ProviderPrimary Provider = "primary" // OpenAI
	ProviderGoogle  Provider = "google"  // Gemini
)

type Capability string

const (
	CapabilityText  Capability = "text"
	CapabilityImage Capability = "image"
)

type Variant string

const (
	VariantDefault Variant = "default"
	VariantFast    Variant = "fast"
	VariantSmart   Variant = "smart"
	VariantCode    Variant = "code"
	VariantGoogle  Variant = "google"
)

// ParseVariant accepts the lower-case variant names; an empty string means the default variant.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return VariantDefault, nil
	case VariantDefault, VariantFast, VariantSmart, VariantCode, VariantGoogle:
		return v, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownModelVariant, s)
	}
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one role-tagged entry of a prompt history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationRequest is built once per assistant call and not modified afterwards.
type GenerationRequest struct {
	SystemMessage string
	History       []Turn
	UserPrompt    string
	ModelVariant  Variant
	MaxTokens     int
	Temperature   float64
	CallerID      string
}

type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

type GenerationResult struct {
	Text     string   `json:"text"`
	Provider Provider `json:"provider"`
	Model    string   `json:"model"`
	Usage    Usage    `json:"usage"`
}

// Backend generates text for one provider.
type Backend interface {
	GenerateText(ctx context.Context, model string, req *GenerationRequest) (*GenerationResult, error)
}

// ImageBackend is a Backend that can also generate images. The result text is the image URL.
type ImageBackend interface {
	Backend
	GenerateImage(ctx context.Context, model, prompt string) (*GenerationResult, error)
}

type route struct {
	capability Capability
	variant    Variant
}

type Route struct {
	Provider Provider
	Model    string
}

// ProviderHandle is a resolved route whose provider has a backend.
type ProviderHandle struct {
	Capability Capability
	Variant    Variant
	Provider   Provider
	Model      string
}

func defaultRoutes() map[route]Route {
	return map[route]Route{
		{CapabilityText, VariantDefault}:  {ProviderPrimary, "gpt-4o-mini"},
		{CapabilityText, VariantFast}:     {ProviderPrimary, "gpt-4o-mini"},
		{CapabilityText, VariantSmart}:    {ProviderPrimary, "gpt-4o"},
		{CapabilityText, VariantCode}:     {ProviderPrimary, "gpt-4o"},
		{CapabilityText, VariantGoogle}:   {ProviderGoogle, "gemini-1.5-flash-latest"},
		{CapabilityImage, VariantDefault}: {ProviderPrimary, "dall-e-3"},
		{CapabilityImage, VariantFast}:    {ProviderPrimary, "dall-e-2"},
		{CapabilityImage, VariantSmart}:   {ProviderPrimary, "dall-e-3"},
	}
}

// Router maps (capability, variant) to a provider and model. The table is fixed after construction.
type Router struct {
	routes   map[route]Route
	backends map[Provider]Backend
}

// NewRouter builds the routing table, applying non-empty model overrides. An override naming a model of the
// other family moves the route to that provider. Providers without a backend stay in the table but resolve
// to ErrProviderNotConfigured.
func NewRouter(backends map[Provider]Backend, models config.ModelConfig) *Router {
	routes := defaultRoutes()
	overrides := map[route]string{
		{CapabilityText, VariantDefault}:  models.TextDefault,
		{CapabilityText, VariantFast}:     models.TextFast,
		{CapabilityText, VariantSmart}:    models.TextSmart,
		{CapabilityText, VariantCode}:     models.TextCode,
		{CapabilityText, VariantGoogle}:   models.TextGoogle,
		{CapabilityImage, VariantDefault}: models.ImageDefault,
		{CapabilityImage, VariantFast}:    models.ImageFast,
		{CapabilityImage, VariantSmart}:   models.ImageSmart,
	}
	for key, model := range overrides {
		if model != "" {
			r := routes[key]
			r.Model = model
			r.Provider = providerForModel(model, r.Provider)
			routes[key] = r
		}
	}

	configured := make(map[Provider]Backend, len(backends))
	for p, b := range backends {
		if b != nil {
			configured[p] = b
		}
	}
	return &Router{routes: routes, backends: configured}
}

// providerForModel picks the provider family a model name belongs to, keeping current for names it does not recognize.
func providerForModel(model string, current Provider) Provider {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "gemini"), strings.Contains(m, "google"):
		return ProviderGoogle
	case strings.HasPrefix(m, "gpt-"), strings.HasPrefix(m, "chatgpt"), strings.HasPrefix(m, "dall-e"),
		strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return ProviderPrimary
	}
	return current
}

// Enabled reports whether any provider is configured.
func (r *Router) Enabled() bool {
	return len(r.backends) > 0
}

// Configured reports whether p has a backend.
func (r *Router) Configured(p Provider) bool {
	_, ok := r.backends[p]
	return ok
}

// Route returns the table entry for a pair, configured or not.
func (r *Router) Route(capability Capability, variant Variant) (Route, bool) {
	rt, ok := r.routes[route{capability, variant}]
	return rt, ok
}

func (r *Router) Resolve(capability Capability, variant Variant) (ProviderHandle, error) {
	rt, ok := r.routes[route{capability, variant}]
	if !ok {
		return ProviderHandle{}, fmt.Errorf("%w: %s/%s", ErrUnknownModelVariant, capability, variant)
	}

	backend, ok := r.backends[rt.Provider]
	if !ok {
		return ProviderHandle{}, fmt.Errorf("%w: %s", ErrProviderNotConfigured, rt.Provider)
	}
	if capability == CapabilityImage {
		if _, ok := backend.(ImageBackend); !ok {
			return ProviderHandle{}, fmt.Errorf("%w: %s has no image support", ErrProviderNotConfigured, rt.Provider)
		}
	}

	return ProviderHandle{
		Capability: capability,
		Variant:    variant,
		Provider:   rt.Provider,
		Model:      rt.Model,
	}, nil
}

// Dispatch performs the provider call for a resolved handle. Any backend failure is returned as ErrProviderCallFailure.
func (r *Router) Dispatch(ctx context.Context, h ProviderHandle, req *GenerationRequest) (*GenerationResult, error) {
	backend, ok := r.backends[h.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, h.Provider)
	}

	var (
		res *GenerationResult
		err error
	)
	switch h.Capability {
	case CapabilityImage:
		ib, ok := backend.(ImageBackend)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no image support", ErrProviderNotConfigured, h.Provider)
		}
		res, err = ib.GenerateImage(ctx, h.Model, req.UserPrompt)
	default:
		res, err = backend.GenerateText(ctx, h.Model, req)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrProviderCallFailure, h.Provider, h.Model, err)
	}
	if res == nil {
		return nil, fmt.Errorf("%w: %s %s returned no result", ErrProviderCallFailure, h.Provider, h.Model)
	}

	res.Provider = h.Provider
	if res.Model == "" {
		res.Model = h.Model
	}
	return res, nil
}
