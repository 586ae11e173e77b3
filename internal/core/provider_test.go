package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/classroom-messaging/internal/config"
)

func TestParseVariant(t *testing.T) {
	tests := []struct {
		in      string
		want    Variant
		wantErr bool
	}{
		{"", VariantDefault, false},
		{"default", VariantDefault, false},
		{"FAST", VariantFast, false},
		{" smart ", VariantSmart, false},
		{"code", VariantCode, false},
		{"google", VariantGoogle, false},
		{"turbo", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVariant(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownModelVariant)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveRoutingTable(t *testing.T) {
	r := NewRouter(map[Provider]Backend{
		ProviderPrimary: &fakeImageBackend{},
		ProviderGoogle:  &fakeBackend{},
	}, config.ModelConfig{})

	tests := []struct {
		capability Capability
		variant    Variant
		provider   Provider
		model      string
	}{
		{CapabilityText, VariantDefault, ProviderPrimary, "gpt-4o-mini"},
		{CapabilityText, VariantFast, ProviderPrimary, "gpt-4o-mini"},
		{CapabilityText, VariantSmart, ProviderPrimary, "gpt-4o"},
		{CapabilityText, VariantCode, ProviderPrimary, "gpt-4o"},
		{CapabilityText, VariantGoogle, ProviderGoogle, "gemini-1.5-flash-latest"},
		{CapabilityImage, VariantDefault, ProviderPrimary, "dall-e-3"},
		{CapabilityImage, VariantFast, ProviderPrimary, "dall-e-2"},
		{CapabilityImage, VariantSmart, ProviderPrimary, "dall-e-3"},
	}

	for _, tt := range tests {
		t.Run(string(tt.capability)+"/"+string(tt.variant), func(t *testing.T) {
			h, err := r.Resolve(tt.capability, tt.variant)
			require.NoError(t, err)
			assert.Equal(t, tt.provider, h.Provider)
			assert.Equal(t, tt.model, h.Model)
		})
	}
}

func TestResolveUnknownPair(t *testing.T) {
	r := NewRouter(map[Provider]Backend{ProviderPrimary: &fakeImageBackend{}}, config.ModelConfig{})

	_, err := r.Resolve(CapabilityImage, VariantCode)
	assert.ErrorIs(t, err, ErrUnknownModelVariant)

	_, err = r.Resolve(CapabilityImage, VariantGoogle)
	assert.ErrorIs(t, err, ErrUnknownModelVariant)
}

func TestResolveUnconfiguredProvider(t *testing.T) {
	r := NewRouter(map[Provider]Backend{ProviderPrimary: &fakeBackend{}}, config.ModelConfig{})

	_, err := r.Resolve(CapabilityText, VariantGoogle)
	assert.ErrorIs(t, err, ErrProviderNotConfigured)

	// a text-only backend cannot serve images
	_, err = r.Resolve(CapabilityImage, VariantDefault)
	assert.ErrorIs(t, err, ErrProviderNotConfigured)

	assert.True(t, r.Enabled())
	assert.True(t, r.Configured(ProviderPrimary))
	assert.False(t, r.Configured(ProviderGoogle))
}

func TestRouterWithoutBackends(t *testing.T) {
	r := NewRouter(map[Provider]Backend{ProviderPrimary: nil}, config.ModelConfig{})
	assert.False(t, r.Enabled())

	_, err := r.Resolve(CapabilityText, VariantDefault)
	assert.ErrorIs(t, err, ErrProviderNotConfigured)

	// the table is still there
	rt, ok := r.Route(CapabilityText, VariantSmart)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", rt.Model)
}

func TestModelOverrides(t *testing.T) {
	r := NewRouter(map[Provider]Backend{ProviderPrimary: &fakeBackend{}}, config.ModelConfig{
		TextSmart:  "gpt-4.1",
		ImageFast:  "dall-e-3",
		TextGoogle: "gemini-2.0-flash",
	})

	h, err := r.Resolve(CapabilityText, VariantSmart)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", h.Model)

	rt, _ := r.Route(CapabilityImage, VariantFast)
	assert.Equal(t, "dall-e-3", rt.Model)
	rt, _ = r.Route(CapabilityText, VariantGoogle)
	assert.Equal(t, "gemini-2.0-flash", rt.Model)

	h, err = r.Resolve(CapabilityText, VariantDefault)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", h.Model)
}

func TestModelOverrideFollowsProviderFamily(t *testing.T) {
	google := &fakeBackend{}
	r := NewRouter(map[Provider]Backend{ProviderPrimary: &fakeBackend{}, ProviderGoogle: google}, config.ModelConfig{
		TextDefault: "gemini-1.5-pro",
		TextGoogle:  "gpt-4o",
		TextCode:    "my-finetune",
		ImageSmart:  "gemini-2.0-flash",
	})

	tests := []struct {
		capability Capability
		variant    Variant
		provider   Provider
		model      string
	}{
		{CapabilityText, VariantDefault, ProviderGoogle, "gemini-1.5-pro"},
		{CapabilityText, VariantGoogle, ProviderPrimary, "gpt-4o"},
		{CapabilityText, VariantCode, ProviderPrimary, "my-finetune"},
		{CapabilityImage, VariantSmart, ProviderGoogle, "gemini-2.0-flash"},
	}
	for _, tt := range tests {
		rt, ok := r.Route(tt.capability, tt.variant)
		require.True(t, ok)
		assert.Equal(t, tt.provider, rt.Provider, "%s/%s", tt.capability, tt.variant)
		assert.Equal(t, tt.model, rt.Model)
	}

	h, err := r.Resolve(CapabilityText, VariantDefault)
	require.NoError(t, err)
	_, err = r.Dispatch(context.Background(), h, &GenerationRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini-1.5-pro"}, google.models)

	// the google family has no image backend
	_, err = r.Resolve(CapabilityImage, VariantSmart)
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
}

func TestDispatchText(t *testing.T) {
	backend := &fakeBackend{text: "hi there"}
	r := NewRouter(map[Provider]Backend{ProviderPrimary: backend}, config.ModelConfig{})

	h, err := r.Resolve(CapabilityText, VariantFast)
	require.NoError(t, err)

	res, err := r.Dispatch(context.Background(), h, &GenerationRequest{UserPrompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hi there", res.Text)
	assert.Equal(t, ProviderPrimary, res.Provider)
	assert.Equal(t, "gpt-4o-mini", res.Model)
	assert.Equal(t, 16, res.Usage.TotalTokens)
	assert.Equal(t, []string{"gpt-4o-mini"}, backend.models)
}

func TestDispatchImage(t *testing.T) {
	backend := &fakeImageBackend{}
	r := NewRouter(map[Provider]Backend{ProviderPrimary: backend}, config.ModelConfig{})

	h, err := r.Resolve(CapabilityImage, VariantFast)
	require.NoError(t, err)

	res, err := r.Dispatch(context.Background(), h, &GenerationRequest{UserPrompt: "a cell diagram"})
	require.NoError(t, err)
	assert.Equal(t, "https://images.example/1.png", res.Text)
	assert.Equal(t, "dall-e-2", res.Model)
	assert.Equal(t, []string{"a cell diagram"}, backend.prompts)
}

func TestDispatchWrapsBackendFailure(t *testing.T) {
	cause := errors.New("upstream 500")
	r := NewRouter(map[Provider]Backend{ProviderPrimary: &fakeBackend{err: cause}}, config.ModelConfig{})

	h, err := r.Resolve(CapabilityText, VariantDefault)
	require.NoError(t, err)

	_, err = r.Dispatch(context.Background(), h, &GenerationRequest{UserPrompt: "hello"})
	assert.ErrorIs(t, err, ErrProviderCallFailure)
	assert.ErrorIs(t, err, cause)
}

func TestDispatchUnconfiguredHandle(t *testing.T) {
	r := NewRouter(nil, config.ModelConfig{})
	_, err := r.Dispatch(context.Background(), ProviderHandle{Capability: CapabilityText, Provider: ProviderGoogle}, &GenerationRequest{})
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
}
