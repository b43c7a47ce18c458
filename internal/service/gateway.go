package service

import (
	"context"
	"fmt"
	"log/slog"

	"inference-gateway-go/internal/client"
	"inference-gateway-go/internal/config"
	"inference-gateway-go/internal/model"
)

// GatewayService handles the forwarding logic for gateway requests.
type GatewayService struct {
	translator *Translator
	client     *client.UpstreamClient
	logger     *slog.Logger
}

// NewGatewayService creates a GatewayService forwarding to cfg.Upstream.BaseURL.
func NewGatewayService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*GatewayService, error) {
	t, err := NewTranslator(cfg.Upstream.BaseURL, cfg.Translator.StripFields)
	if err != nil {
		return nil, err
	}

	return &GatewayService{
		translator: t,
		client:     c,
		logger:     logger.With("component", "gateway_service"),
	}, nil
}

// Prepare translates in into the outbound call carrying requestID.
func (s *GatewayService) Prepare(in *model.InboundRequest, requestID string) (*model.ForwardSpec, error) {
	spec, err := s.translator.Translate(in, requestID)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("forwarding request",
		"method", spec.Method.String(),
		"path", in.Path,
		"request_id", requestID,
		"stream", spec.Stream,
	)
	return spec, nil
}

// Forward performs a buffered upstream call.
func (s *GatewayService) Forward(ctx context.Context, spec *model.ForwardSpec) (*model.UpstreamResponse, error) {
	resp, err := s.client.Do(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}
	return resp, nil
}

// Open starts a streaming upstream call. The caller owns the returned Stream.
func (s *GatewayService) Open(ctx context.Context, spec *model.ForwardSpec) (*client.Stream, error) {
	stream, err := s.client.OpenStream(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("open upstream stream: %w", err)
	}
	return stream, nil
}
