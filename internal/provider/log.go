package provider

import (
	"context"
	"log/slog"
)

// LogProvider logs verification attempts instead of delivering them. Useful for development.
type LogProvider struct {
	name   string
	logger *slog.Logger
}

// NewLogProvider creates a LogProvider. If logger is nil, slog.Default() is used.
func NewLogProvider(name string, logger *slog.Logger) *LogProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProvider{name: name, logger: logger}
}

func (p *LogProvider) Name() string { return p.name }

func (p *LogProvider) Attempt(_ context.Context, req Request) (*Result, error) {
	p.logger.Info("provider.LogProvider", "provider", p.name, "channel", req.Channel, "to", req.To, "body", req.Body())
	return &Result{Status: "logged"}, nil
}
