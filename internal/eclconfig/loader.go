package eclconfig

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// Load reads the YAML engine file on top of Defaults()
// SSOT 핵심: KnownFields(true)로 오타/미사용 필드 즉시 실패
func Load(path string) (*Config, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, data, err
	}
	return cfg, data, nil
}

// Parse decodes YAML on top of Defaults() and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // 알 수 없는 필드 발견 시 에러 반환
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode engine config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Hash generates SHA256 hash from Config (canonical JSON)
// 주의: map 대신 struct 사용으로 해시 재현성 보장
func Hash(cfg *Config) (string, error) {
	jsonBytes, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}

// Overlayer applies DB business configuration onto a file configuration
type Overlayer interface {
	Overlay(ctx context.Context, cfg *Config) error
}

// Provider loads file + DB configuration for every stage run
type Provider struct {
	path    string
	overlay Overlayer
	logger  *logger.Logger
}

// NewProvider creates a provider; overlay may be nil
func NewProvider(path string, overlay Overlayer, log *logger.Logger) *Provider {
	return &Provider{
		path:    path,
		overlay: overlay,
		logger:  log.WithField("module", "eclconfig"),
	}
}

// Load returns the effective configuration.
// A missing file falls back to Defaults(); a malformed one is an error.
func (p *Provider) Load(ctx context.Context) (*Config, error) {
	cfg, _, err := Load(p.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		p.logger.WithField("path", p.path).Warn("Engine config file not found, using defaults")
		cfg = Defaults()
	case err != nil:
		return nil, fmt.Errorf("load %s: %w", p.path, err)
	}

	if p.overlay != nil {
		if err := p.overlay.Overlay(ctx, cfg); err != nil {
			return nil, fmt.Errorf("overlay engine settings: %w", err)
		}
		if err := Validate(cfg); err != nil {
			return nil, err
		}
	}

	if hash, err := Hash(cfg); err == nil {
		p.logger.WithFields(map[string]interface{}{
			"config_hash": hash[:12],
			"ecl_method":  cfg.ECL.Method,
			"pd_method":   cfg.Interpolation.Method,
		}).Debug("Engine config loaded")
	}

	return cfg, nil
}
