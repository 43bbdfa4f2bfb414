package config

import "go.uber.org/zap"

// NewLogger builds a JSON production logger or a console development logger
// depending on cfg.Format, at cfg.Level.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	return zc.Build()
}
