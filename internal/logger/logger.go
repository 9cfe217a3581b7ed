package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// Encodings accepted by New. An empty encoding means EncodingJSON.
const (
	EncodingJSON    = "json"
	EncodingConsole = "console"
)

// New builds a production logger at the given level. Console encoding swaps
// the JSON encoder for zap's human readable one and writes to stderr all
// the same. Sampling is off so every per-call debug line is kept.
func New(verbosity, encoding string, opts ...zap.Option) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(verbosity)
	if err != nil {
		return nil, err
	}

	var config zap.Config
	switch encoding {
	case "", EncodingJSON:
		config = zap.NewProductionConfig()
	case EncodingConsole:
		config = zap.NewDevelopmentConfig()
		config.Development = false
	default:
		return nil, fmt.Errorf("unknown log encoding %q", encoding)
	}
	config.Level = level
	config.Sampling = nil
	return config.Build(opts...)
}
