package logger

import (
	"go.uber.org/zap"
)

var (
	Log *zap.SugaredLogger
)

func InitLogger(development bool) error {
	var logger *zap.Logger
	var err error
	
	if development {
		config := zap.NewDevelopmentConfig()
		config.Sampling = &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		}
		logger, err = config.Build()
	} else {
		config := zap.NewProductionConfig()
		config.Sampling = &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		}
		logger, err = config.Build()
	}
	
	if err != nil {
		return err
	}
	
	Log = logger.Sugar()
	return nil
}

func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}

// WithSession retorna um logger com o session_id anexado a todas as mensagens.
func WithSession(sessionID string) *zap.SugaredLogger {
	if Log == nil {
		return nil
	}
	return Log.With("session_id", sessionID)
}
