package errors

import (
	"go.uber.org/zap"
)

// LogError는 에러를 ERROR 레벨 구조화 로그로 기록합니다
func LogError(logger *zap.Logger, err error, msg string, fields ...zap.Field) {
	if err == nil {
		return
	}
	logger.Error(msg, errorFields(err, fields)...)
}

// LogWarn은 복구 가능한 에러를 WARN 레벨로 기록합니다
func LogWarn(logger *zap.Logger, err error, msg string, fields ...zap.Field) {
	if err == nil {
		return
	}
	logger.Warn(msg, errorFields(err, fields)...)
}

func errorFields(err error, fields []zap.Field) []zap.Field {
	all := make([]zap.Field, 0, len(fields)+2)
	all = append(all, zap.Error(err))

	var appErr *AppError
	if As(err, &appErr) {
		all = append(all, zap.String("error_code", appErr.Code()))
	}
	return append(all, fields...)
}
