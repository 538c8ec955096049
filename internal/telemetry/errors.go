package telemetry

import "codeberg.org/mutker/padctl/internal/errors"

const (
	ErrInvalidConfig     = errors.ErrorCode("telemetry_invalid_config")
	ErrStorageAccess     = errors.ErrorCode("telemetry_storage_access_failed")
	ErrTransactionFailed = errors.ErrorCode("telemetry_transaction_failed")
	ErrOperationTimeout  = errors.ErrTimeout
	ErrServiceShutdown   = errors.ErrorCode("telemetry_service_shutdown_failed")
)
