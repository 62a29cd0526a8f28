package grpcsvc

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

// codeFor сопоставляет доменную ошибку с gRPC-кодом.
func codeFor(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, domain.ErrUnauthenticated):
		return codes.Unauthenticated
	case errors.Is(err, domain.ErrNotAuthorized):
		return codes.PermissionDenied
	case errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrAmountOverflow):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrPaymentIntentNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrProductUnavailable),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrOrderNotPayable),
		errors.Is(err, domain.ErrAlreadyPaid):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrPaymentProviderUnavailable):
		return codes.Unavailable
	case errors.Is(err, domain.ErrPersistenceConflict):
		return codes.Aborted
	case errors.Is(err, domain.ErrOrderAlreadyExists):
		return codes.AlreadyExists
	default:
		return codes.Internal
	}
}

// toStatus переводит ошибку сервиса в gRPC status. Текст внутренних ошибок клиенту не отдаётся.
func toStatus(logger *log.Entry, operation string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := codeFor(err)
	if code == codes.Internal {
		logger.WithError(err).WithField("operation", operation).Error("request failed")
		return status.Error(codes.Internal, operation+" failed")
	}
	logger.WithError(err).WithFields(log.Fields{
		"operation": operation,
		"code":      code.String(),
	}).Debug("request rejected")
	return status.Error(code, err.Error())
}
