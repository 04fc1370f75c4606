package nats

import (
	"context"
	"errors"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/resilience"
	"github.com/nats-io/nats.go"
)

// transientConnErrors clear up once the client reconnects.
var transientConnErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
	nats.ErrConnectionReconnecting,
}

var (
	retryAndRecord = resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	recordOnly     = resilience.ErrorClassification{RecordFailure: true}
	ignore         = resilience.ErrorClassification{}
)

func classifyPublishError(err error) resilience.ErrorClassification {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ignore
	case resilience.IsCircuitOpen(err), isTransientConn(err):
		return retryAndRecord
	default:
		return recordOnly
	}
}

// classifyHandlerError retries a document only when its pipeline failed on
// an upstream that may recover. Bad input fails on the first attempt.
func classifyHandlerError(err error) resilience.ErrorClassification {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return ignore
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrTimeout):
		return retryAndRecord
	default:
		return recordOnly
	}
}

func isTransientConn(err error) bool {
	for _, target := range transientConnErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// asTemporary marks connection-level publish failures so the upload API
// answers 503 instead of 500.
func asTemporary(err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if resilience.IsCircuitOpen(err) || isTransientConn(err) {
		return domain.WrapError(domain.ErrTemporary, "nats publish", err)
	}
	return err
}
