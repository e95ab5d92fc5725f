package control

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/orrery/core"
	"github.com/signalsfoundry/orrery/internal/retrieval"
	"github.com/signalsfoundry/orrery/internal/sim/engine"
	"github.com/signalsfoundry/orrery/kb"
)

// ErrInvalidArgument is used for request validation failures.
var ErrInvalidArgument = errors.New("invalid argument")

// ToStatusError maps engine, catalog and retrieval errors onto gRPC status
// codes. Errors that already carry a status pass through unchanged.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, kb.ErrBodyNotFound),
		errors.Is(err, engine.ErrUnknownScenario),
		errors.Is(err, retrieval.ErrUnknownCorpus):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, core.ErrInvalidElements),
		errors.Is(err, core.ErrInvalidScenario):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, retrieval.ErrNotInitialized):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, kb.ErrBodyExists):
		return status.Error(codes.AlreadyExists, err.Error())

	case errors.Is(err, engine.ErrStopped),
		errors.Is(err, retrieval.ErrUnavailable):
		return status.Error(codes.Unavailable, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
