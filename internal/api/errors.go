package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/dmsync/internal/backend"
	"github.com/matheus3301/dmsync/internal/mutation"
	"github.com/matheus3301/dmsync/internal/send"
	intsync "github.com/matheus3301/dmsync/internal/sync"
)

// toStatus maps domain errors onto gRPC codes so the CLI can tell a refused
// request from a broken daemon.
func toStatus(op string, err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, send.ErrAttachmentEmpty),
		errors.Is(err, send.ErrAttachmentTooLarge),
		errors.Is(err, send.ErrUnsupportedType),
		errors.Is(err, mutation.ErrEmptyText):
		code = codes.InvalidArgument
	case errors.Is(err, mutation.ErrNotOwner):
		code = codes.PermissionDenied
	case errors.Is(err, mutation.ErrRejected):
		code = codes.FailedPrecondition
	case errors.Is(err, backend.ErrUnauthorized):
		code = codes.Unauthenticated
	case errors.Is(err, intsync.ErrStopped):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	var se *backend.StatusError
	if errors.As(err, &se) {
		code = codes.Unavailable
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}
