package rpcserver

import (
	"errors"

	"github.com/labrig/agent/internal/job"
	"github.com/labrig/agent/internal/transfer"
)

// ErrPermissionDenied is raised when a filesystem accessibility check fails
// before an Upload or Download.
var ErrPermissionDenied = errors.New("rpcserver: path is not accessible")

// errorKind is one of the contract-stable error kinds, mapped onto
// JSON-RPC's integer error-code space starting at -32000, the
// implementation-defined range JSON-RPC 2.0 reserves for server errors.
type errorKind struct {
	code    int
	message string
}

var (
	kindInvalidJobID       = errorKind{-32000, "InvalidJobId"}
	kindJobNotFinished     = errorKind{-32001, "JobNotFinished"}
	kindJobAlreadyFinished = errorKind{-32002, "JobAlreadyFinished"}
	kindSpawnFailed        = errorKind{-32003, "SpawnFailed"}
	kindPermissionDenied   = errorKind{-32004, "PermissionDenied"}
	kindTransferTimeout    = errorKind{-32005, "TransferTimeout"}
	kindTransferProtocol   = errorKind{-32006, "TransferProtocol"}
	kindInternal           = errorKind{-32603, "Internal"}
)

// classify maps an internal sentinel error to the wire error kind that best
// describes it: synchronous errors from an RPC handler surface to the
// client as JSON-RPC errors.
func classify(err error) errorKind {
	switch {
	case errors.Is(err, job.ErrInvalidJobID):
		return kindInvalidJobID
	case errors.Is(err, job.ErrNotFinished):
		return kindJobNotFinished
	case errors.Is(err, job.ErrAlreadyFinished):
		return kindJobAlreadyFinished
	case errors.Is(err, job.ErrSpawnFailed):
		return kindSpawnFailed
	case errors.Is(err, ErrPermissionDenied):
		return kindPermissionDenied
	case errors.Is(err, transfer.ErrTimeout):
		return kindTransferTimeout
	case errors.Is(err, transfer.ErrProtocol):
		return kindTransferProtocol
	default:
		return kindInternal
	}
}
