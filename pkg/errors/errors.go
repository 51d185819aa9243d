package errors

import (
	"github.com/pingcap/errors"
)

// All errors of this module are normalized here so that peers can match on
// the RFC code instead of the message text.
var (
	// actor runtime
	ErrActorNotFound = errors.Normalize(
		"actor not found: %s",
		errors.RFCCodeText("mesos:ErrActorNotFound"),
	)
	ErrActorDuplicateName = errors.Normalize(
		"an actor named %s is already registered",
		errors.RFCCodeText("mesos:ErrActorDuplicateName"),
	)
	ErrActorTerminated = errors.Normalize(
		"actor %s has terminated",
		errors.RFCCodeText("mesos:ErrActorTerminated"),
	)
	ErrDispatchRemote = errors.Normalize(
		"dispatch to remote actor %s is not supported",
		errors.RFCCodeText("mesos:ErrDispatchRemote"),
	)
	ErrFutureTimeout = errors.Normalize(
		"future was not resolved in time",
		errors.RFCCodeText("mesos:ErrFutureTimeout"),
	)

	// transport
	ErrBadAddress = errors.Normalize(
		"malformed actor address: %s",
		errors.RFCCodeText("mesos:ErrBadAddress"),
	)
	ErrFrameTooLarge = errors.Normalize(
		"frame length %d exceeds limit %d",
		errors.RFCCodeText("mesos:ErrFrameTooLarge"),
	)
	ErrEndpointClosed = errors.Normalize(
		"transport endpoint is closed",
		errors.RFCCodeText("mesos:ErrEndpointClosed"),
	)

	// resources
	ErrResourceUnderflow = errors.Normalize(
		"subtracting %s from %s would go negative",
		errors.RFCCodeText("mesos:ErrResourceUnderflow"),
	)
	ErrResourceParse = errors.Normalize(
		"cannot parse resource string %q",
		errors.RFCCodeText("mesos:ErrResourceParse"),
	)

	// master registries
	ErrUnknownFramework = errors.Normalize(
		"unknown framework %s",
		errors.RFCCodeText("mesos:ErrUnknownFramework"),
	)
	ErrUnknownSlave = errors.Normalize(
		"unknown slave %s",
		errors.RFCCodeText("mesos:ErrUnknownSlave"),
	)
	ErrUnknownOffer = errors.Normalize(
		"unknown or already resolved offer %s",
		errors.RFCCodeText("mesos:ErrUnknownOffer"),
	)
	ErrUnknownTask = errors.Normalize(
		"unknown task %s",
		errors.RFCCodeText("mesos:ErrUnknownTask"),
	)
	ErrTaskValidation = errors.Normalize(
		"task %s rejected: %s",
		errors.RFCCodeText("mesos:ErrTaskValidation"),
	)

	// slave
	ErrExecutorLaunch = errors.Normalize(
		"launching executor %s of framework %s failed",
		errors.RFCCodeText("mesos:ErrExecutorLaunch"),
	)

	// detector
	ErrBadMasterURL = errors.Normalize(
		"cannot parse master url %q",
		errors.RFCCodeText("mesos:ErrBadMasterURL"),
	)
	ErrDetectorClosed = errors.Normalize(
		"detector is closed",
		errors.RFCCodeText("mesos:ErrDetectorClosed"),
	)

	// driver
	ErrDriverNotStarted = errors.Normalize(
		"driver has not been started",
		errors.RFCCodeText("mesos:ErrDriverNotStarted"),
	)
	ErrDriverAborted = errors.Normalize(
		"driver has been aborted: %s",
		errors.RFCCodeText("mesos:ErrDriverAborted"),
	)
)
