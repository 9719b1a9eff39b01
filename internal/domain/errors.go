package domain

import (
	"fmt"

	appErrors "extwatch/internal/errors"
)

func invalidStateError(state string) error {
	return appErrors.New(appErrors.CodeInvalidArgument, fmt.Sprintf("invalid install state: %s", state), nil)
}

func invalidTransitionError(from, to InstallState) error {
	return appErrors.New(appErrors.CodeInvalidArgument, fmt.Sprintf("cannot transition from %s to %s", from, to), nil)
}

func invalidExtensionError(reason string) error {
	return appErrors.New(appErrors.CodeInvalidArgument, reason, nil)
}
