package mount_registry

import "errors"

var (
	ErrNotFound        = errors.New("file not mounted")
	ErrInvalidName     = errors.New("invalid mount name")
	ErrDuplicateName   = errors.New("name appears twice in one mount")
	ErrMountFailed     = errors.New("failed to mount files")
	ErrMaterializeFile = errors.New("failed to materialize mounted file")
)
