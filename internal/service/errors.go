package service

import (
	"errors"
	"fmt"

	"github.com/secureqr/secureqr/internal/repository"
)

// Service errors. The not-found and duplicate errors also match the
// repository sentinels under errors.Is.
var (
	ErrIssuerNotFound = fmt.Errorf("issuer not found: %w", repository.ErrNotFound)
	ErrLeafNotFound   = fmt.Errorf("leaf credential not found: %w", repository.ErrNotFound)
	ErrAliasTaken     = fmt.Errorf("alias already in use: %w", repository.ErrDuplicate)
	ErrNoRootIssuer   = errors.New("no root issuer: bootstrap has not run and no root key is pinned")
	ErrInvalidInput   = repository.ErrInvalidInput
)
