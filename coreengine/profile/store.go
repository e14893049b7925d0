// Package profile persists the user profile document between turns and
// extracts profile facts from user messages.
package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/agents"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/config"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
)

// ErrCorruptProfile is returned by Load when the stored document cannot be
// decoded. The accompanying profile is empty and usable.
var ErrCorruptProfile = errors.New("corrupt profile document")

// Store loads and saves the profile document. Save always replaces the
// whole document.
type Store interface {
	Load(ctx context.Context) (envelope.Profile, error)
	Save(ctx context.Context, p envelope.Profile) error
	Reset(ctx context.Context) error
}

// NewStore builds the configured store. The returned closer releases
// backend resources and is never nil.
func NewStore(cfg config.ProfileSettings, logger agents.Logger) (Store, func() error, error) {
	switch cfg.Backend {
	case "file", "":
		return NewFileStore(cfg.Path), func() error { return nil }, nil
	case "badger":
		s, err := OpenBadgerStore(cfg.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown profile backend: %s", cfg.Backend)
	}
}
