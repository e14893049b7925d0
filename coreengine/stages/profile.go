package stages

import (
	"context"
	"errors"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/agents"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/profile"
)

// ProfileLoad reads the stored profile into the state. A missing or
// unreadable profile is replaced by the default one.
type ProfileLoad struct {
	store  profile.Store
	logger agents.Logger
}

// NewProfileLoad creates the stage.
func NewProfileLoad(store profile.Store, logger agents.Logger) *ProfileLoad {
	return &ProfileLoad{store: store, logger: logger}
}

// Process implements agents.Processor.
func (s *ProfileLoad) Process(ctx context.Context, state *envelope.ConversationState) (*envelope.ConversationState, error) {
	out := state.Clone()

	p, err := s.store.Load(ctx)
	if err != nil {
		if errors.Is(err, profile.ErrCorruptProfile) {
			s.logger.Warn("profile_corrupt", "error", err.Error())
		} else {
			s.logger.Warn("profile_load_failed", "error", err.Error())
		}
		p = envelope.Profile{}
	}

	if len(p) == 0 {
		p = envelope.DefaultProfile()
		if err := s.store.Save(ctx, p); err != nil {
			s.logger.Warn("profile_seed_failed", "error", err.Error())
		}
	}
	out.Profile = p
	return out, nil
}

// ProfileUpdate merges facts stated in the question into the profile and
// persists the whole document.
type ProfileUpdate struct {
	store  profile.Store
	logger agents.Logger
}

// NewProfileUpdate creates the stage.
func NewProfileUpdate(store profile.Store, logger agents.Logger) *ProfileUpdate {
	return &ProfileUpdate{store: store, logger: logger}
}

// Process implements agents.Processor.
func (s *ProfileUpdate) Process(ctx context.Context, state *envelope.ConversationState) (*envelope.ConversationState, error) {
	out := state.Clone()
	out.MemoryUpdated = false

	ex := profile.Extract(out.Question)
	if ex.Empty() {
		return out, nil
	}

	out.Profile = ex.Apply(out.Profile)
	if err := s.store.Save(ctx, out.Profile); err != nil {
		s.logger.Warn("profile_save_failed", "error", err.Error())
		return out, nil
	}
	out.MemoryUpdated = ex.MemoryIntent
	s.logger.Debug("profile_updated", "memory_intent", ex.MemoryIntent, "facts", len(ex.Facts), "glossary", len(ex.Glossary))
	return out, nil
}
