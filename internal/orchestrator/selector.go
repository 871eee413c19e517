package orchestrator

import (
	"fmt"

	"github.com/kiranshivaraju/vidaudio/pkg/models"
)

// Selector decides which backend a new job runs on.
type Selector struct {
	remoteConfigured bool
	strict           bool
}

// NewSelector creates a Selector. strict is the process-wide delegation mode;
// callers can additionally request strict handling per submission.
func NewSelector(remoteConfigured, strict bool) Selector {
	return Selector{remoteConfigured: remoteConfigured, strict: strict}
}

// Strict reports whether delegation failures must be surfaced for a request.
func (s Selector) Strict(requested bool) bool {
	return s.strict || requested
}

// Choose picks a backend. A configured remote worker is always preferred
// unless the caller asked for local processing.
func (s Selector) Choose(requested models.Backend, strictRemote bool) (models.Backend, error) {
	strict := s.Strict(strictRemote)

	switch requested {
	case "", models.BackendRemote:
	case models.BackendLocal:
		if strict {
			return "", fmt.Errorf("%w: local backend cannot be combined with strict remote", models.ErrValidation)
		}
		return models.BackendLocal, nil
	default:
		return "", fmt.Errorf("%w: unknown backend %q", models.ErrValidation, requested)
	}

	if s.remoteConfigured {
		return models.BackendRemote, nil
	}
	if strict {
		return "", fmt.Errorf("%w: strict remote requested but no remote worker is configured", models.ErrConfiguration)
	}
	return models.BackendLocal, nil
}
