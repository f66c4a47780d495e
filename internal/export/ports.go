package export

import (
	"context"

	"loonie/internal/core"
)

// Ports for outbound adapters.
type (
	// FactExporter writes a user's transaction facts to an external
	// destination for a data-access request. The returned ref identifies
	// where the export landed. Exports carry facts only, keyed by the
	// opaque token; the PII profile travels separately through ProfileExporter.
	FactExporter interface {
		ExportFacts(ctx context.Context, token string, facts []core.Fact) (ref string, err error)
	}

	// ProfileExporter writes the identity profile for the same request.
	ProfileExporter interface {
		ExportProfile(ctx context.Context, user core.PIIUser) (ref string, err error)
	}
)
