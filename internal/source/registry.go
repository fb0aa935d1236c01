package source

import (
	"github.com/rotisserie/eris"

	"github.com/jobsignal/archetype-cli/internal/config"
	"github.com/jobsignal/archetype-cli/internal/model"
)

// Registry maps source ids to connectors. Iteration order is registration
// order, which keeps run summaries and checkpoints deterministic.
type Registry struct {
	connectors map[string]Connector
	order      []string
}

// NewRegistry builds a registry with the built-in connectors enabled by
// configuration. A connector with no configured endpoint is left out.
func NewRegistry(cfg config.SourcesConfig) *Registry {
	r := &Registry{connectors: make(map[string]Connector)}

	if cfg.PayrollURL != "" {
		r.Register(NewPayrollCSV(cfg.PayrollURL))
	}
	if cfg.PostingsURL != "" {
		r.Register(NewPostingsJSON(cfg.PostingsURL))
	}
	if cfg.VisaURL != "" {
		r.Register(NewVisaXLSX(cfg.VisaURL))
	}

	return r
}

// Register adds a connector. Last registration wins on id collision.
func (r *Registry) Register(c Connector) {
	id := c.SourceID()
	if _, exists := r.connectors[id]; !exists {
		r.order = append(r.order, id)
	}
	r.connectors[id] = c
}

// Get returns a connector by source id.
func (r *Registry) Get(id string) (Connector, error) {
	c, ok := r.connectors[id]
	if !ok {
		return nil, eris.Errorf("source: unknown connector %q (registered: %v)", id, r.order)
	}
	return c, nil
}

// List returns connectors in registration order, optionally filtered to the
// given ids.
func (r *Registry) List(ids []string) ([]Connector, error) {
	if len(ids) == 0 {
		out := make([]Connector, 0, len(r.order))
		for _, id := range r.order {
			out = append(out, r.connectors[id])
		}
		return out, nil
	}

	out := make([]Connector, 0, len(ids))
	for _, id := range ids {
		c, err := r.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Sources returns the evidence-source registry rows for every connector.
func (r *Registry) Sources() []model.EvidenceSource {
	out := make([]model.EvidenceSource, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.connectors[id].Source())
	}
	return out
}
