package identity

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Metro is a canonical metropolitan area.
type Metro struct {
	ID      string   `yaml:"id" json:"id"`
	Name    string   `yaml:"name" json:"name"`
	State   string   `yaml:"state" json:"state"`
	Aliases []string `yaml:"aliases" json:"aliases,omitempty"`
}

// defaultMetros seeds the resolver with the metros the built-in connectors
// cover. A metros YAML file extends or replaces this set.
var defaultMetros = []Metro{
	{ID: "new_york_ny", Name: "New York", State: "NY", Aliases: []string{"nyc", "new york city", "manhattan", "brooklyn"}},
	{ID: "san_francisco_ca", Name: "San Francisco", State: "CA", Aliases: []string{"sf", "sf bay area", "bay area", "san francisco bay area"}},
	{ID: "seattle_wa", Name: "Seattle", State: "WA", Aliases: []string{"seattle tacoma", "bellevue"}},
	{ID: "austin_tx", Name: "Austin", State: "TX", Aliases: []string{"austin round rock"}},
	{ID: "chicago_il", Name: "Chicago", State: "IL", Aliases: []string{"chicagoland"}},
	{ID: "boston_ma", Name: "Boston", State: "MA", Aliases: []string{"boston cambridge", "cambridge"}},
	{ID: "denver_co", Name: "Denver", State: "CO", Aliases: []string{"denver boulder"}},
	{ID: "atlanta_ga", Name: "Atlanta", State: "GA", Aliases: []string{"atlanta metro"}},
	{ID: "los_angeles_ca", Name: "Los Angeles", State: "CA", Aliases: []string{"la", "los angeles long beach", "santa monica"}},
	{ID: "washington_dc", Name: "Washington", State: "DC", Aliases: []string{"dc", "washington dc", "dmv", "arlington"}},
	{ID: "dallas_tx", Name: "Dallas", State: "TX", Aliases: []string{"dallas fort worth", "dfw"}},
	{ID: "remote_us", Name: "Remote (US)", State: "", Aliases: []string{"remote", "remote us", "united states remote", "anywhere"}},
}

// Resolver maps raw company and location strings to stable identifiers.
type Resolver struct {
	metros  map[string]Metro  // by id
	aliases map[string]string // normalized alias -> metro id
}

// NewResolver builds a resolver over the given metros, or the built-in set
// when metros is nil.
func NewResolver(metros []Metro) *Resolver {
	if metros == nil {
		metros = defaultMetros
	}

	r := &Resolver{
		metros:  make(map[string]Metro, len(metros)),
		aliases: make(map[string]string),
	}
	for _, m := range metros {
		r.metros[m.ID] = m
		r.aliases[normalizeLocation(m.Name)] = m.ID
		if m.State != "" {
			r.aliases[normalizeLocation(m.Name+" "+m.State)] = m.ID
		}
		for _, a := range m.Aliases {
			r.aliases[normalizeLocation(a)] = m.ID
		}
	}
	return r
}

// LoadMetros reads a metros YAML file for NewResolver.
func LoadMetros(path string) ([]Metro, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "identity: read metros %s", path)
	}

	var f struct {
		Metros []Metro `yaml:"metros"`
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "identity: parse metros %s", path)
	}
	if len(f.Metros) == 0 {
		return nil, eris.Errorf("identity: metros file %s defines no metros", path)
	}
	return f.Metros, nil
}

// Metro looks up a canonical metro by id.
func (r *Resolver) Metro(id string) (Metro, bool) {
	m, ok := r.metros[id]
	return m, ok
}

// ResolveMetro maps a raw location string ("NYC", "Austin, TX", "Remote") to
// a canonical metro id. Unresolvable locations return ok=false; the caller
// skips the observation as malformed rather than guessing.
func (r *Resolver) ResolveMetro(rawLocation string) (string, bool) {
	norm := normalizeLocation(rawLocation)
	if norm == "" {
		return "", false
	}
	if id, ok := r.aliases[norm]; ok {
		return id, true
	}

	// "City, ST" forms: retry with the state dropped, then city alone.
	if fields := strings.Fields(norm); len(fields) > 1 {
		if id, ok := r.aliases[strings.Join(fields[:len(fields)-1], " ")]; ok {
			return id, true
		}
	}
	return "", false
}

func normalizeLocation(loc string) string {
	loc = strings.ToLower(strings.TrimSpace(loc))
	loc = strings.NewReplacer(",", " ", ".", "", "-", " ", "/", " ").Replace(loc)
	loc = multiSpaceRe.ReplaceAllString(loc, " ")
	return strings.TrimSpace(loc)
}
