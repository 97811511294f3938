package detectors

import (
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// Constructor builds a strategy from keyword hyperparameters. A nil map
// means all defaults.
type Constructor func(params map[string]interface{}) (Strategy, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[Kind]Constructor)
	aliases    = make(map[string]Kind)
)

// Register makes a strategy available to New under its kind and any
// additional alias names.
func Register(kind Kind, c Constructor, alias ...string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = c
	for _, a := range alias {
		aliases[normalize(a)] = kind
	}
}

// New constructs the strategy registered under method. Unknown methods and
// unrecognised hyperparameters are configuration errors.
func New(method string, params map[string]interface{}) (Strategy, error) {
	kind, c, ok := lookup(method)
	if !ok {
		return nil, Configuration("method", "unknown detector method %q (known: %s)", method, strings.Join(kindNames(), ", "))
	}
	s, err := c(params)
	if err != nil {
		return nil, err
	}
	if s.Kind() != kind {
		return nil, Configuration("method", "constructor for %s built a %s detector", kind, s.Kind())
	}
	return s, nil
}

// Kinds lists registered strategies in name order.
func Kinds() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Kind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DecodeParams decodes keyword hyperparameters into a config struct tagged
// with `mapstructure`. Unknown keys are rejected. Slices and maps named in
// params replace the defaults rather than merging with them.
func DecodeParams(params map[string]interface{}, out interface{}) error {
	if len(params) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		ZeroFields:       true,
		Result:           out,
	})
	if err != nil {
		return Configuration("", "%v", err)
	}
	if err := dec.Decode(params); err != nil {
		return Configuration("", "%v", err)
	}
	return nil
}

func lookup(method string) (Kind, Constructor, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	name := normalize(method)
	kind := Kind(name)
	if k, ok := aliases[name]; ok {
		kind = k
	}
	c, ok := registry[kind]
	return kind, c, ok
}

func kindNames() []string {
	kinds := Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func normalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
}
