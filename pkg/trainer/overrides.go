package trainer

import (
	"fmt"
	"sort"
	"strings"
)

// Overrides holds Hydra-style key=value arguments for the training entry
// point. Values are passed through as opaque strings; the trainer's own
// config tree gives them meaning.
type Overrides struct {
	pairs map[string]string
}

func NewOverrides() *Overrides {
	return &Overrides{pairs: make(map[string]string)}
}

func (o *Overrides) Set(key, value string) {
	o.pairs[key] = value
}

func (o *Overrides) SetInt(key string, value int) {
	o.pairs[key] = fmt.Sprintf("%d", value)
}

func (o *Overrides) Get(key string) (string, bool) {
	v, ok := o.pairs[key]
	return v, ok
}

// Parse accepts a raw "key=value" string as given on the command line.
func (o *Overrides) Parse(raw string) error {
	key, value, found := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return fmt.Errorf("invalid override %q: expected key=value", raw)
	}
	o.pairs[key] = value
	return nil
}

// Args renders the overrides as argv entries in a deterministic order so the
// printed command line is stable across runs.
func (o *Overrides) Args() []string {
	keys := make([]string, 0, len(o.pairs))
	for k := range o.pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys))
	for _, k := range keys {
		args = append(args, fmt.Sprintf("%s=%s", k, o.pairs[k]))
	}
	return args
}

func (o *Overrides) Len() int {
	return len(o.pairs)
}
