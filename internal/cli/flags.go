package cli

import (
	"github.com/spf13/pflag"
)

// bind exposes a flag under a config key. Unchanged flags lose to env and file values.
func (a *app) bind(f *pflag.Flag, key string) {
	if f == nil {
		return
	}
	if err := a.v.BindPFlag(key, f); err != nil {
		panic(err) // only fails for a nil flag
	}
}
