// Package flagx lets several config sources share one command line by
// filtering it down to the flags each of them understands.
package flagx

import (
	"flag"
	"io"
	"strings"
)

// FilterArgs keeps only the flags named in allowedFlags, together with their
// values, so a flag.FlagSet that knows just those names can parse the result
// of a command line shared with other sources. Both "-c conf.json" and
// "-c=conf.json" forms are recognised. The result is never nil.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]bool, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = true
	}

	filtered := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if name, _, inline := strings.Cut(arg, "="); inline && strings.HasPrefix(arg, "-") {
			if allowed[name] {
				filtered = append(filtered, arg)
			}
			continue
		}
		if !allowed[arg] {
			continue
		}

		filtered = append(filtered, arg)
		// a following non-flag argument is this flag's value
		if next := i + 1; next < len(args) && !strings.HasPrefix(args[next], "-") {
			filtered = append(filtered, args[next])
			i = next
		}
	}
	return filtered
}

// ConfigFileFlag returns the value of -c or -config in args, or "" when
// neither is given.
func ConfigFileFlag(args []string) string {
	var config string

	filtered := FilterArgs(args, []string{"-c", "-config"})

	fs := flag.NewFlagSet("config-file", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&config, "config", "", "JSON config file")
	fs.StringVar(&config, "c", "", "JSON config file (shorthand)")
	_ = fs.Parse(filtered)

	return config
}
