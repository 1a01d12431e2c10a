package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// SplitCommand splits a command string into arguments without a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	return args, nil
}

// optionsWithInputs are refused in FF_EXTRA_ARGS because they add inputs or
// outputs behind the processor's back.
var optionsWithInputs = map[string]bool{
	"-i":              true,
	"-map":            true,
	"-filter_complex": true,
	"-f":              true,
	"-y":              true,
	"-n":              true,
}

// ValidateExtraArgs checks the global options prepended to every ffmpeg run.
func ValidateExtraArgs(args []string) error {
	for _, arg := range args {
		if optionsWithInputs[arg] {
			return fmt.Errorf("option not allowed in extra args: %s", arg)
		}
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}
