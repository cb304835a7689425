package plugin

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownOutput is returned by OutputLookup for unregistered names
	ErrUnknownOutput = errors.New("unknown output")
	// ErrNoQuery is returned by outputs that cannot be read back
	ErrNoQuery = errors.New("output does not support queries")
)

// OutputOptions carries what any registered output may need to start
type OutputOptions struct {
	DBPath      string
	BatchSize   int
	NATSURL     string
	NATSSubject string
	MIDIPort    int
}

// Outputs is a global map of OutputAdapter factories
var Outputs = map[string]func(OutputOptions) (OutputAdapter, error){
	"badger": func(o OutputOptions) (OutputAdapter, error) {
		return NewBadgerOutput(o.DBPath, o.BatchSize)
	},
	"nats": func(o OutputOptions) (OutputAdapter, error) {
		return NewNATSOutput(o.NATSURL, o.NATSSubject)
	},
	"midi": func(o OutputOptions) (OutputAdapter, error) {
		return NewMIDIOutput(o.MIDIPort)
	},
}

// OutputLookup builds the named output
func OutputLookup(name string, opts OutputOptions) (OutputAdapter, error) {
	factory, ok := Outputs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOutput, name)
	}
	return factory(opts)
}

// OutputsLookup builds every named output into one MultiOutput.
// Outputs already opened are closed if a later one fails.
func OutputsLookup(names []string, opts OutputOptions) (MultiOutput, error) {
	var outs MultiOutput
	for _, name := range names {
		o, err := OutputLookup(name, opts)
		if err != nil {
			_ = outs.Close()
			return nil, fmt.Errorf("output %s: %w", name, err)
		}
		outs = append(outs, o)
	}
	return outs, nil
}
