package codec

import (
	"context"

	"github.com/astaric/orangeremote/command"
)

// Resolve substitutes every reference placeholder in the command's arguments
// with the live value it names. The command's own target is left alone; Call
// and Get resolve it themselves so a missing target is reported against the
// operation.
func Resolve(ctx context.Context, cmd command.Command, r command.Resolver) error {
	switch c := cmd.(type) {
	case *command.Create:
		args, kwargs, err := resolveArgs(ctx, c.Args, c.Kwargs, r)
		if err != nil {
			return err
		}
		c.Args, c.Kwargs = args, kwargs
	case *command.Call:
		args, kwargs, err := resolveArgs(ctx, c.Args, c.Kwargs, r)
		if err != nil {
			return err
		}
		c.Args, c.Kwargs = args, kwargs
	}
	return nil
}

func resolveArgs(ctx context.Context, args []any, kwargs map[string]any, r command.Resolver) ([]any, map[string]any, error) {
	var outArgs []any
	if args != nil {
		outArgs = make([]any, len(args))
		for i, a := range args {
			v, err := resolveValue(ctx, a, r)
			if err != nil {
				return nil, nil, err
			}
			outArgs[i] = v
		}
	}
	var outKwargs map[string]any
	if kwargs != nil {
		outKwargs = make(map[string]any, len(kwargs))
		for k, a := range kwargs {
			v, err := resolveValue(ctx, a, r)
			if err != nil {
				return nil, nil, err
			}
			outKwargs[k] = v
		}
	}
	return outArgs, outKwargs, nil
}

func resolveValue(ctx context.Context, v any, r command.Resolver) (any, error) {
	switch x := v.(type) {
	case command.Reference:
		return r.Resolve(ctx, x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			rv, err := resolveValue(ctx, e, r)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			rv, err := resolveValue(ctx, e, r)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}
