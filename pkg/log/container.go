package log

import (
	"context"
	"fmt"
	"reflect"

	"github.com/mwantia/fabric/pkg/container"
)

// FromContainer resolves the LoggerService registered in sc. A non-empty
// name returns the named child logger.
func FromContainer(ctx context.Context, sc *container.ServiceContainer, name string) (LoggerService, error) {
	ok, resolved := sc.ResolveByType(ctx, reflect.TypeOf((*LoggerService)(nil)).Elem())
	if !ok {
		return nil, fmt.Errorf("no logger service registered")
	}

	logger, ok := resolved.(LoggerService)
	if !ok {
		return nil, fmt.Errorf("resolved service %T is not a LoggerService", resolved)
	}

	if name != "" {
		return logger.Named(name), nil
	}
	return logger, nil
}
