package snsctx

import "context"

type ctxIndex int

const (
	ctxIndexVerbose ctxIndex = iota
	ctxIndexDevice
)

func IsVerbose(ctx context.Context) bool {
	val := ctx.Value(ctxIndexVerbose)
	if val == nil {
		return false
	}
	return val.(bool)
}

func SetVerbose(ctx context.Context, value bool) context.Context {
	return context.WithValue(ctx, ctxIndexVerbose, value)
}

// DeviceIndex returns the adapter index selected with WithDeviceIndex.
// The second value is false when no index was set.
func DeviceIndex(ctx context.Context) (int, bool) {
	val := ctx.Value(ctxIndexDevice)
	if val == nil {
		return 0, false
	}
	return val.(int), true
}

// WithDeviceIndex selects one of several identical USB adapters.
func WithDeviceIndex(ctx context.Context, idx int) context.Context {
	return context.WithValue(ctx, ctxIndexDevice, idx)
}
