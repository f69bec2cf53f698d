package pipeline

import "context"

type deliveryKey struct{}

// DeliveryInfo is the broker metadata of the delivery a handler is working on.
type DeliveryInfo struct {
	ID          string
	Redelivered bool
}

// WithDelivery stores info in ctx.
func WithDelivery(ctx context.Context, info DeliveryInfo) context.Context {
	return context.WithValue(ctx, deliveryKey{}, info)
}

// DeliveryFrom returns the info stored by WithDelivery, or the zero value.
func DeliveryFrom(ctx context.Context) DeliveryInfo {
	info, _ := ctx.Value(deliveryKey{}).(DeliveryInfo)
	return info
}

// Redelivered reports whether the broker has handed this message out before.
func Redelivered(ctx context.Context) bool {
	return DeliveryFrom(ctx).Redelivered
}
