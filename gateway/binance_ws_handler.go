package gateway

import "context"

// WSHandler 接收 ws 原始消息。
type WSHandler interface {
	OnRawMessage(ctx context.Context, msg []byte)
}

// WSHandlerFunc 函数适配器。
type WSHandlerFunc func(ctx context.Context, msg []byte)

func (f WSHandlerFunc) OnRawMessage(ctx context.Context, msg []byte) { f(ctx, msg) }
