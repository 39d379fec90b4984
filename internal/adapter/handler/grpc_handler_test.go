package handler

import (
	"context"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/seckill/internal/core/service"
)

func newGRPCClient(t *testing.T, orders OrderPurchaser) OrderServiceClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterOrderServiceServer(srv, NewGRPCHandler(orders, zerolog.Nop()))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewOrderServiceClient(conn)
}

func TestGRPCPurchase_Success(t *testing.T) {
	orders := &fakePurchaser{orderID: 42<<32 | 1}
	client := newGRPCClient(t, orders)

	resp, err := client.Purchase(context.Background(), &PurchaseRequest{UserId: "u1", ItemId: "i1"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, orders.orderID, resp.GetOrderId())
}

func TestGRPCPurchase_StatusCodes(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{service.ErrAlreadyPurchased, codes.AlreadyExists},
		{service.ErrInsufficientStock, codes.ResourceExhausted},
		{service.ErrSaleNotStarted, codes.FailedPrecondition},
		{service.ErrSaleEnded, codes.FailedPrecondition},
		{service.ErrItemNotFound, codes.NotFound},
		{assert.AnError, codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			client := newGRPCClient(t, &fakePurchaser{err: tt.err})
			_, err := client.Purchase(context.Background(), &PurchaseRequest{UserId: "u1", ItemId: "i1"})
			assert.Equal(t, tt.want, status.Code(err))
		})
	}
}

func TestGRPCPurchase_InvalidArgument(t *testing.T) {
	orders := &fakePurchaser{}
	client := newGRPCClient(t, orders)

	_, err := client.Purchase(context.Background(), &PurchaseRequest{UserId: "u1"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Empty(t, orders.calls)
}
