package handler

import (
	"context"

	"google.golang.org/grpc"
)

const purchaseMethod = "/seckill.v1.OrderService/Purchase"

type PurchaseRequest struct {
	UserId string `json:"user_id"`
	ItemId string `json:"item_id"`
}

func (x *PurchaseRequest) GetUserId() string {
	if x != nil {
		return x.UserId
	}
	return ""
}

func (x *PurchaseRequest) GetItemId() string {
	if x != nil {
		return x.ItemId
	}
	return ""
}

type PurchaseResponse struct {
	Success bool   `json:"success"`
	OrderId int64  `json:"order_id,string"`
	Message string `json:"message"`
}

func (x *PurchaseResponse) GetOrderId() int64 {
	if x != nil {
		return x.OrderId
	}
	return 0
}

type OrderServiceServer interface {
	Purchase(context.Context, *PurchaseRequest) (*PurchaseResponse, error)
}

func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderService_ServiceDesc, srv)
}

func _OrderService_Purchase_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PurchaseRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).Purchase(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: purchaseMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OrderServiceServer).Purchase(ctx, req.(*PurchaseRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// OrderService_ServiceDesc describes seckill.v1.OrderService. Messages are
// carried by the JSON codec, so clients must call with
// grpc.CallContentSubtype(JSONCodecName).
var OrderService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "seckill.v1.OrderService",
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Purchase",
			Handler:    _OrderService_Purchase_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "seckill/v1/order.proto",
}

type OrderServiceClient interface {
	Purchase(ctx context.Context, in *PurchaseRequest, opts ...grpc.CallOption) (*PurchaseResponse, error)
}

type orderServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderServiceClient(cc grpc.ClientConnInterface) OrderServiceClient {
	return &orderServiceClient{cc}
}

func (c *orderServiceClient) Purchase(ctx context.Context, in *PurchaseRequest, opts ...grpc.CallOption) (*PurchaseResponse, error) {
	out := new(PurchaseResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	if err := c.cc.Invoke(ctx, purchaseMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
