package handler

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/seckill/internal/core/service"
)

type GRPCHandler struct {
	orders OrderPurchaser
	log    zerolog.Logger
}

func NewGRPCHandler(orders OrderPurchaser, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		orders: orders,
		log:    logger.With().Str("component", "grpc_handler").Logger(),
	}
}

func (h *GRPCHandler) Purchase(ctx context.Context, req *PurchaseRequest) (*PurchaseResponse, error) {
	if req.GetUserId() == "" || req.GetItemId() == "" {
		return nil, status.Error(codes.InvalidArgument, "missing required fields")
	}

	orderID, err := h.orders.Purchase(ctx, req.GetUserId(), req.GetItemId())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAlreadyPurchased):
			return nil, status.Error(codes.AlreadyExists, "already purchased")
		case errors.Is(err, service.ErrInsufficientStock):
			return nil, status.Error(codes.ResourceExhausted, "sold out")
		case errors.Is(err, service.ErrSaleNotStarted):
			return nil, status.Error(codes.FailedPrecondition, "sale not started")
		case errors.Is(err, service.ErrSaleEnded):
			return nil, status.Error(codes.FailedPrecondition, "sale ended")
		case errors.Is(err, service.ErrItemNotFound):
			return nil, status.Error(codes.NotFound, "item not found")
		}
		h.log.Error().Err(err).Str("user_id", req.GetUserId()).Str("item_id", req.GetItemId()).Msg("purchase failed")
		return nil, status.Error(codes.Internal, "internal error")
	}

	return &PurchaseResponse{
		Success: true,
		OrderId: orderID,
		Message: "order placed successfully",
	}, nil
}
