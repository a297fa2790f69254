package handler

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/flashsale-orders/internal/core/domain"
)

const createOrderMethod = "/flashsale.v1.OrderService/CreateOrder"

type CreateOrderRequest struct {
	ProductID string `json:"product_id"`
}

type CreateOrderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
	JobID   string `json:"job_id,omitempty"`
}

type OrderServiceServer interface {
	CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error)
}

func createOrderHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CreateOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).CreateOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: createOrderMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OrderServiceServer).CreateOrder(ctx, req.(*CreateOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: "flashsale.v1.OrderService",
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateOrder", Handler: createOrderHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "flashsale/v1/order.proto",
}

type GRPCHandler struct {
	gate Admitter
}

func NewGRPCHandler(gate Admitter) *GRPCHandler {
	return &GRPCHandler{gate: gate}
}

func (h *GRPCHandler) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}

	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return nil, status.Error(codes.InvalidArgument, "product_id is required")
	}

	jobID, err := h.gate.Admit(ctx, claims.Subject, claims.Username, productID)
	if err != nil {
		reason := domain.ReasonOf(err)
		if reason == domain.ReasonInternal || reason == domain.ReasonEnqueueFailed {
			log.Error().Err(err).Str("user_id", claims.Subject).Str("product_id", productID).Msg("admission failed")
		}
		return &CreateOrderResponse{
			Success: false,
			Message: message(reason),
			Reason:  string(reason),
		}, nil
	}

	return &CreateOrderResponse{
		Success: true,
		Message: "order is being processed",
		JobID:   jobID,
	}, nil
}

type claimsKey struct{}

// AuthInterceptor verifies the bearer token in the "authorization" metadata.
func AuthInterceptor(secret []byte) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing token")
		}

		raw, found := strings.CutPrefix(values[0], "Bearer ")
		if !found {
			return nil, status.Error(codes.Unauthenticated, "malformed token")
		}

		claims, err := ParseToken(secret, raw)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}

		return handler(context.WithValue(ctx, claimsKey{}, claims), req)
	}
}

// NewGRPCServer registers the order service behind the auth interceptor.
func NewGRPCServer(h *GRPCHandler, secret []byte, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(AuthInterceptor(secret)))
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&OrderServiceDesc, h)
	return srv
}

// OrderServiceClient calls the order service over a JSON-coded connection.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

func (c *OrderServiceClient) CreateOrder(ctx context.Context, req *CreateOrderRequest, opts ...grpc.CallOption) (*CreateOrderResponse, error) {
	out := new(CreateOrderResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, createOrderMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
