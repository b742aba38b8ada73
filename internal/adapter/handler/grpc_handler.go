package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/genpire/rfq-service/internal/core/domain"
	"github.com/genpire/rfq-service/internal/core/service"
)

const (
	ServiceName  = "genpire.rfq.v1.RFQService"
	CodecSubtype = "json"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec carries plain Go structs over gRPC.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecSubtype }

type ListRFQsRequest struct{}

type ListRFQsResponse struct {
	RFQs []domain.RFQ `json:"rfqs"`
}

type AcceptOrDeclineRequest struct {
	RequestID        string `json:"request_id"`
	RFQID            string `json:"rfq_id"`
	SupplierID       string `json:"supplier_id"`
	Status           string `json:"status"`
	NotifyReceiverID string `json:"notify_receiver_id"`
}

type SendDraftRequest struct {
	RequestID  string `json:"request_id"`
	RFQID      string `json:"rfq_id"`
	Status     string `json:"status"`
	ReceiverID string `json:"receiver_id"`
	Title      string `json:"title"`
}

type MutationResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Warning string `json:"warning,omitempty"`
}

type RFQServiceServer interface {
	ListRFQs(context.Context, *ListRFQsRequest) (*ListRFQsResponse, error)
	RefreshRFQs(context.Context, *ListRFQsRequest) (*ListRFQsResponse, error)
	AcceptOrDecline(context.Context, *AcceptOrDeclineRequest) (*MutationResponse, error)
	SendDraft(context.Context, *SendDraftRequest) (*MutationResponse, error)
}

type GRPCHandler struct {
	rfqService *service.RFQService
}

func NewGRPCHandler(rfqService *service.RFQService) *GRPCHandler {
	return &GRPCHandler{rfqService: rfqService}
}

func RegisterRFQServiceServer(s grpc.ServiceRegistrar, srv RFQServiceServer) {
	s.RegisterService(&rfqServiceDesc, srv)
}

func (h *GRPCHandler) ListRFQs(ctx context.Context, _ *ListRFQsRequest) (*ListRFQsResponse, error) {
	list, err := h.rfqService.Fetch(ctx, UserIDFromContext(ctx))
	if err != nil {
		return nil, grpcError(err)
	}
	return &ListRFQsResponse{RFQs: nonNil(list)}, nil
}

func (h *GRPCHandler) RefreshRFQs(ctx context.Context, _ *ListRFQsRequest) (*ListRFQsResponse, error) {
	list, err := h.rfqService.Refresh(ctx, UserIDFromContext(ctx))
	if err != nil {
		return nil, grpcError(err)
	}
	return &ListRFQsResponse{RFQs: nonNil(list)}, nil
}

// grpcError turns a service error into a status using the same table as HTTP.
func grpcError(err error) error {
	httpStatus, message := statusFor(err)
	var code codes.Code
	switch httpStatus {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		code = codes.InvalidArgument
	case http.StatusForbidden:
		code = codes.PermissionDenied
	case http.StatusNotFound:
		code = codes.NotFound
	case http.StatusConflict:
		code = codes.AlreadyExists
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, message)
}

func (h *GRPCHandler) AcceptOrDecline(ctx context.Context, req *AcceptOrDeclineRequest) (*MutationResponse, error) {
	if req.RFQID == "" || req.SupplierID == "" || req.Status == "" {
		return &MutationResponse{Success: false, Message: "missing required fields"}, nil
	}
	st, err := domain.ParseQuoteStatus(req.Status)
	if err != nil {
		return failure(err), nil
	}

	result, err := h.rfqService.AcceptOrDecline(ctx, service.AcceptOrDeclineInput{
		RequestID:        req.RequestID,
		RFQID:            req.RFQID,
		SupplierID:       req.SupplierID,
		Status:           st,
		ActorID:          UserIDFromContext(ctx),
		NotifyReceiverID: req.NotifyReceiverID,
	})
	if err != nil {
		return failure(err), nil
	}
	return &MutationResponse{Success: true, Message: "status updated", Warning: result.Warning}, nil
}

func (h *GRPCHandler) SendDraft(ctx context.Context, req *SendDraftRequest) (*MutationResponse, error) {
	if req.RFQID == "" || req.Status == "" {
		return &MutationResponse{Success: false, Message: "missing required fields"}, nil
	}
	st, err := domain.ParseRFQStatus(req.Status)
	if err != nil {
		return failure(err), nil
	}

	result, err := h.rfqService.SendDraft(ctx, service.SendDraftInput{
		RequestID:  req.RequestID,
		RFQID:      req.RFQID,
		Status:     st,
		SenderID:   UserIDFromContext(ctx),
		ReceiverID: req.ReceiverID,
		Title:      req.Title,
	})
	if err != nil {
		return failure(err), nil
	}
	return &MutationResponse{Success: true, Message: "status updated", Warning: result.Warning}, nil
}

func failure(err error) *MutationResponse {
	_, message := statusFor(err)
	return &MutationResponse{Success: false, Message: message}
}

// UnaryAuthInterceptor verifies the bearer token in the "authorization"
// metadata and stores the caller id in the context.
func UnaryAuthInterceptor(auth *Authenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		var header string
		if values := md.Get("authorization"); len(values) > 0 {
			header = values[0]
		}
		token, ok := bearerToken(header)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		userID, err := auth.Verify(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(ContextWithUserID(ctx, userID), req)
	}
}

var rfqServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RFQServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListRFQs", Handler: listRFQsHandler},
		{MethodName: "RefreshRFQs", Handler: refreshRFQsHandler},
		{MethodName: "AcceptOrDecline", Handler: acceptOrDeclineHandler},
		{MethodName: "SendDraft", Handler: sendDraftHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func listRFQsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListRFQsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return srv.(RFQServiceServer).ListRFQs(ctx, req.(*ListRFQsRequest))
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ListRFQs"}, call)
}

func refreshRFQsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListRFQsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return srv.(RFQServiceServer).RefreshRFQs(ctx, req.(*ListRFQsRequest))
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/RefreshRFQs"}, call)
}

func acceptOrDeclineHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AcceptOrDeclineRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return srv.(RFQServiceServer).AcceptOrDecline(ctx, req.(*AcceptOrDeclineRequest))
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/AcceptOrDecline"}, call)
}

func sendDraftHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SendDraftRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return srv.(RFQServiceServer).SendDraft(ctx, req.(*SendDraftRequest))
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/SendDraft"}, call)
}

// RFQServiceClient is the client side of the JSON-coded service.
type RFQServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewRFQServiceClient(cc grpc.ClientConnInterface) *RFQServiceClient {
	return &RFQServiceClient{cc: cc}
}

func (c *RFQServiceClient) ListRFQs(ctx context.Context, in *ListRFQsRequest, opts ...grpc.CallOption) (*ListRFQsResponse, error) {
	out := new(ListRFQsResponse)
	return out, c.invoke(ctx, "ListRFQs", in, out, opts)
}

func (c *RFQServiceClient) RefreshRFQs(ctx context.Context, in *ListRFQsRequest, opts ...grpc.CallOption) (*ListRFQsResponse, error) {
	out := new(ListRFQsResponse)
	return out, c.invoke(ctx, "RefreshRFQs", in, out, opts)
}

func (c *RFQServiceClient) AcceptOrDecline(ctx context.Context, in *AcceptOrDeclineRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	out := new(MutationResponse)
	return out, c.invoke(ctx, "AcceptOrDecline", in, out, opts)
}

func (c *RFQServiceClient) SendDraft(ctx context.Context, in *SendDraftRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	out := new(MutationResponse)
	return out, c.invoke(ctx, "SendDraft", in, out, opts)
}

func (c *RFQServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecSubtype)}, opts...)
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}
