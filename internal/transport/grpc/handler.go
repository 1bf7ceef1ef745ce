package grpc

import (
	"context"
	"errors"
	"log/slog"

	"connectrpc.com/connect"
	"github.com/astro-web3/request-authorizer/internal/app/authz"
	"github.com/astro-web3/request-authorizer/internal/config"
	domain "github.com/astro-web3/request-authorizer/internal/domain/authz"
	"github.com/astro-web3/request-authorizer/pkg/logger"
	"github.com/astro-web3/request-authorizer/pkg/tracer"
	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	typev3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genproto/googleapis/rpc/code"
	"google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServicePath    = "/envoy.service.auth.v3.Authorization/"
	CheckProcedure = ServicePath + "Check"

	transportName = "grpc"
	deniedBody    = `{"error":"forbidden"}`
)

type Handler struct {
	appService        authz.Service
	principalIDHeader string
	roleHeader        string
}

func NewHandler(appService authz.Service, cfg *config.Config) *Handler {
	return &Handler{
		appService:        appService,
		principalIDHeader: cfg.Auth.HeaderKeys.PrincipalID,
		roleHeader:        cfg.Auth.HeaderKeys.Role,
	}
}

// Check answers an Envoy external authorization request. The upstream request
// carries the principal headers on Allow; the decision document travels in
// the dynamic metadata either way.
func (h *Handler) Check(
	ctx context.Context,
	req *connect.Request[authv3.CheckRequest],
) (*connect.Response[authv3.CheckResponse], error) {
	ctx, span := tracer.Start(ctx, "transport.grpc.Check")
	defer span.End()

	httpReq := req.Msg.GetAttributes().GetRequest().GetHttp()
	if httpReq == nil {
		err := errors.New("missing HTTP request attributes")
		tracer.Fail(span, err)
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	headers := httpReq.GetHeaders()
	token := headers["authorization"]
	if token == "" {
		token = headers["Authorization"]
	}

	doc, err := h.appService.Authorize(ctx, transportName, domain.Input{
		Token:        token,
		HTTPMethod:   httpReq.GetMethod(),
		ResourcePath: httpReq.GetPath(),
	})
	if err != nil {
		logger.ErrorContext(ctx, "authorization failed internally, denying", logger.Err(err))
	}
	span.SetAttributes(attribute.String("authz.effect", doc.Effect))

	metadata, err := documentToStruct(doc)
	if err != nil {
		tracer.Fail(span, err)
		logger.ErrorContext(ctx, "failed to encode decision document",
			slog.String("resource", doc.Resource),
			logger.Err(err),
		)
		return connect.NewResponse(deniedResponse(nil)), nil
	}

	if !doc.Allowed() {
		return connect.NewResponse(deniedResponse(metadata)), nil
	}
	return connect.NewResponse(h.allowedResponse(doc, metadata)), nil
}

func (h *Handler) allowedResponse(doc domain.Document, metadata *structpb.Struct) *authv3.CheckResponse {
	return &authv3.CheckResponse{
		Status: &status.Status{Code: int32(code.Code_OK)},
		HttpResponse: &authv3.CheckResponse_OkResponse{
			OkResponse: &authv3.OkHttpResponse{
				Headers: []*corev3.HeaderValueOption{
					overwrite(h.principalIDHeader, doc.PrincipalID),
					overwrite(h.roleHeader, doc.Context["role"]),
				},
			},
		},
		DynamicMetadata: metadata,
	}
}

func deniedResponse(metadata *structpb.Struct) *authv3.CheckResponse {
	return &authv3.CheckResponse{
		Status: &status.Status{Code: int32(code.Code_PERMISSION_DENIED)},
		HttpResponse: &authv3.CheckResponse_DeniedResponse{
			DeniedResponse: &authv3.DeniedHttpResponse{
				Status:  &typev3.HttpStatus{Code: typev3.StatusCode_Forbidden},
				Headers: []*corev3.HeaderValueOption{overwrite("Content-Type", "application/json")},
				Body:    deniedBody,
			},
		},
		DynamicMetadata: metadata,
	}
}

func overwrite(key, value string) *corev3.HeaderValueOption {
	return &corev3.HeaderValueOption{
		Header:       &corev3.HeaderValue{Key: key, Value: value},
		AppendAction: corev3.HeaderValueOption_OVERWRITE_IF_EXISTS_OR_ADD,
	}
}

func documentToStruct(doc domain.Document) (*structpb.Struct, error) {
	ctx := make(map[string]any, len(doc.Context))
	for k, v := range doc.Context {
		ctx[k] = v
	}
	return structpb.NewStruct(map[string]any{
		"principalId": doc.PrincipalID,
		"effect":      doc.Effect,
		"resource":    doc.Resource,
		"context":     ctx,
	})
}
