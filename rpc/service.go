package rpc

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// ExecutorServiceHandler is implemented by the server side of the service.
type ExecutorServiceHandler interface {
	Submit(context.Context, *connect.Request[SubmitRequest]) (*connect.Response[SubmitResponse], error)
	Fetch(context.Context, *connect.Request[FetchRequest]) (*connect.Response[FetchResponse], error)
	Upload(context.Context, *connect.Request[UploadRequest]) (*connect.Response[UploadResponse], error)
	Release(context.Context, *connect.Request[ReleaseRequest]) (*connect.Response[ReleaseResponse], error)
}

// NewExecutorServiceHandler builds an HTTP handler serving the service over
// the Connect, gRPC and gRPC-Web protocols. It returns the path prefix to
// mount the handler on.
func NewExecutorServiceHandler(svc ExecutorServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)

	submit := connect.NewUnaryHandler(ExecutorServiceSubmitProcedure, svc.Submit, opts...)
	fetch := connect.NewUnaryHandler(ExecutorServiceFetchProcedure, svc.Fetch, opts...)
	upload := connect.NewUnaryHandler(ExecutorServiceUploadProcedure, svc.Upload, opts...)
	release := connect.NewUnaryHandler(ExecutorServiceReleaseProcedure, svc.Release, opts...)

	return "/" + ExecutorServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ExecutorServiceSubmitProcedure:
			submit.ServeHTTP(w, r)
		case ExecutorServiceFetchProcedure:
			fetch.ServeHTTP(w, r)
		case ExecutorServiceUploadProcedure:
			upload.ServeHTTP(w, r)
		case ExecutorServiceReleaseProcedure:
			release.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// ExecutorServiceClient calls the service with connect-go. Pass
// connect.WithGRPC() to speak gRPC instead of the Connect protocol.
type ExecutorServiceClient struct {
	submit  *connect.Client[SubmitRequest, SubmitResponse]
	fetch   *connect.Client[FetchRequest, FetchResponse]
	upload  *connect.Client[UploadRequest, UploadResponse]
	release *connect.Client[ReleaseRequest, ReleaseResponse]
}

// NewExecutorServiceClient creates a client for the service at baseURL.
func NewExecutorServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *ExecutorServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)
	return &ExecutorServiceClient{
		submit:  connect.NewClient[SubmitRequest, SubmitResponse](httpClient, baseURL+ExecutorServiceSubmitProcedure, opts...),
		fetch:   connect.NewClient[FetchRequest, FetchResponse](httpClient, baseURL+ExecutorServiceFetchProcedure, opts...),
		upload:  connect.NewClient[UploadRequest, UploadResponse](httpClient, baseURL+ExecutorServiceUploadProcedure, opts...),
		release: connect.NewClient[ReleaseRequest, ReleaseResponse](httpClient, baseURL+ExecutorServiceReleaseProcedure, opts...),
	}
}

func (c *ExecutorServiceClient) Submit(ctx context.Context, req *connect.Request[SubmitRequest]) (*connect.Response[SubmitResponse], error) {
	return c.submit.CallUnary(ctx, req)
}

func (c *ExecutorServiceClient) Fetch(ctx context.Context, req *connect.Request[FetchRequest]) (*connect.Response[FetchResponse], error) {
	return c.fetch.CallUnary(ctx, req)
}

func (c *ExecutorServiceClient) Upload(ctx context.Context, req *connect.Request[UploadRequest]) (*connect.Response[UploadResponse], error) {
	return c.upload.CallUnary(ctx, req)
}

func (c *ExecutorServiceClient) Release(ctx context.Context, req *connect.Request[ReleaseRequest]) (*connect.Response[ReleaseResponse], error) {
	return c.release.CallUnary(ctx, req)
}
