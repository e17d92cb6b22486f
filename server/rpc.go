package server

import (
	"context"

	"connectrpc.com/connect"

	"github.com/astaric/orangeremote/codec"
	"github.com/astaric/orangeremote/command"
	"github.com/astaric/orangeremote/errors"
	"github.com/astaric/orangeremote/executor"
	"github.com/astaric/orangeremote/metrics"
	"github.com/astaric/orangeremote/rpc"
)

// executorService implements rpc.ExecutorServiceHandler.
type executorService struct {
	exec    *executor.Executor
	metrics *metrics.Metrics
}

func sessionOf(session string, header interface{ Get(string) string }, peer connect.Peer) string {
	if session != "" {
		return session
	}
	if h := header.Get(SessionHeader); h != "" {
		return h
	}
	return peer.Addr
}

func (s *executorService) Submit(
	ctx context.Context,
	req *connect.Request[rpc.SubmitRequest],
) (*connect.Response[rpc.SubmitResponse], error) {
	key := sessionOf(req.Msg.Session, req.Header(), req.Peer())
	res, err := s.exec.Submit(ctx, key, req.Msg.Envelope)
	if err != nil {
		return nil, s.fail("submit", err)
	}
	out := &rpc.SubmitResponse{Reference: string(res.Reference)}
	if res.HasValue {
		data, err := codec.MarshalValue(res.Value)
		if err != nil {
			return nil, s.fail("submit", errors.New(errors.ExecutionFailed, "server.submit", err))
		}
		out.Value, out.HasValue = data, true
	}
	s.metrics.RecordRequest("connect", "submit", "ok")
	return connect.NewResponse(out), nil
}

func (s *executorService) Fetch(
	ctx context.Context,
	req *connect.Request[rpc.FetchRequest],
) (*connect.Response[rpc.FetchResponse], error) {
	if req.Msg.Reference == "" {
		return nil, s.fail("fetch", errors.Newf(errors.ValidationFailed, "server.fetch", "reference is required"))
	}
	data, err := s.exec.Fetch(ctx, command.Reference(req.Msg.Reference))
	if err != nil {
		return nil, s.fail("fetch", err)
	}
	s.metrics.RecordRequest("connect", "fetch", "ok")
	return connect.NewResponse(&rpc.FetchResponse{Value: data}), nil
}

func (s *executorService) Upload(
	ctx context.Context,
	req *connect.Request[rpc.UploadRequest],
) (*connect.Response[rpc.UploadResponse], error) {
	key := sessionOf(req.Msg.Session, req.Header(), req.Peer())
	ref, err := s.exec.Upload(ctx, key, req.Msg.Value)
	if err != nil {
		return nil, s.fail("upload", err)
	}
	s.metrics.RecordRequest("connect", "upload", "ok")
	return connect.NewResponse(&rpc.UploadResponse{Reference: string(ref)}), nil
}

func (s *executorService) Release(
	ctx context.Context,
	req *connect.Request[rpc.ReleaseRequest],
) (*connect.Response[rpc.ReleaseResponse], error) {
	var n int
	switch {
	case req.Msg.Reference != "":
		if s.exec.Release(ctx, command.Reference(req.Msg.Reference)) {
			n = 1
		}
	case req.Msg.Session != "":
		n = s.exec.ReleaseSession(ctx, req.Msg.Session)
	default:
		return nil, s.fail("release", errors.Newf(errors.ValidationFailed, "server.release", "reference or session is required"))
	}
	s.metrics.RecordRequest("connect", "release", "ok")
	return connect.NewResponse(&rpc.ReleaseResponse{Released: n}), nil
}

func (s *executorService) fail(op string, err error) error {
	ce := rpc.ToConnectError(err)
	s.metrics.RecordRequest("connect", op, ce.Code().String())
	log.Debugf("connect %s: %v", op, err)
	return ce
}
