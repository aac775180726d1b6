// Package bobserver is the gRPC adapter: it implements bobrpc.Server
// over a Grinder, translating wire messages to bobdata calls and
// bobdata.Kind back to grpc status codes.
package bobserver

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bobfs/bobd/internal/bobdata"
	"github.com/bobfs/bobd/internal/bobrpc"
	"github.com/bobfs/bobd/internal/grinder"
)

// Server implements bobrpc.Server over a Grinder.
type Server struct {
	grinder *grinder.Grinder
}

func New(g *grinder.Grinder) *Server {
	return &Server{grinder: g}
}

func (s *Server) Put(ctx context.Context, req *bobrpc.PutRequest) (*bobrpc.OpStatus, error) {
	key := bobdata.Key(req.Key.Key)
	v := bobdata.BobData{Bytes: req.Data.Bytes, Meta: bobdata.Meta{Timestamp: req.Data.Meta.Timestamp}}
	flags := grinder.Flags{ForceNode: req.Options.ForceNode}

	err := s.grinder.Put(ctx, key, v, flags)
	if err == nil || bobdata.Is(err, bobdata.KindDuplicateKey) {
		return &bobrpc.OpStatus{Code: bobrpc.StatusOK}, nil
	}
	return nil, statusFromErr(err)
}

func (s *Server) Get(ctx context.Context, req *bobrpc.GetRequest) (*bobrpc.Blob, error) {
	key := bobdata.Key(req.Key.Key)
	flags := grinder.Flags{ForceNode: req.Options.ForceNode, Source: req.Options.Source}

	v, err := s.grinder.Get(ctx, key, flags)
	if err != nil {
		return nil, statusFromErr(err)
	}
	return &bobrpc.Blob{Bytes: v.Bytes, Meta: bobrpc.BlobMeta{Timestamp: v.Meta.Timestamp}}, nil
}

func (s *Server) Exist(ctx context.Context, req *bobrpc.ExistRequest) (*bobrpc.ExistResponse, error) {
	keys := make([]bobdata.Key, len(req.Keys))
	for i, k := range req.Keys {
		keys[i] = bobdata.Key(k.Key)
	}

	// Exist's wire message has no options: it is inherently a
	// node-local check, so force_node is implicit rather than carried
	// on the request the way Put/Get's is.
	out, err := s.grinder.Exist(ctx, keys, grinder.Flags{ForceNode: true})
	if err != nil {
		return nil, statusFromErr(err)
	}
	return &bobrpc.ExistResponse{Exist: out}, nil
}

func (s *Server) Ping(ctx context.Context, req *bobrpc.Null) (*bobrpc.Null, error) {
	return &bobrpc.Null{}, nil
}

// statusFromErr maps a bobdata.Error's Kind to the nearest grpc status
// code, so a client-side status.Code(err) check (as bobclient.Get does
// for KeyNotFound) sees the right thing without needing to parse message
// text.
func statusFromErr(err error) error {
	var be *bobdata.Error
	if !errors.As(err, &be) {
		return status.Error(codes.Internal, err.Error())
	}

	switch be.Kind {
	case bobdata.KindKeyNotFound:
		return status.Error(codes.NotFound, be.Error())
	case bobdata.KindVDiskNotFound, bobdata.KindVDiskNotReady:
		return status.Error(codes.Unavailable, be.Error())
	case bobdata.KindTimeout:
		return status.Error(codes.DeadlineExceeded, be.Error())
	case bobdata.KindInvalidConfig:
		return status.Error(codes.InvalidArgument, be.Error())
	default:
		return status.Error(codes.Internal, be.Error())
	}
}
