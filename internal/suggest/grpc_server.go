package suggest

import (
	"log/slog"
	"time"

	"github.com/ashureev/vulndash/internal/assist"
	"github.com/ashureev/vulndash/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// GRPCServer exposes a generator as the suggestion stream service.
type GRPCServer struct {
	gen    assist.Transport
	logger *slog.Logger
}

// NewGRPCServer wraps gen.
func NewGRPCServer(gen assist.Transport, logger *slog.Logger) *GRPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCServer{gen: gen, logger: logger}
}

// Stream implements SuggestionServer.
func (s *GRPCServer) Stream(in *structpb.Struct, stream grpc.ServerStream) error {
	if in == nil || len(in.GetFields()) == 0 {
		return status.Error(codes.InvalidArgument, errEmptyRequest.Error())
	}

	req, err := requestFromStruct(in)
	if err != nil {
		s.logger.Warn("Rejected gRPC suggestion request", "error", err)
		return status.Error(codes.InvalidArgument, err.Error())
	}

	for chunk, err := range s.gen.Suggest(stream.Context(), req) {
		if err != nil {
			st, trailer := statusFromError(err)
			if trailer != nil {
				stream.SetTrailer(trailer)
			}
			s.logger.Warn("gRPC suggestion stream failed", "code", st.Code(), "error", err)
			return st.Err()
		}
		if err := stream.SendMsg(wrapperspb.String(chunk)); err != nil {
			return err
		}
	}
	return nil
}

func requestFromStruct(in *structpb.Struct) (assist.SuggestionRequest, error) {
	m := in.AsMap()
	str := func(key string) string {
		v, _ := m[key].(string)
		return v
	}
	alert := domain.Alert{
		Vulnerability: str("vulnerability"),
		Package:       str("package"),
		Severity:      domain.Severity(str("severity")),
		PatchedIn:     str("patched_in"),
		ApplyFixIn:    str("apply_fix_in"),
		RepoName:      str("repo_name"),
	}
	created := time.Now()
	if ts, err := time.Parse(time.RFC3339, str("created_at")); err == nil {
		created = ts
	}
	return assist.NewSuggestionRequest(alert, created)
}
