package suggest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ashureev/vulndash/internal/assist"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the gRPC service of the suggestion stream.
	ServiceName = "vulndash.v1.Suggestion"
	streamName  = "Stream"
	// StreamMethod is the full gRPC method name of the suggestion stream.
	StreamMethod = "/" + ServiceName + "/" + streamName

	// statusTrailer carries the upstream HTTP-equivalent status of a failed stream.
	statusTrailer = "vulndash-upstream-status"
)

// SuggestionServer is the server API of the suggestion stream. Requests are
// structpb.Struct values with the SuggestionRequest JSON fields; responses are
// wrapperspb.StringValue text chunks.
type SuggestionServer interface {
	Stream(req *structpb.Struct, stream grpc.ServerStream) error
}

var streamDesc = grpc.StreamDesc{
	StreamName:    streamName,
	ServerStreams: true,
}

// suggestionServiceDesc is registered by hand; the messages are protobuf well-known types.
var suggestionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SuggestionServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    streamName,
		ServerStreams: true,
		Handler:       streamHandler,
	}},
	Metadata: "vulndash/v1/suggestion.proto",
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SuggestionServer).Stream(in, stream)
}

// RegisterSuggestionServer registers srv on s.
func RegisterSuggestionServer(s grpc.ServiceRegistrar, srv SuggestionServer) {
	s.RegisterService(&suggestionServiceDesc, srv)
}

// statusFromError converts a generator failure into a gRPC status and the trailer that
// lets clients recover the exact upstream status.
func statusFromError(err error) (*status.Status, metadata.MD) {
	sig := assist.SignalFromError(err)
	switch {
	case sig.NoResponse:
		return status.New(codes.Unavailable, sig.Message), metadata.Pairs(statusTrailer, strconv.Itoa(http.StatusServiceUnavailable))
	case sig.Malformed:
		return status.New(codes.DataLoss, sig.Message), nil
	}

	var code codes.Code
	switch sig.StatusCode {
	case http.StatusBadRequest:
		code = codes.InvalidArgument
	case http.StatusUnauthorized:
		code = codes.Unauthenticated
	case http.StatusForbidden:
		code = codes.PermissionDenied
	case http.StatusTooManyRequests:
		code = codes.ResourceExhausted
	case http.StatusInternalServerError:
		code = codes.Internal
	case http.StatusServiceUnavailable:
		code = codes.Unavailable
	default:
		code = codes.Unknown
	}
	return status.New(code, sig.Message), metadata.Pairs(statusTrailer, strconv.Itoa(sig.StatusCode))
}

// errorFromStatus converts a failed client stream into a classifiable transport error.
// trailer may be nil.
func errorFromStatus(err error, trailer metadata.MD) error {
	st, ok := status.FromError(err)
	if !ok {
		return assist.NetworkFailure(err)
	}

	if vals := trailer.Get(statusTrailer); len(vals) > 0 {
		if code, convErr := strconv.Atoi(vals[0]); convErr == nil && code > 0 {
			te := assist.StatusError(code, st.Message())
			te.Err = err
			return te
		}
	}

	var httpStatus int
	switch st.Code() {
	case codes.Unauthenticated:
		httpStatus = http.StatusUnauthorized
	case codes.ResourceExhausted:
		httpStatus = http.StatusTooManyRequests
	case codes.Internal:
		httpStatus = http.StatusInternalServerError
	case codes.InvalidArgument:
		httpStatus = http.StatusBadRequest
	case codes.PermissionDenied:
		httpStatus = http.StatusForbidden
	case codes.DataLoss:
		return &assist.TransportError{
			Signal: assist.Signal{StatusCode: http.StatusOK, Malformed: true, Message: st.Message()},
			Err:    err,
		}
	case codes.Unavailable, codes.Canceled, codes.DeadlineExceeded:
		// No trailer: the connection itself failed.
		return assist.NetworkFailure(err)
	default:
		httpStatus = http.StatusBadGateway
	}
	te := assist.StatusError(httpStatus, st.Message())
	te.Err = err
	return te
}

var errEmptyRequest = errors.New("empty suggestion request")
