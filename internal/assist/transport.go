package assist

import (
	"context"
	"iter"
)

// Transport performs one suggestion exchange and yields raw text chunks in arrival order.
//
// The sequence ends without error when the service closes the stream. Failures are
// yielded once as the final element and should be *TransportError values so they can be
// classified. Implementations must stop promptly when ctx is cancelled.
type Transport interface {
	Suggest(ctx context.Context, req SuggestionRequest) iter.Seq2[string, error]
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req SuggestionRequest) iter.Seq2[string, error]

// Suggest calls f.
func (f TransportFunc) Suggest(ctx context.Context, req SuggestionRequest) iter.Seq2[string, error] {
	return f(ctx, req)
}
