package grpcx

import (
	"context"

	"github.com/md-rashed-zaman/slotkeeper/libs/httpx"
	"google.golang.org/grpc/metadata"
)

// RequestIDMetadataKey is the metadata form of httpx.RequestIDHeader.
const RequestIDMetadataKey = "x-request-id"

// incomingRequestID returns the caller's request id when it passes the same checks the
// HTTP middleware applies.
func incomingRequestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get(RequestIDMetadataKey) {
		if httpx.ValidRequestID(v) {
			return v
		}
	}
	return ""
}
