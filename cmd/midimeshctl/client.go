package main

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// dial connects to the proxy socket rather than the direct control
// socket: every command goes through control/proxy, whose Director
// routes a request with no "peer" metadata straight back to the local
// control.Server. status and devices take a --peer flag; peers and
// routes send no "peer" metadata and are always answered locally.
func dial(proxySockPath string) (*grpc.ClientConn, error) {
	return grpc.NewClient(
		"unix://"+proxySockPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
}

// withPeer attaches a "peer" metadata entry to ctx when peer is
// non-empty, telling the proxy Director to forward the call to that
// node's own control socket instead of answering locally.
func withPeer(ctx context.Context, peer string) context.Context {
	if peer == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "peer", peer)
}
