package control

import (
	"context"

	"google.golang.org/grpc"
)

// ControlServer is implemented by Server. The shape mirrors what
// protoc-gen-go-grpc would emit from a control.proto; it is written by
// hand here because no protoc toolchain is available to generate it
// (see codec.go).
type ControlServer interface {
	GetStatus(context.Context, *GetStatusRequest) (*GetStatusResponse, error)
	ListPeers(context.Context, *ListPeersRequest) (*ListPeersResponse, error)
	ListRoutes(context.Context, *ListRoutesRequest) (*ListRoutesResponse, error)
	ListDeviceTable(context.Context, *ListDeviceTableRequest) (*ListDeviceTableResponse, error)
	GetRemoteDevices(context.Context, *GetRemoteDevicesRequest) (*GetRemoteDevicesResponse, error)
}

// UnimplementedControlServer embeds into a concrete server so new
// methods added later don't break the interface at compile time,
// matching the pb.UnimplementedDaemonServer pattern the teacher pack
// embeds into api.Server.
type UnimplementedControlServer struct{}

func (UnimplementedControlServer) GetStatus(context.Context, *GetStatusRequest) (*GetStatusResponse, error) {
	return nil, errUnimplemented("GetStatus")
}
func (UnimplementedControlServer) ListPeers(context.Context, *ListPeersRequest) (*ListPeersResponse, error) {
	return nil, errUnimplemented("ListPeers")
}
func (UnimplementedControlServer) ListRoutes(context.Context, *ListRoutesRequest) (*ListRoutesResponse, error) {
	return nil, errUnimplemented("ListRoutes")
}
func (UnimplementedControlServer) ListDeviceTable(context.Context, *ListDeviceTableRequest) (*ListDeviceTableResponse, error) {
	return nil, errUnimplemented("ListDeviceTable")
}
func (UnimplementedControlServer) GetRemoteDevices(context.Context, *GetRemoteDevicesRequest) (*GetRemoteDevicesResponse, error) {
	return nil, errUnimplemented("GetRemoteDevices")
}

const serviceName = "midimesh.control.v1.Control"

// ServiceDesc is registered against a *grpc.Server the way
// pb.RegisterDaemonServer would in the teacher pack; RegisterControlServer
// below is the generated-style wrapper around it.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: _Control_GetStatus_Handler},
		{MethodName: "ListPeers", Handler: _Control_ListPeers_Handler},
		{MethodName: "ListRoutes", Handler: _Control_ListRoutes_Handler},
		{MethodName: "ListDeviceTable", Handler: _Control_ListDeviceTable_Handler},
		{MethodName: "GetRemoteDevices", Handler: _Control_GetRemoteDevices_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "control.proto",
}

func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func _Control_GetStatus_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetStatus"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).GetStatus(ctx, req.(*GetStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Control_ListPeers_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListPeersRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).ListPeers(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/ListPeers"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).ListPeers(ctx, req.(*ListPeersRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Control_ListRoutes_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListRoutesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).ListRoutes(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/ListRoutes"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).ListRoutes(ctx, req.(*ListRoutesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Control_ListDeviceTable_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListDeviceTableRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).ListDeviceTable(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/ListDeviceTable"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).ListDeviceTable(ctx, req.(*ListDeviceTableRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Control_GetRemoteDevices_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetRemoteDevicesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).GetRemoteDevices(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetRemoteDevices"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).GetRemoteDevices(ctx, req.(*GetRemoteDevicesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ControlClient is the generated-style client stub, usable against
// either the direct local socket or the proxy socket (see
// control/proxy) with a "peer" metadata entry attached.
type ControlClient interface {
	GetStatus(ctx context.Context, in *GetStatusRequest, opts ...grpc.CallOption) (*GetStatusResponse, error)
	ListPeers(ctx context.Context, in *ListPeersRequest, opts ...grpc.CallOption) (*ListPeersResponse, error)
	ListRoutes(ctx context.Context, in *ListRoutesRequest, opts ...grpc.CallOption) (*ListRoutesResponse, error)
	ListDeviceTable(ctx context.Context, in *ListDeviceTableRequest, opts ...grpc.CallOption) (*ListDeviceTableResponse, error)
	GetRemoteDevices(ctx context.Context, in *GetRemoteDevicesRequest, opts ...grpc.CallOption) (*GetRemoteDevicesResponse, error)
}

type controlClient struct {
	cc grpc.ClientConnInterface
}

func NewControlClient(cc grpc.ClientConnInterface) ControlClient {
	return &controlClient{cc}
}

func (c *controlClient) GetStatus(ctx context.Context, in *GetStatusRequest, opts ...grpc.CallOption) (*GetStatusResponse, error) {
	out := new(GetStatusResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/GetStatus", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *controlClient) ListPeers(ctx context.Context, in *ListPeersRequest, opts ...grpc.CallOption) (*ListPeersResponse, error) {
	out := new(ListPeersResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/ListPeers", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *controlClient) ListRoutes(ctx context.Context, in *ListRoutesRequest, opts ...grpc.CallOption) (*ListRoutesResponse, error) {
	out := new(ListRoutesResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/ListRoutes", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *controlClient) ListDeviceTable(ctx context.Context, in *ListDeviceTableRequest, opts ...grpc.CallOption) (*ListDeviceTableResponse, error) {
	out := new(ListDeviceTableResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/ListDeviceTable", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *controlClient) GetRemoteDevices(ctx context.Context, in *GetRemoteDevicesRequest, opts ...grpc.CallOption) (*GetRemoteDevicesResponse, error) {
	out := new(GetRemoteDevicesResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/GetRemoteDevices", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
