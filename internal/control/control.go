// Package control exposes operator commands and session status over gRPC.
// Messages are protobuf well-known types so no generated code is needed.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/orchestrator"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/signals"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/trial"
)

// #region rig

// Rig is the operator surface of a session. *orchestrator.Orchestrator
// satisfies it.
type Rig interface {
	Start()
	Pause(on bool)
	Kill()
	LevelUp() bool
	LevelDown() bool
	LockLevel(on bool)
	ForceReward(side trial.Side)
	ForceTrial()
	Light(on bool) error
	ReselectMask(pts []signals.Point) error
	AddNote(text string)
	Status() orchestrator.Status
}

// #endregion rig

// #region service

const (
	serviceName   = "rig.Control"
	commandMethod = "/" + serviceName + "/Command"
	statusMethod  = "/" + serviceName + "/Status"
	notePrefix    = "note:"
	maskPrefix    = "mask:"
)

// Server is the control service contract.
type Server interface {
	Command(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error)
	Status(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
}

// Service implements Server on top of a Rig.
type Service struct {
	rig Rig
	log *zap.SugaredLogger
}

// NewService creates a service driving rig.
func NewService(rig Rig, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{rig: rig, log: log}
}

// Command runs one operator command. Level commands report whether the level
// actually changed.
func (s *Service) Command(_ context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	cmd := strings.TrimSpace(in.GetValue())
	resp := map[string]any{"ok": true, "command": cmd}

	switch {
	case cmd == "start":
		s.rig.Start()
	case cmd == "pause":
		s.rig.Pause(true)
	case cmd == "unpause":
		s.rig.Pause(false)
	case cmd == "kill":
		s.rig.Kill()
	case cmd == "level_up":
		resp["changed"] = s.rig.LevelUp()
	case cmd == "level_down":
		resp["changed"] = s.rig.LevelDown()
	case cmd == "lock":
		s.rig.LockLevel(true)
	case cmd == "unlock":
		s.rig.LockLevel(false)
	case cmd == "reward_l":
		s.rig.ForceReward(trial.Left)
	case cmd == "reward_r":
		s.rig.ForceReward(trial.Right)
	case cmd == "trial":
		s.rig.ForceTrial()
	case cmd == "light_on", cmd == "light_off":
		if err := s.rig.Light(cmd == "light_on"); err != nil {
			return nil, status.Errorf(codes.FailedPrecondition, "%s: %v", cmd, err)
		}
	case strings.HasPrefix(cmd, maskPrefix):
		pts, err := parsePoints(strings.TrimPrefix(cmd, maskPrefix))
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "mask: %v", err)
		}
		if err := s.rig.ReselectMask(pts); err != nil {
			return nil, status.Errorf(codes.FailedPrecondition, "mask: %v", err)
		}
		resp["command"] = "mask"
		resp["points"] = len(pts)
	case strings.HasPrefix(cmd, notePrefix):
		text := strings.TrimSpace(strings.TrimPrefix(cmd, notePrefix))
		if text == "" {
			return nil, status.Error(codes.InvalidArgument, "empty note")
		}
		s.rig.AddNote(text)
		resp["command"] = "note"
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown command %q", cmd)
	}

	s.log.Infow("operator command", "command", resp["command"])
	out, err := structpb.NewStruct(resp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// Status returns the session status as a JSON-shaped struct.
func (s *Service) Status(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out, err := toStruct(s.rig.Status())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return out, nil
}

// parsePoints reads space-separated "x,y" vertices. An empty list selects the
// whole frame.
func parsePoints(text string) ([]signals.Point, error) {
	fields := strings.Fields(text)
	pts := make([]signals.Point, 0, len(fields))
	for _, f := range fields {
		xs, ys, ok := strings.Cut(f, ",")
		if !ok {
			return nil, fmt.Errorf("vertex %q is not x,y", f)
		}
		x, err := strconv.ParseFloat(xs, 64)
		if err != nil {
			return nil, fmt.Errorf("vertex %q: %w", f, err)
		}
		y, err := strconv.ParseFloat(ys, 64)
		if err != nil {
			return nil, fmt.Errorf("vertex %q: %w", f, err)
		}
		pts = append(pts, signals.Point{X: x, Y: y})
	}
	if n := len(pts); n > 0 && n < 3 {
		return nil, fmt.Errorf("polygon needs at least 3 vertices, got %d", n)
	}
	return pts, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// #endregion service

// #region service-desc

// ServiceDesc describes rig.Control for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Command", Handler: commandHandler},
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rig/control.proto",
}

// Register adds srv to s.
func Register(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}

func commandHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Command(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: commandMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Command(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: statusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// #endregion service-desc

// #region serve

// Serve runs the control service on lis until ctx is cancelled, then stops
// gracefully.
func Serve(ctx context.Context, lis net.Listener, rig Rig, log *zap.SugaredLogger) error {
	s := grpc.NewServer()
	Register(s, NewService(rig, log))

	errc := make(chan error, 1)
	go func() { errc <- s.Serve(lis) }()

	select {
	case <-ctx.Done():
		s.GracefulStop()
		<-errc
		return nil
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("serve control: %w", err)
		}
		return nil
	}
}

// ListenAndServe listens on addr and calls Serve.
func ListenAndServe(ctx context.Context, addr string, rig Rig, log *zap.SugaredLogger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	if log != nil {
		log.Infow("control service listening", "addr", lis.Addr().String())
	}
	return Serve(ctx, lis, rig, log)
}

// #endregion serve
