// Package grpcguard adapts the admission gate to gRPC servers.
//
// Each full method name maps to a [Route]. Methods without a route use
// Options.Default; when that is nil too the call is rejected with
// codes.Internal so an unmapped method never runs unguarded.
package grpcguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/policy"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// Route is the guard applied to one method.
type Route struct {
	Category policy.Category
	MinRole  goGate.Role
}

// IdentityFunc derives the rate-limit identity of a call.
type IdentityFunc func(ctx context.Context) string

type Options struct {
	Routes  map[string]Route
	Default *Route

	// IdentityFn defaults to the peer host. When IdentityMetadataKey is set
	// the default reads that metadata key first; only set it behind a proxy
	// that overwrites the key.
	IdentityFn          IdentityFunc
	IdentityMetadataKey string
	Logger     *slog.Logger
	Now        func() time.Time
}

type guard struct {
	engine *goGate.Engine
	opts   Options
}

func newGuard(engine *goGate.Engine, opts Options) (*guard, error) {
	categories := make([]policy.Category, 0, len(opts.Routes)+1)
	for _, r := range opts.Routes {
		categories = append(categories, r.Category)
	}
	if opts.Default != nil {
		categories = append(categories, opts.Default.Category)
	}
	if err := engine.ValidateCategories(categories...); err != nil {
		return nil, fmt.Errorf("grpcguard: %w", err)
	}
	if opts.IdentityFn == nil {
		opts.IdentityFn = MetadataIdentity(opts.IdentityMetadataKey)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &guard{engine: engine, opts: opts}, nil
}

// UnaryServerInterceptor guards unary calls. It fails when a route names an
// unregistered category.
func UnaryServerInterceptor(engine *goGate.Engine, opts Options) (grpc.UnaryServerInterceptor, error) {
	g, err := newGuard(engine, opts)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := g.admit(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}, nil
}

// StreamServerInterceptor guards stream establishment. Messages on an
// admitted stream are not counted.
func StreamServerInterceptor(engine *goGate.Engine, opts Options) (grpc.StreamServerInterceptor, error) {
	g, err := newGuard(engine, opts)
	if err != nil {
		return nil, err
	}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := g.admit(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}, nil
}

func (g *guard) admit(ctx context.Context, fullMethod string) (context.Context, error) {
	route, ok := g.opts.Routes[fullMethod]
	if !ok {
		if g.opts.Default == nil {
			return nil, status.Error(codes.Internal, "method has no guard route")
		}
		route = *g.opts.Default
	}

	req := goGate.GuardRequest{
		Identity: g.opts.IdentityFn(ctx),
		Category: route.Category,
		MinRole:  route.MinRole,
	}
	if route.MinRole > goGate.RoleAnonymous {
		req.Credential = bearerFromMetadata(ctx)
	}

	adm, err := g.engine.Guard(ctx, req)
	if err != nil {
		return nil, g.toStatus(ctx, fullMethod, err)
	}
	return goGate.WithAdmission(ctx, adm), nil
}

func (g *guard) toStatus(ctx context.Context, fullMethod string, err error) error {
	var rl *goGate.RateLimitError
	switch {
	case errors.As(err, &rl):
		retry := rl.RetryAfter(g.opts.Now())
		_ = grpc.SetHeader(ctx, metadata.Pairs("retry-after", strconv.FormatInt(int64(retry/time.Second), 10)))
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, goGate.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, "unauthenticated")
	case errors.Is(err, goGate.ErrForbidden):
		return status.Error(codes.PermissionDenied, "forbidden")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, goGate.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, "temporarily unavailable")
	case errors.Is(err, goGate.ErrMissingIdentity):
		return status.Error(codes.InvalidArgument, "missing identity")
	default:
		g.opts.Logger.LogAttrs(ctx, slog.LevelError, "grpc guard failed",
			slog.String("method", fullMethod),
			slog.Any("error", err),
		)
		return status.Error(codes.Internal, "internal error")
	}
}

// DefaultIdentity returns the peer host, or "unknown" without a peer.
func DefaultIdentity(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		addr := p.Addr.String()
		if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
			return host
		}
		return addr
	}
	return "unknown"
}

// MetadataIdentity uses the first value of metadata key when present, then
// [DefaultIdentity]. An empty key is DefaultIdentity.
func MetadataIdentity(key string) IdentityFunc {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return DefaultIdentity
	}
	return func(ctx context.Context) string {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(key); len(v) > 0 && strings.TrimSpace(v[0]) != "" {
				return strings.TrimSpace(v[0])
			}
		}
		return DefaultIdentity(ctx)
	}
}

func bearerFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return ""
	}
	const bearer = "bearer "
	v := strings.TrimSpace(values[0])
	if len(v) < len(bearer) || !strings.EqualFold(v[:len(bearer)], bearer) {
		return ""
	}
	return strings.TrimSpace(v[len(bearer):])
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}
