package api

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/domain"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/errors"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/leaderboard"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/session"
)

const (
	GameServiceName = "clicker.v1.GameService"

	// CodecName is the gRPC content-subtype of the JSON codec, i.e. "application/grpc+json".
	CodecName = "json"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return CodecName }

type (
	StartGameRequest struct{}

	StartGameResponse struct {
		SessionID string `json:"session_id"`
	}

	FinishGameRequest struct {
		SessionID  string           `json:"session_id"`
		Scores     map[string]int64 `json:"scores"`
		FinishedAt *float64         `json:"finished_at,omitempty"`
	}

	FinishGameResponse struct {
		SessionID string `json:"session_id"`
	}

	GetSessionRequest struct {
		SessionID string `json:"session_id"`
	}

	GetSessionResponse struct {
		Session Session `json:"session"`
	}

	ListSessionsRequest struct {
		Limit int `json:"limit,omitempty"`
	}

	ListSessionsResponse struct {
		Sessions []Session `json:"sessions"`
	}

	GetLeaderboardRequest struct {
		// Policy is "sum" or "best".
		Policy string `json:"policy"`
		Self   bool   `json:"self,omitempty"`
		Limit  int    `json:"limit,omitempty"`
	}

	GetLeaderboardResponse struct {
		Leaderboard Leaderboard `json:"leaderboard"`
	}
)

type gameServiceServer interface {
	StartGame(context.Context, *StartGameRequest) (*StartGameResponse, error)
	FinishGame(context.Context, *FinishGameRequest) (*FinishGameResponse, error)
	GetSession(context.Context, *GetSessionRequest) (*GetSessionResponse, error)
	ListSessions(context.Context, *ListSessionsRequest) (*ListSessionsResponse, error)
	GetLeaderboard(context.Context, *GetLeaderboardRequest) (*GetLeaderboardResponse, error)
}

var gameServiceDesc = grpc.ServiceDesc{
	ServiceName: GameServiceName,
	HandlerType: (*gameServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("StartGame", (*API).StartGame),
		unary("FinishGame", (*API).FinishGame),
		unary("GetSession", (*API).GetSession),
		unary("ListSessions", (*API).ListSessions),
		unary("GetLeaderboard", (*API).GetLeaderboard),
	},
	Streams: []grpc.StreamDesc{},
}

func registerGameServiceServer(s *grpc.Server, a *API) {
	s.RegisterService(&gameServiceDesc, a)
}

// unary adapts a typed method to a grpc.MethodDesc. The bearer token in the "authorization" metadata is
// verified before the method runs; methods decide whether an identity is required.
func unary[Req, Resp any](method string, call func(*API, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + GameServiceName + "/" + method

	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("decode request: %v", err))
			}

			a := srv.(*API)
			handler := func(ctx context.Context, req any) (any, error) {
				ctx, err := a.authorizeRPC(ctx)
				if err != nil {
					return nil, err
				}

				resp, err := call(a, ctx, req.(*Req))
				if err != nil {
					return nil, errors.Convert(err)
				}
				return resp, nil
			}

			if interceptor == nil {
				return handler(ctx, in)
			}

			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, handler)
		},
	}
}

func (a *API) authorizeRPC(ctx context.Context) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ctx, nil
	}

	id, err := a.verify(vals[0])
	if err != nil {
		return nil, err
	}

	return withIdentity(ctx, id), nil
}

func requireIdentity(ctx context.Context) (domain.Identity, error) {
	id, ok := identityFrom(ctx)
	if !ok {
		return domain.Identity{}, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("not authenticated"))
	}
	return id, nil
}

func (a *API) StartGame(ctx context.Context, _ *StartGameRequest) (*StartGameResponse, error) {
	id, err := requireIdentity(ctx)
	if err != nil {
		return nil, err
	}

	ss, err := a.ss.Start(ctx, session.StartRequest{UserID: id.UserID})
	if err != nil {
		return nil, err
	}

	return &StartGameResponse{SessionID: ss.SessionID}, nil
}

func (a *API) FinishGame(ctx context.Context, req *FinishGameRequest) (*FinishGameResponse, error) {
	if _, err := requireIdentity(ctx); err != nil {
		return nil, err
	}

	var finishedAt *time.Time
	if req.FinishedAt != nil {
		t := fromUnix(*req.FinishedAt)
		finishedAt = &t
	}

	ss, err := a.ss.Finish(ctx, session.FinishRequest{
		SessionID:  req.SessionID,
		Scores:     req.Scores,
		FinishedAt: finishedAt,
	})
	if err != nil {
		return nil, err
	}

	return &FinishGameResponse{SessionID: ss.SessionID}, nil
}

func (a *API) GetSession(ctx context.Context, req *GetSessionRequest) (*GetSessionResponse, error) {
	if _, err := requireIdentity(ctx); err != nil {
		return nil, err
	}

	ss, err := a.ss.GetSession(ctx, session.GetSessionRequest{SessionID: req.SessionID})
	if err != nil {
		return nil, err
	}

	return &GetSessionResponse{Session: toSession(*ss)}, nil
}

func (a *API) ListSessions(ctx context.Context, req *ListSessionsRequest) (*ListSessionsResponse, error) {
	id, err := requireIdentity(ctx)
	if err != nil {
		return nil, err
	}

	ss, err := a.ss.ListSessions(ctx, session.ListSessionsRequest{
		UserID: id.UserID,
		Limit:  req.Limit,
	})
	if err != nil {
		return nil, err
	}

	return &ListSessionsResponse{Sessions: toSessions(ss)}, nil
}

// GetLeaderboard is public for the global scope. The self scope requires a token.
func (a *API) GetLeaderboard(ctx context.Context, req *GetLeaderboardRequest) (*GetLeaderboardResponse, error) {
	scope := domain.Global(req.Limit)
	if req.Self {
		id, err := requireIdentity(ctx)
		if err != nil {
			return nil, err
		}
		scope = domain.Self(id.UserID)
	}

	l, err := a.ls.Compute(ctx, leaderboard.ComputeRequest{
		Policy: domain.Policy(req.Policy),
		Scope:  scope,
	})
	if err != nil {
		return nil, err
	}

	return &GetLeaderboardResponse{Leaderboard: toLeaderboard(*l)}, nil
}

// GameClient calls GameService over the JSON codec.
type GameClient struct {
	cc grpc.ClientConnInterface
}

func NewGameClient(cc grpc.ClientConnInterface) *GameClient {
	return &GameClient{cc: cc}
}

func (c *GameClient) StartGame(ctx context.Context, req *StartGameRequest, opts ...grpc.CallOption) (*StartGameResponse, error) {
	return invoke[StartGameResponse](ctx, c.cc, "StartGame", req, opts...)
}

func (c *GameClient) FinishGame(ctx context.Context, req *FinishGameRequest, opts ...grpc.CallOption) (*FinishGameResponse, error) {
	return invoke[FinishGameResponse](ctx, c.cc, "FinishGame", req, opts...)
}

func (c *GameClient) GetSession(ctx context.Context, req *GetSessionRequest, opts ...grpc.CallOption) (*GetSessionResponse, error) {
	return invoke[GetSessionResponse](ctx, c.cc, "GetSession", req, opts...)
}

func (c *GameClient) ListSessions(ctx context.Context, req *ListSessionsRequest, opts ...grpc.CallOption) (*ListSessionsResponse, error) {
	return invoke[ListSessionsResponse](ctx, c.cc, "ListSessions", req, opts...)
}

func (c *GameClient) GetLeaderboard(ctx context.Context, req *GetLeaderboardRequest, opts ...grpc.CallOption) (*GetLeaderboardResponse, error) {
	return invoke[GetLeaderboardResponse](ctx, c.cc, "GetLeaderboard", req, opts...)
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, req any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)

	if err := cc.Invoke(ctx, "/"+GameServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}
