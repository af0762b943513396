package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/goAuthClient/authserver"
	"github.com/MrEthical07/goAuthClient/envelope"
	"github.com/MrEthical07/goAuthClient/middleware"
)

// ItemsPath is the protected demo resource mounted next to the auth routes.
const ItemsPath = "/api/items"

type item struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Owner string `json:"owner"`
}

func mountDemoRoutes(srv *authserver.Server) {
	srv.Router().Handle(ItemsPath, srv.Protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := middleware.PrincipalFromContext(r.Context())
		envelope.WriteOK(w, http.StatusOK, []item{
			{ID: 1, Name: "first", Owner: p.UserID},
			{ID: 2, Name: "second", Owner: p.UserID},
		})
	}))).Methods(http.MethodGet)
}

// openRedis connects to addr, or starts an embedded miniredis when addr is
// empty. The returned func releases both.
func openRedis(ctx context.Context, addr string, logger *zap.Logger) (redis.UniversalClient, func(), error) {
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		logger.Info("using embedded redis", zap.String("addr", mr.Addr()))
		return rdb, func() {
			_ = rdb.Close()
			mr.Close()
		}, nil
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	logger.Info("using redis", zap.String("addr", addr))
	return rdb, func() { _ = rdb.Close() }, nil
}
