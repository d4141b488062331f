package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"github.com/saeki-dev/anifight/api"
	cfg "github.com/saeki-dev/anifight/config"
	"github.com/saeki-dev/anifight/db"
	"github.com/saeki-dev/anifight/game"
	"github.com/saeki-dev/anifight/state"
	"github.com/topfreegames/pitaya/v2"
	"github.com/topfreegames/pitaya/v2/acceptor"
	"github.com/topfreegames/pitaya/v2/config"
	"github.com/topfreegames/pitaya/v2/groups"
	"github.com/topfreegames/pitaya/v2/serialize/json"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "./config/local.json", "Path to config file")
)

func main() {
	flag.Parse()
	cfg := cfg.Read(*configPath)

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	builder := pitaya.NewDefaultBuilder(true, cfg.FrontendType, pitaya.Standalone, map[string]string{}, configApp(cfg))
	builder.AddAcceptor(acceptor.NewWSAcceptor(cfg.WSAddr))
	builder.Groups = groups.NewMemoryGroupService(*config.NewDefaultMemoryGroupConfig())
	builder.Serializer = json.NewSerializer()
	app := builder.Build()

	defer app.Shutdown()

	database := db.NewClient(cfg.Database)
	store := newStateStore(cfg, database)

	game.RegistRoom(app, database, store, cfg)

	go serveAPI(cfg, database)
	go sweepExpiredRooms(cfg, database)

	app.Start()
}

func configApp(c *cfg.Config) config.BuilderConfig {
	conf := config.NewDefaultBuilderConfig()
	conf.Pitaya.Heartbeat.Interval = time.Duration(c.HeartbeatSeconds) * time.Second
	conf.Pitaya.Buffer.Agent.Messages = 32
	conf.Pitaya.Handler.Messages.Compression = false
	return *conf
}

func newStateStore(c *cfg.Config, database *db.Client) *state.Store {
	ttl := time.Duration(c.StateTTLSeconds) * time.Second
	if c.Redis.Addr == "" {
		zap.L().Info("no redis configured, using in-memory game state")
		return state.NewStore(state.NewMemoryKV(), database.Actions, database.Content, ttl)
	}
	kv, err := state.NewRedisKV(c.Redis.Addr, c.Redis.Password, c.Redis.DB)
	if err != nil {
		panic(err)
	}
	return state.NewStore(kv, database.Actions, database.Content, ttl)
}

func serveAPI(c *cfg.Config, database *db.Client) {
	srv := api.NewServer(database.Rooms, c.JoinURL)
	zap.L().Info("room api listening", zap.String("addr", c.HTTPAddr))
	if err := http.ListenAndServe(c.HTTPAddr, srv); err != nil {
		zap.L().Fatal("room api failed", zap.Error(err))
	}
}

// sweepExpiredRooms drops stale rooms and their action journals on a fixed
// cadence. In-progress rooms are never swept.
func sweepExpiredRooms(c *cfg.Config, database *db.Client) {
	retention := time.Duration(c.RoomRetentionMinutes) * time.Minute
	ticker := time.NewTicker(retention / 2)
	defer ticker.Stop()

	for range ticker.C {
		n, err := database.Rooms.DeleteExpired(context.Background(), retention)
		if err != nil {
			zap.L().Error("room sweep failed", zap.Error(err))
			continue
		}
		if n > 0 {
			zap.L().Info("swept expired rooms", zap.Int64("count", n))
		}
	}
}
