package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pot-code/elira-progress/internal/course"
	infra "github.com/pot-code/elira-progress/internal/infrastructure"
	"github.com/pot-code/elira-progress/internal/infrastructure/driver"
	"github.com/pot-code/elira-progress/internal/infrastructure/logging"
	"github.com/pot-code/elira-progress/internal/infrastructure/uuid"
	"github.com/pot-code/elira-progress/internal/infrastructure/validate"
	"github.com/pot-code/elira-progress/internal/interfaces/rest"
	"github.com/pot-code/elira-progress/internal/lesson"
	"github.com/pot-code/elira-progress/internal/remotesync"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.SetFlags(log.Lshortfile | log.Ldate | log.Ltime)
	option, err := infra.InitConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		FilePath: option.Logging.FilePath,
		Level:    option.Logging.Level,
		AppID:    option.AppID,
		Env:      option.Env,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %s\n", err)
	}
	defer logger.Sync()

	dbConn, err := driver.GetDBConnection(&driver.DBConfig{
		User:     option.Database.User,
		Password: option.Database.Password,
		MaxConn:  option.Database.MaxConn,
		Protocol: option.Database.Protocol,
		Driver:   option.Database.Driver,
		Host:     option.Database.Host,
		Port:     option.Database.Port,
		Query:    option.Database.Query,
		Schema:   option.Database.Schema,
	})
	if err != nil {
		logger.Fatal("Failed to create DB connection", zap.Error(err))
	}
	defer dbConn.Close(context.Background())
	logger.Debug("Create DB connection instance", zap.String("db.driver", option.Database.Driver),
		zap.String("db.schema", option.Database.Schema),
		zap.String("db.host", option.Database.Host),
	)

	rdb := driver.NewRedisClient(option.KVStore.Host, option.KVStore.Port, option.KVStore.Password)
	defer rdb.Close()

	UUIDGenerator, err := uuid.NewNanoIDGenerator(option.Security.IDLength)
	if err != nil {
		logger.Fatal("Failed to create id generator", zap.Error(err))
	}

	CourseRepo := course.NewRepository(dbConn)
	ProgressRepo := lesson.NewProgressRepository(dbConn)
	ProgressUseCase := lesson.NewProgressUseCase(CourseRepo, ProgressRepo, validate.NewValidator(option.Locale), UUIDGenerator)

	Beacon := remotesync.NewBeaconStore(rdb, option.Player.BeaconTTL)
	Player := lesson.NewPlayer(ProgressUseCase, Beacon, logger, &lesson.PlayerOption{
		FlushInterval:   option.Player.FlushInterval,
		FlushGrace:      option.Player.FlushGrace,
		AutoplayDelay:   option.Player.AutoplayDelay,
		MaxAttempts:     option.Retry.MaxAttempts,
		InitialInterval: option.Retry.InitialInterval,
		MaxInterval:     option.Retry.MaxInterval,
	})

	app := rest.NewApp(dbConn, rdb, option, ProgressUseCase, Player, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rest.Serve(ctx, app, option, logger)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", zap.Error(err))
	}
	logger.Info("server stopped")
}
