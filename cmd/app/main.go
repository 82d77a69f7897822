package main

import (
	"context"
	"fmt"
	"os"

	rbac "github.com/bohemiyan/tenantrbac"
	"github.com/bohemiyan/tenantrbac/internal/config"
	"github.com/bohemiyan/tenantrbac/internal/db"
	"github.com/bohemiyan/tenantrbac/zapLogger"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var sqlitePath string

var rootCmd = &cobra.Command{
	Use:   "tenantrbac",
	Short: "Multi-tenant RBAC service",
	Long:  `Resolves user permissions and roles across accounts, with role inheritance and validity windows.`,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "sqlite", "", "use a SQLite database at this path instead of PostgreSQL")

	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, checkCmd, expireCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// runtime bundles the process-wide dependencies shared by every command.
type runtime struct {
	cfg     *config.Config
	log     *zap.Logger
	logFile *os.File
	pg      *db.PostgresDB
	gormDB  *gorm.DB
	redis   *redis.Client
	metrics *rbac.Metrics
	svc     *rbac.RBAC
}

func bootstrap(ctx context.Context, withRedis bool) (*runtime, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, logFile, err := zapLogger.Init(zapLogger.Options{File: cfg.LogFile, Level: cfg.LogLevel})
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, log: log, logFile: logFile, metrics: rbac.NewMetrics()}

	if sqlitePath != "" {
		if rt.gormDB, err = db.OpenSQLite(sqlitePath); err != nil {
			return nil, err
		}
		zapLogger.Log.Infof("Using SQLite database %s", sqlitePath)
	} else {
		if rt.pg, err = db.NewPostgresDB(cfg); err != nil {
			return nil, err
		}
		rt.gormDB = rt.pg.GormDB
		zapLogger.Log.Info("Successfully connected to PostgreSQL database")
	}

	if withRedis {
		if rt.redis, err = db.NewRedisClient(ctx, cfg); err != nil {
			rt.close()
			return nil, err
		}
		if rt.redis != nil {
			zapLogger.Log.Info("Successfully connected to Redis")
		}
	}

	rt.svc, err = rbac.New(rbac.Config{
		DB:                 rt.gormDB,
		RedisClient:        rt.redis,
		Logger:             log.Named("rbac"),
		Metrics:            rt.metrics,
		CacheTTL:           cfg.CacheTTL,
		CachePrefix:        cfg.CachePrefix,
		AutoMigrate:        cfg.AutoMigrate || sqlitePath != "",
		EnableAuditLogging: cfg.AuditEnabled,
		HonorDenyGrants:    cfg.HonorDenyGrants,
	})
	if err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) close() {
	if rt.redis != nil {
		rt.redis.Close()
	}
	if rt.pg != nil {
		if err := rt.pg.Close(); err != nil {
			rt.log.Warn("closing database", zap.Error(err))
		}
	}
	rt.log.Sync()
	if rt.logFile != nil {
		rt.logFile.Close()
	}
}
