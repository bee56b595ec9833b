package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/tiara/internal/config"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestConfigLoader_Defaults(t *testing.T) {
	ctx := context.Background()

	convey.Convey("Given no file and no environment", t, func() {
		t.Chdir(t.TempDir())
		cfg, err := config.Load(ctx)

		convey.Convey("Then defaults are returned", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.Storage.Driver, convey.ShouldEqual, "memory")
		})
	})
}

func TestConfigLoader_File(t *testing.T) {
	ctx := context.Background()

	convey.Convey("Given a YAML file", t, func() {
		dir := t.TempDir()
		t.Chdir(dir)
		path := writeFile(t, dir, "tiara.yaml", `
addr: ":9090"
queue_size: 500
worker_count: 6
recompute_mode: sync
storage:
  driver: sqlite
  dsn: "file:from-file.db"
`)
		t.Setenv("TIARA_CONFIG", path)

		convey.Convey("Then file values override defaults", func() {
			cfg, err := config.Load(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 500)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 6)
			convey.So(cfg.RecomputeMode, convey.ShouldEqual, "sync")
			convey.So(cfg.Storage.Driver, convey.ShouldEqual, "sqlite")
			convey.So(cfg.Storage.DSN, convey.ShouldEqual, "file:from-file.db")
			convey.So(cfg.MaxLeaderboardLimit, convey.ShouldEqual, 100)
		})

		convey.Convey("Then environment variables win over the file", func() {
			t.Setenv("TIARA_WORKER_COUNT", "12")
			t.Setenv("TIARA_STORAGE__DSN", "file:from-env.db")
			t.Setenv("TIARA_ADMIN_KEY", "super-secret-key")

			cfg, err := config.Load(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 12)
			convey.So(cfg.Storage.DSN, convey.ShouldEqual, "file:from-env.db")
			convey.So(cfg.Storage.Driver, convey.ShouldEqual, "sqlite")
			convey.So(cfg.AdminKey, convey.ShouldEqual, "super-secret-key")
		})
	})
}

func TestConfigLoader_Errors(t *testing.T) {
	ctx := context.Background()

	convey.Convey("Given a missing config file", t, func() {
		t.Chdir(t.TempDir())
		t.Setenv("TIARA_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

		convey.Convey("Then loading fails with ErrLoadConfig", func() {
			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})
	})

	convey.Convey("Given an invalid environment value", t, func() {
		t.Chdir(t.TempDir())
		t.Setenv("TIARA_CONFIG", "")
		t.Setenv("TIARA_RECOMPUTE_MODE", "later")

		convey.Convey("Then loading fails with ErrInvalidConfig", func() {
			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})
	})
}

func TestConfigLoader_DotEnv(t *testing.T) {
	ctx := context.Background()

	convey.Convey("Given a .env file in the working directory", t, func() {
		dir := t.TempDir()
		t.Chdir(dir)
		writeFile(t, dir, ".env", "TIARA_LOG_LEVEL=debug\nTIARA_MAX_LEADERBOARD_LIMIT=250\n")
		t.Cleanup(func() {
			_ = os.Unsetenv("TIARA_LOG_LEVEL")
			_ = os.Unsetenv("TIARA_MAX_LEADERBOARD_LIMIT")
		})

		convey.Convey("Then its variables are applied", func() {
			cfg, err := config.Load(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.LogLevel, convey.ShouldEqual, "debug")
			convey.So(cfg.MaxLeaderboardLimit, convey.ShouldEqual, 250)
		})
	})
}
