package config_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/okian/dwell/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 10_000)
				convey.So(cfg.StateKey, convey.ShouldEqual, "attention_level")
				convey.So(cfg.ShutdownTimeout, convey.ShouldEqual, 10*time.Second)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("DWELL_ADDR", ":8080")
			_ = os.Setenv("DWELL_QUEUE_SIZE", "500")
			_ = os.Setenv("DWELL_DEDUPE_SIZE", "0")
			_ = os.Setenv("DWELL_STATE_KEY", "mood")
			_ = os.Setenv("DWELL_DEFAULT_STATES", "engaged,focused")
			_ = os.Setenv("DWELL_SHUTDOWN_TIMEOUT", "3s")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 500)
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 0)
				convey.So(cfg.StateKey, convey.ShouldEqual, "mood")
				convey.So(cfg.States(), convey.ShouldResemble, []string{"engaged", "focused"})
				convey.So(cfg.ShutdownTimeout, convey.ShouldEqual, 3*time.Second)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
addr: ":9090"
queue_size: 2000
default_states: "engaged"
timestamp_offsets:
  UtteranceUserActionFinished: -0.5
  AttentionUserActionUpdated: 0.25
kafka_brokers: "k1:9092"
kafka_topic: "actions"
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("DWELL_CONFIG", tmpFile)
			_ = os.Setenv("DWELL_ADDR", ":8080")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 2000)
				convey.So(cfg.TimestampOffsets["UtteranceUserActionFinished"], convey.ShouldEqual, -0.5)
				convey.So(cfg.TimestampOffsets["AttentionUserActionUpdated"], convey.ShouldEqual, 0.25)
				convey.So(cfg.Brokers(), convey.ShouldResemble, []string{"k1:9092"})
				convey.So(cfg.KafkaTopic, convey.ShouldEqual, "actions")
				convey.So(cfg.KafkaGroupID, convey.ShouldEqual, "dwell")
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("DWELL_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("DWELL_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("DWELL_ADDR", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("DWELL_QUEUE_SIZE", "invalid")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func clearConfigEnvVars() {
	for _, name := range []string{
		"DWELL_CONFIG", "DWELL_ADDR", "DWELL_QUEUE_SIZE", "DWELL_DEDUPE_SIZE",
		"DWELL_STATE_KEY", "DWELL_DEFAULT_STATES", "DWELL_SHUTDOWN_TIMEOUT",
		"DWELL_LOG_LEVEL", "DWELL_LOG_FORMAT", "DWELL_KAFKA_BROKERS",
		"DWELL_KAFKA_TOPIC", "DWELL_KAFKA_GROUP_ID",
	} {
		_ = os.Unsetenv(name)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "dwell-config-*.yaml")
	if err != nil {
		panic(err)
	}
	defer func() { _ = tmpFile.Close() }()
	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}
	return tmpFile.Name()
}
