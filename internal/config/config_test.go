package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/tabulator/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverSQLite)
			convey.So(cfg.NotifyTimeout(), convey.ShouldEqual, time.Second)
			convey.So(cfg.WatchInterval(), convey.ShouldEqual, 2*time.Second)
			convey.So(cfg.WatchMaxLifetime(), convey.ShouldEqual, 2*time.Minute)
			convey.So(cfg.WriteTimeout(), convey.ShouldEqual, 3*time.Second)
			convey.So(cfg.HandshakeTimeout(), convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.TopN, convey.ShouldEqual, 8)
			convey.So(cfg.OriginPatterns, convey.ShouldResemble, []string{"*"})
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with one bad field", t, func() {
		cases := []struct {
			name   string
			mutate func(*config.Config)
		}{
			{"empty addr", func(c *config.Config) { c.Addr = " " }},
			{"unknown driver", func(c *config.Config) { c.StoreDriver = "mysql" }},
			{"empty dsn", func(c *config.Config) { c.StoreDSN = "" }},
			{"zero timeout", func(c *config.Config) { c.NotifyTimeoutMS = 0 }},
			{"zero interval", func(c *config.Config) { c.WatchIntervalMS = 0 }},
			{"zero buffer", func(c *config.Config) { c.ClientBufferSize = 0 }},
			{"negative top_n", func(c *config.Config) { c.TopN = -1 }},
		}
		for _, tc := range cases {
			convey.Convey("When the config has "+tc.name, func() {
				cfg := config.New()
				tc.mutate(cfg)
				err := cfg.Validate()

				convey.Convey("Then validation fails with ErrInvalidConfig", func() {
					convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				})
			})
		}
	})
}
