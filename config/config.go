// Package config loads the daemon's INI configuration file and applies
// KEGBOT_<SECTION>_<KEY> environment variable overrides on top of it,
// mirroring the original Python ConfigParser section layout section for
// section.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-acme/lego/v4/platform/config/env"
	"gopkg.in/ini.v1"

	"kegbotd/errcode"
	"kegbotd/x/strx"
)

// DB names the storage backend's table wiring.
type DB struct {
	Host        string
	User        string
	Password    string
	Name        string
	DrinkTable  string
	UserTable   string
	KeyTable    string
	PolicyTable string
	GrantTable  string
	KegTable    string
	ThermoTable string
}

// Devices names the serial/I2C device paths the drivers bind to.
type Devices struct {
	OneWire string
	LCD     string
	Flow    string
	Thermo  string
}

// UI controls the optional local display.
type UI struct {
	UseLCD   bool
	LCDModel string
}

// Thermo carries the fridge's thermostat thresholds, in Celsius.
type Thermo struct {
	UseThermo   bool
	TempMaxHigh float64
	TempMaxLow  float64
}

// Timing carries every sleep/timeout interval the control loop uses.
type Timing struct {
	IBRefreshTimeout      time.Duration
	IBIdleMinDisconnected time.Duration
	IBMissingCeiling      time.Duration
	IBIdleTimeout         time.Duration
	FreezerEventMin       time.Duration
}

// Flow carries the flow-sensor poll interval.
type Flow struct {
	PollTime time.Duration
}

// Users carries the 1-Wire device IDs BusScanner should never treat as a
// user token (bus master, persistent fixtures).
type Users struct {
	IgnoreIDs []uint64
}

// Logging controls logrus's formatter and its optional SQL/file/stream sinks.
type Logging struct {
	UseSQL     bool
	UseLogfile bool
	UseStream  bool
	Logfile    string
	LogFormat  string
	LogTable   string
}

// Config is the fully resolved, override-applied configuration.
type Config struct {
	DB      DB
	Devices Devices
	UI      UI
	Thermo  Thermo
	Timing  Timing
	Flow    Flow
	Users   Users
	Logging Logging
}

// Load reads path as an INI file and overlays KEGBOT_<SECTION>_<KEY>
// environment variables on every field. A missing file or a malformed
// section is a fatal ConfigError; this only happens at startup.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, errcode.Wrap(errcode.ConfigError, "load ini file", err)
	}

	c := &Config{}

	db := f.Section("DB")
	c.DB = DB{
		Host:        str(db, "DB", "host"),
		User:        str(db, "DB", "user"),
		Password:    str(db, "DB", "password"),
		Name:        str(db, "DB", "db"),
		DrinkTable:  str(db, "DB", "drink_table"),
		UserTable:   str(db, "DB", "user_table"),
		KeyTable:    str(db, "DB", "key_table"),
		PolicyTable: str(db, "DB", "policy_table"),
		GrantTable:  str(db, "DB", "grant_table"),
		KegTable:    str(db, "DB", "keg_table"),
		ThermoTable: str(db, "DB", "thermo_table"),
	}

	devices := f.Section("Devices")
	c.Devices = Devices{
		OneWire: str(devices, "Devices", "onewire"),
		LCD:     str(devices, "Devices", "lcd"),
		Flow:    str(devices, "Devices", "flow"),
		Thermo:  str(devices, "Devices", "thermo"),
	}

	ui := f.Section("UI")
	c.UI = UI{
		UseLCD:   boolean(ui, "UI", "use_lcd"),
		LCDModel: str(ui, "UI", "lcd_model"),
	}

	thermo := f.Section("Thermo")
	c.Thermo = Thermo{
		UseThermo:   boolean(thermo, "Thermo", "use_thermo"),
		TempMaxHigh: float(thermo, "Thermo", "temp_max_high"),
		TempMaxLow:  float(thermo, "Thermo", "temp_max_low"),
	}

	timing := f.Section("Timing")
	c.Timing = Timing{
		IBRefreshTimeout:      seconds(timing, "Timing", "ib_refresh_timeout"),
		IBIdleMinDisconnected: seconds(timing, "Timing", "ib_idle_min_disconnected"),
		IBMissingCeiling:      seconds(timing, "Timing", "ib_missing_ceiling"),
		IBIdleTimeout:         seconds(timing, "Timing", "ib_idle_timeout"),
		FreezerEventMin:       time.Duration(integer(timing, "Timing", "freezer_event_min")) * time.Second,
	}

	flowSec := f.Section("Flow")
	c.Flow = Flow{PollTime: seconds(flowSec, "Flow", "polltime")}

	usersSec := f.Section("Users")
	c.Users = Users{IgnoreIDs: parseIgnoreIDs(str(usersSec, "Users", "ignoreids"))}

	logging := f.Section("Logging")
	c.Logging = Logging{
		UseSQL:     boolean(logging, "Logging", "use_sql"),
		UseLogfile: boolean(logging, "Logging", "use_logfile"),
		UseStream:  boolean(logging, "Logging", "use_stream"),
		Logfile:    str(logging, "Logging", "logfile"),
		LogFormat:  strx.Coalesce(str(logging, "Logging", "logformat"), "text"),
		LogTable:   str(logging, "Logging", "logtable"),
	}

	if err := validate(c); err != nil {
		return nil, errcode.Wrap(errcode.ConfigError, "validate config", err)
	}

	return c, nil
}

// validate checks every key this daemon cannot run without. A missing file
// is already a ConfigError by the time this runs; this catches the case
// ini.Section leaves silent — a present file with an absent or empty
// required key, which would otherwise surface much later as a storage or
// driver failure instead of a fatal startup error.
func validate(c *Config) error {
	required := map[string]string{
		"DB.db":           c.DB.Name,
		"DB.drink_table":  c.DB.DrinkTable,
		"DB.user_table":   c.DB.UserTable,
		"DB.key_table":    c.DB.KeyTable,
		"DB.policy_table": c.DB.PolicyTable,
		"DB.grant_table":  c.DB.GrantTable,
		"DB.keg_table":    c.DB.KegTable,
		"DB.thermo_table": c.DB.ThermoTable,
		"Devices.onewire": c.Devices.OneWire,
		"Devices.flow":    c.Devices.Flow,
	}
	if c.Thermo.UseThermo {
		required["Devices.thermo"] = c.Devices.Thermo
	}
	for key, val := range required {
		if val == "" {
			return fmt.Errorf("missing required key: %s", key)
		}
	}

	positive := map[string]time.Duration{
		"Timing.ib_refresh_timeout":       c.Timing.IBRefreshTimeout,
		"Timing.ib_idle_min_disconnected": c.Timing.IBIdleMinDisconnected,
		"Timing.ib_missing_ceiling":       c.Timing.IBMissingCeiling,
		"Timing.ib_idle_timeout":          c.Timing.IBIdleTimeout,
		"Flow.polltime":                   c.Flow.PollTime,
	}
	for key, val := range positive {
		if val <= 0 {
			return fmt.Errorf("missing or non-positive required key: %s", key)
		}
	}

	return nil
}

// envName builds the KEGBOT_<SECTION>_<KEY> override name.
func envName(section, key string) string {
	return "KEGBOT_" + strings.ToUpper(section) + "_" + strings.ToUpper(key)
}

func str(sec *ini.Section, section, key string) string {
	def := ""
	if sec != nil {
		def = sec.Key(key).String()
	}
	return env.GetOrDefaultString(envName(section, key), def)
}

func boolean(sec *ini.Section, section, key string) bool {
	def := false
	if sec != nil {
		def, _ = sec.Key(key).Bool()
	}
	return env.GetOrDefaultBool(envName(section, key), def)
}

func integer(sec *ini.Section, section, key string) int {
	def := 0
	if sec != nil {
		def, _ = sec.Key(key).Int()
	}
	return env.GetOrDefaultInt(envName(section, key), def)
}

func float(sec *ini.Section, section, key string) float64 {
	def := 0.0
	if sec != nil {
		def, _ = sec.Key(key).Float64()
	}
	s := env.GetOrDefaultString(envName(section, key), fmt.Sprintf("%v", def))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

func seconds(sec *ini.Section, section, key string) time.Duration {
	def := 0.0
	if sec != nil {
		def, _ = sec.Key(key).Float64()
	}
	defDur := time.Duration(def * float64(time.Second))
	return env.GetOrDefaultSecond(envName(section, key), defDur)
}

func parseIgnoreIDs(raw string) []uint64 {
	fields := strings.Fields(raw)
	out := make([]uint64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseUint(strings.TrimPrefix(f, "0x"), 16, 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}
