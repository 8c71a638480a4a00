package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

// LoadFile reads a config file. Files ending in .ini are read as INI
// (sections mirror the JSON objects); everything else is decoded as JSON.
// Defaults are not applied; callers apply overrides first.
func LoadFile(path string) (*Config, error) {
	if strings.EqualFold(filepath.Ext(path), ".ini") {
		return loadINI(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var c Config
	if err := json.NewDecoder(f).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return &c, nil
}

// loadINI maps an INI file onto Config. Multi-line queries can use the
// triple-quote form supported by ini.v1:
//
//	[cursor]
//	query = """SELECT id
//	  FROM t"""
func loadINI(path string) (*Config, error) {
	f, err := ini.LoadSources(ini.LoadOptions{AllowPythonMultilineValues: true}, path)
	if err != nil {
		return nil, fmt.Errorf("load ini %s: %w", path, err)
	}

	root := f.Section("")
	c := &Config{
		ConnectionString: root.Key("connection_string").String(),
		Driver:           root.Key("driver").String(),
		Containerized:    root.Key("containerized").MustBool(false),
		ExecutionMode:    ExecutionMode(root.Key("execution_mode").String()),
		AutoCommit:       root.Key("auto_commit").MustBool(false),
		OnRowError:       RowErrorPolicy(root.Key("on_row_error").String()),
	}

	if sec, err := f.GetSection("connection"); err == nil {
		c.Connection = &Connection{
			Server:   sec.Key("server").String(),
			Port:     sec.Key("port").MustInt(0),
			Database: sec.Key("database").String(),
			Username: sec.Key("username").String(),
			Password: sec.Key("password").String(),
			SSL:      sec.Key("ssl").MustBool(false),
		}
	}

	cur := f.Section("cursor")
	c.Cursor = Cursor{
		Name:   cur.Key("name").String(),
		Query:  cur.Key("query").String(),
		Action: cur.Key("action").String(),
		Mode:   CursorMode(cur.Key("mode").String()),
	}

	lg := f.Section("logging")
	c.Logging = Logging{
		Level:         lg.Key("level").String(),
		Target:        LogTarget(lg.Key("target").String()),
		File:          lg.Key("file").String(),
		SampleRate:    lg.Key("sample_rate").MustFloat64(0),
		RowErrorsFile: lg.Key("row_errors_file").String(),
	}

	m := f.Section("metrics")
	c.Metrics = Metrics{
		Backend:        m.Key("backend").String(),
		PushgatewayURL: m.Key("pushgateway_url").String(),
		StatsdAddr:     m.Key("statsd_addr").String(),
		Job:            m.Key("job").String(),
	}

	c.Journal = Journal{Path: f.Section("journal").Key("path").String()}
	return c, nil
}
