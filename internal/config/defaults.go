package config

import (
	"github.com/knadh/koanf/v2"
)

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"engine.host":               "127.0.0.1:8188",
		"engine.probe_max_attempts": 500,
		"engine.probe_interval_ms":  50,

		// client_id is left empty so each process mints a fresh one.
		"stream.client_id":          "",
		"stream.receive_timeout_s":  30,
		"stream.stall_probe_after":  40,
		"stream.reconnect_attempts": 5,
		"stream.reconnect_delay_s":  3,

		"storage.provider":   "",
		"storage.local_root": "/data/outputs",
		"storage.s3.use_ssl": true,

		"queue.redis_addr": "127.0.0.1:6379",
		"queue.name":       "lienzo:jobs",

		"worker.refresh_after_job": false,

		"api.port":                 "8080",
		"api.cors_allowed_origins": "http://localhost:3000",

		"logging.level":      "info",
		"logging.format":     "json",
		"logging.add_source": false,
	}

	for key, val := range defaults {
		k.Set(key, val)
	}
	return nil
}
