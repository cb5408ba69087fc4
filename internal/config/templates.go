package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "relay":
		return relayTemplate, nil
	case "record":
		return recordTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const relayTemplate = `listen_addr = ":8809"
data_host = ""
output_dir = "traces"
admin_listen_addr = "127.0.0.1:8810"
cors_origins = ["http://localhost:3000"]
max_cpus = 4096

[session]
receive_timeout = "5s"
connect_timeout = "5s"
debug = false
`

const recordTemplate = `relay_addr = "127.0.0.1:8809"
page_size = 0
use_tcp = true
cpu_files = ["cpu0.raw", "cpu1.raw"]
metadata_file = "trace.dat"
max_connect_attempts = 5

[session]
receive_timeout = "5s"
connect_timeout = "5s"
debug = false
`
